package geom

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// ReadXYZFile reads all frames from an XYZ file.
//
// Reaction inputs carry two frames (reactant then product); path files
// carry one frame per node. At least one frame is required.
func ReadXYZFile(path string) ([]Geometry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open xyz file: %w", err)
	}
	defer func() { _ = f.Close() }()

	frames, err := ReadXYZ(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return frames, nil
}

// ReadXYZ parses XYZ frames from a reader.
func ReadXYZ(r io.Reader) ([]Geometry, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var frames []Geometry
	line := 0
	for scanner.Scan() {
		line++
		header := strings.TrimSpace(scanner.Text())
		if header == "" {
			continue
		}
		n, err := strconv.Atoi(header)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("line %d: expected atom count, got %q", line, header)
		}

		if !scanner.Scan() {
			return nil, fmt.Errorf("line %d: truncated frame: missing comment line", line)
		}
		line++

		g := Geometry{
			Elements: make([]string, 0, n),
			Coords:   make([][3]float64, 0, n),
			Comment:  strings.TrimSpace(scanner.Text()),
		}
		for i := 0; i < n; i++ {
			if !scanner.Scan() {
				return nil, fmt.Errorf("line %d: truncated frame: expected %d atoms, got %d", line, n, i)
			}
			line++
			fields := strings.Fields(scanner.Text())
			if len(fields) < 4 {
				return nil, fmt.Errorf("line %d: malformed atom line %q", line, scanner.Text())
			}
			var xyz [3]float64
			for k := 0; k < 3; k++ {
				v, err := strconv.ParseFloat(fields[k+1], 64)
				if err != nil {
					return nil, fmt.Errorf("line %d: bad coordinate %q: %w", line, fields[k+1], err)
				}
				xyz[k] = v
			}
			g.Elements = append(g.Elements, fields[0])
			g.Coords = append(g.Coords, xyz)
		}
		frames = append(frames, g)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read xyz: %w", err)
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("no frames found")
	}
	return frames, nil
}

// WriteXYZFile writes frames to path in XYZ format, one frame per block.
func WriteXYZFile(path string, frames []Geometry, comment string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create xyz file: %w", err)
	}
	defer func() { _ = f.Close() }()

	w := bufio.NewWriter(f)
	for i, g := range frames {
		fmt.Fprintf(w, "%d\n", g.NumAtoms())
		if comment == "" {
			fmt.Fprintf(w, "frame %d\n", i)
		} else {
			fmt.Fprintf(w, "%s frame %d\n", comment, i)
		}
		for a := range g.Elements {
			fmt.Fprintf(w, "%-3s %18.10f %18.10f %18.10f\n",
				g.Elements[a], g.Coords[a][0], g.Coords[a][1], g.Coords[a][2])
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("write xyz file: %w", err)
	}
	return nil
}
