package reaction

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/deepprinciple/reactbench/pkg/geom"
)

// EnumerateOptions controls batch enumeration.
type EnumerateOptions struct {
	// Includes are doublestar patterns relative to the input folder.
	// Default: **/*.xyz
	Includes []string

	// Excludes filter out matched paths.
	Excludes []string

	// Charge and Multiplicity are batch-wide defaults, overridable per
	// reaction via the XYZ comment line (charge=<n> multiplicity=<n>).
	Charge       int
	Multiplicity int
}

// Enumerate scans the input folder and builds one queued Job per
// reaction geometry file, sorted by job ID.
//
// Each input file must contain at least two frames: reactant first,
// product last. A missing or empty folder is an error: the batch is
// configured, not discovered.
func Enumerate(inpPath string, opts EnumerateOptions) ([]*Job, error) {
	info, err := os.Stat(inpPath)
	if err != nil {
		return nil, fmt.Errorf("input folder: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("input path is not a directory: %s", inpPath)
	}

	includes := opts.Includes
	if len(includes) == 0 {
		includes = []string{"**/*.xyz"}
	}

	var paths []string
	err = filepath.WalkDir(inpPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(inpPath, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if !matchAny(includes, rel) || matchAny(opts.Excludes, rel) {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan input folder: %w", err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no reaction files matched in %s", inpPath)
	}

	jobs := make([]*Job, 0, len(paths))
	for _, path := range paths {
		job, err := jobFromFile(path, opts)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}

	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })

	seen := make(map[string]string, len(jobs))
	for _, job := range jobs {
		if prev, dup := seen[job.ID]; dup {
			return nil, fmt.Errorf("duplicate job id %q (%s and %s)", job.ID, prev, job.SourcePath)
		}
		seen[job.ID] = job.SourcePath
	}
	return jobs, nil
}

func matchAny(patterns []string, rel string) bool {
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, rel); err == nil && ok {
			return true
		}
	}
	return false
}

func jobFromFile(path string, opts EnumerateOptions) (*Job, error) {
	frames, err := geom.ReadXYZFile(path)
	if err != nil {
		return nil, err
	}
	if len(frames) < 2 {
		return nil, fmt.Errorf("%s: reaction file needs reactant and product frames, got %d", path, len(frames))
	}

	job := &Job{
		ID:           strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		SourcePath:   path,
		Reactant:     frames[0],
		Product:      frames[len(frames)-1],
		Charge:       opts.Charge,
		Multiplicity: opts.Multiplicity,
		Stage:        StagePending,
		Status:       StatusQueued,
		CreatedAt:    time.Now().UTC(),
	}
	applyCommentOverrides(job, frames[0].Comment)

	// The calculator and the refinement executables read the
	// electronic state from the geometries they are handed.
	job.Reactant.Charge, job.Reactant.Multiplicity = job.Charge, job.Multiplicity
	job.Product.Charge, job.Product.Multiplicity = job.Charge, job.Multiplicity
	return job, nil
}

// applyCommentOverrides parses per-reaction charge/multiplicity from
// the reactant frame comment, e.g. "charge=-1 multiplicity=2".
func applyCommentOverrides(job *Job, comment string) {
	for _, tok := range strings.Fields(comment) {
		key, value, ok := strings.Cut(tok, "=")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(value)
		if err != nil {
			continue
		}
		switch strings.ToLower(key) {
		case "charge":
			job.Charge = n
		case "multiplicity", "mult":
			job.Multiplicity = n
		}
	}
}
