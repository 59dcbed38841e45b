package gsm

import (
	"math"

	"github.com/deepprinciple/reactbench/pkg/geom"
)

// rmsForce is the root-mean-square force magnitude over all atoms. The
// path convergence metric is the maximum per-node rmsForce.
func rmsForce(forces [][3]float64) float64 {
	if len(forces) == 0 {
		return 0
	}
	var sum float64
	for _, f := range forces {
		sum += f[0]*f[0] + f[1]*f[1] + f[2]*f[2]
	}
	return math.Sqrt(sum / float64(len(forces)))
}

// nodeDistance is the RMS atomic displacement between two geometries of
// the same atom count.
func nodeDistance(a, b geom.Geometry) float64 {
	n := a.NumAtoms()
	if n == 0 || n != b.NumAtoms() {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		for k := 0; k < 3; k++ {
			d := a.Coords[i][k] - b.Coords[i][k]
			sum += d * d
		}
	}
	return math.Sqrt(sum / float64(n))
}

// midpoint linearly interpolates a new node between two neighbors.
func midpoint(a, b geom.Geometry) geom.Geometry {
	out := a.Clone()
	out.Comment = ""
	for i := range out.Coords {
		for k := 0; k < 3; k++ {
			out.Coords[i][k] = 0.5 * (a.Coords[i][k] + b.Coords[i][k])
		}
	}
	return out
}

// descendStep displaces g along the forces, with the total displacement
// norm clamped to dmax. Mutates g in place.
func descendStep(g *geom.Geometry, forces [][3]float64, dmax float64) {
	var norm float64
	for _, f := range forces {
		norm += f[0]*f[0] + f[1]*f[1] + f[2]*f[2]
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return
	}
	scale := 1.0
	if norm > dmax {
		scale = dmax / norm
	}
	for i := range g.Coords {
		for k := 0; k < 3; k++ {
			g.Coords[i][k] += scale * forces[i][k]
		}
	}
}

// widestGap returns the index i of the largest inter-node distance
// (between nodes[i] and nodes[i+1]) and that distance.
func widestGap(nodes []geom.Geometry) (int, float64) {
	best, bestDist := -1, 0.0
	for i := 0; i+1 < len(nodes); i++ {
		if d := nodeDistance(nodes[i], nodes[i+1]); d > bestDist {
			best, bestDist = i, d
		}
	}
	return best, bestDist
}
