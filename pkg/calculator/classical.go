package calculator

import (
	"context"
	"fmt"
	"math"

	"github.com/deepprinciple/reactbench/pkg/geom"
)

// classicalCalculator is the in-process classical-potential backend: a
// pairwise Morse potential over element-derived equilibrium distances.
//
// It exists so the pipeline can run end to end without an external
// model runner, and serves as the reference backend in tests.
type classicalCalculator struct {
	spec Spec
}

func newClassical(spec Spec) (Calculator, error) {
	if !spec.Device.IsCPU() {
		return nil, &CalcError{
			Op:      "New",
			Backend: spec.Backend,
			Device:  spec.Device,
			Err:     fmt.Errorf("%w: classical backend runs on cpu only", ErrDeviceUnavailable),
		}
	}
	return &classicalCalculator{spec: spec}, nil
}

// Morse well depth and width. One parameter set for all pairs keeps the
// surface smooth and cheap; equilibrium distances come from covalent
// radii.
const (
	morseDepth = 0.17
	morseWidth = 1.6
)

// covalentRadii in Angstrom for the elements that occur in the
// benchmark reactions. Unknown elements fall back to a carbon-like
// radius.
var covalentRadii = map[string]float64{
	"H": 0.31, "B": 0.84, "C": 0.76, "N": 0.71, "O": 0.66,
	"F": 0.57, "Si": 1.11, "P": 1.07, "S": 1.05, "Cl": 1.02, "Br": 1.20,
}

func radiusFor(element string) float64 {
	if r, ok := covalentRadii[element]; ok {
		return r
	}
	return 0.76
}

func (c *classicalCalculator) Evaluate(_ context.Context, g geom.Geometry) (Result, error) {
	n := g.NumAtoms()
	if n == 0 {
		return Result{}, &CalcError{Op: "Evaluate", Backend: c.spec.Backend, Err: fmt.Errorf("empty geometry")}
	}

	forces := make([][3]float64, n)
	var energy float64

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			var d [3]float64
			var r2 float64
			for k := 0; k < 3; k++ {
				d[k] = g.Coords[i][k] - g.Coords[j][k]
				r2 += d[k] * d[k]
			}
			r := math.Sqrt(r2)
			if r < 1e-6 {
				return Result{}, &CalcError{
					Op:      "Evaluate",
					Backend: c.spec.Backend,
					Err:     fmt.Errorf("%w: atoms %d and %d coincide", ErrDiverged, i, j),
				}
			}

			r0 := radiusFor(g.Elements[i]) + radiusFor(g.Elements[j])
			ex := math.Exp(-morseWidth * (r - r0))
			energy += morseDepth * (1 - ex) * (1 - ex)

			// dE/dr, projected onto the pair axis; force is -gradient.
			dEdr := 2 * morseDepth * morseWidth * (1 - ex) * ex
			for k := 0; k < 3; k++ {
				f := -dEdr * d[k] / r
				forces[i][k] += f
				forces[j][k] -= f
			}
		}
	}

	res := Result{Energy: energy, Forces: forces}
	if err := checkFinite(res); err != nil {
		return Result{}, &CalcError{Op: "Evaluate", Backend: c.spec.Backend, Err: err}
	}
	return res, nil
}

func (c *classicalCalculator) Close() error {
	return nil
}

// checkFinite rejects non-finite energies or forces as divergence.
func checkFinite(res Result) error {
	if math.IsNaN(res.Energy) || math.IsInf(res.Energy, 0) {
		return fmt.Errorf("%w: non-finite energy", ErrDiverged)
	}
	for i, f := range res.Forces {
		for k := 0; k < 3; k++ {
			if math.IsNaN(f[k]) || math.IsInf(f[k], 0) {
				return fmt.Errorf("%w: non-finite force on atom %d", ErrDiverged, i)
			}
		}
	}
	return nil
}
