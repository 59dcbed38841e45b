package calculator

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepprinciple/reactbench/pkg/geom"
)

func diatomic(r float64) geom.Geometry {
	return geom.Geometry{
		Elements: []string{"H", "H"},
		Coords:   [][3]float64{{0, 0, 0}, {r, 0, 0}},
	}
}

func TestClassical_EquilibriumIsMinimum(t *testing.T) {
	calc, err := New(Spec{Backend: "classical"})
	require.NoError(t, err)
	defer func() { _ = calc.Close() }()

	ctx := context.Background()
	r0 := 2 * covalentRadii["H"]

	atMin, err := calc.Evaluate(ctx, diatomic(r0))
	require.NoError(t, err)
	stretched, err := calc.Evaluate(ctx, diatomic(r0*1.3))
	require.NoError(t, err)
	compressed, err := calc.Evaluate(ctx, diatomic(r0*0.7))
	require.NoError(t, err)

	assert.Less(t, atMin.Energy, stretched.Energy)
	assert.Less(t, atMin.Energy, compressed.Energy)

	// At the minimum the forces vanish.
	for k := 0; k < 3; k++ {
		assert.InDelta(t, 0, atMin.Forces[0][k], 1e-10)
	}
}

func TestClassical_ForcesMatchNumericalGradient(t *testing.T) {
	calc, err := New(Spec{Backend: "classical"})
	require.NoError(t, err)
	defer func() { _ = calc.Close() }()

	ctx := context.Background()
	g := geom.Geometry{
		Elements: []string{"O", "H", "H"},
		Coords: [][3]float64{
			{0, 0, 0.1173},
			{0, 0.7572, -0.4692},
			{0, -0.7572, -0.4692},
		},
	}

	res, err := calc.Evaluate(ctx, g)
	require.NoError(t, err)

	const h = 1e-6
	for a := 0; a < g.NumAtoms(); a++ {
		for k := 0; k < 3; k++ {
			plus := g.Clone()
			plus.Coords[a][k] += h
			minus := g.Clone()
			minus.Coords[a][k] -= h

			ep, err := calc.Evaluate(ctx, plus)
			require.NoError(t, err)
			em, err := calc.Evaluate(ctx, minus)
			require.NoError(t, err)

			numerical := -(ep.Energy - em.Energy) / (2 * h)
			assert.InDelta(t, numerical, res.Forces[a][k], 1e-6,
				"atom %d component %d", a, k)
		}
	}
}

func TestClassical_ForcesSumToZero(t *testing.T) {
	calc, err := New(Spec{Backend: "classical"})
	require.NoError(t, err)
	defer func() { _ = calc.Close() }()

	res, err := calc.Evaluate(context.Background(), geom.Geometry{
		Elements: []string{"C", "O", "H", "H"},
		Coords: [][3]float64{
			{0, 0, 0}, {1.2, 0, 0}, {-0.5, 0.9, 0}, {-0.5, -0.9, 0},
		},
	})
	require.NoError(t, err)

	var sum [3]float64
	for _, f := range res.Forces {
		for k := 0; k < 3; k++ {
			sum[k] += f[k]
		}
	}
	for k := 0; k < 3; k++ {
		assert.InDelta(t, 0, sum[k], 1e-12)
	}
}

func TestClassical_CoincidentAtomsDiverge(t *testing.T) {
	calc, err := New(Spec{Backend: "classical"})
	require.NoError(t, err)
	defer func() { _ = calc.Close() }()

	_, err = calc.Evaluate(context.Background(), diatomic(0))
	require.Error(t, err)
	assert.True(t, IsDiverged(err))
}

func TestCheckFinite(t *testing.T) {
	require.NoError(t, checkFinite(Result{Energy: 1.5, Forces: [][3]float64{{0, 0, 0}}}))
	assert.Error(t, checkFinite(Result{Energy: math.NaN()}))
	assert.Error(t, checkFinite(Result{Energy: 0, Forces: [][3]float64{{math.Inf(1), 0, 0}}}))
}
