package gsm

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/deepprinciple/reactbench/pkg/geom"
)

func node(xs ...float64) geom.Geometry {
	g := geom.Geometry{}
	for _, x := range xs {
		g.Elements = append(g.Elements, "H")
		g.Coords = append(g.Coords, [3]float64{x, 0, 0})
	}
	return g
}

func TestRMSForce(t *testing.T) {
	assert.Equal(t, 0.0, rmsForce(nil))
	assert.InDelta(t, 3.0, rmsForce([][3]float64{{3, 0, 0}, {0, 3, 0}}), 1e-12)
	assert.InDelta(t, 5.0, rmsForce([][3]float64{{3, 4, 0}}), 1e-12)
}

func TestNodeDistance(t *testing.T) {
	a := node(0, 1)
	b := node(0, 2)
	assert.InDelta(t, 1/math.Sqrt2, nodeDistance(a, b), 1e-12)
	assert.Equal(t, 0.0, nodeDistance(a, a))
	assert.Equal(t, 0.0, nodeDistance(a, node(0)), "atom count mismatch is treated as no gap")
}

func TestMidpointInterpolatesAndClearsComment(t *testing.T) {
	a := node(0, 1)
	a.Comment = "charge=1"
	b := node(0, 3)

	mid := midpoint(a, b)
	assert.Equal(t, 2.0, mid.Coords[1][0])
	assert.Empty(t, mid.Comment)
	assert.Equal(t, a.Elements, mid.Elements)

	a.Charge, a.Multiplicity = -1, 3
	charged := midpoint(a, b)
	assert.Equal(t, -1, charged.Charge, "inserted nodes keep the path's electronic state")
	assert.Equal(t, 3, charged.Multiplicity)

	mid.Coords[0][0] = 99
	assert.Equal(t, 0.0, a.Coords[0][0], "midpoint must not alias its parents")
}

func TestDescendStepClampsToDMax(t *testing.T) {
	g := node(0)
	descendStep(&g, [][3]float64{{3, 4, 0}}, 0.5)
	assert.InDelta(t, 0.3, g.Coords[0][0], 1e-12)
	assert.InDelta(t, 0.4, g.Coords[0][1], 1e-12)

	g = node(0)
	descendStep(&g, [][3]float64{{0.01, 0, 0}}, 0.5)
	assert.InDelta(t, 0.01, g.Coords[0][0], 1e-12, "small steps are taken at unit scale")

	g = node(0)
	descendStep(&g, [][3]float64{{0, 0, 0}}, 0.5)
	assert.Equal(t, 0.0, g.Coords[0][0])
}

func TestWidestGap(t *testing.T) {
	idx, gap := widestGap([]geom.Geometry{node(0), node(1), node(4), node(5)})
	assert.Equal(t, 1, idx)
	assert.InDelta(t, 3.0, gap, 1e-12)

	idx, _ = widestGap([]geom.Geometry{node(0)})
	assert.Equal(t, -1, idx)
}
