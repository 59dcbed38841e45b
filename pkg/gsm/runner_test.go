package gsm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepprinciple/reactbench/pkg/calculator"
	"github.com/deepprinciple/reactbench/pkg/checkpoint"
	"github.com/deepprinciple/reactbench/pkg/geom"
)

// scriptedCalc returns canned forces, or a fixed error.
type scriptedCalc struct {
	forceMag float64
	err      error
	calls    int
}

func (c *scriptedCalc) Evaluate(_ context.Context, g geom.Geometry) (calculator.Result, error) {
	c.calls++
	if c.err != nil {
		return calculator.Result{}, c.err
	}
	forces := make([][3]float64, g.NumAtoms())
	for i := range forces {
		forces[i][0] = c.forceMag
	}
	return calculator.Result{Energy: 0, Forces: forces}, nil
}

func (c *scriptedCalc) Close() error { return nil }

func h2Pair(r1, r2 float64) (geom.Geometry, geom.Geometry) {
	reactant := geom.Geometry{
		Elements: []string{"H", "H"},
		Coords:   [][3]float64{{0, 0, 0}, {r1, 0, 0}},
	}
	product := geom.Geometry{
		Elements: []string{"H", "H"},
		Coords:   [][3]float64{{0, 0, 0}, {r2, 0, 0}},
	}
	return reactant, product
}

func defaultConfig() Config {
	return Config{
		NumNodes:    9,
		MaxIters:    100,
		MaxOptSteps: 3,
		AddNodeTol:  0.1,
		ConvTol:     0.0005,
		DMax:        0.1,
		WallTime:    time.Hour,
	}
}

func classicalCalc(t *testing.T) calculator.Calculator {
	t.Helper()
	calc, err := calculator.New(calculator.Spec{Backend: "classical"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = calc.Close() })
	return calc
}

func TestRun_ConvergesNearEquilibrium(t *testing.T) {
	store := checkpoint.NewStore(t.TempDir())
	r, p := h2Pair(0.62, 0.64)

	runner := NewRunner(classicalCalc(t), store, defaultConfig())
	res, err := runner.Run(context.Background(), "rxn1", r, p)
	require.NoError(t, err)

	assert.Equal(t, OutcomeConverged, res.Outcome)
	assert.Less(t, res.GradNorm, defaultConfig().ConvTol)
	assert.Greater(t, res.Iterations, 0)
	require.Len(t, res.Energies, len(res.Nodes))
}

func TestRun_IterLimit(t *testing.T) {
	store := checkpoint.NewStore(t.TempDir())
	r, p := h2Pair(0.62, 0.64)

	cfg := defaultConfig()
	cfg.MaxIters = 1
	cfg.ConvTol = 1e-15 // unreachable in one iteration

	runner := NewRunner(classicalCalc(t), store, cfg)
	res, err := runner.Run(context.Background(), "rxn1", r, p)
	require.NoError(t, err)

	assert.Equal(t, OutcomeIterLimit, res.Outcome)
	assert.Equal(t, 1, res.Iterations)
}

func TestRun_NodeLimit(t *testing.T) {
	store := checkpoint.NewStore(t.TempDir())
	r, p := h2Pair(0.6, 3.0) // gap far above add_node_tol

	cfg := defaultConfig()
	cfg.NumNodes = 2 // cap already reached by the endpoints
	cfg.MaxIters = 3
	cfg.FixedReactant = true
	cfg.FixedProduct = true

	calc := &scriptedCalc{forceMag: 1.0} // never converges
	res, err := NewRunner(calc, store, cfg).Run(context.Background(), "rxn1", r, p)
	require.NoError(t, err)

	assert.Equal(t, OutcomeNodeLimit, res.Outcome)
	assert.Len(t, res.Nodes, 2)
}

func TestRun_InsertsNodesInWidestGap(t *testing.T) {
	store := checkpoint.NewStore(t.TempDir())
	r, p := h2Pair(0.6, 1.6)

	cfg := defaultConfig()
	calc := &scriptedCalc{forceMag: 0} // converges immediately, path static

	res, err := NewRunner(calc, store, cfg).Run(context.Background(), "rxn1", r, p)
	require.NoError(t, err)

	assert.Equal(t, OutcomeConverged, res.Outcome)
	assert.Len(t, res.Nodes, 3, "one midpoint inserted before convergence")
	assert.InDelta(t, 1.1, res.Nodes[1].Coords[1][0], 1e-12)
}

func TestRun_FixedEndpointsAreByteIdentical(t *testing.T) {
	store := checkpoint.NewStore(t.TempDir())
	r, p := h2Pair(0.5, 0.9) // well off equilibrium, forces nonzero

	cfg := defaultConfig()
	cfg.MaxIters = 5
	cfg.ConvTol = 1e-15
	cfg.FixedReactant = true
	cfg.FixedProduct = true

	res, err := NewRunner(classicalCalc(t), store, cfg).Run(context.Background(), "rxn1", r, p)
	require.NoError(t, err)

	assert.True(t, r.Equal(res.Nodes[0]), "fixed reactant endpoint moved")
	assert.True(t, p.Equal(res.Nodes[len(res.Nodes)-1]), "fixed product endpoint moved")
}

func TestRun_UnfixedEndpointsRelax(t *testing.T) {
	store := checkpoint.NewStore(t.TempDir())
	r, p := h2Pair(0.5, 0.9)

	cfg := defaultConfig()
	cfg.MaxIters = 5
	cfg.ConvTol = 1e-15

	res, err := NewRunner(classicalCalc(t), store, cfg).Run(context.Background(), "rxn1", r, p)
	require.NoError(t, err)
	assert.False(t, r.Equal(res.Nodes[0]))
}

func TestRun_CrashedCalculator(t *testing.T) {
	store := checkpoint.NewStore(t.TempDir())
	r, p := h2Pair(0.62, 0.64)

	boom := errors.New("cuda context lost")
	_, err := NewRunner(&scriptedCalc{err: boom}, store, defaultConfig()).
		Run(context.Background(), "rxn1", r, p)
	require.ErrorIs(t, err, boom)
}

func TestRun_TimeoutAtIterationBoundary(t *testing.T) {
	store := checkpoint.NewStore(t.TempDir())
	r, p := h2Pair(0.5, 0.9)

	cfg := defaultConfig()
	cfg.WallTime = time.Second
	cfg.ConvTol = 1e-15

	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	tick := 0
	clock := func() time.Time {
		tick++
		if tick == 1 {
			return base // deadline computation
		}
		if tick == 2 {
			return base // first boundary check passes
		}
		return base.Add(time.Minute) // budget gone at the next boundary
	}

	res, err := NewRunner(&scriptedCalc{forceMag: 1.0}, store, cfg).
		WithClock(clock).
		Run(context.Background(), "rxn1", r, p)
	require.NoError(t, err)
	assert.Equal(t, OutcomeTimeout, res.Outcome)
	assert.Equal(t, 1, res.Iterations, "exactly one full iteration before the boundary check fired")
}

func TestRun_CheckpointEveryIteration(t *testing.T) {
	store := checkpoint.NewStore(t.TempDir())
	r, p := h2Pair(0.62, 0.64)

	cfg := defaultConfig()
	cfg.MaxIters = 4
	cfg.ConvTol = 1e-15

	_, err := NewRunner(classicalCalc(t), store, cfg).Run(context.Background(), "rxn1", r, p)
	require.NoError(t, err)

	var snap Snapshot
	require.NoError(t, store.Load("rxn1", checkpoint.StageGrowth, &snap))
	assert.Equal(t, 4, snap.Iteration)
	assert.NotEmpty(t, snap.Nodes)
}

func TestRun_RestartResumesAtNextIteration(t *testing.T) {
	root := t.TempDir()
	r, p := h2Pair(0.5, 0.9)

	cfg := defaultConfig()
	cfg.MaxIters = 5
	cfg.ConvTol = 1e-15
	_, err := NewRunner(classicalCalc(t), checkpoint.NewStore(root), cfg).
		Run(context.Background(), "rxn1", r, p)
	require.NoError(t, err)

	var snap Snapshot
	require.NoError(t, checkpoint.NewStore(root).Load("rxn1", checkpoint.StageGrowth, &snap))
	require.Equal(t, 5, snap.Iteration)

	// Resume: the first recorded iteration must be 6, not 1.
	cfg.Restart = true
	cfg.MaxIters = 6
	_, err = NewRunner(classicalCalc(t), checkpoint.NewStore(root), cfg).
		Run(context.Background(), "rxn1", r, p)
	require.NoError(t, err)

	require.NoError(t, checkpoint.NewStore(root).Load("rxn1", checkpoint.StageGrowth, &snap))
	assert.Equal(t, 6, snap.Iteration)
}

func TestRun_RestartIdempotence(t *testing.T) {
	r, p := h2Pair(0.5, 0.9)

	cfg := defaultConfig()
	cfg.ConvTol = 1e-15

	// Uninterrupted run to iteration 6.
	rootA := t.TempDir()
	cfgA := cfg
	cfgA.MaxIters = 6
	_, err := NewRunner(classicalCalc(t), checkpoint.NewStore(rootA), cfgA).
		Run(context.Background(), "rxn1", r, p)
	require.NoError(t, err)

	// Interrupted at iteration 5, then resumed for one more.
	rootB := t.TempDir()
	cfgB := cfg
	cfgB.MaxIters = 5
	_, err = NewRunner(classicalCalc(t), checkpoint.NewStore(rootB), cfgB).
		Run(context.Background(), "rxn1", r, p)
	require.NoError(t, err)
	cfgB.Restart = true
	cfgB.MaxIters = 6
	_, err = NewRunner(classicalCalc(t), checkpoint.NewStore(rootB), cfgB).
		Run(context.Background(), "rxn1", r, p)
	require.NoError(t, err)

	var a, b Snapshot
	require.NoError(t, checkpoint.NewStore(rootA).Load("rxn1", checkpoint.StageGrowth, &a))
	require.NoError(t, checkpoint.NewStore(rootB).Load("rxn1", checkpoint.StageGrowth, &b))

	require.Equal(t, a.Iteration, b.Iteration)
	require.Equal(t, len(a.Nodes), len(b.Nodes))
	for i := range a.Nodes {
		assert.True(t, a.Nodes[i].Equal(b.Nodes[i]), "node %d diverged after resume", i)
	}
	assert.Equal(t, a.GradNorm, b.GradNorm)
}

func TestRun_RestartDisabledStartsClean(t *testing.T) {
	root := t.TempDir()
	store := checkpoint.NewStore(root)
	r, p := h2Pair(0.62, 0.64)

	require.NoError(t, store.Save("rxn1", checkpoint.StageGrowth, &Snapshot{
		Iteration: 50,
		Nodes:     []geom.Geometry{r, p},
	}))

	cfg := defaultConfig()
	cfg.MaxIters = 2
	cfg.ConvTol = 1e-15
	cfg.Restart = false

	res, err := NewRunner(classicalCalc(t), store, cfg).Run(context.Background(), "rxn1", r, p)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Iterations, "stale checkpoint must be ignored and overwritten")

	var snap Snapshot
	require.NoError(t, store.Load("rxn1", checkpoint.StageGrowth, &snap))
	assert.Equal(t, 2, snap.Iteration)
}
