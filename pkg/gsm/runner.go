// Package gsm drives the path-growth stage for one reaction job: it
// grows a string of nodes between the reactant and product endpoints,
// locally optimizing each node against the calculator until the path
// gradient-norm metric converges or a budget is exhausted.
package gsm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/deepprinciple/reactbench/pkg/calculator"
	"github.com/deepprinciple/reactbench/pkg/checkpoint"
	"github.com/deepprinciple/reactbench/pkg/geom"
)

// Config parameterizes the path-growth stage. Loaded once at process
// start and passed to each runner at construction; runners never read
// ambient state.
type Config struct {
	NumNodes      int
	MaxIters      int
	MaxOptSteps   int
	AddNodeTol    float64
	ConvTol       float64
	DMax          float64
	FixedReactant bool
	FixedProduct  bool
	WallTime      time.Duration
	Restart       bool
}

// Outcome is the terminal state of a path-growth run.
type Outcome string

const (
	OutcomeConverged Outcome = "converged"
	OutcomeIterLimit Outcome = "iter_limit_exceeded"
	OutcomeNodeLimit Outcome = "node_limit_exceeded"
	OutcomeTimeout   Outcome = "timeout"
)

// Snapshot is the per-iteration checkpoint payload.
type Snapshot struct {
	Iteration int             `json:"iteration"`
	Nodes     []geom.Geometry `json:"nodes"`
	GradNorm  float64         `json:"grad_norm"`
}

// Result is the stage hand-off: the grown path with per-node energies.
type Result struct {
	Outcome    Outcome
	Nodes      []geom.Geometry
	Energies   []float64
	GradNorm   float64
	Iterations int
}

// Runner executes the path-growth stage for one job at a time.
//
// A Runner is owned by a single worker; the calculator it holds is
// reused across all of that worker's jobs.
type Runner struct {
	calc  calculator.Calculator
	store *checkpoint.Store
	cfg   Config
	log   *zap.Logger
	now   func() time.Time
}

// NewRunner creates a path-growth runner.
func NewRunner(calc calculator.Calculator, store *checkpoint.Store, cfg Config) *Runner {
	return &Runner{
		calc:  calc,
		store: store,
		cfg:   cfg,
		log:   zap.NewNop(),
		now:   time.Now,
	}
}

// WithLogger sets the stage log destination. Returns the runner for
// chaining.
func (r *Runner) WithLogger(log *zap.Logger) *Runner {
	if log != nil {
		r.log = log
	}
	return r
}

// WithClock overrides the wall clock. Test hook.
func (r *Runner) WithClock(now func() time.Time) *Runner {
	if now != nil {
		r.now = now
	}
	return r
}

// Run grows the path for the job identified by jobID between reactant
// and product.
//
// A nil error means the stage reached one of its defined outcomes
// (including non-convergence); an error means the stage crashed, most
// commonly a calculator failure.
func (r *Runner) Run(ctx context.Context, jobID string, reactant, product geom.Geometry) (*Result, error) {
	if reactant.NumAtoms() == 0 || reactant.NumAtoms() != product.NumAtoms() {
		return nil, fmt.Errorf("reactant/product atom counts differ: %d vs %d", reactant.NumAtoms(), product.NumAtoms())
	}

	nodes, startIter, err := r.initNodes(jobID, reactant, product)
	if err != nil {
		return nil, err
	}
	r.log.Info("path growth starting",
		zap.String("job_id", jobID),
		zap.Int("start_iteration", startIter),
		zap.Int("nodes", len(nodes)))

	deadline := r.now().Add(r.cfg.WallTime)
	gradNorm := 0.0
	insertPending := false
	iter := startIter

	for ; iter < r.cfg.MaxIters; iter++ {
		// Wall-time budget is enforced at iteration boundaries only;
		// a step in flight is never preempted.
		if r.cfg.WallTime > 0 && r.now().After(deadline) {
			r.log.Warn("wall-time budget exhausted",
				zap.String("job_id", jobID), zap.Int("iteration", iter))
			return r.finish(ctx, OutcomeTimeout, nodes, gradNorm, iter)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		energies := make([]float64, len(nodes))
		gradNorm = 0
		for i := range nodes {
			if r.movable(i, len(nodes)) {
				for step := 0; step < r.cfg.MaxOptSteps; step++ {
					res, err := r.calc.Evaluate(ctx, nodes[i])
					if err != nil {
						return nil, fmt.Errorf("optimize node %d: %w", i, err)
					}
					descendStep(&nodes[i], res.Forces, r.cfg.DMax)
				}
			}
			res, err := r.calc.Evaluate(ctx, nodes[i])
			if err != nil {
				return nil, fmt.Errorf("evaluate node %d: %w", i, err)
			}
			energies[i] = res.Energy
			if g := rmsForce(res.Forces); g > gradNorm {
				gradNorm = g
			}
		}

		// Node insertion: split the widest remaining gap until the
		// node cap is reached.
		insertPending = false
		if gapIdx, gap := widestGap(nodes); gap > r.cfg.AddNodeTol {
			if len(nodes) < r.cfg.NumNodes {
				nodes = append(nodes[:gapIdx+1],
					append([]geom.Geometry{midpoint(nodes[gapIdx], nodes[gapIdx+1])}, nodes[gapIdx+1:]...)...)
			} else {
				insertPending = true
			}
		}

		// Checkpoint before acting on the iteration's result so a
		// resumed run redoes at most one iteration.
		snap := Snapshot{Iteration: iter + 1, Nodes: nodes, GradNorm: gradNorm}
		if err := r.store.Save(jobID, checkpoint.StageGrowth, &snap); err != nil {
			return nil, fmt.Errorf("checkpoint iteration %d: %w", iter+1, err)
		}
		r.log.Debug("iteration complete",
			zap.String("job_id", jobID),
			zap.Int("iteration", iter+1),
			zap.Int("nodes", len(nodes)),
			zap.Float64("grad_norm", gradNorm))

		if gradNorm < r.cfg.ConvTol {
			return r.finish(ctx, OutcomeConverged, nodes, gradNorm, iter+1)
		}
	}

	// Iterations exhausted without convergence. If the path still
	// wanted a node the cap refused, the cap was the binding limit.
	if insertPending {
		return r.finish(ctx, OutcomeNodeLimit, nodes, gradNorm, iter)
	}
	return r.finish(ctx, OutcomeIterLimit, nodes, gradNorm, iter)
}

// initNodes resolves restart semantics: resume from the recorded
// iteration when enabled and a checkpoint exists, else start from the
// two endpoints with any stale checkpoint cleared.
func (r *Runner) initNodes(jobID string, reactant, product geom.Geometry) ([]geom.Geometry, int, error) {
	if r.cfg.Restart {
		var snap Snapshot
		err := r.store.Load(jobID, checkpoint.StageGrowth, &snap)
		if err == nil {
			r.log.Info("resuming from checkpoint",
				zap.String("job_id", jobID), zap.Int("iteration", snap.Iteration))
			return snap.Nodes, snap.Iteration, nil
		}
		if !errors.Is(err, checkpoint.ErrNoCheckpoint) {
			return nil, 0, err
		}
	} else if err := r.store.Clear(jobID, checkpoint.StageGrowth); err != nil {
		return nil, 0, err
	}
	return []geom.Geometry{reactant.Clone(), product.Clone()}, 0, nil
}

// movable reports whether node i may be displaced. Fixed endpoints are
// never touched, keeping them byte-identical across iterations.
func (r *Runner) movable(i, n int) bool {
	if i == 0 && r.cfg.FixedReactant {
		return false
	}
	if i == n-1 && r.cfg.FixedProduct {
		return false
	}
	return true
}

// finish computes the final energy profile for the hand-off.
func (r *Runner) finish(ctx context.Context, outcome Outcome, nodes []geom.Geometry, gradNorm float64, iters int) (*Result, error) {
	energies := make([]float64, len(nodes))
	for i := range nodes {
		res, err := r.calc.Evaluate(ctx, nodes[i])
		if err != nil {
			return nil, fmt.Errorf("final profile node %d: %w", i, err)
		}
		energies[i] = res.Energy
	}
	return &Result{
		Outcome:    outcome,
		Nodes:      nodes,
		Energies:   energies,
		GradNorm:   gradNorm,
		Iterations: iters,
	}, nil
}
