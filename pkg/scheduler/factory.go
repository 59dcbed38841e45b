package scheduler

import (
	"context"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/deepprinciple/reactbench/internal/observability"
	"github.com/deepprinciple/reactbench/pkg/calculator"
	"github.com/deepprinciple/reactbench/pkg/checkpoint"
	"github.com/deepprinciple/reactbench/pkg/geom"
	"github.com/deepprinciple/reactbench/pkg/gsm"
	"github.com/deepprinciple/reactbench/pkg/tsrefine"
)

// FactoryOptions configures the production runner factory.
type FactoryOptions struct {
	CalcSpec calculator.Spec
	Growth   gsm.Config
	Refine   tsrefine.Config

	// EvalsPerSecond caps calculator throughput across the whole
	// pool. Zero means unlimited.
	EvalsPerSecond float64
}

// NewRunnerFactory builds the production factory: one calculator per
// worker, a shared single-slot gate when the device is an accelerator,
// and per-job stage log files under the job's scratch directory.
func NewRunnerFactory(store *checkpoint.Store, opts FactoryOptions) RunnerFactory {
	var gate *calculator.Gate
	if !opts.CalcSpec.Device.Normalize().IsCPU() {
		// One active call on the accelerator at a time; CPU-backed
		// calculators run fully in parallel.
		gate = calculator.NewGate(1)
	}
	var limiter *rate.Limiter
	if opts.EvalsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.EvalsPerSecond), 1)
	}

	return func(workerID int) (*StageRunners, error) {
		calc, err := calculator.New(opts.CalcSpec)
		if err != nil {
			return nil, err
		}
		calc = calculator.WithRateLimit(calculator.WithGate(calc, gate), limiter)
		return &StageRunners{
			Growth: &loggedGrowth{calc: calc, store: store, cfg: opts.Growth},
			Refine: &loggedRefine{store: store, cfg: opts.Refine},
			Close:  calc.Close,
		}, nil
	}
}

// loggedGrowth runs each job's path growth with a fresh runner writing
// to that job's growth.log.
type loggedGrowth struct {
	calc  calculator.Calculator
	store *checkpoint.Store
	cfg   gsm.Config
}

func (g *loggedGrowth) Run(ctx context.Context, jobID string, reactant, product geom.Geometry) (*gsm.Result, error) {
	runner := gsm.NewRunner(g.calc, g.store, g.cfg)
	log, closeLog := stageLog(g.store, jobID, "growth.log")
	defer closeLog()
	return runner.WithLogger(log).Run(ctx, jobID, reactant, product)
}

type loggedRefine struct {
	store *checkpoint.Store
	cfg   tsrefine.Config
}

func (r *loggedRefine) Run(ctx context.Context, jobID string, nodes []geom.Geometry, energies []float64) (*tsrefine.Result, error) {
	runner := tsrefine.NewRunner(r.store, r.cfg)
	log, closeLog := stageLog(r.store, jobID, "refine.log")
	defer closeLog()
	return runner.WithLogger(log).Run(ctx, jobID, nodes, energies)
}

// stageLog opens a per-job stage log file; the job continues without
// one if it cannot be opened.
func stageLog(store *checkpoint.Store, jobID, name string) (log *zap.Logger, closeFn func()) {
	dir := store.JobDir(jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, func() {}
	}
	fileLog, closeFn, err := observability.NewFileLogger(filepath.Join(dir, name))
	if err != nil {
		return nil, func() {}
	}
	return fileLog, closeFn
}
