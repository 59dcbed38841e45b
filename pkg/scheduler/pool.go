// Package scheduler fans a batch of reaction jobs out across a bounded
// pool of workers, driving each job through path growth and refinement
// in sequence and persisting its pipeline state at every transition.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/deepprinciple/reactbench/pkg/checkpoint"
	"github.com/deepprinciple/reactbench/pkg/geom"
	"github.com/deepprinciple/reactbench/pkg/gsm"
	"github.com/deepprinciple/reactbench/pkg/reaction"
	"github.com/deepprinciple/reactbench/pkg/report"
	"github.com/deepprinciple/reactbench/pkg/tsrefine"
)

// GrowthRunner drives the path-growth stage for one job.
type GrowthRunner interface {
	Run(ctx context.Context, jobID string, reactant, product geom.Geometry) (*gsm.Result, error)
}

// RefineRunner drives the refinement stage for one job.
type RefineRunner interface {
	Run(ctx context.Context, jobID string, nodes []geom.Geometry, energies []float64) (*tsrefine.Result, error)
}

// StageRunners is one worker's runner set. Close releases the worker's
// calculator resources when the pool drains.
type StageRunners struct {
	Growth GrowthRunner
	Refine RefineRunner
	Close  func() error
}

// RunnerFactory builds the runner set for one worker. Called once per
// worker slot so backend/model load cost is amortized across that
// worker's jobs.
type RunnerFactory func(workerID int) (*StageRunners, error)

// Pool executes a batch of jobs with bounded concurrency.
type Pool struct {
	store    *checkpoint.Store
	nprocs   int
	factory  RunnerFactory
	log      *zap.Logger
	now      func() time.Time
	progress report.Writer
	total    int
	done     atomic.Int64
}

// NewPool creates a worker pool of nprocs slots.
func NewPool(store *checkpoint.Store, nprocs int, factory RunnerFactory) *Pool {
	if nprocs < 1 {
		nprocs = 1
	}
	return &Pool{
		store:   store,
		nprocs:  nprocs,
		factory: factory,
		log:     zap.NewNop(),
		now:     time.Now,
	}
}

// WithLogger sets the pool log destination. Returns the pool for
// chaining.
func (p *Pool) WithLogger(log *zap.Logger) *Pool {
	if log != nil {
		p.log = log
	}
	return p
}

// WithProgress streams a progress record to w each time a job reaches
// a terminal status. Returns the pool for chaining.
func (p *Pool) WithProgress(w report.Writer) *Pool {
	p.progress = w
	return p
}

// WithClock overrides the wall clock. Test hook.
func (p *Pool) WithClock(now func() time.Time) *Pool {
	if now != nil {
		p.now = now
	}
	return p
}

// Run drives every job to a terminal status and returns when the last
// one lands. Jobs are handed to whichever worker frees up first, so
// uneven per-job runtimes balance out.
//
// Job-level failures never abort the batch; the error return covers
// batch-level bookkeeping only.
func (p *Pool) Run(ctx context.Context, jobs []*reaction.Job) error {
	p.total = len(jobs)
	p.done.Store(0)

	queue := make(chan *reaction.Job, len(jobs))
	for _, job := range jobs {
		queue <- job
	}
	close(queue)

	var wg sync.WaitGroup
	for w := 0; w < p.nprocs; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			p.worker(ctx, workerID, queue)
		}(w)
	}
	wg.Wait()
	return nil
}

func (p *Pool) worker(ctx context.Context, workerID int, queue <-chan *reaction.Job) {
	runners, err := p.factory(workerID)
	if err != nil {
		// The slot is unusable; every job it would have taken fails on
		// its own, the rest of the pool keeps going.
		p.log.Error("worker setup failed",
			zap.Int("worker", workerID), zap.Error(err))
		for job := range queue {
			p.failQueued(job, "calculator setup: "+err.Error())
		}
		return
	}
	if runners.Close != nil {
		defer func() {
			if cerr := runners.Close(); cerr != nil {
				p.log.Warn("worker teardown", zap.Int("worker", workerID), zap.Error(cerr))
			}
		}()
	}

	for job := range queue {
		if ctx.Err() != nil {
			p.failQueued(job, "batch interrupted")
			continue
		}
		p.runJob(ctx, workerID, runners, job)
	}
}

// runJob sequences one job through its stages. Refinement starts only
// after path growth converges; any other growth outcome ends the job at
// that stage.
func (p *Pool) runJob(ctx context.Context, workerID int, runners *StageRunners, job *reaction.Job) {
	job.StartedAt = p.now()
	if err := p.transition(job, reaction.StagePathGrowth, reaction.StatusRunning, ""); err != nil {
		p.log.Error("job transition rejected", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	p.log.Info("job started",
		zap.String("job_id", job.ID), zap.Int("worker", workerID))

	growth, err := runners.Growth.Run(ctx, job.ID, job.Reactant, job.Product)
	if err != nil {
		p.finish(job, reaction.StagePathGrowth, reaction.StatusCrashed, err.Error())
		return
	}
	if growth.Outcome != gsm.OutcomeConverged {
		p.finish(job, reaction.StagePathGrowth, growthStatus(growth.Outcome), string(growth.Outcome))
		return
	}

	if err := p.transition(job, reaction.StageRefinement, reaction.StatusRunning, ""); err != nil {
		p.log.Error("job transition rejected", zap.String("job_id", job.ID), zap.Error(err))
		return
	}

	refined, err := runners.Refine.Run(ctx, job.ID, growth.Nodes, growth.Energies)
	if err != nil {
		p.finish(job, reaction.StageRefinement, reaction.StatusCrashed, err.Error())
		return
	}
	p.finish(job, reaction.StageRefinement, refineStatus(refined.Outcome), refined.Reason)
}

func (p *Pool) failQueued(job *reaction.Job, reason string) {
	job.StartedAt = p.now()
	if err := p.transition(job, job.Stage, reaction.StatusRunning, ""); err != nil {
		return
	}
	p.finish(job, job.Stage, reaction.StatusCrashed, reason)
}

func (p *Pool) transition(job *reaction.Job, stage reaction.Stage, to reaction.Status, reason string) error {
	if err := job.Transition(stage, to, reason); err != nil {
		return err
	}
	p.persistState(job)
	return nil
}

func (p *Pool) finish(job *reaction.Job, stage reaction.Stage, status reaction.Status, reason string) {
	job.EndedAt = p.now()
	if err := job.Transition(stage, status, reason); err != nil {
		p.log.Error("job transition rejected", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	p.persistState(job)
	p.log.Info("job finished",
		zap.String("job_id", job.ID),
		zap.String("stage", string(stage)),
		zap.String("status", string(status)),
		zap.String("reason", reason))
	p.emitProgress(job)
}

// emitProgress streams the batch completion count after a job lands.
// Uses a background context because progress must still flow while the
// batch context is being canceled and the queue drains.
func (p *Pool) emitProgress(job *reaction.Job) {
	if p.progress == nil {
		return
	}
	rec := &report.ProgressRecord{
		Completed:  int(p.done.Add(1)),
		Total:      p.total,
		LastJobID:  job.ID,
		LastStatus: string(job.Status),
	}
	if err := p.progress.WriteProgress(context.Background(), rec); err != nil {
		p.log.Warn("write progress record", zap.String("job_id", job.ID), zap.Error(err))
	}
}

// persistState mirrors the in-memory job state to job.json so a full
// process restart can recover from (jobID, stage, status) tuples.
func (p *Pool) persistState(job *reaction.Job) {
	rec := &checkpoint.StateRecord{
		JobID:  job.ID,
		Stage:  string(job.Stage),
		Status: string(job.Status),
		Reason: job.Reason,
	}
	if !job.StartedAt.IsZero() {
		rec.StartedAt = job.StartedAt.UTC().Format(time.RFC3339)
	}
	if !job.EndedAt.IsZero() {
		rec.EndedAt = job.EndedAt.UTC().Format(time.RFC3339)
	}
	if err := p.store.SaveState(rec); err != nil {
		p.log.Warn("persist job state", zap.String("job_id", job.ID), zap.Error(err))
	}
}

func growthStatus(o gsm.Outcome) reaction.Status {
	switch o {
	case gsm.OutcomeConverged:
		return reaction.StatusConverged
	case gsm.OutcomeIterLimit:
		return reaction.StatusIterLimitExceeded
	case gsm.OutcomeNodeLimit:
		return reaction.StatusNodeLimitExceeded
	case gsm.OutcomeTimeout:
		return reaction.StatusTimeout
	}
	return reaction.StatusCrashed
}

func refineStatus(o tsrefine.Outcome) reaction.Status {
	switch o {
	case tsrefine.OutcomeConverged:
		return reaction.StatusConverged
	case tsrefine.OutcomeNotFound:
		return reaction.StatusNotFound
	case tsrefine.OutcomeTimeout:
		return reaction.StatusTimeout
	}
	return reaction.StatusCrashed
}
