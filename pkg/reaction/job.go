// Package reaction defines the per-reaction job model and batch
// enumeration from an input folder.
package reaction

import (
	"fmt"
	"time"

	"github.com/deepprinciple/reactbench/pkg/geom"
)

// Stage identifies which pipeline stage a job is in or reached.
//
// NOTE: These values are persisted in job.json and reports; they are
// part of the stable on-disk contract.
type Stage string

const (
	StagePending    Stage = "pending"
	StagePathGrowth Stage = "path_growth"
	StageRefinement Stage = "refinement"
)

// Status is the lifecycle state of a job within its current stage.
type Status string

const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"

	// Terminal outcomes.
	StatusConverged         Status = "converged"
	StatusNodeLimitExceeded Status = "node_limit_exceeded"
	StatusIterLimitExceeded Status = "iter_limit_exceeded"
	StatusTimeout           Status = "timeout"
	StatusCrashed           Status = "crashed"
	StatusNotFound          Status = "not_found"
)

// IsTerminal reports whether the status ends the job.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusConverged, StatusNodeLimitExceeded, StatusIterLimitExceeded,
		StatusTimeout, StatusCrashed, StatusNotFound:
		return true
	}
	return false
}

var allowedTransitions = map[Status]map[Status]struct{}{
	StatusQueued: {
		StatusRunning: {},
	},
	StatusRunning: {
		StatusConverged:         {},
		StatusNodeLimitExceeded: {},
		StatusIterLimitExceeded: {},
		StatusTimeout:           {},
		StatusCrashed:           {},
		StatusNotFound:          {},
		// A job that converges PathGrowth re-enters Running for
		// Refinement; the stage changes, the status does not.
		StatusRunning: {},
	},
	StatusConverged:         {},
	StatusNodeLimitExceeded: {},
	StatusIterLimitExceeded: {},
	StatusTimeout:           {},
	StatusCrashed:           {},
	StatusNotFound:          {},
}

// ValidateTransition checks a status transition against the job state
// machine.
func ValidateTransition(from, to Status) error {
	next, ok := allowedTransitions[from]
	if !ok {
		return fmt.Errorf("invalid job status: %q", from)
	}
	if _, ok := allowedTransitions[to]; !ok {
		return fmt.Errorf("invalid job status: %q", to)
	}
	if _, ok := next[to]; !ok {
		return fmt.Errorf("invalid job transition: %s -> %s", from, to)
	}
	return nil
}

// Job is one candidate reaction moving through the pipeline.
//
// A job is created when the batch is enumerated, mutated only by the
// worker currently owning it, and archived into the batch report when
// it reaches a terminal status.
type Job struct {
	// ID is derived from the input file name (stem).
	ID string

	// SourcePath is the input geometry file the job was built from.
	SourcePath string

	Reactant geom.Geometry
	Product  geom.Geometry

	Charge       int
	Multiplicity int

	Stage  Stage
	Status Status
	Reason string

	CreatedAt time.Time
	StartedAt time.Time
	EndedAt   time.Time
}

// Transition applies a validated status change, optionally advancing
// the stage.
func (j *Job) Transition(stage Stage, to Status, reason string) error {
	if err := ValidateTransition(j.Status, to); err != nil {
		return err
	}
	j.Stage = stage
	j.Status = to
	j.Reason = reason
	return nil
}
