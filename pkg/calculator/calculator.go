// Package calculator provides the uniform energy/forces interface over
// the supported potential-energy-surface backends.
//
// A Calculator is constructed once per worker via New (registry lookup
// on the configured backend name) and reused for every evaluation that
// worker performs. Backend-specific setup (model load, device context,
// evaluator subprocess) happens inside the implementation and is scoped
// to the calculator's lifetime.
package calculator

import (
	"context"

	"github.com/deepprinciple/reactbench/pkg/geom"
)

// Spec selects and parameterizes a backend.
//
// A Spec is immutable for the duration of a run and shared read-only
// across all jobs.
type Spec struct {
	// Backend is the registered backend name, e.g. "classical" or
	// "leftnet". See Available for the full set.
	Backend string `json:"backend" yaml:"backend"`

	// Device is "cpu" or an accelerator id such as "cuda:0".
	Device Device `json:"device" yaml:"device"`

	// CheckpointRef is the model weights reference for neural backends.
	// Ignored by the classical backend.
	CheckpointRef string `json:"checkpoint_ref,omitempty" yaml:"checkpoint_ref,omitempty"`

	// RunnerPath is the external evaluator executable for neural
	// backends. Ignored by the classical backend.
	RunnerPath string `json:"runner_path,omitempty" yaml:"runner_path,omitempty"`
}

// Result is a single energy/forces evaluation.
type Result struct {
	// Energy in Hartree.
	Energy float64 `json:"energy"`

	// Forces per atom in Hartree/Angstrom, same atom order as the input
	// geometry.
	Forces [][3]float64 `json:"forces"`
}

// Calculator computes energy and per-atom forces for a geometry.
//
// Implementations must be reusable across many consecutive calls with
// no per-call state leakage. They are owned by a single worker and need
// not be safe for concurrent Evaluate calls.
type Calculator interface {
	// Evaluate returns energy and forces for g, or a calculator error
	// (see errors.go for the taxonomy).
	Evaluate(ctx context.Context, g geom.Geometry) (Result, error)

	// Close releases backend resources (device context, evaluator
	// subprocess). The calculator is unusable afterwards.
	Close() error
}
