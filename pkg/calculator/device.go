package calculator

import (
	"context"
	"strings"

	"github.com/deepprinciple/reactbench/pkg/geom"
)

// Device identifies where a backend runs: "cpu" or an accelerator id
// such as "cuda" / "cuda:0".
type Device string

// DeviceCPU is the default device.
const DeviceCPU Device = "cpu"

// IsCPU reports whether the device is CPU (or unset, which defaults to
// CPU).
func (d Device) IsCPU() bool {
	s := strings.ToLower(strings.TrimSpace(string(d)))
	return s == "" || s == string(DeviceCPU)
}

// Normalize returns the canonical device string, defaulting to cpu.
func (d Device) Normalize() Device {
	s := strings.ToLower(strings.TrimSpace(string(d)))
	if s == "" {
		return DeviceCPU
	}
	return Device(s)
}

// Gate bounds concurrent evaluations on a shared device.
//
// A single-context accelerator gets a gate of capacity 1 shared across
// all workers; CPU-backed calculators run ungated. Acquire blocks until
// a slot is free or the context is cancelled.
type Gate struct {
	slots chan struct{}
}

// NewGate creates a gate with the given concurrent-call capacity.
func NewGate(capacity int) *Gate {
	if capacity <= 0 {
		capacity = 1
	}
	return &Gate{slots: make(chan struct{}, capacity)}
}

// Acquire takes a slot, blocking until one is free.
func (g *Gate) Acquire(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case g.slots <- struct{}{}:
		return nil
	}
}

// Release frees a slot taken by Acquire.
func (g *Gate) Release() {
	<-g.slots
}

// WithGate wraps calc so that every Evaluate holds the gate.
//
// Returns calc unchanged when gate is nil.
func WithGate(calc Calculator, gate *Gate) Calculator {
	if gate == nil {
		return calc
	}
	return &gatedCalculator{inner: calc, gate: gate}
}

type gatedCalculator struct {
	inner Calculator
	gate  *Gate
}

func (c *gatedCalculator) Evaluate(ctx context.Context, g geom.Geometry) (Result, error) {
	if err := c.gate.Acquire(ctx); err != nil {
		return Result{}, err
	}
	defer c.gate.Release()
	return c.inner.Evaluate(ctx, g)
}

func (c *gatedCalculator) Close() error {
	return c.inner.Close()
}
