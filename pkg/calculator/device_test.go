package calculator

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepprinciple/reactbench/pkg/geom"
)

func TestDevice_Normalize(t *testing.T) {
	assert.Equal(t, DeviceCPU, Device("").Normalize())
	assert.Equal(t, DeviceCPU, Device(" CPU ").Normalize())
	assert.Equal(t, Device("cuda:0"), Device("CUDA:0").Normalize())

	assert.True(t, Device("").IsCPU())
	assert.False(t, Device("cuda").IsCPU())
}

// countingCalc records how many evaluations are in flight at once.
type countingCalc struct {
	active  atomic.Int32
	maxSeen atomic.Int32
}

func (c *countingCalc) Evaluate(ctx context.Context, g geom.Geometry) (Result, error) {
	n := c.active.Add(1)
	for {
		seen := c.maxSeen.Load()
		if n <= seen || c.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	time.Sleep(2 * time.Millisecond)
	c.active.Add(-1)
	return Result{Energy: 0, Forces: make([][3]float64, g.NumAtoms())}, nil
}

func (c *countingCalc) Close() error { return nil }

func TestGate_SerializesSingleContextDevice(t *testing.T) {
	inner := &countingCalc{}
	gate := NewGate(1)

	// One gated wrapper per worker sharing the same device gate.
	workers := make([]Calculator, 4)
	for i := range workers {
		workers[i] = WithGate(inner, gate)
	}

	var wg sync.WaitGroup
	g := diatomic(0.8)
	for _, w := range workers {
		wg.Add(1)
		go func(c Calculator) {
			defer wg.Done()
			for i := 0; i < 5; i++ {
				_, err := c.Evaluate(context.Background(), g)
				require.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, int32(1), inner.maxSeen.Load(),
		"no two concurrent calls may share a single-context device")
}

func TestGate_AcquireRespectsCancellation(t *testing.T) {
	gate := NewGate(1)
	require.NoError(t, gate.Acquire(context.Background()))
	defer gate.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	err := gate.Acquire(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWithGate_NilGatePassesThrough(t *testing.T) {
	inner := &countingCalc{}
	assert.Equal(t, Calculator(inner), WithGate(inner, nil))
}
