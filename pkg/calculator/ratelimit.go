package calculator

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/deepprinciple/reactbench/pkg/geom"
)

// WithRateLimit caps evaluation throughput with a shared limiter.
// Useful when a licensed or remote backend meters calls. A nil limiter
// returns calc unchanged.
func WithRateLimit(calc Calculator, limiter *rate.Limiter) Calculator {
	if limiter == nil {
		return calc
	}
	return &limitedCalculator{inner: calc, limiter: limiter}
}

type limitedCalculator struct {
	inner   Calculator
	limiter *rate.Limiter
}

func (c *limitedCalculator) Evaluate(ctx context.Context, g geom.Geometry) (Result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Result{}, err
	}
	return c.inner.Evaluate(ctx, g)
}

func (c *limitedCalculator) Close() error {
	return c.inner.Close()
}
