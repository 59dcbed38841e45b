package calculator

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/deepprinciple/reactbench/pkg/geom"
)

// neuralCalculator runs a neural force field through an external
// evaluator process speaking line-delimited JSON on stdin/stdout.
//
// The evaluator is started lazily on the first Evaluate and stays
// resident for the calculator's lifetime, so model load and device
// context allocation are paid once per worker.
type neuralCalculator struct {
	spec     Spec
	model    string
	autograd bool

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  *json.Encoder
	stdout *bufio.Reader
}

func newNeural(spec Spec, model string, autograd bool) (Calculator, error) {
	if spec.RunnerPath == "" {
		return nil, &CalcError{
			Op:      "New",
			Backend: spec.Backend,
			Device:  spec.Device,
			Err:     fmt.Errorf("%w: runner_path is required for neural backends", ErrBackendInit),
		}
	}
	return &neuralCalculator{spec: spec, model: model, autograd: autograd}, nil
}

// evalRequest is one evaluation sent to the runner.
type evalRequest struct {
	Elements     []string     `json:"elements"`
	Coords       [][3]float64 `json:"coords"`
	Charge       int          `json:"charge"`
	Multiplicity int          `json:"multiplicity"`
}

// evalResponse is the runner's reply. A non-empty Error field fails the
// evaluation.
type evalResponse struct {
	Energy float64      `json:"energy"`
	Forces [][3]float64 `json:"forces"`
	Error  string       `json:"error,omitempty"`
}

func (c *neuralCalculator) start() error {
	args := []string{
		"--model", c.model,
		"--device", string(c.spec.Device),
	}
	if c.spec.CheckpointRef != "" {
		args = append(args, "--checkpoint", c.spec.CheckpointRef)
	}
	if !c.autograd {
		args = append(args, "--direct-forces")
	}

	cmd := exec.Command(c.spec.RunnerPath, args...)
	cmd.Env = os.Environ()
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendInit, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendInit, err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: start %s: %v", ErrBackendInit, c.spec.RunnerPath, err)
	}

	c.cmd = cmd
	c.stdin = json.NewEncoder(stdin)
	c.stdout = bufio.NewReader(stdout)
	return nil
}

func (c *neuralCalculator) Evaluate(ctx context.Context, g geom.Geometry) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cmd == nil {
		if err := c.start(); err != nil {
			return Result{}, &CalcError{Op: "Evaluate", Backend: c.spec.Backend, Device: c.spec.Device, Err: err}
		}
	}

	req := evalRequest{
		Elements:     g.Elements,
		Coords:       g.Coords,
		Charge:       g.Charge,
		Multiplicity: multiplicityOrDefault(g.Multiplicity),
	}
	if err := c.stdin.Encode(&req); err != nil {
		return Result{}, c.wrap(fmt.Errorf("write request: %w", err))
	}

	line, err := c.stdout.ReadBytes('\n')
	if err != nil {
		return Result{}, c.wrap(fmt.Errorf("read response: %w", err))
	}
	var resp evalResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		return Result{}, c.wrap(fmt.Errorf("parse response: %w", err))
	}
	if resp.Error != "" {
		return Result{}, c.wrap(fmt.Errorf("%w: %s", ErrDiverged, resp.Error))
	}
	if len(resp.Forces) != g.NumAtoms() {
		return Result{}, c.wrap(fmt.Errorf("force count %d does not match atom count %d", len(resp.Forces), g.NumAtoms()))
	}

	res := Result{Energy: resp.Energy, Forces: resp.Forces}
	if err := checkFinite(res); err != nil {
		return Result{}, c.wrap(err)
	}
	return res, nil
}

// multiplicityOrDefault treats an unset multiplicity as a singlet.
func multiplicityOrDefault(m int) int {
	if m < 1 {
		return 1
	}
	return m
}

func (c *neuralCalculator) wrap(err error) error {
	return &CalcError{Op: "Evaluate", Backend: c.spec.Backend, Device: c.spec.Device, Err: err}
}

func (c *neuralCalculator) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cmd == nil {
		return nil
	}
	_ = c.cmd.Process.Kill()
	err := c.cmd.Wait()
	c.cmd = nil
	// Kill makes a non-nil Wait error the expected outcome.
	if err != nil && err.Error() == "signal: killed" {
		return nil
	}
	return err
}
