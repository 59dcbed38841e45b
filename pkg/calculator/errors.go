package calculator

import (
	"errors"
	"fmt"
)

// Sentinel errors for calculator operations.
var (
	// ErrUnknownBackend indicates the configured backend name is not
	// registered. This is a configuration error and aborts the batch
	// before scheduling.
	ErrUnknownBackend = errors.New("unknown calculator backend")

	// ErrBackendInit indicates the backend failed to initialize (model
	// load, evaluator start).
	ErrBackendInit = errors.New("backend initialization failed")

	// ErrDeviceUnavailable indicates the configured device cannot be
	// used.
	ErrDeviceUnavailable = errors.New("device unavailable")

	// ErrDiverged indicates the evaluation produced non-finite energy
	// or forces.
	ErrDiverged = errors.New("numerical divergence")
)

// CalcError wraps backend errors with context.
type CalcError struct {
	// Op is the operation that failed (e.g. "Evaluate", "New").
	Op string

	// Backend is the backend name.
	Backend string

	// Device is the configured device.
	Device Device

	// Err is the underlying error.
	Err error
}

func (e *CalcError) Error() string {
	if e.Device != "" {
		return fmt.Sprintf("%s %s [%s]: %v", e.Backend, e.Op, e.Device, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Backend, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *CalcError) Unwrap() error {
	return e.Err
}

// IsUnknownBackend returns true if the error indicates an unregistered
// backend name.
func IsUnknownBackend(err error) bool {
	return errors.Is(err, ErrUnknownBackend)
}

// IsBackendInit returns true if the error indicates backend setup
// failure.
func IsBackendInit(err error) bool {
	return errors.Is(err, ErrBackendInit)
}

// IsDeviceUnavailable returns true if the error indicates the device
// cannot be used.
func IsDeviceUnavailable(err error) bool {
	return errors.Is(err, ErrDeviceUnavailable)
}

// IsDiverged returns true if the error indicates numerical divergence.
func IsDiverged(err error) bool {
	return errors.Is(err, ErrDiverged)
}
