package calculator

import (
	"fmt"
	"sort"
	"strings"
)

// factory builds a calculator for a validated spec.
type factory func(Spec) (Calculator, error)

// factories maps backend names to constructors. The set is fixed at
// startup; backends are selected by registry lookup, never patched at
// runtime.
var factories = map[string]factory{
	"classical": newClassical,
	"leftnet": func(spec Spec) (Calculator, error) {
		return newNeural(spec, "leftnet", true)
	},
	"leftnet-d": func(spec Spec) (Calculator, error) {
		return newNeural(spec, "leftnet", false)
	},
	"mace-pretrain": func(spec Spec) (Calculator, error) {
		return newNeural(spec, "mace-pretrain", false)
	},
	"mace-finetuned": func(spec Spec) (Calculator, error) {
		return newNeural(spec, "mace-finetuned", false)
	},
}

// Available returns the registered backend names, sorted.
func Available() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateBackend checks that name is a registered backend.
//
// Called during manifest validation so an unknown backend aborts the
// batch before any job is scheduled.
func ValidateBackend(name string) error {
	if _, ok := factories[strings.TrimSpace(name)]; !ok {
		return &CalcError{
			Op:      "ValidateBackend",
			Backend: name,
			Err:     fmt.Errorf("%w: %q (available: %s)", ErrUnknownBackend, name, strings.Join(Available(), ", ")),
		}
	}
	return nil
}

// New constructs a calculator for the spec.
//
// Construction is cheap for the classical backend; neural backends
// defer evaluator startup to the first Evaluate call so that workers
// that never run a job do not hold device contexts.
func New(spec Spec) (Calculator, error) {
	name := strings.TrimSpace(spec.Backend)
	f, ok := factories[name]
	if !ok {
		return nil, &CalcError{
			Op:      "New",
			Backend: name,
			Device:  spec.Device,
			Err:     fmt.Errorf("%w: %q (available: %s)", ErrUnknownBackend, name, strings.Join(Available(), ", ")),
		}
	}
	spec.Device = spec.Device.Normalize()
	return f(spec)
}
