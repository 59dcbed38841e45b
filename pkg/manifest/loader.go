package manifest

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ConfigError is a fatal configuration problem detected before
// scheduling.
type ConfigError struct {
	// Field is the manifest key at fault.
	Field string

	// Err is the underlying problem.
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %v", e.Field, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// IsConfigError reports whether err is (or wraps) a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// Load reads and validates a manifest from the given YAML file.
//
// Unknown keys are ignored so older binaries accept newer manifests.
// Defaults are applied before validation.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &ConfigError{Field: "manifest", Err: fmt.Errorf("file not found: %s", path)}
		}
		return nil, &ConfigError{Field: "manifest", Err: fmt.Errorf("read: %w", err)}
	}
	return LoadFromBytes(data)
}

// LoadFromBytes parses and validates a manifest from raw YAML.
func LoadFromBytes(data []byte) (*Manifest, error) {
	if len(data) == 0 {
		return nil, &ConfigError{Field: "manifest", Err: fmt.Errorf("file is empty")}
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, &ConfigError{Field: "manifest", Err: fmt.Errorf("parse yaml: %w", err)}
	}

	m.ApplyDefaults()
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}
