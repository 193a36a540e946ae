package artifacts

import (
	"errors"
	"fmt"
)

// ErrNoCircuits is returned when the circuit selection resolves to zero
// existing source directories.
var ErrNoCircuits = errors.New("no circuits matched selection")

// ErrCircuitNotFound is returned when an explicitly named circuit has no
// directory under the circuits root.
var ErrCircuitNotFound = errors.New("circuit directory not found")

// ConfigError reports a bad or missing piece of run configuration.
// It is always raised before any stage runs.
type ConfigError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	switch {
	case e.Reason != "" && e.Err != nil:
		return fmt.Sprintf("config %s: %s: %v", e.Field, e.Reason, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("config %s: %v", e.Field, e.Err)
	default:
		return fmt.Sprintf("config %s: %s", e.Field, e.Reason)
	}
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
