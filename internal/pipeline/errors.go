package pipeline

import (
	"errors"
	"fmt"

	"github.com/saiweb3dev/zk-circuit-pipeline/internal/artifacts"
	"github.com/saiweb3dev/zk-circuit-pipeline/internal/ceremony"
	"github.com/saiweb3dev/zk-circuit-pipeline/internal/toolchain"
)

// StageError reports which stage of which circuit aborted the run.
type StageError struct {
	Circuit string
	Stage   string
	Err     error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("circuit %s: stage %s failed: %v", e.Circuit, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// ExitCode maps an error returned by Run to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var fatal *ceremony.FatalError
	var cfgErr *artifacts.ConfigError

	switch {
	case errors.Is(err, artifacts.ErrNoCircuits):
		return ExitNoCircuits
	case errors.Is(err, ceremony.ErrMissingBeacon), errors.Is(err, ceremony.ErrInvalidBeacon):
		return ExitMissingSecret
	case errors.As(err, &fatal):
		return ExitFatalCeremony
	case errors.As(err, &cfgErr):
		return ExitConfig
	default:
		return ExitStageFailure
	}
}

// FailedCommand returns the external command behind err, if any.
func FailedCommand(err error) (*toolchain.ExecutionError, bool) {
	var execErr *toolchain.ExecutionError
	if errors.As(err, &execErr) {
		return execErr, true
	}
	return nil, false
}
