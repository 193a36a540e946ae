package ceremony

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/saiweb3dev/zk-circuit-pipeline/internal/artifacts"
)

// Phase1Config controls the universal ceremony.
type Phase1Config struct {
	// Contributions is the number of random contributions, at least 1.
	Contributions int
	// Beacon is the hex randomness of the closing beacon. Empty means a fresh
	// random value for every ceremony.
	Beacon           string
	BeaconIterations int
}

// Phase1Result describes what Ensure did for one potSize.
type Phase1Result struct {
	Tau     artifacts.TauPaths
	Skipped bool
	Steps   []Step
}

// Phase1 creates the prepared reference string for a potSize at most once per
// run. A Phase1 value is meant to live for exactly one pipeline run.
type Phase1 struct {
	tools   Tools
	cfg     Phase1Config
	entropy io.Reader
	logger  *zap.Logger

	mu       sync.Mutex
	done     map[int]bool
	verified map[int]bool
}

// NewPhase1 creates a phase-1 manager. A nil entropy reader uses crypto/rand.
func NewPhase1(tools Tools, cfg Phase1Config, entropy io.Reader, logger *zap.Logger) *Phase1 {
	if cfg.BeaconIterations == 0 {
		cfg.BeaconIterations = DefaultBeaconIterations
	}
	return &Phase1{
		tools:    tools,
		cfg:      cfg,
		entropy:  entropy,
		logger:   logger,
		done:     make(map[int]bool),
		verified: make(map[int]bool),
	}
}

// Ensure makes tau.Final available. It is skipped when the prepared file
// passes the gate or was already produced earlier in this run; otherwise the
// whole chain is regenerated from a new initial string under the potSize lock.
func (p *Phase1) Ensure(ctx context.Context, tau artifacts.TauPaths, gate artifacts.Gate) (*Phase1Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	result := &Phase1Result{Tau: tau}
	if p.done[tau.PotSize] || gate.CanSkip(tau.Final) {
		p.done[tau.PotSize] = true
		result.Skipped = true
		p.logger.Info("Reference string ready",
			zap.Int("pot_size", tau.PotSize),
			zap.String("file", tau.Final),
		)
		return result, nil
	}

	if len(tau.Chain) < 2 {
		return nil, &artifacts.ConfigError{Field: "contributions", Reason: "at least one contribution is required"}
	}

	lock, err := artifacts.AcquireLock(tau.Lock)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			p.logger.Warn("Failed to release ceremony lock", zap.Error(err))
		}
	}()

	// Another pipeline may have finished while we waited for the lock.
	if gate.CanSkip(tau.Final) {
		p.done[tau.PotSize] = true
		result.Skipped = true
		return result, nil
	}

	p.logger.Info("Starting phase-1 ceremony",
		zap.Int("pot_size", tau.PotSize),
		zap.Int("contributions", len(tau.Chain)-1),
	)

	// NEW
	if err := artifacts.Produce(tau.Chain[0], func(out string) error {
		return p.tools.PowersOfTauNew(ctx, tau.PotSize, out)
	}); err != nil {
		return nil, err
	}
	result.Steps = append(result.Steps, Step{State: StateNew, Output: tau.Chain[0]})

	// CONTRIBUTING
	for i := 1; i < len(tau.Chain); i++ {
		entropy, err := randomHex(p.entropy, 32)
		if err != nil {
			return nil, err
		}
		in := tau.Chain[i-1]
		name := fmt.Sprintf("Contribution #%d", i)
		if err := artifacts.Produce(tau.Chain[i], func(out string) error {
			return p.tools.PowersOfTauContribute(ctx, in, out, name, entropy)
		}); err != nil {
			return nil, err
		}
		result.Steps = append(result.Steps, Step{State: StateContributing, Index: i, Output: tau.Chain[i]})
	}

	// BEACON
	beacon := p.cfg.Beacon
	if beacon == "" {
		if beacon, err = randomHex(p.entropy, 32); err != nil {
			return nil, err
		}
	}
	last := tau.Chain[len(tau.Chain)-1]
	if err := artifacts.Produce(tau.Beacon, func(out string) error {
		return p.tools.PowersOfTauBeacon(ctx, last, out, beacon, p.cfg.BeaconIterations, "Final Beacon")
	}); err != nil {
		return nil, err
	}
	result.Steps = append(result.Steps, Step{State: StateBeacon, Output: tau.Beacon})

	// PREPARED
	if err := artifacts.Produce(tau.Final, func(out string) error {
		return p.tools.PreparePhase2(ctx, tau.Beacon, out)
	}); err != nil {
		return nil, err
	}
	result.Steps = append(result.Steps, Step{State: StatePrepared, Output: tau.Final})

	p.done[tau.PotSize] = true
	p.logger.Info("Phase-1 ceremony complete",
		zap.Int("pot_size", tau.PotSize),
		zap.String("file", tau.Final),
	)
	return result, nil
}

// Verify checks the full contribution chain of the prepared string once per
// potSize per run. It returns a nil step when verification was already done.
// Any failure is a FatalError, and the rejected string is moved out of its
// gated name so that no later run derives a key from it.
func (p *Phase1) Verify(ctx context.Context, tau artifacts.TauPaths) (*Step, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.verified[tau.PotSize] {
		return nil, nil
	}
	if err := p.tools.PowersOfTauVerify(ctx, tau.Final); err != nil {
		fatal := &FatalError{Path: tau.Final, Err: err}
		if rejected, rerr := reject(tau.Final); rerr != nil {
			p.logger.Error("Failed to quarantine rejected reference string",
				zap.String("file", tau.Final),
				zap.Error(rerr),
			)
		} else {
			fatal.Rejected = rejected
		}
		delete(p.done, tau.PotSize)
		return nil, fatal
	}
	p.verified[tau.PotSize] = true
	p.logger.Info("Reference string verified", zap.String("file", tau.Final))
	return &Step{State: StateVerified, Output: tau.Final}, nil
}

// reject renames a prepared string that failed verification to
// <name>.rejected. If the rename fails the file is removed instead.
func reject(path string) (string, error) {
	rejected := path + RejectedSuffix
	if err := os.Rename(path, rejected); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			return "", fmt.Errorf("failed to reject %s: %w", path, errors.Join(err, rmErr))
		}
		return "", nil
	}
	return rejected, nil
}
