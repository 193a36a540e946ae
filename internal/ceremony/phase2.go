package ceremony

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/saiweb3dev/zk-circuit-pipeline/internal/artifacts"
)

// Finalization is the single transform applied to a proving key.
type Finalization string

const (
	FinalizeRandom Finalization = "random"
	FinalizeBeacon Finalization = "beacon"
)

// Phase2Config controls the per-circuit key ceremony.
type Phase2Config struct {
	Deterministic    bool
	Secret           string
	BeaconIterations int
}

// KeyState is the phase-2 state of one circuit.
type KeyState struct {
	InitialKey      string
	FinalKey        string
	VerificationKey string
	Finalization    Finalization
}

// KeyResult describes what EnsureKey did.
type KeyResult struct {
	State   KeyState
	Skipped bool
	Steps   []Step
}

// Phase2 runs the proving key ceremony of each circuit.
type Phase2 struct {
	tools  Tools
	cfg    Phase2Config
	now    func() time.Time
	logger *zap.Logger
}

// NewPhase2 creates a phase-2 manager. A nil clock uses time.Now.
func NewPhase2(tools Tools, cfg Phase2Config, now func() time.Time, logger *zap.Logger) *Phase2 {
	if cfg.BeaconIterations == 0 {
		cfg.BeaconIterations = DefaultBeaconIterations
	}
	if now == nil {
		now = time.Now
	}
	return &Phase2{tools: tools, cfg: cfg, now: now, logger: logger}
}

// Finalization reports which transform this manager applies.
func (p *Phase2) Finalization() Finalization {
	if p.cfg.Deterministic {
		return FinalizeBeacon
	}
	return FinalizeRandom
}

// Preflight rejects a deterministic configuration without a usable secret.
// It must be called before any phase-2 subprocess is started.
func (p *Phase2) Preflight() error {
	if !p.cfg.Deterministic {
		return nil
	}
	if err := ValidateBeacon(p.cfg.Secret); err != nil {
		return &artifacts.ConfigError{Field: "ceremony.beacon", Reason: "set ZK_BEACON", Err: err}
	}
	return nil
}

// EnsureKey produces the initial and final proving keys of a circuit. The
// stage is skipped only when both keys pass the gate; otherwise both are
// regenerated and exactly one finalization is applied.
func (p *Phase2) EnsureKey(ctx context.Context, paths artifacts.Paths, tau artifacts.TauPaths, gate artifacts.Gate) (*KeyResult, error) {
	state := KeyState{
		InitialKey:      paths.InitialKey,
		FinalKey:        paths.FinalKey,
		VerificationKey: paths.VerificationKey,
		Finalization:    p.Finalization(),
	}
	result := &KeyResult{State: state}

	if gate.CanSkip(paths.InitialKey, paths.FinalKey) {
		result.Skipped = true
		return result, nil
	}
	if err := p.Preflight(); err != nil {
		return nil, err
	}

	if err := artifacts.Produce(paths.InitialKey, func(out string) error {
		return p.tools.ZkeyNew(ctx, paths.R1CS, tau.Final, out)
	}); err != nil {
		return nil, err
	}
	result.Steps = append(result.Steps, Step{State: StateKeyNew, Output: paths.InitialKey})

	err := artifacts.Produce(paths.FinalKey, func(out string) error {
		if p.cfg.Deterministic {
			return p.tools.ZkeyBeacon(ctx, paths.InitialKey, out, p.cfg.Secret, p.cfg.BeaconIterations)
		}
		entropy := strconv.FormatInt(p.now().UnixMilli(), 10)
		return p.tools.ZkeyContribute(ctx, paths.InitialKey, out, entropy)
	})
	if err != nil {
		return nil, err
	}
	result.Steps = append(result.Steps, Step{State: StateFinalizing, Output: paths.FinalKey})

	p.logger.Info("Proving key finalized",
		zap.String("circuit", paths.Circuit.Name),
		zap.String("finalization", string(state.Finalization)),
	)
	return result, nil
}

// Export derives the verification key from the final proving key. It
// returns a nil step when the gate let it skip.
func (p *Phase2) Export(ctx context.Context, paths artifacts.Paths, gate artifacts.Gate) (*Step, error) {
	if gate.CanSkip(paths.VerificationKey) {
		return nil, nil
	}
	if err := artifacts.Produce(paths.VerificationKey, func(out string) error {
		return p.tools.ExportVerificationKey(ctx, paths.FinalKey, out)
	}); err != nil {
		return nil, err
	}
	return &Step{State: StateExported, Output: paths.VerificationKey}, nil
}

// ExportSolidity writes the on-chain verifier contract for the final key.
func (p *Phase2) ExportSolidity(ctx context.Context, paths artifacts.Paths, gate artifacts.Gate) (*Step, error) {
	if gate.CanSkip(paths.SolidityVerifier) {
		return nil, nil
	}
	if err := artifacts.Produce(paths.SolidityVerifier, func(out string) error {
		return p.tools.ExportSolidityVerifier(ctx, paths.FinalKey, out)
	}); err != nil {
		return nil, err
	}
	return &Step{State: StateExported, Output: paths.SolidityVerifier}, nil
}
