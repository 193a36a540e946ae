// Package pipeline runs the build of every selected circuit: compile, the
// shared phase-1 ceremony, the per-circuit key ceremony, a sample proof and
// its verification. Stages run strictly in order, one subprocess at a time,
// and the first failure aborts the whole run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/saiweb3dev/zk-circuit-pipeline/internal/artifacts"
	"github.com/saiweb3dev/zk-circuit-pipeline/internal/ceremony"
	"github.com/saiweb3dev/zk-circuit-pipeline/internal/common/config"
	"github.com/saiweb3dev/zk-circuit-pipeline/internal/storage/postgres"
	"github.com/saiweb3dev/zk-circuit-pipeline/internal/toolchain"
	"github.com/saiweb3dev/zk-circuit-pipeline/internal/zkp"
)

// Publisher uploads the final artifacts of a circuit.
type Publisher interface {
	Publish(ctx context.Context, circuit string, files []string) ([]string, error)
}

// ProofVerifier re-checks a proof in-process.
type ProofVerifier interface {
	VerifyFiles(vkPath, proofPath, publicPath string) error
}

// Deps are the collaborators of an Orchestrator. Nil fields get defaults:
// Ledger records nothing, Publisher disables publishing, Verifier is the gnark
// verifier, Entropy is crypto/rand and Clock is time.Now.
type Deps struct {
	Runner    toolchain.Runner
	Ledger    postgres.RunRepository
	Publisher Publisher
	Verifier  ProofVerifier
	Entropy   io.Reader
	Clock     func() time.Time
}

// Orchestrator drives the per-circuit stage sequence.
type Orchestrator struct {
	cfg     config.Config
	locator *artifacts.Locator
	tools   *toolchain.Toolkit
	phase2  *ceremony.Phase2
	deps    Deps
	logger  *zap.Logger
}

// New creates an orchestrator for one configuration.
func New(cfg config.Config, deps Deps, logger *zap.Logger) (*Orchestrator, error) {
	if deps.Runner == nil {
		return nil, errors.New("pipeline: runner is required")
	}
	locator, err := artifacts.NewLocator(cfg.Build.WasmDir, cfg.Build.ZkeyDir, cfg.Build.TauDir)
	if err != nil {
		return nil, err
	}
	if deps.Ledger == nil {
		deps.Ledger = postgres.NewDisabledRunRepository()
	}
	if deps.Verifier == nil {
		deps.Verifier = zkp.NewGroth16Verifier()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}

	tools := toolchain.NewToolkit(deps.Runner, toolchain.Config{
		Circom:  cfg.Toolchain.Circom,
		Snarkjs: cfg.Toolchain.SnarkjsCommand(),
		Node:    cfg.Toolchain.Node,
	})
	phase2 := ceremony.NewPhase2(tools, ceremony.Phase2Config{
		Deterministic:    cfg.Build.Deterministic,
		Secret:           cfg.Ceremony.Beacon,
		BeaconIterations: cfg.Ceremony.BeaconIterations,
	}, deps.Clock, logger)

	return &Orchestrator{
		cfg:     cfg,
		locator: locator,
		tools:   tools,
		phase2:  phase2,
		deps:    deps,
		logger:  logger,
	}, nil
}

// Toolkit exposes the command contracts, e.g. for preflight binary checks.
func (o *Orchestrator) Toolkit() *toolchain.Toolkit {
	return o.tools
}

// Locator exposes the artifact layout.
func (o *Orchestrator) Locator() *artifacts.Locator {
	return o.locator
}

// run is the state of one Run call.
type run struct {
	id      string
	summary *Summary
	phase1  *ceremony.Phase1
	tau     artifacts.TauPaths
	// tauRebuilt is set once phase-1 produced a new reference string; every
	// proving key derived from the previous one is stale.
	tauRebuilt bool
}

// Run builds circuits in order. The returned summary is never nil and holds
// the reports of every stage that started, including the failing one.
func (o *Orchestrator) Run(ctx context.Context, circuits []artifacts.CircuitSpec) (*Summary, error) {
	r := &run{
		id: uuid.New().String(),
		phase1: ceremony.NewPhase1(o.tools, ceremony.Phase1Config{
			Contributions:    o.cfg.Build.Contributions,
			Beacon:           o.cfg.Ceremony.Phase1Beacon,
			BeaconIterations: o.cfg.Ceremony.BeaconIterations,
		}, o.deps.Entropy, o.logger),
		tau: o.locator.Tau(o.cfg.Build.PotSize, o.cfg.Build.Contributions),
	}
	r.summary = newSummary(r.id)
	for _, c := range circuits {
		r.summary.Circuits = append(r.summary.Circuits, c.Name)
	}

	if err := o.preflight(circuits); err != nil {
		return r.summary, err
	}

	o.startLedger(ctx, r)

	o.logger.Info("Starting pipeline run",
		zap.String("run_id", r.id),
		zap.Strings("circuits", r.summary.Circuits),
		zap.Int("pot_size", o.cfg.Build.PotSize),
		zap.Bool("deterministic", o.cfg.Build.Deterministic),
		zap.Bool("overwrite", o.cfg.Build.Overwrite),
	)
	start := time.Now()

	for _, c := range circuits {
		if err := o.buildCircuit(ctx, r, c); err != nil {
			o.finishLedger(r, err)
			return r.summary, err
		}
	}

	o.finishLedger(r, nil)
	o.logger.Info("Pipeline run complete",
		zap.String("run_id", r.id),
		zap.Int("ran", r.summary.Count(OutcomeRan)),
		zap.Int("skipped", r.summary.Count(OutcomeSkipped)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return r.summary, nil
}

// preflight rejects the run before any subprocess starts.
func (o *Orchestrator) preflight(circuits []artifacts.CircuitSpec) error {
	if len(circuits) == 0 {
		return &artifacts.ConfigError{Field: "circuits", Err: artifacts.ErrNoCircuits}
	}
	if err := o.phase2.Preflight(); err != nil {
		return err
	}
	for _, c := range circuits {
		p := o.locator.Circuit(c)
		for _, required := range []string{p.Source, p.Input} {
			if !artifacts.Exists(required) {
				return &artifacts.ConfigError{
					Field:  "circuits",
					Reason: fmt.Sprintf("%s is missing %s", c.Name, required),
					Err:    os.ErrNotExist,
				}
			}
		}
	}
	return nil
}

// buildCircuit runs every stage of one circuit. Once a gated stage runs, all
// later gated stages of the circuit run too, since their inputs changed.
func (o *Orchestrator) buildCircuit(ctx context.Context, r *run, c artifacts.CircuitSpec) error {
	p := o.locator.Circuit(c)
	dirty := false
	gate := func() artifacts.Gate {
		return artifacts.Gate{Overwrite: o.cfg.Build.Overwrite || dirty}
	}
	// gated wraps a stage whose execution invalidates everything after it.
	gated := func(name string, outputs []string, fn func() (bool, error)) error {
		return o.stage(ctx, r, c.Name, name, func() (bool, error) {
			g := gate()
			if g.CanSkip(outputs...) {
				o.logger.Info("Skipping stage",
					zap.String("circuit", c.Name),
					zap.String("stage", name),
					zap.Strings("outputs", outputs),
				)
				return false, nil
			}
			o.logger.Info("Running stage",
				zap.String("circuit", c.Name),
				zap.String("stage", name),
				zap.Strings("missing", g.Missing(outputs...)),
				zap.Bool("forced", g.Overwrite),
			)
			ran, err := fn()
			if ran {
				dirty = true
			}
			return ran, err
		})
	}

	o.logger.Info("Building circuit",
		zap.String("circuit", c.Name),
		zap.String("source", p.Source),
	)

	if err := gated(StageCompile, p.CompileOutputs(), func() (bool, error) {
		return true, o.compile(ctx, p)
	}); err != nil {
		return err
	}

	if err := o.stage(ctx, r, c.Name, StageConstraintInfo, func() (bool, error) {
		return true, o.tools.ConstraintInfo(ctx, p.R1CS)
	}); err != nil {
		return err
	}

	if err := o.stage(ctx, r, c.Name, StagePhase1, func() (bool, error) {
		// The reference string does not depend on the circuit.
		res, err := r.phase1.Ensure(ctx, r.tau, artifacts.Gate{Overwrite: o.cfg.Build.Overwrite})
		if err != nil {
			return false, err
		}
		if !res.Skipped {
			r.tauRebuilt = true
		}
		return !res.Skipped, nil
	}); err != nil {
		return err
	}
	if r.tauRebuilt {
		dirty = true
	}

	if o.cfg.Build.VerifyTau {
		if err := o.stage(ctx, r, c.Name, StagePhase1Verify, func() (bool, error) {
			return stepRan(r.phase1.Verify(ctx, r.tau))
		}); err != nil {
			return err
		}
	}

	if err := o.stage(ctx, r, c.Name, StagePhase2Key, func() (bool, error) {
		res, err := o.phase2.EnsureKey(ctx, p, r.tau, gate())
		if err != nil {
			return false, err
		}
		if !res.Skipped {
			dirty = true
		}
		return !res.Skipped, nil
	}); err != nil {
		return err
	}

	if err := gated(StageExportVKey, []string{p.VerificationKey}, func() (bool, error) {
		return stepRan(o.phase2.Export(ctx, p, artifacts.Gate{Overwrite: true}))
	}); err != nil {
		return err
	}

	if o.cfg.Build.ExportSolidity {
		if err := o.stage(ctx, r, c.Name, StageExportSolidity, func() (bool, error) {
			return stepRan(o.phase2.ExportSolidity(ctx, p, gate()))
		}); err != nil {
			return err
		}
	}

	if err := gated(StageWitness, []string{p.Witness}, func() (bool, error) {
		return true, artifacts.Produce(p.Witness, func(out string) error {
			return o.tools.ComputeWitness(ctx, p.WitnessScript, p.Wasm, p.Input, out)
		})
	}); err != nil {
		return err
	}

	if err := gated(StageProve, p.ProofOutputs(), func() (bool, error) {
		return true, o.prove(ctx, p)
	}); err != nil {
		return err
	}

	if err := o.stage(ctx, r, c.Name, StageVerify, func() (bool, error) {
		return true, o.tools.Verify(ctx, p.VerificationKey, p.Public, p.Proof)
	}); err != nil {
		return err
	}

	if o.cfg.Build.NativeVerify {
		if err := o.stage(ctx, r, c.Name, StageNativeVerify, func() (bool, error) {
			return true, o.deps.Verifier.VerifyFiles(p.VerificationKey, p.Proof, p.Public)
		}); err != nil {
			return err
		}
	}

	if err := o.stage(ctx, r, c.Name, StageManifest, func() (bool, error) {
		m, err := artifacts.BuildManifest(p, o.cfg.Build.PotSize)
		if err != nil {
			return false, err
		}
		return artifacts.WriteManifest(p.Manifest, m)
	}); err != nil {
		return err
	}

	if o.deps.Publisher != nil {
		if err := o.stage(ctx, r, c.Name, StagePublish, func() (bool, error) {
			keys, err := o.deps.Publisher.Publish(ctx, c.Name, publishable(p))
			if err != nil {
				return false, err
			}
			r.summary.Published[c.Name] = keys
			return true, nil
		}); err != nil {
			return err
		}
	}

	o.logger.Info("Circuit ready",
		zap.String("circuit", c.Name),
		zap.String("zkey", p.FinalKey),
		zap.String("verification_key", p.VerificationKey),
	)
	return nil
}

// compile runs the compiler into a staging directory and moves its outputs
// into the circuit's output directory only when compilation succeeds.
func (o *Orchestrator) compile(ctx context.Context, p artifacts.Paths) error {
	staging := artifacts.StagingPath(p.OutDir)
	defer artifacts.Discard(staging)

	if err := os.MkdirAll(staging, 0o755); err != nil {
		return fmt.Errorf("failed to create compile directory: %w", err)
	}
	if err := o.tools.Compile(ctx, p.Source, staging); err != nil {
		return err
	}

	moves := [][2]string{
		{artifacts.R1CSFile, p.R1CS},
		{artifacts.SymbolsFile, p.Symbols},
		{artifacts.JSDirName, p.JSDir},
	}
	for _, m := range moves {
		if err := artifacts.Commit(filepath.Join(staging, m[0]), m[1]); err != nil {
			return err
		}
	}
	return nil
}

// prove stages both proof files and commits them together.
func (o *Orchestrator) prove(ctx context.Context, p artifacts.Paths) error {
	proof := artifacts.StagingPath(p.Proof)
	public := artifacts.StagingPath(p.Public)
	defer artifacts.Discard(proof)
	defer artifacts.Discard(public)

	if err := o.tools.Prove(ctx, p.FinalKey, p.Witness, proof, public); err != nil {
		return err
	}
	if err := artifacts.Commit(public, p.Public); err != nil {
		return err
	}
	return artifacts.Commit(proof, p.Proof)
}

// publishable lists the finished artifacts of a circuit plus its manifest.
func publishable(p artifacts.Paths) []string {
	var files []string
	for _, kind := range artifacts.Kinds() {
		if path, ok := p.Artifact(kind); ok && artifacts.Exists(path) {
			files = append(files, path)
		}
	}
	return append(files, p.Manifest)
}

// stage runs fn as one named stage, reporting and recording its outcome.
// fn reports whether it did any work.
func (o *Orchestrator) stage(ctx context.Context, r *run, circuit, name string, fn func() (bool, error)) error {
	if err := ctx.Err(); err != nil {
		return &StageError{Circuit: circuit, Stage: name, Err: err}
	}

	start := time.Now()
	ran, err := fn()
	report := StageReport{
		Circuit:  circuit,
		Stage:    name,
		Outcome:  OutcomeSkipped,
		Duration: time.Since(start),
	}
	switch {
	case err != nil:
		report.Outcome = OutcomeFailed
		report.Err = err
	case ran:
		report.Outcome = OutcomeRan
	}
	r.summary.add(report)
	o.recordStage(r, report)

	if err != nil {
		o.logger.Error("Stage failed",
			zap.String("circuit", circuit),
			zap.String("stage", name),
			zap.Duration("elapsed", report.Duration),
			zap.Error(err),
		)
		return &StageError{Circuit: circuit, Stage: name, Err: err}
	}
	if ran {
		o.logger.Info("Stage complete",
			zap.String("circuit", circuit),
			zap.String("stage", name),
			zap.Duration("elapsed", report.Duration),
		)
	}
	return nil
}

// stepRan adapts a ceremony step to a stage result; a nil step means skipped.
func stepRan(step *ceremony.Step, err error) (bool, error) {
	return step != nil, err
}

// ============================================================================
// Ledger
// ============================================================================

// Ledger failures are logged and never fail the build.

func (o *Orchestrator) startLedger(ctx context.Context, r *run) {
	ledgerCtx, cancel := context.WithTimeout(ctx, LedgerWriteTimeout)
	defer cancel()

	err := o.deps.Ledger.CreateRun(ledgerCtx, &postgres.Run{
		ID:            r.id,
		Circuits:      r.summary.Circuits,
		PotSize:       o.cfg.Build.PotSize,
		Deterministic: o.cfg.Build.Deterministic,
		Overwrite:     o.cfg.Build.Overwrite,
	})
	if err != nil {
		o.logger.Warn("Failed to record run", zap.String("run_id", r.id), zap.Error(err))
	}
}

func (o *Orchestrator) recordStage(r *run, report StageReport) {
	ledgerCtx, cancel := context.WithTimeout(context.Background(), LedgerWriteTimeout)
	defer cancel()

	rec := &postgres.StageRecord{
		RunID:      r.id,
		Circuit:    report.Circuit,
		Stage:      report.Stage,
		Outcome:    string(report.Outcome),
		Duration:   report.Duration,
		RecordedAt: o.deps.Clock().UTC(),
	}
	if report.Err != nil {
		rec.ErrorMessage = report.Err.Error()
		if execErr, ok := FailedCommand(report.Err); ok {
			rec.Command = execErr.Command
			rec.ExitCode = execErr.ExitCode
		}
	}
	if err := o.deps.Ledger.RecordStage(ledgerCtx, rec); err != nil {
		o.logger.Warn("Failed to record stage",
			zap.String("run_id", r.id),
			zap.String("stage", report.Stage),
			zap.Error(err),
		)
	}
}

func (o *Orchestrator) finishLedger(r *run, runErr error) {
	ledgerCtx, cancel := context.WithTimeout(context.Background(), LedgerWriteTimeout)
	defer cancel()

	status, message := postgres.RunStatusSucceeded, ""
	if runErr != nil {
		status, message = postgres.RunStatusFailed, runErr.Error()
	}
	if err := o.deps.Ledger.FinishRun(ledgerCtx, r.id, status, message); err != nil {
		o.logger.Warn("Failed to finish run record", zap.String("run_id", r.id), zap.Error(err))
	}
}
