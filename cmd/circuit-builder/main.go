// Builds zero-knowledge circuits end to end: compile, trusted setup, sample
// proof and verification. main is just wiring; the stages live in
// internal/pipeline.

package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/saiweb3dev/zk-circuit-pipeline/internal/artifacts"
	"github.com/saiweb3dev/zk-circuit-pipeline/internal/common/config"
	"github.com/saiweb3dev/zk-circuit-pipeline/internal/common/health"
	"github.com/saiweb3dev/zk-circuit-pipeline/internal/common/logging"
	"github.com/saiweb3dev/zk-circuit-pipeline/internal/common/retry"
	"github.com/saiweb3dev/zk-circuit-pipeline/internal/pipeline"
	"github.com/saiweb3dev/zk-circuit-pipeline/internal/storage/objectstore"
	"github.com/saiweb3dev/zk-circuit-pipeline/internal/storage/postgres"
	"github.com/saiweb3dev/zk-circuit-pipeline/internal/toolchain"
)

// Version info (set via ldflags during build)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	// ========================================================================
	// Step 1: Parse CLI Flags
	// ========================================================================

	fs := pflag.NewFlagSet("circuit-builder", pflag.ContinueOnError)
	config.RegisterFlags(fs)
	configPath := fs.String("config", "", "path to a YAML config file")
	showVersion := fs.Bool("version", false, "print version information and exit")
	preflightOnly := fs.Bool("preflight", false, "check tools and output directories, then exit")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return pipeline.ExitOK
		}
		return pipeline.ExitConfig
	}

	if *showVersion {
		fmt.Printf("circuit-builder %s (commit %s, built %s) %s %s/%s\n",
			version, gitCommit, buildTime, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		return pipeline.ExitOK
	}

	// ========================================================================
	// Step 2: Load Configuration
	// ========================================================================

	cfg, err := config.Load(*configPath, fs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return pipeline.ExitConfig
	}

	// ========================================================================
	// Step 3: Initialize Logger
	// ========================================================================

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return pipeline.ExitConfig
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting circuit builder",
		zap.String("version", version),
		zap.String("git_commit", gitCommit),
		zap.String("config", *configPath),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Step 4: Resolve Circuit Selection
	// ========================================================================

	circuits, err := artifacts.ResolveSelection(cfg.Build.Circuits, cfg.Build.CircuitsDir)
	if err != nil {
		return fail(os.Stderr, logger, err)
	}

	// ========================================================================
	// Step 5: Optional Run Ledger
	// ========================================================================

	var ledger postgres.RunRepository
	var db *sql.DB
	if cfg.Ledger.Enabled {
		db, err = postgres.ConnectPostgreSQL(ctx, cfg.Ledger.DSN, &postgres.DatabaseConfig{
			MaxOpenConns: cfg.Ledger.MaxOpenConns,
			MaxIdleConns: cfg.Ledger.MaxOpenConns,
		}, logger)
		if err != nil {
			logger.Error("Failed to connect to ledger database", zap.Error(err))
			return pipeline.ExitConfig
		}
		defer db.Close()

		if cfg.Ledger.AutoMigrate {
			if err := postgres.EnsureSchema(ctx, db); err != nil {
				logger.Error("Failed to migrate ledger schema", zap.Error(err))
				return pipeline.ExitConfig
			}
		}
		ledger = postgres.NewRunRepository(db)
	}

	// ========================================================================
	// Step 6: Optional Publisher
	// ========================================================================

	var publisher pipeline.Publisher
	if cfg.Publish.Enabled {
		p, err := newPublisher(ctx, cfg.Publish, logger)
		if err != nil {
			logger.Error("Failed to initialize publisher", zap.Error(err))
			return pipeline.ExitConfig
		}
		publisher = p
	}

	// ========================================================================
	// Step 7: Build Orchestrator
	// ========================================================================

	orchestrator, err := pipeline.New(*cfg, pipeline.Deps{
		Runner:    toolchain.NewExecRunner(logger),
		Ledger:    ledger,
		Publisher: publisher,
	}, logger)
	if err != nil {
		return fail(os.Stderr, logger, err)
	}

	// ========================================================================
	// Step 8: Preflight Checks
	// ========================================================================

	targets := health.Targets{
		Binaries: orchestrator.Toolkit().Binaries(),
		WritableDirs: map[string]string{
			"wasm_dir": cfg.Build.WasmDir,
			"zkey_dir": cfg.Build.ZkeyDir,
			"tau_dir":  cfg.Build.TauDir,
		},
		DB: db,
	}
	status := health.NewChecker(logger).CheckAll(ctx, targets)
	for _, c := range status.Checks {
		logger.Debug("Preflight check",
			zap.String("component", c.Component),
			zap.Bool("healthy", c.Healthy),
			zap.String("message", c.Message),
		)
	}
	if !status.Healthy {
		logger.Error("Preflight checks failed")
		return pipeline.ExitConfig
	}
	if *preflightOnly {
		logger.Info("Preflight checks passed", zap.Int("circuits", len(circuits)))
		return pipeline.ExitOK
	}

	// ========================================================================
	// Step 9: Run Pipeline
	// ========================================================================

	summary, err := orchestrator.Run(ctx, circuits)
	if err != nil {
		return fail(os.Stderr, logger, err)
	}

	logger.Info("Build succeeded",
		zap.String("run_id", summary.RunID),
		zap.Strings("circuits", summary.Circuits),
		zap.Int("stages_ran", summary.Count(pipeline.OutcomeRan)),
		zap.Int("stages_skipped", summary.Count(pipeline.OutcomeSkipped)),
	)
	return pipeline.ExitOK
}

// ============================================================================
// Helper Functions
// ============================================================================

// fail reports err, including the failing command and its status, and
// returns the matching exit code.
func fail(w io.Writer, logger *zap.Logger, err error) int {
	code := pipeline.ExitCode(err)
	fmt.Fprintf(w, "error: %v\n", err)
	if execErr, ok := pipeline.FailedCommand(err); ok {
		fmt.Fprintf(w, "failed command: %s\n", execErr.Command)
		switch {
		case execErr.Signal != "":
			fmt.Fprintf(w, "terminated by signal: %s\n", execErr.Signal)
		case execErr.ExitCode >= 0:
			fmt.Fprintf(w, "exit status: %d\n", execErr.ExitCode)
		}
	}
	logger.Error("Build failed", zap.Int("exit_code", code), zap.Error(err))
	return code
}

// newPublisher builds the artifact publisher for the configured backend
func newPublisher(ctx context.Context, cfg config.PublishConfig, logger *zap.Logger) (*objectstore.Publisher, error) {
	var store objectstore.Storage
	switch cfg.Backend {
	case "file":
		store = objectstore.NewFileStorage(cfg.Dir)
	default:
		s3, err := objectstore.NewS3Storage(ctx, objectstore.S3Config{
			Bucket:       cfg.S3.Bucket,
			Region:       cfg.S3.Region,
			Endpoint:     cfg.S3.Endpoint,
			AccessKey:    cfg.S3.AccessKey,
			SecretKey:    cfg.S3.SecretKey,
			PublicRead:   cfg.S3.PublicRead,
			UsePathStyle: cfg.S3.UsePathStyle,
		})
		if err != nil {
			return nil, err
		}
		store = s3
	}

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = cfg.MaxAttempts
	return objectstore.NewPublisher(store, cfg.Prefix, retryCfg, logger).
		WithUploadTimeout(cfg.UploadTimeout), nil
}
