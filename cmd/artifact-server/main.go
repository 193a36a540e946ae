// Serves built circuit artifacts (wasm, keys, verifier contracts and
// manifests) over HTTP and verifies submitted proofs against the stored
// verification keys. A gRPC health service reports readiness to
// orchestrators.

package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/saiweb3dev/zk-circuit-pipeline/internal/api/handlers"
	"github.com/saiweb3dev/zk-circuit-pipeline/internal/api/router"
	"github.com/saiweb3dev/zk-circuit-pipeline/internal/artifacts"
	"github.com/saiweb3dev/zk-circuit-pipeline/internal/common/cache"
	"github.com/saiweb3dev/zk-circuit-pipeline/internal/common/config"
	"github.com/saiweb3dev/zk-circuit-pipeline/internal/common/health"
	"github.com/saiweb3dev/zk-circuit-pipeline/internal/common/logging"
	"github.com/saiweb3dev/zk-circuit-pipeline/internal/zkp"
)

// Version info (set via ldflags during build)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// readinessInterval is how often the gRPC health status is refreshed
const readinessInterval = 15 * time.Second

func main() {
	// ========================================================================
	// Step 1: Parse CLI Flags
	// ========================================================================

	configPath := pflag.String("config", "", "Path to config file (e.g. configs/artifact-server.yaml)")
	showVersion := pflag.Bool("version", false, "Print version information and exit")
	pflag.Parse()

	if *showVersion {
		fmt.Printf("artifact-server %s (commit %s, built %s) %s %s/%s\n",
			version, gitCommit, buildTime, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		return
	}

	// ========================================================================
	// Step 2: Load Configuration
	// ========================================================================

	cfg, err := config.LoadServer(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// ========================================================================
	// Step 3: Initialize Logger
	// ========================================================================

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	router.Version = version
	logger.Info("Starting artifact server",
		zap.String("version", version),
		zap.String("build_time", buildTime),
		zap.String("git_commit", gitCommit),
		zap.String("config", *configPath),
	)

	// ========================================================================
	// Step 4: Initialize Locator and Verifier
	// ========================================================================

	locator, err := artifacts.NewLocator(cfg.Artifacts.WasmDir, cfg.Artifacts.ZkeyDir, cfg.Artifacts.TauDir)
	if err != nil {
		logger.Fatal("Invalid artifact directories", zap.Error(err))
	}
	logger.Info("Serving artifacts",
		zap.String("zkey_dir", locator.ZkeyDir()),
		zap.String("tau_dir", locator.TauDir()),
	)

	// ========================================================================
	// Step 5: Initialize Handlers
	// ========================================================================

	verifyCache := cache.New(cfg.Cache, logger)
	defer func() { _ = verifyCache.Close() }()

	checker := health.NewChecker(logger)
	artifactHandler := handlers.NewArtifactHandler(locator, zkp.NewGroth16Verifier(), checker, logger).
		WithCache(verifyCache)

	// ========================================================================
	// Step 6: Setup Router
	// ========================================================================

	r, limiter := router.SetupRouter(artifactHandler, cfg, logger)

	// ========================================================================
	// Step 7: Create HTTP and gRPC Servers
	// ========================================================================

	srv := &http.Server{
		Addr:         cfg.GetServerAddress(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	var grpcServer *grpc.Server
	var healthServer *grpchealth.Server
	if cfg.Server.GRPCPort > 0 {
		grpcServer = grpc.NewServer()
		healthServer = grpchealth.NewServer()
		healthpb.RegisterHealthServer(grpcServer, healthServer)
	}

	// ========================================================================
	// Step 8: Start Servers in Goroutines
	// ========================================================================

	go func() {
		logger.Info("Starting HTTP server", zap.String("address", cfg.GetServerAddress()))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if grpcServer != nil {
		lis, err := net.Listen("tcp", cfg.GetGRPCAddress())
		if err != nil {
			logger.Fatal("Failed to listen for gRPC", zap.Error(err))
		}
		go func() {
			logger.Info("Starting gRPC health server", zap.String("address", cfg.GetGRPCAddress()))
			if err := grpcServer.Serve(lis); err != nil {
				logger.Error("gRPC server stopped", zap.Error(err))
			}
		}()
		go watchReadiness(ctx, checker, artifactHandler.ReadyTargets(), healthServer, logger)
	}

	logger.Info("Server started successfully", zap.String("address", cfg.GetServerAddress()))

	// ========================================================================
	// Step 9: Graceful Shutdown
	// ========================================================================

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	cancel()

	if healthServer != nil {
		healthServer.Shutdown()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	logger.Info("Shutting down server gracefully...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	if limiter != nil {
		limiter.Stop()
	}

	logger.Info("Server stopped")
}

// ============================================================================
// Helper Functions
// ============================================================================

// watchReadiness keeps the gRPC health status in line with the artifact
// directories until ctx is done.
func watchReadiness(
	ctx context.Context,
	checker *health.Checker,
	targets health.Targets,
	server *grpchealth.Server,
	logger *zap.Logger,
) {
	ticker := time.NewTicker(readinessInterval)
	defer ticker.Stop()

	last := healthpb.HealthCheckResponse_UNKNOWN
	for {
		status := healthpb.HealthCheckResponse_NOT_SERVING
		if checker.CheckAll(ctx, targets).Healthy {
			status = healthpb.HealthCheckResponse_SERVING
		}
		if status != last {
			logger.Info("Readiness changed", zap.String("status", status.String()))
			server.SetServingStatus("", status)
			last = status
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
