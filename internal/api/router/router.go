package router

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/saiweb3dev/zk-circuit-pipeline/internal/api/handlers"
	"github.com/saiweb3dev/zk-circuit-pipeline/internal/api/middleware"
	"github.com/saiweb3dev/zk-circuit-pipeline/internal/common/config"
)

// Version is reported on the root endpoint
var Version = "dev"

// SetupRouter creates and configures the HTTP router. The returned rate
// limiter, if any, must be stopped on shutdown.
func SetupRouter(
	artifactHandler *handlers.ArtifactHandler,
	cfg *config.ServerConfig,
	logger *zap.Logger,
) (*mux.Router, *middleware.RateLimiter) {

	r := mux.NewRouter()

	// ========================================================================
	// Global Middleware (applies to ALL routes)
	// ========================================================================

	// 1. Request ID - first, so every later log line carries it
	r.Use(middleware.RequestID(logger))

	// 2. Recovery - catch panics and return 500 instead of crashing
	r.Use(middleware.Recovery(logger))

	// 3. Body size limit
	r.Use(middleware.BodySizeLimit(cfg.Server.MaxBodyBytes, logger))

	// 4. Rate limiting per client IP
	var rateLimiter *middleware.RateLimiter
	if cfg.RateLimit.Enabled {
		rateLimiter = middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, logger)
		r.Use(rateLimiter.Middleware())
	}

	// 5. Logging - log every request
	r.Use(middleware.Logging(logger))

	// 6. CORS - browser provers fetch wasm and keys directly
	if cfg.CORS.Enabled {
		r.Use(middleware.CORS(cfg.CORS))
	}

	// 7. Timeout - prevent slow requests from hanging forever
	r.Use(middleware.Timeout(cfg.Server.RequestTimeout))

	// ========================================================================
	// Artifact Routes
	// ========================================================================

	circuits := r.PathPrefix("/circuits").Subrouter()
	circuits.HandleFunc("", artifactHandler.ListCircuits).Methods(http.MethodGet, http.MethodOptions)
	circuits.HandleFunc("/{name}/manifest", artifactHandler.GetManifest).Methods(http.MethodGet, http.MethodOptions)
	circuits.HandleFunc("/{name}/verify", artifactHandler.VerifyProof).Methods(http.MethodPost, http.MethodOptions)
	circuits.HandleFunc("/{name}/{artifact}", artifactHandler.GetArtifact).Methods(http.MethodGet, http.MethodHead, http.MethodOptions)

	// ========================================================================
	// Health & Status
	// ========================================================================

	r.HandleFunc("/health", artifactHandler.HealthCheck).Methods(http.MethodGet)
	r.HandleFunc("/ready", artifactHandler.Ready).Methods(http.MethodGet)
	r.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"service": "artifact-server", "version": "` + Version + `"}`))
	}).Methods(http.MethodGet)

	return r, rateLimiter
}
