// Package health checks the dependencies of the builder and the artifact
// server: external binaries, writable output directories and the optional
// ledger database.
package health

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"
)

// Checker performs health checks on system dependencies
type Checker struct {
	logger   *zap.Logger
	lookPath func(string) (string, error)
}

// NewChecker creates a new health checker
func NewChecker(logger *zap.Logger) *Checker {
	return &Checker{logger: logger, lookPath: exec.LookPath}
}

// CheckResult represents the result of a health check
type CheckResult struct {
	Component string        `json:"component"`
	Healthy   bool          `json:"healthy"`
	Message   string        `json:"message,omitempty"`
	Duration  time.Duration `json:"duration_ms"`
}

// SystemHealth represents overall system health
type SystemHealth struct {
	Healthy bool          `json:"healthy"`
	Checks  []CheckResult `json:"checks"`
}

// Targets lists what CheckAll inspects. Nil or empty fields are skipped.
type Targets struct {
	// Binaries maps a role (e.g. "circom") to an executable name or path.
	Binaries map[string]string
	// WritableDirs maps a name to a directory that must be creatable and writable.
	WritableDirs map[string]string
	// ReadableDirs maps a name to a directory that must exist.
	ReadableDirs map[string]string
	DB           *sql.DB
	Cache        Pinger
}

// Pinger is a remote dependency that can report its own liveness
type Pinger interface {
	HealthCheck(ctx context.Context) error
}

// CheckAll performs every check in t
func (h *Checker) CheckAll(ctx context.Context, t Targets) *SystemHealth {
	results := make([]CheckResult, 0, len(t.Binaries)+len(t.WritableDirs)+len(t.ReadableDirs)+2)

	for _, role := range sortedKeys(t.Binaries) {
		results = append(results, h.CheckBinary(role, t.Binaries[role]))
	}
	for _, name := range sortedKeys(t.WritableDirs) {
		results = append(results, h.CheckWritableDir(name, t.WritableDirs[name]))
	}
	for _, name := range sortedKeys(t.ReadableDirs) {
		results = append(results, h.CheckReadableDir(name, t.ReadableDirs[name]))
	}
	if t.DB != nil {
		results = append(results, h.CheckDatabase(ctx, t.DB))
	}
	if t.Cache != nil {
		results = append(results, h.CheckCache(ctx, t.Cache))
	}

	allHealthy := true
	for _, r := range results {
		if !r.Healthy {
			allHealthy = false
			h.logger.Warn("Health check failed",
				zap.String("component", r.Component),
				zap.String("message", r.Message),
			)
		}
	}

	return &SystemHealth{
		Healthy: allHealthy,
		Checks:  results,
	}
}

// CheckBinary verifies an executable can be found on PATH
func (h *Checker) CheckBinary(role, name string) CheckResult {
	start := time.Now()
	result := CheckResult{Component: "binary:" + role}

	path, err := h.lookPath(name)
	if err != nil {
		result.Message = fmt.Sprintf("%s not found: %v", name, err)
		result.Duration = time.Since(start)
		return result
	}

	result.Healthy = true
	result.Message = path
	result.Duration = time.Since(start)
	return result
}

// CheckWritableDir creates dir if needed and verifies a file can be written
func (h *Checker) CheckWritableDir(name, dir string) CheckResult {
	start := time.Now()
	result := CheckResult{Component: "dir:" + name}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		result.Message = fmt.Sprintf("cannot create %s: %v", dir, err)
		result.Duration = time.Since(start)
		return result
	}
	probe, err := os.CreateTemp(dir, ".health-*")
	if err != nil {
		result.Message = fmt.Sprintf("%s not writable: %v", dir, err)
		result.Duration = time.Since(start)
		return result
	}
	probe.Close()
	os.Remove(probe.Name())

	result.Healthy = true
	result.Message = "ok"
	result.Duration = time.Since(start)
	return result
}

// CheckReadableDir verifies dir exists and is a directory
func (h *Checker) CheckReadableDir(name, dir string) CheckResult {
	start := time.Now()
	result := CheckResult{Component: "dir:" + name}

	info, err := os.Stat(dir)
	switch {
	case err != nil:
		result.Message = fmt.Sprintf("%s: %v", filepath.Clean(dir), err)
	case !info.IsDir():
		result.Message = fmt.Sprintf("%s is not a directory", dir)
	default:
		result.Healthy = true
		result.Message = "ok"
	}
	result.Duration = time.Since(start)
	return result
}

// CheckDatabase verifies PostgreSQL connectivity and basic operations
func (h *Checker) CheckDatabase(ctx context.Context, db *sql.DB) CheckResult {
	start := time.Now()
	result := CheckResult{
		Component: "database",
		Healthy:   false,
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(checkCtx); err != nil {
		result.Message = fmt.Sprintf("ping failed: %v", err)
		result.Duration = time.Since(start)
		return result
	}

	var one int
	if err := db.QueryRowContext(checkCtx, "SELECT 1").Scan(&one); err != nil {
		result.Message = fmt.Sprintf("query failed: %v", err)
		result.Duration = time.Since(start)
		return result
	}

	stats := db.Stats()
	if stats.MaxOpenConnections > 0 && stats.OpenConnections >= stats.MaxOpenConnections {
		h.logger.Warn("Database connection pool exhausted",
			zap.Int("open", stats.OpenConnections),
			zap.Int("max", stats.MaxOpenConnections),
		)
	}

	result.Healthy = true
	result.Message = "ok"
	result.Duration = time.Since(start)
	return result
}

// CheckCache verifies the verification cache answers a ping
func (h *Checker) CheckCache(ctx context.Context, c Pinger) CheckResult {
	start := time.Now()
	result := CheckResult{Component: "cache"}

	checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := c.HealthCheck(checkCtx); err != nil {
		result.Message = fmt.Sprintf("ping failed: %v", err)
		result.Duration = time.Since(start)
		return result
	}

	result.Healthy = true
	result.Message = "ok"
	result.Duration = time.Since(start)
	return result
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
