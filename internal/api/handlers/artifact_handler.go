package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/saiweb3dev/zk-circuit-pipeline/internal/api/middleware"
	"github.com/saiweb3dev/zk-circuit-pipeline/internal/artifacts"
	"github.com/saiweb3dev/zk-circuit-pipeline/internal/common/cache"
	"github.com/saiweb3dev/zk-circuit-pipeline/internal/common/health"
	"github.com/saiweb3dev/zk-circuit-pipeline/internal/zkp"
)

// ============================================================================
// HTTP Request/Response Models
// ============================================================================

// CircuitSummary describes one built circuit
type CircuitSummary struct {
	Name      string   `json:"name"`
	PotSize   int      `json:"pot_size"`
	Artifacts []string `json:"artifacts"`
}

type CircuitListResponse struct {
	Success  bool             `json:"success"`
	Circuits []CircuitSummary `json:"circuits"`
}

// VerifyRequest carries a proof in toolkit JSON form
type VerifyRequest struct {
	Proof         json.RawMessage `json:"proof"`
	PublicSignals json.RawMessage `json:"publicSignals"`
}

type VerifyResponse struct {
	Success   bool   `json:"success"`
	Circuit   string `json:"circuit"`
	Valid     bool   `json:"valid"`
	Cached    bool   `json:"cached,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type ErrorResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// ============================================================================
// ArtifactHandler
// ============================================================================

var circuitNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// ArtifactHandler serves the finished artifacts of the builder and verifies
// proofs against the built verification keys
type ArtifactHandler struct {
	locator  *artifacts.Locator
	verifier *zkp.Groth16Verifier
	checker  *health.Checker
	cache    *cache.VerificationCache
	logger   *zap.Logger
}

func NewArtifactHandler(
	locator *artifacts.Locator,
	verifier *zkp.Groth16Verifier,
	checker *health.Checker,
	logger *zap.Logger,
) *ArtifactHandler {
	return &ArtifactHandler{
		locator:  locator,
		verifier: verifier,
		checker:  checker,
		logger:   logger,
	}
}

// WithCache answers repeated verifications from c
func (h *ArtifactHandler) WithCache(c *cache.VerificationCache) *ArtifactHandler {
	h.cache = c
	return h
}

// ListCircuits returns every circuit that has a manifest
func (h *ArtifactHandler) ListCircuits(w http.ResponseWriter, r *http.Request) {
	entries, err := os.ReadDir(h.locator.ZkeyDir())
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		h.respondError(w, r, http.StatusInternalServerError, "Failed to list circuits", err)
		return
	}

	resp := CircuitListResponse{Success: true, Circuits: []CircuitSummary{}}
	for _, e := range entries {
		if !e.IsDir() || !circuitNamePattern.MatchString(e.Name()) {
			continue
		}
		m, err := artifacts.ReadManifest(h.paths(e.Name()).Manifest)
		if err != nil {
			continue
		}
		summary := CircuitSummary{Name: m.Circuit, PotSize: m.PotSize}
		for _, a := range m.Artifacts {
			summary.Artifacts = append(summary.Artifacts, a.Kind)
		}
		resp.Circuits = append(resp.Circuits, summary)
	}
	sort.Slice(resp.Circuits, func(i, j int) bool { return resp.Circuits[i].Name < resp.Circuits[j].Name })

	h.respondJSON(w, http.StatusOK, resp)
}

// GetManifest returns the manifest of one circuit
func (h *ArtifactHandler) GetManifest(w http.ResponseWriter, r *http.Request) {
	name, ok := h.circuitName(w, r)
	if !ok {
		return
	}
	m, err := artifacts.ReadManifest(h.paths(name).Manifest)
	if err != nil {
		h.respondReadError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, m)
}

// GetArtifact streams one artifact file. The manifest hash is the ETag, so
// clients can cache large keys and revalidate cheaply.
func (h *ArtifactHandler) GetArtifact(w http.ResponseWriter, r *http.Request) {
	name, ok := h.circuitName(w, r)
	if !ok {
		return
	}
	kind := mux.Vars(r)["artifact"]
	p := h.paths(name)
	path, known := p.Artifact(kind)
	if !known {
		h.respondError(w, r, http.StatusNotFound, fmt.Sprintf("Unknown artifact %q", kind), nil)
		return
	}

	f, err := os.Open(path)
	if err != nil {
		h.respondReadError(w, r, err)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		h.respondReadError(w, r, err)
		return
	}

	if m, err := artifacts.ReadManifest(p.Manifest); err == nil {
		if entry, ok := m.Entry(kind); ok {
			w.Header().Set("ETag", strconv.Quote(entry.SHA256))
		}
	}
	w.Header().Set("Content-Type", contentType(path))
	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", int(ArtifactCacheMaxAge.Seconds())))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(path)))

	http.ServeContent(w, r, filepath.Base(path), info.ModTime(), f)
}

// VerifyProof checks a proof against the circuit's verification key
func (h *ArtifactHandler) VerifyProof(w http.ResponseWriter, r *http.Request) {
	name, ok := h.circuitName(w, r)
	if !ok {
		return
	}

	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if middleware.IsBodyTooLarge(err) {
			h.respondError(w, r, http.StatusRequestEntityTooLarge, "Request body too large", err)
			return
		}
		h.respondError(w, r, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if len(req.Proof) == 0 || len(req.PublicSignals) == 0 {
		h.respondError(w, r, http.StatusBadRequest, "proof and publicSignals are required", nil)
		return
	}

	vkPath := h.paths(name).VerificationKey
	if !artifacts.Exists(vkPath) {
		h.respondError(w, r, http.StatusNotFound, "Circuit not found", nil)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), VerifyTimeout)
	defer cancel()

	cacheKey := h.cacheKey(name, vkPath, req)
	if cacheKey != "" {
		if entry, found, _ := h.cache.Get(ctx, cacheKey); found {
			h.respondJSON(w, http.StatusOK, VerifyResponse{
				Success:   true,
				Circuit:   name,
				Valid:     entry.Valid,
				Cached:    true,
				RequestID: middleware.GetRequestID(r.Context()),
			})
			return
		}
	}

	type outcome struct {
		valid bool
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		valid, err := h.verifier.VerifyWithKeyFile(vkPath, req.Proof, req.PublicSignals)
		done <- outcome{valid: valid, err: err}
	}()

	var res outcome
	select {
	case res = <-done:
	case <-ctx.Done():
		h.respondError(w, r, http.StatusServiceUnavailable, "Verification timed out", ctx.Err())
		return
	}

	if res.err != nil {
		if errors.Is(res.err, zkp.ErrMalformed) {
			h.respondError(w, r, http.StatusBadRequest, "Malformed proof", res.err)
			return
		}
		h.respondError(w, r, http.StatusInternalServerError, "Verification failed", res.err)
		return
	}

	if cacheKey != "" {
		_ = h.cache.Set(ctx, cacheKey, res.valid)
	}

	middleware.GetLogger(r.Context(), h.logger).Info("Proof verified",
		zap.String("circuit", name),
		zap.Bool("valid", res.valid),
	)
	h.respondJSON(w, http.StatusOK, VerifyResponse{
		Success:   true,
		Circuit:   name,
		Valid:     res.valid,
		RequestID: middleware.GetRequestID(r.Context()),
	})
}

// HealthCheck reports liveness
func (h *ArtifactHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "artifact-server"})
}

// Ready reports whether the key directory can be served
func (h *ArtifactHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), ReadyCheckTimeout)
	defer cancel()

	status := h.checker.CheckAll(ctx, h.ReadyTargets())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	h.respondJSON(w, code, status)
}

// ReadyTargets lists what must be healthy before artifacts are served
func (h *ArtifactHandler) ReadyTargets() health.Targets {
	t := health.Targets{
		ReadableDirs: map[string]string{"zkey": h.locator.ZkeyDir()},
	}
	if h.cache.Enabled() {
		t.Cache = h.cache
	}
	return t
}

// ============================================================================
// Helper Methods
// ============================================================================

func (h *ArtifactHandler) paths(name string) artifacts.Paths {
	return h.locator.Circuit(artifacts.CircuitSpec{Name: name})
}

// cacheKey returns "" when the cache is off or the key cannot be hashed
func (h *ArtifactHandler) cacheKey(name, vkPath string, req VerifyRequest) string {
	if !h.cache.Enabled() {
		return ""
	}
	vkHash, _, err := artifacts.FileHash(vkPath)
	if err != nil {
		return ""
	}
	return cache.Key(name, vkHash, req.Proof, req.PublicSignals)
}

func (h *ArtifactHandler) circuitName(w http.ResponseWriter, r *http.Request) (string, bool) {
	name := mux.Vars(r)["name"]
	if !circuitNamePattern.MatchString(name) || name == "." || name == ".." {
		h.respondError(w, r, http.StatusBadRequest, "Invalid circuit name", nil)
		return "", false
	}
	return name, true
}

func (h *ArtifactHandler) respondReadError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, os.ErrNotExist) {
		h.respondError(w, r, http.StatusNotFound, "Artifact not found", nil)
		return
	}
	h.respondError(w, r, http.StatusInternalServerError, "Failed to read artifact", err)
}

func (h *ArtifactHandler) respondJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}

func (h *ArtifactHandler) respondError(
	w http.ResponseWriter,
	r *http.Request,
	statusCode int,
	message string,
	err error,
) {
	requestID := middleware.GetRequestID(r.Context())
	logger := middleware.GetLogger(r.Context(), h.logger)
	if statusCode >= http.StatusInternalServerError {
		logger.Error(message, zap.Error(err), zap.Int("status_code", statusCode))
	} else {
		logger.Debug(message, zap.Error(err), zap.Int("status_code", statusCode))
	}

	h.respondJSON(w, statusCode, ErrorResponse{
		Success:   false,
		Error:     message,
		RequestID: requestID,
	})
}

func contentType(path string) string {
	switch filepath.Ext(path) {
	case ".wasm":
		return "application/wasm"
	case ".json":
		return "application/json"
	case ".sol":
		return "text/plain; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}
