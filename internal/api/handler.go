package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/phishguard/internal/domain"
	"github.com/opensource-finance/phishguard/internal/repository"
	"github.com/opensource-finance/phishguard/internal/rules"
	"github.com/opensource-finance/phishguard/internal/scanner"
)

// DefaultHistoryLimit is the page size of GET /scans without ?limit=.
const DefaultHistoryLimit = 20

// Handler holds dependencies for API handlers.
type Handler struct {
	svc     *scanner.Service
	repo    domain.Repository
	cache   domain.Cache
	version string
}

// NewHandler creates a new API handler.
func NewHandler(svc *scanner.Service, repo domain.Repository, cache domain.Cache, version string) *Handler {
	return &Handler{
		svc:     svc,
		repo:    repo,
		cache:   cache,
		version: version,
	}
}

// AnalyzeRequest is the request body for POST /analyze.
type AnalyzeRequest struct {
	URL string `json:"url"`
}

// AnalysisResponse is the response for POST /analyze.
type AnalysisResponse struct {
	domain.AnalysisResult
	ScanID   string         `json:"scanId"`
	Verdict  domain.Verdict `json:"verdict"`
	Message  string         `json:"message"`
	Cached   bool           `json:"cached"`
	Metadata struct {
		TraceID string `json:"traceId"`
		TotalMs int64  `json:"totalMs"`
		Version string `json:"version"`
	} `json:"metadata"`
}

// AsyncResponse is the response for POST /analyze/async.
type AsyncResponse struct {
	RequestID string `json:"requestId"`
	TraceID   string `json:"traceId"`
}

// Analyze handles POST /analyze requests.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	raw, ok := decodeURL(w, r)
	if !ok {
		return
	}

	scan, err := h.svc.Scan(ctx, GetUserID(ctx), raw)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := AnalysisResponse{
		AnalysisResult: scan.Result,
		ScanID:         scan.ID,
		Verdict:        scan.Verdict,
		Message:        scan.Verdict.Message(),
		Cached:         scan.Cached,
	}
	resp.Metadata.TraceID = GetTraceID(ctx)
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()
	resp.Metadata.Version = h.version

	writeJSON(w, http.StatusOK, resp)
}

// AnalyzeAsync handles POST /analyze/async requests. The scan is queued for
// the worker and its result arrives on the scan completed topic.
func (h *Handler) AnalyzeAsync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	raw, ok := decodeURL(w, r)
	if !ok {
		return
	}

	traceID := GetTraceID(ctx)
	requestID, err := h.svc.Request(ctx, GetUserID(ctx), raw, traceID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, AsyncResponse{
		RequestID: requestID,
		TraceID:   traceID,
	})
}

// decodeURL reads the request body and returns the trimmed URL. It writes
// the 400 response itself when the body is unusable.
func decodeURL(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return "", false
	}
	return strings.TrimSpace(req.URL), true
}

// Health returns the health status of the service.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// ListScans returns the caller's most recent scans.
func (h *Handler) ListScans(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := DefaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "limit must be a positive integer",
			})
			return
		}
		limit = n
	}

	scans, err := h.svc.History(ctx, GetUserID(ctx), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if scans == nil {
		scans = []*domain.Scan{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"scans": scans,
		"count": len(scans),
	})
}

// GetScan retrieves one of the caller's scans by ID.
func (h *Handler) GetScan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	scanID := chi.URLParam(r, "id")

	scan, err := h.svc.GetScan(ctx, GetUserID(ctx), scanID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "scan not found",
			})
			return
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, scan)
}

// Stats returns detection totals.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Reference returns a summary of the loaded reference data.
func (h *Handler) Reference(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Reference())
}

// ListRules returns the stored custom rules.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	stored, err := h.svc.ListRules(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if stored == nil {
		stored = []*domain.RuleConfig{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"rules": stored,
		"count": len(stored),
	})
}

// GetRule retrieves a stored rule by ID.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.svc.GetRule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "rule not found",
			})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// CreateRuleRequest is the request body for creating a rule.
type CreateRuleRequest struct {
	ID          string       `json:"id,omitempty"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Expression  string       `json:"expression"`
	Level       domain.Level `json:"level"`
	Deduction   int          `json:"deduction"`
	Enabled     *bool        `json:"enabled,omitempty"`
}

// CreateRule validates a rule and saves it to the database.
// After saving, call POST /rules/reload to hot-reload into the engine.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "name and expression are required",
		})
		return
	}

	rule := &domain.RuleConfig{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
		Expression:  req.Expression,
		Level:       req.Level,
		Deduction:   req.Deduction,
		Enabled:     req.Enabled == nil || *req.Enabled,
	}

	if err := h.svc.CreateRule(ctx, rule); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"rule":    rule,
		"message": "Rule created. Call POST /rules/reload to apply changes.",
	})
}

// DisableRule soft-deletes a rule and reloads the engine.
func (h *Handler) DisableRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	if err := h.svc.DisableRule(r.Context(), ruleID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "rule not found",
			})
			return
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "rule disabled",
		"id":      ruleID,
	})
}

// ReloadRules reloads all enabled rules from the database into the engine.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	count, err := h.svc.ReloadRules(r.Context())
	if err != nil {
		slog.Error("failed to reload rules", "error", err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rules reloaded successfully",
		"count":   count,
	})
}

// writeError maps service errors to HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidURL):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, rules.ErrInvalidRule), errors.Is(err, repository.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, repository.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, scanner.ErrUnavailable):
		status = http.StatusServiceUnavailable
	}

	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
		msg = "internal server error"
	}

	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
