// Package api serves the operational HTTP surface of the poller and notifier
// processes: health, breaker state and the manual run trigger.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/seatwatch/internal/circuitbreaker"
	"github.com/lalithlochan/seatwatch/internal/poller"
)

// RunTrigger starts one poll run on demand.
type RunTrigger interface {
	RunOnce(ctx context.Context, term string) (poller.Result, error)
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// RunRequest is the optional body of POST /v1/runs.
type RunRequest struct {
	Term string `json:"term"`
}

// RunResponse is returned after a manual run. Error is set when the run
// finished but some terms failed.
type RunResponse struct {
	Result poller.Result `json:"result"`
	Error  string        `json:"error,omitempty"`
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

type Handler struct {
	logger   *zap.Logger
	runner   RunTrigger // nil on the notifier
	breakers []*circuitbreaker.CircuitBreaker
	checks   map[string]HealthCheck
}

func NewHandler(logger *zap.Logger) *Handler {
	return &Handler{
		logger: logger,
		checks: map[string]HealthCheck{},
	}
}

// WithRunner enables POST /v1/runs.
func (h *Handler) WithRunner(runner RunTrigger) *Handler {
	h.runner = runner
	return h
}

func (h *Handler) WithBreakers(breakers ...*circuitbreaker.CircuitBreaker) *Handler {
	h.breakers = append(h.breakers, breakers...)
	return h
}

func (h *Handler) WithCheck(name string, check HealthCheck) *Handler {
	h.checks[name] = check
	return h
}

// TriggerRun handles POST /v1/runs. The term comes from the JSON body or the
// term query parameter; empty means every watched term. The run is detached
// from the request so a client hanging up does not truncate it.
func (h *Handler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	if h.runner == nil {
		h.writeError(w, http.StatusNotFound, "not_found", "Runs are not served by this process", "")
		return
	}

	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}
	term := strings.TrimSpace(req.Term)
	if term == "" {
		term = strings.TrimSpace(r.URL.Query().Get("term"))
	}
	if term != "" && !validTerm(term) {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid term", "term must be a 4-digit term code")
		return
	}

	res, err := h.runner.RunOnce(context.WithoutCancel(r.Context()), term)
	if errors.Is(err, poller.ErrRunInProgress) {
		h.writeError(w, http.StatusConflict, "run_in_progress", "A poll run is already in progress", "")
		return
	}
	if err != nil && res.Terms == 0 {
		h.logger.Error("manual run failed", zap.String("term", term), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "run_failed", "Poll run failed", err.Error())
		return
	}

	resp := RunResponse{Result: res}
	if err != nil {
		resp.Error = err.Error()
	}

	h.logger.Info("manual run finished",
		zap.String("term", term),
		zap.Int("sections", res.Sections),
		zap.Int("published", res.Published),
		zap.Bool("partial", err != nil),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// ListBreakers handles GET /v1/breakers
func (h *Handler) ListBreakers(w http.ResponseWriter, r *http.Request) {
	stats := make([]circuitbreaker.Stats, 0, len(h.breakers))
	for _, b := range h.breakers {
		stats = append(stats, b.Stats())
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"data":  stats,
		"count": len(stats),
	})
}

// Health handles GET /health. Each registered check gets two seconds.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	results := make(map[string]string, len(h.checks))
	healthy := true

	for name, check := range h.checks {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		err := check(ctx)
		cancel()

		if err != nil {
			healthy = false
			results[name] = err.Error()
			h.logger.Warn("health check failed", zap.String("check", name), zap.Error(err))
			continue
		}
		results[name] = "ok"
	}

	status, code := "ok", http.StatusOK
	if !healthy {
		status, code = "degraded", http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status": status,
		"checks": results,
	})
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

func validTerm(term string) bool {
	if len(term) != 4 {
		return false
	}
	for _, c := range term {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
