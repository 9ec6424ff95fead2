package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/felipepmaragno/sqlassist/internal/assistant"
	"github.com/felipepmaragno/sqlassist/internal/domain"
	"github.com/felipepmaragno/sqlassist/internal/metrics"
	"github.com/felipepmaragno/sqlassist/internal/ratelimit"
	"github.com/felipepmaragno/sqlassist/internal/telemetry"
)

const SessionHeader = "X-Session-ID"

// Defaults fill the generation parameters a request leaves out.
type Defaults struct {
	Model              string
	Temperature        float64
	MaxTokens          int
	CertaintyThreshold float64
}

type HandlerConfig struct {
	Assistant *assistant.Service
	Defaults  Defaults

	// RateLimiter caps generation requests per session; nil or a zero
	// RateLimitRPM disables it.
	RateLimiter  ratelimit.RateLimiter
	RateLimitRPM int

	Checks        []ReadinessCheck
	HealthTimeout time.Duration
	Version       string
}

type Handler struct {
	assistant    *assistant.Service
	defaults     Defaults
	rateLimiter  ratelimit.RateLimiter
	rateLimitRPM int
	version      string
	mux          *http.ServeMux
}

func NewHandler(cfg HandlerConfig) *Handler {
	timeout := cfg.HealthTimeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	h := &Handler{
		assistant:    cfg.Assistant,
		defaults:     cfg.Defaults,
		rateLimiter:  cfg.RateLimiter,
		rateLimitRPM: cfg.RateLimitRPM,
		version:      version,
		mux:          http.NewServeMux(),
	}

	h.mux.HandleFunc("POST /crud", h.handleCRUD)
	h.mux.HandleFunc("POST /execute", h.handleExecute)
	h.mux.HandleFunc("POST /build_team", h.handleBuildTeam)
	h.mux.HandleFunc("POST /confirm", h.handleConfirm)
	h.mux.HandleFunc("POST /deny", h.handleDeny)
	h.mux.HandleFunc("POST /regenerate", h.handleRegenerate)
	h.mux.HandleFunc("GET /session", h.handleGetSession)
	h.mux.HandleFunc("POST /session/reset", h.handleResetSession)
	h.mux.HandleFunc("PUT /session/budget", h.handleSetBudget)
	h.mux.HandleFunc("GET /schema", h.handleSchema)
	h.mux.HandleFunc("GET /health/live", h.handleHealthLive)
	h.mux.Handle("GET /health/ready", handleHealthReady(cfg.Checks, timeout, version))
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("X-Request-ID") == "" {
		r.Header.Set("X-Request-ID", uuid.New().String())
	}
	w.Header().Set("X-Request-ID", r.Header.Get("X-Request-ID"))

	ctx, span := telemetry.StartSpan(r.Context(), r.Method+" "+r.URL.Path)
	defer span.End()
	if traceID := telemetry.TraceID(ctx); traceID != "" {
		w.Header().Set("X-Trace-ID", traceID)
	}

	h.mux.ServeHTTP(w, r.WithContext(ctx))
}

type crudRequest struct {
	Message            string   `json:"message"`
	Model              string   `json:"model"`
	Temperature        *float64 `json:"temperature"`
	MaxTokens          *int     `json:"max_tokens"`
	CertaintyThreshold *float64 `json:"certainty_threshold"`
	APIKey             string   `json:"api_key"`
}

func (h *Handler) generationRequest(body crudRequest) domain.GenerationRequest {
	req := domain.GenerationRequest{
		Text:               body.Message,
		Model:              body.Model,
		Temperature:        h.defaults.Temperature,
		MaxTokens:          h.defaults.MaxTokens,
		CertaintyThreshold: h.defaults.CertaintyThreshold,
		APIKey:             body.APIKey,
	}
	if req.Model == "" {
		req.Model = h.defaults.Model
	}
	if body.Temperature != nil {
		req.Temperature = *body.Temperature
	}
	if body.MaxTokens != nil {
		req.MaxTokens = *body.MaxTokens
	}
	if body.CertaintyThreshold != nil {
		req.CertaintyThreshold = *body.CertaintyThreshold
	}
	return req
}

func (h *Handler) handleCRUD(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()
	sessionID := h.sessionID(w, r)

	var body crudRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !h.allow(w, r, sessionID) {
		return
	}

	answer, err := h.assistant.Ask(ctx, sessionID, h.generationRequest(body))
	if err != nil {
		h.fail(w, r, sessionID, err)
		return
	}

	slog.Info("crud completed",
		"request_id", requestID(r),
		"session_id", sessionID,
		"model", answer.Generation.Model,
		"latency_ms", time.Since(start).Milliseconds(),
	)

	writeJSON(w, http.StatusOK, newAnswerResponse(answer))
}

type executeRequest struct {
	GeneratedQuery string `json:"generated_query"`
	Confirm        bool   `json:"confirm"`
}

func (h *Handler) handleExecute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := r.Header.Get(SessionHeader)

	var body executeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.assistant.Execute(ctx, sessionID, body.GeneratedQuery, body.Confirm)
	if err != nil {
		h.fail(w, r, sessionID, err)
		return
	}

	writeBatch(w, result)
}

type teamRequest struct {
	Description        string   `json:"description"`
	Model              string   `json:"model"`
	Temperature        *float64 `json:"temperature"`
	CertaintyThreshold *float64 `json:"certainty_threshold"`
	APIKey             string   `json:"api_key"`
}

func (h *Handler) handleBuildTeam(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()
	sessionID := h.sessionID(w, r)

	var body teamRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !h.allow(w, r, sessionID) {
		return
	}

	req := domain.TeamRequest{
		Description:        body.Description,
		Model:              body.Model,
		Temperature:        h.defaults.Temperature,
		CertaintyThreshold: h.defaults.CertaintyThreshold,
		APIKey:             body.APIKey,
	}
	if req.Model == "" {
		req.Model = h.defaults.Model
	}
	if body.Temperature != nil {
		req.Temperature = *body.Temperature
	}
	if body.CertaintyThreshold != nil {
		req.CertaintyThreshold = *body.CertaintyThreshold
	}

	answer, err := h.assistant.BuildTeam(ctx, sessionID, req)
	if err != nil {
		h.fail(w, r, sessionID, err)
		return
	}

	slog.Info("team built",
		"request_id", requestID(r),
		"session_id", sessionID,
		"model", answer.Result.Model,
		"latency_ms", time.Since(start).Milliseconds(),
	)

	writeJSON(w, http.StatusOK, newTeamResponse(answer))
}

func (h *Handler) handleSchema(w http.ResponseWriter, r *http.Request) {
	schema, err := h.assistant.Schema(r.Context())
	if err != nil {
		h.fail(w, r, "", err)
		return
	}
	writeJSON(w, http.StatusOK, schema)
}

func (h *Handler) handleHealthLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// sessionID returns the caller's session, minting one when the header is
// absent. The id is always echoed back.
func (h *Handler) sessionID(w http.ResponseWriter, r *http.Request) string {
	id := r.Header.Get(SessionHeader)
	if id == "" {
		id = uuid.New().String()
	}
	w.Header().Set(SessionHeader, id)
	return id
}

// allow applies the per-session generation limit and writes the rejection
// itself when the request may not proceed.
func (h *Handler) allow(w http.ResponseWriter, r *http.Request, sessionID string) bool {
	if h.rateLimiter == nil || h.rateLimitRPM <= 0 {
		return true
	}

	d, err := h.rateLimiter.Allow(r.Context(), sessionID, h.rateLimitRPM)
	if err != nil {
		slog.Error("rate limiter error", "error", err, "request_id", requestID(r))
		writeTypedError(w, http.StatusInternalServerError, "internal_error", "internal error")
		return false
	}

	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(h.rateLimitRPM))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	w.Header().Set("X-RateLimit-Reset", d.ResetAt.Format(time.RFC3339))

	if !d.Allowed {
		metrics.RecordRateLimited()
		h.fail(w, r, sessionID, domain.ErrRateLimited)
		return false
	}
	return true
}

func requestID(r *http.Request) string {
	return r.Header.Get("X-Request-ID")
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, sessionID string, err error) {
	status, kind := classify(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "request_id", requestID(r), "session_id", sessionID, "path", r.URL.Path, "error", err)
	} else {
		slog.Warn("request rejected", "request_id", requestID(r), "session_id", sessionID, "path", r.URL.Path, "error", err)
	}
	writeTypedError(w, status, kind, err.Error())
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, domain.ErrInvalidQuery):
		return http.StatusBadRequest, "invalid_query"
	case errors.Is(err, domain.ErrMissingCredential):
		return http.StatusBadRequest, "missing_credential"
	case errors.Is(err, domain.ErrNoPendingQuery):
		return http.StatusConflict, "no_pending_query"
	case errors.Is(err, domain.ErrBudgetExceeded):
		return http.StatusPaymentRequired, "budget_exceeded"
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited"
	case errors.Is(err, domain.ErrProviderUnavailable):
		return http.StatusServiceUnavailable, "provider_unavailable"
	case errors.Is(err, domain.ErrGenerationFailed):
		return http.StatusInternalServerError, "generation_failed"
	case errors.Is(err, domain.ErrFetchFailed):
		return http.StatusInternalServerError, "fetch_failed"
	case errors.Is(err, domain.ErrExecutionFailed):
		return http.StatusInternalServerError, "execution_failed"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeTypedError(w, status, "invalid_request", message)
}

func writeTypedError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"type":    kind,
			"code":    status,
		},
	})
}
