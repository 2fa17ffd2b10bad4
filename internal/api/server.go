// Package api exposes the HTTP interface for the pipeline.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/goacyber/scamhound/internal/metrics"
	"github.com/goacyber/scamhound/internal/pipeline"
)

// Health reports whether the classifier is running without its model
// backend.
type Health interface {
	Degraded() bool
}

// Config controls server behavior.
type Config struct {
	AuthEnabled bool
	APIKey      string
	// RequestTimeout bounds one request. Zero means 60s.
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the pipeline's stores and queues.
type Server struct {
	router   chi.Router
	store    pipeline.StateStore
	feedback pipeline.FeedbackQueue
	frontier pipeline.Frontier
	health   Health
	ids      pipeline.IDGenerator
	clock    pipeline.Clock
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	cfg Config,
	store pipeline.StateStore,
	feedback pipeline.FeedbackQueue,
	frontier pipeline.Frontier,
	health Health,
	ids pipeline.IDGenerator,
	clock pipeline.Clock,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		store:    store,
		feedback: feedback,
		frontier: frontier,
		health:   health,
		ids:      ids,
		clock:    clock,
		logger:   logger,
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(timeout))
	if cfg.AuthEnabled {
		r.Use(apiKeyMiddleware(cfg.APIKey, logger))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/targets/{identifier}", func(r chi.Router) {
			r.Get("/", s.getTarget)
			r.Get("/history", s.getTargetHistory)
			r.Post("/flag", s.flagTarget)
		})
		r.Get("/verdicts", s.listVerdicts)
		r.Get("/stats", s.getStats)
		r.Route("/feedback", func(r chi.Router) {
			r.Post("/drain", s.drainFeedback)
			r.Post("/{item_id}/resolve", s.resolveFeedback)
		})
		r.Get("/pipeline/health", s.pipelineHealth)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.store.Stats(r.Context()); err != nil {
		writeError(s.logger, w, http.StatusServiceUnavailable, "state store unavailable")
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ready"})
}

// targetIdentifier pulls the URL-encoded identifier path segment.
func targetIdentifier(r *http.Request) string {
	raw := chi.URLParam(r, "identifier")
	if decoded, err := url.PathUnescape(raw); err == nil {
		return decoded
	}
	return raw
}

func (s *Server) getTarget(w http.ResponseWriter, r *http.Request) {
	identifier := targetIdentifier(r)
	target, err := s.store.GetTarget(r.Context(), identifier)
	if errors.Is(err, pipeline.ErrNotFound) {
		writeError(s.logger, w, http.StatusNotFound, "target not found")
		return
	}
	if err != nil {
		writeError(s.logger, w, http.StatusInternalServerError, "target lookup failed")
		return
	}

	payload := map[string]any{"target": target}
	verdict, err := s.store.CurrentVerdict(r.Context(), identifier)
	switch {
	case err == nil:
		payload["verdict"] = verdict
	case errors.Is(err, pipeline.ErrNotFound):
	default:
		writeError(s.logger, w, http.StatusInternalServerError, "verdict lookup failed")
		return
	}
	writeJSON(s.logger, w, http.StatusOK, payload)
}

func (s *Server) getTargetHistory(w http.ResponseWriter, r *http.Request) {
	identifier := targetIdentifier(r)
	limit := queryInt(r, "limit", 50)

	history, err := s.store.VerdictHistory(r.Context(), identifier, limit)
	if errors.Is(err, pipeline.ErrNotFound) {
		writeError(s.logger, w, http.StatusNotFound, "no verdicts for target")
		return
	}
	if err != nil {
		writeError(s.logger, w, http.StatusInternalServerError, "history lookup failed")
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]any{
		"identifier": identifier,
		"verdicts":   history,
	})
}

func (s *Server) listVerdicts(w http.ResponseWriter, r *http.Request) {
	band := pipeline.RiskBand(r.URL.Query().Get("band"))
	switch band {
	case pipeline.BandHigh, pipeline.BandUncertain, pipeline.BandLow:
	default:
		writeError(s.logger, w, http.StatusBadRequest, "band must be high, uncertain, or low")
		return
	}
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	verdicts, err := s.store.ListByRiskBand(r.Context(), band, limit, offset)
	if err != nil {
		writeError(s.logger, w, http.StatusInternalServerError, "verdict listing failed")
		return
	}
	if verdicts == nil {
		verdicts = []pipeline.Verdict{}
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]any{
		"band":     band,
		"verdicts": verdicts,
	})
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		writeError(s.logger, w, http.StatusInternalServerError, "stats lookup failed")
		return
	}
	if pending, err := s.feedback.PendingCount(r.Context()); err == nil {
		stats.PendingFeedback = pending
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]any{
		"stats":          stats,
		"frontier_depth": s.frontier.Len(),
	})
}

type drainRequest struct {
	Limit int `json:"limit"`
}

func (s *Server) drainFeedback(w http.ResponseWriter, r *http.Request) {
	var req drainRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(s.logger, w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	items, err := s.feedback.Drain(r.Context(), req.Limit)
	if err != nil {
		writeError(s.logger, w, http.StatusInternalServerError, "feedback drain failed")
		return
	}
	if items == nil {
		items = []pipeline.FeedbackItem{}
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]any{"items": items})
}

type resolveRequest struct {
	Label pipeline.Label `json:"label"`
}

func (s *Server) resolveFeedback(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "item_id")

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(s.logger, w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if !validLabel(req.Label) {
		writeError(s.logger, w, http.StatusBadRequest, "unknown label")
		return
	}

	err := s.feedback.Resolve(r.Context(), itemID, req.Label)
	if errors.Is(err, pipeline.ErrNotFound) {
		writeError(s.logger, w, http.StatusNotFound, "feedback item not found")
		return
	}
	if err != nil {
		writeError(s.logger, w, http.StatusInternalServerError, "feedback resolve failed")
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]string{
		"item_id": itemID,
		"label":   string(req.Label),
	})
}

// flagTarget pushes a target's current verdict into the feedback queue
// for analyst review, independent of the confidence band.
func (s *Server) flagTarget(w http.ResponseWriter, r *http.Request) {
	identifier := targetIdentifier(r)
	verdict, err := s.store.CurrentVerdict(r.Context(), identifier)
	if errors.Is(err, pipeline.ErrNotFound) {
		writeError(s.logger, w, http.StatusNotFound, "no verdict for target")
		return
	}
	if err != nil {
		writeError(s.logger, w, http.StatusInternalServerError, "verdict lookup failed")
		return
	}

	itemID, err := s.ids.NewID()
	if err != nil {
		writeError(s.logger, w, http.StatusInternalServerError, "feedback id generation failed")
		return
	}
	item := pipeline.FeedbackItem{
		ID:          itemID,
		VerdictID:   verdict.ID,
		Identifier:  verdict.Identifier,
		Label:       verdict.Label,
		Probability: verdict.Probability,
		Reason:      pipeline.ReasonAnalystFlagged,
		EnqueuedAt:  s.clock.Now(),
	}
	if err := s.feedback.Enqueue(r.Context(), item); err != nil {
		writeError(s.logger, w, http.StatusInternalServerError, "feedback enqueue failed")
		return
	}
	metrics.ObserveFeedbackEnqueued(string(pipeline.ReasonAnalystFlagged))
	writeJSON(s.logger, w, http.StatusAccepted, map[string]string{
		"item_id":    item.ID,
		"verdict_id": verdict.ID,
	})
}

func (s *Server) pipelineHealth(w http.ResponseWriter, r *http.Request) {
	degraded := false
	if s.health != nil {
		degraded = s.health.Degraded()
	}
	pending := 0
	if n, err := s.feedback.PendingCount(r.Context()); err == nil {
		pending = n
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]any{
		"scorer_degraded":  degraded,
		"frontier_depth":   s.frontier.Len(),
		"pending_feedback": pending,
	})
}

func validLabel(label pipeline.Label) bool {
	for _, l := range pipeline.Labels() {
		if l == label {
			return true
		}
	}
	return false
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("panic", rec))
					writeError(logger, w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(logger, w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

func writeJSON(logger *zap.Logger, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("write JSON failed", zap.Error(err))
	}
}

func writeError(logger *zap.Logger, w http.ResponseWriter, status int, msg string) {
	writeJSON(logger, w, status, map[string]string{"error": msg})
}
