// Package api exposes the HTTP and WebSocket interface for the service.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/leadflowhq/leadstream/internal/auth"
	"github.com/leadflowhq/leadstream/internal/config"
	"github.com/leadflowhq/leadstream/internal/ratelimit"
	"github.com/leadflowhq/leadstream/internal/realtime"
	"github.com/leadflowhq/leadstream/internal/scheduler"
	"github.com/leadflowhq/leadstream/internal/telemetry"
	"github.com/leadflowhq/leadstream/internal/validate"
)

// Clock supplies the current time for handlers.
type Clock interface {
	Now() time.Time
}

// Server wires HTTP handlers to the credential, realtime, and scheduler
// layers.
type Server struct {
	router   chi.Router
	gate     *auth.Gate
	creds    *auth.Service
	limiter  *ratelimit.Limiter
	runner   *scheduler.Runner
	registry *realtime.Registry
	bridge   *realtime.Bridge
	jobs     *realtime.JobStore
	clock    Clock
	cfg      config.Config
	logger   *zap.Logger
}

// Deps bundles the collaborators a Server needs.
type Deps struct {
	Gate     *auth.Gate
	Creds    *auth.Service
	Limiter  *ratelimit.Limiter
	Runner   *scheduler.Runner
	Registry *realtime.Registry
	Bridge   *realtime.Bridge
	Jobs     *realtime.JobStore
	Clock    Clock
	Logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(cfg config.Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		gate:     deps.Gate,
		creds:    deps.Creds,
		limiter:  deps.Limiter,
		runner:   deps.Runner,
		registry: deps.Registry,
		bridge:   deps.Bridge,
		jobs:     deps.Jobs,
		clock:    deps.Clock,
		cfg:      cfg,
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(securityHeadersMiddleware)
	if cfg.Server.Production {
		r.Use(requireHTTPSMiddleware)
	}
	if cfg.Server.MaxRequestBytes > 0 {
		r.Use(maxBytesMiddleware(cfg.Server.MaxRequestBytes))
	}
	r.Use(metricsMiddleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// The websocket routes skip the timeout handler; connections are
	// long-lived by design.
	r.Route("/ws", func(r chi.Router) {
		r.Get("/jobs/{job_id}", s.wsJob)
		r.Get("/notifications", s.wsNotifications)
		r.Get("/health", s.wsHealth)
	})

	r.Group(func(r chi.Router) {
		r.Use(timeoutMiddleware(cfg.RequestTimeoutDuration()))
		r.Route("/v1", func(r chi.Router) {
			r.Route("/auth", func(r chi.Router) {
				r.Post("/login", s.login)
				r.Get("/me", s.me)
				r.Route("/api-keys", func(r chi.Router) {
					r.Post("/", s.createKey)
					r.Get("/", s.listKeys)
					r.Delete("/{key_id}", s.revokeKey)
					r.Put("/{key_id}", s.renameKey)
				})
			})
			r.Route("/scheduler", func(r chi.Router) {
				r.Get("/status", s.schedulerStatus)
				r.Get("/health", s.schedulerHealth)
				r.Post("/start", s.schedulerStart)
				r.Post("/stop", s.schedulerStop)
				r.Get("/jobs", s.schedulerJobs)
				r.Delete("/jobs/{job_id}", s.schedulerRemoveJob)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// identify resolves the caller or writes the mapped error response. The
// boolean reports whether the request may proceed.
func (s *Server) identify(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	identity, err := s.gate.Resolve(r)
	if err != nil {
		s.writeAuthError(w, err)
		return auth.Identity{}, false
	}
	return identity, true
}

func (s *Server) writeAuthError(w http.ResponseWriter, err error) {
	var rle *auth.RateLimitError
	switch {
	case errors.As(err, &rle):
		writeRateLimited(w, rle.RetryAfter)
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case auth.IsAuthError(err):
		writeError(w, http.StatusUnauthorized, err.Error())
	default:
		s.logger.Error("identity resolution failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// writeServiceError maps credential service errors onto HTTP statuses with
// sanitized messages.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	var verr *validate.Error
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Error())
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, http.StatusForbidden, "not authorized")
	case errors.Is(err, auth.ErrQuotaExceeded):
		writeError(w, http.StatusConflict, auth.ErrQuotaExceeded.Error())
	default:
		s.logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := contextWithRequestID(r.Context(), reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.String("request_id", requestIDFrom(r)),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered",
					zap.Any("panic", rec),
					zap.String("path", r.URL.Path),
				)
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-XSS-Protection", "1; mode=block")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Content-Security-Policy", "default-src 'self'")
		next.ServeHTTP(w, r)
	})
}

func requireHTTPSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.TLS == nil && r.Header.Get("X-Forwarded-Proto") != "https" {
			writeError(w, http.StatusUpgradeRequired, "https required")
			return
		}
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		next.ServeHTTP(w, r)
	})
}

func maxBytesMiddleware(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		telemetry.ObserveHTTPRequest(r.Method, route, ww.status, time.Since(start))
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack delegates to the underlying writer so websocket upgrades work
// through the middleware chain.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hj.Hijack()
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		secs := int(retryAfter.Round(time.Second).Seconds())
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	writeJSON(w, http.StatusTooManyRequests, map[string]string{"detail": "Rate limit exceeded"})
}

func contextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func requestIDFrom(r *http.Request) string {
	id, _ := r.Context().Value(requestIDKey{}).(string)
	return id
}
