// Package web exposes the job registry over HTTP.
package web

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/CZERTAINLY/jobcast/internal/log"
	"github.com/CZERTAINLY/jobcast/internal/service"
)

// DefaultKeepAlive is the interval of SSE comments keeping idle streams open.
const DefaultKeepAlive = 15 * time.Second

type Server struct {
	reg       *service.Registry
	token     string
	keepAlive time.Duration
	metrics   http.Handler
}

type Option func(*Server)

// WithToken enables the bearer token gate on /api/v1.
func WithToken(token string) Option {
	return func(s *Server) {
		s.token = token
	}
}

func WithKeepAlive(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.keepAlive = d
		}
	}
}

// WithMetrics replaces the default Prometheus handler.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) {
		if h != nil {
			s.metrics = h
		}
	}
}

func NewServer(reg *service.Registry, opts ...Option) *Server {
	s := &Server{
		reg:       reg,
		keepAlive: DefaultKeepAlive,
		metrics:   promhttp.Handler(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routes. There is no request timeout middleware, event
// streams are open as long as the job runs.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLog)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Method(http.MethodGet, "/metrics", s.metrics)

	r.Route("/api/v1", func(r chi.Router) {
		if s.token != "" {
			r.Use(bearer(s.token))
		}
		r.Get("/jobs", s.list)
		r.Post("/jobs/{type}", s.launch)
		r.Get("/jobs/{type}", s.status)
		r.Delete("/jobs/{type}", s.cancel)
		r.Get("/jobs/{type}/events", s.events)
	})
	return r
}

func requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := log.ContextAttrs(r.Context(), slog.String("request_id", middleware.GetReqID(r.Context())))
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))
		slog.DebugContext(ctx, "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
		)
	})
}
