package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opensource-finance/arbiter/internal/domain"
	"github.com/opensource-finance/arbiter/internal/mcp"
	"github.com/opensource-finance/arbiter/internal/metrics"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// Option configures optional server components.
type Option func(*serverOptions)

type serverOptions struct {
	metrics     *metrics.Collector
	metricsPath string
	mcp         *mcp.Server
}

// WithMetrics records request metrics and serves the registry at path.
func WithMetrics(c *metrics.Collector, path string) Option {
	return func(o *serverOptions) {
		o.metrics = c
		o.metricsPath = path
	}
}

// WithMCP mounts the MCP tool server at /mcp.
func WithMCP(s *mcp.Server) Option {
	return func(o *serverOptions) { o.mcp = s }
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, handler *Handler, opts ...Option) *Server {
	var o serverOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics != nil {
		handler.metrics = o.metrics
	}

	router := chi.NewRouter()

	router.Use(CORSMiddleware)
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware(o.metrics))
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	if o.metrics != nil {
		path := o.metricsPath
		if path == "" {
			path = "/metrics"
		}
		router.Method(http.MethodGet, path, o.metrics.Handler())
	}

	router.Route("/rules", func(r chi.Router) {
		r.Get("/", handler.ListRules)
		r.Post("/", handler.CreateRule)
		r.Post("/import", handler.ImportRules)
		r.Get("/export", handler.ExportRules)
		r.Post("/reload", handler.ReloadRules)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", handler.GetRule)
			r.Put("/", handler.UpdateRule)
			r.Delete("/", handler.DeleteRule)
			r.Patch("/status", handler.UpdateRuleStatus)
			r.Get("/requirements", handler.GetRuleRequirements)
			r.Get("/evaluations", handler.ListRuleEvaluations)
		})
	})
	router.Get("/categories", handler.ListCategories)

	router.Post("/evaluate", handler.Evaluate)
	router.Get("/evaluations/{id}", handler.GetEvaluation)

	router.Post("/decide", handler.Decide)
	router.Get("/decisions/{id}", handler.GetDecision)

	if o.mcp != nil {
		router.Handle("/mcp", o.mcp)
	}

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server. It returns http.ErrServerClosed after
// Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
