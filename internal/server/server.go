package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/yggdrasil-ai/yggdrasil/internal/auth"
	"github.com/yggdrasil-ai/yggdrasil/internal/pipeline"
	"github.com/yggdrasil-ai/yggdrasil/internal/ratelimit"
	"github.com/yggdrasil-ai/yggdrasil/internal/watcher"
)

// queryRateLimitRule bounds query volume per client IP. A nil *ratelimit.Limiter
// (no REDIS_URL configured) makes this a no-op.
var queryRateLimitRule = ratelimit.Rule{Prefix: "query", Limit: 60, Window: time.Minute}

// Server is the yggdrasil HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler, for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Handlers returns the underlying Handlers.
func (s *Server) Handlers() *Handlers {
	return s.handlers
}

// ServerConfig holds all dependencies and configuration for creating a Server.
type ServerConfig struct {
	Pipeline        *pipeline.Service
	Watcher         *watcher.Daemon // optional; nil disables /yggdrasil/watcher/*
	JWTMgr          *auth.JWTManager
	AdminAPIKeyHash string
	Logger          *slog.Logger

	// MCPServer mounts the Model Context Protocol StreamableHTTP transport at
	// /mcp. Optional; nil omits the route entirely.
	MCPServer *mcpserver.MCPServer

	// RateLimiter gates /yggdrasil/query* by client IP. Optional; nil (no
	// REDIS_URL configured) disables rate limiting entirely.
	RateLimiter *ratelimit.Limiter

	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
	CORSAllowedOrigins  []string

	// ExtraRoutes register additional handlers on the mux after every
	// built-in route, for embedders of the root yggdrasil package.
	ExtraRoutes []func(*http.ServeMux)
	// Middlewares wrap the root handler outermost, in registration order
	// (first registered = outermost), for embedders of the root yggdrasil
	// package.
	Middlewares []func(http.Handler) http.Handler
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		Pipeline:            cfg.Pipeline,
		Watcher:             cfg.Watcher,
		JWTMgr:              cfg.JWTMgr,
		AdminAPIKeyHash:     cfg.AdminAPIKeyHash,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	mux := http.NewServeMux()

	mux.Handle("POST /auth/token", http.HandlerFunc(h.HandleAuthToken))

	mux.Handle("POST /yggdrasil/query", rateLimitMiddleware(cfg.RateLimiter, queryRateLimitRule, http.HandlerFunc(h.HandleQuery)))
	mux.Handle("POST /yggdrasil/query/thinking", rateLimitMiddleware(cfg.RateLimiter, queryRateLimitRule, http.HandlerFunc(h.HandleQueryThinking)))
	mux.Handle("POST /yggdrasil/query/stream", rateLimitMiddleware(cfg.RateLimiter, queryRateLimitRule, http.HandlerFunc(h.HandleQueryStream)))
	mux.Handle("GET /yggdrasil/watcher/stats", http.HandlerFunc(h.HandleWatcherStats))
	mux.Handle("GET /yggdrasil/watcher/alerts", http.HandlerFunc(h.HandleWatcherAlerts))

	mux.HandleFunc("POST /yggdrasil/health", h.HandleHealth)

	if cfg.MCPServer != nil {
		mux.Handle("/mcp", mcpserver.NewStreamableHTTPServer(cfg.MCPServer))
	}

	for _, reg := range cfg.ExtraRoutes {
		reg(mux)
	}

	// Middleware chain (outermost executes first):
	// request ID -> security headers -> CORS -> tracing -> logging -> auth -> recovery -> handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.JWTMgr, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = corsMiddleware(cfg.CORSAllowedOrigins, handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)
	for i := len(cfg.Middlewares) - 1; i >= 0; i-- {
		handler = cfg.Middlewares[i](handler)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  2 * cfg.ReadTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
