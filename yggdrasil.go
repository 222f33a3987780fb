// Package yggdrasil embeds the validation pipeline, knowledge ledger, watcher
// daemon, and HTTP/MCP surface as a library, for hosts that want to run
// YGGDRASIL in-process rather than as the standalone cmd/yggdrasil binary.
package yggdrasil

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"

	"github.com/yggdrasil-ai/yggdrasil/internal/adapter"
	"github.com/yggdrasil-ai/yggdrasil/internal/auth"
	"github.com/yggdrasil-ai/yggdrasil/internal/branches"
	"github.com/yggdrasil-ai/yggdrasil/internal/config"
	"github.com/yggdrasil-ai/yggdrasil/internal/domain"
	"github.com/yggdrasil-ai/yggdrasil/internal/ledger"
	"github.com/yggdrasil-ai/yggdrasil/internal/mcp"
	"github.com/yggdrasil-ai/yggdrasil/internal/migrate"
	"github.com/yggdrasil-ai/yggdrasil/internal/pipeline"
	"github.com/yggdrasil-ai/yggdrasil/internal/ratelimit"
	"github.com/yggdrasil-ai/yggdrasil/internal/server"
	"github.com/yggdrasil-ai/yggdrasil/internal/sources"
	"github.com/yggdrasil-ai/yggdrasil/internal/watcher"
	"github.com/yggdrasil-ai/yggdrasil/migrations"
)

// App wires every YGGDRASIL component into a single embeddable unit. Build
// one with New, then call Run to serve until the context is cancelled.
type App struct {
	pipeline *pipeline.Service
	ledger   *ledger.Ledger
	watcher  *watcher.Daemon
	server   *server.Server
	pool     *pgxpool.Pool
	limiter  *ratelimit.Limiter
	logger   *slog.Logger
	hooks    []EventHook

	alertMu     sync.Mutex
	knownAlerts map[string]struct{}
}

// New builds an App from configuration loaded via internal/config, applying
// any With* overrides on top. The database connection is established
// eagerly; New returns an error if it cannot be reached.
func New(opts ...Option) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("yggdrasil: load config: %w", err)
	}

	resolved := &resolvedOptions{
		port:               cfg.Port,
		databaseURL:        cfg.DatabaseURL,
		jwtSecret:          cfg.JWTSecret,
		adminAPIKey:        cfg.AdminAPIKey,
		logger:             slog.New(slog.NewJSONHandler(os.Stdout, nil)),
		version:            "dev",
		corsAllowedOrigins: cfg.CORSAllowedOrigins,
	}
	for _, opt := range opts {
		opt(resolved)
	}
	logger := resolved.logger

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, resolved.databaseURL)
	if err != nil {
		return nil, fmt.Errorf("yggdrasil: database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("yggdrasil: database: ping: %w", err)
	}
	if err := migrate.Run(ctx, pool, migrations.FS); err != nil {
		pool.Close()
		return nil, fmt.Errorf("yggdrasil: database: migrate: %w", err)
	}

	store := ledger.NewPostgresStore(pool)
	led := ledger.New(store, logger)

	registry := newRegistry(cfg, resolved)

	arxiv := sources.NewArxivLookup("")
	pubmed := sources.NewPubMedLookup()
	aggregate := sources.NewAggregateLookup(arxiv, pubmed, volvaTrustScore)
	webSearch := sources.NewWebSearchLookup(cfg.WebSearchEndpoint, cfg.WebSearchAPIKey)

	var mimirLookup branches.SourceLookup = aggregate
	var volvaLookup branches.SourceLookup = sources.NewVolvaLookup(aggregate)
	if resolved.webLookup != nil {
		// The override feeds MIMIR/VOLVA candidate resolution only; HUGIN and
		// the watcher daemon need raw page content for disinformation
		// filtering, which the public WebLookup shape does not carry, so
		// they keep the auto-configured web search.
		mimirLookup = webLookupAdapter{resolved.webLookup}
		volvaLookup = webLookupAdapter{resolved.webLookup}
	}

	branchHandlers := &pipeline.BranchHandlers{
		Mimir: branches.NewMimirHandler(mimirLookup),
		Volva: branches.NewVolvaHandler(volvaLookup),
		Hugin: branches.NewHuginHandler(webSearch),
	}

	pipe := pipeline.New(branchHandlers, registry, led, logger, cfg.PipelineDeadline)

	watcherDaemon := watcher.New(led, sources.NewWatcherSearcher(webSearch), logger)

	jwtMgr, err := auth.NewJWTManager(resolved.jwtSecret, cfg.JWTExpiration)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("yggdrasil: auth: %w", err)
	}
	adminKeyHash, err := auth.HashAPIKey(resolved.adminAPIKey)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("yggdrasil: auth: hash admin key: %w", err)
	}

	mcpSrv := mcp.New(pipe, led, store, logger, resolved.version)

	limiter := newRateLimiter(cfg, logger)

	extraRoutes := make([]func(*http.ServeMux), 0, len(resolved.routeRegistrars))
	for _, reg := range resolved.routeRegistrars {
		extraRoutes = append(extraRoutes, func(mux *http.ServeMux) { reg(mux) })
	}
	middlewares := make([]func(http.Handler) http.Handler, 0, len(resolved.middlewares))
	for _, mw := range resolved.middlewares {
		middlewares = append(middlewares, func(h http.Handler) http.Handler { return mw(h) })
	}

	srv := server.New(server.ServerConfig{
		Pipeline:            pipe,
		Watcher:             watcherDaemon,
		JWTMgr:              jwtMgr,
		AdminAPIKeyHash:     adminKeyHash,
		Logger:              logger,
		Port:                resolved.port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		MCPServer:           mcpSrv.MCPServer(),
		RateLimiter:         limiter,
		Version:             resolved.version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		CORSAllowedOrigins:  resolved.corsAllowedOrigins,
		ExtraRoutes:         extraRoutes,
		Middlewares:         middlewares,
	})

	return &App{
		pipeline:    pipe,
		ledger:      led,
		watcher:     watcherDaemon,
		server:      srv,
		pool:        pool,
		limiter:     limiter,
		logger:      logger,
		hooks:       resolved.eventHooks,
		knownAlerts: make(map[string]struct{}),
	}, nil
}

// Run starts the watcher daemon and the HTTP/MCP server and blocks until ctx
// is cancelled or the server fails. It always closes the database pool and
// rate limiter before returning.
func (a *App) Run(ctx context.Context) error {
	defer a.pool.Close()
	defer func() { _ = a.limiter.Close() }()

	go a.watcher.Run(ctx)
	if len(a.hooks) > 0 {
		go a.pollAlerts(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := a.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	a.logger.Info("yggdrasil app shutting down")
	return a.Shutdown(context.Background())
}

// Shutdown gracefully stops the HTTP server. It does not close the database
// pool — Run does that on return — so Shutdown may be called independently
// of Run for tests that drive the server directly.
func (a *App) Shutdown(ctx context.Context) error {
	return a.server.Shutdown(ctx)
}

// Query runs one statement through the validation pipeline directly,
// bypassing HTTP/MCP, and fires OnQueryProcessed on every registered
// EventHook. Intended for hosts that embed YGGDRASIL as a library function
// rather than a network service.
func (a *App) Query(ctx context.Context, query string, requireMimirAnchor bool) (QueryResult, error) {
	resp, err := a.pipeline.Process(ctx, pipeline.Request{Query: query, RequireMimirAnchor: requireMimirAnchor})
	if err != nil {
		return QueryResult{}, err
	}
	result := toPublicQueryResult(resp)
	a.fireQueryProcessed(ctx, result)
	return result, nil
}

func (a *App) fireQueryProcessed(ctx context.Context, result QueryResult) {
	for _, hook := range a.hooks {
		hook := hook
		go func() {
			if err := hook.OnQueryProcessed(ctx, result); err != nil {
				a.logger.Warn("event hook failed", "hook", "OnQueryProcessed", "error", err)
			}
		}()
	}
}

// pollAlerts periodically drains the watcher's alert buffer and fires
// OnAlertRaised for every alert not yet delivered to the registered hooks.
func (a *App) pollAlerts(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.deliverNewAlerts(ctx)
		}
	}
}

func (a *App) deliverNewAlerts(ctx context.Context) {
	a.alertMu.Lock()
	defer a.alertMu.Unlock()
	for _, alert := range a.watcher.Alerts() {
		key := alert.ID.String()
		if _, seen := a.knownAlerts[key]; seen {
			continue
		}
		a.knownAlerts[key] = struct{}{}
		public := toPublicAlert(alert)
		for _, hook := range a.hooks {
			hook := hook
			go func() {
				if err := hook.OnAlertRaised(ctx, public); err != nil {
					a.logger.Warn("event hook failed", "hook", "OnAlertRaised", "error", err)
				}
			}()
		}
	}
}

// volvaTrustScore is the moderate trust score VOLVA's evidence view carries,
// below MinMimirTrustScore (100) but above HUGIN's unanchored web results.
const volvaTrustScore = 70

const (
	groqEndpoint   = "https://api.groq.com/openai/v1/chat/completions"
	geminiEndpoint = "https://generativelanguage.googleapis.com/v1beta/models"
)

// newRegistry builds the council's adapter registry from config, Groq-backed
// by default, then applies any per-member WithModelAdapter overrides.
func newRegistry(cfg config.Config, resolved *resolvedOptions) *adapter.Registry {
	registry := adapter.NewRegistry(adapter.RegistryConfig{
		Kvasir: adapter.Config{Endpoint: groqEndpoint, APIKey: cfg.GroqAPIKey, ModelID: "llama-3.3-70b-versatile"},
		Bragi:  adapter.Config{Endpoint: groqEndpoint, APIKey: cfg.GroqAPIKey, ModelID: "llama-3.1-8b-instant"},
		Nornes: adapter.Config{Endpoint: groqEndpoint, APIKey: cfg.GroqAPIKey, ModelID: "mixtral-8x7b-32768"},
		Saga:   adapter.Config{Endpoint: groqEndpoint, APIKey: cfg.GroqAPIKey, ModelID: "gemma2-9b-it"},
		Loki:   adapter.Config{Endpoint: groqEndpoint, APIKey: cfg.GroqAPIKey, ModelID: "llama-3.3-70b-specdec"},
		Tyr:    adapter.Config{Endpoint: groqEndpoint, APIKey: cfg.GroqAPIKey, ModelID: "qwen-2.5-32b"},
	})
	registry.WithGemini(adapter.MemberSyn, adapter.Config{
		Endpoint: geminiEndpoint,
		APIKey:   cfg.GeminiAPIKey,
		ModelID:  "gemini-1.5-flash",
	})
	for member, ma := range resolved.modelAdapters {
		registry.Set(member, modelAdapterBridge{member: member, adapter: ma})
	}
	return registry
}

// newRateLimiter builds a Redis-backed limiter from cfg.RedisURL. An unset
// RedisURL yields a nil client, which ratelimit.Limiter treats as a no-op
// rather than a startup failure.
func newRateLimiter(cfg config.Config, logger *slog.Logger) *ratelimit.Limiter {
	if cfg.RedisURL == "" {
		return ratelimit.New(nil, logger, false)
	}
	opts, err := goredis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Warn("invalid REDIS_URL, rate limiting disabled", "error", err)
		return ratelimit.New(nil, logger, false)
	}
	return ratelimit.New(goredis.NewClient(opts), logger, false)
}

// webLookupAdapter bridges the public WebLookup interface to
// internal/branches.SourceLookup.
type webLookupAdapter struct{ lookup WebLookup }

func (w webLookupAdapter) Find(ctx context.Context, query string) ([]domain.Source, error) {
	public, err := w.lookup.Find(ctx, query)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Source, 0, len(public))
	for _, s := range public {
		out = append(out, domain.Source{
			ID:          s.ID,
			Type:        domain.SourceType(s.Type),
			Identifier:  s.Identifier,
			URL:         s.URL,
			Title:       s.Title,
			Authors:     s.Authors,
			TrustScore:  s.TrustScore,
			RetrievedAt: s.RetrievedAt,
		})
	}
	return out, nil
}

// modelAdapterBridge bridges the public ModelAdapter interface to
// internal/adapter.Adapter.
type modelAdapterBridge struct {
	member  adapter.Member
	adapter ModelAdapter
}

func (m modelAdapterBridge) Member() adapter.Member { return m.member }
func (m modelAdapterBridge) ModelID() string        { return "external" }
func (m modelAdapterBridge) IsAvailable(context.Context) bool { return true }
func (m modelAdapterBridge) Query(ctx context.Context, prompt string) (adapter.Response, error) {
	content, confidence, err := m.adapter.Query(ctx, prompt)
	if err != nil {
		return adapter.Response{}, err
	}
	return adapter.Response{Content: content, Confidence: confidence}, nil
}

func toPublicQueryResult(resp pipeline.Response) QueryResult {
	sources := make([]Source, 0, len(resp.Sources))
	for _, s := range resp.Sources {
		sources = append(sources, Source{
			ID:          s.ID,
			Type:        string(s.Type),
			Identifier:  s.Identifier,
			URL:         s.URL,
			Title:       s.Title,
			Authors:     s.Authors,
			TrustScore:  s.TrustScore,
			RetrievedAt: s.RetrievedAt,
		})
	}
	return QueryResult{
		Content:         resp.Content,
		Confidence:      resp.Confidence,
		NodeID:          resp.NodeID,
		Sources:         sources,
		Approved:        resp.Approved,
		RejectionReason: string(resp.RejectionReason),
	}
}

func toPublicAlert(a watcher.Alert) Alert {
	return Alert{
		ID:        a.ID,
		NodeID:    a.NodeID,
		Kind:      string(a.Kind),
		Severity:  string(a.Severity),
		Detail:    a.Detail,
		CreatedAt: a.CreatedAt,
	}
}
