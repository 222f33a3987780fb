package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	goredis "github.com/redis/go-redis/v9"

	"github.com/yggdrasil-ai/yggdrasil/internal/adapter"
	"github.com/yggdrasil-ai/yggdrasil/internal/auth"
	"github.com/yggdrasil-ai/yggdrasil/internal/branches"
	"github.com/yggdrasil-ai/yggdrasil/internal/config"
	"github.com/yggdrasil-ai/yggdrasil/internal/ledger"
	"github.com/yggdrasil-ai/yggdrasil/internal/mcp"
	"github.com/yggdrasil-ai/yggdrasil/internal/migrate"
	"github.com/yggdrasil-ai/yggdrasil/internal/pipeline"
	"github.com/yggdrasil-ai/yggdrasil/internal/ratelimit"
	"github.com/yggdrasil-ai/yggdrasil/internal/server"
	"github.com/yggdrasil-ai/yggdrasil/internal/sources"
	"github.com/yggdrasil-ai/yggdrasil/internal/telemetry"
	"github.com/yggdrasil-ai/yggdrasil/internal/watcher"
	"github.com/yggdrasil-ai/yggdrasil/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Bootstrap logger before config.Load so load failures are still logged
	// structurally; replaced with the configured level once available.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)
	logger.Info("yggdrasil starting", "version", version, "port", cfg.Port)

	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("database: ping: %w", err)
	}
	if err := migrate.Run(ctx, pool, migrations.FS); err != nil {
		return fmt.Errorf("database: migrate: %w", err)
	}

	store := ledger.NewPostgresStore(pool)
	led := ledger.New(store, logger)

	registry := newAdapterRegistry(cfg)

	arxiv := sources.NewArxivLookup("")
	pubmed := sources.NewPubMedLookup()
	aggregate := sources.NewAggregateLookup(arxiv, pubmed, volvaTrustScore)
	volva := sources.NewVolvaLookup(aggregate)
	webSearch := sources.NewWebSearchLookup(cfg.WebSearchEndpoint, cfg.WebSearchAPIKey)

	branchHandlers := &pipeline.BranchHandlers{
		Mimir: branches.NewMimirHandler(aggregate),
		Volva: branches.NewVolvaHandler(volva),
		Hugin: branches.NewHuginHandler(webSearch),
	}

	pipe := pipeline.New(branchHandlers, registry, led, logger, cfg.PipelineDeadline)

	watcherSearcher := sources.NewWatcherSearcher(webSearch)
	watcherDaemon := watcher.New(led, watcherSearcher, logger)
	go watcherDaemon.Run(ctx)

	jwtMgr, err := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTExpiration)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	adminKeyHash, err := auth.HashAPIKey(cfg.AdminAPIKey)
	if err != nil {
		return fmt.Errorf("auth: hash admin key: %w", err)
	}

	mcpSrv := mcp.New(pipe, led, store, logger, version)

	limiter := newRateLimiter(cfg, logger)
	defer func() { _ = limiter.Close() }()

	srv := server.New(server.ServerConfig{
		Pipeline:            pipe,
		Watcher:             watcherDaemon,
		JWTMgr:              jwtMgr,
		AdminAPIKeyHash:     adminKeyHash,
		Logger:              logger,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		MCPServer:           mcpSrv.MCPServer(),
		RateLimiter:         limiter,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		CORSAllowedOrigins:  cfg.CORSAllowedOrigins,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	logger.Info("yggdrasil shutting down")
	if err := srv.Shutdown(context.Background()); err != nil {
		logger.Error("http shutdown error", "error", err)
	}
	logger.Info("yggdrasil stopped")
	return nil
}

// volvaTrustScore is the moderate trust score VOLVA's evidence view carries,
// below MinMimirTrustScore (100) but above HUGIN's unanchored web results.
const volvaTrustScore = 70

// newAdapterRegistry wires each council member to a Groq-backed adapter by
// default, with SYN rebound to Gemini to exercise both provider shapes
// (spec §2 leaves provider assignment to the deployer; heterogeneous
// backing demonstrates an adapter is never assumed single-provider).
func newAdapterRegistry(cfg config.Config) *adapter.Registry {
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
	return registry
}

const (
	groqEndpoint   = "https://api.groq.com/openai/v1/chat/completions"
	geminiEndpoint = "https://generativelanguage.googleapis.com/v1beta/models"
)

// newRateLimiter builds a Redis-backed limiter from cfg.RedisURL. An unset
// RedisURL yields a nil client, which ratelimit.Limiter treats as a no-op
// (spec §4.4 degraded-operation tolerance) rather than a startup failure.
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

func parseLogLevel(raw string) slog.Level {
	switch raw {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
