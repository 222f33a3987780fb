package yggdrasil

import (
	"log/slog"

	"github.com/yggdrasil-ai/yggdrasil/internal/adapter"
)

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported — callers use the With* functions.
type resolvedOptions struct {
	port               int
	databaseURL        string
	jwtSecret          string
	adminAPIKey        string
	logger             *slog.Logger
	version            string
	webLookup          WebLookup
	modelAdapters      map[adapter.Member]ModelAdapter
	eventHooks         []EventHook
	routeRegistrars    []RouteRegistrar
	middlewares        []Middleware
	corsAllowedOrigins []string
}

// WithPort overrides the TCP port from config (YGGDRASIL_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithDatabaseURL overrides the database connection string from config
// (DATABASE_URL env var).
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithJWTSecret overrides the HMAC signing secret for issued access tokens.
func WithJWTSecret(secret string) Option {
	return func(o *resolvedOptions) { o.jwtSecret = secret }
}

// WithAdminAPIKey overrides the bootstrap admin API key used to mint the
// first access token.
func WithAdminAPIKey(key string) Option {
	return func(o *resolvedOptions) { o.adminAPIKey = key }
}

// WithLogger sets the structured logger for the App. If not set, the
// default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported on the health endpoint and
// in logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithWebLookup replaces the auto-configured evidence lookup used by MIMIR
// and VOLVA candidate resolution. HUGIN's branch handler and the watcher
// daemon's rescans keep the auto-configured web search.
func WithWebLookup(lookup WebLookup) Option {
	return func(o *resolvedOptions) { o.webLookup = lookup }
}

// WithModelAdapter rebinds a single council member to a caller-supplied
// model adapter, leaving every other member on its default backing. Only
// the last call for a given member wins.
func WithModelAdapter(member adapter.Member, a ModelAdapter) Option {
	return func(o *resolvedOptions) {
		if o.modelAdapters == nil {
			o.modelAdapters = make(map[adapter.Member]ModelAdapter)
		}
		o.modelAdapters[member] = a
	}
}

// WithEventHook registers an event hook to receive query and watcher
// lifecycle notifications. Multiple hooks may be registered; all
// registered hooks receive every event.
func WithEventHook(hook EventHook) Option {
	return func(o *resolvedOptions) { o.eventHooks = append(o.eventHooks, hook) }
}

// WithExtraRoutes registers additional routes on the shared HTTP mux.
// Multiple registrars may be registered; all are called in registration
// order.
func WithExtraRoutes(fn RouteRegistrar) Option {
	return func(o *resolvedOptions) { o.routeRegistrars = append(o.routeRegistrars, fn) }
}

// WithMiddleware registers an outermost HTTP middleware. Multiple
// middlewares may be registered, applied in registration order: the
// first-registered is outermost (called first by every request).
func WithMiddleware(mw Middleware) Option {
	return func(o *resolvedOptions) { o.middlewares = append(o.middlewares, mw) }
}

// WithCORSAllowedOrigins overrides the allowed CORS origins from config.
func WithCORSAllowedOrigins(origins ...string) Option {
	return func(o *resolvedOptions) { o.corsAllowedOrigins = origins }
}
