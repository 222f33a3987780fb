package yggdrasil

import (
	"context"
	"net/http"
)

// WebLookup fetches third-party evidence for a statement under evaluation.
// When provided via WithWebLookup, replaces the auto-configured evidence
// lookup used by MIMIR and VOLVA candidate resolution. HUGIN and the
// watcher daemon keep their own web search, since disinformation filtering
// needs raw page content this interface's Source shape does not carry.
type WebLookup interface {
	Find(ctx context.Context, statement string) ([]Source, error)
}

// ModelAdapter queries a single council member's backing language model.
// When provided via WithModelAdapter, replaces the Groq/Gemini-backed
// adapter for that member only — the remaining members keep their default
// backing.
type ModelAdapter interface {
	Query(ctx context.Context, prompt string) (content string, confidence int, err error)
}

// EventHook receives async notifications for query and watcher lifecycle
// events. Multiple hooks may be registered via multiple WithEventHook calls.
// Hook methods run in goroutines — they must not block indefinitely.
// Failures are logged but never fail the originating request or scan.
type EventHook interface {
	OnQueryProcessed(ctx context.Context, result QueryResult) error
	OnAlertRaised(ctx context.Context, alert Alert) error
}

// RouteRegistrar registers additional routes on the shared HTTP mux. It is
// called once during New() after every built-in route is registered.
type RouteRegistrar func(mux *http.ServeMux)

// Middleware wraps the root HTTP handler. Applied outermost, before
// routing, so it observes every request including /health. Multiple
// middlewares apply in registration order — the first-registered is
// outermost.
type Middleware func(http.Handler) http.Handler
