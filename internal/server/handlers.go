package server

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/yggdrasil-ai/yggdrasil/internal/auth"
	"github.com/yggdrasil-ai/yggdrasil/internal/domain"
	"github.com/yggdrasil-ai/yggdrasil/internal/pipeline"
	"github.com/yggdrasil-ai/yggdrasil/internal/validator"
	"github.com/yggdrasil-ai/yggdrasil/internal/watcher"
)

// HandlersDeps holds all dependencies needed by Handlers.
type HandlersDeps struct {
	Pipeline            *pipeline.Service
	Watcher             *watcher.Daemon
	JWTMgr              *auth.JWTManager
	AdminAPIKeyHash     string
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
}

// Handlers holds the HTTP handler methods and their dependencies.
type Handlers struct {
	pipeline            *pipeline.Service
	watcher             *watcher.Daemon
	jwtMgr              *auth.JWTManager
	adminAPIKeyHash     string
	logger              *slog.Logger
	version             string
	maxRequestBodyBytes int64
	startedAt           time.Time
}

// NewHandlers constructs Handlers from its dependencies.
func NewHandlers(deps HandlersDeps) *Handlers {
	return &Handlers{
		pipeline:            deps.Pipeline,
		watcher:             deps.Watcher,
		jwtMgr:              deps.JWTMgr,
		adminAPIKeyHash:     deps.AdminAPIKeyHash,
		logger:              deps.Logger,
		version:             deps.Version,
		maxRequestBodyBytes: deps.MaxRequestBodyBytes,
		startedAt:           time.Now().UTC(),
	}
}

func (h *Handlers) writeInternalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.Error(msg, "error", err, "method", r.Method, "path", r.URL.Path, "request_id", RequestIDFromContext(r.Context()))
	writeError(w, r, http.StatusInternalServerError, ErrCodeInternalError, msg)
}

// HandleHealth reports liveness; no auth required. POST /yggdrasil/health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	components := map[string]string{
		"ratatosk": "ok", // this HTTP gateway — responding is proof enough
		"mimir":    "down",
		"volva":    "down",
		"hugin":    "down",
		"thing":    "down",
		"odin":     "down",
		"munin":    "down",
	}
	status := "ok"
	if h.pipeline != nil {
		snap := h.pipeline.HealthSnapshot(r.Context())
		components["mimir"] = snap.Mimir
		components["volva"] = snap.Volva
		components["hugin"] = snap.Hugin
		components["thing"] = snap.Thing
		components["odin"] = snap.Odin
		components["munin"] = snap.Munin
		for _, v := range components {
			if v != "ok" {
				status = "degraded"
				break
			}
		}
	}
	writeJSON(w, r, http.StatusOK, HealthResponse{Status: status, Version: h.version, Components: components})
}

// HandleAuthToken issues a JWT after verifying the caller's admin API key.
// POST /auth/token, Authorization: ApiKey <key>.
func (h *Handlers) HandleAuthToken(w http.ResponseWriter, r *http.Request) {
	authHeader := r.Header.Get("Authorization")
	key, found := strings.CutPrefix(authHeader, "ApiKey ")
	if !found || key == "" {
		auth.DummyVerify()
		writeError(w, r, http.StatusUnauthorized, ErrCodeUnauthorized, "missing or malformed ApiKey header")
		return
	}

	ok, err := auth.VerifyAPIKey(key, h.adminAPIKeyHash)
	if err != nil || !ok {
		writeError(w, r, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid api key")
		return
	}

	var req AuthTokenRequest
	if err := decodeJSON(r, &req, h.maxRequestBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, ErrCodeInvalidInput, "invalid request body")
		return
	}
	if req.UserID == "" {
		writeError(w, r, http.StatusBadRequest, ErrCodeInvalidInput, "user_id is required")
		return
	}

	token, exp, err := h.jwtMgr.IssueToken(req.UserID, req.SessionID)
	if err != nil {
		h.writeInternalError(w, r, "issue token failed", err)
		return
	}
	writeJSON(w, r, http.StatusOK, AuthTokenResponse{Token: token, ExpiresAt: exp})
}

// HandleQuery runs one query through the pipeline synchronously.
// POST /yggdrasil/query.
func (h *Handlers) HandleQuery(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeQuery(w, r)
	if !ok {
		return
	}

	resp, err := h.pipeline.Process(r.Context(), pipeline.Request{
		Query:              req.Query,
		RequireMimirAnchor: req.requireMimirAnchor(),
		MaxTimeMs:          req.Options.MaxTimeMs,
	})
	if err != nil {
		h.writePipelineError(w, r, err)
		return
	}
	if !req.wantsTrace() {
		resp.Trace = validator.Trace{}
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// HandleQueryThinking runs one query and returns every phase step alongside
// the final response. POST /yggdrasil/query/thinking.
func (h *Handlers) HandleQueryThinking(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeQuery(w, r)
	if !ok {
		return
	}

	result, err := h.pipeline.ProcessWithThinking(r.Context(), pipeline.Request{
		Query:              req.Query,
		RequireMimirAnchor: req.requireMimirAnchor(),
		MaxTimeMs:          req.Options.MaxTimeMs,
	})
	if err != nil {
		h.writePipelineError(w, r, err)
		return
	}
	if !req.wantsTrace() {
		result.Response.Trace = validator.Trace{}
	}
	writeJSON(w, r, http.StatusOK, result)
}

// HandleQueryStream streams phase events as Server-Sent Events, terminating
// with a "response" or "error" event. POST /yggdrasil/query/stream.
func (h *Handlers) HandleQueryStream(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeQuery(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, ErrCodeInternalError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{}) // streaming outlives the server's WriteTimeout
	w.WriteHeader(http.StatusOK)

	events := h.pipeline.ProcessWithStreaming(r.Context(), pipeline.Request{
		Query:              req.Query,
		RequireMimirAnchor: req.requireMimirAnchor(),
		MaxTimeMs:          req.Options.MaxTimeMs,
	})

	bw := bufio.NewWriter(w)
	for ev := range events {
		if ev.Response != nil && !req.wantsTrace() {
			ev.Response.Trace = validator.Trace{}
		}
		writeSSE(bw, ev)
		flusher.Flush()
	}
}

func writeSSE(w *bufio.Writer, ev pipeline.StreamEvent) {
	switch {
	case ev.Err != nil:
		payload, _ := json.Marshal(map[string]string{"message": ev.Err.Error()})
		fmt.Fprintf(w, "event: error\ndata: %s\n\n", payload)
	case ev.Response != nil:
		payload, _ := json.Marshal(ev.Response)
		fmt.Fprintf(w, "event: response\ndata: %s\n\n", payload)
	case ev.Step != nil:
		payload, _ := json.Marshal(ev.Step)
		fmt.Fprintf(w, "event: step\ndata: %s\n\n", payload)
	}
	_ = w.Flush()
}

func (h *Handlers) decodeQuery(w http.ResponseWriter, r *http.Request) (QueryRequest, bool) {
	var req QueryRequest
	if err := decodeJSON(r, &req, h.maxRequestBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, ErrCodeInvalidInput, "invalid request body")
		return QueryRequest{}, false
	}
	if req.Query == "" {
		writeError(w, r, http.StatusBadRequest, ErrCodeInvalidInput, "query is required")
		return QueryRequest{}, false
	}
	return req, true
}

func (h *Handlers) writePipelineError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case err == nil:
		return
	case errors.Is(err, domain.ErrDeadlineExceeded):
		writeError(w, r, http.StatusRequestTimeout, ErrCodeTimeout, "pipeline deadline exceeded")
	default:
		h.writeInternalError(w, r, "pipeline processing failed", err)
	}
}

// HandleWatcherStats reports the watcher daemon's run counters.
// GET /yggdrasil/watcher/stats.
func (h *Handlers) HandleWatcherStats(w http.ResponseWriter, r *http.Request) {
	if h.watcher == nil {
		writeError(w, r, http.StatusNotFound, ErrCodeNotFound, "watcher disabled")
		return
	}
	ticks, scanned, failures, alerts := h.watcher.Snapshot()
	writeJSON(w, r, http.StatusOK, map[string]int64{
		"ticks_fired":   ticks,
		"nodes_scanned": scanned,
		"scan_failures": failures,
		"alerts_raised": alerts,
	})
}

// HandleWatcherAlerts lists the watcher's in-memory alert buffer.
// GET /yggdrasil/watcher/alerts.
func (h *Handlers) HandleWatcherAlerts(w http.ResponseWriter, r *http.Request) {
	if h.watcher == nil {
		writeError(w, r, http.StatusNotFound, ErrCodeNotFound, "watcher disabled")
		return
	}
	writeJSON(w, r, http.StatusOK, h.watcher.Alerts())
}
