package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yggdrasil-ai/yggdrasil/internal/adapter"
	"github.com/yggdrasil-ai/yggdrasil/internal/auth"
	"github.com/yggdrasil-ai/yggdrasil/internal/branches"
	"github.com/yggdrasil-ai/yggdrasil/internal/domain"
	"github.com/yggdrasil-ai/yggdrasil/internal/ledger"
	"github.com/yggdrasil-ai/yggdrasil/internal/pipeline"
)

type fakeAdapter struct {
	member     adapter.Member
	confidence int
	content    string
}

func (f *fakeAdapter) Member() adapter.Member          { return f.member }
func (f *fakeAdapter) ModelID() string                 { return "fake" }
func (f *fakeAdapter) IsAvailable(context.Context) bool { return true }
func (f *fakeAdapter) Query(context.Context, string) (adapter.Response, error) {
	return adapter.Response{Content: f.content, Confidence: f.confidence}, nil
}

type fakeSourceLookup struct{ sources []domain.Source }

func (f fakeSourceLookup) Find(context.Context, string) ([]domain.Source, error) {
	return f.sources, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testServer(t *testing.T) (*Server, *auth.JWTManager, string) {
	t.Helper()

	registry := adapter.NewRegistry(adapter.RegistryConfig{})
	registry.Set(adapter.MemberKvasir, &fakeAdapter{member: adapter.MemberKvasir, confidence: 90, content: "the answer"})
	registry.Set(adapter.MemberBragi, &fakeAdapter{member: adapter.MemberBragi, confidence: 85, content: "the answer"})

	volva := branches.NewVolvaHandler(fakeSourceLookup{sources: []domain.Source{
		{Type: domain.SourceWeb, TrustScore: 85, Title: "trusted source"},
	}})
	svc := pipeline.New(&pipeline.BranchHandlers{Volva: volva}, registry, ledger.New(ledger.NewMemoryStore(), nil), nil, 0)

	jwtMgr, err := auth.NewJWTManager("test-secret", time.Hour)
	require.NoError(t, err)

	adminKey := "admin-key"
	hash, err := auth.HashAPIKey(adminKey)
	require.NoError(t, err)

	srv := New(ServerConfig{
		Pipeline:            svc,
		JWTMgr:              jwtMgr,
		AdminAPIKeyHash:      hash,
		Logger:              testLogger(),
		Port:                0,
		ReadTimeout:         5 * time.Second,
		WriteTimeout:        5 * time.Second,
		Version:             "test",
		MaxRequestBodyBytes: 1 << 20,
		CORSAllowedOrigins:  []string{"*"},
	})
	return srv, jwtMgr, adminKey
}

func TestHandleHealth_NoAuthRequired(t *testing.T) {
	srv, _, _ := testServer(t)
	req := httptest.NewRequest(http.MethodPost, "/yggdrasil/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	var envelope struct {
		Data HealthResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Contains(t, envelope.Data.Components, "odin")
	assert.Contains(t, envelope.Data.Components, "ratatosk")
}

func TestHandleQuery_RejectsMissingAuth(t *testing.T) {
	srv, _, _ := testServer(t)
	body, _ := json.Marshal(QueryRequest{Query: "What is gravity?"})
	req := httptest.NewRequest(http.MethodPost, "/yggdrasil/query", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleAuthToken_IssuesTokenWithValidAdminKey(t *testing.T) {
	srv, _, adminKey := testServer(t)
	body, _ := json.Marshal(AuthTokenRequest{UserID: "user-1"})
	req := httptest.NewRequest(http.MethodPost, "/auth/token", bytes.NewReader(body))
	req.Header.Set("Authorization", "ApiKey "+adminKey)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var envelope APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
}

func TestHandleAuthToken_RejectsWrongAdminKey(t *testing.T) {
	srv, _, _ := testServer(t)
	body, _ := json.Marshal(AuthTokenRequest{UserID: "user-1"})
	req := httptest.NewRequest(http.MethodPost, "/auth/token", bytes.NewReader(body))
	req.Header.Set("Authorization", "ApiKey wrong-key")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleQuery_ApprovesWithValidToken(t *testing.T) {
	srv, jwtMgr, _ := testServer(t)
	token, _, err := jwtMgr.IssueToken("user-1", "")
	require.NoError(t, err)

	body, _ := json.Marshal(QueryRequest{Query: "What is the capital of France?"})
	req := httptest.NewRequest(http.MethodPost, "/yggdrasil/query", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var envelope struct {
		Data pipeline.Response `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.True(t, envelope.Data.Approved)
}

func TestHandleQuery_RejectsEmptyQuery(t *testing.T) {
	srv, jwtMgr, _ := testServer(t)
	token, _, err := jwtMgr.IssueToken("user-1", "")
	require.NoError(t, err)

	body, _ := json.Marshal(QueryRequest{Query: ""})
	req := httptest.NewRequest(http.MethodPost, "/yggdrasil/query", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleWatcherStats_NotFoundWhenDisabled(t *testing.T) {
	srv, jwtMgr, _ := testServer(t)
	token, _, err := jwtMgr.IssueToken("user-1", "")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/yggdrasil/watcher/stats", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
