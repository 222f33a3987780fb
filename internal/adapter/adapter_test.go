package adapter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResponse(t *testing.T) {
	text := "CONFIDENCE: 82\nREASONING: well supported by three sources\nANSWER: Paris is the capital of France."
	r := ParseResponse(text)
	assert.Equal(t, 82, r.Confidence)
	assert.Equal(t, "well supported by three sources", r.Reasoning)
	assert.Equal(t, "Paris is the capital of France.", r.Content)
}

func TestParseResponse_MissingConfidenceDefaultsZero(t *testing.T) {
	r := ParseResponse("just a plain answer with no structure")
	assert.Equal(t, 0, r.Confidence)
	assert.Equal(t, "just a plain answer with no structure", r.Content)
}

func TestParseResponse_ConfidenceClamped(t *testing.T) {
	r := ParseResponse("CONFIDENCE: 150\nANSWER: x")
	assert.Equal(t, 100, r.Confidence)
}

func TestHTTPAdapter_NotAvailableWithoutKey(t *testing.T) {
	a := NewHTTPAdapter(MemberKvasir, "model", "http://example.invalid", "", GroqRequestBuilder, GroqResponseExtractor)
	assert.False(t, a.IsAvailable(context.Background()))
	_, err := a.Query(context.Background(), "hello")
	require.Error(t, err)
}

func TestHTTPAdapter_Query_Groq(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "Bearer test-key", req.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": "CONFIDENCE: 70\nANSWER: yes"}},
			},
		})
	}))
	defer srv.Close()

	a := NewHTTPAdapter(MemberBragi, "test-model", srv.URL, "test-key", GroqRequestBuilder, GroqResponseExtractor)
	assert.True(t, a.IsAvailable(context.Background()))

	resp, err := a.Query(context.Background(), "is this correct?")
	require.NoError(t, err)
	assert.Equal(t, 70, resp.Confidence)
	assert.Equal(t, "yes", resp.Content)
	assert.Equal(t, "test-model", resp.Model)
}

func TestHTTPAdapter_Query_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("rate limited"))
	}))
	defer srv.Close()

	a := NewHTTPAdapter(MemberSaga, "m", srv.URL, "k", GroqRequestBuilder, GroqResponseExtractor)
	_, err := a.Query(context.Background(), "prompt")
	require.Error(t, err)
}

func TestRegistry_AvailableOrdering(t *testing.T) {
	r := NewRegistry(RegistryConfig{
		Kvasir: Config{APIKey: "k1"},
		Bragi:  Config{},
		Nornes: Config{APIKey: "k3"},
	})
	avail := r.Available(func(a Adapter) bool { return a.IsAvailable(context.Background()) })
	require.Len(t, avail, 2)
	assert.Equal(t, MemberKvasir, avail[0].Member())
	assert.Equal(t, MemberNornes, avail[1].Member())
}

func TestSystemPrompt_AllMembersNonEmpty(t *testing.T) {
	for _, m := range councilOrder {
		assert.NotEmpty(t, SystemPrompt(m))
	}
}
