package sources

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherSearcher_NoopWhenUnconfigured(t *testing.T) {
	searcher := NewWatcherSearcher(NewWebSearchLookup("", ""))
	result, err := searcher.Search(context.Background(), "the sky is blue")
	require.NoError(t, err)
	assert.Zero(t, result.TrustWeightedConfidence)
	assert.Zero(t, result.ContradictionSignals)
}

func TestWatcherSearcher_ScoresResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]string{
				{"url": "https://example.com/a", "title": "a", "content": "water boils at 100 degrees celsius at sea level."},
			},
		})
	}))
	defer srv.Close()

	searcher := NewWatcherSearcher(NewWebSearchLookup(srv.URL, ""))
	result, err := searcher.Search(context.Background(), "boiling point of water")
	require.NoError(t, err)
	assert.Zero(t, result.ContradictionSignals)
}
