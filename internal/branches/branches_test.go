package branches

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yggdrasil-ai/yggdrasil/internal/domain"
)

type fakeLookup struct {
	sources []domain.Source
	err     error
}

func (f fakeLookup) Find(context.Context, string) ([]domain.Source, error) { return f.sources, f.err }

type fakeWebLookup struct {
	results []WebResult
	err     error
}

func (f fakeWebLookup) FindWeb(context.Context, string) ([]WebResult, error) { return f.results, f.err }

func TestMimirHandler_AcceptsOnlyValidatedProviders(t *testing.T) {
	h := NewMimirHandler(fakeLookup{sources: []domain.Source{
		{Type: domain.SourceArxiv, TrustScore: 100, Title: "paper"},
		{Type: domain.SourceWeb, TrustScore: 100, Title: "blog"},
		{Type: domain.SourcePubMed, TrustScore: 90, Title: "low trust"},
	}})
	ev, err := h.Resolve(context.Background(), "q")
	require.NoError(t, err)
	require.False(t, ev.Empty())
	assert.Equal(t, domain.BranchMimir, ev.Branch)
	assert.Equal(t, 100, ev.Confidence)
	require.Len(t, ev.Sources, 1)
	assert.Equal(t, domain.SourceArxiv, ev.Sources[0].Type)
}

func TestMimirHandler_EmptyWhenNoneQualify(t *testing.T) {
	h := NewMimirHandler(fakeLookup{sources: []domain.Source{
		{Type: domain.SourceWeb, TrustScore: 100},
	}})
	ev, err := h.Resolve(context.Background(), "q")
	require.NoError(t, err)
	assert.True(t, ev.Empty())
}

func TestVolvaHandler_ConfidenceClampedBetween50And99(t *testing.T) {
	h := NewVolvaHandler(fakeLookup{sources: []domain.Source{
		{Type: domain.SourceWeb, TrustScore: 100},
	}})
	ev, err := h.Resolve(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, 99, ev.Confidence)
}

func TestVolvaHandler_FloorsAt50(t *testing.T) {
	h := NewVolvaHandler(fakeLookup{sources: []domain.Source{
		{Type: domain.SourceWeb, TrustScore: 10},
	}})
	ev, err := h.Resolve(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, 50, ev.Confidence)
}

func TestVolvaHandler_EmptyWhenNoSources(t *testing.T) {
	h := NewVolvaHandler(fakeLookup{})
	ev, err := h.Resolve(context.Background(), "q")
	require.NoError(t, err)
	assert.True(t, ev.Empty())
}

func TestHuginHandler_FiltersBlockedContent(t *testing.T) {
	h := NewHuginHandler(fakeWebLookup{results: []WebResult{
		{Source: domain.Source{URL: "http://example.com/a"}, Content: "calm factual reporting with citations"},
		{Source: domain.Source{URL: "http://naturalnews.com/story"}, Content: "they don't want you to know this"},
	}})
	ev, err := h.Resolve(context.Background(), "q")
	require.NoError(t, err)
	require.False(t, ev.Empty())
	assert.Equal(t, domain.BranchHugin, ev.Branch)
	require.Len(t, ev.Sources, 1)
	assert.LessOrEqual(t, ev.Confidence, 49)
}

func TestHuginHandler_NeverExceedsConfidenceCeiling(t *testing.T) {
	h := NewHuginHandler(fakeWebLookup{results: []WebResult{
		{Source: domain.Source{URL: "http://example.com/a"}, Content: "plain statement of fact"},
	}})
	ev, err := h.Resolve(context.Background(), "q")
	require.NoError(t, err)
	assert.LessOrEqual(t, ev.Confidence, 49)
}

func TestHuginHandler_EmptyWhenAllBlocked(t *testing.T) {
	h := NewHuginHandler(fakeWebLookup{results: []WebResult{
		{Source: domain.Source{URL: "http://naturalnews.com/story"}, Content: "they don't want you to know this"},
	}})
	ev, err := h.Resolve(context.Background(), "q")
	require.NoError(t, err)
	assert.True(t, ev.Empty())
}

func TestBranchHandlers_PropagateLookupErrors(t *testing.T) {
	h := NewMimirHandler(fakeLookup{err: assert.AnError})
	_, err := h.Resolve(context.Background(), "q")
	assert.Error(t, err)
}
