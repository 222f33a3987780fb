package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yggdrasil-ai/yggdrasil/internal/adapter"
	"github.com/yggdrasil-ai/yggdrasil/internal/branches"
	"github.com/yggdrasil-ai/yggdrasil/internal/domain"
	"github.com/yggdrasil-ai/yggdrasil/internal/ledger"
)

type fakeAdapter struct {
	member     adapter.Member
	confidence int
	content    string
}

func (f *fakeAdapter) Member() adapter.Member                 { return f.member }
func (f *fakeAdapter) ModelID() string                        { return "fake" }
func (f *fakeAdapter) IsAvailable(context.Context) bool        { return true }
func (f *fakeAdapter) Query(context.Context, string) (adapter.Response, error) {
	return adapter.Response{Content: f.content, Confidence: f.confidence}, nil
}

type fakeSourceLookup struct {
	sources []domain.Source
}

func (f fakeSourceLookup) Find(context.Context, string) ([]domain.Source, error) {
	return f.sources, nil
}

func consensusRegistry() *adapter.Registry {
	r := adapter.NewRegistry(adapter.RegistryConfig{})
	r.Set(adapter.MemberKvasir, &fakeAdapter{member: adapter.MemberKvasir, confidence: 90, content: "the answer"})
	r.Set(adapter.MemberBragi, &fakeAdapter{member: adapter.MemberBragi, confidence: 85, content: "the answer"})
	return r
}

func TestProcess_ApprovesWithAnchorAndConsensus(t *testing.T) {
	volva := branches.NewVolvaHandler(fakeSourceLookup{sources: []domain.Source{
		{Type: domain.SourceWeb, TrustScore: 85, Title: "trusted source"},
	}})
	svc := New(&BranchHandlers{Volva: volva}, consensusRegistry(), ledger.New(ledger.NewMemoryStore(), nil), nil, 0)

	resp, err := svc.Process(context.Background(), Request{Query: "What is the capital of France?", RequireMimirAnchor: true})
	require.NoError(t, err)
	assert.True(t, resp.Approved)
	assert.NotEmpty(t, resp.NodeID)
	assert.Equal(t, 100, resp.Confidence)
}

func TestProcess_RejectsWithoutAnchor(t *testing.T) {
	svc := New(&BranchHandlers{}, consensusRegistry(), ledger.New(ledger.NewMemoryStore(), nil), nil, 0)

	resp, err := svc.Process(context.Background(), Request{Query: "What is the capital of France?", RequireMimirAnchor: true})
	require.NoError(t, err)
	assert.False(t, resp.Approved)
	assert.Empty(t, resp.NodeID)
}

func TestProcessWithThinking_RecordsAllPhasesOnApproval(t *testing.T) {
	volva := branches.NewVolvaHandler(fakeSourceLookup{sources: []domain.Source{
		{Type: domain.SourceWeb, TrustScore: 85},
	}})
	svc := New(&BranchHandlers{Volva: volva}, consensusRegistry(), ledger.New(ledger.NewMemoryStore(), nil), nil, 0)

	result, err := svc.ProcessWithThinking(context.Background(), Request{Query: "What is gravity?", RequireMimirAnchor: true})
	require.NoError(t, err)
	var phases []string
	for _, s := range result.Steps {
		phases = append(phases, s.Phase)
	}
	assert.Equal(t, []string{PhaseClassify, PhaseFanOutBranches, PhaseCouncilDeliberate, PhaseValidate, PhasePersist}, phases)
}

func TestProcessWithThinking_StopsBeforePersistOnRejection(t *testing.T) {
	svc := New(&BranchHandlers{}, consensusRegistry(), ledger.New(ledger.NewMemoryStore(), nil), nil, 0)

	result, err := svc.ProcessWithThinking(context.Background(), Request{Query: "What is gravity?", RequireMimirAnchor: true})
	require.NoError(t, err)
	var phases []string
	for _, s := range result.Steps {
		phases = append(phases, s.Phase)
	}
	assert.Equal(t, []string{PhaseClassify, PhaseFanOutBranches, PhaseCouncilDeliberate, PhaseValidate}, phases)
	assert.False(t, result.Response.Approved)
}

func TestProcessWithStreaming_EmitsStepsThenResponse(t *testing.T) {
	volva := branches.NewVolvaHandler(fakeSourceLookup{sources: []domain.Source{
		{Type: domain.SourceWeb, TrustScore: 85},
	}})
	svc := New(&BranchHandlers{Volva: volva}, consensusRegistry(), ledger.New(ledger.NewMemoryStore(), nil), nil, 0)

	events := svc.ProcessWithStreaming(context.Background(), Request{Query: "What is gravity?", RequireMimirAnchor: true})

	var stepCount int
	var sawResponse bool
	for ev := range events {
		if ev.Step != nil {
			stepCount++
		}
		if ev.Response != nil {
			sawResponse = true
		}
		assert.Nil(t, ev.Err)
	}
	assert.Equal(t, 5, stepCount)
	assert.True(t, sawResponse)
}

func TestProcess_SplitVerdictRejectsWithNoConsensus(t *testing.T) {
	r := adapter.NewRegistry(adapter.RegistryConfig{})
	r.Set(adapter.MemberKvasir, &fakeAdapter{member: adapter.MemberKvasir, confidence: 90, content: "yes"})
	r.Set(adapter.MemberBragi, &fakeAdapter{member: adapter.MemberBragi, confidence: 10, content: "no"})

	volva := branches.NewVolvaHandler(fakeSourceLookup{sources: []domain.Source{
		{Type: domain.SourceWeb, TrustScore: 85},
	}})
	svc := New(&BranchHandlers{Volva: volva}, r, ledger.New(ledger.NewMemoryStore(), nil), nil, 0)

	resp, err := svc.Process(context.Background(), Request{Query: "q", RequireMimirAnchor: true})
	require.NoError(t, err)
	assert.False(t, resp.Approved)
}
