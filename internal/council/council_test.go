package council

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/google/uuid"
	"github.com/yggdrasil-ai/yggdrasil/internal/adapter"
	"github.com/yggdrasil-ai/yggdrasil/internal/shapley"
)

type fakeAdapter struct {
	member     adapter.Member
	confidence int
	content    string
	available  bool
	err        error
}

func (f *fakeAdapter) Member() adapter.Member  { return f.member }
func (f *fakeAdapter) ModelID() string         { return "fake-model" }
func (f *fakeAdapter) IsAvailable(context.Context) bool { return f.available }
func (f *fakeAdapter) Query(_ context.Context, _ string) (adapter.Response, error) {
	if f.err != nil {
		return adapter.Response{}, f.err
	}
	return adapter.Response{Content: f.content, Confidence: f.confidence, Model: "fake-model"}, nil
}

func registryWith(responses map[adapter.Member]*fakeAdapter) *adapter.Registry {
	r := adapter.NewRegistry(adapter.RegistryConfig{})
	for m, a := range responses {
		r.Set(m, a)
	}
	return r
}

func TestDeliberate_Consensus(t *testing.T) {
	r := registryWith(map[adapter.Member]*fakeAdapter{
		adapter.MemberKvasir: {member: adapter.MemberKvasir, confidence: 90, content: "yes", available: true},
		adapter.MemberBragi:  {member: adapter.MemberBragi, confidence: 85, content: "yes", available: true},
		adapter.MemberLoki:   {member: adapter.MemberLoki, confidence: 0, content: "", available: true},
	})
	d, err := Deliberate(context.Background(), r, nil, "is water wet?", nil, true)
	require.NoError(t, err)
	assert.Equal(t, VerdictConsensus, d.Verdict)
	assert.Len(t, d.Responses, 2)
	assert.NotEmpty(t, d.FinalProposal)
	assert.NotEqual(t, uuid.Nil, d.ID)
}

func TestDeliberate_Deadlock(t *testing.T) {
	r := registryWith(map[adapter.Member]*fakeAdapter{
		adapter.MemberKvasir: {member: adapter.MemberKvasir, confidence: 90, content: "yes", available: true},
		adapter.MemberBragi:  {member: adapter.MemberBragi, confidence: 20, content: "no", available: true},
		adapter.MemberNornes: {member: adapter.MemberNornes, confidence: 10, content: "no", available: true},
	})
	d, err := Deliberate(context.Background(), r, nil, "q", nil, true)
	require.NoError(t, err)
	assert.Equal(t, VerdictDeadlock, d.Verdict)
	assert.Empty(t, d.FinalProposal)
}

func TestDeliberate_NoMajorityWithoutRequiredConsensusIsSplit(t *testing.T) {
	r := registryWith(map[adapter.Member]*fakeAdapter{
		adapter.MemberKvasir: {member: adapter.MemberKvasir, confidence: 90, content: "yes", available: true},
		adapter.MemberBragi:  {member: adapter.MemberBragi, confidence: 20, content: "no", available: true},
		adapter.MemberNornes: {member: adapter.MemberNornes, confidence: 10, content: "no", available: true},
	})
	d, err := Deliberate(context.Background(), r, nil, "q", nil, false)
	require.NoError(t, err)
	assert.Equal(t, VerdictSplit, d.Verdict)
}

func TestDeliberate_FiltersToRequestedMembers(t *testing.T) {
	r := registryWith(map[adapter.Member]*fakeAdapter{
		adapter.MemberKvasir: {member: adapter.MemberKvasir, confidence: 90, content: "yes", available: true},
		adapter.MemberBragi:  {member: adapter.MemberBragi, confidence: 85, content: "yes", available: true},
	})
	d, err := Deliberate(context.Background(), r, nil, "q", []adapter.Member{adapter.MemberKvasir}, true)
	require.NoError(t, err)
	require.Len(t, d.Responses, 1)
	assert.Equal(t, adapter.MemberKvasir, d.Responses[0].Member)
}

func TestDeliberate_SkipsUnavailableMembers(t *testing.T) {
	r := registryWith(map[adapter.Member]*fakeAdapter{
		adapter.MemberKvasir: {member: adapter.MemberKvasir, confidence: 90, content: "yes", available: true},
		adapter.MemberBragi:  {member: adapter.MemberBragi, available: false},
	})
	d, err := Deliberate(context.Background(), r, nil, "q", nil, true)
	require.NoError(t, err)
	require.Len(t, d.Responses, 1)
	assert.Equal(t, adapter.MemberKvasir, d.Responses[0].Member)
}

func TestDeliberate_AdapterErrorDoesNotAbortFanOut(t *testing.T) {
	r := registryWith(map[adapter.Member]*fakeAdapter{
		adapter.MemberKvasir: {member: adapter.MemberKvasir, confidence: 90, content: "yes", available: true},
		adapter.MemberBragi:  {member: adapter.MemberBragi, available: true, err: fmt.Errorf("timeout")},
	})
	d, err := Deliberate(context.Background(), r, nil, "q", nil, true)
	require.NoError(t, err)
	require.Len(t, d.Responses, 2)
	var errCount int
	for _, resp := range d.Responses {
		if resp.Err != nil {
			errCount++
		}
	}
	assert.Equal(t, 1, errCount)
}

func TestArbitrate_MajorityNotUnanimous(t *testing.T) {
	responses := []MemberResponse{
		{Member: adapter.MemberKvasir, Response: adapter.Response{Confidence: 80}},
		{Member: adapter.MemberBragi, Response: adapter.Response{Confidence: 75}},
		{Member: adapter.MemberSaga, Response: adapter.Response{Confidence: 30}},
	}
	assert.Equal(t, VerdictMajority, arbitrate(responses, true))
}

func TestArbitrate_Split(t *testing.T) {
	responses := []MemberResponse{
		{Member: adapter.MemberKvasir, Response: adapter.Response{Confidence: 80}},
		{Member: adapter.MemberBragi, Response: adapter.Response{Confidence: 55}},
		{Member: adapter.MemberSaga, Response: adapter.Response{Confidence: 30}},
	}
	assert.Equal(t, VerdictSplit, arbitrate(responses, true))
}

func TestArbitrate_DeadlockRequiresConsensus(t *testing.T) {
	responses := []MemberResponse{
		{Member: adapter.MemberKvasir, Response: adapter.Response{Confidence: 80}},
		{Member: adapter.MemberBragi, Response: adapter.Response{Confidence: 20}},
		{Member: adapter.MemberSaga, Response: adapter.Response{Confidence: 10}},
	}
	assert.Equal(t, VerdictDeadlock, arbitrate(responses, true))
	assert.Equal(t, VerdictSplit, arbitrate(responses, false))
}

func TestDeliberation_ShapleyInputs(t *testing.T) {
	d := Deliberation{
		Responses: []MemberResponse{
			{Member: adapter.MemberKvasir, Response: adapter.Response{Confidence: 90, Reasoning: "a well supported chain of reasoning that exceeds one hundred characters in total length for the bonus"}},
			{Member: adapter.MemberBragi, Response: adapter.Response{Confidence: 40}},
			{Member: adapter.MemberSaga, Err: fmt.Errorf("timeout")},
		},
		Challenges: []Challenge{{Target: adapter.MemberBragi, Severity: "HIGH"}},
		Verdict:    VerdictMajority,
	}
	inputs, verdict := d.ShapleyInputs()
	assert.Equal(t, shapley.VerdictMajority, verdict)
	require.Len(t, inputs, 3) // Kvasir, Bragi, and synthesized LOKI entry; Saga excluded (errored)

	var sawLoki bool
	for _, in := range inputs {
		if in.IsLoki {
			sawLoki = true
			assert.Equal(t, 1, in.HighSeverityChallengesRaised)
		}
		if in.ID == string(adapter.MemberBragi) {
			assert.Equal(t, []string{"HIGH"}, in.Severities)
		}
	}
	assert.True(t, sawLoki)
}

func TestParseChallenges(t *testing.T) {
	text := "KVASIR: overstates certainty given weak sourcing [HIGH]\nBRAGI: no issues found [LOW]\nnot a challenge line"
	challenges := parseChallenges(text)
	require.Len(t, challenges, 2)
	assert.Equal(t, adapter.MemberKvasir, challenges[0].Target)
	assert.Equal(t, "HIGH", challenges[0].Severity)
}
