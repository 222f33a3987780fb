package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yggdrasil-ai/yggdrasil/internal/branches"
	"github.com/yggdrasil-ai/yggdrasil/internal/council"
	"github.com/yggdrasil-ai/yggdrasil/internal/domain"
)

func TestValidate_RejectsWithoutAnchor(t *testing.T) {
	res := Validate(Request{
		RequireMimirAnchor: true,
		Sources:            []domain.Source{{TrustScore: 50}},
		CouncilVerdict:     council.VerdictConsensus,
	})
	require.False(t, res.IsValid)
	assert.Equal(t, ReasonNoSource, res.Reason)
	assert.Equal(t, "REJECTED", res.Trace.FinalDecision)
}

func TestValidate_AnchorSkippedWhenNotRequired(t *testing.T) {
	res := Validate(Request{
		RequireMimirAnchor: false,
		CouncilVerdict:     council.VerdictConsensus,
	})
	assert.True(t, res.IsValid)
}

func TestValidate_RejectsDeadlockVerdict(t *testing.T) {
	res := Validate(Request{
		RequireMimirAnchor: true,
		Sources:            []domain.Source{{TrustScore: 90}},
		CouncilVerdict:     council.VerdictDeadlock,
	})
	require.False(t, res.IsValid)
	assert.Equal(t, ReasonNoConsensus, res.Reason)
}

func TestValidate_RejectsSplitVerdict(t *testing.T) {
	res := Validate(Request{
		RequireMimirAnchor: true,
		Sources:            []domain.Source{{TrustScore: 90}},
		CouncilVerdict:     council.VerdictSplit,
	})
	require.False(t, res.IsValid)
	assert.Equal(t, ReasonNoConsensus, res.Reason)
}

func TestValidate_RejectsBranchCeilingViolation(t *testing.T) {
	res := Validate(Request{
		RequireMimirAnchor: true,
		Sources:            []domain.Source{{TrustScore: 90}},
		CouncilVerdict:     council.VerdictMajority,
		BranchResults: []branches.Evidence{
			{Branch: domain.BranchHugin, Confidence: 60},
		},
	})
	require.False(t, res.IsValid)
	assert.Equal(t, ReasonBranchViolation, res.Reason)
}

func TestValidate_ApprovesCleanRequest(t *testing.T) {
	res := Validate(Request{
		RequireMimirAnchor: true,
		Sources:            []domain.Source{{TrustScore: 85}},
		CouncilVerdict:     council.VerdictConsensus,
		BranchResults: []branches.Evidence{
			{Branch: domain.BranchVolva, Confidence: 70},
		},
	})
	require.True(t, res.IsValid)
	assert.Equal(t, 100, res.Confidence)
	assert.Equal(t, "APPROVED", res.Trace.FinalDecision)
	assert.NotEmpty(t, res.Trace.OdinVersion)
}

func TestValidate_StopsAtFirstFailingStep(t *testing.T) {
	res := Validate(Request{
		RequireMimirAnchor: true,
		Sources:            nil,
		CouncilVerdict:     council.VerdictDeadlock,
	})
	require.False(t, res.IsValid)
	assert.Equal(t, ReasonNoSource, res.Reason)
	assert.Len(t, res.Trace.Steps, 1)
}
