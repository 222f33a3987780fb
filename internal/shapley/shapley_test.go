package shapley

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttribute_PercentagesSumToHundred(t *testing.T) {
	members := []MemberInput{
		{ID: "KVASIR", Confidence: 90},
		{ID: "BRAGI", Confidence: 40},
		{ID: "SAGA", Confidence: 85},
	}
	out := Attribute(members, VerdictMajority)
	require.Len(t, out, 3)

	var sum float64
	for _, v := range out {
		sum += v
	}
	assert.InDelta(t, 100.0, sum, 0.01)
}

func TestAttribute_HigherConfidenceGetsMoreCredit(t *testing.T) {
	members := []MemberInput{
		{ID: "A", Confidence: 95},
		{ID: "B", Confidence: 20},
	}
	out := Attribute(members, VerdictConsensus)
	assert.Greater(t, out["A"], out["B"])
}

func TestAttribute_SingleMemberGetsFullCredit(t *testing.T) {
	members := []MemberInput{{ID: "SOLO", Confidence: 80}}
	out := Attribute(members, VerdictConsensus)
	assert.InDelta(t, 100.0, out["SOLO"], 0.01)
}

func TestAttribute_EqualMembersSplitEvenly(t *testing.T) {
	members := []MemberInput{
		{ID: "A", Confidence: 70},
		{ID: "B", Confidence: 70},
		{ID: "C", Confidence: 70},
	}
	out := Attribute(members, VerdictConsensus)
	assert.InDelta(t, out["A"], out["B"], 0.01)
	assert.InDelta(t, out["B"], out["C"], 0.01)
}

func TestAttribute_ZeroConfidenceFallsBackToEqualSplit(t *testing.T) {
	members := []MemberInput{
		{ID: "A", Confidence: 0},
		{ID: "B", Confidence: 0},
	}
	out := Attribute(members, VerdictDeadlock)
	assert.InDelta(t, 50.0, out["A"], 0.01)
	assert.InDelta(t, 50.0, out["B"], 0.01)
}

func TestAttribute_EmptyMembers(t *testing.T) {
	out := Attribute(nil, VerdictSplit)
	assert.Empty(t, out)
}

func TestAgreementScore_SingletonIsPerfect(t *testing.T) {
	assert.Equal(t, 100.0, agreementScore([]MemberInput{{Confidence: 42}}))
}

func TestAgreementScore_HighDispersionLowersScore(t *testing.T) {
	tight := agreementScore([]MemberInput{{Confidence: 80}, {Confidence: 82}})
	loose := agreementScore([]MemberInput{{Confidence: 10}, {Confidence: 95}})
	assert.Greater(t, tight, loose)
}

func TestResponseQuality_ReasoningBonus(t *testing.T) {
	short := ResponseQuality(MemberInput{Confidence: 80, ReasoningLength: 10})
	long := ResponseQuality(MemberInput{Confidence: 80, ReasoningLength: 200})
	assert.Equal(t, 80.0, short)
	assert.Equal(t, 90.0, long)
}

func TestResponseQuality_CapsAt100(t *testing.T) {
	q := ResponseQuality(MemberInput{Confidence: 95, ReasoningLength: 500})
	assert.Equal(t, 100.0, q)
}

func TestChallengeImpact_PenaltiesFloorAtZero(t *testing.T) {
	impact := ChallengeImpact(MemberInput{Severities: []string{"CRITICAL", "CRITICAL", "HIGH"}})
	assert.Equal(t, 0.0, impact)
}

func TestChallengeImpact_LokiNoChallengesRaised(t *testing.T) {
	assert.Equal(t, 50.0, ChallengeImpact(MemberInput{IsLoki: true}))
}

func TestChallengeImpact_LokiScalesWithChallengesRaised(t *testing.T) {
	impact := ChallengeImpact(MemberInput{IsLoki: true, HighSeverityChallengesRaised: 3})
	assert.Equal(t, 100.0, impact) // capped: 50 + 20*3 = 110 -> 100
}
