// Package validator implements Odin, the final gate every pipeline
// response must pass through before it reaches a caller (spec §4.11). Odin
// never rewrites content — it only accepts or refuses.
package validator

import (
	"time"

	"github.com/yggdrasil-ai/yggdrasil/internal/branches"
	"github.com/yggdrasil-ai/yggdrasil/internal/council"
	"github.com/yggdrasil-ai/yggdrasil/internal/domain"
)

// RejectionReason enumerates why Odin refused a response.
type RejectionReason string

const (
	ReasonNoSource        RejectionReason = "NO_SOURCE"
	ReasonNoConsensus     RejectionReason = "NO_CONSENSUS"
	ReasonBranchViolation RejectionReason = "BRANCH_VIOLATION"
	// ReasonTimeout marks a pipeline run that exceeded its deadline before
	// Odin ever rendered a verdict (spec §4.12, §6).
	ReasonTimeout RejectionReason = "TIMEOUT"
	// ReasonInternal marks a refusal caused by an internal failure rather
	// than an epistemic one (spec §6).
	ReasonInternal RejectionReason = "INTERNAL"
)

// MinAnchorTrustScore is the minimum trustScore an attached source must
// carry to count as a MIMIR anchor (spec §4.11, step 1).
const MinAnchorTrustScore = 80

// Step is one entry in the validator's decision trace.
type Step struct {
	Name   string
	Passed bool
	Detail string
}

// Trace records every check Odin ran and its final decision.
type Trace struct {
	Steps           []Step
	FinalDecision   string // APPROVED or REJECTED
	ProcessingTime  time.Duration
	OdinVersion     string
}

// Request bundles everything Odin needs to render a verdict.
type Request struct {
	Content             string
	RequestID           string
	RequireMimirAnchor  bool
	Sources             []domain.Source
	CouncilVerdict      council.Verdict
	BranchResults       []branches.Evidence
}

// Result is Odin's verdict.
type Result struct {
	IsValid    bool
	Confidence int
	Reason     RejectionReason
	Sources    []domain.Source
	Trace      Trace
}

// OdinVersion is the validator's own version string, recorded in every
// trace for auditability.
const OdinVersion = "odin-1"

// Validate runs Odin's four-step check in order, short-circuiting on the
// first failure (spec §4.11).
func Validate(req Request) Result {
	start := time.Now()
	var steps []Step

	if req.RequireMimirAnchor {
		anchored := hasTrustedAnchor(req.Sources)
		steps = append(steps, Step{Name: "anchor_check", Passed: anchored})
		if !anchored {
			return reject(req, ReasonNoSource, steps, start)
		}
	}

	consensusOK := req.CouncilVerdict != council.VerdictDeadlock && req.CouncilVerdict != council.VerdictSplit
	steps = append(steps, Step{Name: "consensus_check", Passed: consensusOK, Detail: string(req.CouncilVerdict)})
	if !consensusOK {
		return reject(req, ReasonNoConsensus, steps, start)
	}

	ceilingOK := true
	for _, br := range req.BranchResults {
		if !withinCeiling(br) {
			ceilingOK = false
			break
		}
	}
	steps = append(steps, Step{Name: "branch_ceiling_check", Passed: ceilingOK})
	if !ceilingOK {
		return reject(req, ReasonBranchViolation, steps, start)
	}

	steps = append(steps, Step{Name: "approve", Passed: true})
	return Result{
		IsValid:    true,
		Confidence: 100,
		Sources:    req.Sources,
		Trace: Trace{
			Steps:          steps,
			FinalDecision:  "APPROVED",
			ProcessingTime: time.Since(start),
			OdinVersion:    OdinVersion,
		},
	}
}

func hasTrustedAnchor(sources []domain.Source) bool {
	for _, s := range sources {
		if s.TrustScore >= MinAnchorTrustScore {
			return true
		}
	}
	return false
}

// withinCeiling reports whether a branch result's confidence respects its
// own branch's partition ceiling (spec §4.2, I1).
func withinCeiling(br branches.Evidence) bool {
	switch br.Branch {
	case domain.BranchHugin:
		return br.Confidence <= 49
	case domain.BranchVolva:
		return br.Confidence >= 50 && br.Confidence <= 99
	case domain.BranchMimir:
		return br.Confidence == 100
	default:
		return false
	}
}

func reject(req Request, reason RejectionReason, steps []Step, start time.Time) Result {
	return Result{
		IsValid: false,
		Reason:  reason,
		Sources: req.Sources,
		Trace: Trace{
			Steps:          steps,
			FinalDecision:  "REJECTED",
			ProcessingTime: time.Since(start),
			OdinVersion:    OdinVersion,
		},
	}
}
