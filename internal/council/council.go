// Package council implements the seven-member deliberation protocol:
// concurrent fan-out to every available model adapter, an adversarial LOKI
// challenge pass, and a TYR arbitration that renders one of four verdicts
// (spec §4.5).
package council

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/google/uuid"
	"github.com/yggdrasil-ai/yggdrasil/internal/adapter"
	"github.com/yggdrasil-ai/yggdrasil/internal/domain"
	"github.com/yggdrasil-ai/yggdrasil/internal/shapley"
)

// Verdict is TYR's final tally outcome.
type Verdict string

const (
	VerdictConsensus Verdict = "CONSENSUS" // no "no" votes and yes >= ceil(N/2)+1
	VerdictMajority  Verdict = "MAJORITY"  // more yes than no, but not consensus
	VerdictSplit     Verdict = "SPLIT"     // yes and no tied, or no outvotes yes without requireConsensus
	VerdictDeadlock  Verdict = "DEADLOCK"  // no outvotes yes with requireConsensus, or no member voted
)

// MemberResponse pairs a council member's identity with its reply.
type MemberResponse struct {
	Member     adapter.Member
	Response   adapter.Response
	Err        error
	Duration   time.Duration
}

// Challenge is one LOKI-raised objection to another member's response.
type Challenge struct {
	Target   adapter.Member
	Problem  string
	Severity string // LOW, MEDIUM, HIGH, CRITICAL
}

// Deliberation is the complete output of one council run.
type Deliberation struct {
	ID             uuid.UUID
	Responses      []MemberResponse
	Challenges     []Challenge
	Verdict        Verdict
	FinalProposal  string
	TotalDuration  time.Duration
}

// PhaseTimeout bounds the member fan-out phase; it must be strictly larger
// than adapter.DefaultTimeout since it wraps N concurrent single-adapter
// calls, not one.
const PhaseTimeout = 30 * time.Second

// Deliberate fans a prompt out to every requested, available, non-adversarial
// adapter concurrently, then runs LOKI's challenge pass and TYR's arbitration
// (spec §4.5 inputs: query, members[], requireConsensus). A nil or empty
// members list requests every available member. requireConsensus governs
// TYR's DEADLOCK rule: a no-majority only renders DEADLOCK when the caller
// requires consensus; otherwise it renders SPLIT. Responses are collated in
// the registry's fixed council order regardless of completion order, so
// identical inputs always yield an identical Deliberation (I5).
func Deliberate(ctx context.Context, registry *adapter.Registry, logger *slog.Logger, query string, members []adapter.Member, requireConsensus bool) (Deliberation, error) {
	if logger == nil {
		logger = slog.Default()
	}
	start := time.Now()

	requested := requestedMemberSet(members)
	answering := registry.Available(func(a adapter.Adapter) bool {
		m := a.Member()
		if m == adapter.MemberLoki || m == adapter.MemberTyr || !a.IsAvailable(ctx) {
			return false
		}
		if requested == nil {
			return true
		}
		return requested[m]
	})

	phaseCtx, cancel := context.WithTimeout(ctx, PhaseTimeout)
	defer cancel()

	var mu sync.Mutex
	responses := make(map[adapter.Member]MemberResponse, len(answering))

	g, gCtx := errgroup.WithContext(phaseCtx)
	for _, a := range answering {
		a := a
		g.Go(func() error {
			callStart := time.Now()
			resp, err := a.Query(gCtx, query)
			mr := MemberResponse{Member: a.Member(), Response: resp, Err: err, Duration: time.Since(callStart)}
			mu.Lock()
			responses[a.Member()] = mr
			mu.Unlock()
			return nil // a single adapter failure never aborts the fan-out
		})
	}
	// errgroup.Wait only ever returns a non-nil error if a Go func returns
	// one; this fan-out never does, so the error is always nil.
	_ = g.Wait()

	ordered := orderedResponses(responses)

	challenges := runChallenge(ctx, registry, logger, query, ordered)
	verdict := arbitrate(ordered, requireConsensus)
	proposal := synthesizeProposal(ordered, verdict)

	logger.Debug("council: deliberation complete",
		"verdict", verdict, "votes", summary(VoteRecord(ordered)), "challenges", len(challenges))

	return Deliberation{
		ID:            uuid.New(),
		Responses:     ordered,
		Challenges:    challenges,
		Verdict:       verdict,
		FinalProposal: proposal,
		TotalDuration: time.Since(start),
	}, nil
}

// requestedMemberSet builds a membership filter from a requested members
// list. A nil or empty list means "every available member" (nil return).
func requestedMemberSet(members []adapter.Member) map[adapter.Member]bool {
	if len(members) == 0 {
		return nil
	}
	set := make(map[adapter.Member]bool, len(members))
	for _, m := range members {
		set[m] = true
	}
	return set
}

// councilMemberOrder fixes collation order for I5 determinism.
var councilMemberOrder = []adapter.Member{
	adapter.MemberKvasir, adapter.MemberBragi, adapter.MemberNornes,
	adapter.MemberSaga, adapter.MemberSyn,
}

func orderedResponses(responses map[adapter.Member]MemberResponse) []MemberResponse {
	out := make([]MemberResponse, 0, len(responses))
	for _, m := range councilMemberOrder {
		if r, ok := responses[m]; ok {
			out = append(out, r)
		}
	}
	return out
}

// runChallenge invokes LOKI, if available, with a prompt summarizing every
// other member's response, and parses its reply into structured challenges.
// LOKI's absence (or error) is non-fatal: an empty challenge list is a valid
// outcome (spec §4.5).
func runChallenge(ctx context.Context, registry *adapter.Registry, logger *slog.Logger, query string, responses []MemberResponse) []Challenge {
	loki, ok := registry.Get(adapter.MemberLoki)
	if !ok || !loki.IsAvailable(ctx) {
		return nil
	}

	var b strings.Builder
	b.WriteString("Original query: ")
	b.WriteString(query)
	b.WriteString("\n\nResponses to review:\n")
	for _, r := range responses {
		if r.Err != nil {
			continue
		}
		fmt.Fprintf(&b, "- %s (confidence %d): %s\n", r.Member, r.Response.Confidence, r.Response.Content)
	}

	callCtx, cancel := context.WithTimeout(ctx, adapter.DefaultTimeout)
	defer cancel()

	resp, err := loki.Query(callCtx, b.String())
	if err != nil {
		logger.Warn("council: LOKI challenge call failed", "error", err)
		return nil
	}
	return parseChallenges(resp.Content)
}

var challengeLine = regexp.MustCompile(`(?im)^\s*(KVASIR|BRAGI|NORNES|SAGA|SYN)\s*:\s*(.+?)\s*\[(LOW|MEDIUM|HIGH|CRITICAL)\]\s*$`)

func parseChallenges(text string) []Challenge {
	var out []Challenge
	for _, line := range strings.Split(text, "\n") {
		m := challengeLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		out = append(out, Challenge{
			Target:   adapter.Member(m[1]),
			Problem:  m[2],
			Severity: m[3],
		})
	}
	return out
}

// arbitrate buckets each responding member's confidence into yes (>=70),
// partial ([50,69]), or no (<50), then renders TYR's verdict per spec §4.5:
//   - CONSENSUS if no = 0 and yes >= ceil(N/2)+1;
//   - MAJORITY if yes > no but not consensus;
//   - SPLIT if yes = no;
//   - DEADLOCK if no > yes and requireConsensus (otherwise SPLIT, since the
//     spec names no verdict for a no-majority the caller didn't require
//     consensus on).
//
// TYR itself never votes — it only tallies.
func arbitrate(responses []MemberResponse, requireConsensus bool) Verdict {
	var yes, partial, no int
	voting := 0
	for _, r := range responses {
		if r.Err != nil {
			continue
		}
		voting++
		switch {
		case r.Response.Confidence >= 70:
			yes++
		case r.Response.Confidence >= 50:
			partial++
		default:
			no++
		}
	}

	if voting == 0 {
		return VerdictDeadlock
	}

	consensusThreshold := (voting+1)/2 + 1 // ceil(voting/2)+1
	switch {
	case no == 0 && yes >= consensusThreshold:
		return VerdictConsensus
	case yes > no:
		return VerdictMajority
	case yes == no:
		return VerdictSplit
	case requireConsensus:
		return VerdictDeadlock
	default:
		return VerdictSplit
	}
}

func synthesizeProposal(responses []MemberResponse, verdict Verdict) string {
	if verdict == VerdictDeadlock || verdict == VerdictSplit {
		return ""
	}
	best := bestByConfidence(responses)
	if best == nil {
		return ""
	}
	return best.Response.Content
}

func bestByConfidence(responses []MemberResponse) *MemberResponse {
	var best *MemberResponse
	for i := range responses {
		r := &responses[i]
		if r.Err != nil {
			continue
		}
		if best == nil || r.Response.Confidence > best.Response.Confidence {
			best = r
		}
	}
	return best
}

// VoteRecord collapses responses into the {member: confidence} map persisted
// alongside a ledger audit entry.
func VoteRecord(responses []MemberResponse) map[string]int {
	out := make(map[string]int, len(responses))
	for _, r := range responses {
		if r.Err != nil {
			continue
		}
		out[string(r.Member)] = r.Response.Confidence
	}
	return out
}

// shapleyVerdict maps a council Verdict onto shapley's local vocabulary.
func shapleyVerdict(v Verdict) shapley.Verdict {
	return shapley.Verdict(v)
}

// ShapleyInputs converts a Deliberation's responses and LOKI challenges into
// the per-member signals the shapley package needs, plus the verdict used to
// weight verdict alignment. Members that errored out are excluded — they
// contributed nothing to attribute.
func (d Deliberation) ShapleyInputs() ([]shapley.MemberInput, shapley.Verdict) {
	bySeverity := make(map[adapter.Member][]string)
	var highOrCriticalByLoki int
	for _, c := range d.Challenges {
		bySeverity[c.Target] = append(bySeverity[c.Target], c.Severity)
		if c.Severity == "HIGH" || c.Severity == "CRITICAL" {
			highOrCriticalByLoki++
		}
	}

	inputs := make([]shapley.MemberInput, 0, len(d.Responses)+1)
	for _, r := range d.Responses {
		if r.Err != nil {
			continue
		}
		inputs = append(inputs, shapley.MemberInput{
			ID:              string(r.Member),
			Confidence:      r.Response.Confidence,
			ReasoningLength: len(r.Response.Reasoning),
			Severities:      bySeverity[r.Member],
		})
	}
	if len(d.Challenges) > 0 {
		inputs = append(inputs, shapley.MemberInput{
			ID:                           string(adapter.MemberLoki),
			IsLoki:                       true,
			HighSeverityChallengesRaised: highOrCriticalByLoki,
		})
	}
	return inputs, shapleyVerdict(d.Verdict)
}

// sortedKeys is a small helper kept for deterministic map iteration when
// logging vote tallies.
func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// summary renders a human-readable vote tally, used in deliberation logs.
func summary(m map[string]int) string {
	keys := sortedKeys(m)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+strconv.Itoa(m[k]))
	}
	return strings.Join(parts, ", ")
}
