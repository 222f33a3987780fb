// Package adapter provides a uniform wrapper over heterogeneous external
// language-model providers. Every council member is backed by exactly one
// Adapter; availability is a capability check, never a type discriminator
// (spec §9 design note), so the council registry holds a plain slice of
// values implementing the interface.
package adapter

import (
	"context"
	"fmt"
	"time"
)

// Member is a council member role. Each is backed by one model adapter.
type Member string

const (
	MemberKvasir Member = "KVASIR"
	MemberBragi  Member = "BRAGI"
	MemberNornes Member = "NORNES"
	MemberSaga   Member = "SAGA"
	MemberSyn    Member = "SYN"
	MemberLoki   Member = "LOKI"
	MemberTyr    Member = "TYR"
)

// Response is a council member's reply to a query.
type Response struct {
	Content    string
	Confidence int // 0-100
	Reasoning  string
	Model      string
}

// Adapter is the narrow contract every model provider implements (spec §1:
// "an adapter whose only contract is query(prompt) -> {content, confidence,
// reasoning}"). Implementations enforce their own per-call timeout; on
// timeout, Query returns a non-nil error rather than blocking the caller.
type Adapter interface {
	Member() Member
	ModelID() string
	Query(ctx context.Context, prompt string) (Response, error)
	IsAvailable(ctx context.Context) bool
}

// DefaultTimeout bounds a single adapter call. Council fan-out relies on this
// being strictly shorter than the phase deadline it is nested inside.
const DefaultTimeout = 20 * time.Second

// SystemPrompt returns the fixed, compiled-in system prompt for a council
// member. Prompts constrain members to direct, language-matched, technical
// output (spec §4.4) and never vary at runtime.
func SystemPrompt(m Member) string {
	base := "You are %s, a member of the YGGDRASIL council. Respond in the same " +
		"language as the query. Be direct and technical: state your answer, your " +
		"confidence (0-100), and a short chain of reasoning. Never fabricate a " +
		"citation; if you are not sure, say so and lower your confidence."
	switch m {
	case MemberKvasir:
		return fmt.Sprintf(base, "Kvasir, the synthesist who favors broad, well-supported consensus views")
	case MemberBragi:
		return fmt.Sprintf(base, "Bragi, who favors precise, narrowly scoped technical claims")
	case MemberNornes:
		return fmt.Sprintf(base, "Nornes, who reasons about temporal and causal structure")
	case MemberSaga:
		return fmt.Sprintf(base, "Saga, who grounds answers in historical precedent and prior art")
	case MemberSyn:
		return fmt.Sprintf(base, "Syn the gatekeeper, who is skeptical of unverified claims")
	case MemberLoki:
		return "You are LOKI, the adversarial challenger of the YGGDRASIL council. You do not " +
			"answer the query yourself. Given the other members' responses, find the weakest " +
			"claims and raise challenges: name the target member, state the problem, and assign " +
			"a severity (LOW, MEDIUM, HIGH, CRITICAL). Challenge aggressively but honestly; an " +
			"empty challenge list is a valid, even expected, outcome when responses agree and are " +
			"well supported."
	case MemberTyr:
		return "You are TYR, the arbiter of the YGGDRASIL council. You do not answer the query " +
			"yourself; you are invoked programmatically to tally votes and render a verdict."
	default:
		return fmt.Sprintf(base, string(m))
	}
}
