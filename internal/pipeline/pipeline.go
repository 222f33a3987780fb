// Package pipeline orchestrates one end-to-end query: classify, fan out to
// branch handlers, deliberate in council, validate with Odin, and persist
// to the knowledge ledger (spec §4.12).
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yggdrasil-ai/yggdrasil/internal/adapter"
	"github.com/yggdrasil-ai/yggdrasil/internal/branches"
	"github.com/yggdrasil-ai/yggdrasil/internal/classifier"
	"github.com/yggdrasil-ai/yggdrasil/internal/council"
	"github.com/yggdrasil-ai/yggdrasil/internal/domain"
	"github.com/yggdrasil-ai/yggdrasil/internal/ledger"
	"github.com/yggdrasil-ai/yggdrasil/internal/shapley"
	"github.com/yggdrasil-ai/yggdrasil/internal/validator"
)

// Phase names for emitted steps, fixed per spec §4.12.
const (
	PhaseClassify        = "classify"
	PhaseFanOutBranches   = "fan_out_branches"
	PhaseCouncilDeliberate = "council_deliberate"
	PhaseValidate         = "validate"
	PhasePersist          = "persist"
)

// DefaultDeadlineBudget bounds a full pipeline run when neither the request
// (Request.MaxTimeMs) nor the service (Service.deadline, from
// cfg.PipelineDeadline) supplies one. Each phase checks the remaining budget
// before starting and short-circuits to a TIMEOUT refusal, including the
// partial trace collected so far, rather than starting work it cannot finish
// (spec §4.12).
const DefaultDeadlineBudget = 90 * time.Second

// Request is one incoming query.
type Request struct {
	Query              string
	RequireMimirAnchor bool
	// MaxTimeMs bounds this request's total pipeline budget (spec §4.12). Zero
	// defers to the Service's configured deadline.
	MaxTimeMs int
	// RequireConsensus is threaded into council.Deliberate's DEADLOCK rule
	// (spec §4.5). Defaults to true: an epistemic core that tolerates
	// deadlocked verdicts by default contradicts the no-unsourced-answers
	// guarantee (spec.md Non-goals), so callers must opt out explicitly.
	RequireConsensus *bool
}

// requireConsensus resolves the request's RequireConsensus, defaulting to
// true when unset.
func (r Request) requireConsensus() bool {
	if r.RequireConsensus == nil {
		return true
	}
	return *r.RequireConsensus
}

// deadline resolves this request's pipeline budget: Request.MaxTimeMs when
// set, else the Service's configured default.
func (r Request) deadline(fallback time.Duration) time.Duration {
	if r.MaxTimeMs > 0 {
		return time.Duration(r.MaxTimeMs) * time.Millisecond
	}
	return fallback
}

// Response is the pipeline's terminal result for a request.
type Response struct {
	Content         string
	Confidence      int
	NodeID          string
	Sources         []domain.Source
	Verdict         council.Verdict
	Classification  classifier.Classification
	Approved        bool
	RejectionReason validator.RejectionReason

	// DeliberationID identifies the council run behind this response, for
	// correlation with audit/trace records (spec §3).
	DeliberationID string
	// Branch is the evidence branch the final answer was anchored to, or
	// empty when no branch contributed evidence (spec §6).
	Branch domain.Branch
	// Trace is Odin's validation trace; present whenever the request reached
	// the validate phase, including on refusal (spec §4.11, §6).
	Trace validator.Trace
}

// Step is one phase's record, emitted by ProcessWithThinking and
// ProcessWithStreaming.
type Step struct {
	Phase    string
	Started  time.Time
	Duration time.Duration
	Detail   string
}

// ThinkingResult is process's output plus every phase it emitted.
type ThinkingResult struct {
	Steps    []Step
	Response Response
}

// StreamEvent is one lazily emitted event from ProcessWithStreaming: exactly
// one of Step, Response, or Err is set. The sequence always terminates in
// either a Response or an Err event (spec §4.12).
type StreamEvent struct {
	Step     *Step
	Response *Response
	Err      error
}

// BranchHandlers groups the three branch handlers a pipeline run fans out
// to. A nil handler is treated as contributing no evidence.
type BranchHandlers struct {
	Mimir *branches.MimirHandler
	Volva *branches.VolvaHandler
	Hugin *branches.HuginHandler
}

// Service wires together every collaborator a pipeline run needs.
type Service struct {
	branches *BranchHandlers
	registry *adapter.Registry
	ledger   *ledger.Ledger
	logger   *slog.Logger
	deadline time.Duration
}

// New constructs a pipeline Service. deadline is the default per-request
// budget (normally cfg.PipelineDeadline); a request's own MaxTimeMs, when
// set, overrides it. A zero deadline falls back to DefaultDeadlineBudget.
func New(branchHandlers *BranchHandlers, registry *adapter.Registry, led *ledger.Ledger, logger *slog.Logger, deadline time.Duration) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if deadline <= 0 {
		deadline = DefaultDeadlineBudget
	}
	return &Service{branches: branchHandlers, registry: registry, ledger: led, logger: logger, deadline: deadline}
}

// ComponentStatus reports one subsystem's liveness for the health endpoint
// (spec §6): "ok", "degraded", or "down".
type ComponentStatus struct {
	Mimir string
	Volva string
	Hugin string
	Thing string // council deliberation
	Odin  string // validator
	Munin string // knowledge ledger
}

func branchStatus(configured bool) string {
	if configured {
		return "ok"
	}
	return "down"
}

// HealthSnapshot reports each wired subsystem's status. A nil handler or
// registry member is "down" rather than "degraded": the pipeline was built
// without it, not failing to reach it.
func (s *Service) HealthSnapshot(ctx context.Context) ComponentStatus {
	votingMembers := 0
	if s.registry != nil {
		votingMembers = len(s.registry.Available(func(a adapter.Adapter) bool {
			m := a.Member()
			return m != adapter.MemberLoki && m != adapter.MemberTyr && a.IsAvailable(ctx)
		}))
	}
	thing := "down"
	if votingMembers > 0 {
		thing = "ok"
	}

	return ComponentStatus{
		Mimir: branchStatus(s.branches != nil && s.branches.Mimir != nil),
		Volva: branchStatus(s.branches != nil && s.branches.Volva != nil),
		Hugin: branchStatus(s.branches != nil && s.branches.Hugin != nil),
		Thing: thing,
		Odin:  "ok", // Odin is a pure function of its inputs; always available
		Munin: branchStatus(s.ledger != nil),
	}
}

// Process runs the full pipeline and returns only the final response,
// discarding intermediate step records.
func (s *Service) Process(ctx context.Context, req Request) (Response, error) {
	result, err := s.ProcessWithThinking(ctx, req)
	return result.Response, err
}

// ProcessWithThinking runs the full pipeline, recording every phase it
// passed through alongside the final response.
func (s *Service) ProcessWithThinking(ctx context.Context, req Request) (ThinkingResult, error) {
	ctx, cancel := context.WithTimeout(ctx, req.deadline(s.deadline))
	defer cancel()

	pipelineStart := time.Now()
	var steps []Step
	record := func(phase string, start time.Time, detail string) {
		steps = append(steps, Step{Phase: phase, Started: start, Duration: time.Since(start), Detail: detail})
	}
	timeout := func() (ThinkingResult, error) {
		return ThinkingResult{Steps: steps, Response: s.timeoutResponse(pipelineStart, steps)}, fmt.Errorf("pipeline: %w", domain.ErrDeadlineExceeded)
	}

	if err := ctx.Err(); err != nil {
		return timeout()
	}

	// classify
	start := time.Now()
	class := classifier.Classify(req.Query)
	record(PhaseClassify, start, string(class.Type))

	// fan_out_branches
	if err := ctx.Err(); err != nil {
		return timeout()
	}
	start = time.Now()
	evidence, sources, err := s.fanOutBranches(ctx, req.Query)
	if err != nil {
		return ThinkingResult{Steps: steps}, fmt.Errorf("pipeline: fan_out_branches: %w", err)
	}
	record(PhaseFanOutBranches, start, fmt.Sprintf("%d branches responded", len(evidence)))

	// council_deliberate
	if err := ctx.Err(); err != nil {
		return timeout()
	}
	start = time.Now()
	deliberation, err := council.Deliberate(ctx, s.registry, s.logger, req.Query, nil, req.requireConsensus())
	if err != nil {
		return ThinkingResult{Steps: steps}, fmt.Errorf("pipeline: council_deliberate: %w", err)
	}
	record(PhaseCouncilDeliberate, start, string(deliberation.Verdict))

	// validate
	if err := ctx.Err(); err != nil {
		return timeout()
	}
	start = time.Now()
	verdict := validator.Validate(validator.Request{
		Content:            deliberation.FinalProposal,
		RequireMimirAnchor: req.RequireMimirAnchor,
		Sources:            sources,
		CouncilVerdict:     deliberation.Verdict,
		BranchResults:      evidence,
	})
	record(PhaseValidate, start, verdict.Trace.FinalDecision)

	var branch domain.Branch
	if len(evidence) > 0 {
		branch, _ = bestEvidenceBranch(evidence)
	}
	resp := Response{
		Content:         deliberation.FinalProposal,
		Confidence:      verdict.Confidence,
		Sources:         verdict.Sources,
		Verdict:         deliberation.Verdict,
		Classification:  class,
		Approved:        verdict.IsValid,
		RejectionReason: verdict.Reason,
		DeliberationID:  deliberation.ID.String(),
		Branch:          branch,
		Trace:           verdict.Trace,
	}

	if !verdict.IsValid {
		return ThinkingResult{Steps: steps, Response: resp}, nil
	}

	// persist
	if err := ctx.Err(); err != nil {
		return ThinkingResult{Steps: steps, Response: resp}, fmt.Errorf("pipeline: persist: %w", domain.ErrDeadlineExceeded)
	}
	start = time.Now()
	nodeID, err := s.persist(ctx, req, class, evidence, deliberation)
	if err != nil {
		return ThinkingResult{Steps: steps, Response: resp}, fmt.Errorf("pipeline: persist: %w", err)
	}
	record(PhasePersist, start, nodeID)
	resp.NodeID = nodeID

	return ThinkingResult{Steps: steps, Response: resp}, nil
}

// ProcessWithStreaming runs the pipeline and emits one StreamEvent per
// completed phase on the returned channel, terminating with a single
// Response or Err event before the channel closes (spec §4.12).
func (s *Service) ProcessWithStreaming(ctx context.Context, req Request) <-chan StreamEvent {
	out := make(chan StreamEvent)
	go func() {
		defer close(out)
		result, err := s.ProcessWithThinking(ctx, req)
		for i := range result.Steps {
			step := result.Steps[i]
			select {
			case out <- StreamEvent{Step: &step}:
			case <-ctx.Done():
				out <- StreamEvent{Err: fmt.Errorf("pipeline: %w", domain.ErrDeadlineExceeded)}
				return
			}
		}
		if err != nil {
			out <- StreamEvent{Err: err}
			return
		}
		resp := result.Response
		out <- StreamEvent{Response: &resp}
	}()
	return out
}

func (s *Service) fanOutBranches(ctx context.Context, query string) ([]branches.Evidence, []domain.Source, error) {
	if s.branches == nil {
		return nil, nil, nil
	}

	var (
		mimirEv, volvaEv, huginEv branches.Evidence
	)

	g, gCtx := errgroup.WithContext(ctx)
	if s.branches.Mimir != nil {
		g.Go(func() error {
			ev, err := s.branches.Mimir.Resolve(gCtx, query)
			if err != nil {
				return fmt.Errorf("mimir: %w", err)
			}
			mimirEv = ev
			return nil
		})
	}
	if s.branches.Volva != nil {
		g.Go(func() error {
			ev, err := s.branches.Volva.Resolve(gCtx, query)
			if err != nil {
				return fmt.Errorf("volva: %w", err)
			}
			volvaEv = ev
			return nil
		})
	}
	if s.branches.Hugin != nil {
		g.Go(func() error {
			ev, err := s.branches.Hugin.Resolve(gCtx, query)
			if err != nil {
				return fmt.Errorf("hugin: %w", err)
			}
			huginEv = ev
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var evidence []branches.Evidence
	var sources []domain.Source
	for _, ev := range []branches.Evidence{mimirEv, volvaEv, huginEv} {
		if ev.Empty() {
			continue
		}
		evidence = append(evidence, ev)
		sources = append(sources, ev.Sources...)
	}
	return evidence, sources, nil
}

func (s *Service) persist(ctx context.Context, req Request, class classifier.Classification, evidence []branches.Evidence, deliberation council.Deliberation) (string, error) {
	if s.ledger == nil {
		return "", nil
	}

	branch, confidence := bestEvidenceBranch(evidence)
	statement := deliberation.FinalProposal
	if domain.NormalizeStatement(statement) == "" {
		statement = req.Query
	}
	node, err := s.ledger.CreateNode(ctx, ledger.CreateNodeInput{
		Statement:  domain.NormalizeStatement(statement),
		Domain:     string(class.Domain),
		Tags:       class.Keywords,
		Branch:     branch,
		Confidence: confidence,
		Agent:      "pipeline",
		Trigger:    "QUERY",
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrPersistenceFailure, err)
	}

	inputs, verdict := deliberation.ShapleyInputs()
	attribution := shapley.Attribute(inputs, verdict)
	if err := s.ledger.UpdateShapleyAttribution(ctx, node.ID, attribution); err != nil {
		return node.ID.String(), fmt.Errorf("%w: %v", domain.ErrPersistenceFailure, err)
	}

	return node.ID.String(), nil
}

// timeoutResponse builds the refusal returned when the pipeline's deadline
// expires before Odin ever rendered a verdict. It carries whatever phase
// steps ran so far as the partial trace (spec §4.12).
func (s *Service) timeoutResponse(pipelineStart time.Time, steps []Step) Response {
	var odinSteps []validator.Step
	for _, st := range steps {
		odinSteps = append(odinSteps, validator.Step{Name: st.Phase, Passed: true, Detail: st.Detail})
	}
	return Response{
		Approved:        false,
		RejectionReason: validator.ReasonTimeout,
		Trace: validator.Trace{
			Steps:          odinSteps,
			FinalDecision:  "REJECTED",
			ProcessingTime: time.Since(pipelineStart),
			OdinVersion:    validator.OdinVersion,
		},
	}
}

func bestEvidenceBranch(evidence []branches.Evidence) (domain.Branch, int) {
	if len(evidence) == 0 {
		return domain.BranchHugin, 0
	}
	best := evidence[0]
	for _, ev := range evidence[1:] {
		if ev.Confidence > best.Confidence {
			best = ev
		}
	}
	return best.Branch, best.Confidence
}
