package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/yggdrasil-ai/yggdrasil/internal/cascade"
	"github.com/yggdrasil-ai/yggdrasil/internal/domain"
)

// Ledger is the knowledge ledger service: every mutation to a node's state,
// confidence, or dependency graph flows through here so the append-only
// audit invariant (I2) and the branch/confidence invariant (I1) are enforced
// in exactly one place.
type Ledger struct {
	store  Store
	logger *slog.Logger
}

// New constructs a Ledger over the given Store.
func New(store Store, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{store: store, logger: logger}
}

// CreateNodeInput describes a new knowledge node submitted by a branch handler.
type CreateNodeInput struct {
	Statement  string
	Domain     string
	Tags       []string
	Branch     domain.Branch
	Confidence int
	Agent      string
	Trigger    string
}

// CreateNode validates the branch/confidence partition (I1) and inserts a
// new node in PENDING_PROOF with a birth audit entry.
func (l *Ledger) CreateNode(ctx context.Context, in CreateNodeInput) (domain.Node, error) {
	stmt := domain.NormalizeStatement(in.Statement)
	if len(stmt) == 0 {
		return domain.Node{}, fmt.Errorf("ledger: create node: empty statement")
	}
	if len(stmt) > domain.MaxStatementBytes {
		return domain.Node{}, fmt.Errorf("ledger: create node: statement exceeds %d bytes", domain.MaxStatementBytes)
	}
	if err := domain.ValidateBranchConfidence(in.Branch, in.Confidence); err != nil {
		return domain.Node{}, fmt.Errorf("ledger: create node: %w", err)
	}

	now := time.Now().UTC()
	n := domain.Node{
		Statement:  stmt,
		Domain:     in.Domain,
		Tags:       in.Tags,
		Branch:     in.Branch,
		State:      domain.StatePendingProof,
		Confidence: in.Confidence,
		Queue:      domain.QueueWarm,
		CreatedAt:  now,
	}

	n, err := l.store.CreateNode(ctx, n)
	if err != nil {
		return domain.Node{}, fmt.Errorf("ledger: create node: %w", err)
	}

	entry := domain.AuditEntry{
		Timestamp: now,
		Action:    "CREATE",
		FromState: "",
		ToState:   domain.StatePendingProof,
		Trigger:   in.Trigger,
		Agent:     in.Agent,
		Reason:    "node created",
	}
	if err := l.store.AppendAudit(ctx, n.ID, entry); err != nil {
		return domain.Node{}, fmt.Errorf("ledger: create node audit: %w", err)
	}
	l.logger.Debug("ledger: node created", "node_id", n.ID, "branch", n.Branch)
	return n, nil
}

// GetNode fetches a node by ID.
func (l *Ledger) GetNode(ctx context.Context, id uuid.UUID) (domain.Node, error) {
	return l.store.GetNode(ctx, id)
}

// TransitionInput describes a requested state transition.
type TransitionInput struct {
	NodeID  uuid.UUID
	To      domain.NodeState
	Trigger string
	Agent   string
	Reason  string
	// Anchor, when transitioning to VERIFIED, is the source backing the
	// transition. Required for VERIFIED; ignored otherwise.
	Anchor *domain.Source
	// VoteRecord optionally records a council vote tally alongside the
	// transition (e.g. a deliberation-triggered VERIFIED/REJECTED).
	VoteRecord map[string]int
}

// TransitionState moves a node to a new lifecycle state, enforcing I3: a
// transition to VERIFIED requires an anchored source with trustScore >= 80,
// and a HUGIN-branch node must first have passed through VOLVA (i.e. cannot
// jump HUGIN -> VERIFIED directly; it must be re-anchored at VOLVA or above
// confidence first).
func (l *Ledger) TransitionState(ctx context.Context, in TransitionInput) (domain.Node, error) {
	n, err := l.store.GetNode(ctx, in.NodeID)
	if err != nil {
		return domain.Node{}, fmt.Errorf("ledger: transition state: %w", err)
	}

	if in.To == domain.StateVerified {
		if err := validateVerification(n, in.Anchor); err != nil {
			return domain.Node{}, err
		}
	}

	from := n.State
	n.State = in.To
	if err := l.store.UpdateNode(ctx, n); err != nil {
		return domain.Node{}, fmt.Errorf("ledger: transition state: %w", err)
	}

	entry := domain.AuditEntry{
		Timestamp:  time.Now().UTC(),
		Action:     "TRANSITION",
		FromState:  from,
		ToState:    in.To,
		Trigger:    in.Trigger,
		Agent:      in.Agent,
		Reason:     in.Reason,
		VoteRecord: in.VoteRecord,
	}
	if err := l.store.AppendAudit(ctx, n.ID, entry); err != nil {
		return domain.Node{}, fmt.Errorf("ledger: transition state audit: %w", err)
	}

	if in.To == domain.StateDeprecated || in.To == domain.StateRejected {
		if _, err := l.CascadeInvalidate(ctx, n.ID, in.Trigger, in.Agent); err != nil {
			return domain.Node{}, fmt.Errorf("ledger: cascade after transition: %w", err)
		}
	}

	return n, nil
}

func validateVerification(n domain.Node, anchor *domain.Source) error {
	if anchor == nil {
		return fmt.Errorf("ledger: transition to VERIFIED: %w", domain.ErrVerificationUnsupported)
	}
	if anchor.TrustScore < domain.MinVerifiedTrustScore {
		return fmt.Errorf("ledger: transition to VERIFIED: anchor trust score %d below %d: %w",
			anchor.TrustScore, domain.MinVerifiedTrustScore, domain.ErrVerificationUnsupported)
	}
	if n.Branch == domain.BranchHugin {
		return fmt.Errorf("ledger: transition to VERIFIED: %w: HUGIN node must be re-anchored through VOLVA before verification",
			domain.ErrVerificationUnsupported)
	}
	return nil
}

// UpdateConfidence applies a new confidence value, recomputing epistemic
// velocity and re-deriving the watcher queue (spec §4.7). This is the single
// path through which a node's confidence changes outside of initial creation.
func (l *Ledger) UpdateConfidence(ctx context.Context, nodeID uuid.UUID, newConfidence int, trigger, agent, reason string) (domain.Node, error) {
	n, err := l.store.GetNode(ctx, nodeID)
	if err != nil {
		return domain.Node{}, fmt.Errorf("ledger: update confidence: %w", err)
	}
	if newConfidence < 0 || newConfidence > 100 {
		return domain.Node{}, fmt.Errorf("ledger: update confidence: %d out of [0,100]", newConfidence)
	}

	prev := n.Confidence
	now := time.Now().UTC()
	var elapsedMs int64 = 1
	if !n.UpdatedAt.IsZero() {
		if d := now.Sub(n.UpdatedAt).Milliseconds(); d > 0 {
			elapsedMs = d
		}
	}

	n.Velocity = domain.Velocity(prev, newConfidence, elapsedMs)
	n.Queue = domain.QueueFor(n.Velocity)
	n.Confidence = newConfidence
	n.IdleCycles = 0

	if err := l.store.UpdateNode(ctx, n); err != nil {
		return domain.Node{}, fmt.Errorf("ledger: update confidence: %w", err)
	}

	delta := newConfidence - prev
	entry := domain.AuditEntry{
		Timestamp:       now,
		Action:          "CONFIDENCE_UPDATE",
		FromState:       n.State,
		ToState:         n.State,
		Trigger:         trigger,
		Agent:           agent,
		Reason:          reason,
		ConfidenceDelta: &delta,
	}
	if err := l.store.AppendAudit(ctx, n.ID, entry); err != nil {
		return domain.Node{}, fmt.Errorf("ledger: update confidence audit: %w", err)
	}
	return n, nil
}

// AddDependency records a dependency edge and validates both endpoints exist.
func (l *Ledger) AddDependency(ctx context.Context, dep domain.Dependency) error {
	if _, err := l.store.GetNode(ctx, dep.Source); err != nil {
		return fmt.Errorf("ledger: add dependency: source: %w", err)
	}
	if _, err := l.store.GetNode(ctx, dep.Target); err != nil {
		return fmt.Errorf("ledger: add dependency: target: %w", err)
	}
	if dep.Strength < 0 || dep.Strength > 1 {
		return fmt.Errorf("ledger: add dependency: strength %v out of [0,1]", dep.Strength)
	}
	if err := l.store.AddDependency(ctx, dep); err != nil {
		return fmt.Errorf("ledger: add dependency: %w", err)
	}
	return nil
}

// CascadeInvalidate runs a BFS cascade from root over the dependency graph
// (spec §4.8), invalidating strongly-dependent nodes and scheduling weakly-
// dependent ones for review.
func (l *Ledger) CascadeInvalidate(ctx context.Context, rootID uuid.UUID, trigger, agent string) (cascade.Result, error) {
	res, err := cascade.Run(ctx, l.store, rootID, trigger, agent)
	if err != nil {
		return cascade.Result{}, fmt.Errorf("ledger: cascade invalidate: %w", err)
	}
	l.logger.Info("ledger: cascade complete",
		"root_id", rootID, "invalidated", len(res.Invalidated),
		"scheduled_for_review", len(res.ScheduledForReview), "visited", res.VisitedCount)
	return res, nil
}

// ScheduleReview moves a node into the HOT queue outside of a cascade
// (e.g. a watcher-detected contradiction or a manual escalation).
func (l *Ledger) ScheduleReview(ctx context.Context, nodeID uuid.UUID, reason, agent string) (domain.Node, error) {
	n, err := l.store.GetNode(ctx, nodeID)
	if err != nil {
		return domain.Node{}, fmt.Errorf("ledger: schedule review: %w", err)
	}
	n.Queue = domain.QueueHot
	n.IdleCycles = 0
	if err := l.store.UpdateNode(ctx, n); err != nil {
		return domain.Node{}, fmt.Errorf("ledger: schedule review: %w", err)
	}
	entry := domain.AuditEntry{
		Timestamp: time.Now().UTC(),
		Action:    "SCHEDULE_REVIEW",
		FromState: n.State,
		ToState:   n.State,
		Trigger:   "MANUAL",
		Agent:     agent,
		Reason:    reason,
	}
	if err := l.store.AppendAudit(ctx, n.ID, entry); err != nil {
		return domain.Node{}, fmt.Errorf("ledger: schedule review audit: %w", err)
	}
	return n, nil
}

// UpdateScanStatus records that the watcher examined a node this cycle. If
// nothing changed (velocity stayed within the STABLE band), IdleCycles
// increments and the queue demotes once MaxIdleCycles is reached (spec §4.7).
func (l *Ledger) UpdateScanStatus(ctx context.Context, nodeID uuid.UUID, changed bool) (domain.Node, error) {
	n, err := l.store.GetNode(ctx, nodeID)
	if err != nil {
		return domain.Node{}, fmt.Errorf("ledger: update scan status: %w", err)
	}
	now := time.Now().UTC()
	n.LastScan = &now

	if changed {
		n.IdleCycles = 0
	} else {
		n.IdleCycles++
		if n.IdleCycles >= domain.MaxIdleCycles {
			n.Queue = domain.DemoteQueue(n.Queue)
			n.IdleCycles = 0
		}
	}

	if err := l.store.UpdateNode(ctx, n); err != nil {
		return domain.Node{}, fmt.Errorf("ledger: update scan status: %w", err)
	}
	return n, nil
}

// UpdateShapleyAttribution persists the latest per-member contribution
// percentages computed for a node's deliberation.
func (l *Ledger) UpdateShapleyAttribution(ctx context.Context, nodeID uuid.UUID, attribution map[string]float64) error {
	n, err := l.store.GetNode(ctx, nodeID)
	if err != nil {
		return fmt.Errorf("ledger: update shapley attribution: %w", err)
	}
	n.ShapleyAttribution = attribution
	if err := l.store.UpdateNode(ctx, n); err != nil {
		return fmt.Errorf("ledger: update shapley attribution: %w", err)
	}
	return nil
}

// AuditTrail returns a node's complete append-only history.
func (l *Ledger) AuditTrail(ctx context.Context, nodeID uuid.UUID) ([]domain.AuditEntry, error) {
	return l.store.ListAudit(ctx, nodeID)
}

// NodesByQueue returns the current batch for a watcher cycle.
func (l *Ledger) NodesByQueue(ctx context.Context, q domain.Queue, limit int) ([]domain.Node, error) {
	return l.store.NodesByQueue(ctx, q, limit)
}

// AllNodes returns every node, used by the checkpoint engine for snapshotting.
func (l *Ledger) AllNodes(ctx context.Context) ([]domain.Node, error) {
	return l.store.ListAll(ctx)
}
