// Package checkpoint implements snapshot/rollback of the knowledge ledger.
// A checkpoint freezes a chosen set of member nodes behind a stable hash of
// their sorted IDs (spec §3, §4.9); rollback never rewrites history — it
// appends ROLLBACK audit entries that restore snapshotted state and
// invalidates nodes, reachable from those members, that did not exist at
// checkpoint time.
package checkpoint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/yggdrasil-ai/yggdrasil/internal/domain"
)

// Store is the minimal persistence surface the checkpoint engine needs.
// ledger.Store satisfies it structurally.
type Store interface {
	ListAll(ctx context.Context) ([]domain.Node, error)
	GetNode(ctx context.Context, id uuid.UUID) (domain.Node, error)
	UpdateNode(ctx context.Context, n domain.Node) error
	AppendAudit(ctx context.Context, nodeID uuid.UUID, entry domain.AuditEntry) error
	DependenciesOf(ctx context.Context, nodeID uuid.UUID) ([]domain.Dependency, error)
}

// NodeSnapshot captures one member node's state at checkpoint time (spec §3).
type NodeSnapshot struct {
	NodeID           uuid.UUID
	State            domain.NodeState
	Branch           domain.Branch
	Confidence       int
	Velocity         float64
	PriorityQueue    domain.Queue
	AuditTrailLength int
}

// Checkpoint is a point-in-time snapshot of a chosen set of member nodes
// (spec §3).
type Checkpoint struct {
	ID            uuid.UUID
	UserID        string
	Label         string
	Description   string
	StateHash     string
	MemberNodeIDs []uuid.UUID
	Snapshots     []NodeSnapshot
	CreatedAt     time.Time
}

// CreateOptions holds optional checkpoint metadata (spec §4.9's create opts).
type CreateOptions struct {
	Description string
}

// Create snapshots every node in memberIDs. A nil or empty memberIDs
// snapshots the entire ledger, for callers with no finer-grained selection.
// stateHash is a stable hash over the sorted member-id set (spec §3), not a
// content hash of node state — two checkpoints over the same members hash
// identically even if those members' state has since diverged.
func Create(ctx context.Context, store Store, userID, label string, memberIDs []uuid.UUID, opts CreateOptions) (Checkpoint, error) {
	ids := memberIDs
	if len(ids) == 0 {
		nodes, err := store.ListAll(ctx)
		if err != nil {
			return Checkpoint{}, fmt.Errorf("checkpoint: create: list nodes: %w", err)
		}
		ids = make([]uuid.UUID, 0, len(nodes))
		for _, n := range nodes {
			ids = append(ids, n.ID)
		}
	}

	sorted := make([]uuid.UUID, len(ids))
	copy(sorted, ids)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].String() < sorted[j].String() })

	snapshots := make([]NodeSnapshot, 0, len(sorted))
	for _, id := range sorted {
		n, err := store.GetNode(ctx, id)
		if err != nil {
			return Checkpoint{}, fmt.Errorf("checkpoint: create: load member %s: %w", id, err)
		}
		snapshots = append(snapshots, NodeSnapshot{
			NodeID:           n.ID,
			State:            n.State,
			Branch:           n.Branch,
			Confidence:       n.Confidence,
			Velocity:         n.Velocity,
			PriorityQueue:    n.Queue,
			AuditTrailLength: len(n.AuditTrail),
		})
	}

	return Checkpoint{
		ID:            uuid.New(),
		UserID:        userID,
		Label:         label,
		Description:   opts.Description,
		StateHash:     stateHash(sorted),
		MemberNodeIDs: sorted,
		Snapshots:     snapshots,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// stateHash hashes the sorted member-id set into a single stable digest
// (spec §3: "stateHash = stable hash over the sorted node-id set").
func stateHash(sortedIDs []uuid.UUID) string {
	if len(sortedIDs) == 0 {
		return ""
	}
	h := sha256.New()
	for _, id := range sortedIDs {
		h.Write(id[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// RollbackResult summarizes the effect of a rollback (spec §4.9:
// {invalidatedCount, restoredCount}).
type RollbackResult struct {
	Restored    []uuid.UUID
	Invalidated []uuid.UUID
}

// Rollback restores every checkpoint member to its snapshotted
// state/branch/confidence/velocity/queue via a new ROLLBACK audit entry
// (never rewriting existing history), then walks outward from the member
// set along dependency edges and deprecates every reachable node created
// after the checkpoint (spec §4.9).
func Rollback(ctx context.Context, store Store, cp Checkpoint, agent string) (RollbackResult, error) {
	snapshotted := make(map[uuid.UUID]NodeSnapshot, len(cp.Snapshots))
	for _, s := range cp.Snapshots {
		snapshotted[s.NodeID] = s
	}

	var res RollbackResult
	for _, snap := range cp.Snapshots {
		n, err := store.GetNode(ctx, snap.NodeID)
		if err != nil {
			return res, fmt.Errorf("checkpoint: rollback: load node %s: %w", snap.NodeID, err)
		}
		if n.State == snap.State && n.Branch == snap.Branch && n.Confidence == snap.Confidence &&
			n.Queue == snap.PriorityQueue && n.Velocity == snap.Velocity {
			continue
		}
		from := n.State
		delta := snap.Confidence - n.Confidence
		n.State = snap.State
		n.Branch = snap.Branch
		n.Confidence = snap.Confidence
		n.Queue = snap.PriorityQueue
		n.Velocity = snap.Velocity
		if err := store.UpdateNode(ctx, n); err != nil {
			return res, fmt.Errorf("checkpoint: rollback: update node %s: %w", snap.NodeID, err)
		}
		entry := domain.AuditEntry{
			Timestamp:       time.Now().UTC(),
			Action:          "ROLLBACK",
			FromState:       from,
			ToState:         snap.State,
			Trigger:         "CHECKPOINT_ROLLBACK",
			Agent:           agent,
			Reason:          fmt.Sprintf("restored to checkpoint %s", cp.ID),
			ConfidenceDelta: &delta,
		}
		if err := store.AppendAudit(ctx, snap.NodeID, entry); err != nil {
			return res, fmt.Errorf("checkpoint: rollback: audit node %s: %w", snap.NodeID, err)
		}
		res.Restored = append(res.Restored, snap.NodeID)
	}

	reachable, err := reachableFrom(ctx, store, cp.MemberNodeIDs)
	if err != nil {
		return res, fmt.Errorf("checkpoint: rollback: walk dependents: %w", err)
	}
	for _, id := range reachable {
		if _, existed := snapshotted[id]; existed {
			continue
		}
		n, err := store.GetNode(ctx, id)
		if err != nil {
			return res, fmt.Errorf("checkpoint: rollback: load candidate %s: %w", id, err)
		}
		if !n.CreatedAt.After(cp.CreatedAt) || n.State.Terminal() {
			continue
		}
		from := n.State
		n.State = domain.StateDeprecated
		if err := store.UpdateNode(ctx, n); err != nil {
			return res, fmt.Errorf("checkpoint: rollback: invalidate new node %s: %w", n.ID, err)
		}
		entry := domain.AuditEntry{
			Timestamp: time.Now().UTC(),
			Action:    "ROLLBACK_INVALIDATE",
			FromState: from,
			ToState:   domain.StateDeprecated,
			Trigger:   "CHECKPOINT_ROLLBACK",
			Agent:     agent,
			Reason:    fmt.Sprintf("node did not exist at checkpoint %s", cp.ID),
		}
		if err := store.AppendAudit(ctx, n.ID, entry); err != nil {
			return res, fmt.Errorf("checkpoint: rollback: audit invalidate %s: %w", n.ID, err)
		}
		res.Invalidated = append(res.Invalidated, n.ID)
	}

	return res, nil
}

// reachableFrom walks outward along outgoing dependency edges from every
// root id, mirroring cascade.Run's breadth-first traversal, and returns
// every node reached including the roots themselves. A visited set
// guarantees termination in the presence of cycles.
func reachableFrom(ctx context.Context, store Store, roots []uuid.UUID) ([]uuid.UUID, error) {
	visited := make(map[uuid.UUID]bool, len(roots))
	queue := make([]uuid.UUID, 0, len(roots))
	for _, id := range roots {
		if visited[id] {
			continue
		}
		visited[id] = true
		queue = append(queue, id)
	}

	out := append([]uuid.UUID{}, queue...)
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		deps, err := store.DependenciesOf(ctx, current)
		if err != nil {
			return nil, fmt.Errorf("checkpoint: dependencies of %s: %w", current, err)
		}
		for _, d := range deps {
			if visited[d.Target] {
				continue
			}
			visited[d.Target] = true
			out = append(out, d.Target)
			queue = append(queue, d.Target)
		}
	}
	return out, nil
}
