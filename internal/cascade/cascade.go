// Package cascade implements cascade invalidation: when a node's state
// changes (typically to DEPRECATED or REJECTED), every transitive dependent
// must be re-evaluated so the ledger never holds a VERIFIED node whose
// support has been pulled out from under it (spec §4.8).
package cascade

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/yggdrasil-ai/yggdrasil/internal/domain"
)

// Store is the minimal persistence surface cascade needs. ledger.Store
// satisfies it structurally; cascade has no import-time dependency on the
// ledger package.
type Store interface {
	GetNode(ctx context.Context, id uuid.UUID) (domain.Node, error)
	UpdateNode(ctx context.Context, n domain.Node) error
	AppendAudit(ctx context.Context, nodeID uuid.UUID, entry domain.AuditEntry) error
	DependenciesOf(ctx context.Context, nodeID uuid.UUID) ([]domain.Dependency, error)
}

// Result summarizes one cascade run.
type Result struct {
	RootID            uuid.UUID
	Invalidated       []uuid.UUID // direct-invalidate, strength >= CascadeStrengthFloor
	ScheduledForReview []uuid.UUID // strength < CascadeStrengthFloor
	VisitedCount      int
	Duration          time.Duration
}

// Run performs a breadth-first walk outward from root along outgoing
// dependency edges. A visited set guarantees termination even in the
// presence of cycles (I4); each node is processed at most once regardless of
// how many paths reach it.
func Run(ctx context.Context, store Store, rootID uuid.UUID, trigger, agent string) (Result, error) {
	start := time.Now()
	visited := map[uuid.UUID]bool{rootID: true}
	queue := []uuid.UUID{rootID}

	res := Result{RootID: rootID}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		res.VisitedCount++

		deps, err := store.DependenciesOf(ctx, current)
		if err != nil {
			return res, fmt.Errorf("cascade: dependencies of %s: %w", current, err)
		}

		for _, d := range deps {
			if visited[d.Target] {
				continue
			}
			visited[d.Target] = true

			dependent, err := store.GetNode(ctx, d.Target)
			if err != nil {
				return res, fmt.Errorf("cascade: load dependent %s: %w", d.Target, err)
			}
			if dependent.State.Terminal() {
				continue
			}

			if d.Strength >= domain.CascadeStrengthFloor {
				if err := invalidate(ctx, store, dependent, current, trigger, agent); err != nil {
					return res, err
				}
				res.Invalidated = append(res.Invalidated, dependent.ID)
			} else {
				if err := scheduleReview(ctx, store, dependent, current, agent); err != nil {
					return res, err
				}
				res.ScheduledForReview = append(res.ScheduledForReview, dependent.ID)
			}

			// Continue the walk from every dependent regardless of the
			// strength branch taken — a weak edge still propagates the
			// traversal, it just doesn't force invalidation itself.
			queue = append(queue, d.Target)
		}
	}

	res.Duration = time.Since(start)
	return res, nil
}

func invalidate(ctx context.Context, store Store, n domain.Node, causeID uuid.UUID, trigger, agent string) error {
	from := n.State
	n.State = domain.StateDeprecated
	n.Queue = domain.QueueHot
	if err := store.UpdateNode(ctx, n); err != nil {
		return fmt.Errorf("cascade: invalidate %s: %w", n.ID, err)
	}
	entry := domain.AuditEntry{
		Timestamp: time.Now().UTC(),
		Action:    "CASCADE_INVALIDATE",
		FromState: from,
		ToState:   domain.StateDeprecated,
		Trigger:   trigger,
		Agent:     agent,
		Reason:    fmt.Sprintf("cascade from dependency %s", causeID),
	}
	return store.AppendAudit(ctx, n.ID, entry)
}

func scheduleReview(ctx context.Context, store Store, n domain.Node, causeID uuid.UUID, agent string) error {
	n.Queue = domain.QueueHot
	n.IdleCycles = 0
	if err := store.UpdateNode(ctx, n); err != nil {
		return fmt.Errorf("cascade: schedule review for %s: %w", n.ID, err)
	}
	entry := domain.AuditEntry{
		Timestamp: time.Now().UTC(),
		Action:    "CASCADE_REVIEW_SCHEDULED",
		FromState: n.State,
		ToState:   n.State,
		Trigger:   "CASCADE",
		Agent:     agent,
		Reason:    fmt.Sprintf("weak dependency on invalidated/changed node %s", causeID),
	}
	return store.AppendAudit(ctx, n.ID, entry)
}
