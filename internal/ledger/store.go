// Package ledger implements the knowledge ledger: the append-only,
// state-machine-governed store of knowledge nodes that every branch handler
// writes to and the watcher daemon continuously re-scans.
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/yggdrasil-ai/yggdrasil/internal/domain"
)

// Store is the persistence contract the Ledger depends on. Two
// implementations exist: an in-memory Store for unit tests and
// single-process deployments, and a Postgres-backed Store (internal/ledger
// Postgres adapter) for durable, multi-instance deployments.
type Store interface {
	// CreateNode inserts a new node, returning it with ID/CreatedAt populated.
	CreateNode(ctx context.Context, n domain.Node) (domain.Node, error)
	// GetNode fetches a node by ID. Returns ErrNotFound if absent.
	GetNode(ctx context.Context, id uuid.UUID) (domain.Node, error)
	// UpdateNode persists a full node replacement (used after a state
	// transition or a confidence/velocity/queue recompute).
	UpdateNode(ctx context.Context, n domain.Node) error
	// AppendAudit appends one audit entry. Audit entries are never mutated
	// or deleted once written (I2).
	AppendAudit(ctx context.Context, nodeID uuid.UUID, entry domain.AuditEntry) error
	// ListAudit returns a node's full audit trail in insertion order.
	ListAudit(ctx context.Context, nodeID uuid.UUID) ([]domain.AuditEntry, error)

	// AddDependency records a directed edge from Source -> Target with the
	// given strength.
	AddDependency(ctx context.Context, dep domain.Dependency) error
	// DependenciesOf returns every edge whose Source is nodeID (outgoing
	// edges; the direction cascade invalidation walks).
	DependenciesOf(ctx context.Context, nodeID uuid.UUID) ([]domain.Dependency, error)

	// NodesByQueue returns every node currently in the given queue, used by
	// the watcher to build its per-cycle batch.
	NodesByQueue(ctx context.Context, q domain.Queue, limit int) ([]domain.Node, error)

	// ListAll returns every node, for checkpoint snapshotting.
	ListAll(ctx context.Context) ([]domain.Node, error)
}

// ErrNotFound is returned by Store lookups that find nothing.
var ErrNotFound = domain.ErrNotFound

// clock is overridable in tests; production code always uses time.Now.
var nowFunc = time.Now
