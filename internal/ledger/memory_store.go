package ledger

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/yggdrasil-ai/yggdrasil/internal/domain"
)

// MemoryStore is an in-process, mutex-guarded Store implementation. It backs
// unit tests and single-instance deployments that don't need durability
// across restarts.
type MemoryStore struct {
	mu    sync.RWMutex
	nodes map[uuid.UUID]domain.Node
	audit map[uuid.UUID][]domain.AuditEntry
	deps  map[uuid.UUID][]domain.Dependency
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes: make(map[uuid.UUID]domain.Node),
		audit: make(map[uuid.UUID][]domain.AuditEntry),
		deps:  make(map[uuid.UUID][]domain.Dependency),
	}
}

func (m *MemoryStore) CreateNode(_ context.Context, n domain.Node) (domain.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	now := nowFunc().UTC()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	n.UpdatedAt = now
	m.nodes[n.ID] = n
	return n, nil
}

func (m *MemoryStore) GetNode(_ context.Context, id uuid.UUID) (domain.Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.nodes[id]
	if !ok {
		return domain.Node{}, ErrNotFound
	}
	return n, nil
}

func (m *MemoryStore) UpdateNode(_ context.Context, n domain.Node) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.nodes[n.ID]; !ok {
		return ErrNotFound
	}
	n.UpdatedAt = nowFunc().UTC()
	m.nodes[n.ID] = n
	return nil
}

func (m *MemoryStore) AppendAudit(_ context.Context, nodeID uuid.UUID, entry domain.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.nodes[nodeID]; !ok {
		return ErrNotFound
	}
	m.audit[nodeID] = append(m.audit[nodeID], entry)
	return nil
}

func (m *MemoryStore) ListAudit(_ context.Context, nodeID uuid.UUID) ([]domain.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.AuditEntry, len(m.audit[nodeID]))
	copy(out, m.audit[nodeID])
	return out, nil
}

func (m *MemoryStore) AddDependency(_ context.Context, dep domain.Dependency) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deps[dep.Source] = append(m.deps[dep.Source], dep)
	return nil
}

func (m *MemoryStore) DependenciesOf(_ context.Context, nodeID uuid.UUID) ([]domain.Dependency, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Dependency, len(m.deps[nodeID]))
	copy(out, m.deps[nodeID])
	return out, nil
}

func (m *MemoryStore) NodesByQueue(_ context.Context, q domain.Queue, limit int) ([]domain.Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Node
	for _, n := range m.nodes {
		if n.Queue == q && !n.State.Terminal() {
			out = append(out, n)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *MemoryStore) ListAll(_ context.Context) ([]domain.Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Node, 0, len(m.nodes))
	for _, n := range m.nodes {
		out = append(out, n)
	}
	return out, nil
}
