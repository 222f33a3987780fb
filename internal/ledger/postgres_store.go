package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/yggdrasil-ai/yggdrasil/internal/domain"
)

// PostgresStore is a durable Store backed by Postgres, grounded on the same
// pgxpool-through-PgBouncer pattern the rest of the module's storage layer
// uses. UpdateNode runs inside a transaction with a row lock so concurrent
// watcher/branch-handler writers never interleave a read-modify-write on the
// same node; AppendAudit is a single INSERT outside any transaction.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an existing pool. The pool's lifecycle (creation,
// Close) is owned by the caller.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) CreateNode(ctx context.Context, n domain.Node) (domain.Node, error) {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	now := time.Now().UTC()
	n.CreatedAt = now
	n.UpdatedAt = now

	tagsJSON, err := json.Marshal(n.Tags)
	if err != nil {
		return domain.Node{}, fmt.Errorf("ledger/postgres: marshal tags: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO knowledge_nodes
		 (id, statement, domain, tags, branch, state, confidence, velocity, queue,
		  idle_cycles, created_at, updated_at)
		 VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7, $8, $9, $10, $11, $12)`,
		n.ID, n.Statement, n.Domain, tagsJSON, n.Branch, n.State, n.Confidence,
		n.Velocity, n.Queue, n.IdleCycles, n.CreatedAt, n.UpdatedAt,
	)
	if err != nil {
		return domain.Node{}, fmt.Errorf("ledger/postgres: create node: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) GetNode(ctx context.Context, id uuid.UUID) (domain.Node, error) {
	return s.getNode(ctx, s.pool, id)
}

func (s *PostgresStore) getNode(ctx context.Context, q pgxQuerier, id uuid.UUID) (domain.Node, error) {
	var n domain.Node
	var tagsJSON []byte
	var shapleyJSON []byte
	err := q.QueryRow(ctx,

		`SELECT id, statement, domain, tags, branch, state, confidence, velocity, queue,
		        last_scan, next_scan, idle_cycles, shapley_attribution, created_at, updated_at
		 FROM knowledge_nodes WHERE id = $1`, id,
	).Scan(&n.ID, &n.Statement, &n.Domain, &tagsJSON, &n.Branch, &n.State, &n.Confidence,
		&n.Velocity, &n.Queue, &n.LastScan, &n.NextScan, &n.IdleCycles, &shapleyJSON,
		&n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Node{}, fmt.Errorf("ledger/postgres: node %s: %w", id, ErrNotFound)
		}
		return domain.Node{}, fmt.Errorf("ledger/postgres: get node: %w", err)
	}
	if len(tagsJSON) > 0 {
		if err := json.Unmarshal(tagsJSON, &n.Tags); err != nil {
			return domain.Node{}, fmt.Errorf("ledger/postgres: unmarshal tags: %w", err)
		}
	}
	if len(shapleyJSON) > 0 {
		if err := json.Unmarshal(shapleyJSON, &n.ShapleyAttribution); err != nil {
			return domain.Node{}, fmt.Errorf("ledger/postgres: unmarshal shapley attribution: %w", err)
		}
	}
	return n, nil
}

// pgxQuerier is the subset of pgx.Tx / pgxpool.Pool used for SELECT ... FOR
// UPDATE reads. Both *pgxpool.Pool and pgx.Tx satisfy it.
type pgxQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// UpdateNode runs inside a transaction that first takes a row lock via
// SELECT ... FOR UPDATE, serializing concurrent writers (a branch handler's
// confidence update racing the watcher's scan of the same node) so neither
// overwrites the other's change.
func (s *PostgresStore) UpdateNode(ctx context.Context, n domain.Node) error {
	tagsJSON, err := json.Marshal(n.Tags)
	if err != nil {
		return fmt.Errorf("ledger/postgres: marshal tags: %w", err)
	}
	shapleyJSON, err := json.Marshal(n.ShapleyAttribution)
	if err != nil {
		return fmt.Errorf("ledger/postgres: marshal shapley attribution: %w", err)
	}
	n.UpdatedAt = time.Now().UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ledger/postgres: update node: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var locked uuid.UUID
	if err := tx.QueryRow(ctx, `SELECT id FROM knowledge_nodes WHERE id = $1 FOR UPDATE`, n.ID).Scan(&locked); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("ledger/postgres: update node %s: %w", n.ID, ErrNotFound)
		}
		return fmt.Errorf("ledger/postgres: lock node: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE knowledge_nodes SET
		   statement = $2, domain = $3, tags = $4::jsonb, branch = $5, state = $6,
		   confidence = $7, velocity = $8, queue = $9, last_scan = $10, next_scan = $11,
		   idle_cycles = $12, shapley_attribution = $13::jsonb, updated_at = $14
		 WHERE id = $1`,
		n.ID, n.Statement, n.Domain, tagsJSON, n.Branch, n.State, n.Confidence,
		n.Velocity, n.Queue, n.LastScan, n.NextScan, n.IdleCycles, shapleyJSON, n.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("ledger/postgres: update node: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ledger/postgres: update node: commit: %w", err)
	}
	return nil
}

func (s *PostgresStore) AppendAudit(ctx context.Context, nodeID uuid.UUID, entry domain.AuditEntry) error {
	voteJSON, err := json.Marshal(entry.VoteRecord)
	if err != nil {
		return fmt.Errorf("ledger/postgres: marshal vote record: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO knowledge_audit_log
		 (node_id, ts, action, from_state, to_state, trigger, agent, reason, confidence_delta, vote_record)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::jsonb)`,
		nodeID, entry.Timestamp, entry.Action, entry.FromState, entry.ToState,
		entry.Trigger, entry.Agent, entry.Reason, entry.ConfidenceDelta, voteJSON,
	)
	if err != nil {
		return fmt.Errorf("ledger/postgres: append audit: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAudit(ctx context.Context, nodeID uuid.UUID) ([]domain.AuditEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT ts, action, from_state, to_state, trigger, agent, reason, confidence_delta, vote_record
		 FROM knowledge_audit_log WHERE node_id = $1 ORDER BY ts ASC, id ASC`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("ledger/postgres: list audit: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var voteJSON []byte
		if err := rows.Scan(&e.Timestamp, &e.Action, &e.FromState, &e.ToState,
			&e.Trigger, &e.Agent, &e.Reason, &e.ConfidenceDelta, &voteJSON); err != nil {
			return nil, fmt.Errorf("ledger/postgres: scan audit row: %w", err)
		}
		if len(voteJSON) > 0 {
			if err := json.Unmarshal(voteJSON, &e.VoteRecord); err != nil {
				return nil, fmt.Errorf("ledger/postgres: unmarshal vote record: %w", err)
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger/postgres: iterate audit rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) AddDependency(ctx context.Context, dep domain.Dependency) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO knowledge_dependencies (source_id, target_id, relation, strength)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (source_id, target_id, relation) DO UPDATE SET strength = $4`,
		dep.Source, dep.Target, dep.Relation, dep.Strength,
	)
	if err != nil {
		return fmt.Errorf("ledger/postgres: add dependency: %w", err)
	}
	return nil
}

func (s *PostgresStore) DependenciesOf(ctx context.Context, nodeID uuid.UUID) ([]domain.Dependency, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT source_id, target_id, relation, strength FROM knowledge_dependencies WHERE source_id = $1`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("ledger/postgres: dependencies of: %w", err)
	}
	defer rows.Close()

	var out []domain.Dependency
	for rows.Next() {
		var d domain.Dependency
		if err := rows.Scan(&d.Source, &d.Target, &d.Relation, &d.Strength); err != nil {
			return nil, fmt.Errorf("ledger/postgres: scan dependency row: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *PostgresStore) NodesByQueue(ctx context.Context, q domain.Queue, limit int) ([]domain.Node, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id FROM knowledge_nodes
		 WHERE queue = $1 AND state NOT IN ($2, $3)
		 ORDER BY updated_at ASC LIMIT $4`,
		q, domain.StateDeprecated, domain.StateRejected, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("ledger/postgres: nodes by queue: %w", err)
	}
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("ledger/postgres: scan node id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger/postgres: iterate queue rows: %w", err)
	}

	out := make([]domain.Node, 0, len(ids))
	for _, id := range ids {
		n, err := s.GetNode(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func (s *PostgresStore) ListAll(ctx context.Context) ([]domain.Node, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM knowledge_nodes ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("ledger/postgres: list all: %w", err)
	}
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("ledger/postgres: scan node id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger/postgres: iterate list-all rows: %w", err)
	}

	out := make([]domain.Node, 0, len(ids))
	for _, id := range ids {
		n, err := s.GetNode(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}
