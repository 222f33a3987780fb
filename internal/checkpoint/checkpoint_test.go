package checkpoint

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yggdrasil-ai/yggdrasil/internal/domain"
	"github.com/yggdrasil-ai/yggdrasil/internal/ledger"
)

func TestCreate_DeterministicStateHash(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	l := ledger.New(store, nil)

	_, err := l.CreateNode(ctx, ledger.CreateNodeInput{Statement: "a", Branch: domain.BranchMimir, Confidence: 100, Agent: "x", Trigger: "T"})
	require.NoError(t, err)
	_, err = l.CreateNode(ctx, ledger.CreateNodeInput{Statement: "b", Branch: domain.BranchVolva, Confidence: 70, Agent: "x", Trigger: "T"})
	require.NoError(t, err)

	cp1, err := Create(ctx, store, "user-1", "first", nil, CreateOptions{})
	require.NoError(t, err)
	cp2, err := Create(ctx, store, "user-1", "second", nil, CreateOptions{})
	require.NoError(t, err)

	assert.Equal(t, cp1.StateHash, cp2.StateHash)
	assert.NotEmpty(t, cp1.StateHash)
	assert.Len(t, cp1.Snapshots, 2)
}

func TestCreate_EmptyLedger(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	cp, err := Create(ctx, store, "user-1", "empty", nil, CreateOptions{})
	require.NoError(t, err)
	assert.Empty(t, cp.StateHash)
	assert.Empty(t, cp.Snapshots)
}

func TestCreate_StateHashIgnoresNodeContent(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	l := ledger.New(store, nil)

	n, err := l.CreateNode(ctx, ledger.CreateNodeInput{Statement: "a", Branch: domain.BranchVolva, Confidence: 70, Agent: "x", Trigger: "T"})
	require.NoError(t, err)

	before, err := Create(ctx, store, "user-1", "before", []uuid.UUID{n.ID}, CreateOptions{})
	require.NoError(t, err)

	_, err = l.UpdateConfidence(ctx, n.ID, 10, "scan", "watcher", "decayed")
	require.NoError(t, err)

	after, err := Create(ctx, store, "user-1", "after", []uuid.UUID{n.ID}, CreateOptions{})
	require.NoError(t, err)

	assert.Equal(t, before.StateHash, after.StateHash, "stateHash is a hash of the member-id set, not of node content")
	assert.NotEqual(t, before.Snapshots[0].Confidence, after.Snapshots[0].Confidence)
}

func TestRollback_InvalidationIsRestrictedToReachableNodes(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	l := ledger.New(store, nil)

	member, err := l.CreateNode(ctx, ledger.CreateNodeInput{Statement: "member", Branch: domain.BranchVolva, Confidence: 70, Agent: "x", Trigger: "T"})
	require.NoError(t, err)

	cp, err := Create(ctx, store, "user-1", "checkpoint-1", []uuid.UUID{member.ID}, CreateOptions{})
	require.NoError(t, err)

	unrelated, err := l.CreateNode(ctx, ledger.CreateNodeInput{Statement: "unrelated", Branch: domain.BranchMimir, Confidence: 100, Agent: "x", Trigger: "T"})
	require.NoError(t, err)

	res, err := Rollback(ctx, store, cp, "x")
	require.NoError(t, err)
	assert.NotContains(t, res.Invalidated, unrelated.ID, "a node unreachable from any checkpoint member must not be touched")

	still, err := l.GetNode(ctx, unrelated.ID)
	require.NoError(t, err)
	assert.NotEqual(t, domain.StateDeprecated, still.State)
}

func TestRollback_RestoresStateAndInvalidatesNewNodes(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	l := ledger.New(store, nil)

	n, err := l.CreateNode(ctx, ledger.CreateNodeInput{Statement: "a", Branch: domain.BranchVolva, Confidence: 70, Agent: "x", Trigger: "T"})
	require.NoError(t, err)

	cp, err := Create(ctx, store, "user-1", "checkpoint-1", []uuid.UUID{n.ID}, CreateOptions{})
	require.NoError(t, err)

	_, err = l.TransitionState(ctx, ledger.TransitionInput{NodeID: n.ID, To: domain.StateWatching, Agent: "x", Trigger: "T"})
	require.NoError(t, err)

	newNode, err := l.CreateNode(ctx, ledger.CreateNodeInput{Statement: "created after checkpoint", Branch: domain.BranchMimir, Confidence: 100, Agent: "x", Trigger: "T"})
	require.NoError(t, err)
	require.NoError(t, l.AddDependency(ctx, domain.Dependency{Source: n.ID, Target: newNode.ID, Relation: domain.RelationSupports, Strength: 1}))

	res, err := Rollback(ctx, store, cp, "x")
	require.NoError(t, err)
	assert.Contains(t, res.Restored, n.ID)
	assert.Contains(t, res.Invalidated, newNode.ID)

	restored, err := l.GetNode(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatePendingProof, restored.State)

	invalidated, err := l.GetNode(ctx, newNode.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateDeprecated, invalidated.State)

	trail, err := l.AuditTrail(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, "CREATE", trail[0].Action) // original history never rewritten
	assert.Equal(t, "ROLLBACK", trail[len(trail)-1].Action)
}
