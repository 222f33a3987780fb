package watcher

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yggdrasil-ai/yggdrasil/internal/domain"
	"github.com/yggdrasil-ai/yggdrasil/internal/ledger"
)

type stubSearcher struct {
	result ScanResult
	err    error
}

func (s stubSearcher) Search(context.Context, string) (ScanResult, error) { return s.result, s.err }

func newNode(t *testing.T, store *ledger.MemoryStore, led *ledger.Ledger, confidence int, queue domain.Queue) domain.Node {
	t.Helper()
	n, err := led.CreateNode(context.Background(), ledger.CreateNodeInput{
		Statement:  "the sky is blue",
		Branch:     domain.BranchForConfidence(confidence),
		Confidence: confidence,
		Agent:      "test",
		Trigger:    "TEST",
	})
	require.NoError(t, err)
	n.Queue = queue
	require.NoError(t, store.UpdateNode(context.Background(), n))
	return n
}

func TestAdjustConfidence_FlatAdjustmentFromTrustWeightedAverage(t *testing.T) {
	got := adjustConfidence(50, ScanResult{TrustWeightedConfidence: 90})
	assert.Equal(t, 54, got) // (90-50)*0.1 = +4, independent of current
}

func TestAdjustConfidence_AdjustmentCappedAtFivePoints(t *testing.T) {
	got := adjustConfidence(50, ScanResult{TrustWeightedConfidence: 100})
	assert.Equal(t, 55, got) // (100-50)*0.1 = 5, already at the cap
}

func TestAdjustConfidence_IndependentOfCurrentMagnitude(t *testing.T) {
	low := adjustConfidence(5, ScanResult{TrustWeightedConfidence: 90})
	high := adjustConfidence(95, ScanResult{TrustWeightedConfidence: 90})
	assert.Equal(t, 9, low)
	assert.Equal(t, 99, high)
}

func TestAdjustConfidence_ContradictionForcesFlatPenalty(t *testing.T) {
	got := adjustConfidence(80, ScanResult{TrustWeightedConfidence: 95, ContradictionSignals: 2})
	assert.Equal(t, 60, got)
}

func TestAdjustConfidence_ClampsToRange(t *testing.T) {
	got := adjustConfidence(2, ScanResult{ContradictionSignals: 2})
	assert.Equal(t, 0, got)
}

func TestScanOne_RaisesVelocitySpikeAlert(t *testing.T) {
	store := ledger.NewMemoryStore()
	led := ledger.New(store, nil)
	n := newNode(t, store, led, 50, domain.QueueWarm)

	d := New(led, stubSearcher{result: ScanResult{TrustWeightedConfidence: 100}}, nil)
	err := d.scanOne(context.Background(), n)
	require.NoError(t, err)

	_, scanned, failures, _ := d.Snapshot()
	_ = scanned
	assert.Equal(t, int64(0), failures)

	var sawSpike bool
	for _, a := range d.Alerts() {
		if a.Kind == domain.AlertVelocitySpike {
			sawSpike = true
		}
	}
	assert.True(t, sawSpike)
}

func TestScanOne_RaisesContradictionAlert(t *testing.T) {
	store := ledger.NewMemoryStore()
	led := ledger.New(store, nil)
	n := newNode(t, store, led, 80, domain.QueueWarm)

	d := New(led, stubSearcher{result: ScanResult{ContradictionSignals: 2}}, nil)
	err := d.scanOne(context.Background(), n)
	require.NoError(t, err)

	alerts := d.Alerts()
	var sawContradiction bool
	for _, a := range alerts {
		if a.Kind == domain.AlertContradiction {
			sawContradiction = true
			assert.Equal(t, domain.SeverityCritical, a.Severity)
		}
	}
	assert.True(t, sawContradiction)
}

func TestScanOne_RaisesConfidenceDropAlert(t *testing.T) {
	store := ledger.NewMemoryStore()
	led := ledger.New(store, nil)
	n := newNode(t, store, led, 80, domain.QueueWarm)

	d := New(led, stubSearcher{result: ScanResult{ContradictionSignals: 2}}, nil)
	require.NoError(t, d.scanOne(context.Background(), n))

	alerts := d.Alerts()
	var sawDrop bool
	for _, a := range alerts {
		if a.Kind == domain.AlertConfidenceDrop {
			sawDrop = true
		}
	}
	assert.True(t, sawDrop)
}

func TestScanBatch_SingleFailureDoesNotAbortBatch(t *testing.T) {
	store := ledger.NewMemoryStore()
	led := ledger.New(store, nil)
	n1 := newNode(t, store, led, 50, domain.QueueWarm)
	n2 := newNode(t, store, led, 50, domain.QueueWarm)

	calls := 0
	searcher := searcherFunc(func(ctx context.Context, statement string) (ScanResult, error) {
		calls++
		if calls == 1 {
			return ScanResult{}, fmt.Errorf("upstream unavailable")
		}
		return ScanResult{TrustWeightedConfidence: 55}, nil
	})

	d := New(led, searcher, nil)
	d.scanBatch(context.Background(), []domain.Node{n1, n2})

	_, scanned, failures, _ := d.Snapshot()
	assert.Equal(t, int64(2), scanned)
	assert.Equal(t, int64(1), failures)
}

func TestAlertBuffer_BoundedAtMax(t *testing.T) {
	d := New(ledger.New(ledger.NewMemoryStore(), nil), stubSearcher{}, nil)
	for i := 0; i < MaxAlertBuffer+10; i++ {
		d.raiseAlert(domain.Node{}.ID, domain.AlertVelocitySpike, domain.SeverityMedium, "test")
	}
	assert.Len(t, d.Alerts(), MaxAlertBuffer)
}

type searcherFunc func(ctx context.Context, statement string) (ScanResult, error)

func (f searcherFunc) Search(ctx context.Context, statement string) (ScanResult, error) {
	return f(ctx, statement)
}
