// Package watcher implements the background daemon that rescans knowledge
// nodes on a priority schedule, re-derives confidence and velocity from
// fresh evidence, and raises alerts on anomalous movement (spec §4.10).
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/google/uuid"
	"github.com/yggdrasil-ai/yggdrasil/internal/domain"
	"github.com/yggdrasil-ai/yggdrasil/internal/ledger"
)

// BatchSize bounds how many nodes are fetched per queue per tick (spec §4.10).
const BatchSize = 50

// MaxConcurrentChecks bounds how many nodes are rescanned at once within a
// batch (spec §4.10).
const MaxConcurrentChecks = 10

// ContradictionThreshold is the number of contradiction signals that force a
// flat -20 confidence adjustment, overriding the trust-weighted average.
const ContradictionThreshold = 2

// VelocitySpikeThreshold triggers a VELOCITY_SPIKE alert when |v| exceeds it.
const VelocitySpikeThreshold = 0.1

// ConfidenceDropThreshold triggers a CONFIDENCE_DROP alert (severity HIGH)
// when confidence falls by more than this fraction of its prior value.
const ConfidenceDropThreshold = 0.30

// MaxAlertBuffer bounds the in-memory alert ring buffer (spec §4.10).
const MaxAlertBuffer = 1000

// Alert is one anomaly raised during a scan.
type Alert struct {
	ID        uuid.UUID
	NodeID    uuid.UUID
	Kind      domain.AlertKind
	Severity  domain.AlertSeverity
	Detail    string
	CreatedAt time.Time
}

// ScanResult is one collaborator lookup's outcome for a single node: fresh
// evidence about the node's statement, trust-weighted, plus any
// contradiction signals observed.
type ScanResult struct {
	TrustWeightedConfidence int
	ContradictionSignals    int
}

// Searcher is the unverified-search collaborator the watcher calls per node
// (spec §4.10 step 2); it re-checks a node's statement against fresh,
// unverified web evidence.
type Searcher interface {
	Search(ctx context.Context, statement string) (ScanResult, error)
}

// Stats are the daemon's cumulative, atomically updated counters.
type Stats struct {
	TicksFired      atomic.Int64
	NodesScanned    atomic.Int64
	ScanFailures    atomic.Int64
	AlertsRaised    atomic.Int64
}

// Daemon runs the three priority-queue timers and performs scans.
type Daemon struct {
	ledger   *ledger.Ledger
	searcher Searcher
	logger   *slog.Logger

	stats Stats

	mu     sync.Mutex
	alerts []Alert
}

// New constructs a watcher Daemon.
func New(led *ledger.Ledger, searcher Searcher, logger *slog.Logger) *Daemon {
	if logger == nil {
		logger = slog.Default()
	}
	return &Daemon{ledger: led, searcher: searcher, logger: logger}
}

// Run starts the three queue timers and blocks until ctx is cancelled. Each
// timer fires at its queue's QueueInterval (spec §4.7).
func (d *Daemon) Run(ctx context.Context) {
	queues := []domain.Queue{domain.QueueHot, domain.QueueWarm, domain.QueueCold}
	tickers := make([]*time.Ticker, len(queues))
	for i, q := range queues {
		tickers[i] = time.NewTicker(domain.QueueInterval(q))
	}
	defer func() {
		for _, t := range tickers {
			t.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tickers[0].C:
			d.fire(ctx, domain.QueueHot)
		case <-tickers[1].C:
			d.fire(ctx, domain.QueueWarm)
		case <-tickers[2].C:
			d.fire(ctx, domain.QueueCold)
		}
	}
}

// fire runs one queue's full tick: fetch, scan batch, record stats.
func (d *Daemon) fire(ctx context.Context, q domain.Queue) {
	d.stats.TicksFired.Add(1)
	nodes, err := d.ledger.NodesByQueue(ctx, q, BatchSize)
	if err != nil {
		d.logger.Error("watcher: fetch batch failed", "queue", q, "error", err)
		return
	}
	d.scanBatch(ctx, nodes)
}

// scanBatch processes nodes in windows of at most MaxConcurrentChecks (spec
// §4.10 step 2). A single node's scan failure is logged and does not abort
// the rest of the batch.
func (d *Daemon) scanBatch(ctx context.Context, nodes []domain.Node) {
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(MaxConcurrentChecks)

	for _, n := range nodes {
		n := n
		g.Go(func() error {
			if err := d.scanOne(gCtx, n); err != nil {
				d.stats.ScanFailures.Add(1)
				d.logger.Warn("watcher: scan failed", "node_id", n.ID, "error", err)
			}
			d.stats.NodesScanned.Add(1)
			return nil // a single failure never aborts the batch
		})
	}
	_ = g.Wait()
}

// scanOne rescans a single node: calls the search collaborator, applies the
// confidence-adjustment heuristic, recomputes velocity, and requeues.
func (d *Daemon) scanOne(ctx context.Context, n domain.Node) error {
	result, err := d.searcher.Search(ctx, n.Statement)
	if err != nil {
		return fmt.Errorf("watcher: search: %w", err)
	}

	newConfidence := adjustConfidence(n.Confidence, result)

	if result.ContradictionSignals >= ContradictionThreshold {
		d.raiseAlert(n.ID, domain.AlertContradiction, domain.SeverityCritical,
			fmt.Sprintf("%d contradiction signals observed", result.ContradictionSignals))
	}

	dropFrac := confidenceDropFraction(n.Confidence, newConfidence)
	if dropFrac > ConfidenceDropThreshold {
		d.raiseAlert(n.ID, domain.AlertConfidenceDrop, domain.SeverityHigh,
			fmt.Sprintf("confidence dropped %.0f%%", dropFrac*100))
	}

	updated, err := d.ledger.UpdateConfidence(ctx, n.ID, newConfidence, "SCAN", "watcher",
		"periodic rescan")
	if err != nil {
		return fmt.Errorf("watcher: update confidence: %w", err)
	}

	if abs(updated.Velocity) > VelocitySpikeThreshold {
		d.raiseAlert(n.ID, domain.AlertVelocitySpike, domain.SeverityMedium,
			fmt.Sprintf("velocity %.4f exceeds spike threshold", updated.Velocity))
	}

	changed := updated.Confidence != n.Confidence
	if _, err := d.ledger.UpdateScanStatus(ctx, n.ID, changed); err != nil {
		return fmt.Errorf("watcher: update scan status: %w", err)
	}
	return nil
}

// adjustConfidence moves current confidence by a flat adjustment derived
// from the scan's trust-weighted average, independent of current's own
// magnitude, except a contradiction floor that always applies a flat -20
// regardless of the trust-weighted value (spec §4.10 step 2, §9):
// adjustment = (avgTrust - 50) × 0.1, which is already bounded to ±5 since
// avgTrust ranges over [0,100].
func adjustConfidence(current int, result ScanResult) int {
	if result.ContradictionSignals >= ContradictionThreshold {
		return clamp(current-20, 0, 100)
	}

	adjustment := int(float64(result.TrustWeightedConfidence-50) * 0.1)
	if adjustment > 5 {
		adjustment = 5
	}
	if adjustment < -5 {
		adjustment = -5
	}
	return clamp(current+adjustment, 0, 100)
}

func confidenceDropFraction(prev, curr int) float64 {
	if prev <= 0 {
		return 0
	}
	drop := prev - curr
	if drop <= 0 {
		return 0
	}
	return float64(drop) / float64(prev)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// raiseAlert appends an alert to the bounded in-memory ring buffer, evicting
// the oldest entry once MaxAlertBuffer is reached (spec §4.10 step 3).
func (d *Daemon) raiseAlert(nodeID uuid.UUID, kind domain.AlertKind, severity domain.AlertSeverity, detail string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	alert := Alert{
		ID:        uuid.New(),
		NodeID:    nodeID,
		Kind:      kind,
		Severity:  severity,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	}
	d.alerts = append(d.alerts, alert)
	if len(d.alerts) > MaxAlertBuffer {
		d.alerts = d.alerts[len(d.alerts)-MaxAlertBuffer:]
	}
	d.stats.AlertsRaised.Add(1)
}

// Alerts returns a snapshot of the currently buffered alerts, most recent last.
func (d *Daemon) Alerts() []Alert {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Alert, len(d.alerts))
	copy(out, d.alerts)
	return out
}

// Snapshot returns the daemon's current statistics.
func (d *Daemon) Snapshot() (ticksFired, nodesScanned, scanFailures, alertsRaised int64) {
	return d.stats.TicksFired.Load(), d.stats.NodesScanned.Load(), d.stats.ScanFailures.Load(), d.stats.AlertsRaised.Load()
}
