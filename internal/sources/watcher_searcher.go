package sources

import (
	"context"

	"github.com/yggdrasil-ai/yggdrasil/internal/disinfo"
	"github.com/yggdrasil-ai/yggdrasil/internal/watcher"
)

// WatcherSearcher implements watcher.Searcher over a WebSearchLookup,
// scoring every result with the disinformation filter. Results recommended
// BLOCK or FLAG count as contradiction signals; the node's confidence signal
// is the unweighted mean of the filter's analysis confidence over the
// remaining results, not any single page (spec §4.10 step 2).
type WatcherSearcher struct {
	lookup *WebSearchLookup
}

// NewWatcherSearcher constructs a WatcherSearcher. A WebSearchLookup with an
// empty endpoint makes every scan a no-op, matching spec §4.4's
// degraded-operation tolerance.
func NewWatcherSearcher(lookup *WebSearchLookup) *WatcherSearcher {
	return &WatcherSearcher{lookup: lookup}
}

// Search implements watcher.Searcher.
func (w *WatcherSearcher) Search(ctx context.Context, statement string) (watcher.ScanResult, error) {
	results, err := w.lookup.FindWeb(ctx, statement)
	if err != nil {
		return watcher.ScanResult{}, err
	}
	if len(results) == 0 {
		return watcher.ScanResult{}, nil
	}

	var weightedSum, weightTotal, contradictions int
	for _, r := range results {
		score := disinfo.Score(r.Source.URL, r.Content, disinfo.Metadata{})
		switch score.Recommendation {
		case disinfo.RecommendBlock, disinfo.RecommendFlag:
			contradictions++
			continue
		}
		weightedSum += score.Confidence
		weightTotal++
	}

	result := watcher.ScanResult{ContradictionSignals: contradictions}
	if weightTotal > 0 {
		result.TrustWeightedConfidence = weightedSum / weightTotal
	}
	return result, nil
}

var _ watcher.Searcher = (*WatcherSearcher)(nil)
