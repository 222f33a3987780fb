package domain

import "time"

// Velocity computes epistemic velocity: (confidence_t - confidence_t-1) / Δt_ms.
// Returns 0 when deltaMs is non-positive (no time has elapsed, or the inputs
// are malformed) to keep the result total rather than propagating NaN/Inf
// through queue derivation.
func Velocity(confidencePrev, confidenceCurr int, deltaMs int64) float64 {
	if deltaMs <= 0 {
		return 0
	}
	return float64(confidenceCurr-confidencePrev) / float64(deltaMs)
}

// QueueInterval is the rescan interval for a priority queue, per §4.7.
func QueueInterval(q Queue) time.Duration {
	switch q {
	case QueueHot:
		return time.Hour
	case QueueWarm:
		return 24 * time.Hour
	case QueueCold:
		return 7 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// DemoteQueue steps a queue down one rung on repeated idle cycles: HOT->WARM->COLD.
// COLD stays COLD.
func DemoteQueue(q Queue) Queue {
	switch q {
	case QueueHot:
		return QueueWarm
	case QueueWarm:
		return QueueCold
	default:
		return QueueCold
	}
}

// MaxIdleCycles is the number of consecutive no-change scans that trigger a
// queue demotion (§4.7, §8 boundary tests).
const MaxIdleCycles = 3
