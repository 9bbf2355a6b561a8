package gate

import (
	"math"
	"time"
)

// Interval is the adaptive emission interval:
//
//	reward_adj  = 1 − clamp(rewardEMA − 1, −0.5, 0.5)
//	latency_adj = 1 + clamp(lastLatencyRatio − 1, 0, 1)
//	interval    = clamp(base × reward_adj × latency_adj × backoff, min, max)
//
// Non-finite signals are treated as neutral (1.0).
func Interval(base time.Duration, rewardEMA, lastLatencyRatio, backoff float64, minInterval, maxInterval time.Duration) time.Duration {
	rewardAdj := 1 - clamp(neutral(rewardEMA)-1, -0.5, 0.5)
	latencyAdj := 1 + clamp(neutral(lastLatencyRatio)-1, 0, 1)

	d := float64(base) * rewardAdj * latencyAdj * neutral(backoff)
	d = clamp(d, float64(minInterval), float64(maxInterval))
	return time.Duration(d)
}

func neutral(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 1
	}
	return v
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
