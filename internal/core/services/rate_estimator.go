package services

import (
	"sync"
	"time"

	"roomwatch/internal/core/domain"
)

const DefaultMinInterval = 500 * time.Millisecond

// RateEstimator turns consecutive cumulative samples into metric windows.
// It owns the previous sample; each monitor has its own estimator.
type RateEstimator struct {
	mu          sync.Mutex
	minInterval time.Duration
	prev        *domain.Sample
}

func NewRateEstimator(minInterval time.Duration) *RateEstimator {
	if minInterval <= 0 {
		minInterval = DefaultMinInterval
	}
	return &RateEstimator{minInterval: minInterval}
}

// Update commits cur as the new baseline and returns the window since the
// previous one. ok is false for the first sample and for samples closer than
// the minimum interval; in the latter case the old baseline is kept.
func (e *RateEstimator) Update(cur domain.Sample) (domain.MetricWindow, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.prev == nil {
		e.prev = &cur
		return domain.MetricWindow{}, false
	}

	window, ok := Estimate(*e.prev, cur, e.minInterval)
	if !ok {
		return domain.MetricWindow{}, false
	}
	e.prev = &cur
	return window, true
}

// Reset drops the baseline, e.g. after the transport was replaced.
func (e *RateEstimator) Reset() {
	e.mu.Lock()
	e.prev = nil
	e.mu.Unlock()
}

// Estimate computes the window between two samples. It returns false when the
// samples are less than minInterval apart (or out of order).
func Estimate(prev, cur domain.Sample, minInterval time.Duration) (domain.MetricWindow, bool) {
	elapsed := cur.Timestamp.Sub(prev.Timestamp)
	if elapsed < minInterval || elapsed <= 0 {
		return domain.MetricWindow{}, false
	}
	seconds := elapsed.Seconds()

	sent := counterDelta(prev.BytesSentCumulative, cur.BytesSentCumulative)
	received := counterDelta(prev.BytesReceivedCumulative, cur.BytesReceivedCumulative)
	lost := counterDelta(prev.PacketsLostCumulative, cur.PacketsLostCumulative)
	total := counterDelta(prev.PacketsTotalCumulative, cur.PacketsTotalCumulative)

	return domain.MetricWindow{
		UploadRateMbps:    megabitsPerSecond(sent, seconds),
		DownloadRateMbps:  megabitsPerSecond(received, seconds),
		PacketLossPercent: lossPercent(lost, total),
		RoundTripMs:       cur.RoundTripTimeSeconds * 1000,
		JitterMs:          cur.JitterSeconds * 1000,
		Elapsed:           elapsed,
		At:                cur.Timestamp,
	}, true
}

// counterDelta treats a decrease as a counter reset and returns what has
// accumulated since the reset.
func counterDelta(prev, cur uint64) uint64 {
	if cur < prev {
		return cur
	}
	return cur - prev
}

func megabitsPerSecond(bytes uint64, seconds float64) float64 {
	return float64(bytes) * 8 / (seconds * 1e6)
}

func lossPercent(lost, total uint64) float64 {
	if total == 0 {
		return 0
	}
	pct := float64(lost) / float64(total) * 100
	if pct > 100 {
		return 100
	}
	return pct
}
