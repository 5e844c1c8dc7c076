package domain

import (
	"math"
	"time"
)

// PathStats is a point-in-time reading of one transport path.
// Byte and packet fields are cumulative since the path started.
type PathStats struct {
	BytesSent     uint64  `json:"bytes_sent"`
	BytesReceived uint64  `json:"bytes_received"`
	PacketsLost   uint64  `json:"packets_lost"`
	PacketsTotal  uint64  `json:"packets_total"`
	RoundTripTime float64 `json:"round_trip_time"` // seconds
	Jitter        float64 `json:"jitter"`          // seconds

	// CapturedAt is when the counters were read. Handles that query live
	// statistics leave it zero.
	CapturedAt time.Time `json:"-"`
}

// Validate rejects readings the estimator cannot use.
func (p PathStats) Validate() error {
	if math.IsNaN(p.RoundTripTime) || p.RoundTripTime < 0 {
		return ErrInvalidSample
	}
	if math.IsNaN(p.Jitter) || p.Jitter < 0 {
		return ErrInvalidSample
	}
	return nil
}

// Sample is one snapshot of a session's cumulative counters.
type Sample struct {
	BytesSentCumulative     uint64
	BytesReceivedCumulative uint64
	PacketsLostCumulative   uint64
	PacketsTotalCumulative  uint64
	RoundTripTimeSeconds    float64
	JitterSeconds           float64
	Timestamp               time.Time
}

// NewSample merges the outbound and inbound paths into one snapshot.
// Sent bytes come from the outbound path and received bytes from the inbound
// one; packets are summed and RTT/jitter take the worse path.
func NewSample(outbound, inbound PathStats, at time.Time) Sample {
	return Sample{
		BytesSentCumulative:     outbound.BytesSent,
		BytesReceivedCumulative: inbound.BytesReceived,
		PacketsLostCumulative:   outbound.PacketsLost + inbound.PacketsLost,
		PacketsTotalCumulative:  outbound.PacketsTotal + inbound.PacketsTotal,
		RoundTripTimeSeconds:    math.Max(outbound.RoundTripTime, inbound.RoundTripTime),
		JitterSeconds:           math.Max(outbound.Jitter, inbound.Jitter),
		Timestamp:               at,
	}
}

// MetricWindow holds rates derived from two consecutive samples.
type MetricWindow struct {
	UploadRateMbps    float64       `json:"upload_mbps"`
	DownloadRateMbps  float64       `json:"download_mbps"`
	PacketLossPercent float64       `json:"packet_loss_percent"`
	RoundTripMs       float64       `json:"round_trip_ms"`
	JitterMs          float64       `json:"jitter_ms"`
	Elapsed           time.Duration `json:"elapsed"`
	At                time.Time     `json:"at"`
}

// Bandwidth is the rate used for classification: the better direction.
func (w MetricWindow) Bandwidth() float64 {
	return math.Max(w.UploadRateMbps, w.DownloadRateMbps)
}
