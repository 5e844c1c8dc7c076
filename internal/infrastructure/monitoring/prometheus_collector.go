package monitoring

import (
	"context"

	"roomwatch/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector exports monitor output. It is both the monitors'
// bookkeeping sink and a report sink.
type PrometheusCollector struct {
	sessionsActive prometheus.Gauge
	samplesTotal   *prometheus.CounterVec
	tokensTotal    *prometheus.CounterVec
	tierChanges    *prometheus.CounterVec

	uploadMbps   *prometheus.GaugeVec
	downloadMbps *prometheus.GaugeVec
	roundTripMs  *prometheus.GaugeVec
	jitterMs     *prometheus.GaugeVec
	lossPercent  *prometheus.GaugeVec
	tier         *prometheus.GaugeVec

	roundTripHist prometheus.Histogram
}

// NewPrometheusCollector registers the collector's metrics with reg.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	factory := promauto.With(reg)
	sessionLabels := []string{"room", "identity"}

	return &PrometheusCollector{
		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "roomwatch_sessions_active",
			Help: "Number of sessions with a running quality monitor",
		}),

		samplesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roomwatch_samples_total",
			Help: "Sampling ticks by result",
		}, []string{"result"}),

		tokensTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roomwatch_tokens_issued_total",
			Help: "Token requests by result",
		}, []string{"result"}),

		tierChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roomwatch_quality_reports_total",
			Help: "Published quality reports by tier",
		}, []string{"tier"}),

		uploadMbps: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "roomwatch_session_upload_mbps",
			Help: "Upload rate of the last window in Mbps",
		}, sessionLabels),

		downloadMbps: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "roomwatch_session_download_mbps",
			Help: "Download rate of the last window in Mbps",
		}, sessionLabels),

		roundTripMs: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "roomwatch_session_rtt_ms",
			Help: "Round-trip time of the last window in milliseconds",
		}, sessionLabels),

		jitterMs: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "roomwatch_session_jitter_ms",
			Help: "Jitter of the last window in milliseconds",
		}, sessionLabels),

		lossPercent: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "roomwatch_session_packet_loss_percent",
			Help: "Packet loss of the last window in percent",
		}, sessionLabels),

		tier: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "roomwatch_session_quality_tier",
			Help: "Quality tier of the last window (1=bad .. 5=excellent)",
		}, sessionLabels),

		roundTripHist: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "roomwatch_rtt_seconds",
			Help:    "Round-trip times across all sessions",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.2, 0.3, 0.5, 1},
		}),
	}
}

func (p *PrometheusCollector) RecordSample(_ domain.SessionID, result string) {
	p.samplesTotal.WithLabelValues(result).Inc()
}

func (p *PrometheusCollector) SetActiveSessions(n int) {
	p.sessionsActive.Set(float64(n))
}

// RecordToken counts a token request; result is "ok", "invalid" or "error".
func (p *PrometheusCollector) RecordToken(result string) {
	p.tokensTotal.WithLabelValues(result).Inc()
}

func (p *PrometheusCollector) Record(_ context.Context, report domain.QualityReport) error {
	labels := []string{report.Room, report.Identity}
	m := report.Metrics

	p.uploadMbps.WithLabelValues(labels...).Set(m.UploadRateMbps)
	p.downloadMbps.WithLabelValues(labels...).Set(m.DownloadRateMbps)
	p.roundTripMs.WithLabelValues(labels...).Set(m.RoundTripMs)
	p.jitterMs.WithLabelValues(labels...).Set(m.JitterMs)
	p.lossPercent.WithLabelValues(labels...).Set(m.PacketLossPercent)
	p.tier.WithLabelValues(labels...).Set(float64(report.Tier))
	p.tierChanges.WithLabelValues(report.Tier.String()).Inc()
	p.roundTripHist.Observe(m.RoundTripMs / 1000)
	return nil
}

// Forget removes a session's gauges.
func (p *PrometheusCollector) Forget(_ context.Context, id domain.SessionID) error {
	room, identity, err := id.Split()
	if err != nil {
		return err
	}
	for _, vec := range []*prometheus.GaugeVec{p.uploadMbps, p.downloadMbps, p.roundTripMs, p.jitterMs, p.lossPercent, p.tier} {
		vec.DeleteLabelValues(room, identity)
	}
	return nil
}
