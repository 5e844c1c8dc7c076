package ports

import (
	"context"

	"roomwatch/internal/core/domain"
)

// SessionHandle is the monitor's read-only view of a participant's transport.
// The surrounding application owns the underlying connections.
type SessionHandle interface {
	// OutboundStats reads the publish path. ok is false when nothing has been
	// published yet.
	OutboundStats(ctx context.Context) (stats domain.PathStats, ok bool, err error)
	// InboundStats reads the subscribe path. ok is false when nothing has been
	// subscribed yet.
	InboundStats(ctx context.Context) (stats domain.PathStats, ok bool, err error)

	OnConnectionStateChange(fn func(domain.ConnectionState)) (unsubscribe func())
	OnTrackSubscribed(fn func(domain.TrackInfo)) (unsubscribe func())
}

// ReportSink receives every published quality report.
type ReportSink interface {
	Record(ctx context.Context, report domain.QualityReport) error
	Forget(ctx context.Context, id domain.SessionID) error
}

// MonitorMetrics receives monitor bookkeeping for export.
type MonitorMetrics interface {
	RecordSample(id domain.SessionID, result string)
	SetActiveSessions(n int)
}
