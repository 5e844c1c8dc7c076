package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"roomwatch/internal/core/domain"
	"roomwatch/internal/core/ports"

	"go.uber.org/zap"
)

const sinkTimeout = 2 * time.Second

type managedMonitor struct {
	monitor     *Monitor
	unsubscribe func()
	forwarded   chan struct{}
}

// MonitorRegistry runs one Monitor per session and forwards their reports to
// the configured sinks.
type MonitorRegistry struct {
	cfg        MonitorConfig
	classifier *QualityService
	metrics    ports.MonitorMetrics
	sinks      []ports.ReportSink
	logger     *zap.SugaredLogger

	mu       sync.RWMutex
	monitors map[domain.SessionID]*managedMonitor
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
}

func NewMonitorRegistry(
	cfg MonitorConfig,
	classifier *QualityService,
	metrics ports.MonitorMetrics,
	logger *zap.SugaredLogger,
	sinks ...ports.ReportSink,
) *MonitorRegistry {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &MonitorRegistry{
		cfg:        cfg,
		classifier: classifier,
		metrics:    metrics,
		sinks:      sinks,
		logger:     logger,
		monitors:   make(map[domain.SessionID]*managedMonitor),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Attach returns the session's monitor, creating and starting it on first
// use, and points it at handle.
func (r *MonitorRegistry) Attach(room, identity string, handle ports.SessionHandle) (*Monitor, error) {
	id := domain.NewSessionID(room, identity)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, domain.ErrSessionClosed
	}
	managed, exists := r.monitors[id]
	if !exists {
		managed = r.startLocked(room, identity)
		r.monitors[id] = managed
	}
	count := len(r.monitors)
	r.mu.Unlock()

	managed.monitor.Attach(handle)

	if !exists {
		r.logger.Infow("session monitor started", "session_id", id)
		if r.metrics != nil {
			r.metrics.SetActiveSessions(count)
		}
	}
	return managed.monitor, nil
}

func (r *MonitorRegistry) startLocked(room, identity string) *managedMonitor {
	monitor := NewMonitor(room, identity, r.cfg, r.classifier, r.metrics, r.logger)
	reports, unsubscribe := monitor.Reporter().Subscribe(16)

	managed := &managedMonitor{
		monitor:     monitor,
		unsubscribe: unsubscribe,
		forwarded:   make(chan struct{}),
	}
	go r.forward(monitor.ID(), reports, managed.forwarded)
	monitor.Start(r.ctx)
	return managed
}

func (r *MonitorRegistry) forward(id domain.SessionID, reports <-chan domain.QualityReport, done chan struct{}) {
	defer close(done)
	for report := range reports {
		for _, sink := range r.sinks {
			ctx, cancel := context.WithTimeout(r.ctx, sinkTimeout)
			if err := sink.Record(ctx, report); err != nil {
				r.logger.Warnw("failed to record quality report",
					"session_id", id,
					"sequence", report.Sequence,
					"error", err,
				)
			}
			cancel()
		}
	}
}

// Get returns the monitor of a session.
func (r *MonitorRegistry) Get(id domain.SessionID) (*Monitor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	managed, ok := r.monitors[id]
	if !ok {
		return nil, false
	}
	return managed.monitor, true
}

// List returns all monitors ordered by session id.
func (r *MonitorRegistry) List() []*Monitor {
	r.mu.RLock()
	out := make([]*Monitor, 0, len(r.monitors))
	for _, managed := range r.monitors {
		out = append(out, managed.monitor)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// ListByRoom returns the monitors of one room.
func (r *MonitorRegistry) ListByRoom(room string) []*Monitor {
	var out []*Monitor
	for _, m := range r.List() {
		if m.room == room {
			out = append(out, m)
		}
	}
	return out
}

// Remove stops a session's monitor and clears what the sinks hold for it.
func (r *MonitorRegistry) Remove(ctx context.Context, id domain.SessionID) error {
	r.mu.Lock()
	managed, ok := r.monitors[id]
	if ok {
		delete(r.monitors, id)
	}
	count := len(r.monitors)
	r.mu.Unlock()

	if !ok {
		return domain.ErrSessionNotFound
	}

	r.shutdown(managed)
	for _, sink := range r.sinks {
		if err := sink.Forget(ctx, id); err != nil {
			r.logger.Warnw("failed to forget session", "session_id", id, "error", err)
		}
	}
	if r.metrics != nil {
		r.metrics.SetActiveSessions(count)
	}

	r.logger.Infow("session monitor removed", "session_id", id)
	return nil
}

func (r *MonitorRegistry) shutdown(managed *managedMonitor) {
	managed.monitor.Stop()
	managed.monitor.Detach()
	managed.unsubscribe()
	<-managed.forwarded
}

// Count is the number of monitored sessions.
func (r *MonitorRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.monitors)
}

// Close stops every monitor. The registry cannot be reused afterwards.
func (r *MonitorRegistry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	monitors := r.monitors
	r.monitors = make(map[domain.SessionID]*managedMonitor)
	r.mu.Unlock()

	for _, managed := range monitors {
		r.shutdown(managed)
	}
	r.cancel()
	if r.metrics != nil {
		r.metrics.SetActiveSessions(0)
	}
}
