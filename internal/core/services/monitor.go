package services

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"roomwatch/internal/core/domain"
	"roomwatch/internal/core/ports"

	"go.uber.org/zap"
)

const DefaultSampleInterval = time.Second

// SampleResult describes what a single tick did.
type SampleResult string

const (
	ResultOK      SampleResult = "ok"      // report published
	ResultIdle    SampleResult = "idle"    // no session attached
	ResultSkipped SampleResult = "skipped" // baseline, interval too short or nothing new
	ResultBusy    SampleResult = "busy"    // previous tick still querying
	ResultFailed  SampleResult = "failed"  // statistics query failed
)

// MonitorConfig controls sampling cadence.
type MonitorConfig struct {
	SampleInterval time.Duration
	MinInterval    time.Duration
	// Clock defaults to time.Now.
	Clock func() time.Time
}

func (c MonitorConfig) withDefaults() MonitorConfig {
	if c.SampleInterval <= 0 {
		c.SampleInterval = DefaultSampleInterval
	}
	if c.MinInterval <= 0 {
		c.MinInterval = DefaultMinInterval
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return c
}

// Monitor samples one session's transport statistics on a fixed period,
// classifies the resulting window and publishes a report.
//
// Ticks never overlap: a tick that fires while the previous one is still
// waiting on statistics is dropped.
type Monitor struct {
	id       domain.SessionID
	room     string
	identity string

	cfg        MonitorConfig
	estimator  *RateEstimator
	classifier *QualityService
	reporter   *Reporter
	metrics    ports.MonitorMetrics
	logger     *zap.SugaredLogger

	mu          sync.Mutex
	handle      ports.SessionHandle
	epoch       uint64
	unsubscribe []func()
	lastTier    domain.QualityTier

	inFlight atomic.Bool

	runMu   sync.Mutex
	cancel  context.CancelFunc
	loopEnd chan struct{}
	ticks   sync.WaitGroup
}

func NewMonitor(
	room, identity string,
	cfg MonitorConfig,
	classifier *QualityService,
	metrics ports.MonitorMetrics,
	logger *zap.SugaredLogger,
) *Monitor {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	id := domain.NewSessionID(room, identity)
	return &Monitor{
		id:         id,
		room:       room,
		identity:   identity,
		cfg:        cfg,
		estimator:  NewRateEstimator(cfg.MinInterval),
		classifier: classifier,
		reporter:   NewReporter(),
		metrics:    metrics,
		logger:     logger.With("session_id", id),
	}
}

func (m *Monitor) ID() domain.SessionID { return m.id }

func (m *Monitor) Room() string { return m.room }

func (m *Monitor) Identity() string { return m.identity }

func (m *Monitor) Reporter() *Reporter { return m.reporter }

// Latest is a shortcut for Reporter().Latest().
func (m *Monitor) Latest() (domain.QualityReport, bool) {
	return m.reporter.Latest()
}

// Attach starts sampling handle, replacing any previous one.
func (m *Monitor) Attach(handle ports.SessionHandle) {
	m.mu.Lock()
	stale := m.detachLocked()
	m.handle = handle
	epoch := m.epoch
	m.mu.Unlock()
	runAll(stale)

	// Handles may invoke listeners synchronously, so register without m.mu.
	subs := []func(){
		handle.OnConnectionStateChange(func(state domain.ConnectionState) {
			m.logger.Infow("session connection state changed", "state", state)
			if state.Terminal() {
				m.detachEpoch(epoch)
			}
		}),
		handle.OnTrackSubscribed(func(track domain.TrackInfo) {
			m.logger.Infow("session subscribed to track",
				"track_id", track.ID,
				"kind", track.Kind,
				"codec", track.Codec,
			)
		}),
	}

	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		runAll(subs)
		return
	}
	m.unsubscribe = subs
	m.mu.Unlock()

	m.logger.Debug("session attached")
}

// Detach stops sampling the current handle and drops the rate baseline.
// The last published report stays available.
func (m *Monitor) Detach() {
	m.mu.Lock()
	stale := m.detachLocked()
	m.mu.Unlock()
	runAll(stale)
}

// Attached reports whether a handle is currently being sampled.
func (m *Monitor) Attached() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handle != nil
}

func (m *Monitor) detachEpoch(epoch uint64) {
	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		return
	}
	stale := m.detachLocked()
	m.mu.Unlock()
	runAll(stale)
	m.logger.Info("session detached after terminal connection state")
}

// detachLocked clears the handle and returns its listener removals, which
// must be run without m.mu held.
func (m *Monitor) detachLocked() []func() {
	m.epoch++
	if m.handle == nil {
		return nil
	}
	m.handle = nil
	m.estimator.Reset()
	stale := m.unsubscribe
	m.unsubscribe = nil
	return stale
}

func runAll(fns []func()) {
	for _, fn := range fns {
		if fn != nil {
			fn()
		}
	}
}

// Start runs the sampling loop until ctx is done or Stop is called.
func (m *Monitor) Start(ctx context.Context) {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.loopEnd = make(chan struct{})

	go m.loop(ctx, m.loopEnd)
}

// Stop ends the loop and waits for in-flight ticks.
func (m *Monitor) Stop() {
	m.runMu.Lock()
	cancel, loopEnd := m.cancel, m.loopEnd
	m.cancel, m.loopEnd = nil, nil
	m.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-loopEnd
	m.ticks.Wait()
}

func (m *Monitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.cfg.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.ticks.Add(1)
			go func() {
				defer m.ticks.Done()
				_, _ = m.Tick(ctx)
			}()
		}
	}
}

// Tick runs one sampling pass synchronously.
func (m *Monitor) Tick(ctx context.Context) (SampleResult, error) {
	if !m.inFlight.CompareAndSwap(false, true) {
		m.record(ResultBusy)
		return ResultBusy, nil
	}
	defer m.inFlight.Store(false)

	m.mu.Lock()
	handle, epoch := m.handle, m.epoch
	m.mu.Unlock()

	if handle == nil {
		m.record(ResultIdle)
		return ResultIdle, nil
	}

	sample, err := m.collect(ctx, handle)
	if err != nil {
		m.logger.Warnw("failed to sample session statistics", "error", err)
		m.record(ResultFailed)
		return ResultFailed, err
	}

	// The baseline is only committed if the handle is still the one queried.
	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		m.record(ResultIdle)
		return ResultIdle, nil
	}
	window, ok := m.estimator.Update(sample)
	m.mu.Unlock()

	if !ok {
		m.record(ResultSkipped)
		return ResultSkipped, nil
	}

	tier := m.classifier.Classify(window)
	m.publish(sanitizeWindow(window), tier)
	m.record(ResultOK)
	return ResultOK, nil
}

func (m *Monitor) collect(ctx context.Context, handle ports.SessionHandle) (domain.Sample, error) {
	outbound, ok, err := handle.OutboundStats(ctx)
	if err != nil {
		return domain.Sample{}, fmt.Errorf("outbound stats: %w", err)
	}
	if !ok {
		outbound = domain.PathStats{}
	}

	inbound, ok, err := handle.InboundStats(ctx)
	if err != nil {
		return domain.Sample{}, fmt.Errorf("inbound stats: %w", err)
	}
	if !ok {
		inbound = domain.PathStats{}
	}

	return domain.NewSample(outbound, inbound, captureTime(m.cfg.Clock(), outbound, inbound)), nil
}

// captureTime is when the newest path reading was taken, or now for handles
// that read live statistics. A reading seen before yields the baseline's own
// timestamp, which the estimator skips.
func captureTime(now time.Time, paths ...domain.PathStats) time.Time {
	var latest time.Time
	for _, p := range paths {
		if p.CapturedAt.After(latest) {
			latest = p.CapturedAt
		}
	}
	if latest.IsZero() {
		return now
	}
	return latest
}

func (m *Monitor) publish(window domain.MetricWindow, tier domain.QualityTier) {
	report := m.reporter.Publish(domain.QualityReport{
		SessionID: m.id,
		Room:      m.room,
		Identity:  m.identity,
		Metrics:   window,
		Tier:      tier,
		Label:     tier.Label(),
		Color:     tier.Color(),
		Timestamp: window.At,
	})

	m.mu.Lock()
	prev := m.lastTier
	m.lastTier = tier
	m.mu.Unlock()

	switch {
	case m.classifier.Degraded(prev, tier):
		m.logger.Warnw("network quality degraded",
			"from", prev,
			"to", tier,
			"upload_mbps", window.UploadRateMbps,
			"download_mbps", window.DownloadRateMbps,
			"rtt_ms", window.RoundTripMs,
			"jitter_ms", window.JitterMs,
			"loss_percent", window.PacketLossPercent,
		)
	case prev != tier:
		m.logger.Infow("network quality changed", "from", prev, "to", tier)
	default:
		m.logger.Debugw("network quality sampled", "tier", tier, "sequence", report.Sequence)
	}
}

func (m *Monitor) record(result SampleResult) {
	if m.metrics != nil {
		m.metrics.RecordSample(m.id, string(result))
	}
}

// sanitizeWindow keeps non-finite values out of reports; the tier has
// already been decided from the raw window.
func sanitizeWindow(w domain.MetricWindow) domain.MetricWindow {
	w.UploadRateMbps = finiteOrZero(w.UploadRateMbps)
	w.DownloadRateMbps = finiteOrZero(w.DownloadRateMbps)
	w.PacketLossPercent = finiteOrZero(w.PacketLossPercent)
	w.RoundTripMs = finiteOrZero(w.RoundTripMs)
	w.JitterMs = finiteOrZero(w.JitterMs)
	return w
}

func finiteOrZero(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
