package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"roomwatch/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeHandle struct {
	mu       sync.Mutex
	outbound domain.PathStats
	inbound  domain.PathStats
	outOK    bool
	inOK     bool
	err      error

	// when set, OutboundStats signals entered and waits for release
	entered chan struct{}
	release chan struct{}

	nextID int
	states map[int]func(domain.ConnectionState)
	tracks map[int]func(domain.TrackInfo)
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{
		outOK:  true,
		inOK:   true,
		states: make(map[int]func(domain.ConnectionState)),
		tracks: make(map[int]func(domain.TrackInfo)),
	}
}

func (h *fakeHandle) set(outbound, inbound domain.PathStats) {
	h.mu.Lock()
	h.outbound, h.inbound = outbound, inbound
	h.mu.Unlock()
}

func (h *fakeHandle) fail(err error) {
	h.mu.Lock()
	h.err = err
	h.mu.Unlock()
}

func (h *fakeHandle) OutboundStats(ctx context.Context) (domain.PathStats, bool, error) {
	h.mu.Lock()
	entered, release := h.entered, h.release
	h.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
		<-release
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return domain.PathStats{}, false, h.err
	}
	return h.outbound, h.outOK, nil
}

func (h *fakeHandle) InboundStats(ctx context.Context) (domain.PathStats, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return domain.PathStats{}, false, h.err
	}
	return h.inbound, h.inOK, nil
}

func (h *fakeHandle) OnConnectionStateChange(fn func(domain.ConnectionState)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	id := h.nextID
	h.states[id] = fn
	return func() {
		h.mu.Lock()
		delete(h.states, id)
		h.mu.Unlock()
	}
}

func (h *fakeHandle) OnTrackSubscribed(fn func(domain.TrackInfo)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	id := h.nextID
	h.tracks[id] = fn
	return func() {
		h.mu.Lock()
		delete(h.tracks, id)
		h.mu.Unlock()
	}
}

func (h *fakeHandle) emitState(state domain.ConnectionState) {
	h.mu.Lock()
	fns := make([]func(domain.ConnectionState), 0, len(h.states))
	for _, fn := range h.states {
		fns = append(fns, fn)
	}
	h.mu.Unlock()
	for _, fn := range fns {
		fn(state)
	}
}

func (h *fakeHandle) listenerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.states) + len(h.tracks)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingMetrics struct {
	mu      sync.Mutex
	results map[string]int
	active  int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{results: make(map[string]int)}
}

func (m *recordingMetrics) RecordSample(id domain.SessionID, result string) {
	m.mu.Lock()
	m.results[result]++
	m.mu.Unlock()
}

func (m *recordingMetrics) SetActiveSessions(n int) {
	m.mu.Lock()
	m.active = n
	m.mu.Unlock()
}

func (m *recordingMetrics) count(result SampleResult) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.results[string(result)]
}

func (m *recordingMetrics) activeSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

func newTestMonitor(t *testing.T) (*Monitor, *fakeClock, *recordingMetrics) {
	t.Helper()
	clock := &fakeClock{now: t0}
	metrics := newRecordingMetrics()
	cfg := MonitorConfig{
		SampleInterval: time.Hour,
		MinInterval:    DefaultMinInterval,
		Clock:          clock.Now,
	}
	m := NewMonitor("demo", "alice", cfg, NewQualityService(nil), metrics, zaptest.NewLogger(t).Sugar())
	return m, clock, metrics
}

// healthy returns paths that move 1 MB each way per step.
func healthy(step uint64) (domain.PathStats, domain.PathStats) {
	out := domain.PathStats{
		BytesSent:     step * 1_000_000,
		PacketsTotal:  step * 1000,
		RoundTripTime: 0.020,
		Jitter:        0.004,
	}
	in := domain.PathStats{
		BytesReceived: step * 1_000_000,
		PacketsTotal:  step * 1000,
		Jitter:        0.005,
	}
	return out, in
}

func TestMonitor_IdleWithoutHandle(t *testing.T) {
	m, _, metrics := newTestMonitor(t)

	result, err := m.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ResultIdle, result)
	assert.False(t, m.Attached())
	assert.Equal(t, 1, metrics.count(ResultIdle))

	_, ok := m.Latest()
	assert.False(t, ok)
}

func TestMonitor_PublishesReport(t *testing.T) {
	m, clock, metrics := newTestMonitor(t)
	h := newFakeHandle()
	h.set(healthy(0))
	m.Attach(h)
	require.True(t, m.Attached())

	result, err := m.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ResultSkipped, result, "first sample only sets the baseline")

	clock.Advance(time.Second)
	h.set(healthy(1))

	result, err = m.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, ResultOK, result)

	report, ok := m.Latest()
	require.True(t, ok)
	assert.Equal(t, domain.NewSessionID("demo", "alice"), report.SessionID)
	assert.Equal(t, "demo", report.Room)
	assert.Equal(t, "alice", report.Identity)
	assert.Equal(t, uint64(1), report.Sequence)
	assert.Equal(t, domain.TierExcellent, report.Tier)
	assert.Equal(t, "Excellent", report.Label)
	assert.Equal(t, "green", report.Color)
	assert.InDelta(t, 8.0, report.Metrics.UploadRateMbps, 1e-9)
	assert.InDelta(t, 8.0, report.Metrics.DownloadRateMbps, 1e-9)
	assert.InDelta(t, 20.0, report.Metrics.RoundTripMs, 1e-9)
	assert.InDelta(t, 5.0, report.Metrics.JitterMs, 1e-9)
	assert.Zero(t, report.Metrics.PacketLossPercent)
	assert.Equal(t, t0.Add(time.Second), report.Timestamp)

	assert.Equal(t, 1, metrics.count(ResultOK))
	assert.Equal(t, 1, metrics.count(ResultSkipped))
}

func TestMonitor_TooSoonKeepsBaseline(t *testing.T) {
	m, clock, _ := newTestMonitor(t)
	h := newFakeHandle()
	h.set(healthy(0))
	m.Attach(h)

	_, _ = m.Tick(context.Background())

	clock.Advance(100 * time.Millisecond)
	h.set(healthy(1))
	result, err := m.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ResultSkipped, result)

	clock.Advance(900 * time.Millisecond)
	result, err = m.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, ResultOK, result)

	report, _ := m.Latest()
	assert.Equal(t, time.Second, report.Metrics.Elapsed)
	assert.InDelta(t, 8.0, report.Metrics.UploadRateMbps, 1e-9)
}

// captured returns healthy paths stamped with the time they were read.
func captured(step uint64, at time.Time) (domain.PathStats, domain.PathStats) {
	out, in := healthy(step)
	out.CapturedAt, in.CapturedAt = at, at
	return out, in
}

func TestMonitor_UsesCaptureTime(t *testing.T) {
	m, clock, metrics := newTestMonitor(t)
	h := newFakeHandle()
	h.set(captured(0, t0))
	m.Attach(h)

	clock.Advance(500 * time.Millisecond)
	_, _ = m.Tick(context.Background())

	h.set(captured(1, t0.Add(time.Second)))
	clock.Advance(time.Second)
	result, err := m.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, ResultOK, result)

	// Nothing new since the last tick: no zero-rate window.
	clock.Advance(time.Second)
	result, err = m.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ResultSkipped, result)

	h.set(captured(3, t0.Add(3*time.Second)))
	clock.Advance(time.Second)
	result, err = m.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, ResultOK, result)

	report, ok := m.Latest()
	require.True(t, ok)
	assert.Equal(t, uint64(2), report.Sequence)
	assert.Equal(t, 2*time.Second, report.Metrics.Elapsed)
	assert.InDelta(t, 8.0, report.Metrics.UploadRateMbps, 1e-9)
	assert.Equal(t, t0.Add(3*time.Second), report.Timestamp)
	assert.Equal(t, domain.TierExcellent, report.Tier)
	assert.Equal(t, 2, metrics.count(ResultSkipped))
}

func TestMonitor_AbsentPathsCountAsZero(t *testing.T) {
	m, clock, _ := newTestMonitor(t)
	h := newFakeHandle()
	h.outOK, h.inOK = false, false
	m.Attach(h)

	_, _ = m.Tick(context.Background())
	clock.Advance(time.Second)

	result, err := m.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, ResultOK, result)

	report, ok := m.Latest()
	require.True(t, ok)
	assert.Zero(t, report.Metrics.UploadRateMbps)
	assert.Zero(t, report.Metrics.DownloadRateMbps)
	assert.Equal(t, domain.TierBad, report.Tier)
}

func TestMonitor_FailureKeepsPreviousReport(t *testing.T) {
	m, clock, metrics := newTestMonitor(t)
	h := newFakeHandle()
	h.set(healthy(0))
	m.Attach(h)

	_, _ = m.Tick(context.Background())
	clock.Advance(time.Second)
	h.set(healthy(1))
	result, _ := m.Tick(context.Background())
	require.Equal(t, ResultOK, result)

	statsErr := errors.New("peer connection busy")
	h.fail(statsErr)
	clock.Advance(time.Second)

	result, err := m.Tick(context.Background())
	assert.Equal(t, ResultFailed, result)
	assert.ErrorIs(t, err, statsErr)
	assert.Equal(t, 1, metrics.count(ResultFailed))

	report, ok := m.Latest()
	require.True(t, ok)
	assert.Equal(t, uint64(1), report.Sequence)

	// recovery measures from the last good baseline
	h.fail(nil)
	h.set(healthy(3))
	result, err = m.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, ResultOK, result)

	report, _ = m.Latest()
	assert.Equal(t, uint64(2), report.Sequence)
	assert.Equal(t, 2*time.Second, report.Metrics.Elapsed)
	assert.InDelta(t, 8.0, report.Metrics.UploadRateMbps, 1e-9)
}

func TestMonitor_OverlappingTickIsDropped(t *testing.T) {
	m, _, metrics := newTestMonitor(t)
	h := newFakeHandle()
	h.entered = make(chan struct{})
	h.release = make(chan struct{})
	m.Attach(h)

	done := make(chan SampleResult, 1)
	go func() {
		result, _ := m.Tick(context.Background())
		done <- result
	}()
	<-h.entered

	result, err := m.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ResultBusy, result)
	assert.Equal(t, 1, metrics.count(ResultBusy))

	close(h.release)
	assert.Equal(t, ResultSkipped, <-done)
}

func TestMonitor_DetachDuringQueryDiscardsSample(t *testing.T) {
	m, _, _ := newTestMonitor(t)
	h := newFakeHandle()
	h.entered = make(chan struct{})
	h.release = make(chan struct{})
	m.Attach(h)

	done := make(chan SampleResult, 1)
	go func() {
		result, _ := m.Tick(context.Background())
		done <- result
	}()
	<-h.entered

	m.Detach()
	close(h.release)

	assert.Equal(t, ResultIdle, <-done)
	assert.False(t, m.Attached())
}

func TestMonitor_TerminalStateDetaches(t *testing.T) {
	m, clock, _ := newTestMonitor(t)
	h := newFakeHandle()
	h.set(healthy(0))
	m.Attach(h)

	_, _ = m.Tick(context.Background())
	clock.Advance(time.Second)
	h.set(healthy(1))
	_, _ = m.Tick(context.Background())

	h.emitState(domain.ConnectionStateDisconnected)
	assert.True(t, m.Attached(), "disconnected may recover")

	h.emitState(domain.ConnectionStateFailed)
	assert.False(t, m.Attached())
	assert.Zero(t, h.listenerCount())

	result, err := m.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ResultIdle, result)

	_, ok := m.Latest()
	assert.True(t, ok, "last report survives detach")
}

func TestMonitor_ReattachReplacesHandle(t *testing.T) {
	m, clock, _ := newTestMonitor(t)
	first := newFakeHandle()
	first.set(healthy(5))
	m.Attach(first)
	_, _ = m.Tick(context.Background())

	second := newFakeHandle()
	second.set(healthy(0))
	m.Attach(second)
	assert.Zero(t, first.listenerCount())
	assert.Equal(t, 2, second.listenerCount())

	// a late terminal event from the old handle has no effect
	first.emitState(domain.ConnectionStateClosed)
	assert.True(t, m.Attached())

	clock.Advance(time.Second)
	result, _ := m.Tick(context.Background())
	assert.Equal(t, ResultSkipped, result, "a new handle starts a new baseline")

	clock.Advance(time.Second)
	second.set(healthy(1))
	result, _ = m.Tick(context.Background())
	require.Equal(t, ResultOK, result)

	report, _ := m.Latest()
	assert.InDelta(t, 8.0, report.Metrics.UploadRateMbps, 1e-9)
}

func TestMonitor_StartStop(t *testing.T) {
	metrics := newRecordingMetrics()
	cfg := MonitorConfig{SampleInterval: 10 * time.Millisecond, MinInterval: time.Millisecond}
	m := NewMonitor("demo", "bob", cfg, NewQualityService(nil), metrics, zaptest.NewLogger(t).Sugar())

	m.Start(context.Background())
	m.Start(context.Background())

	require.Eventually(t, func() bool {
		return metrics.count(ResultIdle) >= 2
	}, time.Second, 5*time.Millisecond)

	m.Stop()
	m.Stop()

	stopped := metrics.count(ResultIdle)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, metrics.count(ResultIdle))
}
