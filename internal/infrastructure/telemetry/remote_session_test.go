package telemetry

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"roomwatch/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
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

func TestRemoteSession_PathsAbsentUntilPushed(t *testing.T) {
	clock := newFakeClock()
	s := NewRemoteSession("room/alice", time.Second, clock.Now)

	_, ok, err := s.OutboundStats(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Push(StatsUpdate{Outbound: &domain.PathStats{BytesSent: 1000}}))

	out, ok, err := s.OutboundStats(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(1000), out.BytesSent)

	_, ok, err = s.InboundStats(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRemoteSession_Stale(t *testing.T) {
	clock := newFakeClock()
	s := NewRemoteSession("room/alice", 5*time.Second, clock.Now)
	require.NoError(t, s.Push(StatsUpdate{Inbound: &domain.PathStats{BytesReceived: 10}}))

	clock.Advance(5 * time.Second)
	_, _, err := s.InboundStats(context.Background())
	assert.NoError(t, err)

	clock.Advance(time.Millisecond)
	_, _, err = s.InboundStats(context.Background())
	assert.ErrorIs(t, err, domain.ErrStatsUnavailable)

	// a push of the other path refreshes the session as a whole
	require.NoError(t, s.Push(StatsUpdate{Outbound: &domain.PathStats{}}))
	_, ok, err := s.InboundStats(context.Background())
	assert.NoError(t, err)
	assert.True(t, ok)
}

func TestRemoteSession_RejectsInvalidSample(t *testing.T) {
	s := NewRemoteSession("room/alice", time.Second, nil)
	err := s.Push(StatsUpdate{Outbound: &domain.PathStats{RoundTripTime: math.NaN()}})
	assert.ErrorIs(t, err, domain.ErrInvalidSample)
}

func TestRemoteSession_Notifications(t *testing.T) {
	s := NewRemoteSession("room/alice", time.Second, nil)

	var states []domain.ConnectionState
	var tracks []string
	s.OnConnectionStateChange(func(state domain.ConnectionState) { states = append(states, state) })
	unsubscribe := s.OnTrackSubscribed(func(track domain.TrackInfo) { tracks = append(tracks, track.ID) })

	require.NoError(t, s.Push(StatsUpdate{
		State:  domain.ConnectionStateConnected,
		Tracks: []domain.TrackInfo{{ID: "a", Kind: domain.TrackKindAudio}},
	}))
	require.NoError(t, s.Push(StatsUpdate{
		State:  domain.ConnectionStateConnected,
		Tracks: []domain.TrackInfo{{ID: "a"}, {ID: "v", Kind: domain.TrackKindVideo}},
	}))
	unsubscribe()
	require.NoError(t, s.Push(StatsUpdate{Tracks: []domain.TrackInfo{{ID: "late"}}}))

	s.Close()
	s.Close()

	assert.Equal(t, []domain.ConnectionState{domain.ConnectionStateConnected, domain.ConnectionStateClosed}, states)
	assert.Equal(t, []string{"a", "v"}, tracks)

	assert.ErrorIs(t, s.Push(StatsUpdate{}), domain.ErrSessionClosed)
	_, _, err := s.OutboundStats(context.Background())
	assert.ErrorIs(t, err, domain.ErrSessionClosed)
}

func TestSessionStore_Sweep(t *testing.T) {
	clock := newFakeClock()
	store := NewSessionStore(time.Second, time.Minute, clock.Now, nil)

	alice, created := store.GetOrCreate("room", "alice")
	assert.True(t, created)
	again, created := store.GetOrCreate("room", "alice")
	assert.False(t, created)
	assert.Same(t, alice, again)

	bob, _ := store.GetOrCreate("room", "bob")

	clock.Advance(45 * time.Second)
	require.NoError(t, bob.Push(StatsUpdate{}))
	clock.Advance(30 * time.Second)

	expired := store.Sweep()
	assert.Equal(t, []domain.SessionID{"room/alice"}, expired)
	assert.Equal(t, 1, store.Count())

	_, ok := store.Get("room/alice")
	assert.False(t, ok)
	assert.ErrorIs(t, alice.Push(StatsUpdate{}), domain.ErrSessionClosed)

	assert.True(t, store.Remove("room/bob"))
	assert.False(t, store.Remove("room/bob"))
}

func TestSessionStore_NoIdleTimeout(t *testing.T) {
	clock := newFakeClock()
	store := NewSessionStore(time.Second, 0, clock.Now, nil)
	store.GetOrCreate("room", "alice")

	clock.Advance(24 * time.Hour)
	assert.Empty(t, store.Sweep())
}
