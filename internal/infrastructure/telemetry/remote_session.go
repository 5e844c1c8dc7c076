package telemetry

import (
	"context"
	"sync"
	"time"

	"roomwatch/internal/core/domain"
	"roomwatch/internal/infrastructure/listeners"
)

const DefaultStaleAfter = 5 * time.Second

// StatsUpdate is one push from a client. Nil paths leave the stored reading
// untouched; an empty state means no state change.
type StatsUpdate struct {
	Outbound *domain.PathStats      `json:"outbound,omitempty"`
	Inbound  *domain.PathStats      `json:"inbound,omitempty"`
	State    domain.ConnectionState `json:"state,omitempty"`
	Tracks   []domain.TrackInfo     `json:"tracks,omitempty"`
}

// Validate rejects updates carrying unusable readings.
func (u StatsUpdate) Validate() error {
	if u.Outbound != nil {
		if err := u.Outbound.Validate(); err != nil {
			return err
		}
	}
	if u.Inbound != nil {
		if err := u.Inbound.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// RemoteSession is a session handle fed by statistics a client pushes over
// HTTP instead of a local peer connection.
type RemoteSession struct {
	id         domain.SessionID
	staleAfter time.Duration
	clock      func() time.Time

	mu        sync.RWMutex
	outbound  *domain.PathStats
	inbound   *domain.PathStats
	state     domain.ConnectionState
	lastPush  time.Time
	seenTrack map[string]struct{}
	closed    bool

	stateSubs listeners.Set[domain.ConnectionState]
	trackSubs listeners.Set[domain.TrackInfo]
}

func NewRemoteSession(id domain.SessionID, staleAfter time.Duration, clock func() time.Time) *RemoteSession {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	if clock == nil {
		clock = time.Now
	}
	return &RemoteSession{
		id:         id,
		staleAfter: staleAfter,
		clock:      clock,
		state:      domain.ConnectionStateNew,
		lastPush:   clock(),
		seenTrack:  make(map[string]struct{}),
	}
}

func (s *RemoteSession) ID() domain.SessionID { return s.id }

// Push stores an update and notifies listeners of a state change or of
// tracks not seen before.
func (s *RemoteSession) Push(update StatsUpdate) error {
	if err := update.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ErrSessionClosed
	}
	now := s.clock()
	if update.Outbound != nil {
		out := *update.Outbound
		out.CapturedAt = now
		s.outbound = &out
	}
	if update.Inbound != nil {
		in := *update.Inbound
		in.CapturedAt = now
		s.inbound = &in
	}
	s.lastPush = now

	stateChanged := update.State != "" && update.State != s.state
	if stateChanged {
		s.state = update.State
	}
	var newTracks []domain.TrackInfo
	for _, track := range update.Tracks {
		if _, seen := s.seenTrack[track.ID]; seen {
			continue
		}
		s.seenTrack[track.ID] = struct{}{}
		newTracks = append(newTracks, track)
	}
	s.mu.Unlock()

	if stateChanged {
		s.stateSubs.Emit(update.State)
	}
	for _, track := range newTracks {
		s.trackSubs.Emit(track)
	}
	return nil
}

// LastPush is when the client last pushed anything.
func (s *RemoteSession) LastPush() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastPush
}

func (s *RemoteSession) OutboundStats(ctx context.Context) (domain.PathStats, bool, error) {
	return s.read(ctx, func() *domain.PathStats { return s.outbound })
}

func (s *RemoteSession) InboundStats(ctx context.Context) (domain.PathStats, bool, error) {
	return s.read(ctx, func() *domain.PathStats { return s.inbound })
}

func (s *RemoteSession) read(ctx context.Context, path func() *domain.PathStats) (domain.PathStats, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.PathStats{}, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return domain.PathStats{}, false, domain.ErrSessionClosed
	}
	stats := path()
	if stats == nil {
		return domain.PathStats{}, false, nil
	}
	if s.clock().Sub(s.lastPush) > s.staleAfter {
		return domain.PathStats{}, false, domain.ErrStatsUnavailable
	}
	return *stats, true, nil
}

func (s *RemoteSession) OnConnectionStateChange(fn func(domain.ConnectionState)) func() {
	return s.stateSubs.Add(fn)
}

func (s *RemoteSession) OnTrackSubscribed(fn func(domain.TrackInfo)) func() {
	return s.trackSubs.Add(fn)
}

// Close reports the session as closed to its listeners and rejects further
// pushes.
func (s *RemoteSession) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.state = domain.ConnectionStateClosed
	s.mu.Unlock()

	s.stateSubs.Emit(domain.ConnectionStateClosed)
}
