package telemetry

import (
	"context"
	"sync"
	"time"

	"roomwatch/internal/core/domain"

	"go.uber.org/zap"
)

// SessionStore holds the remote sessions clients push statistics for.
type SessionStore struct {
	staleAfter  time.Duration
	idleTimeout time.Duration
	clock       func() time.Time
	logger      *zap.SugaredLogger

	mu       sync.Mutex
	sessions map[domain.SessionID]*RemoteSession
}

// NewSessionStore creates a store. Sessions without a push for idleTimeout
// are expired by Sweep; zero disables expiry.
func NewSessionStore(staleAfter, idleTimeout time.Duration, clock func() time.Time, logger *zap.SugaredLogger) *SessionStore {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &SessionStore{
		staleAfter:  staleAfter,
		idleTimeout: idleTimeout,
		clock:       clock,
		logger:      logger,
		sessions:    make(map[domain.SessionID]*RemoteSession),
	}
}

// GetOrCreate returns the session for room/identity. created is true when
// the session did not exist yet.
func (s *SessionStore) GetOrCreate(room, identity string) (session *RemoteSession, created bool) {
	id := domain.NewSessionID(room, identity)

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.sessions[id]; ok {
		return existing, false
	}
	session = NewRemoteSession(id, s.staleAfter, s.clock)
	s.sessions[id] = session
	return session, true
}

func (s *SessionStore) Get(id domain.SessionID) (*RemoteSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	return session, ok
}

// Remove closes and forgets a session.
func (s *SessionStore) Remove(id domain.SessionID) bool {
	s.mu.Lock()
	session, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if ok {
		session.Close()
	}
	return ok
}

func (s *SessionStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep closes sessions idle for longer than the idle timeout and returns
// their ids.
func (s *SessionStore) Sweep() []domain.SessionID {
	if s.idleTimeout <= 0 {
		return nil
	}
	now := s.clock()

	s.mu.Lock()
	var expired []*RemoteSession
	for id, session := range s.sessions {
		if now.Sub(session.LastPush()) > s.idleTimeout {
			expired = append(expired, session)
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()

	ids := make([]domain.SessionID, 0, len(expired))
	for _, session := range expired {
		session.Close()
		ids = append(ids, session.ID())
	}
	return ids
}

// RunJanitor sweeps every interval until ctx is done, handing expired ids to
// onExpire.
func (s *SessionStore) RunJanitor(ctx context.Context, interval time.Duration, onExpire func(domain.SessionID)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, id := range s.Sweep() {
				s.logger.Infow("remote session expired", "session_id", id)
				if onExpire != nil {
					onExpire(id)
				}
			}
		}
	}
}
