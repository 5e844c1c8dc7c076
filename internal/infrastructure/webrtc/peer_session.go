package webrtc

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"roomwatch/internal/core/domain"
	"roomwatch/internal/infrastructure/listeners"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// PeerSessionConfig tunes a PeerSession.
type PeerSessionConfig struct {
	// OnRTP receives every packet read from a subscribed track. The session
	// drains subscribed tracks itself, so this is the application's only way
	// to see their media.
	OnRTP func(track *webrtc.TrackRemote, pkt *rtp.Packet)
	Clock func() time.Time
}

// PeerSession exposes a participant's publish and subscribe peer
// connections as a session handle. Either connection may be nil. The
// application keeps ownership of both and closes them itself.
type PeerSession struct {
	publisher  *webrtc.PeerConnection
	subscriber *webrtc.PeerConnection

	reception *receptionTracker
	inbound   *inboundCounter
	states    listeners.Set[domain.ConnectionState]
	tracks    listeners.Set[domain.TrackInfo]

	onRTP  func(track *webrtc.TrackRemote, pkt *rtp.Packet)
	clock  func() time.Time
	logger *zap.SugaredLogger

	mu      sync.Mutex
	watched map[*webrtc.RTPSender]struct{}
	closed  atomic.Bool
}

// NewPeerSession takes over the connection-state handlers of both
// connections and the track handler of the subscriber.
func NewPeerSession(publisher, subscriber *webrtc.PeerConnection, cfg PeerSessionConfig, logger *zap.SugaredLogger) *PeerSession {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	s := &PeerSession{
		publisher:  publisher,
		subscriber: subscriber,
		reception:  newReceptionTracker(),
		inbound:    newInboundCounter(),
		onRTP:      cfg.OnRTP,
		clock:      cfg.Clock,
		logger:     logger,
		watched:    make(map[*webrtc.RTPSender]struct{}),
	}

	if publisher != nil {
		publisher.OnConnectionStateChange(s.handleState("publish"))
		for _, sender := range publisher.GetSenders() {
			s.WatchSender(sender)
		}
	}
	if subscriber != nil {
		subscriber.OnConnectionStateChange(s.handleState("subscribe"))
		subscriber.OnTrack(s.handleTrack)
	}
	return s
}

// WatchSender reads RTCP feedback for a published track. Senders present
// when the session was created are watched already.
func (s *PeerSession) WatchSender(sender *webrtc.RTPSender) {
	if sender == nil || sender.Track() == nil {
		return
	}

	s.mu.Lock()
	if _, ok := s.watched[sender]; ok {
		s.mu.Unlock()
		return
	}
	s.watched[sender] = struct{}{}
	s.mu.Unlock()

	params := sender.GetParameters()
	if len(params.Codecs) > 0 {
		for _, enc := range params.Encodings {
			s.reception.setClockRate(uint32(enc.SSRC), params.Codecs[0].ClockRate)
		}
	}

	go func() {
		for {
			packets, _, err := sender.ReadRTCP()
			if err != nil {
				s.logger.Debugw("stopped reading RTCP", "track_id", sender.Track().ID(), "error", err)
				return
			}
			s.reception.observe(packets)
		}
	}()
}

func (s *PeerSession) handleState(path string) func(webrtc.PeerConnectionState) {
	return func(state webrtc.PeerConnectionState) {
		s.logger.Infow("peer connection state changed",
			"path", path,
			"connection_state", state,
		)
		if s.closed.Load() {
			return
		}
		s.states.Emit(connectionState(state))
	}
}

func (s *PeerSession) handleTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	codec := track.Codec()
	s.tracks.Emit(domain.TrackInfo{
		ID:       track.ID(),
		StreamID: track.StreamID(),
		Kind:     domain.TrackKind(track.Kind().String()),
		Codec:    codec.MimeType,
	})

	go func() {
		for {
			pkt, _, err := track.ReadRTP()
			if err != nil {
				s.logger.Debugw("stopped reading track", "track_id", track.ID(), "error", err)
				return
			}
			s.inbound.observe(pkt, codec.ClockRate, s.clock())
			if s.onRTP != nil {
				s.onRTP(track, pkt)
			}
		}
	}()
}

func (s *PeerSession) OutboundStats(ctx context.Context) (domain.PathStats, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.PathStats{}, false, err
	}
	if s.publisher == nil {
		return domain.PathStats{}, false, nil
	}
	if s.closed.Load() || s.publisher.ConnectionState() == webrtc.PeerConnectionStateClosed {
		return domain.PathStats{}, false, domain.ErrSessionClosed
	}

	r := pathStatsFromReport(s.publisher.GetStats(), true)
	if !r.feedback {
		if lost, jitter, ok := s.reception.snapshot(); ok {
			r.stats.PacketsLost = lost
			r.stats.Jitter = jitter
			r.rtp = true
		}
	}
	return r.stats, r.rtp, nil
}

func (s *PeerSession) InboundStats(ctx context.Context) (domain.PathStats, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.PathStats{}, false, err
	}
	if s.subscriber == nil {
		return domain.PathStats{}, false, nil
	}
	if s.closed.Load() || s.subscriber.ConnectionState() == webrtc.PeerConnectionStateClosed {
		return domain.PathStats{}, false, domain.ErrSessionClosed
	}

	r := pathStatsFromReport(s.subscriber.GetStats(), false)
	if !r.rtp {
		if counted, ok := s.inbound.snapshot(); ok {
			transportBytes, rtt := r.stats.BytesReceived, r.stats.RoundTripTime
			r.stats = counted
			r.stats.RoundTripTime = rtt
			if transportBytes > 0 {
				r.stats.BytesReceived = transportBytes
			}
			r.rtp = true
		}
	}
	return r.stats, r.rtp, nil
}

// Close unregisters every listener and makes further statistics queries
// fail. The peer connections are left open.
func (s *PeerSession) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.states.Clear()
	s.tracks.Clear()
}

func (s *PeerSession) OnConnectionStateChange(fn func(domain.ConnectionState)) func() {
	return s.states.Add(fn)
}

func (s *PeerSession) OnTrackSubscribed(fn func(domain.TrackInfo)) func() {
	return s.tracks.Add(fn)
}
