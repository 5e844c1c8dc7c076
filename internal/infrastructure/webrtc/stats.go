package webrtc

import (
	"math"

	"roomwatch/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

// pathReading is what a stats report says about one direction.
type pathReading struct {
	stats domain.PathStats
	// rtp is true when the report carried RTP stream statistics for the
	// direction; without them the path has carried no media yet.
	rtp bool
	// feedback is true when loss and jitter came from the remote end.
	feedback bool
}

// pathStatsFromReport extracts one direction from a peer connection stats
// report. Outbound paths read outbound-rtp and remote-inbound-rtp entries,
// inbound paths read inbound-rtp. Both take bytes from the transport and
// RTT from the nominated candidate pair when the RTP entries have none.
func pathStatsFromReport(report webrtc.StatsReport, outbound bool) pathReading {
	var (
		r             pathReading
		rtpBytes      uint64
		transportSeen bool
		pairRTT       float64
	)

	for _, s := range report {
		switch st := s.(type) {
		case webrtc.TransportStats:
			transportSeen = true
			r.stats.BytesSent += st.BytesSent
			r.stats.BytesReceived += st.BytesReceived

		case webrtc.ICECandidatePairStats:
			if st.Nominated {
				pairRTT = math.Max(pairRTT, st.CurrentRoundTripTime)
			}

		case webrtc.OutboundRTPStreamStats:
			if !outbound {
				continue
			}
			r.rtp = true
			r.stats.PacketsTotal += uint64(st.PacketsSent)
			rtpBytes += st.BytesSent

		case webrtc.RemoteInboundRTPStreamStats:
			if !outbound {
				continue
			}
			r.feedback = true
			r.stats.PacketsLost += nonNegative(st.PacketsLost)
			r.stats.Jitter = math.Max(r.stats.Jitter, st.Jitter)
			r.stats.RoundTripTime = math.Max(r.stats.RoundTripTime, st.RoundTripTime)

		case webrtc.InboundRTPStreamStats:
			if outbound {
				continue
			}
			lost := nonNegative(st.PacketsLost)
			r.rtp = true
			r.feedback = true
			r.stats.PacketsLost += lost
			r.stats.PacketsTotal += uint64(st.PacketsReceived) + lost
			r.stats.Jitter = math.Max(r.stats.Jitter, st.Jitter)
			rtpBytes += st.BytesReceived
		}
	}

	if !transportSeen {
		if outbound {
			r.stats.BytesSent = rtpBytes
		} else {
			r.stats.BytesReceived = rtpBytes
		}
	}
	if r.stats.RoundTripTime == 0 {
		r.stats.RoundTripTime = pairRTT
	}
	return r
}

func nonNegative(v int32) uint64 {
	if v < 0 {
		return 0
	}
	return uint64(v)
}

func connectionState(state webrtc.PeerConnectionState) domain.ConnectionState {
	switch state {
	case webrtc.PeerConnectionStateConnecting:
		return domain.ConnectionStateConnecting
	case webrtc.PeerConnectionStateConnected:
		return domain.ConnectionStateConnected
	case webrtc.PeerConnectionStateDisconnected:
		return domain.ConnectionStateDisconnected
	case webrtc.PeerConnectionStateFailed:
		return domain.ConnectionStateFailed
	case webrtc.PeerConnectionStateClosed:
		return domain.ConnectionStateClosed
	default:
		return domain.ConnectionStateNew
	}
}
