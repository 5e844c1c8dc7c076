package webrtc

import (
	"math"
	"sync"
	"time"

	"roomwatch/internal/core/domain"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
)

const defaultClockRate = 90000

// receptionTracker keeps the newest RTCP reception report per outgoing SSRC.
// It backs the publish path when the stats report has no remote-inbound
// entries.
type receptionTracker struct {
	mu         sync.Mutex
	clockRates map[uint32]uint32
	reports    map[uint32]rtcp.ReceptionReport
}

func newReceptionTracker() *receptionTracker {
	return &receptionTracker{
		clockRates: make(map[uint32]uint32),
		reports:    make(map[uint32]rtcp.ReceptionReport),
	}
}

func (t *receptionTracker) setClockRate(ssrc, rate uint32) {
	if rate == 0 {
		return
	}
	t.mu.Lock()
	t.clockRates[ssrc] = rate
	t.mu.Unlock()
}

func (t *receptionTracker) observe(packets []rtcp.Packet) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, packet := range packets {
		switch p := packet.(type) {
		case *rtcp.ReceiverReport:
			for _, rr := range p.Reports {
				t.reports[rr.SSRC] = rr
			}
		case *rtcp.SenderReport:
			for _, rr := range p.Reports {
				t.reports[rr.SSRC] = rr
			}
		}
	}
}

// snapshot sums cumulative loss and returns the worst jitter in seconds.
func (t *receptionTracker) snapshot() (lost uint64, jitter float64, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for ssrc, rr := range t.reports {
		rate, known := t.clockRates[ssrc]
		if !known {
			rate = defaultClockRate
		}
		lost += uint64(rr.TotalLost)
		jitter = math.Max(jitter, float64(rr.Jitter)/float64(rate))
	}
	return lost, jitter, len(t.reports) > 0
}

// streamCounter follows one incoming RTP stream the way a receiver report
// would: extended sequence numbers for loss, RFC 3550 interarrival jitter.
type streamCounter struct {
	clockRate uint32

	baseSeq  uint16
	maxSeq   uint16
	cycles   uint64
	received uint64
	bytes    uint64

	firstArrival time.Time
	firstTS      uint32
	lastTransit  float64
	jitter       float64 // timestamp units
}

func (s *streamCounter) expected() uint64 {
	return s.cycles + uint64(s.maxSeq) - uint64(s.baseSeq) + 1
}

func (s *streamCounter) update(pkt *rtp.Packet, at time.Time) {
	seq := pkt.SequenceNumber
	if s.received == 0 {
		s.baseSeq, s.maxSeq = seq, seq
		s.firstArrival, s.firstTS = at, pkt.Timestamp
	} else if delta := seq - s.maxSeq; delta != 0 && delta < 0x8000 {
		if seq < s.maxSeq {
			s.cycles += 1 << 16
		}
		s.maxSeq = seq
	}
	s.received++
	s.bytes += uint64(pkt.MarshalSize())

	arrival := at.Sub(s.firstArrival).Seconds() * float64(s.clockRate)
	transit := arrival - float64(pkt.Timestamp-s.firstTS)
	if s.received > 1 {
		d := math.Abs(transit - s.lastTransit)
		s.jitter += (d - s.jitter) / 16
	}
	s.lastTransit = transit
}

// inboundCounter aggregates the RTP streams read from subscribed tracks. It
// backs the subscribe path when the stats report has no inbound-rtp entries.
type inboundCounter struct {
	mu      sync.Mutex
	streams map[uint32]*streamCounter
}

func newInboundCounter() *inboundCounter {
	return &inboundCounter{streams: make(map[uint32]*streamCounter)}
}

func (c *inboundCounter) observe(pkt *rtp.Packet, clockRate uint32, at time.Time) {
	if clockRate == 0 {
		clockRate = defaultClockRate
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.streams[pkt.SSRC]
	if !ok {
		s = &streamCounter{clockRate: clockRate}
		c.streams[pkt.SSRC] = s
	}
	s.update(pkt, at)
}

func (c *inboundCounter) snapshot() (domain.PathStats, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var stats domain.PathStats
	for _, s := range c.streams {
		expected := s.expected()
		if expected > s.received {
			stats.PacketsLost += expected - s.received
		}
		stats.PacketsTotal += expected
		stats.BytesReceived += s.bytes
		stats.Jitter = math.Max(stats.Jitter, s.jitter/float64(s.clockRate))
	}
	return stats, len(c.streams) > 0
}
