package services

import (
	"sync"

	"roomwatch/internal/core/domain"
)

// Reporter holds the latest quality report of one session and fans it out to
// subscribers. Publish never blocks: a subscriber whose buffer is full misses
// that report.
type Reporter struct {
	mu       sync.RWMutex
	latest   *domain.QualityReport
	sequence uint64
	nextSub  uint64
	subs     map[uint64]chan domain.QualityReport
	dropped  uint64
}

func NewReporter() *Reporter {
	return &Reporter{
		subs: make(map[uint64]chan domain.QualityReport),
	}
}

// Publish stamps the report with the next sequence number, stores it and
// delivers it to subscribers.
func (r *Reporter) Publish(report domain.QualityReport) domain.QualityReport {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sequence++
	report.Sequence = r.sequence
	r.latest = &report

	for _, ch := range r.subs {
		select {
		case ch <- report:
		default:
			r.dropped++
		}
	}
	return report
}

// Latest returns the last published report.
func (r *Reporter) Latest() (domain.QualityReport, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.latest == nil {
		return domain.QualityReport{}, false
	}
	return *r.latest, true
}

// Subscribe registers a buffered channel. The returned function unsubscribes
// and closes the channel; calling it more than once is safe.
func (r *Reporter) Subscribe(buffer int) (<-chan domain.QualityReport, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan domain.QualityReport, buffer)

	r.mu.Lock()
	r.nextSub++
	id := r.nextSub
	r.subs[id] = ch
	r.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if _, ok := r.subs[id]; ok {
				delete(r.subs, id)
				close(ch)
			}
		})
	}
}

// SubscriberCount is the number of live subscriptions.
func (r *Reporter) SubscriberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Dropped counts deliveries skipped because a subscriber was full.
func (r *Reporter) Dropped() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dropped
}

// Close unsubscribes everyone.
func (r *Reporter) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, ch := range r.subs {
		delete(r.subs, id)
		close(ch)
	}
}
