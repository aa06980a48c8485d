package caption

import (
	"sync"
	"time"

	"livecap/internal/metrics"

	"github.com/sirupsen/logrus"
)

// Publisher receives events in sequence order. Publish must not block.
type Publisher interface {
	Publish(ev Event)
}

type slot struct {
	ev   Event
	skip bool
}

// Reorderer releases events strictly by sequence number. Workers call Accept
// for every event and Skip for utterances that produced no event. When the
// next sequence number is missing while later ones wait, a timer declares an
// ordering gap after the configured timeout and moves on; events that arrive
// for a skipped sequence number are dropped.
type Reorderer struct {
	out     Publisher
	timeout time.Duration
	logger  *logrus.Logger
	metrics *metrics.Metrics

	mu         sync.Mutex
	next       uint64
	pending    map[uint64]slot
	timer      *time.Timer
	timerGen   uint64
	waitingFor uint64
	closed     bool
}

// NewReorderer returns a Reorderer expecting sequence number 1 first.
func NewReorderer(out Publisher, timeout time.Duration, logger *logrus.Logger, m *metrics.Metrics) *Reorderer {
	if m == nil {
		m = metrics.NewNop()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Reorderer{
		out:     out,
		timeout: timeout,
		logger:  logger,
		metrics: m,
		next:    1,
		pending: make(map[uint64]slot),
	}
}

// Next reports the sequence number the Reorderer is waiting for.
func (r *Reorderer) Next() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.next
}

// Pending reports how many events are buffered.
func (r *Reorderer) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Accept buffers ev and releases every event that is now in order.
func (r *Reorderer) Accept(ev Event) {
	r.put(ev.Seq, slot{ev: ev})
}

// Skip marks seq as producing no event.
func (r *Reorderer) Skip(seq uint64) {
	r.put(seq, slot{skip: true})
}

func (r *Reorderer) put(seq uint64, s slot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if seq < r.next {
		r.metrics.LateDrops.Inc()
		r.logger.WithFields(logrus.Fields{"seq": seq, "next": r.next}).Warn("caption arrived after its gap was declared; dropping")
		return
	}
	if _, dup := r.pending[seq]; dup {
		r.logger.WithField("seq", seq).Warn("duplicate caption sequence; dropping")
		return
	}
	r.pending[seq] = s
	r.releaseLocked()
	r.armLocked()
}

func (r *Reorderer) releaseLocked() {
	for {
		s, ok := r.pending[r.next]
		if !ok {
			return
		}
		delete(r.pending, r.next)
		if !s.skip {
			r.metrics.Captions.WithLabelValues(s.ev.Type()).Inc()
			r.out.Publish(s.ev)
		}
		r.next++
	}
}

// armLocked keeps one timer running for the current head-of-line wait.
func (r *Reorderer) armLocked() {
	if len(r.pending) == 0 {
		r.stopTimerLocked()
		return
	}
	if r.timer != nil && r.waitingFor == r.next {
		return
	}
	r.stopTimerLocked()
	r.waitingFor = r.next
	gen := r.timerGen
	r.timer = time.AfterFunc(r.timeout, func() { r.expire(gen) })
}

func (r *Reorderer) stopTimerLocked() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.timerGen++
}

func (r *Reorderer) expire(gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || gen != r.timerGen {
		return
	}
	r.timer = nil
	r.skipGapLocked()
	r.releaseLocked()
	r.armLocked()
}

// skipGapLocked advances next to the lowest buffered sequence number.
func (r *Reorderer) skipGapLocked() {
	if len(r.pending) == 0 {
		return
	}
	lowest := uint64(0)
	for seq := range r.pending {
		if lowest == 0 || seq < lowest {
			lowest = seq
		}
	}
	if lowest <= r.next {
		return
	}
	missing := lowest - r.next
	r.metrics.OrderingGaps.Add(float64(missing))
	r.logger.WithFields(logrus.Fields{"from": r.next, "to": lowest - 1, "missing": missing}).Warn("ordering gap: skipping captions that never arrived")
	r.next = lowest
}

// Drain releases everything still buffered in sequence order, declaring gaps
// for any holes. Used at session stop once all workers have exited.
func (r *Reorderer) Drain() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for len(r.pending) > 0 {
		r.skipGapLocked()
		r.releaseLocked()
	}
	r.stopTimerLocked()
}

// Close stops the timer and drops anything still buffered. Later calls to
// Accept and Skip are ignored.
func (r *Reorderer) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.stopTimerLocked()
	r.pending = map[uint64]slot{}
}
