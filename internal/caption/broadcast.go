package caption

import (
	"errors"
	"sync"

	"livecap/internal/metrics"

	"github.com/sirupsen/logrus"
)

var (
	// ErrSlowSubscriber is returned by Deliver when a subscriber's buffer is full.
	ErrSlowSubscriber = errors.New("subscriber buffer full")
	// ErrSubscriberClosed is returned by Deliver after Close.
	ErrSubscriberClosed = errors.New("subscriber closed")
)

// Subscriber receives published events. Deliver must not block; an error
// removes the subscriber from the set.
type Subscriber interface {
	Deliver(ev Event) error
	Close() error
}

// Broadcaster fans events out to a set of subscribers. Client connections
// are registered with AddClient and counted separately from internal sinks
// such as the recent-caption tail or the hook.
type Broadcaster struct {
	logger  *logrus.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	subs    map[uint64]Subscriber
	clients map[uint64]struct{}
	nextID  uint64
}

// NewBroadcaster returns an empty Broadcaster.
func NewBroadcaster(logger *logrus.Logger, m *metrics.Metrics) *Broadcaster {
	if m == nil {
		m = metrics.NewNop()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Broadcaster{
		logger:  logger,
		metrics: m,
		subs:    make(map[uint64]Subscriber),
		clients: make(map[uint64]struct{}),
	}
}

// Add registers an internal sink and returns its id.
func (b *Broadcaster) Add(s Subscriber) uint64 {
	return b.add(s, false)
}

// AddClient registers a client connection and returns its id.
func (b *Broadcaster) AddClient(s Subscriber) uint64 {
	return b.add(s, true)
}

func (b *Broadcaster) add(s Subscriber, client bool) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.subs[b.nextID] = s
	if client {
		b.clients[b.nextID] = struct{}{}
	}
	b.metrics.Subscribers.Set(float64(len(b.clients)))
	return b.nextID
}

// deleteLocked drops id from both sets; b.mu must be held.
func (b *Broadcaster) deleteLocked(id uint64) {
	delete(b.subs, id)
	delete(b.clients, id)
	b.metrics.Subscribers.Set(float64(len(b.clients)))
}

// Remove unregisters and closes the subscriber with id. It reports whether
// the subscriber was still registered.
func (b *Broadcaster) Remove(id uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.subs[id]
	if !ok {
		return false
	}
	b.deleteLocked(id)
	_ = s.Close()
	return true
}

// Len reports the number of subscribers, internal sinks included.
func (b *Broadcaster) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Clients reports the number of connected clients.
func (b *Broadcaster) Clients() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Publish delivers ev to every subscriber. A subscriber whose delivery fails
// is removed and closed; the others are unaffected.
func (b *Broadcaster) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, s := range b.subs {
		if err := s.Deliver(ev); err != nil {
			b.logger.WithFields(logrus.Fields{"subscriber": id, "seq": ev.Seq}).Debugf("delivery failed, dropping subscriber: %v", err)
			b.deleteLocked(id)
			b.metrics.DeliveryFails.Inc()
			_ = s.Close()
		}
	}
}

// CloseAll closes and removes every subscriber.
func (b *Broadcaster) CloseAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, s := range b.subs {
		_ = s.Close()
		b.deleteLocked(id)
	}
}

// ChanSubscriber buffers events on a channel for a consumer goroutine.
type ChanSubscriber struct {
	ch   chan Event
	done chan struct{}
	once sync.Once
}

// NewChanSubscriber returns a subscriber holding up to size undelivered events.
func NewChanSubscriber(size int) *ChanSubscriber {
	if size < 1 {
		size = 1
	}
	return &ChanSubscriber{
		ch:   make(chan Event, size),
		done: make(chan struct{}),
	}
}

func (c *ChanSubscriber) Deliver(ev Event) error {
	select {
	case <-c.done:
		return ErrSubscriberClosed
	default:
	}
	select {
	case c.ch <- ev:
		return nil
	default:
		return ErrSlowSubscriber
	}
}

// Events returns the event stream. It is never closed; watch Done.
func (c *ChanSubscriber) Events() <-chan Event { return c.ch }

// Done is closed once the subscriber is closed.
func (c *ChanSubscriber) Done() <-chan struct{} { return c.done }

func (c *ChanSubscriber) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}
