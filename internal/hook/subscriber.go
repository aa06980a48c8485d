package hook

import (
	"context"
	"sync"
	"time"

	"livecap/internal/caption"
	"livecap/internal/metrics"

	"github.com/sirupsen/logrus"
)

// Subscriber runs the hook for final captions on its own goroutine so a slow
// command never holds up the broadcaster. Captions that arrive while the
// queue is full are dropped and counted.
type Subscriber struct {
	runner  *Runner
	logger  *logrus.Logger
	metrics *metrics.Metrics
	jobs    chan Job

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewSubscriber starts the hook worker.
func NewSubscriber(r *Runner, queueSize int, logger *logrus.Logger, m *metrics.Metrics) *Subscriber {
	if queueSize < 1 {
		queueSize = 16
	}
	if m == nil {
		m = metrics.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Subscriber{
		runner:  r,
		logger:  logger,
		metrics: m,
		jobs:    make(chan Job, queueSize),
		ctx:     ctx,
		cancel:  cancel,
	}
	s.wg.Add(1)
	go s.work()
	return s
}

func (s *Subscriber) Deliver(ev caption.Event) error {
	if ev.IsError || !ev.IsFinal || !s.runner.Wants(ev.Text) {
		return nil
	}
	if s.ctx.Err() != nil {
		return caption.ErrSubscriberClosed
	}
	select {
	case s.jobs <- Job{Seq: ev.Seq, Text: ev.Text, Original: ev.Original, Timestamp: time.Now()}:
	default:
		s.metrics.HookRuns.WithLabelValues("dropped").Inc()
		s.logger.WithField("seq", ev.Seq).Warn("hook queue full, dropping caption")
	}
	return nil
}

// Close stops the worker, cancelling a running command.
func (s *Subscriber) Close() error {
	s.once.Do(func() {
		s.cancel()
		s.wg.Wait()
	})
	return nil
}

func (s *Subscriber) work() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case job := <-s.jobs:
			if !s.runner.ShouldRun() {
				s.metrics.HookRuns.WithLabelValues("cooldown").Inc()
				continue
			}
			if err := s.runner.Run(s.ctx, job); err != nil {
				s.metrics.HookRuns.WithLabelValues("error").Inc()
				s.logger.Errorf("hook: %v", err)
				continue
			}
			s.metrics.HookRuns.WithLabelValues("ok").Inc()
		}
	}
}
