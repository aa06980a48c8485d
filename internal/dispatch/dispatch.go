// Package dispatch feeds utterances through a bounded queue to a fixed pool
// of transcription workers. Each worker recognizes the audio, cleans the
// transcript, optionally translates it, and hands exactly one outcome per
// utterance (an event or a skip) to the Sink.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"livecap/internal/asr"
	"livecap/internal/audio"
	"livecap/internal/caption"
	"livecap/internal/metrics"
	"livecap/internal/translate"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("dispatcher closed")
	// ErrQueueFull reports that the submitted utterance was dropped.
	ErrQueueFull = errors.New("transcription queue full")
)

// Sink receives worker output. Implementations must be safe for concurrent use.
type Sink interface {
	Accept(ev caption.Event)
	Skip(seq uint64)
}

// Overflow selects which utterance is dropped when the queue is full.
type Overflow int

const (
	DropOldest Overflow = iota
	DropNewest
)

// ParseOverflow parses "drop_oldest" or "drop_newest".
func ParseOverflow(s string) (Overflow, error) {
	switch s {
	case "", "drop_oldest":
		return DropOldest, nil
	case "drop_newest":
		return DropNewest, nil
	}
	return DropOldest, fmt.Errorf("unknown overflow policy %q", s)
}

// Options configure a Dispatcher.
type Options struct {
	Workers    int
	QueueSize  int
	Overflow   Overflow
	SourceLang string
	TargetLang string
}

// Dispatcher owns the queue and the worker pool for one session.
type Dispatcher struct {
	opts    Options
	rec     asr.Recognizer
	tr      translate.Translator
	sink    Sink
	logger  *logrus.Logger
	metrics *metrics.Metrics
	locale  string

	queue  chan audio.Utterance
	ctx    context.Context
	cancel context.CancelFunc
	g      errgroup.Group

	mu     sync.Mutex
	closed bool
}

// New starts opts.Workers workers. tr may be nil, in which case captions are
// never translated.
func New(opts Options, rec asr.Recognizer, tr translate.Translator, sink Sink, logger *logrus.Logger, m *metrics.Metrics) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 32
	}
	if m == nil {
		m = metrics.NewNop()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		opts:    opts,
		rec:     rec,
		tr:      tr,
		sink:    sink,
		logger:  logger,
		metrics: m,
		locale:  asr.Locale(opts.SourceLang),
		queue:   make(chan audio.Utterance, opts.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
	}
	for i := 0; i < opts.Workers; i++ {
		id := i
		d.g.Go(func() error {
			d.work(id)
			return nil
		})
	}
	return d
}

// Submit enqueues u without blocking. When the queue is full the overflow
// policy drops one utterance and an error caption is emitted for it so the
// caption stream never stalls on the missing sequence number. ErrQueueFull
// is returned only when u itself was dropped.
func (d *Dispatcher) Submit(u audio.Utterance) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	select {
	case d.queue <- u:
		d.metrics.QueueDepth.Set(float64(len(d.queue)))
		return nil
	default:
	}

	if d.opts.Overflow == DropNewest {
		d.dropped(u.Seq)
		return ErrQueueFull
	}
	select {
	case old := <-d.queue:
		d.dropped(old.Seq)
	default:
	}
	select {
	case d.queue <- u:
		d.metrics.QueueDepth.Set(float64(len(d.queue)))
		return nil
	default:
		d.dropped(u.Seq)
		return ErrQueueFull
	}
}

func (d *Dispatcher) dropped(seq uint64) {
	d.metrics.QueueDrops.Inc()
	d.logger.WithField("seq", seq).Warn("transcription queue full, dropping utterance")
	d.sink.Accept(caption.Errorf(seq, "caption dropped: %v", ErrQueueFull))
}

// Close stops accepting utterances and waits for workers to drain the queue.
// When ctx ends first, in-flight calls are cancelled and queued utterances
// are abandoned; Close still waits for every worker to exit.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		_ = d.g.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		abandoned := len(d.queue)
		d.cancel()
		<-done
		d.logger.WithField("abandoned", abandoned).Warn("dispatcher drain timed out; abandoned queued utterances")
		return fmt.Errorf("dispatch: drain: %w", ctx.Err())
	}
}

func (d *Dispatcher) work(id int) {
	log := d.logger.WithField("worker", id)
	for {
		select {
		case <-d.ctx.Done():
			return
		case u, ok := <-d.queue:
			if !ok {
				return
			}
			d.metrics.QueueDepth.Set(float64(len(d.queue)))
			if d.ctx.Err() != nil {
				d.sink.Skip(u.Seq)
				continue
			}
			d.process(log, u)
		}
	}
}

func (d *Dispatcher) process(log *logrus.Entry, u audio.Utterance) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("seq", u.Seq).Errorf("worker panic: %v", r)
			d.sink.Accept(caption.Errorf(u.Seq, "internal error: %v", r))
		}
	}()

	start := time.Now()
	text, err := d.rec.Recognize(d.ctx, audio.PCM16LE(u.Samples), u.SampleRate, d.locale)
	if err != nil {
		d.metrics.ASRLatency.WithLabelValues("error").Observe(time.Since(start).Seconds())
		if d.ctx.Err() != nil {
			d.sink.Skip(u.Seq)
			return
		}
		log.WithField("seq", u.Seq).Errorf("asr: %v", err)
		d.sink.Accept(caption.Errorf(u.Seq, "ASR error: %v", err))
		return
	}
	d.metrics.ASRLatency.WithLabelValues("ok").Observe(time.Since(start).Seconds())

	clean := CleanText(text)
	if clean == "" {
		d.sink.Skip(u.Seq)
		return
	}
	log.WithField("seq", u.Seq).Infof("heard: %q", clean)

	if d.tr == nil || !translate.Needed(d.opts.SourceLang, d.opts.TargetLang) {
		d.sink.Accept(caption.Caption(u.Seq, clean, ""))
		return
	}
	start = time.Now()
	res := d.tr.Translate(d.ctx, clean, d.opts.SourceLang, d.opts.TargetLang)
	d.metrics.TranslateLatency.WithLabelValues(res.Outcome.String()).Observe(time.Since(start).Seconds())
	if !res.OK() {
		if d.ctx.Err() != nil {
			d.sink.Skip(u.Seq)
			return
		}
		log.WithField("seq", u.Seq).Errorf("translate: %v", res.Err)
		d.sink.Accept(caption.Errorf(u.Seq, "translation error: %v", res.Err))
		return
	}
	d.sink.Accept(caption.Caption(u.Seq, res.Text, clean))
}

// Clean suppresses stutter: a run of three or more identical consecutive
// tokens collapses to one occurrence, shorter runs are kept as they are.
func Clean(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	for i := 0; i < len(tokens); {
		j := i + 1
		for j < len(tokens) && tokens[j] == tokens[i] {
			j++
		}
		if j-i >= 3 {
			out = append(out, tokens[i])
		} else {
			out = append(out, tokens[i:j]...)
		}
		i = j
	}
	return out
}

// CleanText applies Clean to whitespace-delimited tokens.
func CleanText(s string) string {
	return strings.Join(Clean(strings.Fields(s)), " ")
}
