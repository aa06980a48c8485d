// Package session owns the captioning lifecycle. A Controller runs at most
// one session at a time: a capture goroutine reading the source and driving
// the segmenter, a dispatcher with its worker pool, and a reorderer feeding
// the shared broadcaster. Start and Stop serialize through the Controller.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"livecap/internal/asr"
	"livecap/internal/audio"
	"livecap/internal/capture"
	"livecap/internal/caption"
	"livecap/internal/dispatch"
	"livecap/internal/metrics"
	"livecap/internal/segment"
	"livecap/internal/translate"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// State is the session lifecycle state.
type State int

const (
	Stopped State = iota
	Starting
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return "stopped"
	}
}

// ErrNoTranslator is returned by Start when the target language needs a
// translator and none is configured.
var ErrNoTranslator = errors.New("translation requested but no translator is configured")

const captureJoinTimeout = time.Second

// Params select languages and input for one session.
type Params struct {
	SourceLang string
	TargetLang string
	UseMic     bool
	Device     string
}

// Info describes a started session.
type Info struct {
	ID        string
	Params    Params
	Format    capture.Format
	StartedAt time.Time
}

// Status is a point-in-time view of the controller.
type Status struct {
	Running   bool       `json:"running"`
	State     string     `json:"state"`
	Clients   int        `json:"clients"`
	Session   string     `json:"session,omitempty"`
	Source    string     `json:"source,omitempty"`
	Target    string     `json:"target,omitempty"`
	Device    string     `json:"device,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}

// Deps are the collaborators shared by every session.
type Deps struct {
	Sources     capture.Factory
	Recognizer  asr.Recognizer
	Translator  translate.Translator // optional
	Broadcaster *caption.Broadcaster

	Segment segment.Config
	// Classifier builds a speech classifier for the opened sample rate.
	// Nil uses the energy classifier from Segment.
	Classifier func(sampleRate int) (segment.Classifier, error)

	Workers      int
	QueueSize    int
	Overflow     dispatch.Overflow
	FrameSamples int
	GapTimeout   time.Duration
	DrainTimeout time.Duration

	Logger  *logrus.Logger
	Metrics *metrics.Metrics
}

type session struct {
	info    Info
	src     capture.Source
	seg     *segment.Segmenter
	disp    *dispatch.Dispatcher
	reorder *caption.Reorderer
	cancel  context.CancelFunc

	captureDone chan struct{}
	captureErr  error // valid after captureDone is closed
	ended       chan struct{}
}

// Controller runs captioning sessions.
type Controller struct {
	deps Deps

	opMu sync.Mutex // serializes Start and Stop

	mu      sync.Mutex
	state   State
	cur     *session
	lastErr error
}

// NewController returns a stopped controller.
func NewController(deps Deps) *Controller {
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNop()
	}
	if deps.FrameSamples <= 0 {
		deps.FrameSamples = 1024
	}
	if deps.GapTimeout <= 0 {
		deps.GapTimeout = 4 * time.Second
	}
	if deps.DrainTimeout <= 0 {
		deps.DrainTimeout = 10 * time.Second
	}
	return &Controller{deps: deps}
}

// State reports the lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Status reports the lifecycle state, the current session and subscriber count.
func (c *Controller) Status() Status {
	c.mu.Lock()
	st := Status{
		Running: c.state == Running,
		State:   c.state.String(),
	}
	if c.cur != nil {
		started := c.cur.info.StartedAt
		st.Session = c.cur.info.ID
		st.Source = c.cur.info.Params.SourceLang
		st.Target = c.cur.info.Params.TargetLang
		st.Device = c.cur.info.Format.Name
		st.StartedAt = &started
	}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	c.mu.Unlock()
	if c.deps.Broadcaster != nil {
		st.Clients = c.deps.Broadcaster.Clients()
	}
	return st
}

// Start begins a session, first fully stopping any running one. ctx bounds
// only the stop of the previous session; the new session runs until Stop.
func (c *Controller) Start(ctx context.Context, p Params) (Info, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if err := c.stopLocked(ctx); err != nil {
		c.deps.Logger.Warnf("stop previous session: %v", err)
	}
	if p.SourceLang == "" {
		p.SourceLang = "auto"
	}
	if translate.Needed(p.SourceLang, p.TargetLang) && c.deps.Translator == nil {
		return Info{}, ErrNoTranslator
	}

	c.setState(Starting)
	src := c.deps.Sources()
	format, err := src.Open(capture.Selector{UseMic: p.UseMic, Device: p.Device})
	if err != nil {
		c.deps.Metrics.DeviceErrors.Inc()
		c.fail(err)
		return Info{}, err
	}
	segCfg := c.deps.Segment
	if c.deps.Classifier != nil {
		cls, err := c.deps.Classifier(format.SampleRate)
		if err != nil {
			_ = src.Close()
			err = fmt.Errorf("speech classifier: %w", err)
			c.fail(err)
			return Info{}, err
		}
		segCfg.Classifier = cls
	}

	info := Info{
		ID:        uuid.NewString(),
		Params:    p,
		Format:    format,
		StartedAt: time.Now(),
	}
	log := c.deps.Logger.WithField("session", info.ID)
	reorder := caption.NewReorderer(c.deps.Broadcaster, c.deps.GapTimeout, c.deps.Logger, c.deps.Metrics)
	disp := dispatch.New(dispatch.Options{
		Workers:    c.deps.Workers,
		QueueSize:  c.deps.QueueSize,
		Overflow:   c.deps.Overflow,
		SourceLang: p.SourceLang,
		TargetLang: p.TargetLang,
	}, c.deps.Recognizer, c.deps.Translator, reorder, c.deps.Logger, c.deps.Metrics)

	captureCtx, cancel := context.WithCancel(context.Background())
	sess := &session{
		info:        info,
		src:         src,
		seg:         segment.New(segCfg, format.SampleRate, c.deps.Logger),
		disp:        disp,
		reorder:     reorder,
		cancel:      cancel,
		captureDone: make(chan struct{}),
		ended:       make(chan struct{}),
	}
	go c.capture(captureCtx, sess, log)
	go c.watch(sess, log)

	c.mu.Lock()
	c.cur = sess
	c.state = Running
	c.lastErr = nil
	c.mu.Unlock()
	c.deps.Metrics.SessionStarts.Inc()
	log.WithFields(logrus.Fields{
		"device":   format.Name,
		"rate":     format.SampleRate,
		"channels": format.Channels,
		"source":   p.SourceLang,
		"target":   p.TargetLang,
	}).Info("session started")
	return info, nil
}

func (c *Controller) fail(err error) {
	c.mu.Lock()
	c.state = Stopped
	c.lastErr = err
	c.mu.Unlock()
}

// Stop ends the running session. Stopping a stopped controller is a no-op.
func (c *Controller) Stop(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.stopLocked(ctx)
}

func (c *Controller) stopLocked(ctx context.Context) error {
	c.mu.Lock()
	sess := c.cur
	if sess == nil {
		c.state = Stopped
		c.mu.Unlock()
		return nil
	}
	c.state = Stopping
	c.mu.Unlock()

	log := c.deps.Logger.WithField("session", sess.info.ID)
	sess.cancel()
	select {
	case <-sess.captureDone:
	case <-time.After(captureJoinTimeout):
		log.Warn("capture loop did not exit within 1s; continuing shutdown")
	}

	drainCtx, cancel := context.WithTimeout(ctx, c.deps.DrainTimeout)
	defer cancel()
	err := sess.disp.Close(drainCtx)
	sess.reorder.Drain()
	sess.reorder.Close()

	c.mu.Lock()
	c.cur = nil
	c.state = Stopped
	c.mu.Unlock()
	close(sess.ended)
	log.WithField("ran", time.Since(sess.info.StartedAt).Round(time.Second)).Info("session stopped")
	return err
}

// Wait blocks until the current session ends or ctx is done. It returns
// immediately when no session is running.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	sess := c.cur
	c.mu.Unlock()
	if sess == nil {
		return nil
	}
	select {
	case <-sess.ended:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// capture is the single producer: it owns the source and the segmenter.
func (c *Controller) capture(ctx context.Context, sess *session, log *logrus.Entry) {
	defer close(sess.captureDone)
	defer func() {
		if u, ok := sess.seg.Flush(); ok {
			c.submit(sess, u, log)
		}
		if err := sess.src.Close(); err != nil {
			log.Warnf("close source: %v", err)
		}
	}()
	for {
		if ctx.Err() != nil {
			return
		}
		frame, err := sess.src.ReadFrame(c.deps.FrameSamples)
		if err != nil {
			if ctx.Err() == nil {
				sess.captureErr = err
			}
			return
		}
		u, ok := sess.seg.Push(frame)
		c.deps.Metrics.InputLevel.Set(sess.seg.LastRMS())
		if ok {
			c.submit(sess, u, log)
		}
	}
}

func (c *Controller) submit(sess *session, u audio.Utterance, log *logrus.Entry) {
	c.deps.Metrics.Utterances.Inc()
	c.deps.Metrics.UtteranceSeconds.Observe(u.Duration().Seconds())
	log.WithFields(logrus.Fields{"seq": u.Seq, "dur": u.Duration().Round(10 * time.Millisecond)}).Debug("utterance")
	if err := sess.disp.Submit(u); err != nil && !errors.Is(err, dispatch.ErrQueueFull) {
		log.WithField("seq", u.Seq).Warnf("submit utterance: %v", err)
	}
}

// watch stops the session when capture ends on its own: end of a file
// source, or a device failure.
func (c *Controller) watch(sess *session, log *logrus.Entry) {
	<-sess.captureDone
	err := sess.captureErr
	if err == nil {
		return
	}
	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.mu.Lock()
	current := c.cur == sess
	c.mu.Unlock()
	if !current {
		return
	}
	if errors.Is(err, io.EOF) {
		log.Info("audio source finished")
		_ = c.stopLocked(context.Background())
		return
	}
	c.deps.Metrics.DeviceErrors.Inc()
	log.Errorf("capture failed: %v", err)
	_ = c.stopLocked(context.Background())
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
	if c.deps.Broadcaster != nil {
		c.deps.Broadcaster.Publish(caption.Errorf(0, "capture stopped: %v", err))
	}
}
