// Package segment splits a continuous PCM stream into utterances using a
// voice-activity state machine.
//
// Every frame is downmixed to mono and appended to the active buffer. A
// Classifier decides whether the frame is speech. The buffer is flushed as an
// Utterance when it reaches the hard cap, or when speech has been followed by
// enough silence and the buffer is long enough to be worth transcribing.
package segment

import (
	"time"

	"livecap/internal/audio"

	"github.com/sirupsen/logrus"
)

// State is the voice-activity state.
type State int

const (
	Silence State = iota
	InSpeech
)

func (s State) String() string {
	if s == InSpeech {
		return "in_speech"
	}
	return "silence"
}

// Classifier decides whether a mono frame contains speech. rms is the frame's
// RMS energy, already computed.
type Classifier interface {
	IsSpeech(samples []int16, sampleRate int, rms float64) bool
}

// Energy classifies frames with RMS at or above Threshold as speech.
type Energy struct {
	Threshold float64
}

func (e Energy) IsSpeech(_ []int16, _ int, rms float64) bool {
	return rms >= e.Threshold
}

// Config holds the segmentation thresholds.
type Config struct {
	SilenceThreshold  float64
	SilenceDuration   time.Duration
	MinSpeechDuration time.Duration
	MaxChunkDuration  time.Duration
	// Classifier overrides the energy classifier built from SilenceThreshold.
	Classifier Classifier
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		SilenceThreshold:  150,
		SilenceDuration:   330 * time.Millisecond,
		MinSpeechDuration: 400 * time.Millisecond,
		MaxChunkDuration:  2500 * time.Millisecond,
	}
}

// Segmenter runs the state machine. It is owned by a single goroutine.
type Segmenter struct {
	sampleRate   int
	classifier   Classifier
	silenceLimit int // samples
	minSpeech    int
	maxChunk     int
	logger       *logrus.Logger

	state      State
	buf        []int16
	silenceRun int
	startedAt  time.Time
	nextSeq    uint64
	lastRMS    float64
}

// New builds a Segmenter for mono audio at sampleRate. Durations are
// converted to sample counts once, here.
func New(cfg Config, sampleRate int, logger *logrus.Logger) *Segmenter {
	cls := cfg.Classifier
	if cls == nil {
		cls = Energy{Threshold: cfg.SilenceThreshold}
	}
	maxChunk := audio.Samples(cfg.MaxChunkDuration, sampleRate)
	return &Segmenter{
		sampleRate:   sampleRate,
		classifier:   cls,
		silenceLimit: audio.Samples(cfg.SilenceDuration, sampleRate),
		minSpeech:    audio.Samples(cfg.MinSpeechDuration, sampleRate),
		maxChunk:     maxChunk,
		logger:       logger,
		buf:          make([]int16, 0, maxChunk),
		nextSeq:      1,
	}
}

// State reports the current voice-activity state.
func (s *Segmenter) State() State { return s.state }

// Buffered reports how many mono samples are waiting in the buffer.
func (s *Segmenter) Buffered() int { return len(s.buf) }

// LastRMS reports the energy of the most recent frame.
func (s *Segmenter) LastRMS() float64 { return s.lastRMS }

// Push feeds one frame and returns an utterance when the frame triggers a flush.
func (s *Segmenter) Push(f audio.Frame) (audio.Utterance, bool) {
	mono := audio.Downmix(f.Samples, f.Channels)
	if len(mono) == 0 {
		return audio.Utterance{}, false
	}
	if len(s.buf) == 0 {
		s.startedAt = f.CapturedAt
		if s.startedAt.IsZero() {
			s.startedAt = time.Now()
		}
	}
	s.buf = append(s.buf, mono...)

	rms := audio.RMS(mono)
	s.lastRMS = rms
	if s.classifier.IsSpeech(mono, s.sampleRate, rms) {
		s.state = InSpeech
		s.silenceRun = 0
	} else if s.state == InSpeech {
		s.silenceRun += len(mono)
	}

	switch {
	case len(s.buf) >= s.maxChunk:
		if s.logger != nil {
			s.logger.WithFields(logrus.Fields{"samples": len(s.buf), "state": s.state}).Debug("segment: hard cap flush")
		}
		return s.flush(), true
	case s.state == InSpeech && len(s.buf) >= s.minSpeech && s.silenceRun >= s.silenceLimit:
		if s.logger != nil {
			s.logger.WithField("samples", len(s.buf)).Debug("segment: end of speech flush")
		}
		return s.flush(), true
	}
	return audio.Utterance{}, false
}

// Flush applies the stop rule: buffered audio is emitted only if the segmenter
// is in speech. A second call returns nothing.
func (s *Segmenter) Flush() (audio.Utterance, bool) {
	if len(s.buf) == 0 || s.state != InSpeech {
		s.reset()
		return audio.Utterance{}, false
	}
	return s.flush(), true
}

func (s *Segmenter) flush() audio.Utterance {
	samples := make([]int16, len(s.buf))
	copy(samples, s.buf)
	u := audio.Utterance{
		Seq:        s.nextSeq,
		Samples:    samples,
		SampleRate: s.sampleRate,
		StartedAt:  s.startedAt,
	}
	s.nextSeq++
	s.reset()
	return u
}

func (s *Segmenter) reset() {
	s.buf = s.buf[:0]
	s.silenceRun = 0
	s.state = Silence
	s.startedAt = time.Time{}
}
