// Package webrtc provides a segment.Classifier backed by the WebRTC voice
// activity detector.
package webrtc

import (
	"fmt"

	"livecap/internal/audio"
	"livecap/internal/segment"

	vad "github.com/maxhawkins/go-webrtcvad"
)

// Classifier runs WebRTC VAD over 10/20/30 ms sub-frames; a frame is speech
// when any sub-frame is voiced.
type Classifier struct {
	v   *vad.VAD
	sub int // samples per sub-frame
}

var _ segment.Classifier = (*Classifier)(nil)

// New returns a classifier for sampleRate at aggressiveness 0 (least) to 3 (most).
func New(sampleRate, aggressiveness int) (*Classifier, error) {
	switch sampleRate {
	case 8000, 16000, 32000, 48000:
	default:
		return nil, fmt.Errorf("webrtc vad needs 8/16/32/48 kHz input (got %d Hz); use vad.mode = \"energy\"", sampleRate)
	}
	v, err := vad.New()
	if err != nil {
		return nil, fmt.Errorf("vad init: %w", err)
	}
	if err := v.SetMode(aggressiveness); err != nil {
		return nil, fmt.Errorf("vad mode: %w", err)
	}
	sub := 0
	for _, ms := range []int{30, 20, 10} {
		n := sampleRate * ms / 1000
		if v.ValidRateAndFrameLength(sampleRate, n) {
			sub = n
			break
		}
	}
	if sub == 0 {
		return nil, fmt.Errorf("no valid vad frame length for %d Hz", sampleRate)
	}
	return &Classifier{v: v, sub: sub}, nil
}

// IsSpeech implements segment.Classifier. Trailing samples shorter than a
// sub-frame are ignored.
func (c *Classifier) IsSpeech(samples []int16, sampleRate int, _ float64) bool {
	for off := 0; off+c.sub <= len(samples); off += c.sub {
		voiced, err := c.v.Process(sampleRate, audio.PCM16LE(samples[off:off+c.sub]))
		if err != nil {
			continue
		}
		if voiced {
			return true
		}
	}
	return false
}
