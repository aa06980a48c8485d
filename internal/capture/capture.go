// Package capture defines the frame source contract used by a captioning
// session and a WAV file implementation of it.
package capture

import (
	"errors"
	"fmt"

	"livecap/internal/audio"
)

// ErrDevice marks failures of the audio input: opening, reading or closing it.
var ErrDevice = errors.New("audio device error")

// Selector chooses which input a source opens.
type Selector struct {
	// UseMic selects a microphone instead of the system-output loopback.
	UseMic bool
	// Device is a case-insensitive substring of the device name; empty picks a default.
	Device string
}

// Format describes the native stream of an opened source.
type Format struct {
	Name       string
	SampleRate int
	Channels   int
}

// Source yields interleaved PCM frames. ReadFrame blocks until a frame is
// available and returns io.EOF when a finite source is exhausted.
// A Source is used by a single goroutine.
type Source interface {
	Open(sel Selector) (Format, error)
	ReadFrame(maxSamples int) (audio.Frame, error)
	Close() error
}

// Factory builds a fresh Source for each session.
type Factory func() Source

// DeviceError wraps err as an ErrDevice for op.
func DeviceError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrDevice, err)
}
