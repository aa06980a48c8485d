//go:build !portaudio

package device

import (
	"errors"

	"livecap/internal/audio"
	"livecap/internal/capture"
)

// Available reports whether this build can open devices.
const Available = false

var errNoPortAudio = errors.New("built without PortAudio; rebuild with '-tags portaudio'")

// Source is a placeholder that fails to open.
type Source struct{}

// New returns a source that always fails to open.
func New(Options) *Source { return &Source{} }

func (s *Source) Open(capture.Selector) (capture.Format, error) {
	return capture.Format{}, capture.DeviceError("open device", errNoPortAudio)
}

func (s *Source) ReadFrame(int) (audio.Frame, error) {
	return audio.Frame{}, capture.DeviceError("read stream", errNoPortAudio)
}

func (s *Source) Close() error { return nil }

// List reports that devices cannot be enumerated.
func List(string) ([]Info, error) { return nil, errNoPortAudio }
