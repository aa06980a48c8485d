//go:build portaudio

package device

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"livecap/internal/audio"
	"livecap/internal/capture"

	"github.com/gordonklaus/portaudio"
)

// Available reports whether this build can open devices.
const Available = true

// Source reads interleaved int16 frames from a PortAudio input stream.
type Source struct {
	opts Options

	stream *portaudio.Stream
	buf    []int16
	format capture.Format
}

var _ capture.Source = (*Source)(nil)

// New returns an unopened device source.
func New(opts Options) *Source {
	if opts.FramesPerBuffer <= 0 {
		opts.FramesPerBuffer = 1024
	}
	return &Source{opts: opts}
}

// Open picks the device, then opens and starts a blocking input stream at the
// device's default rate with up to two channels.
func (s *Source) Open(sel capture.Selector) (capture.Format, error) {
	if err := portaudio.Initialize(); err != nil {
		return capture.Format{}, capture.DeviceError("portaudio init", err)
	}
	dev, err := selectDevice(sel, s.opts.LoopbackHint)
	if err != nil {
		_ = portaudio.Terminate()
		return capture.Format{}, capture.DeviceError("select device", err)
	}
	channels := min(dev.MaxInputChannels, maxChannels)
	s.buf = make([]int16, s.opts.FramesPerBuffer*channels)
	stream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: channels,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      dev.DefaultSampleRate,
		FramesPerBuffer: s.opts.FramesPerBuffer,
	}, &s.buf)
	if err != nil {
		_ = portaudio.Terminate()
		return capture.Format{}, capture.DeviceError("open stream", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return capture.Format{}, capture.DeviceError("start stream", err)
	}
	s.stream = stream
	s.format = capture.Format{
		Name:       dev.Name,
		SampleRate: int(dev.DefaultSampleRate),
		Channels:   channels,
	}
	return s.format, nil
}

// ReadFrame blocks for one buffer of FramesPerBuffer sample frames.
// maxSamples is ignored; the stream buffer size was fixed at Open.
func (s *Source) ReadFrame(int) (audio.Frame, error) {
	if s.stream == nil {
		return audio.Frame{}, capture.DeviceError("read stream", errors.New("source not open"))
	}
	if err := s.stream.Read(); err != nil && !errors.Is(err, portaudio.InputOverflowed) {
		return audio.Frame{}, capture.DeviceError("read stream", err)
	}
	samples := make([]int16, len(s.buf))
	copy(samples, s.buf)
	return audio.Frame{
		Samples:    samples,
		Channels:   s.format.Channels,
		SampleRate: s.format.SampleRate,
		CapturedAt: time.Now(),
	}, nil
}

// Close stops the stream and releases PortAudio.
func (s *Source) Close() error {
	if s.stream == nil {
		return nil
	}
	var errs []error
	if err := s.stream.Stop(); err != nil {
		errs = append(errs, err)
	}
	if err := s.stream.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := portaudio.Terminate(); err != nil {
		errs = append(errs, err)
	}
	s.stream = nil
	if err := errors.Join(errs...); err != nil {
		return capture.DeviceError("close stream", err)
	}
	return nil
}

func selectDevice(sel capture.Selector, loopbackHint string) (*portaudio.DeviceInfo, error) {
	devs, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	if !sel.UseMic {
		hint := sel.Device
		if hint == "" {
			hint = loopbackHint
		}
		if d := findInput(devs, hint); d != nil {
			return d, nil
		}
		return nil, fmt.Errorf("no loopback input matching %q; enable it in the OS mixer or set audio.loopback_device", hint)
	}
	if sel.Device != "" {
		if d := findInput(devs, sel.Device); d != nil {
			return d, nil
		}
		return nil, fmt.Errorf("no input device matching %q", sel.Device)
	}
	if def, err := portaudio.DefaultInputDevice(); err == nil && def != nil {
		return def, nil
	}
	for _, d := range devs {
		if d.MaxInputChannels > 0 {
			return d, nil
		}
	}
	return nil, fmt.Errorf("no input devices found")
}

func findInput(devs []*portaudio.DeviceInfo, fragment string) *portaudio.DeviceInfo {
	if fragment == "" {
		return nil
	}
	needle := strings.ToLower(fragment)
	for _, d := range devs {
		if d.MaxInputChannels > 0 && strings.Contains(strings.ToLower(d.Name), needle) {
			return d
		}
	}
	return nil
}

// List returns every input-capable device, marking the default input and
// those matching loopbackHint.
func List(loopbackHint string) ([]Info, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio init: %w", err)
	}
	defer func() { _ = portaudio.Terminate() }()

	devs, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	def, _ := portaudio.DefaultInputDevice()
	hint := strings.ToLower(loopbackHint)
	out := []Info{}
	for i, d := range devs {
		if d.MaxInputChannels < 1 {
			continue
		}
		out = append(out, Info{
			Index:      i,
			Name:       d.Name,
			Channels:   d.MaxInputChannels,
			SampleRate: d.DefaultSampleRate,
			LatencyMs:  d.DefaultLowInputLatency.Seconds() * 1000,
			Default:    def != nil && d.Name == def.Name,
			Loopback:   hint != "" && strings.Contains(strings.ToLower(d.Name), hint),
		})
	}
	return out, nil
}
