package capture

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"livecap/internal/audio"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// FileSource replays a 16-bit PCM WAV file. With Realtime set, frames are
// paced to the file's sample rate so a replay behaves like a live input.
type FileSource struct {
	Path     string
	Realtime bool

	f       *os.File
	dec     *wav.Decoder
	format  Format
	buf     *goaudio.IntBuffer
	started time.Time
	read    int64 // sample frames delivered so far
}

// NewFileSource returns a source for the WAV file at path.
func NewFileSource(path string, realtime bool) *FileSource {
	return &FileSource{Path: path, Realtime: realtime}
}

// Open validates the WAV header. The selector is ignored.
func (s *FileSource) Open(Selector) (Format, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return Format{}, DeviceError("open wav", err)
	}
	dec := wav.NewDecoder(f)
	dec.ReadInfo()
	if !dec.IsValidFile() {
		_ = f.Close()
		return Format{}, DeviceError("open wav", fmt.Errorf("%s is not a valid WAV file", s.Path))
	}
	if dec.BitDepth != 16 {
		_ = f.Close()
		return Format{}, DeviceError("open wav", fmt.Errorf("%s: only 16-bit PCM supported (got %d-bit)", s.Path, dec.BitDepth))
	}
	if err := dec.FwdToPCM(); err != nil {
		_ = f.Close()
		return Format{}, DeviceError("open wav", err)
	}
	s.f = f
	s.dec = dec
	s.format = Format{
		Name:       filepath.Base(s.Path),
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
	}
	s.started = time.Now()
	s.read = 0
	return s.format, nil
}

// ReadFrame returns up to maxSamples sample frames, or io.EOF at the end of the file.
func (s *FileSource) ReadFrame(maxSamples int) (audio.Frame, error) {
	if s.dec == nil {
		return audio.Frame{}, DeviceError("read wav", errors.New("source not open"))
	}
	want := maxSamples * s.format.Channels
	if s.buf == nil || len(s.buf.Data) != want {
		s.buf = &goaudio.IntBuffer{
			Format: &goaudio.Format{NumChannels: s.format.Channels, SampleRate: s.format.SampleRate},
			Data:   make([]int, want),
		}
	}
	n, err := s.dec.PCMBuffer(s.buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return audio.Frame{}, DeviceError("read wav", err)
	}
	n -= n % s.format.Channels
	if n == 0 {
		return audio.Frame{}, io.EOF
	}
	samples := make([]int16, n)
	for i := 0; i < n; i++ {
		samples[i] = int16(s.buf.Data[i])
	}
	frame := audio.Frame{
		Samples:    samples,
		Channels:   s.format.Channels,
		SampleRate: s.format.SampleRate,
	}
	if s.Realtime {
		due := s.started.Add(time.Duration(s.read) * time.Second / time.Duration(s.format.SampleRate))
		if wait := time.Until(due); wait > 0 {
			time.Sleep(wait)
		}
	}
	s.read += int64(frame.Len())
	frame.CapturedAt = time.Now()
	return frame, nil
}

// Close releases the file.
func (s *FileSource) Close() error {
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	s.dec = nil
	return err
}
