// Package audio holds the PCM types shared by capture, segmentation and
// recognition, plus the small helpers that operate on them.
package audio

import (
	"encoding/binary"
	"math"
	"time"
)

// Frame is one block of interleaved signed 16-bit samples as read from a source.
type Frame struct {
	Samples    []int16
	Channels   int
	SampleRate int
	// CapturedAt is when the source produced the frame.
	CapturedAt time.Time
}

// Len returns the number of sample frames (samples per channel).
func (f Frame) Len() int {
	if f.Channels <= 1 {
		return len(f.Samples)
	}
	return len(f.Samples) / f.Channels
}

// Utterance is a contiguous run of mono audio believed to contain speech.
type Utterance struct {
	Seq        uint64
	Samples    []int16
	SampleRate int
	StartedAt  time.Time
}

// Duration reports the length of the utterance audio.
func (u Utterance) Duration() time.Duration {
	if u.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(u.Samples)) * time.Second / time.Duration(u.SampleRate)
}

// Downmix averages interleaved channels into mono, rounding to nearest and
// clamping to the int16 range. Mono input is copied.
func Downmix(samples []int16, channels int) []int16 {
	if channels <= 1 {
		out := make([]int16, len(samples))
		copy(out, samples)
		return out
	}
	n := len(samples) / channels
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		var sum int64
		for c := 0; c < channels; c++ {
			sum += int64(samples[i*channels+c])
		}
		out[i] = clamp16(math.Round(float64(sum) / float64(channels)))
	}
	return out
}

func clamp16(v float64) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// RMS returns the root-mean-square amplitude of mono samples.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// PCM16LE encodes samples as little-endian signed 16-bit bytes.
func PCM16LE(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// FromPCM16LE decodes little-endian signed 16-bit bytes. A trailing odd byte is ignored.
func FromPCM16LE(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}

// Samples converts a duration to a sample count at rate.
func Samples(d time.Duration, rate int) int {
	return int(d * time.Duration(rate) / time.Second)
}
