package audio

import (
	"errors"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// EncodeWAV wraps mono 16-bit samples in a WAV container held in memory.
func EncodeWAV(samples []int16, sampleRate int) ([]byte, error) {
	ws := &writeSeeker{}
	enc := wav.NewEncoder(ws, sampleRate, 16, 1, 1)
	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: 1,
			SampleRate:  sampleRate,
		},
		Data:           make([]int, len(samples)),
		SourceBitDepth: 16,
	}
	for i := range samples {
		buf.Data[i] = int(samples[i])
	}
	if err := enc.Write(buf); err != nil {
		_ = enc.Close()
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return ws.buf, nil
}

// writeSeeker is the in-memory io.WriteSeeker the wav encoder needs to patch
// its header sizes on Close.
type writeSeeker struct {
	buf []byte
	pos int
}

func (w *writeSeeker) Write(p []byte) (int, error) {
	end := w.pos + len(p)
	if end > len(w.buf) {
		if end > cap(w.buf) {
			grown := make([]byte, end, 2*end)
			copy(grown, w.buf)
			w.buf = grown
		} else {
			w.buf = w.buf[:end]
		}
	}
	copy(w.buf[w.pos:], p)
	w.pos = end
	return len(p), nil
}

func (w *writeSeeker) Seek(offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = int64(w.pos) + offset
	case io.SeekEnd:
		next = int64(len(w.buf)) + offset
	default:
		return 0, errors.New("audio: invalid whence")
	}
	if next < 0 {
		return 0, errors.New("audio: negative seek position")
	}
	w.pos = int(next)
	return next, nil
}
