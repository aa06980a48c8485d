package capture

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"livecap/internal/audio"
)

func writeTestWAV(t *testing.T, samples []int16, rate int) string {
	t.Helper()
	data, err := audio.EncodeWAV(samples, rate)
	if err != nil {
		t.Fatalf("encode wav: %v", err)
	}
	path := filepath.Join(t.TempDir(), "in.wav")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	return path
}

func TestFileSourceReadsAllSamples(t *testing.T) {
	in := make([]int16, 2500)
	for i := range in {
		in[i] = int16(i % 700)
	}
	src := NewFileSource(writeTestWAV(t, in, 16000), false)
	format, err := src.Open(Selector{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = src.Close() }()
	if format.SampleRate != 16000 || format.Channels != 1 {
		t.Fatalf("format = %+v", format)
	}

	var got []int16
	for {
		frame, err := src.ReadFrame(1024)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if frame.Len() > 1024 {
			t.Fatalf("frame larger than requested: %d", frame.Len())
		}
		if frame.CapturedAt.IsZero() {
			t.Fatalf("frame missing capture time")
		}
		got = append(got, frame.Samples...)
	}
	if len(got) != len(in) {
		t.Fatalf("read %d samples, want %d", len(got), len(in))
	}
	for i := range in {
		if got[i] != in[i] {
			t.Fatalf("sample %d = %d want %d", i, got[i], in[i])
		}
	}
}

func TestFileSourceOpenErrors(t *testing.T) {
	src := NewFileSource(filepath.Join(t.TempDir(), "missing.wav"), false)
	if _, err := src.Open(Selector{}); !errors.Is(err, ErrDevice) {
		t.Fatalf("missing file err = %v, want ErrDevice", err)
	}

	bogus := filepath.Join(t.TempDir(), "bogus.wav")
	if err := os.WriteFile(bogus, []byte("not a wav file at all"), 0o600); err != nil {
		t.Fatal(err)
	}
	src = NewFileSource(bogus, false)
	if _, err := src.Open(Selector{}); !errors.Is(err, ErrDevice) {
		t.Fatalf("bogus file err = %v, want ErrDevice", err)
	}
}

func TestReadBeforeOpen(t *testing.T) {
	src := NewFileSource("unused.wav", false)
	if _, err := src.ReadFrame(10); !errors.Is(err, ErrDevice) {
		t.Fatalf("err = %v, want ErrDevice", err)
	}
	if err := src.Close(); err != nil {
		t.Fatalf("close unopened: %v", err)
	}
}
