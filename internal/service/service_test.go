package service

import (
	"os"
	"strings"
	"testing"
)

func TestWriteStatusRemove(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	if _, ok := Status(Label); ok {
		t.Fatalf("definition exists before install")
	}
	path, err := Write(Params{
		Label:  Label,
		Binary: "/usr/local/bin/livecap",
		Config: "/home/me/.config/livecap/config.toml",
		Log:    "/tmp/livecap.log",
		Env:    map[string]string{"NVIDIA_API_KEY": "nvapi-test"},
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	body := string(data)
	for _, want := range []string{"/usr/local/bin/livecap", "--foreground", "NVIDIA_API_KEY", "nvapi-test"} {
		if !strings.Contains(body, want) {
			t.Fatalf("definition missing %q:\n%s", want, body)
		}
	}
	if got, ok := Status(Label); !ok || got != path {
		t.Fatalf("status = %q %v", got, ok)
	}
	if len(Hints(Label, path)) != 3 {
		t.Fatalf("hints = %v", Hints(Label, path))
	}
	if _, err := Remove(Label); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := Remove(Label); err != nil {
		t.Fatalf("second remove: %v", err)
	}
	if _, ok := Status(Label); ok {
		t.Fatalf("definition still present")
	}
}
