package doctor

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"livecap/internal/capture/device"
	"livecap/internal/config"
)

func TestCheckHookExecutable(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "hook.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if r := checkHookExecutable(script); r.Pass {
		t.Fatalf("non-executable hook passed: %+v", r)
	}
	if err := os.Chmod(script, 0o755); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	if r := checkHookExecutable(script); !r.Pass {
		t.Fatalf("executable hook failed: %+v", r)
	}
	if r := checkHookExecutable(dir); r.Pass {
		t.Fatalf("directory passed")
	}
	if r := checkHookExecutable(""); r.Pass || r.Detail != "not set" {
		t.Fatalf("empty command = %+v", r)
	}
}

func TestCheckEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/models" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()
	if r := checkEndpoint("asr", srv.URL+"/v1", time.Second); !r.Pass {
		t.Fatalf("reachable endpoint failed: %+v", r)
	}
	if r := checkEndpoint("asr", "not a url", time.Second); r.Pass {
		t.Fatalf("bad url passed")
	}
}

func TestCheckTranslateKey(t *testing.T) {
	cfg, _ := config.Default()
	cfg.Session.SourceLang = "auto"
	cfg.Session.TargetLang = "en"
	if r := checkTranslateKey(cfg); r.Pass {
		t.Fatalf("missing key passed when translation is needed")
	}
	cfg.Session.TargetLang = "none"
	if r := checkTranslateKey(cfg); !r.Pass {
		t.Fatalf("missing key failed when translation is off")
	}
	cfg.Translate.APIKey = "nvapi-x"
	cfg.Session.TargetLang = "de"
	if r := checkTranslateKey(cfg); !r.Pass {
		t.Fatalf("present key failed")
	}
}

func TestPickDevice(t *testing.T) {
	devs := []device.Info{
		{Name: "Built-in Microphone", Default: true},
		{Name: "Monitor of Built-in Audio", Loopback: true},
	}
	if r := pickDevice("in", devs, false, "", "Monitor of"); !r.Pass || r.Detail != "Monitor of Built-in Audio" {
		t.Fatalf("loopback = %+v", r)
	}
	if r := pickDevice("in", devs, true, "", ""); !r.Pass || r.Detail != "Built-in Microphone" {
		t.Fatalf("mic = %+v", r)
	}
	if r := pickDevice("in", devs, true, "usb", ""); r.Pass {
		t.Fatalf("named device passed: %+v", r)
	}
	if r := pickDevice("in", devs[:1], false, "", "Stereo Mix"); r.Pass {
		t.Fatalf("missing loopback passed")
	}
}
