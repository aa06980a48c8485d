package hook

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"livecap/internal/caption"
	"livecap/internal/config"
	"livecap/internal/logging"
	"livecap/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func shellHook(t *testing.T, out string) config.HookConfig {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
	return config.HookConfig{
		Enabled: true,
		Command: "/bin/sh",
		Args:    []string{"-c", `printf '%s|%s|%s|%s' "$1" "$LIVECAP_TEXT" "$LIVECAP_ORIGINAL" "$LIVECAP_SEQ" > "$OUT"`},
		ArgLine: "hook",
		Env:     map[string]string{"OUT": out},
	}
}

func TestShouldRunCooldown(t *testing.T) {
	r, err := NewRunner(config.HookConfig{Command: "/bin/echo", CooldownSec: 0.5}, logging.NewTestLogger())
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	if !r.ShouldRun() {
		t.Fatalf("first call should run")
	}
	if err := r.Run(context.Background(), Job{Text: "test", Timestamp: time.Now()}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if r.ShouldRun() {
		t.Fatalf("cooldown should block immediate subsequent run")
	}
	time.Sleep(520 * time.Millisecond)
	if !r.ShouldRun() {
		t.Fatalf("should run after cooldown")
	}
}

func TestNewRunnerRequiresCommand(t *testing.T) {
	if _, err := NewRunner(config.HookConfig{}, logging.NewTestLogger()); err == nil {
		t.Fatalf("expected error without command")
	}
	if _, err := NewRunner(config.HookConfig{Command: "/bin/echo", ArgLine: `"unterminated`}, logging.NewTestLogger()); err == nil {
		t.Fatalf("expected arg_line parse error")
	}
}

func TestRunUsesPrefixAndEnv(t *testing.T) {
	out := filepath.Join(t.TempDir(), "hook.out")
	cfg := shellHook(t, out)
	cfg.Prefix = "cap: "
	r, err := NewRunner(cfg, logging.NewTestLogger())
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Run(ctx, Job{Seq: 7, Text: "hello", Original: "hallo"}); err != nil {
		t.Fatalf("run: %v", err)
	}
	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "cap: hello|hello|hallo|7" {
		t.Fatalf("hook saw %q", got)
	}
}

func TestRedactPII(t *testing.T) {
	got := redactPII("mail jane.doe@example.com or call +1 (555) 123-4567")
	if strings.Contains(got, "example.com") || strings.Contains(got, "4567") {
		t.Fatalf("not redacted: %q", got)
	}
	if !strings.Contains(got, "[redacted-email]") || !strings.Contains(got, "[redacted-phone]") {
		t.Fatalf("markers missing: %q", got)
	}
}

func TestSubscriberRunsForFinalCaptions(t *testing.T) {
	out := filepath.Join(t.TempDir(), "hook.out")
	cfg := shellHook(t, out)
	cfg.MinChars = 3
	r, err := NewRunner(cfg, logging.NewTestLogger())
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	m := metrics.New(prometheus.NewRegistry())
	s := NewSubscriber(r, 4, logging.NewTestLogger(), m)
	defer s.Close()

	for _, ev := range []caption.Event{
		caption.Errorf(1, "ASR error: boom"),
		caption.Caption(2, "ok", ""),
		caption.Caption(3, "good evening", "guten abend"),
	} {
		if err := s.Deliver(ev); err != nil {
			t.Fatalf("deliver: %v", err)
		}
	}
	deadline := time.Now().Add(5 * time.Second)
	for testutil.ToFloat64(m.HookRuns.WithLabelValues("ok")) < 1 {
		if time.Now().After(deadline) {
			t.Fatalf("hook never ran")
		}
		time.Sleep(10 * time.Millisecond)
	}
	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "good evening|good evening|guten abend|3" {
		t.Fatalf("hook saw %q", got)
	}
	if n := testutil.ToFloat64(m.HookRuns.WithLabelValues("error")); n != 0 {
		t.Fatalf("errors = %v", n)
	}
}

func TestSubscriberClosed(t *testing.T) {
	r, err := NewRunner(config.HookConfig{Command: "/bin/echo"}, logging.NewTestLogger())
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	s := NewSubscriber(r, 1, logging.NewTestLogger(), nil)
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if err := s.Deliver(caption.Caption(1, "hello there", "")); err != caption.ErrSubscriberClosed {
		t.Fatalf("deliver after close = %v", err)
	}
}
