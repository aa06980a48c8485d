package hook

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"livecap/internal/config"

	"github.com/google/shlex"
	"github.com/sirupsen/logrus"
)

// Job represents a hook invocation request.
type Job struct {
	Seq       uint64
	Text      string
	Original  string
	Timestamp time.Time
}

// Runner executes the caption hook with cooldown and prefix handling.
type Runner struct {
	cfg      config.HookConfig
	logger   *logrus.Logger
	hostname string
	args     []string

	mu      sync.Mutex
	lastRun time.Time
}

// NewRunner validates the hook command line and returns a Runner.
func NewRunner(cfg config.HookConfig, logger *logrus.Logger) (*Runner, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, fmt.Errorf("no hook.command configured")
	}
	extra, err := ParseArgs(cfg.ArgLine)
	if err != nil {
		return nil, fmt.Errorf("hook.arg_line: %w", err)
	}
	host, _ := os.Hostname()
	return &Runner{
		cfg:      cfg,
		logger:   logger,
		hostname: host,
		args:     append(append([]string{}, cfg.Args...), extra...),
	}, nil
}

// ShouldRun returns whether cooldown allows a new hook.
func (r *Runner) ShouldRun() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cfg.CooldownSec <= 0 {
		return true
	}
	return time.Since(r.lastRun).Seconds() >= r.cfg.CooldownSec
}

// Wants reports whether a caption is long enough to trigger the hook.
func (r *Runner) Wants(text string) bool {
	return len([]rune(strings.TrimSpace(text))) >= r.cfg.MinChars
}

// Run executes the configured command with the caption as the last argument.
func (r *Runner) Run(ctx context.Context, job Job) error {
	r.mu.Lock()
	r.lastRun = time.Now()
	r.mu.Unlock()

	prefix := strings.ReplaceAll(r.cfg.Prefix, "${hostname}", r.hostname)
	text, original := job.Text, job.Original
	if r.cfg.RedactPII {
		text = redactPII(text)
		original = redactPII(original)
	}
	args := append(append([]string{}, r.args...), strings.TrimSpace(prefix+text))

	runCtx := ctx
	if r.cfg.TimeoutSec > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(float64(time.Second)*r.cfg.TimeoutSec))
		defer cancel()
	}
	cmd := exec.CommandContext(runCtx, r.cfg.Command, args...)
	cmd.Env = os.Environ()
	for k, v := range r.cfg.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.Env = append(cmd.Env,
		"LIVECAP_TEXT="+text,
		"LIVECAP_ORIGINAL="+original,
		"LIVECAP_SEQ="+strconv.FormatUint(job.Seq, 10),
		"LIVECAP_PREFIX="+prefix,
	)

	out, err := cmd.CombinedOutput()
	if len(out) > 0 {
		r.logger.Infof("hook output: %s", strings.TrimSpace(string(out)))
	}
	if err != nil {
		return fmt.Errorf("hook failed: %w", err)
	}
	return nil
}

// ParseArgs allows hook arguments to be configured as a single string.
func ParseArgs(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return []string{}, nil
	}
	return shlex.Split(raw)
}

var (
	emailRE = regexp.MustCompile(`[\w.+-]+@[\w.-]+\.[A-Za-z]{2,}`)
	phoneRE = regexp.MustCompile(`\+?\d[\d\s\-\(\)]{6,}\d`)
)

func redactPII(s string) string {
	s = emailRE.ReplaceAllString(s, "[redacted-email]")
	s = phoneRE.ReplaceAllString(s, "[redacted-phone]")
	return s
}
