// Package translate is the translation boundary. A Translator makes at most
// two attempts: a specialized translation model when both languages are in
// its supported set, then a general instruction model. The outcome is
// reported as a tagged Result rather than an error.
package translate

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Outcome tags which attempt produced a Result.
type Outcome int

const (
	Failed Outcome = iota
	Primary
	Fallback
)

func (o Outcome) String() string {
	switch o {
	case Primary:
		return "primary"
	case Fallback:
		return "fallback"
	default:
		return "failed"
	}
}

// Result is the outcome of one translation.
type Result struct {
	Text    string
	Outcome Outcome
	Model   string
	// Err is set when Outcome is Failed.
	Err error
}

// OK reports whether a translation was produced.
func (r Result) OK() bool { return r.Outcome != Failed }

// Translator translates caption text.
type Translator interface {
	Translate(ctx context.Context, text, source, target string) Result
}

// Request is one chat completion.
type Request struct {
	Model       string
	System      string
	User        string
	Temperature float64
	MaxTokens   int
}

// Completer runs a chat completion and returns the raw model output.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// ErrEmptyOutput is returned when a model answers with nothing usable.
var ErrEmptyOutput = errors.New("model returned no translation")

var primaryLanguages = map[string]bool{
	"en": true, "de": true, "es": true, "fr": true, "pt": true,
	"ru": true, "zh": true, "ja": true, "ko": true, "ar": true,
}

var boilerplate = regexp.MustCompile(`(?i)^(translation|translated text|here is.*?|output)[:\s]+`)

// Clean strips leading boilerplate such as "Translation:" and surrounding space.
func Clean(s string) string {
	s = strings.TrimSpace(s)
	return strings.TrimSpace(boilerplate.ReplaceAllString(s, ""))
}

// UsePrimary reports whether the specialized model can serve source → target.
func UsePrimary(source, target string) bool {
	if source == "" || source == "auto" {
		return false
	}
	return primaryLanguages[source] && primaryLanguages[target]
}

// Config configures a TwoTier translator.
type Config struct {
	PrimaryModel  string
	FallbackModel string
	Temperature   float64
	MaxTokens     int
}

// TwoTier implements Translator over a Completer.
type TwoTier struct {
	c      Completer
	cfg    Config
	logger *logrus.Logger
}

// NewTwoTier returns a translator using c for both tiers.
func NewTwoTier(c Completer, cfg Config, logger *logrus.Logger) *TwoTier {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 512
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &TwoTier{c: c, cfg: cfg, logger: logger}
}

func (t *TwoTier) Translate(ctx context.Context, text, source, target string) Result {
	var primaryErr error
	if t.cfg.PrimaryModel != "" && UsePrimary(source, target) {
		out, err := t.attempt(ctx, t.cfg.PrimaryModel, primaryPrompt(source, target), text)
		if err == nil {
			return Result{Text: out, Outcome: Primary, Model: t.cfg.PrimaryModel}
		}
		primaryErr = err
		if ctx.Err() != nil {
			return Result{Outcome: Failed, Model: t.cfg.PrimaryModel, Err: err}
		}
		t.logger.WithFields(logrus.Fields{"model": t.cfg.PrimaryModel, "source": source, "target": target}).
			Warnf("translation failed, falling back: %v", err)
	}
	if t.cfg.FallbackModel == "" {
		if primaryErr == nil {
			primaryErr = errors.New("no translation model configured")
		}
		return Result{Outcome: Failed, Err: primaryErr}
	}
	out, err := t.attempt(ctx, t.cfg.FallbackModel, fallbackPrompt(target), text)
	if err != nil {
		if primaryErr != nil {
			err = fmt.Errorf("%w (primary: %v)", err, primaryErr)
		}
		return Result{Outcome: Failed, Model: t.cfg.FallbackModel, Err: err}
	}
	return Result{Text: out, Outcome: Fallback, Model: t.cfg.FallbackModel}
}

func (t *TwoTier) attempt(ctx context.Context, model, system, text string) (string, error) {
	start := time.Now()
	raw, err := t.c.Complete(ctx, Request{
		Model:       model,
		System:      system,
		User:        text,
		Temperature: t.cfg.Temperature,
		MaxTokens:   t.cfg.MaxTokens,
	})
	if err != nil {
		return "", err
	}
	out := Clean(raw)
	if out == "" {
		return "", ErrEmptyOutput
	}
	t.logger.WithFields(logrus.Fields{"model": model, "took": time.Since(start).Round(time.Millisecond)}).Debug("translated")
	return out, nil
}

func primaryPrompt(source, target string) string {
	return fmt.Sprintf("Translate from %s to %s. Output only the translated text. No labels or explanations.", source, target)
}

func fallbackPrompt(target string) string {
	return fmt.Sprintf("You are a live caption translator. Translate speech to %s. "+
		"Rules: output ONLY the translated text, no explanations, no labels, "+
		"no introductory text, no quotes. Just the translation itself.", target)
}

// Needed reports whether a caption in source should be translated to target.
func Needed(source, target string) bool {
	return target != "" && target != "none" && target != source
}
