package translate

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"livecap/internal/logging"
)

type fakeCompleter struct {
	mu    sync.Mutex
	calls []Request
	reply map[string]string // model -> output
	fail  map[string]error
}

func (f *fakeCompleter) Complete(_ context.Context, req Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if err := f.fail[req.Model]; err != nil {
		return "", err
	}
	return f.reply[req.Model], nil
}

func testConfig() Config {
	return Config{PrimaryModel: "riva", FallbackModel: "llama", Temperature: 0.1, MaxTokens: 512}
}

func TestClean(t *testing.T) {
	cases := map[string]string{
		"Translation: Hola":        "Hola",
		"translated text:   Hallo": "Hallo",
		"OUTPUT: bonjour":          "bonjour",
		"Here is: hola":            "hola",
		"  ciao  ":                 "ciao",
		"Translations are fun":     "Translations are fun",
		"":                         "",
	}
	for in, want := range cases {
		if got := Clean(in); got != want {
			t.Fatalf("Clean(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestUsePrimaryAndNeeded(t *testing.T) {
	if !UsePrimary("en", "de") {
		t.Fatalf("en->de should use primary")
	}
	if UsePrimary("auto", "de") || UsePrimary("it", "en") || UsePrimary("en", "hi") {
		t.Fatalf("unsupported pair used primary")
	}
	if Needed("en", "en") || Needed("en", "none") || Needed("en", "") {
		t.Fatalf("translation requested when not needed")
	}
	if !Needed("auto", "en") || !Needed("es", "en") {
		t.Fatalf("translation not requested")
	}
}

func TestTranslatePrimary(t *testing.T) {
	c := &fakeCompleter{reply: map[string]string{"riva": "Translation: Hallo Welt"}}
	tr := NewTwoTier(c, testConfig(), logging.NewTestLogger())
	res := tr.Translate(context.Background(), "hello world", "en", "de")
	if res.Outcome != Primary || res.Text != "Hallo Welt" || res.Model != "riva" {
		t.Fatalf("result = %+v", res)
	}
	if len(c.calls) != 1 {
		t.Fatalf("calls = %d", len(c.calls))
	}
	req := c.calls[0]
	if req.User != "hello world" || req.Temperature != 0.1 || req.MaxTokens != 512 {
		t.Fatalf("request = %+v", req)
	}
	if !strings.Contains(req.System, "from en to de") {
		t.Fatalf("system prompt = %q", req.System)
	}
}

func TestTranslateFallsBackOnPrimaryFailure(t *testing.T) {
	c := &fakeCompleter{
		reply: map[string]string{"llama": "Hola"},
		fail:  map[string]error{"riva": errors.New("503")},
	}
	tr := NewTwoTier(c, testConfig(), logging.NewTestLogger())
	res := tr.Translate(context.Background(), "hello", "en", "es")
	if res.Outcome != Fallback || res.Text != "Hola" || res.Model != "llama" {
		t.Fatalf("result = %+v", res)
	}
	if len(c.calls) != 2 {
		t.Fatalf("calls = %d", len(c.calls))
	}
	if !strings.Contains(c.calls[1].System, "ONLY the translated text") {
		t.Fatalf("fallback prompt = %q", c.calls[1].System)
	}
}

func TestTranslateEmptyPrimaryOutputFallsBack(t *testing.T) {
	c := &fakeCompleter{reply: map[string]string{"riva": "Translation:  ", "llama": "Bonjour"}}
	tr := NewTwoTier(c, testConfig(), logging.NewTestLogger())
	res := tr.Translate(context.Background(), "hello", "en", "fr")
	if res.Outcome != Fallback || res.Text != "Bonjour" {
		t.Fatalf("result = %+v", res)
	}
}

func TestTranslateSkipsPrimaryForAuto(t *testing.T) {
	c := &fakeCompleter{reply: map[string]string{"llama": "Hello"}}
	tr := NewTwoTier(c, testConfig(), logging.NewTestLogger())
	res := tr.Translate(context.Background(), "hola", "auto", "en")
	if res.Outcome != Fallback {
		t.Fatalf("outcome = %v", res.Outcome)
	}
	if len(c.calls) != 1 || c.calls[0].Model != "llama" {
		t.Fatalf("calls = %+v", c.calls)
	}
}

func TestTranslateBothFail(t *testing.T) {
	c := &fakeCompleter{fail: map[string]error{"riva": errors.New("a"), "llama": errors.New("b")}}
	tr := NewTwoTier(c, testConfig(), logging.NewTestLogger())
	res := tr.Translate(context.Background(), "hello", "en", "de")
	if res.OK() || res.Outcome != Failed || res.Err == nil {
		t.Fatalf("result = %+v", res)
	}
	if res.Outcome.String() != "failed" {
		t.Fatalf("outcome string = %q", res.Outcome.String())
	}
}

func TestChatCompleter(t *testing.T) {
	var got struct {
		Model       string  `json:"model"`
		Temperature float64 `json:"temperature"`
		MaxTokens   int     `json:"max_tokens"`
		Messages    []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		auth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"x","object":"chat.completion","created":1,"model":"riva",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":" Hallo "}}]}`)
	}))
	defer srv.Close()

	c, err := NewChatCompleter(srv.URL+"/v1", "nvapi-test", 5*time.Second)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	out, err := c.Complete(context.Background(), Request{Model: "riva", System: "sys", User: "hello", Temperature: 0.1, MaxTokens: 512})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if out != " Hallo " {
		t.Fatalf("out = %q", out)
	}
	if auth != "Bearer nvapi-test" {
		t.Fatalf("auth = %q", auth)
	}
	if got.Model != "riva" || got.Temperature != 0.1 || got.MaxTokens != 512 {
		t.Fatalf("request = %+v", got)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Content != "hello" {
		t.Fatalf("messages = %+v", got.Messages)
	}
}

func TestNewChatCompleterRequiresKey(t *testing.T) {
	if _, err := NewChatCompleter("http://x/v1", "", 0); err == nil {
		t.Fatalf("expected error without api key")
	}
}
