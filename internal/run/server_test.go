package run

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"livecap/internal/asr"
	"livecap/internal/audio"
	"livecap/internal/caption"
	"livecap/internal/capture"
	"livecap/internal/config"
	"livecap/internal/logging"
	"livecap/internal/session"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// scriptSource plays 0.5 s of tone, 0.4 s of silence, then ends.
type scriptSource struct {
	mu   sync.Mutex
	left int
}

func (s *scriptSource) Open(capture.Selector) (capture.Format, error) {
	s.left = 90
	return capture.Format{Name: "script", SampleRate: 16000, Channels: 1}, nil
}

func (s *scriptSource) ReadFrame(int) (audio.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.left == 0 {
		return audio.Frame{}, io.EOF
	}
	amp := int16(0)
	if s.left > 40 {
		amp = 2000
	}
	s.left--
	samples := make([]int16, 160)
	for i := range samples {
		samples[i] = amp
	}
	return audio.Frame{Samples: samples, Channels: 1, SampleRate: 16000, CapturedAt: time.Now()}, nil
}

func (s *scriptSource) Close() error { return nil }

// idleSource streams silence until closed.
type idleSource struct{}

func (idleSource) Open(capture.Selector) (capture.Format, error) {
	return capture.Format{Name: "idle", SampleRate: 16000, Channels: 1}, nil
}

func (idleSource) ReadFrame(int) (audio.Frame, error) {
	time.Sleep(2 * time.Millisecond)
	return audio.Frame{Samples: make([]int16, 160), Channels: 1, SampleRate: 16000, CapturedAt: time.Now()}, nil
}

func (idleSource) Close() error { return nil }

func testServer(t *testing.T, sources capture.Factory) (*Server, *httptest.Server) {
	t.Helper()
	cfg, err := config.Default()
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	cfg.Translate.APIKey = ""
	cfg.Session.SourceLang = "en"
	cfg.Session.TargetLang = "en"
	srv, err := New(cfg, logging.NewTestLogger(), Pipeline{
		Sources: sources,
		Recognizer: asr.RecognizerFunc(func(context.Context, []byte, int, string) (string, error) {
			return "good morning", nil
		}),
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		_ = srv.Shutdown(context.Background())
		ts.Close()
	})
	return srv, ts
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestHealthAndStatus(t *testing.T) {
	_, ts := testServer(t, func() capture.Source { return idleSource{} })
	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	var health map[string]bool
	decode(t, resp, &health)
	if !health["ok"] {
		t.Fatalf("health = %v", health)
	}

	resp, err = http.Get(ts.URL + "/status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	var st StatusResponse
	decode(t, resp, &st)
	if st.Running || st.State != "stopped" || st.Clients != 0 {
		t.Fatalf("status = %+v", st)
	}
}

func TestStartStopOverHTTP(t *testing.T) {
	_, ts := testServer(t, func() capture.Source { return idleSource{} })

	resp, err := http.Post(ts.URL+"/start?source=en&target=none", "", nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start status = %d", resp.StatusCode)
	}
	var started StartResponse
	decode(t, resp, &started)
	if started.Status != "started" || started.Session == "" || started.Source != "en" || started.Target != "none" {
		t.Fatalf("start = %+v", started)
	}

	resp, _ = http.Get(ts.URL + "/status")
	var st StatusResponse
	decode(t, resp, &st)
	if !st.Running || st.Session != started.Session || st.StartedAt == nil {
		t.Fatalf("status = %+v", st)
	}

	for i := 0; i < 2; i++ {
		resp, err = http.Post(ts.URL+"/stop", "", nil)
		if err != nil {
			t.Fatalf("stop: %v", err)
		}
		var stopped map[string]string
		decode(t, resp, &stopped)
		if stopped["status"] != "stopped" {
			t.Fatalf("stop = %v", stopped)
		}
	}

	resp, err = http.Get(ts.URL + "/start")
	if err != nil {
		t.Fatalf("get start: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("GET /start = %d", resp.StatusCode)
	}
}

func TestStartErrors(t *testing.T) {
	_, ts := testServer(t, func() capture.Source { return idleSource{} })
	cases := map[string]int{
		"/start?source=en&target=de": http.StatusBadRequest, // no translator configured
		"/start?mic=maybe":           http.StatusBadRequest,
	}
	for path, want := range cases {
		resp, err := http.Post(ts.URL+path, "", nil)
		if err != nil {
			t.Fatalf("%s: %v", path, err)
		}
		var body map[string]string
		decode(t, resp, &body)
		if resp.StatusCode != want || body["error"] == "" {
			t.Fatalf("%s = %d %v", path, resp.StatusCode, body)
		}
	}
}

func TestCaptionStream(t *testing.T) {
	srv, ts := testServer(t, func() capture.Source { return &scriptSource{} })
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/captions", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	if err := wsjson.Write(ctx, conn, ClientCommand{Cmd: "start"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var ev caption.Event
	if err := wsjson.Read(ctx, conn, &ev); err != nil {
		t.Fatalf("read: %v", err)
	}
	if ev.Seq != 1 || ev.IsError || ev.Text != "good morning" {
		t.Fatalf("event = %+v", ev)
	}

	deadline := time.Now().Add(3 * time.Second)
	for srv.Controller().Status().Running {
		if time.Now().After(deadline) {
			t.Fatalf("session did not end with its source")
		}
		time.Sleep(10 * time.Millisecond)
	}
	recent := srv.status().Recent
	if len(recent) != 1 || recent[0].Text != "good morning" {
		t.Fatalf("recent = %+v", recent)
	}
}

func TestCaptionStreamUnknownCommand(t *testing.T) {
	_, ts := testServer(t, func() capture.Source { return idleSource{} })
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/captions", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"cmd":"rewind"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	var ev caption.Event
	if err := wsjson.Read(ctx, conn, &ev); err != nil {
		t.Fatalf("read: %v", err)
	}
	if !ev.IsError || ev.Seq != 0 || !strings.Contains(ev.Text, "rewind") {
		t.Fatalf("event = %+v", ev)
	}
}

func TestCORSPreflight(t *testing.T) {
	srv, ts := testServer(t, func() capture.Source { return idleSource{} })
	srv.cfg.Server.AllowedOrigins = []string{"https://overlay.example"}

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/start", nil)
	req.Header.Set("Origin", "https://overlay.example")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://overlay.example" {
		t.Fatalf("allow origin = %q", got)
	}

	req.Header.Set("Origin", "https://elsewhere.example")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unexpected allow origin %q", got)
	}
}

func TestOriginAllowed(t *testing.T) {
	s := &Server{cfg: &config.Config{}}
	s.cfg.Server.AllowedOrigins = []string{"*.local", "https://obs.example"}
	cases := map[string]bool{
		"http://studio.local":   true,
		"https://obs.example":   true,
		"https://other.example": false,
	}
	for origin, want := range cases {
		if got := s.originAllowed(origin); got != want {
			t.Fatalf("originAllowed(%q) = %v", origin, got)
		}
	}
	if got := s.originPatterns(); got[1] != "obs.example" {
		t.Fatalf("patterns = %v", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, ts := testServer(t, func() capture.Source { return idleSource{} })
	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	resp.Body.Close()

	rec := httptest.NewRecorder()
	srv.metricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	if !strings.Contains(body, `livecap_http_requests_total{code="200",method="GET",path="/health"} 1`) {
		t.Fatalf("metrics missing request counter:\n%s", body)
	}
}

func TestStatusCountsOnlyCaptionClients(t *testing.T) {
	srv, ts := testServer(t, func() capture.Source { return idleSource{} })
	if got := srv.status().Clients; got != 0 {
		t.Fatalf("clients without connections = %d", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/captions", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	waitClients(t, srv, 1)

	conn.Close(websocket.StatusNormalClosure, "")
	waitClients(t, srv, 0)
}

func waitClients(t *testing.T, srv *Server, want int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		got := srv.status().Clients
		if got == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("clients = %d, want %d", got, want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// speechThenIdle plays 0.5 s of tone, then silence until closed.
type speechThenIdle struct {
	mu   sync.Mutex
	tone int
}

func (s *speechThenIdle) Open(capture.Selector) (capture.Format, error) {
	s.mu.Lock()
	s.tone = 50
	s.mu.Unlock()
	return capture.Format{Name: "speech", SampleRate: 16000, Channels: 1}, nil
}

func (s *speechThenIdle) ReadFrame(int) (audio.Frame, error) {
	s.mu.Lock()
	amp := int16(0)
	if s.tone > 0 {
		amp = 2000
		s.tone--
	}
	s.mu.Unlock()
	time.Sleep(time.Millisecond)
	samples := make([]int16, 160)
	for i := range samples {
		samples[i] = amp
	}
	return audio.Frame{Samples: samples, Channels: 1, SampleRate: 16000, CapturedAt: time.Now()}, nil
}

func (s *speechThenIdle) Close() error { return nil }

func TestRestartDrainsPreviousSessionAfterClientHangup(t *testing.T) {
	cfg, err := config.Default()
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	cfg.Translate.APIKey = ""
	cfg.Session.SourceLang = "en"
	cfg.Session.TargetLang = "en"

	inFlight := make(chan struct{}, 4)
	srv, err := New(cfg, logging.NewTestLogger(), Pipeline{
		Sources: func() capture.Source { return &speechThenIdle{} },
		Recognizer: asr.RecognizerFunc(func(ctx context.Context, _ []byte, _ int, _ string) (string, error) {
			inFlight <- struct{}{}
			select {
			case <-time.After(300 * time.Millisecond):
				return "good morning", nil
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}),
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	sub := caption.NewChanSubscriber(16)
	srv.bcast.Add(sub)

	if _, err := srv.Controller().Start(context.Background(), session.Params{SourceLang: "en", TargetLang: "en"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	select {
	case <-inFlight:
	case <-time.After(3 * time.Second):
		t.Fatalf("utterance never reached the recognizer")
	}

	hungUp, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/start?source=en&target=en", nil).WithContext(hungUp)
	rec := httptest.NewRecorder()
	srv.handleStart(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("restart status = %d: %s", rec.Code, rec.Body.String())
	}
	if recent := srv.status().Recent; len(recent) != 0 {
		t.Fatalf("previous session leaked into recent: %+v", recent)
	}

	select {
	case ev := <-sub.Events():
		if ev.Seq != 1 || ev.IsError || ev.Text != "good morning" {
			t.Fatalf("event = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("caption from the previous session was abandoned")
	}
}
