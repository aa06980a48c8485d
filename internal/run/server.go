package run

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path"
	"strconv"
	"strings"
	"syscall"
	"time"

	"livecap/internal/caption"
	"livecap/internal/capture"
	"livecap/internal/config"
	"livecap/internal/hook"
	"livecap/internal/metrics"
	"livecap/internal/session"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
)

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	session.Status
	UptimeSec float64         `json:"uptime_sec"`
	Recent    []caption.Entry `json:"recent"`
}

// StartResponse is the body of POST /start.
type StartResponse struct {
	Status  string `json:"status"`
	Session string `json:"session"`
	Source  string `json:"source"`
	Target  string `json:"target"`
}

// Server exposes the session controller and the caption stream over HTTP.
type Server struct {
	cfg       *config.Config
	logger    *logrus.Logger
	registry  *prometheus.Registry
	metrics   *metrics.Metrics
	bcast     *caption.Broadcaster
	tail      *caption.Tail
	ctrl      *session.Controller
	startedAt time.Time
}

// New builds the server and its pipeline. Nil fields of p are built from cfg.
func New(cfg *config.Config, logger *logrus.Logger, p Pipeline) (*Server, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	b := caption.NewBroadcaster(logger, m)
	tail := caption.NewTail(cfg.UI.StatusTail)
	b.Add(tail)
	if cfg.Hook.Enabled {
		r, err := hook.NewRunner(cfg.Hook, logger)
		if err != nil {
			return nil, err
		}
		b.Add(hook.NewSubscriber(r, cfg.Hook.QueueSize, logger, m))
		logger.Infof("caption hook enabled: %s", cfg.Hook.Command)
	}

	ctrl, err := NewController(cfg, logger, m, b, p)
	if err != nil {
		return nil, err
	}
	return &Server{
		cfg:       cfg,
		logger:    logger,
		registry:  reg,
		metrics:   m,
		bcast:     b,
		tail:      tail,
		ctrl:      ctrl,
		startedAt: time.Now(),
	}, nil
}

// Controller exposes the session controller.
func (s *Server) Controller() *session.Controller { return s.ctrl }

// Handler returns the control and caption routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /start", s.withMetrics("/start", s.handleStart))
	mux.HandleFunc("POST /stop", s.withMetrics("/stop", s.handleStop))
	mux.HandleFunc("GET /status", s.withMetrics("/status", s.handleStatus))
	mux.HandleFunc("GET /health", s.withMetrics("/health", s.handleHealth))
	// the websocket upgrade needs the raw ResponseWriter
	mux.HandleFunc("GET /captions", s.handleCaptions)
	return s.cors(mux)
}

// Shutdown stops the running session and disconnects every subscriber.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.ctrl.Stop(ctx)
	s.bcast.CloseAll()
	return err
}

// Serve runs the daemon until interrupted.
func Serve(cfg *config.Config, logger *logrus.Logger) error {
	if err := config.MustStatePaths(cfg); err != nil {
		return err
	}
	// Write pid file.
	if err := os.WriteFile(cfg.Paths.PidPath, []byte(fmt.Sprintf("%d", os.Getpid())), 0o644); err != nil {
		return err
	}
	defer func() {
		if err := os.Remove(cfg.Paths.PidPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warnf("remove pid file: %v", err)
		}
	}()

	srv, err := New(cfg, logger, Pipeline{})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("control listening on http://%s (captions at ws://%s/captions)", cfg.Server.Addr, cfg.Server.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Metrics server
	if cfg.Metrics.Enabled {
		go srv.metricsServe(ctx.Done(), cfg.Metrics.Addr)
	}

	if cfg.Session.AutoStart {
		if _, err := srv.ctrl.Start(ctx, srv.defaultParams()); err != nil {
			logger.Errorf("auto-start session: %v", err)
		}
	}

	// Handle signals
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)
	var serveErr error
	select {
	case sig := <-sigCh:
		logger.Infof("received signal %s, shutting down", sig)
	case serveErr = <-errCh:
		logger.Errorf("control server: %v", serveErr)
	}
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), config.Millis(cfg.Dispatch.DrainTimeoutMS)+5*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("session shutdown: %v", err)
	}
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}
	return serveErr
}

func (s *Server) defaultParams() session.Params {
	return session.Params{
		SourceLang: s.cfg.Session.SourceLang,
		TargetLang: s.cfg.Session.TargetLang,
		UseMic:     s.cfg.Audio.UseMic,
		Device:     s.cfg.Audio.Device,
	}
}

// paramsFromQuery overlays ?source=&target=&mic=&device= on the defaults.
func (s *Server) paramsFromQuery(q url.Values) (session.Params, error) {
	p := s.defaultParams()
	if v := q.Get("source"); v != "" {
		p.SourceLang = v
	}
	if v := q.Get("target"); v != "" {
		p.TargetLang = v
	}
	if v := q.Get("device"); v != "" {
		p.Device = v
	}
	if v := q.Get("mic"); v != "" {
		mic, err := strconv.ParseBool(v)
		if err != nil {
			return p, fmt.Errorf("mic: %w", err)
		}
		p.UseMic = mic
	}
	return p, nil
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	p, err := s.paramsFromQuery(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	info, err := s.start(context.WithoutCancel(r.Context()), p)
	if err != nil {
		writeError(w, startStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, StartResponse{
		Status:  "started",
		Session: info.ID,
		Source:  info.Params.SourceLang,
		Target:  info.Params.TargetLang,
	})
}

// start replaces the running session. The previous session is drained
// before the tail is cleared so its last captions do not leak into the new
// session's recent list.
func (s *Server) start(ctx context.Context, p session.Params) (session.Info, error) {
	if err := s.ctrl.Stop(ctx); err != nil {
		s.logger.Warnf("stop previous session: %v", err)
	}
	s.tail.Reset()
	info, err := s.ctrl.Start(ctx, p)
	if err != nil {
		s.logger.Errorf("start session: %v", err)
	}
	return info, err
}

func startStatus(err error) int {
	switch {
	case errors.Is(err, session.ErrNoTranslator):
		return http.StatusBadRequest
	case errors.Is(err, capture.ErrDevice):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	// a client hanging up must not cut the drain short
	if err := s.ctrl.Stop(context.WithoutCancel(r.Context())); err != nil {
		s.logger.Warnf("stop session: %v", err)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) status() StatusResponse {
	return StatusResponse{
		Status:    s.ctrl.Status(),
		UptimeSec: time.Since(s.startedAt).Seconds(),
		Recent:    s.tail.Recent(),
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

// withMetrics counts requests by route and status code.
func (s *Server) withMetrics(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		h(ww, r)
		s.metrics.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(ww.statusCode)).Inc()
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && s.originAllowed(origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// originAllowed matches origin against server.allowed_origins. Entries are
// "*", full origins ("https://obs.local:8080") or host patterns ("*.local").
func (s *Server) originAllowed(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, pat := range s.cfg.Server.AllowedOrigins {
		if pat == "*" || strings.EqualFold(pat, origin) {
			return true
		}
		if ok, _ := path.Match(strings.ToLower(pat), strings.ToLower(u.Host)); ok {
			return true
		}
	}
	return false
}

// originPatterns converts allowed_origins to websocket host patterns.
func (s *Server) originPatterns() []string {
	out := make([]string, 0, len(s.cfg.Server.AllowedOrigins))
	for _, pat := range s.cfg.Server.AllowedOrigins {
		if u, err := url.Parse(pat); err == nil && u.Host != "" {
			pat = u.Host
		}
		out = append(out, pat)
	}
	return out
}
