package control

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"livecap/internal/caption"
	"livecap/internal/config"
	"livecap/internal/run"
	"livecap/internal/session"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// Client talks to a running daemon's control surface.
type Client struct {
	base string
	http *http.Client
}

// NewClient returns a client for the daemon configured in cfg.
func NewClient(cfg *config.Config) *Client {
	return &Client{
		base: BaseURL(cfg.Server.Addr),
		http: &http.Client{Timeout: config.Millis(cfg.Dispatch.DrainTimeoutMS) + 5*time.Second},
	}
}

// BaseURL turns a listen address into a dialable http URL; wildcard hosts
// become loopback.
func BaseURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("cannot connect to daemon: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		var body struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		if body.Error == "" {
			body.Error = resp.Status
		}
		return fmt.Errorf("%s %s: %s", method, path, body.Error)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Status fetches GET /status.
func (c *Client) Status(ctx context.Context) (run.StatusResponse, error) {
	var st run.StatusResponse
	err := c.do(ctx, http.MethodGet, "/status", &st)
	return st, err
}

// Health fetches GET /health.
func (c *Client) Health(ctx context.Context) error {
	var body map[string]bool
	if err := c.do(ctx, http.MethodGet, "/health", &body); err != nil {
		return err
	}
	if !body["ok"] {
		return fmt.Errorf("daemon reported unhealthy")
	}
	return nil
}

// Start asks the daemon to start a session.
func (c *Client) Start(ctx context.Context, p session.Params) (run.StartResponse, error) {
	q := url.Values{}
	if p.SourceLang != "" {
		q.Set("source", p.SourceLang)
	}
	if p.TargetLang != "" {
		q.Set("target", p.TargetLang)
	}
	if p.Device != "" {
		q.Set("device", p.Device)
	}
	q.Set("mic", strconv.FormatBool(p.UseMic))
	var resp run.StartResponse
	err := c.do(ctx, http.MethodPost, "/start?"+q.Encode(), &resp)
	return resp, err
}

// Stop asks the daemon to stop the session.
func (c *Client) Stop(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/stop", nil)
}

// Captions streams caption events to fn until ctx ends or the daemon closes
// the stream. A non-nil start command is sent once connected.
func (c *Client) Captions(ctx context.Context, start *run.ClientCommand, fn func(caption.Event)) error {
	wsURL := "ws" + c.base[len("http"):] + "/captions"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("cannot connect to caption stream: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")
	if start != nil {
		if err := wsjson.Write(ctx, conn, start); err != nil {
			return err
		}
	}
	for {
		var ev caption.Event
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			if ctx.Err() != nil || websocket.CloseStatus(err) != -1 {
				return nil
			}
			return err
		}
		fn(ev)
	}
}
