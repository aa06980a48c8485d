package run

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"livecap/internal/caption"
	"livecap/internal/config"
	"livecap/internal/session"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/sirupsen/logrus"
)

// ClientCommand is a control message a caption client may send.
type ClientCommand struct {
	Cmd    string `json:"cmd"` // start, stop
	Source string `json:"source,omitempty"`
	Target string `json:"target,omitempty"`
	Mic    *bool  `json:"mic,omitempty"`
	Device string `json:"device,omitempty"`
}

func (s *Server) handleCaptions(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.originPatterns(),
	})
	if err != nil {
		s.metrics.HTTPRequests.WithLabelValues(r.Method, "/captions", "403").Inc()
		s.logger.Debugf("caption upgrade: %v", err)
		return
	}
	s.metrics.HTTPRequests.WithLabelValues(r.Method, "/captions", "101").Inc()

	sub := caption.NewChanSubscriber(s.cfg.Server.SubscriberBuffer)
	id := s.bcast.AddClient(sub)
	defer s.bcast.Remove(id)
	log := s.logger.WithField("client", id)
	log.Infof("caption client connected from %s", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go s.readCommands(ctx, cancel, conn, log)

	writeTimeout := config.Millis(s.cfg.Server.WriteTimeoutMS)
	for {
		select {
		case ev := <-sub.Events():
			if err := writeEvent(ctx, conn, ev, writeTimeout); err != nil {
				log.Debugf("caption write: %v", err)
				conn.Close(websocket.StatusGoingAway, "write failed")
				return
			}
		case <-sub.Done():
			log.Info("caption client dropped")
			conn.Close(websocket.StatusGoingAway, "caption stream closed")
			return
		case <-ctx.Done():
			log.Info("caption client disconnected")
			conn.Close(websocket.StatusNormalClosure, "")
			return
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, ev caption.Event, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return wsjson.Write(wctx, conn, ev)
}

// readCommands handles start/stop requests from the client until the
// connection ends, then cancels the writer.
func (s *Server) readCommands(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, log *logrus.Entry) {
	defer cancel()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var cmd ClientCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			_ = writeEvent(ctx, conn, caption.Errorf(0, "bad command: %v", err), 0)
			continue
		}
		log.WithField("cmd", cmd.Cmd).Debug("client command")
		switch cmd.Cmd {
		case "start":
			p := s.commandParams(cmd)
			if _, err := s.start(context.WithoutCancel(ctx), p); err != nil {
				_ = writeEvent(ctx, conn, caption.Errorf(0, "start failed: %v", err), 0)
			}
		case "stop":
			if err := s.ctrl.Stop(context.WithoutCancel(ctx)); err != nil {
				log.Warnf("stop session: %v", err)
			}
		default:
			_ = writeEvent(ctx, conn, caption.Errorf(0, "unknown command %q", cmd.Cmd), 0)
		}
	}
}

func (s *Server) commandParams(cmd ClientCommand) session.Params {
	p := s.defaultParams()
	if cmd.Source != "" {
		p.SourceLang = cmd.Source
	}
	if cmd.Target != "" {
		p.TargetLang = cmd.Target
	}
	if cmd.Mic != nil {
		p.UseMic = *cmd.Mic
	}
	if cmd.Device != "" {
		p.Device = cmd.Device
	}
	return p
}
