package control

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"livecap/internal/caption"
	"livecap/internal/config"
	"livecap/internal/hook"
	"livecap/internal/logging"
	"livecap/internal/metrics"
	"livecap/internal/run"
	"livecap/internal/session"

	"github.com/spf13/cobra"
)

// NewTranscribeCmd captions a WAV file through the full pipeline without
// a daemon.
func NewTranscribeCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transcribe <file.wav>",
		Short: "Caption a WAV file and print the results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			if _, err := os.Stat(args[0]); err != nil {
				return err
			}
			cfg.Audio.Source = "file"
			cfg.Audio.FilePath = args[0]
			cfg.Audio.Realtime, _ = cmd.Flags().GetBool("realtime")
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("config invalid: %w", err)
			}
			p := session.Params{SourceLang: cfg.Session.SourceLang, TargetLang: cfg.Session.TargetLang}
			if v, _ := cmd.Flags().GetString("source"); v != "" {
				p.SourceLang = v
			}
			if v, _ := cmd.Flags().GetString("target"); v != "" {
				p.TargetLang = v
			}
			asJSON, _ := cmd.Flags().GetBool("json")
			withHook, _ := cmd.Flags().GetBool("hook")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return transcribe(ctx, cfg, p, transcribeOptions{
				Out:  cmd.OutOrStdout(),
				JSON: asJSON,
				Hook: withHook,
			}, run.Pipeline{})
		},
	}
	cmd.Flags().String("source", "", "spoken language (auto to detect)")
	cmd.Flags().String("target", "", "caption language (none to disable translation)")
	cmd.Flags().Bool("json", false, "print caption events as JSON lines")
	cmd.Flags().Bool("hook", false, "also send captions through the configured hook")
	cmd.Flags().Bool("realtime", false, "pace the file at its natural speed")
	return cmd
}

type transcribeOptions struct {
	Out  io.Writer
	JSON bool
	Hook bool
}

func transcribe(ctx context.Context, cfg *config.Config, p session.Params, opts transcribeOptions, pipe run.Pipeline) error {
	logger := logging.Console(cfg)
	m := metrics.NewNop()
	b := caption.NewBroadcaster(logger, m)
	defer b.CloseAll()
	b.Add(&printSubscriber{out: opts.Out, json: opts.JSON})
	if opts.Hook {
		r, err := hook.NewRunner(cfg.Hook, logger)
		if err != nil {
			return err
		}
		b.Add(hook.NewSubscriber(r, cfg.Hook.QueueSize, logger, m))
	}

	ctrl, err := run.NewController(cfg, logger, m, b, pipe)
	if err != nil {
		return err
	}
	if _, err := ctrl.Start(ctx, p); err != nil {
		return err
	}
	if err := ctrl.Wait(ctx); err != nil {
		// interrupted: flush what was captured so far
		return ctrl.Stop(context.Background())
	}
	if st := ctrl.Status(); st.LastError != "" {
		return fmt.Errorf("transcribe: %s", st.LastError)
	}
	return nil
}

// printSubscriber writes events as they are published.
type printSubscriber struct {
	mu   sync.Mutex
	out  io.Writer
	json bool
}

func (p *printSubscriber) Deliver(ev caption.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.json {
		return json.NewEncoder(p.out).Encode(ev)
	}
	_, err := fmt.Fprintln(p.out, formatEvent(ev))
	return err
}

func (p *printSubscriber) Close() error { return nil }
