package control

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"livecap/internal/caption"
	"livecap/internal/config"
	"livecap/internal/doctor"
	"livecap/internal/hook"
	"livecap/internal/logging"
	"livecap/internal/run"
	"livecap/internal/session"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

// NewStatusCmd queries daemon status.
func NewStatusCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and session status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			status, err := NewClient(cfg).Status(cmd.Context())
			if err != nil {
				return err
			}
			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(status)
			}
			printStatus(cmd, status)
			return nil
		},
	}
	cmd.Flags().Bool("json", false, "output JSON")
	return cmd
}

func printStatus(cmd *cobra.Command, st run.StatusResponse) {
	cmd.Printf("daemon:  up %.0fs, %d caption client(s)\n", st.UptimeSec, st.Clients)
	cmd.Printf("session: %s", st.State)
	if st.Session != "" {
		cmd.Printf(" %s (%s -> %s on %q)", st.Session, st.Source, st.Target, st.Device)
	}
	cmd.Println()
	if st.StartedAt != nil {
		cmd.Printf("started: %s\n", st.StartedAt.Format(time.RFC3339))
	}
	if st.LastError != "" {
		cmd.Printf("last error: %s\n", st.LastError)
	}
	for _, e := range st.Recent {
		cmd.Printf("%s  %s\n", e.Time.Format("15:04:05"), formatEntry(e))
	}
}

func formatEntry(e caption.Entry) string {
	return formatEvent(caption.Event{Seq: e.Seq, Text: e.Text, Original: e.Original, IsError: e.IsError})
}

func formatEvent(ev caption.Event) string {
	switch {
	case ev.IsError:
		return fmt.Sprintf("[%d] error: %s", ev.Seq, ev.Text)
	case ev.Original != "":
		return fmt.Sprintf("[%d] %s  (%s)", ev.Seq, ev.Text, ev.Original)
	default:
		return fmt.Sprintf("[%d] %s", ev.Seq, ev.Text)
	}
}

// NewHealthCmd pings the control surface.
func NewHealthCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Ping the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 3*time.Second)
			defer cancel()
			if err := NewClient(cfg).Health(ctx); err != nil {
				return err
			}
			cmd.Println("ok")
			return nil
		},
	}
}

// NewSessionCmd groups session start/stop.
func NewSessionCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Start or stop captioning in the running daemon",
	}
	start := &cobra.Command{
		Use:   "start",
		Short: "Start a captioning session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			p := sessionParams(cmd, cfg)
			resp, err := NewClient(cfg).Start(cmd.Context(), p)
			if err != nil {
				return err
			}
			cmd.Printf("session %s started (%s -> %s)\n", resp.Session, resp.Source, resp.Target)
			return nil
		},
	}
	addSessionFlags(start)
	stop := &cobra.Command{
		Use:   "stop",
		Short: "Stop the captioning session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			if err := NewClient(cfg).Stop(cmd.Context()); err != nil {
				return err
			}
			cmd.Println("session stopped")
			return nil
		},
	}
	cmd.AddCommand(start, stop)
	return cmd
}

func addSessionFlags(cmd *cobra.Command) {
	cmd.Flags().String("source", "", "spoken language (auto to detect)")
	cmd.Flags().String("target", "", "caption language (none to disable translation)")
	cmd.Flags().Bool("mic", false, "capture the microphone instead of system audio")
	cmd.Flags().String("device", "", "input device name fragment")
}

func sessionParams(cmd *cobra.Command, cfg *config.Config) session.Params {
	p := session.Params{
		SourceLang: cfg.Session.SourceLang,
		TargetLang: cfg.Session.TargetLang,
		UseMic:     cfg.Audio.UseMic,
		Device:     cfg.Audio.Device,
	}
	if v, _ := cmd.Flags().GetString("source"); v != "" {
		p.SourceLang = v
	}
	if v, _ := cmd.Flags().GetString("target"); v != "" {
		p.TargetLang = v
	}
	if cmd.Flags().Changed("mic") {
		p.UseMic, _ = cmd.Flags().GetBool("mic")
	}
	if v, _ := cmd.Flags().GetString("device"); v != "" {
		p.Device = v
	}
	return p
}

// NewCaptionsCmd follows the live caption stream.
func NewCaptionsCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "captions",
		Short: "Print live captions from the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var start *run.ClientCommand
			if want, _ := cmd.Flags().GetBool("start"); want {
				p := sessionParams(cmd, cfg)
				mic := p.UseMic
				start = &run.ClientCommand{Cmd: "start", Source: p.SourceLang, Target: p.TargetLang, Mic: &mic, Device: p.Device}
			}
			jsonOut, _ := cmd.Flags().GetBool("json")
			out := cmd.OutOrStdout()
			enc := json.NewEncoder(out)
			return NewClient(cfg).Captions(ctx, start, func(ev caption.Event) {
				if jsonOut {
					_ = enc.Encode(ev)
					return
				}
				fmt.Fprintln(out, formatEvent(ev))
			})
		},
	}
	cmd.Flags().Bool("start", false, "start a session after connecting")
	cmd.Flags().Bool("json", false, "print raw caption events")
	addSessionFlags(cmd)
	return cmd
}

// NewTailLogCmd tails the main log file (simple last N lines).
func NewTailLogCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tail-log",
		Short: "Show last log lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			n, _ := cmd.Flags().GetInt("lines")
			lines, err := tailFile(cfg.Paths.LogPath, n)
			if err != nil {
				return err
			}
			for _, l := range lines {
				cmd.Println(l)
			}
			return nil
		},
	}
	cmd.Flags().IntP("lines", "n", 50, "number of lines")
	return cmd
}

func tailFile(path string, n int) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var lines []string
	for _, l := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}

// NewTestHookCmd triggers hook manually.
func NewTestHookCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "test-hook \"some text\"",
		Short: "Send sample caption text through the hook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			logger := logging.Console(cfg)
			r, err := hook.NewRunner(cfg.Hook, logger)
			if err != nil {
				return err
			}
			job := hook.Job{Text: args[0], Timestamp: time.Now()}
			return r.Run(cmd.Context(), job)
		},
	}
}

// NewDoctorCmd runs environment checks.
func NewDoctorCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check dependencies, devices and config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			results := doctor.Run(cfg)
			exitCode := 0
			for _, r := range results {
				status := "ok"
				if !r.Pass {
					status = "fail"
					exitCode = 1
				}
				cmd.Printf("%-14s %-4s %s\n", r.Name, status, r.Detail)
			}
			if exitCode != 0 {
				return fmt.Errorf("doctor found issues")
			}
			return nil
		},
	}
}

// NewConfigCmd shows the effective configuration.
func NewConfigCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective config (env overrides applied, keys redacted)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			out, err := toml.Marshal(redacted(cfg))
			if err != nil {
				return err
			}
			cmd.Printf("# %s\n%s", cfg.Paths.ConfigPath, out)
			return nil
		},
	}, &cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			cmd.Println(cfg.Paths.ConfigPath)
			return nil
		},
	})
	return cmd
}

func redacted(cfg *config.Config) config.Config {
	c := *cfg
	if c.ASR.APIKey != "" {
		c.ASR.APIKey = "***"
	}
	if c.Translate.APIKey != "" {
		c.Translate.APIKey = "***"
	}
	return c
}
