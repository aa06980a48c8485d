package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"livecap/internal/config"
	"livecap/internal/logging"
	"livecap/internal/run"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// NewStartCmd starts the daemon (background).
func NewStartCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start livecap daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			if err := ensureNotRunning(cfg); err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(cfg.Paths.PidPath), 0o755); err != nil {
				return err
			}
			self, err := os.Executable()
			if err != nil {
				return err
			}
			if foreground, _ := cmd.Flags().GetBool("foreground"); foreground {
				if err := applyRunFlags(cmd); err != nil {
					return err
				}
				return serve(*cfgPath)
			}
			child := exec.Command(self, "serve", "--config", cfg.Paths.ConfigPath)
			// propagate runtime flags via env overrides
			child.Env = append(os.Environ(), runFlagEnv(cmd)...)
			child.Stdout = os.Stdout
			child.Stderr = os.Stderr
			if err := child.Start(); err != nil {
				return err
			}
			// Wait a moment and confirm pid file appears.
			waited := 0
			for waited < 20 {
				if _, err := os.Stat(cfg.Paths.PidPath); err == nil {
					break
				}
				time.Sleep(100 * time.Millisecond)
				waited++
			}
			fmt.Printf("livecap started (pid %d), control at http://%s\n", child.Process.Pid, cfg.Server.Addr)
			return nil
		},
	}
	cmd.Flags().Bool("foreground", false, "run in the foreground instead of forking")
	addRunFlags(cmd)
	return cmd
}

// addRunFlags registers per-run overrides shared by start and serve.
func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().String("metrics-addr", "", "enable metrics at address (e.g., 127.0.0.1:9318) for this run")
	cmd.Flags().String("addr", "", "control/caption listen address for this run")
	cmd.Flags().String("source", "", "source language for auto-started sessions")
	cmd.Flags().String("target", "", "target language for auto-started sessions")
}

func runFlagEnv(cmd *cobra.Command) []string {
	var env []string
	for flag, key := range runFlagVars {
		if v := cmd.Flag(flag).Value.String(); v != "" {
			env = append(env, fmt.Sprintf("%s=%s", key, v))
		}
	}
	return env
}

var runFlagVars = map[string]string{
	"metrics-addr": "LIVECAP_METRICS_ADDR",
	"addr":         "LIVECAP_ADDR",
	"source":       "LIVECAP_SOURCE_LANG",
	"target":       "LIVECAP_TARGET_LANG",
}

func applyRunFlags(cmd *cobra.Command) error {
	for flag, key := range runFlagVars {
		v := cmd.Flag(flag).Value.String()
		if v == "" {
			continue
		}
		if err := os.Setenv(key, v); err != nil {
			return fmt.Errorf("set %s: %w", key, err)
		}
	}
	return nil
}

func serve(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config %s: %w", cfg.Paths.ConfigPath, err)
	}
	logger, err := logging.Configure(cfg)
	if err != nil {
		return err
	}
	return run.Serve(cfg, logger)
}

// NewServeCmd runs the daemon foreground (internal).
func NewServeCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:    "serve",
		Short:  "Run livecap daemon (internal)",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := applyRunFlags(cmd); err != nil {
				return err
			}
			return serve(*cfgPath)
		},
	}
	addRunFlags(cmd)
	return cmd
}

// NewStopCmd asks the daemon to exit; it drains the running session first.
func NewStopCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop livecap daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			pid, err := signalDaemon(cfg.Paths.PidPath, syscall.SIGTERM)
			if err != nil {
				return err
			}
			fmt.Printf("stop signal sent to livecap (pid %d)\n", pid)
			return nil
		},
	}
}

// NewRestartCmd stops the daemon, waits for its session to drain and starts
// it again with the given run flags.
func NewRestartCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart livecap daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			if _, err := signalDaemon(cfg.Paths.PidPath, syscall.SIGTERM); err == nil {
				if err := waitForExit(cfg.Paths.PidPath, shutdownGrace(cfg)); err != nil {
					return err
				}
			}
			start := NewStartCmd(cfgPath)
			var setErr error
			cmd.Flags().Visit(func(f *pflag.Flag) {
				if err := start.Flags().Set(f.Name, f.Value.String()); err != nil && setErr == nil {
					setErr = err
				}
			})
			if setErr != nil {
				return setErr
			}
			return start.RunE(start, args)
		},
	}
	addRunFlags(cmd)
	return cmd
}

// shutdownGrace bounds how long a stopping daemon may take: the session
// drain plus time for the listeners to close.
func shutdownGrace(cfg *config.Config) time.Duration {
	return config.Millis(cfg.Dispatch.DrainTimeoutMS) + 2*time.Second
}

func ensureNotRunning(cfg *config.Config) error {
	if pid, alive := daemonPID(cfg.Paths.PidPath); alive {
		return fmt.Errorf("already running with pid %d", pid)
	}
	return nil
}

// daemonPID reads the pid file and reports whether that process is alive.
func daemonPID(path string) (int, bool) {
	pid, err := readPID(path)
	if err != nil {
		return 0, false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return pid, false
	}
	return pid, proc.Signal(syscall.Signal(0)) == nil
}

func signalDaemon(path string, sig syscall.Signal) (int, error) {
	pid, alive := daemonPID(path)
	if !alive {
		return 0, fmt.Errorf("livecap is not running (no live pid in %s)", path)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return 0, err
	}
	return pid, proc.Signal(sig)
}

func readPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	var pid int
	if _, err := fmt.Sscanf(string(data), "%d", &pid); err != nil {
		return 0, err
	}
	return pid, nil
}

// waitForExit polls until the daemon in the pid file is gone, removing a
// stale pid file.
func waitForExit(pidPath string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if _, alive := daemonPID(pidPath); !alive {
			_ = os.Remove(pidPath)
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("restart: daemon did not stop within %s", timeout)
}
