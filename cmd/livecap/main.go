package main

import (
	"fmt"
	"os"

	"livecap/internal/control"
	"livecap/internal/daemon"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	root := &cobra.Command{
		Use:   "livecap",
		Short: "livecap: live captions for system audio or a microphone",
		Long: `livecap captures system audio (or a mic), cuts it into utterances at natural pauses,
transcribes and translates them through hosted speech and chat endpoints, and streams
ordered captions to websocket clients such as browser overlays.

Key commands:
  start|stop|restart        Daemon lifecycle
  status [--json]           Session state + recent captions
  session start|stop        Control captioning in the running daemon
  captions [--start]        Follow the live caption stream
  transcribe <file.wav>     Caption a WAV file without a daemon
  devices list|set          Select capture device
  doctor                    Check endpoints, keys, devices, hook
  service install|uninstall|status   launchd or systemd user service
  health|tail-log|test-hook Liveness, log tail, manual hook

Notable flags/env:
  --metrics-addr <addr>     Enable /metrics (Prometheus text)
  --source/--target <lang>  Default session languages
  Env overrides: LIVECAP_ADDR, LIVECAP_METRICS_ADDR, LIVECAP_LOG_LEVEL/FORMAT,
                 LIVECAP_SOURCE_LANG, LIVECAP_TARGET_LANG, LIVECAP_WORKERS,
                 LIVECAP_USE_MIC, NVIDIA_API_KEY`,
		Example: `  livecap start --metrics-addr 127.0.0.1:9318
  livecap session start --source ja --target en
  livecap captions --start --mic
  livecap devices list
  livecap transcribe meeting.wav --target de
  livecap service install --env NVIDIA_API_KEY=nvapi-...`,
		DisableFlagsInUseLine: true,
	}

	root.Version = version
	root.SetVersionTemplate("livecap v{{.Version}}\n")

	cfgPath := root.PersistentFlags().StringP("config", "c", "", "Path to config file (TOML). Defaults to ~/.config/livecap/config.toml")
	root.CompletionOptions.DisableDefaultCmd = true

	root.AddCommand(daemon.NewStartCmd(cfgPath))
	root.AddCommand(daemon.NewStopCmd(cfgPath))
	root.AddCommand(daemon.NewRestartCmd(cfgPath))
	root.AddCommand(control.NewStatusCmd(cfgPath))
	root.AddCommand(control.NewSessionCmd(cfgPath))
	root.AddCommand(control.NewCaptionsCmd(cfgPath))
	root.AddCommand(control.NewTranscribeCmd(cfgPath))
	root.AddCommand(control.NewDevicesCmd(cfgPath))
	root.AddCommand(control.NewTailLogCmd(cfgPath))
	root.AddCommand(control.NewTestHookCmd(cfgPath))
	root.AddCommand(control.NewDoctorCmd(cfgPath))
	root.AddCommand(control.NewServiceCmd(cfgPath))
	root.AddCommand(control.NewHealthCmd(cfgPath))
	root.AddCommand(control.NewConfigCmd(cfgPath))

	// Hidden internal serve command used by start.
	root.AddCommand(daemon.NewServeCmd(cfgPath))

	applyColorHelp(root)

	return root.Execute()
}

func applyColorHelp(root *cobra.Command) {
	const (
		boldBlue = "\033[1;34m"
		green    = "\033[32m"
		bold     = "\033[1m"
		dim      = "\033[2m"
		reset    = "\033[0m"
	)
	root.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		if cmd != root {
			// subcommands keep cobra's usage output
			_, _ = fmt.Fprint(cmd.OutOrStdout(), cmd.UsageString())
			return
		}
		out := cmd.OutOrStdout()
		write := func(format string, args ...any) { _, _ = fmt.Fprintf(out, format, args...) }
		writeln := func(line string) { _, _ = fmt.Fprintln(out, line) }

		write("%slivecap%s: live captions daemon %s(v%s)%s\n", boldBlue, reset, dim, version, reset)
		write("%sCaptures audio, segments on pauses, transcribes, translates and streams captions.%s\n\n", dim, reset)

		write("%sUsage%s\n", bold, reset)
		write("  livecap [command] [flags]\n\n")

		write("%sKey commands%s\n", bold, reset)
		writeln("  start|stop|restart          daemon lifecycle")
		writeln("  status [--json]             session state + recent captions")
		writeln("  session start|stop          control captioning in the daemon")
		writeln("  captions [--start]          follow the caption stream")
		writeln("  transcribe <file.wav>       caption a WAV file offline")
		writeln("  devices list|set            select capture device")
		writeln("  doctor                      check endpoints/keys/devices/hook")
		writeln("  service install|uninstall|status user service (launchd/systemd)")
		writeln("  config show|path            effective configuration")
		writeln("  health                      control surface liveness ping")
		writeln("  tail-log                    show last log lines")
		writeln("  test-hook \"text\"            invoke hook manually")
		writeln("")

		write("%sNotable flags & env%s\n", bold, reset)
		writeln("  --metrics-addr <addr>   enable /metrics (Prometheus)")
		writeln("  --source/--target       default session languages (auto, none)")
		writeln("  -c, --config <path>     config file (default ~/.config/livecap/config.toml)")
		writeln("  Env: LIVECAP_ADDR=host:port, LIVECAP_METRICS_ADDR=host:port,")
		writeln("       LIVECAP_LOG_LEVEL=debug, LIVECAP_LOG_FORMAT=json,")
		writeln("       LIVECAP_SOURCE_LANG, LIVECAP_TARGET_LANG, LIVECAP_WORKERS,")
		writeln("       LIVECAP_USE_MIC=1, NVIDIA_API_KEY")
		writeln("")

		write("%sExamples%s\n", bold, reset)
		writeln("  livecap start --metrics-addr 127.0.0.1:9318")
		writeln("  livecap session start --source ja --target en")
		writeln("  livecap captions --start --mic")
		writeln("  livecap devices set \"BlackHole 2ch\"")
		writeln("  livecap transcribe meeting.wav --target de --json")
		writeln("")

		write("%sCommands%s\n", bold, reset)
		for _, c := range cmd.Commands() {
			if c.Hidden {
				continue
			}
			write("  %s%-15s%s %s\n", green, c.Name(), reset, c.Short)
		}
	})
}
