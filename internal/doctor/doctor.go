package doctor

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"time"

	"livecap/internal/capture/device"
	"livecap/internal/config"
	"livecap/internal/translate"
)

// Result represents a diagnostic check.
type Result struct {
	Name   string
	Pass   bool
	Detail string
}

// Run executes doctor checks.
func Run(cfg *config.Config) []Result {
	results := []Result{
		checkFile("config path", cfg.Paths.ConfigPath),
		checkConfig(cfg),
		checkEndpoint("asr endpoint", cfg.ASR.BaseURL, 3*time.Second),
		checkTranslateKey(cfg),
	}
	if cfg.Hook.Enabled {
		results = append(results, checkHookExecutable(cfg.Hook.Command))
	}
	switch cfg.Audio.Source {
	case "file":
		results = append(results, checkFile("audio file", cfg.Audio.FilePath))
	default:
		results = append(results, checkPortAudioPkgConfig(), checkInputDevice(cfg))
	}
	return results
}

func checkFile(label, path string) Result {
	if path == "" {
		return Result{Name: label, Pass: false, Detail: "not set"}
	}
	if _, err := os.Stat(os.ExpandEnv(path)); err != nil {
		return Result{Name: label, Pass: false, Detail: err.Error()}
	}
	return Result{Name: label, Pass: true, Detail: path}
}

func checkConfig(cfg *config.Config) Result {
	if err := cfg.Validate(); err != nil {
		return Result{Name: "config", Pass: false, Detail: err.Error()}
	}
	return Result{Name: "config", Pass: true, Detail: "valid"}
}

// checkEndpoint only proves the server answers; any HTTP status counts.
func checkEndpoint(label, base string, timeout time.Duration) Result {
	u, err := url.Parse(base)
	if err != nil || u.Host == "" {
		return Result{Name: label, Pass: false, Detail: fmt.Sprintf("bad url %q", base)}
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(base, "/")+"/models", nil)
	if err != nil {
		return Result{Name: label, Pass: false, Detail: err.Error()}
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return Result{Name: label, Pass: false, Detail: err.Error()}
	}
	_ = resp.Body.Close()
	return Result{Name: label, Pass: true, Detail: fmt.Sprintf("%s (%s)", base, resp.Status)}
}

func checkTranslateKey(cfg *config.Config) Result {
	label := "translate key"
	if cfg.Translate.APIKey != "" {
		return Result{Name: label, Pass: true, Detail: "set"}
	}
	if !translate.Needed(cfg.Session.SourceLang, cfg.Session.TargetLang) {
		return Result{Name: label, Pass: true, Detail: "not set (translation not needed for default languages)"}
	}
	return Result{Name: label, Pass: false, Detail: "not set; export NVIDIA_API_KEY or set translate.api_key"}
}

func checkHookExecutable(cmd string) Result {
	label := "hook.command"
	if cmd == "" {
		return Result{Name: label, Pass: false, Detail: "not set"}
	}
	path := os.ExpandEnv(cmd)
	// If contains a path separator, treat as explicit path.
	if strings.Contains(path, "/") || strings.Contains(path, "\\") {
		info, err := os.Stat(path)
		if err != nil {
			return Result{Name: label, Pass: false, Detail: err.Error()}
		}
		if info.IsDir() {
			return Result{Name: label, Pass: false, Detail: "is a directory; set hook.command to an executable file"}
		}
		if info.Mode().Perm()&0o111 == 0 {
			return Result{Name: label, Pass: false, Detail: "not executable; chmod +x or choose another command"}
		}
		return Result{Name: label, Pass: true, Detail: path}
	}
	// Else search PATH.
	resolved, err := exec.LookPath(path)
	if err != nil {
		return Result{Name: label, Pass: false, Detail: err.Error()}
	}
	return Result{Name: label, Pass: true, Detail: resolved}
}

func checkPortAudioPkgConfig() Result {
	pkg, err := exec.LookPath("pkg-config")
	if err != nil {
		return Result{Name: "pkg-config", Pass: false, Detail: "pkg-config not found (needed to build with -tags portaudio)"}
	}
	cmd := exec.Command(pkg, "--exists", "portaudio-2.0")
	if err := cmd.Run(); err != nil {
		return Result{Name: "portaudio", Pass: false, Detail: "portaudio-2.0 not found (brew install portaudio / apt install portaudio19-dev)"}
	}
	// Optional display version
	versionCmd := exec.Command(pkg, "--modversion", "portaudio-2.0")
	if out, err := versionCmd.Output(); err == nil {
		return Result{Name: "portaudio", Pass: true, Detail: strings.TrimSpace(string(out))}
	}
	return Result{Name: "portaudio", Pass: true, Detail: "found via pkg-config"}
}

// checkInputDevice confirms the input the default session would open exists.
func checkInputDevice(cfg *config.Config) Result {
	label := "input device"
	devs, err := device.List(cfg.Audio.LoopbackDevice)
	if err != nil {
		return Result{Name: label, Pass: false, Detail: err.Error()}
	}
	return pickDevice(label, devs, cfg.Audio.UseMic, cfg.Audio.Device, cfg.Audio.LoopbackDevice)
}

func pickDevice(label string, devs []device.Info, useMic bool, name, hint string) Result {
	if name != "" {
		for _, d := range devs {
			if strings.Contains(strings.ToLower(d.Name), strings.ToLower(name)) {
				return Result{Name: label, Pass: true, Detail: d.Name}
			}
		}
		return Result{Name: label, Pass: false, Detail: fmt.Sprintf("no input matching %q", name)}
	}
	for _, d := range devs {
		if (useMic && d.Default) || (!useMic && d.Loopback) {
			return Result{Name: label, Pass: true, Detail: d.Name}
		}
	}
	if useMic {
		if len(devs) > 0 {
			return Result{Name: label, Pass: true, Detail: devs[0].Name}
		}
		return Result{Name: label, Pass: false, Detail: "no input devices found"}
	}
	return Result{Name: label, Pass: false, Detail: fmt.Sprintf("no loopback input matching %q; enable it in the OS mixer or set audio.loopback_device", hint)}
}
