// Package service writes per-user service definitions that keep the daemon
// running: a launchd agent on macOS, a systemd user unit elsewhere.
package service

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"text/template"
)

// Label identifies the livecap service.
const Label = "dev.livecap.daemon"

const launchdTemplate = `<?xml version='1.0' encoding='UTF-8'?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
  <key>Label</key><string>{{.Label}}</string>
  <key>ProgramArguments</key>
  <array>
    <string>{{.Binary}}</string>
    <string>start</string>
    <string>--config</string>
    <string>{{.Config}}</string>
    <string>--foreground</string>
  </array>
  <key>RunAtLoad</key><true/>
  <key>KeepAlive</key><dict><key>SuccessfulExit</key><false/></dict>
  <key>StandardOutPath</key><string>{{.Log}}</string>
  <key>StandardErrorPath</key><string>{{.Log}}</string>
  {{- if .Env }}
  <key>EnvironmentVariables</key>
  <dict>
    {{- range $k, $v := .Env }}
    <key>{{$k}}</key><string>{{$v}}</string>
    {{- end }}
  </dict>
  {{- end }}
</dict>
</plist>`

const systemdTemplate = `[Unit]
Description=livecap live captioning daemon
After=sound.target network-online.target

[Service]
ExecStart={{.Binary}} start --config {{.Config}} --foreground
Restart=on-failure
{{- range $k, $v := .Env }}
Environment={{$k}}={{$v}}
{{- end }}

[Install]
WantedBy=default.target
`

// Params fill the service template.
type Params struct {
	Label  string
	Binary string
	Config string
	Log    string
	Env    map[string]string
}

// Kind reports the service manager used on this OS.
func Kind() string {
	if runtime.GOOS == "darwin" {
		return "launchd"
	}
	return "systemd"
}

// Path returns the service definition path for a label.
func Path(label string) string {
	home := os.Getenv("HOME")
	if Kind() == "launchd" {
		return filepath.Join(home, "Library", "LaunchAgents", fmt.Sprintf("%s.plist", label))
	}
	return filepath.Join(home, ".config", "systemd", "user", fmt.Sprintf("%s.service", label))
}

// Write renders the service definition for this OS and returns its path.
func Write(params Params) (string, error) {
	text := systemdTemplate
	if Kind() == "launchd" {
		text = launchdTemplate
	}
	path := Path(params.Label)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	tpl := template.Must(template.New(Kind()).Parse(text))
	if err := tpl.Execute(f, params); err != nil {
		return "", err
	}
	return path, nil
}

// Status returns the definition path and whether it exists.
func Status(label string) (string, bool) {
	path := Path(label)
	if _, err := os.Stat(path); err == nil {
		return path, true
	}
	return path, false
}

// Remove deletes the definition; a missing file is not an error.
func Remove(label string) (string, error) {
	path := Path(label)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return path, err
	}
	return path, nil
}

// Hints returns the commands that load, start and stop the service.
func Hints(label, path string) []string {
	if Kind() == "launchd" {
		return []string{
			"Load:   launchctl load -w " + path,
			fmt.Sprintf("Start:  launchctl kickstart gui/$(id -u)/%s", label),
			fmt.Sprintf("Stop:   launchctl bootout gui/$(id -u)/%s", label),
		}
	}
	unit := filepath.Base(path)
	return []string{
		"Load:   systemctl --user daemon-reload && systemctl --user enable " + unit,
		"Start:  systemctl --user start " + unit,
		"Stop:   systemctl --user stop " + unit,
	}
}
