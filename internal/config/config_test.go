package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEnvOverrides(t *testing.T) {
	cfg, err := Default()
	if err != nil {
		t.Fatalf("default: %v", err)
	}
	cfg.Paths.ConfigPath = "/tmp/config" // avoid creation

	t.Setenv("LIVECAP_METRICS_ADDR", "1.2.3.4:9999")
	t.Setenv("LIVECAP_LOG_LEVEL", "debug")
	t.Setenv("LIVECAP_LOG_FORMAT", "json")
	t.Setenv("LIVECAP_TARGET_LANG", "de")
	t.Setenv("LIVECAP_WORKERS", "4")
	t.Setenv("LIVECAP_USE_MIC", "1")
	t.Setenv("NVIDIA_API_KEY", "nvapi-test")

	applyEnvOverrides(cfg)

	if !cfg.Metrics.Enabled || cfg.Metrics.Addr != "1.2.3.4:9999" {
		t.Fatalf("metrics override failed: %+v", cfg.Metrics)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Fatalf("logging overrides failed: %+v", cfg.Logging)
	}
	if cfg.Session.TargetLang != "de" {
		t.Fatalf("target lang override failed: %q", cfg.Session.TargetLang)
	}
	if cfg.Dispatch.Workers != 4 {
		t.Fatalf("workers override failed: %d", cfg.Dispatch.Workers)
	}
	if !cfg.Audio.UseMic {
		t.Fatalf("use mic override failed")
	}
	if cfg.ASR.APIKey != "nvapi-test" || cfg.Translate.APIKey != "nvapi-test" {
		t.Fatalf("api key fill failed: asr=%q translate=%q", cfg.ASR.APIKey, cfg.Translate.APIKey)
	}
}

func TestAPIKeyEnvDoesNotOverrideExplicitKey(t *testing.T) {
	cfg, _ := Default()
	cfg.ASR.APIKey = "from-file"
	t.Setenv("NVIDIA_API_KEY", "from-env")
	applyEnvOverrides(cfg)
	if cfg.ASR.APIKey != "from-file" {
		t.Fatalf("explicit key replaced: %q", cfg.ASR.APIKey)
	}
	if cfg.Translate.APIKey != "from-env" {
		t.Fatalf("empty key not filled: %q", cfg.Translate.APIKey)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/config.toml"

	cfg, err := Default()
	if err != nil {
		t.Fatalf("default: %v", err)
	}
	cfg.Paths.ConfigPath = path
	cfg.Hook.Command = "/bin/echo"
	cfg.VAD.SilenceThreshold = 220

	if err := Save(cfg, path); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Hook.Command != "/bin/echo" {
		t.Fatalf("expected hook command to persist")
	}
	if loaded.VAD.SilenceThreshold != 220 {
		t.Fatalf("silence threshold = %v, want 220", loaded.VAD.SilenceThreshold)
	}
	if loaded.Paths.ConfigPath != path {
		t.Fatalf("config path = %q", loaded.Paths.ConfigPath)
	}

	_ = os.Remove(path)
}

func TestLoadWritesTemplateWhenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("template not written: %v", err)
	}
	if cfg.Dispatch.Workers != 2 {
		t.Fatalf("default workers = %d", cfg.Dispatch.Workers)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"unknown source", func(c *Config) { c.Audio.Source = "radio" }, true},
		{"file without path", func(c *Config) { c.Audio.Source = "file" }, true},
		{"file with path", func(c *Config) { c.Audio.Source = "file"; c.Audio.FilePath = "a.wav" }, false},
		{"bad vad mode", func(c *Config) { c.VAD.Mode = "silero" }, true},
		{"min speech above cap", func(c *Config) { c.VAD.MinSpeechMS = 3000 }, true},
		{"zero workers", func(c *Config) { c.Dispatch.Workers = 0 }, true},
		{"bad overflow", func(c *Config) { c.Dispatch.Overflow = "block" }, true},
		{"zero gap timeout", func(c *Config) { c.Reorder.GapTimeoutMS = 0 }, true},
	}
	for _, tc := range cases {
		cfg, _ := Default()
		tc.mutate(cfg)
		err := cfg.Validate()
		if (err != nil) != tc.wantErr {
			t.Fatalf("%s: Validate() err=%v wantErr=%v", tc.name, err, tc.wantErr)
		}
	}
}
