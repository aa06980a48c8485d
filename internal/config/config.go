package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

const (
	defaultStateDirLinux = ".local/state/livecap"
	defaultConfigDir     = ".config/livecap"
	defaultStatusTail    = 10

	// LanguageAuto asks the recognizer to detect the spoken language.
	LanguageAuto = "auto"
	// LanguageNone disables translation when used as the target language.
	LanguageNone = "none"
)

// Config holds user configuration loaded from TOML.
type Config struct {
	Audio struct {
		Source          string `toml:"source"` // device, file
		Device          string `toml:"device"`
		LoopbackDevice  string `toml:"loopback_device"`
		UseMic          bool   `toml:"use_mic"`
		FramesPerBuffer int    `toml:"frames_per_buffer"`
		FilePath        string `toml:"file_path"`
		Realtime        bool   `toml:"realtime"`
	} `toml:"audio"`

	VAD struct {
		Mode             string  `toml:"mode"` // energy, webrtc
		SilenceThreshold float64 `toml:"silence_threshold"`
		SilenceMS        int     `toml:"silence_ms"`
		MinSpeechMS      int     `toml:"min_speech_ms"`
		MaxChunkMS       int     `toml:"max_chunk_ms"`
		Aggressiveness   int     `toml:"aggressiveness"`
	} `toml:"vad"`

	ASR struct {
		BaseURL    string  `toml:"base_url"`
		Model      string  `toml:"model"`
		APIKey     string  `toml:"api_key"`
		TimeoutSec float64 `toml:"timeout_sec"`
	} `toml:"asr"`

	Translate struct {
		BaseURL       string  `toml:"base_url"`
		PrimaryModel  string  `toml:"primary_model"`
		FallbackModel string  `toml:"fallback_model"`
		APIKey        string  `toml:"api_key"`
		TimeoutSec    float64 `toml:"timeout_sec"`
		Temperature   float64 `toml:"temperature"`
		MaxTokens     int     `toml:"max_tokens"`
	} `toml:"translate"`

	Session struct {
		SourceLang string `toml:"source_lang"`
		TargetLang string `toml:"target_lang"`
		AutoStart  bool   `toml:"auto_start"`
	} `toml:"session"`

	Dispatch struct {
		Workers        int    `toml:"workers"`
		QueueSize      int    `toml:"queue_size"`
		Overflow       string `toml:"overflow"` // drop_oldest, drop_newest
		DrainTimeoutMS int    `toml:"drain_timeout_ms"`
	} `toml:"dispatch"`

	Reorder struct {
		GapTimeoutMS int `toml:"gap_timeout_ms"`
	} `toml:"reorder"`

	Server struct {
		Addr             string   `toml:"addr"`
		AllowedOrigins   []string `toml:"allowed_origins"`
		SubscriberBuffer int      `toml:"subscriber_buffer"`
		WriteTimeoutMS   int      `toml:"write_timeout_ms"`
	} `toml:"server"`

	Hook HookConfig `toml:"hook"`

	Logging struct {
		Level  string `toml:"level"`  // debug, info, warn, error
		Format string `toml:"format"` // text, json
		Stdout bool   `toml:"stdout"`
	} `toml:"logging"`

	Paths struct {
		StateDir   string `toml:"state_dir"`
		LogPath    string `toml:"log_path"`
		PidPath    string `toml:"pid_path"`
		ConfigPath string `toml:"-"`
	} `toml:"paths"`

	UI struct {
		StatusTail int `toml:"status_tail"`
	} `toml:"ui"`

	Metrics struct {
		Enabled bool   `toml:"enabled"`
		Addr    string `toml:"addr"`
	} `toml:"metrics"`
}

// Default returns Config populated with defaults.
func Default() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	stateDir := filepath.Join(home, defaultStateDirLinux)
	switch runtime.GOOS {
	case "darwin":
		stateDir = filepath.Join(home, "Library", "Application Support", "livecap")
	case "windows":
		if dir, err := os.UserCacheDir(); err == nil {
			stateDir = filepath.Join(dir, "livecap")
		}
	}

	cfg := &Config{}

	cfg.Audio.Source = "device"
	cfg.Audio.LoopbackDevice = defaultLoopbackHint()
	cfg.Audio.FramesPerBuffer = 1024
	cfg.Audio.Realtime = true

	cfg.VAD.Mode = "energy"
	cfg.VAD.SilenceThreshold = 150
	cfg.VAD.SilenceMS = 330
	cfg.VAD.MinSpeechMS = 400
	cfg.VAD.MaxChunkMS = 2500
	cfg.VAD.Aggressiveness = 2

	cfg.ASR.BaseURL = "http://localhost:9000/v1"
	cfg.ASR.Model = "nvidia/parakeet-1.1b-rnnt-multilingual-asr"
	cfg.ASR.TimeoutSec = 15

	cfg.Translate.BaseURL = "https://integrate.api.nvidia.com/v1"
	cfg.Translate.PrimaryModel = "nvidia/riva-translate-4b-instruct-v1.1"
	cfg.Translate.FallbackModel = "meta/llama-3.1-8b-instruct"
	cfg.Translate.TimeoutSec = 15
	cfg.Translate.Temperature = 0.1
	cfg.Translate.MaxTokens = 512

	cfg.Session.SourceLang = LanguageAuto
	cfg.Session.TargetLang = "en"

	cfg.Dispatch.Workers = 2
	cfg.Dispatch.QueueSize = 32
	cfg.Dispatch.Overflow = "drop_oldest"
	cfg.Dispatch.DrainTimeoutMS = 10000

	cfg.Reorder.GapTimeoutMS = 4000

	cfg.Server.Addr = "0.0.0.0:8765"
	cfg.Server.AllowedOrigins = []string{"*"}
	cfg.Server.SubscriberBuffer = 32
	cfg.Server.WriteTimeoutMS = 2000

	cfg.Hook.Enabled = false
	cfg.Hook.Args = []string{}
	cfg.Hook.CooldownSec = 0
	cfg.Hook.QueueSize = 16
	cfg.Hook.TimeoutSec = 5
	cfg.Hook.Env = map[string]string{}

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"

	cfg.Paths.StateDir = stateDir
	cfg.Paths.LogPath = filepath.Join(stateDir, "livecap.log")
	cfg.Paths.PidPath = filepath.Join(stateDir, "livecap.pid")

	cfg.UI.StatusTail = defaultStatusTail

	cfg.Metrics.Enabled = false
	cfg.Metrics.Addr = "127.0.0.1:9318"

	return cfg, nil
}

func defaultLoopbackHint() string {
	switch runtime.GOOS {
	case "windows":
		return "Stereo Mix"
	case "darwin":
		return "BlackHole"
	default:
		return "Monitor of"
	}
}

// Load loads config from file, applying defaults.
func Load(path string) (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}

	// API keys usually live in a .env next to the binary; a missing file is fine.
	_ = godotenv.Load()

	if path == "" {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, defaultConfigDir, "config.toml")
	}

	// Read if exists; otherwise write template.
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if err := Save(cfg, path); err != nil {
				return nil, err
			}
			cfg.Paths.ConfigPath = path
			applyEnvOverrides(cfg)
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Paths.ConfigPath = path
	applyEnvOverrides(cfg)
	return cfg, nil
}

// Save writes cfg to path.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	out, err := toml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0o600)
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Audio.Source {
	case "device":
	case "file":
		if c.Audio.FilePath == "" {
			return errors.New("audio.file_path is required when audio.source = \"file\"")
		}
	default:
		return fmt.Errorf("audio.source must be device or file (got %q)", c.Audio.Source)
	}
	if c.Audio.FramesPerBuffer <= 0 {
		return fmt.Errorf("audio.frames_per_buffer must be positive (got %d)", c.Audio.FramesPerBuffer)
	}
	switch c.VAD.Mode {
	case "energy", "webrtc":
	default:
		return fmt.Errorf("vad.mode must be energy or webrtc (got %q)", c.VAD.Mode)
	}
	if c.VAD.SilenceThreshold < 0 {
		return fmt.Errorf("vad.silence_threshold must not be negative")
	}
	if c.VAD.SilenceMS <= 0 || c.VAD.MinSpeechMS < 0 || c.VAD.MaxChunkMS <= 0 {
		return errors.New("vad durations must be positive")
	}
	if c.VAD.MinSpeechMS > c.VAD.MaxChunkMS {
		return fmt.Errorf("vad.min_speech_ms (%d) exceeds vad.max_chunk_ms (%d)", c.VAD.MinSpeechMS, c.VAD.MaxChunkMS)
	}
	if c.Dispatch.Workers <= 0 {
		return fmt.Errorf("dispatch.workers must be positive (got %d)", c.Dispatch.Workers)
	}
	if c.Dispatch.QueueSize <= 0 {
		return fmt.Errorf("dispatch.queue_size must be positive (got %d)", c.Dispatch.QueueSize)
	}
	switch c.Dispatch.Overflow {
	case "drop_oldest", "drop_newest":
	default:
		return fmt.Errorf("dispatch.overflow must be drop_oldest or drop_newest (got %q)", c.Dispatch.Overflow)
	}
	if c.Reorder.GapTimeoutMS <= 0 {
		return fmt.Errorf("reorder.gap_timeout_ms must be positive (got %d)", c.Reorder.GapTimeoutMS)
	}
	if c.ASR.BaseURL == "" {
		return errors.New("asr.base_url is not set")
	}
	return nil
}

// MustStatePaths ensures state dirs exist.
func MustStatePaths(cfg *Config) error {
	for _, p := range []string{cfg.Paths.StateDir, filepath.Dir(cfg.Paths.LogPath), filepath.Dir(cfg.Paths.PidPath)} {
		if p == "" {
			continue
		}
		if err := os.MkdirAll(p, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// Millis converts a millisecond setting to a Duration.
func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// Seconds converts a fractional-seconds setting to a Duration.
func Seconds(sec float64) time.Duration {
	return time.Duration(sec * float64(time.Second))
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LIVECAP_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("LIVECAP_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
		cfg.Metrics.Enabled = true
	}
	if v := os.Getenv("LIVECAP_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LIVECAP_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("LIVECAP_SOURCE_LANG"); v != "" {
		cfg.Session.SourceLang = v
	}
	if v := os.Getenv("LIVECAP_TARGET_LANG"); v != "" {
		cfg.Session.TargetLang = v
	}
	if v := os.Getenv("LIVECAP_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Dispatch.Workers = n
		}
	}
	if v := os.Getenv("LIVECAP_USE_MIC"); v != "" {
		cfg.Audio.UseMic = v != "0" && strings.ToLower(v) != "false"
	}
	if v := os.Getenv("NVIDIA_API_KEY"); v != "" {
		if cfg.ASR.APIKey == "" {
			cfg.ASR.APIKey = v
		}
		if cfg.Translate.APIKey == "" {
			cfg.Translate.APIKey = v
		}
	}
}
