package config

// HookConfig defines the optional command run for every final caption.
type HookConfig struct {
	Enabled     bool              `toml:"enabled"`
	Command     string            `toml:"command"`
	Args        []string          `toml:"args"`
	ArgLine     string            `toml:"arg_line"` // shell-style alternative to args
	Prefix      string            `toml:"prefix"`
	CooldownSec float64           `toml:"cooldown_sec"`
	MinChars    int               `toml:"min_chars"`
	QueueSize   int               `toml:"queue_size"`
	TimeoutSec  float64           `toml:"timeout_sec"`
	Env         map[string]string `toml:"env"`
	RedactPII   bool              `toml:"redact_pii"`
}
