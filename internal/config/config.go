package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

// Config is the full panel configuration.
//
// All durations are Go duration strings (e.g. "100ms", "30s", "1m").
type Config struct {
	Telegram  TelegramConfig   `yaml:"telegram"`
	Broadcast BroadcastConfig  `yaml:"broadcast"`
	Server    ServerConfig     `yaml:"server"`
	Storage   StorageConfig    `yaml:"storage"`
	Logging   LoggingConfig    `yaml:"logging"`
	Notifier  *NotifierConfig  `yaml:"notifier,omitempty"`
	Autopilot *AutopilotConfig `yaml:"autopilot,omitempty"`
}

// TelegramConfig carries the MTProto application identity and the
// session artifact location. APIID/APIHash identify the application,
// not an account; they are supplied once at process start.
type TelegramConfig struct {
	APIID   int    `yaml:"api_id"`
	APIHash string `yaml:"api_hash"`

	// SessionDir holds locally cached session artifacts for accounts
	// created without a stored credential token.
	SessionDir string `yaml:"session_dir"`

	// ConnectTimeout bounds transport establishment.
	ConnectTimeout string `yaml:"connect_timeout,omitempty"`

	// DialogTimeout is the hard wall-clock budget for dialog listing.
	DialogTimeout string `yaml:"dialog_timeout,omitempty"`

	// DialogLimit caps how many dialogs a single listing returns.
	DialogLimit int `yaml:"dialog_limit,omitempty"`
}

// BroadcastConfig tunes the fan-out engine.
//
// Defaults (when fields are omitted/zero):
//   - max_concurrent: 10
//   - send_delay: "100ms"
type BroadcastConfig struct {
	MaxConcurrent int    `yaml:"max_concurrent,omitempty"`
	SendDelay     string `yaml:"send_delay,omitempty"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`

	// AuthRatePerMin limits auth endpoint calls per client IP.
	AuthRatePerMin int `yaml:"auth_rate_per_min,omitempty"`
}

type StorageConfig struct {
	Path        string `yaml:"path"`
	BusyTimeout string `yaml:"busy_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `yaml:"level"`
	Console bool        `yaml:"console"`
	File    LoggingFile `yaml:"file"`
}

type LoggingFile struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// NotifierConfig controls the optional operator notification bot.
type NotifierConfig struct {
	Enabled    bool   `yaml:"enabled"`
	BotToken   string `yaml:"bot_token"`
	ChatID     int64  `yaml:"chat_id"`
	RatePerSec int    `yaml:"rate_per_sec,omitempty"`
	QueueSize  int    `yaml:"queue_size,omitempty"`
}

// AutopilotConfig controls scheduled automatic broadcasts.
type AutopilotConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Timezone string `yaml:"timezone,omitempty"`

	// DefaultSchedule is the cron spec used for accounts that have no
	// per-account schedule stored.
	DefaultSchedule string `yaml:"default_schedule,omitempty"`

	// SendDelay is how far in the future an automatic broadcast is
	// scheduled relative to its trigger time.
	SendDelay string `yaml:"send_delay,omitempty"`

	// RefreshInterval is how often per-account schedules are re-read
	// from the settings store.
	RefreshInterval string `yaml:"refresh_interval,omitempty"`
}

const (
	DefaultMaxConcurrent = 10
	DefaultSendDelay     = 100 * time.Millisecond
	DefaultDialogTimeout = 30 * time.Second
	DefaultDialogLimit   = 200
)

// Parse decodes a config document, rejecting unknown fields so typos
// are caught at load time rather than silently ignored.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFile reads and parses the config at path.
func LoadFile(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

func (c *Config) Validate() error {
	if c.Telegram.APIID <= 0 {
		return errors.New("config: telegram.api_id is required")
	}
	if strings.TrimSpace(c.Telegram.APIHash) == "" {
		return errors.New("config: telegram.api_hash is required")
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		return errors.New("config: storage.path is required")
	}
	if c.Broadcast.MaxConcurrent < 0 {
		return errors.New("config: broadcast.max_concurrent must be >= 0")
	}
	for _, f := range []struct{ path, raw string }{
		{"telegram.connect_timeout", c.Telegram.ConnectTimeout},
		{"telegram.dialog_timeout", c.Telegram.DialogTimeout},
		{"broadcast.send_delay", c.Broadcast.SendDelay},
		{"storage.busy_timeout", c.Storage.BusyTimeout},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	if a := c.Autopilot; a != nil {
		if _, err := ParseDurationField("autopilot.send_delay", a.SendDelay); err != nil {
			return err
		}
		if _, err := ParseDurationField("autopilot.refresh_interval", a.RefreshInterval); err != nil {
			return err
		}
	}
	return nil
}

// MaxConcurrent returns the effective concurrent-send cap.
func (b BroadcastConfig) MaxConcurrentOrDefault() int {
	if b.MaxConcurrent <= 0 {
		return DefaultMaxConcurrent
	}
	return b.MaxConcurrent
}

// SendDelayOrDefault returns the effective inter-send pacing interval.
func (b BroadcastConfig) SendDelayOrDefault() time.Duration {
	d, err := ParseDurationOrDefault("broadcast.send_delay", b.SendDelay, DefaultSendDelay)
	if err != nil {
		return DefaultSendDelay
	}
	return d
}

func (t TelegramConfig) DialogTimeoutOrDefault() time.Duration {
	d, err := ParseDurationOrDefault("telegram.dialog_timeout", t.DialogTimeout, DefaultDialogTimeout)
	if err != nil {
		return DefaultDialogTimeout
	}
	return d
}

func (t TelegramConfig) DialogLimitOrDefault() int {
	if t.DialogLimit <= 0 {
		return DefaultDialogLimit
	}
	return t.DialogLimit
}

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
