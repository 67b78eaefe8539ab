// Package config loads the monitor's YAML configuration file. Secrets can be
// supplied or overridden through the environment so the file itself can be
// committed.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vol-libre/guardian-angel/pkg/flight"
	"github.com/vol-libre/guardian-angel/pkg/monitor"
	"github.com/vol-libre/guardian-angel/pkg/telemetry"
)

// Environment overrides for secrets.
const (
	EnvDiscordToken = "GUARDIAN_DISCORD_TOKEN"
	EnvDatabaseURL  = "GUARDIAN_DATABASE_URL"
	EnvNATSURL      = "GUARDIAN_NATS_URL"
)

// Duration wraps time.Duration so YAML can carry values like "15s" or "5m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration.
type Config struct {
	LogLevel string `yaml:"log_level"`
	HTTPAddr string `yaml:"http_addr"`

	Monitor    MonitorConfig     `yaml:"monitor"`
	Thresholds flight.Thresholds `yaml:"thresholds"`
	Telemetry  TelemetryConfig   `yaml:"telemetry"`
	Database   DatabaseConfig    `yaml:"database"`
	Discord    DiscordConfig     `yaml:"discord"`
	NATS       NATSConfig        `yaml:"nats"`
	Pilots     []PilotConfig     `yaml:"pilots"`
}

// MonitorConfig tunes the polling loop and the confirmation workflow.
type MonitorConfig struct {
	Period          Duration `yaml:"period"`
	AveragingWindow Duration `yaml:"averaging_window"`
	Retention       Duration `yaml:"retention"`
	ConfirmTimeout  Duration `yaml:"confirm_timeout"`
	StaleAfter      Duration `yaml:"stale_after"`
}

// TelemetryConfig points at the tracking source. Group names the tracking
// site group included in prompt map links so responders see the whole club.
type TelemetryConfig struct {
	BaseURL string   `yaml:"base_url"`
	Group   string   `yaml:"group"`
	Limit   int      `yaml:"limit"`
	Timeout Duration `yaml:"timeout"`
}

// DatabaseConfig selects the history store. An empty URL keeps history in
// memory, which is fine for a single-process deployment without restarts.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// DiscordConfig configures the notification channel.
type DiscordConfig struct {
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
}

// NATSConfig configures the optional event mirror. Empty URL disables it.
type NATSConfig struct {
	URL string `yaml:"url"`
}

// PilotConfig describes one monitored pilot.
type PilotConfig struct {
	Key       string `yaml:"key"`
	Name      string `yaml:"name"`
	DiscordID string `yaml:"discord_id"`
	Phone     string `yaml:"phone"`
	Email     string `yaml:"email"`
}

// Load reads, overrides and validates the configuration at path.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}

	cfg, err := Parse(raw)
	if err != nil {
		return Config{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes, applies environment overrides and defaults, and validates.
func Parse(raw []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, err
	}

	if v := os.Getenv(EnvDiscordToken); v != "" {
		cfg.Discord.BotToken = v
	}
	if v := os.Getenv(EnvDatabaseURL); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv(EnvNATSURL); v != "" {
		cfg.NATS.URL = v
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8080"
	}
	if c.Monitor.Period <= 0 {
		c.Monitor.Period = Duration(monitor.DefaultPeriod)
	}
	if c.Monitor.AveragingWindow <= 0 {
		c.Monitor.AveragingWindow = Duration(monitor.DefaultAveragingWindow)
	}
	if c.Monitor.Retention <= 0 {
		c.Monitor.Retention = Duration(monitor.DefaultRetention)
	}
	if c.Monitor.ConfirmTimeout <= 0 {
		c.Monitor.ConfirmTimeout = Duration(flight.DefaultTimeout)
	}
	if c.Monitor.StaleAfter <= 0 {
		c.Monitor.StaleAfter = Duration(flight.DefaultStaleAfter)
	}
	if c.Thresholds == (flight.Thresholds{}) {
		c.Thresholds = flight.DefaultThresholds()
	}
	if c.Telemetry.BaseURL == "" {
		c.Telemetry.BaseURL = telemetry.DefaultBaseURL
	}
	if c.Telemetry.Limit <= 0 {
		c.Telemetry.Limit = 100
	}
	if c.Telemetry.Timeout <= 0 {
		c.Telemetry.Timeout = Duration(10 * time.Second)
	}
}

func (c *Config) validate() error {
	if c.Discord.BotToken == "" {
		return fmt.Errorf("discord.bot_token is required (or set %s)", EnvDiscordToken)
	}
	if c.Discord.ChannelID == "" {
		return fmt.Errorf("discord.channel_id is required")
	}

	seen := make(map[string]struct{}, len(c.Pilots))
	for i, p := range c.Pilots {
		if p.Key == "" {
			return fmt.Errorf("pilots[%d]: key is required", i)
		}
		if _, dup := seen[p.Key]; dup {
			return fmt.Errorf("pilots[%d]: duplicate key %q", i, p.Key)
		}
		seen[p.Key] = struct{}{}
	}
	return nil
}
