package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// ChannelPrefix is the required prefix of every channel URL. Only the public
// preview pages ("t.me/s/<handle>") expose posts without authentication.
const ChannelPrefix = "https://t.me/s/"

// MinPollInterval is the lowest accepted poll interval, in seconds.
const MinPollInterval = 3

const (
	DefaultPort         = 4101
	DefaultDBPath       = "data/litehook.db"
	DefaultPollInterval = 600
)

// FailureMode controls what a listener does when a poll cycle fails
// (fetch error, unrecognizable page, store error).
type FailureMode string

const (
	// FailureExit terminates the worker on a failed cycle. The listener row
	// stays in the store; an operator removes and re-adds it to restart.
	FailureExit FailureMode = "exit"

	// FailureContinue logs the failure and keeps polling.
	FailureContinue FailureMode = "continue"
)

// Config is the service configuration. Values come from an optional TOML
// file, overridden by environment variables (a .env file is honored).
type Config struct {
	Port   int    `toml:"port"`
	DBPath string `toml:"db_path"`

	// Channels pre-seeds listeners on first boot (empty listeners table).
	// Entries may be bare handles or full preview URLs.
	Channels []string `toml:"channels"`

	Global GlobalConfig `toml:"global"`
}

// GlobalConfig holds the defaults a listener inherits for every optional
// field it leaves unset. It is mutable at runtime and broadcast to live
// workers on change.
type GlobalConfig struct {
	PollInterval  int64       `toml:"poll_interval" json:"poll_interval"`
	WebhookURL    string      `toml:"webhook_url" json:"webhook_url"`
	WebhookSecret string      `toml:"webhook_secret" json:"webhook_secret"`
	ProxyListURL  string      `toml:"proxy_list_url" json:"proxy_list_url"`
	FailureMode   FailureMode `toml:"failure_mode" json:"failure_mode"`
}

// ListenerConfig is one listener's configuration as accepted by the control
// plane. Zero-valued optional fields inherit from GlobalConfig at merge time.
type ListenerConfig struct {
	ID            string      `json:"id"`
	ChannelURL    string      `json:"channel_url"`
	PollInterval  int64       `json:"poll_interval_seconds"`
	WebhookURL    string      `json:"webhook_url,omitempty"`
	WebhookSecret string      `json:"webhook_secret,omitempty"`
	ProxyListURL  string      `json:"proxy_list_url,omitempty"`
	FailureMode   FailureMode `json:"failure_mode,omitempty"`
}

// Load reads the configuration. The TOML file at configPath is optional;
// environment variables (including a .env file in the working directory)
// override anything it sets.
func Load(configPath string) (*Config, error) {
	// Missing .env is fine.
	_ = godotenv.Load()

	cfg := &Config{
		Port:   DefaultPort,
		DBPath: DefaultDBPath,
		Global: GlobalConfig{
			PollInterval: DefaultPollInterval,
			FailureMode:  FailureExit,
		},
	}

	if configPath != "" {
		if data, err := os.ReadFile(configPath); err == nil {
			if err := toml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("unmarshaling config file %s: %w", configPath, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config file %s: %w", configPath, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if cfg.Global.PollInterval < MinPollInterval {
		return nil, fmt.Errorf("poll interval %d below minimum %d", cfg.Global.PollInterval, MinPollInterval)
	}
	if cfg.Global.FailureMode == "" {
		cfg.Global.FailureMode = FailureExit
	}
	if cfg.Global.FailureMode != FailureExit && cfg.Global.FailureMode != FailureContinue {
		return nil, fmt.Errorf("unknown failure mode %q", cfg.Global.FailureMode)
	}
	if len(cfg.Channels) > 0 && cfg.Global.WebhookURL == "" {
		return nil, fmt.Errorf("CHANNELS requires WEBHOOK_URL to be set")
	}

	cfg.Channels = ExpandChannels(cfg.Channels)

	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing PORT: %w", err)
		}
		cfg.Port = port
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("POLL_INTERVAL"); v != "" {
		interval, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("parsing POLL_INTERVAL: %w", err)
		}
		cfg.Global.PollInterval = interval
	}
	if v := os.Getenv("WEBHOOK_URL"); v != "" {
		cfg.Global.WebhookURL = v
	}
	if v := os.Getenv("WEBHOOK_SECRET"); v != "" {
		cfg.Global.WebhookSecret = v
	}
	if v := os.Getenv("PROXY_LIST_URL"); v != "" {
		cfg.Global.ProxyListURL = v
	}
	if v := os.Getenv("POLL_FAILURE_MODE"); v != "" {
		cfg.Global.FailureMode = FailureMode(v)
	}
	if v := os.Getenv("CHANNELS"); v != "" {
		cfg.Channels = strings.Split(v, ",")
	}
	return nil
}

// ExpandChannels trims entries, drops empty ones and expands bare handles to
// full public preview URLs.
func ExpandChannels(raw []string) []string {
	var channels []string
	for _, c := range raw {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if !strings.HasPrefix(c, "https://") {
			c = ChannelPrefix + c
		}
		channels = append(channels, c)
	}
	return channels
}

// Merge computes the effective listener configuration: for each optional
// field, the per-listener value if set, else the global default.
func (lc ListenerConfig) Merge(g GlobalConfig) ListenerConfig {
	out := lc
	if out.PollInterval == 0 {
		out.PollInterval = g.PollInterval
	}
	if out.WebhookURL == "" {
		out.WebhookURL = g.WebhookURL
	}
	if out.WebhookSecret == "" {
		out.WebhookSecret = g.WebhookSecret
	}
	if out.ProxyListURL == "" {
		out.ProxyListURL = g.ProxyListURL
	}
	if out.FailureMode == "" {
		out.FailureMode = g.FailureMode
	}
	if out.FailureMode == "" {
		out.FailureMode = FailureExit
	}
	return out
}

// Validate checks the per-listener fields that do not depend on merging.
func (lc ListenerConfig) Validate() error {
	if !strings.HasPrefix(lc.ChannelURL, ChannelPrefix) {
		return fmt.Errorf("channel url %q must start with %s", lc.ChannelURL, ChannelPrefix)
	}
	if lc.PollInterval != 0 && lc.PollInterval < MinPollInterval {
		return fmt.Errorf("poll interval %d below minimum %d", lc.PollInterval, MinPollInterval)
	}
	if lc.WebhookURL != "" {
		if err := validateURL(lc.WebhookURL); err != nil {
			return fmt.Errorf("webhook url: %w", err)
		}
	}
	if lc.FailureMode != "" && lc.FailureMode != FailureExit && lc.FailureMode != FailureContinue {
		return fmt.Errorf("unknown failure mode %q", lc.FailureMode)
	}
	return nil
}

// ValidateEffective checks the invariants every worker relies on: a usable
// webhook URL and an interval at or above the floor. It must be called on a
// merged configuration before a worker observes it. Control-plane checks
// (channel URL prefix) live in Validate.
func (lc ListenerConfig) ValidateEffective() error {
	if lc.WebhookURL == "" {
		return fmt.Errorf("no webhook url configured for listener %s", lc.ID)
	}
	if err := validateURL(lc.WebhookURL); err != nil {
		return fmt.Errorf("webhook url: %w", err)
	}
	if lc.PollInterval < MinPollInterval {
		return fmt.Errorf("poll interval %d below minimum %d", lc.PollInterval, MinPollInterval)
	}
	if lc.FailureMode != FailureExit && lc.FailureMode != FailureContinue {
		return fmt.Errorf("unknown failure mode %q", lc.FailureMode)
	}
	return nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host in %q", raw)
	}
	return nil
}
