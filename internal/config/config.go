package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Duration is a wrapper around time.Duration that can be marshaled to/from JSON
type Duration time.Duration

// MarshalJSON implements json.Marshaler interface
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler interface
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration format: %w", err)
	}

	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// ServerConfig locates the media server and its two client ports.
type ServerConfig struct {
	Host     string `json:"host" mapstructure:"host"`
	RPCPort  int    `json:"rpc_port" mapstructure:"rpc_port"`
	CLIPort  int    `json:"cli_port" mapstructure:"cli_port"`
	Username string `json:"username,omitempty" mapstructure:"username"`
	Password string `json:"password,omitempty" mapstructure:"password"`
}

// PlayerConfig identifies the monitored player.
type PlayerConfig struct {
	ID   string `json:"id" mapstructure:"id"`
	Name string `json:"name,omitempty" mapstructure:"name"`
}

// MonitorConfig tunes the refresh machinery. Zero values fall back to the
// contract defaults from timeouts.go.
type MonitorConfig struct {
	DebounceWindow Duration `json:"debounce_window,omitempty" mapstructure:"debounce_window"`
	PollInterval   Duration `json:"poll_interval,omitempty" mapstructure:"poll_interval"`
}

// LogConfig controls logging output.
type LogConfig struct {
	Level      string `json:"level" mapstructure:"level"`
	ToFile     bool   `json:"to_file" mapstructure:"to_file"`
	Filename   string `json:"filename,omitempty" mapstructure:"filename"`
	MaxSizeMB  int    `json:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `json:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `json:"compress" mapstructure:"compress"`
}

// Config represents the main configuration structure
type Config struct {
	Server  ServerConfig  `json:"server" mapstructure:"server"`
	Player  PlayerConfig  `json:"player" mapstructure:"player"`
	Monitor MonitorConfig `json:"monitor,omitempty" mapstructure:"monitor"`

	// Listen address for the WebSocket status bridge. Empty disables it.
	Listen string `json:"listen,omitempty" mapstructure:"listen"`

	Logging *LogConfig `json:"logging,omitempty" mapstructure:"logging"`
}

// DefaultConfig returns a configuration with all defaults applied.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:    "localhost",
			RPCPort: 9000,
			CLIPort: 9090,
		},
		Monitor: MonitorConfig{
			DebounceWindow: Duration(DefaultDebounceWindow),
			PollInterval:   Duration(DefaultPollInterval),
		},
		Logging: &LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 30,
		},
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Server.Host == "" {
		return fmt.Errorf("server.host is required")
	}
	if c.Player.ID == "" {
		return fmt.Errorf("player.id is required")
	}
	if c.Server.RPCPort <= 0 || c.Server.RPCPort > 65535 {
		return fmt.Errorf("server.rpc_port out of range: %d", c.Server.RPCPort)
	}
	if c.Server.CLIPort <= 0 || c.Server.CLIPort > 65535 {
		return fmt.Errorf("server.cli_port out of range: %d", c.Server.CLIPort)
	}
	return nil
}

// DebounceWindow returns the configured debounce window or the default.
func (c *Config) DebounceWindow() time.Duration {
	if d := c.Monitor.DebounceWindow.Duration(); d > 0 {
		return d
	}
	return DefaultDebounceWindow
}

// PollInterval returns the configured poll interval or the default.
func (c *Config) PollInterval() time.Duration {
	if d := c.Monitor.PollInterval.Duration(); d > 0 {
		return d
	}
	return DefaultPollInterval
}

// LoadFromFile loads configuration from a JSON file, layering file values and
// SLIMMON_* environment variables over the defaults.
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	v.SetEnvPrefix("SLIMMON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if os.IsNotExist(err) {
			// Missing file is fine, defaults plus env apply.
			cfg := &Config{}
			if uerr := v.Unmarshal(cfg, viper.DecodeHook(decodeHook())); uerr != nil {
				return nil, fmt.Errorf("failed to unmarshal config: %w", uerr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg, viper.DecodeHook(decodeHook())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	normalize(cfg)
	return cfg, nil
}

// decodeHook extends viper's default hooks so Duration fields accept the
// "200ms" string form used in config files.
func decodeHook() mapstructure.DecodeHookFunc {
	durationHook := func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			d, err := time.ParseDuration(v)
			if err != nil {
				return nil, fmt.Errorf("invalid duration format: %w", err)
			}
			return Duration(d), nil
		case float64:
			return Duration(time.Duration(v)), nil
		case int64:
			return Duration(v), nil
		default:
			return data, nil
		}
	}
	return mapstructure.ComposeDecodeHookFunc(
		durationHook,
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

func setDefaults(v *viper.Viper) {
	def := DefaultConfig()
	v.SetDefault("server.host", def.Server.Host)
	v.SetDefault("server.rpc_port", def.Server.RPCPort)
	v.SetDefault("server.cli_port", def.Server.CLIPort)
	v.SetDefault("logging.level", def.Logging.Level)
	v.SetDefault("logging.max_size_mb", def.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", def.Logging.MaxBackups)
	v.SetDefault("logging.max_age_days", def.Logging.MaxAgeDays)
}

func normalize(cfg *Config) {
	if cfg.Logging == nil {
		cfg.Logging = DefaultConfig().Logging
	}
	if cfg.Logging.Filename == "" && cfg.Logging.ToFile {
		cfg.Logging.Filename = filepath.Join(".", "slimmon.log")
	}
}

// SaveToFile writes the configuration as indented JSON.
func SaveToFile(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
