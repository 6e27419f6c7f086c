// Package config loads tally's configuration with Viper from .tally.yml,
// TALLY_ environment variables and command-line flags.
//
// Every key has a default registered through SetDefaults, so each one can
// be overridden from the environment, for example TALLY_SERVER_PORT or
// TALLY_LEDGER_DB_PATH.
package config

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/spf13/viper"

	"github.com/conneroisu/tally/internal/errors"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TALLY"

type Config struct {
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Runtime RuntimeConfig `yaml:"runtime" mapstructure:"runtime"`
	Ledger  LedgerConfig  `yaml:"ledger" mapstructure:"ledger"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

type ServerConfig struct {
	Host string `yaml:"host" mapstructure:"host"`
	Port int    `yaml:"port" mapstructure:"port"`
	// AllowedOrigins lists the browser origins that may open the live
	// connection. Empty means the server's own address.
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	// EventRate is the number of events one browser may send per second.
	// 0 disables the limit.
	EventRate       int           `yaml:"event_rate" mapstructure:"event_rate"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

type RuntimeConfig struct {
	FrameInterval time.Duration `yaml:"frame_interval" mapstructure:"frame_interval"`
}

type LedgerConfig struct {
	DBPath     string        `yaml:"db_path" mapstructure:"db_path"`
	ImportPath string        `yaml:"import_path" mapstructure:"import_path"`
	Currency   string        `yaml:"currency" mapstructure:"currency"`
	Locale     string        `yaml:"locale" mapstructure:"locale"`
	Debounce   time.Duration `yaml:"debounce" mapstructure:"debounce"`
}

type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8080,
			EventRate:       50,
			ShutdownTimeout: 5 * time.Second,
		},
		Runtime: RuntimeConfig{FrameInterval: 16 * time.Millisecond},
		Ledger: LedgerConfig{
			DBPath:   "tally.db",
			Currency: "USD",
			Locale:   "en-US",
			Debounce: 100 * time.Millisecond,
		},
		Log: LogConfig{Level: "info", Format: "auto"},
	}
}

// SetDefaults registers every key with its default value.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.event_rate", d.Server.EventRate)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("runtime.frame_interval", d.Runtime.FrameInterval)
	v.SetDefault("ledger.db_path", d.Ledger.DBPath)
	v.SetDefault("ledger.import_path", "")
	v.SetDefault("ledger.currency", d.Ledger.Currency)
	v.SetDefault("ledger.locale", d.Ledger.Locale)
	v.SetDefault("ledger.debounce", d.Ledger.Debounce)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// Load reads the configuration from the global Viper instance.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads and validates the configuration held by v.
func LoadFrom(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.WrapConfig(err, errors.ErrCodeConfigInvalid, "cannot read configuration")
	}

	// Comma separated lists from the environment arrive as one string.
	if v.IsSet("server.allowed_origins") && len(config.Server.AllowedOrigins) == 0 {
		config.Server.AllowedOrigins = v.GetStringSlice("server.allowed_origins")
	}

	applyDefaults(&config)

	result := ValidateConfigWithDetails(&config)
	if result.HasErrors() {
		first := result.Errors[0]
		return nil, errors.WrapConfig(&first, errors.ErrCodeConfigInvalid,
			fmt.Sprintf("invalid configuration (%d problems)", len(result.Errors)))
	}
	return &config, nil
}

// applyDefaults fills fields left at their zero value.
func applyDefaults(config *Config) {
	d := Default()
	if config.Server.Host == "" {
		config.Server.Host = d.Server.Host
	}
	if config.Server.ShutdownTimeout == 0 {
		config.Server.ShutdownTimeout = d.Server.ShutdownTimeout
	}
	if len(config.Server.AllowedOrigins) == 0 {
		config.Server.AllowedOrigins = []string{config.Server.Origin()}
	}
	if config.Runtime.FrameInterval == 0 {
		config.Runtime.FrameInterval = d.Runtime.FrameInterval
	}
	if config.Ledger.DBPath == "" {
		config.Ledger.DBPath = d.Ledger.DBPath
	}
	if config.Ledger.Currency == "" {
		config.Ledger.Currency = d.Ledger.Currency
	}
	if config.Ledger.Locale == "" {
		config.Ledger.Locale = d.Ledger.Locale
	}
	if config.Ledger.Debounce == 0 {
		config.Ledger.Debounce = d.Ledger.Debounce
	}
	if config.Log.Level == "" {
		config.Log.Level = d.Log.Level
	}
	if config.Log.Format == "" {
		config.Log.Format = d.Log.Format
	}
}

// Address is the listen address.
func (s ServerConfig) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// Origin is the browser origin of the server itself.
func (s ServerConfig) Origin() string {
	return "http://" + s.Address()
}
