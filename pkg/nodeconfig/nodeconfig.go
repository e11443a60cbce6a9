// Package nodeconfig loads the YAML-backed configuration for a transport
// core deployment with viper: defaults seeded into viper, then overridden
// by a config file and by CYPHAL_-prefixed environment variables.
package nodeconfig

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is the root configuration for one node process.
type Config struct {
	NodeID          uint16         `mapstructure:"node_id"`
	TxSendTimeoutMS int            `mapstructure:"tx_send_timeout_ms"`
	Memory          MemoryConfig   `mapstructure:"memory"`
	Media           []MediumConfig `mapstructure:"media"`
	Log             LogConfig      `mapstructure:"log"`
}

// MemoryConfig is the embedder-supplied MemoryResourcesSpec: a byte ceiling
// per allocator category. Zero means "alias General" for the three
// non-general categories, and "unbounded" for General itself.
type MemoryConfig struct {
	GeneralBytes  uint64 `mapstructure:"general_bytes"`
	SessionBytes  uint64 `mapstructure:"session_bytes"`
	FragmentBytes uint64 `mapstructure:"fragment_bytes"`
	PayloadBytes  uint64 `mapstructure:"payload_bytes"`
}

// MediumConfig describes one redundant interface. Kind "udp" is the only
// concrete medium this module ships; "can" is accepted as a configuration
// value (so a deployment can name a CAN interface in its topology) but is
// rejected with an ArgumentError at construction time, since no CAN socket
// adapter is in scope.
type MediumConfig struct {
	Kind       string `mapstructure:"kind"`
	Bind       string `mapstructure:"bind"`
	TxCapacity int    `mapstructure:"tx_capacity"`
	DSCP       uint8  `mapstructure:"dscp"`
}

// LogConfig selects the level, encoding, outputs, and rotation of the
// process-wide logger built by pkg/obs.
type LogConfig struct {
	Level       string         `mapstructure:"level"`
	Format      string         `mapstructure:"format"`
	Outputs     []string       `mapstructure:"outputs"`
	Rotation    RotationConfig `mapstructure:"rotation"`
	Development bool           `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Default returns a Config populated with sensible defaults: one UDP
// medium bound to all interfaces, an unbounded general memory budget, and
// console logging to stdout.
func Default() *Config {
	return &Config{
		NodeID:          0xFFFF,
		TxSendTimeoutMS: 1000,
		Memory:          MemoryConfig{},
		Media: []MediumConfig{
			{Kind: "udp", Bind: "", TxCapacity: 64, DSCP: 0},
		},
		Log: LogConfig{
			Level:       "info",
			Format:      "console",
			Outputs:     []string{"stdout"},
			Development: true,
			Rotation: RotationConfig{
				Enable:     false,
				Filename:   "logs/cyphal-node.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
	}
}

// Load reads configuration from path if non-empty, otherwise searches
// common locations (".", "./configs", "$HOME/.cyphal") for a file named
// "cyphal". Environment variables use the CYPHAL_ prefix with "." and "-"
// replaced by "_", e.g. CYPHAL_LOG_LEVEL=debug.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("CYPHAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("node_id", cfg.NodeID)
	v.SetDefault("tx_send_timeout_ms", cfg.TxSendTimeoutMS)
	v.SetDefault("memory.general_bytes", cfg.Memory.GeneralBytes)
	v.SetDefault("memory.session_bytes", cfg.Memory.SessionBytes)
	v.SetDefault("memory.fragment_bytes", cfg.Memory.FragmentBytes)
	v.SetDefault("memory.payload_bytes", cfg.Memory.PayloadBytes)
	v.SetDefault("media", cfg.Media)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)

	if path == "" {
		if envPath := os.Getenv("CYPHAL_CONFIG"); envPath != "" {
			path = envPath
		}
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("cyphal")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".cyphal"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	lvl := strings.ToLower(strings.TrimSpace(c.Log.Level))
	switch lvl {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stdout"}
	}
	if len(c.Media) == 0 {
		return errors.New("at least one medium must be configured")
	}
	for i := range c.Media {
		c.Media[i].Kind = strings.ToLower(strings.TrimSpace(c.Media[i].Kind))
		switch c.Media[i].Kind {
		case "udp", "can":
		default:
			return fmt.Errorf("media[%d]: unknown kind %q", i, c.Media[i].Kind)
		}
	}
	return nil
}

// MustLoad is a convenience that panics on error, for use in a
// demonstrator binary's flag-parsing path where a config error is fatal
// anyway.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}
