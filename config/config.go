// Package config implements global configuration options.
package config

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ahawad/asylo/common/logging"
	"github.com/ahawad/asylo/common/sgx/fake"
)

// EnvPrefix is the prefix of environment variables overriding options.
const EnvPrefix = "FAKE_SGX"

// Option keys, shared by the config file, flags and environment.
const (
	CfgPlatformSeed       = "platform.seed"
	CfgPlatformOwnerEpoch = "platform.owner_epoch"
	CfgLogFile            = "log.file"
	CfgLogFormat          = "log.format"
	CfgLogLevel           = "log.level"
	CfgMetricsEnabled     = "metrics.enabled"
)

// GlobalConfig holds the global configuration options.
var GlobalConfig Config

// Config is the top-level configuration structure.
type Config struct {
	Platform PlatformConfig `yaml:"platform"`
	Log      LogConfig      `yaml:"log,omitempty"`
	Metrics  MetricsConfig  `yaml:"metrics,omitempty"`
}

// PlatformConfig is the emulated platform configuration structure.
type PlatformConfig struct {
	// Seed the root key is derived from. A random root key is used when
	// empty, so keys do not survive the process.
	Seed string `yaml:"seed,omitempty"`
	// Owner epoch as 16 hex encoded bytes.
	OwnerEpoch string `yaml:"owner_epoch,omitempty"`
}

// LogConfig is the logging configuration structure.
type LogConfig struct {
	// Log file.
	File string `yaml:"file,omitempty"`
	// Log format (logfmt, json).
	Format string `yaml:"format,omitempty"`
	// Log level (debug, info, warn, error).
	Level string `yaml:"level,omitempty"`
	// Per module log levels, keyed by module name prefix.
	Modules map[string]string `yaml:"modules,omitempty"`
}

// MetricsConfig is the metrics configuration structure.
type MetricsConfig struct {
	// Enabled collects fake hardware metrics and dumps them on exit.
	Enabled bool `yaml:"enabled,omitempty"`
}

// Validate validates the configuration settings.
func (c *Config) Validate() error {
	if c.Platform.OwnerEpoch != "" {
		var epoch fake.OwnerEpoch
		if err := epoch.UnmarshalText([]byte(c.Platform.OwnerEpoch)); err != nil {
			return fmt.Errorf("platform: %w", err)
		}
	}

	var format logging.Format
	if err := format.Set(c.Log.Format); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	var level logging.Level
	if err := level.Set(c.Log.Level); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	if _, err := logging.ParseModuleLevels(c.Log.Modules); err != nil {
		return fmt.Errorf("log: %w", err)
	}

	return nil
}

// PlatformOptions returns the options configuring the emulated platform. A
// zero owner epoch is the platform default and yields no option, so the
// default configuration yields none.
func (c *Config) PlatformOptions() ([]fake.PlatformOption, error) {
	var opts []fake.PlatformOption
	if c.Platform.Seed != "" {
		opts = append(opts, fake.WithSeed([]byte(c.Platform.Seed)))
	}
	if c.Platform.OwnerEpoch != "" {
		var epoch fake.OwnerEpoch
		if err := epoch.UnmarshalText([]byte(c.Platform.OwnerEpoch)); err != nil {
			return nil, err
		}
		if epoch != (fake.OwnerEpoch{}) {
			opts = append(opts, fake.WithOwnerEpoch(epoch))
		}
	}
	return opts, nil
}

// DefaultConfig returns the default configuration settings.
func DefaultConfig() Config {
	return Config{
		Platform: PlatformConfig{
			Seed:       "",
			OwnerEpoch: hex.EncodeToString(make([]byte, fake.OwnerEpochSize)),
		},
		Log: LogConfig{
			File:   "",
			Format: "logfmt",
			Level:  "warn",
		},
		Metrics: MetricsConfig{
			Enabled: false,
		},
	}
}

// InitConfig initializes the global configuration from the given file,
// which may be empty, and then applies the options explicitly set on v
// through flags or the environment.
func InitConfig(cfgFile string, v *viper.Viper) error {
	cfg := DefaultConfig()

	if cfgFile != "" {
		raw, err := os.ReadFile(cfgFile)
		if err != nil {
			return fmt.Errorf("unable to read config file '%s': %w", cfgFile, err)
		}

		// Report error if any of the fields from the input file are unknown.
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err = dec.Decode(&cfg); err != nil && err != io.EOF {
			return fmt.Errorf("failed to load config file '%s': %w", cfgFile, err)
		}
	}

	if v != nil {
		applyOverrides(&cfg, v)
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	GlobalConfig = cfg
	return nil
}

// BindEnv makes v read overrides from FAKE_SGX_ prefixed environment
// variables, e.g. FAKE_SGX_PLATFORM_SEED for platform.seed.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

func applyOverrides(cfg *Config, v *viper.Viper) {
	for key, dst := range map[string]*string{
		CfgPlatformSeed:       &cfg.Platform.Seed,
		CfgPlatformOwnerEpoch: &cfg.Platform.OwnerEpoch,
		CfgLogFile:            &cfg.Log.File,
		CfgLogFormat:          &cfg.Log.Format,
		CfgLogLevel:           &cfg.Log.Level,
	} {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	if v.IsSet(CfgMetricsEnabled) {
		cfg.Metrics.Enabled = v.GetBool(CfgMetricsEnabled)
	}
}

func init() {
	GlobalConfig = DefaultConfig()
}
