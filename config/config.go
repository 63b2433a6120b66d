// Package config loads peerlink settings with viper. Values come from, in
// increasing precedence: built-in defaults, an optional .env-format file,
// PEERLINK_* environment variables and bound command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/opd-ai/peerlink/crypto"
	"github.com/opd-ai/peerlink/nat"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "PEERLINK"

// DefaultEnvFile is read from the working directory when Load is given no
// explicit file and it exists.
const DefaultEnvFile = ".env"

// Setting keys. Environment variables are the upper-cased key with the
// PEERLINK_ prefix, e.g. PEERLINK_KEY_DIR.
const (
	KeyKeyDir          = "key_dir"
	KeyKeyCacheSize    = "key_cache_size"
	KeySTUNServersFile = "stun_servers_file"
	KeySTUNProbeCount  = "stun_probe_count"
	KeySTUNTimeout     = "stun_timeout"
	KeySTUNProbeRate   = "stun_probe_rate"
	KeyLogLevel        = "log_level"
	KeyMetricsAddr     = "metrics_addr"
	KeyAcceptRate      = "accept_rate"
	KeyAcceptBurst     = "accept_burst"
)

// ephemeralKeyDir selects in-memory keys when used as key_dir.
const ephemeralKeyDir = "ephemeral"

// Config holds resolved settings.
type Config struct {
	// KeyDir holds the identity key files. Empty or "ephemeral" keeps keys
	// in memory only.
	KeyDir       string
	KeyCacheSize int

	// STUNServersFile is a YAML server list. Empty uses the built-in list.
	// STUNProbeRate caps binding requests per second; zero sends them all
	// at once.
	STUNServersFile string
	STUNProbeCount  int
	STUNTimeout     time.Duration
	STUNProbeRate   float64

	LogLevel    string
	MetricsAddr string

	AcceptRate  float64
	AcceptBurst int
}

// Defaults returns the built-in settings.
func Defaults() Config {
	return Config{
		KeyCacheSize: 64,
		STUNTimeout:  nat.DefaultProbeTimeout,
		LogLevel:     "info",
		AcceptBurst:  16,
	}
}

func setDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault(KeyKeyDir, d.KeyDir)
	v.SetDefault(KeyKeyCacheSize, d.KeyCacheSize)
	v.SetDefault(KeySTUNServersFile, d.STUNServersFile)
	v.SetDefault(KeySTUNProbeCount, d.STUNProbeCount)
	v.SetDefault(KeySTUNTimeout, d.STUNTimeout)
	v.SetDefault(KeySTUNProbeRate, d.STUNProbeRate)
	v.SetDefault(KeyLogLevel, d.LogLevel)
	v.SetDefault(KeyMetricsAddr, d.MetricsAddr)
	v.SetDefault(KeyAcceptRate, d.AcceptRate)
	v.SetDefault(KeyAcceptBurst, d.AcceptBurst)
}

// Load resolves settings. A non-empty path names a .env-format file that
// must exist; with an empty path DefaultEnvFile is used if present. Flags
// in flags whose names match a key (with '-' for '_') override everything
// else when set. flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := readEnvFile(v, path); err != nil {
		return nil, err
	}

	if flags != nil {
		if err := bindFlags(v, flags); err != nil {
			return nil, err
		}
	}

	cfg := &Config{
		KeyDir:          v.GetString(KeyKeyDir),
		KeyCacheSize:    v.GetInt(KeyKeyCacheSize),
		STUNServersFile: v.GetString(KeySTUNServersFile),
		STUNProbeCount:  v.GetInt(KeySTUNProbeCount),
		STUNTimeout:     v.GetDuration(KeySTUNTimeout),
		STUNProbeRate:   v.GetFloat64(KeySTUNProbeRate),
		LogLevel:        v.GetString(KeyLogLevel),
		MetricsAddr:     v.GetString(KeyMetricsAddr),
		AcceptRate:      v.GetFloat64(KeyAcceptRate),
		AcceptBurst:     v.GetInt(KeyAcceptBurst),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readEnvFile(v *viper.Viper, path string) error {
	explicit := path != ""
	if !explicit {
		if _, err := os.Stat(DefaultEnvFile); err != nil {
			return nil
		}
		path = DefaultEnvFile
	}

	v.SetConfigFile(path)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Load",
		"file":     v.ConfigFileUsed(),
	}).Debug("Using config file")
	return nil
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	var err error
	flags.VisitAll(func(f *pflag.Flag) {
		key := strings.ReplaceAll(f.Name, "-", "_")
		if !isKnownKey(key) {
			return
		}
		if bindErr := v.BindPFlag(key, f); bindErr != nil && err == nil {
			err = fmt.Errorf("failed to bind flag %s: %w", f.Name, bindErr)
		}
	})
	return err
}

func isKnownKey(key string) bool {
	switch key {
	case KeyKeyDir, KeyKeyCacheSize, KeySTUNServersFile, KeySTUNProbeCount, KeySTUNTimeout,
		KeySTUNProbeRate, KeyLogLevel, KeyMetricsAddr, KeyAcceptRate, KeyAcceptBurst:
		return true
	}
	return false
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	var errs []error
	if c.KeyCacheSize < 0 {
		errs = append(errs, fmt.Errorf("%s must not be negative, got %d", KeyKeyCacheSize, c.KeyCacheSize))
	}
	if c.STUNProbeCount < 0 {
		errs = append(errs, fmt.Errorf("%s must not be negative, got %d", KeySTUNProbeCount, c.STUNProbeCount))
	}
	if c.STUNTimeout <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive, got %s", KeySTUNTimeout, c.STUNTimeout))
	}
	if c.STUNProbeRate < 0 {
		errs = append(errs, fmt.Errorf("%s must not be negative, got %g", KeySTUNProbeRate, c.STUNProbeRate))
	}
	if c.AcceptRate < 0 {
		errs = append(errs, fmt.Errorf("%s must not be negative, got %g", KeyAcceptRate, c.AcceptRate))
	}
	if c.AcceptBurst < 0 {
		errs = append(errs, fmt.Errorf("%s must not be negative, got %d", KeyAcceptBurst, c.AcceptBurst))
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", KeyLogLevel, err))
	}
	return errors.Join(errs...)
}

// KeyLocation returns where the identity keys live.
func (c *Config) KeyLocation() crypto.KeyLocation {
	if c.KeyDir == "" || strings.EqualFold(c.KeyDir, ephemeralKeyDir) {
		return crypto.Ephemeral()
	}
	return crypto.Path(c.KeyDir)
}

// ServerList loads the configured STUN server list, or the built-in one.
func (c *Config) ServerList() (*nat.ServerList, error) {
	if c.STUNServersFile == "" {
		return nat.DefaultServerList(), nil
	}
	return nat.LoadServerList(c.STUNServersFile)
}

// ApplyLogging sets the global logrus level.
func (c *Config) ApplyLogging() error {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return err
	}
	logrus.SetLevel(level)
	return nil
}
