// Package config loads process-level settings: everything that shapes
// the CLI itself rather than a particular batch. Batch parameters live
// in the job manifest (pkg/manifest); this layer only carries logging,
// ledger, and installation-root bindings.
package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces all environment overrides, e.g.
// REACTBENCH_LOGGING_LEVEL=debug.
const EnvPrefix = "REACTBENCH"

// Config is the resolved process configuration.
type Config struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Ledger  LedgerConfig  `mapstructure:"ledger"`

	// InstallRoot is the installation root exported to external stage
	// processes, taken from REACTBENCH_PATH or the manifest's
	// reactbench_path.
	InstallRoot string `mapstructure:"-"`
}

// LoggingConfig controls the CLI logger.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// LedgerConfig controls the run history database.
type LedgerConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Path overrides the default <scratch>/runs.db location.
	Path string `mapstructure:"path"`
}

var validLevels = map[string]struct{}{
	"debug": {}, "info": {}, "warn": {}, "error": {},
}

// Load resolves configuration from defaults, environment variables, and
// optional runtime overrides (highest precedence last).
func Load(_ context.Context, overrides ...map[string]any) (*Config, error) {
	v := viper.New()
	v.SetDefault("logging.level", "info")
	v.SetDefault("ledger.enabled", true)
	v.SetDefault("ledger.path", "")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, o := range overrides {
		for key, val := range o {
			v.Set(key, val)
		}
	}

	cfg := &Config{}
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(cfg, hook); err != nil {
		return nil, fmt.Errorf("decoding configuration: %w", err)
	}
	cfg.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Logging.Level))
	cfg.Ledger.Path = strings.TrimSpace(cfg.Ledger.Path)
	cfg.InstallRoot = strings.TrimSpace(os.Getenv(EnvPrefix + "_PATH"))

	if _, ok := validLevels[cfg.Logging.Level]; !ok {
		return nil, fmt.Errorf("invalid logging level %q (want debug, info, warn, or error)", cfg.Logging.Level)
	}
	return cfg, nil
}
