package config

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// EnvPrefix is the prefix of environment overrides, e.g.
// DEALER_JOURNAL_DB_PATH=/var/lib/dealer.db.
const EnvPrefix = "DEALER"

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads path like LoadFromFile and then applies DEALER_* environment
// overrides for the deployment specific keys.
func Load(path string) (*Config, error) {
	return load(newViper(path), path)
}

func load(v *viper.Viper, path string) (*Config, error) {
	cfg, err := LoadFromFile(path)
	if err != nil {
		return nil, err
	}
	if err := applyEnv(v, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(v *viper.Viper, cfg *Config) error {
	if v.IsSet("journal.type") {
		cfg.Journal.Type = v.GetString("journal.type")
	}
	if v.IsSet("journal.db_path") {
		cfg.Journal.DBPath = v.GetString("journal.db_path")
	}
	if v.IsSet("metrics.addr") {
		cfg.Metrics.Addr = v.GetString("metrics.addr")
	}
	if v.IsSet("staleness") {
		cfg.Staleness = v.GetDuration("staleness")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config after env overrides: %w", err)
	}
	return nil
}

// Watch reloads path into store whenever the file changes. A reload that
// fails to parse or validate is logged and the last good config stays live.
func Watch(path string, store *Store, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("watch config: %w", err)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := load(v, path)
		if err != nil {
			log.Error("config reload rejected, keeping previous config",
				zap.String("path", e.Name),
				zap.Error(err),
			)
			return
		}
		if _, err := store.Swap(cfg); err != nil {
			log.Error("config reload rejected", zap.String("path", e.Name), zap.Error(err))
			return
		}
		log.Info("config reloaded", zap.String("path", e.Name), zap.String("op", e.Op.String()))
	})
	v.WatchConfig()
	return nil
}
