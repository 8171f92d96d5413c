package config

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Config holds the full application configuration.
type Config struct {
	Store  StoreConfig  `yaml:"store" mapstructure:"store"`
	Remote RemoteConfig `yaml:"remote" mapstructure:"remote"`
	Sync   SyncConfig   `yaml:"sync" mapstructure:"sync"`
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the JSONL tender store.
type StoreConfig struct {
	Path            string `yaml:"path" mapstructure:"path"`
	LockTimeoutSecs int    `yaml:"lock_timeout_secs" mapstructure:"lock_timeout_secs"`
}

// RemoteConfig configures the registry gateway client.
type RemoteConfig struct {
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	UserAgent   string  `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int     `yaml:"max_retries" mapstructure:"max_retries"`
	RateLimit   float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	PageSize    int     `yaml:"page_size" mapstructure:"page_size"`
}

// SyncConfig configures reconciliation runs.
type SyncConfig struct {
	MutableStatuses   []string `yaml:"mutable_statuses" mapstructure:"mutable_statuses"`
	StatusesFile      string   `yaml:"statuses_file" mapstructure:"statuses_file"`
	LookbackDays      int      `yaml:"lookback_days" mapstructure:"lookback_days"`
	RollingWindowDays int      `yaml:"rolling_window_days" mapstructure:"rolling_window_days"`
	RecheckWindowDays int      `yaml:"recheck_window_days" mapstructure:"recheck_window_days"`
	Workers           int      `yaml:"workers" mapstructure:"workers"`
	RunHistoryPath    string   `yaml:"run_history_path" mapstructure:"run_history_path"`
	RunHistoryKeep    int      `yaml:"run_history_keep" mapstructure:"run_history_keep"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("TENDERSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.path", "data/tenders.jsonl")
	v.SetDefault("store.lock_timeout_secs", 30)
	v.SetDefault("remote.base_url", "https://tenders.procurement.gov.ge")
	v.SetDefault("remote.user_agent", "tendersync/1.0")
	v.SetDefault("remote.timeout_secs", 30)
	v.SetDefault("remote.max_retries", 3)
	v.SetDefault("remote.rate_limit", 2.0)
	v.SetDefault("remote.page_size", 20)
	v.SetDefault("sync.mutable_statuses", []string{
		"გამოცხადებულია",
		"წინადადებების მიღება დაწყებულია",
	})
	v.SetDefault("sync.lookback_days", 30)
	v.SetDefault("sync.rolling_window_days", 7)
	v.SetDefault("sync.recheck_window_days", 90)
	v.SetDefault("sync.workers", 4)
	v.SetDefault("sync.run_history_path", "data/update_history.json")
	v.SetDefault("sync.run_history_keep", 100)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	// A statuses file, when configured, is authoritative over the inline
	// mutable status list.
	if cfg.Sync.StatusesFile != "" {
		statuses, err := LoadStatuses(cfg.Sync.StatusesFile)
		if err != nil {
			return nil, err
		}
		if len(statuses.Mutable) > 0 {
			cfg.Sync.MutableStatuses = statuses.Mutable
		}
	}

	return &cfg, nil
}

// Statuses is the on-disk status classification for the registry. Mutable
// statuses mark tenders that may still change; terminal ones never do.
type Statuses struct {
	Mutable  []string `yaml:"mutable"`
	Terminal []string `yaml:"terminal"`
}

// LoadStatuses reads a status classification YAML file.
func LoadStatuses(path string) (Statuses, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Statuses{}, eris.Wrapf(err, "config: read statuses file %s", path)
	}
	var s Statuses
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Statuses{}, eris.Wrapf(err, "config: parse statuses file %s", path)
	}
	return s, nil
}

// MutableStatusSet returns the configured mutable statuses as a set.
func (c *Config) MutableStatusSet() map[string]struct{} {
	set := make(map[string]struct{}, len(c.Sync.MutableStatuses))
	for _, s := range c.Sync.MutableStatuses {
		set[s] = struct{}{}
	}
	return set
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
