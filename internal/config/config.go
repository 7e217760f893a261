package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Worker    WorkerConfig    `yaml:"worker" mapstructure:"worker"`
	Cache     CacheConfig     `yaml:"cache" mapstructure:"cache"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Levels    LevelsConfig    `yaml:"levels" mapstructure:"levels"`
	Contacts  ContactsConfig  `yaml:"contacts" mapstructure:"contacts"`
	Notion    NotionConfig    `yaml:"notion" mapstructure:"notion"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `yaml:"driver" mapstructure:"driver"`
	// Path is the SQLite database file.
	Path string `yaml:"path" mapstructure:"path"`
	// DatabaseURL is the Postgres connection string.
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// WorkerConfig configures the task polling loop.
type WorkerConfig struct {
	PollInterval    time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
	ErrorBackoff    time.Duration `yaml:"error_backoff" mapstructure:"error_backoff"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// CacheConfig configures research step caching.
type CacheConfig struct {
	// NoCache bypasses cache reads for the run.
	NoCache bool `yaml:"no_cache" mapstructure:"no_cache"`
	// CacheUntil names the last step served from cache; later steps recompute.
	CacheUntil string `yaml:"cache_until" mapstructure:"cache_until"`
	// ClearSteps names steps to evict before a run.
	ClearSteps []string `yaml:"clear_steps" mapstructure:"clear_steps"`
	// ClearAll evicts the whole cache before a run.
	ClearAll bool `yaml:"clear_all" mapstructure:"clear_all"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key         string        `yaml:"key" mapstructure:"key"`
	Model       string        `yaml:"model" mapstructure:"model"`
	MaxTokens   int           `yaml:"max_tokens" mapstructure:"max_tokens"`
	CallTimeout time.Duration `yaml:"call_timeout" mapstructure:"call_timeout"`
}

// LevelsConfig configures the compensation data provider.
type LevelsConfig struct {
	BaseURL     string        `yaml:"base_url" mapstructure:"base_url"`
	Key         string        `yaml:"key" mapstructure:"key"`
	RatePerSec  float64       `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	CallTimeout time.Duration `yaml:"call_timeout" mapstructure:"call_timeout"`
}

// ContactsConfig configures the contact discovery subprocess.
type ContactsConfig struct {
	BinPath     string        `yaml:"bin_path" mapstructure:"bin_path"`
	CallTimeout time.Duration `yaml:"call_timeout" mapstructure:"call_timeout"`
	KillGrace   time.Duration `yaml:"kill_grace" mapstructure:"kill_grace"`
}

// NotionConfig holds Notion API credentials for lead imports.
type NotionConfig struct {
	Token  string `yaml:"token" mapstructure:"token"`
	LeadDB string `yaml:"lead_db" mapstructure:"lead_db"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
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
	v.SetEnvPrefix("RESEARCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "research.db")
	v.SetDefault("worker.poll_interval", "1s")
	v.SetDefault("worker.error_backoff", "5s")
	v.SetDefault("worker.shutdown_timeout", "30s")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("anthropic.call_timeout", "120s")
	v.SetDefault("levels.base_url", "https://api.levels.fyi")
	v.SetDefault("levels.rate_per_sec", 2.0)
	v.SetDefault("levels.call_timeout", "30s")
	v.SetDefault("contacts.bin_path", "contact-scraper")
	v.SetDefault("contacts.call_timeout", "90s")
	v.SetDefault("contacts.kill_grace", "5s")
	v.SetDefault("server.port", 8080)
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

	return &cfg, nil
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
