package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Rules     RulesConfig     `yaml:"rules" mapstructure:"rules"`
	Rating    RatingConfig    `yaml:"rating" mapstructure:"rating"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Ingest    IngestConfig    `yaml:"ingest" mapstructure:"ingest"`
	Batch     BatchConfig     `yaml:"batch" mapstructure:"batch"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Snapshot  SnapshotConfig  `yaml:"snapshot" mapstructure:"snapshot"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// RulesConfig points at a mapping rule table file. Empty uses the built-in table.
type RulesConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// RatingConfig points at a rating scheme file. Empty uses the built-in scheme.
type RatingConfig struct {
	SchemePath string `yaml:"scheme_path" mapstructure:"scheme_path"`
}

// PipelineConfig configures evaluation.
type PipelineConfig struct {
	// Scope forces GROUP or COMPANY. Empty picks GROUP when present.
	Scope string `yaml:"scope" mapstructure:"scope"`
}

// IngestConfig configures extraction loading.
type IngestConfig struct {
	YearEndMonth int    `yaml:"year_end_month" mapstructure:"year_end_month"`
	YearEndDay   int    `yaml:"year_end_day" mapstructure:"year_end_day"`
	Scale        string `yaml:"scale" mapstructure:"scale"`
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	MaxConcurrent int `yaml:"max_concurrent" mapstructure:"max_concurrent"`
}

// ServerConfig configures the audit API server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// AnthropicConfig holds Anthropic API settings for label suggestions.
type AnthropicConfig struct {
	Key              string  `yaml:"key" mapstructure:"key"`
	Model            string  `yaml:"model" mapstructure:"model"`
	RPS              float64 `yaml:"rps" mapstructure:"rps"`
	MaxRetries       int     `yaml:"max_retries" mapstructure:"max_retries"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// SnapshotConfig configures the regression harness.
type SnapshotConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CREDIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.sqlite_path", "credit.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("rules.path", "")
	v.SetDefault("rating.scheme_path", "")
	v.SetDefault("pipeline.scope", "")
	v.SetDefault("ingest.year_end_month", 6)
	v.SetDefault("ingest.year_end_day", 30)
	v.SetDefault("ingest.scale", "units")
	v.SetDefault("batch.max_concurrent", 4)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.rps", 2.0)
	v.SetDefault("anthropic.max_retries", 3)
	v.SetDefault("anthropic.initial_backoff_ms", 500)
	v.SetDefault("anthropic.max_backoff_ms", 30000)
	v.SetDefault("snapshot.dir", "testdata/snapshots")

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

// Validate checks the settings a command mode depends on. Modes: run,
// batch, serve, verify, rules, suggest, llm.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch mode {
	case "run", "verify", "rules", "suggest":
	case "batch":
		problems = append(problems, c.validateStore()...)
		if c.Batch.MaxConcurrent < 1 || c.Batch.MaxConcurrent > 64 {
			problems = append(problems, "batch.max_concurrent must be between 1 and 64")
		}
	case "serve":
		problems = append(problems, c.validateStore()...)
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			problems = append(problems, "server.port must be > 0 and <= 65535")
		}
	case "llm":
		if c.Anthropic.Key == "" {
			problems = append(problems, "anthropic.key is required")
		}
		if c.Anthropic.RPS <= 0 {
			problems = append(problems, "anthropic.rps must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Ingest.YearEndMonth < 1 || c.Ingest.YearEndMonth > 12 {
		problems = append(problems, "ingest.year_end_month must be between 1 and 12")
	}
	if c.Ingest.YearEndDay < 1 || c.Ingest.YearEndDay > 31 {
		problems = append(problems, "ingest.year_end_day must be between 1 and 31")
	}
	switch strings.ToUpper(c.Pipeline.Scope) {
	case "", "GROUP", "COMPANY":
	default:
		problems = append(problems, fmt.Sprintf("pipeline.scope %q must be GROUP or COMPANY", c.Pipeline.Scope))
	}

	if len(problems) > 0 {
		return eris.Errorf("config: invalid for %s: %s", mode, strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) validateStore() []string {
	switch c.Store.Driver {
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return []string{"store.sqlite_path is required for sqlite"}
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return []string{"store.database_url is required for postgres"}
		}
	default:
		return []string{fmt.Sprintf("store.driver %q must be sqlite or postgres", c.Store.Driver)}
	}
	return nil
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
