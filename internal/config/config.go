package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Anthropic    AnthropicConfig    `yaml:"anthropic" mapstructure:"anthropic"`
	Cache        CacheConfig        `yaml:"cache" mapstructure:"cache"`
	Research     ResearchConfig     `yaml:"research" mapstructure:"research"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator" mapstructure:"orchestrator"`
	Server       ServerConfig       `yaml:"server" mapstructure:"server"`
	Log          LogConfig          `yaml:"log" mapstructure:"log"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// CacheConfig configures the result cache backend.
type CacheConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver      string `yaml:"driver" mapstructure:"driver"`
	Path        string `yaml:"path" mapstructure:"path"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ResearchConfig tunes the research client and pipeline phases.
type ResearchConfig struct {
	CallTimeoutSecs          int     `yaml:"call_timeout_secs" mapstructure:"call_timeout_secs"`
	TransientRetries         int     `yaml:"transient_retries" mapstructure:"transient_retries"`
	RateLimitCooldownSeconds int     `yaml:"rate_limit_cooldown_seconds" mapstructure:"rate_limit_cooldown_seconds"`
	MaxRetries               int     `yaml:"max_retries" mapstructure:"max_retries"`
	RequestsPerSecond        float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	QuickNegativeConfidence  float64 `yaml:"quick_negative_confidence" mapstructure:"quick_negative_confidence"`
	QuickPositiveConfidence  float64 `yaml:"quick_positive_confidence" mapstructure:"quick_positive_confidence"`
	MaxFollowups             int     `yaml:"max_followups" mapstructure:"max_followups"`
}

// OrchestratorConfig bounds job size and concurrency.
type OrchestratorConfig struct {
	WorkerCount          int `yaml:"worker_count" mapstructure:"worker_count"`
	MaxIdentifiersPerJob int `yaml:"max_identifiers_per_job" mapstructure:"max_identifiers_per_job"`
	JobRetentionHours    int `yaml:"job_retention_hours" mapstructure:"job_retention_hours"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Validate checks the fields a given mode ("run" or "serve") depends on.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch mode {
	case "run", "serve":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Anthropic.Key == "" {
		problems = append(problems, "anthropic.key is required")
	}
	switch c.Cache.Driver {
	case "sqlite":
		if c.Cache.Path == "" {
			problems = append(problems, "cache.path is required for the sqlite driver")
		}
	case "postgres":
		if c.Cache.DatabaseURL == "" {
			problems = append(problems, "cache.database_url is required for the postgres driver")
		}
	default:
		problems = append(problems, "cache.driver must be sqlite or postgres")
	}
	if c.Orchestrator.WorkerCount < 1 || c.Orchestrator.WorkerCount > 32 {
		problems = append(problems, "orchestrator.worker_count must be between 1 and 32")
	}
	if c.Research.QuickNegativeConfidence < 0 || c.Research.QuickNegativeConfidence > 1 {
		problems = append(problems, "research.quick_negative_confidence must be in [0, 1]")
	}
	if c.Research.QuickPositiveConfidence < 0 || c.Research.QuickPositiveConfidence > 1 {
		problems = append(problems, "research.quick_positive_confidence must be in [0, 1]")
	}
	if mode == "serve" && c.Server.Port <= 0 {
		problems = append(problems, "server.port must be > 0")
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LEADFINDER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("cache.driver", "sqlite")
	v.SetDefault("cache.path", "leadfinder.db")
	v.SetDefault("research.call_timeout_secs", 120)
	v.SetDefault("research.transient_retries", 3)
	v.SetDefault("research.rate_limit_cooldown_seconds", 60)
	v.SetDefault("research.max_retries", 20)
	v.SetDefault("research.requests_per_second", 0)
	v.SetDefault("research.quick_negative_confidence", 0.80)
	v.SetDefault("research.quick_positive_confidence", 0.85)
	v.SetDefault("research.max_followups", 3)
	v.SetDefault("orchestrator.worker_count", 10)
	v.SetDefault("orchestrator.max_identifiers_per_job", 1000)
	v.SetDefault("orchestrator.job_retention_hours", 24)
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
