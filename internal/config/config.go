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
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	CMA       CMAConfig       `yaml:"cma" mapstructure:"cma"`
	Render    RenderConfig    `yaml:"render" mapstructure:"render"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string     `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string     `yaml:"database_url" mapstructure:"database_url"`
	Pool        PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// AnthropicConfig holds generation provider settings. An empty Key means the
// provider is not configured; insight generation refuses to run rather than
// recording per-report failures.
type AnthropicConfig struct {
	Key               string `yaml:"key" mapstructure:"key"`
	Model             string `yaml:"model" mapstructure:"model"`
	MaxTokens         int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
	RequestsPerMinute int    `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// CMAConfig configures comparable search defaults and adjustment rates.
// Rates are in cents per unit of difference.
type CMAConfig struct {
	DefaultRadiusKm       float64 `yaml:"default_radius_km" mapstructure:"default_radius_km"`
	DefaultMonthsBack     int     `yaml:"default_months_back" mapstructure:"default_months_back"`
	DefaultMaxComparables int     `yaml:"default_max_comparables" mapstructure:"default_max_comparables"`
	CandidateLimit        int     `yaml:"candidate_limit" mapstructure:"candidate_limit"`

	BedroomAdjustmentCents  int64 `yaml:"bedroom_adjustment_cents" mapstructure:"bedroom_adjustment_cents"`
	BathroomAdjustmentCents int64 `yaml:"bathroom_adjustment_cents" mapstructure:"bathroom_adjustment_cents"`
	AreaAdjustmentCents     int64 `yaml:"area_adjustment_cents_per_sqm" mapstructure:"area_adjustment_cents_per_sqm"`
	AgeAdjustmentCents      int64 `yaml:"age_adjustment_cents_per_year" mapstructure:"age_adjustment_cents_per_year"`

	DefaultCurrency    string `yaml:"default_currency" mapstructure:"default_currency"`
	DefaultAgentName   string `yaml:"default_agent_name" mapstructure:"default_agent_name"`
	DefaultCompanyName string `yaml:"default_company_name" mapstructure:"default_company_name"`
}

// RenderConfig configures the PDF render hand-off queue.
type RenderConfig struct {
	WebhookURL       string `yaml:"webhook_url" mapstructure:"webhook_url"`
	PollIntervalSecs int    `yaml:"poll_interval_secs" mapstructure:"poll_interval_secs"`
	MaxRetries       int    `yaml:"max_retries" mapstructure:"max_retries"`
	Concurrency      int    `yaml:"concurrency" mapstructure:"concurrency"`
}

// ServerConfig configures the webhook server.
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
	v.SetEnvPrefix("CMA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. Keys without a natural default still get registered so
	// AutomaticEnv picks them up during Unmarshal.
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.pool.max_conns", 10)
	v.SetDefault("store.pool.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 2048)
	v.SetDefault("anthropic.requests_per_minute", 30)
	v.SetDefault("cma.default_radius_km", 5.0)
	v.SetDefault("cma.default_months_back", 6)
	v.SetDefault("cma.default_max_comparables", 5)
	v.SetDefault("cma.candidate_limit", 50)
	v.SetDefault("cma.bedroom_adjustment_cents", 1_500_000)
	v.SetDefault("cma.bathroom_adjustment_cents", 750_000)
	v.SetDefault("cma.area_adjustment_cents_per_sqm", 150_000)
	v.SetDefault("cma.age_adjustment_cents_per_year", 50_000)
	v.SetDefault("cma.default_currency", "USD")
	v.SetDefault("cma.default_agent_name", "")
	v.SetDefault("cma.default_company_name", "")
	v.SetDefault("render.webhook_url", "")
	v.SetDefault("render.poll_interval_secs", 15)
	v.SetDefault("render.max_retries", 5)
	v.SetDefault("render.concurrency", 4)

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
