package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store         StoreConfig         `yaml:"store" mapstructure:"store"`
	Log           LogConfig           `yaml:"log" mapstructure:"log"`
	Normalization NormalizationConfig `yaml:"normalization" mapstructure:"normalization"`
	Confidence    ConfidenceConfig    `yaml:"confidence" mapstructure:"confidence"`
	Bulk          BulkConfig          `yaml:"bulk" mapstructure:"bulk"`
	Notify        NotifyConfig        `yaml:"notify" mapstructure:"notify"`
	Metrics       MetricsConfig       `yaml:"metrics" mapstructure:"metrics"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// NormalizationConfig holds the reviewer bias correction constants.
type NormalizationConfig struct {
	TargetAvg           float64 `yaml:"target_avg" mapstructure:"target_avg"`
	MinReviewsThreshold int     `yaml:"min_reviews_threshold" mapstructure:"min_reviews_threshold"`
	ZScoreThreshold     float64 `yaml:"zscore_threshold" mapstructure:"zscore_threshold"`
}

// ConfidenceConfig holds the confidence score constants. Weights sum to 1.0.
type ConfidenceConfig struct {
	MaxReviews        int     `yaml:"max_reviews" mapstructure:"max_reviews"`
	CoverageWeight    float64 `yaml:"coverage_weight" mapstructure:"coverage_weight"`
	AgreementWeight   float64 `yaml:"agreement_weight" mapstructure:"agreement_weight"`
	ReliabilityWeight float64 `yaml:"reliability_weight" mapstructure:"reliability_weight"`
	ReliabilityTerm   float64 `yaml:"reliability_term" mapstructure:"reliability_term"`
}

// BulkConfig configures bulk status decisions.
type BulkConfig struct {
	MaxBatch int    `yaml:"max_batch" mapstructure:"max_batch"`
	ActorID  string `yaml:"actor_id" mapstructure:"actor_id"`
}

// NotifyConfig configures decision notifications.
type NotifyConfig struct {
	Driver      string  `yaml:"driver" mapstructure:"driver"`
	WebhookURL  string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// MetricsConfig configures the Prometheus textfile export.
type MetricsConfig struct {
	Textfile string `yaml:"textfile" mapstructure:"textfile"`
}

// Load reads configuration from .env, file and environment.
func Load() (*Config, error) {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("REVIEW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("normalization.target_avg", 5.5)
	v.SetDefault("normalization.min_reviews_threshold", 3)
	v.SetDefault("normalization.zscore_threshold", 2.0)
	v.SetDefault("confidence.max_reviews", 5)
	v.SetDefault("confidence.coverage_weight", 0.4)
	v.SetDefault("confidence.agreement_weight", 0.4)
	v.SetDefault("confidence.reliability_weight", 0.2)
	v.SetDefault("confidence.reliability_term", 0.7)
	v.SetDefault("bulk.max_batch", 100)
	v.SetDefault("bulk.actor_id", "system")
	v.SetDefault("notify.driver", "log")
	v.SetDefault("notify.rate_per_sec", 5.0)
	v.SetDefault("notify.timeout_secs", 10)

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

// Validate checks that the settings a command mode needs are present.
// Modes: "store" (any command touching the database), "apply" (bulk decisions).
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "store":
		errs = append(errs, c.validateStore()...)
	case "apply":
		errs = append(errs, c.validateStore()...)
		errs = append(errs, c.validateBulk()...)
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateStore() []string {
	var errs []string
	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	case "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("store.driver must be postgres or sqlite (got %q)", c.Store.Driver))
	}
	return errs
}

func (c *Config) validateBulk() []string {
	var errs []string
	if c.Bulk.MaxBatch < 1 {
		errs = append(errs, "bulk.max_batch must be >= 1")
	}
	if c.Bulk.ActorID == "" {
		errs = append(errs, "bulk.actor_id is required")
	}
	switch c.Notify.Driver {
	case "log":
	case "webhook":
		if c.Notify.WebhookURL == "" {
			errs = append(errs, "notify.webhook_url is required when notify.driver is webhook")
		}
		if c.Notify.RatePerSec <= 0 {
			errs = append(errs, "notify.rate_per_sec must be > 0")
		}
	default:
		errs = append(errs, fmt.Sprintf("notify.driver must be log or webhook (got %q)", c.Notify.Driver))
	}
	return errs
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
