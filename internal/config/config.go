// Package config loads jobfeed settings from file and environment.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/jobfeed/internal/aggregate"
	"github.com/sells-group/jobfeed/internal/classify"
	"github.com/sells-group/jobfeed/internal/dedup"
	"github.com/sells-group/jobfeed/internal/ingest"
	"github.com/sells-group/jobfeed/internal/pipeline"
	"github.com/sells-group/jobfeed/internal/probe"
	"github.com/sells-group/jobfeed/internal/resilience"
	"github.com/sells-group/jobfeed/internal/sanitize"
	"github.com/sells-group/jobfeed/internal/status"
	"github.com/sells-group/jobfeed/internal/store"
	"github.com/sells-group/jobfeed/internal/validate"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig        `yaml:"store" mapstructure:"store"`
	Cache      CacheConfig        `yaml:"cache" mapstructure:"cache"`
	Registry   RegistryConfig     `yaml:"registry" mapstructure:"registry"`
	Validation validate.Config    `yaml:"validation" mapstructure:"validation"`
	Sanitize   sanitize.Config    `yaml:"sanitize" mapstructure:"sanitize"`
	Classifier classify.Config    `yaml:"classifier" mapstructure:"classifier"`
	Dedup      dedup.Config       `yaml:"dedup" mapstructure:"dedup"`
	Probe      probe.Options      `yaml:"probe" mapstructure:"probe"`
	Status     status.Config      `yaml:"status" mapstructure:"status"`
	Alert      status.AlertConfig `yaml:"alert" mapstructure:"alert"`
	Aggregate  aggregate.Config   `yaml:"aggregate" mapstructure:"aggregate"`
	Pipeline   pipeline.Config    `yaml:"pipeline" mapstructure:"pipeline"`
	Ingest     ingest.Options     `yaml:"ingest" mapstructure:"ingest"`
	Server     ServerConfig       `yaml:"server" mapstructure:"server"`
	Log        LogConfig          `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string           `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string           `yaml:"database_url" mapstructure:"database_url"`
	Pool        store.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// CacheConfig selects the cache backend. An empty RedisURL keeps the cache
// in process memory.
type CacheConfig struct {
	Version  string `yaml:"version" mapstructure:"version"`
	RedisURL string `yaml:"redis_url" mapstructure:"redis_url"`
}

// RegistryConfig points at an optional YAML keyword registry. Empty means
// the built-in registry.
type RegistryConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// ServerConfig configures the read-only HTTP API.
type ServerConfig struct {
	Port           int           `yaml:"port" mapstructure:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from jobfeed.yaml (optional) and JOBFEED_*
// environment variables.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file path.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("jobfeed")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("JOBFEED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

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

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "jobfeed.db")
	v.SetDefault("store.pool.max_conns", 10)
	v.SetDefault("store.pool.min_conns", 2)

	v.SetDefault("cache.version", "v2")
	v.SetDefault("cache.redis_url", "")

	v.SetDefault("registry.path", "")

	val := validate.DefaultConfig()
	v.SetDefault("validation.min_title_length", val.MinTitleLength)
	v.SetDefault("validation.min_description_length", val.MinDescriptionLength)
	v.SetDefault("validation.require_location", val.RequireLocation)
	v.SetDefault("validation.spam_phrases", val.SpamPhrases)
	v.SetDefault("validation.invalid_companies", val.InvalidCompanies)
	v.SetDefault("validation.allowed_countries", val.AllowedCountries)
	v.SetDefault("validation.max_salary_min", val.MaxSalaryMin)
	v.SetDefault("validation.max_salary_max", val.MaxSalaryMax)
	v.SetDefault("validation.max_skills", val.MaxSkills)

	v.SetDefault("sanitize.max_description_length", sanitize.DefaultMaxDescriptionLength)

	cls := classify.DefaultConfig()
	v.SetDefault("classifier.title_match_weight", cls.TitleMatchWeight)
	v.SetDefault("classifier.title_multiplier", cls.TitleMultiplier)
	v.SetDefault("classifier.secondary_ratio", cls.SecondaryRatio)
	v.SetDefault("classifier.secondary_floor", cls.SecondaryFloor)
	v.SetDefault("classifier.normalization", cls.Normalization)

	dd := dedup.DefaultConfig()
	v.SetDefault("dedup.threshold", dd.Threshold)
	v.SetDefault("dedup.lookup_timeout", dd.LookupTimeout)
	v.SetDefault("dedup.reclassify_on_description_change", dd.ReclassifyOnDescriptionChange)

	v.SetDefault("probe.timeout", 15*time.Second)
	v.SetDefault("probe.rate_per_host", 2.0)
	v.SetDefault("probe.burst", 2)
	v.SetDefault("probe.max_redirects", 10)
	v.SetDefault("probe.breaker.failure_threshold", 5)
	v.SetDefault("probe.breaker.reset_timeout", time.Minute)

	st := status.DefaultConfig()
	v.SetDefault("status.batch_size", st.BatchSize)
	v.SetDefault("status.max_concurrent", st.MaxConcurrent)
	v.SetDefault("status.probe_timeout", st.ProbeTimeout)
	v.SetDefault("status.recheck_interval", st.RecheckInterval)
	v.SetDefault("status.expiry_ttl", st.ExpiryTTL)
	v.SetDefault("status.interval", st.Interval)
	setRetryDefaults(v, "status.retry")

	v.SetDefault("alert.webhook_url", "")
	v.SetDefault("alert.removal_threshold", 1)
	v.SetDefault("alert.transient_rate_threshold", 0.5)
	v.SetDefault("alert.min_checked", 10)

	ag := aggregate.DefaultConfig()
	v.SetDefault("aggregate.stats_ttl", ag.StatsTTL)
	v.SetDefault("aggregate.skills_ttl", ag.SkillsTTL)
	v.SetDefault("aggregate.trends_ttl", ag.TrendsTTL)
	v.SetDefault("aggregate.stats_top_skills", ag.StatsTopSkills)

	pl := pipeline.DefaultConfig()
	v.SetDefault("pipeline.max_concurrent", pl.MaxConcurrent)
	v.SetDefault("pipeline.write_timeout", pl.WriteTimeout)
	v.SetDefault("pipeline.extract_skills", pl.ExtractSkills)
	setRetryDefaults(v, "pipeline.retry")

	v.SetDefault("ingest.user_agent", "jobfeed/1.0")
	v.SetDefault("ingest.timeout", 60*time.Second)
	setRetryDefaults(v, "ingest.retry")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

func setRetryDefaults(v *viper.Viper, prefix string) {
	def := resilience.DefaultRetryConfig()
	v.SetDefault(prefix+".max_attempts", def.MaxAttempts)
	v.SetDefault(prefix+".initial_backoff", def.InitialBackoff)
	v.SetDefault(prefix+".max_backoff", def.MaxBackoff)
	v.SetDefault(prefix+".multiplier", def.Multiplier)
	v.SetDefault(prefix+".jitter_fraction", def.JitterFraction)
}

// Validate reports every invalid setting for the given command mode at
// once. Modes: "ingest", "status", "serve", "read" (store-only commands).
func (c *Config) Validate(mode string) error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		add("store.driver must be sqlite or postgres, got %q", c.Store.Driver)
	}
	if c.Store.DatabaseURL == "" {
		add("store.database_url is required")
	}
	if c.Cache.RedisURL != "" {
		if u, err := url.Parse(c.Cache.RedisURL); err != nil || (u.Scheme != "redis" && u.Scheme != "rediss") {
			add("cache.redis_url must be a redis:// or rediss:// URL")
		}
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		add("log.level %q is not a zap level", c.Log.Level)
	}

	switch mode {
	case "ingest":
		if c.Dedup.Threshold <= 0 || c.Dedup.Threshold > 100 {
			add("dedup.threshold must be in (0, 100], got %v", c.Dedup.Threshold)
		}
		if c.Validation.MinDescriptionLength < 0 {
			add("validation.min_description_length must be >= 0")
		}
		if c.Classifier.SecondaryRatio < 0 || c.Classifier.SecondaryRatio > 1 {
			add("classifier.secondary_ratio must be in [0, 1], got %v", c.Classifier.SecondaryRatio)
		}
		if c.Pipeline.MaxConcurrent < 1 || c.Pipeline.MaxConcurrent > 64 {
			add("pipeline.max_concurrent must be between 1 and 64")
		}
	case "status":
		if c.Status.MaxConcurrent < 1 || c.Status.MaxConcurrent > 100 {
			add("status.max_concurrent must be between 1 and 100")
		}
		if c.Status.BatchSize < 1 {
			add("status.batch_size must be > 0")
		}
		if c.Status.ProbeTimeout <= 0 {
			add("status.probe_timeout must be > 0")
		}
		if c.Probe.RatePerHost <= 0 {
			add("probe.rate_per_host must be > 0")
		}
		if c.Alert.WebhookURL != "" {
			if u, err := url.Parse(c.Alert.WebhookURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
				add("alert.webhook_url must be an http(s) URL")
			}
		}
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			add("server.port must be > 0 and <= 65535, got %d", c.Server.Port)
		}
	case "read":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: invalid settings: %s", strings.Join(problems, "; "))
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
