package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/enrich-cli/internal/model"
)

// ErrMissingSetting is returned by Validate when a setting required by the
// selected phase is empty or out of range.
var ErrMissingSetting = eris.New("config: missing or invalid setting")

// Config holds the full application configuration.
type Config struct {
	Entities  EntitiesConfig  `yaml:"entities" mapstructure:"entities"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Geocode   GeocodeConfig   `yaml:"geocode" mapstructure:"geocode"`
	Batch     BatchConfig     `yaml:"batch" mapstructure:"batch"`
	Sources   SourcesConfig   `yaml:"sources" mapstructure:"sources"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Metrics   MetricsConfig   `yaml:"metrics" mapstructure:"metrics"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// EntitiesConfig locates the entity source.
type EntitiesConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// StoreConfig configures the record store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	Path        string `yaml:"path" mapstructure:"path"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// GeocodeConfig configures the location resolver chain.
type GeocodeConfig struct {
	GazetteerFile       string  `yaml:"gazetteer_file" mapstructure:"gazetteer_file"`
	GoogleKey           string  `yaml:"google_key" mapstructure:"google_key"`
	GoogleQPS           float64 `yaml:"google_qps" mapstructure:"google_qps"`
	NominatimURL        string  `yaml:"nominatim_url" mapstructure:"nominatim_url"`
	PhotonURL           string  `yaml:"photon_url" mapstructure:"photon_url"`
	UserAgent           string  `yaml:"user_agent" mapstructure:"user_agent"`
	CommunityIntervalMs int     `yaml:"community_interval_ms" mapstructure:"community_interval_ms"`
	TimeoutSecs         int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	BreakerThreshold    int     `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerCooldownSecs int     `yaml:"breaker_cooldown_secs" mapstructure:"breaker_cooldown_secs"`
}

// BatchConfig configures the orchestrator.
type BatchConfig struct {
	Workers              int     `yaml:"workers" mapstructure:"workers"`
	SubmitDelayMs        int     `yaml:"submit_delay_ms" mapstructure:"submit_delay_ms"`
	UnitTimeoutSecs      int     `yaml:"unit_timeout_secs" mapstructure:"unit_timeout_secs"`
	ProgressIntervalSecs int     `yaml:"progress_interval_secs" mapstructure:"progress_interval_secs"`
	GeoMinCoverage       float64 `yaml:"geo_min_coverage" mapstructure:"geo_min_coverage"`
	NetworkMinCoverage   float64 `yaml:"network_min_coverage" mapstructure:"network_min_coverage"`
	NetworkRadiusKM      float64 `yaml:"network_radius_km" mapstructure:"network_radius_km"`
}

// SourcesConfig configures the per-phase external sources.
type SourcesConfig struct {
	Web     WebConfig      `yaml:"web" mapstructure:"web"`
	GitHub  GitHubConfig   `yaml:"github" mapstructure:"github"`
	Patents EndpointConfig `yaml:"patents" mapstructure:"patents"`
	Reviews EndpointConfig `yaml:"reviews" mapstructure:"reviews"`
	Hiring  EndpointConfig `yaml:"hiring" mapstructure:"hiring"`
}

// WebConfig configures the website fetcher.
type WebConfig struct {
	UserAgent        string `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs      int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxAttempts      int    `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int    `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int    `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// GitHubConfig configures the technical phase.
type GitHubConfig struct {
	BaseURL string  `yaml:"base_url" mapstructure:"base_url"`
	Token   string  `yaml:"token" mapstructure:"token"`
	QPS     float64 `yaml:"qps" mapstructure:"qps"`
}

// EndpointConfig configures a generic JSON source.
type EndpointConfig struct {
	URL         string `yaml:"url" mapstructure:"url"`
	Key         string `yaml:"key" mapstructure:"key"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// AnthropicConfig holds Anthropic API settings. An empty key disables the
// synthesis narrative.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// MetricsConfig configures the Prometheus endpoint. An empty addr disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
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
	v.SetEnvPrefix("ENRICH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// setDefaults registers a default for every key so that AutomaticEnv can
// override any of them.
func setDefaults(v *viper.Viper) {
	v.SetDefault("entities.path", "entities.csv")

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "enrich.db")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)

	v.SetDefault("geocode.gazetteer_file", "")
	v.SetDefault("geocode.google_key", "")
	v.SetDefault("geocode.google_qps", 10)
	v.SetDefault("geocode.nominatim_url", "https://nominatim.openstreetmap.org")
	v.SetDefault("geocode.photon_url", "https://photon.komoot.io")
	v.SetDefault("geocode.user_agent", "enrich-cli/1.0")
	v.SetDefault("geocode.community_interval_ms", 1000)
	v.SetDefault("geocode.timeout_secs", 15)
	v.SetDefault("geocode.breaker_threshold", 5)
	v.SetDefault("geocode.breaker_cooldown_secs", 30)

	v.SetDefault("batch.workers", 4)
	v.SetDefault("batch.submit_delay_ms", 100)
	v.SetDefault("batch.unit_timeout_secs", 120)
	v.SetDefault("batch.progress_interval_secs", 30)
	v.SetDefault("batch.geo_min_coverage", 0.5)
	v.SetDefault("batch.network_min_coverage", 0.8)
	v.SetDefault("batch.network_radius_km", 25)

	v.SetDefault("sources.web.user_agent", "Mozilla/5.0 (compatible; enrich-cli/1.0)")
	v.SetDefault("sources.web.timeout_secs", 15)
	v.SetDefault("sources.web.max_attempts", 3)
	v.SetDefault("sources.web.initial_backoff_ms", 500)
	v.SetDefault("sources.web.max_backoff_ms", 5000)
	v.SetDefault("sources.github.base_url", "https://api.github.com")
	v.SetDefault("sources.github.token", "")
	v.SetDefault("sources.github.qps", 1)
	for _, name := range []string{"patents", "reviews", "hiring"} {
		v.SetDefault("sources."+name+".url", "")
		v.SetDefault("sources."+name+".key", "")
		v.SetDefault("sources."+name+".timeout_secs", 20)
	}

	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 300)

	v.SetDefault("metrics.addr", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Endpoint returns the generic source settings for a source phase.
func (s SourcesConfig) Endpoint(p model.Phase) (EndpointConfig, bool) {
	switch p {
	case model.PhasePatents:
		return s.Patents, true
	case model.PhaseReviews:
		return s.Reviews, true
	case model.PhaseHiring:
		return s.Hiring, true
	default:
		return EndpointConfig{}, false
	}
}

// Validate reports every setting the given phase needs that is missing or
// out of range. An empty phase validates only what all commands share.
func (c *Config) Validate(phase model.Phase) error {
	var problems []string

	if c.Entities.Path == "" {
		problems = append(problems, "entities.path is required")
	}
	switch c.Store.Driver {
	case "", "sqlite", "pebble":
		if c.Store.Path == "" {
			problems = append(problems, "store.path is required")
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required")
		}
	case "memory":
	default:
		problems = append(problems, fmt.Sprintf("store.driver %q is not one of sqlite, pebble, postgres, memory", c.Store.Driver))
	}
	if c.Batch.Workers < 1 || c.Batch.Workers > 64 {
		problems = append(problems, "batch.workers must be between 1 and 64")
	}

	switch phase {
	case "":
	case model.PhaseGeo:
		if c.Geocode.UserAgent == "" {
			problems = append(problems, "geocode.user_agent is required")
		}
		problems = append(problems, checkRatio("batch.geo_min_coverage", c.Batch.GeoMinCoverage)...)
	case model.PhaseNetwork:
		problems = append(problems, checkRatio("batch.network_min_coverage", c.Batch.NetworkMinCoverage)...)
		if c.Batch.NetworkRadiusKM <= 0 {
			problems = append(problems, "batch.network_radius_km must be > 0")
		}
	case model.PhaseTechnical:
		if c.Sources.GitHub.BaseURL == "" {
			problems = append(problems, "sources.github.base_url is required")
		}
	case model.PhasePatents, model.PhaseReviews, model.PhaseHiring:
		if ep, _ := c.Sources.Endpoint(phase); ep.URL == "" {
			problems = append(problems, fmt.Sprintf("sources.%s.url is required", phase))
		}
	case model.PhaseSynthesis:
		if c.Anthropic.Key != "" && c.Anthropic.Model == "" {
			problems = append(problems, "anthropic.model is required when anthropic.key is set")
		}
	case model.PhaseWeb:
	default:
		problems = append(problems, fmt.Sprintf("unknown phase %q", phase))
	}

	if len(problems) > 0 {
		return eris.Wrap(ErrMissingSetting, strings.Join(problems, "; "))
	}
	return nil
}

func checkRatio(key string, v float64) []string {
	if v < 0 || v > 1 {
		return []string{key + " must be between 0 and 1"}
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
