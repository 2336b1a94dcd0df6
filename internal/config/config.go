package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/speclens/internal/fetch"
	"github.com/sells-group/speclens/internal/model"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Extraction ExtractionConfig `yaml:"extraction" mapstructure:"extraction"`
	Jobs       JobsConfig       `yaml:"jobs" mapstructure:"jobs"`
	Consensus  ConsensusConfig  `yaml:"consensus" mapstructure:"consensus"`
	Normalize  NormalizeConfig  `yaml:"normalize" mapstructure:"normalize"`
	Sources    SourcesConfig    `yaml:"sources" mapstructure:"sources"`
	Fetch      FetchConfig      `yaml:"fetch" mapstructure:"fetch"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int    `yaml:"max_conns" mapstructure:"max_conns"`
}

// AnthropicConfig holds Anthropic API settings for the extraction adapter.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// ExtractionConfig configures chunking and the chunk scheduler.
type ExtractionConfig struct {
	ChunkMinRows      int     `yaml:"chunk_min_rows" mapstructure:"chunk_min_rows"`
	ChunkMaxRows      int     `yaml:"chunk_max_rows" mapstructure:"chunk_max_rows"`
	Workers           int     `yaml:"workers" mapstructure:"workers"`
	ChunkTimeoutSecs  int     `yaml:"chunk_timeout_secs" mapstructure:"chunk_timeout_secs"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int     `yaml:"burst" mapstructure:"burst"`
}

// JobsConfig configures the orchestrator.
type JobsConfig struct {
	MaxConcurrent  int `yaml:"max_concurrent" mapstructure:"max_concurrent"`
	QueueCapacity  int `yaml:"queue_capacity" mapstructure:"queue_capacity"`
	SourceWorkers  int `yaml:"source_workers" mapstructure:"source_workers"`
	RetentionHours int `yaml:"retention_hours" mapstructure:"retention_hours"`
}

// Retention returns the job retention window as a duration.
func (c JobsConfig) Retention() time.Duration {
	return time.Duration(c.RetentionHours) * time.Hour
}

// ConsensusConfig holds the triangulation defaults applied when a
// submission leaves them unset.
type ConsensusConfig struct {
	ExpertRequired bool `yaml:"expert_required" mapstructure:"expert_required"`
	MinSupport     int  `yaml:"min_support" mapstructure:"min_support"`
}

// NormalizeConfig locates the canonicalization policy.
type NormalizeConfig struct {
	SynonymFile string `yaml:"synonym_file" mapstructure:"synonym_file"`
}

// SourcesConfig wires the source datasets and the expert payload.
type SourcesConfig struct {
	// ExpertURL locates the expert payload; may contain {category_id}.
	ExpertURL string `yaml:"expert_url" mapstructure:"expert_url"`

	// Datasets lists the non-expert dataset retrieval specs.
	Datasets []fetch.DatasetSpec `yaml:"datasets" mapstructure:"datasets"`
}

// DatasetMap returns the datasets keyed by source ID.
func (s SourcesConfig) DatasetMap() map[model.SourceID]fetch.DatasetSpec {
	out := make(map[model.SourceID]fetch.DatasetSpec, len(s.Datasets))
	for _, d := range s.Datasets {
		out[d.SourceID] = d
	}
	return out
}

// FetchConfig configures the dataset downloaders.
type FetchConfig struct {
	UserAgent         string  `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs       int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries        int     `yaml:"max_retries" mapstructure:"max_retries"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
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

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SPECLENS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "speclens.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("anthropic.model", "claude-sonnet-4-5")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("extraction.chunk_min_rows", 3000)
	v.SetDefault("extraction.chunk_max_rows", 8500)
	v.SetDefault("extraction.workers", 4)
	v.SetDefault("extraction.chunk_timeout_secs", 30)
	v.SetDefault("extraction.requests_per_second", 2.0)
	v.SetDefault("extraction.burst", 4)
	v.SetDefault("jobs.max_concurrent", 10)
	v.SetDefault("jobs.queue_capacity", 256)
	v.SetDefault("jobs.source_workers", 4)
	v.SetDefault("jobs.retention_hours", 168)
	v.SetDefault("consensus.expert_required", false)
	v.SetDefault("consensus.min_support", 0)
	v.SetDefault("fetch.user_agent", "speclens/1.0")
	v.SetDefault("fetch.timeout_secs", 60)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.requests_per_second", 5.0)

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
