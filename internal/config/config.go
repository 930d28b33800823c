// Package config provides unified configuration loading for the legislative engine.
// Supports YAML files, environment variables, and programmatic overrides.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds all configuration for the legislative engine.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Cache         CacheConfig         `yaml:"cache"`
	Embedding     EmbeddingConfig     `yaml:"embedding"`
	Generation    GenerationConfig    `yaml:"generation"`
	Index         IndexConfig         `yaml:"index"`
	Planner       PlannerConfig       `yaml:"planner"`
	Executor      ExecutorConfig      `yaml:"executor"`
	Merger        MergerConfig        `yaml:"merger"`
	Fallback      FallbackConfig      `yaml:"fallback"`
	Indexer       IndexerConfig       `yaml:"indexer"`
	Linker        LinkerConfig        `yaml:"linker"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Driver   string         `yaml:"driver"` // sqlite or postgres
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	Path         string `yaml:"path"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	JournalMode  string `yaml:"journal_mode"`
}

// PostgresConfig holds Postgres-specific settings.
type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// CacheConfig holds answer cache settings.
type CacheConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Driver     string        `yaml:"driver"` // memory or redis
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
	Redis      RedisConfig   `yaml:"redis"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// EmbeddingConfig holds embedding API settings.
type EmbeddingConfig struct {
	Provider   string        `yaml:"provider"` // openrouter or mock
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"`
	Model      string        `yaml:"model"`
	Dimension  int           `yaml:"dimension"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// GenerationConfig holds answer generation settings.
type GenerationConfig struct {
	Provider       string        `yaml:"provider"` // openrouter or extractive
	BaseURL        string        `yaml:"base_url"`
	APIKey         string        `yaml:"api_key"`
	Model          string        `yaml:"model"`
	Temperature    float64       `yaml:"temperature"`
	MaxTokens      int           `yaml:"max_tokens"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	MaxPromptBytes int           `yaml:"max_prompt_bytes"`
}

// IndexConfig holds similarity index settings.
type IndexConfig struct {
	Fingerprint FingerprintConfig `yaml:"fingerprint"`
}

// FingerprintConfig holds the weighted-jaccard weights. Weights must sum to 1.0.
type FingerprintConfig struct {
	TopicsWeight      float64 `yaml:"topics_weight"`
	PolicyAreasWeight float64 `yaml:"policy_areas_weight"`
	EntitiesWeight    float64 `yaml:"entities_weight"`
	ScopeBonus        float64 `yaml:"scope_bonus"`
}

// PlannerConfig holds query planner settings.
type PlannerConfig struct {
	MaxPlans            int `yaml:"max_plans"`
	DefaultLookbackDays int `yaml:"default_lookback_days"`
	RowLimit            int `yaml:"row_limit"`
}

// ExecutorConfig holds query execution and scoring settings.
type ExecutorConfig struct {
	PlanTimeout    time.Duration `yaml:"plan_timeout"`
	MaxConcurrency int           `yaml:"max_concurrency"`
	Quality        QualityConfig `yaml:"quality"`
}

// QualityConfig weights the three quality signals.
type QualityConfig struct {
	CompletenessWeight float64       `yaml:"completeness_weight"`
	FreshnessWeight    float64       `yaml:"freshness_weight"`
	VolumeWeight       float64       `yaml:"volume_weight"`
	FreshnessHorizon   time.Duration `yaml:"freshness_horizon"`
}

// MergerConfig holds evidence merger settings.
type MergerConfig struct {
	MaxItems int `yaml:"max_items"`
}

// FallbackConfig holds the escalation ladder settings.
type FallbackConfig struct {
	FastConfidence    float64     `yaml:"fast_confidence"`
	PrimaryCategories int         `yaml:"primary_categories"`
	Fast              StageConfig `yaml:"fast"`
	Standard          StageConfig `yaml:"standard"`
	Deep              StageConfig `yaml:"deep"`
}

// StageConfig holds per-stage halting and search breadth.
type StageConfig struct {
	QualityThreshold float64 `yaml:"quality_threshold"`
	SearchLimit      int     `yaml:"search_limit"`
	SearchThreshold  float64 `yaml:"search_threshold"`
}

// IndexerConfig holds offline indexing settings.
type IndexerConfig struct {
	BatchSize         int           `yaml:"batch_size"`
	MaxConcurrency    int           `yaml:"max_concurrency"`
	BatchDelay        time.Duration `yaml:"batch_delay"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	MaxRetries        int           `yaml:"max_retries"`
	RetryBaseDelay    time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay     time.Duration `yaml:"retry_max_delay"`
}

// LinkerConfig holds entity-link settings.
type LinkerConfig struct {
	BaseURL string `yaml:"base_url"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	ServiceName string `yaml:"service_name"`
}

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for development.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8086,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     90 * time.Second,
			IdleTimeout:      120 * time.Second,
			RequestTimeout:   60 * time.Second,
			GracefulShutdown: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{
				Path:         "/tmp/legislative-engine.db",
				MaxOpenConns: 1,
				JournalMode:  "WAL",
			},
			Postgres: PostgresConfig{
				MaxOpenConns:    25,
				MaxIdleConns:    5,
				ConnMaxLifetime: 5 * time.Minute,
			},
		},
		Cache: CacheConfig{
			Enabled:    true,
			Driver:     "memory",
			TTL:        10 * time.Minute,
			MaxEntries: 5000,
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				PoolSize: 10,
			},
		},
		Embedding: EmbeddingConfig{
			Provider:   "openrouter",
			BaseURL:    "https://openrouter.ai/api/v1",
			Model:      "openai/text-embedding-3-small",
			Dimension:  1536,
			Timeout:    30 * time.Second,
			MaxRetries: 3,
		},
		Generation: GenerationConfig{
			Provider:       "openrouter",
			BaseURL:        "https://openrouter.ai/api/v1",
			Model:          "anthropic/claude-3.5-haiku",
			Temperature:    0.2,
			MaxTokens:      1200,
			Timeout:        60 * time.Second,
			MaxRetries:     3,
			MaxPromptBytes: 24000,
		},
		Index: IndexConfig{
			Fingerprint: FingerprintConfig{
				TopicsWeight:      0.4,
				PolicyAreasWeight: 0.35,
				EntitiesWeight:    0.25,
				ScopeBonus:        0.1,
			},
		},
		Planner: PlannerConfig{
			MaxPlans:            5,
			DefaultLookbackDays: 365,
			RowLimit:            25,
		},
		Executor: ExecutorConfig{
			PlanTimeout:    5 * time.Second,
			MaxConcurrency: 4,
			Quality: QualityConfig{
				CompletenessWeight: 0.4,
				FreshnessWeight:    0.2,
				VolumeWeight:       0.4,
				FreshnessHorizon:   365 * 24 * time.Hour,
			},
		},
		Merger: MergerConfig{
			MaxItems: 30,
		},
		Fallback: FallbackConfig{
			FastConfidence:    0.9,
			PrimaryCategories: 2,
			Fast:              StageConfig{QualityThreshold: 0.6, SearchLimit: 5, SearchThreshold: 0.6},
			Standard:          StageConfig{QualityThreshold: 0.5, SearchLimit: 10, SearchThreshold: 0.45},
			Deep:              StageConfig{QualityThreshold: 0.35, SearchLimit: 25, SearchThreshold: 0.3},
		},
		Indexer: IndexerConfig{
			BatchSize:         50,
			MaxConcurrency:    2,
			BatchDelay:        500 * time.Millisecond,
			RequestsPerSecond: 2,
			Burst:             2,
			MaxRetries:        4,
			RetryBaseDelay:    time.Second,
			RetryMaxDelay:     30 * time.Second,
		},
		Linker: LinkerConfig{
			BaseURL: "",
		},
		Observability: ObservabilityConfig{
			LogLevel:    "info",
			LogFormat:   "json",
			ServiceName: "legislative-engine",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return invalid("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Database.Driver != "sqlite" && c.Database.Driver != "postgres" {
		return invalid("unknown database driver %q", c.Database.Driver)
	}

	if c.Cache.Driver != "memory" && c.Cache.Driver != "redis" {
		return invalid("unknown cache driver %q", c.Cache.Driver)
	}

	if c.Embedding.Provider != "openrouter" && c.Embedding.Provider != "mock" {
		return invalid("unknown embedding provider %q", c.Embedding.Provider)
	}

	if c.Embedding.Dimension < 1 {
		return invalid("embedding.dimension must be positive")
	}

	if c.Generation.Provider != "openrouter" && c.Generation.Provider != "extractive" {
		return invalid("unknown generation provider %q", c.Generation.Provider)
	}

	fp := c.Index.Fingerprint
	if err := checkWeights("index.fingerprint", fp.TopicsWeight, fp.PolicyAreasWeight, fp.EntitiesWeight); err != nil {
		return err
	}
	if fp.ScopeBonus < 0 {
		return invalid("index.fingerprint.scope_bonus must not be negative")
	}

	if c.Planner.MaxPlans < 1 {
		return invalid("planner.max_plans must be at least 1")
	}

	q := c.Executor.Quality
	if q.CompletenessWeight < 0 || q.FreshnessWeight < 0 || q.VolumeWeight < 0 {
		return invalid("executor.quality weights must not be negative")
	}
	if q.CompletenessWeight+q.FreshnessWeight+q.VolumeWeight == 0 {
		return invalid("executor.quality weights must not all be zero")
	}
	if q.FreshnessHorizon <= 0 {
		return invalid("executor.quality.freshness_horizon must be positive")
	}

	if c.Merger.MaxItems < 1 {
		return invalid("merger.max_items must be at least 1")
	}

	if !unit(c.Fallback.FastConfidence) {
		return invalid("fallback.fast_confidence must be within [0,1]")
	}
	for name, st := range map[string]StageConfig{
		"fast":     c.Fallback.Fast,
		"standard": c.Fallback.Standard,
		"deep":     c.Fallback.Deep,
	} {
		if !unit(st.QualityThreshold) || !unit(st.SearchThreshold) {
			return invalid("fallback.%s thresholds must be within [0,1]", name)
		}
		if st.SearchLimit < 1 {
			return invalid("fallback.%s.search_limit must be at least 1", name)
		}
	}

	if c.Indexer.BatchSize < 1 || c.Indexer.MaxConcurrency < 1 {
		return invalid("indexer.batch_size and indexer.max_concurrency must be at least 1")
	}

	return nil
}

// DatabaseDSN returns the appropriate database connection string.
func (c *Config) DatabaseDSN() string {
	if c.Database.Driver == "sqlite" {
		dsn := c.Database.SQLite.Path
		if c.Database.SQLite.JournalMode != "" && !strings.Contains(dsn, "?") {
			dsn += "?_journal_mode=" + c.Database.SQLite.JournalMode
		}
		return dsn
	}
	return c.Database.Postgres.DSN
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

func unit(v float64) bool {
	return v >= 0 && v <= 1
}

func checkWeights(section string, weights ...float64) error {
	sum := 0.0
	for _, w := range weights {
		if w < 0 {
			return invalid("%s weights must not be negative", section)
		}
		sum += w
	}
	if math.Abs(sum-1.0) > 1e-6 {
		return invalid("%s weights must sum to 1.0, got %.4f", section, sum)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		if strings.HasPrefix(v, "sqlite:") {
			cfg.Database.Driver = "sqlite"
			cfg.Database.SQLite.Path = strings.TrimPrefix(v, "sqlite:")
		} else if strings.HasPrefix(v, "postgres") {
			cfg.Database.Driver = "postgres"
			cfg.Database.Postgres.DSN = v
		}
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Cache.Driver = "redis"
		cfg.Cache.Redis.Addr = strings.TrimPrefix(v, "redis://")
	}

	if v := os.Getenv("EMBEDDING_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	} else if v := os.Getenv("OPENROUTER_API_KEY"); v != "" && cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = v
	}

	if v := os.Getenv("EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}

	if v := os.Getenv("EMBEDDING_PROVIDER"); v != "" {
		cfg.Embedding.Provider = v
	}

	if v := os.Getenv("GENERATION_API_KEY"); v != "" {
		cfg.Generation.APIKey = v
	} else if v := os.Getenv("OPENROUTER_API_KEY"); v != "" && cfg.Generation.APIKey == "" {
		cfg.Generation.APIKey = v
	}

	if v := os.Getenv("GENERATION_MODEL"); v != "" {
		cfg.Generation.Model = v
	}

	if v := os.Getenv("GENERATION_PROVIDER"); v != "" {
		cfg.Generation.Provider = v
	}

	if v := os.Getenv("LINK_BASE_URL"); v != "" {
		cfg.Linker.BaseURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
}

// ResolveRelativePath resolves a path relative to the config file location.
func ResolveRelativePath(configPath, targetPath string) string {
	if filepath.IsAbs(targetPath) {
		return targetPath
	}
	return filepath.Join(filepath.Dir(configPath), targetPath)
}
