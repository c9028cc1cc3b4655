package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	// Log configuration
	Log LogConfig `mapstructure:"log"`

	// Server configuration
	Server ServerConfig `mapstructure:"server"`

	// Database configuration
	Database DatabaseConfig `mapstructure:"database"`

	// NLP configuration
	NLP NLPConfig `mapstructure:"nlp"`

	// Embedding configuration
	Embedding EmbeddingConfig `mapstructure:"embedding"`

	Resolution ResolutionConfig `mapstructure:"resolution"`
	Search     SearchConfig     `mapstructure:"search"`
	Ingestion  IngestionConfig  `mapstructure:"ingestion"`
	Lock       LockConfig       `mapstructure:"lock"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Policy     PolicyConfig     `mapstructure:"policy"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`

	// Telemetry configuration
	Telemetry TelemetryConfig `mapstructure:"telemetry"`

	// Alert configuration
	Alert AlertConfig `mapstructure:"alert"`

	// CircuitBreaker configuration
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
}

// AlertConfig holds configuration for alerting
type AlertConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	SMTPHost string   `mapstructure:"smtp_host"`
	SMTPPort int      `mapstructure:"smtp_port"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	From     string   `mapstructure:"from"`
	To       []string `mapstructure:"to"`
	// CooldownSeconds drops repeats of the same alert within the window.
	CooldownSeconds int `mapstructure:"cooldown_seconds"`
}

// CircuitBreakerConfig holds configuration for circuit breaking
type CircuitBreakerConfig struct {
	Enabled          bool    `mapstructure:"enabled"`
	MaxRequests      uint32  `mapstructure:"max_requests"`
	Interval         int     `mapstructure:"interval"` // in seconds
	Timeout          int     `mapstructure:"timeout"`  // in seconds
	ReadyToTripRatio float64 `mapstructure:"ready_to_trip_ratio"`
}

// TelemetryConfig holds telemetry configuration
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ParquetPath string `mapstructure:"parquet_path"`
	BatchSize   int    `mapstructure:"batch_size"`
	SQLPath     string `mapstructure:"sql_path"` // optional sqlite database mirroring error records
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text or json
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // gin mode: debug, release, test
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"` // memory, sqlite, neo4j
	URI      string `mapstructure:"uri"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

// NLPConfig holds the extraction model configuration
type NLPConfig struct {
	Provider    string  `mapstructure:"provider"` // openai
	Model       string  `mapstructure:"model"`
	APIKey      string  `mapstructure:"api_key"`
	BaseURL     string  `mapstructure:"base_url"`
	Temperature float32 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	MaxRetries  int     `mapstructure:"max_retries"`
}

// EmbeddingConfig holds embedding configuration
type EmbeddingConfig struct {
	Provider   string `mapstructure:"provider"` // openai, embedeverything
	Model      string `mapstructure:"model"`
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	Dimensions int    `mapstructure:"dimensions"`
	CacheSize  int    `mapstructure:"cache_size"`
}

// ResolutionConfig holds entity resolution thresholds
type ResolutionConfig struct {
	FuzzyThreshold      float64 `mapstructure:"fuzzy_threshold"`
	StrongSimilarity    float64 `mapstructure:"strong_similarity"`
	PlausibleSimilarity float64 `mapstructure:"plausible_similarity"`
	MaxCandidates       int     `mapstructure:"max_candidates"`
}

// SearchConfig holds hybrid search defaults
type SearchConfig struct {
	DefaultK       int           `mapstructure:"default_k"`
	MaxHops        int           `mapstructure:"max_hops"`
	ChannelTimeout time.Duration `mapstructure:"channel_timeout"`
	RankConstant   int           `mapstructure:"rank_constant"`
	GraphSeedCount int           `mapstructure:"graph_seed_count"`

	// CrossEncoderProvider enables the cross_encoder reranker: embedeverything
	// or embedding. Empty disables it.
	CrossEncoderProvider string `mapstructure:"cross_encoder_provider"`
	CrossEncoderModel    string `mapstructure:"cross_encoder_model"`
}

// IngestionConfig holds pipeline settings
type IngestionConfig struct {
	PreviousEpisodes  int           `mapstructure:"previous_episodes"`
	MaxConcurrency    int           `mapstructure:"max_concurrency"`
	CommitRetries     int           `mapstructure:"commit_retries"`
	CommitInitialWait time.Duration `mapstructure:"commit_initial_wait"`
	CommitMaxWait     time.Duration `mapstructure:"commit_max_wait"`
}

// LockConfig selects the key lock backend
type LockConfig struct {
	Backend  string        `mapstructure:"backend"` // local, redis
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// CheckpointConfig holds pipeline state storage settings
type CheckpointConfig struct {
	Path     string `mapstructure:"path"`
	InMemory bool   `mapstructure:"in_memory"`
}

// PolicyConfig points at an optional relation policy YAML file
type PolicyConfig struct {
	Path string `mapstructure:"path"`
}

// MetricsConfig holds Prometheus settings
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
}

// Load loads configuration from file and environment variables
func Load() (*Config, error) {
	// Set defaults
	setDefaults()

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// Override with environment variables if present
	overrideWithEnv(config)

	return config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// Log defaults
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")

	// Server defaults
	viper.SetDefault("server.host", "localhost")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.mode", "debug")

	// Database defaults
	viper.SetDefault("database.driver", "sqlite")
	viper.SetDefault("database.uri", "./chronograph.db")
	viper.SetDefault("database.username", "")
	viper.SetDefault("database.password", "")
	viper.SetDefault("database.database", "")

	viper.SetDefault("nlp.provider", "openai")
	viper.SetDefault("nlp.model", "gpt-4o-mini")
	viper.SetDefault("nlp.temperature", 0.0)
	viper.SetDefault("nlp.max_tokens", 4096)
	viper.SetDefault("nlp.max_retries", 3)

	viper.SetDefault("embedding.provider", "embedeverything")
	viper.SetDefault("embedding.model", "sentence-transformers/all-MiniLM-L6-v2")
	viper.SetDefault("embedding.dimensions", 384)
	viper.SetDefault("embedding.cache_size", 4096)

	viper.SetDefault("resolution.fuzzy_threshold", 0.9)
	viper.SetDefault("resolution.strong_similarity", 0.95)
	viper.SetDefault("resolution.plausible_similarity", 0.80)
	viper.SetDefault("resolution.max_candidates", 10)

	viper.SetDefault("search.default_k", 10)
	viper.SetDefault("search.max_hops", 2)
	viper.SetDefault("search.channel_timeout", "2s")
	viper.SetDefault("search.rank_constant", 60)
	viper.SetDefault("search.graph_seed_count", 5)
	viper.SetDefault("search.cross_encoder_model", "BAAI/bge-reranker-base")

	viper.SetDefault("ingestion.previous_episodes", 5)
	viper.SetDefault("ingestion.max_concurrency", 4)
	viper.SetDefault("ingestion.commit_retries", 3)
	viper.SetDefault("ingestion.commit_initial_wait", "100ms")
	viper.SetDefault("ingestion.commit_max_wait", "5s")

	viper.SetDefault("lock.backend", "local")
	viper.SetDefault("lock.addr", "localhost:6379")
	viper.SetDefault("lock.ttl", "30s")

	viper.SetDefault("checkpoint.in_memory", false)

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.namespace", "chronograph")

	viper.SetDefault("circuit_breaker.enabled", true)
	viper.SetDefault("circuit_breaker.max_requests", 1)
	viper.SetDefault("circuit_breaker.interval", 60)
	viper.SetDefault("circuit_breaker.timeout", 30)
	viper.SetDefault("circuit_breaker.ready_to_trip_ratio", 0.6)

	viper.SetDefault("alert.enabled", false)
	viper.SetDefault("alert.smtp_port", 587)
	viper.SetDefault("alert.cooldown_seconds", 900)

	// Telemetry and checkpoint defaults
	viper.SetDefault("telemetry.batch_size", 100)
	home, err := os.UserHomeDir()
	if err == nil {
		viper.SetDefault("telemetry.parquet_path", fmt.Sprintf("%s/.chronograph/telemetry", home))
		viper.SetDefault("checkpoint.path", fmt.Sprintf("%s/.chronograph/checkpoints", home))
	}
}

// overrideWithEnv overrides config with environment variables
func overrideWithEnv(config *Config) {
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		if config.NLP.APIKey == "" {
			config.NLP.APIKey = apiKey
		}
		if config.Embedding.APIKey == "" {
			config.Embedding.APIKey = apiKey
		}
	}

	// Database credentials
	if uri := os.Getenv("NEO4J_URI"); uri != "" && config.Database.Driver == "neo4j" {
		config.Database.URI = uri
	}
	if user := os.Getenv("NEO4J_USER"); user != "" {
		config.Database.Username = user
	}
	if pass := os.Getenv("NEO4J_PASSWORD"); pass != "" {
		config.Database.Password = pass
	}

	// Generic database settings
	if dbDriver := os.Getenv("DB_DRIVER"); dbDriver != "" {
		config.Database.Driver = dbDriver
	}
	if dbURI := os.Getenv("DB_URI"); dbURI != "" {
		config.Database.URI = dbURI
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		config.Lock.Addr = addr
	}

	// Server settings
	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Telemetry settings
	if path := os.Getenv("TELEMETRY_PARQUET_PATH"); path != "" {
		config.Telemetry.ParquetPath = path
	}
}
