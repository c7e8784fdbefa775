package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	ListenAddress string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	IdleTimeout   time.Duration
}

// DatabaseConfig configures the Postgres/pgvector connection.
type DatabaseConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MigrationsPath  string
}

// RedisConfig configures the L2/lock/pubsub Redis connection.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// EmbeddingConfig configures the embedding/completion provider.
type EmbeddingConfig struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
	Timeout  time.Duration
}

// RerankConfig configures the cross-encoder reranking provider.
type RerankConfig struct {
	Enabled   bool
	Provider  string
	Endpoint  string
	APIKey    string
	BatchSize int
}

// Config is the root configuration object, assembled from config.yaml plus
// RAGCORE_-prefixed environment variable overrides.
type Config struct {
	Environment string

	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Embedding  EmbeddingConfig
	Rerank     RerankConfig
	Tiered     TieredCacheConfig
	Semantic   SemanticCacheConfig
	Hybrid     HybridSearchConfig
	Orchestrator OrchestratorConfig
	Compactor  CompactorConfig
	Context    ContextConfig
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("server.listen_address", ":8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)

	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.migrations_path", "migrations")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("embedding.provider", "bedrock")
	v.SetDefault("embedding.timeout", 30*time.Second)

	v.SetDefault("rerank.enabled", true)
	v.SetDefault("rerank.batch_size", 10)
}

// Load reads configuration from configs/config.yaml (overridable via
// RAGCORE_CONFIG_FILE) layered with RAGCORE_-prefixed environment variables,
// following the teacher's viper + godotenv convention.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	configFile := os.Getenv("RAGCORE_CONFIG_FILE")
	if configFile == "" {
		configFile = "configs/config.yaml"
	}
	v.SetConfigFile(configFile)

	v.SetEnvPrefix("RAGCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read config file: %w", err)
		}
	}

	cfg := &Config{
		Environment: v.GetString("environment"),
		Server: ServerConfig{
			ListenAddress: v.GetString("server.listen_address"),
			ReadTimeout:   v.GetDuration("server.read_timeout"),
			WriteTimeout:  v.GetDuration("server.write_timeout"),
			IdleTimeout:   v.GetDuration("server.idle_timeout"),
		},
		Database: DatabaseConfig{
			DSN:             v.GetString("database.dsn"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("database.conn_max_lifetime"),
			MigrationsPath:  v.GetString("database.migrations_path"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Embedding: EmbeddingConfig{
			Provider: v.GetString("embedding.provider"),
			Model:    v.GetString("embedding.model"),
			APIKey:   v.GetString("embedding.api_key"),
			BaseURL:  v.GetString("embedding.base_url"),
			Timeout:  v.GetDuration("embedding.timeout"),
		},
		Rerank: RerankConfig{
			Enabled:   v.GetBool("rerank.enabled"),
			Provider:  v.GetString("rerank.provider"),
			Endpoint:  v.GetString("rerank.endpoint"),
			APIKey:    v.GetString("rerank.api_key"),
			BatchSize: v.GetInt("rerank.batch_size"),
		},
		Tiered:       DefaultTieredCacheConfig(),
		Semantic:     DefaultSemanticCacheConfig(),
		Hybrid:       DefaultHybridSearchConfig(),
		Orchestrator: DefaultOrchestratorConfig(),
		Compactor:    DefaultCompactorConfig(),
		Context:      DefaultContextConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Validate runs every sub-config's Validate step.
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn must be set")
	}
	if err := c.Tiered.Validate(); err != nil {
		return err
	}
	if err := c.Semantic.Validate(); err != nil {
		return err
	}
	if err := c.Hybrid.Validate(); err != nil {
		return err
	}
	if err := c.Orchestrator.Validate(); err != nil {
		return err
	}
	if err := c.Compactor.Validate(); err != nil {
		return err
	}
	return nil
}
