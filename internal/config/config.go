package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"

	"github.com/iammorganparry/agentmem/internal/backend"
	"github.com/iammorganparry/agentmem/internal/embedding"
	"github.com/iammorganparry/agentmem/internal/models"
)

// FileEnv names the variable holding an optional YAML config file path.
const FileEnv = "AGENTMEM_CONFIG"

type Config struct {
	Port int    `yaml:"port"`
	// Store selection
	Backend          string        `yaml:"backend"`
	DBPath           string        `yaml:"db_path"`
	QdrantURL        string        `yaml:"qdrant_url"`
	QdrantAPIKey     string        `yaml:"qdrant_api_key"`
	QdrantCollection string        `yaml:"qdrant_collection"`
	PostgresURL      string        `yaml:"postgres_url"`
	StoreTimeout     time.Duration `yaml:"store_timeout"`
	// Embedding
	EmbeddingProvider  string `yaml:"embedding_provider"`
	EmbeddingModel     string `yaml:"embedding_model"`
	EmbeddingDim       int    `yaml:"embedding_dim"`
	EmbeddingBaseURL   string `yaml:"embedding_base_url"`
	OpenAIAPIKey       string `yaml:"openai_api_key"`
	EmbeddingCacheSize int64  `yaml:"embedding_cache_size"`
	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	// HTTP adapter
	APIKey string `yaml:"api_key"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	return &Config{
		Port:               8741,
		DBPath:             "agent_memory.db",
		QdrantCollection:   "agent_memory",
		StoreTimeout:       30 * time.Second,
		EmbeddingProvider:  "hash",
		EmbeddingDim:       embedding.DefaultDimension,
		EmbeddingCacheSize: 10000,
		LogLevel:           "info",
		LogFormat:          "console",
	}
}

// Load reads defaults, then the YAML file named by AGENTMEM_CONFIG, then
// environment variables. Later sources win.
func Load() (*Config, error) {
	return LoadFrom(os.Getenv(FileEnv))
}

// LoadFrom is Load with an explicit YAML path. An empty path skips the file.
func LoadFrom(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, goerr.Wrap(err, "config validation")
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return goerr.Wrap(err, "failed to read config file", goerr.V("file", path))
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return goerr.Wrap(err, "failed to parse YAML config", goerr.V("file", path))
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = envInt("PORT", c.Port)
	c.Backend = envStr("MEMORY_BACKEND", c.Backend)
	c.DBPath = envStr("MEMORY_DB_PATH", c.DBPath)
	c.QdrantURL = envStr("QDRANT_URL", c.QdrantURL)
	c.QdrantAPIKey = envStr("QDRANT_API_KEY", c.QdrantAPIKey)
	c.QdrantCollection = envStr("QDRANT_COLLECTION", c.QdrantCollection)
	c.PostgresURL = envStr("POSTGRES_URL", envStr("DATABASE_URL", c.PostgresURL))
	c.StoreTimeout = envDuration("STORE_TIMEOUT", c.StoreTimeout)
	c.EmbeddingProvider = envStr("EMBEDDING_PROVIDER", c.EmbeddingProvider)
	c.EmbeddingModel = envStr("EMBEDDING_MODEL", c.EmbeddingModel)
	c.EmbeddingDim = envInt("EMBEDDING_DIM", c.EmbeddingDim)
	c.EmbeddingBaseURL = envStr("EMBEDDING_BASE_URL", c.EmbeddingBaseURL)
	c.OpenAIAPIKey = envStr("OPENAI_API_KEY", c.OpenAIAPIKey)
	c.EmbeddingCacheSize = int64(envInt("EMBEDDING_CACHE_SIZE", int(c.EmbeddingCacheSize)))
	c.LogLevel = envStr("LOG_LEVEL", c.LogLevel)
	c.LogFormat = envStr("LOG_FORMAT", c.LogFormat)
	c.APIKey = envStr("MEMORY_API_KEY", c.APIKey)
}

func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return models.Configuration("PORT must be between 1 and 65535", "port", c.Port)
	}
	if c.EmbeddingDim < 1 {
		return models.Configuration("EMBEDDING_DIM must be positive", "embedding_dim", c.EmbeddingDim)
	}
	if c.StoreTimeout <= 0 {
		return models.Configuration("STORE_TIMEOUT must be positive", "store_timeout", c.StoreTimeout)
	}
	if c.EmbeddingCacheSize < 0 {
		return models.Configuration("EMBEDDING_CACHE_SIZE must not be negative", "embedding_cache_size", c.EmbeddingCacheSize)
	}
	switch strings.ToLower(c.LogFormat) {
	case "console", "json":
	default:
		return models.Configuration("LOG_FORMAT must be console or json", "log_format", c.LogFormat)
	}
	return nil
}

// StoreSettings is the selector input derived from this configuration.
func (c *Config) StoreSettings() backend.Settings {
	return backend.Settings{
		Explicit:         c.Backend,
		SQLitePath:       c.DBPath,
		QdrantURL:        c.QdrantURL,
		QdrantAPIKey:     c.QdrantAPIKey,
		QdrantCollection: c.QdrantCollection,
		PostgresURL:      c.PostgresURL,
		Timeout:          c.StoreTimeout,
	}
}

// Embedding is the embedder configuration derived from this configuration.
func (c *Config) Embedding() embedding.Config {
	return embedding.Config{
		Provider:  c.EmbeddingProvider,
		Dimension: c.EmbeddingDim,
		Model:     c.EmbeddingModel,
		BaseURL:   c.EmbeddingBaseURL,
		APIKey:    c.OpenAIAPIKey,
		CacheSize: c.EmbeddingCacheSize,
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// envDuration accepts Go durations ("45s") or a bare number of seconds.
func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
