package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

type Config struct {
	App       AppConfig       `toml:"app"`
	LLM       LLMConfig       `toml:"llm"`
	Embedding EmbeddingConfig `toml:"embedding"`
	RAG       RAGConfig       `toml:"rag"`
	Database  DatabaseConfig  `toml:"database"`
	Qdrant    QdrantConfig    `toml:"qdrant"`
	Redis     RedisConfig     `toml:"redis"`
}

type AppConfig struct {
	Name    string `toml:"name"`
	Env     string `toml:"env"`
	Host    string `toml:"host"`
	Port    int    `toml:"port"`
	GinMode string `toml:"gin_mode"`
}

type LLMConfig struct {
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"api_key"`
	Model   string `toml:"model"`
}

// EmbeddingConfig may point at a different provider than the chat model;
// empty BaseURL/APIKey fall back to the LLM settings.
type EmbeddingConfig struct {
	BaseURL   string `toml:"base_url"`
	APIKey    string `toml:"api_key"`
	Model     string `toml:"model"`
	Dimension int    `toml:"dimension"`
}

type RAGConfig struct {
	ChunkSize     int    `toml:"chunk_size"`
	ChunkOverlap  int    `toml:"chunk_overlap"`
	TopK          int    `toml:"top_k"`
	MaxContext    int    `toml:"max_context"`
	RefusalPhrase string `toml:"refusal_phrase"`
}

type DatabaseConfig struct {
	Driver string `toml:"driver"` // "mysql" or "sqlite"
	// MySQL settings.
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	DB       string `toml:"db"`
	Params   string `toml:"params"`
	// SQLite file path.
	Path string `toml:"path"`
}

type QdrantConfig struct {
	URL         string `toml:"url"`
	APIKey      string `toml:"api_key"`
	Collection  string `toml:"collection"`
	TimeoutSecs int    `toml:"timeout_secs"`
}

// RedisConfig with an empty Addr disables the transcript cache.
type RedisConfig struct {
	Addr              string `toml:"addr"`
	Password          string `toml:"password"`
	DB                int    `toml:"db"`
	HistoryTTLSeconds int    `toml:"history_ttl_seconds"`
}

func Load() (*Config, error) {
	// Optional .env for local runs; real environment always wins.
	_ = godotenv.Load()

	cfg := defaultConfig()

	configPath := getEnv("CONFIG_FILE", "configs/config.toml")
	if _, err := os.Stat(configPath); err == nil {
		if _, err := toml.DecodeFile(configPath, cfg); err != nil {
			return nil, fmt.Errorf("decode config file failed: %w", err)
		}
	}

	overrideByEnv(cfg)

	if cfg.Embedding.BaseURL == "" {
		cfg.Embedding.BaseURL = cfg.LLM.BaseURL
	}
	if cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = cfg.LLM.APIKey
	}
	return cfg, nil
}

func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.App.Host, c.App.Port)
}

func (c *Config) DatabaseDSN() string {
	if c.Database.Driver == "sqlite" {
		return c.Database.Path
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.DB,
		c.Database.Params,
	)
}

func defaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:    "pdfchat",
			Env:     "dev",
			Host:    "0.0.0.0",
			Port:    8080,
			GinMode: "debug",
		},
		LLM: LLMConfig{
			BaseURL: "https://api.groq.com/openai/v1",
			Model:   "llama-3.1-8b-instant",
		},
		Embedding: EmbeddingConfig{
			Model:     "all-MiniLM-L6-v2",
			Dimension: 384,
		},
		RAG: RAGConfig{
			ChunkSize:    1000,
			ChunkOverlap: 200,
			TopK:         7,
			MaxContext:   20,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			Path:   "chat_history.db",
			Host:   "127.0.0.1",
			Port:   3306,
			User:   "root",
			DB:     "pdfchat",
			Params: "parseTime=true&loc=Local&charset=utf8mb4",
		},
		Qdrant: QdrantConfig{
			URL:         "http://127.0.0.1:6333",
			Collection:  "pdf_chunks",
			TimeoutSecs: 15,
		},
		Redis: RedisConfig{
			Addr:              "",
			DB:                0,
			HistoryTTLSeconds: 60,
		},
	}
}

func overrideByEnv(cfg *Config) {
	cfg.App.Name = getEnv("APP_NAME", cfg.App.Name)
	cfg.App.Env = getEnv("APP_ENV", cfg.App.Env)
	cfg.App.Host = getEnv("APP_HOST", cfg.App.Host)
	cfg.App.Port = getEnvAsInt("APP_PORT", cfg.App.Port)
	cfg.App.GinMode = getEnv("GIN_MODE", cfg.App.GinMode)

	cfg.LLM.BaseURL = getEnv("LLM_BASE_URL", cfg.LLM.BaseURL)
	cfg.LLM.APIKey = getEnv("LLM_API_KEY", cfg.LLM.APIKey)
	cfg.LLM.Model = getEnv("LLM_MODEL", cfg.LLM.Model)

	cfg.Embedding.BaseURL = getEnv("EMBEDDING_BASE_URL", cfg.Embedding.BaseURL)
	cfg.Embedding.APIKey = getEnv("EMBEDDING_API_KEY", cfg.Embedding.APIKey)
	cfg.Embedding.Model = getEnv("EMBEDDING_MODEL", cfg.Embedding.Model)
	cfg.Embedding.Dimension = getEnvAsInt("EMBEDDING_DIMENSION", cfg.Embedding.Dimension)

	cfg.RAG.ChunkSize = getEnvAsInt("RAG_CHUNK_SIZE", cfg.RAG.ChunkSize)
	cfg.RAG.ChunkOverlap = getEnvAsInt("RAG_CHUNK_OVERLAP", cfg.RAG.ChunkOverlap)
	cfg.RAG.TopK = getEnvAsInt("RAG_TOP_K", cfg.RAG.TopK)
	cfg.RAG.MaxContext = getEnvAsInt("RAG_MAX_CONTEXT", cfg.RAG.MaxContext)
	cfg.RAG.RefusalPhrase = getEnv("RAG_REFUSAL_PHRASE", cfg.RAG.RefusalPhrase)

	cfg.Database.Driver = getEnv("DB_DRIVER", cfg.Database.Driver)
	cfg.Database.Host = getEnv("DB_HOST", cfg.Database.Host)
	cfg.Database.Port = getEnvAsInt("DB_PORT", cfg.Database.Port)
	cfg.Database.User = getEnv("DB_USER", cfg.Database.User)
	cfg.Database.Password = getEnv("DB_PASSWORD", cfg.Database.Password)
	cfg.Database.DB = getEnv("DB_NAME", cfg.Database.DB)
	cfg.Database.Params = getEnv("DB_PARAMS", cfg.Database.Params)
	cfg.Database.Path = getEnv("DB_PATH", cfg.Database.Path)

	cfg.Qdrant.URL = getEnv("QDRANT_URL", cfg.Qdrant.URL)
	cfg.Qdrant.APIKey = getEnv("QDRANT_API_KEY", cfg.Qdrant.APIKey)
	cfg.Qdrant.Collection = getEnv("QDRANT_COLLECTION", cfg.Qdrant.Collection)
	cfg.Qdrant.TimeoutSecs = getEnvAsInt("QDRANT_TIMEOUT_SECS", cfg.Qdrant.TimeoutSecs)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvAsInt("REDIS_DB", cfg.Redis.DB)
	cfg.Redis.HistoryTTLSeconds = getEnvAsInt("REDIS_HISTORY_TTL_SECONDS", cfg.Redis.HistoryTTLSeconds)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}
