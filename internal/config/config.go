package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

// Tags carry both json and mapstructure: viper decodes through mapstructure,
// which does not fall back to json tags for snake_case keys.
type Config struct {
	Server       ServerConfig       `json:"server" mapstructure:"server"`
	Database     DatabaseConfig     `json:"database" mapstructure:"database"`
	LLM          LLMConfig          `json:"llm" mapstructure:"llm"`
	Embedding    EmbeddingConfig    `json:"embedding" mapstructure:"embedding"`
	Conversation ConversationConfig `json:"conversation" mapstructure:"conversation"`
	Knowledge    KnowledgeConfig    `json:"knowledge" mapstructure:"knowledge"`
	APIKey       string             `json:"api_key" mapstructure:"api_key"`
}

type ServerConfig struct {
	Host string `json:"host" mapstructure:"host"`
	Port int    `json:"port" mapstructure:"port"`
}

type DatabaseConfig struct {
	Host     string `json:"host" mapstructure:"host"`
	Port     int    `json:"port" mapstructure:"port"`
	User     string `json:"user" mapstructure:"user"`
	Password string `json:"password" mapstructure:"password"`
	Database string `json:"database" mapstructure:"database"`
	SSLMode  string `json:"sslmode" mapstructure:"sslmode"`
}

// LLMConfig configures the DeepSeek-compatible chat completion endpoint.
type LLMConfig struct {
	BaseURL     string        `json:"base_url" mapstructure:"base_url"`
	APIKey      string        `json:"api_key" mapstructure:"api_key"`
	Model       string        `json:"model" mapstructure:"model"`
	Temperature float32       `json:"temperature" mapstructure:"temperature"`
	MaxTokens   int           `json:"max_tokens" mapstructure:"max_tokens"`
	Timeout     time.Duration `json:"timeout" mapstructure:"timeout"`
	MaxRetries  int           `json:"max_retries" mapstructure:"max_retries"`
}

type EmbeddingConfig struct {
	BaseURL   string `json:"base_url" mapstructure:"base_url"`
	APIKey    string `json:"api_key" mapstructure:"api_key"`
	Model     string `json:"model" mapstructure:"model"`
	Dimension int    `json:"dimension" mapstructure:"dimension"`
}

type ConversationConfig struct {
	ContextWindow int           `json:"context_window" mapstructure:"context_window"`
	SessionTTL    time.Duration `json:"session_ttl" mapstructure:"session_ttl"`
}

type KnowledgeConfig struct {
	ChunkSize      int     `json:"chunk_size" mapstructure:"chunk_size"`
	ChunkOverlap   int     `json:"chunk_overlap" mapstructure:"chunk_overlap"`
	TopK           int     `json:"top_k" mapstructure:"top_k"`
	ScoreThreshold float64 `json:"score_threshold" mapstructure:"score_threshold"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("json")

	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	homeDir, err := os.UserHomeDir()
	if err == nil {
		viper.AddConfigPath(filepath.Join(homeDir, ".carelink"))
	}

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		// No config file: defaults plus env overrides are enough.
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	loadEnvOverrides(&cfg)

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "localhost")
	viper.SetDefault("server.port", 8000)

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "carelink")
	viper.SetDefault("database.database", "carelink")
	viper.SetDefault("database.sslmode", "disable")

	viper.SetDefault("llm.base_url", "https://api.deepseek.com/v1")
	viper.SetDefault("llm.model", "deepseek-chat")
	viper.SetDefault("llm.temperature", 0.7)
	viper.SetDefault("llm.max_tokens", 2048)
	viper.SetDefault("llm.timeout", 30*time.Second)
	viper.SetDefault("llm.max_retries", 2)

	viper.SetDefault("embedding.model", "text-embedding-3-small")
	viper.SetDefault("embedding.dimension", 1536)

	viper.SetDefault("conversation.context_window", 10)
	viper.SetDefault("conversation.session_ttl", 24*time.Hour)

	viper.SetDefault("knowledge.chunk_size", 500)
	viper.SetDefault("knowledge.chunk_overlap", 50)
	viper.SetDefault("knowledge.top_k", 5)
	viper.SetDefault("knowledge.score_threshold", 0.7)
}

func loadEnvOverrides(cfg *Config) {
	if port := os.Getenv("CARELINK_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if host := os.Getenv("CARELINK_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if key := os.Getenv("CARELINK_API_KEY"); key != "" {
		cfg.APIKey = key
	}

	if dbHost := os.Getenv("POSTGRES_HOST"); dbHost != "" {
		cfg.Database.Host = dbHost
	}
	if dbPort := os.Getenv("POSTGRES_PORT"); dbPort != "" {
		if port, err := strconv.Atoi(dbPort); err == nil {
			cfg.Database.Port = port
		}
	}
	if dbUser := os.Getenv("POSTGRES_USER"); dbUser != "" {
		cfg.Database.User = dbUser
	}
	if dbPass := os.Getenv("POSTGRES_PASSWORD"); dbPass != "" {
		cfg.Database.Password = dbPass
	}
	if dbName := os.Getenv("POSTGRES_DB"); dbName != "" {
		cfg.Database.Database = dbName
	}

	if key := os.Getenv("DEEPSEEK_API_KEY"); key != "" {
		cfg.LLM.APIKey = key
		if cfg.Embedding.APIKey == "" {
			cfg.Embedding.APIKey = key
		}
	}
	if base := os.Getenv("DEEPSEEK_API_BASE"); base != "" {
		cfg.LLM.BaseURL = base
	}
	if key := os.Getenv("EMBEDDING_API_KEY"); key != "" {
		cfg.Embedding.APIKey = key
	}
	if base := os.Getenv("EMBEDDING_API_BASE"); base != "" {
		cfg.Embedding.BaseURL = base
	}
}
