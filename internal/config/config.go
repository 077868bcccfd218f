// Package config loads service configuration from defaults, an optional
// .env file, and DOCBOT_* environment variables (highest precedence).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/docbot-ai/docbot/internal/openai"
)

type Config struct {
	Server     ServerConfig
	OpenAI     OpenAIConfig
	ElevenLabs ElevenLabsConfig
	Storage    StorageConfig
	Vectors    VectorConfig
	API        APIConfig
	Log        LogConfig
}

type ServerConfig struct {
	Port    int
	MCPPort int
}

type OpenAIConfig struct {
	BaseURL    string
	APIKey     string
	ChatModel  string
	EmbedModel string
}

type ElevenLabsConfig struct {
	BaseURL string
	APIKey  string
}

type StorageConfig struct {
	DataDir string
}

// VectorConfig selects the similarity-search backend. "sqlite" keeps vectors
// in the service database; "qdrant" uses an external Qdrant instance.
type VectorConfig struct {
	Backend          string
	QdrantURL        string
	QdrantAPIKey     string
	QdrantCollection string
	TopK             int
}

type APIConfig struct {
	Token string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:    4000,
			MCPPort: 4001,
		},
		OpenAI: OpenAIConfig{
			BaseURL:    openai.DefaultBaseURL,
			ChatModel:  openai.DefaultChatModel,
			EmbedModel: openai.DefaultEmbedModel,
		},
		ElevenLabs: ElevenLabsConfig{
			BaseURL: "https://api.elevenlabs.io",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Vectors: VectorConfig{
			Backend:          "sqlite",
			QdrantCollection: "chatbot_vectors",
			TopK:             4,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".docbot"
	}
	return filepath.Join(home, ".docbot")
}

// Load reads configuration. A .env file in the working directory is applied
// first (if present), then DOCBOT_* environment variables override defaults.
func Load() (Config, error) {
	// Missing .env is fine; the environment may be set directly.
	_ = godotenv.Load()
	return loadFromEnv(os.Getenv)
}

func loadFromEnv(getenv func(string) string) (Config, error) {
	cfg := defaults()

	setString(&cfg.OpenAI.APIKey, getenv("DOCBOT_OPENAI_API_KEY"))
	setString(&cfg.OpenAI.BaseURL, getenv("DOCBOT_OPENAI_BASE_URL"))
	setString(&cfg.OpenAI.ChatModel, getenv("DOCBOT_CHAT_MODEL"))
	setString(&cfg.OpenAI.EmbedModel, getenv("DOCBOT_EMBED_MODEL"))
	setString(&cfg.ElevenLabs.APIKey, getenv("DOCBOT_ELEVENLABS_API_KEY"))
	setString(&cfg.ElevenLabs.BaseURL, getenv("DOCBOT_ELEVENLABS_BASE_URL"))
	setString(&cfg.Storage.DataDir, getenv("DOCBOT_DATA_DIR"))
	setString(&cfg.Vectors.Backend, getenv("DOCBOT_VECTOR_BACKEND"))
	setString(&cfg.Vectors.QdrantURL, getenv("DOCBOT_QDRANT_URL"))
	setString(&cfg.Vectors.QdrantAPIKey, getenv("DOCBOT_QDRANT_API_KEY"))
	setString(&cfg.Vectors.QdrantCollection, getenv("DOCBOT_QDRANT_COLLECTION"))
	setString(&cfg.API.Token, getenv("DOCBOT_API_TOKEN"))
	setString(&cfg.Log.Level, getenv("DOCBOT_LOG_LEVEL"))
	if err := setInt(&cfg.Server.Port, getenv("DOCBOT_PORT")); err != nil {
		return Config{}, fmt.Errorf("parsing DOCBOT_PORT: %w", err)
	}
	if err := setInt(&cfg.Server.MCPPort, getenv("DOCBOT_MCP_PORT")); err != nil {
		return Config{}, fmt.Errorf("parsing DOCBOT_MCP_PORT: %w", err)
	}
	if err := setInt(&cfg.Vectors.TopK, getenv("DOCBOT_TOP_K")); err != nil {
		return Config{}, fmt.Errorf("parsing DOCBOT_TOP_K: %w", err)
	}

	if cfg.OpenAI.APIKey == "" {
		return Config{}, fmt.Errorf("missing required config: OpenAI API key. " +
			"Set it via environment variable DOCBOT_OPENAI_API_KEY or a .env file")
	}
	if cfg.API.Token == "" {
		return Config{}, fmt.Errorf("missing required config: API bearer token. " +
			"Set it via environment variable DOCBOT_API_TOKEN or a .env file")
	}
	switch cfg.Vectors.Backend {
	case "sqlite":
	case "qdrant":
		if cfg.Vectors.QdrantURL == "" {
			return Config{}, fmt.Errorf("vector backend %q requires DOCBOT_QDRANT_URL", cfg.Vectors.Backend)
		}
	default:
		return Config{}, fmt.Errorf("unknown vector backend %q (expected sqlite or qdrant)", cfg.Vectors.Backend)
	}

	return cfg, nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v string) error {
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return err
	}
	*dst = n
	return nil
}
