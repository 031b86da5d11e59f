// Package config loads convel configuration from environment variables.
package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Provider identifies an embedding / LLM backend.
type Provider string

const (
	ProviderOllama Provider = "ollama"
	ProviderOpenAI Provider = "openai"
)

// Config holds all configuration values.
type Config struct {
	// SurrealDB knowledge base connection
	SurrealDBURL       string
	SurrealDBNamespace string
	SurrealDBDatabase  string
	SurrealDBUser      string
	SurrealDBPass      string
	SurrealDBAuthLevel string

	// Model assets
	ModelsDir string // install root for downloaded model directories
	MDModel   string // mention detection model name
	PEModel   string // personal-entity antecedent scorer model name

	// Linking behaviour
	Threshold   float64 // personal-entity acceptance threshold
	EDMinScore  float64 // minimum disambiguation score to emit a link
	PriorWeight float64 // weight of the commonness prior vs. context score

	// Embeddings for disambiguation context scoring
	EmbedProvider  Provider
	EmbedModel     string
	EmbedDimension int
	OllamaHost     string
	OpenAIAPIKey   string

	// Optional LLM reranker ("" disables it)
	LLMProvider Provider
	LLMModel    string

	// Server
	ServerPort string

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// Load reads configuration from environment variables.
// Defaults mirror the original REL conversational setup (wiki_2019,
// threshold 0).
func Load() Config {
	return Config{
		SurrealDBURL:       getEnv("SURREALDB_URL", "ws://localhost:8000/rpc"),
		SurrealDBNamespace: getEnv("SURREALDB_NAMESPACE", "rel"),
		SurrealDBDatabase:  getEnv("SURREALDB_DATABASE", "wiki_2019"),
		SurrealDBUser:      getEnv("SURREALDB_USER", "root"),
		SurrealDBPass:      getEnv("SURREALDB_PASS", "root"),
		SurrealDBAuthLevel: getEnv("SURREALDB_AUTH_LEVEL", "root"),

		ModelsDir: getEnv("CONVEL_MODELS_DIR", defaultModelsDir()),
		MDModel:   getEnv("CONVEL_MD_MODEL", "bert-conv-td"),
		PEModel:   getEnv("CONVEL_PE_MODEL", "s2e-ast-onto"),

		Threshold:   getEnvFloat("CONVEL_THRESHOLD", 0),
		EDMinScore:  getEnvFloat("CONVEL_ED_MIN_SCORE", 0),
		PriorWeight: getEnvFloat("CONVEL_ED_PRIOR_WEIGHT", 0.6),

		EmbedProvider:  Provider(getEnv("CONVEL_EMBED_PROVIDER", string(ProviderOllama))),
		EmbedModel:     getEnv("CONVEL_EMBED_MODEL", "all-minilm:l6-v2"),
		EmbedDimension: getEnvInt("CONVEL_EMBED_DIMENSION", 384),
		OllamaHost:     getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OpenAIAPIKey:   os.Getenv("OPENAI_API_KEY"),

		LLMProvider: Provider(os.Getenv("CONVEL_LLM_PROVIDER")),
		LLMModel:    getEnv("CONVEL_LLM_MODEL", "llama3.2"),

		ServerPort: getEnv("CONVEL_SERVER_PORT", "8475"),

		LogFile:  getEnv("CONVEL_LOG_FILE", "/tmp/convel.log"),
		LogLevel: parseLogLevel(getEnv("CONVEL_LOG_LEVEL", "INFO")),
	}
}

// MDModelDir returns the install directory of the mention detection model.
func (c Config) MDModelDir() string {
	return filepath.Join(c.ModelsDir, c.MDModel)
}

// PEModelDir returns the install directory of the antecedent scorer model.
func (c Config) PEModelDir() string {
	return filepath.Join(c.ModelsDir, c.PEModel)
}

func defaultModelsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "models"
	}
	return filepath.Join(home, ".convel", "models")
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
