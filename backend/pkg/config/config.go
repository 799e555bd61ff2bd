package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	// App
	Port     string
	Env      string
	LogLevel string

	// Relational store
	DBDriver    string // sqlite or postgres
	DatabaseDSN string

	// Neo4j (optional; empty URI disables the graph)
	Neo4jURI      string
	Neo4jUser     string
	Neo4jPassword string
	Neo4jDatabase string
	GraphBaseName string

	// AI
	LLMBaseURL            string
	LLMAPIKey             string
	ModelID               string
	EmbeddingModelID      string
	ExtractionTemperature float64
	ExtractionMaxTokens   int
	ContextCharBudget     int

	// Redis (optional; status broadcast + audit stream)
	RedisAddr    string
	RedisChannel string

	// Scheduled orphan graph cleanup, cron syntax. Empty disables it.
	OrphanCleanupSchedule string

	// YAML file mapping project id to a custom extraction prompt
	PromptOverridesFile string
	PromptOverrides     map[string]string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()

	cfg := &Config{
		Port:                  getEnv("PORT", "8080"),
		Env:                   getEnv("ENV", "development"),
		LogLevel:              getEnv("LOG_LEVEL", ""),
		DBDriver:              getEnv("DB_DRIVER", "sqlite"),
		DatabaseDSN:           getEnv("DATABASE_DSN", "projectbrain.db"),
		Neo4jURI:              getEnv("NEO4J_URI", ""),
		Neo4jUser:             getEnv("NEO4J_USER", "neo4j"),
		Neo4jPassword:         getEnv("NEO4J_PASSWORD", ""),
		Neo4jDatabase:         getEnv("NEO4J_DATABASE", ""),
		GraphBaseName:         getEnv("GRAPH_BASE_NAME", "kg"),
		LLMBaseURL:            getEnv("LLM_BASE_URL", "http://localhost:4000"),
		LLMAPIKey:             getEnv("LLM_API_KEY", ""),
		ModelID:               getEnv("MODEL_ID", "gpt-4o-mini"),
		EmbeddingModelID:      getEnv("EMBEDDING_MODEL_ID", "text-embedding-3-small"),
		ExtractionTemperature: getEnvFloat("EXTRACTION_TEMPERATURE", 0.3),
		ExtractionMaxTokens:   getEnvInt("EXTRACTION_MAX_TOKENS", 2000),
		ContextCharBudget:     getEnvInt("CONTEXT_CHAR_BUDGET", 4000),
		RedisAddr:             getEnv("REDIS_ADDR", ""),
		RedisChannel:          getEnv("REDIS_CHANNEL", "projectbrain.events"),
		OrphanCleanupSchedule: getEnv("ORPHAN_CLEANUP_SCHEDULE", ""),
		PromptOverridesFile:   getEnv("PROMPT_OVERRIDES_FILE", ""),
	}

	if cfg.PromptOverridesFile != "" {
		overrides, err := LoadPromptOverrides(cfg.PromptOverridesFile)
		if err != nil {
			return nil, err
		}
		cfg.PromptOverrides = overrides
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration values are set
func (c *Config) Validate() error {
	switch c.DBDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("DB_DRIVER must be sqlite or postgres, got %q", c.DBDriver)
	}
	if c.DatabaseDSN == "" {
		return fmt.Errorf("DATABASE_DSN is required")
	}
	if c.GraphBaseName == "" || strings.Contains(c.GraphBaseName, "_") {
		return fmt.Errorf("GRAPH_BASE_NAME must be non-empty and contain no underscore")
	}
	if c.LLMBaseURL == "" {
		return fmt.Errorf("LLM_BASE_URL is required")
	}
	if c.ModelID == "" {
		return fmt.Errorf("MODEL_ID is required")
	}
	if c.ExtractionTemperature < 0 || c.ExtractionTemperature > 1 {
		return fmt.Errorf("EXTRACTION_TEMPERATURE must be within [0,1]")
	}
	if c.ExtractionMaxTokens <= 0 {
		return fmt.Errorf("EXTRACTION_MAX_TOKENS must be positive")
	}
	// Neo4j and Redis are optional
	return nil
}

// GraphEnabled reports whether a graph backend is configured.
func (c *Config) GraphEnabled() bool {
	return c.Neo4jURI != ""
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

type promptOverridesFile struct {
	Projects map[string]struct {
		ExtractionPrompt string `yaml:"extraction_prompt"`
	} `yaml:"projects"`
}

// LoadPromptOverrides reads a YAML file of the form
//
//	projects:
//	  <project-id>:
//	    extraction_prompt: |
//	      ...
func LoadPromptOverrides(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompt overrides: %w", err)
	}
	return ParsePromptOverrides(data)
}

// ParsePromptOverrides decodes prompt override YAML.
func ParsePromptOverrides(data []byte) (map[string]string, error) {
	var file promptOverridesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse prompt overrides: %w", err)
	}
	out := make(map[string]string, len(file.Projects))
	for projectID, p := range file.Projects {
		if prompt := strings.TrimSpace(p.ExtractionPrompt); prompt != "" {
			out[projectID] = prompt
		}
	}
	return out, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var result float64
		if _, err := fmt.Sscanf(value, "%f", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}
