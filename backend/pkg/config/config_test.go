package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("NEO4J_URI", "")
	t.Setenv("DB_DRIVER", "")
	t.Setenv("GRAPH_BASE_NAME", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, "kg", cfg.GraphBaseName)
	assert.False(t, cfg.GraphEnabled())
	assert.InDelta(t, 0.3, cfg.ExtractionTemperature, 1e-9)
	assert.Equal(t, 2000, cfg.ExtractionMaxTokens)
}

func TestLoad_ZeroTemperature(t *testing.T) {
	t.Setenv("NEO4J_URI", "")
	t.Setenv("DB_DRIVER", "")
	t.Setenv("GRAPH_BASE_NAME", "")
	t.Setenv("EXTRACTION_TEMPERATURE", "0")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Zero(t, cfg.ExtractionTemperature)
}

func TestValidate_RejectsUnderscoreBaseName(t *testing.T) {
	cfg := &Config{
		DBDriver:              "sqlite",
		DatabaseDSN:           "x.db",
		GraphBaseName:         "k_g",
		LLMBaseURL:            "http://localhost",
		ModelID:               "m",
		ExtractionTemperature: 0.3,
		ExtractionMaxTokens:   100,
	}
	assert.Error(t, cfg.Validate())

	cfg.GraphBaseName = "kg"
	assert.NoError(t, cfg.Validate())

	cfg.DBDriver = "mysql"
	assert.Error(t, cfg.Validate())
}

func TestParsePromptOverrides(t *testing.T) {
	data := []byte(`
projects:
  p-1:
    extraction_prompt: |
      Focus on vendor commitments.
  p-2:
    extraction_prompt: "   "
`)
	overrides, err := ParsePromptOverrides(data)
	require.NoError(t, err)
	assert.Equal(t, "Focus on vendor commitments.", overrides["p-1"])
	_, ok := overrides["p-2"]
	assert.False(t, ok)
}
