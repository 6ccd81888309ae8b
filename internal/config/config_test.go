package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("MODEL_PROVIDER", "groq")
	t.Setenv("GROQ_API_KEY", "gsk_test")
	t.Setenv("WHATSAPP_VERIFY_TOKEN", "verify-me")
}

func TestFromEnvDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "8000", cfg.Port)
	assert.Equal(t, "meta-llama/llama-4-scout-17b-16e-instruct", cfg.Model.ModelID)
	assert.Equal(t, "https://api.groq.com/openai/v1", cfg.Model.BaseURL)
	assert.Equal(t, 12*time.Second, cfg.ReplyDeadline)
	assert.Equal(t, 5, cfg.HistoryResponses)
	assert.Equal(t, "./derma_agent.sqlite", cfg.SessionDBPath)
	assert.Equal(t, "https://graph.facebook.com/v19.0", cfg.WhatsApp.APIBase)
	assert.False(t, cfg.Cloudinary.Enabled())
}

func TestFromEnvGemini(t *testing.T) {
	setRequired(t)
	t.Setenv("MODEL_PROVIDER", "Gemini")
	t.Setenv("GOOGLE_API_KEY", "g-key")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "gemini", cfg.Model.Provider)
	assert.Equal(t, "g-key", cfg.Model.APIKey)
	assert.Equal(t, "gemini-2.0-flash", cfg.Model.ModelID)
}

func TestFromEnvMissingRequired(t *testing.T) {
	t.Setenv("MODEL_PROVIDER", "groq")
	t.Setenv("GROQ_API_KEY", "")
	t.Setenv("WHATSAPP_VERIFY_TOKEN", "")

	_, err := FromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no API key configured")
	assert.Contains(t, err.Error(), "WHATSAPP_VERIFY_TOKEN")
}

func TestFromEnvRejectsLongReplyDeadline(t *testing.T) {
	setRequired(t)
	t.Setenv("REPLY_DEADLINE", "20s")

	_, err := FromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REPLY_DEADLINE")
}

func TestFromEnvUnknownProvider(t *testing.T) {
	setRequired(t)
	t.Setenv("MODEL_PROVIDER", "mystery")

	_, err := FromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mystery")
}

func TestFromEnvRejectsMalformedValues(t *testing.T) {
	setRequired(t)
	t.Setenv("REPLY_DEADLINE", "20")
	t.Setenv("SENDER_BURST", "lots")
	t.Setenv("TWILIO_VALIDATE_SIGNATURE", "maybe")

	_, err := FromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `REPLY_DEADLINE="20"`)
	assert.Contains(t, err.Error(), `SENDER_BURST="lots"`)
	assert.Contains(t, err.Error(), `TWILIO_VALIDATE_SIGNATURE="maybe"`)
}

func TestFromEnvResearchTools(t *testing.T) {
	setRequired(t)
	t.Setenv("PUBMED_ENABLED", "false")
	t.Setenv("NCBI_API_KEY", "ncbi-key")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.True(t, cfg.Research.WebSearch)
	assert.False(t, cfg.Research.PubMed)
	assert.Equal(t, "ncbi-key", cfg.Research.NCBIAPIKey)
	assert.Equal(t, 5, cfg.Research.PubMedResults)
}
