package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFromEnvDefaults(t *testing.T) {
	for _, k := range []string{
		"LLM_GATEWAY_URL", "LLM_API_KEY", "LLM_MODEL", "EXTRACTION_MODEL", "GRADING_MODEL",
		"TIP_MODEL", "LLM_TEMPERATURE", "STORAGE_TYPE", "STORAGE_PATH",
		"EVENT_CONFIDENCE_THRESHOLD", "MIN_FACT_QUESTIONS", "MAX_TIPS", "RULES_PATH",
		"SCORING_RETRY_MAX_SEC", "STAGE_TIMEOUT_SEC",
	} {
		t.Setenv(k, "")
	}

	cfg := FromEnv()

	assert.Equal(t, "gpt-4o", cfg.ExtractionModel)
	assert.Equal(t, "gpt-4o", cfg.GradingModel)
	assert.Equal(t, "gpt-4o", cfg.TipModel)
	assert.Equal(t, 0.3, cfg.Temperature)
	assert.Equal(t, "filesystem", cfg.StorageType)
	assert.Equal(t, "./data", cfg.StoragePath)
	assert.Equal(t, 0.55, cfg.EventConfidenceThreshold)
	assert.Equal(t, 3, cfg.MinFactQuestions)
	assert.Equal(t, 5, cfg.MaxTips)
	assert.Equal(t, 45*time.Second, cfg.MaxRetryElapsed)
	assert.Equal(t, 60*time.Second, cfg.StageTimeout)
}

func TestFromEnvSharedModelFallback(t *testing.T) {
	t.Setenv("LLM_MODEL", "shared-model")
	t.Setenv("EXTRACTION_MODEL", "")
	t.Setenv("GRADING_MODEL", "grading-override")
	t.Setenv("TIP_MODEL", "")

	cfg := FromEnv()

	assert.Equal(t, "shared-model", cfg.ExtractionModel)
	assert.Equal(t, "grading-override", cfg.GradingModel)
	assert.Equal(t, "shared-model", cfg.TipModel)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("EVENT_CONFIDENCE_THRESHOLD", "0.8")
	t.Setenv("MIN_FACT_QUESTIONS", "5")
	t.Setenv("MAX_TIPS", "2")
	t.Setenv("STAGE_TIMEOUT_SEC", "10")

	cfg := FromEnv()

	assert.Equal(t, 0.8, cfg.EventConfidenceThreshold)
	assert.Equal(t, 5, cfg.MinFactQuestions)
	assert.Equal(t, 2, cfg.MaxTips)
	assert.Equal(t, 10*time.Second, cfg.StageTimeout)
}

func TestFromEnvIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("LLM_TEMPERATURE", "hot")
	t.Setenv("MAX_TIPS", "many")

	cfg := FromEnv()

	assert.Equal(t, 0.3, cfg.Temperature)
	assert.Equal(t, 5, cfg.MaxTips)
}

func validConfig() ScoringConfig {
	return ScoringConfig{
		LLMGatewayURL:            "https://gateway.example.com/v1/chat/completions",
		LLMAPIKey:                "key",
		StorageType:              "filesystem",
		Temperature:              0.3,
		EventConfidenceThreshold: 0.55,
	}
}

func TestValidateOK(t *testing.T) {
	assert.Empty(t, validConfig().Validate())
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := validConfig()
	cfg.LLMGatewayURL = ""
	cfg.LLMAPIKey = ""
	cfg.StorageType = "s3"
	cfg.EventConfidenceThreshold = 1.5
	cfg.Temperature = 3
	cfg.MaxTips = -1

	errs := cfg.Validate()
	assert.Len(t, errs, 6)
}

func TestMustValidatePanics(t *testing.T) {
	cfg := validConfig()
	cfg.LLMAPIKey = ""
	assert.Panics(t, func() { cfg.MustValidate() })
	assert.NotPanics(t, func() { validConfig().MustValidate() })
}
