package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ScoringConfig is the external configuration surface for a scoring job.
// Provider credentials, model selection, storage backend, and tuning knobs
// all come from the environment; nothing here is hardcoded into stages.
type ScoringConfig struct {
	// LLM gateway (OpenAI-compatible chat completions endpoint)
	LLMGatewayURL string
	LLMAPIKey     string

	// Model identifiers per pipeline stage
	ExtractionModel string
	GradingModel    string
	TipModel        string
	Temperature     float64

	// Storage
	StorageType string // "filesystem"
	StoragePath string

	// Scoring thresholds
	EventConfidenceThreshold float64
	MinFactQuestions         int
	MaxTips                  int

	// Rule table override; empty means the embedded default table
	RulesPath string

	// Retry/timeout for external calls
	MaxRetryElapsed time.Duration
	StageTimeout    time.Duration
}

// FromEnv loads configuration from environment variables, applying defaults.
func FromEnv() ScoringConfig {
	return ScoringConfig{
		LLMGatewayURL:            os.Getenv("LLM_GATEWAY_URL"),
		LLMAPIKey:                os.Getenv("LLM_API_KEY"),
		ExtractionModel:          envOr("EXTRACTION_MODEL", envOr("LLM_MODEL", "gpt-4o")),
		GradingModel:             envOr("GRADING_MODEL", envOr("LLM_MODEL", "gpt-4o")),
		TipModel:                 envOr("TIP_MODEL", envOr("LLM_MODEL", "gpt-4o")),
		Temperature:              envFloat("LLM_TEMPERATURE", 0.3),
		StorageType:              envOr("STORAGE_TYPE", "filesystem"),
		StoragePath:              envOr("STORAGE_PATH", "./data"),
		EventConfidenceThreshold: envFloat("EVENT_CONFIDENCE_THRESHOLD", 0.55),
		MinFactQuestions:         envInt("MIN_FACT_QUESTIONS", 3),
		MaxTips:                  envInt("MAX_TIPS", 5),
		RulesPath:                os.Getenv("RULES_PATH"),
		MaxRetryElapsed:          time.Duration(envFloat("SCORING_RETRY_MAX_SEC", 45)) * time.Second,
		StageTimeout:             time.Duration(envFloat("STAGE_TIMEOUT_SEC", 60)) * time.Second,
	}
}

// Validate returns every configuration problem found, empty when valid.
func (c ScoringConfig) Validate() []string {
	var errs []string
	if c.LLMGatewayURL == "" {
		errs = append(errs, "LLM_GATEWAY_URL is required")
	}
	if c.LLMAPIKey == "" {
		errs = append(errs, "LLM_API_KEY is required")
	}
	if c.StorageType != "filesystem" {
		errs = append(errs, fmt.Sprintf("unsupported STORAGE_TYPE: %s", c.StorageType))
	}
	if c.EventConfidenceThreshold < 0 || c.EventConfidenceThreshold > 1 {
		errs = append(errs, "EVENT_CONFIDENCE_THRESHOLD must be between 0 and 1")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		errs = append(errs, "LLM_TEMPERATURE must be between 0 and 2")
	}
	if c.MaxTips < 0 {
		errs = append(errs, "MAX_TIPS must not be negative")
	}
	return errs
}

// MustValidate panics on invalid configuration; used at service startup only.
func (c ScoringConfig) MustValidate() {
	if errs := c.Validate(); len(errs) > 0 {
		panic("invalid scoring configuration: " + strings.Join(errs, ", "))
	}
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envFloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
