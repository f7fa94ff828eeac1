package llm

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"negotiation-scoring-go/internal/config"
	"negotiation-scoring-go/internal/logger"
)

// Request is one structured-completion call: a named prompt, the rendered
// prompt text, and the schema the response must conform to.
type Request struct {
	PromptName  string
	Prompt      string
	Schema      *Schema
	Model       string
	Temperature float64
}

// Completer is the capability boundary for language-model calls. Stages take
// a Completer so tests can substitute a deterministic fake.
type Completer interface {
	Complete(ctx context.Context, req Request) (json.RawMessage, error)
}

// GatewayClient talks to an OpenAI-compatible chat completions endpoint.
type GatewayClient struct {
	url             string
	apiKey          string
	maxRetryElapsed time.Duration
	httpClient      *http.Client
}

func NewGatewayClient(cfg config.ScoringConfig) *GatewayClient {
	return &GatewayClient{
		url:             cfg.LLMGatewayURL,
		apiKey:          cfg.LLMAPIKey,
		maxRetryElapsed: cfg.MaxRetryElapsed,
		httpClient:      &http.Client{Timeout: 30 * time.Second},
	}
}

// Complete sends the prompt, retries transient failures with exponential
// backoff, extracts the first balanced JSON object from the response, and
// validates it against the request schema before returning it.
func (c *GatewayClient) Complete(ctx context.Context, req Request) (json.RawMessage, error) {
	log := logger.New().WithField("component", "llm-gateway").WithField("prompt", req.PromptName)

	if c.url == "" || c.apiKey == "" {
		return nil, fmt.Errorf("llm gateway not configured")
	}

	reqBody := map[string]any{
		"model": req.Model,
		"messages": []map[string]string{
			{"role": "user", "content": req.Prompt},
		},
		"temperature": req.Temperature,
		"response_format": map[string]string{
			"type": "json_object",
		},
	}
	data, _ := json.Marshal(reqBody)

	var out json.RawMessage
	var lastErr error

	op := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, "POST", c.url, bytes.NewReader(data))
		if err != nil {
			return backoff.Permanent(err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			lastErr = err
			log.WithError(err).Warn("llm request failed")
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)
		log.WithField("http_status", resp.StatusCode).Debug("llm response received")

		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			lastErr = fmt.Errorf("llm client error: status=%d body=%s", resp.StatusCode, string(body))
			return backoff.Permanent(lastErr)
		}
		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("llm server error: status=%d", resp.StatusCode)
			return lastErr
		}

		raw := extractContentFromChoices(body)
		if raw == "" {
			raw = extractJSON(string(body))
		}
		if raw == "" {
			lastErr = fmt.Errorf("no JSON found in llm output")
			return lastErr
		}

		if req.Schema != nil {
			if err := req.Schema.ValidateJSON([]byte(raw)); err != nil {
				// malformed structure from the model is worth one more try
				lastErr = fmt.Errorf("llm response failed schema validation: %w", err)
				log.WithError(err).Warn("schema validation failed")
				return lastErr
			}
		}

		out = json.RawMessage(raw)
		lastErr = nil
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = c.maxRetryElapsed

	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		if lastErr != nil {
			return nil, fmt.Errorf("llm call %q failed: %w", req.PromptName, lastErr)
		}
		return nil, fmt.Errorf("llm call %q failed: %w", req.PromptName, err)
	}
	return out, nil
}

// PromptHash returns the hex SHA-256 of a prompt template, recorded in
// scoring metadata so a report's exact prompts can be reproduced later.
func PromptHash(template string) string {
	sum := sha256.Sum256([]byte(template))
	return hex.EncodeToString(sum[:])
}

// extractContentFromChoices reads openai-style choices[0].message.content
// and pulls the first JSON object out of it.
func extractContentFromChoices(body []byte) string {
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		return ""
	}
	choices, ok := obj["choices"].([]any)
	if !ok || len(choices) == 0 {
		return ""
	}
	c0, _ := choices[0].(map[string]any)
	if c0 == nil {
		return ""
	}
	msg, _ := c0["message"].(map[string]any)
	if msg == nil {
		return ""
	}
	content, _ := msg["content"].(string)
	return extractJSON(content)
}

// extractJSON finds the first balanced JSON object in a string and returns it.
// It strips common markdown fences first.
func extractJSON(s string) string {
	if s == "" {
		return ""
	}

	s = strings.ReplaceAll(s, "\r\n", "\n")

	// Remove markdown fences (commonly output by LLMs)
	for _, r := range []string{"```json", "```yaml", "```text", "```", "`json", "`"} {
		s = strings.ReplaceAll(s, r, "")
	}

	start := strings.Index(s, "{")
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				candidate := strings.TrimSpace(s[start : i+1])
				var tmp any
				if json.Unmarshal([]byte(candidate), &tmp) == nil {
					return candidate
				}
				return ""
			}
		}
	}

	return ""
}
