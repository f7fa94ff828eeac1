package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"negotiation-scoring-go/internal/logger"
	"negotiation-scoring-go/internal/types"
)

var httpClient = &http.Client{Timeout: 12 * time.Second}

// Parse decodes a transcript document delivered by the transport layer and
// runs the structural checks. A transcript that fails here is a fatal input
// error; nothing downstream runs.
func Parse(data []byte) (types.RawTranscript, error) {
	var t types.RawTranscript
	if err := json.Unmarshal(data, &t); err != nil {
		return types.RawTranscript{}, fmt.Errorf("decode transcript: %w", err)
	}
	if err := Validate(t); err != nil {
		return types.RawTranscript{}, err
	}
	if t.SessionDuration == 0 && t.SessionEndTime > t.SessionStartTime {
		t.SessionDuration = t.SessionEndTime - t.SessionStartTime
	}
	return t, nil
}

// Validate enforces the structural invariants of a raw transcript: required
// identifiers, a sane time range, and contiguous 0-based turn indices.
func Validate(t types.RawTranscript) error {
	if t.SessionID == "" {
		return fmt.Errorf("transcript missing session_id")
	}
	if t.ScenarioID == "" {
		return fmt.Errorf("transcript missing scenario_id")
	}
	if t.SessionEndTime < t.SessionStartTime {
		return fmt.Errorf("session_end_time precedes session_start_time")
	}
	for i, turn := range t.Turns {
		if turn.TurnIndex != i {
			return fmt.Errorf("non-contiguous turn index: got %d at position %d", turn.TurnIndex, i)
		}
		if turn.Speaker != types.SpeakerTrainee && turn.Speaker != types.SpeakerCounterparty {
			return fmt.Errorf("turn %d has unknown speaker %q", i, turn.Speaker)
		}
	}
	return nil
}

// Fetch downloads a transcript document the transport layer published by URL.
// Transient failures are retried with exponential backoff.
func Fetch(ctx context.Context, url string) (types.RawTranscript, error) {
	log := logger.New().WithField("component", "ingest").WithField("transcript_url", url)

	var body []byte
	var lastErr error
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := httpClient.Do(req)
		if err != nil {
			lastErr = err
			return err
		}
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			lastErr = fmt.Errorf("transcript fetch failed: status=%d", resp.StatusCode)
			return backoff.Permanent(lastErr)
		}
		if resp.StatusCode >= 300 {
			lastErr = fmt.Errorf("transcript fetch failed: status=%d body=%s", resp.StatusCode, string(b))
			return lastErr
		}
		body = b
		lastErr = nil
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 20 * time.Second
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		if lastErr != nil {
			log.WithError(lastErr).Error("transcript fetch gave up")
			return types.RawTranscript{}, lastErr
		}
		return types.RawTranscript{}, err
	}
	return Parse(body)
}
