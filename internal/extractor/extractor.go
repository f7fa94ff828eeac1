package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"negotiation-scoring-go/internal/config"
	"negotiation-scoring-go/internal/llm"
	"negotiation-scoring-go/internal/logger"
	"negotiation-scoring-go/internal/types"
)

const promptName = "event_extraction"

const promptTemplate = `You are an expert negotiation analyst. Identify every negotiation-relevant action in the transcript below.

Event types (the ONLY allowed values):
- ASK_FACTS: the trainee requests contract or factual information
- REQUEST_WRITTEN_NOTICE: the trainee asks for written documentation
- PROPOSED_OPTION: either party proposes a solution
- CONCESSION: either party gives something up
- CONSIDERATION: the trainee requests something in exchange
- RISKY_COMMITMENT: the trainee makes a verbal promise without cover
- CLOSEOUT: the negotiation reaches a conclusion

Rules:
1. quote MUST be a VERBATIM substring of the named turn's text. Do not paraphrase.
2. char_start and char_end are byte offsets of the quote within that turn's text.
3. confidence is your own calibration in [0,1]; omit it only if you cannot judge.
4. Return ONLY a JSON object of the form {"events": [...]}. No commentary, no markdown fences.

TRANSCRIPT (one line per turn, "[index] speaker: text"):
%s
`

// responseSchema constrains the structured completion before any event is
// trusted.
const responseSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["events"],
  "properties": {
    "events": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["event_type", "speaker", "turn_index", "quote"],
        "properties": {
          "event_type": {
            "type": "string",
            "enum": ["ASK_FACTS", "REQUEST_WRITTEN_NOTICE", "PROPOSED_OPTION", "CONCESSION", "CONSIDERATION", "RISKY_COMMITMENT", "CLOSEOUT"]
          },
          "speaker": {"type": "string", "enum": ["trainee", "counterparty"]},
          "turn_index": {"type": "integer", "minimum": 0},
          "quote": {"type": "string", "minLength": 1},
          "confidence": {"type": "number", "minimum": 0, "maximum": 1},
          "char_start": {"type": "integer", "minimum": 0},
          "char_end": {"type": "integer", "minimum": 0}
        }
      }
    }
  }
}`

var schema = llm.MustCompileSchema(responseSchema, "event_extraction.schema.json")

// defaultConfidence is used when the model omits its calibration signal.
const defaultConfidence = 0.6

// Extractor turns a normalized transcript into quote-anchored negotiation
// events via the structured-completion capability.
type Extractor struct {
	completer llm.Completer
	cfg       config.ScoringConfig
}

func New(completer llm.Completer, cfg config.ScoringConfig) *Extractor {
	return &Extractor{completer: completer, cfg: cfg}
}

// PromptHash identifies the exact prompt template used, for provenance.
func PromptHash() string {
	return llm.PromptHash(promptTemplate)
}

type rawEvent struct {
	EventType  string   `json:"event_type"`
	Speaker    string   `json:"speaker"`
	TurnIndex  int      `json:"turn_index"`
	Quote      string   `json:"quote"`
	Confidence *float64 `json:"confidence"`
	CharStart  int      `json:"char_start"`
	CharEnd    int      `json:"char_end"`
}

// Extract calls the model and returns only events that survive quote
// verification and the confidence threshold, ordered by turn then offset.
// An error means the whole stage failed; callers treat the empty list that
// accompanies it as "no evidence found".
func (e *Extractor) Extract(ctx context.Context, nt types.NormalizedTranscript) ([]types.NegotiationEvent, error) {
	log := logger.New().WithField("component", "extractor").WithField("session_id", nt.SessionID)

	if len(nt.Turns) == 0 {
		log.Info("empty transcript, nothing to extract")
		return nil, nil
	}

	raw, err := e.completer.Complete(ctx, llm.Request{
		PromptName:  promptName,
		Prompt:      fmt.Sprintf(promptTemplate, renderTranscript(nt)),
		Schema:      schema,
		Model:       e.cfg.ExtractionModel,
		Temperature: e.cfg.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("event extraction call: %w", err)
	}

	var parsed struct {
		Events []rawEvent `json:"events"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode extraction response: %w", err)
	}

	events := make([]types.NegotiationEvent, 0, len(parsed.Events))
	for _, re := range parsed.Events {
		ev, ok := e.verify(re, nt, log)
		if !ok {
			continue
		}
		events = append(events, ev)
	}

	sort.SliceStable(events, func(i, j int) bool {
		if events[i].TurnIndex != events[j].TurnIndex {
			return events[i].TurnIndex < events[j].TurnIndex
		}
		return events[i].CharStart < events[j].CharStart
	})

	log.WithField("event_count", len(events)).Info("event extraction complete")
	return events, nil
}

// verify enforces the traceability invariant: the quote must equal
// normalized_text[char_start:char_end] of the referenced turn. Offsets the
// model got wrong are recovered by substring search when possible; events
// whose quote cannot be located at all are discarded.
func (e *Extractor) verify(re rawEvent, nt types.NormalizedTranscript, log *logrus.Entry) (types.NegotiationEvent, bool) {
	et := types.EventType(re.EventType)
	if !et.Valid() {
		log.WithField("event_type", re.EventType).Warn("discarding event with unknown type")
		return types.NegotiationEvent{}, false
	}
	if re.TurnIndex < 0 || re.TurnIndex >= len(nt.Turns) {
		log.WithField("turn_index", re.TurnIndex).Warn("discarding event with out-of-range turn index")
		return types.NegotiationEvent{}, false
	}

	turn := nt.Turns[re.TurnIndex]
	text := turn.NormalizedText

	start, end := re.CharStart, re.CharEnd
	if !(start >= 0 && end > start && end <= len(text) && text[start:end] == re.Quote) {
		idx := strings.Index(text, re.Quote)
		if idx < 0 {
			log.WithField("turn_index", re.TurnIndex).Warn("discarding event: quote not found in turn text")
			return types.NegotiationEvent{}, false
		}
		start, end = idx, idx+len(re.Quote)
	}

	confidence := defaultConfidence
	if re.Confidence != nil {
		confidence = *re.Confidence
	}
	if confidence < e.cfg.EventConfidenceThreshold {
		log.WithField("confidence", confidence).Debug("discarding low-confidence event")
		return types.NegotiationEvent{}, false
	}

	return types.NegotiationEvent{
		EventType:  et,
		Speaker:    re.Speaker,
		Timestamp:  turn.Timestamp,
		TurnIndex:  re.TurnIndex,
		Quote:      re.Quote,
		Confidence: confidence,
		CharStart:  start,
		CharEnd:    end,
	}, true
}

func renderTranscript(nt types.NormalizedTranscript) string {
	var b strings.Builder
	for _, turn := range nt.Turns {
		fmt.Fprintf(&b, "[%d] %s: %s\n", turn.TurnIndex, turn.Speaker, turn.NormalizedText)
	}
	return b.String()
}
