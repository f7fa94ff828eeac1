package grader

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"negotiation-scoring-go/internal/config"
	"negotiation-scoring-go/internal/llm"
	"negotiation-scoring-go/internal/logger"
	"negotiation-scoring-go/internal/rules"
	"negotiation-scoring-go/internal/types"
)

const promptName = "rubric_grading"

// maxParallelDimensions bounds concurrent rubric calls against the gateway.
const maxParallelDimensions = 3

// neutralScore is assigned when grading a dimension fails outright.
const neutralScore = 50

const promptTemplate = `You are an expert negotiation coach grading one dimension of a trainee's performance.

DIMENSION: %s
WHAT IT MEASURES: %s

Deterministic rule adjustments already applied to this dimension (for context only; do NOT do their arithmetic yourself):
%s

Grade the dimension from 0 to 100 and justify the grade by referencing what was actually said. Ground every claim in the transcript or the extracted events.

Return ONLY a JSON object: {"score": <integer 0-100>, "justification": "<2-4 sentences>"}

EXTRACTED EVENTS:
%s

TRANSCRIPT (one line per turn, "[index] speaker: text"):
%s
`

const responseSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["score", "justification"],
  "properties": {
    "score": {"type": "integer", "minimum": 0, "maximum": 100},
    "justification": {"type": "string", "minLength": 1}
  }
}`

var schema = llm.MustCompileSchema(responseSchema, "rubric_grading.schema.json")

var rubric = map[types.Dimension]string{
	types.DimProcessDiscipline:    "Whether the trainee followed a sound negotiation process: gathered facts before committing, asked for things in writing, and kept the exchange structured.",
	types.DimLeverageControl:      "How well the trainee protected leverage: concessions traded for consideration, no unsecured promises, no giveaway streaks.",
	types.DimInformationGathering: "How thoroughly the trainee asked for contract facts, terms, and context before proposing or accepting anything.",
	types.DimOutcomeQuality:       "The quality of the result actually reached: concrete options on the table, a clear closeout, terms favorable to the trainee.",
	types.DimProfessionalism:      "Tone, respect, and relationship management throughout the session.",
}

// Grade is a single dimension's rubric output before composition.
type Grade struct {
	RubricScore   int
	Justification string
}

// Grader produces per-dimension rubric grades via the structured-completion
// capability. Dimensions are graded in parallel with bounded concurrency;
// failure is per-dimension, not all-or-nothing.
type Grader struct {
	completer llm.Completer
	cfg       config.ScoringConfig
}

func New(completer llm.Completer, cfg config.ScoringConfig) *Grader {
	return &Grader{completer: completer, cfg: cfg}
}

// PromptHash identifies the exact prompt template used, for provenance.
func PromptHash() string {
	return llm.PromptHash(promptTemplate)
}

// Grade scores all five dimensions. Failed dimensions come back with a
// neutral score and a justification noting the failure; their names are
// returned so the orchestrator can record the degradation.
func (g *Grader) Grade(ctx context.Context, nt types.NormalizedTranscript, events []types.NegotiationEvent, det rules.Result) (map[types.Dimension]Grade, []string) {
	log := logger.New().WithField("component", "grader").WithField("session_id", nt.SessionID)

	transcript := renderTranscript(nt)
	eventsBlock := renderEvents(events)

	var mu sync.Mutex
	grades := make(map[types.Dimension]Grade, len(types.AllDimensions))
	var failures []string

	eg, groupCtx := errgroup.WithContext(ctx)
	eg.SetLimit(maxParallelDimensions)

	for _, dim := range types.AllDimensions {
		dim := dim
		eg.Go(func() error {
			grade, err := g.gradeDimension(groupCtx, dim, transcript, eventsBlock, det)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.WithField("dimension", string(dim)).WithField("error", err.Error()).Warn("dimension grading failed, using neutral fallback")
				failures = append(failures, fmt.Sprintf("rubric grading failed for %s: %v", dim, err))
				grades[dim] = Grade{
					RubricScore:   neutralScore,
					Justification: fmt.Sprintf("Automatic neutral grade: rubric grading for this dimension failed (%v).", err),
				}
				return nil
			}
			grades[dim] = grade
			return nil
		})
	}
	_ = eg.Wait()

	return grades, failures
}

func (g *Grader) gradeDimension(ctx context.Context, dim types.Dimension, transcript, eventsBlock string, det rules.Result) (Grade, error) {
	prompt := fmt.Sprintf(promptTemplate, dim, rubric[dim], renderAdjustments(dim, det), eventsBlock, transcript)

	raw, err := g.completer.Complete(ctx, llm.Request{
		PromptName:  promptName + ":" + string(dim),
		Prompt:      prompt,
		Schema:      schema,
		Model:       g.cfg.GradingModel,
		Temperature: g.cfg.Temperature,
	})
	if err != nil {
		return Grade{}, err
	}

	var parsed struct {
		Score         int    `json:"score"`
		Justification string `json:"justification"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Grade{}, fmt.Errorf("decode grading response: %w", err)
	}
	return Grade{RubricScore: types.Clamp(parsed.Score), Justification: parsed.Justification}, nil
}

func renderAdjustments(dim types.Dimension, det rules.Result) string {
	var lines []string
	for _, c := range det.Caps[dim] {
		lines = append(lines, fmt.Sprintf("- cap at %d (rule %s)", c.CapValue, c.Rule))
	}
	for _, p := range det.Penalties[dim] {
		lines = append(lines, fmt.Sprintf("- penalty of %d (rule %s)", p.PenaltyValue, p.Rule))
	}
	if len(lines) == 0 {
		return "- none"
	}
	return strings.Join(lines, "\n")
}

func renderEvents(events []types.NegotiationEvent) string {
	if len(events) == 0 {
		return "(no events were extracted)"
	}
	var b strings.Builder
	for _, ev := range events {
		fmt.Fprintf(&b, "- turn %d, %s, %s: %q\n", ev.TurnIndex, ev.Speaker, ev.EventType, ev.Quote)
	}
	return b.String()
}

func renderTranscript(nt types.NormalizedTranscript) string {
	var b strings.Builder
	for _, turn := range nt.Turns {
		fmt.Fprintf(&b, "[%d] %s: %s\n", turn.TurnIndex, turn.Speaker, turn.NormalizedText)
	}
	return b.String()
}
