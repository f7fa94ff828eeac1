package tips

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"negotiation-scoring-go/internal/config"
	"negotiation-scoring-go/internal/llm"
	"negotiation-scoring-go/internal/logger"
	"negotiation-scoring-go/internal/types"
)

const promptName = "tip_generation"

const promptTemplate = `You are an expert negotiation coach. Produce at most %d improvement tips for the trainee based on the session below.

Each tip must:
1. Name one specific action to take next time.
2. Include evidence_quote: a VERBATIM substring of one transcript turn showing the missed opportunity. Do not paraphrase.
3. Explain in one or two sentences why the action matters.
4. Carry a priority from 1 (most important) to 5.

Return ONLY a JSON object: {"tips": [{"priority": ..., "action": "...", "evidence_quote": "...", "explanation": "..."}]}

SCORES:
%s

ACHIEVEMENTS EARNED:
%s

COMBO MOMENTS:
%s

EXTRACTED EVENTS:
%s

TRANSCRIPT (one line per turn, "[index] speaker: text"):
%s
`

const responseSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["tips"],
  "properties": {
    "tips": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["priority", "action", "evidence_quote", "explanation"],
        "properties": {
          "priority": {"type": "integer", "minimum": 1, "maximum": 5},
          "action": {"type": "string", "minLength": 1},
          "evidence_quote": {"type": "string", "minLength": 1},
          "explanation": {"type": "string", "minLength": 1}
        }
      }
    }
  }
}`

var schema = llm.MustCompileSchema(responseSchema, "tip_generation.schema.json")

// Generator synthesizes prioritized improvement tips from the full scoring
// context. Lowest-criticality stage: a failure here never blocks the report.
type Generator struct {
	completer llm.Completer
	cfg       config.ScoringConfig
}

func New(completer llm.Completer, cfg config.ScoringConfig) *Generator {
	return &Generator{completer: completer, cfg: cfg}
}

// PromptHash identifies the exact prompt template used, for provenance.
func PromptHash() string {
	return llm.PromptHash(promptTemplate)
}

// Generate returns up to MaxTips tips sorted by priority ascending. Tips
// whose evidence quote cannot be found verbatim in any turn are discarded.
func (g *Generator) Generate(ctx context.Context, nt types.NormalizedTranscript, events []types.NegotiationEvent, stats types.PrimaryStats, achievements []types.Achievement, moments []types.ComboMoment) ([]types.ImprovementTip, error) {
	log := logger.New().WithField("component", "tips").WithField("session_id", nt.SessionID)

	if g.cfg.MaxTips == 0 || len(nt.Turns) == 0 {
		return nil, nil
	}

	prompt := fmt.Sprintf(promptTemplate,
		g.cfg.MaxTips,
		renderStats(stats),
		renderAchievements(achievements),
		renderCombos(moments),
		renderEvents(events),
		renderTranscript(nt),
	)

	raw, err := g.completer.Complete(ctx, llm.Request{
		PromptName:  promptName,
		Prompt:      prompt,
		Schema:      schema,
		Model:       g.cfg.TipModel,
		Temperature: g.cfg.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("tip generation call: %w", err)
	}

	var parsed struct {
		Tips []types.ImprovementTip `json:"tips"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode tip response: %w", err)
	}

	out := make([]types.ImprovementTip, 0, len(parsed.Tips))
	for _, tip := range parsed.Tips {
		if !quoteInTranscript(tip.EvidenceQuote, nt) {
			log.WithField("quote", tip.EvidenceQuote).Warn("discarding tip: evidence quote not found in transcript")
			continue
		}
		out = append(out, tip)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	if len(out) > g.cfg.MaxTips {
		out = out[:g.cfg.MaxTips]
	}

	log.WithField("tip_count", len(out)).Info("tip generation complete")
	return out, nil
}

func quoteInTranscript(quote string, nt types.NormalizedTranscript) bool {
	if quote == "" {
		return false
	}
	for _, turn := range nt.Turns {
		if strings.Contains(turn.NormalizedText, quote) {
			return true
		}
	}
	return false
}

func renderStats(stats types.PrimaryStats) string {
	if len(stats) == 0 {
		return "(no scores available)"
	}
	var b strings.Builder
	for _, dim := range types.AllDimensions {
		if stat, ok := stats[dim]; ok {
			fmt.Fprintf(&b, "- %s: %d\n", dim, stat.Score)
		}
	}
	return b.String()
}

func renderAchievements(achievements []types.Achievement) string {
	if len(achievements) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for _, a := range achievements {
		fmt.Fprintf(&b, "- %s: %s\n", a.Title, a.Description)
	}
	return b.String()
}

func renderCombos(moments []types.ComboMoment) string {
	if len(moments) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for _, m := range moments {
		fmt.Fprintf(&b, "- [%s] %s: %s\n", m.ComboType, m.Title, m.Description)
	}
	return b.String()
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
