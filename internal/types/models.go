package types

// Speaker labels used throughout the transcript and event model.
const (
	SpeakerTrainee      = "trainee"
	SpeakerCounterparty = "counterparty"
)

// ToolCall records a function tool invocation made during the live session.
type ToolCall struct {
	ToolName  string         `json:"tool_name"`
	Timestamp float64        `json:"timestamp"`
	Arguments map[string]any `json:"arguments"`
	Result    string         `json:"result,omitempty"`
}

// ConversationTurn is one utterance. Immutable once captured.
type ConversationTurn struct {
	Speaker        string  `json:"speaker"`
	RawText        string  `json:"raw_text"`
	NormalizedText string  `json:"normalized_text"`
	Timestamp      float64 `json:"timestamp"`
	TurnIndex      int     `json:"turn_index"`
}

// RawTranscript is the complete conversation record handed over by the
// transport layer at session end. Never mutated after creation.
type RawTranscript struct {
	SessionID        string             `json:"session_id"`
	ScenarioID       string             `json:"scenario_id"`
	SessionStartTime float64            `json:"session_start_time"`
	SessionEndTime   float64            `json:"session_end_time"`
	SessionDuration  float64            `json:"session_duration"`
	ParticipantID    string             `json:"participant_id"`
	Turns            []ConversationTurn `json:"turns"`
	ToolCalls        []ToolCall         `json:"tool_calls,omitempty"`
}

// SessionMetadata is the transcript header carried into the report.
type SessionMetadata struct {
	SessionID        string  `json:"session_id"`
	ScenarioID       string  `json:"scenario_id"`
	SessionStartTime float64 `json:"session_start_time"`
	SessionEndTime   float64 `json:"session_end_time"`
	SessionDuration  float64 `json:"session_duration"`
	ParticipantID    string  `json:"participant_id"`
	ToolCallsCount   int     `json:"tool_calls_count"`
}

func (t RawTranscript) Metadata() SessionMetadata {
	return SessionMetadata{
		SessionID:        t.SessionID,
		ScenarioID:       t.ScenarioID,
		SessionStartTime: t.SessionStartTime,
		SessionEndTime:   t.SessionEndTime,
		SessionDuration:  t.SessionDuration,
		ParticipantID:    t.ParticipantID,
		ToolCallsCount:   len(t.ToolCalls),
	}
}

// NormalizedTranscript mirrors the raw transcript turn-for-turn with cleaned
// normalized_text. Turn count and indices always match the source.
type NormalizedTranscript struct {
	SessionID string             `json:"session_id"`
	Turns     []ConversationTurn `json:"turns"`
}

// EventType is the closed catalogue of negotiation actions the extractor may
// tag. Anything outside this set is rejected at the capability boundary.
type EventType string

const (
	EventAskFacts             EventType = "ASK_FACTS"
	EventRequestWrittenNotice EventType = "REQUEST_WRITTEN_NOTICE"
	EventProposedOption       EventType = "PROPOSED_OPTION"
	EventConcession           EventType = "CONCESSION"
	EventConsideration        EventType = "CONSIDERATION"
	EventRiskyCommitment      EventType = "RISKY_COMMITMENT"
	EventCloseout             EventType = "CLOSEOUT"
)

// AllEventTypes lists the catalogue in a fixed order, for schema generation
// and exhaustiveness checks.
var AllEventTypes = []EventType{
	EventAskFacts,
	EventRequestWrittenNotice,
	EventProposedOption,
	EventConcession,
	EventConsideration,
	EventRiskyCommitment,
	EventCloseout,
}

func (e EventType) Valid() bool {
	for _, known := range AllEventTypes {
		if e == known {
			return true
		}
	}
	return false
}

// NegotiationEvent is a quote-anchored extraction from one turn. The quote
// must equal normalized_text[char_start:char_end] of the referenced turn;
// events that fail that check never reach the report.
type NegotiationEvent struct {
	EventType  EventType `json:"event_type"`
	Speaker    string    `json:"speaker"`
	Timestamp  float64   `json:"timestamp"`
	TurnIndex  int       `json:"turn_index"`
	Quote      string    `json:"quote"`
	Confidence float64   `json:"confidence"`
	CharStart  int       `json:"char_start"`
	CharEnd    int       `json:"char_end"`
}

// Achievement is a badge awarded for a single best-practice event.
type Achievement struct {
	AchievementID string  `json:"achievement_id"`
	Title         string  `json:"title"`
	Description   string  `json:"description"`
	Icon          string  `json:"icon"`
	Timestamp     float64 `json:"timestamp"`
	Quote         string  `json:"quote"`
}

// ComboMoment is an ordered event sequence matching a known pattern, with a
// signed score impact applied to one dimension at report assembly.
type ComboMoment struct {
	ComboType     string             `json:"combo_type"` // "good" or "bad"
	Title         string             `json:"title"`
	Description   string             `json:"description"`
	EventSequence []NegotiationEvent `json:"event_sequence"`
	Timestamps    []float64          `json:"timestamps"`
	Quotes        []string           `json:"quotes"`
	Dimension     Dimension          `json:"dimension"`
	ScoreImpact   int                `json:"score_impact"`
}

// ImprovementTip is an actionable recommendation with verbatim evidence.
type ImprovementTip struct {
	Priority      int    `json:"priority"` // 1-5, 1 highest
	Action        string `json:"action"`
	EvidenceQuote string `json:"evidence_quote"`
	Explanation   string `json:"explanation"`
}

// Dimension names one of the five fixed scoring dimensions.
type Dimension string

const (
	DimProcessDiscipline    Dimension = "process_discipline"
	DimLeverageControl      Dimension = "leverage_control"
	DimInformationGathering Dimension = "information_gathering"
	DimOutcomeQuality       Dimension = "outcome_quality"
	DimProfessionalism      Dimension = "professionalism"
)

// AllDimensions is the fixed presentation order of the five primary stats.
var AllDimensions = []Dimension{
	DimProcessDiscipline,
	DimLeverageControl,
	DimInformationGathering,
	DimOutcomeQuality,
	DimProfessionalism,
}

func (d Dimension) Valid() bool {
	for _, known := range AllDimensions {
		if d == known {
			return true
		}
	}
	return false
}

// Score scale bounds for every dimension.
const (
	ScoreFloor   = 0
	ScoreCeiling = 100
)

type CapAdjustment struct {
	Rule     string `json:"rule"`
	CapValue int    `json:"cap_value"`
}

type PenaltyAdjustment struct {
	Rule         string `json:"rule"`
	PenaltyValue int    `json:"penalty_value"`
}

// ScoreComposition records how one dimension score was produced. FinalScore
// is always recomputed from the other three fields, never set independently:
// final = clamp(min(rubric, min(caps)) - sum(penalties)).
type ScoreComposition struct {
	RubricScore          int                 `json:"rubric_score"`
	DeterministicCaps    []CapAdjustment     `json:"deterministic_caps"`
	DeterministicPenalty []PenaltyAdjustment `json:"deterministic_penalties"`
	FinalScore           int                 `json:"final_score"`
}

// Compose applies the combination rule and returns the composition with
// FinalScore filled in.
func Compose(rubricScore int, caps []CapAdjustment, penalties []PenaltyAdjustment) ScoreComposition {
	score := rubricScore
	for _, c := range caps {
		if c.CapValue < score {
			score = c.CapValue
		}
	}
	for _, p := range penalties {
		score -= p.PenaltyValue
	}
	return ScoreComposition{
		RubricScore:          rubricScore,
		DeterministicCaps:    caps,
		DeterministicPenalty: penalties,
		FinalScore:           Clamp(score),
	}
}

// Clamp bounds a score to the dimension scale.
func Clamp(score int) int {
	if score < ScoreFloor {
		return ScoreFloor
	}
	if score > ScoreCeiling {
		return ScoreCeiling
	}
	return score
}

// PrimaryStat is one graded dimension. Score is the composition's final score
// plus any combo impacts, clamped to the scale.
type PrimaryStat struct {
	Score         int              `json:"score"`
	Justification string           `json:"justification"`
	Composition   ScoreComposition `json:"composition"`
}

// PrimaryStats holds all five dimensions, keyed by dimension name.
type PrimaryStats map[Dimension]PrimaryStat

// RuleImpact describes what a triggered deterministic rule did.
type RuleImpact struct {
	Dimension Dimension `json:"dimension"`
	Kind      string    `json:"kind"` // "cap" or "penalty"
	Value     int       `json:"value"`
}

// RuleTrigger is the audit record for one fired rule.
type RuleTrigger struct {
	Rule   string     `json:"rule"`
	Reason string     `json:"reason"`
	Impact RuleImpact `json:"impact"`
}

// ScoringMetadata is the provenance block stamped onto every report.
type ScoringMetadata struct {
	ReportSchemaVersion string            `json:"report_schema_version"`
	ScoringVersion      string            `json:"scoring_version"`
	RulesVersion        string            `json:"rules_version"`
	Models              map[string]string `json:"models"`
	PromptHashes        map[string]string `json:"prompt_hashes"`
	GeneratedAt         float64           `json:"generated_at"`
	RuleTriggers        []RuleTrigger     `json:"rule_triggers"`
}

// ScoringErrors flags which pipeline stages degraded. A report with any flag
// set is degraded, not failed; ErrorMessages carries the human-readable why.
type ScoringErrors struct {
	NormalizationFailed        bool     `json:"normalization_failed"`
	EventExtractionFailed      bool     `json:"event_extraction_failed"`
	DeterministicScoringFailed bool     `json:"deterministic_scoring_failed"`
	RubricGradingFailed        bool     `json:"rubric_grading_failed"`
	AchievementDetectionFailed bool     `json:"achievement_detection_failed"`
	ComboDetectionFailed       bool     `json:"combo_detection_failed"`
	TipGenerationFailed        bool     `json:"tip_generation_failed"`
	ErrorMessages              []string `json:"error_messages"`
}

func (e *ScoringErrors) Add(msg string) {
	e.ErrorMessages = append(e.ErrorMessages, msg)
}

// Any reports whether any stage flag is set.
func (e ScoringErrors) Any() bool {
	return e.NormalizationFailed ||
		e.EventExtractionFailed ||
		e.DeterministicScoringFailed ||
		e.RubricGradingFailed ||
		e.AchievementDetectionFailed ||
		e.ComboDetectionFailed ||
		e.TipGenerationFailed
}

// AfterActionReport is the root aggregate: the unit persisted to storage and
// returned to callers.
type AfterActionReport struct {
	ReportID             string               `json:"report_id"`
	SessionMetadata      SessionMetadata      `json:"session_metadata"`
	PrimaryStats         PrimaryStats         `json:"primary_stats"`
	LetterGrade          string               `json:"letter_grade"`
	Achievements         []Achievement        `json:"achievements"`
	ComboMoments         []ComboMoment        `json:"combo_moments"`
	ImprovementTips      []ImprovementTip     `json:"improvement_tips"`
	RawTranscript        RawTranscript        `json:"raw_transcript"`
	NormalizedTranscript NormalizedTranscript `json:"normalized_transcript"`
	ExtractedEvents      []NegotiationEvent   `json:"extracted_events"`
	ScoringMetadata      ScoringMetadata      `json:"scoring_metadata"`
	Errors               ScoringErrors        `json:"errors"`
}
