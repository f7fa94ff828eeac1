package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"negotiation-scoring-go/internal/config"
	"negotiation-scoring-go/internal/llm/llmtest"
	"negotiation-scoring-go/internal/types"
)

func testConfig() config.ScoringConfig {
	return config.ScoringConfig{
		ExtractionModel:          "extract-model",
		GradingModel:             "grade-model",
		TipModel:                 "tip-model",
		Temperature:              0.2,
		EventConfidenceThreshold: 0.55,
		MinFactQuestions:         3,
		MaxTips:                  5,
		StageTimeout:             5 * time.Second,
	}
}

// 2026-02-01T09:00:00Z
const sessionStart = 1769936400.0

func sampleTranscript() types.RawTranscript {
	return types.RawTranscript{
		SessionID:        "sess-1",
		ScenarioID:       "scn-vendor-dispute",
		SessionStartTime: sessionStart,
		SessionEndTime:   sessionStart + 420,
		ParticipantID:    "p-1",
		Turns: []types.ConversationTurn{
			{TurnIndex: 0, Speaker: types.SpeakerTrainee, RawText: "Um, what does the contract say about termination?", Timestamp: 0},
			{TurnIndex: 1, Speaker: types.SpeakerCounterparty, RawText: "Ninety days written notice.", Timestamp: 6},
			{TurnIndex: 2, Speaker: types.SpeakerTrainee, RawText: "I promise we will waive the fee.", Timestamp: 12},
		},
	}
}

func happyFake() *llmtest.Fake {
	return llmtest.New().
		Respond("event_extraction", `{"events": [
			{"event_type": "ASK_FACTS", "speaker": "trainee", "turn_index": 0, "quote": "what does the contract say about termination?", "confidence": 0.9},
			{"event_type": "RISKY_COMMITMENT", "speaker": "trainee", "turn_index": 2, "quote": "I promise we will waive the fee.", "confidence": 0.85}
		]}`).
		Respond("rubric_grading", `{"score": 75, "justification": "Asked about terms, then over-committed."}`).
		Respond("tip_generation", `{"tips": [
			{"priority": 1, "action": "Secure consideration before committing", "evidence_quote": "I promise we will waive the fee.", "explanation": "A promise with nothing in return surrenders leverage."}
		]}`)
}

func newTestPipeline(t *testing.T, fake *llmtest.Fake) *Pipeline {
	t.Helper()
	p, err := New(testConfig(), fake)
	require.NoError(t, err)
	return p
}

func TestRunHappyPath(t *testing.T) {
	p := newTestPipeline(t, happyFake())

	report, err := p.Run(context.Background(), sampleTranscript())
	require.NoError(t, err)

	assert.NotEmpty(t, report.ReportID)
	assert.Equal(t, "sess-1", report.SessionMetadata.SessionID)
	assert.Equal(t, 420.0, report.SessionMetadata.SessionDuration)
	assert.False(t, report.Errors.Any())

	require.Len(t, report.PrimaryStats, len(types.AllDimensions))
	require.Len(t, report.ExtractedEvents, 2)
	assert.Equal(t, types.EventAskFacts, report.ExtractedEvents[0].EventType)

	// normalization kept alignment and stripped the filler
	require.Len(t, report.NormalizedTranscript.Turns, 3)
	assert.NotContains(t, report.NormalizedTranscript.Turns[0].NormalizedText, "Um")

	// achievements and tips made it through
	require.NotEmpty(t, report.Achievements)
	assert.Equal(t, "fact_finder", report.Achievements[0].AchievementID)
	require.Len(t, report.ImprovementTips, 1)

	// provenance block
	md := report.ScoringMetadata
	assert.Equal(t, ReportSchemaVersion, md.ReportSchemaVersion)
	assert.Equal(t, "1.0", md.RulesVersion)
	assert.Equal(t, "extract-model", md.Models["event_extraction"])
	assert.Len(t, md.PromptHashes, 3)
	assert.Greater(t, md.GeneratedAt, 0.0)
}

func TestRunRiskyCommitmentCapsLeverage(t *testing.T) {
	p := newTestPipeline(t, happyFake())

	report, err := p.Run(context.Background(), sampleTranscript())
	require.NoError(t, err)

	var triggered []string
	for _, trig := range report.ScoringMetadata.RuleTriggers {
		triggered = append(triggered, trig.Rule)
	}
	assert.Contains(t, triggered, "unsecured_commitment")

	leverage := report.PrimaryStats[types.DimLeverageControl]
	assert.Equal(t, 75, leverage.Composition.RubricScore)
	assert.LessOrEqual(t, leverage.Composition.FinalScore, 40, "cap must bound the rubric grade")
	require.NotEmpty(t, leverage.Composition.DeterministicCaps)
	assert.Equal(t, "unsecured_commitment", leverage.Composition.DeterministicCaps[0].Rule)
}

func TestRunCompositionIsRecomputable(t *testing.T) {
	p := newTestPipeline(t, happyFake())

	report, err := p.Run(context.Background(), sampleTranscript())
	require.NoError(t, err)

	for dim, stat := range report.PrimaryStats {
		comp := stat.Composition
		recomputed := types.Compose(comp.RubricScore, comp.DeterministicCaps, comp.DeterministicPenalty)
		assert.Equal(t, comp.FinalScore, recomputed.FinalScore, dim)
	}
}

func TestRunExtractorFailureDegradesReport(t *testing.T) {
	fake := happyFake().Fail("event_extraction", errors.New("gateway down"))
	p := newTestPipeline(t, fake)

	report, err := p.Run(context.Background(), sampleTranscript())
	require.NoError(t, err, "stage failure degrades, never aborts")

	assert.True(t, report.Errors.EventExtractionFailed)
	assert.True(t, report.Errors.Any())
	assert.Empty(t, report.ExtractedEvents)
	assert.Empty(t, report.Achievements)
	assert.Empty(t, report.ComboMoments)

	// rubric grades still present; absence-based rules still fire
	require.Len(t, report.PrimaryStats, len(types.AllDimensions))
	var triggered []string
	for _, trig := range report.ScoringMetadata.RuleTriggers {
		triggered = append(triggered, trig.Rule)
	}
	assert.Contains(t, triggered, "no_closeout")
}

func TestRunTipFailureDegradesReport(t *testing.T) {
	fake := happyFake().Fail("tip_generation", errors.New("gateway down"))
	p := newTestPipeline(t, fake)

	report, err := p.Run(context.Background(), sampleTranscript())
	require.NoError(t, err)

	assert.True(t, report.Errors.TipGenerationFailed)
	assert.Empty(t, report.ImprovementTips)
	assert.NotEmpty(t, report.PrimaryStats, "scores survive a tip failure")
}

func TestRunGradingFailureFallsBackToNeutral(t *testing.T) {
	fake := happyFake().Fail("rubric_grading", errors.New("gateway down"))
	p := newTestPipeline(t, fake)

	report, err := p.Run(context.Background(), sampleTranscript())
	require.NoError(t, err)

	assert.True(t, report.Errors.RubricGradingFailed)
	require.Len(t, report.PrimaryStats, len(types.AllDimensions))
	assert.Equal(t, 50, report.PrimaryStats[types.DimProfessionalism].Composition.RubricScore)
}

func TestRunEmptyTranscriptSkipsModels(t *testing.T) {
	fake := llmtest.New() // no handlers: any completion call would error
	p := newTestPipeline(t, fake)

	raw := sampleTranscript()
	raw.Turns = nil

	report, err := p.Run(context.Background(), raw)
	require.NoError(t, err)

	assert.Empty(t, fake.Requests(), "no model calls for an empty session")
	require.Len(t, report.PrimaryStats, len(types.AllDimensions))
	for dim, stat := range report.PrimaryStats {
		assert.Equal(t, types.ScoreFloor, stat.Composition.RubricScore, dim)
	}
	assert.Equal(t, "F", report.LetterGrade)
	assert.Empty(t, report.ImprovementTips)
}

func TestRunStructurallyInvalidTranscriptIsFatal(t *testing.T) {
	p := newTestPipeline(t, happyFake())

	raw := sampleTranscript()
	raw.SessionID = ""

	_, err := p.Run(context.Background(), raw)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "structural transcript error")
}

func TestRunIsDeterministicApartFromGeneratedAt(t *testing.T) {
	p := newTestPipeline(t, happyFake())

	first, err := p.Run(context.Background(), sampleTranscript())
	require.NoError(t, err)
	second, err := p.Run(context.Background(), sampleTranscript())
	require.NoError(t, err)

	assert.Equal(t, first.ReportID, second.ReportID)
	assert.Equal(t, first.PrimaryStats, second.PrimaryStats)
	assert.Equal(t, first.LetterGrade, second.LetterGrade)
	assert.Equal(t, first.Achievements, second.Achievements)
	assert.Equal(t, first.ComboMoments, second.ComboMoments)
	assert.Equal(t, first.ImprovementTips, second.ImprovementTips)
	assert.Equal(t, first.ScoringMetadata.RuleTriggers, second.ScoringMetadata.RuleTriggers)

	other := sampleTranscript()
	other.SessionID = "sess-2"
	third, err := p.Run(context.Background(), other)
	require.NoError(t, err)
	assert.NotEqual(t, first.ReportID, third.ReportID, "distinct sessions get distinct report ids")
}

func TestRunKeepsExplicitSessionDuration(t *testing.T) {
	p := newTestPipeline(t, happyFake())

	raw := sampleTranscript()
	raw.SessionDuration = 999

	report, err := p.Run(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, 999.0, report.SessionMetadata.SessionDuration)
}

func TestRunMergesConcurrentStageResults(t *testing.T) {
	// grading fails while the detector branch succeeds; both outcomes must
	// land in the assembled report
	fake := happyFake().Fail("rubric_grading", errors.New("gateway down"))
	p := newTestPipeline(t, fake)

	report, err := p.Run(context.Background(), sampleTranscript())
	require.NoError(t, err)

	assert.True(t, report.Errors.RubricGradingFailed)
	assert.False(t, report.Errors.AchievementDetectionFailed)
	assert.False(t, report.Errors.ComboDetectionFailed)
	require.NotEmpty(t, report.Achievements)
	require.Len(t, report.PrimaryStats, len(types.AllDimensions))

	var gradeMessages int
	for _, msg := range report.Errors.ErrorMessages {
		if strings.Contains(msg, "rubric grading failed") {
			gradeMessages++
		}
	}
	assert.Equal(t, len(types.AllDimensions), gradeMessages, "every dimension's failure is recorded")
}

func TestLetterGrade(t *testing.T) {
	build := func(score int) types.PrimaryStats {
		stats := types.PrimaryStats{}
		for _, dim := range types.AllDimensions {
			stats[dim] = types.PrimaryStat{Score: score}
		}
		return stats
	}
	cases := []struct {
		score int
		want  string
	}{
		{95, "A"}, {90, "A"}, {85, "B"}, {72, "C"}, {64, "D"}, {30, "F"}, {0, "F"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, letterGrade(build(tc.score)), fmt.Sprintf("score %d", tc.score))
	}
	assert.Equal(t, "F", letterGrade(types.PrimaryStats{}))
}

func TestComposeStatsFoldsComboImpact(t *testing.T) {
	p := newTestPipeline(t, happyFake().
		Respond("event_extraction", `{"events": [
			{"event_type": "CONCESSION", "speaker": "trainee", "turn_index": 0, "quote": "what does", "confidence": 0.9},
			{"event_type": "CONCESSION", "speaker": "trainee", "turn_index": 2, "quote": "I promise", "confidence": 0.9}
		]}`))

	report, err := p.Run(context.Background(), sampleTranscript())
	require.NoError(t, err)

	require.NotEmpty(t, report.ComboMoments)
	assert.Equal(t, "Giveaway Spiral", report.ComboMoments[0].Title)

	leverage := report.PrimaryStats[types.DimLeverageControl]
	// presented score carries the combo delta on top of the recomputable
	// composition
	expected := types.Clamp(leverage.Composition.FinalScore - 10)
	assert.Equal(t, expected, leverage.Score)
}
