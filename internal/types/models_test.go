package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComposeAppliesMostRestrictiveCap(t *testing.T) {
	comp := Compose(85, []CapAdjustment{
		{Rule: "rule_a", CapValue: 70},
		{Rule: "rule_b", CapValue: 40},
	}, nil)

	assert.Equal(t, 85, comp.RubricScore)
	assert.Equal(t, 40, comp.FinalScore)
}

func TestComposeCapAboveRubricIsInert(t *testing.T) {
	comp := Compose(55, []CapAdjustment{{Rule: "rule_a", CapValue: 80}}, nil)
	assert.Equal(t, 55, comp.FinalScore)
}

func TestComposeSumsPenaltiesAndClampsAtFloor(t *testing.T) {
	comp := Compose(20, nil, []PenaltyAdjustment{
		{Rule: "rule_a", PenaltyValue: 15},
		{Rule: "rule_b", PenaltyValue: 15},
	})
	assert.Equal(t, ScoreFloor, comp.FinalScore)
}

func TestComposeIsRecomputable(t *testing.T) {
	caps := []CapAdjustment{{Rule: "cap", CapValue: 60}}
	penalties := []PenaltyAdjustment{{Rule: "pen", PenaltyValue: 10}}

	first := Compose(90, caps, penalties)
	second := Compose(first.RubricScore, first.DeterministicCaps, first.DeterministicPenalty)

	assert.Equal(t, first, second)
	assert.Equal(t, 50, first.FinalScore)
}

func TestClampBounds(t *testing.T) {
	assert.Equal(t, ScoreFloor, Clamp(-5))
	assert.Equal(t, ScoreCeiling, Clamp(140))
	assert.Equal(t, 73, Clamp(73))
}

func TestEventTypeValid(t *testing.T) {
	for _, et := range AllEventTypes {
		assert.True(t, et.Valid(), string(et))
	}
	assert.False(t, EventType("BRIBERY").Valid())
}

func TestDimensionValid(t *testing.T) {
	for _, d := range AllDimensions {
		assert.True(t, d.Valid(), string(d))
	}
	assert.False(t, Dimension("charisma").Valid())
}

func TestScoringErrorsAny(t *testing.T) {
	var errs ScoringErrors
	assert.False(t, errs.Any())

	errs.TipGenerationFailed = true
	assert.True(t, errs.Any())
}
