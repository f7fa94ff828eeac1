package achievements

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"negotiation-scoring-go/internal/types"
)

func ev(turn int, speaker string, et types.EventType, quote string) types.NegotiationEvent {
	return types.NegotiationEvent{
		EventType:  et,
		Speaker:    speaker,
		Timestamp:  float64(turn) * 3,
		TurnIndex:  turn,
		Quote:      quote,
		Confidence: 0.9,
	}
}

func TestDetectAwardsBadgeWithTriggeringEventDetails(t *testing.T) {
	events := []types.NegotiationEvent{
		ev(2, types.SpeakerTrainee, types.EventAskFacts, "what does the contract say about notice?"),
	}
	got := Detect(events)

	require.Len(t, got, 1)
	assert.Equal(t, "fact_finder", got[0].AchievementID)
	assert.Equal(t, "Fact Finder", got[0].Title)
	assert.Equal(t, 6.0, got[0].Timestamp)
	assert.Equal(t, "what does the contract say about notice?", got[0].Quote)
}

func TestDetectAwardsEachBadgeOnce(t *testing.T) {
	events := []types.NegotiationEvent{
		ev(0, types.SpeakerTrainee, types.EventAskFacts, "first question"),
		ev(1, types.SpeakerTrainee, types.EventAskFacts, "second question"),
		ev(2, types.SpeakerTrainee, types.EventAskFacts, "third question"),
	}
	got := Detect(events)

	require.Len(t, got, 1)
	assert.Equal(t, "first question", got[0].Quote, "first occurrence wins")
}

func TestDetectOrdersByTriggeringEvent(t *testing.T) {
	events := []types.NegotiationEvent{
		ev(0, types.SpeakerTrainee, types.EventCloseout, "deal"),
		ev(1, types.SpeakerTrainee, types.EventConsideration, "what do I get?"),
		ev(2, types.SpeakerTrainee, types.EventRequestWrittenNotice, "send it over"),
	}
	got := Detect(events)

	require.Len(t, got, 3)
	assert.Equal(t, "strong_close", got[0].AchievementID)
	assert.Equal(t, "horse_trader", got[1].AchievementID)
	assert.Equal(t, "get_it_in_writing", got[2].AchievementID)
}

func TestDetectIgnoresCounterpartyEvents(t *testing.T) {
	events := []types.NegotiationEvent{
		ev(0, types.SpeakerCounterparty, types.EventAskFacts, "who are you again?"),
		ev(1, types.SpeakerCounterparty, types.EventCloseout, "we are done here"),
	}
	assert.Empty(t, Detect(events))
}

func TestDetectIsIdempotent(t *testing.T) {
	events := []types.NegotiationEvent{
		ev(0, types.SpeakerTrainee, types.EventAskFacts, "q"),
		ev(1, types.SpeakerTrainee, types.EventConsideration, "trade"),
	}
	first := Detect(events)
	second := Detect(events)
	assert.Equal(t, first, second)
}

func TestDetectEmptyEvents(t *testing.T) {
	assert.Empty(t, Detect(nil))
}
