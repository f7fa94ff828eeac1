package achievements

import (
	"negotiation-scoring-go/internal/types"
)

// signature is one entry of the fixed badge catalogue: a single-event
// pattern awarded at most once per session.
type signature struct {
	ID          string
	Title       string
	Description string
	Icon        string
	EventType   types.EventType
	Speaker     string
}

// Catalogue v1. Order matters only for presentation of same-event badges;
// awarded achievements follow triggering-event order.
var catalogue = []signature{
	{
		ID:          "fact_finder",
		Title:       "Fact Finder",
		Description: "Asked for contract facts before taking a position.",
		Icon:        "magnifying-glass",
		EventType:   types.EventAskFacts,
		Speaker:     types.SpeakerTrainee,
	},
	{
		ID:          "get_it_in_writing",
		Title:       "Get It In Writing",
		Description: "Requested written documentation instead of relying on verbal assurances.",
		Icon:        "scroll",
		EventType:   types.EventRequestWrittenNotice,
		Speaker:     types.SpeakerTrainee,
	},
	{
		ID:          "horse_trader",
		Title:       "Horse Trader",
		Description: "Asked for something in exchange before giving ground.",
		Icon:        "scales",
		EventType:   types.EventConsideration,
		Speaker:     types.SpeakerTrainee,
	},
	{
		ID:          "strong_close",
		Title:       "Strong Close",
		Description: "Brought the negotiation to an explicit conclusion.",
		Icon:        "handshake",
		EventType:   types.EventCloseout,
		Speaker:     types.SpeakerTrainee,
	},
}

// Detect matches the badge catalogue against the event list. Deterministic
// and idempotent; achievements appear in the order their triggering event
// occurs, one badge per catalogue entry.
func Detect(events []types.NegotiationEvent) []types.Achievement {
	awarded := map[string]bool{}
	var out []types.Achievement

	for _, ev := range events {
		for _, sig := range catalogue {
			if awarded[sig.ID] {
				continue
			}
			if ev.EventType != sig.EventType || ev.Speaker != sig.Speaker {
				continue
			}
			awarded[sig.ID] = true
			out = append(out, types.Achievement{
				AchievementID: sig.ID,
				Title:         sig.Title,
				Description:   sig.Description,
				Icon:          sig.Icon,
				Timestamp:     ev.Timestamp,
				Quote:         ev.Quote,
			})
		}
	}
	return out
}
