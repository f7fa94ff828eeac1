package combos

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"negotiation-scoring-go/internal/types"
)

//go:embed combos.yaml
var defaultLibraryYAML []byte

// Step is one element of a combo template. An empty speaker matches either
// party.
type Step struct {
	EventType types.EventType `yaml:"event_type"`
	Speaker   string          `yaml:"speaker,omitempty"`
}

func (s Step) matches(ev types.NegotiationEvent) bool {
	if ev.EventType != s.EventType {
		return false
	}
	return s.Speaker == "" || s.Speaker == ev.Speaker
}

// Template is an ordered event pattern with a signed dimension impact. A
// blocker, when present, must not occur between consecutive matched steps.
type Template struct {
	Name        string          `yaml:"name"`
	Type        string          `yaml:"type"` // "good" or "bad"
	Title       string          `yaml:"title"`
	Description string          `yaml:"description"`
	Dimension   types.Dimension `yaml:"dimension"`
	ScoreImpact int             `yaml:"score_impact"`
	Steps       []Step          `yaml:"steps"`
	Blocker     *Step           `yaml:"blocker,omitempty"`
}

// Library is the versioned combo template set.
type Library struct {
	CombosVersion string     `yaml:"combos_version"`
	Window        int        `yaml:"window"`
	Templates     []Template `yaml:"templates"`
}

// DefaultLibrary parses the embedded template library.
func DefaultLibrary() Library {
	var lib Library
	if err := yaml.Unmarshal(defaultLibraryYAML, &lib); err != nil {
		panic(fmt.Sprintf("embedded combo library invalid: %v", err))
	}
	return lib
}

// Detect scans the event sequence for template matches within the library's
// look-ahead window. Overlapping matches across templates are allowed; within
// one template, each event starts at most one match.
func Detect(events []types.NegotiationEvent, lib Library) []types.ComboMoment {
	var out []types.ComboMoment
	for start := range events {
		for _, tpl := range lib.Templates {
			if moment, ok := match(events, start, tpl, lib.Window); ok {
				out = append(out, moment)
			}
		}
	}
	return out
}

func match(events []types.NegotiationEvent, start int, tpl Template, window int) (types.ComboMoment, bool) {
	if len(tpl.Steps) == 0 || !tpl.Steps[0].matches(events[start]) {
		return types.ComboMoment{}, false
	}

	limit := start + window
	if limit > len(events) {
		limit = len(events)
	}

	matched := []types.NegotiationEvent{events[start]}
	next := 1
	for i := start + 1; i < limit && next < len(tpl.Steps); i++ {
		if tpl.Blocker != nil && tpl.Blocker.matches(events[i]) {
			return types.ComboMoment{}, false
		}
		if tpl.Steps[next].matches(events[i]) {
			matched = append(matched, events[i])
			next++
		}
	}
	if next < len(tpl.Steps) {
		return types.ComboMoment{}, false
	}

	timestamps := make([]float64, len(matched))
	quotes := make([]string, len(matched))
	for i, ev := range matched {
		timestamps[i] = ev.Timestamp
		quotes[i] = ev.Quote
	}

	return types.ComboMoment{
		ComboType:     tpl.Type,
		Title:         tpl.Title,
		Description:   tpl.Description,
		EventSequence: matched,
		Timestamps:    timestamps,
		Quotes:        quotes,
		Dimension:     tpl.Dimension,
		ScoreImpact:   tpl.ScoreImpact,
	}, true
}
