package normalizer

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"negotiation-scoring-go/internal/types"
)

// Patterns applied to each turn, in order. Casing is preserved; the cleaned
// text stays human-readable.
var (
	fillerRe     = regexp.MustCompile(`(?i)\b(u+m+|u+h+|erm+|hmm+|mm-?hmm)\b[,.]?\s*`)
	whitespaceRe = regexp.MustCompile(`\s+`)
	danglingRe   = regexp.MustCompile(`\s+([,.!?;:])`)
)

// Normalize produces a cleaned transcript aligned 1:1 with the raw one. A
// turn that cannot be cleaned falls back to its raw text and contributes a
// note; the turn itself is never dropped or reordered.
func Normalize(raw types.RawTranscript) (types.NormalizedTranscript, []string) {
	var notes []string
	turns := make([]types.ConversationTurn, len(raw.Turns))

	for i, turn := range raw.Turns {
		cleaned, err := normalizeText(turn.RawText)
		if err != nil {
			notes = append(notes, fmt.Sprintf("normalization fell back to raw text for turn %d: %v", turn.TurnIndex, err))
			cleaned = turn.RawText
		}
		out := turn
		out.NormalizedText = cleaned
		turns[i] = out
	}

	return types.NormalizedTranscript{
		SessionID: raw.SessionID,
		Turns:     turns,
	}, notes
}

// Passthrough wraps the raw transcript unchanged, used when normalization
// fails wholesale; raw text doubles as normalized text.
func Passthrough(raw types.RawTranscript) types.NormalizedTranscript {
	turns := make([]types.ConversationTurn, len(raw.Turns))
	for i, turn := range raw.Turns {
		out := turn
		out.NormalizedText = turn.RawText
		turns[i] = out
	}
	return types.NormalizedTranscript{SessionID: raw.SessionID, Turns: turns}
}

func normalizeText(s string) (string, error) {
	if !utf8.ValidString(s) {
		return "", fmt.Errorf("text is not valid UTF-8")
	}
	out := fillerRe.ReplaceAllString(s, "")
	out = dropStutters(out)
	out = danglingRe.ReplaceAllString(out, "$1")
	out = whitespaceRe.ReplaceAllString(out, " ")
	out = strings.TrimSpace(out)
	if out == "" && strings.TrimSpace(s) != "" {
		// cleaning removed everything; the raw turn is better than nothing
		return "", fmt.Errorf("cleaning stripped all content")
	}
	return out, nil
}

// dropStutters removes immediately repeated words, a common STT artifact
// ("we we should", "in in writing").
func dropStutters(s string) string {
	words := strings.Fields(s)
	if len(words) < 2 {
		return s
	}
	out := words[:1]
	prev := stutterKey(words[0])
	for _, w := range words[1:] {
		key := stutterKey(w)
		if key != "" && key == prev {
			continue
		}
		out = append(out, w)
		prev = key
	}
	return strings.Join(out, " ")
}

func stutterKey(w string) string {
	return strings.ToLower(strings.TrimRight(w, ",.!?;:"))
}
