package storage

import (
	"errors"

	"negotiation-scoring-go/internal/types"
)

// ErrNotFound is returned when no artifact exists for a session id.
var ErrNotFound = errors.New("not found")

// Backend persists transcripts and after-action reports. Implementations
// must make writes atomic from the caller's perspective and keep written
// reports immutable: a rescore stores a new revision, never an overwrite.
type Backend interface {
	SaveTranscript(transcript types.RawTranscript) (string, error)
	LoadTranscript(sessionID string) (types.RawTranscript, error)

	SaveReport(report types.AfterActionReport) (string, error)
	// LoadReport returns the latest revision for the session.
	LoadReport(sessionID string) (types.AfterActionReport, error)

	// ListReports returns the latest revision of every stored report,
	// ordered by session start time.
	ListReports() ([]types.AfterActionReport, error)
}
