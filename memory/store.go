// Package memory persists terminal sessions so they can be fetched after the
// orchestrator returns them.
package memory

import (
	"context"
	"errors"
	"time"

	"github.com/scttfrdmn/investdesk/desk"
)

// ErrNotFound is returned by Load for unknown correlation ids.
var ErrNotFound = errors.New("session not found")

// Summary describes a stored session without its history.
type Summary struct {
	CorrelationID string       `json:"correlation_id"`
	Pattern       desk.Pattern `json:"pattern"`
	Status        desk.Status  `json:"status"`
	StartedAt     time.Time    `json:"started_at"`
}

// SessionStore saves and loads sessions by correlation id.
type SessionStore interface {
	// Save stores s, replacing any session with the same correlation id.
	Save(ctx context.Context, s *desk.Session) error

	// Load returns the stored session or ErrNotFound.
	Load(ctx context.Context, correlationID string) (*desk.Session, error)

	// List returns up to limit summaries, most recently started first.
	// A non-positive limit returns every session.
	List(ctx context.Context, limit int) ([]Summary, error)

	// Delete removes a session. Deleting an unknown id is not an error.
	Delete(ctx context.Context, correlationID string) error
}

func summarize(s *desk.Session) Summary {
	return Summary{
		CorrelationID: s.CorrelationID(),
		Pattern:       s.Pattern(),
		Status:        s.Status(),
		StartedAt:     s.StartedAt(),
	}
}
