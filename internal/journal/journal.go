// Package journal records the outcome of every order write operation in a
// local audit trail. The venue remains the system of record for orders and
// positions; the journal only answers "what did this process attempt, and
// when".
package journal

import (
	"context"
	"time"

	"github.com/FeanorKingofNoldor/khazad-dum/internal/domain"
)

// Entry is one journaled write attempt.
type Entry struct {
	ID         int64
	RecordedAt time.Time
	OrderID    string
	Symbol     string
	Action     string
	Quantity   int
	Kind       string
	Status     string
	Success    bool
	Error      string
}

// Journal persists write-operation outcomes. Implementations must tolerate
// being called concurrently.
type Journal interface {
	// RecordOrder journals the result of a place, cancel, or status
	// operation.
	RecordOrder(ctx context.Context, result domain.OrderResult) error

	// ListRecent returns the newest entries, most recent first.
	ListRecent(ctx context.Context, limit int) ([]Entry, error)

	// Close releases the journal's resources.
	Close() error
}

// Compile-time interface check.
var _ Journal = Nop{}

// Nop is the journal used when journaling is disabled.
type Nop struct{}

func (Nop) RecordOrder(context.Context, domain.OrderResult) error { return nil }
func (Nop) ListRecent(context.Context, int) ([]Entry, error)      { return nil, nil }
func (Nop) Close() error                                          { return nil }
