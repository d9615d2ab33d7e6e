// Package store is the durable record of tickets and their statuses.
// The default backend is a single JSON file with whole-file read-modify-write
// semantics; SQLite and PostgreSQL backends live in subpackages.
package store

import (
	"context"
	"errors"

	"github.com/buildloop-io/buildloop/pkg/models"
)

// ErrNotFound is returned when a ticket id does not exist in the store.
var ErrNotFound = errors.New("ticket not found")

// Store is the persistence interface for tickets.
// Implementations: *jsonFile (default), *sqlite.Store, *postgres.Store.
// All implementations assume a single writer; concurrent external writers
// are a documented correctness hazard, not something the store mitigates.
type Store interface {
	// Load returns the full ticket file. TotalTickets is recomputed from
	// len(Tickets); the stored value is never trusted.
	Load(ctx context.Context) (models.TicketFile, error)
	// Save persists the full ticket file with a consistent TotalTickets.
	Save(ctx context.Context, f models.TicketFile) error
	// UpdateStatus sets one ticket's status. errMsg is recorded when status
	// is error and cleared otherwise. Returns ErrNotFound for unknown ids.
	UpdateStatus(ctx context.Context, id, status, errMsg string) error
	// Pending returns tickets eligible for processing (todo and error), in
	// stored order.
	Pending(ctx context.Context) ([]models.Ticket, error)
	// ResetAll sets every ticket back to todo and clears errors.
	ResetAll(ctx context.Context) error
	Close() error
}

// Open opens the default JSON-file store at path.
func Open(path string) (Store, error) {
	return openJSONFile(path)
}
