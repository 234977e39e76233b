package storage

import (
	"context"
	"errors"

	"github.com/ej0e1/tbot/internal/model"
)

var (
	// ErrConnection wraps failures to acquire or use a store connection
	ErrConnection = errors.New("store connection error")
	// ErrQuery wraps failures of a single read, insert or delete statement
	ErrQuery = errors.New("store query error")
)

// Store holds pending deliveries.
// Retrievals use it through short-lived sessions, the writer side inserts directly.
type Store interface {
	// Acquire returns a session bound to one connection.
	// The caller must Release it before sleeping.
	Acquire(ctx context.Context) (Session, error)
	// Insert stores a new pending delivery
	Insert(ctx context.Context, d *model.PendingDelivery) error
	Close()
}

// Session is one connection used for a read/consume pair
type Session interface {
	// Find returns the oldest delivery matching the lookup, or nil if none
	Find(ctx context.Context, l model.Lookup) (*model.PendingDelivery, error)
	// Consume deletes exactly the given row and returns its payload.
	// consumed is false when the row was already gone.
	Consume(ctx context.Context, d *model.PendingDelivery) (payload string, consumed bool, err error)
	Release()
}
