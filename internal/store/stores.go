package store

import (
	"errors"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a looked-up row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrTxAlreadyUsed is returned when a transaction hash is already in
	// the payments ledger.
	ErrTxAlreadyUsed = errors.New("transaction hash already used")

	// ErrUnlockFailed wraps an UnlockFunc error. The claim it followed is
	// already committed.
	ErrUnlockFailed = errors.New("unlock failed")
)

// Stores is the top-level container for all storage backends.
type Stores struct {
	Users    UserStore
	Groups   GroupStore
	Payments PaymentStore

	// Close releases the underlying connection pool.
	Close func() error
}

// GenNewID returns a time-ordered row id.
func GenNewID() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}
