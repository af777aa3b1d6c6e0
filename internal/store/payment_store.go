package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// PaymentData is one accepted transfer in the used-hash ledger.
type PaymentData struct {
	TxHash      string    `json:"tx_hash"` // lowercase 0x hex
	UserID      uuid.UUID `json:"user_id"`
	FromAddress string    `json:"from_address"`
	ToAddress   string    `json:"to_address"`
	Amount      string    `json:"amount"` // base units, decimal
	CreatedAt   time.Time `json:"created_at"`
}

// UnlockFunc runs once the ledger row and the user's paid flag are
// committed. user is the row as read inside the claim transaction.
type UnlockFunc func(ctx context.Context, user *UserData, p *PaymentData) error

// PaymentStore owns the payment ledger.
type PaymentStore interface {
	// ClaimPayment atomically records p and marks its user as paid, then
	// runs unlock after commit. A hash already in the ledger yields
	// ErrTxAlreadyUsed and changes nothing. An unlock error is wrapped in
	// ErrUnlockFailed and leaves the claim in place.
	ClaimPayment(ctx context.Context, p *PaymentData, unlock UnlockFunc) error
	GetPayment(ctx context.Context, txHash string) (*PaymentData, error)
	ListPaymentsByUser(ctx context.Context, userID uuid.UUID) ([]PaymentData, error)
}
