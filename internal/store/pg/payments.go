package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/xbtify/xbtclaw/internal/store"
)

// PGPaymentStore implements store.PaymentStore backed by Postgres.
type PGPaymentStore struct {
	db *sql.DB
}

func NewPGPaymentStore(db *sql.DB) *PGPaymentStore {
	return &PGPaymentStore{db: db}
}

const paymentSelectCols = `tx_hash, user_id, from_address, to_address, amount, created_at`

func (s *PGPaymentStore) ClaimPayment(ctx context.Context, p *store.PaymentData, unlock store.UnlockFunc) error {
	p.TxHash = strings.ToLower(p.TxHash)
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO payments (tx_hash, user_id, from_address, to_address, amount, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (tx_hash) DO NOTHING`,
		p.TxHash, p.UserID, p.FromAddress, p.ToAddress, p.Amount, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrTxAlreadyUsed
	}

	if err := setPaidTxHash(ctx, tx, p.UserID, p.TxHash); err != nil {
		return fmt.Errorf("mark user paid: %w", err)
	}

	user, err := getUser(ctx, tx, `u.id = $1`, p.UserID)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	if unlock != nil {
		if err := unlock(ctx, user, p); err != nil {
			return fmt.Errorf("%w: %w", store.ErrUnlockFailed, err)
		}
	}
	return nil
}

func (s *PGPaymentStore) GetPayment(ctx context.Context, txHash string) (*store.PaymentData, error) {
	var p store.PaymentData
	err := s.db.QueryRowContext(ctx,
		`SELECT `+paymentSelectCols+` FROM payments WHERE tx_hash = $1`, strings.ToLower(txHash),
	).Scan(&p.TxHash, &p.UserID, &p.FromAddress, &p.ToAddress, &p.Amount, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PGPaymentStore) ListPaymentsByUser(ctx context.Context, userID uuid.UUID) ([]store.PaymentData, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+paymentSelectCols+` FROM payments WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.PaymentData
	for rows.Next() {
		var p store.PaymentData
		if err := rows.Scan(&p.TxHash, &p.UserID, &p.FromAddress, &p.ToAddress, &p.Amount, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
