package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/xbtify/xbtclaw/internal/store"
)

const paymentCols = `tx_hash, user_id, from_address, to_address, amount, created_at`

func scanPayment(row rowScanner) (*store.PaymentData, error) {
	var p store.PaymentData
	var uid string
	var created int64
	if err := row.Scan(&p.TxHash, &uid, &p.FromAddress, &p.ToAddress, &p.Amount, &created); err != nil {
		return nil, err
	}
	parsed, err := uuid.Parse(uid)
	if err != nil {
		return nil, fmt.Errorf("parse payment user id %q: %w", uid, err)
	}
	p.UserID = parsed
	p.CreatedAt = fromMillis(created)
	return &p, nil
}

func (s *Store) ClaimPayment(ctx context.Context, p *store.PaymentData, unlock store.UnlockFunc) error {
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
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (tx_hash) DO NOTHING`,
		p.TxHash, p.UserID.String(), p.FromAddress, p.ToAddress, p.Amount, millis(p.CreatedAt),
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

	user, err := getUser(ctx, tx, `u.id = ?`, p.UserID.String())
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

func (s *Store) GetPayment(ctx context.Context, txHash string) (*store.PaymentData, error) {
	p, err := scanPayment(s.db.QueryRowContext(ctx,
		`SELECT `+paymentCols+` FROM payments WHERE tx_hash = ?`, strings.ToLower(txHash)))
	if err != nil {
		return nil, notFound(err)
	}
	return p, nil
}

func (s *Store) ListPaymentsByUser(ctx context.Context, userID uuid.UUID) ([]store.PaymentData, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+paymentCols+` FROM payments WHERE user_id = ? ORDER BY created_at`, userID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.PaymentData
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}
