package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/xbtify/xbtclaw/internal/store"
)

// PGUserStore implements store.UserStore backed by Postgres.
type PGUserStore struct {
	db *sql.DB
}

func NewPGUserStore(db *sql.DB) *PGUserStore {
	return &PGUserStore{db: db}
}

const userSelectCols = `u.id, u.inbox_id, u.username, u.avatar_url, u.farcaster_fid,
 u.farcaster_username, u.farcaster_display_name, u.paid_tx_hash, u.created_at, u.updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*store.UserData, error) {
	var u store.UserData
	var inboxID, username, avatar, fcUser, fcDisplay sql.NullString
	var fid sql.NullInt64
	if err := row.Scan(
		&u.ID, &inboxID, &username, &avatar, &fid,
		&fcUser, &fcDisplay, &u.PaidTxHash, &u.CreatedAt, &u.UpdatedAt,
	); err != nil {
		return nil, err
	}
	u.InboxID = inboxID.String
	u.Username = username.String
	u.AvatarURL = avatar.String
	u.FarcasterFID = fid.Int64
	u.FarcasterUsername = fcUser.String
	u.FarcasterDisplayName = fcDisplay.String
	return &u, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PGUserStore) getOne(ctx context.Context, where string, arg any) (*store.UserData, error) {
	return getUser(ctx, s.db, where, arg)
}

// getUser loads one user and its wallets through q, which may be a
// transaction.
func getUser(ctx context.Context, q querier, where string, arg any) (*store.UserData, error) {
	row := q.QueryRowContext(ctx, `SELECT `+userSelectCols+` FROM users u WHERE `+where, arg)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if u.Wallets, err = listWallets(ctx, q, u.ID); err != nil {
		return nil, err
	}
	return u, nil
}

func listWallets(ctx context.Context, q querier, userID uuid.UUID) ([]store.WalletData, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT address, user_id, is_primary, COALESCE(ens_name, ''), COALESCE(base_name, ''), created_at, updated_at
		 FROM wallets WHERE user_id = $1 ORDER BY is_primary DESC, created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.WalletData
	for rows.Next() {
		var w store.WalletData
		if err := rows.Scan(&w.Address, &w.UserID, &w.IsPrimary, &w.ENSName, &w.BaseName, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *PGUserStore) GetUser(ctx context.Context, id uuid.UUID) (*store.UserData, error) {
	return s.getOne(ctx, `u.id = $1`, id)
}

func (s *PGUserStore) GetUserByInboxID(ctx context.Context, inboxID string) (*store.UserData, error) {
	return s.getOne(ctx, `u.inbox_id = $1`, inboxID)
}

func (s *PGUserStore) GetUserByFID(ctx context.Context, fid int64) (*store.UserData, error) {
	return s.getOne(ctx, `u.farcaster_fid = $1`, fid)
}

func (s *PGUserStore) GetUserByAddress(ctx context.Context, address string) (*store.UserData, error) {
	return s.getOne(ctx, `u.id = (SELECT user_id FROM wallets WHERE LOWER(address) = LOWER($1))`, address)
}

func (s *PGUserStore) GetUsersByInboxIDs(ctx context.Context, inboxIDs []string) ([]store.UserData, error) {
	if len(inboxIDs) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userSelectCols+` FROM users u WHERE u.inbox_id = ANY($1) ORDER BY u.created_at`,
		pq.Array(inboxIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.UserData
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

func (s *PGUserStore) CreateUser(ctx context.Context, p store.CreateUserParams) (*store.UserData, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	id := store.GenNewID()
	now := time.Now()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO users (id, inbox_id, username, avatar_url, farcaster_fid, farcaster_username, farcaster_display_name, paid_tx_hash, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, '', $8, $8)
		 ON CONFLICT (inbox_id) DO NOTHING`,
		id, nullStr(p.InboxID), nullStr(p.Username), nullStr(p.AvatarURL), nullInt(p.FarcasterFID),
		nullStr(p.FarcasterUsername), nullStr(p.FarcasterDisplayName), now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Lost a race on inbox_id.
		tx.Rollback()
		return s.GetUserByInboxID(ctx, p.InboxID)
	}

	for _, addr := range p.Addresses {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO wallets (address, user_id, is_primary, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $4)
			 ON CONFLICT (address) DO NOTHING`,
			addr, id, addr == p.PrimaryAddress, now,
		); err != nil {
			return nil, fmt.Errorf("insert wallet %s: %w", addr, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return s.GetUser(ctx, id)
}

func (s *PGUserStore) AttachInbox(ctx context.Context, userID uuid.UUID, inboxID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET inbox_id = $1, updated_at = $2 WHERE id = $3 AND inbox_id IS NULL`,
		inboxID, time.Now(), userID)
	if err != nil {
		return fmt.Errorf("attach inbox: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *PGUserStore) SetPaidTxHash(ctx context.Context, userID uuid.UUID, txHash string) error {
	return setPaidTxHash(ctx, s.db, userID, txHash)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func setPaidTxHash(ctx context.Context, db execer, userID uuid.UUID, txHash string) error {
	res, err := db.ExecContext(ctx,
		`UPDATE users SET paid_tx_hash = $1, updated_at = $2 WHERE id = $3`,
		txHash, time.Now(), userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}
