// Package sqlite is the standalone store backend: one local database
// file, no server. It mirrors the Postgres schema with SQLite types.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/xbtify/xbtclaw/internal/store"
)

//go:embed schema.sql
var schema string

// Open opens (creating if needed) the database at path and applies the
// schema. Use ":memory:" only with a single connection.
func Open(path string) (*sql.DB, error) {
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps
	// transactions and plain queries from deadlocking each other.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return db, nil
}

// NewStores opens path and returns all stores backed by it.
func NewStores(path string) (*store.Stores, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db}
	return &store.Stores{
		Users:    s,
		Groups:   s,
		Payments: s,
		Close:    db.Close,
	}, nil
}

// Store implements the user, group and payment stores on one database.
type Store struct {
	db *sql.DB
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

func millis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms) }

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(n int64) any {
	if n == 0 {
		return nil
	}
	return n
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func stringArgs(vals []string) []any {
	args := make([]any, len(vals))
	for i, v := range vals {
		args[i] = v
	}
	return args
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

// ---- users ----

const userCols = `u.id, u.inbox_id, u.username, u.avatar_url, u.farcaster_fid,
 u.farcaster_username, u.farcaster_display_name, u.paid_tx_hash, u.created_at, u.updated_at`

func scanUser(row rowScanner) (*store.UserData, error) {
	var u store.UserData
	var id string
	var inboxID, username, avatar, fcUser, fcDisplay sql.NullString
	var fid sql.NullInt64
	var created, updated int64
	if err := row.Scan(&id, &inboxID, &username, &avatar, &fid, &fcUser, &fcDisplay, &u.PaidTxHash, &created, &updated); err != nil {
		return nil, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse user id %q: %w", id, err)
	}
	u.ID = parsed
	u.InboxID = inboxID.String
	u.Username = username.String
	u.AvatarURL = avatar.String
	u.FarcasterFID = fid.Int64
	u.FarcasterUsername = fcUser.String
	u.FarcasterDisplayName = fcDisplay.String
	u.CreatedAt = fromMillis(created)
	u.UpdatedAt = fromMillis(updated)
	return &u, nil
}

func getUser(ctx context.Context, q querier, where string, arg any) (*store.UserData, error) {
	u, err := scanUser(q.QueryRowContext(ctx, `SELECT `+userCols+` FROM users u WHERE `+where, arg))
	if err != nil {
		return nil, notFound(err)
	}
	if u.Wallets, err = listWallets(ctx, q, u.ID); err != nil {
		return nil, err
	}
	return u, nil
}

func listWallets(ctx context.Context, q querier, userID uuid.UUID) ([]store.WalletData, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT address, is_primary, COALESCE(ens_name, ''), COALESCE(base_name, ''), created_at, updated_at
		 FROM wallets WHERE user_id = ? ORDER BY is_primary DESC, created_at`, userID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.WalletData
	for rows.Next() {
		w := store.WalletData{UserID: userID}
		var created, updated int64
		if err := rows.Scan(&w.Address, &w.IsPrimary, &w.ENSName, &w.BaseName, &created, &updated); err != nil {
			return nil, err
		}
		w.CreatedAt, w.UpdatedAt = fromMillis(created), fromMillis(updated)
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (*store.UserData, error) {
	return getUser(ctx, s.db, `u.id = ?`, id.String())
}

func (s *Store) GetUserByInboxID(ctx context.Context, inboxID string) (*store.UserData, error) {
	return getUser(ctx, s.db, `u.inbox_id = ?`, inboxID)
}

func (s *Store) GetUserByFID(ctx context.Context, fid int64) (*store.UserData, error) {
	return getUser(ctx, s.db, `u.farcaster_fid = ?`, fid)
}

func (s *Store) GetUserByAddress(ctx context.Context, address string) (*store.UserData, error) {
	return getUser(ctx, s.db, `u.id = (SELECT user_id FROM wallets WHERE LOWER(address) = LOWER(?))`, address)
}

func (s *Store) GetUsersByInboxIDs(ctx context.Context, inboxIDs []string) ([]store.UserData, error) {
	if len(inboxIDs) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userCols+` FROM users u WHERE u.inbox_id IN (`+placeholders(len(inboxIDs))+`) ORDER BY u.created_at`,
		stringArgs(inboxIDs)...)
	if err != nil {
		return nil, err
	}
	return collectUsers(rows)
}

func collectUsers(rows *sql.Rows) ([]store.UserData, error) {
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

func (s *Store) CreateUser(ctx context.Context, p store.CreateUserParams) (*store.UserData, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	id := store.GenNewID()
	now := millis(time.Now())
	res, err := tx.ExecContext(ctx,
		`INSERT INTO users (id, inbox_id, username, avatar_url, farcaster_fid, farcaster_username, farcaster_display_name, paid_tx_hash, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, '', ?, ?)
		 ON CONFLICT (inbox_id) DO NOTHING`,
		id.String(), nullStr(p.InboxID), nullStr(p.Username), nullStr(p.AvatarURL), nullInt(p.FarcasterFID),
		nullStr(p.FarcasterUsername), nullStr(p.FarcasterDisplayName), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return getUser(ctx, tx, `u.inbox_id = ?`, p.InboxID)
	}

	for _, addr := range p.Addresses {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO wallets (address, user_id, is_primary, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (address) DO NOTHING`,
			addr, id.String(), addr == p.PrimaryAddress, now, now,
		); err != nil {
			return nil, fmt.Errorf("insert wallet %s: %w", addr, err)
		}
	}
	u, err := getUser(ctx, tx, `u.id = ?`, id.String())
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return u, nil
}

func (s *Store) AttachInbox(ctx context.Context, userID uuid.UUID, inboxID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET inbox_id = ?, updated_at = ? WHERE id = ? AND inbox_id IS NULL`,
		inboxID, millis(time.Now()), userID.String())
	if err != nil {
		return fmt.Errorf("attach inbox: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) SetPaidTxHash(ctx context.Context, userID uuid.UUID, txHash string) error {
	return setPaidTxHash(ctx, s.db, userID, txHash)
}

func setPaidTxHash(ctx context.Context, q querier, userID uuid.UUID, txHash string) error {
	res, err := q.ExecContext(ctx,
		`UPDATE users SET paid_tx_hash = ?, updated_at = ? WHERE id = ?`,
		txHash, millis(time.Now()), userID.String())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}
