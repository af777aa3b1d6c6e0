package pg

import (
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/xbtify/xbtclaw/internal/store"
)

// OpenDB opens a pgx-backed *sql.DB and verifies the connection.
func OpenDB(dsn string, maxOpen int) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
		db.SetMaxIdleConns(maxOpen)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// NewStores wraps an already open database.
func NewStores(db *sql.DB) *store.Stores {
	return &store.Stores{
		Users:    NewPGUserStore(db),
		Groups:   NewPGGroupStore(db),
		Payments: NewPGPaymentStore(db),
		Close:    db.Close,
	}
}

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
