package upgrade

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// DataHookFunc transforms rows after the SQL migration for its schema
// version. It runs inside the transaction that records it as applied.
type DataHookFunc func(ctx context.Context, tx *sql.Tx) error

type dataHook struct {
	version uint
	name    string
	fn      DataHookFunc
}

var hooks []dataHook

// RegisterDataHook adds a hook. Names must be unique; hooks run in
// registration order.
func RegisterDataHook(schemaVersion uint, name string, fn DataHookFunc) {
	for _, h := range hooks {
		if h.name == name {
			panic("upgrade: duplicate data hook " + name)
		}
	}
	hooks = append(hooks, dataHook{version: schemaVersion, name: name, fn: fn})
}

// PendingHooks lists hooks not yet recorded in data_migrations.
func PendingHooks(ctx context.Context, db *sql.DB) ([]string, error) {
	applied, err := appliedHooks(ctx, db)
	if err != nil {
		return nil, err
	}
	var pending []string
	for _, h := range hooks {
		if !applied[h.name] {
			pending = append(pending, h.name)
		}
	}
	return pending, nil
}

// RunPendingHooks runs each unapplied hook whose version is at or below
// current. A failing hook rolls back alone and stops the run.
func RunPendingHooks(ctx context.Context, db *sql.DB, current uint) (int, error) {
	applied, err := appliedHooks(ctx, db)
	if err != nil {
		return 0, err
	}

	ran := 0
	for _, h := range hooks {
		if applied[h.name] || h.version > current {
			continue
		}
		start := time.Now()
		if err := runHook(ctx, db, h); err != nil {
			return ran, err
		}
		slog.Info("upgrade.data_hook", "name", h.name, "schema_version", h.version, "duration", time.Since(start))
		ran++
	}
	return ran, nil
}

func runHook(ctx context.Context, db *sql.DB, h dataHook) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("data hook %q: begin: %w", h.name, err)
	}
	defer tx.Rollback()

	if err := h.fn(ctx, tx); err != nil {
		return fmt.Errorf("data hook %q: %w", h.name, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO data_migrations (name, version) VALUES ($1, $2)`, h.name, h.version); err != nil {
		return fmt.Errorf("data hook %q: record: %w", h.name, err)
	}
	return tx.Commit()
}

// appliedHooks creates data_migrations if needed and returns the names
// recorded there.
func appliedHooks(ctx context.Context, db *sql.DB) (map[string]bool, error) {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS data_migrations (
			name       VARCHAR(255) PRIMARY KEY,
			version    INT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`); err != nil {
		return nil, fmt.Errorf("create data_migrations: %w", err)
	}

	rows, err := db.QueryContext(ctx, `SELECT name FROM data_migrations`)
	if err != nil {
		return nil, fmt.Errorf("query data_migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		applied[name] = true
	}
	return applied, rows.Err()
}
