package upgrade

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+filepath.Join(t.TempDir(), "schema.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func setVersion(t *testing.T, db *sql.DB, version int, dirty bool) {
	t.Helper()
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER NOT NULL, dirty BOOLEAN NOT NULL)`); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := db.Exec(`DELETE FROM schema_migrations`); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO schema_migrations (version, dirty) VALUES (?, ?)`, version, dirty); err != nil {
		t.Fatalf("insert: %v", err)
	}
}

func TestCheckSchema_FreshDatabase(t *testing.T) {
	s, err := CheckSchema(openDB(t))
	if err != nil {
		t.Fatalf("CheckSchema: %v", err)
	}
	if !s.NeedsMigration || s.Compatible {
		t.Errorf("status = %+v, want needs migration", s)
	}
	if !errors.Is(s.Err(), ErrSchemaOutdated) {
		t.Errorf("Err = %v, want ErrSchemaOutdated", s.Err())
	}
}

func TestCheckSchema_Versions(t *testing.T) {
	tests := []struct {
		name    string
		version int
		dirty   bool
		wantErr error
	}{
		{"current", int(RequiredSchemaVersion), false, nil},
		{"behind", int(RequiredSchemaVersion) - 1, false, ErrSchemaOutdated},
		{"ahead", int(RequiredSchemaVersion) + 1, false, ErrSchemaAhead},
		{"dirty", int(RequiredSchemaVersion), true, ErrSchemaDirty},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := openDB(t)
			setVersion(t, db, tt.version, tt.dirty)
			s, err := CheckSchema(db)
			if err != nil {
				t.Fatalf("CheckSchema: %v", err)
			}
			if got := s.Err(); !errors.Is(got, tt.wantErr) {
				t.Errorf("Err = %v, want %v", got, tt.wantErr)
			}
			if (tt.wantErr == nil) != s.Compatible {
				t.Errorf("Compatible = %v", s.Compatible)
			}
			if tt.wantErr != nil && FormatError(s) == "" {
				t.Error("FormatError returned empty text")
			}
		})
	}
}

func TestRegisterDataHook_DuplicatePanics(t *testing.T) {
	saved := hooks
	t.Cleanup(func() { hooks = saved })

	noop := func(context.Context, *sql.Tx) error { return nil }
	RegisterDataHook(9, "test_hook", noop)
	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate hook name")
		}
	}()
	RegisterDataHook(9, "test_hook", noop)
}
