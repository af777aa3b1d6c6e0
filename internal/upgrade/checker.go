// Package upgrade checks the Postgres schema version against the one this
// binary was built for and runs Go data hooks after SQL migrations.
package upgrade

import (
	"database/sql"
	"errors"
	"fmt"
)

// RequiredSchemaVersion is the highest migration under migrations/.
const RequiredSchemaVersion uint = 2

// SchemaStatus is the result of comparing schema_migrations to
// RequiredSchemaVersion.
type SchemaStatus struct {
	CurrentVersion  uint
	RequiredVersion uint
	Dirty           bool
	Compatible      bool
	NeedsMigration  bool
}

var (
	ErrSchemaOutdated = errors.New("database schema is outdated")
	ErrSchemaDirty    = errors.New("database schema is dirty (failed migration)")
	ErrSchemaAhead    = errors.New("database schema is newer than this binary")
)

// CheckSchema reads the golang-migrate version row. A missing table or row
// means a fresh database that needs migrating.
func CheckSchema(db *sql.DB) (*SchemaStatus, error) {
	var (
		version uint
		dirty   bool
	)
	if err := db.QueryRow("SELECT version, dirty FROM schema_migrations LIMIT 1").Scan(&version, &dirty); err != nil {
		return &SchemaStatus{RequiredVersion: RequiredSchemaVersion, NeedsMigration: true}, nil
	}

	s := &SchemaStatus{
		CurrentVersion:  version,
		RequiredVersion: RequiredSchemaVersion,
		Dirty:           dirty,
	}
	if dirty {
		return s, nil
	}
	switch {
	case version == RequiredSchemaVersion:
		s.Compatible = true
	case version < RequiredSchemaVersion:
		s.NeedsMigration = true
	}
	return s, nil
}

// Err maps a status to one of the sentinel errors, or nil when compatible.
func (s *SchemaStatus) Err() error {
	switch {
	case s.Dirty:
		return ErrSchemaDirty
	case s.CurrentVersion > s.RequiredVersion:
		return ErrSchemaAhead
	case s.NeedsMigration:
		return ErrSchemaOutdated
	}
	return nil
}

// FormatError returns operator instructions for an incompatible status.
func FormatError(s *SchemaStatus) string {
	if s.Dirty {
		prev := uint(0)
		if s.CurrentVersion > 0 {
			prev = s.CurrentVersion - 1
		}
		return fmt.Sprintf(
			"Database schema is dirty at version %d (a migration failed partway).\n\n"+
				"  Fix:  xbtclaw migrate force %d\n"+
				"  Then: xbtclaw migrate up\n",
			s.CurrentVersion, prev,
		)
	}
	if s.CurrentVersion > s.RequiredVersion {
		return fmt.Sprintf(
			"Database schema (v%d) is newer than this binary (requires v%d).\n"+
				"  Fix: deploy a newer xbtclaw build.\n",
			s.CurrentVersion, s.RequiredVersion,
		)
	}
	return fmt.Sprintf(
		"Database schema is outdated: current v%d, required v%d.\n\n"+
			"  Run: xbtclaw migrate up\n"+
			"  Or set database.auto_migrate=true.\n",
		s.CurrentVersion, s.RequiredVersion,
	)
}
