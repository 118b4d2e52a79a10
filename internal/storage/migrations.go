package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
)

const (
	TableTargets     = "targets"
	TableCredentials = "credentials"
	TableAttributes  = "attributes"
)

type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

var defaultMigrations = []Migration{
	{
		Version:     1,
		Description: "create vault tables",
		Up: func(tx *sql.Tx) error {
			statements := []string{
				`CREATE TABLE targets (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					name TEXT NOT NULL,
					url TEXT NOT NULL DEFAULT '',
					has_attr INTEGER NOT NULL DEFAULT 0
				)`,
				`CREATE UNIQUE INDEX idx_targets_name ON targets(name)`,
				`CREATE TABLE credentials (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					target_id INTEGER NOT NULL REFERENCES targets(id),
					user TEXT NOT NULL,
					secret TEXT NOT NULL,
					created_at REAL NOT NULL,
					note TEXT NOT NULL DEFAULT ''
				)`,
				`CREATE INDEX idx_credentials_target_created ON credentials(target_id, created_at)`,
				`CREATE TABLE attributes (
					credential_id INTEGER NOT NULL REFERENCES credentials(id),
					attr TEXT NOT NULL,
					attr_val TEXT NOT NULL,
					PRIMARY KEY (credential_id, attr)
				)`,
			}
			for _, stmt := range statements {
				if _, err := tx.Exec(stmt); err != nil {
					return fmt.Errorf("apply migration v1 statement: %w", err)
				}
			}
			return nil
		},
	},
}

func DefaultMigrations() []Migration {
	out := make([]Migration, len(defaultMigrations))
	copy(out, defaultMigrations)
	return out
}

// RunMigrations applies every migration newer than the database's
// user_version, each in its own transaction.
func RunMigrations(ctx context.Context, db *sql.DB, migrations []Migration) error {
	if db == nil {
		return fmt.Errorf("run migrations: db is nil")
	}

	ordered := make([]Migration, len(migrations))
	copy(ordered, migrations)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Version < ordered[j].Version })

	current, err := readSchemaVersion(ctx, db)
	if err != nil {
		return err
	}

	maxVersion := maxMigrationVersion(ordered)
	if current > maxVersion {
		return fmt.Errorf("%w: db=%d code=%d", ErrSchemaTooNew, current, maxVersion)
	}

	for _, migration := range ordered {
		if migration.Version <= current {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration v%d: %w", migration.Version, err)
		}

		if err := migration.Up(tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration v%d (%s): %w", migration.Version, migration.Description, err)
		}

		// user_version lives in the database header and is rolled back with the transaction.
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version=%d`, migration.Version)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("update schema version v%d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", migration.Version, err)
		}
	}
	return nil
}

func readSchemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&version); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

func maxMigrationVersion(migrations []Migration) int {
	max := 0
	for _, migration := range migrations {
		if migration.Version > max {
			max = migration.Version
		}
	}
	return max
}
