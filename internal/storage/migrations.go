package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
// If the database cannot be migrated to this version, it's a fatal error.
const ExpectedSchemaVersion = 2

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Terminal configuration",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS terminals (
					id TEXT PRIMARY KEY,
					name TEXT NOT NULL,
					ip_address TEXT NOT NULL,
					port INTEGER NOT NULL CHECK (port BETWEEN 1 AND 65535),
					sealed_api_key TEXT NOT NULL,
					terminal_type TEXT NOT NULL DEFAULT '',
					enabled INTEGER NOT NULL DEFAULT 1,
					auto_connect INTEGER NOT NULL DEFAULT 0,
					device_info TEXT,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE UNIQUE INDEX idx_terminals_endpoint ON terminals(ip_address, port)`,
			}
			return execAll(tx, queries)
		},
	},
	{
		Version:     2,
		Description: "Track last health check result",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`ALTER TABLE terminals ADD COLUMN last_status TEXT NOT NULL DEFAULT ''`,
				`ALTER TABLE terminals ADD COLUMN last_seen DATETIME`,
				`CREATE INDEX idx_terminals_enabled ON terminals(enabled)`,
			})
		},
	},
}

func execAll(tx *sql.Tx, queries []string) error {
	for _, query := range queries {
		if _, err := tx.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}
	return nil
}

// Migrate applies all pending database migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	currentVersion, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	if currentVersion > ExpectedSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", currentVersion, ExpectedSchemaVersion)
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	finalVersion, err := s.SchemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}
	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}
	return nil
}

// SchemaVersion returns the database's PRAGMA user_version.
func (s *SQLiteStorage) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get schema version: %w", err)
	}
	return version, nil
}
