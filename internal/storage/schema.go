package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// migrations[i] upgrades a database at user_version i to i+1. Append only.
var migrations = []string{
	`CREATE TABLE metric_cache (
		cache_key          TEXT PRIMARY KEY,
		content_hash       TEXT NOT NULL,
		metric_set_version TEXT NOT NULL,
		engine_version     TEXT NOT NULL,
		value              BLOB NOT NULL, -- zstd-compressed JSON risk vector
		created_at         TEXT NOT NULL
	);
	CREATE INDEX idx_metric_cache_versions ON metric_cache(metric_set_version, engine_version);`,
}

func (db *DB) schemaVersion(ctx context.Context) (int, error) {
	var v int
	err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v)
	return v, err
}

// migrate applies every pending migration, each in its own transaction
// together with the user_version bump.
func (db *DB) migrate(ctx context.Context) error {
	from, err := db.schemaVersion(ctx)
	if err != nil {
		return err
	}
	if from > len(migrations) {
		return fmt.Errorf("schema version %d is newer than this engine supports (%d)", from, len(migrations))
	}
	for v := from; v < len(migrations); v++ {
		err := db.WithTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, migrations[v]); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", v+1))
			return err
		})
		if err != nil {
			return fmt.Errorf("schema %d -> %d: %w", v, v+1, err)
		}
		db.logger.Debug("cache schema migrated", "version", v+1)
	}
	return nil
}
