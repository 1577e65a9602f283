package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"qgate/internal/slogutil"
)

// DBFileName is the database file inside the cache directory.
const DBFileName = "metrics.db"

// Applied to every pooled connection through the DSN, not just the first.
var connPragmas = []string{
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"busy_timeout(5000)",
	"temp_store(MEMORY)",
}

// DB is the cache database. The embedded pool is safe for concurrent use.
type DB struct {
	*sql.DB
	path   string
	logger *slog.Logger
}

// Open opens dir/metrics.db, creating the directory and file as needed, and
// brings the schema up to date.
func Open(dir string, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slogutil.NewDiscardLogger()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	path := filepath.Join(dir, DBFileName)

	var dsn strings.Builder
	dsn.WriteString("file:" + path)
	for i, p := range connPragmas {
		if i == 0 {
			dsn.WriteByte('?')
		} else {
			dsn.WriteByte('&')
		}
		dsn.WriteString("_pragma=" + p)
	}
	pool, err := sql.Open("sqlite", dsn.String())
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	db := &DB{DB: pool, path: path, logger: logger}
	if err := db.migrate(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}
	return db, nil
}

// Path is the database file.
func (db *DB) Path() string {
	return db.path
}

// WithTx runs fn in a transaction, committing only when fn succeeds.
func (db *DB) WithTx(ctx context.Context, fn func(*sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rerr := tx.Rollback(); rerr != nil {
				db.logger.Error("rollback failed", "error", err, "rollback_error", rerr)
			}
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
