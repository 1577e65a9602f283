package storage

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/klauspost/compress/zstd"

	"qgate/internal/metriccache"
)

// MetricStore persists cache entries in SQLite with zstd-compressed values.
// It implements metriccache.PersistentStore.
type MetricStore struct {
	db  *DB
	enc *zstd.Encoder
	dec *zstd.Decoder
	now func() time.Time
}

var _ metriccache.PersistentStore = (*MetricStore)(nil)

// VersionCount is the number of entries stored under one version pair.
type VersionCount struct {
	MetricSetVersion string `json:"metricSetVersion"`
	EngineVersion    string `json:"engineVersion"`
	Entries          int64  `json:"entries"`
}

// StoreStats summarizes the persisted cache.
type StoreStats struct {
	Path       string         `json:"path"`
	Entries    int64          `json:"entries"`
	ValueBytes int64          `json:"valueBytes"`
	Versions   []VersionCount `json:"versions"`
}

// OpenMetricStore opens the metric store under dir.
func OpenMetricStore(dir string, logger *slog.Logger) (*MetricStore, error) {
	db, err := Open(dir, logger)
	if err != nil {
		return nil, err
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		db.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &MetricStore{db: db, enc: enc, dec: dec, now: time.Now}, nil
}

// Load returns the decompressed value for key.
func (s *MetricStore) Load(key metriccache.Key) ([]byte, bool, error) {
	var blob []byte
	err := s.db.QueryRow(`
		SELECT value FROM metric_cache WHERE cache_key = ?
	`, key.String()).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("metric cache lookup failed: %w", err)
	}

	value, err := s.dec.DecodeAll(blob, nil)
	if err != nil {
		return nil, false, fmt.Errorf("corrupt cache entry %s: %w", key.String(), err)
	}
	return value, true, nil
}

// Save stores value under key, replacing any existing row. A key fully
// determines its value, so replacing only matters for a row that no longer
// decodes; the next computation repairs it.
func (s *MetricStore) Save(key metriccache.Key, value []byte) error {
	blob := s.enc.EncodeAll(value, nil)
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO metric_cache
			(cache_key, content_hash, metric_set_version, engine_version, value, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, key.String(), key.ContentHash, key.MetricSetVersion, key.EngineVersion, blob,
		s.now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to save cache entry: %w", err)
	}
	return nil
}

// DeleteStale removes every entry not produced under the given versions.
func (s *MetricStore) DeleteStale(metricSetVersion, engineVersion string) (int64, error) {
	result, err := s.db.Exec(`
		DELETE FROM metric_cache
		WHERE metric_set_version != ? OR engine_version != ?
	`, metricSetVersion, engineVersion)
	if err != nil {
		return 0, fmt.Errorf("failed to prune cache: %w", err)
	}
	return result.RowsAffected()
}

// Clear removes every entry.
func (s *MetricStore) Clear() error {
	if _, err := s.db.Exec("DELETE FROM metric_cache"); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	return nil
}

// Stats reports entry counts per version pair, ordered by version.
func (s *MetricStore) Stats() (*StoreStats, error) {
	stats := &StoreStats{Path: s.db.Path(), Versions: []VersionCount{}}

	err := s.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(LENGTH(value)), 0) FROM metric_cache
	`).Scan(&stats.Entries, &stats.ValueBytes)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`
		SELECT metric_set_version, engine_version, COUNT(*)
		FROM metric_cache
		GROUP BY metric_set_version, engine_version
		ORDER BY metric_set_version, engine_version
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var vc VersionCount
		if err := rows.Scan(&vc.MetricSetVersion, &vc.EngineVersion, &vc.Entries); err != nil {
			return nil, err
		}
		stats.Versions = append(stats.Versions, vc)
	}
	return stats, rows.Err()
}

// Close releases the codec and closes the database.
func (s *MetricStore) Close() error {
	s.dec.Close()
	if err := s.enc.Close(); err != nil {
		s.db.Close()
		return err
	}
	return s.db.Close()
}
