// Package incremental builds quality states for a base/head revision pair.
//
// The base state is always materialized in full, every file going through
// the metric cache. The head state reuses base metrics for unchanged paths
// when the change set is small relative to the base, and falls back to a
// full scan otherwise or when the change set cannot be computed.
package incremental

import (
	"context"
	"time"

	"qgate/internal/risk"
)

// ChangeType represents how a file changed between two revisions
type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeModified ChangeType = "modified"
	ChangeDeleted  ChangeType = "deleted"
	ChangeRenamed  ChangeType = "renamed"
)

// ChangedFile is one entry of a revision diff
type ChangedFile struct {
	Path       string     `json:"path"`              // New path (or current path if not renamed)
	OldPath    string     `json:"oldPath,omitempty"` // Original path for renames
	ChangeType ChangeType `json:"changeType"`
}

// Repository is the version-control collaborator. Calls may be slow or fail.
type Repository interface {
	// Changes lists files that differ between two revisions.
	Changes(ctx context.Context, baseRev, headRev string) ([]ChangedFile, error)
	// Snapshot lists every file path present at rev.
	Snapshot(ctx context.Context, rev string) ([]string, error)
	// ReadFile returns a file's content at rev.
	ReadFile(ctx context.Context, rev, path string) ([]byte, error)
}

// Input is what a metric provider sees for one file.
type Input struct {
	Path        string
	Revision    string
	Content     []byte
	ContentHash string
}

// MetricProvider extracts content-derived risk dimensions. Its output must
// depend only on the file content and the metric set, since results are
// cached by content hash.
type MetricProvider interface {
	// MetricSetVersion identifies the extraction rules; part of every cache key.
	MetricSetVersion() string
	// Accepts reports whether path is analyzed at all.
	Accepts(path string) bool
	// Extract computes the risk vector for one file.
	Extract(ctx context.Context, in Input) (risk.Vector, error)
}

// RevisionProvider supplies dimensions that depend on more than file content,
// such as history-derived churn or a coverage run keyed by path. A
// MetricProvider may optionally implement it. Those dimensions are overlaid
// on every state per revision and never cached.
type RevisionProvider interface {
	// RevisionDimensions lists the dimensions RevisionSignals owns.
	RevisionDimensions() []risk.Dimension
	// RevisionSignals returns the owned dimensions per path. Missing paths
	// score 0 on every owned dimension.
	RevisionSignals(ctx context.Context, rev string, paths []string) (map[string]risk.Vector, error)
}

// Mode is how the head state was built
type Mode string

const (
	ModeFull        Mode = "full"
	ModeIncremental Mode = "incremental"
)

// Stats counts where file metrics came from during one Analyze call
type Stats struct {
	BaseFiles      int   `json:"baseFiles"`
	HeadFiles      int   `json:"headFiles"`
	Reused         int   `json:"reused"`
	MemoryHits     int   `json:"memoryHits"`
	PersistentHits int   `json:"persistentHits"`
	Computed       int   `json:"computed"`
	Degraded       int   `json:"degraded"`
	Retries        int   `json:"retries"`
	DurationMs     int64 `json:"durationMs"`
}

// Config controls the analyzer
type Config struct {
	Workers              int           // Bounded worker pool size (default: 4)
	IncrementalThreshold float64       // Change ratio at or above which head is fully rescanned (default: 0.3)
	ProviderRetries      int           // Retries per file after the first failure (default: 2)
	ProviderTimeout      time.Duration // Per-attempt deadline for a provider call (0 = none)
}

// DefaultConfig returns the default analyzer configuration
func DefaultConfig() Config {
	return Config{
		Workers:              4,
		IncrementalThreshold: 0.3,
		ProviderRetries:      2,
		ProviderTimeout:      10 * time.Second,
	}
}
