package incremental

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// MemoryRepository is an in-memory Repository of named revisions.
type MemoryRepository struct {
	mu   sync.RWMutex
	revs map[string]map[string][]byte

	// ChangesErr, when set, is returned by Changes.
	ChangesErr error
	// FailRead, when set, is consulted before every ReadFile.
	FailRead func(rev, path string) error

	reads atomic.Int64
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{revs: make(map[string]map[string][]byte)}
}

// AddRevision records the full file set of rev.
func (r *MemoryRepository) AddRevision(rev string, files map[string]string) {
	snapshot := make(map[string][]byte, len(files))
	for p, content := range files {
		snapshot[p] = []byte(content)
	}
	r.mu.Lock()
	r.revs[rev] = snapshot
	r.mu.Unlock()
}

// Reads returns how many ReadFile calls were made.
func (r *MemoryRepository) Reads() int64 {
	return r.reads.Load()
}

func (r *MemoryRepository) revision(rev string) (map[string][]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	files, ok := r.revs[rev]
	if !ok {
		return nil, fmt.Errorf("unknown revision %q", rev)
	}
	return files, nil
}

// Changes diffs two revisions by content. Renames are reported as a
// deletion plus an addition.
func (r *MemoryRepository) Changes(ctx context.Context, baseRev, headRev string) ([]ChangedFile, error) {
	if r.ChangesErr != nil {
		return nil, r.ChangesErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	base, err := r.revision(baseRev)
	if err != nil {
		return nil, err
	}
	head, err := r.revision(headRev)
	if err != nil {
		return nil, err
	}

	var changes []ChangedFile
	for p, content := range head {
		old, ok := base[p]
		switch {
		case !ok:
			changes = append(changes, ChangedFile{Path: p, ChangeType: ChangeAdded})
		case !bytes.Equal(old, content):
			changes = append(changes, ChangedFile{Path: p, ChangeType: ChangeModified})
		}
	}
	for p := range base {
		if _, ok := head[p]; !ok {
			changes = append(changes, ChangedFile{Path: p, ChangeType: ChangeDeleted})
		}
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })
	return changes, nil
}

// Snapshot lists the paths of rev in sorted order.
func (r *MemoryRepository) Snapshot(ctx context.Context, rev string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	files, err := r.revision(rev)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths, nil
}

// ReadFile returns a copy of the content of path at rev.
func (r *MemoryRepository) ReadFile(ctx context.Context, rev, path string) ([]byte, error) {
	r.reads.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.FailRead != nil {
		if err := r.FailRead(rev, path); err != nil {
			return nil, err
		}
	}
	files, err := r.revision(rev)
	if err != nil {
		return nil, err
	}
	content, ok := files[path]
	if !ok {
		return nil, fmt.Errorf("%s does not exist at %s", path, rev)
	}
	return append([]byte(nil), content...), nil
}
