package git

import (
	"context"
	"sort"

	"qgate/internal/incremental"
)

// Changes lists files that differ between two revisions, with rename
// detection.
func (r *Repository) Changes(ctx context.Context, baseRev, headRev string) ([]incremental.ChangedFile, error) {
	if err := checkRevs(baseRev, headRev); err != nil {
		return nil, err
	}
	out, err := r.run(ctx, "diff", "--name-status", "-z", "-M", "--no-color", baseRev, headRev)
	if err != nil {
		return nil, err
	}
	return incremental.DeduplicateChanges(parseNameStatus(out)), nil
}

// Snapshot lists every blob path in the tree of rev, sorted.
func (r *Repository) Snapshot(ctx context.Context, rev string) ([]string, error) {
	if err := checkRevs(rev); err != nil {
		return nil, err
	}
	out, err := r.run(ctx, "ls-tree", "-r", "-z", "--name-only", "--full-tree", rev)
	if err != nil {
		return nil, err
	}
	paths := splitNUL(out)
	sort.Strings(paths)
	return paths, nil
}

// ReadFile returns the content of path at rev.
func (r *Repository) ReadFile(ctx context.Context, rev, path string) ([]byte, error) {
	if err := checkRevs(rev); err != nil {
		return nil, err
	}
	return r.run(ctx, "cat-file", "blob", rev+":"+path)
}

// parseNameStatus reads `git diff --name-status -z`: a status field then one
// path, or two paths (source, destination) for R and C entries. A record cut
// short at the end of the stream is dropped.
func parseNameStatus(out []byte) []incremental.ChangedFile {
	fields := splitNUL(out)
	var changes []incremental.ChangedFile
	for len(fields) > 0 {
		status := fields[0]
		paths := 1
		if status[0] == 'R' || status[0] == 'C' {
			paths = 2
		}
		if len(fields) < 1+paths {
			break
		}
		record := fields[:1+paths]
		fields = fields[1+paths:]

		c := incremental.ChangedFile{Path: record[paths]}
		switch status[0] {
		case 'A', 'C': // a copy leaves its source untouched
			c.ChangeType = incremental.ChangeAdded
		case 'D':
			c.ChangeType = incremental.ChangeDeleted
		case 'R':
			c.ChangeType = incremental.ChangeRenamed
			c.OldPath = record[1]
		default: // M, T, U
			c.ChangeType = incremental.ChangeModified
		}
		changes = append(changes, c)
	}
	return changes
}
