package git

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CommitTime returns the committer date of rev.
func (r *Repository) CommitTime(ctx context.Context, rev string) (time.Time, error) {
	if err := checkRevs(rev); err != nil {
		return time.Time{}, err
	}
	out, err := r.run(ctx, "show", "-s", "--format=%ct", rev)
	if err != nil {
		return time.Time{}, err
	}
	secs, err := strconv.ParseInt(strings.TrimSpace(string(out)), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse commit time of %s: %w", rev, err)
	}
	return time.Unix(secs, 0).UTC(), nil
}

// ChangeCounts counts, per path, the commits reachable from rev that touched
// it within window before rev's own commit date. Anchoring the window on the
// commit rather than the wall clock keeps the result a function of history.
func (r *Repository) ChangeCounts(ctx context.Context, rev string, window time.Duration) (map[string]int, error) {
	if err := checkRevs(rev); err != nil {
		return nil, err
	}
	args := []string{"log", "--format=%x00", "--name-only", "--no-renames", "-z"}
	if window > 0 {
		at, err := r.CommitTime(ctx, rev)
		if err != nil {
			return nil, err
		}
		args = append(args, "--since="+at.Add(-window).Format("2006-01-02 15:04:05 -0700"))
	}
	args = append(args, rev)

	out, err := r.run(ctx, args...)
	if err != nil {
		return nil, err
	}
	return parseNameOnlyLog(out), nil
}

// parseNameOnlyLog tallies paths from `git log --format=%x00 --name-only -z`.
// Each commit starts with a NUL marker; paths are NUL-terminated and may be
// preceded by the newline that ends the empty format line.
func parseNameOnlyLog(out []byte) map[string]int {
	counts := make(map[string]int)
	for _, field := range bytes.Split(out, []byte{0}) {
		path := strings.TrimLeft(string(field), "\n")
		if path == "" {
			continue
		}
		counts[path]++
	}
	return counts
}
