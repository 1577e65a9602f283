// Package git is the version-control provider: revision diffs, tree
// listings, blob reads and commit history, all through the git CLI.
package git

import (
	"bytes"
	"context"
	stderrors "errors"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"qgate/internal/errors"
	"qgate/internal/slogutil"
)

// DefaultQueryTimeout bounds a single git invocation.
const DefaultQueryTimeout = 5000 * time.Millisecond

// Repository implements incremental.Repository over a local git checkout
type Repository struct {
	root         string
	queryTimeout time.Duration
	logger       *slog.Logger
}

// Open verifies that root is inside a git work tree.
func Open(ctx context.Context, root string, queryTimeout time.Duration, logger *slog.Logger) (*Repository, error) {
	if logger == nil {
		logger = slogutil.NewDiscardLogger()
	}
	if queryTimeout <= 0 {
		queryTimeout = DefaultQueryTimeout
	}
	r := &Repository{root: root, queryTimeout: queryTimeout, logger: logger}

	out, err := r.run(ctx, "rev-parse", "--is-inside-work-tree")
	if err != nil || strings.TrimSpace(string(out)) != "true" {
		return nil, errors.New(errors.ConfigurationError, "not a git repository: "+root, err)
	}
	logger.Debug("git repository opened", "root", root, "timeout", queryTimeout.String())
	return r, nil
}

// Root returns the work tree the repository was opened on.
func (r *Repository) Root() string {
	return r.root
}

// ResolveRevision returns the full commit hash rev names.
func (r *Repository) ResolveRevision(ctx context.Context, rev string) (string, error) {
	if err := checkRevs(rev); err != nil {
		return "", err
	}
	out, err := r.run(ctx, "rev-parse", "--verify", rev+"^{commit}")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// checkRevs rejects revision arguments git would parse as options.
func checkRevs(revs ...string) error {
	for _, rev := range revs {
		if rev == "" || strings.HasPrefix(rev, "-") {
			return errors.Newf(errors.ConfigurationError, "invalid revision %q", rev)
		}
	}
	return nil
}

// run executes git with the per-query timeout and returns raw stdout.
func (r *Repository) run(ctx context.Context, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.queryTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = r.root
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	r.logger.Debug("executing git command", "args", args)

	out, err := cmd.Output()
	if err == nil {
		return out, nil
	}
	if stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, errors.New(errors.ProviderError, "git command timed out", err).
			WithDetails(map[string]interface{}{"args": args, "timeout": r.queryTimeout.String()})
	}
	if ctx.Err() != nil {
		return nil, errors.New(errors.Cancelled, "git command cancelled", ctx.Err())
	}

	var exitErr *exec.ExitError
	if stderrors.As(err, &exitErr) {
		return nil, errors.New(errors.ProviderError, "git command failed", err).
			WithDetails(map[string]interface{}{"args": args, "stderr": strings.TrimSpace(stderr.String())})
	}
	return nil, errors.New(errors.ProviderError, "failed to execute git command", err)
}

// splitNUL splits -z output, dropping empty fields.
func splitNUL(out []byte) []string {
	var fields []string
	for _, f := range bytes.Split(out, []byte{0}) {
		if len(f) > 0 {
			fields = append(fields, string(f))
		}
	}
	return fields
}
