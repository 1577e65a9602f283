package slogutil

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/dustin/go-humanize"
)

// rotatingFile appends to path and, once a write would push it past limit
// bytes, shifts path to path.1, path.1 to path.2 and so on, dropping
// anything beyond keep generations. A limit of 0 never rotates.
type rotatingFile struct {
	mu    sync.Mutex
	path  string
	limit uint64
	keep  int
	f     *os.File
	n     uint64
}

// openRotating opens path for appending. maxSize uses humanize syntax
// ("10MB" is 10^7 bytes, "10MiB" is 10*2^20); empty disables rotation.
func openRotating(path, maxSize string, keep int) (*rotatingFile, error) {
	var limit uint64
	if maxSize != "" {
		var err error
		if limit, err = humanize.ParseBytes(maxSize); err != nil {
			return nil, fmt.Errorf("logging.maxSize: %w", err)
		}
	}
	r := &rotatingFile{path: path, limit: limit, keep: max(keep, 0)}
	if err := r.reopen(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *rotatingFile) reopen() error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	r.f, r.n = f, uint64(st.Size())
	return nil
}

func (r *rotatingFile) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return 0, os.ErrClosed
	}
	if r.limit > 0 && r.n > 0 && r.n+uint64(len(p)) > r.limit {
		if err := r.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := r.f.Write(p)
	r.n += uint64(n)
	return n, err
}

func (r *rotatingFile) rotate() error {
	if err := r.f.Close(); err != nil {
		return err
	}
	r.f = nil
	if r.keep == 0 {
		if err := os.Remove(r.path); err != nil && !os.IsNotExist(err) {
			return err
		}
		return r.reopen()
	}
	// Oldest first so no rename overwrites a generation still to be shifted.
	os.Remove(generation(r.path, r.keep))
	for i := r.keep - 1; i >= 1; i-- {
		os.Rename(generation(r.path, i), generation(r.path, i+1))
	}
	if err := os.Rename(r.path, generation(r.path, 1)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return r.reopen()
}

func (r *rotatingFile) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}

func generation(path string, i int) string {
	return fmt.Sprintf("%s.%d", path, i)
}
