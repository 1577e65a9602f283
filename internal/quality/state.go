// Package quality turns per-file risk vectors into quality scores.
//
// Everything here is a pure function over an already materialized State:
// the weighted Q-score, hard-constraint checks and the piecewise minimum
// across modules (PCQ). Paths are always folded in sorted order so results
// never depend on map iteration.
package quality

import (
	"sort"

	"qgate/internal/risk"
)

// FileMetrics is the analysis result for one file at one revision.
type FileMetrics struct {
	Path           string      `json:"path"`
	ContentHash    string      `json:"contentHash"`
	Risk           risk.Vector `json:"risk"`
	Degraded       bool        `json:"degraded,omitempty"`
	DegradedReason string      `json:"degradedReason,omitempty"`
}

// State is a snapshot of a revision: path -> FileMetrics. Deleted files are
// absent. A State is built fresh per evaluation and never persisted.
type State struct {
	Revision string                 `json:"revision"`
	Files    map[string]FileMetrics `json:"files"`
}

// Module is a named, disjoint group of file paths.
type Module struct {
	Name  string   `json:"name"`
	Paths []string `json:"paths"`
}

// NewState builds a state from a list of file metrics. Later entries for the
// same path replace earlier ones.
func NewState(revision string, files []FileMetrics) *State {
	s := &State{Revision: revision, Files: make(map[string]FileMetrics, len(files))}
	for _, fm := range files {
		s.Files[fm.Path] = fm
	}
	return s
}

// Len returns the number of files, degraded ones included.
func (s *State) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Files)
}

// Get returns the metrics for path.
func (s *State) Get(path string) (FileMetrics, bool) {
	if s == nil {
		return FileMetrics{}, false
	}
	fm, ok := s.Files[path]
	return fm, ok
}

// SortedPaths returns every path in lexicographic order.
func (s *State) SortedPaths() []string {
	if s == nil {
		return nil
	}
	paths := make([]string, 0, len(s.Files))
	for p := range s.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Healthy returns non-degraded files in path order.
func (s *State) Healthy() []FileMetrics {
	var out []FileMetrics
	for _, p := range s.SortedPaths() {
		if fm := s.Files[p]; !fm.Degraded {
			out = append(out, fm)
		}
	}
	return out
}

// DegradedPaths returns the sorted paths whose signal extraction failed.
func (s *State) DegradedPaths() []string {
	var out []string
	for _, p := range s.SortedPaths() {
		if s.Files[p].Degraded {
			out = append(out, p)
		}
	}
	return out
}

// DegradedRatio returns degraded files / all files, 0 for an empty state.
func (s *State) DegradedRatio() float64 {
	if s.Len() == 0 {
		return 0
	}
	return float64(len(s.DegradedPaths())) / float64(s.Len())
}

// Restrict returns a state holding only the given paths that exist in s.
func (s *State) Restrict(paths []string) *State {
	sub := &State{Files: make(map[string]FileMetrics, len(paths))}
	if s == nil {
		return sub
	}
	sub.Revision = s.Revision
	for _, p := range paths {
		if fm, ok := s.Files[p]; ok {
			sub.Files[p] = fm
		}
	}
	return sub
}
