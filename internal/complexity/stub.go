//go:build !cgo

package complexity

import (
	"context"
	"errors"
)

// ErrNoCGO is returned by every call in builds without cgo.
var ErrNoCGO = errors.New("complexity scoring needs cgo for tree-sitter")

type Analyzer struct{}

// NewAnalyzer returns nil without cgo; callers treat a nil analyzer as
// "complexity unavailable".
func NewAnalyzer() *Analyzer { return nil }

func (*Analyzer) AnalyzeSource(context.Context, string, []byte) (*File, error) {
	return nil, ErrNoCGO
}

func IsAvailable() bool { return false }
