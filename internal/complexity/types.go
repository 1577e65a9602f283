// Package complexity scores Go functions by cyclomatic and nesting-weighted
// cognitive complexity, parsing with tree-sitter so broken sources still
// yield a best-effort answer.
package complexity

// Function is the score of one function, method or function literal.
// Literals are also counted inside their enclosing function.
type Function struct {
	Name       string `json:"name"`
	Line       int    `json:"line"`
	EndLine    int    `json:"endLine"`
	Cyclomatic int    `json:"cyclomatic"`
	Cognitive  int    `json:"cognitive"`
}

// File holds the functions of one source file in source order.
type File struct {
	Path      string     `json:"path"`
	Functions []Function `json:"functions"`
	// Partial is set when the parser had to recover from syntax errors.
	Partial bool `json:"partial,omitempty"`
}

// MaxCyclomatic is the highest cyclomatic score, 0 for a file without
// functions.
func (f *File) MaxCyclomatic() int {
	m := 0
	for _, fn := range f.Functions {
		m = max(m, fn.Cyclomatic)
	}
	return m
}

// MaxCognitive is the highest cognitive score.
func (f *File) MaxCognitive() int {
	m := 0
	for _, fn := range f.Functions {
		m = max(m, fn.Cognitive)
	}
	return m
}

func (f *File) MeanCyclomatic() float64 {
	if len(f.Functions) == 0 {
		return 0
	}
	sum := 0
	for _, fn := range f.Functions {
		sum += fn.Cyclomatic
	}
	return float64(sum) / float64(len(f.Functions))
}
