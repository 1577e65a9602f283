//go:build cgo

package complexity

import (
	"context"
	"testing"
)

func analyze(t *testing.T, src string) *File {
	t.Helper()
	f, err := NewAnalyzer().AnalyzeSource(context.Background(), "x.go", []byte(src))
	if err != nil {
		t.Fatalf("AnalyzeSource() error = %v", err)
	}
	return f
}

func byName(f *File) map[string]Function {
	out := make(map[string]Function, len(f.Functions))
	for _, fn := range f.Functions {
		out[fn.Name] = fn
	}
	return out
}

func TestAnalyzeSource_Cyclomatic(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"straight line", "x := 1\n_ = x", 1},
		{"if", "if n > 0 { n-- }", 2},
		{"else if chain", "if n > 0 { n-- } else if n < 0 { n++ } else { n = 0 }", 3},
		{"range loop", "for range ch { n++ }", 3},
		{"switch", "switch n { case 1: n++; case 2: n--; default: }", 3},
		{"logical", "if n > 0 && n < 9 || n == 42 { n = 0 }", 4},
		{"arithmetic", "n = n + n*2", 1},
		{"select", "select { case <-ch: n++; default: }", 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := analyze(t, "package p\nfunc f(n int, ch chan int) {\n"+tt.body+"\n}\n")
			if len(f.Functions) != 1 {
				t.Fatalf("functions = %d, want 1", len(f.Functions))
			}
			if got := f.Functions[0].Cyclomatic; got != tt.want {
				t.Errorf("Cyclomatic = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestAnalyzeSource_NestingWeighsCognitive(t *testing.T) {
	f := byName(analyze(t, `package p

func flat(a, b, c bool) {
	if a { use() }
	if b { use() }
	if c { use() }
}

func deep(a, b, c bool) {
	if a {
		if b {
			if c { use() }
		}
	}
}
`))
	flat, deep := f["flat"], f["deep"]
	if flat.Cyclomatic != deep.Cyclomatic {
		t.Errorf("Cyclomatic flat = %d, deep = %d, want equal", flat.Cyclomatic, deep.Cyclomatic)
	}
	if flat.Cognitive != 3 || deep.Cognitive != 6 {
		t.Errorf("Cognitive flat = %d, deep = %d, want 3 and 6", flat.Cognitive, deep.Cognitive)
	}
}

func TestAnalyzeSource_FunctionsAndLiterals(t *testing.T) {
	f := analyze(t, `package p

type s struct{}

func (s) method(x int) int {
	if x > 0 {
		return x
	}
	return 0
}

func outer() {
	go func() {
		for {
		}
	}()
}
`)
	if len(f.Functions) != 3 {
		t.Fatalf("functions = %d, want method, outer and the literal", len(f.Functions))
	}
	fns := byName(f)
	if m := fns["method"]; m.Line != 5 || m.EndLine != 10 || m.Cyclomatic != 2 {
		t.Errorf("method = %+v, want lines 5-10 and cyclomatic 2", m)
	}
	if got := fns["outer"].Cyclomatic; got != 2 {
		t.Errorf("outer Cyclomatic = %d, want 2 (literal's loop included)", got)
	}
	if lit := fns["func literal"]; lit.Cognitive != 2 {
		t.Errorf("literal Cognitive = %d, want 2 (loop nested in the literal)", lit.Cognitive)
	}
	if f.MaxCyclomatic() != 2 {
		t.Errorf("MaxCyclomatic() = %d, want 2", f.MaxCyclomatic())
	}
}

func TestAnalyzeSource_SyntaxError(t *testing.T) {
	f := analyze(t, "package p\nfunc ok() { if true {} }\nfunc broken( {")
	if !f.Partial {
		t.Error("Partial = false for a file with syntax errors")
	}
	if byName(f)["ok"].Cyclomatic != 2 {
		t.Error("functions before the error should still be scored")
	}
}

func TestAnalyzeSource_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewAnalyzer().AnalyzeSource(ctx, "x.go", []byte("package x")); err == nil {
		t.Error("AnalyzeSource() on a cancelled context should fail")
	}
}
