package signals

import (
	"bytes"
	"strings"
	"unicode"
)

// MarkerDensity returns defect markers per 100 lines. A marker counts when it
// appears as a whole word inside a line comment.
func MarkerDensity(content []byte, markers []string) float64 {
	if len(content) == 0 || len(markers) == 0 {
		return 0
	}

	lines := bytes.Split(content, []byte("\n"))
	found := 0
	for _, line := range lines {
		idx := bytes.Index(line, []byte("//"))
		if idx < 0 {
			continue
		}
		comment := string(line[idx+2:])
		for _, m := range markers {
			found += countWord(comment, m)
		}
	}
	return float64(found) * 100 / float64(len(lines))
}

func countWord(s, word string) int {
	if word == "" {
		return 0
	}
	n := 0
	for i := 0; ; {
		j := strings.Index(s[i:], word)
		if j < 0 {
			return n
		}
		start, end := i+j, i+j+len(word)
		if boundary(s, start-1) && boundary(s, end) {
			n++
		}
		i = end
	}
}

func boundary(s string, i int) bool {
	if i < 0 || i >= len(s) {
		return true
	}
	r := rune(s[i])
	return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
}
