package output

import (
	"bytes"
	"encoding/json"
	"strings"
)

// DeterministicEncode renders v as compact canonical JSON.
func DeterministicEncode(v any) ([]byte, error) {
	return encode(v, "")
}

// DeterministicEncodeIndented is DeterministicEncode with indentation.
func DeterministicEncodeIndented(v any, indent string) ([]byte, error) {
	return encode(v, indent)
}

func encode(v any, indent string) ([]byte, error) {
	tree, err := Normalize(v)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if indent != "" {
		enc.SetIndent("", indent)
	}
	if err := enc.Encode(tree); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Normalize marshals v with its own JSON encoding (tags, omitempty and
// marshaler types all apply) and returns the generic tree with fractional
// numbers rounded and null or empty containers pruned. Maps in the result
// encode with sorted keys.
func Normalize(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, err
	}
	return prune(tree), nil
}

func prune(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			if c := prune(child); c != nil {
				t[k] = c
			} else {
				delete(t, k)
			}
		}
		if len(t) == 0 {
			return nil
		}
		return t
	case []any:
		if len(t) == 0 {
			return nil
		}
		for i := range t {
			t[i] = prune(t[i])
		}
		return t
	case json.Number:
		// integers pass through untouched so large ones keep full precision
		if !strings.ContainsAny(string(t), ".eE") {
			return t
		}
		f, err := t.Float64()
		if err != nil {
			return t
		}
		return RoundFloat(f)
	}
	return v
}
