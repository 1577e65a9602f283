package output

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format is a report rendering.
type Format string

const (
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
	FormatHuman Format = "human"
)

// ParseFormat accepts json, yaml (or yml) and human, case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "human", "text":
		return FormatHuman, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want json, yaml or human)", s)
	}
}

// WriteJSON writes v as deterministic indented JSON followed by a newline.
func WriteJSON(w io.Writer, v interface{}) error {
	data, err := DeterministicEncodeIndented(v, "  ")
	if err != nil {
		return err
	}
	_, err = w.Write(append(data, '\n'))
	return err
}

// WriteYAML writes v as YAML with the same normalization as WriteJSON.
// Keys are emitted in sorted order.
func WriteYAML(w io.Writer, v interface{}) error {
	// round-trip through JSON so marshaler types render as they do in JSON
	data, err := DeterministicEncode(v)
	if err != nil {
		return err
	}
	var generic interface{}
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return err
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(generic); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	_, err = w.Write(buf.Bytes())
	return err
}
