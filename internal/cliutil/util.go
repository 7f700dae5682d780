package cliutil

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/cockroachdb/errors"
)

// ParsePairs turns field=value arguments into a filter or payload. A field
// given more than once becomes multi-valued; "field=" stands for null.
func ParsePairs(args []string) (map[string]any, error) {
	out := make(map[string]any, len(args))
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok || k == "" {
			return nil, errors.Newf("invalid argument %q (expected field=value)", arg)
		}
		var value any = v
		if v == "" {
			value = nil
		}
		switch prev := out[k].(type) {
		case nil:
			if _, seen := out[k]; seen {
				out[k] = []any{nil, value}
			} else {
				out[k] = value
			}
		case []any:
			out[k] = append(prev, value)
		default:
			out[k] = []any{prev, value}
		}
	}
	return out, nil
}

// ReadJSONLines decodes one JSON object per non blank line. Numbers are kept
// as json.Number so integers survive.
func ReadJSONLines(r io.Reader) ([]map[string]any, error) {
	var out []map[string]any
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		b := bytes.TrimSpace(scanner.Bytes())
		if len(b) == 0 {
			continue
		}
		dec := json.NewDecoder(bytes.NewReader(b))
		dec.UseNumber()
		var doc map[string]any
		if err := dec.Decode(&doc); err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		out = append(out, doc)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "read input")
	}
	return out, nil
}

func PrintJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode output")
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
