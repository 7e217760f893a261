package model

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
)

// Result is the structured outcome of a task. Shapes vary by task type; the
// codec below keeps dates, arbitrary-precision numbers, and enum tags
// lossless across the database round trip.
type Result map[string]any

// EncodeResult serializes a result for storage. Time values are rendered as
// RFC 3339 strings and numbers keep their textual form, so re-reading a row
// reproduces exactly what was written.
func EncodeResult(r Result) ([]byte, error) {
	if r == nil {
		return nil, nil
	}
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalizeValue(r)); err != nil {
		return nil, eris.Wrap(err, "codec: encode result")
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// DecodeResult deserializes a stored result. Numbers come back as
// json.Number so values wider than float64 survive intact.
func DecodeResult(data []byte) (Result, error) {
	if len(data) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var r Result
	if err := dec.Decode(&r); err != nil {
		return nil, eris.Wrap(err, "codec: decode result")
	}
	return r, nil
}

// normalizeValue rewrites values the default encoder would mangle or render
// inconsistently: time.Time to RFC 3339, typed enum strings to plain
// strings, nested maps and slices recursively.
func normalizeValue(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case *time.Time:
		if t == nil {
			return nil
		}
		return t.UTC().Format(time.RFC3339Nano)
	case TaskStatus:
		return string(t)
	case TaskType:
		return string(t)
	case FitCategory:
		return string(t)
	case AliasSource:
		return string(t)
	case Result:
		return normalizeMap(map[string]any(t))
	case map[string]any:
		return normalizeMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalizeValue(e)
		}
		return out
	default:
		return v
	}
}

func normalizeMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = normalizeValue(v)
	}
	return out
}
