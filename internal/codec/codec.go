// Package codec converts typed records to and from the value-level documents
// stored in a snapshot.
//
// Date/time values are written as ISO8601 strings. Decoding is driven by the
// table descriptor: declared fields are converted by their declared kind.
// Fields the descriptor does not know fall back to shape inference, where a
// string holding a 'T' and at least 19 characters is read as a timestamp if it
// parses as one.
package codec

import (
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"tabsnap/internal/registry"
	"tabsnap/internal/store"
)

// Document is the serialized form of a record.
type Document map[string]any

// Accepted timestamp layouts, most specific first. Offset-less values are UTC.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ToDocument normalizes every declared field of rec.
func ToDocument(t *registry.Table, rec store.Record) Document {
	doc := make(Document, len(t.Fields))
	for _, f := range t.Fields {
		doc[f.Name] = Normalize(rec[f.Name])
	}
	return doc
}

// Normalize converts a value to its document form. Times become ISO8601
// strings, primitives and plain lists or maps pass through unchanged, and
// anything else is rendered through its textual form.
func Normalize(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case time.Time:
		return x.Format(time.RFC3339Nano)
	case *time.Time:
		if x == nil {
			return nil
		}
		return x.Format(time.RFC3339Nano)
	case string, bool, json.Number,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return v
	case fmt.Stringer:
		return x.String()
	}

	switch reflect.TypeOf(v).Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return v
	}
	return fmt.Sprint(v)
}

// FromDocument converts doc back into a record of table t.
func FromDocument(t *registry.Table, doc Document) (store.Record, error) {
	rec := make(store.Record, len(doc))
	for name, v := range doc {
		f, ok := t.Field(name)
		if !ok {
			rec[name] = Heuristic(v)
			continue
		}
		decoded, err := decode(f.Kind, v)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", name, err)
		}
		rec[name] = decoded
	}
	return rec, nil
}

// Heuristic infers the type of an undeclared value from its shape.
func Heuristic(v any) any {
	switch x := v.(type) {
	case string:
		if strings.Contains(x, "T") && len(x) >= 19 {
			if t, err := ParseTime(x); err == nil {
				return t
			}
		}
		return x
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	default:
		return v
	}
}

// ParseTime parses an ISO8601 timestamp in any of the accepted layouts.
func ParseTime(s string) (time.Time, error) {
	var firstErr error
	for _, layout := range timeLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}

func decode(k registry.Kind, v any) (any, error) {
	if v == nil {
		return nil, nil
	}

	switch k {
	case registry.Int:
		switch n := v.(type) {
		case json.Number:
			return n.Int64()
		case float64:
			if n != math.Trunc(n) {
				return nil, fmt.Errorf("expected integer, got %v", n)
			}
			return int64(n), nil
		case int:
			return int64(n), nil
		case int64:
			return n, nil
		}
	case registry.Float:
		switch n := v.(type) {
		case json.Number:
			return n.Float64()
		case float64:
			return n, nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		}
	case registry.Bool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case registry.String:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case registry.Time:
		if s, ok := v.(string); ok {
			return ParseTime(s)
		}
	case registry.JSON:
		return plainNumbers(v), nil
	}

	return nil, fmt.Errorf("expected %s, got %T", k, v)
}

// plainNumbers replaces json.Number values inside a JSON value with float64.
func plainNumbers(v any) any {
	switch x := v.(type) {
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return x.String()
		}
		return f
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = plainNumbers(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = plainNumbers(e)
		}
		return out
	default:
		return v
	}
}
