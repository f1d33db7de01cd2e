package sqlite

import (
	"database/sql"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"tabsnap/internal/registry"
)

func newScanTarget(k registry.Kind) any {
	switch k {
	case registry.Int:
		return new(sql.NullInt64)
	case registry.Float:
		return new(sql.NullFloat64)
	case registry.Bool:
		return new(sql.NullBool)
	default:
		return new(sql.NullString)
	}
}

func fromColumn(f registry.Field, dest any) (any, error) {
	switch d := dest.(type) {
	case *sql.NullInt64:
		if !d.Valid {
			return nil, nil
		}
		return d.Int64, nil
	case *sql.NullFloat64:
		if !d.Valid {
			return nil, nil
		}
		return d.Float64, nil
	case *sql.NullBool:
		if !d.Valid {
			return nil, nil
		}
		return d.Bool, nil
	case *sql.NullString:
		if !d.Valid {
			return nil, nil
		}
		switch f.Kind {
		case registry.Time:
			t, err := time.Parse(time.RFC3339Nano, d.String)
			if err != nil {
				return nil, err
			}
			return t, nil
		case registry.JSON:
			var v any
			if err := json.Unmarshal([]byte(d.String), &v); err != nil {
				return nil, err
			}
			return v, nil
		default:
			return d.String, nil
		}
	default:
		return nil, fmt.Errorf("unsupported scan target %T", dest)
	}
}

func toColumn(f registry.Field, v any) (any, error) {
	if v == nil {
		return nil, nil
	}

	switch f.Kind {
	case registry.Int:
		return toInt64(v)
	case registry.Float:
		return toFloat64(v)
	case registry.Bool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("expected bool, got %T", v)
		}
		return b, nil
	case registry.Time:
		switch t := v.(type) {
		case time.Time:
			return t.Format(time.RFC3339Nano), nil
		case string:
			parsed, err := time.Parse(time.RFC3339Nano, t)
			if err != nil {
				return nil, fmt.Errorf("invalid time %q: %w", t, err)
			}
			return parsed.Format(time.RFC3339Nano), nil
		default:
			return nil, fmt.Errorf("expected time, got %T", v)
		}
	case registry.JSON:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return string(data), nil
	default:
		if s, ok := v.(string); ok {
			return s, nil
		}
		return fmt.Sprint(v), nil
	}
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("expected integer, got %v", n)
		}
		return int64(n), nil
	case json.Number:
		return n.Int64()
	case string:
		return strconv.ParseInt(n, 10, 64)
	default:
		return 0, fmt.Errorf("expected integer, got %T", v)
	}
}

func toFloat64(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	default:
		return 0, fmt.Errorf("expected number, got %T", v)
	}
}
