package planner

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/glassflow/graphsync/internal/core/schema"
)

// coerceScalar implements spec.md §4.4's "small coercion function
// returning option<Scalar> per column": unsupported JSON kinds and
// null yield ok=false and the caller omits the column rather than
// unsetting an existing property.
func coerceScalar(v any) (out any, ok bool) {
	switch val := v.(type) {
	case nil:
		return nil, false
	case string:
		return val, true
	case bool:
		return val, true
	case json.Number:
		if isIntegral(val) {
			if n, err := val.Int64(); err == nil {
				return n, true
			}
		}
		if f, err := val.Float64(); err == nil {
			return f, true
		}
		return nil, false
	default:
		// nested objects/arrays and anything else are unsupported kinds.
		return nil, false
	}
}

func isIntegral(n json.Number) bool {
	s := n.String()
	for _, c := range s {
		if c == '.' || c == 'e' || c == 'E' {
			return false
		}
	}
	return true
}

// coerceID binds the identifier column per spec.md §4.4: JSON strings
// bind as strings, JSON integers bind as integers. Mixed kinds for the
// same logical id across events are permitted at the binding layer, so
// no cross-event consistency check happens here.
func coerceID(v any) (any, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case json.Number:
		if isIntegral(val) {
			if n, err := val.Int64(); err == nil {
				return n, nil
			}
		}
		if f, err := val.Float64(); err == nil {
			return f, nil
		}
		return nil, fmt.Errorf("id value %q is not a valid number", val.String())
	case bool:
		return nil, fmt.Errorf("id value must be string or integer, got bool")
	case nil:
		return nil, fmt.Errorf("id value is null")
	default:
		return nil, fmt.Errorf("id value has unsupported type %T", v)
	}
}

// coerceTyped applies an explicit property-type hint (spec_full.md §3)
// for columns the registry declares one for; columns without a hint go
// through coerceScalar instead. A hint that cannot convert the value is
// a mapping error, not a silent omission, since the registry promised
// this column would carry that shape.
func coerceTyped(v any, hint schema.PropertyType) (out any, ok bool, err error) {
	if v == nil {
		return nil, false, nil
	}
	switch hint {
	case schema.PropertyAuto:
		val, present := coerceScalar(v)
		return val, present, nil
	case schema.PropertyString:
		switch val := v.(type) {
		case string:
			return val, true, nil
		default:
			return fmt.Sprintf("%v", val), true, nil
		}
	case schema.PropertyInt:
		switch val := v.(type) {
		case json.Number:
			n, convErr := val.Int64()
			if convErr != nil {
				f, ferr := val.Float64()
				if ferr != nil {
					return nil, false, fmt.Errorf("cannot convert %q to int: %w", val.String(), convErr)
				}
				return int64(f), true, nil
			}
			return n, true, nil
		case string:
			n, convErr := strconv.ParseInt(val, 10, 64)
			if convErr != nil {
				return nil, false, fmt.Errorf("cannot convert %q to int: %w", val, convErr)
			}
			return n, true, nil
		default:
			return nil, false, fmt.Errorf("cannot convert %T to int", v)
		}
	case schema.PropertyFloat:
		switch val := v.(type) {
		case json.Number:
			f, convErr := val.Float64()
			if convErr != nil {
				return nil, false, fmt.Errorf("cannot convert %q to float: %w", val.String(), convErr)
			}
			return f, true, nil
		case string:
			f, convErr := strconv.ParseFloat(val, 64)
			if convErr != nil {
				return nil, false, fmt.Errorf("cannot convert %q to float: %w", val, convErr)
			}
			return f, true, nil
		default:
			return nil, false, fmt.Errorf("cannot convert %T to float", v)
		}
	case schema.PropertyBool:
		switch val := v.(type) {
		case bool:
			return val, true, nil
		case string:
			b, convErr := strconv.ParseBool(val)
			if convErr != nil {
				return nil, false, fmt.Errorf("cannot convert %q to bool: %w", val, convErr)
			}
			return b, true, nil
		default:
			return nil, false, fmt.Errorf("cannot convert %T to bool", v)
		}
	case schema.PropertyDateTime:
		t, convErr := coerceDateTime(v)
		if convErr != nil {
			return nil, false, convErr
		}
		return t, true, nil
	case schema.PropertyUUID:
		switch val := v.(type) {
		case string:
			u, convErr := uuid.Parse(val)
			if convErr != nil {
				return nil, false, fmt.Errorf("cannot parse UUID %q: %w", val, convErr)
			}
			return u.String(), true, nil
		default:
			return nil, false, fmt.Errorf("cannot convert %T to uuid", v)
		}
	default:
		return nil, false, fmt.Errorf("unknown property type hint %q", hint)
	}
}

func coerceDateTime(v any) (time.Time, error) {
	switch val := v.(type) {
	case json.Number:
		if isIntegral(val) {
			n, err := val.Int64()
			if err != nil {
				return time.Time{}, fmt.Errorf("cannot convert %q to datetime: %w", val.String(), err)
			}
			return time.Unix(n, 0).UTC(), nil
		}
		f, err := val.Float64()
		if err != nil {
			return time.Time{}, fmt.Errorf("cannot convert %q to datetime: %w", val.String(), err)
		}
		sec, dec := math.Modf(f)
		return time.Unix(int64(sec), int64(dec*1e9)).UTC(), nil
	case string:
		return parseDateTime(val)
	default:
		return time.Time{}, fmt.Errorf("cannot convert %T to datetime", v)
	}
}

var dateTimeLayouts = []string{
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999",
	"2006-01-02",
}

func parseDateTime(value string) (time.Time, error) {
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse datetime from %q", value)
}
