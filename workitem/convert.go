package workitem

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/liamcoop/witrules/rules"
)

// FieldType is the storage type of a field
type FieldType string

const (
	TypeString   FieldType = "String"
	TypeInteger  FieldType = "Integer"
	TypeDouble   FieldType = "Double"
	TypeDateTime FieldType = "DateTime"
	TypeGUID     FieldType = "Guid"
)

// conversionError carries the status a failed conversion leaves on the field
type conversionError struct {
	status rules.FieldStatus
	err    error
}

func (e *conversionError) Error() string { return e.err.Error() }
func (e *conversionError) Unwrap() error { return e.err }

func invalidType(format string, args ...any) error {
	return &conversionError{status: rules.StatusInvalidType, err: fmt.Errorf(format, args...)}
}

// convert translates v into the Go representation of t. Empty strings become nil.
func convert(t FieldType, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if s, ok := v.(string); ok && t != TypeString && strings.TrimSpace(s) == "" {
		return nil, nil
	}

	switch t {
	case TypeString, "":
		switch x := v.(type) {
		case string:
			if x == "" {
				return nil, nil
			}
			return x, nil
		case fmt.Stringer:
			return x.String(), nil
		default:
			return fmt.Sprint(x), nil
		}

	case TypeInteger:
		switch x := v.(type) {
		case int:
			return x, nil
		case int64:
			return int(x), nil
		case float64:
			if x != math.Trunc(x) {
				return nil, invalidType("%v is not an integer", x)
			}
			return int(x), nil
		case string:
			n, err := strconv.Atoi(strings.TrimSpace(x))
			if err != nil {
				return nil, invalidType("%q is not an integer", x)
			}
			return n, nil
		}

	case TypeDouble:
		switch x := v.(type) {
		case float64:
			return x, nil
		case int:
			return float64(x), nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
			if err != nil {
				return nil, invalidType("%q is not a number", x)
			}
			return f, nil
		}

	case TypeDateTime:
		switch x := v.(type) {
		case time.Time:
			return x.UTC(), nil
		case string:
			ts, err := time.Parse(time.RFC3339, strings.TrimSpace(x))
			if err != nil {
				return nil, &conversionError{status: rules.StatusInvalidDate, err: fmt.Errorf("%q is not a date: %w", x, err)}
			}
			return ts.UTC(), nil
		}

	case TypeGUID:
		switch x := v.(type) {
		case uuid.UUID:
			return x, nil
		case string:
			id, err := uuid.Parse(strings.TrimSpace(x))
			if err != nil {
				return nil, invalidType("%q is not a GUID", x)
			}
			return id, nil
		}

	default:
		return nil, fmt.Errorf("unknown field type %q", t)
	}

	return nil, invalidType("cannot store %T in a %s field", v, t)
}

// sameValue compares stored values exactly
func sameValue(a, b any) bool {
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	return a == b
}
