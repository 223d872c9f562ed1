package rules

import (
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// valueAsString converts a field value into the form constants are compared in.
// Values with no constant form (time.Time among them) report false.
func valueAsString(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		return x, true
	case int:
		return strconv.Itoa(x), true
	case int32:
		return strconv.FormatInt(int64(x), 10), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case uuid.UUID:
		return x.String(), true
	default:
		return "", false
	}
}

// fieldValuesEqual compares two field values; strings compare ignoring case
func fieldValuesEqual(a, b any) bool {
	if a == nil {
		return b == nil
	}
	if sa, ok := a.(string); ok {
		if sb, ok := b.(string); ok {
			return strings.EqualFold(sa, sb)
		}
	}
	if ta, ok := a.(time.Time); ok {
		if tb, ok := b.(time.Time); ok {
			return ta.Equal(tb)
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

// isSameAsOldValue reports whether the field holds its original value
func isSameAsOldValue(f RuleTargetField) bool {
	if !f.IsNewValueSet() {
		return true
	}
	if f.ServerComputedType() != ServerComputedNone {
		return false
	}
	return fieldValuesEqual(f.OriginalValue(), f.Value())
}

// isEmpty reports whether the field has neither a value nor a pending server value
func isEmpty(f RuleTargetField) bool {
	return f.Value() == nil && f.ServerComputedType() == ServerComputedNone
}
