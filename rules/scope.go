package rules

import (
	"fmt"
	"strings"
)

// pendingValue is a staged default: a literal value, or a server-computed marker
type pendingValue struct {
	value    any
	computed ServerComputedType
}

// scopeValue is what scope tests see for a staged field. A marker is a
// non-empty value that equals no constant.
func (pv pendingValue) scopeValue() any {
	if pv.computed != ServerComputedNone {
		return pv
	}
	return pv.value
}

// valueBatch holds the values staged by one pass of default rules, applied in
// the order fields were first staged
type valueBatch struct {
	order  []int
	values map[int]pendingValue
}

func newValueBatch() *valueBatch {
	return &valueBatch{values: make(map[int]pendingValue)}
}

func (b *valueBatch) stage(fieldID int, pv pendingValue) {
	if _, ok := b.values[fieldID]; !ok {
		b.order = append(b.order, fieldID)
	}
	b.values[fieldID] = pv
}

func (b *valueBatch) lookup(fieldID int) (pendingValue, bool) {
	if b == nil {
		return pendingValue{}, false
	}
	pv, ok := b.values[fieldID]
	return pv, ok
}

// inScope runs the scope, IF and IF2 tests of a rule. batch may be nil.
func (en *Engine) inScope(rule *Rule, batch *valueBatch) (bool, error) {
	for i, c := range rule.Scope {
		ok, err := en.passesSlot(rule, i, c, batch)
		if err != nil || !ok {
			return false, err
		}
	}
	if ok, err := en.passesIf(rule, rule.If); err != nil || !ok {
		return false, err
	}
	return en.passesIf2(rule, rule.If2)
}

func (en *Engine) passesSlot(rule *Rule, i int, c FieldCondition, batch *valueBatch) (bool, error) {
	if c.FieldID == 0 {
		return true, nil
	}
	f, err := en.field(c.FieldID)
	if err != nil {
		return false, err
	}

	if c.IsConstID != 0 {
		// a value staged earlier in this batch wins over the field's current value
		value := f.Value()
		if pv, ok := batch.lookup(c.FieldID); ok {
			value = pv.scopeValue()
		}
		ok, err := en.passesIsOrWas(rule, value, c.IsConstID, fmt.Sprintf("Fld%dIsConstID", i+1))
		if err != nil || !ok {
			return false, err
		}
	}

	if c.WasConstID != 0 {
		ok, err := en.passesIsOrWas(rule, f.OriginalValue(), c.WasConstID, fmt.Sprintf("Fld%dWasConstID", i+1))
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func (en *Engine) passesIsOrWas(rule *Rule, value any, constID int, position string) (bool, error) {
	if IsSpecialConstantID(constID) {
		if constID != ConstEmptyValue {
			return false, unhandledConst(constID, rule, position)
		}
		return value == nil, nil
	}
	return en.equalsConstant(value, constID)
}

func (en *Engine) passesIf(rule *Rule, c Condition) (bool, error) {
	if c.FieldID == 0 {
		return true, nil
	}
	f, err := en.field(c.FieldID)
	if err != nil {
		return false, err
	}

	if !IsSpecialConstantID(c.ConstID) {
		equal, err := en.equalsConstant(f.Value(), c.ConstID)
		if err != nil {
			return false, err
		}
		return c.Not != equal, nil
	}

	switch c.ConstID {
	case ConstSameAsOldValue:
		return c.Not != isSameAsOldValue(f), nil
	case ConstEmptyValue:
		return c.Not != (f.Value() == nil), nil
	case ConstBecameNonEmptyValue:
		if f.OriginalValue() != nil {
			return true, nil
		}
		return c.Not != (f.Value() != nil), nil
	case ConstRemainedNonEmptyValue:
		if f.OriginalValue() == nil {
			return false, nil
		}
		return c.Not != (f.Value() != nil), nil
	case ConstWasEmptyValue:
		return c.Not != (f.OriginalValue() == nil), nil
	default:
		return false, unhandledConst(c.ConstID, rule, "IfConstID")
	}
}

func (en *Engine) passesIf2(rule *Rule, c Condition) (bool, error) {
	if c.FieldID == 0 {
		return true, nil
	}
	f, err := en.field(c.FieldID)
	if err != nil {
		return false, err
	}

	if !IsSpecialConstantID(c.ConstID) {
		return false, unhandledState(rule, "If2 with a non special constant id (%d)", c.ConstID)
	}

	switch c.ConstID {
	case ConstEmptyValue:
		return c.Not != (f.Value() == nil), nil
	case ConstWasEmptyValue:
		return c.Not != (f.OriginalValue() == nil), nil
	case ConstValueInOtherField, ConstOldValueInOtherField:
		// consumed by the THEN side of the rule
		return true, nil
	default:
		return false, unhandledConst(c.ConstID, rule, "If2ConstID")
	}
}

// equalsConstant compares a field value with a constant string, ignoring case.
// Empty values and values with no string form never match.
func (en *Engine) equalsConstant(value any, constID int) (bool, error) {
	s, ok := valueAsString(value)
	if !ok {
		return false, nil
	}
	constant, err := en.md.ConstantByID(constID)
	if err != nil {
		return false, err
	}
	return strings.EqualFold(constant, s), nil
}
