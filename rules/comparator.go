package rules

import (
	"cmp"
	"slices"
)

// CompareValueProviding orders default rules so that less specific rules run
// first and more specific ones can override their staged values.
func CompareValueProviding(a, b *Rule) int {
	for i := len(a.Scope) - 1; i >= 0; i-- {
		if c := cmp.Compare(slotSpecificity(a.Scope[i]), slotSpecificity(b.Scope[i])); c != 0 {
			return c
		}
	}

	aCond, bCond := a.If.FieldID != 0, b.If.FieldID != 0
	if aCond != bCond {
		if aCond {
			return 1
		}
		return -1
	}
	if aCond {
		if c := cmp.Compare(conditionRank(a.If), conditionRank(b.If)); c != 0 {
			return c
		}
	}

	aEnforce, bEnforce := enforcesDefault(a), enforcesDefault(b)
	if aEnforce != bEnforce {
		if aEnforce {
			return -1
		}
		return 1
	}
	return 0
}

// SortValueProviding sorts default rules in place, keeping the order of equivalent rules
func SortValueProviding(rules []*Rule) {
	slices.SortStableFunc(rules, CompareValueProviding)
}

func slotSpecificity(c FieldCondition) int {
	if c.FieldID == 0 {
		return 0
	}
	n := 1
	if c.IsConstID != 0 {
		n++
	}
	if c.WasConstID != 0 {
		n++
	}
	return n
}

// conditionRank: plain if < if-not < when-changed
func conditionRank(c Condition) int {
	switch {
	case c.ConstID == ConstSameAsOldValue && c.Not:
		return 2
	case c.Not:
		return 1
	default:
		return 0
	}
}

// enforcesDefault reports whether the rule only applies while its own target is empty
func enforcesDefault(r *Rule) bool {
	for _, s := range r.Scope {
		if s.FieldID != 0 && s.FieldID == r.ThenFldID && s.IsConstID == ConstEmptyValue {
			return true
		}
	}
	return r.If.FieldID != 0 && r.If.FieldID == r.ThenFldID && r.If.ConstID == ConstEmptyValue && !r.If.Not
}
