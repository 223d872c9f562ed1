package collection

import (
	"errors"
	"fmt"

	"github.com/liamcoop/witrules/rules"
)

// ErrInvalidRule wraps every rejection from ValidateRow
var ErrInvalidRule = errors.New("invalid rule")

// maxFieldID bounds field ids; larger values are corrupt rows rather than fields
const maxFieldID = 1 << 24

// actionFlags are the flags that give a non-default rule something to do
var actionFlags = []rules.Flags1{rules.FlagDenyWrite, rules.FlagSuggestion, rules.FlagThenHelptext}

// ValidateRow checks a row before it is stored.
// Returns an error wrapping ErrInvalidRule if the row is malformed, nil otherwise.
func ValidateRow(row *rules.Row) error {
	if row.RuleID < 0 {
		return invalid("rule id %d is negative", row.RuleID)
	}
	if row.AreaID < 0 {
		return invalid("area id %d is negative", row.AreaID)
	}

	// Scope slots name real fields only
	for i, slot := range row.Slots() {
		if err := validateFieldID(slot.ID); err != nil {
			return invalid("fld%d: %v", i+1, err)
		}
		if slot.ID == 0 && (slot.IsConstID != 0 || slot.WasConstID != 0) {
			return invalid("fld%d tests a constant without a field", i+1)
		}
	}
	// IF and THEN may name core fields, which carry negative ids
	for _, ref := range []struct {
		name string
		id   int
	}{{"if", row.IfFldID}, {"if2", row.If2FldID}, {"then", row.ThenFldID}} {
		if ref.id <= -maxFieldID || ref.id >= maxFieldID {
			return invalid("%s: field id %d out of range", ref.name, ref.id)
		}
	}

	// Default rules run in their own pass; several non-default actions resolve by
	// precedence when the row is decoded
	actions := 0
	for _, flag := range actionFlags {
		if row.Flags1.Has(flag) {
			actions++
		}
	}
	if row.Flags1.Has(rules.FlagDefault) {
		if actions > 0 {
			return invalid("default rule also sets an action flag: %v", row.Flags1.Names())
		}
		actions++
	}

	if row.ThenFldID != 0 && actions == 0 {
		return invalid("then field %d set without an action flag", row.ThenFldID)
	}

	return nil
}

func validateFieldID(id int) error {
	if id < 0 {
		return fmt.Errorf("field id %d is negative", id)
	}
	if id >= maxFieldID {
		return fmt.Errorf("field id %d exceeds maximum of %d", id, maxFieldID-1)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRule, fmt.Sprintf(format, args...))
}
