package rules

import (
	"errors"
	"slices"
	"testing"

	"github.com/liamcoop/witrules/metadata"
)

const (
	fState = 10
	fOther = 11
	fThird = 12

	cActive   = 1
	cClosed   = 2
	cResolved = 3
	cStates   = 100
	cHelp     = 200
	cPattern  = 300
)

// addStates registers the constants shared by the engine tests
func addStates(tables *metadata.Tables) {
	tables.AddConstant(metadata.Constant{ID: cActive, String: "Active"})
	tables.AddConstant(metadata.Constant{ID: cClosed, String: "Closed"})
	tables.AddConstant(metadata.Constant{ID: cResolved, String: "Resolved"})
	tables.AddConstant(metadata.Constant{ID: cStates, String: "[States]"})
	tables.AddConstant(metadata.Constant{ID: cHelp, String: "The current state"})
	tables.AddConstant(metadata.Constant{ID: cPattern, String: "AA-NN"})
	tables.AddSetMember(cStates, cActive)
	tables.AddSetMember(cStates, cClosed)
}

const listScope = FlagThenOneLevel | FlagThenLeaf

// TestNonDefaultRuleWithoutThenField verifies a rule with no THEN field does nothing
func TestNonDefaultRuleWithoutThenField(t *testing.T) {
	target := newFakeTarget(5, 0)
	engine, _ := testEngine(t, target)

	rule := Decode(Row{RuleID: 1, Flags1: FlagDenyWrite | FlagUnless, ThenConstID: ConstEmptyValue})
	if _, ok := rule.Action.(NoAction); !ok {
		t.Fatalf("Decode() action = %T, want NoAction", rule.Action)
	}

	if err := engine.runNonDefaultRule(rule); err != nil {
		t.Errorf("runNonDefaultRule() error = %v, want nil", err)
	}
}

// TestDenyWriteListPolarity verifies list validation follows unless XOR thenNot
func TestDenyWriteListPolarity(t *testing.T) {
	tests := []struct {
		name  string
		flags Flags1
		value any
		want  FieldStatus
	}{
		{"allowed, value in list", FlagUnless, "active", StatusValid},
		{"allowed, value not in list", FlagUnless, "Resolved", StatusInvalidListValue},
		{"allowed, empty value", FlagUnless, nil, StatusInvalidListValue},
		{"allowed via thennot", FlagThenNot, "Resolved", StatusInvalidListValue},
		{"prohibited, value in list", FlagUnless | FlagThenNot, "Closed", StatusInvalidListValue},
		{"prohibited, value not in list", FlagUnless | FlagThenNot, "Resolved", StatusValid},
		{"prohibited, unless and thennot clear", 0, "Active", StatusInvalidListValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := newFakeTarget(5, 0)
			field := target.add(fState, tt.value)

			engine, tables := testEngine(t, target, Row{
				RuleID:      1,
				Flags1:      FlagDenyWrite | listScope | tt.flags,
				ThenFldID:   fState,
				ThenConstID: cStates,
			})
			addStates(tables)

			if err := engine.Open(); err != nil {
				t.Fatalf("Open() failed: %v", err)
			}
			if field.status != tt.want {
				t.Errorf("status = %v, want %v", field.status, tt.want)
			}
		})
	}
}

// TestDenyWriteListFillsPickList verifies allowed and prohibited lists reach the pick list
func TestDenyWriteListFillsPickList(t *testing.T) {
	target := newFakeTarget(5, 0)
	allowed := target.add(fState, "Active")
	prohibited := target.add(fOther, "Resolved")

	engine, tables := testEngine(t, target,
		Row{RuleID: 1, Flags1: FlagDenyWrite | FlagUnless | listScope, ThenFldID: fState, ThenConstID: cStates},
		Row{RuleID: 2, Flags1: FlagDenyWrite | FlagUnless | FlagThenNot | listScope, ThenFldID: fOther, ThenConstID: cStates},
	)
	addStates(tables)

	if err := engine.Open(); err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	want := []string{"Active", "Closed"}
	if got := allowed.picks.AllowedValues(); !slices.Equal(got, want) {
		t.Errorf("AllowedValues() = %v, want %v", got, want)
	}
	if got := prohibited.picks.ProhibitedValues(); !slices.Equal(got, want) {
		t.Errorf("ProhibitedValues() = %v, want %v", got, want)
	}
}

// TestDenyWriteImplicitEmpty verifies an implicit-empty list accepts an empty field
// without exposing the empty entry
func TestDenyWriteImplicitEmpty(t *testing.T) {
	target := newFakeTarget(5, 0)
	field := target.add(fState, nil)

	engine, tables := testEngine(t, target, Row{
		RuleID:      1,
		Flags1:      FlagDenyWrite | FlagUnless | listScope,
		Flags2:      FlagThenImplicitEmpty,
		ThenFldID:   fState,
		ThenConstID: cStates,
	})
	addStates(tables)

	if err := engine.Open(); err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if field.status != StatusValid {
		t.Errorf("status = %v, want Valid", field.status)
	}
	want := []string{"Active", "Closed"}
	if got := field.picks.AllowedValues(); !slices.Equal(got, want) {
		t.Errorf("AllowedValues() = %v, want %v", got, want)
	}
}

// TestDenyWriteImplicitUnchanged verifies unchanged values skip list validation
func TestDenyWriteImplicitUnchanged(t *testing.T) {
	tests := []struct {
		name   string
		edited bool
		want   FieldStatus
	}{
		{"unchanged value outside the list", false, StatusValid},
		{"edited value outside the list", true, StatusInvalidListValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := newFakeTarget(5, 0)
			field := target.add(fState, "Resolved")
			if tt.edited {
				field.original = "Active"
				field.newValueSet = true
			}

			engine, tables := testEngine(t, target, Row{
				RuleID:      1,
				Flags1:      FlagDenyWrite | FlagUnless | listScope,
				Flags2:      FlagThenImplicitUnchanged,
				ThenFldID:   fState,
				ThenConstID: cStates,
			})
			addStates(tables)

			if err := engine.Open(); err != nil {
				t.Fatalf("Open() failed: %v", err)
			}
			if field.status != tt.want {
				t.Errorf("status = %v, want %v", field.status, tt.want)
			}
		})
	}
}

// TestDenyWritePattern verifies MATCH rules
func TestDenyWritePattern(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  FieldStatus
	}{
		{"matching value", "ab-12", StatusValid},
		{"non matching value", "a1-12", StatusInvalidFormat},
		{"empty value", nil, StatusValid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := newFakeTarget(5, 0)
			field := target.add(fState, tt.value)

			engine, tables := testEngine(t, target, Row{
				RuleID:      1,
				Flags1:      FlagDenyWrite | FlagUnless | FlagThenLike,
				Flags2:      FlagThenImplicitEmpty,
				ThenFldID:   fState,
				ThenConstID: cPattern,
			})
			addStates(tables)

			if err := engine.Open(); err != nil {
				t.Fatalf("Open() failed: %v", err)
			}
			if field.status != tt.want {
				t.Errorf("status = %v, want %v", field.status, tt.want)
			}
		})
	}
}

// TestDenyWritePatternErrors verifies prohibited patterns and non-string values fail
func TestDenyWritePatternErrors(t *testing.T) {
	t.Run("prohibited pattern", func(t *testing.T) {
		target := newFakeTarget(5, 0)
		target.add(fState, "ab-12")

		engine, tables := testEngine(t, target, Row{
			RuleID:      7,
			Flags1:      FlagDenyWrite | FlagUnless | FlagThenNot | FlagThenLike,
			ThenFldID:   fState,
			ThenConstID: cPattern,
		})
		addStates(tables)

		var stateErr *UnhandledRuleStateError
		if err := engine.Open(); !errors.As(err, &stateErr) {
			t.Fatalf("Open() error = %v, want UnhandledRuleStateError", err)
		}
		if stateErr.Rule.RuleID != 7 {
			t.Errorf("error rule = %d, want 7", stateErr.Rule.RuleID)
		}
	})

	t.Run("non-string value", func(t *testing.T) {
		target := newFakeTarget(5, 0)
		target.add(fState, 42)

		engine, tables := testEngine(t, target, Row{
			RuleID:      1,
			Flags1:      FlagDenyWrite | FlagUnless | FlagThenLike,
			ThenFldID:   fState,
			ThenConstID: cPattern,
		})
		addStates(tables)

		if err := engine.Open(); err == nil {
			t.Fatal("Open() should fail for a non-string pattern value")
		}
	})
}

// TestDenyWriteEmptyValue verifies REQUIRED and EMPTY style rules
func TestDenyWriteEmptyValue(t *testing.T) {
	tests := []struct {
		name         string
		flags        Flags1
		value        any
		definitionRO bool
		wantStatus   FieldStatus
		wantValue    any
		wantReadOnly bool
	}{
		{"required and empty", FlagUnless | FlagThenNot, nil, false, StatusInvalidEmpty, nil, false},
		{"required with value", FlagUnless | FlagThenNot, "x", false, StatusValid, "x", false},
		{"required on read-only field", FlagUnless | FlagThenNot, nil, true, StatusValid, nil, false},
		{"empty rule clears value", FlagUnless, "x", false, StatusValid, nil, true},
		{"empty rule on empty field", FlagUnless, nil, false, StatusValid, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := newFakeTarget(5, 0)
			field := target.add(fState, tt.value)
			field.definitionRO = tt.definitionRO

			engine, _ := testEngine(t, target, Row{
				RuleID:      1,
				Flags1:      FlagDenyWrite | tt.flags,
				ThenFldID:   fState,
				ThenConstID: ConstEmptyValue,
			})

			if err := engine.Open(); err != nil {
				t.Fatalf("Open() failed: %v", err)
			}
			if field.status != tt.wantStatus {
				t.Errorf("status = %v, want %v", field.status, tt.wantStatus)
			}
			if field.value != tt.wantValue {
				t.Errorf("value = %v, want %v", field.value, tt.wantValue)
			}
			if field.readOnly != tt.wantReadOnly {
				t.Errorf("readOnly = %v, want %v", field.readOnly, tt.wantReadOnly)
			}
		})
	}
}

// TestDenyWriteSameAsOldValue verifies READONLY rules restore the original value
func TestDenyWriteSameAsOldValue(t *testing.T) {
	target := newFakeTarget(5, 0)
	field := target.add(fState, "Active")
	field.edit("Closed")

	engine, _ := testEngine(t, target, Row{
		RuleID:      1,
		Flags1:      FlagDenyWrite | FlagUnless,
		ThenFldID:   fState,
		ThenConstID: ConstSameAsOldValue,
	})

	if err := engine.Open(); err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if field.value != "Active" || field.newValueSet {
		t.Errorf("value = %v (new %v), want original value restored", field.value, field.newValueSet)
	}
	if !field.readOnly {
		t.Error("field should be read-only")
	}

	prohibited := newFakeTarget(5, 0)
	prohibited.add(fState, "Active")
	engine, _ = testEngine(t, prohibited, Row{
		RuleID:      2,
		Flags1:      FlagDenyWrite,
		ThenFldID:   fState,
		ThenConstID: ConstSameAsOldValue,
	})

	var stateErr *UnhandledRuleStateError
	if err := engine.Open(); !errors.As(err, &stateErr) {
		t.Errorf("Open() error = %v, want UnhandledRuleStateError", err)
	}
}

// TestDenyWriteFrozen verifies FROZEN rules
func TestDenyWriteFrozen(t *testing.T) {
	tests := []struct {
		name     string
		original any
		value    any
		want     FieldStatus
	}{
		{"changed from a value", "Active", "Closed", StatusInvalidNotEmptyOrOldValue},
		{"was empty", nil, "Closed", StatusValid},
		{"same ignoring case", "Active", "ACTIVE", StatusValid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := newFakeTarget(5, 0)
			field := target.add(fState, tt.original)
			field.edit(tt.value)

			engine, _ := testEngine(t, target, Row{
				RuleID:      1,
				Flags1:      FlagDenyWrite | FlagUnless,
				ThenFldID:   fState,
				ThenConstID: ConstWasEmptyOrSameAsOldValue,
			})

			if err := engine.Open(); err != nil {
				t.Fatalf("Open() failed: %v", err)
			}
			if field.status != tt.want {
				t.Errorf("status = %v, want %v", field.status, tt.want)
			}
		})
	}
}

// TestDenyWriteValueInOtherField verifies NOTSAMEAS rules and their guards
func TestDenyWriteValueInOtherField(t *testing.T) {
	notSameAs := Row{
		RuleID:      1,
		Flags1:      FlagDenyWrite | FlagUnless | FlagThenNot,
		ThenFldID:   fState,
		ThenConstID: ConstValueInOtherField,
		If2FldID:    fOther,
		If2ConstID:  ConstValueInOtherField,
	}

	tests := []struct {
		name    string
		other   any
		want    FieldStatus
		wantErr bool
	}{
		{"equal ignoring case", "bob", StatusInvalidValueInOtherField, false},
		{"different", "Alice", StatusValid, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := newFakeTarget(5, 0)
			field := target.add(fState, "Bob")
			target.add(fOther, tt.other)

			engine, _ := testEngine(t, target, notSameAs)
			if err := engine.Open(); err != nil {
				t.Fatalf("Open() failed: %v", err)
			}
			if field.status != tt.want {
				t.Errorf("status = %v, want %v", field.status, tt.want)
			}
		})
	}

	guards := []struct {
		name string
		row  Row
	}{
		{"missing If2 constant", func() Row { r := notSameAs; r.If2ConstID, r.If2FldID = 0, 0; return r }()},
		{"missing If2 field", func() Row { r := notSameAs; r.If2FldID = 0; return r }()},
		{"require polarity", func() Row { r := notSameAs; r.Flags1 = FlagDenyWrite | FlagUnless; return r }()},
	}

	for _, tt := range guards {
		t.Run(tt.name, func(t *testing.T) {
			target := newFakeTarget(5, 0)
			target.add(fState, "Bob")
			target.add(fOther, "Alice")

			engine, _ := testEngine(t, target, tt.row)
			var stateErr *UnhandledRuleStateError
			if err := engine.Open(); !errors.As(err, &stateErr) {
				t.Errorf("Open() error = %v, want UnhandledRuleStateError", err)
			}
		})
	}
}

// TestDenyWriteServerDateTime verifies empty fields become server computed
func TestDenyWriteServerDateTime(t *testing.T) {
	target := newFakeTarget(5, 0)
	empty := target.add(fState, nil)
	filled := target.add(fOther, "2026-01-01")

	engine, _ := testEngine(t, target,
		Row{RuleID: 1, Flags1: FlagDenyWrite | FlagUnless, ThenFldID: fState, ThenConstID: ConstServerDateTime},
		Row{RuleID: 2, Flags1: FlagDenyWrite | FlagUnless, ThenFldID: fOther, ThenConstID: ConstServerDateTime},
	)

	if err := engine.Open(); err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if empty.computed != ServerComputedDateTime {
		t.Errorf("empty field computed = %v, want DateTime", empty.computed)
	}
	if filled.computed != ServerComputedNone {
		t.Errorf("filled field computed = %v, want None", filled.computed)
	}
}

// TestDenyWriteServerEnforcedConstants verifies constants enforced by the server are no-ops
func TestDenyWriteServerEnforcedConstants(t *testing.T) {
	for _, constID := range []int{
		ConstCurrentUser, ConstOldValuePlusOne, ConstServerCurrentUser, ConstServerRandomGuid,
		ConstGreaterThanOldValue, ConstDeletedTreeLocation, ConstAdminOnlyTreeLocation,
		ConstNotGreaterThanServerTime,
	} {
		target := newFakeTarget(5, 0)
		field := target.add(fState, "x")

		engine, _ := testEngine(t, target, Row{RuleID: 1, Flags1: FlagDenyWrite | FlagUnless, ThenFldID: fState, ThenConstID: constID})
		if err := engine.Open(); err != nil {
			t.Errorf("Open() with constant %d failed: %v", constID, err)
		}
		if field.status != StatusValid || field.value != "x" || field.readOnly {
			t.Errorf("constant %d changed the field", constID)
		}
	}
}

// TestDenyWriteUnknownSpecialConstant verifies unknown special constants fail fast
func TestDenyWriteUnknownSpecialConstant(t *testing.T) {
	target := newFakeTarget(5, 0)
	target.add(fState, "x")

	engine, _ := testEngine(t, target, Row{RuleID: 3, Flags1: FlagDenyWrite | FlagUnless, ThenFldID: fState, ThenConstID: -10500})

	var constErr *UnhandledSpecialConstantIDError
	if err := engine.Open(); !errors.As(err, &constErr) {
		t.Fatalf("Open() error = %v, want UnhandledSpecialConstantIDError", err)
	}
	if constErr.ConstID != -10500 || constErr.Rule.RuleID != 3 {
		t.Errorf("error = %+v, want constant -10500 in rule 3", constErr)
	}
}

// TestSuggestionAndHelpText verifies suggestion and help text rules
func TestSuggestionAndHelpText(t *testing.T) {
	target := newFakeTarget(5, 0)
	field := target.add(fState, nil)

	engine, tables := testEngine(t, target,
		Row{RuleID: 1, Flags1: FlagSuggestion | listScope, ThenFldID: fState, ThenConstID: cStates},
		Row{RuleID: 2, Flags1: FlagThenHelptext, ThenFldID: fState, ThenConstID: cHelp},
	)
	addStates(tables)

	if err := engine.Open(); err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	want := []string{"Active", "Closed"}
	if got := field.picks.AllowedValues(); !slices.Equal(got, want) {
		t.Errorf("AllowedValues() = %v, want %v", got, want)
	}
	if field.helpText != "The current state" {
		t.Errorf("helpText = %q, want %q", field.helpText, "The current state")
	}
}

// TestDefaultRuleValues verifies each kind of value a default rule provides
func TestDefaultRuleValues(t *testing.T) {
	tests := []struct {
		name         string
		row          Row
		want         any
		wantComputed ServerComputedType
	}{
		{"constant", Row{ThenConstID: cActive}, "Active", ServerComputedNone},
		{"current user", Row{ThenConstID: ConstCurrentUser}, testUser, ServerComputedNone},
		{"empty", Row{ThenConstID: ConstEmptyValue}, nil, ServerComputedNone},
		{"clock", Row{ThenConstID: ConstUtcDateTime}, testClock, ServerComputedNone},
		{"server current user", Row{ThenConstID: ConstServerCurrentUser}, nil, ServerComputedCurrentUser},
		{"server date time", Row{ThenConstID: ConstServerDateTime}, nil, ServerComputedDateTime},
		{"server random guid", Row{ThenConstID: ConstServerRandomGuid}, nil, ServerComputedRandomGUID},
		{
			"old value in other field",
			Row{ThenConstID: ConstOldValueInOtherField, If2FldID: fOther, If2ConstID: ConstOldValueInOtherField},
			"Original other",
			ServerComputedNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := newFakeTarget(5, 0)
			field := target.add(fState, "x")
			other := target.add(fOther, "Original other")
			other.edit("Edited other")

			row := tt.row
			row.RuleID = 1
			row.Flags1 = FlagDefault
			row.ThenFldID = fState
			engine, tables := testEngine(t, target, row)
			addStates(tables)

			if err := engine.Open(); err != nil {
				t.Fatalf("Open() failed: %v", err)
			}
			if !fieldValuesEqual(field.value, tt.want) {
				t.Errorf("value = %v, want %v", field.value, tt.want)
			}
			if field.computed != tt.wantComputed {
				t.Errorf("computed = %v, want %v", field.computed, tt.wantComputed)
			}
		})
	}
}

// TestDefaultRuleErrors verifies default rules fail fast on shapes with no semantics
func TestDefaultRuleErrors(t *testing.T) {
	t.Run("old value in other field without If2", func(t *testing.T) {
		target := newFakeTarget(5, 0)
		target.add(fState, nil)

		engine, _ := testEngine(t, target, Row{RuleID: 1, Flags1: FlagDefault, ThenFldID: fState, ThenConstID: ConstOldValueInOtherField})
		var stateErr *UnhandledRuleStateError
		if err := engine.Open(); !errors.As(err, &stateErr) {
			t.Errorf("Open() error = %v, want UnhandledRuleStateError", err)
		}
	})

	t.Run("unknown special constant", func(t *testing.T) {
		target := newFakeTarget(5, 0)
		target.add(fState, nil)

		engine, _ := testEngine(t, target, Row{RuleID: 1, Flags1: FlagDefault, ThenFldID: fState, ThenConstID: ConstSameAsOldValue})
		var constErr *UnhandledSpecialConstantIDError
		if err := engine.Open(); !errors.As(err, &constErr) {
			t.Fatalf("Open() error = %v, want UnhandledSpecialConstantIDError", err)
		}
		if constErr.Position != "value providing rule ThenConstID" {
			t.Errorf("Position = %q", constErr.Position)
		}
	})

	t.Run("missing constant", func(t *testing.T) {
		target := newFakeTarget(5, 0)
		target.add(fState, nil)

		engine, _ := testEngine(t, target, Row{RuleID: 1, Flags1: FlagDefault, ThenFldID: fState, ThenConstID: 4242})
		if err := engine.Open(); !errors.Is(err, metadata.ErrConstantNotFound) {
			t.Errorf("Open() error = %v, want ErrConstantNotFound", err)
		}
	})

	t.Run("missing field", func(t *testing.T) {
		target := newFakeTarget(5, 0)

		engine, tables := testEngine(t, target, Row{RuleID: 1, Flags1: FlagDefault, ThenFldID: fState, ThenConstID: cActive})
		addStates(tables)
		if err := engine.Open(); !errors.Is(err, ErrFieldNotFound) {
			t.Errorf("Open() error = %v, want ErrFieldNotFound", err)
		}
	})
}

// TestDefaultRuleSkipsFormField verifies rules targeting the form field are ignored
func TestDefaultRuleSkipsFormField(t *testing.T) {
	target := newFakeTarget(5, 0)

	engine, tables := testEngine(t, target, Row{RuleID: 1, Flags1: FlagDefault, ThenFldID: WorkItemFormID, ThenConstID: cActive})
	addStates(tables)

	if err := engine.Open(); err != nil {
		t.Errorf("Open() error = %v, want nil", err)
	}
}

// TestDefaultRuleBatch verifies staged values are visible to IS tests but not to IF
// tests of the same batch, and that new targets run their defaults twice
func TestDefaultRuleBatch(t *testing.T) {
	rows := []Row{
		{RuleID: 1, Flags1: FlagDefault, ThenFldID: fState, ThenConstID: cActive},
		{RuleID: 2, Flags1: FlagDefault, Fld1: FieldSlot{ID: fState, IsConstID: cActive}, ThenFldID: fOther, ThenConstID: cClosed},
		{RuleID: 3, Flags1: FlagDefault, IfFldID: fState, IfConstID: cActive, ThenFldID: fThird, ThenConstID: cResolved},
	}

	tests := []struct {
		name      string
		id        int
		wantThird any
	}{
		{"existing target", 5, nil},
		{"new target", 0, "Resolved"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// area 7 has no rules of its own, so only the global pass runs rules
			target := newFakeTarget(tt.id, 7)
			state := target.add(fState, nil)
			other := target.add(fOther, nil)
			third := target.add(fThird, nil)

			engine, tables := testEngine(t, target, rows...)
			addStates(tables)

			if err := engine.Open(); err != nil {
				t.Fatalf("Open() failed: %v", err)
			}
			if state.value != "Active" {
				t.Errorf("state = %v, want Active", state.value)
			}
			if other.value != "Closed" {
				t.Errorf("other = %v, want Closed", other.value)
			}
			if third.value != tt.wantThird {
				t.Errorf("third = %v, want %v", third.value, tt.wantThird)
			}
		})
	}
}

// TestDefaultRuleLaterStageWins verifies a later rule replaces a staged value
func TestDefaultRuleLaterStageWins(t *testing.T) {
	target := newFakeTarget(5, 7)
	field := target.add(fState, nil)

	engine, tables := testEngine(t, target,
		Row{RuleID: 1, Flags1: FlagDefault, ThenFldID: fState, ThenConstID: cActive},
		Row{RuleID: 2, Flags1: FlagDefault, ThenFldID: fState, ThenConstID: cClosed},
	)
	addStates(tables)

	if err := engine.Open(); err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if field.value != "Closed" {
		t.Errorf("value = %v, want Closed", field.value)
	}
}

// TestOpenRunsAreaAfterGlobal verifies area rules override global ones
func TestOpenRunsAreaAfterGlobal(t *testing.T) {
	target := newFakeTarget(5, 7)
	field := target.add(fState, nil)

	engine, tables := testEngine(t, target,
		Row{RuleID: 1, AreaID: 0, Flags1: FlagDefault, ThenFldID: fState, ThenConstID: cActive},
		Row{RuleID: 2, AreaID: 7, Flags1: FlagDefault, ThenFldID: fState, ThenConstID: cClosed},
	)
	addStates(tables)
	tables.SetParent(7, 0)

	if err := engine.Open(); err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if field.value != "Closed" {
		t.Errorf("value = %v, want Closed", field.value)
	}
}

// chainRows builds defaults where each field copies a constant once the previous one changes
func chainRows(fields ...int) []Row {
	var rows []Row
	for i := 1; i < len(fields); i++ {
		rows = append(rows, Row{
			RuleID:      i,
			Flags1:      FlagDefault,
			Fld1:        FieldSlot{ID: fields[i-1]},
			ThenFldID:   fields[i],
			ThenConstID: cActive,
		})
	}
	return rows
}

// TestFieldChangedDepth verifies propagation stops after two levels of recursion
func TestFieldChangedDepth(t *testing.T) {
	chain := []int{10, 20, 30, 40, 50}

	target := newFakeTarget(5, 7)
	fields := make(map[int]*fakeField)
	for _, id := range chain {
		fields[id] = target.add(id, nil)
	}

	engine, tables := testEngine(t, target, chainRows(chain...)...)
	addStates(tables)

	fields[10].edit("x")
	changedAffected, err := engine.FieldChanged(10)
	if err != nil {
		t.Fatalf("FieldChanged() failed: %v", err)
	}
	if changedAffected {
		t.Error("FieldChanged() = true, want false: no rule writes the changed field")
	}

	for _, id := range []int{20, 30, 40} {
		if fields[id].value != "Active" {
			t.Errorf("field %d = %v, want Active", id, fields[id].value)
		}
		if fields[id].postProcessed != 1 {
			t.Errorf("field %d post processed %d times, want 1", id, fields[id].postProcessed)
		}
	}
	if fields[50].value != nil {
		t.Errorf("field 50 = %v, want nil beyond the propagation depth", fields[50].value)
	}
	if fields[50].postProcessed != 0 {
		t.Errorf("field 50 post processed %d times, want 0", fields[50].postProcessed)
	}
}

// TestFieldChangedReportsChangedField verifies the result when a rule constrains the edited field
func TestFieldChangedReportsChangedField(t *testing.T) {
	target := newFakeTarget(5, 7)
	field := target.add(fState, "Active")

	engine, _ := testEngine(t, target, Row{
		RuleID:      1,
		Flags1:      FlagDenyWrite | FlagUnless | FlagThenNot,
		ThenFldID:   fState,
		ThenConstID: ConstEmptyValue,
	})

	field.edit(nil)
	affected, err := engine.FieldChanged(fState)
	if err != nil {
		t.Fatalf("FieldChanged() failed: %v", err)
	}
	if !affected {
		t.Error("FieldChanged() = false, want true")
	}
	if field.status != StatusInvalidEmpty {
		t.Errorf("status = %v, want InvalidEmpty", field.status)
	}
}
