package workitem

import (
	"errors"

	"github.com/liamcoop/witrules/internal/logger"
	"github.com/liamcoop/witrules/rules"
)

// Definition describes one field of a work item type
type Definition struct {
	ID       int       `json:"id" yaml:"id"`
	Name     string    `json:"name" yaml:"name"`
	Type     FieldType `json:"type,omitempty" yaml:"type,omitempty"`
	ReadOnly bool      `json:"readOnly,omitempty" yaml:"readOnly,omitempty"`
}

// Field is a work item field. It tracks the loaded value and the pending new value
// separately; the field is dirty while a new value is set.
type Field struct {
	def  Definition
	item *WorkItem

	original    any
	newValue    any
	newValueSet bool
	computed    rules.ServerComputedType

	status       rules.FieldStatus
	ruleReadOnly bool
	helpText     string
	picks        *rules.PickList
}

type modification int

const (
	byUser modification = iota
	byRule
)

func newField(item *WorkItem, def Definition) *Field {
	if def.Type == "" {
		def.Type = TypeString
	}
	return &Field{def: def, item: item, picks: rules.NewPickList()}
}

// ID returns the field id
func (f *Field) ID() int { return f.def.ID }

// Name returns the field's display name
func (f *Field) Name() string { return f.def.Name }

// Definition returns the definition the field was built from
func (f *Field) Definition() Definition { return f.def }

// OriginalValue returns the value the work item was loaded with
func (f *Field) OriginalValue() any { return f.original }

// IsNewValueSet reports whether a user, rule or server-computed marker set a new value
func (f *Field) IsNewValueSet() bool { return f.newValueSet }

// Status returns the validity status left by the last rule run or edit
func (f *Field) Status() rules.FieldStatus { return f.status }

// HelpText returns the help text set by rules
func (f *Field) HelpText() string { return f.helpText }

// PickList returns the values rules allow, suggest or prohibit for the field
func (f *Field) PickList() *rules.PickList { return f.picks }

// ServerComputedType returns the server-computed marker, ServerComputedNone when unset
func (f *Field) ServerComputedType() rules.ServerComputedType { return f.computed }

// Value returns the new value while one is set, the original value otherwise
func (f *Field) Value() any {
	if f.newValueSet {
		return f.newValue
	}
	return f.original
}

// IsDirty reports whether a new value is set
func (f *Field) IsDirty() bool {
	return f.newValueSet
}

// IsEditable is false for read-only definitions, fields a rule made read-only
// and server computed fields
func (f *Field) IsEditable() bool {
	return !f.def.ReadOnly && !f.ruleReadOnly && f.computed == rules.ServerComputedNone
}

// SetValue is a user edit. A change reruns the rules affected by the field.
func (f *Field) SetValue(v any) error {
	return f.set(v, byUser)
}

// SetValueFromRule stores a value provided by a rule without rerunning rules
func (f *Field) SetValueFromRule(v any) {
	if err := f.set(v, byRule); err != nil {
		logger.Warn("rule value rejected", "workItemId", f.item.id, "fieldId", f.def.ID, "error", err)
	}
}

func (f *Field) set(raw any, by modification) error {
	value, convErr := convert(f.def.Type, raw)
	var ce *conversionError
	if convErr != nil && !errors.As(convErr, &ce) {
		return convErr
	}
	if ce != nil {
		// keep the raw input so the caller can see what was rejected
		value = raw
	}

	updated := f.computed != rules.ServerComputedNone
	switch {
	case f.newValueSet && sameValue(f.original, value):
		f.newValueSet = false
		f.newValue = nil
		updated = true
	case f.newValueSet && !sameValue(f.newValue, value):
		f.newValue = value
		updated = true
	case !f.newValueSet && !sameValue(f.original, value):
		f.newValueSet = true
		f.newValue = value
		updated = true
	}
	if updated {
		f.computed = rules.ServerComputedNone
	}

	if ce != nil {
		f.status = ce.status
		return nil
	}
	if !updated || by != byUser {
		return nil
	}

	changed, err := f.item.engine.FieldChanged(f.def.ID)
	if err != nil {
		return err
	}
	if !changed && isConversionStatus(f.status) {
		f.status = rules.StatusValid
	}
	return nil
}

func isConversionStatus(s rules.FieldStatus) bool {
	return s == rules.StatusInvalidType || s == rules.StatusInvalidDate || s == rules.StatusInvalidCharacters
}

// SetServerComputed marks the value as filled in by the server on save.
// This counts as a new value.
func (f *Field) SetServerComputed(t rules.ServerComputedType) {
	f.computed = t
	f.newValue = nil
	f.newValueSet = true
}

// UnsetNewValue drops the new value, restoring the original
func (f *Field) UnsetNewValue() {
	f.newValue = nil
	f.newValueSet = false
	f.computed = rules.ServerComputedNone
}

// SetStatus records the validity status decided by a rule
func (f *Field) SetStatus(s rules.FieldStatus) { f.status = s }

// SetReadOnly marks the field read-only by rule; the definition's flag still applies
func (f *Field) SetReadOnly(readOnly bool) { f.ruleReadOnly = readOnly }

// SetHelpText sets the help text shown for the field
func (f *Field) SetHelpText(text string) { f.helpText = text }

// PostProcessAfterRuleRun notifies the work item's listeners
func (f *Field) PostProcessAfterRuleRun() {
	f.item.notify(f)
}

// reset discards the new value and any status, keeping the original
func (f *Field) reset() {
	if f.newValueSet {
		f.UnsetNewValue()
		f.status = rules.StatusValid
	}
}

// commit turns the new value into the original, as after a save
func (f *Field) commit() {
	if f.newValueSet {
		f.original = f.newValue
		f.newValue = nil
		f.newValueSet = false
		f.computed = rules.ServerComputedNone
	}
}
