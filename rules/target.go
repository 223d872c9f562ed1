package rules

// RuleTarget is the work item a rule engine evaluates
type RuleTarget interface {
	ID() int
	AreaID() int
	Field(id int) (RuleTargetField, bool)
}

// RuleTargetField is the view of a field rules act on. A nil value means empty.
type RuleTargetField interface {
	Value() any
	OriginalValue() any
	IsNewValueSet() bool
	IsEditable() bool
	ServerComputedType() ServerComputedType

	SetServerComputed(t ServerComputedType)
	SetValueFromRule(v any)
	UnsetNewValue()
	SetStatus(s FieldStatus)
	SetReadOnly(readOnly bool)
	SetHelpText(text string)
	PickList() *PickList
	PostProcessAfterRuleRun()
}
