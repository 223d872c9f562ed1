package rules

import "github.com/liamcoop/witrules/metadata"

// FieldCondition is a decoded scope slot: the field must currently hold IsConstID
// and must originally have held WasConstID. Zero ids are not tested.
type FieldCondition struct {
	FieldID    int
	IsConstID  int
	WasConstID int
}

// Condition is a decoded IF or IF2 test
type Condition struct {
	FieldID int
	ConstID int
	Not     bool
}

// Action is the effect of a rule, decoded from its flags
type Action interface {
	Kind() string
}

// DefaultValue provides a value for the THEN field
type DefaultValue struct {
	FieldID int
	ConstID int
}

// Polarity of a deny-write rule
type Polarity int

const (
	// Require means the field value must be in the THEN set
	Require Polarity = iota
	// Prohibit means the field value must not be in the THEN set
	Prohibit
)

func (p Polarity) String() string {
	if p == Require {
		return "require"
	}
	return "prohibit"
}

// DenyWrite constrains the THEN field
type DenyWrite struct {
	FieldID           int
	ConstID           int
	Polarity          Polarity
	Like              bool
	ImplicitEmpty     bool
	ImplicitUnchanged bool
	Set               metadata.SetScope
}

// Suggestion adds the THEN set to the field's suggested values
type Suggestion struct {
	FieldID int
	ConstID int
	Set     metadata.SetScope
}

// HelpText sets the help text of the THEN field
type HelpText struct {
	FieldID int
	ConstID int
}

// NoAction is a rule the client has nothing to do for
type NoAction struct{}

func (DefaultValue) Kind() string { return "default" }
func (DenyWrite) Kind() string    { return "denyWrite" }
func (Suggestion) Kind() string   { return "suggestion" }
func (HelpText) Kind() string     { return "helpText" }
func (NoAction) Kind() string     { return "none" }

// Rule is a row decoded once at load time
type Rule struct {
	Row
	Scope  [4]FieldCondition
	If     Condition
	If2    Condition
	Action Action
}

// IsDefault reports whether the rule provides a value
func (r *Rule) IsDefault() bool {
	return r.Flags1.Has(FlagDefault)
}

// Decode turns a persisted row into a rule
func Decode(row Row) *Rule {
	r := &Rule{Row: row}

	for i, slot := range row.Slots() {
		r.Scope[i] = FieldCondition{FieldID: slot.ID, IsConstID: slot.IsConstID, WasConstID: slot.WasConstID}
	}
	r.If = Condition{FieldID: row.IfFldID, ConstID: row.IfConstID, Not: row.Flags1.Has(FlagIfNot)}
	r.If2 = Condition{FieldID: row.If2FldID, ConstID: row.If2ConstID, Not: row.Flags1.Has(FlagIf2Not)}
	r.Action = decodeAction(row)

	return r
}

func decodeAction(row Row) Action {
	f1, f2 := row.Flags1, row.Flags2
	thenSet := metadata.SetScope{
		Leaf:          f1.Has(FlagThenLeaf),
		Interior:      f1.Has(FlagThenInterior),
		OneLevel:      f1.Has(FlagThenOneLevel),
		TwoPlusLevels: f1.Has(FlagThenTwoPlusLevels),
	}

	switch {
	case f1.Has(FlagDefault):
		return DefaultValue{FieldID: row.ThenFldID, ConstID: row.ThenConstID}
	case row.ThenFldID == 0:
		return NoAction{}
	case f1.Has(FlagDenyWrite):
		polarity := Prohibit
		if f1.Has(FlagUnless) != f1.Has(FlagThenNot) {
			polarity = Require
		}
		return DenyWrite{
			FieldID:           row.ThenFldID,
			ConstID:           row.ThenConstID,
			Polarity:          polarity,
			Like:              f1.Has(FlagThenLike),
			ImplicitEmpty:     f2.Has(FlagThenImplicitEmpty),
			ImplicitUnchanged: f2.Has(FlagThenImplicitUnchanged),
			Set:               thenSet,
		}
	case f1.Has(FlagSuggestion):
		return Suggestion{FieldID: row.ThenFldID, ConstID: row.ThenConstID, Set: thenSet}
	case f1.Has(FlagThenHelptext):
		return HelpText{FieldID: row.ThenFldID, ConstID: row.ThenConstID}
	default:
		return NoAction{}
	}
}
