package rules

import (
	"fmt"
	"strings"
)

// Flags1 is the first rule flag word
type Flags1 uint32

// Flags2 is the second rule flag word
type Flags2 uint32

const (
	FlagEditable Flags1 = 1 << iota
	FlagGrantRead
	FlagDenyRead
	FlagGrantWrite
	FlagDenyWrite
	FlagGrantAdmin
	FlagDenyAdmin
	FlagUnless
	FlagFlowdownTree
	FlagDefault
	FlagSuggestion
	FlagReverse
	FlagIfNot
	FlagIfLike
	FlagIfLeaf
	FlagIfInterior
	FlagIfOneLevel
	FlagIfTwoPlusLevels
	FlagIfImplicitAlso
	FlagIf2Not
	FlagSemiEditable
	FlagInversePerson
	FlagThenNot
	FlagThenLike
	FlagThenLeaf
	FlagThenInterior
	FlagThenOneLevel
	FlagThenTwoPlusLevels
	FlagThenImplicitAlso
	FlagThenHelptext
)

const (
	FlagIfConstLargeText Flags2 = 1 << iota
	FlagIfImplicitEmpty
	FlagIfImplicitUnchanged
	FlagThenConstLargeText
	FlagThenImplicitEmpty
	FlagThenImplicitUnchanged
	FlagFlowaroundTree
)

var flags1Names = []string{
	"Editable", "GrantRead", "DenyRead", "GrantWrite", "DenyWrite", "GrantAdmin",
	"DenyAdmin", "Unless", "FlowdownTree", "Default", "Suggestion", "Reverse", "IfNot",
	"IfLike", "IfLeaf", "IfInterior", "IfOneLevel", "IfTwoPlusLevels", "IfImplicitAlso",
	"If2Not", "SemiEditable", "InversePerson", "ThenNot", "ThenLike", "ThenLeaf",
	"ThenInterior", "ThenOneLevel", "ThenTwoPlusLevels", "ThenImplicitAlso", "ThenHelptext",
}

var flags2Names = []string{
	"IfConstLargeText", "IfImplicitEmpty", "IfImplicitUnchanged", "ThenConstLargeText",
	"ThenImplicitEmpty", "ThenImplicitUnchanged", "FlowaroundTree",
}

// Has reports whether every bit of flag is set
func (f Flags1) Has(flag Flags1) bool { return f&flag == flag }

// Has reports whether every bit of flag is set
func (f Flags2) Has(flag Flags2) bool { return f&flag == flag }

// Names returns the names of the set flags in bit order
func (f Flags1) Names() []string {
	var out []string
	for i, name := range flags1Names {
		if f&(1<<i) != 0 {
			out = append(out, name)
		}
	}
	return out
}

// Names returns the names of the set flags in bit order
func (f Flags2) Names() []string {
	var out []string
	for i, name := range flags2Names {
		if f&(1<<i) != 0 {
			out = append(out, name)
		}
	}
	return out
}

// ParseFlags converts flag names (case-insensitive) into the two flag words
func ParseFlags(names []string) (Flags1, Flags2, error) {
	var f1 Flags1
	var f2 Flags2

next:
	for _, name := range names {
		for i, n := range flags1Names {
			if strings.EqualFold(n, name) {
				f1 |= 1 << i
				continue next
			}
		}
		for i, n := range flags2Names {
			if strings.EqualFold(n, name) {
				f2 |= 1 << i
				continue next
			}
		}
		return 0, 0, fmt.Errorf("unknown rule flag %q", name)
	}
	return f1, f2, nil
}

// FieldSlot is one of the four scope conditions of a row
type FieldSlot struct {
	ID         int `json:"id" yaml:"id"`
	IsConstID  int `json:"isConstId,omitempty" yaml:"isConstId,omitempty"`
	WasConstID int `json:"wasConstId,omitempty" yaml:"wasConstId,omitempty"`
}

// Row is a rule as persisted in the rules table. Rows are immutable once loaded.
type Row struct {
	RuleID            int       `json:"ruleId"`
	AreaID            int       `json:"areaId"`
	Cachestamp        int64     `json:"cachestamp"`
	Deleted           bool      `json:"deleted"`
	Fld1              FieldSlot `json:"fld1"`
	Fld2              FieldSlot `json:"fld2"`
	Fld3              FieldSlot `json:"fld3"`
	Fld4              FieldSlot `json:"fld4"`
	IfFldID           int       `json:"ifFldId"`
	IfConstID         int       `json:"ifConstId"`
	If2FldID          int       `json:"if2FldId"`
	If2ConstID        int       `json:"if2ConstId"`
	ObjectTypeScopeID int       `json:"objectTypeScopeId"`
	PersonID          int       `json:"personId"`
	RootTreeID        int       `json:"rootTreeId"`
	Flags1            Flags1    `json:"ruleFlags1"`
	Flags2            Flags2    `json:"ruleFlags2"`
	ThenFldID         int       `json:"thenFldId"`
	ThenConstID       int       `json:"thenConstId"`
}

// Slots returns Fld1..Fld4 in order
func (r *Row) Slots() [4]FieldSlot {
	return [4]FieldSlot{r.Fld1, r.Fld2, r.Fld3, r.Fld4}
}
