package rules

import "fmt"

// Special constant ids. Rule constant slots in this range carry engine semantics
// instead of pointing into the constants table.
const (
	ConstEmptyValue               = -10000
	ConstSameAsOldValue           = -10001
	ConstDeletedTreeLocation      = -10002
	ConstAdminOnlyTreeLocation    = -10003
	ConstOldValueInOtherField     = -10006
	ConstValueInOtherField        = -10007
	ConstUtcDateTime              = -10009
	ConstCurrentUser              = -10010
	ConstServerDateTime           = -10013
	ConstBecameNonEmptyValue      = -10014
	ConstRemainedNonEmptyValue    = -10015
	ConstGreaterThanOldValue      = -10016
	ConstOldValuePlusOne          = -10022
	ConstWasEmptyValue            = -10026
	ConstServerCurrentUser        = -10028
	ConstWasEmptyOrSameAsOldValue = -10031
	ConstServerRandomGuid         = -10032
	ConstNotGreaterThanServerTime = -10033
)

// IsSpecialConstantID reports whether id lies in the special constant range
func IsSpecialConstantID(id int) bool {
	return id <= -10000 && id >= -10999
}

// WorkItemFormID is the reserved form field; default rules targeting it are skipped
const WorkItemFormID = -14

// FieldStatus is the validity state a rule run leaves on a field
type FieldStatus int

const (
	StatusValid FieldStatus = iota
	StatusInvalidEmpty
	StatusInvalidNotEmpty
	StatusInvalidFormat
	StatusInvalidListValue
	StatusInvalidOldValue
	StatusInvalidNotOldValue
	StatusInvalidEmptyOrOldValue
	StatusInvalidNotEmptyOrOldValue
	StatusInvalidValueInOtherField
	StatusInvalidValueNotInOtherField
	StatusInvalidUnknown
	StatusInvalidDate
	StatusInvalidTooLong
	StatusInvalidType
	StatusInvalidComputedField
	StatusInvalidPath
	StatusInvalidCharacters
)

var fieldStatusNames = [...]string{
	"Valid", "InvalidEmpty", "InvalidNotEmpty", "InvalidFormat", "InvalidListValue",
	"InvalidOldValue", "InvalidNotOldValue", "InvalidEmptyOrOldValue",
	"InvalidNotEmptyOrOldValue", "InvalidValueInOtherField", "InvalidValueNotInOtherField",
	"InvalidUnknown", "InvalidDate", "InvalidTooLong", "InvalidType",
	"InvalidComputedField", "InvalidPath", "InvalidCharacters",
}

func (s FieldStatus) String() string {
	if s < 0 || int(s) >= len(fieldStatusNames) {
		return "Unknown"
	}
	return fieldStatusNames[s]
}

// MarshalText renders the status name in JSON output
func (s FieldStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a status name written by MarshalText
func (s *FieldStatus) UnmarshalText(text []byte) error {
	for i, name := range fieldStatusNames {
		if name == string(text) {
			*s = FieldStatus(i)
			return nil
		}
	}
	return fmt.Errorf("unknown field status %q", text)
}

// ServerComputedType marks a value the server fills in on save
type ServerComputedType int

const (
	ServerComputedNone ServerComputedType = iota
	ServerComputedCurrentUser
	ServerComputedDateTime
	ServerComputedRandomGUID
)

func (t ServerComputedType) String() string {
	switch t {
	case ServerComputedCurrentUser:
		return "CurrentUser"
	case ServerComputedDateTime:
		return "DateTime"
	case ServerComputedRandomGUID:
		return "RandomGUID"
	default:
		return "None"
	}
}
