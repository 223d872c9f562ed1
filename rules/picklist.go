package rules

import (
	"slices"
	"strings"
)

// implicitEmpty stands for the empty value inside allowed sets. It is never
// returned from AllowedValues. A NUL byte cannot appear in a stored constant,
// so an empty constant string stays a real member.
const implicitEmpty = "\x00"

// PickList accumulates the allowed, suggested and prohibited values rules place
// on one field during an evaluation pass. Not safe for concurrent use.
type PickList struct {
	allowed    map[string]struct{}
	suggested  map[string]struct{}
	prohibited map[string]struct{}

	allowedList    []string
	prohibitedList []string
}

// NewPickList creates an empty pick list
func NewPickList() *PickList {
	return &PickList{}
}

// AddAllowedValues narrows the allowed set to its intersection with values
func (p *PickList) AddAllowedValues(values []string) {
	p.invalidate()

	if p.allowed == nil {
		p.allowed = toSet(values)
		return
	}
	next := make(map[string]struct{})
	for _, v := range values {
		if _, ok := p.allowed[v]; ok {
			next[v] = struct{}{}
		}
	}
	p.allowed = next
}

// AddSuggestedValues adds values to the suggested set
func (p *PickList) AddSuggestedValues(values []string) {
	p.invalidate()
	p.suggested = union(p.suggested, values)
}

// AddProhibitedValues adds values to the prohibited set
func (p *PickList) AddProhibitedValues(values []string) {
	p.invalidate()
	p.prohibited = union(p.prohibited, values)
}

// AllowedValues returns the values a user may pick, sorted ignoring case.
// The result is never nil.
func (p *PickList) AllowedValues() []string {
	if p.allowedList != nil {
		return p.allowedList
	}

	var base map[string]struct{}
	switch {
	case len(p.suggested) > 0 && p.allowed != nil:
		base = make(map[string]struct{})
		for v := range p.suggested {
			if _, ok := p.allowed[v]; ok {
				base[v] = struct{}{}
			}
		}
	case len(p.suggested) > 0:
		base = p.suggested
	default:
		base = p.allowed
	}

	out := make([]string, 0, len(base))
	for v := range base {
		if v == implicitEmpty {
			continue
		}
		if _, banned := p.prohibited[v]; banned {
			continue
		}
		out = append(out, v)
	}
	sortValues(out)

	p.allowedList = out
	return out
}

// ProhibitedValues returns the prohibited values, sorted ignoring case
func (p *PickList) ProhibitedValues() []string {
	if p.prohibitedList != nil {
		return p.prohibitedList
	}

	out := make([]string, 0, len(p.prohibited))
	for v := range p.prohibited {
		out = append(out, v)
	}
	sortValues(out)

	p.prohibitedList = out
	return out
}

// HasAllowedValues reports whether any rule restricted the field to a list
func (p *PickList) HasAllowedValues() bool {
	return p.allowed != nil
}

// Reset clears everything accumulated so far
func (p *PickList) Reset() {
	p.allowed = nil
	p.suggested = nil
	p.prohibited = nil
	p.invalidate()
}

func (p *PickList) invalidate() {
	p.allowedList = nil
	p.prohibitedList = nil
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

func union(set map[string]struct{}, values []string) map[string]struct{} {
	if set == nil {
		set = make(map[string]struct{}, len(values))
	}
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

func sortValues(values []string) {
	slices.SortFunc(values, func(a, b string) int {
		if c := strings.Compare(strings.ToLower(a), strings.ToLower(b)); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	})
}
