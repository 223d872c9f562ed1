package metadata

import (
	"fmt"
	"slices"
	"strings"
)

// SetScope selects which members of a constant-set tree are expanded
type SetScope struct {
	Leaf          bool
	Interior      bool
	OneLevel      bool
	TwoPlusLevels bool
}

// singleton reports whether the scope names only the root constant itself
func (s SetScope) singleton() bool {
	return !s.OneLevel && !s.TwoPlusLevels
}

// ConstantSet is an expanded set of constant values
type ConstantSet struct {
	values map[string]struct{}
	folded map[string]struct{}
}

func newConstantSet() *ConstantSet {
	return &ConstantSet{
		values: make(map[string]struct{}),
		folded: make(map[string]struct{}),
	}
}

func (cs *ConstantSet) add(v string) {
	cs.values[v] = struct{}{}
	cs.folded[strings.ToLower(v)] = struct{}{}
}

// NewConstantSetOf builds a set from literal values
func NewConstantSetOf(values ...string) *ConstantSet {
	cs := newConstantSet()
	for _, v := range values {
		cs.add(v)
	}
	return cs
}

// Values returns the set members in sorted order
func (cs *ConstantSet) Values() []string {
	out := make([]string, 0, len(cs.values))
	for v := range cs.values {
		out = append(out, v)
	}
	slices.Sort(out)
	return out
}

// Len returns the number of members
func (cs *ConstantSet) Len() int {
	return len(cs.values)
}

// Contains reports whether value is a member, ignoring case
func (cs *ConstantSet) Contains(value string) bool {
	_, ok := cs.folded[strings.ToLower(value)]
	return ok
}

// PatternMatch reports whether value matches at least one member interpreted as
// a MATCH pattern. A nil value never matches; non-string values are an error.
func (cs *ConstantSet) PatternMatch(value any) (bool, error) {
	if value == nil {
		return false, nil
	}
	s, ok := value.(string)
	if !ok {
		return false, fmt.Errorf("pattern match on %T value: only strings can be matched", value)
	}
	for pattern := range cs.values {
		if MatchPattern(pattern, s) {
			return true, nil
		}
	}
	return false, nil
}

// ConstantSet expands the set rooted at rootID according to scope.
// Constant ids with no row in the constants table are skipped.
func (t *Tables) ConstantSet(rootID int, scope SetScope) (*ConstantSet, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	cs := newConstantSet()
	if scope.singleton() {
		t.addValues(cs, []int{rootID})
		return cs, nil
	}

	visited := map[int]struct{}{rootID: {}}
	next := t.expandLevel(cs, []int{rootID}, scope.OneLevel && scope.Leaf, scope.OneLevel && scope.Interior, scope.TwoPlusLevels)
	next = unvisited(next, visited)
	for len(next) > 0 {
		next = t.expandLevel(cs, next, scope.Leaf, scope.Interior, true)
		next = unvisited(next, visited)
	}
	return cs, nil
}

// expandLevel adds the children of parentIDs selected by addLeaf and addInterior
// and returns the interior children when the walk continues.
// Caller must hold t.mu.
func (t *Tables) expandLevel(cs *ConstantSet, parentIDs []int, addLeaf, addInterior, descend bool) []int {
	parents := make(map[int]struct{}, len(parentIDs))
	for _, id := range parentIDs {
		parents[id] = struct{}{}
	}

	var leaves, interior []int
	seen := make(map[int]struct{})
	for _, parent := range parentIDs {
		for child := range t.children[parent] {
			if _, dup := seen[child]; dup {
				continue
			}
			seen[child] = struct{}{}

			// a node that is its own member at this level counts as a leaf
			if _, self := parents[child]; self {
				leaves = append(leaves, child)
				continue
			}
			if _, isSet := t.children[child]; isSet {
				interior = append(interior, child)
			} else {
				leaves = append(leaves, child)
			}
		}
	}

	if addLeaf {
		t.addValues(cs, leaves)
	}
	if addInterior {
		t.addValues(cs, interior)
	}
	if !descend {
		return nil
	}
	return interior
}

// Caller must hold t.mu.
func (t *Tables) addValues(cs *ConstantSet, ids []int) {
	for _, id := range ids {
		if c, ok := t.constants[id]; ok {
			cs.add(c.value())
		}
	}
}

func unvisited(ids []int, visited map[int]struct{}) []int {
	var out []int
	for _, id := range ids {
		if _, ok := visited[id]; ok {
			continue
		}
		visited[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
