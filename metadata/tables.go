// Package metadata holds the work item tracking metadata the rule engine reads:
// the constants table, the constant-set graph and the area hierarchy.
package metadata

import (
	"errors"
	"fmt"
	"sync"
)

// ErrConstantNotFound is returned when a constant id has no entry in the constants table
var ErrConstantNotFound = errors.New("constant not found")

// Constant is one row of the constants table
type Constant struct {
	ID          int    `json:"id" yaml:"id"`
	String      string `json:"string" yaml:"string"`
	DisplayName string `json:"displayName,omitempty" yaml:"displayName,omitempty"`
}

// value returns the display form used inside constant sets
func (c Constant) value() string {
	if c.DisplayName != "" {
		return c.DisplayName
	}
	return c.String
}

// SetMember is one parent -> child edge of the constant-set graph
type SetMember struct {
	ParentID int `json:"parentId" yaml:"parentId"`
	ConstID  int `json:"constId" yaml:"constId"`
}

// Tables is an in-memory copy of the metadata tables for one collection.
// Thread-safe for concurrent reads (RWMutex)
type Tables struct {
	constants map[int]Constant
	children  map[int]map[int]struct{}
	parents   map[int]int
	mu        sync.RWMutex
}

// NewTables creates empty metadata tables
func NewTables() *Tables {
	return &Tables{
		constants: make(map[int]Constant),
		children:  make(map[int]map[int]struct{}),
		parents:   make(map[int]int),
	}
}

// AddConstant inserts or replaces a constant
func (t *Tables) AddConstant(c Constant) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.constants[c.ID] = c
}

// AddSetMember records that constID is a member of the set parentID
func (t *Tables) AddSetMember(parentID, constID int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	members, ok := t.children[parentID]
	if !ok {
		members = make(map[int]struct{})
		t.children[parentID] = members
	}
	members[constID] = struct{}{}
}

// SetParent records the parent of an area node
func (t *Tables) SetParent(areaID, parentID int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.parents[areaID] = parentID
}

// ConstantByID returns the string of a constant
func (t *Tables) ConstantByID(id int) (string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	c, ok := t.constants[id]
	if !ok {
		return "", fmt.Errorf("constant %d: %w", id, ErrConstantNotFound)
	}
	return c.String, nil
}

// ParentID returns the parent of an area node. A root node, or a node the
// hierarchy does not know, is its own parent.
func (t *Tables) ParentID(areaID int) int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if parent, ok := t.parents[areaID]; ok {
		return parent
	}
	return areaID
}

// Constants returns a copy of every constant
func (t *Tables) Constants() []Constant {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Constant, 0, len(t.constants))
	for _, c := range t.constants {
		out = append(out, c)
	}
	return out
}

// SetMembers returns a copy of every constant-set edge
func (t *Tables) SetMembers() []SetMember {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []SetMember
	for parent, members := range t.children {
		for child := range members {
			out = append(out, SetMember{ParentID: parent, ConstID: child})
		}
	}
	return out
}

// Parents returns a copy of the area hierarchy as child -> parent
func (t *Tables) Parents() map[int]int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[int]int, len(t.parents))
	for k, v := range t.parents {
		out[k] = v
	}
	return out
}
