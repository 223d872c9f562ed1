package workitem

import (
	"fmt"
	"slices"

	"github.com/liamcoop/witrules/rules"
)

// WorkItem is an in-memory work item whose fields are governed by a rule engine.
// Not safe for concurrent use.
type WorkItem struct {
	id     int
	areaID int
	fields map[int]*Field
	order  []int

	engine    *rules.Engine
	listeners []func(*Field)
}

// New creates a work item with the given field definitions and loaded values.
// An id of 0 marks a work item that has never been saved.
func New(id, areaID int, defs []Definition, values map[int]any, cfg rules.EngineConfig) (*WorkItem, error) {
	wi := &WorkItem{
		id:     id,
		areaID: areaID,
		fields: make(map[int]*Field, len(defs)),
	}

	for _, def := range defs {
		if _, dup := wi.fields[def.ID]; dup {
			return nil, fmt.Errorf("duplicate field definition %d", def.ID)
		}
		f := newField(wi, def)
		v, err := convert(f.def.Type, values[def.ID])
		if err != nil {
			return nil, fmt.Errorf("field %d (%s): %w", def.ID, def.Name, err)
		}
		f.original = v
		wi.fields[def.ID] = f
		wi.order = append(wi.order, def.ID)
	}
	for id := range values {
		if _, ok := wi.fields[id]; !ok {
			return nil, fmt.Errorf("value for field %d: %w", id, rules.ErrFieldNotFound)
		}
	}

	wi.engine = rules.NewEngine(wi, cfg)
	return wi, nil
}

func (wi *WorkItem) ID() int     { return wi.id }
func (wi *WorkItem) AreaID() int { return wi.areaID }

// Field implements rules.RuleTarget
func (wi *WorkItem) Field(id int) (rules.RuleTargetField, bool) {
	f, ok := wi.fields[id]
	if !ok {
		return nil, false
	}
	return f, true
}

// FieldByID returns the concrete field
func (wi *WorkItem) FieldByID(id int) (*Field, error) {
	f, ok := wi.fields[id]
	if !ok {
		return nil, fmt.Errorf("field %d on work item %d: %w", id, wi.id, rules.ErrFieldNotFound)
	}
	return f, nil
}

// Open runs the rules for a freshly loaded or created work item
func (wi *WorkItem) Open() error {
	return wi.engine.Open()
}

// SetFieldValue applies a user edit to a field
func (wi *WorkItem) SetFieldValue(id int, v any) error {
	f, err := wi.FieldByID(id)
	if err != nil {
		return err
	}
	return f.SetValue(v)
}

// OnFieldChange registers fn to run for every field touched by a rule run
func (wi *WorkItem) OnFieldChange(fn func(*Field)) {
	wi.listeners = append(wi.listeners, fn)
}

func (wi *WorkItem) notify(f *Field) {
	for _, fn := range wi.listeners {
		fn(f)
	}
}

// IsDirty reports whether any field holds a new value
func (wi *WorkItem) IsDirty() bool {
	for _, f := range wi.fields {
		if f.IsDirty() {
			return true
		}
	}
	return false
}

// InvalidFields returns the ids of fields with a non-valid status, in definition order
func (wi *WorkItem) InvalidFields() []int {
	var out []int
	for _, id := range wi.order {
		if wi.fields[id].status != rules.StatusValid {
			out = append(out, id)
		}
	}
	return out
}

// Reset discards every new value
func (wi *WorkItem) Reset() {
	for _, f := range wi.fields {
		f.reset()
	}
}

// Commit makes every new value the original value, as after a successful save
func (wi *WorkItem) Commit() {
	for _, f := range wi.fields {
		f.commit()
	}
}

// FieldState is the externally visible state of one field
type FieldState struct {
	ID               int                      `json:"id"`
	Name             string                   `json:"name"`
	Value            any                      `json:"value"`
	OriginalValue    any                      `json:"originalValue"`
	Dirty            bool                     `json:"dirty"`
	Editable         bool                     `json:"editable"`
	Status           rules.FieldStatus        `json:"status"`
	ServerComputed   rules.ServerComputedType `json:"-"`
	ServerComputedAs string                   `json:"serverComputed,omitempty"`
	HelpText         string                   `json:"helpText,omitempty"`
	AllowedValues    []string                 `json:"allowedValues,omitempty"`
	ProhibitedValues []string                 `json:"prohibitedValues,omitempty"`
}

// Snapshot returns the state of every field in definition order
func (wi *WorkItem) Snapshot() []FieldState {
	out := make([]FieldState, 0, len(wi.order))
	for _, id := range wi.order {
		f := wi.fields[id]
		st := FieldState{
			ID:             id,
			Name:           f.def.Name,
			Value:          f.Value(),
			OriginalValue:  f.original,
			Dirty:          f.IsDirty(),
			Editable:       f.IsEditable(),
			Status:         f.status,
			ServerComputed: f.computed,
			HelpText:       f.helpText,
		}
		if f.computed != rules.ServerComputedNone {
			st.ServerComputedAs = f.computed.String()
		}
		if allowed := f.picks.AllowedValues(); len(allowed) > 0 {
			st.AllowedValues = slices.Clone(allowed)
		}
		if prohibited := f.picks.ProhibitedValues(); len(prohibited) > 0 {
			st.ProhibitedValues = slices.Clone(prohibited)
		}
		out = append(out, st)
	}
	return out
}
