package rules

import (
	"testing"
	"time"

	"github.com/liamcoop/witrules/metadata"
)

var testClock = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

const testUser = "Jamal Hartnett"

// fakeField is a minimal RuleTargetField for engine tests
type fakeField struct {
	value         any
	original      any
	newValueSet   bool
	definitionRO  bool
	readOnly      bool
	computed      ServerComputedType
	status        FieldStatus
	helpText      string
	picks         *PickList
	postProcessed int
}

func (f *fakeField) Value() any                             { return f.value }
func (f *fakeField) OriginalValue() any                     { return f.original }
func (f *fakeField) IsNewValueSet() bool                    { return f.newValueSet }
func (f *fakeField) ServerComputedType() ServerComputedType { return f.computed }
func (f *fakeField) SetStatus(s FieldStatus)                { f.status = s }
func (f *fakeField) SetReadOnly(readOnly bool)              { f.readOnly = readOnly }
func (f *fakeField) SetHelpText(text string)                { f.helpText = text }
func (f *fakeField) PickList() *PickList                    { return f.picks }
func (f *fakeField) PostProcessAfterRuleRun()               { f.postProcessed++ }

func (f *fakeField) IsEditable() bool {
	return !f.definitionRO && !f.readOnly && f.computed == ServerComputedNone
}

func (f *fakeField) SetServerComputed(t ServerComputedType) {
	f.value = nil
	f.computed = t
	f.newValueSet = true
}

func (f *fakeField) SetValueFromRule(v any) {
	f.value = v
	f.computed = ServerComputedNone
	f.newValueSet = !fieldValuesEqual(v, f.original)
}

func (f *fakeField) UnsetNewValue() {
	f.value = f.original
	f.computed = ServerComputedNone
	f.newValueSet = false
}

// edit simulates a user edit that bypasses the engine
func (f *fakeField) edit(v any) {
	f.value = v
	f.newValueSet = true
}

type fakeTarget struct {
	id     int
	areaID int
	fields map[int]*fakeField
}

func newFakeTarget(id, areaID int) *fakeTarget {
	return &fakeTarget{id: id, areaID: areaID, fields: make(map[int]*fakeField)}
}

func (t *fakeTarget) ID() int     { return t.id }
func (t *fakeTarget) AreaID() int { return t.areaID }

func (t *fakeTarget) Field(id int) (RuleTargetField, bool) {
	f, ok := t.fields[id]
	if !ok {
		return nil, false
	}
	return f, true
}

// add registers a field holding value as both its original and current value
func (t *fakeTarget) add(id int, value any) *fakeField {
	f := &fakeField{value: value, original: value, picks: NewPickList()}
	t.fields[id] = f
	return f
}

// testEngine wires an engine to an in-memory store and metadata tables
func testEngine(t *testing.T, target RuleTarget, rows ...Row) (*Engine, *metadata.Tables) {
	t.Helper()

	store := NewInMemoryRuleStore()
	for i := range rows {
		if err := store.Add(&rows[i]); err != nil {
			t.Fatalf("Failed to add rule: %v", err)
		}
	}

	tables := metadata.NewTables()
	cache := NewAreaRuleCache(store, tables, nil, DefaultCacheConfig())
	engine := NewEngine(target, EngineConfig{
		Cache:       cache,
		Metadata:    tables,
		CurrentUser: testUser,
		Clock:       func() time.Time { return testClock },
	})
	return engine, tables
}
