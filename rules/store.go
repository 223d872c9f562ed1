package rules

import (
	"fmt"
	"slices"
	"sync"
)

// RuleStore manages rule row persistence and retrieval
type RuleStore interface {
	// Add a new row; a zero RuleID is assigned the next free id
	Add(row *Row) error

	// Get a row by rule id, deleted rows included
	Get(id int) (*Row, error)

	// ListForArea returns the non-deleted rows attached to an area node
	ListForArea(areaID int) ([]*Row, error)

	// List returns every row ordered by rule id, deleted rows included
	List() ([]*Row, error)

	// Update an existing row
	Update(row *Row) error

	// Delete marks a row deleted
	Delete(id int) error
}

// InMemoryRuleStore implements RuleStore using an in-memory map.
// Thread-safe with RWMutex
type InMemoryRuleStore struct {
	rows  map[int]*Row
	stamp int64
	mu    sync.RWMutex
}

// NewInMemoryRuleStore creates a new in-memory rule store
func NewInMemoryRuleStore() *InMemoryRuleStore {
	return &InMemoryRuleStore{
		rows: make(map[int]*Row),
	}
}

// Add adds a new row to the store and stamps its Cachestamp
func (s *InMemoryRuleStore) Add(row *Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if row.RuleID == 0 {
		for id := range s.rows {
			row.RuleID = max(row.RuleID, id)
		}
		row.RuleID++
	}
	if _, exists := s.rows[row.RuleID]; exists {
		return fmt.Errorf("rule with ID %d already exists", row.RuleID)
	}

	s.stamp++
	row.Cachestamp = s.stamp
	stored := *row
	s.rows[row.RuleID] = &stored
	return nil
}

// Get retrieves a copy of a row by rule id
func (s *InMemoryRuleStore) Get(id int) (*Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, exists := s.rows[id]
	if !exists {
		return nil, fmt.Errorf("rule %d: %w", id, ErrRuleNotFound)
	}
	out := *row
	return &out, nil
}

// ListForArea returns the non-deleted rows of an area node
func (s *InMemoryRuleStore) ListForArea(areaID int) ([]*Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Row
	for _, row := range s.rows {
		if row.AreaID == areaID && !row.Deleted {
			r := *row
			out = append(out, &r)
		}
	}
	sortRows(out)
	return out, nil
}

// List returns every row ordered by rule id
func (s *InMemoryRuleStore) List() ([]*Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Row, 0, len(s.rows))
	for _, row := range s.rows {
		r := *row
		out = append(out, &r)
	}
	sortRows(out)
	return out, nil
}

// Update replaces an existing row and restamps it
func (s *InMemoryRuleStore) Update(row *Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rows[row.RuleID]; !exists {
		return fmt.Errorf("rule %d: %w", row.RuleID, ErrRuleNotFound)
	}

	s.stamp++
	row.Cachestamp = s.stamp
	stored := *row
	s.rows[row.RuleID] = &stored
	return nil
}

// Delete marks a row deleted; the row stays visible to Get and List
func (s *InMemoryRuleStore) Delete(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, exists := s.rows[id]
	if !exists {
		return fmt.Errorf("rule %d: %w", id, ErrRuleNotFound)
	}

	s.stamp++
	deleted := *row
	deleted.Deleted = true
	deleted.Cachestamp = s.stamp
	s.rows[id] = &deleted
	return nil
}

func sortRows(rows []*Row) {
	slices.SortFunc(rows, func(a, b *Row) int { return a.RuleID - b.RuleID })
}
