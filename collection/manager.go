// Package collection manages the project collections the service evaluates rules
// for. Each collection owns its metadata tables, its rule store and the rule caches
// built for the users evaluated against it.
package collection

import (
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/liamcoop/witrules/internal/logger"
	"github.com/liamcoop/witrules/metadata"
	"github.com/liamcoop/witrules/rules"
)

var (
	// ErrCollectionNotFound is returned for unknown collection ids
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrDuplicateName is returned when a collection name is already taken
	ErrDuplicateName = errors.New("collection name already exists")
)

// Manager holds every loaded collection. With a nil database, collections live
// in memory only.
// Thread-safe for concurrent access
type Manager struct {
	collections map[string]*Collection
	db          *sql.DB
	cacheConfig rules.CacheConfig
	mu          sync.RWMutex
}

// NewManager creates a new manager instance
func NewManager(db *sql.DB, cacheConfig rules.CacheConfig) *Manager {
	return &Manager{
		collections: make(map[string]*Collection),
		db:          db,
		cacheConfig: cacheConfig,
	}
}

// LoadAll loads every collection from the database
func (m *Manager) LoadAll() error {
	if m.db == nil {
		return nil
	}

	rows, err := m.db.Query(`SELECT id, name FROM collections ORDER BY name`)
	if err != nil {
		return fmt.Errorf("failed to fetch collections: %w", err)
	}
	defer rows.Close()

	type entry struct{ id, name string }
	var entries []entry
	for rows.Next() {
		var e entry
		if err := rows.Scan(&e.id, &e.name); err != nil {
			return fmt.Errorf("failed to scan collection row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating collection rows: %w", err)
	}

	for _, e := range entries {
		tables, err := metadata.LoadTables(m.db, e.id)
		if err != nil {
			return fmt.Errorf("failed to load metadata for collection %s: %w", e.id, err)
		}
		c := newCollection(e.id, e.name, tables, rules.NewPostgresRuleStore(m.db, e.id), m.cacheConfig)
		c.persisted = true

		m.mu.Lock()
		m.collections[e.id] = c
		m.mu.Unlock()
	}

	logger.Info("collections loaded", "count", len(entries))
	return nil
}

// Create adds an empty collection
func (m *Manager) Create(name string) (*Collection, error) {
	c, err := m.newEmpty(name)
	if err != nil {
		return nil, err
	}
	m.add(c)
	logger.Info("collection created", "collectionId", c.ID, "name", c.Name)
	return c, nil
}

// newEmpty creates the database row of a collection, if there is a database,
// without registering the collection
func (m *Manager) newEmpty(name string) (*Collection, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("collection name is required")
	}
	if m.byName(name) != nil {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateName, name)
	}

	if m.db == nil {
		return newCollection(uuid.NewString(), name, metadata.NewTables(), rules.NewInMemoryRuleStore(), m.cacheConfig), nil
	}

	var id string
	err := m.db.QueryRow(`
		INSERT INTO collections (name, created_at, updated_at)
		VALUES ($1, NOW(), NOW())
		RETURNING id
	`, name).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("failed to create collection: %w", err)
	}
	c := newCollection(id, name, metadata.NewTables(), rules.NewPostgresRuleStore(m.db, id), m.cacheConfig)
	c.persisted = true
	return c, nil
}

// add registers c, replacing any collection with the same id
func (m *Manager) add(c *Collection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collections[c.ID] = c
}

// Get retrieves a collection by id
func (m *Manager) Get(id string) (*Collection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, exists := m.collections[id]
	if !exists {
		return nil, fmt.Errorf("collection %s: %w", id, ErrCollectionNotFound)
	}
	return c, nil
}

// List returns every loaded collection ordered by name
func (m *Manager) List() []*Collection {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Collection, 0, len(m.collections))
	for _, c := range m.collections {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b *Collection) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// Delete removes a collection. Database rows go with it; fixtures are only unloaded.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, exists := m.collections[id]
	if !exists {
		return fmt.Errorf("collection %s: %w", id, ErrCollectionNotFound)
	}

	if c.persisted {
		if _, err := m.db.Exec(`DELETE FROM collections WHERE id = $1`, id); err != nil {
			return fmt.Errorf("failed to delete collection: %w", err)
		}
	}

	delete(m.collections, id)
	logger.Info("collection deleted", "collectionId", id)
	return nil
}
