package collection

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/liamcoop/witrules/metadata"
	"github.com/liamcoop/witrules/rules"
	"github.com/liamcoop/witrules/workitem"
)

// User is the identity a work item is evaluated for
type User struct {
	DisplayName string `json:"displayName" yaml:"displayName"`
	GroupIDs    []int  `json:"groupIds,omitempty" yaml:"groupIds,omitempty"`
}

// key identifies the rule cache of the user; rules depend only on group membership
// and the display name copied by current-user defaults
func (u User) key() string {
	ids := slices.Clone(u.GroupIDs)
	slices.Sort(ids)
	ids = slices.Compact(ids)

	var b strings.Builder
	b.WriteString(u.DisplayName)
	for _, id := range ids {
		b.WriteByte('|')
		b.WriteString(strconv.Itoa(id))
	}
	return b.String()
}

// Collection is one project collection: its metadata, its rules and the rule
// caches built for the users evaluated against it
type Collection struct {
	ID     string
	Name   string
	Tables *metadata.Tables
	Store  rules.RuleStore

	// Fields are the default work item field definitions, used when a request
	// does not carry its own
	Fields []workitem.Definition

	persisted   bool
	cacheConfig rules.CacheConfig
	caches      map[string]*rules.AreaRuleCache
	mu          sync.Mutex
}

func newCollection(id, name string, tables *metadata.Tables, store rules.RuleStore, cfg rules.CacheConfig) *Collection {
	return &Collection{
		ID:          id,
		Name:        name,
		Tables:      tables,
		Store:       store,
		cacheConfig: cfg,
		caches:      make(map[string]*rules.AreaRuleCache),
	}
}

// RuleCache returns the cache holding the rules that apply to u
func (c *Collection) RuleCache(u User) *rules.AreaRuleCache {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := u.key()
	if cache, ok := c.caches[key]; ok {
		return cache
	}
	cache := rules.NewAreaRuleCache(c.Store, c.Tables, rules.NewMembershipScope(u.GroupIDs...), c.cacheConfig)
	c.caches[key] = cache
	return cache
}

// EngineConfig returns what an engine evaluating for u needs
func (c *Collection) EngineConfig(u User) rules.EngineConfig {
	return rules.EngineConfig{
		Cache:       c.RuleCache(u),
		Metadata:    c.Tables,
		CurrentUser: u.DisplayName,
	}
}

// NewWorkItem builds a work item governed by the collection's rules. A nil defs
// uses the collection's field definitions.
func (c *Collection) NewWorkItem(id, areaID int, defs []workitem.Definition, values map[int]any, u User) (*workitem.WorkItem, error) {
	if defs == nil {
		defs = c.Fields
	}
	return workitem.New(id, areaID, defs, values, c.EngineConfig(u))
}

// AddRule validates and stores a row
func (c *Collection) AddRule(row *rules.Row) error {
	if err := ValidateRow(row); err != nil {
		return err
	}
	if err := c.Store.Add(row); err != nil {
		return err
	}
	c.Invalidate()
	return nil
}

// UpdateRule validates and replaces a row
func (c *Collection) UpdateRule(row *rules.Row) error {
	if err := ValidateRow(row); err != nil {
		return err
	}
	if err := c.Store.Update(row); err != nil {
		return err
	}
	c.Invalidate()
	return nil
}

// DeleteRule marks a row deleted
func (c *Collection) DeleteRule(id int) error {
	if err := c.Store.Delete(id); err != nil {
		return err
	}
	c.Invalidate()
	return nil
}

// Rules lists the rows of the collection, narrowed by filter when it is not nil
func (c *Collection) Rules(filter *rules.RuleFilter) ([]*rules.Row, error) {
	rows, err := c.Store.List()
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	if filter == nil {
		return rows, nil
	}
	return filter.Filter(rows)
}

// Invalidate clears every rule cache of the collection
func (c *Collection) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, cache := range c.caches {
		cache.Invalidate()
	}
}
