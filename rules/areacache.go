package rules

import (
	"fmt"
	"sync"
	"time"
)

// Hierarchy resolves the parent of an area node; a root is its own parent
type Hierarchy interface {
	ParentID(areaID int) int
}

// PersonScope decides whether a rule attached to a person applies to the acting user
type PersonScope interface {
	InScope(personID int, inverse bool) bool
}

// MembershipScope is a PersonScope over the identity ids the acting user belongs to.
// Person id 0 means everyone.
type MembershipScope map[int]struct{}

// NewMembershipScope creates a scope for a user belonging to ids
func NewMembershipScope(ids ...int) MembershipScope {
	s := make(MembershipScope, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// InScope reports whether a rule for personID applies; inverse negates the result
func (s MembershipScope) InScope(personID int, inverse bool) bool {
	_, member := s[personID]
	member = member || personID == 0
	return member != inverse
}

// AreaRuleCache is an in-memory RuleCache built lazily from a RuleStore.
// Thread-safe for concurrent access
type AreaRuleCache struct {
	store     RuleStore
	hierarchy Hierarchy
	persons   PersonScope
	config    CacheConfig

	nodes    map[int]*areaNode
	cachedAt time.Time
	mu       sync.Mutex
}

type areaNode struct {
	areaID  int
	all     *CacheResults
	changed map[int]*CacheResults
}

// NewAreaRuleCache creates a cache over store. A nil persons scope admits every rule.
func NewAreaRuleCache(store RuleStore, hierarchy Hierarchy, persons PersonScope, config CacheConfig) *AreaRuleCache {
	return &AreaRuleCache{
		store:     store,
		hierarchy: hierarchy,
		persons:   persons,
		config:    config,
		nodes:     make(map[int]*areaNode),
	}
}

// Rules returns every rule in effect for the area. The results are shared
// and must not be modified.
func (c *AreaRuleCache) Rules(areaID int) (*CacheResults, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, err := c.node(areaID, nil)
	if err != nil {
		return nil, err
	}
	return n.all, nil
}

// RulesForChangedField returns the rules to rerun when fieldID changes in the area
func (c *AreaRuleCache) RulesForChangedField(areaID, fieldID int) (*CacheResults, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, err := c.node(areaID, nil)
	if err != nil {
		return nil, err
	}
	if results, ok := n.changed[fieldID]; ok {
		return results, nil
	}

	results := changedFieldResults(n.all, fieldID)
	n.changed[fieldID] = results
	return results, nil
}

// Invalidate clears the cache
func (c *AreaRuleCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nodes = make(map[int]*areaNode)
}

// node returns the node holding the rules of areaID, following delegation to
// parents for nodes with no rules of their own. Caller must hold c.mu.
func (c *AreaRuleCache) node(areaID int, visiting map[int]bool) (*areaNode, error) {
	c.expire()

	if n, ok := c.nodes[areaID]; ok {
		return n, nil
	}
	if len(c.nodes) == 0 {
		c.cachedAt = time.Now()
	}

	var parent *areaNode
	parentID := c.hierarchy.ParentID(areaID)
	if parentID != areaID {
		if visiting == nil {
			visiting = make(map[int]bool)
		}
		visiting[areaID] = true
		if !visiting[parentID] {
			p, err := c.node(parentID, visiting)
			if err != nil {
				return nil, err
			}
			parent = p
		}
	}

	own, err := c.ownRules(areaID)
	if err != nil {
		return nil, err
	}

	var n *areaNode
	if len(own) == 0 && parent != nil {
		n = parent
	} else {
		n = &areaNode{
			areaID:  areaID,
			all:     buildResults(own, parent),
			changed: make(map[int]*CacheResults),
		}
	}
	c.nodes[areaID] = n
	return n, nil
}

// expire drops every node once the TTL has passed. Caller must hold c.mu.
func (c *AreaRuleCache) expire() {
	if c.config.TTL > 0 && len(c.nodes) > 0 && time.Since(c.cachedAt) > c.config.TTL {
		c.nodes = make(map[int]*areaNode)
	}
}

// ownRules loads and decodes the rows attached to an area that apply to the acting user
func (c *AreaRuleCache) ownRules(areaID int) ([]*Rule, error) {
	rows, err := c.store.ListForArea(areaID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules for area %d: %w", areaID, err)
	}

	out := make([]*Rule, 0, len(rows))
	for _, row := range rows {
		if c.persons != nil && !c.persons.InScope(row.PersonID, row.Flags1.Has(FlagInversePerson)) {
			continue
		}
		out = append(out, Decode(*row))
	}
	return out, nil
}

func buildResults(own []*Rule, parent *areaNode) *CacheResults {
	results := &CacheResults{}
	affected := make(map[int]struct{})

	add := func(r *Rule) {
		if r.IsDefault() {
			results.DefaultRules = append(results.DefaultRules, r)
		} else {
			results.NonDefaultRules = append(results.NonDefaultRules, r)
		}
		affected[r.ThenFldID] = struct{}{}
	}

	for _, r := range own {
		add(r)
	}
	if parent != nil {
		for _, r := range parent.all.DefaultRules {
			if r.Flags1.Has(FlagFlowdownTree) {
				add(r)
			}
		}
		for _, r := range parent.all.NonDefaultRules {
			if r.Flags1.Has(FlagFlowdownTree) {
				add(r)
			}
		}
	}

	SortValueProviding(results.DefaultRules)
	delete(affected, 0)
	results.AffectedFieldIDs = sortedIDs(affected)
	return results
}

// changedFieldResults selects the rules to rerun after fieldID changes: the
// rules that read the field give the affected fields, and every rule writing an
// affected field reruns, except defaults for the changed field itself
func changedFieldResults(all *CacheResults, fieldID int) *CacheResults {
	affected := make(map[int]struct{})
	for _, list := range [][]*Rule{all.DefaultRules, all.NonDefaultRules} {
		for _, r := range list {
			if readsField(r, fieldID) {
				affected[r.ThenFldID] = struct{}{}
			}
		}
	}
	delete(affected, 0)

	results := &CacheResults{AffectedFieldIDs: sortedIDs(affected)}
	for _, r := range all.DefaultRules {
		if _, ok := affected[r.ThenFldID]; ok && r.ThenFldID != fieldID {
			results.DefaultRules = append(results.DefaultRules, r)
		}
	}
	for _, r := range all.NonDefaultRules {
		if _, ok := affected[r.ThenFldID]; ok {
			results.NonDefaultRules = append(results.NonDefaultRules, r)
		}
	}
	return results
}

func readsField(r *Rule, fieldID int) bool {
	for _, s := range r.Scope {
		if s.FieldID == fieldID {
			return true
		}
	}
	return r.If.FieldID == fieldID ||
		r.If2.FieldID == fieldID ||
		(r.Flags1.Has(FlagDenyWrite) && r.ThenFldID == fieldID)
}
