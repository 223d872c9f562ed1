package rules

import "time"

// CacheResults is the set of rules that apply to one area, or to one field
// change within an area
type CacheResults struct {
	// DefaultRules are sorted with CompareValueProviding
	DefaultRules    []*Rule
	NonDefaultRules []*Rule

	// AffectedFieldIDs is sorted ascending and never contains 0
	AffectedFieldIDs []int
}

// RuleCache provides an abstraction for looking up the rules that apply to an area
type RuleCache interface {
	// Rules returns every rule in effect for the area
	Rules(areaID int) (*CacheResults, error)

	// RulesForChangedField returns the rules to rerun when fieldID changes
	RulesForChangedField(areaID, fieldID int) (*CacheResults, error)

	// Invalidate clears the cache, forcing a rebuild on next lookup
	Invalidate()
}

// CacheConfig holds configuration for cache behavior
type CacheConfig struct {
	// TTL is the time-to-live for cached area nodes
	// Set to 0 for no expiration (manual invalidation only)
	TTL time.Duration
}

// DefaultCacheConfig returns sensible defaults for rule caching
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTL: 0, // No TTL - only invalidate on mutations
	}
}
