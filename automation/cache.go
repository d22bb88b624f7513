package automation

import (
	"sort"
	"sync"
	"time"
)

// ruleCache is the engine's working copy of rules, keyed by ID. The
// persistent store remains the source of truth; the cache is rebuilt
// wholesale on startup and kept in step by the mutating engine calls.
//
// Entries remember their insertion sequence so snapshots iterate in
// registration order. That order is what makes equal-priority rules execute
// deterministically: the dispatcher's stable sort preserves it for ties.
//
// Cached rules are treated as immutable; mutations replace the entry's
// pointer under the write lock, so concurrent readers always observe either
// the old or the new rule, never a half-written one.
type ruleCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	nextSeq uint64
}

type cacheEntry struct {
	rule *Rule
	seq  uint64
}

func newRuleCache() *ruleCache {
	return &ruleCache{
		entries: make(map[string]*cacheEntry),
	}
}

// replaceAll swaps the entire cache contents for the given rules, assigning
// fresh sequence numbers in slice order.
func (c *ruleCache) replaceAll(rules []*Rule) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*cacheEntry, len(rules))
	c.nextSeq = 0
	for _, rule := range rules {
		c.entries[rule.ID] = &cacheEntry{rule: rule, seq: c.nextSeq}
		c.nextSeq++
	}
}

// set inserts or replaces a single entry. A replaced entry keeps its original
// sequence so updates do not reshuffle tie-breaking order.
func (c *ruleCache) set(rule *Rule) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[rule.ID]; ok {
		c.entries[rule.ID] = &cacheEntry{rule: rule, seq: existing.seq}
		return
	}
	c.entries[rule.ID] = &cacheEntry{rule: rule, seq: c.nextSeq}
	c.nextSeq++
}

// delete evicts an entry; evicting a missing ID is a no-op.
func (c *ruleCache) delete(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, id)
}

// get returns the cached rule for an ID.
func (c *ruleCache) get(id string) (*Rule, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[id]
	if !ok {
		return nil, false
	}
	return entry.rule, true
}

// snapshot returns the cached rules in insertion order. The returned slice is
// private to the caller; the rules themselves are shared and immutable.
func (c *ruleCache) snapshot() []*Rule {
	c.mu.RLock()
	entries := make([]*cacheEntry, 0, len(c.entries))
	for _, entry := range c.entries {
		entries = append(entries, entry)
	}
	c.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	rules := make([]*Rule, len(entries))
	for i, entry := range entries {
		rules[i] = entry.rule
	}
	return rules
}

// recordExecution bumps the cached execution bookkeeping by swapping in an
// updated copy of the rule.
func (c *ruleCache) recordExecution(id string, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[id]
	if !ok {
		return
	}
	updated := entry.rule.Clone()
	updated.ExecutionCount++
	updated.LastExecuted = at
	c.entries[id] = &cacheEntry{rule: updated, seq: entry.seq}
}

// activeCount returns the number of cached active rules.
func (c *ruleCache) activeCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := 0
	for _, entry := range c.entries {
		if entry.rule.Active {
			n++
		}
	}
	return n
}
