package automation

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// PersistentRuleStore is the durable source of truth for rules. The engine
// keeps an in-memory working copy and rebuilds it from the store on startup.
type PersistentRuleStore interface {
	// Insert adds a new rule. Duplicate IDs are an error. The store sets
	// CreatedAt and UpdatedAt on the passed rule.
	Insert(ctx context.Context, rule *Rule) error

	// Get retrieves a rule by ID, or ErrRuleNotFound.
	Get(ctx context.Context, id string) (*Rule, error)

	// Update replaces an existing rule, refreshing UpdatedAt and preserving
	// CreatedAt. Returns ErrRuleNotFound if the rule does not exist.
	Update(ctx context.Context, rule *Rule) error

	// Delete removes a rule. Returns ErrRuleNotFound if it does not exist.
	Delete(ctx context.Context, id string) error

	// ListActive returns all active rules.
	ListActive(ctx context.Context) ([]*Rule, error)

	// RecordExecution atomically increments the rule's execution counter and
	// sets its last-executed timestamp. Concurrent calls for the same rule
	// must not lose increments.
	RecordExecution(ctx context.Context, id string, at time.Time) error
}

// InMemoryRuleStore implements PersistentRuleStore with a mutex-guarded map.
// It backs tests and single-process deployments without a database.
type InMemoryRuleStore struct {
	rules map[string]*Rule
	mu    sync.RWMutex
}

// NewInMemoryRuleStore creates an empty in-memory rule store.
func NewInMemoryRuleStore() *InMemoryRuleStore {
	return &InMemoryRuleStore{
		rules: make(map[string]*Rule),
	}
}

// Insert adds a new rule, rejecting duplicate IDs.
func (s *InMemoryRuleStore) Insert(_ context.Context, rule *Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[rule.ID]; exists {
		return fmt.Errorf("rule with ID %s already exists", rule.ID)
	}

	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	s.rules[rule.ID] = rule.Clone()
	return nil
}

// Get retrieves a copy of a rule by ID.
func (s *InMemoryRuleStore) Get(_ context.Context, id string) (*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, exists := s.rules[id]
	if !exists {
		return nil, fmt.Errorf("rule %s: %w", id, ErrRuleNotFound)
	}
	return rule.Clone(), nil
}

// Update replaces an existing rule, preserving its original CreatedAt.
func (s *InMemoryRuleStore) Update(_ context.Context, rule *Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.rules[rule.ID]
	if !exists {
		return fmt.Errorf("rule %s: %w", rule.ID, ErrRuleNotFound)
	}

	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = time.Now()
	s.rules[rule.ID] = rule.Clone()
	return nil
}

// Delete removes a rule from the store.
func (s *InMemoryRuleStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[id]; !exists {
		return fmt.Errorf("rule %s: %w", id, ErrRuleNotFound)
	}

	delete(s.rules, id)
	return nil
}

// ListActive returns copies of all active rules.
func (s *InMemoryRuleStore) ListActive(_ context.Context) ([]*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var active []*Rule
	for _, rule := range s.rules {
		if rule.Active {
			active = append(active, rule.Clone())
		}
	}
	return active, nil
}

// RecordExecution increments the execution counter under the store lock, so
// concurrent executions of the same rule never lose an increment.
func (s *InMemoryRuleStore) RecordExecution(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule, exists := s.rules[id]
	if !exists {
		return fmt.Errorf("rule %s: %w", id, ErrRuleNotFound)
	}

	rule.ExecutionCount++
	rule.LastExecuted = at
	return nil
}
