package rules

import (
	"fmt"
	"sync"
	"time"
)

// RuleStore manages persistence of one user's rule definitions.
type RuleStore interface {
	// Add a new rule
	Add(rule *StoredRule) error

	// Get a rule by ID
	Get(id string) (*StoredRule, error)

	// ListActive returns all active rules in creation order
	ListActive() ([]*StoredRule, error)

	// Update an existing rule
	Update(rule *StoredRule) error

	// Delete a rule
	Delete(id string) error
}

// InMemoryRuleStore implements RuleStore using an in-memory map. Thread-safe
// with an RWMutex; useful for tests and single-process deployments.
type InMemoryRuleStore struct {
	rules map[string]*StoredRule
	order []string // insertion order for deterministic listing
	mu    sync.RWMutex
}

// NewInMemoryRuleStore creates a new in-memory rule store.
func NewInMemoryRuleStore() *InMemoryRuleStore {
	return &InMemoryRuleStore{
		rules: make(map[string]*StoredRule),
	}
}

// Add adds a new rule to the store, rejecting duplicate IDs and setting
// timestamps and the definition projections.
func (s *InMemoryRuleStore) Add(rule *StoredRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[rule.ID]; exists {
		return fmt.Errorf("rule with ID %s already exists", rule.ID)
	}

	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	rule.Name = rule.Definition.Name
	rule.Active = rule.Definition.Active
	s.rules[rule.ID] = rule
	s.order = append(s.order, rule.ID)
	return nil
}

// Get retrieves a rule by ID.
func (s *InMemoryRuleStore) Get(id string) (*StoredRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, exists := s.rules[id]
	if !exists {
		return nil, fmt.Errorf("rule with ID %s not found", id)
	}
	return rule, nil
}

// ListActive returns all active rules in insertion order.
func (s *InMemoryRuleStore) ListActive() ([]*StoredRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var active []*StoredRule
	for _, id := range s.order {
		if rule, ok := s.rules[id]; ok && rule.Active {
			active = append(active, rule)
		}
	}
	return active, nil
}

// Update updates an existing rule, preserving CreatedAt.
func (s *InMemoryRuleStore) Update(rule *StoredRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.rules[rule.ID]
	if !exists {
		return fmt.Errorf("rule with ID %s not found", rule.ID)
	}

	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = time.Now()
	rule.Name = rule.Definition.Name
	rule.Active = rule.Definition.Active
	s.rules[rule.ID] = rule
	return nil
}

// Delete removes a rule from the store.
func (s *InMemoryRuleStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[id]; !exists {
		return fmt.Errorf("rule with ID %s not found", id)
	}

	delete(s.rules, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}
