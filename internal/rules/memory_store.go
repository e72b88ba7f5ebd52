package rules

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mohamedkhairy/squareoff-engine/internal/models"
)

// MemoryStore is an in-memory implementation of Store, used in tests
// and development
type MemoryStore struct {
	mu    sync.RWMutex
	rules map[string]*models.Rule
}

// NewMemoryStore creates a new in-memory rule store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rules: make(map[string]*models.Rule),
	}
}

// ListActive returns rules with active = true and kill_switch = false
func (s *MemoryStore) ListActive(ctx context.Context) ([]*models.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*models.Rule, 0)
	for _, rule := range s.rules {
		if rule.Active && !rule.KillSwitch {
			result = append(result, rule.Copy())
		}
	}
	return result, nil
}

// List returns all rules
func (s *MemoryStore) List(ctx context.Context) ([]*models.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*models.Rule, 0, len(s.rules))
	for _, rule := range s.rules {
		result = append(result, rule.Copy())
	}
	return result, nil
}

// Get retrieves a rule by ID
func (s *MemoryStore) Get(ctx context.Context, id string) (*models.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, exists := s.rules[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", models.ErrRuleNotFound, id)
	}

	// Return a copy to prevent external modifications
	return rule.Copy(), nil
}

// Create adds a new rule
func (s *MemoryStore) Create(ctx context.Context, rule *models.Rule) error {
	if rule == nil {
		return fmt.Errorf("rule cannot be nil")
	}
	if err := rule.Validate(); err != nil {
		return fmt.Errorf("invalid rule: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[rule.ID]; exists {
		return fmt.Errorf("%w: %s", models.ErrRuleAlreadyExists, rule.ID)
	}

	now := time.Now()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	if rule.UpdatedAt.IsZero() {
		rule.UpdatedAt = now
	}

	s.rules[rule.ID] = rule.Copy()
	return nil
}

// Update replaces an existing rule
func (s *MemoryStore) Update(ctx context.Context, rule *models.Rule) error {
	if rule == nil {
		return fmt.Errorf("rule cannot be nil")
	}
	if err := rule.Validate(); err != nil {
		return fmt.Errorf("invalid rule: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.rules[rule.ID]
	if !exists {
		return fmt.Errorf("%w: %s", models.ErrRuleNotFound, rule.ID)
	}

	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = time.Now()

	s.rules[rule.ID] = rule.Copy()
	return nil
}

// SetKillSwitch flips the kill switch on a rule
func (s *MemoryStore) SetKillSwitch(ctx context.Context, id string, on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule, exists := s.rules[id]
	if !exists {
		return fmt.Errorf("%w: %s", models.ErrRuleNotFound, id)
	}

	rule.KillSwitch = on
	rule.UpdatedAt = time.Now()
	return nil
}

// MarkTriggered sets triggered_today = true on a rule
func (s *MemoryStore) MarkTriggered(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule, exists := s.rules[id]
	if !exists {
		return fmt.Errorf("%w: %s", models.ErrRuleNotFound, id)
	}

	rule.TriggeredToday = true
	rule.UpdatedAt = time.Now()
	return nil
}

// ResetTriggeredFlags clears triggered_today on all active rules
func (s *MemoryStore) ResetTriggeredFlags(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for _, rule := range s.rules {
		if rule.Active && rule.TriggeredToday {
			rule.TriggeredToday = false
			rule.UpdatedAt = time.Now()
			count++
		}
	}
	return count, nil
}

// Count returns the number of rules in the store
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rules)
}

// Close is a no-op for the in-memory store
func (s *MemoryStore) Close() error {
	return nil
}
