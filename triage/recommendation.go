package triage

import (
	"errors"
	"sync"
	"time"

	"github.com/quillmail/triage/executor"
	"github.com/quillmail/triage/rules"
)

// ErrNotFound is returned by stores when no record matches the lookup.
var ErrNotFound = errors.New("not found")

// Recommendation is the persisted outcome of evaluating one email: the
// matched rules, the proposed actions, and the confidence behind them. It
// records what the system suggests; the execution plan built from it records
// what would be allowed.
type Recommendation struct {
	ID              string         `json:"id"`
	UserID          string         `json:"user_id"`
	EmailJobID      string         `json:"email_job_id"`
	RuleNames       []string       `json:"rule_names"`
	Actions         []rules.Action `json:"actions"`
	SafetyFlags     []string       `json:"safety_flags"`
	ConfidenceScore int            `json:"confidence_score"`
	Reasoning       string         `json:"reasoning"`
	Status          string         `json:"status"`
	CreatedAt       time.Time      `json:"created_at"`
}

// RecommendationStore persists recommendations.
type RecommendationStore interface {
	Save(rec *Recommendation) error

	// Get retrieves a recommendation by ID, ErrNotFound if absent.
	Get(id string) (*Recommendation, error)

	// GetByEmailJob retrieves the recommendation for an email job, if any.
	// Used for idempotency: one recommendation per processed email.
	GetByEmailJob(userID, emailJobID string) (*Recommendation, error)

	// ListByUser returns a user's recommendations, newest first.
	ListByUser(userID string, limit int) ([]*Recommendation, error)
}

// PlanStore persists execution plans for audit.
type PlanStore interface {
	Save(plan *executor.Plan) error

	// GetByRecommendation retrieves the plan built for a recommendation.
	GetByRecommendation(recommendationID string) (*executor.Plan, error)
}

// InMemoryRecommendationStore implements RecommendationStore with a map.
// Useful for tests and single-process deployments.
type InMemoryRecommendationStore struct {
	recs  map[string]*Recommendation
	order []string
	mu    sync.RWMutex
}

// NewInMemoryRecommendationStore creates an empty in-memory store.
func NewInMemoryRecommendationStore() *InMemoryRecommendationStore {
	return &InMemoryRecommendationStore{recs: make(map[string]*Recommendation)}
}

func (s *InMemoryRecommendationStore) Save(rec *Recommendation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.recs[rec.ID]; !exists {
		s.order = append(s.order, rec.ID)
	}
	s.recs[rec.ID] = rec
	return nil
}

func (s *InMemoryRecommendationStore) Get(id string) (*Recommendation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.recs[id]
	if !exists {
		return nil, ErrNotFound
	}
	return rec, nil
}

func (s *InMemoryRecommendationStore) GetByEmailJob(userID, emailJobID string) (*Recommendation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rec := range s.recs {
		if rec.UserID == userID && rec.EmailJobID == emailJobID {
			return rec, nil
		}
	}
	return nil, ErrNotFound
}

func (s *InMemoryRecommendationStore) ListByUser(userID string, limit int) ([]*Recommendation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Recommendation
	for i := len(s.order) - 1; i >= 0; i-- {
		rec := s.recs[s.order[i]]
		if rec.UserID != userID {
			continue
		}
		result = append(result, rec)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

// InMemoryPlanStore implements PlanStore with a map keyed by recommendation.
type InMemoryPlanStore struct {
	plans map[string]*executor.Plan
	mu    sync.RWMutex
}

// NewInMemoryPlanStore creates an empty in-memory plan store.
func NewInMemoryPlanStore() *InMemoryPlanStore {
	return &InMemoryPlanStore{plans: make(map[string]*executor.Plan)}
}

func (s *InMemoryPlanStore) Save(plan *executor.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans[plan.RecommendationID] = plan
	return nil
}

func (s *InMemoryPlanStore) GetByRecommendation(recommendationID string) (*executor.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	plan, exists := s.plans[recommendationID]
	if !exists {
		return nil, ErrNotFound
	}
	return plan, nil
}
