package triage

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/quillmail/triage/executor"
	"github.com/quillmail/triage/internal/metrics"
	"github.com/quillmail/triage/rules"
)

// ErrUnclassified is returned when an email without classification metadata
// is submitted for a recommendation. Evaluation needs the classifier's
// output; raw emails are out of scope here.
var ErrUnclassified = errors.New("email has no classification")

// Service runs the full triage pass for one email: pick the user's engine,
// evaluate, persist the recommendation, and build the execution plan. It
// never touches a mailbox; everything it produces is a record of what would
// be done.
type Service struct {
	manager  *Manager
	executor *executor.Executor
	recs     RecommendationStore
	plans    PlanStore
	metrics  *metrics.Collector
	log      *slog.Logger
}

// NewService wires a Service from its parts. metrics may be nil when no
// collector is registered.
func NewService(manager *Manager, exec *executor.Executor, recs RecommendationStore, plans PlanStore, collector *metrics.Collector, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		manager:  manager,
		executor: exec,
		recs:     recs,
		plans:    plans,
		metrics:  collector,
		log:      log,
	}
}

// Evaluate runs a user's engine over an email without persisting anything.
// Used by the ad-hoc evaluation endpoint.
func (s *Service) Evaluate(userID string, email rules.Email) (rules.EvaluationResult, error) {
	engine, err := s.manager.EngineFor(userID)
	if err != nil {
		return rules.EvaluationResult{}, err
	}

	result := engine.Evaluate(email)
	if s.metrics != nil {
		s.metrics.RecordEvaluation(len(result.MatchedRules))
	}
	return result, nil
}

// TestRules evaluates an email against throwaway rule definitions, without
// touching any user's stored rules. Used to preview a rule before saving it.
func (s *Service) TestRules(defs []rules.Rule, email rules.Email) rules.EvaluationResult {
	engine := rules.NewEngineWithLogger(defs, s.log)
	return engine.Evaluate(email)
}

// GenerateRecommendation evaluates an email and persists the outcome. The
// call is idempotent per email job: a repeat submission returns the stored
// recommendation instead of evaluating again.
func (s *Service) GenerateRecommendation(userID, emailJobID string, email rules.Email) (*Recommendation, error) {
	if email.Classification == "" {
		return nil, ErrUnclassified
	}

	if existing, err := s.recs.GetByEmailJob(userID, emailJobID); err == nil {
		s.log.Info("recommendation already exists",
			"user", userID, "email_job", emailJobID, "recommendation", existing.ID)
		return existing, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to check existing recommendation: %w", err)
	}

	engine, err := s.manager.EngineFor(userID)
	if err != nil {
		return nil, err
	}

	result := engine.Evaluate(email)
	if s.metrics != nil {
		s.metrics.RecordEvaluation(len(result.MatchedRules))
	}

	ruleNames := make([]string, 0, len(result.MatchedRules))
	for _, mr := range result.MatchedRules {
		ruleNames = append(ruleNames, mr.Name)
	}

	rec := &Recommendation{
		ID:              uuid.New().String(),
		UserID:          userID,
		EmailJobID:      emailJobID,
		RuleNames:       ruleNames,
		Actions:         result.RecommendedActions,
		SafetyFlags:     result.SafetyFlags,
		ConfidenceScore: result.ConfidenceScore,
		Reasoning:       result.Reasoning,
		Status:          "generated",
		CreatedAt:       time.Now().UTC(),
	}

	if err := s.recs.Save(rec); err != nil {
		return nil, fmt.Errorf("failed to save recommendation: %w", err)
	}
	if s.metrics != nil {
		s.metrics.RecordRecommendation()
	}

	s.log.Info("recommendation generated",
		"user", userID,
		"email_job", emailJobID,
		"recommendation", rec.ID,
		"matched_rules", len(ruleNames),
		"actions", len(rec.Actions),
		"confidence", rec.ConfidenceScore)

	return rec, nil
}

// PlanRecommendation builds and persists the execution plan for a stored
// recommendation. Re-planning overwrites the previous plan for the same
// recommendation.
func (s *Service) PlanRecommendation(recommendationID string) (*executor.Plan, error) {
	rec, err := s.recs.Get(recommendationID)
	if err != nil {
		return nil, err
	}

	plan := s.executor.PlanExecution(executor.Recommendation{
		ID:              rec.ID,
		UserID:          rec.UserID,
		EmailJobID:      rec.EmailJobID,
		RuleNames:       rec.RuleNames,
		ConfidenceScore: rec.ConfidenceScore,
	}, rec.Actions)

	if err := s.plans.Save(plan); err != nil {
		return nil, fmt.Errorf("failed to save execution plan: %w", err)
	}
	if s.metrics != nil {
		decisions := make([]string, 0, len(plan.Steps))
		for _, step := range plan.Steps {
			decisions = append(decisions, string(step.Decision))
		}
		s.metrics.RecordPlan(decisions)
	}

	return plan, nil
}

// PlanForRecommendation retrieves a previously built plan.
func (s *Service) PlanForRecommendation(recommendationID string) (*executor.Plan, error) {
	return s.plans.GetByRecommendation(recommendationID)
}

// Recommendation retrieves a stored recommendation by ID.
func (s *Service) Recommendation(id string) (*Recommendation, error) {
	return s.recs.Get(id)
}

// RecommendationsForUser lists a user's recommendations, newest first.
func (s *Service) RecommendationsForUser(userID string, limit int) ([]*Recommendation, error) {
	return s.recs.ListByUser(userID, limit)
}
