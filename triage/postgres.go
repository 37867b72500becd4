package triage

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/quillmail/triage/executor"
)

// PostgresRecommendationStore implements RecommendationStore backed by
// PostgreSQL. Rule names, actions and safety flags are all stored as JSONB,
// so a rule name containing any character survives the round trip intact.
type PostgresRecommendationStore struct {
	db *sql.DB
}

// NewPostgresRecommendationStore creates a PostgreSQL-backed store.
func NewPostgresRecommendationStore(db *sql.DB) *PostgresRecommendationStore {
	return &PostgresRecommendationStore{db: db}
}

// Save inserts a recommendation.
func (s *PostgresRecommendationStore) Save(rec *Recommendation) error {
	ruleNames, err := json.Marshal(normalizeNames(rec.RuleNames))
	if err != nil {
		return fmt.Errorf("failed to marshal rule names: %w", err)
	}
	actions, err := json.Marshal(rec.Actions)
	if err != nil {
		return fmt.Errorf("failed to marshal actions: %w", err)
	}
	flags, err := json.Marshal(rec.SafetyFlags)
	if err != nil {
		return fmt.Errorf("failed to marshal safety flags: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO action_recommendations
			(id, user_id, email_job_id, rule_names, actions, safety_flags,
			 confidence_score, reasoning, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, rec.ID, rec.UserID, rec.EmailJobID, ruleNames,
		actions, flags, rec.ConfidenceScore, rec.Reasoning, rec.Status,
		rec.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to insert recommendation: %w", err)
	}
	return nil
}

// Get retrieves a recommendation by ID.
func (s *PostgresRecommendationStore) Get(id string) (*Recommendation, error) {
	row := s.db.QueryRow(`
		SELECT id, user_id, email_job_id, rule_names, actions, safety_flags,
		       confidence_score, reasoning, status, created_at
		FROM action_recommendations
		WHERE id = $1
	`, id)
	return scanRecommendation(row)
}

// GetByEmailJob retrieves the recommendation for one processed email.
func (s *PostgresRecommendationStore) GetByEmailJob(userID, emailJobID string) (*Recommendation, error) {
	row := s.db.QueryRow(`
		SELECT id, user_id, email_job_id, rule_names, actions, safety_flags,
		       confidence_score, reasoning, status, created_at
		FROM action_recommendations
		WHERE user_id = $1 AND email_job_id = $2
	`, userID, emailJobID)
	return scanRecommendation(row)
}

// ListByUser returns a user's recommendations, newest first.
func (s *PostgresRecommendationStore) ListByUser(userID string, limit int) ([]*Recommendation, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(`
		SELECT id, user_id, email_job_id, rule_names, actions, safety_flags,
		       confidence_score, reasoning, status, created_at
		FROM action_recommendations
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recommendations: %w", err)
	}
	defer rows.Close()

	var recs []*Recommendation
	for rows.Next() {
		rec, err := scanRecommendation(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating recommendations: %w", err)
	}
	return recs, nil
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecommendation(row rowScanner) (*Recommendation, error) {
	var rec Recommendation
	var ruleNames, actions, flags []byte

	err := row.Scan(&rec.ID, &rec.UserID, &rec.EmailJobID, &ruleNames,
		&actions, &flags, &rec.ConfidenceScore, &rec.Reasoning,
		&rec.Status, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan recommendation: %w", err)
	}

	if err := json.Unmarshal(ruleNames, &rec.RuleNames); err != nil {
		return nil, fmt.Errorf("invalid rule names for recommendation %s: %w", rec.ID, err)
	}
	rec.RuleNames = normalizeNames(rec.RuleNames)
	if err := json.Unmarshal(actions, &rec.Actions); err != nil {
		return nil, fmt.Errorf("invalid actions for recommendation %s: %w", rec.ID, err)
	}
	if err := json.Unmarshal(flags, &rec.SafetyFlags); err != nil {
		return nil, fmt.Errorf("invalid safety flags for recommendation %s: %w", rec.ID, err)
	}

	return &rec, nil
}

// normalizeNames keeps the stored form a JSON array: a nil slice would write
// and read back as null.
func normalizeNames(names []string) []string {
	if names == nil {
		return []string{}
	}
	return names
}

// PostgresPlanStore implements PlanStore backed by PostgreSQL. Steps are
// stored as a JSONB document alongside the plan's projection columns.
type PostgresPlanStore struct {
	db *sql.DB
}

// NewPostgresPlanStore creates a PostgreSQL-backed plan store.
func NewPostgresPlanStore(db *sql.DB) *PostgresPlanStore {
	return &PostgresPlanStore{db: db}
}

// Save inserts an execution plan.
func (s *PostgresPlanStore) Save(plan *executor.Plan) error {
	steps, err := json.Marshal(plan.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal plan steps: %w", err)
	}

	// Re-planning the same recommendation replaces the previous plan.
	_, err = s.db.Exec(`
		INSERT INTO execution_plans
			(recommendation_id, user_id, email_job_id, steps, simulated,
			 status, reasoning, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (recommendation_id) DO UPDATE SET
			steps = EXCLUDED.steps,
			simulated = EXCLUDED.simulated,
			status = EXCLUDED.status,
			reasoning = EXCLUDED.reasoning,
			created_at = EXCLUDED.created_at
	`, plan.RecommendationID, plan.UserID, plan.EmailJobID, steps,
		plan.Simulated, string(plan.Status), plan.Reasoning, plan.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to insert execution plan: %w", err)
	}
	return nil
}

// GetByRecommendation retrieves the plan built for a recommendation.
func (s *PostgresPlanStore) GetByRecommendation(recommendationID string) (*executor.Plan, error) {
	var plan executor.Plan
	var steps []byte
	var status string

	err := s.db.QueryRow(`
		SELECT recommendation_id, user_id, email_job_id, steps, simulated,
		       status, reasoning, created_at
		FROM execution_plans
		WHERE recommendation_id = $1
	`, recommendationID).Scan(&plan.RecommendationID, &plan.UserID,
		&plan.EmailJobID, &steps, &plan.Simulated, &status,
		&plan.Reasoning, &plan.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get execution plan: %w", err)
	}

	plan.Status = executor.PlanStatus(status)
	if err := json.Unmarshal(steps, &plan.Steps); err != nil {
		return nil, fmt.Errorf("invalid steps for plan %s: %w", recommendationID, err)
	}

	return &plan, nil
}
