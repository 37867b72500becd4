package rules

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresRuleStore implements RuleStore backed by PostgreSQL, scoped to a
// single user. The rule definition is stored as a JSONB document; the name
// and active columns are projections of it for querying.
type PostgresRuleStore struct {
	db     *sql.DB
	userID string
}

// NewPostgresRuleStore creates a new PostgreSQL-backed RuleStore for a user.
func NewPostgresRuleStore(db *sql.DB, userID string) *PostgresRuleStore {
	return &PostgresRuleStore{
		db:     db,
		userID: userID,
	}
}

// Add inserts a new rule definition.
func (s *PostgresRuleStore) Add(rule *StoredRule) error {
	var exists bool
	err := s.db.QueryRow(`
		SELECT EXISTS(SELECT 1 FROM rules WHERE id = $1 AND user_id = $2)
	`, rule.ID, s.userID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check rule existence: %w", err)
	}
	if exists {
		return fmt.Errorf("rule with ID %s already exists", rule.ID)
	}

	definition, err := json.Marshal(rule.Definition)
	if err != nil {
		return fmt.Errorf("failed to marshal rule definition: %w", err)
	}

	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	rule.Name = rule.Definition.Name
	rule.Active = rule.Definition.Active

	_, err = s.db.Exec(`
		INSERT INTO rules (id, user_id, name, definition, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, rule.ID, s.userID, rule.Name, definition, rule.Active,
		rule.CreatedAt, rule.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to insert rule: %w", err)
	}

	return nil
}

// Get retrieves a rule by ID.
func (s *PostgresRuleStore) Get(id string) (*StoredRule, error) {
	var rule StoredRule
	var definition []byte
	err := s.db.QueryRow(`
		SELECT id, name, definition, active, created_at, updated_at
		FROM rules
		WHERE id = $1 AND user_id = $2
	`, id, s.userID).Scan(
		&rule.ID,
		&rule.Name,
		&definition,
		&rule.Active,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("rule %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}

	if err := json.Unmarshal(definition, &rule.Definition); err != nil {
		return nil, fmt.Errorf("invalid definition for rule %s: %w", id, err)
	}

	return &rule, nil
}

// ListActive returns all active rules for the user in creation order.
func (s *PostgresRuleStore) ListActive() ([]*StoredRule, error) {
	rows, err := s.db.Query(`
		SELECT id, name, definition, active, created_at, updated_at
		FROM rules
		WHERE user_id = $1 AND active = true
		ORDER BY created_at ASC
	`, s.userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list active rules: %w", err)
	}
	defer rows.Close()

	var rulesList []*StoredRule
	for rows.Next() {
		var r StoredRule
		var definition []byte
		if err := rows.Scan(&r.ID, &r.Name, &definition, &r.Active,
			&r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		if err := json.Unmarshal(definition, &r.Definition); err != nil {
			return nil, fmt.Errorf("invalid definition for rule %s: %w", r.ID, err)
		}
		rulesList = append(rulesList, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}

	return rulesList, nil
}

// Update modifies an existing rule definition.
func (s *PostgresRuleStore) Update(rule *StoredRule) error {
	existing, err := s.Get(rule.ID)
	if err != nil {
		return err
	}

	definition, err := json.Marshal(rule.Definition)
	if err != nil {
		return fmt.Errorf("failed to marshal rule definition: %w", err)
	}

	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = time.Now()
	rule.Name = rule.Definition.Name
	rule.Active = rule.Definition.Active

	result, err := s.db.Exec(`
		UPDATE rules
		SET name = $1, definition = $2, active = $3, updated_at = $4
		WHERE id = $5 AND user_id = $6
	`, rule.Name, definition, rule.Active, rule.UpdatedAt, rule.ID, s.userID)

	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("rule %s not found", rule.ID)
	}

	return nil
}

// Delete removes a rule from the database.
func (s *PostgresRuleStore) Delete(id string) error {
	result, err := s.db.Exec(`
		DELETE FROM rules
		WHERE id = $1 AND user_id = $2
	`, id, s.userID)

	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("rule %s not found", id)
	}

	return nil
}
