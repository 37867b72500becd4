package triage

import (
	"encoding/json"
	"fmt"

	"github.com/quillmail/triage/rules"
)

const maxRuleNameLength = 200

// ValidateRuleDefinition validates a rule definition submitted over the API
// and returns the parsed rule. Unlike engine construction, which tolerates
// malformed rules with warnings, this boundary check rejects them: a rule
// that can never match or never emit is almost certainly an authoring
// mistake, and surfacing it at submission time is the one chance to say so.
func ValidateRuleDefinition(data []byte) (*rules.Rule, error) {
	// Key-presence check first: after unmarshalling into a struct, an
	// absent "conditions" object and an empty one are indistinguishable.
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("rule definition is not a JSON object: %w", err)
	}
	for _, key := range []string{"name", "conditions", "actions"} {
		if _, ok := raw[key]; !ok {
			return nil, fmt.Errorf("rule definition missing %q", key)
		}
	}

	var rule rules.Rule
	if err := json.Unmarshal(data, &rule); err != nil {
		return nil, fmt.Errorf("invalid rule definition: %w", err)
	}

	if rule.Name == "" {
		return nil, fmt.Errorf("rule name cannot be empty")
	}
	if len(rule.Name) > maxRuleNameLength {
		return nil, fmt.Errorf("rule name length %d exceeds maximum of %d characters",
			len(rule.Name), maxRuleNameLength)
	}

	if err := validateConditions(rule.Conditions); err != nil {
		return nil, fmt.Errorf("rule %q: %w", rule.Name, err)
	}

	if len(rule.Actions) == 0 {
		return nil, fmt.Errorf("rule %q must define at least one action", rule.Name)
	}
	for i, action := range rule.Actions {
		if err := validateActionTemplate(action); err != nil {
			return nil, fmt.Errorf("rule %q action %d: %w", rule.Name, i, err)
		}
	}

	return &rule, nil
}

func validateConditions(cond rules.Conditions) error {
	if cond.MinConfidence < 0 || cond.MinConfidence > 1 {
		return fmt.Errorf("min_confidence %v outside [0, 1]", cond.MinConfidence)
	}

	for _, pat := range cond.SenderPatterns {
		if pat.Expr == "" {
			return fmt.Errorf("sender pattern cannot be empty")
		}
		if err := rules.ValidatePattern(pat); err != nil {
			return fmt.Errorf("sender pattern %q does not compile: %w", pat.Expr, err)
		}
	}

	for _, kw := range cond.SubjectKeywords {
		if kw == "" {
			return fmt.Errorf("subject keyword cannot be empty")
		}
	}
	for _, kw := range cond.BodyKeywords {
		if kw == "" {
			return fmt.Errorf("body keyword cannot be empty")
		}
	}

	if cond.Expression != "" {
		if err := rules.ValidateExpression(cond.Expression); err != nil {
			return fmt.Errorf("expression does not compile: %w", err)
		}
	}

	return nil
}

func validateActionTemplate(action rules.ActionTemplate) error {
	if action.Type == "" {
		return fmt.Errorf("action missing type")
	}
	if _, ok := rules.ActionDescriptions[action.Type]; !ok {
		return fmt.Errorf("unknown action type %q", action.Type)
	}

	if action.Priority < 0 || action.Priority > 10 {
		return fmt.Errorf("action priority %d outside [0, 10]", action.Priority)
	}

	if action.Type == rules.ActionLabel && action.Label == "" {
		return fmt.Errorf("label action requires a label name")
	}

	return nil
}
