package triage

import (
	"strings"
	"testing"

	"github.com/quillmail/triage/rules"
)

// TestValidateRuleDefinitionAccepts verifies a well-formed definition parses.
func TestValidateRuleDefinitionAccepts(t *testing.T) {
	raw := `{
		"name": "VIP senders",
		"conditions": {
			"category": ["important"],
			"min_confidence": 0.6,
			"sender_pattern": ["*@vip.com"],
			"expression": "confidence > 0.5"
		},
		"actions": [
			{"type": "flag", "priority": 9},
			{"type": "label", "label": "VIP", "priority": 7}
		],
		"priority": 9,
		"is_active": true
	}`

	rule, err := ValidateRuleDefinition([]byte(raw))
	if err != nil {
		t.Fatalf("ValidateRuleDefinition() failed: %v", err)
	}
	if rule.Name != "VIP senders" {
		t.Errorf("Name = %q", rule.Name)
	}
	if len(rule.Actions) != 2 {
		t.Errorf("Actions = %d, want 2", len(rule.Actions))
	}
}

// TestValidateRuleDefinitionDefaultsActive verifies a definition that omits
// is_active comes back as a live rule, not one that can never match.
func TestValidateRuleDefinitionDefaultsActive(t *testing.T) {
	raw := `{
		"name": "Flag important",
		"conditions": {"category": ["important"]},
		"actions": [{"type": "flag", "priority": 9}],
		"priority": 9
	}`

	rule, err := ValidateRuleDefinition([]byte(raw))
	if err != nil {
		t.Fatalf("ValidateRuleDefinition() failed: %v", err)
	}
	if !rule.Active {
		t.Error("omitted is_active should default to true")
	}

	engine := rules.NewEngine([]rules.Rule{*rule})
	result := engine.Evaluate(rules.Email{Classification: "important", Confidence: 0.9})
	if len(result.MatchedRules) != 1 || result.MatchedRules[0].Name != "Flag important" {
		t.Errorf("validated rule should match, got %+v", result.MatchedRules)
	}
}

// TestValidateRuleDefinitionEmptyConditionsAllowed verifies an explicitly
// empty conditions object is a legal match-all rule.
func TestValidateRuleDefinitionEmptyConditionsAllowed(t *testing.T) {
	raw := `{
		"name": "Catch all",
		"conditions": {},
		"actions": [{"type": "notify"}],
		"is_active": true
	}`

	if _, err := ValidateRuleDefinition([]byte(raw)); err != nil {
		t.Errorf("empty conditions object should be accepted: %v", err)
	}
}

// TestValidateRuleDefinitionRejects verifies error cases and that messages
// point at the offending part.
func TestValidateRuleDefinitionRejects(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr string
	}{
		{
			"not an object",
			`[1, 2]`,
			"not a JSON object",
		},
		{
			"missing name key",
			`{"conditions": {}, "actions": [{"type": "flag"}]}`,
			`missing "name"`,
		},
		{
			"missing conditions key",
			`{"name": "r", "actions": [{"type": "flag"}]}`,
			`missing "conditions"`,
		},
		{
			"missing actions key",
			`{"name": "r", "conditions": {}}`,
			`missing "actions"`,
		},
		{
			"empty name",
			`{"name": "", "conditions": {}, "actions": [{"type": "flag"}]}`,
			"name cannot be empty",
		},
		{
			"name too long",
			`{"name": "` + strings.Repeat("x", 201) + `", "conditions": {}, "actions": [{"type": "flag"}]}`,
			"exceeds maximum",
		},
		{
			"empty actions array",
			`{"name": "r", "conditions": {}, "actions": []}`,
			"at least one action",
		},
		{
			"unknown action type",
			`{"name": "r", "conditions": {}, "actions": [{"type": "teleport"}]}`,
			"unknown action type",
		},
		{
			"label without label name",
			`{"name": "r", "conditions": {}, "actions": [{"type": "label"}]}`,
			"requires a label name",
		},
		{
			"priority out of range",
			`{"name": "r", "conditions": {}, "actions": [{"type": "flag", "priority": 11}]}`,
			"priority 11 outside",
		},
		{
			"min_confidence out of range",
			`{"name": "r", "conditions": {"min_confidence": 1.5}, "actions": [{"type": "flag"}]}`,
			"outside [0, 1]",
		},
		{
			"empty sender pattern",
			`{"name": "r", "conditions": {"sender_pattern": [""]}, "actions": [{"type": "flag"}]}`,
			"pattern cannot be empty",
		},
		{
			"uncompilable sender pattern",
			`{"name": "r", "conditions": {"sender_pattern": ["(unclosed"]}, "actions": [{"type": "flag"}]}`,
			"does not compile",
		},
		{
			"empty subject keyword",
			`{"name": "r", "conditions": {"subject_keywords": [""]}, "actions": [{"type": "flag"}]}`,
			"keyword cannot be empty",
		},
		{
			"uncompilable expression",
			`{"name": "r", "conditions": {"expression": "subject.contains("}, "actions": [{"type": "flag"}]}`,
			"expression does not compile",
		},
		{
			"unknown pattern kind",
			`{"name": "r", "conditions": {"sender_pattern": [{"kind": "glob", "pattern": "x"}]}, "actions": [{"type": "flag"}]}`,
			"pattern kind",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateRuleDefinition([]byte(tt.raw))
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want substring %q", err.Error(), tt.wantErr)
			}
		})
	}
}
