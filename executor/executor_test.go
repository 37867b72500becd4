package executor

import (
	"reflect"
	"strings"
	"testing"

	"github.com/quillmail/triage/rules"
)

// TestAllowedActionTypes verifies the whitelist is exactly the five
// plannable types, sorted.
func TestAllowedActionTypes(t *testing.T) {
	got := AllowedActionTypes()
	want := []rules.ActionType{
		rules.ActionArchive,
		rules.ActionFlag,
		rules.ActionLabel,
		rules.ActionRead,
		rules.ActionSpam,
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("AllowedActionTypes() = %v, want %v", got, want)
	}
}

// TestIsActionTypeAllowed verifies membership for whitelist and
// non-whitelist types, including recommendable-but-not-plannable ones.
func TestIsActionTypeAllowed(t *testing.T) {
	allowed := []rules.ActionType{
		rules.ActionFlag, rules.ActionArchive, rules.ActionLabel,
		rules.ActionRead, rules.ActionSpam,
	}
	for _, at := range allowed {
		if !IsActionTypeAllowed(at) {
			t.Errorf("IsActionTypeAllowed(%s) = false, want true", at)
		}
	}

	denied := []rules.ActionType{
		rules.ActionSnooze, rules.ActionReplyDraft, rules.ActionNotify,
		rules.ActionPriority, rules.ActionDelegate,
		"delete_forever", "forward_all", "",
	}
	for _, at := range denied {
		if IsActionTypeAllowed(at) {
			t.Errorf("IsActionTypeAllowed(%s) = true, want false", at)
		}
	}
}

// TestRequiredFields verifies per-type schemas, label being the only type
// with an extra required field.
func TestRequiredFields(t *testing.T) {
	if got := RequiredFields(rules.ActionLabel); !reflect.DeepEqual(got, []string{"type", "label"}) {
		t.Errorf("RequiredFields(label) = %v", got)
	}
	if got := RequiredFields(rules.ActionFlag); !reflect.DeepEqual(got, []string{"type"}) {
		t.Errorf("RequiredFields(flag) = %v", got)
	}
	if got := RequiredFields("delete_forever"); !reflect.DeepEqual(got, []string{"type"}) {
		t.Errorf("RequiredFields(unknown) = %v", got)
	}
}

// TestValidateAction verifies the whitelist plus required-field check.
func TestValidateAction(t *testing.T) {
	x := New(false)

	tests := []struct {
		name   string
		action rules.Action
		want   bool
	}{
		{"flag is valid", rules.Action{Type: rules.ActionFlag}, true},
		{"archive is valid", rules.Action{Type: rules.ActionArchive, Priority: 8}, true},
		{"label with label field", rules.Action{Type: rules.ActionLabel, Label: "Promotions"}, true},
		{"label missing label field", rules.Action{Type: rules.ActionLabel}, false},
		{"empty type", rules.Action{}, false},
		{"snooze not plannable", rules.Action{Type: rules.ActionSnooze, Hours: 24}, false},
		{"unknown type", rules.Action{Type: "delete_forever"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := x.ValidateAction(tt.action); got != tt.want {
				t.Errorf("ValidateAction(%+v) = %v, want %v", tt.action, got, tt.want)
			}
		})
	}
}

// TestDecideEligibility verifies the decision mapping: invalid or
// non-whitelisted actions are blocked, the rest approved.
func TestDecideEligibility(t *testing.T) {
	x := New(false)

	if d := x.DecideEligibility(rules.Action{Type: rules.ActionFlag, Priority: 9}); d != DecisionApproved {
		t.Errorf("flag decision = %s, want %s", d, DecisionApproved)
	}
	if d := x.DecideEligibility(rules.Action{Type: "delete_forever"}); d != DecisionBlocked {
		t.Errorf("delete_forever decision = %s, want %s", d, DecisionBlocked)
	}
	if d := x.DecideEligibility(rules.Action{Type: rules.ActionLabel}); d != DecisionBlocked {
		t.Errorf("label without label decision = %s, want %s", d, DecisionBlocked)
	}
}

func testRecommendation() Recommendation {
	return Recommendation{
		ID:              "rec-1",
		UserID:          "user-1",
		EmailJobID:      "job-1",
		RuleNames:       []string{"Flag important emails"},
		ConfidenceScore: 85,
	}
}

// TestPlanExecutionMixed verifies one step per action with independent
// decisions: a blocked action does not abort the plan.
func TestPlanExecutionMixed(t *testing.T) {
	x := New(false)

	actions := []rules.Action{
		{Type: rules.ActionFlag, Priority: 9},
		{Type: "delete_forever"},
		{Type: rules.ActionArchive, Priority: 5},
	}

	plan := x.PlanExecution(testRecommendation(), actions)

	if len(plan.Steps) != 3 {
		t.Fatalf("plan has %d steps, want 3", len(plan.Steps))
	}
	if len(plan.ApprovedActions()) != 2 {
		t.Errorf("approved = %d, want 2", len(plan.ApprovedActions()))
	}
	if len(plan.BlockedActions()) != 1 {
		t.Errorf("blocked = %d, want 1", len(plan.BlockedActions()))
	}

	// Steps keep input order.
	wantDecisions := []Decision{DecisionApproved, DecisionBlocked, DecisionApproved}
	for i, step := range plan.Steps {
		if step.Action.Type != actions[i].Type {
			t.Errorf("step %d action = %s, want %s", i, step.Action.Type, actions[i].Type)
		}
		if step.Decision != wantDecisions[i] {
			t.Errorf("step %d decision = %s, want %s", i, step.Decision, wantDecisions[i])
		}
		if step.Reasoning == "" {
			t.Errorf("step %d has empty reasoning", i)
		}
	}
}

// TestPlanExecutionEmpty verifies an empty action list yields a valid
// zero-step plan, not an error.
func TestPlanExecutionEmpty(t *testing.T) {
	x := New(false)

	plan := x.PlanExecution(testRecommendation(), nil)

	if plan == nil {
		t.Fatal("plan should not be nil")
	}
	if plan.Steps == nil || len(plan.Steps) != 0 {
		t.Errorf("Steps = %v, want empty non-nil slice", plan.Steps)
	}
	if plan.Status != StatusPlanned {
		t.Errorf("Status = %s, want %s", plan.Status, StatusPlanned)
	}
}

// TestPlanExecutionAuditFields verifies the plan carries the recommendation
// identifiers, a timestamp, and a reasoning summary.
func TestPlanExecutionAuditFields(t *testing.T) {
	x := New(false)
	rec := testRecommendation()

	plan := x.PlanExecution(rec, []rules.Action{{Type: rules.ActionFlag, Priority: 9}})

	if plan.RecommendationID != rec.ID {
		t.Errorf("RecommendationID = %s, want %s", plan.RecommendationID, rec.ID)
	}
	if plan.UserID != rec.UserID || plan.EmailJobID != rec.EmailJobID {
		t.Errorf("identity fields = %s/%s, want %s/%s",
			plan.UserID, plan.EmailJobID, rec.UserID, rec.EmailJobID)
	}
	if plan.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}
	if !strings.Contains(plan.Reasoning, "Flag important emails") {
		t.Errorf("plan reasoning should name the rules: %q", plan.Reasoning)
	}
	if !strings.Contains(plan.Reasoning, "Confidence: 85/100") {
		t.Errorf("plan reasoning should carry the confidence: %q", plan.Reasoning)
	}
}

// TestPlanExecutionSimulationMode verifies simulation marks the plan and its
// steps without changing any decision.
func TestPlanExecutionSimulationMode(t *testing.T) {
	sim := New(true)
	real := New(false)

	actions := []rules.Action{
		{Type: rules.ActionFlag, Priority: 9},
		{Type: "delete_forever"},
	}

	simPlan := sim.PlanExecution(testRecommendation(), actions)
	realPlan := real.PlanExecution(testRecommendation(), actions)

	if !simPlan.Simulated || simPlan.Status != StatusSimulated {
		t.Errorf("simulation plan marked %v/%s", simPlan.Simulated, simPlan.Status)
	}
	if realPlan.Simulated || realPlan.Status != StatusPlanned {
		t.Errorf("non-simulation plan marked %v/%s", realPlan.Simulated, realPlan.Status)
	}
	if !strings.HasPrefix(simPlan.Reasoning, "[SIMULATION] ") {
		t.Errorf("simulation reasoning should carry the marker: %q", simPlan.Reasoning)
	}

	for i := range actions {
		if simPlan.Steps[i].Decision != realPlan.Steps[i].Decision {
			t.Errorf("step %d decision differs between modes", i)
		}
		if !simPlan.Steps[i].Simulated {
			t.Errorf("simulation step %d not marked simulated", i)
		}
	}
}

// TestStepReasoningDistinguishesBlocks verifies the two blocked reasons:
// not whitelisted vs failed validation.
func TestStepReasoningDistinguishesBlocks(t *testing.T) {
	x := New(false)

	plan := x.PlanExecution(testRecommendation(), []rules.Action{
		{Type: "delete_forever"},
		{Type: rules.ActionLabel}, // whitelisted but missing label
	})

	if !strings.Contains(plan.Steps[0].Reasoning, "not in allowed list") {
		t.Errorf("non-whitelisted reasoning = %q", plan.Steps[0].Reasoning)
	}
	if !strings.Contains(plan.Steps[1].Reasoning, "failed validation") {
		t.Errorf("validation-failure reasoning = %q", plan.Steps[1].Reasoning)
	}
}

// TestPlanSummary verifies the human-readable digest.
func TestPlanSummary(t *testing.T) {
	x := New(true)

	plan := x.PlanExecution(testRecommendation(), []rules.Action{
		{Type: rules.ActionFlag, Priority: 9},
		{Type: "delete_forever"},
	})

	summary := plan.Summary()
	for _, want := range []string{"rec-1", "Approved: 1", "Blocked: 1", "Simulated: true"} {
		if !strings.Contains(summary, want) {
			t.Errorf("Summary() missing %q:\n%s", want, summary)
		}
	}
}
