package executor

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/quillmail/triage/rules"
)

// Recommendation carries the identifiers and context a plan is built from.
// RuleNames is always an ordered slice; callers reading rule names out of
// storage normalize them before constructing one of these.
type Recommendation struct {
	ID              string
	UserID          string
	EmailJobID      string
	RuleNames       []string
	ConfidenceScore int
}

// Executor decides eligibility for action proposals and assembles execution
// plans. Immutable after construction and safe for concurrent use.
//
// In simulation mode every produced plan is marked simulated; nothing else
// changes, since no mode of this executor performs actions.
type Executor struct {
	simulate bool
	log      *slog.Logger
}

// New creates an Executor. simulationMode marks all produced plans as
// dry-runs.
func New(simulationMode bool) *Executor {
	return NewWithLogger(simulationMode, slog.Default())
}

// NewWithLogger is New with an explicit logger for decision audit logging.
func NewWithLogger(simulationMode bool, log *slog.Logger) *Executor {
	if log == nil {
		log = slog.Default()
	}
	return &Executor{simulate: simulationMode, log: log}
}

// SimulationMode reports whether produced plans are marked simulated.
func (x *Executor) SimulationMode() bool {
	return x.simulate
}

// ValidateAction checks a proposal against the whitelist and its type's
// required-fields schema. Malformed input yields false, never an error.
func (x *Executor) ValidateAction(action rules.Action) bool {
	if action.Type == "" {
		x.log.Warn("validate action: missing type")
		return false
	}

	if !IsActionTypeAllowed(action.Type) {
		x.log.Warn("validate action: type not allowed", "type", string(action.Type))
		return false
	}

	for _, field := range RequiredFields(action.Type) {
		if !hasField(action, field) {
			x.log.Warn("validate action: missing required field",
				"type", string(action.Type), "field", field)
			return false
		}
	}

	return true
}

// DecideEligibility classifies a proposal: invalid or non-whitelisted
// actions are blocked, everything else is approved. This is the extension
// point where a later phase may add risk scoring or approval thresholds
// without changing the contract.
func (x *Executor) DecideEligibility(action rules.Action) Decision {
	if !x.ValidateAction(action) {
		return DecisionBlocked
	}
	return DecisionApproved
}

// PlanExecution builds the execution plan for a recommendation's actions.
// Every input action gets exactly one step with its own independent
// decision; an empty action list yields a valid zero-step plan. The plan is
// the only thing this call creates or mutates.
func (x *Executor) PlanExecution(rec Recommendation, actions []rules.Action) *Plan {
	status := StatusPlanned
	if x.simulate {
		status = StatusSimulated
	}

	plan := &Plan{
		RecommendationID: rec.ID,
		UserID:           rec.UserID,
		EmailJobID:       rec.EmailJobID,
		Steps:            []Step{},
		CreatedAt:        time.Now().UTC(),
		Simulated:        x.simulate,
		Status:           status,
		Reasoning:        x.planReasoning(rec, actions),
	}

	for _, action := range actions {
		decision := x.DecideEligibility(action)
		plan.addStep(action, decision, stepReasoning(action, decision))

		x.log.Info("action eligibility decided",
			"type", string(action.Type),
			"decision", string(decision),
			"recommendation", rec.ID)
	}

	x.log.Info("execution plan created",
		"recommendation", rec.ID,
		"approved", len(plan.ApprovedActions()),
		"blocked", len(plan.BlockedActions()),
		"simulated", plan.Simulated)

	return plan
}

// planReasoning summarizes the rules and confidence behind the plan.
func (x *Executor) planReasoning(rec Recommendation, actions []rules.Action) string {
	marker := ""
	if x.simulate {
		marker = "[SIMULATION] "
	}
	return fmt.Sprintf("%sPlan for %d recommended action(s) based on rules: %s. Confidence: %d/100",
		marker, len(actions), strings.Join(rec.RuleNames, ", "), rec.ConfidenceScore)
}

// stepReasoning produces the one-line justification for a single decision.
func stepReasoning(action rules.Action, decision Decision) string {
	switch decision {
	case DecisionApproved:
		return fmt.Sprintf("Action '%s' is allowed and approved (priority=%d)",
			action.Type, action.Priority)
	case DecisionBlocked:
		if !IsActionTypeAllowed(action.Type) {
			return fmt.Sprintf("Action type '%s' is not in allowed list. Blocked for safety.",
				action.Type)
		}
		return fmt.Sprintf("Action '%s' failed validation. Blocked.", action.Type)
	case DecisionRequiresApproval:
		return fmt.Sprintf("Action '%s' requires manual approval.", action.Type)
	default:
		return fmt.Sprintf("Action '%s' decision: %s", action.Type, decision)
	}
}
