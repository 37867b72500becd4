package executor

import (
	"fmt"
	"time"

	"github.com/quillmail/triage/rules"
)

// Decision is the executor's verdict on one action proposal.
type Decision string

const (
	DecisionApproved         Decision = "approved"
	DecisionBlocked          Decision = "blocked"
	DecisionRequiresApproval Decision = "requires_approval"
	// DecisionSimulated is reserved for a future execution phase; the
	// planner never produces it.
	DecisionSimulated Decision = "simulated"
)

// PlanStatus is the terminal status of a plan in this phase. A future
// execution phase would add executed/failed transitions.
type PlanStatus string

const (
	StatusPlanned   PlanStatus = "planned"
	StatusSimulated PlanStatus = "simulated"
)

// Step is one planned action with its decision. Steps are never removed or
// revised once appended.
type Step struct {
	Action    rules.Action `json:"action"`
	Decision  Decision     `json:"decision"`
	Reasoning string       `json:"reasoning"`
	Simulated bool         `json:"is_simulated"`
}

// Plan is the audit record of one planning pass: what WOULD happen if the
// actions were executed. It is never executed by this package. The plan
// always carries exactly one step per input action.
type Plan struct {
	RecommendationID string     `json:"recommendation_id"`
	UserID           string     `json:"user_id"`
	EmailJobID       string     `json:"email_job_id"`
	Steps            []Step     `json:"steps"`
	CreatedAt        time.Time  `json:"created_at"`
	Simulated        bool       `json:"is_simulated"`
	Status           PlanStatus `json:"status"`
	Reasoning        string     `json:"reasoning"`
}

// addStep appends one decided action to the plan.
func (p *Plan) addStep(action rules.Action, decision Decision, reasoning string) {
	p.Steps = append(p.Steps, Step{
		Action:    action,
		Decision:  decision,
		Reasoning: reasoning,
		Simulated: p.Simulated,
	})
}

// ApprovedActions returns the actions whose steps were approved.
func (p *Plan) ApprovedActions() []rules.Action {
	var approved []rules.Action
	for _, step := range p.Steps {
		if step.Decision == DecisionApproved {
			approved = append(approved, step.Action)
		}
	}
	return approved
}

// BlockedActions returns the actions whose steps were blocked.
func (p *Plan) BlockedActions() []rules.Action {
	var blocked []rules.Action
	for _, step := range p.Steps {
		if step.Decision == DecisionBlocked {
			blocked = append(blocked, step.Action)
		}
	}
	return blocked
}

// Summary renders a human-readable digest of the plan for audit logs.
func (p *Plan) Summary() string {
	s := fmt.Sprintf(
		"ExecutionPlan for recommendation %s\n"+
			"  Approved: %d actions\n"+
			"  Blocked: %d actions\n"+
			"  Status: %s\n"+
			"  Simulated: %v\n",
		p.RecommendationID,
		len(p.ApprovedActions()),
		len(p.BlockedActions()),
		p.Status,
		p.Simulated,
	)
	if p.Reasoning != "" {
		s += fmt.Sprintf("  Reasoning: %s\n", p.Reasoning)
	}
	return s
}
