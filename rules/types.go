package rules

import (
	"encoding/json"
	"fmt"
	"time"
)

// ActionType identifies one kind of recommended email action.
type ActionType string

const (
	ActionArchive    ActionType = "archive"
	ActionLabel      ActionType = "label"
	ActionFlag       ActionType = "flag"
	ActionSnooze     ActionType = "snooze"
	ActionRead       ActionType = "read"
	ActionSpam       ActionType = "spam"
	ActionReplyDraft ActionType = "reply_draft"
	ActionNotify     ActionType = "notify"
	ActionPriority   ActionType = "priority"
	ActionDelegate   ActionType = "delegate"
)

// ActionDescriptions maps every action type the engine may recommend to a
// human-readable description. Membership in this map defines the engine's
// recommendation vocabulary; templates with other types are dropped.
var ActionDescriptions = map[ActionType]string{
	ActionArchive:    "Move email to archive",
	ActionLabel:      "Apply label/tag to email",
	ActionFlag:       "Flag email for follow-up",
	ActionSnooze:     "Snooze email for later",
	ActionRead:       "Mark as read",
	ActionSpam:       "Report as spam",
	ActionReplyDraft: "Draft a reply",
	ActionNotify:     "Send notification to user",
	ActionPriority:   "Set priority level",
	ActionDelegate:   "Suggest delegation",
}

// PatternKind selects how a sender pattern is interpreted.
type PatternKind string

const (
	// PatternAuto infers the kind from the pattern text: a leading "^" or
	// "(" means regex, anything else is a wildcard pattern.
	PatternAuto     PatternKind = ""
	PatternWildcard PatternKind = "wildcard"
	PatternRegex    PatternKind = "regex"
)

// Pattern is a sender matching pattern. In JSON it is either a bare string
// (kind inferred) or an object {"kind": "wildcard"|"regex", "pattern": "..."}
// for rule authors who want to be explicit.
type Pattern struct {
	Kind PatternKind
	Expr string
}

type patternJSON struct {
	Kind    PatternKind `json:"kind"`
	Pattern string      `json:"pattern"`
}

// UnmarshalJSON accepts both the bare-string and the tagged-object forms.
func (p *Pattern) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		p.Kind = PatternAuto
		p.Expr = s
		return nil
	}

	var obj patternJSON
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("pattern must be a string or {kind, pattern} object: %w", err)
	}
	if obj.Kind != PatternAuto && obj.Kind != PatternWildcard && obj.Kind != PatternRegex {
		return fmt.Errorf("unknown pattern kind %q", obj.Kind)
	}
	p.Kind = obj.Kind
	p.Expr = obj.Pattern
	return nil
}

// MarshalJSON round-trips whichever form the pattern was authored in.
func (p Pattern) MarshalJSON() ([]byte, error) {
	if p.Kind == PatternAuto {
		return json.Marshal(p.Expr)
	}
	return json.Marshal(patternJSON{Kind: p.Kind, Pattern: p.Expr})
}

// Conditions is the set of predicates that must all hold for a rule to match.
// Every field is optional; an absent field always passes. Fields that carry
// multiple values match when any one of them holds.
type Conditions struct {
	// Categories restricts the rule to these classification labels.
	Categories []string `json:"category,omitempty"`
	// MinConfidence is an inclusive lower bound on classification confidence.
	MinConfidence float64 `json:"min_confidence,omitempty"`
	// SenderPatterns match against the sender address.
	SenderPatterns []Pattern `json:"sender_pattern,omitempty"`
	// SubjectKeywords are case-insensitive substrings of the subject.
	SubjectKeywords []string `json:"subject_keywords,omitempty"`
	// BodyKeywords are case-insensitive substrings of the body.
	BodyKeywords []string `json:"body_keywords,omitempty"`
	// Labels requires at least one of these external labels to be present.
	Labels []string `json:"labels,omitempty"`
	// Expression is an optional CEL expression over the email context
	// (classification, confidence, sender, subject, body, labels). It is
	// compiled once at engine construction and AND'd with the other
	// conditions; a failing or non-boolean evaluation counts as no match.
	Expression string `json:"expression,omitempty"`
}

// ActionTemplate is an action as authored inside a rule definition. The
// engine materializes a template into an Action when the rule matches,
// filling in per-type defaults.
type ActionTemplate struct {
	Type      ActionType `json:"type"`
	Priority  int        `json:"priority,omitempty"`
	Reason    string     `json:"reason,omitempty"`
	Label     string     `json:"label,omitempty"`
	Hours     int        `json:"hours,omitempty"`
	Template  string     `json:"template,omitempty"`
	Level     string     `json:"level,omitempty"`
	Recipient string     `json:"recipient,omitempty"`
}

// Rule is a named condition-to-actions mapping. Rules are read-only during
// evaluation; the engine never mutates them.
type Rule struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Conditions  Conditions       `json:"conditions"`
	Actions     []ActionTemplate `json:"actions"`
	Priority    int              `json:"priority"`
	Active      bool             `json:"is_active"`
	SafetyFlags []string         `json:"safety_flags,omitempty"`
}

// UnmarshalJSON defaults is_active to true when the key is absent, so a
// definition that never mentions it is a live rule rather than a dead one.
func (r *Rule) UnmarshalJSON(data []byte) error {
	type plain Rule
	aux := plain{Active: true}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*r = Rule(aux)
	return nil
}

// Action is a single recommended action with its rationale. Only the fields
// relevant to the action's type are populated.
type Action struct {
	Type        ActionType `json:"type"`
	Description string     `json:"description"`
	Priority    int        `json:"priority"`
	Reason      string     `json:"reason"`
	Label       string     `json:"label,omitempty"`
	Hours       int        `json:"hours,omitempty"`
	Template    string     `json:"template,omitempty"`
	Level       string     `json:"level,omitempty"`
	Recipient   string     `json:"recipient,omitempty"`
}

// Email is the classified email context the engine evaluates rules against.
type Email struct {
	Classification string   `json:"classification"`
	Confidence     float64  `json:"confidence"`
	Sender         string   `json:"sender"`
	Subject        string   `json:"subject"`
	Body           string   `json:"body"`
	Labels         []string `json:"labels,omitempty"`
}

// MatchedRule records one rule that matched during an evaluation.
type MatchedRule struct {
	Name     string `json:"name"`
	Priority int    `json:"priority"`
}

// EvaluationResult is the outcome of evaluating all active rules against one
// email. A fresh result is produced per call; the engine keeps no reference
// to it afterwards.
type EvaluationResult struct {
	MatchedRules       []MatchedRule `json:"matched_rules"`
	RecommendedActions []Action      `json:"recommended_actions"`
	SafetyFlags        []string      `json:"safety_flags"`
	ConfidenceScore    int           `json:"confidence_score"`
	Reasoning          string        `json:"reasoning"`
}

// StoredRule is a rule definition as persisted by a RuleStore, wrapping the
// definition with identity and timestamps. Name and Active are projections
// of the definition kept in sync by the store.
type StoredRule struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Definition Rule      `json:"definition"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
