// Package executor validates action proposals against a whitelist and turns
// them into auditable execution plans. It never performs the actions: no
// network calls, no mailbox mutation, no side effects beyond the plan it
// returns.
package executor

import (
	"sort"

	"github.com/quillmail/triage/rules"
)

// ActionSchema describes the fields a proposal of one action type must and
// may carry.
type ActionSchema struct {
	Required []string `json:"required_fields"`
	Optional []string `json:"optional_fields"`
}

// allowedActions is the execution whitelist. It is deliberately narrower
// than the rule engine's recommendation vocabulary: the engine may suggest
// an action the executor refuses to plan.
var allowedActions = map[rules.ActionType]ActionSchema{
	rules.ActionFlag:    {Required: []string{"type"}, Optional: []string{"priority", "reason"}},
	rules.ActionArchive: {Required: []string{"type"}, Optional: []string{"priority"}},
	rules.ActionLabel:   {Required: []string{"type", "label"}, Optional: []string{"priority"}},
	rules.ActionRead:    {Required: []string{"type"}, Optional: []string{"priority"}},
	rules.ActionSpam:    {Required: []string{"type"}, Optional: []string{"priority"}},
}

// IsActionTypeAllowed reports whether the action type is on the whitelist.
func IsActionTypeAllowed(t rules.ActionType) bool {
	_, ok := allowedActions[t]
	return ok
}

// RequiredFields returns the required fields for an action type. Unknown
// types still require "type", matching the validation failure they will hit.
func RequiredFields(t rules.ActionType) []string {
	if schema, ok := allowedActions[t]; ok {
		return append([]string(nil), schema.Required...)
	}
	return []string{"type"}
}

// OptionalFields returns the optional fields for an action type.
func OptionalFields(t rules.ActionType) []string {
	if schema, ok := allowedActions[t]; ok {
		return append([]string(nil), schema.Optional...)
	}
	return nil
}

// AllowedActionTypes returns the whitelist in sorted order so calling layers
// can introspect what may be planned.
func AllowedActionTypes() []rules.ActionType {
	types := make([]rules.ActionType, 0, len(allowedActions))
	for t := range allowedActions {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// ActionSchemas returns a copy of the full whitelist table, keyed by action
// type, for boundary layers that validate proposals before submission.
func ActionSchemas() map[rules.ActionType]ActionSchema {
	out := make(map[rules.ActionType]ActionSchema, len(allowedActions))
	for t, schema := range allowedActions {
		out[t] = ActionSchema{
			Required: append([]string(nil), schema.Required...),
			Optional: append([]string(nil), schema.Optional...),
		}
	}
	return out
}

// hasField reports whether the proposal carries a non-zero value for the
// named schema field.
func hasField(a rules.Action, field string) bool {
	switch field {
	case "type":
		return a.Type != ""
	case "label":
		return a.Label != ""
	case "priority":
		return a.Priority != 0
	case "reason":
		return a.Reason != ""
	case "hours":
		return a.Hours != 0
	case "template":
		return a.Template != ""
	case "level":
		return a.Level != ""
	case "recipient":
		return a.Recipient != ""
	default:
		return false
	}
}
