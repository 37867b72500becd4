package rules

import (
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/google/cel-go/cel"
)

// Engine evaluates classified emails against a fixed rule set and produces
// action recommendations. It never executes anything.
//
// An Engine is immutable after construction: patterns and expressions are
// compiled once, and Evaluate touches no shared mutable state, so a single
// instance is safe for any number of concurrent Evaluate calls. Changing the
// rule set means building a new Engine and swapping it in.
type Engine struct {
	rules []compiledRule
	log   *slog.Logger
}

// compiledRule pairs a rule definition with its precompiled matchers. A nil
// entry in senders means that pattern failed to compile and never matches.
type compiledRule struct {
	rule    Rule
	senders []*regexp.Regexp
	program cel.Program // nil unless the rule has a usable expression
	exprBad bool        // expression present but uncompilable; rule fails closed
}

// NewEngine builds an engine from the given rule definitions. A nil or empty
// slice selects the built-in default rule set. Construction never fails:
// malformed rules are logged as warnings and simply contribute nothing at
// evaluation time.
func NewEngine(defs []Rule) *Engine {
	return NewEngineWithLogger(defs, slog.Default())
}

// NewEngineWithLogger is NewEngine with an explicit logger for validation
// and pattern warnings.
func NewEngineWithLogger(defs []Rule, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	if len(defs) == 0 {
		defs = DefaultRules()
	}

	en := &Engine{log: log}
	en.validate(defs)

	env, err := newEmailEnv()
	if err != nil {
		// Expression conditions fail closed without an environment.
		log.Warn("rule engine: CEL environment unavailable", "error", err)
	}

	for _, def := range defs {
		cr := compiledRule{rule: def}

		for _, pat := range def.Conditions.SenderPatterns {
			re, err := compilePattern(pat)
			if err != nil {
				log.Warn("rule engine: sender pattern does not compile",
					"rule", def.Name, "pattern", pat.Expr, "error", err)
				re = nil
			}
			cr.senders = append(cr.senders, re)
		}

		if expr := def.Conditions.Expression; expr != "" {
			prog, err := compileExpression(env, expr)
			if err != nil {
				log.Warn("rule engine: expression does not compile",
					"rule", def.Name, "error", err)
				cr.exprBad = true
			} else {
				cr.program = prog
			}
		}

		en.rules = append(en.rules, cr)
	}

	log.Info("rule engine initialized", "rules", len(en.rules))
	return en
}

// newEmailEnv declares the CEL variables available to expression conditions.
func newEmailEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("classification", cel.StringType),
		cel.Variable("confidence", cel.DoubleType),
		cel.Variable("sender", cel.StringType),
		cel.Variable("subject", cel.StringType),
		cel.Variable("body", cel.StringType),
		cel.Variable("labels", cel.ListType(cel.StringType)),
	)
}

// compileExpression compiles a CEL expression with a cost limit so a
// pathological rule cannot stall evaluation.
func compileExpression(env *cel.Env, expr string) (cel.Program, error) {
	if env == nil {
		return nil, fmt.Errorf("no CEL environment")
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %w", issues.Err())
	}
	prog, err := env.Program(ast, cel.CostLimit(1_000_000))
	if err != nil {
		return nil, fmt.Errorf("program creation error: %w", err)
	}
	return prog, nil
}

// ValidateExpression reports whether a CEL expression condition compiles
// against the email context. The engine itself never fails on a bad
// expression (the rule fails closed); this is for boundary layers that want
// to reject bad expressions at submission time.
func ValidateExpression(expr string) error {
	env, err := newEmailEnv()
	if err != nil {
		return fmt.Errorf("CEL environment unavailable: %w", err)
	}
	_, err = compileExpression(env, expr)
	return err
}

// Evaluate tests every active rule against the email and returns matched
// rules, recommended actions sorted by priority (descending, stable), safety
// flags, a 0-100 confidence score, and a textual explanation. Identical
// inputs always produce identical results.
func (en *Engine) Evaluate(email Email) EvaluationResult {
	result := EvaluationResult{
		MatchedRules:       []MatchedRule{},
		RecommendedActions: []Action{},
		SafetyFlags:        []string{},
	}

	flagSeen := make(map[string]bool)

	for _, cr := range en.rules {
		if !cr.rule.Active {
			continue
		}
		if !en.ruleMatches(cr, email) {
			continue
		}

		priority := cr.rule.Priority
		if priority == 0 {
			priority = 5
		}
		result.MatchedRules = append(result.MatchedRules, MatchedRule{
			Name:     cr.rule.Name,
			Priority: priority,
		})

		for _, tmpl := range cr.rule.Actions {
			if action, ok := en.materializeAction(cr.rule.Name, tmpl); ok {
				result.RecommendedActions = append(result.RecommendedActions, action)
			}
		}

		for _, flag := range cr.rule.SafetyFlags {
			if !flagSeen[flag] {
				flagSeen[flag] = true
				result.SafetyFlags = append(result.SafetyFlags, flag)
			}
		}
	}

	// Stable so that ties keep rule-then-template order.
	sort.SliceStable(result.RecommendedActions, func(i, j int) bool {
		return result.RecommendedActions[i].Priority > result.RecommendedActions[j].Priority
	})

	if len(result.MatchedRules) > 0 {
		result.ConfidenceScore = confidenceScore(email.Confidence, len(result.MatchedRules))
		result.Reasoning = reasoning(email, result.MatchedRules, result.RecommendedActions)
	}

	return result
}

// ruleMatches reports whether every present condition of the rule holds for
// the email. A rule with no conditions matches unconditionally.
func (en *Engine) ruleMatches(cr compiledRule, email Email) bool {
	cond := cr.rule.Conditions

	if len(cond.Categories) > 0 && !contains(cond.Categories, email.Classification) {
		return false
	}

	if email.Confidence < cond.MinConfidence {
		return false
	}

	if len(cr.senders) > 0 {
		matched := false
		for _, re := range cr.senders {
			if re != nil && re.MatchString(email.Sender) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	if len(cond.SubjectKeywords) > 0 && !anyKeyword(cond.SubjectKeywords, email.Subject) {
		return false
	}

	if len(cond.BodyKeywords) > 0 && !anyKeyword(cond.BodyKeywords, email.Body) {
		return false
	}

	if len(cond.Labels) > 0 {
		matched := false
		for _, want := range cond.Labels {
			if contains(email.Labels, want) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	if cond.Expression != "" && !en.expressionMatches(cr, email) {
		return false
	}

	return true
}

// expressionMatches evaluates the rule's compiled CEL program. Any failure,
// including a non-boolean result, counts as no match.
func (en *Engine) expressionMatches(cr compiledRule, email Email) bool {
	if cr.exprBad || cr.program == nil {
		return false
	}

	labels := email.Labels
	if labels == nil {
		labels = []string{}
	}

	out, _, err := cr.program.Eval(map[string]any{
		"classification": email.Classification,
		"confidence":     email.Confidence,
		"sender":         email.Sender,
		"subject":        email.Subject,
		"body":           email.Body,
		"labels":         labels,
	})
	if err != nil {
		en.log.Warn("rule engine: expression evaluation failed",
			"rule", cr.rule.Name, "error", err)
		return false
	}

	matched, ok := out.Value().(bool)
	return ok && matched
}

// materializeAction turns an action template into a concrete proposal,
// attaching the type description and per-type defaults. Templates with an
// unknown type are dropped.
func (en *Engine) materializeAction(ruleName string, tmpl ActionTemplate) (Action, bool) {
	desc, ok := ActionDescriptions[tmpl.Type]
	if !ok {
		en.log.Warn("rule engine: unknown action type",
			"rule", ruleName, "type", string(tmpl.Type))
		return Action{}, false
	}

	action := Action{
		Type:        tmpl.Type,
		Description: desc,
		Priority:    tmpl.Priority,
		Reason:      tmpl.Reason,
	}
	if action.Priority == 0 {
		action.Priority = 5
	}

	switch tmpl.Type {
	case ActionLabel:
		action.Label = tmpl.Label
	case ActionSnooze:
		action.Hours = tmpl.Hours
		if action.Hours == 0 {
			action.Hours = 24
		}
	case ActionReplyDraft:
		action.Template = tmpl.Template
	case ActionPriority:
		action.Level = tmpl.Level
		if action.Level == "" {
			action.Level = "normal"
		}
	case ActionDelegate:
		action.Recipient = tmpl.Recipient
	}

	return action, true
}

// confidenceScore combines the upstream classification confidence with the
// number of corroborating rules. Low upstream confidence (< 0.6) is
// penalized by 20 points; each additional matching rule adds 10 up to 30.
// The result is always within [0, 100].
func confidenceScore(classificationConfidence float64, matchedRules int) int {
	base := int(math.Round(classificationConfidence * 100))
	if classificationConfidence < 0.6 {
		base = max(base-20, 0)
	}
	boost := min(10*matchedRules, 30)
	return max(min(base+boost, 100), 0)
}

// reasoning builds the single-sentence explanation: classification, matched
// rule names, and the distinct recommended action types in first-seen order.
func reasoning(email Email, matched []MatchedRule, actions []Action) string {
	parts := []string{fmt.Sprintf("Email classified as '%s' with %.0f%% confidence.",
		email.Classification, email.Confidence*100)}

	if len(matched) > 0 {
		names := make([]string, len(matched))
		for i, m := range matched {
			names[i] = m.Name
		}
		parts = append(parts, fmt.Sprintf("Matched rules: %s.", strings.Join(names, ", ")))
	}

	if len(actions) > 0 {
		seen := make(map[ActionType]bool)
		var types []string
		for _, a := range actions {
			if !seen[a.Type] {
				seen[a.Type] = true
				types = append(types, string(a.Type))
			}
		}
		parts = append(parts, fmt.Sprintf("Recommending actions: %s.", strings.Join(types, ", ")))
	}

	return strings.Join(parts, " ")
}

// validate warns about structurally dubious rule definitions. Rules are kept
// regardless; a rule that cannot match or emits nothing is harmless.
func (en *Engine) validate(defs []Rule) {
	for _, def := range defs {
		if def.Name == "" {
			en.log.Warn("rule engine: rule missing name")
			continue
		}
		if len(def.Actions) == 0 {
			en.log.Warn("rule engine: rule has no actions", "rule", def.Name)
			continue
		}
		for _, tmpl := range def.Actions {
			if _, ok := ActionDescriptions[tmpl.Type]; !ok {
				en.log.Warn("rule engine: rule has invalid action type",
					"rule", def.Name, "type", string(tmpl.Type))
			}
		}
	}
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func anyKeyword(keywords []string, text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
