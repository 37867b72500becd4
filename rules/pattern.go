package rules

import (
	"regexp"
	"strings"
)

var wildcardReplacer = strings.NewReplacer(".", `\.`, "*", ".*", "?", ".")

// compilePattern turns a sender pattern into a regexp. Wildcard patterns
// escape literal dots, translate "*" to any run of characters and "?" to a
// single character, and anchor at the start of the text only; regex patterns
// are searched anywhere. Both forms match case-insensitively.
func compilePattern(p Pattern) (*regexp.Regexp, error) {
	kind := p.Kind
	if kind == PatternAuto {
		if strings.HasPrefix(p.Expr, "^") || strings.HasPrefix(p.Expr, "(") {
			kind = PatternRegex
		} else {
			kind = PatternWildcard
		}
	}

	if kind == PatternRegex {
		return regexp.Compile("(?i)" + p.Expr)
	}
	return regexp.Compile("(?i)^" + wildcardReplacer.Replace(p.Expr))
}

// MatchPattern reports whether pattern matches text. A pattern that fails to
// compile never matches; pattern errors are not propagated.
func MatchPattern(pattern Pattern, text string) bool {
	re, err := compilePattern(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(text)
}

// ValidatePattern reports whether the pattern compiles. The engine itself
// never fails on a bad pattern (it just never matches); this is for boundary
// layers that want to reject bad patterns at submission time.
func ValidatePattern(pattern Pattern) error {
	_, err := compilePattern(pattern)
	return err
}
