package password

import (
	"errors"
	"strings"
)

// Public, stable errors for callers.
var (
	ErrPasswordTooShort = errors.New("password too short")
	ErrPasswordTooLong  = errors.New("password too long")
	ErrWeakPassword     = errors.New("weak password")
	ErrInvalidHash      = errors.New("invalid password hash")
)

// Rule names reported in Violation.Rule.
const (
	RuleMinLength = "min_length"
	RuleMaxLength = "max_length"
	RuleLower     = "lowercase"
	RuleUpper     = "uppercase"
	RuleDigit     = "digit"
	RuleSymbol    = "symbol"
	RuleVeryWeak  = "very_weak"
)

// Violation is one unmet policy rule.
type Violation struct {
	Rule    string
	Message string
	Params  map[string]any
}

// PolicyError lists every rule a password failed, in a stable order.
type PolicyError struct {
	Violations []Violation
}

func (e *PolicyError) Error() string {
	rules := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		rules = append(rules, v.Rule)
	}
	return "password policy: " + strings.Join(rules, ", ")
}

// Unwrap maps the violation set onto the legacy sentinels so errors.Is keeps working.
func (e *PolicyError) Unwrap() []error {
	out := []error{ErrWeakPassword}
	for _, v := range e.Violations {
		switch v.Rule {
		case RuleMinLength:
			out = append(out, ErrPasswordTooShort)
		case RuleMaxLength:
			out = append(out, ErrPasswordTooLong)
		}
	}
	return out
}

// Has reports whether rule is among the violations.
func (e *PolicyError) Has(rule string) bool {
	for _, v := range e.Violations {
		if v.Rule == rule {
			return true
		}
	}
	return false
}
