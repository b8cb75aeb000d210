package password

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Validate checks password policy and returns a *PolicyError listing every
// unmet rule, or nil. It does not mutate input.
func (c Config) Validate(password string) error {
	p := c.Policy
	var out []Violation

	// Count characters (runes), not bytes, to be user-friendly.
	n := utf8.RuneCountInString(password)
	if n < p.MinLength {
		out = append(out, Violation{
			Rule:    RuleMinLength,
			Message: "Password must be at least " + strconv.Itoa(p.MinLength) + " characters long",
			Params:  map[string]any{"min": p.MinLength},
		})
	}
	if p.MaxLength > 0 && n > p.MaxLength {
		out = append(out, Violation{
			Rule:    RuleMaxLength,
			Message: "Password must be at most " + strconv.Itoa(p.MaxLength) + " characters long",
			Params:  map[string]any{"max": p.MaxLength},
		})
	}

	symbols := p.Symbols
	if symbols == "" {
		symbols = DefaultSymbols
	}
	var lower, upper, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(symbols, r):
			symbol = true
		}
	}

	if p.RequireLower && !lower {
		out = append(out, Violation{Rule: RuleLower, Message: "Password must contain at least one lowercase letter"})
	}
	if p.RequireUpper && !upper {
		out = append(out, Violation{Rule: RuleUpper, Message: "Password must contain at least one uppercase letter"})
	}
	if p.RequireDigit && !digit {
		out = append(out, Violation{Rule: RuleDigit, Message: "Password must contain at least one number"})
	}
	if p.RequireSymbol && !symbol {
		out = append(out, Violation{
			Rule:    RuleSymbol,
			Message: "Password must contain at least one special character",
			Params:  map[string]any{"allowed": symbols},
		})
	}

	if p.RejectVeryWeak && looksVeryWeak(password) {
		out = append(out, Violation{Rule: RuleVeryWeak, Message: "Password is too common"})
	}

	if len(out) == 0 {
		return nil
	}
	return &PolicyError{Violations: out}
}

// looksVeryWeak is intentionally minimal and conservative.
// It is not a full zxcvbn-style estimator.
func looksVeryWeak(pw string) bool {
	s := strings.TrimSpace(pw)
	if s == "" {
		return true
	}

	allSame := true
	first, _ := utf8.DecodeRuneInString(s)
	for _, r := range s {
		if r != first {
			allSame = false
			break
		}
	}
	if allSame {
		return true
	}

	lower := strings.ToLower(s)
	for _, w := range []string{"password", "qwerty", "letmein", "123456", "welcome"} {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}
