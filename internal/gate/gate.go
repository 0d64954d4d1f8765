// Package gate decides whether untrusted Python source may be handed to
// the remote interpreter. It parses the code with tree-sitter, walks the
// tree against a deny/allow-list policy, and rescans the raw text for
// suspicious patterns. It never executes anything and performs no I/O.
package gate

import (
	"errors"
	"strings"
	"unicode/utf8"
)

const internalFailure = "Security violation: internal validator failure"

// Gate validates code against an immutable Policy. It is safe for
// concurrent use: every call parses into a fresh tree and walks it with a
// fresh visitor.
type Gate struct {
	policy      Policy
	fingerprint string
}

// New creates a Gate from a copy of policy.
func New(policy Policy) (*Gate, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	p := policy.clone()
	return &Gate{policy: p, fingerprint: p.Fingerprint()}, nil
}

// Default returns a Gate enforcing DefaultPolicy.
func Default() *Gate {
	g, err := New(DefaultPolicy())
	if err != nil {
		panic("gate: default policy is invalid: " + err.Error())
	}
	return g
}

// Policy returns a copy of the policy the gate enforces.
func (g *Gate) Policy() Policy {
	return g.policy.clone()
}

// Fingerprint returns the fingerprint of the enforced policy.
func (g *Gate) Fingerprint() string {
	return g.fingerprint
}

// Validate runs the length guard, parse, structural walk and pattern
// rescan in that order and stops at the first rejection. It always
// returns a verdict; internal failures reject.
func (g *Gate) Validate(code string) (verdict Verdict) {
	defer func() {
		if rec := recover(); rec != nil {
			verdict = reject(KindSecurityViolation, RuleInternal, internalFailure)
		}
	}()

	if utf8.RuneCountInString(code) > g.policy.MaxCodeLength {
		return reject(KindInputTooLarge, RuleLength, "Code exceeds maximum length of %d characters", g.policy.MaxCodeLength)
	}

	tree, err := parse(code)
	if err != nil {
		var perr *ParseError
		if errors.As(err, &perr) {
			return reject(KindSyntaxError, RuleSyntax, "Syntax error: %s", perr.Error())
		}
		return reject(KindSecurityViolation, RuleInternal, internalFailure)
	}
	defer tree.Close()

	if err := newPolicyVisitor(&g.policy, tree.source).visit(tree.root()); err != nil {
		var serr *SecurityError
		if !errors.As(err, &serr) {
			return reject(KindSecurityViolation, RuleInternal, internalFailure)
		}
		kind := KindSecurityViolation
		if IsRestriction(serr) {
			kind = KindSecurityRestriction
		}
		return Verdict{Kind: kind, Rule: serr.Rule, Reason: serr.Error()}
	}

	if p, ok := matchPattern(g.policy.Patterns, code); ok {
		return reject(KindSuspiciousPattern, p.Name, "Suspicious pattern detected: %s", p.Description)
	}

	return valid()
}

// Sanitize trims surrounding whitespace. It never rewrites content: unsafe
// code is rejected, not repaired.
func Sanitize(code string) string {
	return strings.TrimSpace(code)
}

// ValidateAndSanitize sanitizes code and validates the sanitized text.
func (g *Gate) ValidateAndSanitize(code string) (Verdict, string) {
	sanitized := Sanitize(code)
	return g.Validate(sanitized), sanitized
}
