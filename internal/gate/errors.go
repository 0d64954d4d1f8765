package gate

import (
	"errors"
	"fmt"
)

// Sentinel errors for typed verdict checking.
var (
	ErrInputTooLarge       = errors.New("input too large")
	ErrSyntax              = errors.New("syntax error")
	ErrSecurityViolation   = errors.New("security violation")
	ErrSecurityRestriction = errors.New("security restriction")
	ErrSuspiciousPattern   = errors.New("suspicious pattern")
	ErrInvalidPolicy       = errors.New("invalid gate policy")
)

// SecurityError is raised by the policy visitor for the first disallowed
// construct. Err is ErrSecurityViolation or ErrSecurityRestriction.
type SecurityError struct {
	Err    error
	Rule   string
	Reason string
}

func (e *SecurityError) Error() string {
	return fmt.Sprintf("%s: %s", e.prefix(), e.Reason)
}

func (e *SecurityError) Unwrap() error {
	return e.Err
}

func (e *SecurityError) prefix() string {
	if errors.Is(e.Err, ErrSecurityRestriction) {
		return "Security restriction"
	}
	return "Security violation"
}

func violation(rule, format string, args ...any) error {
	return &SecurityError{Err: ErrSecurityViolation, Rule: rule, Reason: fmt.Sprintf(format, args...)}
}

func restriction(rule, format string, args ...any) error {
	return &SecurityError{Err: ErrSecurityRestriction, Rule: rule, Reason: fmt.Sprintf(format, args...)}
}

// IsViolation returns true if err is a hard-deny security violation.
func IsViolation(err error) bool {
	return errors.Is(err, ErrSecurityViolation)
}

// IsRestriction returns true if err is an allow-list failure.
func IsRestriction(err error) bool {
	return errors.Is(err, ErrSecurityRestriction)
}
