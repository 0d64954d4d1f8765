package gate

import "fmt"

// Kind classifies the outcome of a validation call.
type Kind int

const (
	KindValid Kind = iota
	KindInputTooLarge
	KindSyntaxError
	KindSecurityViolation
	KindSecurityRestriction
	KindSuspiciousPattern
)

func (k Kind) String() string {
	switch k {
	case KindValid:
		return "valid"
	case KindInputTooLarge:
		return "input_too_large"
	case KindSyntaxError:
		return "syntax_error"
	case KindSecurityViolation:
		return "security_violation"
	case KindSecurityRestriction:
		return "security_restriction"
	case KindSuspiciousPattern:
		return "suspicious_pattern"
	default:
		return "unknown"
	}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, bool) {
	for k := KindValid; k <= KindSuspiciousPattern; k++ {
		if k.String() == s {
			return k, true
		}
	}
	return 0, false
}

const validMessage = "Code passed security validation"

// Rule names the check that produced a rejection. Suspicious pattern
// rejections use the pattern's own name instead.
const (
	RuleLength          = "max_code_length"
	RuleSyntax          = "syntax"
	RuleDeniedModule    = "denied_module"
	RuleUnlistedModule  = "unlisted_module"
	RuleDeniedFunction  = "denied_function"
	RuleDeniedAttribute = "denied_attribute"
	RuleLoopDepth       = "loop_depth"
	RuleUnboundedWhile  = "unbounded_while"
	RulePrivateFunction = "private_function"
	RuleInternal        = "internal"
)

// Verdict is the result of one Validate call. It is never mutated after
// construction.
type Verdict struct {
	Kind   Kind
	Rule   string
	Reason string
}

// Valid reports whether the code was admitted.
func (v Verdict) Valid() bool {
	return v.Kind == KindValid
}

// Message returns the human-readable reason, or the acceptance message
// for valid code.
func (v Verdict) Message() string {
	if v.Valid() {
		return validMessage
	}
	return v.Reason
}

// Err returns nil for a valid verdict and otherwise an error wrapping the
// sentinel for the verdict kind.
func (v Verdict) Err() error {
	var sentinel error
	switch v.Kind {
	case KindValid:
		return nil
	case KindInputTooLarge:
		sentinel = ErrInputTooLarge
	case KindSyntaxError:
		sentinel = ErrSyntax
	case KindSecurityRestriction:
		sentinel = ErrSecurityRestriction
	case KindSuspiciousPattern:
		sentinel = ErrSuspiciousPattern
	default:
		sentinel = ErrSecurityViolation
	}
	return fmt.Errorf("%w: %s", sentinel, v.Reason)
}

// Result is the externally observed verdict shape.
type Result struct {
	IsValid bool   `json:"is_valid"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// Result flattens the verdict to the boolean-plus-reason shape callers
// hand back to whoever submitted the code.
func (v Verdict) Result() Result {
	if v.Valid() {
		return Result{IsValid: true, Message: validMessage}
	}
	return Result{IsValid: false, Error: v.Reason}
}

func valid() Verdict {
	return Verdict{Kind: KindValid}
}

func reject(kind Kind, rule, format string, args ...any) Verdict {
	return Verdict{Kind: kind, Rule: rule, Reason: fmt.Sprintf(format, args...)}
}
