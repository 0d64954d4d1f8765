package api

import (
	"time"

	"safe-code-gate/internal/gate"
)

// ValidateRequest is the body of POST /validate.
type ValidateRequest struct {
	Code     string `json:"code"`
	Sanitize bool   `json:"sanitize,omitempty"` // trim surrounding whitespace before validating
}

// ValidateResponse carries one verdict. Rejections are ordinary 200
// responses: the verdict is the payload.
type ValidateResponse struct {
	ID            string   `json:"id"`
	IsValid       bool     `json:"is_valid"`
	Kind          string   `json:"kind"`
	Rule          string   `json:"rule,omitempty"`
	Message       string   `json:"message,omitempty"`
	Error         string   `json:"error,omitempty"`
	SanitizedCode *string  `json:"sanitized_code,omitempty"`
	Duration      Duration `json:"duration"`
	Cached        bool     `json:"cached,omitempty"`
}

// BatchRequest is the body of POST /validate/batch.
type BatchRequest struct {
	Snippets []string `json:"snippets"`
	Sanitize bool     `json:"sanitize,omitempty"`
}

// BatchVerdict is the data of one "verdict" event in a batch stream.
type BatchVerdict struct {
	Index int `json:"index"`
	ValidateResponse
}

// BatchSummary is the data of the final "done" event.
type BatchSummary struct {
	Total    int      `json:"total"`
	Valid    int      `json:"valid"`
	Rejected int      `json:"rejected"`
	Duration Duration `json:"duration"`
}

// Duration wraps time.Duration for JSON marshaling as a string like "1.2ms".
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = dur
	return nil
}

// PatternInfo describes one suspicious pattern without exposing the regex
// engine type.
type PatternInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Regex       string `json:"regex"`
}

// PolicyResponse is returned by GET /policy.
type PolicyResponse struct {
	Fingerprint       string        `json:"fingerprint"`
	MaxCodeLength     int           `json:"max_code_length"`
	MaxLoopDepth      int           `json:"max_loop_depth"`
	MaxLoopIterations int           `json:"max_loop_iterations"`
	AllowedModules    []string      `json:"allowed_modules"`
	DeniedModules     []string      `json:"denied_modules"`
	DeniedFunctions   []string      `json:"denied_functions"`
	DeniedAttributes  []string      `json:"denied_attributes"`
	TrustedNamespaces []string      `json:"trusted_namespaces"`
	Patterns          []PatternInfo `json:"patterns"`
}

// NewPolicyResponse flattens the policy enforced by g.
func NewPolicyResponse(g *gate.Gate) PolicyResponse {
	p := g.Policy()
	patterns := make([]PatternInfo, 0, len(p.Patterns))
	for _, pat := range p.Patterns {
		patterns = append(patterns, PatternInfo{
			Name:        pat.Name,
			Description: pat.Description,
			Regex:       pat.Regex.String(),
		})
	}
	return PolicyResponse{
		Fingerprint:       g.Fingerprint(),
		MaxCodeLength:     p.MaxCodeLength,
		MaxLoopDepth:      p.MaxLoopDepth,
		MaxLoopIterations: p.MaxLoopIterations,
		AllowedModules:    p.AllowedModules.Sorted(),
		DeniedModules:     p.DeniedModules.Sorted(),
		DeniedFunctions:   p.DeniedFunctions.Sorted(),
		DeniedAttributes:  p.DeniedAttributes.Sorted(),
		TrustedNamespaces: append([]string(nil), p.TrustedNamespaces...),
		Patterns:          patterns,
	}
}

// ErrorResponse is returned for API errors.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id"`
}

// HealthResponse is returned by the health check endpoint.
type HealthResponse struct {
	Status   string `json:"status"`
	Policy   string `json:"policy"`
	Database bool   `json:"database"`
	Cache    bool   `json:"cache"`
	Uptime   string `json:"uptime"`
}
