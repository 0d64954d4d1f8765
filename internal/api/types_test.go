package api

import (
	"encoding/json"
	"slices"
	"strings"
	"testing"
	"time"

	"safe-code-gate/internal/gate"
)

func TestDuration_JSON(t *testing.T) {
	tests := []struct {
		name string
		in   time.Duration
		want string
	}{
		{"sub-millisecond", 350 * time.Microsecond, `"350µs"`},
		{"milliseconds", 1200 * time.Microsecond, `"1.2ms"`},
		{"zero", 0, `"0s"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := json.Marshal(Duration{tt.in})
			if err != nil {
				t.Fatal(err)
			}
			if string(b) != tt.want {
				t.Errorf("Marshal = %s, want %s", b, tt.want)
			}

			var back Duration
			if err := json.Unmarshal(b, &back); err != nil {
				t.Fatalf("Unmarshal(%s): %v", b, err)
			}
			if back.Duration != tt.in {
				t.Errorf("decoded %s, want %s", back.Duration, tt.in)
			}
		})
	}
}

func TestDuration_UnmarshalRejectsGarbage(t *testing.T) {
	var d Duration
	if err := json.Unmarshal([]byte(`"soon"`), &d); err == nil {
		t.Error("expected error for non-duration string")
	}
}

func TestValidateResponse_OmitsEmptyFields(t *testing.T) {
	b, err := json.Marshal(ValidateResponse{ID: "x", IsValid: true, Kind: "valid", Message: "ok"})
	if err != nil {
		t.Fatal(err)
	}
	for _, field := range []string{"sanitized_code", "error", "rule", "cached"} {
		if strings.Contains(string(b), `"`+field+`"`) {
			t.Errorf("%s present in %s", field, b)
		}
	}
	if !strings.Contains(string(b), `"is_valid":true`) {
		t.Errorf("is_valid missing in %s", b)
	}
}

func TestBatchVerdict_FlattensResponse(t *testing.T) {
	b, err := json.Marshal(BatchVerdict{
		Index:            2,
		ValidateResponse: ValidateResponse{ID: "v", Kind: "syntax_error", Rule: "syntax"},
	})
	if err != nil {
		t.Fatal(err)
	}

	var flat map[string]any
	if err := json.Unmarshal(b, &flat); err != nil {
		t.Fatal(err)
	}
	if flat["index"] != float64(2) || flat["kind"] != "syntax_error" || flat["id"] != "v" {
		t.Errorf("batch verdict = %s", b)
	}
}

func TestNewPolicyResponse(t *testing.T) {
	g, err := gate.New(gate.DefaultPolicy().Extend(gate.Overrides{
		AllowedModules:    []string{"yaml"},
		TrustedNamespaces: []string{"acme"},
	}))
	if err != nil {
		t.Fatal(err)
	}

	p := NewPolicyResponse(g)
	if p.Fingerprint != g.Fingerprint() {
		t.Errorf("Fingerprint = %q, want %q", p.Fingerprint, g.Fingerprint())
	}
	if !slices.Contains(p.AllowedModules, "yaml") || !slices.IsSorted(p.AllowedModules) {
		t.Errorf("AllowedModules = %v", p.AllowedModules)
	}
	if !slices.Contains(p.DeniedModules, "os") || !slices.Contains(p.DeniedFunctions, "eval") {
		t.Error("deny lists missing defaults")
	}
	if !slices.Equal(p.TrustedNamespaces, []string{"odoo", "acme"}) {
		t.Errorf("TrustedNamespaces = %v", p.TrustedNamespaces)
	}
	if len(p.Patterns) != len(gate.DefaultPatterns()) {
		t.Errorf("got %d patterns, want %d", len(p.Patterns), len(gate.DefaultPatterns()))
	}
	for _, pat := range p.Patterns {
		if pat.Name == "" || pat.Regex == "" {
			t.Errorf("incomplete pattern %+v", pat)
		}
	}

	// The response must not alias the gate's policy.
	p.TrustedNamespaces[0] = "mutated"
	if NewPolicyResponse(g).TrustedNamespaces[0] != "odoo" {
		t.Error("NewPolicyResponse shares TrustedNamespaces with the gate")
	}
}
