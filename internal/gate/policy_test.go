package gate

import (
	"errors"
	"testing"
)

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	if err := p.Validate(); err != nil {
		t.Fatalf("default policy invalid: %v", err)
	}

	if p.MaxCodeLength != 10000 {
		t.Errorf("MaxCodeLength = %d, want 10000", p.MaxCodeLength)
	}
	if p.MaxLoopDepth != 3 {
		t.Errorf("MaxLoopDepth = %d, want 3", p.MaxLoopDepth)
	}
	if p.MaxLoopIterations != 10000 {
		t.Errorf("MaxLoopIterations = %d, want 10000", p.MaxLoopIterations)
	}

	for _, m := range []string{"os", "subprocess", "sys", "socket", "ctypes", "pickle", "builtins", "importlib"} {
		if !p.DeniedModules.Has(m) {
			t.Errorf("module %q should be denied", m)
		}
	}
	for _, m := range []string{"datetime", "json", "re", "math", "collections", "itertools", "functools", "operator", "decimal"} {
		if !p.AllowedModules.Has(m) {
			t.Errorf("module %q should be allowed", m)
		}
	}
	for _, f := range []string{"eval", "exec", "compile", "__import__", "open", "input", "getenv"} {
		if !p.DeniedFunctions.Has(f) {
			t.Errorf("function %q should be denied", f)
		}
	}
	for _, a := range []string{"__class__", "__bases__", "__subclasses__", "__globals__", "__code__", "__builtins__", "__dict__", "f_globals", "environ"} {
		if !p.DeniedAttributes.Has(a) {
			t.Errorf("attribute %q should be denied", a)
		}
	}
	if len(p.Patterns) == 0 {
		t.Error("default policy has no patterns")
	}
}

func TestPolicy_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Policy)
	}{
		{"zero length", func(p *Policy) { p.MaxCodeLength = 0 }},
		{"zero depth", func(p *Policy) { p.MaxLoopDepth = 0 }},
		{"negative iterations", func(p *Policy) { p.MaxLoopIterations = -1 }},
		{"allowed and denied", func(p *Policy) { p.AllowedModules = p.AllowedModules.with("os") }},
		{"empty namespace", func(p *Policy) { p.TrustedNamespaces = []string{" "} }},
		{"denied namespace", func(p *Policy) { p.TrustedNamespaces = []string{"sys"} }},
		{"nil regex", func(p *Policy) { p.Patterns = append(p.Patterns, Pattern{Name: "empty"}) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultPolicy()
			tt.mutate(&p)
			if err := p.Validate(); !errors.Is(err, ErrInvalidPolicy) {
				t.Errorf("Validate() = %v, want ErrInvalidPolicy", err)
			}
		})
	}
}

func TestPolicy_Extend(t *testing.T) {
	base := DefaultPolicy()
	extra, err := CompilePattern("ldap", `ldap://`, "LDAP access")
	if err != nil {
		t.Fatal(err)
	}

	p := base.Extend(Overrides{
		MaxLoopDepth:      5,
		AllowedModules:    []string{"string", " "},
		DeniedFunctions:   []string{"breakpoint"},
		DeniedAttributes:  []string{"cr"},
		TrustedNamespaces: []string{"odoo", "acme"},
		Patterns:          []Pattern{extra},
	})

	if p.MaxLoopDepth != 5 {
		t.Errorf("MaxLoopDepth = %d, want 5", p.MaxLoopDepth)
	}
	if p.MaxCodeLength != base.MaxCodeLength {
		t.Errorf("zero override changed MaxCodeLength to %d", p.MaxCodeLength)
	}
	if !p.AllowedModules.Has("string") || p.AllowedModules.Has("") {
		t.Errorf("AllowedModules = %v", p.AllowedModules.Sorted())
	}
	if !p.DeniedFunctions.Has("breakpoint") || !p.DeniedAttributes.Has("cr") {
		t.Error("deny-list additions missing")
	}
	if len(p.TrustedNamespaces) != 2 {
		t.Errorf("TrustedNamespaces = %v, want odoo and acme once each", p.TrustedNamespaces)
	}
	if last := p.Patterns[len(p.Patterns)-1]; last.Name != "ldap" {
		t.Errorf("extra pattern not appended, last = %s", last.Name)
	}

	if base.AllowedModules.Has("string") || base.DeniedFunctions.Has("breakpoint") {
		t.Error("Extend mutated the base policy")
	}
	if len(base.Patterns) == len(p.Patterns) {
		t.Error("Extend shared the base pattern slice")
	}
}

func TestPolicy_ExtendedGate(t *testing.T) {
	p := DefaultPolicy().Extend(Overrides{
		AllowedModules:   []string{"string"},
		DeniedAttributes: []string{"cr"},
	})
	g, err := New(p)
	if err != nil {
		t.Fatal(err)
	}

	if v := g.Validate("import string"); !v.Valid() {
		t.Errorf("allowed module rejected: %s", v.Reason)
	}
	if v := g.Validate("env.cr.execute('SELECT 1')"); v.Kind != KindSecurityViolation {
		t.Errorf("Kind = %s, want security_violation for denied attribute", v.Kind)
	}
}

func TestGate_PolicyReturnsCopy(t *testing.T) {
	g := Default()
	p := g.Policy()
	p.DeniedModules["json"] = struct{}{}

	if v := g.Validate("import json"); !v.Valid() {
		t.Errorf("mutating Policy() result changed the gate: %s", v.Reason)
	}
}

func TestNameSet(t *testing.T) {
	s := NewNameSet("b", "a", "", " c ")
	if got := s.Sorted(); len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("Sorted() = %v, want [a b c]", got)
	}
	if s.Has("") {
		t.Error("empty name stored")
	}
}

func TestPolicy_Fingerprint(t *testing.T) {
	a := DefaultPolicy()
	b := DefaultPolicy()
	if a.Fingerprint() != b.Fingerprint() {
		t.Error("identical policies have different fingerprints")
	}

	c := a.Extend(Overrides{AllowedModules: []string{"string"}})
	if a.Fingerprint() == c.Fingerprint() {
		t.Error("extended policy kept the base fingerprint")
	}

	d := a.Extend(Overrides{MaxLoopDepth: 4})
	if a.Fingerprint() == d.Fingerprint() {
		t.Error("limit change kept the base fingerprint")
	}

	if got := Default().Fingerprint(); got != a.Fingerprint() {
		t.Errorf("Gate.Fingerprint() = %s, want %s", got, a.Fingerprint())
	}
}
