package gate

import (
	"errors"
	"testing"
)

func TestDefaultPatterns_FirstMatch(t *testing.T) {
	patterns := DefaultPatterns()

	tests := []struct {
		code string
		want string
	}{
		{"x = __builtins__", "special_attribute"},
		{`p = "../../etc"`, "path_traversal"},
		{"c = chr(65)", "char_code"},
		{`s = "\x41"`, "hex_escape"},
		{"data = b64decode(blob)", "base64"},
		{`s = "\u0041"`, "unicode_escape"},
		{`s = "\101"`, "octal_escape"},
		{`t = "aGVsbG8gd29ybGQh=="`, "encoded_payload"},
		{"t = b'c2VjcmV0X3Rva2VuMTIz='", "encoded_payload"},
		{`raw = bytes.fromhex("41")`, "string_decoding"},
		{"value = getattr(obj, 'name')", "dynamic_access"},
		{"records = partners.sudo()", "privilege_escalation"},
		{`shell = "/bin/sh"`, "shell_invocation"},
		{`f = "/etc/shadow"`, "sensitive_file"},
		{`p = "/sys/fs/cgroup"`, "container_breakout"},
		{`u = "http://169.254.169.254/"`, "metadata_service"},
		{`c = "nc -e 10.0.0.1"`, "reverse_shell"},
		{`c = "/dev/tcp/10.0.0.1/4444"`, "reverse_shell"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			p, ok := matchPattern(patterns, tt.code)
			if !ok {
				t.Fatalf("no pattern matched %q", tt.code)
			}
			if p.Name != tt.want {
				t.Errorf("matched %s, want %s", p.Name, tt.want)
			}
		})
	}
}

func TestDefaultPatterns_OrderDecidesDescription(t *testing.T) {
	p, ok := matchPattern(DefaultPatterns(), `p = "../" + "\x41" + chr(65)`)
	if !ok {
		t.Fatal("expected a match")
	}
	if p.Description != "Path traversal attempt" {
		t.Errorf("Description = %q, want the earliest listed pattern", p.Description)
	}
}

func TestDefaultPatterns_Benign(t *testing.T) {
	inputs := []string{
		"result = env['res.partner'].search([('is_company', '=', True)])",
		"total = sum(line.price_subtotal for line in order.order_line)",
		"path = '/opt/odoo/addons/sale/models/sale_order.py'",
		"_name = 'sale.order'",
		"ratio = a / b if b else 0",
		"message = 'Order %s confirmed' % order.name",
		"totalinvoiceamount=5",
		"order.write(dict(amountuntaxedsigned=0))",
		"if totalinvoiceamount==expectedamount: pass",
	}
	for _, code := range inputs {
		if p, ok := matchPattern(DefaultPatterns(), code); ok {
			t.Errorf("%q matched %s", code, p.Name)
		}
	}
}

func TestCompilePattern(t *testing.T) {
	p, err := CompilePattern("ldap", `ldap://`, "")
	if err != nil {
		t.Fatal(err)
	}
	if p.Description != "ldap" {
		t.Errorf("Description = %q, want name as fallback", p.Description)
	}
	if !p.Regex.MatchString("url = 'ldap://corp'") {
		t.Error("compiled pattern does not match")
	}

	if _, err := CompilePattern("broken", `(`, "broken"); !errors.Is(err, ErrInvalidPolicy) {
		t.Errorf("err = %v, want ErrInvalidPolicy", err)
	}
}
