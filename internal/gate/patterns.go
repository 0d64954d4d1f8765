package gate

import (
	"fmt"
	"regexp"
)

// Pattern is a textual heuristic applied to the raw code after the
// structural walk. It catches constructs that are invisible to the tree
// rules, such as payloads hidden in string literals.
type Pattern struct {
	Name        string
	Description string
	Regex       *regexp.Regexp
}

// CompilePattern builds a Pattern from a regular expression source.
func CompilePattern(name, expr, description string) (Pattern, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return Pattern{}, fmt.Errorf("%w: pattern %q: %v", ErrInvalidPolicy, name, err)
	}
	if description == "" {
		description = name
	}
	return Pattern{Name: name, Description: description, Regex: re}, nil
}

// DefaultPatterns returns the ordered suspicious pattern list. Order
// matters: the first match determines the reported description.
func DefaultPatterns() []Pattern {
	return []Pattern{
		{
			Name:        "special_attribute",
			Description: "Access to special attributes",
			Regex:       regexp.MustCompile(`__[a-zA-Z]+__`),
		},
		{
			Name:        "path_traversal",
			Description: "Path traversal attempt",
			Regex:       regexp.MustCompile(`\.\.[/\\]`),
		},
		{
			Name:        "char_code",
			Description: "Character code manipulation",
			Regex:       regexp.MustCompile(`chr\s*\(\s*\d+\s*\)`),
		},
		{
			Name:        "hex_escape",
			Description: "Hex character codes",
			Regex:       regexp.MustCompile(`\\x[0-9a-fA-F]{2}`),
		},
		{
			Name:        "base64",
			Description: "Base64 encoding/decoding",
			Regex:       regexp.MustCompile(`(?i)base64|b64(en|de)code`),
		},
		{
			Name:        "unicode_escape",
			Description: "Unicode character codes",
			Regex:       regexp.MustCompile(`\\[uU][0-9a-fA-F]{4}`),
		},
		{
			Name:        "octal_escape",
			Description: "Octal character codes",
			Regex:       regexp.MustCompile(`\\[0-7]{3}`),
		},
		{
			Name:        "encoded_payload",
			Description: "Base64-like encoded payload",
			Regex:       regexp.MustCompile(`(?m)[A-Za-z0-9+/]{16,}={1,2}(?:['"]|$)|[A-Za-z0-9+]{48,}`),
		},
		{
			Name:        "string_decoding",
			Description: "Encoded string decoding",
			Regex:       regexp.MustCompile(`(?i)fromhex\s*\(|\.decode\s*\(\s*['"](rot|hex|zlib|bz2|uu)|\b(codecs|binascii|marshal|pickle)\.`),
		},
		{
			Name:        "dynamic_access",
			Description: "Dynamic attribute or namespace access",
			Regex:       regexp.MustCompile(`\b(getattr|setattr|delattr|globals|locals|vars)\s*\(`),
		},
		{
			Name:        "privilege_escalation",
			Description: "Privilege escalation attempt",
			Regex:       regexp.MustCompile(`(?i)\b(sudo|doas|pkexec|setuid|setgid|seteuid|setegid|setreuid|chown|chmod)\b`),
		},
		{
			Name:        "shell_invocation",
			Description: "Shell command invocation",
			Regex:       regexp.MustCompile(`\b(system|popen|spawn[lv]p?e?|exec[lv]p?e?)\s*\(|/bin/(ba|z|da)?sh\b|\$\([^)]*\)`),
		},
		{
			Name:        "sensitive_file",
			Description: "Sensitive system file reference",
			Regex:       regexp.MustCompile(`/etc/(passwd|shadow|sudoers|group)\b|/proc/self|~/\.ssh|\.aws/credentials`),
		},
		{
			Name:        "container_breakout",
			Description: "Container breakout attempt",
			Regex:       regexp.MustCompile(`/sys/fs/cgroup|notify_on_release|release_agent|/var/run/(docker|containerd)|(docker|containerd)\.sock`),
		},
		{
			Name:        "metadata_service",
			Description: "Cloud metadata service access",
			Regex:       regexp.MustCompile(`169\.254\.169\.254|metadata\.google|metadata\.aws`),
		},
		{
			Name:        "reverse_shell",
			Description: "Potential reverse shell",
			Regex:       regexp.MustCompile(`(?i)\b(nc|ncat|netcat|socat)\s+.*-[elp]\b|/dev/tcp/`),
		},
	}
}

func matchPattern(patterns []Pattern, code string) (Pattern, bool) {
	for _, p := range patterns {
		if p.Regex.MatchString(code) {
			return p, true
		}
	}
	return Pattern{}, false
}
