package gate

import (
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// NameSet is a read-only set of module, function or attribute names.
type NameSet map[string]struct{}

// NewNameSet builds a set from names, skipping empty entries.
func NewNameSet(names ...string) NameSet {
	s := make(NameSet, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		s[n] = struct{}{}
	}
	return s
}

// Has reports whether name is in the set.
func (s NameSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Sorted returns the members in lexical order.
func (s NameSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func (s NameSet) with(names ...string) NameSet {
	out := make(NameSet, len(s)+len(names))
	for n := range s {
		out[n] = struct{}{}
	}
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n != "" {
			out[n] = struct{}{}
		}
	}
	return out
}

// Policy holds the gate's limits and name tables. A Policy handed to New
// is copied and never modified afterwards, so one Gate can serve any
// number of concurrent callers.
//
// Imports are allow-list first: a module that is neither denied nor
// allowed nor under a trusted namespace is rejected. Functions and
// attributes are deny-list only, so unknown names pass.
type Policy struct {
	MaxCodeLength int
	MaxLoopDepth  int
	// MaxLoopIterations is advertised to callers but not enforced by the
	// structural walk; the execution layer's timeout bounds iteration.
	MaxLoopIterations int

	DeniedModules     NameSet
	AllowedModules    NameSet
	DeniedFunctions   NameSet
	DeniedAttributes  NameSet
	TrustedNamespaces []string

	Patterns []Pattern
}

// DefaultPolicy returns the stock policy for Odoo shell code.
func DefaultPolicy() Policy {
	return Policy{
		MaxCodeLength:     10000,
		MaxLoopDepth:      3,
		MaxLoopIterations: 10000,
		DeniedModules: NewNameSet(
			// process control and environment
			"os", "posix", "nt", "subprocess", "sys", "pty", "signal", "resource", "platform", "multiprocessing",
			// filesystem
			"shutil", "pathlib", "glob", "fileinput", "io", "tempfile", "mmap",
			// network
			"socket", "ssl", "select", "asyncio", "urllib", "urllib2", "urllib3", "http", "httplib",
			"requests", "ftplib", "smtplib", "telnetlib", "poplib", "imaplib", "xmlrpc",
			// introspection and import machinery
			"__builtin__", "builtins", "importlib", "imp", "pkgutil", "runpy", "inspect", "gc",
			"ctypes", "cffi", "pickle", "marshal", "code", "codeop",
			"eval", "exec", "compile", "__import__",
		),
		AllowedModules: NewNameSet(
			"datetime", "json", "re", "math", "collections", "itertools", "functools", "operator", "decimal",
		),
		DeniedFunctions: NewNameSet(
			"eval", "exec", "compile", "__import__", "open", "file", "input", "raw_input", "execfile",
			"system", "popen", "fork",
			"setuid", "setgid", "seteuid", "setegid", "setreuid", "setresuid",
			"getenv", "putenv", "unsetenv",
		),
		DeniedAttributes: NewNameSet(
			"__class__", "__bases__", "__subclasses__", "__globals__", "__code__", "__builtins__",
			"__dict__", "__func__", "__module__", "__name__", "__mro__", "__self__", "__closure__",
			"__reduce__", "__reduce_ex__", "__getattribute__", "__loader__", "__spec__", "__import__",
			"f_globals", "f_locals", "f_back", "gi_frame", "tb_frame",
			"environ", "setuid", "setgid", "seteuid", "setegid",
		),
		TrustedNamespaces: []string{"odoo"},
		Patterns:          DefaultPatterns(),
	}
}

// Overrides lists additions an operator layers on top of a base policy.
// Zero limits keep the base value.
type Overrides struct {
	MaxCodeLength     int
	MaxLoopDepth      int
	MaxLoopIterations int

	AllowedModules    []string
	DeniedModules     []string
	DeniedFunctions   []string
	DeniedAttributes  []string
	TrustedNamespaces []string
	Patterns          []Pattern
}

// Extend returns a copy of p with o applied. Names are only ever added;
// a module named in both lists ends up failing Validate.
func (p Policy) Extend(o Overrides) Policy {
	out := p.clone()
	if o.MaxCodeLength > 0 {
		out.MaxCodeLength = o.MaxCodeLength
	}
	if o.MaxLoopDepth > 0 {
		out.MaxLoopDepth = o.MaxLoopDepth
	}
	if o.MaxLoopIterations > 0 {
		out.MaxLoopIterations = o.MaxLoopIterations
	}
	out.AllowedModules = out.AllowedModules.with(o.AllowedModules...)
	out.DeniedModules = out.DeniedModules.with(o.DeniedModules...)
	out.DeniedFunctions = out.DeniedFunctions.with(o.DeniedFunctions...)
	out.DeniedAttributes = out.DeniedAttributes.with(o.DeniedAttributes...)
	for _, ns := range o.TrustedNamespaces {
		if ns != "" && !slices.Contains(out.TrustedNamespaces, ns) {
			out.TrustedNamespaces = append(out.TrustedNamespaces, ns)
		}
	}
	out.Patterns = append(out.Patterns, o.Patterns...)
	return out
}

// Validate checks that the policy is usable.
func (p Policy) Validate() error {
	if p.MaxCodeLength < 1 {
		return fmt.Errorf("%w: max_code_length must be >= 1, got %d", ErrInvalidPolicy, p.MaxCodeLength)
	}
	if p.MaxLoopDepth < 1 {
		return fmt.Errorf("%w: max_loop_depth must be >= 1, got %d", ErrInvalidPolicy, p.MaxLoopDepth)
	}
	if p.MaxLoopIterations < 0 {
		return fmt.Errorf("%w: max_loop_iterations must be >= 0, got %d", ErrInvalidPolicy, p.MaxLoopIterations)
	}
	for _, name := range p.AllowedModules.Sorted() {
		if p.DeniedModules.Has(name) {
			return fmt.Errorf("%w: module %q is both allowed and denied", ErrInvalidPolicy, name)
		}
	}
	for _, ns := range p.TrustedNamespaces {
		if strings.TrimSpace(ns) == "" {
			return fmt.Errorf("%w: trusted namespace must not be empty", ErrInvalidPolicy)
		}
		if p.DeniedModules.Has(ns) {
			return fmt.Errorf("%w: trusted namespace %q is a denied module", ErrInvalidPolicy, ns)
		}
	}
	for i, pat := range p.Patterns {
		if pat.Regex == nil {
			return fmt.Errorf("%w: pattern %d (%s) has no expression", ErrInvalidPolicy, i, pat.Name)
		}
	}
	return nil
}

// trusted reports whether module sits under one of the host application's
// namespaces. Matching is by prefix, so "odoo" also admits "odoo_addons".
func (p *Policy) trusted(module string) bool {
	for _, ns := range p.TrustedNamespaces {
		if strings.HasPrefix(module, ns) {
			return true
		}
	}
	return false
}

// Fingerprint identifies the policy's effective content. Two policies with
// the same limits, tables and patterns have the same fingerprint, so it can
// key cached verdicts across processes.
func (p Policy) Fingerprint() string {
	h := xxhash.New()
	fmt.Fprintf(h, "%d|%d|%d\n", p.MaxCodeLength, p.MaxLoopDepth, p.MaxLoopIterations)
	for _, set := range []NameSet{p.DeniedModules, p.AllowedModules, p.DeniedFunctions, p.DeniedAttributes} {
		_, _ = h.WriteString(strings.Join(set.Sorted(), ","))
		_, _ = h.WriteString("\n")
	}
	_, _ = h.WriteString(strings.Join(p.TrustedNamespaces, ","))
	for _, pat := range p.Patterns {
		fmt.Fprintf(h, "\n%s=%s", pat.Name, pat.Regex)
	}
	return strconv.FormatUint(h.Sum64(), 16)
}

func (p Policy) clone() Policy {
	out := p
	out.DeniedModules = p.DeniedModules.with()
	out.AllowedModules = p.AllowedModules.with()
	out.DeniedFunctions = p.DeniedFunctions.with()
	out.DeniedAttributes = p.DeniedAttributes.with()
	out.TrustedNamespaces = slices.Clone(p.TrustedNamespaces)
	out.Patterns = slices.Clone(p.Patterns)
	return out
}
