package gate

import (
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
)

// policyVisitor walks a tree-sitter-python tree once, pre-order, and
// returns a *SecurityError for the first disallowed construct. Its only
// state is the loop depth of the current walk.
type policyVisitor struct {
	policy    *Policy
	source    []byte
	loopDepth int
}

func newPolicyVisitor(policy *Policy, source []byte) *policyVisitor {
	return &policyVisitor{policy: policy, source: source}
}

func (v *policyVisitor) visit(n *tree_sitter.Node) error {
	var err error
	switch n.Kind() {
	case "import_statement":
		err = v.visitImport(n)
	case "import_from_statement":
		err = v.visitImportFrom(n)
	case "future_import_statement":
		err = v.checkModule("__future__", "Import from")
	case "call":
		err = v.visitCall(n)
	case "exec_statement":
		err = violation(RuleDeniedFunction, "Call to potentially dangerous function 'exec' is not allowed")
	case "attribute":
		err = v.visitAttribute(n)
	case "for_statement":
		return v.visitLoop(n, false)
	case "while_statement":
		return v.visitLoop(n, true)
	case "function_definition":
		err = v.visitFunctionDef(n)
	}
	if err != nil {
		return err
	}
	return v.visitChildren(n)
}

func (v *policyVisitor) visitChildren(n *tree_sitter.Node) error {
	for i := uint(0); i < n.NamedChildCount(); i++ {
		child := n.NamedChild(i)
		if child == nil {
			continue
		}
		if err := v.visit(child); err != nil {
			return err
		}
	}
	return nil
}

// visitImport checks every name of `import a.b, c as d`.
func (v *policyVisitor) visitImport(n *tree_sitter.Node) error {
	for i := uint(0); i < n.NamedChildCount(); i++ {
		name := n.NamedChild(i)
		if name != nil && name.Kind() == "aliased_import" {
			name = name.ChildByFieldName("name")
		}
		if name == nil || name.Kind() != "dotted_name" {
			continue
		}
		if err := v.checkModule(v.topLevel(name), "Import of"); err != nil {
			return err
		}
	}
	return nil
}

// visitImportFrom checks the source module of `from x.y import z`. A bare
// relative import (`from . import z`) names no module and passes.
func (v *policyVisitor) visitImportFrom(n *tree_sitter.Node) error {
	module := n.ChildByFieldName("module_name")
	if module != nil && module.Kind() == "relative_import" {
		var dotted *tree_sitter.Node
		for i := uint(0); i < module.NamedChildCount(); i++ {
			if c := module.NamedChild(i); c != nil && c.Kind() == "dotted_name" {
				dotted = c
				break
			}
		}
		module = dotted
	}
	if module == nil {
		return nil
	}
	return v.checkModule(v.topLevel(module), "Import from")
}

func (v *policyVisitor) checkModule(module, verb string) error {
	if v.policy.DeniedModules.Has(module) {
		return violation(RuleDeniedModule, "%s potentially dangerous module '%s' is not allowed", verb, module)
	}
	if !v.policy.AllowedModules.Has(module) && !v.policy.trusted(module) {
		return restriction(RuleUnlistedModule, "%s module '%s' is not explicitly allowed", verb, module)
	}
	return nil
}

// topLevel returns the first component of a dotted name.
func (v *policyVisitor) topLevel(dotted *tree_sitter.Node) string {
	if dotted.NamedChildCount() > 0 {
		return nodeText(dotted.NamedChild(0), v.source)
	}
	name, _, _ := strings.Cut(nodeText(dotted, v.source), ".")
	return strings.TrimSpace(name)
}

func (v *policyVisitor) visitCall(n *tree_sitter.Node) error {
	fn := unparen(n.ChildByFieldName("function"))
	if fn == nil {
		return nil
	}
	switch fn.Kind() {
	case "identifier":
		if name := nodeText(fn, v.source); v.policy.DeniedFunctions.Has(name) {
			return violation(RuleDeniedFunction, "Call to potentially dangerous function '%s' is not allowed", name)
		}
	case "attribute":
		if name := nodeText(fn.ChildByFieldName("attribute"), v.source); v.policy.DeniedFunctions.Has(name) {
			return violation(RuleDeniedFunction, "Call to potentially dangerous method '%s' is not allowed", name)
		}
	}
	return nil
}

// unparen strips grouping parentheses, so (eval)(x) is checked like eval(x).
func unparen(n *tree_sitter.Node) *tree_sitter.Node {
	for n != nil && n.Kind() == "parenthesized_expression" {
		var inner *tree_sitter.Node
		for i := uint(0); i < n.NamedChildCount(); i++ {
			if c := n.NamedChild(i); c != nil && c.Kind() != "comment" {
				inner = c
				break
			}
		}
		n = inner
	}
	return n
}

func (v *policyVisitor) visitAttribute(n *tree_sitter.Node) error {
	name := nodeText(n.ChildByFieldName("attribute"), v.source)
	if v.policy.DeniedAttributes.Has(name) {
		return violation(RuleDeniedAttribute, "Access to potentially dangerous attribute '%s' is not allowed", name)
	}
	return nil
}

func (v *policyVisitor) visitLoop(n *tree_sitter.Node, isWhile bool) error {
	v.loopDepth++
	defer func() { v.loopDepth-- }()

	if v.loopDepth > v.policy.MaxLoopDepth {
		return violation(RuleLoopDepth, "Nested loops exceed maximum depth of %d", v.policy.MaxLoopDepth)
	}
	if isWhile && !hasBreak(n) {
		return violation(RuleUnboundedWhile, "While loop must have a clear termination condition")
	}
	return v.visitChildren(n)
}

// hasBreak reports whether a break statement appears anywhere under n.
// Reachability is not considered.
func hasBreak(n *tree_sitter.Node) bool {
	if n.Kind() == "break_statement" {
		return true
	}
	for i := uint(0); i < n.NamedChildCount(); i++ {
		if c := n.NamedChild(i); c != nil && hasBreak(c) {
			return true
		}
	}
	return false
}

func (v *policyVisitor) visitFunctionDef(n *tree_sitter.Node) error {
	name := nodeText(n.ChildByFieldName("name"), v.source)
	if !strings.HasPrefix(name, "_") {
		return nil
	}
	if first := n.Child(0); first != nil && first.Kind() == "async" {
		return violation(RulePrivateFunction, "Definition of private async function '%s' is not allowed", name)
	}
	return violation(RulePrivateFunction, "Definition of private function '%s' is not allowed", name)
}
