package gate

import (
	"fmt"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_python "github.com/tree-sitter/tree-sitter-python/bindings/go"
)

var pythonLanguage = tree_sitter.NewLanguage(tree_sitter_python.Language())

// ParseError describes the first syntax error found in the source.
type ParseError struct {
	Line   int
	Column int
	Msg    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s (line %d, column %d)", e.Msg, e.Line, e.Column)
}

func (e *ParseError) Unwrap() error {
	return ErrSyntax
}

// syntaxTree owns a parsed tree and the bytes it was parsed from.
type syntaxTree struct {
	tree   *tree_sitter.Tree
	source []byte
}

func (t *syntaxTree) root() *tree_sitter.Node {
	return t.tree.RootNode()
}

func (t *syntaxTree) Close() {
	t.tree.Close()
}

// parse builds a syntax tree for code. Tree-sitter recovers from errors,
// so a tree containing ERROR or MISSING nodes is reported as a
// *ParseError rather than returned.
func parse(code string) (*syntaxTree, error) {
	parser := tree_sitter.NewParser()
	defer parser.Close()

	if err := parser.SetLanguage(pythonLanguage); err != nil {
		return nil, fmt.Errorf("setting parser language: %w", err)
	}

	source := []byte(code)
	tree := parser.Parse(source, nil)
	if tree == nil {
		return nil, fmt.Errorf("parser returned nil tree")
	}

	root := tree.RootNode()
	perr := firstSyntaxError(root)
	if perr == nil && root.HasError() {
		perr = newParseError(root, "invalid syntax")
	}
	if perr != nil {
		tree.Close()
		return nil, perr
	}
	return &syntaxTree{tree: tree, source: source}, nil
}

// firstSyntaxError returns the first error in document order. Messages
// name the position only and never echo source text. The legacy print
// statement and a dangling bare * are accepted by the grammar but are not
// Python 3.
func firstSyntaxError(n *tree_sitter.Node) *ParseError {
	if n == nil {
		return nil
	}

	switch {
	case n.IsMissing():
		return newParseError(n, fmt.Sprintf("missing '%s'", n.Kind()))
	case n.IsError():
		return newParseError(n, "invalid syntax")
	case n.Kind() == "print_statement":
		return newParseError(n, "Missing parentheses in call to 'print'")
	case n.Kind() == "keyword_separator" && !followedByNamedParam(n):
		return newParseError(n, "named arguments must follow bare *")
	}

	for i := uint(0); i < n.ChildCount(); i++ {
		if perr := firstSyntaxError(n.Child(i)); perr != nil {
			return perr
		}
	}
	return nil
}

// followedByNamedParam reports whether a bare * in a parameter list is
// followed by a keyword-only parameter. The grammar allows "*" alone or
// "*, **kw"; Python does not.
func followedByNamedParam(sep *tree_sitter.Node) bool {
	next := sep.NextNamedSibling()
	for next != nil && next.Kind() == "comment" {
		next = next.NextNamedSibling()
	}
	return next != nil && next.Kind() != "dictionary_splat_pattern" && next.Kind() != "positional_separator"
}

func newParseError(n *tree_sitter.Node, msg string) *ParseError {
	pos := n.StartPosition()
	return &ParseError{
		Line:   int(pos.Row) + 1,
		Column: int(pos.Column) + 1,
		Msg:    msg,
	}
}

func nodeText(n *tree_sitter.Node, source []byte) string {
	if n == nil {
		return ""
	}
	return n.Utf8Text(source)
}
