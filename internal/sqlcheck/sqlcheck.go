// Package sqlcheck lints generated SQL with the tree-sitter SQL grammar
// before it reaches the store.
package sqlcheck

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	sqllang "github.com/smacker/go-tree-sitter/sql"
)

// SyntaxError locates a syntax error in a statement.
type SyntaxError struct {
	SQL    string
	Line   uint32 // 0-indexed
	Column uint32 // 0-indexed
	Near   string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%d:%d: syntax error near %q in %s", e.Line+1, e.Column+1, e.Near, e.SQL)
}

// Validate parses stmt and returns a *SyntaxError if the tree contains
// errors. Positional ? parameters are accepted anywhere a value is.
func Validate(stmt string) error {
	errs, err := Errors(stmt)
	if err != nil {
		return err
	}
	if len(errs) == 0 {
		return nil
	}
	return &errs[0]
}

// Errors returns every syntax error of stmt.
func Errors(stmt string) ([]SyntaxError, error) {
	src := []byte(placeholders(stmt))
	parser := sitter.NewParser()
	parser.SetLanguage(sqllang.GetLanguage())

	tree, err := parser.ParseCtx(context.Background(), nil, src)
	if err != nil {
		return nil, fmt.Errorf("tree-sitter parse failed: %w", err)
	}
	root := tree.RootNode()
	if root == nil {
		return nil, fmt.Errorf("tree-sitter returned nil root")
	}
	if !root.HasError() {
		return nil, nil
	}
	var errs []SyntaxError
	collect(root, src, stmt, &errs)
	if len(errs) == 0 {
		errs = append(errs, SyntaxError{SQL: stmt, Near: stmt})
	}
	return errs, nil
}

func collect(node *sitter.Node, src []byte, stmt string, errs *[]SyntaxError) {
	if node.IsError() || node.IsMissing() {
		near := node.Content(src)
		if node.IsMissing() {
			near = node.Type()
		}
		*errs = append(*errs, SyntaxError{
			SQL:    stmt,
			Line:   node.StartPoint().Row,
			Column: node.StartPoint().Column,
			Near:   near,
		})
		return
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		if child := node.Child(i); child.HasError() || child.IsError() || child.IsMissing() {
			collect(child, src, stmt, errs)
		}
	}
}

// placeholders swaps each ? outside quotes for NULL, which the grammar
// accepts wherever an expression is. Error columns shift by 3 per
// replaced parameter before them.
func placeholders(stmt string) string {
	var b strings.Builder
	var quote rune
	for _, r := range stmt {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
		case r == '?':
			b.WriteString("NULL")
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
