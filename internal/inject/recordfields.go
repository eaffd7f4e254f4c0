package inject

import (
	"github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/js"
)

// fieldVisitor walks a parsed JS AST collecting every `.name` property
// access, the "accessed record-field names" §4.J needs to compare two
// optimize-mode compiles for the reload-vs-patch decision. Built the same
// way the teacher's routeCallVisitor walks js.INode (fw/build/vorma_build.go):
// a small js.IVisitor that only cares about one node shape.
type fieldVisitor struct {
	fields map[string]struct{}
}

func (v *fieldVisitor) Enter(n js.INode) js.IVisitor {
	if dot, ok := n.(*js.DotExpr); ok {
		if dot.Y.TokenType == js.IdentifierToken {
			v.fields[string(dot.Y.Data)] = struct{}{}
		}
	}
	return v
}

func (v *fieldVisitor) Exit(n js.INode) {}

// AccessedRecordFields parses code with a real JS lexer/parser (rather than
// the regex-over-string-and-comment-stripped-source the "token-aware scan"
// wording in §4.J describes) and returns the set of property-access names
// appearing in it, soundly skipping string/comment/regex-literal content
// because the parser itself classifies those. internal/hotserver computes it
// for every compile but compares two sets only when the previous and current
// compiles were both in optimize mode, where record fields really are
// minified to short names (§4.J, §8 "record field set").
func AccessedRecordFields(code string) (map[string]struct{}, error) {
	ast, err := js.Parse(parse.NewInputString(code), js.Options{})
	if err != nil {
		return nil, err
	}

	v := &fieldVisitor{fields: make(map[string]struct{})}
	js.Walk(v, ast)
	return v.fields, nil
}

// RecordFieldsChanged reports whether the accessed-field sets of two
// compiles differ, the condition under which the server must emit
// SuccessfullyCompiledButRecordFieldsChanged instead of SuccessfullyCompiled
// (§4.J, §8).
func RecordFieldsChanged(previous, current map[string]struct{}) bool {
	if len(previous) != len(current) {
		return true
	}
	for f := range current {
		if _, ok := previous[f]; !ok {
			return true
		}
	}
	return false
}
