package util

import (
	"go/ast"
	"go/parser"
	"go/token"
	"io/fs"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"testing"
)

// tintlog hands colorized strings to the format, only %s and %v print them
var nonStringVerb = regexp.MustCompile(`%[-+# 0-9.]*[^-+# 0-9.sv%]`)

func TestLogFormatsUseStringVerbs(t *testing.T) {
	root := filepath.Join("..", "..")
	fset := token.NewFileSet()
	checked := 0

	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() || !strings.HasSuffix(path, ".go") {
			return nil
		}
		file, parseErr := parser.ParseFile(fset, path, nil, 0)
		if parseErr != nil {
			return parseErr
		}
		ast.Inspect(file, func(node ast.Node) bool {
			call, ok := node.(*ast.CallExpr)
			if !ok || len(call.Args) < 3 {
				return true
			}
			selector, ok := call.Fun.(*ast.SelectorExpr)
			if !ok || selector.Sel.Name != "Log" {
				return true
			}
			pkg, ok := selector.X.(*ast.Ident)
			if !ok || pkg.Name != "tl" {
				return true
			}
			literal, ok := call.Args[2].(*ast.BasicLit)
			if !ok || literal.Kind != token.STRING {
				return true
			}
			format, unquoteErr := strconv.Unquote(literal.Value)
			if unquoteErr != nil {
				return true
			}
			checked++
			format = strings.ReplaceAll(format, "%%", "")
			if verb := nonStringVerb.FindString(format); verb != "" {
				t.Errorf("%s: tl.Log format %q uses %s, want %%s or %%v", fset.Position(literal.Pos()), format, verb)
			}
			return true
		})
		return nil
	})
	if err != nil {
		t.Fatalf("walk sources: %v", err)
	}
	if checked == 0 {
		t.Fatal("found no tl.Log calls to check")
	}
}
