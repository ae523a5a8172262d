package harness

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strconv"
	"strings"
)

// FileTests describes the test functions declared in one Go source file.
type FileTests struct {
	Package  string
	Tests    []string
	Warnings []string
}

// FindTestFunctions parses src and returns the names of its Test functions
// in declaration order. TestMain is skipped. Functions that look like tests
// but have the wrong signature are reported as warnings.
func FindTestFunctions(filename string, src []byte) (*FileTests, error) {
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, filename, src, parser.SkipObjectResolution)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filename, err)
	}

	result := &FileTests{Package: f.Name.Name}
	testingName := testingImportName(f)

	for _, decl := range f.Decls {
		funcDecl, ok := decl.(*ast.FuncDecl)
		if !ok || funcDecl.Recv != nil {
			continue
		}
		name := funcDecl.Name.Name
		if !isTestName(name) || name == "TestMain" {
			continue
		}
		if testingName == "" || !hasTestSignature(funcDecl.Type, testingName) {
			result.Warnings = append(result.Warnings, fmt.Sprintf("%s: %s has malformed signature, want func(*testing.T)",
				fset.Position(funcDecl.Pos()), name))
			continue
		}
		result.Tests = append(result.Tests, name)
	}
	return result, nil
}

// isTestName matches the go test rule: Test followed by nothing or a
// non-lowercase rune.
func isTestName(name string) bool {
	rest, ok := strings.CutPrefix(name, "Test")
	if !ok {
		return false
	}
	if rest == "" {
		return true
	}
	c := rest[0]
	return !('a' <= c && c <= 'z')
}

func testingImportName(f *ast.File) string {
	for _, imp := range f.Imports {
		path, err := strconv.Unquote(imp.Path.Value)
		if err != nil || path != "testing" {
			continue
		}
		if imp.Name == nil {
			return "testing"
		}
		if imp.Name.Name == "_" {
			return ""
		}
		return imp.Name.Name
	}
	return ""
}

func hasTestSignature(ft *ast.FuncType, testingName string) bool {
	if ft.TypeParams != nil && len(ft.TypeParams.List) > 0 {
		return false
	}
	if ft.Results != nil && len(ft.Results.List) > 0 {
		return false
	}
	if ft.Params == nil || len(ft.Params.List) != 1 || len(ft.Params.List[0].Names) > 1 {
		return false
	}
	star, ok := ft.Params.List[0].Type.(*ast.StarExpr)
	if !ok {
		return false
	}
	sel, ok := star.X.(*ast.SelectorExpr)
	if !ok || sel.Sel.Name != "T" {
		return false
	}
	pkg, ok := sel.X.(*ast.Ident)
	return ok && pkg.Name == testingName
}
