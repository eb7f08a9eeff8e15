package strategy

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
)

// forbiddenImports are rejected outright: anything that gives a strategy
// its own network, filesystem, subprocess, or wall-clock access defeats
// the IO contract — `now` must stay authoritative. Package os and package
// time may be imported; their file and clock calls are caught by
// forbiddenSelectors.
var forbiddenImports = map[string]bool{
	"net":         true,
	"net/http":    true,
	"os/exec":     true,
	"syscall":     true,
	"database/sql": true,
	"io/ioutil":   true,
}

// forbiddenSelectors catches direct wall-clock reads and file access that
// would bypass the IO contract even without importing a forbidden package
// (e.g. `time.Now()` is legal to import but not to call).
var forbiddenSelectors = map[string]string{
	"time.Now":     "direct wall-clock read; use the now parameter",
	"os.Open":      "filesystem access",
	"os.OpenFile":  "filesystem access",
	"os.Create":    "filesystem access",
	"os.ReadFile":  "filesystem access",
	"os.WriteFile": "filesystem access",
	"os.ReadDir":   "filesystem access",
	"os.Remove":    "filesystem access",
}

// CheckPurity statically verifies a strategy source file contains none of
// the forbidden imports or selector expressions. This runs before a
// subprocess strategy is ever loaded.
func CheckPurity(filename string, src []byte) error {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, filename, src, parser.ImportsOnly|parser.ParseComments)
	if err != nil {
		return fmt.Errorf("strategy.CheckPurity: parse imports: %w", err)
	}
	for _, imp := range file.Imports {
		path := trimQuotes(imp.Path.Value)
		if forbiddenImports[path] {
			return fmt.Errorf("strategy.CheckPurity: forbidden import %q", path)
		}
	}

	full, err := parser.ParseFile(fset, filename, src, 0)
	if err != nil {
		return fmt.Errorf("strategy.CheckPurity: parse: %w", err)
	}
	var violation error
	ast.Inspect(full, func(n ast.Node) bool {
		if violation != nil {
			return false
		}
		call, ok := n.(*ast.CallExpr)
		if !ok {
			return true
		}
		sel, ok := call.Fun.(*ast.SelectorExpr)
		if !ok {
			return true
		}
		ident, ok := sel.X.(*ast.Ident)
		if !ok {
			return true
		}
		key := ident.Name + "." + sel.Sel.Name
		if reason, bad := forbiddenSelectors[key]; bad {
			violation = fmt.Errorf("strategy.CheckPurity: forbidden call %s: %s", key, reason)
			return false
		}
		return true
	})
	return violation
}

func trimQuotes(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
