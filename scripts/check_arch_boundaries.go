package main

import (
	"fmt"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// allowed lists, per internal package, the internal packages it may import.
// The engine is the only writer of view state; rendering packages never
// reach the store or the job service directly.
var allowed = map[string]map[string]bool{
	"cli": {
		"config":    true,
		"dashboard": true,
		"engine":    true,
		"jobclient": true,
		"logging":   true,
		"model":     true,
		"notify":    true,
		"poll":      true,
		"present":   true,
		"reconcile": true,
		"viewstore": true,
	},
	"dashboard": {
		"engine":    true,
		"jobclient": true,
		"model":     true,
		"notify":    true,
		"poll":      true,
		"present":   true,
		"reconcile": true,
	},
	"engine": {
		"jobclient": true,
		"model":     true,
		"notify":    true,
		"poll":      true,
		"reconcile": true,
		"viewstore": true,
	},
	"present": {
		"model":     true,
		"reconcile": true,
	},
	"jobclient": {"model": true},
	"reconcile": {"model": true},
	"viewstore": {"model": true},
	"model":     {},
	"poll":      {},
	"notify":    {},
	"config":    {},
	"logging":   {},
}

func main() {
	violations, err := check("internal")
	if err != nil {
		fmt.Fprintf(os.Stderr, "boundary walk failed: %v\n", err)
		os.Exit(1)
	}
	if len(violations) > 0 {
		fmt.Fprintln(os.Stderr, "architecture boundary violations detected:")
		for _, v := range violations {
			fmt.Fprintf(os.Stderr, "- %s\n", v)
		}
		os.Exit(1)
	}
	fmt.Println("architecture boundary check: OK")
}

// check walks the non-test sources under root and reports every internal
// import the allow list does not permit.
func check(root string) ([]string, error) {
	var violations []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		rel, err := filepath.Rel(filepath.Dir(root), path)
		if err != nil {
			return err
		}
		srcPkg := sourcePackage(rel)
		if srcPkg == "" {
			return nil
		}
		allowMap, ok := allowed[srcPkg]
		if !ok {
			violations = append(violations, fmt.Sprintf("%s: unknown source package %q", rel, srcPkg))
			return nil
		}

		file, err := parser.ParseFile(token.NewFileSet(), path, nil, parser.ImportsOnly)
		if err != nil {
			return err
		}
		for _, imp := range file.Imports {
			tgtPkg, ok := targetPackage(strings.Trim(imp.Path.Value, "\""))
			if !ok || tgtPkg == srcPkg {
				continue
			}
			if !allowMap[tgtPkg] {
				violations = append(violations, fmt.Sprintf("%s: %s -> %s is forbidden", rel, srcPkg, tgtPkg))
			}
		}
		return nil
	})
	return violations, err
}

func sourcePackage(path string) string {
	parts := strings.Split(filepath.ToSlash(path), "/")
	if len(parts) < 2 || parts[0] != "internal" {
		return ""
	}
	return parts[1]
}

func targetPackage(importPath string) (string, bool) {
	const prefix = "proxy-dashboard/internal/"
	if !strings.HasPrefix(importPath, prefix) {
		return "", false
	}
	rest := strings.TrimPrefix(importPath, prefix)
	if rest == "" {
		return "", false
	}
	parts := strings.Split(rest, "/")
	return parts[0], true
}
