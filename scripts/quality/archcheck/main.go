package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
)

const modulePrefix = "ex-vellum/"

type listedPackage struct {
	ImportPath   string
	Imports      []string
	TestImports  []string
	XTestImports []string
}

func main() {
	packages, err := listPackages()
	if err != nil {
		fmt.Fprintf(os.Stderr, "arch-check: %v\n", err)
		os.Exit(1)
	}

	violations := collectViolations(packages)
	if len(violations) == 0 {
		_, _ = fmt.Fprintf(os.Stdout, "arch-check: passed\n")
		return
	}

	_, _ = fmt.Fprintf(os.Stdout, "arch-check: architecture violations:\n")
	for _, violation := range violations {
		_, _ = fmt.Fprintf(os.Stdout, "  - %s\n", violation)
	}
	os.Exit(1)
}

func listPackages() ([]listedPackage, error) {
	cmd := exec.Command("go", "list", "-json", "-test", "./...")
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("go list -json -test ./...: %w", err)
	}

	decoder := json.NewDecoder(bytes.NewReader(stdout.Bytes()))
	result := make([]listedPackage, 0, 64)
	for {
		var pkg listedPackage
		if err := decoder.Decode(&pkg); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("decode go list output: %w", err)
		}
		if pkg.ImportPath == "" {
			continue
		}
		result = append(result, pkg)
	}

	return result, nil
}

func collectViolations(packages []listedPackage) []string {
	found := make(map[string]struct{})

	for _, pkg := range packages {
		imports := append([]string{}, pkg.Imports...)
		imports = append(imports, pkg.TestImports...)
		imports = append(imports, pkg.XTestImports...)

		for _, imported := range imports {
			reason := violationReason(pkg.ImportPath, imported)
			if reason == "" {
				continue
			}
			entry := fmt.Sprintf("%s -> %s (%s)", pkg.ImportPath, imported, reason)
			found[entry] = struct{}{}
		}
	}

	violations := make([]string, 0, len(found))
	for violation := range found {
		violations = append(violations, violation)
	}
	sort.Strings(violations)

	return violations
}

type importRule struct {
	importer string
	imported []string
	reason   string
}

var importRules = []importRule{
	{
		importer: "pkg/vellum",
		imported: []string{"internal/", "modules/"},
		reason:   "pkg/vellum must not import internal/* or modules/*",
	},
	{
		importer: "internal/kernel",
		imported: []string{"internal/driver", "internal/distribution", "internal/session"},
		reason:   "internal/kernel must not import transports or session composition",
	},
	{
		importer: "internal/resolver",
		imported: []string{"internal/render", "internal/richtext", "internal/distribution"},
		reason:   "internal/resolver must stay independent of markup formats and distribution",
	},
	{
		importer: "internal/distribution",
		imported: []string{"internal/resolver", "internal/render", "internal/session"},
		reason:   "internal/distribution carries markup only and must not resolve pages",
	},
	{
		importer: "modules/",
		imported: []string{"internal/session", "internal/driver", "internal/httpapi"},
		reason:   "modules/* must not import session composition, transports or the http api",
	},
}

func violationReason(importer, imported string) string {
	if !strings.HasPrefix(importer, modulePrefix) || !strings.HasPrefix(imported, modulePrefix) {
		return ""
	}
	importerPath := strings.TrimPrefix(importer, modulePrefix)
	importedPath := strings.TrimPrefix(imported, modulePrefix)

	for _, rule := range importRules {
		if !strings.HasPrefix(importerPath, rule.importer) {
			continue
		}
		for _, forbidden := range rule.imported {
			if strings.HasPrefix(importedPath, forbidden) {
				return rule.reason
			}
		}
	}

	return ""
}
