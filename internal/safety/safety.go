// Package safety is the static gate in front of every sandbox execution: it
// analyzes the parsed syntax tree of a candidate program and rejects
// known-dangerous constructs before the code can run. Operating on the tree
// rather than the raw text closes simple string-obfuscation gaps.
package safety

import (
	"fmt"
	"strings"

	"go.starlark.net/syntax"

	"github.com/tabulon-ai/tabulon/internal/sandbox"
)

// RuleID identifies one safety rule. The set is closed but extensible.
type RuleID string

const (
	// RuleLoadForbidden rejects load() statements: programs get no module or
	// OS-level capability imports.
	RuleLoadForbidden RuleID = "load-forbidden"

	// RulePrivilegedName rejects references to process, I/O, reflection, and
	// dynamic-evaluation names.
	RulePrivilegedName RuleID = "privileged-name"

	// RuleDunderAttr rejects attribute access on double-underscore names
	// (base-class internals).
	RuleDunderAttr RuleID = "dunder-attr"

	// RuleSyntaxError marks unparseable code, which is unsafe by definition.
	RuleSyntaxError RuleID = "syntax-error"
)

// privilegedNames are identifiers no generated program may reference:
// OS/process capabilities, raw I/O, reflective internals access, and dynamic
// code evaluation.
var privilegedNames = map[string]bool{
	"os":         true,
	"sys":        true,
	"subprocess": true,
	"open":       true,
	"file":       true,
	"exec":       true,
	"eval":       true,
	"compile":    true,
	"__import__": true,
	"getattr":    true,
	"setattr":    true,
	"globals":    true,
	"locals":     true,
}

// Violation is one rule breach at a specific spot in the program.
type Violation struct {
	Rule   RuleID
	Detail string
}

// Verdict is the outcome of checking one artifact. Produced fresh per
// artifact and never cached: revisions are re-checked like any other code.
type Verdict struct {
	Safe       bool
	Violations []Violation
}

// RuleIDs returns the violated rules in order of detection, deduplicated.
func (v Verdict) RuleIDs() []RuleID {
	seen := make(map[RuleID]bool)
	var ids []RuleID
	for _, viol := range v.Violations {
		if !seen[viol.Rule] {
			seen[viol.Rule] = true
			ids = append(ids, viol.Rule)
		}
	}
	return ids
}

// Describe renders the violations for error messages and correction prompts.
func (v Verdict) Describe() string {
	if v.Safe {
		return "no violations"
	}
	parts := make([]string, len(v.Violations))
	for i, viol := range v.Violations {
		parts[i] = fmt.Sprintf("%s: %s", viol.Rule, viol.Detail)
	}
	return strings.Join(parts, "; ")
}

// Check analyzes one program. Every violated rule is reported, not just the
// first, so a correction prompt can present all problems at once.
func Check(code string) Verdict {
	f, err := sandbox.FileOptions.Parse("program.star", code, 0)
	if err != nil {
		return Verdict{Violations: []Violation{{Rule: RuleSyntaxError, Detail: err.Error()}}}
	}

	var violations []Violation
	for _, stmt := range f.Stmts {
		syntax.Walk(stmt, func(n syntax.Node) bool {
			switch node := n.(type) {
			case *syntax.LoadStmt:
				violations = append(violations, Violation{
					Rule:   RuleLoadForbidden,
					Detail: fmt.Sprintf("load of %q", node.Module.Value),
				})
			case *syntax.Ident:
				if privilegedNames[node.Name] {
					violations = append(violations, Violation{
						Rule:   RulePrivilegedName,
						Detail: fmt.Sprintf("reference to %q", node.Name),
					})
				}
			case *syntax.DotExpr:
				name := node.Name.Name
				if strings.HasPrefix(name, "__") && strings.HasSuffix(name, "__") {
					violations = append(violations, Violation{
						Rule:   RuleDunderAttr,
						Detail: fmt.Sprintf("access to attribute %q", name),
					})
				}
			}
			return true
		})
	}

	return Verdict{Safe: len(violations) == 0, Violations: violations}
}
