package model

import (
	"github.com/pingcap/tidb/parser/ast"
)

// Extractor is responsible for parsing a file and finding SQL segments
type Extractor interface {
	// Extract parses the given file content and returns found SQL segments
	Extract(filePath string, content []byte) ([]SQLSegment, error)
}

// Statement is one parsed statement of a validated SQL string.
type Statement struct {
	Text      string
	Node      ast.StmtNode
	Operation Operation
}

// Policy carries the caller's per-context allowances.
type Policy struct {
	// AllowedOperations downgrades write operations from WARNING to SAFE.
	AllowedOperations map[Operation]bool
}

// Allows reports whether the policy explicitly allows op.
func (p Policy) Allows(op Operation) bool {
	return p.AllowedOperations[op]
}

// RuleContext is everything a rule may look at for one SQL string.
type RuleContext struct {
	SQL        string
	Sanitized  string
	Statements []Statement
	Refs       *References
	Complexity QueryComplexity
	Schema     *SchemaCtx
	Policy     Policy
}

// Primary returns the first statement, or nil when parsing produced none.
func (rc *RuleContext) Primary() *Statement {
	if len(rc.Statements) == 0 {
		return nil
	}
	return &rc.Statements[0]
}

// Rule represents a single validation logic unit
type Rule interface {
	// Name returns the unique identifier of the rule
	Name() string
	// Check examines the parsed SQL and returns any violations found
	Check(rc *RuleContext) ([]Violation, error)
}

// Reporter defines how to output results
type Reporter interface {
	Report(issues []Issue) error
}
