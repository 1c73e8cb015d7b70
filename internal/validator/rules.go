package validator

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"sql-guard/internal/model"
	"sql-guard/internal/parser"
	"sql-guard/internal/patterns"
	"sql-guard/internal/suggest"
)

// InjectionRule matches the raw statement text, literals and comments
// included, against the library's injection signatures.
type InjectionRule struct {
	Library *patterns.Library
}

func (r *InjectionRule) Name() string { return "sql_injection" }

func (r *InjectionRule) Check(rc *model.RuleContext) ([]model.Violation, error) {
	var violations []model.Violation
	for _, sig := range r.Library.InjectionSignatures() {
		loc := sig.Regex.FindStringIndex(rc.SQL)
		if loc == nil {
			continue
		}
		violations = append(violations, model.Violation{
			Level:      model.LevelBlocked,
			Kind:       model.KindSQLInjection,
			Message:    fmt.Sprintf("Injection signature %s matched: %s", sig.ID, sig.Description),
			Location:   fmt.Sprintf("offset %d: %q", loc[0], rc.SQL[loc[0]:loc[1]]),
			Suggestion: "Regenerate the statement without inline comments, tautologies or stacked probes.",
		})
	}
	return violations, nil
}

// MultiStatementRule flags strings holding more than one statement.
type MultiStatementRule struct{}

func (r *MultiStatementRule) Name() string { return "multi_statement" }

func (r *MultiStatementRule) Check(rc *model.RuleContext) ([]model.Violation, error) {
	n := max(len(rc.Statements), countStatements(rc.SQL))
	if n <= 1 {
		return nil, nil
	}
	return []model.Violation{{
		Level:      model.LevelDangerous,
		Kind:       model.KindMultiStatement,
		Message:    fmt.Sprintf("Found %d statements in one string", n),
		Suggestion: "Submit exactly one statement per request.",
	}}, nil
}

// DangerousOperationRule blocks DDL and administrative statements and
// warns on writes the policy does not allow. Blocked keywords are also
// looked for anywhere outside literals, comments and quoted identifiers.
type DangerousOperationRule struct {
	Library  *patterns.Library
	keywords map[string]*regexp.Regexp
}

// NewDangerousOperationRule compiles the library's blocked keywords.
func NewDangerousOperationRule(lib *patterns.Library) *DangerousOperationRule {
	r := &DangerousOperationRule{Library: lib, keywords: make(map[string]*regexp.Regexp)}
	for _, kw := range lib.BlockedKeywords() {
		r.keywords[kw] = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(kw) + `\b`)
	}
	return r
}

func (r *DangerousOperationRule) Name() string { return "dangerous_operation" }

func (r *DangerousOperationRule) Check(rc *model.RuleContext) ([]model.Violation, error) {
	var ops []model.Operation
	for _, st := range rc.Statements {
		ops = append(ops, st.Operation)
	}
	if len(ops) == 0 {
		ops = append(ops, parser.LeadingOperation(rc.Sanitized))
	}

	var violations []model.Violation
	flagged := make(map[model.Operation]bool)
	for _, op := range ops {
		if flagged[op] {
			continue
		}
		switch {
		case r.Library.IsBlockedOperation(op):
			flagged[op] = true
			violations = append(violations, model.Violation{
				Level:      model.LevelBlocked,
				Kind:       model.KindDangerousOperation,
				Message:    fmt.Sprintf("%s statements are not allowed", op),
				Suggestion: "Only read queries and explicitly allowed writes may run.",
			})
		case r.Library.IsWarningOperation(op) && !rc.Policy.Allows(op):
			flagged[op] = true
			violations = append(violations, model.Violation{
				Level:      model.LevelWarning,
				Kind:       model.KindDangerousOperation,
				Message:    fmt.Sprintf("%s modifies data and is not allowed by the current policy", op),
				Suggestion: "Confirm the write with the user or allow the operation for this context.",
			})
		}
	}

	code := codeText(rc.SQL)
	names := make([]string, 0, len(r.keywords))
	for kw := range r.keywords {
		names = append(names, kw)
	}
	sort.Strings(names)
	for _, kw := range names {
		if flagged[model.Operation(kw)] {
			continue
		}
		if r.keywords[kw].MatchString(code) {
			flagged[model.Operation(kw)] = true
			violations = append(violations, model.Violation{
				Level:   model.LevelBlocked,
				Kind:    model.KindDangerousOperation,
				Message: fmt.Sprintf("Keyword %s appears outside a string literal", kw),
			})
		}
	}
	return violations, nil
}

// ComplexityRule compares the computed complexity against configured limits.
// Exceeding a limit warns; exceeding it by the hard ceiling factor blocks.
type ComplexityRule struct {
	TableLimit        int
	ScoreLimit        float64
	HardCeilingFactor float64
}

func (r *ComplexityRule) Name() string { return "complexity_limit" }

func (r *ComplexityRule) Check(rc *model.RuleContext) ([]model.Violation, error) {
	c := rc.Complexity
	factor := r.HardCeilingFactor
	if factor < 1 {
		factor = 1
	}

	tableCeiling := float64(r.TableLimit) * factor
	scoreCeiling := r.ScoreLimit * factor
	if (r.TableLimit > 0 && float64(c.TableCount) > tableCeiling) || (r.ScoreLimit > 0 && c.Score > scoreCeiling) {
		return []model.Violation{{
			Level:      model.LevelBlocked,
			Kind:       model.KindComplexityLimit,
			Message:    fmt.Sprintf("Query complexity exceeds the hard ceiling (tables=%d, score=%.1f)", c.TableCount, c.Score),
			Suggestion: "Split the question into smaller queries.",
		}}, nil
	}

	var violations []model.Violation
	if r.TableLimit > 0 && c.TableCount > r.TableLimit {
		violations = append(violations, model.Violation{
			Level:      model.LevelWarning,
			Kind:       model.KindComplexityLimit,
			Message:    fmt.Sprintf("Query references %d tables (limit %d)", c.TableCount, r.TableLimit),
			Suggestion: "Reduce the number of joined tables.",
		})
	}
	if r.ScoreLimit > 0 && c.Score > r.ScoreLimit {
		violations = append(violations, model.Violation{
			Level:      model.LevelDangerous,
			Kind:       model.KindComplexityLimit,
			Message:    fmt.Sprintf("Query complexity score %.1f exceeds limit %.1f (cost %s)", c.Score, r.ScoreLimit, c.EstimatedCost),
			Suggestion: "Remove unnecessary subqueries and joins.",
		})
	}
	return violations, nil
}

// SchemaRule checks every referenced table and column against the catalog.
// CTE names, derived tables and output aliases are not catalog objects and
// are skipped.
type SchemaRule struct {
	SuggestLimit int
}

func (r *SchemaRule) Name() string { return "schema_reference" }

func (r *SchemaRule) Check(rc *model.RuleContext) ([]model.Violation, error) {
	if rc.Schema == nil || rc.Refs == nil {
		return nil, nil
	}
	refs := rc.Refs

	var violations []model.Violation
	inScope := make(map[string]*model.Table)
	missing := make(map[string]bool)
	var scopeTables []*model.Table
	var scopeNames []string

	for _, t := range refs.Tables {
		key := strings.ToLower(t.Name)
		tbl, ok := lookupTable(rc.Schema, t)
		if !ok {
			if !missing[key] {
				missing[key] = true
				violations = append(violations, model.Violation{
					Level:      model.LevelBlocked,
					Kind:       model.KindTableNotFound,
					Message:    fmt.Sprintf("Table '%s' does not exist", qualified(t)),
					Suggestion: r.suggestion("tables", t.Name, rc.Schema.TableNames()),
				})
			}
			continue
		}
		if _, dup := inScope[key]; !dup {
			scopeTables = append(scopeTables, tbl)
			scopeNames = append(scopeNames, tbl.Name)
		}
		inScope[key] = tbl
	}
	for alias, name := range refs.Aliases {
		if tbl, ok := inScope[name]; ok {
			inScope[alias] = tbl
		} else if missing[name] {
			missing[alias] = true
		}
	}

	reported := make(map[string]bool)
	report := func(f model.FieldRef, msg string, candidates []string) {
		key := strings.ToLower(f.String())
		if reported[key] {
			return
		}
		reported[key] = true
		violations = append(violations, model.Violation{
			Level:      model.LevelBlocked,
			Kind:       model.KindFieldNotFound,
			Message:    msg,
			Suggestion: r.suggestion("fields", f.Name, candidates),
		})
	}

	for _, f := range refs.Fields {
		if f.Wildcard {
			continue
		}
		if f.Table != "" {
			q := strings.ToLower(f.Table)
			if refs.Derived[q] || missing[q] {
				continue
			}
			tbl, ok := inScope[q]
			if !ok {
				report(f, fmt.Sprintf("Field '%s' references unknown table or alias '%s'", f.String(), f.Table), aliasNames(inScope))
				continue
			}
			if _, ok := tbl.Column(f.Name); !ok {
				report(f, fmt.Sprintf("Field '%s' does not exist in table '%s'", f.Name, tbl.Name), tbl.ColumnNames())
			}
			continue
		}

		if refs.SelectAliases[strings.ToLower(f.Name)] || f.DerivedScope || len(scopeTables) == 0 {
			continue
		}
		found := false
		var candidates []string
		for _, tbl := range scopeTables {
			if _, ok := tbl.Column(f.Name); ok {
				found = true
				break
			}
			candidates = append(candidates, tbl.ColumnNames()...)
		}
		if !found {
			report(f, fmt.Sprintf("Field '%s' does not exist in %s", f.Name, strings.Join(scopeNames, ", ")), candidates)
		}
	}
	return violations, nil
}

func (r *SchemaRule) suggestion(kind, name string, candidates []string) string {
	nearest := suggest.Nearest(name, candidates, r.SuggestLimit)
	if len(nearest) == 0 {
		return fmt.Sprintf("No %s are available in the schema.", kind)
	}
	return fmt.Sprintf("Nearest valid %s: %s", kind, strings.Join(nearest, ", "))
}

func lookupTable(schema *model.SchemaCtx, t model.TableRef) (*model.Table, bool) {
	if t.Schema != "" {
		if tbl, ok := schema.Table(t.Schema + "." + t.Name); ok {
			return tbl, true
		}
	}
	return schema.Table(t.Name)
}

func qualified(t model.TableRef) string {
	if t.Schema != "" {
		return t.Schema + "." + t.Name
	}
	return t.Name
}

func aliasNames(scope map[string]*model.Table) []string {
	names := make([]string, 0, len(scope))
	for name := range scope {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
