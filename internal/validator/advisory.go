package validator

import (
	"strings"

	"sql-guard/internal/model"
	"sql-guard/internal/parser"

	"github.com/pingcap/tidb/parser/ast"
	"github.com/pingcap/tidb/parser/opcode"
	"github.com/pingcap/tidb/parser/test_driver"
)

// AdvisoryRules returns the optional performance and safety hints.
func AdvisoryRules(deepPaginationThreshold int64) []model.Rule {
	return []model.Rule{
		&NoWhereRule{},
		&SelectStarRule{},
		&DeepPaginationRule{Threshold: deepPaginationThreshold},
		&NegativeQueryRule{},
		&IndexMissRule{},
		&ImplicitConversionRule{},
	}
}

// NoWhereRule detects UPDATE/DELETE without WHERE
type NoWhereRule struct{}

func (r *NoWhereRule) Name() string { return "no_where_clause" }

func (r *NoWhereRule) Check(rc *model.RuleContext) ([]model.Violation, error) {
	var violations []model.Violation

	for _, st := range rc.Statements {
		switch stmt := st.Node.(type) {
		case *ast.UpdateStmt:
			if stmt.Where == nil {
				violations = append(violations, model.Violation{
					Level:      model.LevelDangerous,
					Kind:       model.KindDangerousOperation,
					Message:    "UPDATE statement without WHERE clause (Full Table Update)",
					Suggestion: "Add a WHERE clause to limit the scope of the update.",
				})
			}
		case *ast.DeleteStmt:
			if stmt.Where == nil {
				violations = append(violations, model.Violation{
					Level:      model.LevelDangerous,
					Kind:       model.KindDangerousOperation,
					Message:    "DELETE statement without WHERE clause (Full Table Delete)",
					Suggestion: "Add a WHERE clause to limit the scope of the delete.",
				})
			}
		}
	}

	return violations, nil
}

// SelectStarRule detects SELECT *
type SelectStarRule struct{}

func (r *SelectStarRule) Name() string { return "select_star" }

func (r *SelectStarRule) Check(rc *model.RuleContext) ([]model.Violation, error) {
	var violations []model.Violation

	for _, st := range rc.Statements {
		stmt, ok := st.Node.(*ast.SelectStmt)
		if !ok || stmt.Fields == nil {
			continue
		}
		for _, field := range stmt.Fields.Fields {
			if field.WildCard != nil {
				violations = append(violations, model.Violation{
					Level:      model.LevelWarning,
					Kind:       model.KindPerformanceHint,
					Message:    "Avoid using SELECT * in production",
					Suggestion: "List the needed columns explicitly to reduce I/O.",
				})
				break
			}
		}
	}

	return violations, nil
}

// DeepPaginationRule detects LIMIT offset, count where offset is large
type DeepPaginationRule struct {
	Threshold int64
}

func (r *DeepPaginationRule) Name() string { return "deep_pagination" }

func (r *DeepPaginationRule) Check(rc *model.RuleContext) ([]model.Violation, error) {
	var violations []model.Violation
	limitThreshold := r.Threshold
	if limitThreshold == 0 {
		limitThreshold = 5000
	}

	checkLimit := func(limit *ast.Limit) {
		if limit == nil || limit.Offset == nil {
			return
		}
		val, ok := limit.Offset.(*test_driver.ValueExpr)
		if !ok {
			return
		}
		var offset int64
		switch v := val.GetValue().(type) {
		case int64:
			offset = v
		case uint64:
			offset = int64(v)
		default:
			return
		}
		if offset > limitThreshold {
			violations = append(violations, model.Violation{
				Level:      model.LevelWarning,
				Kind:       model.KindPerformanceHint,
				Message:    "Deep pagination detected (High Offset)",
				Suggestion: "Use keyset pagination (WHERE id > last_id) instead of OFFSET.",
			})
		}
	}

	for _, st := range rc.Statements {
		switch stmt := st.Node.(type) {
		case *ast.SelectStmt:
			checkLimit(stmt.Limit)
		case *ast.SetOprStmt:
			checkLimit(stmt.Limit)
		}
	}

	return violations, nil
}

// NegativeQueryRule detects !=, NOT IN, LIKE '%...'
type NegativeQueryRule struct{}

func (r *NegativeQueryRule) Name() string { return "negative_query" }

func (r *NegativeQueryRule) Check(rc *model.RuleContext) ([]model.Violation, error) {
	var violations []model.Violation

	v := &negativeVisitor{violations: &violations}
	for _, st := range rc.Statements {
		st.Node.Accept(v)
	}

	return violations, nil
}

type negativeVisitor struct {
	violations *[]model.Violation
}

func (v *negativeVisitor) add(msg, suggestion string) {
	*v.violations = append(*v.violations, model.Violation{
		Level:      model.LevelWarning,
		Kind:       model.KindPerformanceHint,
		Message:    msg,
		Suggestion: suggestion,
	})
}

func (v *negativeVisitor) Enter(in ast.Node) (ast.Node, bool) {
	switch n := in.(type) {
	case *ast.PatternInExpr:
		if n.Not {
			v.add("Avoid using NOT IN", "Use NOT EXISTS or LEFT JOIN ... IS NULL which are often better optimized.")
		}
	case *ast.BinaryOperationExpr:
		if n.Op == opcode.NE {
			v.add("Avoid using != (Not Equal)", "Negative comparison often prevents index usage.")
		}
	case *ast.PatternLikeOrIlikeExpr:
		if strVal, ok := n.Pattern.(*test_driver.ValueExpr); ok && strings.HasPrefix(strVal.GetString(), "%") {
			v.add("LIKE query with leading wildcard", "Leading wildcards prevent index usage (Full Table Scan).")
		}
	}
	return in, false
}

func (v *negativeVisitor) Leave(in ast.Node) (ast.Node, bool) {
	return in, true
}

// firstTable returns the leftmost physical table of a SELECT, UPDATE or
// DELETE. A derived table in that position yields "".
func firstTable(node ast.StmtNode) string {
	if _, ok := node.(*ast.InsertStmt); ok {
		return ""
	}
	srcs := parser.StatementSources(node)
	if len(srcs) == 0 {
		return ""
	}
	if tn, ok := srcs[0].Source.(*ast.TableName); ok {
		return tn.Name.O
	}
	return ""
}

func whereOf(node ast.StmtNode) ast.ExprNode {
	switch stmt := node.(type) {
	case *ast.SelectStmt:
		return stmt.Where
	case *ast.UpdateStmt:
		return stmt.Where
	case *ast.DeleteStmt:
		return stmt.Where
	}
	return nil
}
