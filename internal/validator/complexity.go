package validator

import (
	"sql-guard/internal/model"

	"github.com/pingcap/tidb/parser/ast"
	"github.com/pingcap/tidb/parser/opcode"
)

// Complexity weights.
const (
	weightTable     = 2.0
	weightJoin      = 3.0
	weightSubquery  = 5.0
	weightFunction  = 1.5
	weightCondition = 0.5
)

// Cost band upper bounds (exclusive).
const (
	costLowBelow    = 10.0
	costMediumBelow = 30.0
	costHighBelow   = 60.0
)

// AnalyzeComplexity walks every statement and scores it. All weights are
// positive, so adding a table, join or subquery never lowers the score.
func AnalyzeComplexity(stmts ...ast.StmtNode) model.QueryComplexity {
	v := &complexityVisitor{}
	for _, stmt := range stmts {
		if stmt != nil {
			stmt.Accept(v)
		}
	}
	c := v.c
	c.Score = weightTable*float64(c.TableCount) +
		weightJoin*float64(c.JoinCount) +
		weightSubquery*float64(c.SubqueryCount) +
		weightFunction*float64(c.FunctionCount) +
		weightCondition*float64(c.ConditionCount)
	c.EstimatedCost = costOf(c.Score)
	return c
}

func costOf(score float64) model.CostEstimate {
	switch {
	case score < costLowBelow:
		return model.CostLow
	case score < costMediumBelow:
		return model.CostMedium
	case score < costHighBelow:
		return model.CostHigh
	default:
		return model.CostVeryHigh
	}
}

type complexityVisitor struct {
	c model.QueryComplexity
}

func (v *complexityVisitor) Enter(in ast.Node) (ast.Node, bool) {
	switch n := in.(type) {
	case *ast.TableName:
		v.c.TableCount++
	case *ast.Join:
		if n.Right != nil {
			v.c.JoinCount++
		}
	case *ast.SubqueryExpr:
		v.c.SubqueryCount++
	case *ast.TableSource:
		switch n.Source.(type) {
		case *ast.SelectStmt, *ast.SetOprStmt:
			v.c.SubqueryCount++
		}
	case *ast.AggregateFuncExpr, *ast.WindowFuncExpr:
		v.c.FunctionCount++
	case *ast.BinaryOperationExpr:
		if isComparison(n.Op) {
			v.c.ConditionCount++
		}
	case *ast.PatternInExpr, *ast.PatternLikeOrIlikeExpr, *ast.PatternRegexpExpr,
		*ast.BetweenExpr, *ast.IsNullExpr, *ast.IsTruthExpr, *ast.ExistsSubqueryExpr:
		v.c.ConditionCount++
	}
	return in, false
}

func (v *complexityVisitor) Leave(in ast.Node) (ast.Node, bool) {
	return in, true
}

func isComparison(op opcode.Op) bool {
	switch op {
	case opcode.EQ, opcode.NE, opcode.LT, opcode.LE, opcode.GT, opcode.GE, opcode.NullEQ:
		return true
	}
	return false
}
