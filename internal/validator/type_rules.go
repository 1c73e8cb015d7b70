package validator

import (
	"fmt"
	"strings"

	"sql-guard/internal/model"

	"github.com/pingcap/tidb/parser/ast"
	"github.com/pingcap/tidb/parser/test_driver"
)

// ImplicitConversionRule detects string columns compared with numbers.
// It needs column types, so it only fires for schemas loaded from DDL.
type ImplicitConversionRule struct{}

func (r *ImplicitConversionRule) Name() string { return "implicit_conversion" }

func (r *ImplicitConversionRule) Check(rc *model.RuleContext) ([]model.Violation, error) {
	var violations []model.Violation

	for _, st := range rc.Statements {
		tableName := firstTable(st.Node)
		if tableName == "" {
			continue
		}
		table, ok := rc.Schema.Table(tableName)
		if !ok {
			continue
		}
		st.Node.Accept(&typeVisitor{violations: &violations, table: table})
	}

	return violations, nil
}

type typeVisitor struct {
	violations *[]model.Violation
	table      *model.Table
}

func (v *typeVisitor) Enter(in ast.Node) (ast.Node, bool) {
	if binOp, ok := in.(*ast.BinaryOperationExpr); ok {
		// Col = Value or Value = Col
		lCol, lOk := binOp.L.(*ast.ColumnNameExpr)
		rVal, rOk := binOp.R.(*test_driver.ValueExpr)

		if lOk && rOk {
			v.checkMismatch(lCol.Name.Name.O, rVal)
		} else {
			lVal, lOk := binOp.L.(*test_driver.ValueExpr)
			rCol, rOk := binOp.R.(*ast.ColumnNameExpr)
			if lOk && rOk {
				v.checkMismatch(rCol.Name.Name.O, lVal)
			}
		}
	}
	return in, false
}

func (v *typeVisitor) Leave(in ast.Node) (ast.Node, bool) {
	return in, true
}

func (v *typeVisitor) checkMismatch(colName string, valExpr *test_driver.ValueExpr) {
	colDef, ok := v.table.Column(colName)
	if !ok {
		return
	}

	colType := strings.ToUpper(colDef.Type)
	isStringCol := strings.Contains(colType, "CHAR") || strings.Contains(colType, "TEXT")
	if !isStringCol {
		return
	}

	switch valExpr.GetValue().(type) {
	case int64, uint64, float64:
		*v.violations = append(*v.violations, model.Violation{
			Level:      model.LevelWarning,
			Kind:       model.KindPerformanceHint,
			Message:    fmt.Sprintf("Implicit conversion: string column '%s' compared with a number", colName),
			Suggestion: "Quote the number to avoid implicit conversion and index invalidation (e.g., '123' instead of 123).",
		})
	}
}
