package validator

import (
	"fmt"
	"sort"
	"strings"

	"sql-guard/internal/model"

	"github.com/pingcap/tidb/parser/ast"
)

// IndexMissRule checks if WHERE usage aligns with available indexes.
// Tables without index information in the schema are skipped.
type IndexMissRule struct{}

func (r *IndexMissRule) Name() string { return "index_miss" }

func (r *IndexMissRule) Check(rc *model.RuleContext) ([]model.Violation, error) {
	var violations []model.Violation

	for _, st := range rc.Statements {
		tableName := firstTable(st.Node)
		whereExpr := whereOf(st.Node)
		if tableName == "" || whereExpr == nil {
			continue
		}

		table, ok := rc.Schema.Table(tableName)
		if !ok || len(table.Indexes) == 0 {
			continue
		}

		usedCols := make(map[string]bool)
		whereExpr.Accept(&columnVisitor{cols: usedCols})
		if len(usedCols) == 0 {
			continue
		}

		// At least one index must have its leftmost column filtered on.
		hasHit := false
		for _, idx := range table.Indexes {
			if len(idx.Columns) > 0 && usedCols[strings.ToLower(idx.Columns[0])] {
				hasHit = true
				break
			}
		}
		if hasHit {
			continue
		}

		var indexStr []string
		for _, idx := range table.Indexes {
			indexStr = append(indexStr, fmt.Sprintf("%s(%s)", idx.Name, strings.Join(idx.Columns, ",")))
		}
		violations = append(violations, model.Violation{
			Level:      model.LevelWarning,
			Kind:       model.KindPerformanceHint,
			Message:    fmt.Sprintf("Query on '%s' does not hit any index prefix. WHERE uses %v but available indexes are: %s", tableName, mapKeys(usedCols), strings.Join(indexStr, " ")),
			Suggestion: "Ensure the WHERE clause filters on the leftmost column of an index.",
		})
	}

	return violations, nil
}

func mapKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type columnVisitor struct {
	cols map[string]bool
}

func (v *columnVisitor) Enter(in ast.Node) (ast.Node, bool) {
	if col, ok := in.(*ast.ColumnName); ok {
		v.cols[col.Name.L] = true
	}
	return in, false
}

func (v *columnVisitor) Leave(in ast.Node) (ast.Node, bool) {
	return in, true
}
