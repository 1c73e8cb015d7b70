package parser

import (
	"strings"

	"sql-guard/internal/model"

	"github.com/pingcap/tidb/parser/ast"
)

// StatementSources returns the FROM sources of a SELECT, the table
// references of an UPDATE or DELETE, and the target of an INSERT, left to
// right across joins. Other statements have none.
func StatementSources(node ast.StmtNode) []*ast.TableSource {
	switch stmt := node.(type) {
	case *ast.SelectStmt:
		return TableSources(stmt.From)
	case *ast.UpdateStmt:
		return TableSources(stmt.TableRefs)
	case *ast.DeleteStmt:
		return TableSources(stmt.TableRefs)
	case *ast.InsertStmt:
		return TableSources(stmt.Table)
	}
	return nil
}

// TableSources flattens the join tree of a FROM clause.
func TableSources(clause *ast.TableRefsClause) []*ast.TableSource {
	if clause == nil || clause.TableRefs == nil {
		return nil
	}
	var out []*ast.TableSource
	collectSources(clause.TableRefs, &out)
	return out
}

func collectSources(r ast.ResultSetNode, out *[]*ast.TableSource) {
	switch n := r.(type) {
	case *ast.Join:
		if n.Left != nil {
			collectSources(n.Left, out)
		}
		if n.Right != nil {
			collectSources(n.Right, out)
		}
	case *ast.TableSource:
		*out = append(*out, n)
	}
}

// ExtractReferences walks every statement and collects the tables and
// columns they reference. CTE names and derived-table aliases are recorded
// separately and never reported as tables.
func ExtractReferences(stmts ...ast.StmtNode) *model.References {
	v := &refVisitor{
		refs: &model.References{
			Aliases:       make(map[string]string),
			Derived:       make(map[string]bool),
			SelectAliases: make(map[string]bool),
		},
		seenTables: make(map[string]bool),
		seenFields: make(map[string]int),
	}
	for _, stmt := range stmts {
		if stmt != nil {
			stmt.Accept(v)
		}
	}

	// CTE references parse as plain table names.
	tables := v.refs.Tables[:0]
	for _, t := range v.refs.Tables {
		if t.Schema == "" && v.refs.Derived[strings.ToLower(t.Name)] {
			continue
		}
		tables = append(tables, t)
	}
	v.refs.Tables = tables
	return v.refs
}

type refVisitor struct {
	refs       *model.References
	seenTables map[string]bool
	// seenFields maps a field key to its index in refs.Fields.
	seenFields map[string]int
	// scopes holds, per enclosing SELECT, whether its FROM reads a CTE or
	// derived table.
	scopes []bool
}

func (v *refVisitor) Enter(in ast.Node) (ast.Node, bool) {
	switch n := in.(type) {
	case *ast.SelectStmt:
		if n.With != nil {
			for _, cte := range n.With.CTEs {
				v.refs.Derived[cte.Name.L] = true
			}
		}
		v.scopes = append(v.scopes, v.readsDerived(n))
	case *ast.TableSource:
		switch src := n.Source.(type) {
		case *ast.TableName:
			if n.AsName.L != "" {
				v.refs.Aliases[n.AsName.L] = src.Name.L
			}
		case *ast.SelectStmt, *ast.SetOprStmt:
			if n.AsName.L != "" {
				v.refs.Derived[n.AsName.L] = true
			}
		}
	case *ast.TableName:
		key := n.Schema.L + "." + n.Name.L
		if n.Name.L != "" && !v.seenTables[key] {
			v.seenTables[key] = true
			v.refs.Tables = append(v.refs.Tables, model.TableRef{Name: n.Name.O, Schema: n.Schema.O})
		}
	case *ast.SelectField:
		if n.AsName.L != "" {
			v.refs.SelectAliases[n.AsName.L] = true
		}
		if n.WildCard != nil {
			v.addField(model.FieldRef{Name: "*", Table: n.WildCard.Table.O, Wildcard: true})
		}
	case *ast.ColumnName:
		v.addField(model.FieldRef{Name: n.Name.O, Table: n.Table.O})
	}
	return in, false
}

func (v *refVisitor) Leave(in ast.Node) (ast.Node, bool) {
	if _, ok := in.(*ast.SelectStmt); ok && len(v.scopes) > 0 {
		v.scopes = v.scopes[:len(v.scopes)-1]
	}
	return in, true
}

// readsDerived reports whether the FROM clause of sel has a subquery source
// or names a CTE declared so far.
func (v *refVisitor) readsDerived(sel *ast.SelectStmt) bool {
	for _, src := range TableSources(sel.From) {
		switch s := src.Source.(type) {
		case *ast.TableName:
			if s.Schema.L == "" && v.refs.Derived[s.Name.L] {
				return true
			}
		case *ast.SelectStmt, *ast.SetOprStmt:
			return true
		}
	}
	return false
}

func (v *refVisitor) inDerivedScope() bool {
	for _, d := range v.scopes {
		if d {
			return true
		}
	}
	return false
}

func (v *refVisitor) addField(f model.FieldRef) {
	f.DerivedScope = v.inDerivedScope()
	key := strings.ToLower(f.String())
	if i, ok := v.seenFields[key]; ok {
		// A sighting outside any derived scope must still be checked.
		if !f.DerivedScope {
			v.refs.Fields[i].DerivedScope = false
		}
		return
	}
	v.seenFields[key] = len(v.refs.Fields)
	v.refs.Fields = append(v.refs.Fields, f)
}
