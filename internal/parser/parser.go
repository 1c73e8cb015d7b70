package parser

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"sql-guard/internal/model"

	"github.com/pingcap/tidb/parser"
	"github.com/pingcap/tidb/parser/ast"
	_ "github.com/pingcap/tidb/parser/test_driver"
)

// ErrEmptySQL is returned when the input holds no statement at all.
var ErrEmptySQL = fmt.Errorf("no valid SQL found")

// SQLParser wraps the TiDB parser. The underlying parser is not safe for
// concurrent use, so instances are pooled.
type SQLParser struct {
	pool sync.Pool
}

func NewSQLParser() *SQLParser {
	return &SQLParser{
		pool: sync.Pool{New: func() any { return parser.New() }},
	}
}

// ParseAll converts a SQL string into one AST per statement.
func (sp *SQLParser) ParseAll(sql string) ([]ast.StmtNode, error) {
	if strings.TrimSpace(sql) == "" {
		return nil, ErrEmptySQL
	}
	p := sp.pool.Get().(*parser.Parser)
	defer sp.pool.Put(p)

	stmtNodes, _, err := p.Parse(sql, "", "")
	if err != nil {
		return nil, err
	}
	if len(stmtNodes) == 0 {
		return nil, ErrEmptySQL
	}
	return stmtNodes, nil
}

// Parse converts a SQL string into an AST, returning the first statement found.
func (sp *SQLParser) Parse(sql string) (ast.StmtNode, error) {
	stmts, err := sp.ParseAll(sql)
	if err != nil {
		return nil, err
	}
	return stmts[0], nil
}

// LoadSchema reads a SQL file and populates the SchemaCtx
func (sp *SQLParser) LoadSchema(path string) (*model.SchemaCtx, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return sp.LoadSchemaFromDDL(string(content))
}

// LoadSchemaFromDDL builds a SchemaCtx from the CREATE TABLE statements in ddl.
// Other statements are ignored.
func (sp *SQLParser) LoadSchemaFromDDL(ddl string) (*model.SchemaCtx, error) {
	schema := &model.SchemaCtx{
		Tables: make(map[string]*model.Table),
	}

	stmts, err := sp.ParseAll(ddl)
	if err != nil {
		return nil, fmt.Errorf("schema parse error: %w", err)
	}

	for _, stmt := range stmts {
		if createTable, ok := stmt.(*ast.CreateTableStmt); ok {
			table := parseCreateTable(createTable)
			schema.Tables[table.Name] = table
		}
	}

	return schema, nil
}

func parseCreateTable(node *ast.CreateTableStmt) *model.Table {
	t := &model.Table{
		Name:    node.Table.Name.O,
		Columns: make(map[string]*model.Column),
		Indexes: make([]*model.Index, 0),
	}

	// Columns, including inline PRIMARY KEY / UNIQUE options
	for _, col := range node.Cols {
		name := col.Name.Name.O
		t.Columns[name] = &model.Column{
			Name: name,
			Type: col.Tp.String(),
		}
		for _, opt := range col.Options {
			switch opt.Tp {
			case ast.ColumnOptionPrimaryKey:
				t.Indexes = append(t.Indexes, &model.Index{Name: "PRIMARY", Unique: true, Columns: []string{name}})
			case ast.ColumnOptionUniqKey:
				t.Indexes = append(t.Indexes, &model.Index{Name: name, Unique: true, Columns: []string{name}})
			}
		}
	}

	// Table constraints (PK, Unique, etc defined at bottom)
	for _, cons := range node.Constraints {
		switch cons.Tp {
		case ast.ConstraintPrimaryKey, ast.ConstraintKey, ast.ConstraintIndex, ast.ConstraintUniq, ast.ConstraintUniqKey, ast.ConstraintUniqIndex:
			idx := &model.Index{
				Name:    cons.Name,
				Unique:  cons.Tp != ast.ConstraintKey && cons.Tp != ast.ConstraintIndex,
				Columns: make([]string, 0, len(cons.Keys)),
			}
			if idx.Name == "" && cons.Tp == ast.ConstraintPrimaryKey {
				idx.Name = "PRIMARY"
			}
			for _, keyCol := range cons.Keys {
				if keyCol.Column != nil {
					idx.Columns = append(idx.Columns, keyCol.Column.Name.O)
				}
			}
			t.Indexes = append(t.Indexes, idx)
		}
	}

	return t
}
