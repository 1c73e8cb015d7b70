package parser

import (
	"strings"
	"unicode"

	"sql-guard/internal/model"

	"github.com/pingcap/tidb/parser/ast"
)

var leadingKeywords = map[string]model.Operation{
	"SELECT":   model.OpSelect,
	"WITH":     model.OpSelect,
	"VALUES":   model.OpSelect,
	"TABLE":    model.OpSelect,
	"INSERT":   model.OpInsert,
	"REPLACE":  model.OpReplace,
	"UPDATE":   model.OpUpdate,
	"DELETE":   model.OpDelete,
	"MERGE":    model.OpMerge,
	"DROP":     model.OpDrop,
	"TRUNCATE": model.OpTruncate,
	"ALTER":    model.OpAlter,
	"CREATE":   model.OpCreate,
	"RENAME":   model.OpRename,
	"GRANT":    model.OpGrant,
	"REVOKE":   model.OpRevoke,
	"SHOW":     model.OpShow,
	"DESCRIBE": model.OpDescribe,
	"DESC":     model.OpDescribe,
	"EXPLAIN":  model.OpExplain,
	"SET":      model.OpSet,
	"USE":      model.OpUse,
	"CALL":     model.OpCall,
	"LOAD":     model.OpLoad,
	"SHUTDOWN": model.OpShutdown,
	"KILL":     model.OpKill,
	"FLUSH":    model.OpFlush,
}

// LeadingOperation detects the operation from the first keyword of a
// comment-free statement. Leading parentheses are skipped.
func LeadingOperation(sql string) model.Operation {
	s := strings.TrimLeftFunc(sql, func(r rune) bool {
		return unicode.IsSpace(r) || r == '('
	})
	end := strings.IndexFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && r != '_'
	})
	if end >= 0 {
		s = s[:end]
	}
	if op, ok := leadingKeywords[strings.ToUpper(s)]; ok {
		return op
	}
	return model.OpUnknown
}

// OperationOf maps a parsed statement to its operation. WITH-prefixed
// statements resolve to their main verb.
func OperationOf(node ast.StmtNode) model.Operation {
	switch stmt := node.(type) {
	case *ast.SelectStmt, *ast.SetOprStmt:
		return model.OpSelect
	case *ast.InsertStmt:
		if stmt.IsReplace {
			return model.OpReplace
		}
		return model.OpInsert
	case *ast.UpdateStmt:
		return model.OpUpdate
	case *ast.DeleteStmt:
		return model.OpDelete
	case *ast.DropTableStmt, *ast.DropDatabaseStmt, *ast.DropIndexStmt, *ast.DropUserStmt:
		return model.OpDrop
	case *ast.TruncateTableStmt:
		return model.OpTruncate
	case *ast.AlterTableStmt:
		return model.OpAlter
	case *ast.CreateTableStmt, *ast.CreateDatabaseStmt, *ast.CreateIndexStmt, *ast.CreateViewStmt, *ast.CreateUserStmt:
		return model.OpCreate
	case *ast.RenameTableStmt:
		return model.OpRename
	case *ast.GrantStmt:
		return model.OpGrant
	case *ast.RevokeStmt:
		return model.OpRevoke
	case *ast.ShowStmt:
		return model.OpShow
	case *ast.ExplainStmt:
		return model.OpExplain
	case *ast.SetStmt:
		return model.OpSet
	case *ast.UseStmt:
		return model.OpUse
	case *ast.LoadDataStmt:
		return model.OpLoad
	case *ast.KillStmt:
		return model.OpKill
	case *ast.FlushStmt:
		return model.OpFlush
	}
	return LeadingOperation(node.Text())
}
