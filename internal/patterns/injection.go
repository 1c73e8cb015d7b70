package patterns

import (
	"regexp"

	"sql-guard/internal/model"
)

var blockedOperations = []model.Operation{
	model.OpDrop, model.OpTruncate, model.OpAlter, model.OpCreate, model.OpRename,
	model.OpGrant, model.OpRevoke, model.OpShutdown, model.OpKill, model.OpFlush,
	model.OpLoad, model.OpCall,
}

var warningOperations = []model.Operation{
	model.OpInsert, model.OpReplace, model.OpUpdate, model.OpDelete, model.OpMerge,
	model.OpSet, model.OpUse,
}

var blockedKeywords = []string{"DROP", "TRUNCATE", "GRANT", "REVOKE", "SHUTDOWN"}

func defaultInjectionSignatures() []InjectionSignature {
	sig := func(id, desc, expr string) InjectionSignature {
		return InjectionSignature{ID: id, Description: desc, Regex: regexp.MustCompile(expr)}
	}
	return []InjectionSignature{
		sig("tautology_numeric", "numeric tautology after OR",
			`(?i)\bOR\s+\(?\s*\d+\s*(?:=|<>|!=|>=|<=|>|<)\s*\d+`),
		sig("tautology_string", "string tautology after OR",
			`(?i)\bOR\s+\(?\s*(?:'[^']*'|"[^"]*")\s*(?:=|<>|!=|LIKE)\s*(?:'[^']*'|"[^"]*")`),
		sig("tautology_boolean", "boolean tautology after OR",
			`(?i)\bOR\s+(?:TRUE|NOT\s+FALSE)\b`),
		sig("quote_breakout", "string literal closed and followed by OR",
			`(?i)'\s*OR\s+'`),
		sig("union_null_probe", "UNION SELECT NULL column probe",
			`(?i)\bUNION\s+(?:ALL\s+)?SELECT\s+NULL\b`),
		sig("union_column_probe", "UNION SELECT with literal column list",
			`(?i)\bUNION\s+(?:ALL\s+)?SELECT\s+\d+\s*,\s*\d+`),
		sig("union_catalog_probe", "UNION against a system catalog",
			`(?i)\bUNION\b[\s\S]*\b(?:information_schema|mysql\.user|pg_catalog|pg_shadow|sqlite_master)\b`),
		sig("comment_dash", "inline -- comment truncation",
			`--`),
		sig("comment_block", "inline /* */ comment",
			`/\*`),
		sig("comment_hash", "quote followed by # comment",
			`'\s*#(?:[^>\-]|$)`),
		sig("stacked_query", "statement stacked after a semicolon",
			`(?i);\s*(?:DROP|TRUNCATE|DELETE|UPDATE|INSERT|ALTER|CREATE|GRANT|REVOKE|SHUTDOWN|EXEC|EXECUTE)\b`),
		sig("time_based", "time-based blind probe",
			`(?i)\b(?:SLEEP|BENCHMARK|PG_SLEEP)\s*\(`),
		sig("waitfor_delay", "time-based blind probe",
			`(?i)\bWAITFOR\s+DELAY\b`),
		sig("file_write", "write to server filesystem",
			`(?i)\bINTO\s+(?:OUT|DUMP)FILE\b`),
		sig("file_read", "read from server filesystem",
			`(?i)\bLOAD_FILE\s*\(`),
		sig("command_exec", "command execution procedure",
			`(?i)\b(?:xp_cmdshell|sp_executesql|sys_exec|sys_eval)\b`),
		sig("char_obfuscation", "string built from CHAR() codes",
			`(?i)\bCHAR\s*\(\s*\d+(?:\s*,\s*\d+){3,}\s*\)`),
	}
}
