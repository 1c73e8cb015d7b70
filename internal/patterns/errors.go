package patterns

import (
	"regexp"

	"sql-guard/internal/model"
)

// defaultErrorSignatures is ordered from most to least specific group:
// table, column, syntax, type, permission, connection.
func defaultErrorSignatures() []ErrorSignature {
	sig := func(id, vendor string, t model.ErrorType, conf float64, expr string) ErrorSignature {
		return ErrorSignature{ID: id, Vendor: vendor, Type: t, Confidence: conf, Regex: regexp.MustCompile(expr)}
	}
	return []ErrorSignature{
		// table not found
		sig("mysql_table_missing", "mysql", model.ErrTableMissing, 0.98,
			`(?i)Table '(?P<table>[^']+)' doesn't exist`),
		sig("postgres_relation_missing", "postgres", model.ErrTableMissing, 0.97,
			`(?i)^(?:pq:\s*|ERROR:\s*)*relation "(?P<table>[^"]+)" does not exist`),
		sig("postgres_42P01", "postgres", model.ErrTableMissing, 0.95,
			`SQLSTATE 42P01`),
		sig("sqlite_no_table", "sqlite", model.ErrTableMissing, 0.97,
			`(?i)no such table: (?P<table>[\w.]+)`),
		sig("mssql_invalid_object", "mssql", model.ErrTableMissing, 0.95,
			`(?i)Invalid object name '(?P<table>[^']+)'`),
		sig("oracle_ora_00942", "oracle", model.ErrTableMissing, 0.95,
			`ORA-00942`),
		sig("duckdb_table_missing", "duckdb", model.ErrTableMissing, 0.96,
			`(?i)Table with name (?P<table>[\w.]+) does not exist`),

		// column not found
		sig("mysql_unknown_column", "mysql", model.ErrFieldMissing, 0.98,
			`(?i)Unknown column '(?P<field>[^']+)' in '[^']*'`),
		sig("mysql_unknown_column_bare", "mysql", model.ErrFieldMissing, 0.95,
			`(?i)Unknown column '(?P<field>[^']+)'`),
		sig("postgres_column_missing", "postgres", model.ErrFieldMissing, 0.97,
			`(?i)column "(?P<field>[^"]+)"(?: of relation "[^"]+")? does not exist`),
		sig("postgres_column_missing_bare", "postgres", model.ErrFieldMissing, 0.95,
			`(?i)column (?P<field>[\w.]+) does not exist`),
		sig("postgres_42703", "postgres", model.ErrFieldMissing, 0.95,
			`SQLSTATE 42703`),
		sig("sqlite_no_column", "sqlite", model.ErrFieldMissing, 0.97,
			`(?i)no such column: (?P<field>[\w.]+)`),
		sig("mssql_invalid_column", "mssql", model.ErrFieldMissing, 0.95,
			`(?i)Invalid column name '(?P<field>[^']+)'`),
		sig("oracle_ora_00904", "oracle", model.ErrFieldMissing, 0.95,
			`(?i)ORA-00904: "?(?P<field>[^":\s]+)"?: invalid identifier`),
		sig("duckdb_column_missing", "duckdb", model.ErrFieldMissing, 0.96,
			`(?i)Referenced column "(?P<field>[^"]+)" not found`),

		// syntax
		sig("mysql_syntax", "mysql", model.ErrSyntax, 0.97,
			`(?i)You have an error in your SQL syntax.*near '(?P<fragment>.*)' at line \d+`),
		sig("mysql_syntax_bare", "mysql", model.ErrSyntax, 0.95,
			`(?i)You have an error in your SQL syntax`),
		sig("postgres_syntax", "postgres", model.ErrSyntax, 0.96,
			`(?i)syntax error at or near "(?P<fragment>[^"]*)"`),
		sig("postgres_syntax_eof", "postgres", model.ErrSyntax, 0.95,
			`(?i)syntax error at end of input`),
		sig("postgres_42601", "postgres", model.ErrSyntax, 0.93,
			`SQLSTATE 42601`),
		sig("sqlite_syntax", "sqlite", model.ErrSyntax, 0.96,
			`(?i)near "(?P<fragment>[^"]+)": syntax error`),
		sig("mssql_syntax", "mssql", model.ErrSyntax, 0.95,
			`(?i)Incorrect syntax near '(?P<fragment>[^']+)'`),
		sig("oracle_syntax", "oracle", model.ErrSyntax, 0.93,
			`ORA-009(?:07|17|23|33|36)`),
		sig("tidb_parser_syntax", "tidb", model.ErrSyntax, 0.9,
			`(?i)line \d+ column \d+ near "(?P<fragment>[^"]*)"`),

		// type mismatch
		sig("mysql_incorrect_value", "mysql", model.ErrTypeMismatch, 0.95,
			`(?i)Incorrect (?:integer|decimal|double|date|datetime|time|string) value: '(?P<fragment>[^']*)' for column '(?P<field>[^']+)'`),
		sig("mysql_truncated_value", "mysql", model.ErrTypeMismatch, 0.92,
			`(?i)Truncated incorrect \w+ value: '(?P<fragment>[^']*)'`),
		sig("postgres_invalid_input", "postgres", model.ErrTypeMismatch, 0.95,
			`(?i)invalid input syntax for (?:type )?\w+(?: \w+)?: "(?P<fragment>[^"]*)"`),
		sig("postgres_operator_missing", "postgres", model.ErrTypeMismatch, 0.93,
			`(?i)operator does not exist: (?P<fragment>[^\n(]+)`),
		sig("postgres_column_type", "postgres", model.ErrTypeMismatch, 0.95,
			`(?i)column "(?P<field>[^"]+)" is of type \w+ but expression is of type \w+`),
		sig("postgres_22P02", "postgres", model.ErrTypeMismatch, 0.9,
			`SQLSTATE (?:22P02|42804)`),
		sig("sqlite_datatype", "sqlite", model.ErrTypeMismatch, 0.93,
			`(?i)datatype mismatch`),
		sig("mssql_conversion", "mssql", model.ErrTypeMismatch, 0.93,
			`(?i)Conversion failed when converting (?P<fragment>[^\n]+)`),

		// permission
		sig("mysql_command_denied", "mysql", model.ErrPermission, 0.97,
			`(?i)(?P<fragment>\w+) command denied to user '[^']*'@'[^']*' for table '(?P<table>[^']+)'`),
		sig("mysql_access_denied", "mysql", model.ErrPermission, 0.96,
			`(?i)Access denied for user '[^']*'`),
		sig("postgres_permission", "postgres", model.ErrPermission, 0.97,
			`(?i)permission denied for (?:table|relation|schema|database|sequence|function|view) (?P<table>[\w.]+)`),
		sig("postgres_42501", "postgres", model.ErrPermission, 0.93,
			`SQLSTATE 42501`),
		sig("oracle_ora_01031", "oracle", model.ErrPermission, 0.95,
			`ORA-01031`),
		sig("mssql_permission", "mssql", model.ErrPermission, 0.95,
			`(?i)The \w+ permission was denied on the object '(?P<table>[^']+)'`),

		// connection and transient server state
		sig("mysql_lost_connection", "mysql", model.ErrConnection, 0.96,
			`(?i)Lost connection to MySQL server`),
		sig("mysql_gone_away", "mysql", model.ErrConnection, 0.96,
			`(?i)MySQL server has gone away`),
		sig("mysql_cant_connect", "mysql", model.ErrConnection, 0.96,
			`(?i)Can't connect to (?:local )?MySQL server`),
		sig("mysql_too_many_connections", "mysql", model.ErrConnection, 0.94,
			`(?i)Too many connections`),
		sig("postgres_server_closed", "postgres", model.ErrConnection, 0.95,
			`(?i)server closed the connection unexpectedly`),
		sig("postgres_starting_up", "postgres", model.ErrConnection, 0.93,
			`(?i)the database system is (?:starting up|shutting down)`),
		sig("go_bad_connection", "go", model.ErrConnection, 0.94,
			`(?i)driver: bad connection`),
		sig("net_refused", "net", model.ErrConnection, 0.93,
			`(?i)connection refused`),
		sig("net_reset", "net", model.ErrConnection, 0.93,
			`(?i)connection reset by peer`),
		sig("net_broken_pipe", "net", model.ErrConnection, 0.9,
			`(?i)broken pipe`),
		sig("net_timeout", "net", model.ErrConnection, 0.9,
			`(?i)(?:i/o timeout|context deadline exceeded|timeout expired|connection timed out)`),
		sig("lock_contention", "mysql", model.ErrConnection, 0.9,
			`(?i)(?:Lock wait timeout exceeded|Deadlock found when trying to get lock)`),
		sig("sqlite_locked", "sqlite", model.ErrConnection, 0.9,
			`(?i)database is locked`),
	}
}

func defaultKeywordRules() []KeywordRule {
	missing := []string{"not found", "unknown", "does not exist", "doesn't exist", "no such", "invalid", "not exist", "missing"}
	return []KeywordRule{
		{Type: model.ErrSyntax, Confidence: 0.75, AnyOf: []string{"syntax", "parse error", "unexpected token", "unexpected end"}},
		{Type: model.ErrPermission, Confidence: 0.75, AnyOf: []string{"permission", "access denied", "not authorized", "unauthorized", "privilege", "denied"}},
		{Type: model.ErrFieldMissing, Confidence: 0.8, AnyOf: []string{"column", "field", "attribute"}, AlsoAnyOf: missing},
		{Type: model.ErrTableMissing, Confidence: 0.8, AnyOf: []string{"table", "relation", "object", "view"}, AlsoAnyOf: missing},
		{Type: model.ErrConnection, Confidence: 0.7, AnyOf: []string{"timeout", "timed out", "connection", "network", "unreachable", "refused", "gone away"}},
		{Type: model.ErrTypeMismatch, Confidence: 0.6, AnyOf: []string{"type", "convert", "conversion", "cast", "mismatch", "incompatible"}},
	}
}
