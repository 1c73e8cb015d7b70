package validator

import (
	"testing"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		want string
	}{
		{"collapse whitespace", "SELECT  *\n\tFROM   users", "SELECT * FROM users"},
		{"line comment", "SELECT * FROM users -- trailing", "SELECT * FROM users"},
		{"hash comment", "SELECT a #x\nFROM t", "SELECT a FROM t"},
		{"hash after literal", "SELECT * FROM users WHERE name = 'admin'# rest", "SELECT * FROM users WHERE name = 'admin'"},
		{"hash inside token", "SELECT a#b FROM t", "SELECT a#b FROM t"},
		{"json path operator", "SELECT data #> '{a}' FROM t", "SELECT data #> '{a}' FROM t"},
		{"json text path operator", "SELECT data  #>>  '{a,b}' FROM t", "SELECT data #>> '{a,b}' FROM t"},
		{"json delete path operator", "SELECT data #- '{a}' FROM t # gone", "SELECT data #- '{a}' FROM t"},
		{"block comment", "SELECT /* c */ id FROM t", "SELECT id FROM t"},
		{"comment joins tokens", "SELECT a/**/FROM t", "SELECT a FROM t"},
		{"unterminated block", "SELECT 1 /* open", "SELECT 1"},
		{"comment markers in literal", "SELECT 'a  --  b' FROM t", "SELECT 'a  --  b' FROM t"},
		{"doubled quote", "SELECT 'it''s' ,  `we  ird`", "SELECT 'it''s' , `we  ird`"},
		{"escaped quote", `SELECT 'a\'b  c' FROM t`, `SELECT 'a\'b  c' FROM t`},
		{"whitespace only", "  \n ", ""},
		{"leading and trailing", "\n  SELECT 1  \n", "SELECT 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sanitize(tt.sql); got != tt.want {
				t.Errorf("Sanitize() = %q, want %q", got, tt.want)
			}
		})
	}
}

var sanitizeCorpus = []string{
	"",
	"SELECT 1",
	"-/**/-",
	"/\n*",
	"-#x\n-",
	"a/**/#x",
	"'q'#>1 # c",
	"a\u00a0#x",
	"SELECT 'unterminated   ",
	"SELECT 'x' /* a */ -- b\n # c\n FROM t",
	`SELECT "a\"  b" FROM t`,
	"SELECT `a`` b` FROM t",
	"SELECT 'abc\\",
	" SELECT  1",
	"\xff\xfe SELECT",
}

func TestSanitize_Idempotent(t *testing.T) {
	for _, sql := range sanitizeCorpus {
		once := Sanitize(sql)
		if twice := Sanitize(once); twice != once {
			t.Errorf("Sanitize not idempotent for %q: %q then %q", sql, once, twice)
		}
	}
}

func FuzzSanitize(f *testing.F) {
	for _, sql := range sanitizeCorpus {
		f.Add(sql)
	}
	f.Fuzz(func(t *testing.T, sql string) {
		once := Sanitize(sql)
		if twice := Sanitize(once); twice != once {
			t.Errorf("Sanitize not idempotent for %q: %q then %q", sql, once, twice)
		}
	})
}

func TestCountStatements(t *testing.T) {
	tests := map[string]int{
		"SELECT 1":             1,
		"SELECT 1;":            1,
		"SELECT ';' FROM t":    1,
		"SELECT 1; SELECT 2":   2,
		"-- ;\nSELECT 1":       1,
		";;":                   0,
		"SELECT 1 /* ; */ ; x": 2,
		"SELECT 1 # ; x":       1,
		"SELECT a#b; SELECT 2": 2,
	}
	for sql, want := range tests {
		if got := countStatements(sql); got != want {
			t.Errorf("countStatements(%q) = %d, want %d", sql, got, want)
		}
	}
}
