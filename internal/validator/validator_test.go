package validator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"sql-guard/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var usersSchema = model.Schema{"users": {"id", "name"}}

func violationsOf(res *model.ValidationResult, kind model.ViolationKind) []model.Violation {
	var out []model.Violation
	for _, v := range res.Violations {
		if v.Kind == kind {
			out = append(out, v)
		}
	}
	return out
}

func TestValidate_SafeSelect(t *testing.T) {
	v := New(DefaultConfig())

	res := v.Validate("SELECT * FROM users", usersSchema)
	assert.True(t, res.IsValid)
	assert.Equal(t, model.LevelSafe, res.SecurityLevel)
	assert.Equal(t, model.OpSelect, res.Operation)
	assert.Empty(t, res.Violations)
	assert.Equal(t, model.CostLow, res.Complexity.EstimatedCost)
}

func TestValidate_MissingField(t *testing.T) {
	v := New(DefaultConfig())

	res := v.Validate("SELECT x FROM users", usersSchema)
	assert.False(t, res.IsValid)
	require.Len(t, res.Violations, 1)
	assert.Equal(t, model.KindFieldNotFound, res.Violations[0].Kind)
	assert.Equal(t, model.LevelBlocked, res.Violations[0].Level)
	assert.Contains(t, res.Violations[0].Message, "'x'")
	assert.NotEmpty(t, res.Violations[0].Suggestion)
}

func TestValidate_DropAndTruncateBlocked(t *testing.T) {
	v := New(DefaultConfig())

	tests := []string{
		"DROP TABLE users",
		"drop table if exists users",
		"TRUNCATE TABLE logs",
		"truncate logs",
		"SELECT 1; DROP TABLE users",
		"SELECT * FROM users WHERE id = 1; Drop Table users",
		"DROP TABLE",
		"SELECT * FROM users WHERE name = 'x' /* */ DROP TABLE users",
	}
	for _, sql := range tests {
		t.Run(sql, func(t *testing.T) {
			res := v.Validate(sql, nil)
			assert.False(t, res.IsValid)
			assert.Equal(t, model.LevelBlocked, res.SecurityLevel)
		})
	}
}

func TestValidate_KeywordsInsideLiteralsAreData(t *testing.T) {
	v := New(DefaultConfig())

	res := v.Validate("SELECT id FROM users WHERE name = 'DROP TABLE users'", usersSchema)
	assert.True(t, res.IsValid, "%+v", res.Violations)
	assert.Equal(t, model.LevelSafe, res.SecurityLevel)

	res = v.Validate("SELECT `truncate` FROM users", model.Schema{"users": {"truncate"}})
	assert.True(t, res.IsValid, "%+v", res.Violations)
}

func TestValidate_Injection(t *testing.T) {
	v := New(DefaultConfig())

	tests := []string{
		"SELECT * FROM users WHERE id=1 OR 1=1",
		"SELECT * FROM users WHERE name = '' OR 'a'='a'",
		"SELECT name FROM users WHERE id = 1 UNION SELECT NULL",
		"SELECT * FROM users WHERE name = 'admin'-- ",
		"SELECT * FROM users WHERE id = SLEEP(5)",
	}
	for _, sql := range tests {
		t.Run(sql, func(t *testing.T) {
			res := v.Validate(sql, nil)
			assert.True(t, res.HasKind(model.KindSQLInjection))
			assert.Equal(t, model.LevelBlocked, res.SecurityLevel)
			assert.False(t, res.IsValid)
		})
	}
}

func TestValidate_EmptyInput(t *testing.T) {
	v := New(DefaultConfig())

	for _, sql := range []string{"", "   \n\t"} {
		res := v.Validate(sql, nil)
		assert.False(t, res.IsValid)
		assert.Equal(t, model.LevelBlocked, res.SecurityLevel)
		assert.True(t, res.HasKind(model.KindParseError))
		assert.Equal(t, model.OpUnknown, res.Operation)
	}
}

func TestValidate_ParseErrorStillScansText(t *testing.T) {
	v := New(DefaultConfig())

	res := v.Validate("SELEC * FROM users WHERE id = 1 OR 1=1 -- x", nil)
	assert.True(t, res.HasKind(model.KindParseError))
	assert.True(t, res.HasKind(model.KindSQLInjection))
	assert.Equal(t, "SELEC * FROM users WHERE id = 1 OR 1=1", res.SanitizedSQL)
}

func TestValidate_MultiStatement(t *testing.T) {
	v := New(DefaultConfig())

	res := v.Validate("SELECT 1; SELECT 2", nil)
	assert.True(t, res.HasKind(model.KindMultiStatement))
	assert.Equal(t, model.LevelDangerous, res.SecurityLevel)
	assert.True(t, res.IsValid)

	res = v.Validate("SELECT ';' FROM users", nil)
	assert.False(t, res.HasKind(model.KindMultiStatement))
}

func TestValidate_WritesNeedPolicy(t *testing.T) {
	v := New(DefaultConfig())
	sql := "UPDATE users SET name = 'x' WHERE id = 1"

	res := v.Validate(sql, usersSchema)
	assert.Equal(t, model.LevelWarning, res.SecurityLevel)
	assert.True(t, res.HasKind(model.KindDangerousOperation))
	assert.True(t, res.IsValid)

	policy := model.Policy{AllowedOperations: map[model.Operation]bool{model.OpUpdate: true}}
	res = v.Check(sql, model.NewSchemaCtx(usersSchema), policy)
	assert.Equal(t, model.LevelSafe, res.SecurityLevel)
	assert.Empty(t, res.Violations)

	cfg := DefaultConfig()
	cfg.AllowedOperations = []string{"insert"}
	res = New(cfg).Validate("INSERT INTO users (id, name) VALUES (1, 'a')", usersSchema)
	assert.Equal(t, model.LevelSafe, res.SecurityLevel)
}

func TestValidate_SchemaReferences(t *testing.T) {
	v := New(DefaultConfig())
	schema := model.Schema{
		"users":  {"id", "name", "email"},
		"orders": {"id", "user_id", "total"},
	}

	tests := []struct {
		name     string
		sql      string
		wantKind model.ViolationKind
		suggest  string
	}{
		{"alias columns", "SELECT u.name, o.total FROM users u JOIN orders o ON u.id = o.user_id", "", ""},
		{"case insensitive", "SELECT NAME FROM USERS", "", ""},
		{"select alias", "SELECT total AS amount FROM orders ORDER BY amount", "", ""},
		{"cte", "WITH big AS (SELECT user_id FROM orders WHERE total > 100) SELECT user_id FROM big", "", ""},
		{"derived table", "SELECT d.user_id FROM (SELECT user_id FROM orders) AS d", "", ""},
		{"missing table", "SELECT id FROM usrs", model.KindTableNotFound, "users"},
		{"missing qualified field", "SELECT u.emial FROM users u", model.KindFieldNotFound, "email"},
		{"missing unqualified field", "SELECT totl FROM orders", model.KindFieldNotFound, "total"},
		{"unknown qualifier", "SELECT x.id FROM users u", model.KindFieldNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := v.Validate(tt.sql, schema)
			if tt.wantKind == "" {
				assert.True(t, res.IsValid, "%+v", res.Violations)
				assert.Empty(t, res.Violations)
				return
			}
			found := violationsOf(res, tt.wantKind)
			require.NotEmpty(t, found, "%+v", res.Violations)
			assert.False(t, res.IsValid)
			assert.Contains(t, found[0].Suggestion, tt.suggest)
		})
	}
}

func TestValidate_DerivedSourcesDoNotHideOuterFields(t *testing.T) {
	v := New(DefaultConfig())
	schema := model.Schema{
		"users":  {"id", "name"},
		"orders": {"id", "user_id"},
	}

	for _, sql := range []string{
		"WITH r AS (SELECT id FROM orders) SELECT bogus FROM users",
		"SELECT bogus FROM users WHERE id IN (SELECT d.id FROM (SELECT id FROM orders) d)",
		"SELECT bogus FROM users UNION SELECT r.id FROM (SELECT id FROM orders) r",
	} {
		res := v.Validate(sql, schema)
		assert.Equal(t, model.LevelBlocked, res.SecurityLevel, sql)
		found := violationsOf(res, model.KindFieldNotFound)
		require.Len(t, found, 1, "%s: %+v", sql, res.Violations)
		assert.Contains(t, found[0].Message, "bogus")
	}

	for _, sql := range []string{
		"WITH r AS (SELECT id FROM orders) SELECT id FROM r",
		"WITH r AS (SELECT user_id AS uid FROM orders) SELECT uid FROM r",
		"SELECT name FROM users WHERE id IN (SELECT d.user_id FROM (SELECT user_id FROM orders) d)",
	} {
		res := v.Validate(sql, schema)
		assert.True(t, res.IsValid, "%s: %+v", sql, res.Violations)
	}
}

func TestValidate_MissingTableReportedOnce(t *testing.T) {
	v := New(DefaultConfig())

	res := v.Validate("SELECT a.id, a.name FROM accounts a JOIN accounts b ON a.id = b.id", usersSchema)
	assert.Len(t, violationsOf(res, model.KindTableNotFound), 1)
	assert.Empty(t, violationsOf(res, model.KindFieldNotFound))
}

func TestValidate_NoSchemaSkipsReferenceChecks(t *testing.T) {
	v := New(DefaultConfig())

	res := v.Validate("SELECT anything FROM anywhere", nil)
	assert.True(t, res.IsValid)
	assert.Empty(t, res.Violations)
	require.Len(t, res.TableRefs, 1)
	assert.Equal(t, "anywhere", res.TableRefs[0].Name)
}

func TestValidate_Complexity(t *testing.T) {
	sql := "SELECT * FROM a JOIN b ON a.id = b.id"

	cfg := DefaultConfig()
	cfg.ComplexityScoreLimit = 5
	res := New(cfg).Validate(sql, nil)
	assert.Equal(t, model.LevelDangerous, res.SecurityLevel)
	assert.True(t, res.HasKind(model.KindComplexityLimit))
	assert.True(t, res.IsValid)

	cfg.ComplexityScoreLimit = 3
	res = New(cfg).Validate(sql, nil)
	assert.Equal(t, model.LevelBlocked, res.SecurityLevel)
	assert.False(t, res.IsValid)

	cfg = DefaultConfig()
	cfg.ComplexityTableLimit = 1
	res = New(cfg).Validate(sql, nil)
	assert.Equal(t, model.LevelWarning, res.SecurityLevel)
	assert.True(t, res.HasKind(model.KindComplexityLimit))
}

func TestValidate_InvalidImpliesSevereViolation(t *testing.T) {
	v := New(DefaultConfig())
	inputs := []string{
		"", "SELECT", "DROP TABLE users", "SELECT * FROM users WHERE 1=1 OR 1=1",
		"SELECT x FROM users", "SELECT 1; SELECT 2", "SELECT * FROM users",
		"DELETE FROM users", "GRANT ALL ON *.* TO 'u'@'%'",
	}
	for _, sql := range inputs {
		res := v.Validate(sql, usersSchema)
		if res.IsValid {
			continue
		}
		severe := false
		for _, viol := range res.Violations {
			if viol.Level >= model.LevelDangerous {
				severe = true
			}
		}
		assert.True(t, severe, sql)
	}
}

func TestValidate_SanitizedEvenWhenBlocked(t *testing.T) {
	v := New(DefaultConfig())

	res := v.Validate("DROP   TABLE users -- bye", nil)
	assert.False(t, res.IsValid)
	assert.Equal(t, "DROP TABLE users", res.SanitizedSQL)
}

type panicRule struct{}

func (panicRule) Name() string { return "panics" }
func (panicRule) Check(*model.RuleContext) ([]model.Violation, error) {
	panic("boom")
}

type failingRule struct{}

func (failingRule) Name() string { return "fails" }
func (failingRule) Check(*model.RuleContext) ([]model.Violation, error) {
	return nil, errors.New("rule failure")
}

func TestValidate_RuleFailures(t *testing.T) {
	v := New(DefaultConfig())
	v.Register(failingRule{})

	res := v.Validate("SELECT 1", nil)
	assert.True(t, res.IsValid)

	v.Register(panicRule{})
	res = v.Validate("SELECT 1", nil)
	assert.False(t, res.IsValid)
	assert.Equal(t, "panics", res.Violations[0].Rule)
}

func TestValidator_Rules(t *testing.T) {
	assert.Equal(t,
		[]string{"sql_injection", "multi_statement", "dangerous_operation", "complexity_limit", "schema_reference"},
		New(DefaultConfig()).Rules())

	cfg := DefaultConfig()
	cfg.AdvisoryRules = true
	assert.Len(t, New(cfg).Rules(), 11)
}

func TestValidateBatch(t *testing.T) {
	v := New(DefaultConfig())
	sqls := []string{"SELECT * FROM users", "DROP TABLE users", "SELECT x FROM users", "SELECT name FROM users"}

	results, err := v.ValidateBatch(context.Background(), sqls, model.NewSchemaCtx(usersSchema), v.Policy())
	require.NoError(t, err)
	require.Len(t, results, len(sqls))
	assert.True(t, results[0].IsValid)
	assert.False(t, results[1].IsValid)
	assert.False(t, results[2].IsValid)
	assert.True(t, results[3].IsValid)
	assert.True(t, strings.HasPrefix(results[3].SanitizedSQL, "SELECT name"))
}

func TestValidateBatch_Cancelled(t *testing.T) {
	v := New(DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := v.ValidateBatch(ctx, []string{"SELECT 1", "SELECT 2"}, nil, v.Policy())
	assert.ErrorIs(t, err, context.Canceled)
}
