package validator

import (
	"context"
	"testing"

	"sql-guard/internal/model"
)

// MockRule for testing Audit
type MockRule struct {
	violations []model.Violation
}

func (m *MockRule) Name() string { return "mock_rule" }
func (m *MockRule) Check(rc *model.RuleContext) ([]model.Violation, error) {
	return m.violations, nil
}

func TestValidator_Audit(t *testing.T) {
	v := New(DefaultConfig())
	v.Register(&MockRule{violations: []model.Violation{{
		Level:   model.LevelWarning,
		Kind:    model.KindPerformanceHint,
		Message: "Mock issue found",
	}}})

	segments := []model.SQLSegment{
		{
			SQL: "SELECT 1",
			Location: model.Location{
				FilePath: "test.go",
				Line:     10,
			},
		},
	}

	issues, err := v.Audit(context.Background(), segments, nil)
	if err != nil {
		t.Fatalf("Audit() error = %v", err)
	}

	if len(issues) != 1 {
		t.Fatalf("Expected 1 issue, got %d", len(issues))
	}
	if issues[0].Message != "Mock issue found" || issues[0].Rule != "mock_rule" {
		t.Errorf("unexpected issue %+v", issues[0])
	}
	if issues[0].Segment.Location.Line != 10 {
		t.Errorf("Expected segment line 10, got %d", issues[0].Segment.Location.Line)
	}
}

func TestValidator_Audit_ParseError(t *testing.T) {
	v := New(DefaultConfig())
	v.Register(&MockRule{violations: []model.Violation{{Kind: "SHOULD_NOT_HAPPEN"}}})

	segments := []model.SQLSegment{
		{SQL: "INVALID SQL syntax"},
	}

	issues, err := v.Audit(context.Background(), segments, nil)
	if err != nil {
		t.Fatalf("Audit() error = %v", err)
	}

	if len(issues) != 0 {
		t.Errorf("Expected 0 issues for invalid SQL, got %d", len(issues))
	}
}

func TestValidator_Audit_Injection(t *testing.T) {
	v := New(DefaultConfig())
	segments := []model.SQLSegment{
		{SQL: "SELECT * FROM users WHERE id = 1 OR 1=1", Location: model.Location{FilePath: "db.go", Line: 3}},
	}

	issues, err := v.Audit(context.Background(), segments, nil)
	if err != nil {
		t.Fatalf("Audit() error = %v", err)
	}
	if len(issues) == 0 || issues[0].Kind != model.KindSQLInjection {
		t.Errorf("Expected an injection issue, got %+v", issues)
	}
}
