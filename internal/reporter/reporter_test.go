package reporter

import (
	"bytes"
	"encoding/json"
	"testing"

	"sql-guard/internal/model"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleIssues() []model.Issue {
	seg := model.SQLSegment{
		SQL:      "DROP TABLE users",
		Location: model.Location{FilePath: "repo/users.go", Line: 12},
		Language: "go",
	}
	return []model.Issue{
		{
			Violation: model.Violation{
				Level:      model.LevelBlocked,
				Kind:       model.KindDangerousOperation,
				Message:    "DROP statements are not allowed",
				Suggestion: "Only read queries and explicitly allowed writes may run.",
				Rule:       "dangerous_operation",
			},
			Segment: seg,
		},
		{
			Violation: model.Violation{Level: model.LevelWarning, Kind: model.KindPerformanceHint, Message: "SELECT * used"},
			Segment:   seg,
		},
	}
}

func TestConsoleReporter(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	require.NoError(t, NewConsoleReporterTo(&buf).Report(sampleIssues()))

	out := buf.String()
	assert.Contains(t, out, "repo/users.go:12: [BLOCKED] DANGEROUS_OPERATION DROP statements are not allowed")
	assert.Contains(t, out, "Suggestion: Only read queries")
	assert.Contains(t, out, "found 2 issues (1 blocked, 0 dangerous, 1 warnings)")

	buf.Reset()
	require.NoError(t, NewConsoleReporterTo(&buf).Report(nil))
	assert.Contains(t, buf.String(), "No SQL issues found")
}

func TestJSONReporter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewJSONReporter(&buf).Report(sampleIssues()))

	var doc struct {
		Summary Summary `json:"summary"`
		Issues  []struct {
			File  string `json:"file"`
			Line  int    `json:"line"`
			Level string `json:"level"`
			Kind  string `json:"kind"`
		} `json:"issues"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, Summary{Total: 2, Blocked: 1, Warnings: 1}, doc.Summary)
	require.Len(t, doc.Issues, 2)
	assert.Equal(t, "repo/users.go", doc.Issues[0].File)
	assert.Equal(t, 12, doc.Issues[0].Line)
	assert.Equal(t, "BLOCKED", doc.Issues[0].Level)
	assert.Equal(t, "DANGEROUS_OPERATION", doc.Issues[0].Kind)

	buf.Reset()
	require.NoError(t, NewJSONReporter(&buf).Report(nil))
	assert.Contains(t, buf.String(), `"issues": []`)
}

func TestNew(t *testing.T) {
	var buf bytes.Buffer
	r, err := New("json", &buf)
	require.NoError(t, err)
	assert.IsType(t, &JSONReporter{}, r)

	r, err = New("", &buf)
	require.NoError(t, err)
	assert.IsType(t, &ConsoleReporter{}, r)

	_, err = New("html", &buf)
	assert.Error(t, err)
}

func TestMaxLevelAndTruncate(t *testing.T) {
	assert.Equal(t, model.LevelBlocked, MaxLevel(sampleIssues()))
	assert.Equal(t, model.LevelSafe, MaxLevel(nil))
	assert.Equal(t, "abc...", truncate("abcdef", 3))
	assert.Equal(t, "abc", truncate("abc", 3))
}
