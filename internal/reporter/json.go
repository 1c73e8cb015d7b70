package reporter

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"sql-guard/internal/model"
)

// JSONReporter writes issues and a summary as one indented JSON document.
type JSONReporter struct {
	out io.Writer
}

func NewJSONReporter(w io.Writer) *JSONReporter {
	if w == nil {
		w = os.Stdout
	}
	return &JSONReporter{out: w}
}

type jsonIssue struct {
	File       string              `json:"file"`
	Line       int                 `json:"line"`
	Language   string              `json:"language,omitempty"`
	SQL        string              `json:"sql"`
	Level      string              `json:"level"`
	Kind       model.ViolationKind `json:"kind"`
	Message    string              `json:"message"`
	Location   string              `json:"location,omitempty"`
	Suggestion string              `json:"suggestion,omitempty"`
	Rule       string              `json:"rule,omitempty"`
}

type jsonReport struct {
	Summary Summary     `json:"summary"`
	Issues  []jsonIssue `json:"issues"`
}

func (r *JSONReporter) Report(issues []model.Issue) error {
	doc := jsonReport{Summary: Summarize(issues), Issues: make([]jsonIssue, 0, len(issues))}
	for _, issue := range issues {
		doc.Issues = append(doc.Issues, jsonIssue{
			File:       issue.Segment.Location.FilePath,
			Line:       issue.Segment.Location.Line,
			Language:   issue.Segment.Language,
			SQL:        issue.Segment.SQL,
			Level:      issue.Level.String(),
			Kind:       issue.Kind,
			Message:    issue.Message,
			Location:   issue.Location,
			Suggestion: issue.Suggestion,
			Rule:       issue.Rule,
		})
	}
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("write json report: %w", err)
	}
	return nil
}

// New returns the reporter for format "console" or "json".
func New(format string, w io.Writer) (model.Reporter, error) {
	switch format {
	case "", "console":
		if w == nil {
			return NewConsoleReporter(), nil
		}
		return NewConsoleReporterTo(w), nil
	case "json":
		return NewJSONReporter(w), nil
	default:
		return nil, fmt.Errorf("unknown report format %q", format)
	}
}
