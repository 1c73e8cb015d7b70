// Package reporter prints validation findings for source-tree scans.
package reporter

import (
	"fmt"
	"io"
	"os"

	"sql-guard/internal/model"

	"github.com/fatih/color"
)

type ConsoleReporter struct {
	out io.Writer
}

func NewConsoleReporter() *ConsoleReporter {
	return &ConsoleReporter{out: os.Stdout}
}

// NewConsoleReporterTo writes to w instead of stdout.
func NewConsoleReporterTo(w io.Writer) *ConsoleReporter {
	return &ConsoleReporter{out: w}
}

func (r *ConsoleReporter) Report(issues []model.Issue) error {
	if len(issues) == 0 {
		fmt.Fprintln(r.out, color.GreenString("✔ No SQL issues found."))
		return nil
	}

	for _, issue := range issues {
		// file:line: [LEVEL] KIND message
		fmt.Fprintf(r.out, "%s: [%s] %s %s\n",
			issue.Segment.Location, levelColor(issue.Level).Sprint(issue.Level), issue.Kind, issue.Message)
		fmt.Fprintf(r.out, "\tCode: %s\n", color.CyanString(truncate(issue.Segment.SQL, 80)))
		if issue.Location != "" {
			fmt.Fprintf(r.out, "\tAt: %s\n", issue.Location)
		}
		if issue.Suggestion != "" {
			fmt.Fprintf(r.out, "\tSuggestion: %s\n", issue.Suggestion)
		}
		fmt.Fprintln(r.out)
	}

	s := Summarize(issues)
	fmt.Fprintf(r.out, "%s found %d issues (%d blocked, %d dangerous, %d warnings).\n",
		color.RedString("✘"), s.Total, s.Blocked, s.Dangerous, s.Warnings)
	return nil
}

func levelColor(level model.SecurityLevel) *color.Color {
	switch level {
	case model.LevelBlocked:
		return color.New(color.FgRed, color.Bold)
	case model.LevelDangerous:
		return color.New(color.FgMagenta, color.Bold)
	case model.LevelWarning:
		return color.New(color.FgYellow, color.Bold)
	default:
		return color.New(color.FgBlue)
	}
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) > max {
		return string(r[:max]) + "..."
	}
	return s
}

// Summary counts issues per level.
type Summary struct {
	Total     int `json:"total"`
	Blocked   int `json:"blocked"`
	Dangerous int `json:"dangerous"`
	Warnings  int `json:"warnings"`
}

// Summarize counts issues per level.
func Summarize(issues []model.Issue) Summary {
	s := Summary{Total: len(issues)}
	for _, issue := range issues {
		switch issue.Level {
		case model.LevelBlocked:
			s.Blocked++
		case model.LevelDangerous:
			s.Dangerous++
		case model.LevelWarning:
			s.Warnings++
		}
	}
	return s
}

// MaxLevel returns the most severe level among issues, SAFE when there are none.
func MaxLevel(issues []model.Issue) model.SecurityLevel {
	level := model.LevelSafe
	for _, issue := range issues {
		level = model.MaxLevel(level, issue.Level)
	}
	return level
}
