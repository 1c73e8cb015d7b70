package main

import (
	"fmt"
	"io"

	"sql-guard/internal/extractor"
	"sql-guard/internal/model"
	"sql-guard/internal/reporter"

	"github.com/spf13/cobra"
)

type validateOptions struct {
	schema    string
	format    string
	listRules bool
}

func newValidateCmd(a *app) *cobra.Command {
	opts := &validateOptions{}
	cmd := &cobra.Command{
		Use:   "validate [sql...]",
		Short: "Validate SQL before it runs",
		Long: `Validates each argument as one SQL string. With no arguments, or a single
"-", statements are read from stdin and split on semicolons.

Parse failures are reported as BLOCKED. The command fails when any
statement is blocked.`,
		Example: `  sql-guard validate "SELECT id, name FROM customers WHERE id = 7"
  sql-guard validate --schema schema.sql --allow INSERT < queries.sql`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runValidate(cmd, opts, args)
		},
	}
	cmd.Flags().StringVarP(&opts.schema, "schema", "S", "", "Path to database schema SQL file")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "console", "Report format: console, json")
	cmd.Flags().BoolVar(&opts.listRules, "list-rules", false, "Print the active rules in evaluation order and exit")
	return cmd
}

func (a *app) runValidate(cmd *cobra.Command, opts *validateOptions, args []string) error {
	if opts.listRules {
		return a.listRules(cmd)
	}
	segments, err := readSegments(cmd.InOrStdin(), args)
	if err != nil {
		return err
	}
	if len(segments) == 0 {
		return fmt.Errorf("no SQL to validate")
	}

	ctx := cmd.Context()
	e, closeEngine, err := a.openEngine(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = closeEngine() }()

	schema, err := loadSchema(e, opts.schema)
	if err != nil {
		return err
	}

	sqls := make([]string, len(segments))
	for i, seg := range segments {
		sqls[i] = seg.SQL
	}
	results, err := e.ValidateBatch(ctx, sqls, schema)
	if err != nil {
		return err
	}

	var issues []model.Issue
	blocked := 0
	for i, res := range results {
		if !res.IsValid {
			blocked++
		}
		for _, v := range res.Violations {
			issues = append(issues, model.Issue{Violation: v, Segment: segments[i]})
		}
	}

	rpt, err := reporter.New(opts.format, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	if err := rpt.Report(issues); err != nil {
		return fmt.Errorf("reporting failed: %w", err)
	}
	if blocked > 0 {
		return fmt.Errorf("%w: %d of %d statements blocked", errFindings, blocked, len(results))
	}
	return nil
}

func (a *app) listRules(cmd *cobra.Command) error {
	e, closeEngine, err := a.openEngine(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { _ = closeEngine() }()
	for _, name := range e.Validator().Rules() {
		fmt.Fprintln(cmd.OutOrStdout(), name)
	}
	return nil
}

// readSegments turns arguments, or stdin when there are none, into segments
// located by argument index or script line.
func readSegments(stdin io.Reader, args []string) ([]model.SQLSegment, error) {
	if len(args) == 0 || (len(args) == 1 && args[0] == "-") {
		script, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		stmts := extractor.SplitStatements(string(script))
		segs := make([]model.SQLSegment, len(stmts))
		for i, st := range stmts {
			segs[i] = model.SQLSegment{
				SQL:      st.SQL,
				Location: model.Location{FilePath: "<stdin>", Line: st.Line},
				Language: "sql",
			}
		}
		return segs, nil
	}

	segs := make([]model.SQLSegment, 0, len(args))
	for i, arg := range args {
		segs = append(segs, model.SQLSegment{
			SQL:      arg,
			Location: model.Location{FilePath: "<arg>", Line: i + 1},
			Language: "sql",
		})
	}
	return segs, nil
}
