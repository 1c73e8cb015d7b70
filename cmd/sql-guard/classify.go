package main

import (
	"fmt"
	"strings"

	"sql-guard/internal/feedback"
	"sql-guard/internal/learning"
	"sql-guard/internal/model"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type classifyOptions struct {
	sql      string
	question string
	session  string
	schema   string
	attempt  int
	format   string
	learn    bool
}

// classification is the structured output of the classify command.
type classification struct {
	Error    *model.SQLError   `json:"error" yaml:"error"`
	Feedback *feedback.Message `json:"feedback" yaml:"feedback"`
}

func newClassifyCmd(a *app) *cobra.Command {
	opts := &classifyOptions{}
	cmd := &cobra.Command{
		Use:   "classify <error message>",
		Short: "Classify a database error and explain it",
		Long: `Classifies a database error message, picks its retry strategy and prints
the feedback the next generation attempt would receive.

With --learn the error is also recorded by the pattern learning service,
and persisted when a pattern store is configured.`,
		Example: `  sql-guard classify "Error 1054 (42S22): Unknown column 'emial' in 'field list'" \
    --sql "SELECT emial FROM customers" --schema schema.sql

  sql-guard classify "no such table: invoice" --format yaml --learn --pattern-store patterns.db`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runClassify(cmd, opts, strings.Join(args, " "))
		},
	}
	cmd.Flags().StringVar(&opts.sql, "sql", "", "SQL statement that failed")
	cmd.Flags().StringVarP(&opts.question, "question", "q", "", "Natural-language question the SQL answered")
	cmd.Flags().StringVar(&opts.session, "session", "cli", "Session ID used for feedback and learning")
	cmd.Flags().StringVarP(&opts.schema, "schema", "S", "", "Path to database schema SQL file")
	cmd.Flags().IntVar(&opts.attempt, "attempt", 0, "Attempt number shown in the feedback")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json, yaml")
	cmd.Flags().BoolVar(&opts.learn, "learn", false, "Record the error with the pattern learning service")
	return cmd
}

func (a *app) runClassify(cmd *cobra.Command, opts *classifyOptions, message string) error {
	format := strings.ToLower(opts.format)
	switch format {
	case "text", "json", "yaml", "yml":
	default:
		return fmt.Errorf("unknown output format %q", opts.format)
	}

	e, closeEngine, err := a.openEngine(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { _ = closeEngine() }()

	schema, err := loadSchema(e, opts.schema)
	if err != nil {
		return err
	}

	sqlErr := e.Classify(message, opts.sql)
	fc := feedback.ContextFromSchema(opts.session, opts.question, schema.Fields())
	if opts.attempt > 0 {
		fc.Attempt = opts.attempt
		fc.MaxAttempts = e.Config().Retry.MaxAttempts
	}
	msg := e.GenerateFeedback(sqlErr, fc)

	if opts.learn {
		p, err := e.Learning().RecordError(opts.session, sqlErr, learning.Context{Question: opts.question, SQL: opts.sql})
		if err != nil {
			return fmt.Errorf("record error: %w", err)
		}
		e.Logger().Info("recorded error pattern",
			zap.String("pattern_id", p.PatternID),
			zap.Int("frequency", p.Frequency))
	}

	out := cmd.OutOrStdout()
	if format != "text" {
		return learning.WriteData(out, classification{Error: sqlErr, Feedback: msg}, format)
	}

	fmt.Fprintf(out, "Type:       %s\n", sqlErr.ErrorType)
	fmt.Fprintf(out, "Strategy:   %s\n", sqlErr.RetryStrategy)
	fmt.Fprintf(out, "Confidence: %.2f\n", sqlErr.Confidence)
	if sqlErr.MatchedPattern != "" {
		fmt.Fprintf(out, "Pattern:    %s\n", sqlErr.MatchedPattern)
	}
	fmt.Fprintf(out, "\n%s\n", msg.FormatForPrompt())
	return nil
}
