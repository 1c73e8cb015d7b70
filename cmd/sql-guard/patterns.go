package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"sql-guard/internal/learning"
	"sql-guard/internal/model"

	"github.com/spf13/cobra"
)

func newPatternsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patterns",
		Short: "Inspect and manage learned error patterns",
		Long: `Works on the patterns held by the pattern store given with --pattern-store
(or learning.store_path). Without a store only the patterns learned during
the command itself are visible.`,
	}
	cmd.AddCommand(
		newPatternsListCmd(a),
		newPatternsExportCmd(a),
		newPatternsStatsCmd(a),
		newPatternsLearnCmd(a),
		newPatternsPredictCmd(a),
		newPatternsResetCmd(a),
	)
	return cmd
}

func newPatternsListCmd(a *app) *cobra.Command {
	var (
		minFrequency int
		format       string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List learned patterns, most frequent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, closeEngine, err := a.openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = closeEngine() }()

			ps := e.Learning().GetFrequentPatterns(minFrequency)
			if format != "table" {
				return learning.WriteData(cmd.OutOrStdout(), ps, format)
			}
			if len(ps) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No learned patterns.")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTYPE\tFREQ\tCONFIDENCE\tFIX RATE\tSIGNATURE")
			for _, p := range ps {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%.2f\t%s\t%s\n",
					shortID(p.PatternID), p.ErrorType, p.Frequency, p.Confidence,
					successRate(p), truncateSignature(p.Signature, 60))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&minFrequency, "min-frequency", 1, "Only list patterns seen at least this often")
	cmd.Flags().StringVarP(&format, "format", "f", "table", "Output format: table, json, yaml")
	return cmd
}

func newPatternsExportCmd(a *app) *cobra.Command {
	var format, out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export patterns, open sessions and statistics",
		Example: `  sql-guard patterns export --pattern-store patterns.db --format yaml -o learned.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, closeEngine, err := a.openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = closeEngine() }()

			w, closeOut, err := outputWriter(cmd, out)
			if err != nil {
				return err
			}
			if err := e.Learning().Export(w, format); err != nil {
				_ = closeOut()
				return err
			}
			return closeOut()
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "yaml", "Export format: yaml, json")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file path (default: stdout)")
	return cmd
}

func newPatternsStatsCmd(a *app) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show pattern counts by error type",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, closeEngine, err := a.openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = closeEngine() }()
			return learning.WriteData(cmd.OutOrStdout(), e.Learning().Stats(), format)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "yaml", "Output format: yaml, json")
	return cmd
}

func newPatternsLearnCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "learn <error type> <error message>",
		Short: "Label an error message with its correct type",
		Long: `Records a supervised pattern. Messages with the same shape are classified
as the given type from then on. Valid types: ` + errorTypeNames() + `.`,
		Example: `  sql-guard patterns learn PERMISSION_ERROR "quota 'reports' exhausted" --pattern-store patterns.db`,
		Args:    cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			typ, err := model.ParseErrorType(args[0])
			if err != nil {
				return err
			}
			e, closeEngine, err := a.openEngine(cmd.Context())
			if err != nil {
				return err
			}
			p, err := e.LearnFromFeedback(strings.Join(args[1:], " "), typ)
			if err != nil {
				_ = closeEngine()
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Learned %s as %s (pattern %s)\n", p.Signature, p.ErrorType, p.PatternID)
			return closeEngine()
		},
	}
	return cmd
}

func newPatternsPredictCmd(a *app) *cobra.Command {
	var sql string
	cmd := &cobra.Command{
		Use:   "predict <question>",
		Short: "Rank the errors a question is likely to run into",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, closeEngine, err := a.openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = closeEngine() }()

			preds := e.PredictErrors(learning.Context{Question: strings.Join(args, " "), SQL: sql})
			if len(preds) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No matching patterns.")
				return nil
			}
			for _, p := range preds {
				fmt.Fprintf(cmd.OutOrStdout(), "%-18s %5.1f%%\n", p.ErrorType, p.Probability*100)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sql, "sql", "", "Candidate SQL to take keywords from")
	return cmd
}

func newPatternsResetCmd(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Forget every learned pattern",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("reset removes every learned pattern; pass --yes to confirm")
			}
			e, closeEngine, err := a.openEngine(cmd.Context())
			if err != nil {
				return err
			}
			n, err := e.ResetPatterns(cmd.Context())
			if err != nil {
				_ = closeEngine()
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d patterns.\n", n)
			return closeEngine()
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm the reset")
	return cmd
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func successRate(p *model.ErrorPattern) string {
	if p.SuccessRateAfterFix == nil {
		return "-"
	}
	return fmt.Sprintf("%.0f%%", *p.SuccessRateAfterFix*100)
}

func truncateSignature(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func errorTypeNames() string {
	names := make([]string, 0, len(model.ErrorTypes))
	for _, t := range model.ErrorTypes {
		if t != model.ErrUnknown {
			names = append(names, string(t))
		}
	}
	return strings.Join(names, ", ")
}
