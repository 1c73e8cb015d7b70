package main

import (
	"fmt"
	"os"
	"strings"

	"sql-guard/internal/extractor"
	"sql-guard/internal/model"
	"sql-guard/internal/reporter"
	"sql-guard/internal/scanner"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type scanOptions struct {
	src         string
	schema      string
	format      string
	out         string
	excludes    []string
	concurrency int
	failOn      string
}

func newScanCmd(a *app) *cobra.Command {
	opts := &scanOptions{}
	cmd := &cobra.Command{
		Use:   "scan [path]",
		Short: "Find SQL embedded in source files and validate it",
		Long: `Walks a source tree, extracts SQL string literals and .sql statements,
and runs every one through the security validator.

Fragments that do not parse as a whole statement are skipped. The command
fails when an issue reaches the --fail-on level.`,
		Example: `  # Scan the current directory
  sql-guard scan

  # Check references against a schema and write JSON
  sql-guard scan ./services --schema schema.sql --format json -o report.json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				opts.src = args[0]
			}
			return a.runScan(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.src, "src", "s", ".", "Path to source code to scan")
	cmd.Flags().StringVarP(&opts.schema, "schema", "S", "", "Path to database schema SQL file")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "console", "Report format: console, json")
	cmd.Flags().StringVarP(&opts.out, "out", "o", "", "Output file path (default: stdout)")
	cmd.Flags().StringSliceVarP(&opts.excludes, "exclude", "e", []string{".git", "vendor", "node_modules", "*_test.go"}, "Glob patterns to exclude from scan")
	cmd.Flags().IntVarP(&opts.concurrency, "concurrency", "j", 0, "Files extracted in parallel (default: GOMAXPROCS)")
	cmd.Flags().StringVar(&opts.failOn, "fail-on", "BLOCKED", "Lowest level that fails the scan: WARNING, DANGEROUS, BLOCKED")
	return cmd
}

func (a *app) runScan(cmd *cobra.Command, opts *scanOptions) error {
	var failOn model.SecurityLevel
	if err := failOn.UnmarshalText([]byte(opts.failOn)); err != nil {
		return err
	}
	if failOn == model.LevelSafe {
		return fmt.Errorf("--fail-on must be above SAFE")
	}
	if _, err := os.Stat(opts.src); err != nil {
		return fmt.Errorf("source path: %w", err)
	}

	ctx := cmd.Context()
	e, closeEngine, err := a.openEngine(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = closeEngine() }()
	logger := e.Logger()

	schema, err := loadSchema(e, opts.schema)
	if err != nil {
		return err
	}

	mgr := extractor.DefaultManager()
	report, err := scanner.Scan(ctx, opts.src, mgr.Extract, scanner.Options{
		Extensions:  mgr.Extensions(),
		Excludes:    opts.excludes,
		Concurrency: opts.concurrency,
		Logger:      logger.Named("scanner"),
		Metrics:     e.Metrics(),
	})
	if err != nil {
		return fmt.Errorf("scan %s: %w", opts.src, err)
	}
	for path, ferr := range report.FileErrors {
		logger.Warn("skipped file", zap.String("file", path), zap.Error(ferr))
	}
	logger.Info("scan complete",
		zap.String("src", opts.src),
		zap.Int("files", report.Files),
		zap.Int("segments", len(report.Segments)),
		zap.Strings("languages", languages(report.Segments)))

	issues, err := e.Validator().Audit(ctx, report.Segments, schema)
	if err != nil {
		return fmt.Errorf("audit failed: %w", err)
	}

	w, closeOut, err := outputWriter(cmd, opts.out)
	if err != nil {
		return err
	}
	rpt, err := reporter.New(opts.format, w)
	if err != nil {
		_ = closeOut()
		return err
	}
	if err := rpt.Report(issues); err != nil {
		_ = closeOut()
		return fmt.Errorf("reporting failed: %w", err)
	}
	if err := closeOut(); err != nil {
		return err
	}

	if len(issues) > 0 && reporter.MaxLevel(issues) >= failOn {
		return fmt.Errorf("%w: %d issues, highest %s", errFindings, len(issues), reporter.MaxLevel(issues))
	}
	return nil
}

func languages(segs []model.SQLSegment) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range segs {
		lang := strings.ToLower(s.Language)
		if lang == "" || seen[lang] {
			continue
		}
		seen[lang] = true
		out = append(out, lang)
	}
	return out
}
