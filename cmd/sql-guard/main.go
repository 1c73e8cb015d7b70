package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"sql-guard/internal/config"
	"sql-guard/internal/engine"
	"sql-guard/internal/metrics"
	"sql-guard/internal/model"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Set with -ldflags at build time.
var (
	version = "dev"
	commit  = "none"
)

// errFindings makes the process exit non-zero without printing usage.
var errFindings = errors.New("findings at or above the failure level")

const shutdownTimeout = 5 * time.Second

type app struct {
	cfgFile string
	cfg     *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "sql-guard",
		Short: "Safety and recovery checks for generated SQL",
		Long: `sql-guard validates SQL before it runs, classifies database errors,
explains them for the next generation attempt and learns recurring
error patterns.

It scans source trees for embedded SQL, validates single statements
from the command line or stdin, and manages the learned pattern store.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.cfgFile, cmd.Root().PersistentFlags())
			if err != nil {
				return err
			}
			a.cfg = cfg
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&a.cfgFile, "config", "c", "", "Config file (default: sql-guard.yaml in the working directory)")
	pf.String("log-level", "info", "Log level: debug, info, warn, error")
	pf.Int("max-attempts", 3, "Maximum attempts per session")
	pf.Float64("backoff", 1.0, "Base backoff in seconds for connection errors")
	pf.Int("table-limit", 10, "Table count above which a query is flagged")
	pf.Float64("score-limit", 100, "Complexity score above which a query is flagged")
	pf.StringSlice("allow", nil, "Write operations allowed by the policy (INSERT, UPDATE, DELETE)")
	pf.Bool("advisory", false, "Enable advisory performance rules")
	pf.String("pattern-store", "", "SQLite file holding learned patterns")
	pf.Bool("disable-learning", false, "Do not learn from classified errors")
	pf.Bool("enable-metrics", false, "Serve Prometheus metrics while the command runs")
	pf.String("metrics-address", ":9090", "Metrics listen address")

	root.AddCommand(
		newScanCmd(a),
		newValidateCmd(a),
		newClassifyCmd(a),
		newPatternsCmd(a),
		newVersionCmd(),
	)
	return root
}

// openEngine builds an engine from the loaded config. The returned func
// stops the metrics server and closes the engine, flushing learned patterns.
func (a *app) openEngine(ctx context.Context) (*engine.Engine, func() error, error) {
	e, err := engine.New(ctx, a.cfg)
	if err != nil {
		return nil, nil, err
	}

	var srv *metrics.Server
	if prom := e.Prometheus(); prom != nil {
		srv = metrics.NewServer(a.cfg.Metrics.Address, a.cfg.Metrics.Path, prom)
		go func() {
			if err := srv.Start(); err != nil {
				e.Logger().Warn("metrics server stopped", zap.Error(err))
			}
		}()
		e.Logger().Info("serving metrics",
			zap.String("address", a.cfg.Metrics.Address),
			zap.String("path", a.cfg.Metrics.Path))
	}

	closeFn := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		var errs []error
		if srv != nil {
			errs = append(errs, srv.Stop(ctx))
		}
		errs = append(errs, e.Close(ctx))
		return errors.Join(errs...)
	}
	return e, closeFn, nil
}

// loadSchema reads a DDL file. An empty path means no catalog.
func loadSchema(e *engine.Engine, path string) (*model.SchemaCtx, error) {
	if path == "" {
		return nil, nil
	}
	schema, err := e.Parser().LoadSchema(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load schema %s: %w", path, err)
	}
	e.Logger().Debug("schema loaded", zap.String("path", path), zap.Int("tables", len(schema.Tables)))
	return schema, nil
}

// outputWriter returns the file at path, or the command's stdout when path
// is empty.
func outputWriter(cmd *cobra.Command, path string) (io.Writer, func() error, error) {
	if path == "" {
		return cmd.OutOrStdout(), func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create output file: %w", err)
	}
	return f, f.Close, nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
