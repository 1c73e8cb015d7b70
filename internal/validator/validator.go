// Package validator decides whether a SQL string may run. It parses the
// statement, runs a registry of rules over the parse tree and the raw text,
// and folds their violations into a single verdict.
package validator

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strings"

	"sql-guard/internal/logging"
	"sql-guard/internal/metrics"
	"sql-guard/internal/model"
	"sql-guard/internal/parser"
	"sql-guard/internal/patterns"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Config holds the validator limits.
type Config struct {
	ComplexityTableLimit    int
	ComplexityScoreLimit    float64
	HardCeilingFactor       float64
	AllowedOperations       []string
	AdvisoryRules           bool
	DeepPaginationThreshold int64
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		ComplexityTableLimit:    10,
		ComplexityScoreLimit:    100,
		HardCeilingFactor:       2,
		DeepPaginationThreshold: 5000,
	}
}

// Validator is safe for concurrent use once constructed. Register must not
// be called concurrently with validation.
type Validator struct {
	cfg     Config
	rules   []model.Rule
	parser  *parser.SQLParser
	library *patterns.Library
	policy  model.Policy
	logger  *zap.Logger
	metrics metrics.Collector
}

// Option configures a Validator.
type Option func(*Validator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(v *Validator) { v.logger = logging.OrNop(l) }
}

// WithMetrics sets the metrics collector.
func WithMetrics(c metrics.Collector) Option {
	return func(v *Validator) { v.metrics = c }
}

// WithLibrary shares a pattern library with other components.
func WithLibrary(lib *patterns.Library) Option {
	return func(v *Validator) { v.library = lib }
}

// WithParser shares a parser pool.
func WithParser(p *parser.SQLParser) Option {
	return func(v *Validator) { v.parser = p }
}

// New builds a validator with the built-in rules, plus the advisory rules
// when cfg.AdvisoryRules is set.
func New(cfg Config, opts ...Option) *Validator {
	v := &Validator{
		cfg:     cfg,
		logger:  zap.NewNop(),
		metrics: metrics.NewNoOpCollector(),
		policy:  model.Policy{AllowedOperations: make(map[model.Operation]bool)},
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.library == nil {
		v.library = patterns.NewLibrary()
	}
	if v.parser == nil {
		v.parser = parser.NewSQLParser()
	}
	for _, op := range cfg.AllowedOperations {
		v.policy.AllowedOperations[model.Operation(strings.ToUpper(op))] = true
	}

	v.rules = []model.Rule{
		&InjectionRule{Library: v.library},
		&MultiStatementRule{},
		NewDangerousOperationRule(v.library),
		&ComplexityRule{
			TableLimit:        cfg.ComplexityTableLimit,
			ScoreLimit:        cfg.ComplexityScoreLimit,
			HardCeilingFactor: cfg.HardCeilingFactor,
		},
		&SchemaRule{},
	}
	if cfg.AdvisoryRules {
		for _, r := range AdvisoryRules(cfg.DeepPaginationThreshold) {
			v.Register(r)
		}
	}
	return v
}

// Register adds a rule after the built-in ones.
func (v *Validator) Register(rule model.Rule) {
	v.rules = append(v.rules, rule)
}

// Rules returns the registered rule names in evaluation order.
func (v *Validator) Rules() []string {
	names := make([]string, len(v.rules))
	for i, r := range v.rules {
		names[i] = r.Name()
	}
	return names
}

// Policy returns the configured default policy.
func (v *Validator) Policy() model.Policy {
	return v.policy
}

// Validate checks sql against an optional table to fields catalog using the
// default policy. It never fails; problems become violations.
func (v *Validator) Validate(sql string, schema model.Schema) *model.ValidationResult {
	return v.Check(sql, model.NewSchemaCtx(schema), v.policy)
}

// Check is Validate with a prepared schema context and an explicit policy.
func (v *Validator) Check(sql string, schema *model.SchemaCtx, policy model.Policy) *model.ValidationResult {
	timer := v.metrics.StartTimer(metrics.ValidationDuration)
	defer timer.Stop()

	rc := &model.RuleContext{
		SQL:       sql,
		Sanitized: Sanitize(sql),
		Schema:    schema,
		Policy:    policy,
	}
	res := &model.ValidationResult{
		Operation:    model.OpUnknown,
		SanitizedSQL: rc.Sanitized,
	}

	nodes, err := v.parser.ParseAll(sql)
	if err != nil {
		res.Violations = append(res.Violations, model.Violation{
			Level:      model.LevelBlocked,
			Kind:       model.KindParseError,
			Message:    fmt.Sprintf("Failed to parse SQL: %v", err),
			Suggestion: "Regenerate a single syntactically valid statement.",
			Rule:       "parser",
		})
		res.Operation = parser.LeadingOperation(rc.Sanitized)
	} else {
		for _, node := range nodes {
			rc.Statements = append(rc.Statements, model.Statement{
				Text:      node.Text(),
				Node:      node,
				Operation: parser.OperationOf(node),
			})
		}
		rc.Refs = parser.ExtractReferences(nodes...)
		rc.Complexity = AnalyzeComplexity(nodes...)
		res.Operation = rc.Statements[0].Operation
		res.TableRefs = tableRefs(rc.Refs)
		res.FieldRefs = rc.Refs.Fields
	}
	res.Complexity = rc.Complexity
	if res.Complexity.EstimatedCost == "" {
		res.Complexity.EstimatedCost = model.CostLow
	}

	for _, rule := range v.rules {
		res.Violations = append(res.Violations, v.runRule(rule, rc)...)
	}

	res.SecurityLevel = model.LevelSafe
	for _, viol := range res.Violations {
		res.SecurityLevel = model.MaxLevel(res.SecurityLevel, viol.Level)
		v.metrics.IncrementCounter(metrics.ViolationsTotal, "kind", string(viol.Kind))
	}
	res.IsValid = res.SecurityLevel != model.LevelBlocked
	if res.Violations == nil {
		res.Violations = []model.Violation{}
	}

	v.metrics.IncrementCounter(metrics.ValidationsTotal,
		"level", res.SecurityLevel.String(), "operation", string(res.Operation))
	v.logger.Debug("validated sql",
		zap.Stringer("level", res.SecurityLevel),
		zap.String("operation", string(res.Operation)),
		zap.Int("violations", len(res.Violations)),
		zap.Float64("score", res.Complexity.Score))
	return res
}

// runRule isolates a rule failure. A rule error is logged and skipped; a
// rule panic blocks the statement, so a broken rule never lets SQL through.
func (v *Validator) runRule(rule model.Rule, rc *model.RuleContext) (out []model.Violation) {
	defer func() {
		if r := recover(); r != nil {
			v.logger.Warn("validation rule panicked", zap.String("rule", rule.Name()), zap.Any("panic", r))
			out = []model.Violation{{
				Level:   model.LevelBlocked,
				Kind:    model.KindParseError,
				Message: fmt.Sprintf("Rule %s failed while inspecting the statement", rule.Name()),
				Rule:    rule.Name(),
			}}
		}
	}()

	violations, err := rule.Check(rc)
	if err != nil {
		v.logger.Warn("validation rule failed", zap.String("rule", rule.Name()), zap.Error(err))
		return nil
	}
	for i := range violations {
		if violations[i].Rule == "" {
			violations[i].Rule = rule.Name()
		}
	}
	return violations
}

// ValidateBatch validates every statement concurrently. Results are in input
// order. The only error is ctx cancellation.
func (v *Validator) ValidateBatch(ctx context.Context, sqls []string, schema *model.SchemaCtx, policy model.Policy) ([]*model.ValidationResult, error) {
	results := make([]*model.ValidationResult, len(sqls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for i, sql := range sqls {
		i, sql := i, sql
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = v.Check(sql, schema, policy)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("validate batch: %w", err)
	}
	return results, nil
}

func tableRefs(refs *model.References) []model.TableRef {
	out := make([]model.TableRef, len(refs.Tables))
	copy(out, refs.Tables)
	aliases := make([]string, 0, len(refs.Aliases))
	for alias := range refs.Aliases {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)
	for _, alias := range aliases {
		name := refs.Aliases[alias]
		for i := range out {
			if out[i].Alias == "" && strings.EqualFold(out[i].Name, name) {
				out[i].Alias = alias
				break
			}
		}
	}
	return out
}
