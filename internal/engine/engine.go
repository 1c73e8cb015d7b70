// Package engine owns one instance of every guard component and wires them
// together: validation before execution, classification and bounded retry
// after a failure, and asynchronous pattern learning from both.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"sql-guard/internal/classifier"
	"sql-guard/internal/config"
	"sql-guard/internal/feedback"
	"sql-guard/internal/learning"
	"sql-guard/internal/logging"
	"sql-guard/internal/metrics"
	"sql-guard/internal/model"
	"sql-guard/internal/parser"
	"sql-guard/internal/patterns"
	"sql-guard/internal/retry"
	"sql-guard/internal/store"
	"sql-guard/internal/validator"

	"go.uber.org/zap"
)

// ErrClosed is returned by operations that need the learning dispatcher
// after Close.
var ErrClosed = errors.New("engine is closed")

// dispatchBuffer is the capacity of the learning event queue.
const dispatchBuffer = 256

// Engine is safe for concurrent use. Separate engines share no state.
type Engine struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics metrics.Collector
	prom    *metrics.PrometheusCollector

	library    *patterns.Library
	parser     *parser.SQLParser
	validator  *validator.Validator
	classifier *classifier.Classifier
	feedback   *feedback.Generator
	retry      *retry.Handler
	learning   *learning.Service
	store      *store.SQLite
	janitor    *learning.Janitor

	events chan event
	done   chan struct{}
	// sendMu orders sends against Close so no send hits a closed channel.
	sendMu sync.RWMutex
	closed bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger instead of building one from the config.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = logging.OrNop(l) }
}

// WithMetrics sets the metrics collector instead of building one from the config.
func WithMetrics(m metrics.Collector) Option {
	return func(e *Engine) { e.metrics = m }
}

// New validates cfg and builds every component. With learning.store_path
// set, learned patterns are loaded from the store.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	overrides, err := cfg.Retry.StrategyOverrides()
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:    cfg,
		events: make(chan event, dispatchBuffer),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		if e.logger, err = logging.New(cfg.LogLevel); err != nil {
			return nil, err
		}
	}
	if e.metrics == nil {
		if cfg.Metrics.Enabled {
			e.prom = metrics.NewPrometheusCollector()
			e.metrics = e.prom
		} else {
			e.metrics = metrics.NewNoOpCollector()
		}
	}

	e.library = patterns.NewLibrary()
	ids := make([]string, 0, len(cfg.Validator.InjectionSignatures))
	for id := range cfg.Validator.InjectionSignatures {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if err := e.library.AddInjectionSignature(id, "configured signature "+id, cfg.Validator.InjectionSignatures[id]); err != nil {
			return nil, fmt.Errorf("%w: validator.injection_signatures: %v", config.ErrInvalidConfig, err)
		}
	}
	e.parser = parser.NewSQLParser()
	e.validator = validator.New(validator.Config{
		ComplexityTableLimit:    cfg.Validator.ComplexityTableLimit,
		ComplexityScoreLimit:    cfg.Validator.ComplexityScoreLimit,
		HardCeilingFactor:       cfg.Validator.HardCeilingFactor,
		AllowedOperations:       cfg.Validator.AllowedOperations,
		AdvisoryRules:           cfg.Validator.AdvisoryRules,
		DeepPaginationThreshold: cfg.Validator.DeepPaginationThreshold,
	},
		validator.WithLibrary(e.library),
		validator.WithParser(e.parser),
		validator.WithLogger(e.logger.Named("validator")),
		validator.WithMetrics(e.metrics),
	)
	e.logger.Debug("validator ready",
		zap.Strings("rules", e.validator.Rules()),
		zap.Int("injection_signatures", len(e.library.InjectionSignatures())))
	e.classifier = classifier.New(
		classifier.WithLibrary(e.library),
		classifier.WithStrategies(overrides),
		classifier.WithHistoryLimit(cfg.Classifier.HistoryLimit),
		classifier.WithLogger(e.logger.Named("classifier")),
		classifier.WithMetrics(e.metrics),
	)
	e.feedback = feedback.New(feedback.WithParser(e.parser))

	learnOpts := []learning.Option{
		learning.WithLibrary(e.library),
		learning.WithLogger(e.logger.Named("learning")),
		learning.WithMetrics(e.metrics),
	}
	if cfg.Learning.StorePath != "" {
		st, err := store.Open(ctx, cfg.Learning.StorePath, e.logger.Named("store"))
		if err != nil {
			return nil, err
		}
		e.store = st
		learnOpts = append(learnOpts, learning.WithStore(st))
	}
	e.learning = learning.New(learning.Config{
		Enabled: cfg.Learning.Enabled,
		MaxAge:  cfg.Learning.MaxAge(),
	}, learnOpts...)
	if err := e.learning.Load(ctx); err != nil {
		e.closeStore()
		return nil, err
	}

	e.retry = retry.New(retry.Config{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BackoffBase: cfg.Retry.Backoff(),
	},
		retry.WithClassifier(e.classifier),
		retry.WithFeedback(e.feedback),
		retry.WithValidator(e.validator),
		retry.WithObserver(observer{e}),
		retry.WithLogger(e.logger.Named("retry")),
		retry.WithMetrics(e.metrics),
	)

	go e.dispatch()
	return e, nil
}

// Start runs the janitor on learning.cleanup_schedule. It evicts idle
// learning and retry sessions alike. Long-running hosts call it once;
// one-shot commands skip it.
func (e *Engine) Start() error {
	schedule := e.cfg.Learning.CleanupSchedule
	if schedule == "" || e.janitor != nil {
		return nil
	}
	j, err := e.learning.StartJanitor(context.Background(), schedule, e.cfg.Learning.MaxAge(), e.cleanupRetrySessions)
	if err != nil {
		return err
	}
	e.janitor = j
	return nil
}

func (e *Engine) cleanupRetrySessions(maxAge time.Duration) {
	if n := e.retry.CleanupSessions(maxAge); n > 0 {
		e.logger.Debug("evicted idle retry sessions", zap.Int("count", n))
	}
}

// Validate checks sql against an optional catalog with the configured policy.
func (e *Engine) Validate(sql string, schema model.Schema) *model.ValidationResult {
	return e.validator.Validate(sql, schema)
}

// Check validates with a prepared schema context and an explicit policy.
func (e *Engine) Check(sql string, schema *model.SchemaCtx, policy model.Policy) *model.ValidationResult {
	return e.validator.Check(sql, schema, policy)
}

// ValidateBatch validates statements concurrently with the configured policy.
func (e *Engine) ValidateBatch(ctx context.Context, sqls []string, schema *model.SchemaCtx) ([]*model.ValidationResult, error) {
	return e.validator.ValidateBatch(ctx, sqls, schema, e.validator.Policy())
}

// Classify types an execution error without touching any session.
func (e *Engine) Classify(errorMessage, sql string) *model.SQLError {
	return e.classifier.Classify(errorMessage, sql)
}

// GenerateFeedback explains a classified error. Without an explicit attempt,
// a session that already spent retries on the error type reports them.
func (e *Engine) GenerateFeedback(sqlErr *model.SQLError, fc feedback.Context) *feedback.Message {
	if fc.Attempt == 0 && fc.SessionID != "" && sqlErr != nil {
		if n := e.retry.AttemptsFor(fc.SessionID, sqlErr.ErrorType); n > 0 {
			fc.Attempt, fc.MaxAttempts = n, e.cfg.Retry.MaxAttempts
		}
	}
	return e.feedback.GenerateFeedback(sqlErr, fc)
}

// HandleWithRetry recovers from an execution failure. Its classification is
// queued for learning.
func (e *Engine) HandleWithRetry(ctx context.Context, req retry.Request, regenerate retry.RegenerateFunc) *retry.Result {
	return e.retry.HandleWithRetry(ctx, req, regenerate)
}

// RecordSuccess tells the engine the caller executed sql successfully: the
// retry budget of the session is reset and its learning session is closed.
func (e *Engine) RecordSuccess(sessionID, sql string) error {
	e.retry.MarkSucceeded(sessionID)
	if !e.send(event{kind: eventSuccess, sessionID: sessionID, sql: sql}, true) {
		return ErrClosed
	}
	return nil
}

// PredictErrors ranks the error types the context is likely to hit.
func (e *Engine) PredictErrors(c learning.Context) []learning.Prediction {
	return learning.RankPredictions(e.learning.PredictErrors(c))
}

// LearnFromFeedback labels an error message with its correct type; the
// classifier uses the label immediately.
func (e *Engine) LearnFromFeedback(errorMessage string, correct model.ErrorType) (*model.ErrorPattern, error) {
	return e.learning.LearnFromFeedback(errorMessage, correct)
}

// Sync waits until every learning event queued before the call is applied.
func (e *Engine) Sync(ctx context.Context) error {
	ack := make(chan struct{})
	if !e.send(event{kind: eventBarrier, ack: ack}, true) {
		return ErrClosed
	}
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ResetPatterns applies queued learning events, then forgets every learned
// pattern in memory and in the pattern store.
func (e *Engine) ResetPatterns(ctx context.Context) (int, error) {
	if err := e.Sync(ctx); err != nil {
		return 0, err
	}
	n := e.learning.ResetPatterns()
	if e.store == nil {
		return n, nil
	}
	if _, err := e.store.DeleteAll(ctx); err != nil {
		return n, fmt.Errorf("reset pattern store: %w", err)
	}
	return n, nil
}

// Close stops the janitor, applies the queued learning events, flushes the
// pattern store and closes it. It is safe to call more than once.
func (e *Engine) Close(ctx context.Context) error {
	e.sendMu.Lock()
	if e.closed {
		e.sendMu.Unlock()
		return nil
	}
	e.closed = true
	close(e.events)
	e.sendMu.Unlock()

	if e.janitor != nil {
		e.janitor.Stop()
	}

	var errs []error
	select {
	case <-e.done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("drain learning events: %w", ctx.Err()))
	}
	if err := e.learning.Flush(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := e.closeStore(); err != nil {
		errs = append(errs, err)
	}
	_ = e.logger.Sync()
	return errors.Join(errs...)
}

func (e *Engine) closeStore() error {
	if e.store == nil {
		return nil
	}
	if err := e.store.Close(); err != nil {
		return fmt.Errorf("close pattern store: %w", err)
	}
	return nil
}

// Config returns the validated configuration.
func (e *Engine) Config() *config.Config { return e.cfg }

// Logger returns the engine logger.
func (e *Engine) Logger() *zap.Logger { return e.logger }

// Metrics returns the collector every component reports to.
func (e *Engine) Metrics() metrics.Collector { return e.metrics }

// Prometheus returns the Prometheus collector, or nil when metrics are off.
func (e *Engine) Prometheus() *metrics.PrometheusCollector { return e.prom }

// Library returns the shared pattern library.
func (e *Engine) Library() *patterns.Library { return e.library }

// Parser returns the shared parser pool.
func (e *Engine) Parser() *parser.SQLParser { return e.parser }

// Validator returns the security validator.
func (e *Engine) Validator() *validator.Validator { return e.validator }

// Classifier returns the error classifier.
func (e *Engine) Classifier() *classifier.Classifier { return e.classifier }

// Retry returns the retry handler.
func (e *Engine) Retry() *retry.Handler { return e.retry }

// Learning returns the pattern learning service.
func (e *Engine) Learning() *learning.Service { return e.learning }
