// Package retry drives bounded, strategy-specific recovery after a SQL
// statement fails at execution time. It never executes SQL itself: new SQL
// comes from a caller-supplied regeneration callback and goes back to the
// caller to run.
package retry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"sql-guard/internal/classifier"
	"sql-guard/internal/feedback"
	"sql-guard/internal/logging"
	"sql-guard/internal/metrics"
	"sql-guard/internal/model"

	"go.uber.org/zap"
)

// DefaultMaxAttempts applies when Config.MaxAttempts is not positive.
const DefaultMaxAttempts = 3

// ErrEmptySQL is recorded when the callback returns no statement.
var ErrEmptySQL = errors.New("regeneration returned empty SQL")

// Config bounds the handler.
type Config struct {
	// MaxAttempts caps attempts per session and error type, the first included.
	MaxAttempts int
	// BackoffBase is multiplied by the attempt number before a BACKOFF_RETRY.
	BackoffBase time.Duration
}

// DefaultConfig returns three attempts and a one second backoff base.
func DefaultConfig() Config {
	return Config{MaxAttempts: DefaultMaxAttempts, BackoffBase: time.Second}
}

// RegenerateFunc asks the SQL generator for a new statement given the
// feedback prompt.
type RegenerateFunc func(ctx context.Context, prompt string) (string, error)

// Validator is the optional pre-execution gate for regenerated SQL.
type Validator interface {
	Validate(sql string, schema model.Schema) *model.ValidationResult
}

// Observer receives every classification and final outcome.
type Observer interface {
	ErrorClassified(sessionID, question string, e *model.SQLError)
	RetryFinished(sessionID string, res *Result)
}

// Request describes one execution failure.
type Request struct {
	SessionID        string
	ErrorMessage     string
	SQL              string
	OriginalQuestion string
	// Schema feeds suggestions and the validation gate. Optional.
	Schema model.Schema
}

// Result is what the caller acts on.
type Result struct {
	Success bool
	// FinalSQL is the statement to execute next. For BACKOFF_RETRY it is the
	// original statement.
	FinalSQL  string
	LastError *model.SQLError
	Attempts  int
	// Action is the strategy that was carried out.
	Action   model.RetryStrategy
	Feedback *feedback.Message
	// NeedsClarification asks the caller to go back to the user.
	NeedsClarification bool
	Cancelled          bool
}

// Handler is safe for concurrent use. Sessions never block each other.
type Handler struct {
	cfg        Config
	classifier *classifier.Classifier
	feedback   *feedback.Generator
	validator  Validator
	observer   Observer
	logger     *zap.Logger
	metrics    metrics.Collector
	now        func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

// Option configures a Handler.
type Option func(*Handler)

// WithClassifier shares a classifier.
func WithClassifier(c *classifier.Classifier) Option {
	return func(h *Handler) { h.classifier = c }
}

// WithFeedback shares a feedback generator.
func WithFeedback(g *feedback.Generator) Option {
	return func(h *Handler) { h.feedback = g }
}

// WithValidator re-validates regenerated SQL; BLOCKED output counts as a
// failed attempt.
func WithValidator(v Validator) Option {
	return func(h *Handler) { h.validator = v }
}

// WithObserver registers an observer.
func WithObserver(o Observer) Option {
	return func(h *Handler) { h.observer = o }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(h *Handler) { h.logger = logging.OrNop(l) }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m metrics.Collector) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

// New creates a Handler.
func New(cfg Config, opts ...Option) *Handler {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BackoffBase < 0 {
		cfg.BackoffBase = 0
	}
	h := &Handler{
		cfg:      cfg,
		logger:   zap.NewNop(),
		metrics:  metrics.NewNoOpCollector(),
		now:      time.Now,
		sessions: make(map[string]*session),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.classifier == nil {
		h.classifier = classifier.New()
	}
	if h.feedback == nil {
		h.feedback = feedback.New()
	}
	return h
}

// HandleWithRetry classifies the failure and recovers according to its
// strategy. It always returns a Result. Calls for the same session run one
// at a time; a cancelled ctx aborts waiting and backoff.
func (h *Handler) HandleWithRetry(ctx context.Context, req Request, regenerate RegenerateFunc) *Result {
	s := h.session(req.SessionID)
	select {
	case s.run <- struct{}{}:
	case <-ctx.Done():
		return &Result{Cancelled: true, Action: model.StrategyNoRetry}
	}
	defer func() { <-s.run }()

	h.setState(s, StateClassifying)
	e := h.classifier.Classify(req.ErrorMessage, req.SQL)
	if h.observer != nil {
		h.observer.ErrorClassified(req.SessionID, req.OriginalQuestion, e.Clone())
	}

	res := &Result{LastError: e, Action: e.RetryStrategy}
	logger := h.logger.With(zap.String("session_id", req.SessionID), zap.String("error_type", string(e.ErrorType)))

	for {
		attempt, ok := h.reserve(s, e)
		if !ok {
			break
		}
		res.Attempts++
		h.setState(s, stateFor(e.RetryStrategy))
		logger.Debug("retry attempt", zap.Int("attempt", attempt), zap.String("strategy", string(e.RetryStrategy)))
		h.metrics.IncrementCounter(metrics.RetryAttemptsTotal, "strategy", string(e.RetryStrategy))

		fc := feedback.ContextFromSchema(req.SessionID, req.OriginalQuestion, req.Schema)
		fc.Attempt, fc.MaxAttempts = attempt, h.cfg.MaxAttempts
		res.Feedback = h.feedback.GenerateFeedback(e, fc)

		step := Attempt{Number: attempt, ErrorType: e.ErrorType, Strategy: e.RetryStrategy, SQL: req.SQL, At: h.now()}

		switch e.RetryStrategy {
		case model.StrategyBackoff:
			wait := h.cfg.BackoffBase * time.Duration(attempt)
			step.Waited = wait
			if err := sleep(ctx, wait); err != nil {
				step.Error = err.Error()
				h.appendAttempt(s, step)
				res.Cancelled = true
				return h.finish(s, req.SessionID, res, StateTerminal)
			}
			step.Success = true
			step.NewSQL = req.SQL
			h.appendAttempt(s, step)
			res.Success = true
			res.FinalSQL = req.SQL
			return h.finish(s, req.SessionID, res, StateIdle)

		case model.StrategyClarify:
			step.Error = "clarification requested"
			h.appendAttempt(s, step)
			res.NeedsClarification = true
			return h.finish(s, req.SessionID, res, StateClarifying)

		default:
			if err := ctx.Err(); err != nil {
				step.Error = err.Error()
				h.appendAttempt(s, step)
				res.Cancelled = true
				return h.finish(s, req.SessionID, res, StateTerminal)
			}
			newSQL, err := h.regenerate(ctx, regenerate, res.Feedback.FormatForPrompt())
			if err == nil {
				err = h.gate(newSQL, req.Schema)
			}
			step.NewSQL = newSQL
			if err != nil {
				step.Error = err.Error()
				h.appendAttempt(s, step)
				logger.Debug("regeneration failed", zap.Int("attempt", attempt), zap.Error(err))
				continue
			}
			step.Success = true
			h.appendAttempt(s, step)
			res.Success = true
			res.FinalSQL = newSQL
			return h.finish(s, req.SessionID, res, StateIdle)
		}
	}

	if res.Feedback == nil {
		fc := feedback.ContextFromSchema(req.SessionID, req.OriginalQuestion, req.Schema)
		res.Feedback = h.feedback.GenerateFeedback(e, fc)
	}
	return h.finish(s, req.SessionID, res, StateTerminal)
}

// reserve consumes one attempt for e's type if the strategy allows retrying
// and the per-type budget is not spent.
func (h *Handler) reserve(s *session, e *model.SQLError) (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.shouldRetry(s, e) {
		return 0, false
	}
	s.counts[e.ErrorType]++
	return s.counts[e.ErrorType], true
}

func (h *Handler) shouldRetry(s *session, e *model.SQLError) bool {
	if e.RetryStrategy == model.StrategyNoRetry {
		return false
	}
	return s.counts[e.ErrorType] < h.cfg.MaxAttempts
}

// regenerate invokes the callback, converting a panic into an error.
func (h *Handler) regenerate(ctx context.Context, fn RegenerateFunc, prompt string) (sql string, err error) {
	if fn == nil {
		return "", errors.New("no regeneration callback")
	}
	defer func() {
		if r := recover(); r != nil {
			h.logger.Warn("regeneration callback panicked", zap.Any("panic", r))
			err = fmt.Errorf("regeneration panicked: %v", r)
		}
	}()
	sql, err = fn(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("regenerate: %w", err)
	}
	if strings.TrimSpace(sql) == "" {
		return "", ErrEmptySQL
	}
	return sql, nil
}

func (h *Handler) gate(sql string, schema model.Schema) error {
	if h.validator == nil {
		return nil
	}
	res := h.validator.Validate(sql, schema)
	if res.IsValid {
		return nil
	}
	var kinds []string
	for _, v := range res.Violations {
		if v.Level == model.LevelBlocked {
			kinds = append(kinds, fmt.Sprintf("%s: %s", v.Kind, v.Message))
		}
	}
	return fmt.Errorf("regenerated SQL rejected: %s", strings.Join(kinds, "; "))
}

func (h *Handler) finish(s *session, sessionID string, res *Result, state State) *Result {
	h.setState(s, state)
	outcome := "failure"
	switch {
	case res.Success:
		outcome = "success"
	case res.Cancelled:
		outcome = "cancelled"
	case res.NeedsClarification:
		outcome = "clarify"
	}
	h.metrics.IncrementCounter(metrics.RetryOutcomesTotal, "outcome", outcome)
	if h.observer != nil {
		h.observer.RetryFinished(sessionID, res)
	}
	return res
}

// sleep waits d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
