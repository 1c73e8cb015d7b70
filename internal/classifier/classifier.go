// Package classifier turns raw database driver errors into typed SQLErrors
// with a confidence and the retry strategy that applies to them.
package classifier

import (
	"regexp"
	"strings"
	"sync"
	"time"

	"sql-guard/internal/logging"
	"sql-guard/internal/metrics"
	"sql-guard/internal/model"
	"sql-guard/internal/patterns"

	"go.uber.org/zap"
)

// DefaultHistoryLimit bounds the in-memory classification window.
const DefaultHistoryLimit = 1000

// Classifier is safe for concurrent use.
type Classifier struct {
	library      *patterns.Library
	strategies   map[model.ErrorType]model.RetryStrategy
	historyLimit int
	logger       *zap.Logger
	metrics      metrics.Collector
	now          func() time.Time

	mu      sync.Mutex
	history []*model.SQLError
	next    int
	counts  map[model.ErrorType]int
	total   int
	confSum float64
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithLibrary shares a pattern library, so learned signatures reach the classifier.
func WithLibrary(lib *patterns.Library) Option {
	return func(c *Classifier) { c.library = lib }
}

// WithStrategies overrides the default strategy of some error types.
func WithStrategies(overrides map[model.ErrorType]model.RetryStrategy) Option {
	return func(c *Classifier) {
		for t, s := range overrides {
			c.strategies[t] = s
		}
	}
}

// WithHistoryLimit sets the size of the classification window.
func WithHistoryLimit(n int) Option {
	return func(c *Classifier) {
		if n > 0 {
			c.historyLimit = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Classifier) { c.logger = logging.OrNop(l) }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m metrics.Collector) Option {
	return func(c *Classifier) { c.metrics = m }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Classifier) { c.now = now }
}

// New creates a classifier with the built-in pattern library unless one is shared.
func New(opts ...Option) *Classifier {
	c := &Classifier{
		strategies:   make(map[model.ErrorType]model.RetryStrategy),
		historyLimit: DefaultHistoryLimit,
		logger:       zap.NewNop(),
		metrics:      metrics.NewNoOpCollector(),
		now:          time.Now,
		counts:       make(map[model.ErrorType]int),
	}
	for _, t := range model.ErrorTypes {
		c.strategies[t] = model.DefaultStrategy(t)
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.library == nil {
		c.library = patterns.NewLibrary()
	}
	return c
}

// StrategyFor returns the retry strategy configured for t.
func (c *Classifier) StrategyFor(t model.ErrorType) model.RetryStrategy {
	if s, ok := c.strategies[t]; ok {
		return s
	}
	return model.StrategyNoRetry
}

// Classify never fails: a message nothing recognizes is UNKNOWN_ERROR with
// zero confidence.
func (c *Classifier) Classify(errorMessage, sqlStatement string) *model.SQLError {
	e := &model.SQLError{
		ErrorType:     model.ErrUnknown,
		OriginalError: errorMessage,
		ErrorMessage:  cleanMessage(errorMessage),
		SQLStatement:  sqlStatement,
		ClassifiedAt:  c.now(),
	}

	if strings.TrimSpace(errorMessage) != "" {
		// Labels given through feedback override the built-in tables.
		if !c.matchSignatures(e, c.library.LearnedSignatures()) &&
			!c.matchSignatures(e, c.library.VendorSignatures()) {
			c.matchKeywords(e)
		}
	}
	e.RetryStrategy = c.StrategyFor(e.ErrorType)
	if e.ErrorType == model.ErrUnknown {
		e.Confidence = 0
		e.RetryStrategy = model.StrategyNoRetry
	}

	c.record(e)
	c.metrics.IncrementCounter(metrics.ClassificationsTotal, "type", string(e.ErrorType))
	c.logger.Debug("classified sql error",
		zap.String("error_type", string(e.ErrorType)),
		zap.Float64("confidence", e.Confidence),
		zap.String("pattern", e.MatchedPattern))
	return e
}

func (c *Classifier) matchSignatures(e *model.SQLError, sigs []patterns.ErrorSignature) bool {
	for _, sig := range sigs {
		m := sig.Regex.FindStringSubmatch(e.OriginalError)
		if m == nil {
			continue
		}
		e.ErrorType = sig.Type
		e.Confidence = sig.Confidence
		e.MatchedPattern = sig.ID
		for i, name := range sig.Regex.SubexpNames() {
			if i == 0 || m[i] == "" {
				continue
			}
			switch name {
			case "field":
				e.SuggestedFields = appendUnique(e.SuggestedFields, m[i])
			case "table":
				e.SuggestedTables = appendUnique(e.SuggestedTables, m[i])
			case "fragment":
				e.Fragment = m[i]
			}
		}
		c.fillIdentifiers(e)
		return true
	}
	return false
}

func (c *Classifier) matchKeywords(e *model.SQLError) {
	lower := strings.ToLower(e.OriginalError)
	for _, rule := range c.library.KeywordRules() {
		if rule.Matches(lower) {
			e.ErrorType = rule.Type
			e.Confidence = rule.Confidence
			e.MatchedPattern = "keyword:" + strings.ToLower(string(rule.Type))
			c.fillIdentifiers(e)
			return
		}
	}
}

var quotedIdent = regexp.MustCompile("['\"`]([A-Za-z_][\\w.$]*)['\"`]")

// fillIdentifiers takes the first quoted identifier of the message when a
// missing-object error carries no named capture.
func (c *Classifier) fillIdentifiers(e *model.SQLError) {
	switch e.ErrorType {
	case model.ErrFieldMissing:
		if len(e.SuggestedFields) > 0 {
			return
		}
	case model.ErrTableMissing:
		if len(e.SuggestedTables) > 0 {
			return
		}
	default:
		return
	}
	m := quotedIdent.FindStringSubmatch(e.OriginalError)
	if m == nil {
		return
	}
	if e.ErrorType == model.ErrFieldMissing {
		e.SuggestedFields = []string{m[1]}
	} else {
		e.SuggestedTables = []string{m[1]}
	}
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}

var driverPrefix = regexp.MustCompile(`^(?i)(?:pq:\s*|ERROR:\s*|Error \d+ \([0-9A-Z]{5}\):\s*|sql:\s*)+`)

// cleanMessage keeps the first line of a driver error without the driver
// prefix.
func cleanMessage(msg string) string {
	msg = strings.TrimSpace(msg)
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = strings.TrimSpace(msg[:i])
	}
	return driverPrefix.ReplaceAllString(msg, "")
}
