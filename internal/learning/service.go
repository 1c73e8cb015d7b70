// Package learning turns the stream of classified execution errors into
// reusable patterns. Errors that differ only in literal values share a
// signature; each signature keeps a frequency, a confidence, the context
// keywords it was seen with and the fixes that resolved it.
package learning

import (
	"errors"
	"fmt"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"sql-guard/internal/logging"
	"sql-guard/internal/metrics"
	"sql-guard/internal/model"
	"sql-guard/internal/patterns"

	"go.uber.org/zap"
)

var (
	// ErrLearningDisabled is returned by write operations while learning is off.
	ErrLearningDisabled = errors.New("pattern learning is disabled")
	// ErrUnknownErrorType rejects supervised labels outside the error taxonomy.
	ErrUnknownErrorType = errors.New("unknown error type")
)

const (
	// DefaultMaxAge is how long an idle session is kept and the scale of
	// the freshness decay applied to predictions.
	DefaultMaxAge = 48 * time.Hour
	// keywordLimit caps the context keywords stored per pattern.
	keywordLimit = 64
	// fixLimit caps the fixes stored per pattern.
	fixLimit = 5
	// learnedVendor tags signatures this service registers in the library.
	learnedVendor = "learned"
)

// Config controls the service.
type Config struct {
	Enabled bool
	MaxAge  time.Duration
}

// DefaultConfig returns an enabled service with a 48 hour max age.
func DefaultConfig() Config {
	return Config{Enabled: true, MaxAge: DefaultMaxAge}
}

// Context describes what was being asked when an error happened. Keywords,
// when empty, are derived from Question and SQL.
type Context struct {
	Question string
	SQL      string
	Keywords []string
}

func (c Context) keywords() []string {
	if len(c.Keywords) > 0 {
		return Keywords(c.Keywords...)
	}
	return Keywords(c.Question, c.SQL)
}

// Service is safe for concurrent use. One mutex guards patterns and sessions.
type Service struct {
	cfg     Config
	library *patterns.Library
	store   Store
	logger  *zap.Logger
	metrics metrics.Collector
	now     func() time.Time
	enabled atomic.Bool

	mu       sync.Mutex
	patterns map[string]*model.ErrorPattern
	sessions map[string]*model.LearningSession
	dirty    map[string]bool
}

// Option configures a Service.
type Option func(*Service)

// WithLibrary registers supervised patterns in a shared library so the
// classifier picks them up.
func WithLibrary(lib *patterns.Library) Option {
	return func(s *Service) { s.library = lib }
}

// WithStore persists patterns on Flush and restores them on Load.
func WithStore(st Store) Option {
	return func(s *Service) { s.store = st }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = logging.OrNop(l) }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m metrics.Collector) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a Service.
func New(cfg Config, opts ...Option) *Service {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	s := &Service{
		cfg:      cfg,
		logger:   zap.NewNop(),
		metrics:  metrics.NewNoOpCollector(),
		now:      time.Now,
		patterns: make(map[string]*model.ErrorPattern),
		sessions: make(map[string]*model.LearningSession),
		dirty:    make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.library == nil {
		s.library = patterns.NewLibrary()
	}
	s.enabled.Store(cfg.Enabled)
	return s
}

// Enable turns learning on.
func (s *Service) Enable() {
	s.enabled.Store(true)
	s.logger.Info("pattern learning enabled")
}

// Disable turns learning off. Reads keep working on the patterns learned so far.
func (s *Service) Disable() {
	s.enabled.Store(false)
	s.logger.Info("pattern learning disabled")
}

// Enabled reports whether learning is on.
func (s *Service) Enabled() bool {
	return s.enabled.Load()
}

// RecordError creates or reinforces the pattern matching e and appends e to
// the session's error sequence.
func (s *Service) RecordError(sessionID string, e *model.SQLError, c Context) (*model.ErrorPattern, error) {
	if !s.Enabled() {
		return nil, ErrLearningDisabled
	}
	if e == nil {
		return nil, errors.New("record error: nil SQL error")
	}
	msg := e.ErrorMessage
	if msg == "" {
		msg = e.OriginalError
	}
	if c.SQL == "" {
		c.SQL = e.SQLStatement
	}
	sig := Signature(msg)
	id := PatternID(sig)
	kw := c.keywords()
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.patterns[id]
	if ok {
		gap := now.Sub(p.LastSeen)
		if gap < 0 {
			gap = 0
		}
		p.Frequency++
		p.LastSeen = now
		p.Confidence = Confidence(p.Frequency, gap)
		if p.Supervised {
			p.Confidence = max(p.Confidence, supervisedFloor)
		} else if p.ErrorType == model.ErrUnknown && e.ErrorType != model.ErrUnknown {
			p.ErrorType = e.ErrorType
		}
		p.ContextKeywords = mergeKeywords(p.ContextKeywords, kw, keywordLimit)
	} else {
		p = &model.ErrorPattern{
			PatternID:       id,
			ErrorType:       e.ErrorType,
			Signature:       sig,
			PatternRegex:    SignatureRegex(sig),
			Frequency:       1,
			Confidence:      Confidence(1, -1),
			ContextKeywords: mergeKeywords(nil, kw, keywordLimit),
			CreatedAt:       now,
			LastSeen:        now,
		}
		s.patterns[id] = p
		s.logger.Debug("new error pattern",
			zap.String("pattern_id", id),
			zap.String("error_type", string(p.ErrorType)),
			zap.String("signature", sig))
	}
	s.dirty[id] = true

	if sessionID != "" {
		sess, ok := s.sessions[sessionID]
		if !ok || sess.Closed {
			sess = &model.LearningSession{
				SessionID:        sessionID,
				OriginalQuestion: c.Question,
				StartedAt:        now,
			}
			s.sessions[sessionID] = sess
		}
		if sess.OriginalQuestion == "" {
			sess.OriginalQuestion = c.Question
		}
		sess.ErrorSequence = append(sess.ErrorSequence, e.Clone())
		if !containsString(sess.PatternIDs, id) {
			sess.PatternIDs = append(sess.PatternIDs, id)
		}
		sess.LastActivity = now
	}
	s.recordGauges()
	return p.Clone(), nil
}

// RecordSuccess closes the session: every pattern it hit counts the session
// as fixed and remembers sql as a fix. The closed session keeps sql until it
// is evicted; the next error on the same ID opens a new one. Unknown and
// already closed sessions are a no-op.
func (s *Service) RecordSuccess(sessionID, sql string) error {
	if !s.Enabled() {
		return ErrLearningDisabled
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok || sess.Closed {
		return nil
	}
	for _, id := range sess.PatternIDs {
		p, ok := s.patterns[id]
		if !ok {
			continue
		}
		p.SessionsSeen++
		p.SessionsFixed++
		updateSuccessRate(p)
		if sql != "" {
			p.CommonFixes = addFix(p.CommonFixes, sql)
		}
		s.dirty[id] = true
	}
	sess.SuccessfulSQL = sql
	sess.Closed = true
	sess.LastActivity = s.now()
	s.recordGauges()
	s.logger.Debug("learning session closed",
		zap.String("session_id", sessionID),
		zap.Int("errors", len(sess.ErrorSequence)),
		zap.Int("patterns", len(sess.PatternIDs)))
	return nil
}

// LearnFromFeedback labels the pattern of errorMessage with the correct type
// and registers it with the library so later classifications use it.
func (s *Service) LearnFromFeedback(errorMessage string, correct model.ErrorType) (*model.ErrorPattern, error) {
	if !s.Enabled() {
		return nil, ErrLearningDisabled
	}
	if !knownType(correct) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownErrorType, correct)
	}
	sig := Signature(errorMessage)
	id := PatternID(sig)
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.patterns[id]
	if !ok {
		p = &model.ErrorPattern{
			PatternID:    id,
			Signature:    sig,
			PatternRegex: SignatureRegex(sig),
			Frequency:    1,
			CreatedAt:    now,
			LastSeen:     now,
		}
		s.patterns[id] = p
	}
	p.ErrorType = correct
	p.Supervised = true
	p.Confidence = max(p.Confidence, supervisedFloor)
	if err := s.register(p); err != nil {
		return nil, err
	}
	s.dirty[id] = true
	s.recordGauges()
	s.logger.Info("pattern learned from feedback",
		zap.String("pattern_id", id),
		zap.String("error_type", string(correct)),
		zap.Float64("confidence", p.Confidence))
	return p.Clone(), nil
}

// register compiles a supervised pattern into a library signature.
func (s *Service) register(p *model.ErrorPattern) error {
	re, err := regexp.Compile("(?i)" + p.PatternRegex)
	if err != nil {
		return fmt.Errorf("compile pattern %s: %w", p.PatternID, err)
	}
	s.library.PutLearnedSignature(patterns.ErrorSignature{
		ID:         p.PatternID,
		Vendor:     learnedVendor,
		Type:       p.ErrorType,
		Regex:      re,
		Confidence: p.Confidence,
	})
	return nil
}

// GetFrequentPatterns returns copies of the patterns seen at least
// minFrequency times, most frequent first.
func (s *Service) GetFrequentPatterns(minFrequency int) []*model.ErrorPattern {
	s.mu.Lock()
	out := make([]*model.ErrorPattern, 0, len(s.patterns))
	for _, p := range s.patterns {
		if p.Frequency >= minFrequency {
			out = append(out, p.Clone())
		}
	}
	s.mu.Unlock()
	sortPatterns(out)
	return out
}

// Pattern returns a copy of one pattern.
func (s *Service) Pattern(id string) (*model.ErrorPattern, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.patterns[id]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// Session returns a copy of a tracked learning session, open or closed.
func (s *Service) Session(id string) (*model.LearningSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	return sess.Clone(), true
}

// CleanupOldSessions evicts sessions idle for longer than maxAge and returns
// how many were evicted. Patterns of an evicted open session count it as
// seen but not fixed. A non-positive maxAge uses the configured max age.
func (s *Service) CleanupOldSessions(maxAge time.Duration) int {
	if maxAge <= 0 {
		maxAge = s.cfg.MaxAge
	}
	cutoff := s.now().Add(-maxAge)

	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for id, sess := range s.sessions {
		if !sess.LastActivity.Before(cutoff) {
			continue
		}
		if !sess.Closed {
			for _, pid := range sess.PatternIDs {
				if p, ok := s.patterns[pid]; ok {
					p.SessionsSeen++
					updateSuccessRate(p)
					s.dirty[pid] = true
				}
			}
		}
		delete(s.sessions, id)
		evicted++
	}
	if evicted > 0 {
		s.recordGauges()
		s.logger.Info("evicted idle learning sessions",
			zap.Int("evicted", evicted),
			zap.Int("remaining", len(s.sessions)),
			zap.Duration("max_age", maxAge))
	}
	return evicted
}

// ResetPatterns forgets every pattern and removes supervised signatures from
// the library. It is the only operation that lowers a frequency.
func (s *Service) ResetPatterns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.patterns)
	for id, p := range s.patterns {
		if p.Supervised {
			s.library.RemoveLearnedSignature(id)
		}
	}
	s.patterns = make(map[string]*model.ErrorPattern)
	s.dirty = make(map[string]bool)
	for _, sess := range s.sessions {
		sess.PatternIDs = nil
	}
	s.recordGauges()
	s.logger.Info("learned patterns reset", zap.Int("patterns", n))
	return n
}

// recordGauges must be called with s.mu held.
func (s *Service) recordGauges() {
	s.metrics.RecordGauge(metrics.LearnedPatterns, float64(len(s.patterns)))
	s.metrics.RecordGauge(metrics.ActiveSessions, float64(s.openSessions()), "component", "learning")
}

// openSessions must be called with s.mu held.
func (s *Service) openSessions() int {
	n := 0
	for _, sess := range s.sessions {
		if !sess.Closed {
			n++
		}
	}
	return n
}

func updateSuccessRate(p *model.ErrorPattern) {
	if p.SessionsSeen == 0 {
		p.SuccessRateAfterFix = nil
		return
	}
	rate := float64(p.SessionsFixed) / float64(p.SessionsSeen)
	p.SuccessRateAfterFix = &rate
}

// addFix puts sql first, dropping an older copy and anything past fixLimit.
func addFix(fixes []string, sql string) []string {
	out := make([]string, 0, fixLimit)
	out = append(out, sql)
	for _, f := range fixes {
		if f != sql && len(out) < fixLimit {
			out = append(out, f)
		}
	}
	return out
}

func knownType(t model.ErrorType) bool {
	if t == model.ErrUnknown {
		return false
	}
	for _, known := range model.ErrorTypes {
		if t == known {
			return true
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
