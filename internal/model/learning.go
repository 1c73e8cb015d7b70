package model

import (
	"sort"
	"time"
)

// ErrorPattern is a learned error signature and its running statistics.
type ErrorPattern struct {
	PatternID       string    `json:"pattern_id" yaml:"pattern_id"`
	ErrorType       ErrorType `json:"error_type" yaml:"error_type"`
	Signature       string    `json:"signature" yaml:"signature"`
	PatternRegex    string    `json:"pattern_regex" yaml:"pattern_regex"`
	Frequency       int       `json:"frequency" yaml:"frequency"`
	Confidence      float64   `json:"confidence" yaml:"confidence"`
	ContextKeywords []string  `json:"context_keywords" yaml:"context_keywords"`
	CommonFixes     []string  `json:"common_fixes,omitempty" yaml:"common_fixes,omitempty"`
	CreatedAt       time.Time `json:"created_at" yaml:"created_at"`
	LastSeen        time.Time `json:"last_seen" yaml:"last_seen"`
	// SuccessRateAfterFix is nil until a session that hit this pattern succeeds or ends.
	SuccessRateAfterFix *float64 `json:"success_rate_after_fix,omitempty" yaml:"success_rate_after_fix,omitempty"`
	SessionsSeen        int      `json:"sessions_seen" yaml:"sessions_seen"`
	SessionsFixed       int      `json:"sessions_fixed" yaml:"sessions_fixed"`
	Supervised          bool     `json:"supervised,omitempty" yaml:"supervised,omitempty"`
}

// Clone returns a deep copy.
func (p *ErrorPattern) Clone() *ErrorPattern {
	c := *p
	c.ContextKeywords = append([]string(nil), p.ContextKeywords...)
	c.CommonFixes = append([]string(nil), p.CommonFixes...)
	if p.SuccessRateAfterFix != nil {
		rate := *p.SuccessRateAfterFix
		c.SuccessRateAfterFix = &rate
	}
	return &c
}

// HasKeyword reports whether kw is among the context keywords.
func (p *ErrorPattern) HasKeyword(kw string) bool {
	i := sort.SearchStrings(p.ContextKeywords, kw)
	return i < len(p.ContextKeywords) && p.ContextKeywords[i] == kw
}

// LearningSession tracks the errors of one user interaction.
type LearningSession struct {
	SessionID        string      `json:"session_id" yaml:"session_id"`
	OriginalQuestion string      `json:"original_question" yaml:"original_question"`
	ErrorSequence    []*SQLError `json:"error_sequence" yaml:"error_sequence"`
	SuccessfulSQL    string      `json:"successful_sql,omitempty" yaml:"successful_sql,omitempty"`
	PatternIDs       []string    `json:"pattern_ids" yaml:"pattern_ids"`
	StartedAt        time.Time   `json:"started_at" yaml:"started_at"`
	LastActivity     time.Time   `json:"last_activity" yaml:"last_activity"`
	Closed           bool        `json:"closed" yaml:"closed"`
}

// Clone returns a deep copy.
func (s *LearningSession) Clone() *LearningSession {
	c := *s
	c.ErrorSequence = make([]*SQLError, len(s.ErrorSequence))
	for i, e := range s.ErrorSequence {
		c.ErrorSequence[i] = e.Clone()
	}
	c.PatternIDs = append([]string(nil), s.PatternIDs...)
	return &c
}
