package model

import (
	"fmt"
	"strings"
	"time"
)

// ErrorType is the closed set of execution-time error classes.
type ErrorType string

const (
	ErrSyntax       ErrorType = "SYNTAX_ERROR"
	ErrFieldMissing ErrorType = "FIELD_NOT_EXISTS"
	ErrTableMissing ErrorType = "TABLE_NOT_EXISTS"
	ErrTypeMismatch ErrorType = "TYPE_MISMATCH"
	ErrPermission   ErrorType = "PERMISSION_ERROR"
	ErrConnection   ErrorType = "CONNECTION_ERROR"
	ErrUnknown      ErrorType = "UNKNOWN_ERROR"
)

// ErrorTypes lists every error type in declaration order.
var ErrorTypes = []ErrorType{
	ErrSyntax, ErrFieldMissing, ErrTableMissing, ErrTypeMismatch,
	ErrPermission, ErrConnection, ErrUnknown,
}

// ParseErrorType maps a name to an ErrorType, ignoring case.
func ParseErrorType(s string) (ErrorType, error) {
	for _, t := range ErrorTypes {
		if strings.EqualFold(string(t), s) {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown error type %q", s)
}

// RetryStrategy is the recovery policy attached to a classified error.
type RetryStrategy string

const (
	StrategyRegenerate RetryStrategy = "REGENERATE_SQL"
	StrategyClarify    RetryStrategy = "CLARIFY_INTENT"
	StrategyBackoff    RetryStrategy = "BACKOFF_RETRY"
	StrategyNoRetry    RetryStrategy = "NO_RETRY"
)

// ParseRetryStrategy maps a name to a RetryStrategy, ignoring case.
func ParseRetryStrategy(s string) (RetryStrategy, error) {
	for _, st := range []RetryStrategy{StrategyRegenerate, StrategyClarify, StrategyBackoff, StrategyNoRetry} {
		if strings.EqualFold(string(st), s) {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown retry strategy %q", s)
}

// DefaultStrategy returns the one strategy each error type maps to.
func DefaultStrategy(t ErrorType) RetryStrategy {
	switch t {
	case ErrSyntax, ErrFieldMissing, ErrTypeMismatch:
		return StrategyRegenerate
	case ErrTableMissing:
		return StrategyClarify
	case ErrConnection:
		return StrategyBackoff
	default:
		return StrategyNoRetry
	}
}

// SQLError is a classified execution failure.
type SQLError struct {
	ErrorType       ErrorType     `json:"error_type" yaml:"error_type"`
	OriginalError   string        `json:"original_error" yaml:"original_error"`
	ErrorMessage    string        `json:"error_message" yaml:"error_message"`
	SQLStatement    string        `json:"sql_statement" yaml:"sql_statement"`
	Confidence      float64       `json:"confidence" yaml:"confidence"`
	SuggestedFields []string      `json:"suggested_fields,omitempty" yaml:"suggested_fields,omitempty"`
	SuggestedTables []string      `json:"suggested_tables,omitempty" yaml:"suggested_tables,omitempty"`
	Fragment        string        `json:"fragment,omitempty" yaml:"fragment,omitempty"`
	RetryStrategy   RetryStrategy `json:"retry_strategy" yaml:"retry_strategy"`
	MatchedPattern  string        `json:"matched_pattern,omitempty" yaml:"matched_pattern,omitempty"`
	ClassifiedAt    time.Time     `json:"classified_at" yaml:"classified_at"`
}

// Clone returns a deep copy safe to hand to another goroutine.
func (e *SQLError) Clone() *SQLError {
	if e == nil {
		return nil
	}
	c := *e
	c.SuggestedFields = append([]string(nil), e.SuggestedFields...)
	c.SuggestedTables = append([]string(nil), e.SuggestedTables...)
	return &c
}
