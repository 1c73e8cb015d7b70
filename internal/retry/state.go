package retry

import (
	"time"

	"sql-guard/internal/model"
)

// State is the position of a session in the recovery state machine:
// IDLE -> CLASSIFYING -> {REGENERATING, BACKING_OFF, CLARIFYING, TERMINAL}.
type State int

const (
	StateIdle State = iota
	StateClassifying
	StateRegenerating
	StateBackingOff
	StateClarifying
	StateTerminal
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateClassifying:
		return "CLASSIFYING"
	case StateRegenerating:
		return "REGENERATING"
	case StateBackingOff:
		return "BACKING_OFF"
	case StateClarifying:
		return "CLARIFYING"
	case StateTerminal:
		return "TERMINAL"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// stateFor maps a strategy to the state that carries it out.
func stateFor(strategy model.RetryStrategy) State {
	switch strategy {
	case model.StrategyRegenerate:
		return StateRegenerating
	case model.StrategyBackoff:
		return StateBackingOff
	case model.StrategyClarify:
		return StateClarifying
	default:
		return StateTerminal
	}
}

// Attempt is one audited step of a session's recovery.
type Attempt struct {
	Number    int                 `json:"number" yaml:"number"`
	ErrorType model.ErrorType     `json:"error_type" yaml:"error_type"`
	Strategy  model.RetryStrategy `json:"strategy" yaml:"strategy"`
	SQL       string              `json:"sql" yaml:"sql"`
	NewSQL    string              `json:"new_sql,omitempty" yaml:"new_sql,omitempty"`
	Success   bool                `json:"success" yaml:"success"`
	Error     string              `json:"error,omitempty" yaml:"error,omitempty"`
	At        time.Time           `json:"at" yaml:"at"`
	Waited    time.Duration       `json:"waited,omitempty" yaml:"waited,omitempty"`
}

type session struct {
	// run serializes HandleWithRetry calls of one session.
	run chan struct{}

	state      State
	counts     map[model.ErrorType]int
	history    []Attempt
	lastActive time.Time
}

func newSession(now time.Time) *session {
	return &session{
		run:        make(chan struct{}, 1),
		counts:     make(map[model.ErrorType]int),
		lastActive: now,
	}
}
