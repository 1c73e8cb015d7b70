package retry

import (
	"time"

	"sql-guard/internal/metrics"
	"sql-guard/internal/model"
)

// Stats summarizes all tracked sessions.
type Stats struct {
	Sessions  int `json:"sessions" yaml:"sessions"`
	Attempts  int `json:"attempts" yaml:"attempts"`
	Successes int `json:"successes" yaml:"successes"`
	Failures  int `json:"failures" yaml:"failures"`
}

func (h *Handler) session(id string) *session {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[id]
	if !ok {
		s = newSession(h.now())
		h.sessions[id] = s
		h.recordSessions()
	}
	s.lastActive = h.now()
	return s
}

func (h *Handler) setState(s *session, state State) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s.state = state
}

func (h *Handler) appendAttempt(s *session, a Attempt) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s.history = append(s.history, a)
	s.lastActive = h.now()
}

// GetRetryHistory returns a copy of a session's attempts, oldest first.
func (h *Handler) GetRetryHistory(sessionID string) []Attempt {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[sessionID]
	if !ok {
		return nil
	}
	return append([]Attempt(nil), s.history...)
}

// SessionState returns the current state, IDLE for unknown sessions.
func (h *Handler) SessionState(sessionID string) State {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.sessions[sessionID]; ok {
		return s.state
	}
	return StateIdle
}

// AttemptsFor returns how many attempts the session spent on an error type.
func (h *Handler) AttemptsFor(sessionID string, t model.ErrorType) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.sessions[sessionID]; ok {
		return s.counts[t]
	}
	return 0
}

// MarkSucceeded resets the attempt budget after the caller executed SQL
// successfully. History is kept.
func (h *Handler) MarkSucceeded(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.sessions[sessionID]; ok {
		s.counts = make(map[model.ErrorType]int)
		s.state = StateIdle
		s.lastActive = h.now()
	}
}

// ResetSession forgets a session entirely.
func (h *Handler) ResetSession(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, sessionID)
	h.recordSessions()
}

// recordSessions must be called with h.mu held.
func (h *Handler) recordSessions() {
	h.metrics.RecordGauge(metrics.ActiveSessions, float64(len(h.sessions)), "component", "retry")
}

// CleanupSessions drops sessions idle for longer than maxAge and returns
// how many were removed. Sessions with a call in progress are kept.
func (h *Handler) CleanupSessions(maxAge time.Duration) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	cutoff := h.now().Add(-maxAge)
	removed := 0
	for id, s := range h.sessions {
		if len(s.run) > 0 || !s.lastActive.Before(cutoff) {
			continue
		}
		delete(h.sessions, id)
		removed++
	}
	if removed > 0 {
		h.recordSessions()
	}
	return removed
}

// Stats counts sessions and attempts.
func (h *Handler) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	st := Stats{Sessions: len(h.sessions)}
	for _, s := range h.sessions {
		for _, a := range s.history {
			st.Attempts++
			if a.Success {
				st.Successes++
			} else {
				st.Failures++
			}
		}
	}
	return st
}
