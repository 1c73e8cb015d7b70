package engine

import (
	"errors"

	"sql-guard/internal/learning"
	"sql-guard/internal/model"
	"sql-guard/internal/retry"

	"go.uber.org/zap"
)

type eventKind int

const (
	eventError eventKind = iota
	eventSuccess
	eventBarrier
)

type event struct {
	kind      eventKind
	sessionID string
	question  string
	sql       string
	err       *model.SQLError
	ack       chan struct{}
}

// send queues ev. A non-blocking send drops ev when the queue is full.
// It reports false once the engine is closed or ev was dropped.
func (e *Engine) send(ev event, block bool) bool {
	e.sendMu.RLock()
	defer e.sendMu.RUnlock()
	if e.closed {
		return false
	}
	if block {
		e.events <- ev
		return true
	}
	select {
	case e.events <- ev:
		return true
	default:
		e.logger.Warn("learning queue full, dropping event", zap.String("session_id", ev.sessionID))
		return false
	}
}

// dispatch applies learning events in arrival order until the queue closes.
func (e *Engine) dispatch() {
	defer close(e.done)
	for ev := range e.events {
		switch ev.kind {
		case eventError:
			_, err := e.learning.RecordError(ev.sessionID, ev.err, learning.Context{Question: ev.question, SQL: ev.sql})
			e.logLearningError("record error", ev.sessionID, err)
		case eventSuccess:
			e.logLearningError("record success", ev.sessionID, e.learning.RecordSuccess(ev.sessionID, ev.sql))
		case eventBarrier:
			close(ev.ack)
		}
	}
}

func (e *Engine) logLearningError(op, sessionID string, err error) {
	if err == nil || errors.Is(err, learning.ErrLearningDisabled) {
		return
	}
	e.logger.Warn("learning update failed", zap.String("op", op), zap.String("session_id", sessionID), zap.Error(err))
}

// observer feeds retry handler events into the learning queue.
type observer struct {
	e *Engine
}

func (o observer) ErrorClassified(sessionID, question string, sqlErr *model.SQLError) {
	o.e.send(event{
		kind:      eventError,
		sessionID: sessionID,
		question:  question,
		sql:       sqlErr.SQLStatement,
		err:       sqlErr,
	}, false)
}

func (o observer) RetryFinished(sessionID string, res *retry.Result) {
	o.e.logger.Debug("retry finished",
		zap.String("session_id", sessionID),
		zap.Bool("success", res.Success),
		zap.Int("attempts", res.Attempts),
		zap.String("action", string(res.Action)),
		zap.Bool("needs_clarification", res.NeedsClarification))
}
