package session

import (
	"time"

	"github.com/jidohq/sessiond/internal/document"
	"github.com/jidohq/sessiond/internal/errs"
	"github.com/jidohq/sessiond/internal/signalbus"
)

// Undo restores the most recently recorded document snapshot.
func (s *Session) Undo(opts UndoRedoOptions) errs.Result {
	return s.shiftHistory("undo", opts, func(current *document.Document) (*document.Document, *errs.Error) {
		return s.history.Undo(current)
	})
}

// Redo re-applies the most recently undone document snapshot.
func (s *Session) Redo(opts UndoRedoOptions) errs.Result {
	return s.shiftHistory("redo", opts, func(current *document.Document) (*document.Document, *errs.Error) {
		return s.history.Redo(current)
	})
}

func (s *Session) shiftHistory(action string, opts UndoRedoOptions, step func(*document.Document) (*document.Document, *errs.Error)) errs.Result {
	start := time.Now()
	correlationID := opts.CorrelationID
	if correlationID == "" {
		correlationID = newCorrelationID()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if derr := requireDocument(s.document); derr != nil {
		s.recordTelemetry(action, "error", correlationID, start)
		return errs.Fail(derr, meta(action, errs.ConditionallyIdempotent, correlationID, start))
	}

	restored, err := step(s.document)
	if err != nil {
		s.recordTelemetry(action, "error", correlationID, start)
		return errs.Fail(err, meta(action, errs.ConditionallyIdempotent, correlationID, start))
	}

	s.document = restored
	s.recordTelemetry(action, "ok", correlationID, start)
	s.emit(signalbus.Updated, map[string]any{"action": action, "revision": restored.Revision}, correlationID)
	s.emitHistoryState(correlationID)
	return errs.Ok(restored, meta(action, errs.ConditionallyIdempotent, correlationID, start))
}
