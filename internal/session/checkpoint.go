package session

import (
	"time"

	"github.com/jidohq/sessiond/internal/errs"
	"github.com/jidohq/sessiond/internal/persistence"
	"github.com/jidohq/sessiond/internal/signalbus"
)

// writeCheckpointLocked persists a crash-recovery checkpoint of the
// session's current document. Failures are absorbed into a "failed"
// signal rather than surfaced to the calling command's result, per the
// checkpoint write's documented best-effort contract. Callers must hold
// s.mu.
func (s *Session) writeCheckpointLocked(trigger, correlationID string) {
	if s.checkpoints == nil || s.document == nil {
		return
	}
	if werr := s.checkpoints.Write(s.id, s.document, s.diskSnapshot, now()); werr != nil {
		s.logger.Warn("checkpoint write failed", "session_id", s.id, "trigger", trigger, "error", werr)
		s.emit(signalbus.Failed, map[string]any{"action": "checkpoint_write", "trigger": trigger, "reason": werr.Message}, correlationID)
		return
	}
	s.emit(signalbus.Updated, map[string]any{"action": "checkpoint_write", "trigger": trigger}, correlationID)
}

// discardCheckpointLocked removes the on-disk checkpoint and clears the
// pending-checkpoint marker. Callers must hold s.mu.
func (s *Session) discardCheckpointLocked(correlationID string) {
	if s.checkpoints == nil {
		s.pendingCheckpoint = nil
		return
	}
	if derr := s.checkpoints.Discard(s.id); derr != nil {
		s.logger.Warn("checkpoint discard failed", "session_id", s.id, "error", derr)
		s.emit(signalbus.Failed, map[string]any{"action": "checkpoint_discard", "reason": derr.Message}, correlationID)
	}
	s.pendingCheckpoint = nil
	s.emit(signalbus.Updated, map[string]any{"action": "checkpoint_discard"}, correlationID)
}

// AutosaveTick writes a checkpoint if the document is currently dirty. It
// is driven by the registry's periodic sweep, not by the session itself.
func (s *Session) AutosaveTick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.document == nil || !s.document.Dirty {
		return
	}
	s.writeCheckpointLocked("autosave_tick", newCorrelationID())
}

// ReconcileOnStartup loads any existing checkpoint for this session id
// without applying it, surfacing a recovery_available signal so a caller
// can decide whether to Recover or DiscardRecovery.
func (s *Session) ReconcileOnStartup() errs.Result {
	start := time.Now()
	correlationID := newCorrelationID()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.checkpoints == nil {
		return errs.Ok(map[string]any{"available": false}, meta("reconcile", errs.Idempotent, correlationID, start))
	}

	payload, ok, err := s.checkpoints.Load(s.id)
	if err != nil {
		s.recordTelemetry("reconcile", "error", correlationID, start)
		return errs.Fail(err, meta("reconcile", errs.Idempotent, correlationID, start))
	}
	if !ok {
		return errs.Ok(map[string]any{"available": false}, meta("reconcile", errs.Idempotent, correlationID, start))
	}

	s.pendingCheckpoint = payload
	s.emit(signalbus.Updated, map[string]any{
		"action":         "recovery_available",
		"captured_at_ms": payload.CapturedAtMs,
	}, correlationID)
	return errs.Ok(map[string]any{"available": true, "captured_at_ms": payload.CapturedAtMs}, meta("reconcile", errs.Idempotent, correlationID, start))
}

// Recover applies the pending checkpoint to the session, provided the
// on-disk file hasn't diverged from the checkpoint's own recorded
// baseline since it was captured. force bypasses that divergence check.
func (s *Session) Recover(opts RecoverOptions) errs.Result {
	start := time.Now()
	correlationID := opts.CorrelationID
	if correlationID == "" {
		correlationID = newCorrelationID()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pendingCheckpoint == nil {
		err := errs.New(errs.NotFound, "no pending checkpoint for this session")
		s.recordTelemetry("recover", "error", correlationID, start)
		return errs.Fail(err, meta("recover", errs.Idempotent, correlationID, start))
	}

	payload := s.pendingCheckpoint
	if !opts.Force && payload.DiskSnapshot != nil {
		divergence, derr := persistence.DetectDivergence(payload.Document.Path, payload.DiskSnapshot)
		if derr != nil {
			s.recordTelemetry("recover", "error", correlationID, start)
			return errs.Fail(derr, meta("recover", errs.Idempotent, correlationID, start))
		}
		if divergence.Verdict == persistence.Diverged {
			cerr := errs.New(errs.Conflict, "on-disk content diverged since checkpoint was captured").WithDetails(map[string]any{
				"remediation": []string{"force_recover", "discard", "reload"},
			})
			s.recordTelemetry("recover", "error", correlationID, start)
			return errs.Fail(cerr, meta("recover", errs.Idempotent, correlationID, start))
		}
	}

	previous := s.document

	doc := payload.Document.Clone()
	s.document = doc
	s.diskSnapshot = payload.DiskSnapshot
	s.preview = nil
	s.lastGoodPreview = nil
	s.renderFallbackActive = false
	s.history.Clear()
	if previous != nil {
		s.history.Record(previous, "load", "recover", now())
	}
	s.discardCheckpointLocked(correlationID)

	s.recordTelemetry("recover", "ok", correlationID, start)
	s.emit(signalbus.Updated, map[string]any{"action": "recovered", "revision": doc.Revision}, correlationID)
	return errs.Ok(doc, meta("recover", errs.Idempotent, correlationID, start))
}

// DiscardRecovery abandons the pending checkpoint without applying it.
func (s *Session) DiscardRecovery(correlationID string) errs.Result {
	start := time.Now()
	if correlationID == "" {
		correlationID = newCorrelationID()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pendingCheckpoint == nil {
		return errs.Ok(map[string]any{"discarded": false}, meta("discard_recovery", errs.Idempotent, correlationID, start))
	}
	s.discardCheckpointLocked(correlationID)
	return errs.Ok(map[string]any{"discarded": true}, meta("discard_recovery", errs.Idempotent, correlationID, start))
}
