package session

import (
	"time"

	"github.com/jidohq/sessiond/internal/document"
	"github.com/jidohq/sessiond/internal/errs"
	"github.com/jidohq/sessiond/internal/history"
	"github.com/jidohq/sessiond/internal/safety"
	"github.com/jidohq/sessiond/internal/signalbus"
)

// UpdateFrontmatter merges or replaces frontmatter keys. document.Update*
// operations are pure (they never mutate the session's current document),
// so optimistic=true's "rollback on failure" guarantee holds for free:
// a rejected mutation is simply never committed to s.document.
func (s *Session) UpdateFrontmatter(opts UpdateFrontmatterOptions) errs.Result {
	return s.mutate("update_frontmatter", opts.Source, opts.CorrelationID, isOptimistic(opts.Optimistic), func(doc *document.Document) (*document.Document, *errs.Error) {
		return document.UpdateFrontmatter(doc, opts.Changes, opts.Mode)
	})
}

// UpdateBody replaces the body directly or via a patch.
func (s *Session) UpdateBody(opts UpdateBodyOptions) errs.Result {
	return s.mutate("update_body", opts.Source, opts.CorrelationID, isOptimistic(opts.Optimistic), func(doc *document.Document) (*document.Document, *errs.Error) {
		if opts.Patch != nil {
			return document.ApplyBodyPatch(doc, *opts.Patch, opts.Normalize)
		}
		return document.UpdateBody(doc, opts.Body, opts.Normalize)
	})
}

// mutate runs fn while holding the session mutex for the command's full
// duration, which is itself sufficient to enforce "update_*/undo/redo are
// refused while a save is in flight": Save holds the same mutex for its
// entire write path, so a concurrent mutate call simply blocks on Lock()
// rather than needing a second named-lock check.
func (s *Session) mutate(action, source, correlationID string, optimistic bool, fn func(*document.Document) (*document.Document, *errs.Error)) errs.Result {
	start := time.Now()
	if correlationID == "" {
		correlationID = newCorrelationID()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if derr := requireDocument(s.document); derr != nil {
		s.recordTelemetry(action, "error", correlationID, start)
		return errs.Fail(derr, meta(action, errs.ConditionallyIdempotent, correlationID, start))
	}

	before := s.document
	next, err := fn(before)
	if err != nil {
		// optimistic=true (default): never committed, so there's nothing
		// further to roll back. optimistic=false still reports the error
		// without touching session state; a failed validation never lands
		// a partial mutation either way.
		_ = optimistic
		s.recordTelemetry(action, "error", correlationID, start)
		s.emit(signalbus.Failed, map[string]any{"action": action, "reason": "validation_failed"}, correlationID)
		return errs.Fail(err, meta(action, errs.ConditionallyIdempotent, correlationID, start))
	}

	safetyCfg := s.opts.Safety
	findings := safety.Scan(next.Body, safetyCfg)
	blocked, active, serr := safety.Evaluate(findings, safetyCfg)
	if blocked {
		s.recordTelemetry(action, "error", correlationID, start)
		s.emit(signalbus.Failed, map[string]any{"action": action, "reason": "safety_blocked", "findings": active}, correlationID)
		return errs.Fail(serr, meta(action, errs.ConditionallyIdempotent, correlationID, start))
	}

	changed := next.Revision != before.Revision
	if changed {
		s.history.Record(before, action, source, now())
	}
	s.document = next

	if changed && s.opts.CheckpointOnEdit {
		s.writeCheckpointLocked("edit", correlationID)
	}

	summary := history.Describe(before, next)
	s.recordTelemetry(action, "ok", correlationID, start)
	s.emit(signalbus.Updated, map[string]any{
		"action":   action,
		"revision": next.Revision,
		"changes":  summary,
	}, correlationID)
	if changed {
		s.emitHistoryState(correlationID)
	}

	return errs.Ok(next, meta(action, errs.ConditionallyIdempotent, correlationID, start))
}
