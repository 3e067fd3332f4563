package session

import (
	"context"
	"time"

	"github.com/jidohq/sessiond/internal/document"
	"github.com/jidohq/sessiond/internal/errs"
	"github.com/jidohq/sessiond/internal/pathpolicy"
	"github.com/jidohq/sessiond/internal/persistence"
	"github.com/jidohq/sessiond/internal/safety"
	"github.com/jidohq/sessiond/internal/signalbus"
)

// Save writes the session's document to disk, applying the configured
// divergence policy first and a safety scan before ever touching the
// filesystem. It acquires the session's "save" lock for its duration,
// refusing concurrent save or (synchronous) render attempts.
func (s *Session) Save(opts SaveOptions) errs.Result {
	start := time.Now()
	correlationID := opts.CorrelationID
	if correlationID == "" {
		correlationID = newCorrelationID()
	}
	action := "save"

	s.mu.Lock()
	defer s.mu.Unlock()

	if derr := requireDocument(s.document); derr != nil {
		s.recordTelemetry(action, "error", correlationID, start)
		return errs.Fail(derr, meta(action, errs.ConditionallyIdempotent, correlationID, start))
	}

	if lerr := s.tryAcquire("save", "save", "render"); lerr != nil {
		s.recordTelemetry(action, "error", correlationID, start)
		return errs.Fail(lerr, meta(action, errs.ConditionallyIdempotent, correlationID, start))
	}
	defer s.release("save")

	safetyCfg := s.opts.Safety
	if opts.Safety != nil {
		safetyCfg = *opts.Safety
	}
	findings := safety.Scan(s.document.Body, safetyCfg)
	blocked, active, serr := safety.Evaluate(findings, safetyCfg)
	if blocked {
		s.emit(signalbus.Failed, map[string]any{"action": "save", "reason": "safety_blocked", "findings": active}, correlationID)
		s.recordTelemetry(action, "error", correlationID, start)
		return errs.Fail(serr, meta(action, errs.ConditionallyIdempotent, correlationID, start))
	}

	targetPath := s.document.Path
	if opts.Path != "" {
		resolved, perr := pathpolicy.Resolve(opts.Path, s.workspaceRoot)
		if perr != nil {
			s.recordTelemetry(action, "error", correlationID, start)
			return errs.Fail(perr, meta(action, errs.ConditionallyIdempotent, correlationID, start))
		}
		targetPath = resolved
	}

	onConflict := opts.OnConflict
	if onConflict == "" {
		onConflict = Reject
	}

	baseline := s.diskSnapshot
	if opts.Baseline != nil {
		baseline = opts.Baseline
	}
	if targetPath != s.document.Path {
		// Saving to a new location: the session's snapshot describes the
		// old path, so divergence is judged against the target alone.
		baseline = nil
	}

	divergence, derr := persistence.DetectDivergence(targetPath, baseline)
	if derr != nil {
		s.recordTelemetry(action, "error", correlationID, start)
		return errs.Fail(derr, meta(action, errs.ConditionallyIdempotent, correlationID, start))
	}

	// mergedDoc is only committed to session state after the write
	// succeeds, keeping a failed save invisible in memory as well as on
	// disk.
	var mergedDoc *document.Document

	if divergence.Verdict == persistence.Diverged {
		switch onConflict {
		case Overwrite:
			// fall through to write
		case MergeHook:
			if opts.Merge == nil {
				cerr := conflictError(divergence)
				s.recordTelemetry(action, "error", correlationID, start)
				return errs.Fail(cerr, meta(action, errs.ConditionallyIdempotent, correlationID, start))
			}
			merged, ok := opts.Merge(divergence.Baseline, divergence.Current, s.document)
			if !ok {
				cerr := conflictError(divergence)
				s.recordTelemetry(action, "error", correlationID, start)
				return errs.Fail(cerr, meta(action, errs.ConditionallyIdempotent, correlationID, start))
			}
			mergedDoc = s.document.Clone()
			mergedDoc.Body = merged
		default: // Reject
			cerr := conflictError(divergence)
			s.recordTelemetry(action, "error", correlationID, start)
			return errs.Fail(cerr, meta(action, errs.ConditionallyIdempotent, correlationID, start))
		}
	}

	docToWrite := s.document
	if mergedDoc != nil {
		docToWrite = mergedDoc
	}

	content, serr2 := docToWrite.Serialize(opts.SerializeOptions)
	if serr2 != nil {
		s.recordTelemetry(action, "error", correlationID, start)
		return errs.Fail(serr2, meta(action, errs.ConditionallyIdempotent, correlationID, start))
	}

	snapshot, werr := persistence.WithFileLock(context.Background(), targetPath, func() (*persistence.DiskSnapshot, *errs.Error) {
		return persistence.WriteFile(targetPath, []byte(content), persistence.AtomicWriteOptions{
			PreserveMetadata: opts.PreserveMetadata,
		})
	})
	if werr != nil {
		s.emit(signalbus.Failed, map[string]any{"action": "save", "reason": "write_failed"}, correlationID)
		s.recordTelemetry(action, "error", correlationID, start)
		return errs.Fail(werr, meta(action, errs.ConditionallyIdempotent, correlationID, start))
	}

	if opts.RevisionMetadata != nil {
		if _, sidecarErr := persistence.WriteRevisionSidecar(targetPath, opts.RevisionMetadata); sidecarErr != nil {
			s.emit(signalbus.Failed, map[string]any{"action": "save", "reason": "sidecar_write_failed"}, correlationID)
		}
	}

	if mergedDoc != nil {
		s.document = mergedDoc
	}
	s.document.Path = targetPath
	s.diskSnapshot = snapshot
	s.document.MarkClean()

	if s.pendingCheckpoint != nil {
		s.discardCheckpointLocked(correlationID)
	}

	s.recordTelemetry(action, "ok", correlationID, start)
	s.emit(signalbus.Saved, map[string]any{
		"path":     s.document.Path,
		"revision": s.document.Revision,
		"sha256":   snapshot.SHA256,
	}, correlationID)
	return errs.Ok(snapshot, meta(action, errs.ConditionallyIdempotent, correlationID, start))
}

func conflictError(d *persistence.Divergence) *errs.Error {
	return errs.New(errs.Conflict, "on-disk content diverged since last snapshot").WithDetails(map[string]any{
		"remediation":     []string{"reload", "overwrite", "merge_hook"},
		"baseline_sha256": valueOrEmpty(d.Baseline),
		"current_sha256":  currentSHA(d),
	})
}

func valueOrEmpty(s *persistence.DiskSnapshot) string {
	if s == nil {
		return ""
	}
	return s.SHA256
}

func currentSHA(d *persistence.Divergence) string {
	if d.Current == nil {
		return ""
	}
	return d.Current.SHA256
}
