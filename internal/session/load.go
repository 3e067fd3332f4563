package session

import (
	"os"
	"time"

	"github.com/jidohq/sessiond/internal/document"
	"github.com/jidohq/sessiond/internal/errs"
	"github.com/jidohq/sessiond/internal/pathpolicy"
	"github.com/jidohq/sessiond/internal/persistence"
	"github.com/jidohq/sessiond/internal/signalbus"
)

// Load reads a document from opts.Path, replacing whatever document the
// session currently holds and clearing its history, preview, and fallback
// state. A pending checkpoint, if any, is deliberately left untouched: a
// stray load must not silently discard crash-recovery data a caller
// hasn't explicitly resolved yet.
func (s *Session) Load(opts LoadOptions) errs.Result {
	start := time.Now()
	correlationID := opts.CorrelationID
	if correlationID == "" {
		correlationID = newCorrelationID()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	resolved, perr := pathpolicy.Resolve(opts.Path, s.workspaceRoot)
	if perr != nil {
		s.recordTelemetry("load", "error", correlationID, start)
		return errs.Fail(perr, meta("load", errs.Idempotent, correlationID, start))
	}

	raw, readErr := os.ReadFile(resolved)
	var doc *document.Document
	var snapshot *persistence.DiskSnapshot
	if readErr != nil {
		if !os.IsNotExist(readErr) {
			werr := errs.Wrap(errs.FilesystemError, "failed to read document", readErr)
			s.recordTelemetry("load", "error", correlationID, start)
			return errs.Fail(werr, meta("load", errs.Idempotent, correlationID, start))
		}
		doc = document.Blank(resolved)
	} else {
		parseOpts := opts.ParseOptions
		if parseOpts == (document.ParseOptions{}) {
			parseOpts = s.opts.ParseOptions
		}
		var derr *errs.Error
		doc, derr = document.Parse(resolved, raw, parseOpts)
		if derr != nil {
			s.recordTelemetry("load", "error", correlationID, start)
			return errs.Fail(derr, meta("load", errs.Idempotent, correlationID, start))
		}
		snapshot, derr = persistence.Snapshot(resolved)
		if derr != nil {
			s.recordTelemetry("load", "error", correlationID, start)
			return errs.Fail(derr, meta("load", errs.Idempotent, correlationID, start))
		}
	}

	s.document = doc
	s.diskSnapshot = snapshot
	s.preview = nil
	s.lastGoodPreview = nil
	s.renderFallbackActive = false
	s.history.Clear()

	s.recordTelemetry("load", "ok", correlationID, start)
	s.emit(signalbus.Loaded, map[string]any{
		"path":     doc.Path,
		"revision": doc.Revision,
		"schema":   doc.Schema,
	}, correlationID)
	return errs.Ok(doc, meta("load", errs.Idempotent, correlationID, start))
}
