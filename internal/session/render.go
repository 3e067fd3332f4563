package session

import (
	"context"
	"time"

	"github.com/jidohq/sessiond/internal/errs"
	"github.com/jidohq/sessiond/internal/renderer"
	"github.com/jidohq/sessiond/internal/renderqueue"
	"github.com/jidohq/sessiond/internal/safety"
	"github.com/jidohq/sessiond/internal/signalbus"
)

const syncRenderTimeout = 5 * time.Second

// Render produces (or schedules) a preview of the session's document
// body. Synchronous renders hold the session's "render" lock for their
// whole inline duration and are refused while another synchronous render
// is in flight; a save holds the session mutex throughout, so a render
// issued during a save waits for it to finish. Asynchronous renders hand off to the render queue
// immediately and return a queued acknowledgement; the queue's own
// supersede-on-re-enqueue behavior (not a session-level lock) is what
// keeps rapid successive async renders from piling up, so the named lock
// is deliberately not held across an async job's flight time.
func (s *Session) Render(opts RenderOptions) errs.Result {
	start := time.Now()
	correlationID := opts.CorrelationID
	if correlationID == "" {
		correlationID = newCorrelationID()
	}
	action := "render"

	s.mu.Lock()

	if derr := requireDocument(s.document); derr != nil {
		s.mu.Unlock()
		s.recordTelemetry(action, "error", correlationID, start)
		return errs.Fail(derr, meta(action, errs.Idempotent, correlationID, start))
	}

	safetyCfg := s.opts.Safety
	if opts.Safety != nil {
		safetyCfg = *opts.Safety
	}
	findings := safety.Scan(s.document.Body, safetyCfg)
	blocked, active, serr := safety.Evaluate(findings, safetyCfg)
	if blocked {
		s.mu.Unlock()
		s.emit(signalbus.Failed, map[string]any{"action": "render", "reason": "safety_blocked", "findings": active}, correlationID)
		s.recordTelemetry(action, "error", correlationID, start)
		return errs.Fail(serr, meta(action, errs.Idempotent, correlationID, start))
	}

	markdown := s.document.Body
	revision := s.document.Revision
	previousMarkdown := ""
	if s.lastGoodPreview != nil {
		if prev, ok := s.lastGoodPreview.Metadata["source_markdown"].(string); ok {
			previousMarkdown = prev
		}
	}
	incOpts := renderqueue.DefaultIncrementalOptions()
	if opts.IncrementalOpts != nil {
		incOpts = *opts.IncrementalOpts
	}

	if opts.Async {
		if s.renderQueue == nil {
			s.mu.Unlock()
			err := errs.New(errs.Internal, "render queue is not configured")
			s.recordTelemetry(action, "error", correlationID, start)
			return errs.Fail(err, meta(action, errs.Idempotent, correlationID, start))
		}
		qerr := s.renderQueue.Enqueue(s.id, revision, markdown, previousMarkdown, opts.RendererOptions, incOpts, func(o renderqueue.Outcome) {
			s.handleRenderOutcome(o, correlationID, markdown, start)
		})
		s.mu.Unlock()
		if qerr != nil {
			s.recordTelemetry(action, "error", correlationID, start)
			return errs.Fail(qerr, meta(action, errs.Idempotent, correlationID, start))
		}
		s.recordTelemetry(action, "ok", correlationID, start)
		return errs.Ok(map[string]any{"queued": true, "revision": revision}, meta(action, errs.Idempotent, correlationID, start))
	}

	if lerr := s.tryAcquire("render", "render"); lerr != nil {
		s.mu.Unlock()
		s.recordTelemetry(action, "error", correlationID, start)
		return errs.Fail(lerr, meta(action, errs.Idempotent, correlationID, start))
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), syncRenderTimeout)
	defer cancel()

	// An unresolvable adapter is itself a render failure: it takes the
	// same degraded-preview path as an adapter that ran and errored.
	var result renderer.Result
	var rendErr error
	adapter, rerr := s.renderers.Resolve(opts.RendererOptions.Adapter)
	if rerr != nil {
		rendErr = rerr
	} else {
		result, rendErr = adapter.Render(ctx, markdown, opts.RendererOptions)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.release("render")

	if rendErr != nil {
		fallback := s.buildFallback(rendErr.Error())
		s.preview = &fallback
		s.renderFallbackActive = true
		s.logger.Warn("render adapter failed, serving fallback preview", "session_id", s.id, "error", rendErr)
		s.recordTelemetry(action, "error", correlationID, start)
		s.emit(signalbus.Failed, map[string]any{"action": "render", "reason": "adapter_error"}, correlationID)
		s.emit(signalbus.Rendered, map[string]any{"revision": revision, "adapter": "fallback", "fallback": true}, correlationID)
		return errs.Ok(fallback, meta(action, errs.Idempotent, correlationID, start))
	}

	result.Metadata = withSourceMarkdown(result.Metadata, markdown)
	recovered := s.renderFallbackActive
	s.preview = &result
	s.lastGoodPreview = &result
	s.renderFallbackActive = false

	s.recordTelemetry(action, "ok", correlationID, start)
	s.emit(signalbus.Rendered, map[string]any{"revision": revision, "adapter": result.Metadata["adapter"]}, correlationID)
	if recovered {
		s.emit(signalbus.Updated, map[string]any{"action": "render_recovered"}, correlationID)
	}

	return errs.Ok(result, meta(action, errs.Idempotent, correlationID, start))
}

// handleRenderOutcome applies an asynchronous render queue Outcome to
// session state. It runs on the render queue's own goroutine, so it
// re-acquires the session mutex rather than assuming the caller still
// holds it.
func (s *Session) handleRenderOutcome(o renderqueue.Outcome, correlationID, markdown string, start time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if o.Err != nil {
		fallback := s.buildFallback(o.Err.Error())
		s.preview = &fallback
		s.renderFallbackActive = true
		s.recordTelemetry("render", "error", correlationID, start)
		s.emit(signalbus.Failed, map[string]any{"action": "render", "reason": "adapter_error"}, correlationID)
		s.emit(signalbus.Rendered, map[string]any{"revision": o.Revision, "adapter": "fallback", "fallback": true}, correlationID)
		return
	}

	result := o.Result
	result.Metadata = withSourceMarkdown(result.Metadata, markdown)
	recovered := s.renderFallbackActive
	s.preview = &result
	s.lastGoodPreview = &result
	s.renderFallbackActive = false

	s.recordTelemetry("render", "ok", correlationID, start)
	s.emit(signalbus.Rendered, map[string]any{"revision": o.Revision, "adapter": result.Metadata["adapter"], "change_decision": string(o.ChangeDecision)}, correlationID)
	if recovered {
		s.emit(signalbus.Updated, map[string]any{"action": "render_recovered"}, correlationID)
	}
}

// buildFallback synthesizes a degraded preview: the last known-good
// preview annotated with a diagnostic when one exists, else an
// HTML-escaped <pre> of the current body. Callers must hold s.mu.
func (s *Session) buildFallback(reason string) renderer.Result {
	if s.lastGoodPreview != nil {
		return renderer.AugmentWithDiagnostic(s.lastGoodPreview.Preview, reason)
	}
	body := ""
	if s.document != nil {
		body = s.document.Body
	}
	result, _ := renderer.FallbackAdapter{}.Render(context.Background(), body, renderer.Options{})
	result.Metadata["reason"] = reason
	return result
}

func withSourceMarkdown(md map[string]any, markdown string) map[string]any {
	if md == nil {
		md = map[string]any{}
	}
	md["source_markdown"] = markdown
	return md
}
