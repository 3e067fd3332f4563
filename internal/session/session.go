// Package session implements the per-document state machine: the single
// source of truth for one open markdown document's in-memory state, edit
// history, preview, pending checkpoint, and lock ownership. Every command
// is executed while holding the session's own mutex. A single mutex
// guarding the whole command body gives the same total-ordering guarantee
// a channel-fed actor mailbox would, without introducing a second
// concurrency idiom next to the plain mutex-guarded state used elsewhere.
package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/jidohq/sessiond/internal/checkpoint"
	"github.com/jidohq/sessiond/internal/document"
	"github.com/jidohq/sessiond/internal/errs"
	"github.com/jidohq/sessiond/internal/history"
	"github.com/jidohq/sessiond/internal/persistence"
	"github.com/jidohq/sessiond/internal/renderer"
	"github.com/jidohq/sessiond/internal/renderqueue"
	"github.com/jidohq/sessiond/internal/safety"
	"github.com/jidohq/sessiond/internal/signalbus"
	"github.com/jidohq/sessiond/internal/telemetry"
)

// Options configures a Session at construction. Only process/session-level
// defaults live here; per-call overrides arrive through each command's own
// Options struct.
type Options struct {
	WorkspaceRoot      string
	HistoryLimit       int
	CheckpointOnEdit   bool
	AutosaveIntervalMs int
	Safety             safety.Config
	ParseOptions       document.ParseOptions
	SerializeOptions   func(doc *document.Document) (string, bool)
}

// Session is the stateful orchestrator for one open document. It
// exclusively owns its document, history, pending checkpoint, preview,
// and last-good preview; the registry owns everything cross-session.
type Session struct {
	mu sync.Mutex

	id            string
	workspaceRoot string

	document             *document.Document
	diskSnapshot         *persistence.DiskSnapshot
	preview              *renderer.Result
	lastGoodPreview      *renderer.Result
	renderFallbackActive bool

	history           *history.History
	pendingCheckpoint *checkpoint.Payload

	locks map[string]bool

	bus         *signalbus.Bus
	checkpoints *checkpoint.Store
	renderQueue *renderqueue.Queue
	renderers   *renderer.Registry
	telemetry   *telemetry.Sink
	logger      *slog.Logger

	opts Options
}

// Deps bundles a Session's collaborators, all shared across every session
// in the process (registry constructs one set and hands it to every
// session it starts).
type Deps struct {
	Bus         *signalbus.Bus
	Checkpoints *checkpoint.Store
	RenderQueue *renderqueue.Queue
	Renderers   *renderer.Registry
	Telemetry   *telemetry.Sink
	Logger      *slog.Logger // nil falls back to slog.Default()
}

// New constructs a Session for id, not yet attached to any document.
func New(id string, deps Deps, opts Options) *Session {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 100
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		id:            id,
		workspaceRoot: opts.WorkspaceRoot,
		history:       history.New(opts.HistoryLimit),
		locks:         map[string]bool{},
		bus:           deps.Bus,
		checkpoints:   deps.Checkpoints,
		renderQueue:   deps.RenderQueue,
		renderers:     deps.Renderers,
		telemetry:     deps.Telemetry,
		logger:        logger,
		opts:          opts,
	}
}

// ID returns the session's identifier.
func (s *Session) ID() string { return s.id }

// Snapshot describes the session's externally visible state, used by
// registries/diagnostics without reaching into unexported fields.
type Snapshot struct {
	Document             *document.Document
	DiskSnapshot         *persistence.DiskSnapshot
	Dirty                bool
	RenderFallbackActive bool
	HistoryState         history.State
	HasPendingCheckpoint bool
}

// Describe returns a point-in-time Snapshot of the session.
func (s *Session) Describe() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	dirty := s.document != nil && s.document.Dirty
	return Snapshot{
		Document:             s.document,
		DiskSnapshot:         s.diskSnapshot,
		Dirty:                dirty,
		RenderFallbackActive: s.renderFallbackActive,
		HistoryState:         s.history.State(),
		HasPendingCheckpoint: s.pendingCheckpoint != nil,
	}
}

// tryAcquire acquires a session-local named lock (save/render) unless
// blocked by the conflicting set; callers must hold s.mu.
func (s *Session) tryAcquire(name string, blockedBy ...string) *errs.Error {
	for _, b := range blockedBy {
		if s.locks[b] {
			return errs.New(errs.Busy, "session is busy").WithDetails(map[string]any{"held_lock": b})
		}
	}
	s.locks[name] = true
	return nil
}

// release clears a session-local named lock; callers must hold s.mu.
func (s *Session) release(name string) {
	delete(s.locks, name)
}

func now() int64 { return time.Now().UnixMilli() }

func newCorrelationID() string { return ulid.Make().String() }

func meta(action string, idem errs.Idempotency, correlationID string, start time.Time) errs.Metadata {
	return errs.Metadata{
		Action:        action,
		Idempotency:   idem,
		CorrelationID: correlationID,
		DurationUs:    time.Since(start).Microseconds(),
	}
}

// emit broadcasts a signal for this session, best-effort, never blocking
// or failing the calling command on delivery problems.
func (s *Session) emit(sigType signalbus.Type, data map[string]any, correlationID string) {
	if s.bus == nil {
		return
	}
	s.bus.Broadcast(sigType, s.id, data, signalbus.BroadcastOptions{CorrelationID: correlationID})
}

func (s *Session) recordTelemetry(action, status, correlationID string, start time.Time) {
	if s.telemetry == nil {
		return
	}
	s.telemetry.Record(telemetry.Event{
		Event:         action,
		SessionID:     s.id,
		CorrelationID: correlationID,
		Status:        status,
		DurationUs:    time.Since(start).Microseconds(),
	})
}

// emitHistoryState emits the updated{action:history_state} signal sent
// whenever undo/redo availability changes.
func (s *Session) emitHistoryState(correlationID string) {
	st := s.history.State()
	s.emit(signalbus.Updated, map[string]any{
		"action": "history_state",
		"payload": map[string]any{
			"can_undo":   st.CanUndo,
			"can_redo":   st.CanRedo,
			"undo_depth": st.UndoDepth,
			"redo_depth": st.RedoDepth,
			"limit":      st.Limit,
		},
	}, correlationID)
}

// Close flushes the final session_closed signal. Best-effort: no
// in-flight command is cancelled.
func (s *Session) Close() {
	s.mu.Lock()
	var revision uint64
	if s.document != nil {
		revision = s.document.Revision
	}
	historySize := s.history.State().UndoDepth + s.history.State().RedoDepth
	s.mu.Unlock()

	s.emit(signalbus.SessionClosed, map[string]any{
		"history_size": historySize,
		"revision":     revision,
	}, "")
}
