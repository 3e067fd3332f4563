// Package registry owns the process-wide map of live sessions: it derives
// deterministic ids from a document path, lazily starts sessions on first
// reference, arbitrates optimistic locks between competing owners, and
// reclaims idle sessions on a sweep timer.
package registry

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jidohq/sessiond/internal/errs"
	"github.com/jidohq/sessiond/internal/session"
	"github.com/jidohq/sessiond/internal/signalbus"
)

// Options configures a Registry.
type Options struct {
	SweepInterval  time.Duration
	IdleTimeout    time.Duration
	SessionOptions session.Options
}

const (
	defaultSweepInterval = 60 * time.Second
	defaultIdleTimeout   = 30 * time.Minute
)

type entry struct {
	mu           sync.Mutex
	session      *session.Session
	path         string
	lockToken    string
	lockOwner    string
	lockRevision uint64
	startedAt    int64
	lastActivity int64
}

// Registry is the process-wide session directory. Construct one per
// process (or per isolated test); it is not a package-level global.
type Registry struct {
	mu        sync.RWMutex
	sessions  map[string]*entry
	pathIndex map[string]string // canonical path -> session id

	deps session.Deps
	opts Options

	bus    *signalbus.Bus
	logger *slog.Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs a Registry sharing deps across every session it starts.
func New(deps session.Deps, opts Options) *Registry {
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = defaultSweepInterval
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = defaultIdleTimeout
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		sessions:  map[string]*entry{},
		pathIndex: map[string]string{},
		deps:      deps,
		opts:      opts,
		bus:       deps.Bus,
		logger:    logger,
	}
}

// SessionIDForPath derives the deterministic session id for an
// already-resolved path: "file-" followed by the first 20 hex characters
// of its sha256 digest.
func SessionIDForPath(resolvedPath string) string {
	sum := sha256.Sum256([]byte(resolvedPath))
	return "file-" + hex.EncodeToString(sum[:])[:20]
}

// EnsureSession returns the session for id, creating it (not yet loaded)
// if this is the first reference.
func (r *Registry) EnsureSession(id string) (*session.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.sessions[id]; ok {
		e.mu.Lock()
		e.lastActivity = time.Now().UnixMilli()
		e.mu.Unlock()
		return e.session, false
	}

	s := session.New(id, r.deps, r.opts.SessionOptions)
	nowMs := time.Now().UnixMilli()
	r.sessions[id] = &entry{session: s, startedAt: nowMs, lastActivity: nowMs}
	return s, true
}

// EnsureSessionByPath derives the session id from resolvedPath, delegates
// to EnsureSession, and registers resolvedPath in the path index.
func (r *Registry) EnsureSessionByPath(resolvedPath string) (*session.Session, string, bool) {
	id := SessionIDForPath(resolvedPath)
	s, created := r.EnsureSession(id)
	// A session's path may be attached lazily but never reassigned to a
	// different canonical path; the deterministic id derivation makes a
	// genuine reassignment impossible here, so AttachPath can only fail
	// for callers that bypass the path-derived id.
	_ = r.AttachPath(id, resolvedPath)
	return s, id, created
}

// AttachPath binds resolvedPath to sessionID in the path index. A session
// already bound to a different canonical path refuses the reassignment.
func (r *Registry) AttachPath(sessionID, resolvedPath string) *errs.Error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sessionID]
	if !ok {
		return errs.New(errs.NotFound, "unknown session").WithDetails(map[string]any{"session_id": sessionID})
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.path != "" && e.path != resolvedPath {
		return errs.New(errs.Conflict, "session is already bound to a different path").WithDetails(map[string]any{
			"session_id": sessionID,
			"bound_path": e.path,
		})
	}
	e.path = resolvedPath
	r.pathIndex[resolvedPath] = sessionID
	return nil
}

// LookupByPath returns the live session id bound to resolvedPath, if any.
func (r *Registry) LookupByPath(resolvedPath string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.pathIndex[resolvedPath]
	return id, ok
}

// SessionInfo is the registry's externally visible record for one live
// session, mirroring the entry fields readers may consume without
// reaching into registry internals.
type SessionInfo struct {
	ID           string
	Path         string
	LockOwner    string
	Locked       bool
	LockRevision uint64
	StartedAtMs  int64
	LastSeenMs   int64
}

// Info returns the SessionInfo for id, if live.
func (r *Registry) Info(id string) (SessionInfo, bool) {
	r.mu.RLock()
	e, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return SessionInfo{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return SessionInfo{
		ID:           id,
		Path:         e.path,
		LockOwner:    e.lockOwner,
		Locked:       e.lockToken != "",
		LockRevision: e.lockRevision,
		StartedAtMs:  e.startedAt,
		LastSeenMs:   e.lastActivity,
	}, true
}

// List returns a SessionInfo for every live session, in no particular
// order.
func (r *Registry) List() []SessionInfo {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	out := make([]SessionInfo, 0, len(ids))
	for _, id := range ids {
		if info, ok := r.Info(id); ok {
			out = append(out, info)
		}
	}
	return out
}

// Get returns the session for id without creating it.
func (r *Registry) Get(id string) (*session.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	return e.session, true
}

// Remove drops id from the registry (used after explicit close), emitting
// no further signals of its own: the session's own Close already emitted
// session_closed.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(id)
}

func (r *Registry) removeLocked(id string) {
	if e, ok := r.sessions[id]; ok {
		e.mu.Lock()
		if e.path != "" && r.pathIndex[e.path] == id {
			delete(r.pathIndex, e.path)
		}
		e.mu.Unlock()
	}
	delete(r.sessions, id)
}

func (r *Registry) touch(id string) *entry {
	r.mu.RLock()
	e, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	e.mu.Lock()
	e.lastActivity = time.Now().UnixMilli()
	e.mu.Unlock()
	return e
}

func newLockToken(sessionID, owner string) string {
	unique := fmt.Sprintf("%d", time.Now().UnixNano())
	sum := sha256.Sum256([]byte(sessionID + ":" + owner + ":" + unique))
	token := base64.URLEncoding.EncodeToString(sum[:])
	if len(token) > 24 {
		token = token[:24]
	}
	return token
}

// AcquireLockOptions governs AcquireLock: expected_token guards against
// a stale-token race, rotate_token forces a fresh token even when the
// requester already owns the lock.
type AcquireLockOptions struct {
	ExpectedToken *string
	RotateToken   bool
}

// AcquireLock grants owner an exclusive lock over sessionID. Checks run
// in order: a mismatched expected_token is always a stale-token conflict
// regardless of who currently owns the lock; an unlocked session is
// granted outright; a requester who already owns the lock gets it
// regranted only if rotate_token is set, otherwise the existing token is
// returned unchanged; any other requester conflicts with the current
// owner. The lock_state signal is broadcast before AcquireLock returns;
// delivery to subscribers is asynchronous.
func (r *Registry) AcquireLock(sessionID, owner string, opts AcquireLockOptions) (string, *errs.Error) {
	e := r.touch(sessionID)
	if e == nil {
		return "", errs.New(errs.NotFound, "unknown session").WithDetails(map[string]any{"session_id": sessionID})
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if opts.ExpectedToken != nil && *opts.ExpectedToken != e.lockToken {
		return "", errs.New(errs.Conflict, "stale lock token").WithDetails(map[string]any{
			"reason":  "stale_token",
			"held_by": e.lockOwner,
		})
	}

	if e.lockToken == "" {
		token := newLockToken(sessionID, owner)
		e.lockToken = token
		e.lockOwner = owner
		e.lockRevision++
		r.emitLockState(sessionID, "", owner, "grant", e.lockRevision)
		return token, nil
	}

	if e.lockOwner == owner {
		if !opts.RotateToken {
			return e.lockToken, nil
		}
		token := newLockToken(sessionID, owner)
		e.lockToken = token
		e.lockRevision++
		r.emitLockState(sessionID, owner, owner, "grant", e.lockRevision)
		return token, nil
	}

	return "", errs.New(errs.Conflict, "session is already locked").WithDetails(map[string]any{
		"reason":  "different_owner",
		"held_by": e.lockOwner,
	})
}

// ValidateLock reports whether token is the current lock for sessionID.
func (r *Registry) ValidateLock(sessionID, token string) *errs.Error {
	e := r.touch(sessionID)
	if e == nil {
		return errs.New(errs.NotFound, "unknown session")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lockToken == "" || e.lockToken != token {
		return errs.New(errs.Conflict, "lock token is invalid or expired")
	}
	return nil
}

// ReleaseLock clears the lock on sessionID if token matches the current
// holder.
func (r *Registry) ReleaseLock(sessionID, token string) *errs.Error {
	e := r.touch(sessionID)
	if e == nil {
		return errs.New(errs.NotFound, "unknown session")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lockToken == "" {
		return nil
	}
	if e.lockToken != token {
		return errs.New(errs.Conflict, "lock token is invalid or expired")
	}
	previousOwner := e.lockOwner
	e.lockToken = ""
	e.lockOwner = ""
	e.lockRevision++
	r.emitLockState(sessionID, previousOwner, "", "release", e.lockRevision)
	return nil
}

// ForceTakeover unconditionally replaces the current lock holder with
// owner, regardless of the existing token, surfacing a takeover action
// (with the prior owner attached) in the broadcast signal rather than a
// plain grant.
func (r *Registry) ForceTakeover(sessionID, owner, reason string) (string, *errs.Error) {
	e := r.touch(sessionID)
	if e == nil {
		return "", errs.New(errs.NotFound, "unknown session").WithDetails(map[string]any{"session_id": sessionID})
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	previousOwner := e.lockOwner
	token := newLockToken(sessionID, owner)
	e.lockToken = token
	e.lockOwner = owner
	e.lockRevision++

	r.emitLockStateWithReason(sessionID, previousOwner, owner, "takeover", reason, e.lockRevision)
	return token, nil
}

func (r *Registry) emitLockState(sessionID, previousOwner, owner, action string, lockRevision uint64) {
	r.emitLockStateWithReason(sessionID, previousOwner, owner, action, "", lockRevision)
}

func (r *Registry) emitLockStateWithReason(sessionID, previousOwner, owner, action, reason string, lockRevision uint64) {
	if r.bus == nil {
		return
	}
	payload := map[string]any{
		"owner":          owner,
		"previous_owner": previousOwner,
		"action":         action,
		"lock_revision":  lockRevision,
	}
	if reason != "" {
		payload["reason"] = reason
	}
	r.bus.Broadcast(signalbus.Updated, sessionID, map[string]any{
		"action":  "lock_state",
		"payload": payload,
	}, signalbus.BroadcastOptions{})
}

// Start launches the idle-reclamation sweep goroutine. It is a no-op if
// already running.
func (r *Registry) Start(ctx context.Context) {
	if r.stopCh != nil {
		return
	}
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})

	autosaveInterval := time.Duration(r.opts.SessionOptions.AutosaveIntervalMs) * time.Millisecond

	go func() {
		defer close(r.doneCh)
		ticker := time.NewTicker(r.opts.SweepInterval)
		defer ticker.Stop()

		// The autosave checkpoint tick rides the same goroutine as the
		// idle sweep; a nil channel select arm disables it when no
		// autosave interval is configured.
		var autosaveC <-chan time.Time
		if autosaveInterval > 0 {
			autosave := time.NewTicker(autosaveInterval)
			defer autosave.Stop()
			autosaveC = autosave.C
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stopCh:
				return
			case <-ticker.C:
				r.sweep()
			case <-autosaveC:
				r.autosaveTick()
			}
		}
	}()
}

// autosaveTick drives each live session's dirty-document checkpoint
// write, the registry being the only component with a timer loop and a
// view of every session.
func (r *Registry) autosaveTick() {
	for _, e := range r.snapshotEntries() {
		e.session.AutosaveTick()
	}
}

func (r *Registry) snapshotEntries() []*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*entry, 0, len(r.sessions))
	for _, e := range r.sessions {
		out = append(out, e)
	}
	return out
}

// Stop halts the sweep goroutine and waits for it to exit.
func (r *Registry) Stop() {
	if r.stopCh == nil {
		return
	}
	close(r.stopCh)
	<-r.doneCh
	r.stopCh = nil
	r.doneCh = nil
}

func (r *Registry) sweep() {
	cutoff := time.Now().Add(-r.opts.IdleTimeout).UnixMilli()

	r.mu.Lock()
	var idle []*session.Session
	var idleIDs []string
	for id, e := range r.sessions {
		e.mu.Lock()
		last := e.lastActivity
		locked := e.lockToken != ""
		e.mu.Unlock()
		if !locked && last < cutoff {
			idle = append(idle, e.session)
			idleIDs = append(idleIDs, id)
		}
	}
	for _, id := range idleIDs {
		r.removeLocked(id)
	}
	r.mu.Unlock()

	// A reclaimed session's pending checkpoint is deliberately left on
	// disk for later recovery; Close only flushes the final
	// session_closed signal.
	for i, s := range idle {
		r.logger.Debug("reclaiming idle session", "session_id", idleIDs[i])
		s.Close()
	}
}

// RunSupervised runs each fn under one errgroup, cancelling every other
// supervised goroutine as soon as one returns an error.
func RunSupervised(ctx context.Context, fns ...func(context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, fn := range fns {
		fn := fn
		g.Go(func() error { return fn(gctx) })
	}
	return g.Wait()
}
