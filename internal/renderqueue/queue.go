// Package renderqueue implements the debounced, single-latest-per-session
// render scheduler: supersede-on-re-enqueue, bounded capacity, and
// renderer invocation throttling via golang.org/x/time/rate.
package renderqueue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/jidohq/sessiond/internal/errs"
	"github.com/jidohq/sessiond/internal/renderer"
)

const defaultDebounce = 120 * time.Millisecond

// Outcome is delivered to a job's NotifyFn once the render adapter runs.
// An adapter failure arrives in Err; the queue applies no fallback.
type Outcome struct {
	SessionID      string
	Revision       uint64
	Result         renderer.Result
	Err            error
	ChangeDecision Decision
	ChangedLines   int
}

// NotifyFn receives the asynchronous render outcome for one job.
type NotifyFn func(Outcome)

type job struct {
	sessionID        string
	revision         uint64
	markdown         string
	previousMarkdown string
	opts             renderer.Options
	incrementalOpts  IncrementalOptions
	notify           NotifyFn
	timer            *time.Timer
}

// Counters is a snapshot of the queue's operational counters.
type Counters struct {
	Enqueued            int64
	Canceled            int64
	Dropped             int64
	Completed           int64
	IncrementalSelected int64
	FullSelected        int64
}

// Queue is the process-wide render scheduler. Construct one instance per
// process (or per isolated test); it is not a package-level global.
type Queue struct {
	mu           sync.Mutex
	pending      map[string]*job
	maxQueueSize int
	debounce     time.Duration
	registry     *renderer.Registry
	limiter      *rate.Limiter

	enqueued, canceled, dropped, completed int64
	incrementalSelected, fullSelected      int64
}

// Options configures a new Queue.
type Options struct {
	MaxQueueSize int
	DebounceMs   int
	RateLimit    rate.Limit // renderer invocations per second; 0 disables throttling
	RateBurst    int
}

// New constructs a Queue bound to registry for adapter resolution.
func New(registry *renderer.Registry, opts Options) *Queue {
	debounce := defaultDebounce
	if opts.DebounceMs > 0 {
		debounce = time.Duration(opts.DebounceMs) * time.Millisecond
	}
	maxQueueSize := opts.MaxQueueSize
	if maxQueueSize <= 0 {
		maxQueueSize = 64
	}

	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(opts.RateLimit, burst)
	}

	return &Queue{
		pending:      map[string]*job{},
		maxQueueSize: maxQueueSize,
		debounce:     debounce,
		registry:     registry,
		limiter:      limiter,
	}
}

// Enqueue schedules (or supersedes) a render job for sessionID. If a job
// is already pending for this session it is replaced (the supersede
// point) and queue_canceled is counted for the replaced job.
func (q *Queue) Enqueue(sessionID string, revision uint64, markdown, previousMarkdown string, opts renderer.Options, incOpts IncrementalOptions, notify NotifyFn) *errs.Error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if existing, ok := q.pending[sessionID]; ok {
		existing.timer.Stop()
		atomic.AddInt64(&q.canceled, 1)
		delete(q.pending, sessionID)
	} else if len(q.pending) >= q.maxQueueSize {
		atomic.AddInt64(&q.dropped, 1)
		return errs.New(errs.Busy, "render queue is full").WithDetails(map[string]any{"reason": "queue_full"})
	}

	j := &job{
		sessionID:        sessionID,
		revision:         revision,
		markdown:         markdown,
		previousMarkdown: previousMarkdown,
		opts:             opts,
		incrementalOpts:  incOpts,
		notify:           notify,
	}
	j.timer = time.AfterFunc(q.debounce, func() { q.fire(sessionID, revision) })
	q.pending[sessionID] = j
	atomic.AddInt64(&q.enqueued, 1)
	return nil
}

func (q *Queue) fire(sessionID string, expectedRevision uint64) {
	q.mu.Lock()
	j, ok := q.pending[sessionID]
	if !ok || j.revision != expectedRevision {
		// Superseded by a newer enqueue between timer scheduling and
		// firing; the newer job already counted this as canceled.
		q.mu.Unlock()
		return
	}
	delete(q.pending, sessionID)
	q.mu.Unlock()

	q.execute(j)
}

func (q *Queue) execute(j *job) {
	decision, _, changed := Classify(j.previousMarkdown, j.markdown, j.incrementalOpts)
	if decision == Full {
		atomic.AddInt64(&q.fullSelected, 1)
	} else {
		atomic.AddInt64(&q.incrementalSelected, 1)
	}

	ctx := context.Background()
	if q.limiter != nil {
		if err := q.limiter.Wait(ctx); err != nil {
			j.notify(Outcome{SessionID: j.sessionID, Revision: j.revision, Err: err, ChangeDecision: decision, ChangedLines: changed})
			return
		}
	}

	adapter, rerr := q.registry.Resolve(j.opts.Adapter)
	if rerr != nil {
		j.notify(Outcome{SessionID: j.sessionID, Revision: j.revision, Err: rerr, ChangeDecision: decision, ChangedLines: changed})
		return
	}

	result, err := adapter.Render(ctx, j.markdown, j.opts)
	if err != nil {
		j.notify(Outcome{SessionID: j.sessionID, Revision: j.revision, Err: err, ChangeDecision: decision, ChangedLines: changed})
		return
	}

	atomic.AddInt64(&q.completed, 1)
	j.notify(Outcome{SessionID: j.sessionID, Revision: j.revision, Result: result, ChangeDecision: decision, ChangedLines: changed})
}

// Counters returns a snapshot of the queue's operational counters.
func (q *Queue) Counters() Counters {
	return Counters{
		Enqueued:            atomic.LoadInt64(&q.enqueued),
		Canceled:            atomic.LoadInt64(&q.canceled),
		Dropped:             atomic.LoadInt64(&q.dropped),
		Completed:           atomic.LoadInt64(&q.completed),
		IncrementalSelected: atomic.LoadInt64(&q.incrementalSelected),
		FullSelected:        atomic.LoadInt64(&q.fullSelected),
	}
}
