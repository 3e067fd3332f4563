package signalbus

import (
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/jidohq/sessiond/internal/errs"
)

// Endpoint receives delivered signals. A non-nil return is treated as
// "subscriber is dead" and triggers cleanup; there is no retry.
type Endpoint func(Signal) error

type subscription struct {
	id       string
	endpoint Endpoint
}

// Bus is a per-session topic fan-out. It is not a package-level global:
// callers construct independent instances (e.g. one per test) and tear
// them down explicitly.
type Bus struct {
	mu              sync.Mutex
	subscribers     map[string][]subscription
	maxPayloadBytes int
}

// New returns an empty Bus. maxPayloadBytes of 0 uses the default (16384).
func New(maxPayloadBytes int) *Bus {
	return &Bus{
		subscribers:     map[string][]subscription{},
		maxPayloadBytes: maxPayloadBytes,
	}
}

// Subscribe registers endpoint for sessionID's topic and returns a
// subscription id usable with Unsubscribe.
func (b *Bus) Subscribe(sessionID string, endpoint Endpoint) string {
	id := ulid.Make().String()
	b.mu.Lock()
	b.subscribers[sessionID] = append(b.subscribers[sessionID], subscription{id: id, endpoint: endpoint})
	b.mu.Unlock()
	return id
}

// Unsubscribe removes a previously registered subscription.
func (b *Bus) Unsubscribe(sessionID, subscriptionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subscribers[sessionID]
	for i, s := range subs {
		if s.id == subscriptionID {
			b.subscribers[sessionID] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// BroadcastOptions governs one Broadcast call.
type BroadcastOptions struct {
	CorrelationID   string
	MaxPayloadBytes int
}

// Broadcast validates and normalizes data, then delivers it best-effort
// and asynchronously to every current subscriber of sessionID's topic.
// Dead subscribers (endpoint returns an error) are removed and the
// remaining subscribers receive a subscriber_cleaned signal.
func (b *Bus) Broadcast(sigType Type, sessionID string, data map[string]any, opts BroadcastOptions) *errs.Error {
	if !knownTypes[sigType] {
		return errs.New(errs.ValidationFailed, "unknown signal type").WithDetails(map[string]any{"type": string(sigType)})
	}
	if sessionID == "" {
		return errs.New(errs.ValidationFailed, "signal session_id must not be empty")
	}
	if data == nil {
		data = map[string]any{}
	}

	limit := opts.MaxPayloadBytes
	if limit <= 0 {
		limit = b.maxPayloadBytes
	}
	normalized, meta := normalize(data, limit)

	sig := Signal{
		Type:          sigType,
		SessionID:     sessionID,
		Data:          normalized,
		SchemaVersion: signalSchemaVersion,
		CorrelationID: opts.CorrelationID,
		EmittedAt:     time.Now().UnixMilli(),
		Metadata:      meta,
	}

	// Delivery is best-effort and asynchronous from the caller's
	// perspective: Broadcast returns as soon as the signal is validated
	// and normalized, never blocking on a slow subscriber.
	go b.deliver(sessionID, sig)

	return nil
}

func (b *Bus) deliver(sessionID string, sig Signal) {
	b.mu.Lock()
	subs := append([]subscription(nil), b.subscribers[sessionID]...)
	b.mu.Unlock()

	var deadMu sync.Mutex
	var dead []string
	var wg sync.WaitGroup
	for _, s := range subs {
		wg.Add(1)
		go func(s subscription) {
			defer wg.Done()
			if err := s.endpoint(sig); err != nil {
				deadMu.Lock()
				dead = append(dead, s.id)
				deadMu.Unlock()
			}
		}(s)
	}
	wg.Wait()

	if len(dead) == 0 {
		return
	}

	b.mu.Lock()
	remaining := b.subscribers[sessionID][:0]
	for _, s := range b.subscribers[sessionID] {
		if !containsString(dead, s.id) {
			remaining = append(remaining, s)
		}
	}
	b.subscribers[sessionID] = remaining
	b.mu.Unlock()

	b.Broadcast(SubscriberCleaned, sessionID, map[string]any{"removed": len(dead)}, BroadcastOptions{})
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
