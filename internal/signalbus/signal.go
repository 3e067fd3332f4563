// Package signalbus fans out per-session lifecycle events to best-effort
// subscribers, normalizing oversized payloads before delivery.
package signalbus

// Type enumerates the recognized signal types.
type Type string

const (
	Loaded            Type = "loaded"
	Updated           Type = "updated"
	Saved             Type = "saved"
	Rendered          Type = "rendered"
	Failed            Type = "failed"
	SessionClosed     Type = "session_closed"
	SubscriberCleaned Type = "subscriber_cleaned"
)

var knownTypes = map[Type]bool{
	Loaded: true, Updated: true, Saved: true, Rendered: true,
	Failed: true, SessionClosed: true, SubscriberCleaned: true,
}

const signalSchemaVersion = 1

// Metadata rides along with every delivered Signal describing payload
// normalization that occurred.
type Metadata struct {
	PayloadBytes int
	Truncated    bool
	DroppedKeys  []string
}

// Signal is one versioned lifecycle event published on a session's topic.
type Signal struct {
	Type          Type
	SessionID     string
	Data          map[string]any
	SchemaVersion int
	CorrelationID string
	EmittedAt     int64
	Metadata      Metadata
}
