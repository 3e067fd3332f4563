// Package checkpoint implements per-session crash-recovery payloads,
// reusing internal/persistence's atomic write primitive rather than a
// second write path, per "build first, trim last": the persistence layer
// built for documents is reused, not duplicated, for checkpoints.
package checkpoint

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/jidohq/sessiond/internal/document"
	"github.com/jidohq/sessiond/internal/errs"
	"github.com/jidohq/sessiond/internal/persistence"
)

const schemaVersion = 1

// Payload is the durable checkpoint contents.
type Payload struct {
	SchemaVersion int                       `json:"schema_version"`
	SessionID     string                    `json:"session_id"`
	Document      *document.Document        `json:"document"`
	DiskSnapshot  *persistence.DiskSnapshot `json:"disk_snapshot,omitempty"`
	CapturedAtMs  int64                     `json:"captured_at_ms"`
}

// Store manages checkpoint files under one directory, one file per
// session id, named "<session_id>.checkpoint".
type Store struct {
	dir string
}

// NewStore returns a Store rooted at dir (created lazily on first write).
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) pathFor(sessionID string) string {
	return filepath.Join(s.dir, sessionID+".checkpoint")
}

// Write atomically persists a checkpoint for sessionID. Failures here are
// surfaced to the caller as a diagnostic (never fail the underlying
// command); it is the session's responsibility to swallow the error into
// a "failed" signal rather than aborting the triggering command.
func (s *Store) Write(sessionID string, doc *document.Document, snapshot *persistence.DiskSnapshot, capturedAtMs int64) *errs.Error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return errs.Wrap(errs.FilesystemError, "failed to ensure checkpoint directory", err)
	}

	payload := Payload{
		SchemaVersion: schemaVersion,
		SessionID:     sessionID,
		Document:      doc,
		DiskSnapshot:  snapshot,
		CapturedAtMs:  capturedAtMs,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return errs.Wrap(errs.Internal, "failed to encode checkpoint", err)
	}

	_, werr := persistence.WriteFile(s.pathFor(sessionID), data, persistence.AtomicWriteOptions{})
	return werr
}

// Load reads the checkpoint for sessionID, if any. A missing file is not
// an error: it reports ok=false.
func (s *Store) Load(sessionID string) (*Payload, bool, *errs.Error) {
	data, err := os.ReadFile(s.pathFor(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, errs.Wrap(errs.FilesystemError, "failed to read checkpoint", err)
	}

	var payload Payload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, false, errs.Wrap(errs.ParseFailed, "failed to decode checkpoint payload", err)
	}
	return &payload, true, nil
}

// Discard removes the checkpoint file for sessionID, ignoring a
// not-found error.
func (s *Store) Discard(sessionID string) *errs.Error {
	if err := os.Remove(s.pathFor(sessionID)); err != nil && !os.IsNotExist(err) {
		return errs.Wrap(errs.FilesystemError, "failed to discard checkpoint", err)
	}
	return nil
}

// Candidate is one entry returned by ListRecoveryCandidates.
type Candidate struct {
	SessionID      string
	CheckpointPath string
}

// ListRecoveryCandidates enumerates every "*.checkpoint" file in the
// checkpoint directory.
func (s *Store) ListRecoveryCandidates() ([]Candidate, *errs.Error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.Wrap(errs.FilesystemError, "failed to list checkpoint directory", err)
	}

	var out []Candidate
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".checkpoint") {
			continue
		}
		sessionID := strings.TrimSuffix(e.Name(), ".checkpoint")
		out = append(out, Candidate{
			SessionID:      sessionID,
			CheckpointPath: filepath.Join(s.dir, e.Name()),
		})
	}
	return out, nil
}
