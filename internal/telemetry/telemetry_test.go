package telemetry

import (
	"path/filepath"
	"testing"
	"time"
)

func TestRecordAndRecent(t *testing.T) {
	t.Parallel()
	dbPath := filepath.Join(t.TempDir(), "telemetry.db")
	sink, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer sink.Close()

	events := []Event{
		{Event: "save", SessionID: "sess-1", Status: "ok", DurationUs: 120, CorrelationID: "corr-1"},
		{Event: "render", SessionID: "sess-1", Status: "error", DurationUs: 99},
		{Event: "save", SessionID: "sess-2", Status: "ok", DurationUs: 10},
	}
	for _, e := range events {
		if err := sink.Record(e); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	recent, err := sink.RecentBySession("sess-1", 10)
	if err != nil {
		t.Fatalf("RecentBySession: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("len(recent) = %d, want 2", len(recent))
	}
	if recent[0].Event != "render" {
		t.Errorf("recent[0].Event = %q, want render (most recent first)", recent[0].Event)
	}
	if recent[1].CorrelationID != "corr-1" {
		t.Errorf("recent[1].CorrelationID = %q, want corr-1", recent[1].CorrelationID)
	}
}

func TestNilSinkIsNoop(t *testing.T) {
	t.Parallel()
	var sink *Sink
	if err := sink.Record(Event{Event: "save", SessionID: "x", RecordedAt: time.Now()}); err != nil {
		t.Fatalf("nil sink Record should be a no-op, got: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("nil sink Close should be a no-op, got: %v", err)
	}
}
