package renderqueue

import (
	"sync"
	"testing"
	"time"

	"github.com/jidohq/sessiond/internal/renderer"
)

func newTestQueue(maxQueueSize, debounceMs int) *Queue {
	reg := renderer.NewRegistry(renderer.NewGoldmarkAdapter())
	return New(reg, Options{MaxQueueSize: maxQueueSize, DebounceMs: debounceMs})
}

func TestEnqueueSupersede(t *testing.T) {
	q := newTestQueue(4, 20)

	var mu sync.Mutex
	var outcomes []Outcome
	notify := func(o Outcome) {
		mu.Lock()
		outcomes = append(outcomes, o)
		mu.Unlock()
	}

	if err := q.Enqueue("sess-A", 1, "rev1\n", "", renderer.Options{}, DefaultIncrementalOptions(), notify); err != nil {
		t.Fatalf("enqueue rev1: %v", err)
	}
	if err := q.Enqueue("sess-A", 2, "rev2\n", "rev1\n", renderer.Options{}, DefaultIncrementalOptions(), notify); err != nil {
		t.Fatalf("enqueue rev2: %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(outcomes) != 1 {
		t.Fatalf("len(outcomes) = %d, want exactly 1 (only rN delivered)", len(outcomes))
	}
	if outcomes[0].Revision != 2 {
		t.Errorf("delivered revision = %d, want 2", outcomes[0].Revision)
	}

	counters := q.Counters()
	if counters.Canceled < 1 {
		t.Errorf("expected at least one canceled job, got %d", counters.Canceled)
	}
}

func TestEnqueueBusyWhenFull(t *testing.T) {
	q := newTestQueue(1, 500)
	noop := func(Outcome) {}

	if err := q.Enqueue("sess-A", 1, "x", "", renderer.Options{}, DefaultIncrementalOptions(), noop); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := q.Enqueue("sess-B", 1, "y", "", renderer.Options{}, DefaultIncrementalOptions(), noop)
	if err == nil {
		t.Fatalf("expected busy error when queue is full")
	}

	counters := q.Counters()
	if counters.Dropped != 1 {
		t.Errorf("queue_dropped = %d, want 1", counters.Dropped)
	}
}

func TestClassifyFullVsIncremental(t *testing.T) {
	decision, _, _ := Classify("a\nb\nc\n", "a\nb\nc\n", DefaultIncrementalOptions())
	if decision != Incremental {
		t.Errorf("identical content should classify as incremental (0 changed lines), got %v", decision)
	}

	var big []byte
	for i := 0; i < 200; i++ {
		big = append(big, []byte("line\n")...)
	}
	decision, _, changed := Classify(string(big), "completely different\n", DefaultIncrementalOptions())
	if decision != Full {
		t.Errorf("large diff should classify as full, got %v (changed=%d)", decision, changed)
	}
}

func TestExecuteCompletesAndCountsIncremental(t *testing.T) {
	q := newTestQueue(4, 10)
	done := make(chan Outcome, 1)

	err := q.Enqueue("sess-A", 1, "# hi\n", "", renderer.Options{}, DefaultIncrementalOptions(), func(o Outcome) {
		done <- o
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	select {
	case o := <-done:
		if o.Err != nil {
			t.Fatalf("unexpected render error: %v", o.Err)
		}
		if o.Result.Preview == "" {
			t.Errorf("expected non-empty preview")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for render outcome")
	}

	if q.Counters().Completed != 1 {
		t.Errorf("queue_completed = %d, want 1", q.Counters().Completed)
	}
}
