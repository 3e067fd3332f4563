package persistence

import (
	"os"

	"github.com/jidohq/sessiond/internal/errs"
)

// Verdict is the outcome of DetectDivergence.
type Verdict string

const (
	NoDivergence Verdict = "ok"
	Diverged     Verdict = "conflict"
)

// Divergence carries the conflicting hashes when Verdict is Diverged.
type Divergence struct {
	Verdict  Verdict
	Baseline *DiskSnapshot
	Current  *DiskSnapshot
}

// DetectDivergence compares the current on-disk content against baseline.
// A missing baseline means "treat as no divergence" (new session, no prior
// snapshot to compare against). A missing target file is itself treated
// as no divergence (new file case).
func DetectDivergence(path string, baseline *DiskSnapshot) (*Divergence, *errs.Error) {
	info, statErr := os.Stat(path)
	if statErr != nil {
		if os.IsNotExist(statErr) {
			return &Divergence{Verdict: NoDivergence}, nil
		}
		return nil, errs.Wrap(errs.FilesystemError, "failed to stat file", statErr)
	}

	if baseline == nil {
		current, err := Snapshot(path)
		if err != nil {
			return nil, err
		}
		return &Divergence{Verdict: NoDivergence, Current: current}, nil
	}

	if info.ModTime().Equal(baseline.Mtime) && info.Size() == baseline.Size {
		return &Divergence{Verdict: NoDivergence, Baseline: baseline}, nil
	}

	current, err := Snapshot(path)
	if err != nil {
		return nil, err
	}
	if current.SHA256 == baseline.SHA256 {
		return &Divergence{Verdict: NoDivergence, Baseline: baseline, Current: current}, nil
	}

	return &Divergence{Verdict: Diverged, Baseline: baseline, Current: current}, nil
}
