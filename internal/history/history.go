// Package history implements the bounded two-stack undo/redo model and the
// human-legible change-summary narration used to annotate "updated"
// signals.
package history

import (
	"github.com/jidohq/sessiond/internal/document"
	"github.com/jidohq/sessiond/internal/errs"
)

// Entry is one pushed snapshot plus the metadata describing why it exists.
type Entry struct {
	DocumentSnapshot *document.Document
	Action           string
	Timestamp        int64
	Source           string
}

// State summarizes the two stacks for the history_state signal payload.
type State struct {
	CanUndo   bool
	CanRedo   bool
	UndoDepth int
	RedoDepth int
	Limit     int
}

// History is the bounded two-stack undo/redo model for one session.
type History struct {
	undo  []Entry
	redo  []Entry
	limit int
}

// New returns a History bounded at limit entries per stack (minimum 1).
func New(limit int) *History {
	if limit < 1 {
		limit = 1
	}
	return &History{limit: limit}
}

// Record pushes the pre-change snapshot onto undo and clears redo.
func (h *History) Record(before *document.Document, action, source string, timestampMs int64) {
	h.undo = append(h.undo, Entry{
		DocumentSnapshot: before,
		Action:           action,
		Timestamp:        timestampMs,
		Source:           source,
	})
	if len(h.undo) > h.limit {
		h.undo = h.undo[len(h.undo)-h.limit:]
	}
	h.redo = nil
}

// Undo pops the undo stack, pushes current onto redo, and returns the
// popped document.
func (h *History) Undo(current *document.Document) (*document.Document, *errs.Error) {
	if len(h.undo) == 0 {
		return nil, errs.New(errs.Conflict, "nothing to undo").WithDetails(map[string]any{"reason": "empty"})
	}
	top := h.undo[len(h.undo)-1]
	h.undo = h.undo[:len(h.undo)-1]
	h.pushRedo(current)
	return top.DocumentSnapshot, nil
}

// Redo is symmetric to Undo.
func (h *History) Redo(current *document.Document) (*document.Document, *errs.Error) {
	if len(h.redo) == 0 {
		return nil, errs.New(errs.Conflict, "nothing to redo").WithDetails(map[string]any{"reason": "empty"})
	}
	top := h.redo[len(h.redo)-1]
	h.redo = h.redo[:len(h.redo)-1]
	h.pushUndo(current)
	return top.DocumentSnapshot, nil
}

func (h *History) pushRedo(doc *document.Document) {
	h.redo = append(h.redo, Entry{DocumentSnapshot: doc})
	if len(h.redo) > h.limit {
		h.redo = h.redo[len(h.redo)-h.limit:]
	}
}

func (h *History) pushUndo(doc *document.Document) {
	h.undo = append(h.undo, Entry{DocumentSnapshot: doc})
	if len(h.undo) > h.limit {
		h.undo = h.undo[len(h.undo)-h.limit:]
	}
}

// Clear empties both stacks, invoked on load and recover.
func (h *History) Clear() {
	h.undo = nil
	h.redo = nil
}

// State reports the current undo/redo availability and depths.
func (h *History) State() State {
	return State{
		CanUndo:   len(h.undo) > 0,
		CanRedo:   len(h.redo) > 0,
		UndoDepth: len(h.undo),
		RedoDepth: len(h.redo),
		Limit:     h.limit,
	}
}
