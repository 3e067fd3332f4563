package session

import (
	"github.com/jidohq/sessiond/internal/document"
	"github.com/jidohq/sessiond/internal/errs"
	"github.com/jidohq/sessiond/internal/frontmatter"
	"github.com/jidohq/sessiond/internal/persistence"
	"github.com/jidohq/sessiond/internal/renderer"
	"github.com/jidohq/sessiond/internal/renderqueue"
	"github.com/jidohq/sessiond/internal/safety"
)

// LoadOptions governs Load.
type LoadOptions struct {
	Path          string
	ParseOptions  document.ParseOptions
	CorrelationID string
}

// OnConflict selects Save's behavior when the disk content has diverged
// from the session's recorded baseline.
type OnConflict string

const (
	Reject    OnConflict = "reject"
	Overwrite OnConflict = "overwrite"
	MergeHook OnConflict = "merge_hook"
)

// SaveOptions governs Save.
type SaveOptions struct {
	// Path, when non-empty, saves the document to a different workspace
	// location (save-as); the document's own path is updated on success.
	Path string
	// Baseline, when non-nil, replaces the session's recorded disk
	// snapshot as the divergence-detection baseline for this save only.
	Baseline         *persistence.DiskSnapshot
	OnConflict       OnConflict
	Merge            func(baseline, current *persistence.DiskSnapshot, doc *document.Document) (string, bool)
	SerializeOptions frontmatter.SerializeOptions
	PreserveMetadata bool
	RevisionMetadata map[string]any
	Safety           *safety.Config
	CorrelationID    string
}

// UpdateFrontmatterOptions governs UpdateFrontmatter.
type UpdateFrontmatterOptions struct {
	Changes       map[string]any
	Mode          document.Mode
	Optimistic    *bool
	Source        string
	CorrelationID string
}

// UpdateBodyOptions governs UpdateBody.
type UpdateBodyOptions struct {
	Body          string
	Patch         *document.BodyPatch
	Normalize     document.NormalizeOptions
	Optimistic    *bool
	Source        string
	CorrelationID string
}

// RenderOptions governs Render.
type RenderOptions struct {
	Async           bool
	RendererOptions renderer.Options
	IncrementalOpts *renderqueue.IncrementalOptions
	Safety          *safety.Config
	CorrelationID   string
}

// UndoRedoOptions governs Undo and Redo.
type UndoRedoOptions struct {
	Source        string
	CorrelationID string
}

// RecoverOptions governs Recover.
type RecoverOptions struct {
	Force         bool
	CorrelationID string
}

func isOptimistic(opt *bool) bool {
	if opt == nil {
		return true
	}
	return *opt
}

func requireDocument(doc *document.Document) *errs.Error {
	if doc == nil {
		return errs.New(errs.ValidationFailed, "session has no document loaded")
	}
	return nil
}
