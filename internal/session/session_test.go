package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jidohq/sessiond/internal/checkpoint"
	"github.com/jidohq/sessiond/internal/document"
	"github.com/jidohq/sessiond/internal/errs"
	"github.com/jidohq/sessiond/internal/persistence"
	"github.com/jidohq/sessiond/internal/renderer"
	"github.com/jidohq/sessiond/internal/renderqueue"
	"github.com/jidohq/sessiond/internal/signalbus"
)

func newTestSession(t *testing.T, workspaceRoot string) *Session {
	t.Helper()
	deps := Deps{
		Bus:         signalbus.New(0),
		Checkpoints: checkpoint.NewStore(filepath.Join(workspaceRoot, ".checkpoints")),
		RenderQueue: renderqueue.New(renderer.NewRegistry(renderer.NewGoldmarkAdapter()), renderqueue.Options{}),
		Renderers:   renderer.NewRegistry(renderer.NewGoldmarkAdapter()),
	}
	return New("sess-test", deps, Options{
		WorkspaceRoot:    workspaceRoot,
		HistoryLimit:     10,
		CheckpointOnEdit: true,
	})
}

// TestLoadEditSaveRoundtrip exercises S1: load an existing document,
// mutate its frontmatter and body, save, and confirm the bytes on disk
// reflect the edits.
func TestLoadEditSaveRoundtrip(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.md")
	if err := os.WriteFile(path, []byte("---\ntitle: Old\n---\nhello\n"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	s := newTestSession(t, dir)

	loadRes := s.Load(LoadOptions{Path: path})
	if loadRes.Status != errs.StatusOK {
		t.Fatalf("Load failed: %+v", loadRes.Err)
	}

	updateRes := s.UpdateFrontmatter(UpdateFrontmatterOptions{
		Changes: map[string]any{"title": "New"},
		Mode:    document.Merge,
		Source:  "test",
	})
	if updateRes.Status != errs.StatusOK {
		t.Fatalf("UpdateFrontmatter failed: %+v", updateRes.Err)
	}

	bodyRes := s.UpdateBody(UpdateBodyOptions{Body: "world\n", Source: "test"})
	if bodyRes.Status != errs.StatusOK {
		t.Fatalf("UpdateBody failed: %+v", bodyRes.Err)
	}

	saveRes := s.Save(SaveOptions{})
	if saveRes.Status != errs.StatusOK {
		t.Fatalf("Save failed: %+v", saveRes.Err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	got := string(raw)
	if !contains(got, "title: \"New\"") || !contains(got, "world") {
		t.Errorf("saved content = %q, want title New and body world", got)
	}
}

// TestSaveDetectsExternalDivergence exercises S2: a concurrent external
// writer changes the file after load but before save; save must refuse
// by default.
func TestSaveDetectsExternalDivergence(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.md")
	if err := os.WriteFile(path, []byte("---\ntitle: A\n---\nbody\n"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	s := newTestSession(t, dir)
	if res := s.Load(LoadOptions{Path: path}); res.Status != errs.StatusOK {
		t.Fatalf("Load failed: %+v", res.Err)
	}

	time.Sleep(10 * time.Millisecond)
	if err := os.WriteFile(path, []byte("---\ntitle: External\n---\nchanged externally\n"), 0o644); err != nil {
		t.Fatalf("external write: %v", err)
	}

	s.UpdateBody(UpdateBodyOptions{Body: "my edit\n", Source: "test"})

	res := s.Save(SaveOptions{})
	if res.Status != errs.StatusError {
		t.Fatalf("Save should have been refused on divergence, got status=%v", res.Status)
	}
	if res.Err.Code != errs.Conflict {
		t.Errorf("Save error code = %v, want conflict", res.Err.Code)
	}

	overwriteRes := s.Save(SaveOptions{OnConflict: Overwrite})
	if overwriteRes.Status != errs.StatusOK {
		t.Fatalf("Save with OnConflict=Overwrite should succeed, got: %+v", overwriteRes.Err)
	}
}

func TestUndoRedo(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.md")
	os.WriteFile(path, []byte("hello\n"), 0o644)

	s := newTestSession(t, dir)
	s.Load(LoadOptions{Path: path})
	s.UpdateBody(UpdateBodyOptions{Body: "edited\n"})

	if s.document.Body != "edited\n" {
		t.Fatalf("body = %q, want edited", s.document.Body)
	}

	undoRes := s.Undo(UndoRedoOptions{})
	if undoRes.Status != errs.StatusOK {
		t.Fatalf("Undo failed: %+v", undoRes.Err)
	}
	if s.document.Body != "hello\n" {
		t.Errorf("body after undo = %q, want hello", s.document.Body)
	}

	redoRes := s.Redo(UndoRedoOptions{})
	if redoRes.Status != errs.StatusOK {
		t.Fatalf("Redo failed: %+v", redoRes.Err)
	}
	if s.document.Body != "edited\n" {
		t.Errorf("body after redo = %q, want edited", s.document.Body)
	}

	if again := s.Redo(UndoRedoOptions{}); again.Status != errs.StatusError {
		t.Errorf("Redo with empty redo stack should fail, got status=%v", again.Status)
	}
}

func TestSyncRenderFallbackOnAdapterError(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.md")
	os.WriteFile(path, []byte("# hi\n"), 0o644)

	deps := Deps{
		Bus:         signalbus.New(0),
		Checkpoints: checkpoint.NewStore(filepath.Join(dir, ".checkpoints")),
		RenderQueue: renderqueue.New(renderer.NewRegistry(), renderqueue.Options{}),
		Renderers:   renderer.NewRegistry(), // no "default" adapter registered, forces Resolve error -> fallback
	}
	s := New("sess-fallback", deps, Options{WorkspaceRoot: dir, HistoryLimit: 5})
	s.Load(LoadOptions{Path: path})

	res := s.Render(RenderOptions{})
	if res.Status != errs.StatusOK {
		t.Fatalf("Render should return ok even on fallback path, got: %+v", res.Err)
	}
	if !s.renderFallbackActive {
		t.Error("renderFallbackActive should be true after rendering with an unresolved adapter")
	}
}

func TestCheckpointRecoverRoundtrip(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.md")
	os.WriteFile(path, []byte("original\n"), 0o644)

	s := newTestSession(t, dir)
	s.Load(LoadOptions{Path: path})
	s.UpdateBody(UpdateBodyOptions{Body: "changed\n"})

	reconcileRes := s.ReconcileOnStartup()
	if reconcileRes.Status != errs.StatusOK {
		t.Fatalf("ReconcileOnStartup failed: %+v", reconcileRes.Err)
	}
	value := reconcileRes.Value.(map[string]any)
	if value["available"] != true {
		t.Fatalf("expected a pending checkpoint to be available, got %+v", value)
	}

	// Diverge the live in-memory document from the checkpoint's own
	// content so an undo back through the recover's history entry is
	// distinguishable from the recovered body itself.
	s.UpdateBody(UpdateBodyOptions{Body: "newer\n"})

	s.preview = &renderer.Result{Preview: "<p>stale</p>"}
	s.lastGoodPreview = &renderer.Result{Preview: "<p>stale good</p>"}
	s.renderFallbackActive = true

	recoverRes := s.Recover(RecoverOptions{})
	if recoverRes.Status != errs.StatusOK {
		t.Fatalf("Recover failed: %+v", recoverRes.Err)
	}
	doc := recoverRes.Value.(*document.Document)
	if doc.Body != "changed\n" {
		t.Errorf("recovered body = %q, want changed", doc.Body)
	}

	if s.preview != nil {
		t.Error("Recover should clear preview")
	}
	if s.lastGoodPreview != nil {
		t.Error("Recover should clear lastGoodPreview")
	}
	if s.renderFallbackActive {
		t.Error("Recover should clear renderFallbackActive")
	}

	if _, ok, _ := s.checkpoints.Load("sess-test"); ok {
		t.Error("Recover should discard the on-disk checkpoint file")
	}
	if s.pendingCheckpoint != nil {
		t.Error("Recover should clear pendingCheckpoint")
	}

	undoRes := s.Undo(UndoRedoOptions{})
	if undoRes.Status != errs.StatusOK {
		t.Fatalf("Undo after recover should succeed: %+v", undoRes.Err)
	}
	if s.document.Body != "newer\n" {
		t.Errorf("body after undoing the recover = %q, want the pre-recover body %q", s.document.Body, "newer\n")
	}
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && indexOf(haystack, needle) >= 0
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}

func TestSaveToNewPath(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	original := filepath.Join(dir, "doc.md")
	os.WriteFile(original, []byte("hello\n"), 0o644)

	s := newTestSession(t, dir)
	s.Load(LoadOptions{Path: original})
	s.UpdateBody(UpdateBodyOptions{Body: "copied elsewhere\n"})

	res := s.Save(SaveOptions{Path: "copy.md"})
	if res.Status != errs.StatusOK {
		t.Fatalf("Save to a new path failed: %+v", res.Err)
	}

	copied, err := os.ReadFile(filepath.Join(dir, "copy.md"))
	if err != nil {
		t.Fatalf("read copy: %v", err)
	}
	if string(copied) != "copied elsewhere\n" {
		t.Errorf("copy content = %q", string(copied))
	}
	if s.document.Path != filepath.Join(dir, "copy.md") {
		t.Errorf("document path = %q, want the save-as target", s.document.Path)
	}

	// The original file keeps its pre-edit content.
	orig, _ := os.ReadFile(original)
	if string(orig) != "hello\n" {
		t.Errorf("original content = %q, want untouched", string(orig))
	}
}

func TestSavePathOutsideWorkspaceRefused(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.md")
	os.WriteFile(path, []byte("x\n"), 0o644)

	s := newTestSession(t, dir)
	s.Load(LoadOptions{Path: path})
	s.UpdateBody(UpdateBodyOptions{Body: "y\n"})

	res := s.Save(SaveOptions{Path: "../escape.md"})
	if res.Status != errs.StatusError {
		t.Fatal("Save outside the workspace boundary should be refused")
	}
	if res.Err.Code != errs.FilesystemError {
		t.Errorf("error code = %v, want filesystem_error", res.Err.Code)
	}
}

func TestSaveMergeHookResolvesDivergence(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.md")
	os.WriteFile(path, []byte("base\n"), 0o644)

	s := newTestSession(t, dir)
	s.Load(LoadOptions{Path: path})
	s.UpdateBody(UpdateBodyOptions{Body: "mine\n"})

	time.Sleep(10 * time.Millisecond)
	os.WriteFile(path, []byte("theirs\n"), 0o644)

	res := s.Save(SaveOptions{
		OnConflict: MergeHook,
		Merge: func(baseline, current *persistence.DiskSnapshot, doc *document.Document) (string, bool) {
			return "merged\n", true
		},
	})
	if res.Status != errs.StatusOK {
		t.Fatalf("Save with a merge hook should succeed: %+v", res.Err)
	}

	raw, _ := os.ReadFile(path)
	if string(raw) != "merged\n" {
		t.Errorf("disk content = %q, want the merge hook's output", string(raw))
	}
	if s.document.Body != "merged\n" {
		t.Errorf("session body = %q, want the merged body committed", s.document.Body)
	}
	if s.document.Dirty {
		t.Error("document should be clean after a successful merged save")
	}
}

func TestSaveWithCallerBaselineOverride(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.md")
	os.WriteFile(path, []byte("v1\n"), 0o644)

	s := newTestSession(t, dir)
	s.Load(LoadOptions{Path: path})
	s.UpdateBody(UpdateBodyOptions{Body: "edit\n"})

	// An external writer updates the file; the caller re-snapshots it and
	// supplies that newer snapshot as the baseline, so the save proceeds
	// without a conflict despite the session's stale recorded snapshot.
	time.Sleep(10 * time.Millisecond)
	os.WriteFile(path, []byte("v2\n"), 0o644)
	fresh, serr := persistence.Snapshot(path)
	if serr != nil {
		t.Fatalf("snapshot: %+v", serr)
	}

	res := s.Save(SaveOptions{Baseline: fresh})
	if res.Status != errs.StatusOK {
		t.Fatalf("Save with a fresh caller baseline should succeed: %+v", res.Err)
	}
}

func TestFallbackWithoutLastGoodIsEscapedPre(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.md")
	os.WriteFile(path, []byte("<script>alert(1)</script>\n"), 0o644)

	deps := Deps{
		Bus:         signalbus.New(0),
		Checkpoints: checkpoint.NewStore(filepath.Join(dir, ".checkpoints")),
		RenderQueue: renderqueue.New(renderer.NewRegistry(), renderqueue.Options{}),
		Renderers:   renderer.NewRegistry(), // no default adapter: Resolve fails, fallback fires
	}
	s := New("sess-pre-fallback", deps, Options{WorkspaceRoot: dir, HistoryLimit: 5})
	s.Load(LoadOptions{Path: path})

	res := s.Render(RenderOptions{})
	if res.Status != errs.StatusOK {
		t.Fatalf("fallback render should still return ok: %+v", res.Err)
	}
	result := res.Value.(renderer.Result)
	if !contains(result.Preview, "<pre>") || contains(result.Preview, "<script>") {
		t.Errorf("fallback preview = %q, want an HTML-escaped <pre> block", result.Preview)
	}
	if result.Metadata["fallback"] != true || result.Metadata["adapter"] != "fallback" {
		t.Errorf("fallback metadata = %+v, want fallback=true adapter=fallback", result.Metadata)
	}
}
