package document

import (
	"testing"

	"github.com/jidohq/sessiond/internal/frontmatter"
)

func TestParse(t *testing.T) {
	doc, err := Parse("/ws/a.md", []byte("---\ntitle: \"A\"\n---\nBody0\n"), ParseOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.Body != "Body0\n" {
		t.Errorf("body = %q", doc.Body)
	}
	if doc.Frontmatter["title"] != "A" {
		t.Errorf("title = %v", doc.Frontmatter["title"])
	}
	if doc.Dirty {
		t.Errorf("freshly parsed document must not be dirty")
	}
	if doc.Revision != 0 {
		t.Errorf("revision = %d, want 0", doc.Revision)
	}
}

func TestUpdateBodyBumpsRevisionOnlyOnChange(t *testing.T) {
	doc, err := Parse("/ws/a.md", []byte("---\ntitle: \"A\"\n---\nBody0\n"), ParseOptions{})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	same, err := UpdateBody(doc, "Body0\n", NormalizeOptions{})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if same.Revision != 0 || same.Dirty {
		t.Errorf("no-op update must not bump revision/dirty: rev=%d dirty=%v", same.Revision, same.Dirty)
	}

	changed, err := UpdateBody(doc, "Body1\n", NormalizeOptions{})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if changed.Revision != 1 || !changed.Dirty {
		t.Errorf("effective update must bump revision to 1 and set dirty: rev=%d dirty=%v", changed.Revision, changed.Dirty)
	}
}

func TestMarkCleanPreservesRevision(t *testing.T) {
	doc, _ := Parse("/ws/a.md", []byte("Body\n"), ParseOptions{})
	changed, err := UpdateBody(doc, "Body2\n", NormalizeOptions{})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	rev := changed.Revision
	changed.MarkClean()
	if changed.Revision != rev {
		t.Errorf("mark_clean must preserve revision: got %d, want %d", changed.Revision, rev)
	}
	if changed.Dirty {
		t.Errorf("mark_clean must clear dirty")
	}
}

func TestUpdateFrontmatterMergeVsReplace(t *testing.T) {
	doc, _ := Parse("/ws/a.md", []byte("---\na: \"1\"\nb: \"2\"\n---\nBody\n"), ParseOptions{})

	merged, err := UpdateFrontmatter(doc, map[string]any{"c": "3"}, Merge)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if merged.Frontmatter["a"] != "1" || merged.Frontmatter["c"] != "3" {
		t.Errorf("merge must keep existing and add new keys: %+v", merged.Frontmatter)
	}

	replaced, err := UpdateFrontmatter(doc, map[string]any{"c": "3"}, Replace)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, ok := replaced.Frontmatter["a"]; ok {
		t.Errorf("replace must drop prior keys, still has 'a': %+v", replaced.Frontmatter)
	}
}

func TestSerializeRoundtripInvariant(t *testing.T) {
	doc, err := Parse("/ws/a.md", []byte("---\ntitle: \"A\"\n---\nBody0\n"), ParseOptions{})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	out, serr := doc.Serialize(frontmatter.SerializeOptions{})
	if serr != nil {
		t.Fatalf("serialize: %v", serr)
	}
	reparsed, perr := Parse("/ws/a.md", []byte(out), ParseOptions{})
	if perr != nil {
		t.Fatalf("reparse: %v", perr)
	}
	if reparsed.Body != doc.Body || reparsed.Frontmatter["title"] != doc.Frontmatter["title"] {
		t.Errorf("parse(serialize(doc)) must equal canonicalize(doc): got %+v", reparsed)
	}
}

func TestApplyBodyPatchSearchReplace(t *testing.T) {
	doc, _ := Parse("/ws/a.md", []byte("Hello World World\n"), ParseOptions{})

	single, err := ApplyBodyPatch(doc, BodyPatch{Search: "World", Replace: "Go"}, NormalizeOptions{})
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	if single.Body != "Hello Go World\n" {
		t.Errorf("single replace = %q", single.Body)
	}

	global, err := ApplyBodyPatch(doc, BodyPatch{Search: "World", Replace: "Go", Global: true}, NormalizeOptions{})
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	if global.Body != "Hello Go Go\n" {
		t.Errorf("global replace = %q", global.Body)
	}
}
