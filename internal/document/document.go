// Package document owns the Document value type and its revision/dirty
// tracked mutation operations: a syntax-agnostic frontmatter+body model
// shared by every session.
package document

import (
	"strings"

	"github.com/jidohq/sessiond/internal/errs"
	"github.com/jidohq/sessiond/internal/frontmatter"
)

// Mode selects how UpdateFrontmatter combines existing and incoming keys.
type Mode string

const (
	Merge   Mode = "merge"
	Replace Mode = "replace"
)

// Document is the in-memory representation of one markdown file.
type Document struct {
	Path        string // empty means unattached (blank/new document)
	Frontmatter map[string]any
	Body        string
	Raw         string
	Schema      string
	Dirty       bool
	Revision    uint64
}

// ParseOptions governs Parse.
type ParseOptions struct {
	Syntax      frontmatter.Syntax
	UseFallback bool
}

// Parse splits raw content into a Document at revision 0, not dirty.
func Parse(path string, raw []byte, opts ParseOptions) (*Document, *errs.Error) {
	text := string(raw)
	syntax, content, body, found, err := frontmatter.Split(text)
	if err != nil {
		return nil, err
	}

	fm := map[string]any{}
	if found {
		fm, err = frontmatter.Decode(syntax, content, frontmatter.ParseOptions{
			UseFallback: opts.UseFallback,
		})
		if err != nil {
			return nil, err
		}
	} else if opts.Syntax != frontmatter.Unknown {
		syntax = opts.Syntax
	}

	return &Document{
		Path:        path,
		Frontmatter: fm,
		Body:        body,
		Raw:         text,
		Schema:      string(syntax),
		Dirty:       false,
		Revision:    0,
	}, nil
}

// Blank returns a new, empty, revision-0 document attached to path.
func Blank(path string) *Document {
	return &Document{
		Path:        path,
		Frontmatter: map[string]any{},
		Body:        "",
		Revision:    0,
	}
}

// Clone deep-copies the frontmatter map so mutations to the returned
// document never alias the receiver.
func (d *Document) Clone() *Document {
	fm := make(map[string]any, len(d.Frontmatter))
	for k, v := range d.Frontmatter {
		fm[k] = v
	}
	clone := *d
	clone.Frontmatter = fm
	return &clone
}

// MarkClean preserves Revision but clears Dirty.
func (d *Document) MarkClean() {
	d.Dirty = false
}

// Serialize renders the document back into complete markdown text.
func (d *Document) Serialize(opts frontmatter.SerializeOptions) (string, *errs.Error) {
	if opts.Syntax == frontmatter.Unknown {
		opts.Syntax = syntaxOf(d.Schema)
	}
	return frontmatter.Serialize(d.Frontmatter, d.Body, opts)
}

func syntaxOf(schema string) frontmatter.Syntax {
	switch frontmatter.Syntax(schema) {
	case frontmatter.TOML:
		return frontmatter.TOML
	default:
		return frontmatter.YAML
	}
}

// canonicalForm is the bytewise comparison basis used to decide whether a
// mutation is an effective change, per the revision/dirty contract.
func canonicalForm(d *Document) (string, *errs.Error) {
	return d.Serialize(frontmatter.SerializeOptions{
		Syntax:             syntaxOf(d.Schema),
		TrailingWhitespace: frontmatter.TrailingWhitespaceTrim,
	})
}

// UpdateFrontmatter merges or replaces the frontmatter map and bumps
// Revision/Dirty only if the canonicalized result actually differs.
func UpdateFrontmatter(doc *Document, changes map[string]any, mode Mode) (*Document, *errs.Error) {
	before, err := canonicalForm(doc)
	if err != nil {
		return nil, err
	}

	next := doc.Clone()
	switch mode {
	case Replace:
		next.Frontmatter = map[string]any{}
		for k, v := range changes {
			next.Frontmatter[k] = v
		}
	default: // Merge
		for k, v := range changes {
			next.Frontmatter[k] = v
		}
	}

	after, err := canonicalForm(next)
	if err != nil {
		return nil, err
	}
	if after != before {
		next.Revision = doc.Revision + 1
		next.Dirty = true
	}
	return next, nil
}

// NormalizeOptions governs UpdateBody's canonicalization pass.
type NormalizeOptions struct {
	LineEndings        frontmatter.LineEndings
	TrailingWhitespace frontmatter.TrailingWhitespace
}

// UpdateBody replaces the body text, canonicalizing per opts, bumping
// Revision/Dirty only on an effective change.
func UpdateBody(doc *Document, body string, opts NormalizeOptions) (*Document, *errs.Error) {
	before, err := canonicalForm(doc)
	if err != nil {
		return nil, err
	}

	next := doc.Clone()
	next.Body = normalizeBody(body, opts)

	after, err := canonicalForm(next)
	if err != nil {
		return nil, err
	}
	if after != before {
		next.Revision = doc.Revision + 1
		next.Dirty = true
	}
	return next, nil
}

func normalizeBody(body string, opts NormalizeOptions) string {
	if opts.LineEndings == frontmatter.LineEndingsLF {
		body = strings.ReplaceAll(body, "\r\n", "\n")
	}
	if opts.TrailingWhitespace == frontmatter.TrailingWhitespaceTrim {
		lines := strings.Split(body, "\n")
		for i, l := range lines {
			lines[i] = strings.TrimRight(l, " \t")
		}
		body = strings.Join(lines, "\n")
	}
	return body
}

// BodyPatch is one of: a full replacement string, a transform function, or
// a search/replace pair (optionally global).
type BodyPatch struct {
	Full      *string
	Transform func(string) string
	Search    string
	Replace   string
	Global    bool
}

// ApplyBodyPatch resolves patch against the current body and delegates to
// UpdateBody for the revision/dirty bookkeeping.
func ApplyBodyPatch(doc *Document, patch BodyPatch, opts NormalizeOptions) (*Document, *errs.Error) {
	switch {
	case patch.Full != nil:
		return UpdateBody(doc, *patch.Full, opts)
	case patch.Transform != nil:
		return UpdateBody(doc, patch.Transform(doc.Body), opts)
	case patch.Search != "":
		var next string
		if patch.Global {
			next = strings.ReplaceAll(doc.Body, patch.Search, patch.Replace)
		} else {
			next = strings.Replace(doc.Body, patch.Search, patch.Replace, 1)
		}
		return UpdateBody(doc, next, opts)
	default:
		return nil, errs.New(errs.InvalidParams, "body patch must set full, transform, or search")
	}
}
