package history

import (
	"fmt"
	"sort"

	"github.com/jidohq/sessiond/internal/document"
)

// ChangeSummary narrates one field-level difference between two document
// revisions: a frontmatter key or the body, with before and after values.
type ChangeSummary struct {
	Field string
	From  any
	To    any
}

// Describe reports the frontmatter and body differences between prev and
// next, in a stable field order (sorted frontmatter keys, then "body").
func Describe(prev, next *document.Document) []ChangeSummary {
	if prev == nil || next == nil {
		return nil
	}

	var out []ChangeSummary
	for _, key := range unionKeysSorted(prev.Frontmatter, next.Frontmatter) {
		before, hadBefore := prev.Frontmatter[key]
		after, hadAfter := next.Frontmatter[key]
		if hadBefore && hadAfter && before == after {
			continue
		}
		out = append(out, ChangeSummary{Field: key, From: before, To: after})
	}

	if prev.Body != next.Body {
		out = append(out, ChangeSummary{Field: "body", From: bodyPreview(prev.Body), To: bodyPreview(next.Body)})
	}
	return out
}

func bodyPreview(body string) string {
	const maxLen = 80
	if len(body) <= maxLen {
		return body
	}
	return body[:maxLen] + "…"
}

func unionKeysSorted(a, b map[string]any) []string {
	seen := map[string]struct{}{}
	var keys []string
	for k := range a {
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	for k := range b {
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func (c ChangeSummary) String() string {
	return fmt.Sprintf("%s: %v -> %v", c.Field, c.From, c.To)
}
