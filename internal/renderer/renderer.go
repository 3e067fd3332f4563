// Package renderer defines the pluggable markdown-to-preview adapter
// contract plus the default goldmark-backed implementation, the
// HTML-escaped deterministic fallback, and an optional HTTP-based remote
// adapter. Adapters are selected by configuration at runtime; the
// fallback is always available regardless of what else is registered.
package renderer

import (
	"context"
	"html"
	"strings"

	"github.com/jidohq/sessiond/internal/errs"
)

// Options carries per-call render configuration.
type Options struct {
	Adapter string
	Theme   string
}

// Result is what an Adapter produces for one render invocation.
type Result struct {
	Preview  string
	Metadata map[string]any
}

// Adapter converts markdown into a preview. Errors are absorbed by the
// session's fallback path (the render queue passes them through in
// Outcome.Err), never surfaced raw to the session caller.
type Adapter interface {
	Name() string
	Render(ctx context.Context, markdown string, opts Options) (Result, error)
}

// Registry resolves adapter names to Adapter implementations. Resolve
// returns an error for an unknown name rather than substituting
// FallbackAdapter; the fallback is reached through Fallback(). A
// Registry from NewRegistry always holds the fallback; the zero Registry
// holds no adapters and its Fallback() is nil.
type Registry struct {
	adapters map[string]Adapter
	fallback Adapter
}

// NewRegistry returns a Registry seeded with the given adapters; the
// fallback is always registered under "fallback" regardless of what the
// caller supplies.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: map[string]Adapter{}, fallback: FallbackAdapter{}}
	r.adapters["fallback"] = r.fallback
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	return r
}

// Resolve looks up name, returning an error when it names an unknown
// adapter — callers use this distinctly from an adapter's own Render
// failure, both of which the session treats as fallback triggers.
func (r *Registry) Resolve(name string) (Adapter, *errs.Error) {
	if name == "" {
		name = "default"
	}
	a, ok := r.adapters[name]
	if !ok {
		return nil, errs.New(errs.RenderFailed, "unknown renderer adapter").WithDetails(map[string]any{"adapter": name})
	}
	return a, nil
}

// Fallback returns the always-available deterministic fallback adapter.
func (r *Registry) Fallback() Adapter {
	return r.fallback
}

// FallbackAdapter escapes the body into a <pre> block; it never fails.
type FallbackAdapter struct{}

func (FallbackAdapter) Name() string { return "fallback" }

func (FallbackAdapter) Render(_ context.Context, markdown string, _ Options) (Result, error) {
	escaped := html.EscapeString(markdown)
	var b strings.Builder
	b.WriteString("<pre>")
	b.WriteString(escaped)
	b.WriteString("</pre>")
	return Result{
		Preview: b.String(),
		Metadata: map[string]any{
			"adapter":  "fallback",
			"fallback": true,
		},
	}, nil
}

// AugmentWithDiagnostic produces a fallback preview seeded from the last
// known-good preview, annotated with a diagnostic note.
func AugmentWithDiagnostic(lastGoodPreview string, reason string) Result {
	var b strings.Builder
	b.WriteString(lastGoodPreview)
	b.WriteString("\n<!-- fallback: ")
	b.WriteString(html.EscapeString(reason))
	b.WriteString(" -->")
	return Result{
		Preview: b.String(),
		Metadata: map[string]any{
			"adapter":  "fallback",
			"fallback": true,
			"reason":   reason,
		},
	}
}
