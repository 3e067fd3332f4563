package renderer

import (
	"bytes"
	"context"

	"github.com/yuin/goldmark"

	"github.com/jidohq/sessiond/internal/errs"
)

// GoldmarkAdapter is the default markdown renderer, converting markdown
// to HTML with github.com/yuin/goldmark.
type GoldmarkAdapter struct {
	md goldmark.Markdown
}

// NewGoldmarkAdapter returns a ready-to-use adapter with goldmark's
// default extension set.
func NewGoldmarkAdapter() *GoldmarkAdapter {
	return &GoldmarkAdapter{md: goldmark.New()}
}

func (*GoldmarkAdapter) Name() string { return "default" }

func (g *GoldmarkAdapter) Render(_ context.Context, markdown string, opts Options) (Result, error) {
	var buf bytes.Buffer
	if err := g.md.Convert([]byte(markdown), &buf); err != nil {
		return Result{}, errs.Wrap(errs.RenderFailed, "goldmark conversion failed", err)
	}
	return Result{
		Preview: buf.String(),
		Metadata: map[string]any{
			"adapter": "default",
			"theme":   opts.Theme,
		},
	}, nil
}
