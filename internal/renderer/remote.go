package renderer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jidohq/sessiond/internal/errs"
)

// RemoteAdapter delegates rendering to an out-of-process HTTP renderer
// via a JSON POST against a configured endpoint.
type RemoteAdapter struct {
	endpoint   string
	httpClient *http.Client
}

// NewRemoteAdapter returns an adapter posting to endpoint with the given
// request timeout (defaulting to 5s, matching the renderer's default
// synchronous timeout from the concurrency model).
func NewRemoteAdapter(endpoint string, timeout time.Duration) *RemoteAdapter {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RemoteAdapter{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (*RemoteAdapter) Name() string { return "remote" }

type remoteRequest struct {
	Markdown string `json:"markdown"`
	Theme    string `json:"theme,omitempty"`
}

type remoteResponse struct {
	HTML string `json:"html"`
}

func (r *RemoteAdapter) Render(ctx context.Context, markdown string, opts Options) (Result, error) {
	body, err := json.Marshal(remoteRequest{Markdown: markdown, Theme: opts.Theme})
	if err != nil {
		return Result{}, errs.Wrap(errs.Internal, "failed to encode remote render request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, errs.Wrap(errs.RenderFailed, "failed to build remote render request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return Result{}, errs.Wrap(errs.RenderFailed, "remote renderer unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{}, errs.New(errs.RenderFailed, fmt.Sprintf("remote renderer returned status %d", resp.StatusCode))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, errs.Wrap(errs.RenderFailed, "failed to read remote render response", err)
	}

	var out remoteResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return Result{}, errs.Wrap(errs.RenderFailed, "failed to decode remote render response", err)
	}

	return Result{
		Preview:  out.HTML,
		Metadata: map[string]any{"adapter": "remote", "endpoint": r.endpoint},
	}, nil
}
