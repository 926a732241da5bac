// Package render drains the PDF render queue. Report generation enqueues
// jobs and moves on; this package owns retries and the hand-off to the
// rendering service.
package render

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/parcelworks/cma-engine/internal/model"
)

// Renderer hands one completed report to a rendering backend.
type Renderer interface {
	Render(ctx context.Context, report *model.MarketReport) error
}

// WebhookRenderer posts the report JSON to an external rendering service.
type WebhookRenderer struct {
	url    string
	client *http.Client
}

// NewWebhookRenderer creates a renderer targeting the given webhook URL.
func NewWebhookRenderer(url string) *WebhookRenderer {
	return &WebhookRenderer{
		url:    url,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (r *WebhookRenderer) Render(ctx context.Context, report *model.MarketReport) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return eris.Wrap(err, "render: marshal report")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "render: build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "render: post report")
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body) //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return eris.New(fmt.Sprintf("render: webhook returned %d", resp.StatusCode))
	}
	return nil
}
