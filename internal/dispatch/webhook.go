package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/roach88/parkflow/internal/carpark"
)

// WebhookSink posts each event as a self-describing row to an HTTP endpoint,
// e.g. a search or analytics ingest API. The receiver deduplicates on the
// key headers.
type WebhookSink struct {
	URL    string
	Client *http.Client
}

// NewWebhookSink creates a sink posting to url.
func NewWebhookSink(url string, timeout time.Duration) *WebhookSink {
	return &WebhookSink{URL: url, Client: &http.Client{Timeout: timeout}}
}

// Name implements Deliverer.
func (w *WebhookSink) Name() string {
	return "webhook"
}

// Deliver implements Deliverer.
func (w *WebhookSink) Deliver(ctx context.Context, ev carpark.Event) error {
	body, err := json.Marshal(carpark.EventRow(ev))
	if err != nil {
		return fmt.Errorf("encode row: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Parkflow-Key", ev.Name)
	req.Header.Set("X-Parkflow-Offset", strconv.FormatInt(ev.Offset, 10))

	resp, err := w.Client.Do(req)
	if err != nil {
		return fmt.Errorf("post row: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return nil
}
