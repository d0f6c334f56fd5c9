package outbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ultransit/collector/go/internal/events"
)

// Deliverer sends one event notification to one webhook endpoint
type Deliverer interface {
	Deliver(ctx context.Context, callbackURL string, notification events.Notification) error
}

// WebhookDeliverer POSTs JSON notifications to subscriber callback URLs.
// Any 2xx response counts as delivered; everything else is a failure.
type WebhookDeliverer struct {
	client *http.Client
}

// NewWebhookDeliverer creates a deliverer with the given per-request timeout
func NewWebhookDeliverer(timeout time.Duration) *WebhookDeliverer {
	return &WebhookDeliverer{
		client: &http.Client{Timeout: timeout},
	}
}

// Deliver performs a single POST attempt. There is no retry here: the
// reconciler's pass-level semantics own all retry behavior.
func (d *WebhookDeliverer) Deliver(ctx context.Context, callbackURL string, notification events.Notification) error {
	body, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, callbackURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}
