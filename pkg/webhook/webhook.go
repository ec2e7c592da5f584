package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/litehook/litehook/pkg/core"
	llog "github.com/litehook/litehook/pkg/log"
)

// DefaultMaxAttempts is the total number of delivery attempts per batch.
const DefaultMaxAttempts = 5

// RetryDelay is the pause between attempts. No backoff, no jitter: delivery
// is deliberately simple. Tests shorten it.
var RetryDelay = time.Second

// Payload is the body POSTed to the webhook endpoint for one batch of new
// posts.
type Payload struct {
	Channel  core.Channel `json:"channel"`
	NewPosts []core.Post  `json:"new_posts"`
}

// Send POSTs the payload as JSON with the shared secret in the x-secret
// header. Delivery succeeds iff the response status is in [200, 300).
func Send(ctx context.Context, client *http.Client, url, secret string, payload Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-secret", secret)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("posting webhook: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}

// SendWithRetry calls Send up to maxAttempts times, pausing one second
// between attempts. Intermediate failures are logged as warnings; the final
// attempt's error is surfaced. Cancellation aborts the wait between
// attempts.
func SendWithRetry(ctx context.Context, client *http.Client, logger *llog.Logger, url, secret string, payload Payload, maxAttempts int) error {
	for att := 1; att <= maxAttempts; att++ {
		err := Send(ctx, client, url, secret, payload)
		if err == nil {
			return nil
		}
		if att == maxAttempts {
			return fmt.Errorf("webhook failed after %d attempts: %w", maxAttempts, err)
		}
		logger.Warnf("webhook failed (%d/%d): %v", att, maxAttempts, err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(RetryDelay):
		}
	}
	return fmt.Errorf("webhook failed")
}
