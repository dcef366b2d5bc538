package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// WebhookNotifier posts Notifications as JSON to a fixed URL, throttled by a
// process-local token bucket so a burst of run completions never floods the
// receiving endpoint. The limiter (golang.org/x/time/rate wrapped in a small
// struct) uses a fixed rate since this sink has no provider backoff signal
// to adapt to.
type WebhookNotifier struct {
	URL     string
	Client  *http.Client
	limiter *rate.Limiter
}

// NewWebhookNotifier returns a WebhookNotifier posting to url, allowing at
// most ratePerSecond deliveries per second with a burst of the same size.
func NewWebhookNotifier(url string, ratePerSecond float64) *WebhookNotifier {
	if ratePerSecond <= 0 {
		ratePerSecond = 5
	}
	return &WebhookNotifier{
		URL:     url,
		Client:  &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), int(ratePerSecond)),
	}
}

// Notify implements Notifier. It waits for limiter capacity, then POSTs n as
// JSON. Per the Notifier contract, a non-nil return is logged by the
// caller, never treated as a run failure.
func (w *WebhookNotifier) Notify(ctx context.Context, n Notification) error {
	if err := w.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.Client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
