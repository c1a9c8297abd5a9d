// Package webhook delivers job completion callbacks. Delivery is
// at-most-once: a single POST per job, no retries, and failures are
// logged rather than surfaced to the job lifecycle.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

type Notifier struct {
	client *http.Client
}

func NewNotifier(timeoutSeconds int) *Notifier {
	if timeoutSeconds <= 0 {
		timeoutSeconds = 30
	}
	return &Notifier{
		client: &http.Client{Timeout: time.Duration(timeoutSeconds) * time.Second},
	}
}

// Notify POSTs payload as JSON to url. It never reports failure to the
// caller; the job outcome is already final by the time this runs.
func (n *Notifier) Notify(ctx context.Context, url string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		slog.Error("webhook payload marshal failed", "url", url, "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		slog.Error("webhook request creation failed", "url", url, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "docmill-webhook/1.0")

	resp, err := n.client.Do(req)
	if err != nil {
		slog.Warn("webhook delivery failed", "url", url, "error", err)
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		slog.Warn("webhook rejected", "url", url, "status", resp.StatusCode)
		return
	}
	slog.Info("webhook delivered", "url", url, "status", resp.StatusCode)
}

// ValidateURL rejects callback URLs that are not plain http or https.
func ValidateURL(url string) error {
	if len(url) >= 8 && url[:8] == "https://" {
		return nil
	}
	if len(url) >= 7 && url[:7] == "http://" {
		return nil
	}
	return fmt.Errorf("callback URL must start with http:// or https://")
}
