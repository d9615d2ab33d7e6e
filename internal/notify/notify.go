// Package notify posts build results to external channels. A run finishing
// is the one moment worth interrupting someone for; per-ticket chatter stays
// on the event stream.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/buildloop-io/buildloop/internal/engine"
)

// Notifier sends a message to an external channel.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, message string) error
}

// Webhook posts messages to a Slack-compatible incoming webhook.
type Webhook struct {
	URL      string
	Channel  string // optional override
	Username string // optional

	// Client defaults to a client with a 10s timeout.
	Client *http.Client
}

func (w Webhook) Name() string { return "webhook" }

func (w Webhook) Notify(ctx context.Context, message string) error {
	if w.URL == "" {
		return fmt.Errorf("webhook URL not set")
	}
	payload := map[string]any{"text": message}
	if w.Channel != "" {
		payload["channel"] = w.Channel
	}
	if w.Username != "" {
		payload["username"] = w.Username
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, strings.NewReader(string(body)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	client := w.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}

// FromEnv returns a Webhook configured from BUILDLOOP_WEBHOOK_URL (plus
// optional BUILDLOOP_WEBHOOK_CHANNEL and BUILDLOOP_WEBHOOK_USERNAME), or nil
// if no URL is set.
func FromEnv() Notifier {
	url := os.Getenv("BUILDLOOP_WEBHOOK_URL")
	if url == "" {
		return nil
	}
	return Webhook{
		URL:      url,
		Channel:  os.Getenv("BUILDLOOP_WEBHOOK_CHANNEL"),
		Username: os.Getenv("BUILDLOOP_WEBHOOK_USERNAME"),
	}
}

// BuildSummary renders a BuildComplete event as a one-message build report.
func BuildSummary(bc engine.BuildComplete) string {
	var b strings.Builder
	if bc.FailedCount == 0 {
		fmt.Fprintf(&b, "Build complete: %d/%d tickets succeeded.", bc.SuccessCount, bc.TotalTickets)
	} else {
		fmt.Fprintf(&b, "Build finished with failures: %d succeeded, %d failed of %d.", bc.SuccessCount, bc.FailedCount, bc.TotalTickets)
	}
	fmt.Fprintf(&b, " Tokens: %d. Cost: $%.4f.", bc.TotalTokensUsed.Total(), bc.TotalCost)
	return b.String()
}
