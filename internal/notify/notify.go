// Package notify provides workflow.Notifier implementations. Delivery is
// best-effort by contract; callers log and swallow failures.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/em1l4k/docflow/internal/logging"
)

// LogNotifier writes notifications to the application log. Used in
// development and as a fallback when no push channel is configured.
type LogNotifier struct {
	logger *logging.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *logging.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs the message.
func (n *LogNotifier) Notify(ctx context.Context, identity, message string) error {
	n.logger.Info("notification", "recipient", identity, "message", message)
	return nil
}

// WebhookNotifier posts notifications as JSON to an external delivery
// endpoint, one request per message.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier creates a WebhookNotifier targeting url.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{url: url, client: http.DefaultClient}
}

// Notify delivers one message.
func (n *WebhookNotifier) Notify(ctx context.Context, identity, message string) error {
	body, err := json.Marshal(map[string]string{
		"recipient": identity,
		"message":   message,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("notification endpoint returned status %d", resp.StatusCode)
	}
	return nil
}
