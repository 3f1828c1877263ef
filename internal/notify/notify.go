// Package notify delivers review notifications. Dispatch is fire-and-forget:
// the engine calls it only after a transition has committed, and a delivery
// failure is logged by the caller, never surfaced to the reviewer.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Notification event names.
const (
	EventStepReady     = "step_ready"
	EventItemApproved  = "item_approved"
	EventItemRejected  = "item_rejected"
	EventItemRestarted = "item_restarted"
)

// Dispatcher sends an event to a set of users.
type Dispatcher interface {
	Notify(ctx context.Context, userIDs []string, event string, payload map[string]any) error
}

// LogDispatcher writes notifications to the log. Default for deployments
// without a delivery backend.
type LogDispatcher struct {
	logger *zap.Logger
}

// NewLogDispatcher creates a Dispatcher that logs every notification.
func NewLogDispatcher(logger *zap.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger}
}

// Notify logs the notification at info level.
func (d *LogDispatcher) Notify(_ context.Context, userIDs []string, event string, payload map[string]any) error {
	d.logger.Info("notification",
		zap.String("event", event),
		zap.Strings("user_ids", userIDs),
		zap.Any("payload", payload),
	)
	return nil
}

// WebhookDispatcher POSTs notifications to an external delivery service.
type WebhookDispatcher struct {
	url        string
	httpClient *http.Client
}

// NewWebhookDispatcher creates a Dispatcher that posts to url with the given
// per-request timeout.
func NewWebhookDispatcher(url string, timeout time.Duration) *WebhookDispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookDispatcher{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type webhookBody struct {
	UserIDs []string       `json:"user_ids"`
	Event   string         `json:"event"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Notify posts the notification as JSON. Any non-2xx response is an error so
// the caller can log the failed delivery.
func (d *WebhookDispatcher) Notify(ctx context.Context, userIDs []string, event string, payload map[string]any) error {
	body, err := json.Marshal(webhookBody{UserIDs: userIDs, Event: event, Payload: payload})
	if err != nil {
		return fmt.Errorf("notify: marshal body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notify: post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notify: delivery service returned status %d", resp.StatusCode)
	}
	return nil
}
