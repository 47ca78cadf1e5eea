package bruteforce

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-retryablehttp"
)

// Event describes a block or an attempt against a blocked key.
type Event struct {
	Type         string    `json:"type"`
	Key          string    `json:"key"`
	Attempts     int       `json:"attempts"`
	BlockedUntil time.Time `json:"blocked_until"`
	OccurredAt   time.Time `json:"occurred_at"`
}

const (
	EventBlocked        = "blocked"
	EventBlockedAttempt = "blocked_attempt"
)

// Notifier is told when a key becomes blocked and when a blocked key is
// tried again.
type Notifier interface {
	NotifyBlocked(ctx context.Context, event Event) error
	NotifyBlockedAttempt(ctx context.Context, event Event) error
}

// NopNotifier discards every event.
type NopNotifier struct{}

func (NopNotifier) NotifyBlocked(context.Context, Event) error        { return nil }
func (NopNotifier) NotifyBlockedAttempt(context.Context, Event) error { return nil }

// LogNotifier writes events to a logger.
type LogNotifier struct {
	Logger hclog.Logger
}

func (n LogNotifier) NotifyBlocked(_ context.Context, event Event) error {
	n.Logger.Warn("login key blocked", "key", event.Key, "attempts", event.Attempts, "blocked_until", event.BlockedUntil)
	return nil
}

func (n LogNotifier) NotifyBlockedAttempt(_ context.Context, event Event) error {
	n.Logger.Warn("login attempt on blocked key", "key", event.Key, "blocked_until", event.BlockedUntil)
	return nil
}

// WebhookNotifier posts each event as JSON to a URL.
type WebhookNotifier struct {
	url    string
	client *retryablehttp.Client
}

// NewWebhookNotifier builds a notifier with a retrying HTTP client.
func NewWebhookNotifier(url string, logger hclog.Logger) *WebhookNotifier {
	cl := retryablehttp.NewClient()
	cl.RetryMax = 3
	cl.RetryWaitMin = 500 * time.Millisecond
	cl.RetryWaitMax = 5 * time.Second
	cl.HTTPClient.Timeout = 10 * time.Second
	cl.Logger = logger
	return &WebhookNotifier{url: url, client: cl}
}

func (n *WebhookNotifier) NotifyBlocked(ctx context.Context, event Event) error {
	event.Type = EventBlocked
	return n.post(ctx, event)
}

func (n *WebhookNotifier) NotifyBlockedAttempt(ctx context.Context, event Event) error {
	event.Type = EventBlockedAttempt
	return n.post(ctx, event)
}

func (n *WebhookNotifier) post(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode webhook event: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// MultiNotifier fans events out to every notifier and joins their errors.
type MultiNotifier []Notifier

func (m MultiNotifier) NotifyBlocked(ctx context.Context, event Event) error {
	var errs []error
	for _, n := range m {
		if err := n.NotifyBlocked(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiNotifier) NotifyBlockedAttempt(ctx context.Context, event Event) error {
	var errs []error
	for _, n := range m {
		if err := n.NotifyBlockedAttempt(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
