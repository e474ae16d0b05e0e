// Package delivery posts rendered digests to their destinations: the main
// digest channel, per-team threads, and leadership direct messages.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/crestline-labs/digestd/internal/config"
)

// Common errors.
var ErrNoWebhook = errors.New("delivery webhook url not configured")

// Message is one outbound post.
type Message struct {
	// Target is a channel ID or user ID.
	Target string `json:"target"`

	// ThreadTS threads the post under an earlier one when set.
	ThreadTS string `json:"thread_ts,omitempty"`

	Text string `json:"text"`
}

// Sender delivers one message to one target.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// WebhookSender posts messages to a chat webhook endpoint.
type WebhookSender struct {
	url        string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewWebhookSender creates a sender for the configured webhook.
func NewWebhookSender(cfg config.DeliveryConfig, logger *zap.Logger) (*WebhookSender, error) {
	if cfg.WebhookURL == "" {
		return nil, ErrNoWebhook
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &WebhookSender{
		url:        cfg.WebhookURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}, nil
}

// Send posts one message. Non-2xx responses are errors.
func (w *WebhookSender) Send(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", w.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

var _ Sender = (*WebhookSender)(nil)

// Result reports the outcome of one delivery target.
type Result struct {
	Target string
	Err    error
}

// Router fans a digest run's messages out to their targets. One failed
// target never stops the remaining deliveries.
type Router struct {
	sender Sender
	logger *zap.Logger
}

// NewRouter creates a router over the given sender.
func NewRouter(sender Sender, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{sender: sender, logger: logger}
}

// Deliver sends every message in order and reports per-target results.
// The returned error is non-nil only when every delivery failed.
func (r *Router) Deliver(ctx context.Context, msgs []Message) ([]Result, error) {
	results := make([]Result, 0, len(msgs))
	failed := 0

	for _, msg := range msgs {
		err := r.sender.Send(ctx, msg)
		if err != nil {
			failed++
			r.logger.Error("delivery failed, continuing with remaining targets",
				zap.String("target", msg.Target),
				zap.Error(err),
			)
		}
		results = append(results, Result{Target: msg.Target, Err: err})
	}

	if len(msgs) > 0 && failed == len(msgs) {
		return results, fmt.Errorf("all %d deliveries failed", failed)
	}
	return results, nil
}
