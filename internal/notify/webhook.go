package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// WebhookSender posts push notifications as JSON to a relay URL.
type WebhookSender struct {
	url    string
	client *http.Client
}

func NewWebhookSender(url string) *WebhookSender {
	return &WebhookSender{
		url: url,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type webhookPayload struct {
	UserID   string         `json:"user_id"`
	Title    string         `json:"title"`
	Body     string         `json:"body"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (w *WebhookSender) Send(ctx context.Context, msg Message) (DeliveryResult, error) {
	body, err := json.Marshal(webhookPayload{
		UserID:   msg.UserID,
		Title:    msg.Title,
		Body:     msg.Body,
		Metadata: msg.Metadata,
	})
	if err != nil {
		return DeliveryResult{}, fmt.Errorf("webhook: failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return DeliveryResult{}, fmt.Errorf("webhook: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return DeliveryResult{}, fmt.Errorf("webhook: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return DeliveryResult{}, fmt.Errorf("webhook: status %d: %s", resp.StatusCode, string(respBody))
	}
	return DeliveryResult{Status: StatusSent, Channel: ChannelPush}, nil
}
