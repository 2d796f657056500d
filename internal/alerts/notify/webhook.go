package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

type webhookPayload struct {
	Text      string    `json:"text"`
	ParseMode string    `json:"parseMode"`
	SentAt    time.Time `json:"sentAt"`
}

// WebhookChannel posts notifications to a generic JSON webhook.
type WebhookChannel struct {
	url    string
	client *http.Client
	now    func() time.Time
}

// WebhookOption configures the webhook channel.
type WebhookOption func(*WebhookChannel)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) WebhookOption {
	return func(ch *WebhookChannel) {
		if client != nil {
			ch.client = client
		}
	}
}

// NewWebhookChannel constructs a webhook channel.
func NewWebhookChannel(url string, opts ...WebhookOption) (*WebhookChannel, error) {
	if url == "" {
		return nil, errors.New("webhook channel: empty url")
	}
	channel := &WebhookChannel{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(channel)
	}
	return channel, nil
}

// Send posts the rendered alert.
func (w *WebhookChannel) Send(ctx context.Context, content string) error {
	if w == nil || w.url == "" {
		return ErrNotConfigured
	}
	body, err := json.Marshal(webhookPayload{Text: content, ParseMode: "HTML", SentAt: w.now()})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		return &SendError{Channel: "webhook", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return &SendError{Channel: "webhook", StatusCode: resp.StatusCode, Err: fmt.Errorf("non-2xx response")}
	}
	return nil
}
