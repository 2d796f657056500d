package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultTelegramURL = "https://api.telegram.org"

type telegramMessage struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// TelegramChannel sends HTML messages through the Telegram bot API.
type TelegramChannel struct {
	token   string
	chatID  string
	baseURL string
	client  *http.Client
}

// TelegramOption configures the Telegram channel.
type TelegramOption func(*TelegramChannel)

// WithTelegramURL overrides the bot API base URL.
func WithTelegramURL(base string) TelegramOption {
	return func(ch *TelegramChannel) {
		if base != "" {
			ch.baseURL = strings.TrimRight(base, "/")
		}
	}
}

// WithTelegramClient overrides the HTTP client.
func WithTelegramClient(client *http.Client) TelegramOption {
	return func(ch *TelegramChannel) {
		if client != nil {
			ch.client = client
		}
	}
}

// NewTelegramChannel constructs a Telegram channel. Missing credentials are
// not an error; Send reports ErrNotConfigured instead.
func NewTelegramChannel(token, chatID string, opts ...TelegramOption) *TelegramChannel {
	channel := &TelegramChannel{
		token:   token,
		chatID:  chatID,
		baseURL: defaultTelegramURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(channel)
	}
	return channel
}

// Configured reports whether a token and chat id are set.
func (t *TelegramChannel) Configured() bool {
	return t != nil && t.token != "" && t.chatID != ""
}

// Send posts content with HTML parse mode.
func (t *TelegramChannel) Send(ctx context.Context, content string) error {
	if !t.Configured() {
		return ErrNotConfigured
	}
	body, err := json.Marshal(telegramMessage{
		ChatID:                t.chatID,
		Text:                  content,
		ParseMode:             "HTML",
		DisableWebPagePreview: true,
	})
	if err != nil {
		return err
	}
	endpoint := t.baseURL + "/bot" + t.token + "/sendMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return &SendError{Channel: "telegram", Err: errors.New("build request failed")}
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.client.Do(req)
	if err != nil {
		// The request URL carries the bot token; keep it out of errors.
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return &SendError{Channel: "telegram", Err: err}
	}
	defer resp.Body.Close()

	var result telegramResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&result)
	if resp.StatusCode >= 300 || decodeErr != nil || !result.OK {
		reason := result.Description
		if reason == "" {
			reason = "unexpected response"
		}
		return &SendError{Channel: "telegram", StatusCode: resp.StatusCode, Err: errors.New(reason)}
	}
	return nil
}
