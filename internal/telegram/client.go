// Package telegram wraps the Bot API client with context-aware calls for the
// relay and the dispatcher: long polling, text messages, video/audio by
// upload or file_id, and message deletion.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// DefaultBaseURL is the public Bot API endpoint.
const DefaultBaseURL = "https://api.telegram.org"

// Client calls the Bot API with a single bot token.
type Client struct {
	api   *tgbotapi.BotAPI
	token string
}

// NewClient connects to the Bot API at baseURL and fetches the bot's own
// identity. A nil httpClient uses a client without a global timeout.
func NewClient(ctx context.Context, httpClient *http.Client, baseURL, token string) (*Client, error) {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	endpoint := strings.TrimRight(baseURL, "/") + "/bot%s/%s"

	c := &Client{token: token}
	api, err := call(ctx, c, func() (*tgbotapi.BotAPI, error) {
		return tgbotapi.NewBotAPIWithClient(token, endpoint, httpClient)
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to bot api: %w", err)
	}
	c.api = api
	return c, nil
}

// Username returns the bot's username as reported at connect time.
func (c *Client) Username() string {
	return c.api.Self.UserName
}

// DeleteWebhook switches the bot to long polling, optionally discarding queued updates.
func (c *Client) DeleteWebhook(ctx context.Context, dropPending bool) error {
	_, err := call(ctx, c, func() (*tgbotapi.APIResponse, error) {
		return c.api.Request(tgbotapi.DeleteWebhookConfig{DropPendingUpdates: dropPending})
	})
	return err
}

// GetUpdates long-polls for message updates with IDs >= offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]tgbotapi.Update, error) {
	cfg := tgbotapi.NewUpdate(int(offset))
	cfg.Timeout = max(int(timeout.Seconds()), 0)
	cfg.AllowedUpdates = []string{"message"}

	return call(ctx, c, func() ([]tgbotapi.Update, error) {
		return c.api.GetUpdates(cfg)
	})
}

// SendMessage sends plain text to a chat.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) (*tgbotapi.Message, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	return c.send(ctx, msg)
}

// DeleteMessage removes a message from a chat.
func (c *Client) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	_, err := call(ctx, c, func() (*tgbotapi.APIResponse, error) {
		return c.api.Request(tgbotapi.NewDeleteMessage(chatID, int(messageID)))
	})
	return err
}

// SendVideo sends a video by file_id (tgbotapi.FileID) or by uploading a
// local file (tgbotapi.FilePath).
func (c *Client) SendVideo(ctx context.Context, chatID int64, video tgbotapi.RequestFileData, caption string) (*tgbotapi.Message, error) {
	v := tgbotapi.NewVideo(chatID, video)
	v.Caption = caption
	v.SupportsStreaming = true
	return c.send(ctx, v)
}

// SendAudio sends an audio track by file_id or by uploading a local file.
func (c *Client) SendAudio(ctx context.Context, chatID int64, audio tgbotapi.RequestFileData, caption string) (*tgbotapi.Message, error) {
	a := tgbotapi.NewAudio(chatID, audio)
	a.Caption = caption
	return c.send(ctx, a)
}

func (c *Client) send(ctx context.Context, msg tgbotapi.Chattable) (*tgbotapi.Message, error) {
	m, err := call(ctx, c, func() (tgbotapi.Message, error) {
		return c.api.Send(msg)
	})
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// call runs a library request and returns early when ctx ends. The library
// has no context support, so an abandoned request finishes in the background.
func call[T any](ctx context.Context, c *Client, fn func() (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{v, err}
	}()

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return zero, c.redact(r.err)
		}
		return r.v, nil
	}
}

// redact strips the bot token from transport errors, which embed the
// request URL. API errors (*tgbotapi.Error) never carry it and pass through.
func (c *Client) redact(err error) error {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) || c.token == "" || !strings.Contains(err.Error(), c.token) {
		return err
	}
	return errors.New(strings.ReplaceAll(err.Error(), c.token, "<token>"))
}
