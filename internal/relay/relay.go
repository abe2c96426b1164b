// Package relay moves media between local files, the storage channel and
// users. Uploading to the channel mints reusable handles; forwarding a
// handle resends stored media without transferring bytes again.
package relay

import (
	"context"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"mediarelay/internal/media"
)

// API is the subset of the Bot API the relay uses.
type API interface {
	SendMessage(ctx context.Context, chatID int64, text string) (*tgbotapi.Message, error)
	DeleteMessage(ctx context.Context, chatID, messageID int64) error
	SendVideo(ctx context.Context, chatID int64, video tgbotapi.RequestFileData, caption string) (*tgbotapi.Message, error)
	SendAudio(ctx context.Context, chatID int64, audio tgbotapi.RequestFileData, caption string) (*tgbotapi.Message, error)
}

// Relay sends media through a fixed storage channel.
type Relay struct {
	api     API
	channel int64
}

// New creates a Relay that stores uploads in channelID.
func New(api API, channelID int64) *Relay {
	return &Relay{api: api, channel: channelID}
}

// Upload sends a local file to the storage channel and returns the handle
// Telegram assigned to it.
func (r *Relay) Upload(ctx context.Context, kind media.Kind, path, caption string) (media.Handle, error) {
	m, err := r.send(ctx, kind, r.channel, tgbotapi.FilePath(path), caption)
	if err != nil {
		return "", fmt.Errorf("uploading %s to channel: %w", kind, err)
	}

	h := handleOf(m, kind)
	if h == "" {
		return "", fmt.Errorf("uploading %s to channel: response carries no file_id", kind)
	}
	return h, nil
}

// Forward sends an existing handle to a chat. An error usually means the
// handle is no longer honored by the platform.
func (r *Relay) Forward(ctx context.Context, chatID int64, kind media.Kind, h media.Handle, caption string) error {
	if h == "" {
		return fmt.Errorf("forwarding %s: empty handle", kind)
	}
	if _, err := r.send(ctx, kind, chatID, tgbotapi.FileID(h), caption); err != nil {
		return fmt.Errorf("forwarding %s: %w", kind, err)
	}
	return nil
}

// Notify sends a text message and returns its ID, or 0 when sending failed.
// Failures are logged and never returned.
func (r *Relay) Notify(ctx context.Context, chatID int64, text string) int64 {
	m, err := r.api.SendMessage(ctx, chatID, text)
	if err != nil {
		slog.Warn("notification failed", slog.Int64("chat_id", chatID), slog.Any("error", err))
		return 0
	}
	return int64(m.MessageID)
}

// Retract deletes a previously sent notice. Failures are logged and ignored.
func (r *Relay) Retract(ctx context.Context, chatID, messageID int64) {
	if messageID == 0 {
		return
	}
	if err := r.api.DeleteMessage(ctx, chatID, messageID); err != nil {
		slog.Debug("deleting notice failed", slog.Int64("chat_id", chatID), slog.Any("error", err))
	}
}

func (r *Relay) send(ctx context.Context, kind media.Kind, chatID int64, in tgbotapi.RequestFileData, caption string) (*tgbotapi.Message, error) {
	switch kind {
	case media.Video:
		return r.api.SendVideo(ctx, chatID, in, caption)
	case media.Audio:
		return r.api.SendAudio(ctx, chatID, in, caption)
	default:
		return nil, fmt.Errorf("unsupported media kind %s", kind)
	}
}

// handleOf picks the file_id out of a sent message. Telegram may store an
// upload as a document when it cannot treat it as video or audio.
func handleOf(m *tgbotapi.Message, kind media.Kind) media.Handle {
	switch {
	case m == nil:
		return ""
	case kind == media.Video && m.Video != nil:
		return media.Handle(m.Video.FileID)
	case kind == media.Audio && m.Audio != nil:
		return media.Handle(m.Audio.FileID)
	case m.Document != nil:
		return media.Handle(m.Document.FileID)
	}
	return ""
}
