package bot

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Poller is the subset of the Bot API the dispatcher uses.
type Poller interface {
	DeleteWebhook(ctx context.Context, dropPending bool) error
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]tgbotapi.Update, error)
}

const (
	minBackoff = time.Second
	maxBackoff = time.Minute
)

// Bot long-polls for updates and runs one pipeline per message.
type Bot struct {
	api         Poller
	pipeline    *Pipeline
	pollTimeout time.Duration
	retryBase   time.Duration
	wg          sync.WaitGroup
}

// New creates a Bot. pollTimeout is the long-poll wait per request.
func New(api Poller, pipeline *Pipeline, pollTimeout time.Duration) *Bot {
	return &Bot{api: api, pipeline: pipeline, pollTimeout: pollTimeout, retryBase: minBackoff}
}

// Run clears any webhook, dropping pending updates, then polls until ctx is
// cancelled. It returns after every in-flight message has been handled.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.api.DeleteWebhook(ctx, true); err != nil {
		return fmt.Errorf("clearing webhook: %w", err)
	}
	slog.Info("polling for updates")

	var offset int64
	backoff := b.retryBase
	for ctx.Err() == nil {
		updates, err := b.api.GetUpdates(ctx, offset, b.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			slog.Warn("polling failed", slog.Any("error", err), slog.Duration("retry_in", backoff))
			if !sleep(ctx, backoff) {
				break
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = b.retryBase

		for _, u := range updates {
			if id := int64(u.UpdateID); id >= offset {
				offset = id + 1
			}
			b.dispatch(ctx, u)
		}
	}

	slog.Info("shutting down, waiting for in-flight requests")
	b.wg.Wait()
	return nil
}

func (b *Bot) dispatch(ctx context.Context, u tgbotapi.Update) {
	m := u.Message
	if m == nil || m.Chat == nil || m.Text == "" {
		return
	}
	chatID := m.Chat.ID

	b.wg.Add(1)
	if isCommand(m.Text, "start") {
		go func() {
			defer b.wg.Done()
			defer guard(chatID)
			b.pipeline.Greet(ctx, chatID)
		}()
		return
	}

	go func() {
		defer b.wg.Done()
		defer guard(chatID)
		start := time.Now()
		res := b.pipeline.Handle(ctx, chatID, m.Text)
		slog.Debug("message handled",
			slog.Int64("chat_id", chatID),
			slog.String("result", res.String()),
			slog.Duration("took", time.Since(start)))
	}()
}

// guard keeps a panicking handler from taking the process down.
func guard(chatID int64) {
	if r := recover(); r != nil {
		slog.Error("handler panic", slog.Int64("chat_id", chatID), slog.Any("panic", r),
			slog.String("stack", string(debug.Stack())))
	}
}

// isCommand reports whether text invokes /name, optionally addressed as /name@bot.
func isCommand(text, name string) bool {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return false
	}
	cmd, _, _ := strings.Cut(fields[0], "@")
	return cmd == "/"+name
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
