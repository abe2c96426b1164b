// Package bot turns chat messages containing media links into delivered
// video and audio, consulting the handle cache first and fetching,
// uploading and caching on a miss.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"mediarelay/internal/link"
	"mediarelay/internal/media"
	"mediarelay/internal/pool"
)

// Store is the handle cache.
type Store interface {
	Get(ctx context.Context, key string) (media.Entry, bool, error)
	Put(ctx context.Context, e media.Entry) error
}

// Fetcher produces local media files for a link.
type Fetcher interface {
	FetchVideo(ctx context.Context, rawURL, dst string, maxBytes int64) error
	FetchAudio(ctx context.Context, rawURL, dst string) error
}

// Relay talks to the messaging platform.
type Relay interface {
	Upload(ctx context.Context, kind media.Kind, path, caption string) (media.Handle, error)
	Forward(ctx context.Context, chatID int64, kind media.Kind, h media.Handle, caption string) error
	Notify(ctx context.Context, chatID int64, text string) int64
	Retract(ctx context.Context, chatID, messageID int64)
}

// Options tunes a Pipeline.
type Options struct {
	WorkDir        string        // Parent of per-run artifact directories
	MaxFileSize    int64         // Upload ceiling in bytes
	RequestTimeout time.Duration // Deadline of one run, 0 for none
	Caption        string        // Caption on videos delivered to users
	Pool           *pool.Pool    // Bounds concurrent fetches; nil runs them directly
}

// Lookup is the outcome of consulting the cache for a link.
type Lookup int

const (
	Miss     Lookup = iota // No entry, or the cache could not be read
	Hit                    // Entry found and both handles delivered
	StaleHit               // Entry found but the platform rejected a handle
)

func (l Lookup) String() string {
	switch l {
	case Miss:
		return "miss"
	case Hit:
		return "hit"
	case StaleHit:
		return "stale"
	default:
		return "unknown"
	}
}

// Result summarizes how a message was handled.
type Result int

const (
	ResultInvalid Result = iota // No supported link in the message
	ResultCached                // Served from cached handles
	ResultFetched               // Fetched, stored and delivered
	ResultFailed                // Run ended with a failure notice
)

func (r Result) String() string {
	switch r {
	case ResultInvalid:
		return "invalid"
	case ResultCached:
		return "cached"
	case ResultFetched:
		return "fetched"
	case ResultFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// notifyTimeout bounds notices sent after the run context may have ended.
const notifyTimeout = 15 * time.Second

var errPanic = errors.New("panic")

// Pipeline handles one message at a time; it is safe to call Handle concurrently.
type Pipeline struct {
	store   Store
	fetcher Fetcher
	relay   Relay
	opts    Options
}

// NewPipeline wires a Pipeline. MaxFileSize defaults to the Bot API upload limit.
func NewPipeline(store Store, fetcher Fetcher, relay Relay, opts Options) *Pipeline {
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = 50 * 1024 * 1024
	}
	if opts.WorkDir == "" {
		opts.WorkDir = os.TempDir()
	}
	return &Pipeline{store: store, fetcher: fetcher, relay: relay, opts: opts}
}

// Greet answers the start command.
func (p *Pipeline) Greet(ctx context.Context, chatID int64) {
	p.relay.Notify(ctx, chatID, greeting())
}

// Handle runs the full pipeline for one incoming text message. A panic in
// any stage is logged and answered with the generic failure notice.
func (p *Pipeline) Handle(ctx context.Context, chatID int64, text string) (res Result) {
	log := slog.With(slog.Int64("chat_id", chatID))
	defer func() {
		if r := recover(); r != nil {
			log.Error("pipeline panic", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
			p.tell(ctx, chatID, msgGeneric)
			res = ResultFailed
		}
	}()

	rawURL, ok := link.Extract(text)
	if !ok {
		p.relay.Notify(ctx, chatID, msgInvalidLink)
		return ResultInvalid
	}

	if p.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.RequestTimeout)
		defer cancel()
	}

	key := link.Normalize(rawURL)
	log = log.With(slog.String("url", key))

	switch l := p.lookup(ctx, log, chatID, key); l {
	case Hit:
		log.Info("cache hit")
		return ResultCached
	case StaleHit:
		log.Warn("cached handles rejected, fetching again")
	}

	return p.fetchAndRelay(ctx, log, chatID, rawURL, key)
}

// lookup serves a cached entry if every handle is still honored.
func (p *Pipeline) lookup(ctx context.Context, log *slog.Logger, chatID int64, key string) Lookup {
	entry, ok, err := p.store.Get(ctx, key)
	if err != nil {
		log.Error("cache lookup failed", slog.Any("error", err))
		return Miss
	}
	if !ok {
		return Miss
	}

	for _, kind := range []media.Kind{media.Video, media.Audio} {
		if err := p.relay.Forward(ctx, chatID, kind, entry.Handle(kind), p.deliveryCaption(kind)); err != nil {
			log.Debug("forwarding cached handle failed", slog.String("kind", kind.String()), slog.Any("error", err))
			return StaleHit
		}
	}
	return Hit
}

// fetchAndRelay covers FETCH through USER_DELIVER. Cleanup is deferred so it
// also runs while a panic unwinds to Handle.
func (p *Pipeline) fetchAndRelay(ctx context.Context, log *slog.Logger, chatID int64, rawURL, key string) Result {
	notice := p.relay.Notify(ctx, chatID, msgWorking)

	var art *media.Artifacts
	defer func() { p.cleanup(ctx, log, chatID, art, notice) }()

	var err error
	art, err = media.NewArtifacts(p.opts.WorkDir)
	if err != nil {
		log.Error("preparing artifacts failed", slog.Any("error", err))
		p.tell(ctx, chatID, msgGeneric)
		return ResultFailed
	}

	if err := p.fetchPair(ctx, rawURL, art); err != nil {
		log.Error("fetch failed", slog.Any("error", err))
		p.tell(ctx, chatID, p.fetchFailureMessage(err))
		return ResultFailed
	}

	info, err := os.Stat(art.Video)
	if err != nil {
		log.Error("inspecting video failed", slog.Any("error", err))
		p.tell(ctx, chatID, msgGeneric)
		return ResultFailed
	}
	if info.Size() > p.opts.MaxFileSize {
		log.Warn("video over upload limit", slog.Int64("size", info.Size()), slog.Int64("limit", p.opts.MaxFileSize))
		p.tell(ctx, chatID, p.tooLargeMessage())
		return ResultFailed
	}

	provenance := "🔗 " + key
	entry := media.Entry{URL: key}
	for _, kind := range []media.Kind{media.Video, media.Audio} {
		h, err := p.relay.Upload(ctx, kind, art.Path(kind), provenance)
		if err != nil {
			log.Error("channel upload failed", slog.String("kind", kind.String()), slog.Any("error", err))
			p.tell(ctx, chatID, msgGeneric)
			return ResultFailed
		}
		if kind == media.Video {
			entry.Video = h
		} else {
			entry.Audio = h
		}
	}

	if err := p.store.Put(ctx, entry); err != nil {
		log.Error("cache fill failed", slog.Any("error", err))
	}

	for _, kind := range []media.Kind{media.Video, media.Audio} {
		if err := p.relay.Forward(ctx, chatID, kind, entry.Handle(kind), p.deliveryCaption(kind)); err != nil {
			log.Error("delivery failed", slog.String("kind", kind.String()), slog.Any("error", err))
			p.tell(ctx, chatID, msgGeneric)
			return ResultFailed
		}
	}

	log.Info("media cached")
	return ResultFetched
}

// fetchPair runs both fetches concurrently. The first failure cancels the
// sibling, and both have returned before fetchPair does.
func (p *Pipeline) fetchPair(ctx context.Context, rawURL string, art *media.Artifacts) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return p.fetchOne(gctx, media.Video, func(ctx context.Context) error {
			return p.fetcher.FetchVideo(ctx, rawURL, art.Video, p.opts.MaxFileSize)
		})
	})
	g.Go(func() error {
		return p.fetchOne(gctx, media.Audio, func(ctx context.Context) error {
			return p.fetcher.FetchAudio(ctx, rawURL, art.Audio)
		})
	})

	return g.Wait()
}

func (p *Pipeline) fetchOne(ctx context.Context, kind media.Kind, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("fetch panic", slog.String("kind", kind.String()), slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			err = &fetchError{kind: kind, err: fmt.Errorf("%w: %v", errPanic, r)}
		}
	}()

	if err := p.opts.Pool.Do(ctx, fn); err != nil {
		return &fetchError{kind: kind, err: err}
	}
	return nil
}

// cleanup removes the run's artifacts and the working notice. It never fails.
func (p *Pipeline) cleanup(ctx context.Context, log *slog.Logger, chatID int64, art *media.Artifacts, notice int64) {
	if art != nil {
		for _, err := range art.Remove() {
			log.Warn("removing artifact failed", slog.Any("error", err))
		}
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	p.relay.Retract(ctx, chatID, notice)
}

// tell sends a failure notice even when the run context has already ended.
func (p *Pipeline) tell(ctx context.Context, chatID int64, text string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	p.relay.Notify(ctx, chatID, text)
}

func (p *Pipeline) deliveryCaption(kind media.Kind) string {
	if kind == media.Video {
		return p.opts.Caption
	}
	return ""
}

// fetchError records which half of the fetch pair failed.
type fetchError struct {
	kind media.Kind
	err  error
}

func (e *fetchError) Error() string {
	return fmt.Sprintf("fetching %s: %v", e.kind, e.err)
}

func (e *fetchError) Unwrap() error { return e.err }
