// Package download fetches media for a link into local files using yt-dlp,
// which delegates merging and audio transcoding to ffmpeg.
// Uses exec.CommandContext with explicit argument slices; the link is always
// passed after "--" so it can never be parsed as an option.
package download

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"mediarelay/internal/httputil"
)

// Options configures the yt-dlp invocation and its retry budget.
type Options struct {
	Binary         string        // yt-dlp executable name or path
	FFmpegLocation string        // Optional ffmpeg binary or directory
	Retries        int           // yt-dlp --retries (per HTTP request)
	SocketTimeout  time.Duration // yt-dlp --socket-timeout
	Attempts       int           // Whole-process attempts, repeated only on timeout
	AttemptTimeout time.Duration // Deadline of one process attempt
	Backoff        time.Duration // Wait before the second attempt, doubled after each
}

// DefaultOptions returns a retry budget suited to short social-media clips.
func DefaultOptions() Options {
	return Options{
		Binary:         "yt-dlp",
		Retries:        5,
		SocketTimeout:  30 * time.Second,
		Attempts:       2,
		AttemptTimeout: 4 * time.Minute,
		Backoff:        2 * time.Second,
	}
}

// runFunc executes the extractor. It returns ctx.Err() when the context
// ended the process, or a classified error otherwise.
type runFunc func(ctx context.Context, bin string, args []string) error

// Downloader produces local video and audio files from a media link.
type Downloader struct {
	opts Options
	run  runFunc
}

// New creates a Downloader. Zero-valued options fall back to DefaultOptions.
func New(opts Options) *Downloader {
	def := DefaultOptions()
	if opts.Binary == "" {
		opts.Binary = def.Binary
	}
	if opts.Attempts < 1 {
		opts.Attempts = 1
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	return &Downloader{opts: opts, run: execTool}
}

// Available checks that the extractor binary can be found.
func (d *Downloader) Available() error {
	if _, err := exec.LookPath(d.opts.Binary); err != nil {
		return fmt.Errorf("%s not found in PATH: %w", d.opts.Binary, err)
	}
	return nil
}

// FetchVideo downloads the best video of rawURL not exceeding maxBytes into dst (mp4).
func (d *Downloader) FetchVideo(ctx context.Context, rawURL, dst string, maxBytes int64) error {
	if err := httputil.ValidateURL(rawURL); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	args := d.baseArgs()
	args = append(args,
		"-f", videoFormat(maxBytes),
		"--merge-output-format", "mp4",
	)
	if maxBytes > 0 {
		args = append(args, "--max-filesize", strconv.FormatInt(maxBytes, 10))
	}
	args = append(args, "-o", outputTemplate(dst), "--", rawURL)

	if err := d.runWithRetry(ctx, args); err != nil {
		os.Remove(dst)
		return fmt.Errorf("downloading video: %w", err)
	}

	info, err := os.Stat(dst)
	if err != nil {
		if os.IsNotExist(err) && maxBytes > 0 {
			// yt-dlp skips oversized files with a zero exit status.
			return fmt.Errorf("downloading video: no output: %w", ErrTooLarge)
		}
		return fmt.Errorf("downloading video: no output: %w", ErrExtraction)
	}
	if maxBytes > 0 && info.Size() > maxBytes {
		os.Remove(dst)
		return fmt.Errorf("downloading video: %d bytes: %w", info.Size(), ErrTooLarge)
	}

	return nil
}

// FetchAudio extracts the best audio of rawURL and transcodes it to mp3 at dst.
func (d *Downloader) FetchAudio(ctx context.Context, rawURL, dst string) error {
	if err := httputil.ValidateURL(rawURL); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	base := strings.TrimSuffix(dst, filepath.Ext(dst))
	args := d.baseArgs()
	args = append(args,
		"-f", "bestaudio/best",
		"-x",
		"--audio-format", "mp3",
		"--audio-quality", "192K",
		"-o", outputTemplate(base)+".%(ext)s",
		"--", rawURL,
	)

	if err := d.runWithRetry(ctx, args); err != nil {
		return fmt.Errorf("extracting audio: %w", err)
	}

	actual := base + ".mp3"
	if actual != dst {
		if err := os.Rename(actual, dst); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("moving audio: %w", err)
		}
	}
	if _, err := os.Stat(dst); err != nil {
		return fmt.Errorf("extracting audio: no output: %w", ErrExtraction)
	}

	return nil
}

func (d *Downloader) baseArgs() []string {
	args := []string{
		"--no-playlist",
		"--no-progress",
		"--no-warnings",
		"-q",
		"--geo-bypass",
		"--retries", strconv.Itoa(d.opts.Retries),
		"--extractor-args", "youtube:player_client=android,web",
	}
	if d.opts.SocketTimeout > 0 {
		args = append(args, "--socket-timeout", strconv.Itoa(int(d.opts.SocketTimeout.Seconds())))
	}
	if d.opts.FFmpegLocation != "" {
		args = append(args, "--ffmpeg-location", d.opts.FFmpegLocation)
	}
	return args
}

// runWithRetry repeats the extractor while attempts time out, backing off
// exponentially. Any other failure is returned immediately.
func (d *Downloader) runWithRetry(ctx context.Context, args []string) error {
	wait := d.opts.Backoff
	var err error

	for attempt := 1; attempt <= d.opts.Attempts; attempt++ {
		err = d.attempt(ctx, args)
		if err == nil || !errors.Is(err, ErrTimeout) || ctx.Err() != nil || attempt == d.opts.Attempts {
			return err
		}

		slog.Debug("retrying extractor", slog.Int("attempt", attempt), slog.Duration("wait", wait), slog.Any("error", err))
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return err
		}
		wait *= 2
	}
	return err
}

func (d *Downloader) attempt(ctx context.Context, args []string) error {
	actx := ctx
	if d.opts.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, d.opts.AttemptTimeout)
		defer cancel()
	}

	err := d.run(actx, d.opts.Binary, args)
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
		}
		return ctx.Err()
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: attempt exceeded %s", ErrTimeout, d.opts.AttemptTimeout)
	}
	return err
}

func execTool(ctx context.Context, bin string, args []string) error {
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdout = io.Discard

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return classify(stderr.String(), err)
	}
	return nil
}

// videoFormat prefers a single progressive file under the ceiling and falls
// back to a merged mp4/m4a pair.
func videoFormat(maxBytes int64) string {
	if maxBytes <= 0 {
		return "bestvideo[ext=mp4]+bestaudio[ext=m4a]/best"
	}
	mb := maxBytes / (1024 * 1024)
	if mb < 1 {
		mb = 1
	}
	return fmt.Sprintf("best[filesize<%dM]/bestvideo[ext=mp4]+bestaudio[ext=m4a]/best", mb)
}

// outputTemplate escapes a literal path for use as a yt-dlp output template.
func outputTemplate(path string) string {
	return strings.ReplaceAll(path, "%", "%%")
}
