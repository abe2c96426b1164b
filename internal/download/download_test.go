package download

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testURL = "https://www.youtube.com/watch?v=abc"

// fakeRun records invocations and writes size bytes to the -o target.
type fakeRun struct {
	calls [][]string
	size  int64
	errs  []error // returned in order, then nil
}

func (f *fakeRun) run(ctx context.Context, bin string, args []string) error {
	f.calls = append(f.calls, args)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return err
		}
	}
	if f.size < 0 {
		return nil
	}
	out := strings.ReplaceAll(argAfter(args, "-o"), "%(ext)s", "mp3")
	out = strings.ReplaceAll(out, "%%", "%")
	fh, err := os.Create(out)
	if err != nil {
		return err
	}
	defer fh.Close()
	return fh.Truncate(f.size)
}

func argAfter(args []string, flag string) string {
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func newTestDownloader(f *fakeRun, attempts int) *Downloader {
	d := New(Options{
		Binary:   "yt-dlp",
		Retries:  5,
		Attempts: attempts,
		Backoff:  time.Millisecond,
	})
	d.run = f.run
	return d
}

func TestFetchVideoArgs(t *testing.T) {
	f := &fakeRun{size: 10}
	d := newTestDownloader(f, 1)
	dst := filepath.Join(t.TempDir(), "x_video.mp4")

	require.NoError(t, d.FetchVideo(context.Background(), testURL, dst, 50*1024*1024))
	require.Len(t, f.calls, 1)

	args := f.calls[0]
	assert.Equal(t, testURL, args[len(args)-1])
	assert.Equal(t, "--", args[len(args)-2])
	assert.Equal(t, dst, argAfter(args, "-o"))
	assert.Equal(t, "52428800", argAfter(args, "--max-filesize"))
	assert.Equal(t, "best[filesize<50M]/bestvideo[ext=mp4]+bestaudio[ext=m4a]/best", argAfter(args, "-f"))
	assert.Equal(t, "5", argAfter(args, "--retries"))
	assert.Equal(t, "mp4", argAfter(args, "--merge-output-format"))
}

func TestFetchVideoMissingOutputIsTooLarge(t *testing.T) {
	f := &fakeRun{size: -1}
	d := newTestDownloader(f, 1)
	dst := filepath.Join(t.TempDir(), "x_video.mp4")

	err := d.FetchVideo(context.Background(), testURL, dst, 1024)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestFetchVideoOversizeRemoved(t *testing.T) {
	f := &fakeRun{size: 2048}
	d := newTestDownloader(f, 1)
	dst := filepath.Join(t.TempDir(), "x_video.mp4")

	err := d.FetchVideo(context.Background(), testURL, dst, 1024)
	assert.ErrorIs(t, err, ErrTooLarge)
	assert.NoFileExists(t, dst)
}

func TestFetchVideoRejectsBadURL(t *testing.T) {
	f := &fakeRun{size: 1}
	d := newTestDownloader(f, 1)

	err := d.FetchVideo(context.Background(), "--exec=rm -rf /", filepath.Join(t.TempDir(), "v.mp4"), 0)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Empty(t, f.calls)
}

func TestFetchAudio(t *testing.T) {
	f := &fakeRun{size: 10}
	d := newTestDownloader(f, 1)
	dir := t.TempDir()
	dst := filepath.Join(dir, "x_audio.mp3")

	require.NoError(t, d.FetchAudio(context.Background(), testURL, dst))
	assert.FileExists(t, dst)

	args := f.calls[0]
	assert.Equal(t, filepath.Join(dir, "x_audio")+".%(ext)s", argAfter(args, "-o"))
	assert.Equal(t, "mp3", argAfter(args, "--audio-format"))
	assert.Contains(t, args, "-x")
}

func TestFetchAudioRenamesToDestination(t *testing.T) {
	f := &fakeRun{size: 10}
	d := newTestDownloader(f, 1)
	dst := filepath.Join(t.TempDir(), "x_audio.bin")

	require.NoError(t, d.FetchAudio(context.Background(), testURL, dst))
	assert.FileExists(t, dst)
}

func TestFetchAudioNoOutput(t *testing.T) {
	f := &fakeRun{size: -1}
	d := newTestDownloader(f, 1)

	err := d.FetchAudio(context.Background(), testURL, filepath.Join(t.TempDir(), "a.mp3"))
	assert.ErrorIs(t, err, ErrExtraction)
}

func TestRetriesOnlyTimeouts(t *testing.T) {
	timeout := fmt.Errorf("%w: read timed out", ErrTimeout)

	t.Run("timeout then success", func(t *testing.T) {
		f := &fakeRun{size: 1, errs: []error{timeout, timeout}}
		d := newTestDownloader(f, 3)
		require.NoError(t, d.FetchAudio(context.Background(), testURL, filepath.Join(t.TempDir(), "a.mp3")))
		assert.Len(t, f.calls, 3)
	})

	t.Run("budget exhausted", func(t *testing.T) {
		f := &fakeRun{size: 1, errs: []error{timeout, timeout, timeout}}
		d := newTestDownloader(f, 2)
		err := d.FetchAudio(context.Background(), testURL, filepath.Join(t.TempDir(), "a.mp3"))
		assert.ErrorIs(t, err, ErrTimeout)
		assert.Len(t, f.calls, 2)
	})

	t.Run("restricted not retried", func(t *testing.T) {
		f := &fakeRun{size: 1, errs: []error{fmt.Errorf("%w: private video", ErrRestricted)}}
		d := newTestDownloader(f, 3)
		err := d.FetchVideo(context.Background(), testURL, filepath.Join(t.TempDir(), "v.mp4"), 0)
		assert.ErrorIs(t, err, ErrRestricted)
		assert.Len(t, f.calls, 1)
	})
}

func TestAttemptTimeoutMapsToErrTimeout(t *testing.T) {
	d := New(Options{Attempts: 1, AttemptTimeout: 10 * time.Millisecond})
	d.run = func(ctx context.Context, bin string, args []string) error {
		<-ctx.Done()
		return ctx.Err()
	}

	err := d.FetchAudio(context.Background(), testURL, filepath.Join(t.TempDir(), "a.mp3"))
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestCancelledParentNotRetried(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	d := New(Options{Attempts: 3, Backoff: time.Millisecond})
	d.run = func(ctx context.Context, bin string, args []string) error {
		calls++
		cancel()
		return ctx.Err()
	}

	err := d.FetchVideo(ctx, testURL, filepath.Join(t.TempDir(), "v.mp4"), 0)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 1, calls)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		stderr string
		want   error
	}{
		{"private", "ERROR: [Instagram] abc: This content is private", ErrRestricted},
		{"sign in", "ERROR: [youtube] x: Sign in to confirm you're not a bot", ErrRestricted},
		{"forbidden", "ERROR: unable to download video data: HTTP Error 403: Forbidden", ErrRestricted},
		{"format", "ERROR: [youtube] x: Requested format is not available", ErrUnavailable},
		{"unsupported", "ERROR: Unsupported URL: https://example.com", ErrUnavailable},
		{"timeout", "ERROR: Read timed out.", ErrTimeout},
		{"size", "File is larger than max-filesize (60000000 bytes > 52428800 bytes). Aborting.", ErrTooLarge},
		{"other", "ERROR: Postprocessing: ffmpeg exited with code 1", ErrExtraction},
		{"geo restricted", "ERROR: [BiliBili] 1234: This video is geo-restricted", ErrRestricted},
		{"country", "ERROR: [youtube] x: The uploader has not made this video available in your country", ErrRestricted},
		{"id looks geo", "ERROR: [youtube] GeoQx1Ab: Requested format is not available", ErrUnavailable},
		{"id looks private", "ERROR: [Instagram] privateReel9: Unable to extract video url", ErrExtraction},
		{"url looks private", "ERROR: Unsupported URL: https://example.com/private/clip", ErrUnavailable},
		{"warnings before error", "WARNING: [youtube] login cookies missing\nERROR: [youtube] x: Video unavailable", ErrUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify(tt.stderr, errors.New("exit status 1"))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestReason(t *testing.T) {
	tests := []struct {
		stderr string
		want   string
	}{
		{"ERROR: [youtube] GeoQx1Ab: Requested format is not available", "Requested format is not available"},
		{"ERROR: Unsupported URL: https://example.com/a", "Unsupported URL:"},
		{"ERROR: Read timed out.", "Read timed out."},
		{"File is larger than max-filesize. Aborting.", "File is larger than max-filesize. Aborting."},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, reason(tt.stderr), tt.stderr)
	}
}

func TestVideoFormat(t *testing.T) {
	assert.Equal(t, "bestvideo[ext=mp4]+bestaudio[ext=m4a]/best", videoFormat(0))
	assert.Equal(t, "best[filesize<1M]/bestvideo[ext=mp4]+bestaudio[ext=m4a]/best", videoFormat(1000))
}

func TestOutputTemplateEscapesPercent(t *testing.T) {
	assert.Equal(t, "/tmp/100%%/x", outputTemplate("/tmp/100%/x"))
}
