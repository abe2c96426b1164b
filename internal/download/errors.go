package download

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrRestricted is returned when the content is private, login-gated or geo-blocked.
	ErrRestricted = errors.New("content is private or restricted")

	// ErrUnavailable is returned when the link is unsupported or no usable format exists.
	ErrUnavailable = errors.New("content is unavailable")

	// ErrTimeout is returned when the extractor ran out of time.
	ErrTimeout = errors.New("extraction timed out")

	// ErrTooLarge is returned when the media exceeds the size ceiling.
	ErrTooLarge = errors.New("media exceeds size limit")

	// ErrExtraction is returned for any other extractor failure.
	ErrExtraction = errors.New("extraction failed")
)

// Markers are matched case-insensitively against the extractor's error
// reason, in priority order. Video IDs and URLs are never part of the reason.
var markers = []struct {
	err     error
	needles []string
}{
	{ErrTooLarge, []string{"larger than max-filesize", "file is larger than"}},
	{ErrRestricted, []string{
		"private", "login required", "log in", "sign in", "requires authentication",
		"restricted", "confirm your age", "http error 403", "forbidden",
		"geo restriction", "geo-restriction", "geo restricted", "geo-restricted", "geo-blocked",
		"available in your country", "available from your location",
	}},
	{ErrUnavailable, []string{
		"unsupported url", "requested format is not available", "video unavailable",
		"no video formats", "http error 404", "has been removed", "does not exist",
	}},
	{ErrTimeout, []string{"timed out", "timeout", "connection reset", "temporary failure in name resolution"}},
}

// classify maps extractor stderr to one of the package errors, keeping the
// last stderr line as detail.
func classify(stderr string, cause error) error {
	detail := lastLine(stderr)
	if detail == "" && cause != nil {
		detail = cause.Error()
	}

	why := strings.ToLower(reason(stderr))
	for _, m := range markers {
		for _, n := range m.needles {
			if strings.Contains(why, n) {
				return fmt.Errorf("%w: %s", m.err, detail)
			}
		}
	}
	return fmt.Errorf("%w: %s", ErrExtraction, detail)
}

// reason extracts the human-readable part of the last error yt-dlp printed.
// "ERROR: [youtube] <id>: <reason>" yields <reason>; URLs are dropped.
func reason(stderr string) string {
	line := lastLine(stderr)
	for _, l := range strings.Split(stderr, "\n") {
		if strings.Contains(l, "ERROR:") {
			line = l
		}
	}

	if _, after, ok := strings.Cut(line, "ERROR:"); ok {
		line = strings.TrimSpace(after)
	}
	if strings.HasPrefix(line, "[") {
		if _, after, ok := strings.Cut(line, "]"); ok {
			line = strings.TrimSpace(after)
			if _, msg, ok := strings.Cut(line, ": "); ok {
				line = msg
			}
		}
	}

	words := strings.Fields(line)
	kept := words[:0]
	for _, w := range words {
		lw := strings.ToLower(w)
		if strings.HasPrefix(lw, "http://") || strings.HasPrefix(lw, "https://") {
			continue
		}
		kept = append(kept, w)
	}
	return strings.Join(kept, " ")
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
