package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"mediarelay/internal/download"
	"mediarelay/internal/link"
	"mediarelay/internal/media"
)

const (
	msgInvalidLink = "Please send a valid link."
	msgWorking     = "⏳ Downloading video and audio..."
	msgVideoFailed = "❌ Could not download the video. The profile may be private or the file too large."
	msgAudioFailed = "❌ Could not extract the audio."
	msgRestricted  = "❌ This content is private or restricted."
	msgUnavailable = "❌ This link is unsupported or the media is no longer available."
	msgTimeout     = "❌ The download took too long. Please try again later."
	msgGeneric     = "❌ Something went wrong. Please try again later."
	msgInterrupted = "⚠️ The bot is restarting. Please send the link again in a minute."
)

func greeting() string {
	var b strings.Builder
	b.WriteString("Hello! 👋\n\n")
	b.WriteString("Send me a link and I will download the video and its audio for you.\n\n")
	b.WriteString("Supported: ")
	b.WriteString(strings.Join(link.Hosts(), ", "))
	return b.String()
}

func (p *Pipeline) tooLargeMessage() string {
	return fmt.Sprintf("❌ The video is larger than %d MB.", p.opts.MaxFileSize/(1024*1024))
}

// fetchFailureMessage picks the user-facing reason for a failed fetch.
func (p *Pipeline) fetchFailureMessage(err error) string {
	switch {
	case errors.Is(err, errPanic):
		return msgGeneric
	case errors.Is(err, download.ErrTooLarge):
		return p.tooLargeMessage()
	case errors.Is(err, download.ErrRestricted):
		return msgRestricted
	case errors.Is(err, download.ErrUnavailable):
		return msgUnavailable
	case errors.Is(err, download.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return msgTimeout
	case errors.Is(err, context.Canceled):
		return msgInterrupted
	}

	var fe *fetchError
	if errors.As(err, &fe) && fe.kind == media.Audio {
		return msgAudioFailed
	}
	return msgVideoFailed
}
