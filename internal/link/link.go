// Package link recognizes supported media links in free-form chat text
// and reduces them to the canonical form used as the cache key.
package link

import (
	"regexp"
	"strings"
)

// hosts is the allow-list of platforms the bot accepts. Each entry also
// matches with a "www." prefix.
var hosts = []string{
	"instagram.com",
	"tiktok.com",
	"vm.tiktok.com",
	"vt.tiktok.com",
	"youtube.com",
	"m.youtube.com",
	"youtu.be",
	"facebook.com",
	"m.facebook.com",
	"fb.watch",
	"pinterest.com",
	"pin.it",
	"twitter.com",
	"x.com",
	"vimeo.com",
	"dailymotion.com",
	"reddit.com",
	"snapchat.com",
	"likee.video",
}

var pattern = compile(hosts)

func compile(hosts []string) *regexp.Regexp {
	quoted := make([]string, len(hosts))
	for i, h := range hosts {
		quoted[i] = regexp.QuoteMeta(h)
	}
	return regexp.MustCompile(`(?i)https?://(?:www\.)?(?:` + strings.Join(quoted, "|") + `)/\S+`)
}

// Hosts returns a copy of the supported host list.
func Hosts() []string {
	out := make([]string, len(hosts))
	copy(out, hosts)
	return out
}

// Extract returns the first supported link found in text.
func Extract(text string) (string, bool) {
	m := pattern.FindString(text)
	return m, m != ""
}

// Normalize drops the query string and any trailing slashes.
// Normalizing an already normalized URL returns it unchanged.
func Normalize(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}
	return strings.TrimRight(raw, "/")
}
