// Package media defines shared types for the mediarelay application.
package media

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Kind distinguishes the two artifacts produced for every link.
type Kind int

const (
	Video Kind = iota
	Audio
)

func (k Kind) String() string {
	switch k {
	case Video:
		return "video"
	case Audio:
		return "audio"
	default:
		return "unknown"
	}
}

// Handle is an opaque file identifier issued by the messaging platform after an upload.
// It is never inspected, only passed back to the platform.
type Handle string

// Entry is one row of the media cache.
type Entry struct {
	URL   string // Normalized URL, primary key
	Video Handle // Empty when absent
	Audio Handle // Empty when absent
}

// Complete reports whether both handles are present.
func (e Entry) Complete() bool {
	return e.Video != "" && e.Audio != ""
}

// Handle returns the handle stored for the given kind.
func (e Entry) Handle(k Kind) Handle {
	if k == Audio {
		return e.Audio
	}
	return e.Video
}

// Artifacts are the transient local files of a single fetch.
type Artifacts struct {
	Dir   string
	Video string
	Audio string
}

// NewArtifacts creates a private run directory under workDir and picks unique
// file names for the video and audio outputs. Nothing is written to the paths.
func NewArtifacts(workDir string) (*Artifacts, error) {
	if err := os.MkdirAll(workDir, 0700); err != nil {
		return nil, fmt.Errorf("creating work dir: %w", err)
	}

	dir, err := os.MkdirTemp(workDir, "run-*")
	if err != nil {
		return nil, fmt.Errorf("creating run dir: %w", err)
	}

	id := uuid.NewString()
	return &Artifacts{
		Dir:   dir,
		Video: filepath.Join(dir, id+"_video.mp4"),
		Audio: filepath.Join(dir, id+"_audio.mp3"),
	}, nil
}

// Path returns the artifact path for the given kind.
func (a *Artifacts) Path(k Kind) string {
	if k == Audio {
		return a.Audio
	}
	return a.Video
}

// Remove deletes both artifact files and the run directory. Every path is
// attempted; the returned slice holds one error per path that could not be removed.
func (a *Artifacts) Remove() []error {
	var errs []error
	for _, p := range []string{a.Video, a.Audio} {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			errs = append(errs, fmt.Errorf("removing %s: %w", p, err))
		}
	}
	if a.Dir != "" {
		if err := os.RemoveAll(a.Dir); err != nil {
			errs = append(errs, fmt.Errorf("removing %s: %w", a.Dir, err))
		}
	}
	return errs
}
