// Package blob stores chapter audio. Keys are forward-slash paths relative to
// the store root, e.g. "stories/abc/en/chapter-000.mp3".
package blob

import (
	"context"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"
	"time"
)

// Info describes a stored object.
type Info struct {
	Size        int64
	ModTime     time.Time
	ContentType string
}

// Store is the minimal storage contract used by the narration pipeline.
// Missing objects yield errors wrapping fs.ErrNotExist. Implementations must
// be safe for concurrent use.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Stat(ctx context.Context, key string) (Info, error)
	// Delete is idempotent.
	Delete(ctx context.Context, key string) error
}

// RangeReader is implemented by stores that can serve a byte span without
// reading the whole object.
type RangeReader interface {
	OpenRange(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error)
}

// ChapterKey returns the key for one chapter's audio.
func ChapterKey(storyID, language string, index int, format string) string {
	ext := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(format)), ".")
	if ext == "" {
		ext = "mp3"
	}
	return path.Join("stories", escapeSegment(storyID), escapeSegment(language), fmt.Sprintf("chapter-%03d.%s", index, ext))
}

// StoryPrefix returns the key prefix holding every chapter of a story language.
func StoryPrefix(storyID, language string) string {
	return path.Join("stories", escapeSegment(storyID), escapeSegment(language)) + "/"
}

// ContentType guesses the MIME type from the key's extension.
func ContentType(key string) string {
	ext := strings.ToLower(path.Ext(key))
	switch ext {
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".ogg", ".opus":
		return "audio/ogg"
	case ".m4a", ".aac":
		return "audio/mp4"
	case ".flac":
		return "audio/flac"
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func escapeSegment(s string) string {
	s = strings.TrimSpace(s)
	replacer := strings.NewReplacer("/", "_", "\\", "_", "..", "_")
	s = replacer.Replace(s)
	if s == "" {
		return "_"
	}
	return s
}

func cleanKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("blob: empty key")
	}
	cleaned := path.Clean("/" + key)[1:]
	if cleaned == "" || cleaned != strings.TrimPrefix(key, "/") {
		return "", fmt.Errorf("blob: invalid key %q", key)
	}
	return cleaned, nil
}
