package client

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"narrator/internal/api"
	"narrator/internal/clientcache"
	"narrator/internal/logging"
)

// Source records where a chapter's audio came from.
type Source string

const (
	SourceCache    Source = "cache"
	SourceDownload Source = "download"
)

// FetchedChapter is one chapter delivered by Library.Fetch.
type FetchedChapter struct {
	Chapter api.ChapterView
	Audio   []byte
	Source  Source
}

// FetchReport summarizes a Library.Fetch call.
type FetchReport struct {
	StoryID    string
	Language   string
	Chapters   []FetchedChapter
	CacheHits  int
	Downloaded int
	Bytes      int64
}

// Library reads chapter audio through the local client cache, downloading
// only what is missing.
type Library struct {
	client *Client
	cache  *clientcache.Cache
	logger *slog.Logger
}

// NewLibrary wires a client to a cache. A nil cache disables caching.
func NewLibrary(client *Client, cache *clientcache.Cache, logger *slog.Logger) *Library {
	return &Library{
		client: client,
		cache:  cache,
		logger: logging.NewComponentLogger(logger, "library"),
	}
}

// Fetch returns the audio for every chapter of a story in one language,
// preferring cached copies. Downloaded chapters are written back to the cache
// in a single batch. A downloaded body whose length disagrees with the
// chapter listing is rejected.
func (l *Library) Fetch(ctx context.Context, storyID, language string) (*FetchReport, error) {
	listing, err := l.client.ListChapters(ctx, storyID, language)
	if err != nil {
		return nil, err
	}
	report := &FetchReport{StoryID: storyID, Language: listing.Language}

	var fresh []clientcache.Entry
	for _, chapter := range listing.Chapters {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if audio, ok := l.cached(ctx, storyID, chapter); ok {
			report.Chapters = append(report.Chapters, FetchedChapter{Chapter: chapter, Audio: audio, Source: SourceCache})
			report.CacheHits++
			report.Bytes += int64(len(audio))
			continue
		}

		audio, contentType, err := l.client.FetchAudio(ctx, chapter.AudioURL)
		if err != nil {
			return report, fmt.Errorf("fetch chapter %d: %w", chapter.Index, err)
		}
		if chapter.SizeBytes > 0 && int64(len(audio)) != chapter.SizeBytes {
			return report, fmt.Errorf("fetch chapter %d: got %d bytes, listing says %d", chapter.Index, len(audio), chapter.SizeBytes)
		}
		report.Chapters = append(report.Chapters, FetchedChapter{Chapter: chapter, Audio: audio, Source: SourceDownload})
		report.Downloaded++
		report.Bytes += int64(len(audio))
		fresh = append(fresh, clientcache.Entry{
			StoryID:      storyID,
			Language:     chapter.Language,
			ChapterIndex: chapter.Index,
			Audio:        audio,
			ContentType:  contentType,
			Duration:     time.Duration(chapter.Duration * float64(time.Second)),
		})
	}

	if l.cache != nil && len(fresh) > 0 {
		if err := l.cache.CacheChapters(ctx, storyID, listing.Language, fresh); err != nil {
			logging.WarnWithContext(l.logger, "client cache write failed", "client_cache_write",
				logging.String(logging.FieldStoryID, storyID),
				logging.String(logging.FieldLanguage, listing.Language),
				logging.Error(err),
				logging.String(logging.FieldImpact, "audio will be downloaded again next time"),
			)
		}
	}
	return report, nil
}

func (l *Library) cached(ctx context.Context, storyID string, chapter api.ChapterView) ([]byte, bool) {
	if l.cache == nil {
		return nil, false
	}
	entry, ok, err := l.cache.GetCachedChapter(ctx, storyID, chapter.Index, chapter.Language)
	if err != nil {
		l.logger.Debug("client cache read failed", logging.Int("chapter", chapter.Index), logging.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	// A regenerated chapter shows up as a size change.
	if chapter.SizeBytes > 0 && int64(len(entry.Audio)) != chapter.SizeBytes {
		return nil, false
	}
	return entry.Audio, true
}
