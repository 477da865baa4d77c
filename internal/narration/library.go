package narration

import (
	"context"
	"fmt"
	"strings"
	"time"

	"narrator/internal/chapterstore"
	"narrator/internal/logging"
)

// Listing is the stored state of one story language.
type Listing struct {
	StoryID            string
	Language           string
	Chapters           []*chapterstore.Record
	TotalDuration      time.Duration
	AvailableLanguages []string
	SupportedLanguages []string
}

// List returns the chapters of a story language. An empty language selects
// the first language that has chapters.
func (o *Orchestrator) List(ctx context.Context, storyID, language string) (*Listing, error) {
	storyID = strings.TrimSpace(storyID)
	if storyID == "" {
		return nil, invalid("storyId", "required")
	}
	available, err := o.chapters.Languages(ctx, storyID)
	if err != nil {
		return nil, fmt.Errorf("list story %s: %w", storyID, err)
	}
	listing := &Listing{
		StoryID:            storyID,
		Language:           o.lookupLanguage(language),
		AvailableLanguages: available,
		SupportedLanguages: o.SupportedLanguages(),
	}
	if listing.AvailableLanguages == nil {
		listing.AvailableLanguages = []string{}
	}
	if listing.Language == "" && len(available) > 0 {
		listing.Language = available[0]
	}
	if listing.Language == "" {
		return listing, nil
	}

	records, err := o.chapters.List(ctx, storyID, listing.Language)
	if err != nil {
		return nil, fmt.Errorf("list story %s: %w", storyID, err)
	}
	listing.Chapters = records
	for _, rec := range records {
		listing.TotalDuration += rec.Duration
	}
	return listing, nil
}

// Delete removes a story's chapters and their audio, limited to one language
// when language is non-empty. It returns the number of chapters removed.
func (o *Orchestrator) Delete(ctx context.Context, storyID, language string) (int, error) {
	storyID = strings.TrimSpace(storyID)
	if storyID == "" {
		return 0, invalid("storyId", "required")
	}
	language = o.lookupLanguage(language)
	removed, err := o.chapters.Delete(ctx, storyID, language)
	if err != nil {
		return 0, err
	}
	ctx = logging.WithStory(ctx, storyID, language)
	logger := logging.WithContext(ctx, o.logger)
	o.deleteBlobs(ctx, logger, removed)
	logger.Info("chapters deleted",
		logging.Int("removed", len(removed)),
		logging.String(logging.FieldEventType, "chapters_deleted"),
	)
	return len(removed), nil
}

// lookupLanguage resolves a requested language to the key chapters are stored
// under. Tags that are not supported fall back to their lowercased form so
// chapters stored before a config change stay reachable.
func (o *Orchestrator) lookupLanguage(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if lang, err := o.matchLanguage(raw); err == nil {
		return lang
	}
	return strings.ToLower(raw)
}
