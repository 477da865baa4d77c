package logging

import (
	"context"
	"log/slog"
)

const (
	// FieldComponent names the subsystem emitting the record.
	FieldComponent = "component"
	// FieldJobID identifies a generation job.
	FieldJobID         = "job_id"
	FieldStoryID       = "story_id"
	FieldLanguage      = "language"
	FieldChapterIndex  = "chapter_index"
	FieldCorrelationID = "correlation_id"
	// FieldEventType classifies a record for filtering (e.g. "chapter_failed").
	FieldEventType = "event_type"
	// FieldErrorHint suggests a next step to the operator.
	FieldErrorHint = "error_hint"
	// FieldImpact describes the user-facing consequence of a warning.
	FieldImpact = "impact"
	// FieldAlert flags records that should stand out.
	FieldAlert = "alert"
)

type contextKey int

const (
	jobIDKey contextKey = iota
	storyKey
	correlationKey
)

// Story pairs a story identifier with a narration language.
type Story struct {
	ID       string
	Language string
}

// WithJobID attaches a job identifier to ctx.
func WithJobID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, jobIDKey, id)
}

// WithStory attaches the story and language being narrated.
func WithStory(ctx context.Context, storyID, language string) context.Context {
	if storyID == "" && language == "" {
		return ctx
	}
	return context.WithValue(ctx, storyKey, Story{ID: storyID, Language: language})
}

// WithCorrelationID attaches a request identifier.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationKey, id)
}

// JobIDFromContext returns the job identifier, if any.
func JobIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(jobIDKey).(string)
	return id, ok && id != ""
}

// StoryFromContext returns the story attached by WithStory.
func StoryFromContext(ctx context.Context) (Story, bool) {
	if ctx == nil {
		return Story{}, false
	}
	story, ok := ctx.Value(storyKey).(Story)
	return story, ok
}

// CorrelationIDFromContext returns the request identifier, if any.
func CorrelationIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(correlationKey).(string)
	return id, ok && id != ""
}

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 4)
	if id, ok := JobIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldJobID, id))
	}
	if story, ok := StoryFromContext(ctx); ok {
		if story.ID != "" {
			fields = append(fields, slog.String(FieldStoryID, story.ID))
		}
		if story.Language != "" {
			fields = append(fields, slog.String(FieldLanguage, story.Language))
		}
	}
	if rid, ok := CorrelationIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(attrsToArgs(fields)...)
}
