package api

import (
	"maps"
	"math"
	"slices"
	"time"

	"narrator/internal/chapterstore"
	"narrator/internal/delivery"
	"narrator/internal/gencache"
	"narrator/internal/narration"
	"narrator/internal/queue"
	"narrator/internal/workflow"
)

// Seconds converts d to float seconds rounded to milliseconds.
func Seconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*1000) / 1000
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

// ToRequest converts the HTTP body into an orchestrator request.
func (g GenerateRequest) ToRequest(storyID string) narration.Request {
	req := narration.Request{
		StoryID:        storyID,
		Text:           g.Text,
		Language:       g.Language,
		Speaker:        g.Speaker,
		TargetDuration: time.Duration(g.TargetDuration * float64(time.Second)),
		Mode:           narration.ModeSync,
	}
	if g.Pitch != nil {
		req.Pitch = *g.Pitch
	}
	if g.Pace != nil {
		req.Pace = *g.Pace
	}
	if g.Async {
		req.Mode = narration.ModeAsync
	}
	return req
}

// FromRecord converts a chapter record to its API representation.
func FromRecord(rec *chapterstore.Record) ChapterView {
	if rec == nil {
		return ChapterView{}
	}
	return ChapterView{
		Index:         rec.ChapterIndex,
		Language:      rec.Language,
		Speaker:       rec.Speaker,
		Duration:      Seconds(rec.Duration),
		StartPosition: rec.StartPosition,
		EndPosition:   rec.EndPosition,
		SizeBytes:     rec.SizeBytes,
		AudioURL:      delivery.AudioPath(rec.StoryID, rec.Language, rec.ChapterIndex),
		CreatedAt:     formatTime(rec.CreatedAt),
	}
}

// FromRecords converts chapter records, never returning nil.
func FromRecords(records []*chapterstore.Record) []ChapterView {
	out := make([]ChapterView, 0, len(records))
	for _, rec := range records {
		out = append(out, FromRecord(rec))
	}
	return out
}

// FromListing converts a story language listing.
func FromListing(l *narration.Listing) ListChaptersResponse {
	if l == nil {
		return ListChaptersResponse{Chapters: []ChapterView{}}
	}
	return ListChaptersResponse{
		StoryID:            l.StoryID,
		Language:           l.Language,
		Chapters:           FromRecords(l.Chapters),
		TotalChapters:      len(l.Chapters),
		TotalDuration:      Seconds(l.TotalDuration),
		AvailableLanguages: nonNil(l.AvailableLanguages),
		SupportedLanguages: nonNil(l.SupportedLanguages),
	}
}

// FromResult converts a synchronous generation result.
func FromResult(r *narration.Result) GenerateResponse {
	if r == nil {
		return GenerateResponse{Chapters: []ChapterView{}, FailedChapters: []ChapterFailure{}}
	}
	return GenerateResponse{
		StoryID:         r.StoryID,
		Language:        r.Language,
		Speaker:         r.Speaker,
		Chapters:        FromRecords(r.Chapters),
		TotalDuration:   Seconds(r.TotalDuration),
		PlannedChapters: r.PlannedChapters,
		FailedChapters:  fromFailures(r.FailedChapters),
	}
}

func fromFailures(failures []narration.ChapterFailure) []ChapterFailure {
	out := make([]ChapterFailure, 0, len(failures))
	for _, f := range failures {
		out = append(out, ChapterFailure{Index: f.Index, Error: f.Error})
	}
	return out
}

// FromJob converts a queue job. A result that cannot be decoded is ignored.
func FromJob(job *queue.Job) JobStatus {
	if job == nil {
		return JobStatus{FailedChapters: []ChapterFailure{}}
	}
	dto := JobStatus{
		ID:       job.ID,
		StoryID:  job.StoryID,
		Language: job.Language,
		Status:   string(job.Status),
		Progress: JobProgress{
			Stage:   job.Progress.Stage,
			Percent: job.Progress.Percent,
			Message: job.Progress.Message,
		},
		Error:          job.Error,
		Permanent:      job.Permanent,
		AttemptsMade:   job.AttemptsMade,
		FailedChapters: []ChapterFailure{},
		CreatedAt:      formatTime(job.CreatedAt),
		UpdatedAt:      formatTime(job.UpdatedAt),
	}
	if res, err := narration.DecodeJobResult(job); err == nil && res != nil {
		dto.PlannedChapters = res.PlannedChapters
		dto.GeneratedChapters = res.GeneratedChapters
		dto.TotalDuration = res.TotalDurationSeconds
		dto.FailedChapters = fromFailures(res.FailedChapters)
	}
	return dto
}

// FromStatusSummary converts a workflow status summary to API payload.
func FromStatusSummary(summary workflow.StatusSummary) WorkflowStatus {
	statuses := queue.AllStatuses()
	stats := make(map[string]int, len(statuses))
	for _, status := range statuses {
		stats[string(status)] = 0
	}
	for status, count := range summary.QueueStats {
		stats[string(status)] = count
	}
	wf := WorkflowStatus{
		Running:    summary.Running,
		CurrentJob: summary.CurrentJob,
		QueueStats: stats,
		Completed:  summary.Completed,
		Failed:     summary.Failed,
		LastError:  summary.LastError,
	}
	if summary.LastJob != nil {
		last := FromJob(summary.LastJob)
		wf.LastJob = &last
	}
	return wf
}

// FromCacheStats converts generation cache statistics.
func FromCacheStats(s gencache.Stats) CacheStatus {
	return CacheStatus{
		Entries:     s.Entries,
		Bytes:       s.Bytes,
		MaxEntries:  s.MaxEntries,
		MaxBytes:    s.MaxBytes,
		Hits:        s.Hits,
		Misses:      s.Misses,
		Evictions:   s.Evictions,
		Expirations: s.Expirations,
		HitRate:     math.Round(s.HitRate*1000) / 1000,
	}
}

// SortedQueueStats returns the queue stat keys in a stable order for display.
func SortedQueueStats(stats map[string]int) []string {
	return slices.Sorted(maps.Keys(stats))
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
