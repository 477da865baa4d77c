package narration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"

	"narrator/internal/blob"
	"narrator/internal/chapters"
	"narrator/internal/chapterstore"
	"narrator/internal/config"
	"narrator/internal/gencache"
	"narrator/internal/logging"
	"narrator/internal/queue"
	"narrator/internal/synth"
)

// Mode selects how a generation request runs.
type Mode string

const (
	ModeSync  Mode = "sync"
	ModeAsync Mode = "async"
)

// Request asks for one story language to be narrated.
type Request struct {
	StoryID        string
	Text           string
	Language       string
	Speaker        string
	Pitch          float64
	Pace           float64
	TargetDuration time.Duration
	Mode           Mode
}

// Result aggregates a generation run. Chapters hold the successes ordered by
// index; FailedChapters name every planned index that has no audio.
type Result struct {
	StoryID         string
	Language        string
	Speaker         string
	Chapters        []*chapterstore.Record
	PlannedChapters int
	TotalDuration   time.Duration
	FailedChapters  []ChapterFailure
}

// ProgressFunc observes chapter completion during a run. It is called from
// the fan-out goroutines and must be safe for concurrent use.
type ProgressFunc func(done, planned int)

// ChapterStore persists chapter records.
type ChapterStore interface {
	Save(ctx context.Context, rec *chapterstore.Record) error
	List(ctx context.Context, storyID, language string) ([]*chapterstore.Record, error)
	Languages(ctx context.Context, storyID string) ([]string, error)
	Delete(ctx context.Context, storyID, language string) ([]*chapterstore.Record, error)
	DeleteFrom(ctx context.Context, storyID, language string, from int) ([]*chapterstore.Record, error)
	DeleteChapter(ctx context.Context, storyID, language string, index int) (*chapterstore.Record, error)
}

// JobStore persists generation jobs.
type JobStore interface {
	Enqueue(ctx context.Context, nj queue.NewJob) (*queue.Job, error)
	Get(ctx context.Context, id string) (*queue.Job, error)
	Resubmit(ctx context.Context, id string) (*queue.Job, error)
}

// Dependencies are the collaborators an Orchestrator drives. Jobs may be nil
// when only synchronous generation is used.
type Dependencies struct {
	Synthesizer synth.Synthesizer
	Cache       *gencache.Cache
	Blobs       blob.Store
	Chapters    ChapterStore
	Jobs        JobStore
	Logger      *slog.Logger
}

// Options tunes planning and fan-out.
type Options struct {
	SupportedLanguages []string
	DefaultSpeaker     string
	TargetDuration     time.Duration
	WordsPerMinute     int
	MaxChars           int
	MaxConcurrency     int
	Format             string
	JobMaxAttempts     int
}

// OptionsFromConfig maps the narration section of cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		SupportedLanguages: append([]string(nil), cfg.Narration.SupportedLanguages...),
		DefaultSpeaker:     cfg.Narration.DefaultSpeaker,
		TargetDuration:     cfg.TargetDuration(),
		WordsPerMinute:     cfg.Narration.WordsPerMinute,
		MaxChars:           cfg.Narration.MaxChapterChars,
		MaxConcurrency:     cfg.Narration.MaxConcurrency,
		Format:             cfg.Synth.Format,
		JobMaxAttempts:     cfg.Narration.JobMaxAttempts,
	}
}

// Orchestrator generates, lists and deletes narrated chapters.
type Orchestrator struct {
	synth    synth.Synthesizer
	cache    *gencache.Cache
	blobs    blob.Store
	chapters ChapterStore
	jobs     JobStore
	logger   *slog.Logger
	opts     Options
}

// New validates deps and returns an Orchestrator.
func New(deps Dependencies, opts Options) (*Orchestrator, error) {
	switch {
	case deps.Synthesizer == nil:
		return nil, errors.New("narration: synthesizer required")
	case deps.Cache == nil:
		return nil, errors.New("narration: generation cache required")
	case deps.Blobs == nil:
		return nil, errors.New("narration: blob store required")
	case deps.Chapters == nil:
		return nil, errors.New("narration: chapter store required")
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 1
	}
	if opts.TargetDuration <= 0 {
		opts.TargetDuration = chapters.DefaultTargetDuration
	}
	if opts.Format == "" {
		opts.Format = "mp3"
	}
	return &Orchestrator{
		synth:    deps.Synthesizer,
		cache:    deps.Cache,
		blobs:    deps.Blobs,
		chapters: deps.Chapters,
		jobs:     deps.Jobs,
		logger:   logging.NewComponentLogger(deps.Logger, "narration"),
		opts:     opts,
	}, nil
}

// SupportedLanguages returns the languages accepted for generation.
func (o *Orchestrator) SupportedLanguages() []string {
	return append([]string(nil), o.opts.SupportedLanguages...)
}

// Generate runs a request to completion in the calling goroutine.
func (o *Orchestrator) Generate(ctx context.Context, req Request) (*Result, error) {
	return o.generate(ctx, req, nil)
}

func (o *Orchestrator) generate(ctx context.Context, req Request, progress ProgressFunc) (*Result, error) {
	req, err := o.normalize(req)
	if err != nil {
		return nil, err
	}
	ctx = logging.WithStory(ctx, req.StoryID, req.Language)
	logger := logging.WithContext(ctx, o.logger)

	segments := chapters.Plan(req.Text, chapters.Options{
		TargetDuration: req.TargetDuration,
		WordsPerMinute: o.opts.WordsPerMinute,
		MaxChars:       o.opts.MaxChars,
	})
	if len(segments) == 0 {
		return nil, invalid("text", "no narratable text")
	}
	logger.Info("chapter generation started",
		logging.Int("planned_chapters", len(segments)),
		logging.String("speaker", req.Speaker),
		logging.Int("max_concurrency", o.opts.MaxConcurrency),
		logging.String(logging.FieldEventType, "generation_started"),
	)
	started := time.Now()

	records := make([]*chapterstore.Record, len(segments))
	errs := make([]error, len(segments))
	var done atomic.Int64

	var g errgroup.Group
	g.SetLimit(o.opts.MaxConcurrency)
	for i, seg := range segments {
		g.Go(func() error {
			records[i], errs[i] = o.generateChapter(ctx, logger, req, seg)
			if progress != nil {
				progress(int(done.Add(1)), len(segments))
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("generate chapters: %w", err)
	}

	result := &Result{
		StoryID:         req.StoryID,
		Language:        req.Language,
		Speaker:         req.Speaker,
		PlannedChapters: len(segments),
	}
	var firstErr error
	for i, rec := range records {
		if errs[i] != nil {
			if firstErr == nil {
				firstErr = errs[i]
			}
			result.FailedChapters = append(result.FailedChapters, ChapterFailure{Index: segments[i].Index, Error: errs[i].Error()})
			logging.WarnWithContext(logger, "chapter generation failed", "chapter_failed",
				logging.Int(logging.FieldChapterIndex, segments[i].Index),
				logging.Error(errs[i]),
				logging.String(logging.FieldErrorHint, "regenerate the language to retry missing chapters"),
				logging.String(logging.FieldImpact, "chapter has no audio"),
			)
			continue
		}
		result.Chapters = append(result.Chapters, rec)
		result.TotalDuration += rec.Duration
	}

	// A run that produced nothing leaves the previous generation untouched.
	if len(result.Chapters) == 0 {
		return result, &JobFailure{
			StoryID:  req.StoryID,
			Language: req.Language,
			Planned:  len(segments),
			Failures: result.FailedChapters,
			Err:      firstErr,
		}
	}
	for _, failure := range result.FailedChapters {
		o.dropChapter(ctx, logger, req, failure.Index)
	}
	o.trimChapters(ctx, logger, req, len(segments))

	logger.Info("chapter generation finished",
		logging.Int("planned_chapters", result.PlannedChapters),
		logging.Int("generated_chapters", len(result.Chapters)),
		logging.Int("failed_chapters", len(result.FailedChapters)),
		logging.Duration("audio_duration", result.TotalDuration),
		logging.Duration("elapsed", time.Since(started)),
		logging.String(logging.FieldEventType, "generation_finished"),
	)
	return result, nil
}

func (o *Orchestrator) generateChapter(ctx context.Context, logger *slog.Logger, req Request, seg chapters.Segment) (*chapterstore.Record, error) {
	text := strings.TrimSpace(seg.Text)
	fingerprint := gencache.Fingerprint(gencache.Request{
		Text:     text,
		Language: req.Language,
		Speaker:  req.Speaker,
		Pitch:    req.Pitch,
		Pace:     req.Pace,
	})

	clip, source, err := o.cache.Do(ctx, fingerprint, func(gctx context.Context) (gencache.Clip, error) {
		res, err := o.synth.Synthesize(gctx, synth.Request{
			Text:     text,
			Language: req.Language,
			Speaker:  req.Speaker,
			Pitch:    req.Pitch,
			Pace:     req.Pace,
		})
		if err != nil {
			return gencache.Clip{}, err
		}
		if len(res.Audio) == 0 {
			return gencache.Clip{}, errors.New("provider returned no audio")
		}
		return gencache.Clip{Audio: res.Audio, Duration: res.Duration}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("chapter %d: synthesize: %w", seg.Index, err)
	}
	audio := clip.Audio

	key := blob.ChapterKey(req.StoryID, req.Language, seg.Index, o.opts.Format)
	if err := o.blobs.Put(ctx, key, audio); err != nil {
		return nil, fmt.Errorf("chapter %d: store audio: %w", seg.Index, err)
	}

	duration := seg.EstimatedDuration
	if clip.Duration > 0 {
		duration = clip.Duration
	}
	rec := &chapterstore.Record{
		StoryID:       req.StoryID,
		Language:      req.Language,
		ChapterIndex:  seg.Index,
		AudioLocation: key,
		Duration:      duration,
		StartPosition: seg.StartPosition,
		EndPosition:   seg.EndPosition,
		Speaker:       req.Speaker,
		SizeBytes:     int64(len(audio)),
	}
	if err := o.chapters.Save(ctx, rec); err != nil {
		return nil, fmt.Errorf("chapter %d: save record: %w", seg.Index, err)
	}
	logger.Debug("chapter generated",
		logging.Int(logging.FieldChapterIndex, seg.Index),
		logging.String("source", source.String()),
		logging.Int64("size_bytes", rec.SizeBytes),
		logging.Duration("duration", duration),
	)
	return rec, nil
}

// dropChapter removes a record left by an earlier run for an index that
// failed now, so the stored chapters never mix two generations.
func (o *Orchestrator) dropChapter(ctx context.Context, logger *slog.Logger, req Request, index int) {
	rec, err := o.chapters.DeleteChapter(ctx, req.StoryID, req.Language, index)
	if err != nil {
		logger.Warn("stale chapter not removed", logging.Int(logging.FieldChapterIndex, index), logging.Error(err))
		return
	}
	if rec != nil {
		o.deleteBlobs(ctx, logger, []*chapterstore.Record{rec})
	}
}

// trimChapters removes chapters beyond the planned count.
func (o *Orchestrator) trimChapters(ctx context.Context, logger *slog.Logger, req Request, planned int) {
	removed, err := o.chapters.DeleteFrom(ctx, req.StoryID, req.Language, planned)
	if err != nil {
		logger.Warn("surplus chapters not removed", logging.Error(err))
		return
	}
	if len(removed) > 0 {
		logger.Info("removed chapters from previous generation", logging.Int("removed", len(removed)))
		o.deleteBlobs(ctx, logger, removed)
	}
}

func (o *Orchestrator) deleteBlobs(ctx context.Context, logger *slog.Logger, records []*chapterstore.Record) {
	for _, rec := range records {
		if rec.AudioLocation == "" {
			continue
		}
		if err := o.blobs.Delete(ctx, rec.AudioLocation); err != nil {
			logging.WarnWithContext(logger, "chapter audio not deleted", "blob_delete_failed",
				logging.String("key", rec.AudioLocation),
				logging.Error(err),
				logging.String(logging.FieldImpact, "orphaned audio remains in the blob store"),
			)
		}
	}
}

// normalize validates req and fills defaults.
func (o *Orchestrator) normalize(req Request) (Request, error) {
	req.StoryID = strings.TrimSpace(req.StoryID)
	if req.StoryID == "" {
		return req, invalid("storyId", "required")
	}
	if strings.TrimSpace(req.Text) == "" {
		return req, invalid("text", "required")
	}
	lang, err := o.matchLanguage(req.Language)
	if err != nil {
		return req, err
	}
	req.Language = lang

	req.Speaker = strings.TrimSpace(req.Speaker)
	if req.Speaker == "" {
		req.Speaker = o.opts.DefaultSpeaker
	}
	if req.Speaker == "" {
		return req, invalid("speaker", "required")
	}

	if req.Pitch, err = voiceParam("pitch", req.Pitch); err != nil {
		return req, err
	}
	if req.Pace, err = voiceParam("pace", req.Pace); err != nil {
		return req, err
	}

	switch {
	case req.TargetDuration < 0:
		return req, invalid("targetDuration", "must be positive")
	case req.TargetDuration == 0:
		req.TargetDuration = o.opts.TargetDuration
	}
	if req.Mode == "" {
		req.Mode = ModeSync
	}
	return req, nil
}

// voiceParam defaults zero to 1.0 and rejects negative or non-finite values.
func voiceParam(field string, v float64) (float64, error) {
	switch {
	case math.IsNaN(v) || math.IsInf(v, 0) || v < 0:
		return 0, invalid(field, "must be a positive number")
	case v == 0:
		return 1, nil
	}
	return v, nil
}

// matchLanguage canonicalizes a BCP 47 tag and maps it to a supported
// language, falling back to the base language ("en-GB" -> "en").
func (o *Orchestrator) matchLanguage(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", invalid("language", "required")
	}
	tag, err := language.Parse(raw)
	if err != nil {
		return "", invalid("language", "malformed language tag %q", raw)
	}
	candidates := []string{tag.String()}
	if base, conf := tag.Base(); conf != language.No {
		candidates = append(candidates, base.String())
	}
	for _, candidate := range candidates {
		for _, supported := range o.opts.SupportedLanguages {
			if strings.EqualFold(candidate, supported) {
				return supported, nil
			}
		}
	}
	return "", invalid("language", "unsupported language %q", raw)
}
