package narration_test

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"sync/atomic"
	"testing"
	"time"

	"narrator/internal/blob"
	"narrator/internal/chapterstore"
	"narrator/internal/gencache"
	"narrator/internal/narration"
	"narrator/internal/queue"
	"narrator/internal/synth"
	"narrator/internal/testsupport"
)

const threeChapterStory = "Alpha one two three. Beta one two three. Gamma one two three."

type fixture struct {
	orch     *narration.Orchestrator
	synth    *testsupport.FakeSynthesizer
	chapters *chapterstore.Store
	jobs     *queue.Store
	blobs    blob.Store
	cache    *gencache.Cache
}

func newFixture(t *testing.T, synthesizer synth.Synthesizer, opts ...testsupport.ConfigOption) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	f := &fixture{
		chapters: testsupport.MustOpenChapters(t, cfg),
		jobs:     testsupport.MustOpenQueue(t, cfg),
		blobs:    testsupport.MustOpenBlobs(t, cfg),
		cache:    gencache.New(gencache.Options{MaxEntries: 64, MaxBytes: 1 << 20}),
	}
	t.Cleanup(f.cache.Dispose)
	if fake, ok := synthesizer.(*testsupport.FakeSynthesizer); ok {
		f.synth = fake
	}
	if synthesizer == nil {
		f.synth = testsupport.NewFakeSynthesizer()
		synthesizer = f.synth
	}
	orch, err := narration.New(narration.Dependencies{
		Synthesizer: synthesizer,
		Cache:       f.cache,
		Blobs:       f.blobs,
		Chapters:    f.chapters,
		Jobs:        f.jobs,
	}, narration.OptionsFromConfig(cfg))
	if err != nil {
		t.Fatalf("narration.New: %v", err)
	}
	f.orch = orch
	return f
}

func request(text string) narration.Request {
	return narration.Request{
		StoryID:        "story-1",
		Text:           text,
		Language:       "en",
		Speaker:        "narrator",
		TargetDuration: 2 * time.Second,
	}
}

func readBlob(t *testing.T, store blob.Store, key string) string {
	t.Helper()
	rc, err := store.Open(context.Background(), key)
	if err != nil {
		t.Fatalf("open %s: %v", key, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read %s: %v", key, err)
	}
	return string(data)
}

func TestGeneratePartialFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.synth.FailWhenContains("Beta", &synth.ProviderError{Status: 500, Message: "voice unavailable"})

	res, err := f.orch.Generate(context.Background(), request(threeChapterStory))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.PlannedChapters != 3 || len(res.Chapters) != 2 {
		t.Fatalf("planned=%d generated=%d, want 3/2", res.PlannedChapters, len(res.Chapters))
	}
	if res.Chapters[0].ChapterIndex != 0 || res.Chapters[1].ChapterIndex != 2 {
		t.Fatalf("unexpected chapter indices: %d, %d", res.Chapters[0].ChapterIndex, res.Chapters[1].ChapterIndex)
	}
	if len(res.FailedChapters) != 1 || res.FailedChapters[0].Index != 1 || res.FailedChapters[0].Error == "" {
		t.Fatalf("unexpected failures: %+v", res.FailedChapters)
	}

	stored, err := f.chapters.List(context.Background(), "story-1", "en")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(stored) != 2 {
		t.Fatalf("stored %d chapters, want 2", len(stored))
	}
	if got := readBlob(t, f.blobs, stored[1].AudioLocation); got != "audio:Gamma one two three." {
		t.Fatalf("chapter 2 audio = %q", got)
	}
	if stored[0].StartPosition != 0 || stored[1].EndPosition != len(threeChapterStory) {
		t.Fatalf("positions do not cover the text: %+v %+v", stored[0], stored[1])
	}
}

func TestGenerateCacheHitSkipsSynthesis(t *testing.T) {
	f := newFixture(t, nil)
	f.synth.Duration = 42 * time.Second
	ctx := context.Background()
	req := request("Once upon a time.")

	first, err := f.orch.Generate(ctx, req)
	if err != nil {
		t.Fatalf("first Generate: %v", err)
	}
	second, err := f.orch.Generate(ctx, req)
	if err != nil {
		t.Fatalf("second Generate: %v", err)
	}
	if calls := f.synth.Calls(); calls != 1 {
		t.Fatalf("synthesizer called %d times, want 1", calls)
	}
	if len(first.Chapters) != 1 || len(second.Chapters) != 1 {
		t.Fatalf("unexpected chapters: %d, %d", len(first.Chapters), len(second.Chapters))
	}
	if stats := f.cache.Stats(); stats.Hits != 1 {
		t.Fatalf("cache hits = %d, want 1", stats.Hits)
	}
	if first.TotalDuration != 42*time.Second || second.TotalDuration != first.TotalDuration {
		t.Fatalf("durations first=%v second=%v, want 42s both", first.TotalDuration, second.TotalDuration)
	}
	stored, err := f.chapters.Get(ctx, "story-1", "en", 0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.Duration != 42*time.Second {
		t.Fatalf("stored duration = %v, want provider-reported 42s", stored.Duration)
	}
}

func TestFailedRegenerationKeepsPreviousChapters(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if _, err := f.orch.Generate(ctx, request(threeChapterStory)); err != nil {
		t.Fatalf("first Generate: %v", err)
	}

	f.synth.FailWhenContains("one", errors.New("provider down"))
	req := request(threeChapterStory)
	req.Speaker = "other-voice"
	_, err := f.orch.Generate(ctx, req)
	var jf *narration.JobFailure
	if !errors.As(err, &jf) {
		t.Fatalf("expected JobFailure, got %v", err)
	}

	stored, err := f.chapters.List(ctx, "story-1", "en")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(stored) != 3 {
		t.Fatalf("stored %d chapters after failed regeneration, want 3", len(stored))
	}
	for _, rec := range stored {
		if rec.Speaker != "narrator" {
			t.Fatalf("chapter %d speaker = %q, want the earlier generation", rec.ChapterIndex, rec.Speaker)
		}
	}
	if got := readBlob(t, f.blobs, stored[0].AudioLocation); got != "audio:Alpha one two three." {
		t.Fatalf("chapter 0 audio = %q", got)
	}
}

func TestGenerateAllChaptersFail(t *testing.T) {
	f := newFixture(t, nil)
	f.synth.FailWhenContains("one", errors.New("provider down"))

	res, err := f.orch.Generate(context.Background(), request(threeChapterStory))
	var jf *narration.JobFailure
	if !errors.As(err, &jf) {
		t.Fatalf("expected JobFailure, got %v", err)
	}
	if jf.Planned != 3 || len(jf.Failures) != 3 {
		t.Fatalf("unexpected job failure: %+v", jf)
	}
	if res == nil || len(res.Chapters) != 0 || len(res.FailedChapters) != 3 {
		t.Fatalf("expected partial result with 3 failures, got %+v", res)
	}
	if queue.IsPermanent(err) {
		t.Fatal("job failure should be retryable")
	}
}

func TestGenerateValidation(t *testing.T) {
	f := newFixture(t, nil)
	cases := []struct {
		name  string
		field string
		mod   func(*narration.Request)
	}{
		{"unsupported language", "language", func(r *narration.Request) { r.Language = "xx" }},
		{"malformed language", "language", func(r *narration.Request) { r.Language = "not a tag" }},
		{"empty text", "text", func(r *narration.Request) { r.Text = "  \n " }},
		{"missing story", "storyId", func(r *narration.Request) { r.StoryID = "" }},
		{"negative pitch", "pitch", func(r *narration.Request) { r.Pitch = -1 }},
		{"negative duration", "targetDuration", func(r *narration.Request) { r.TargetDuration = -time.Second }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := request(threeChapterStory)
			tc.mod(&req)
			_, err := f.orch.Generate(context.Background(), req)
			var ve *narration.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if ve.Field != tc.field {
				t.Fatalf("field = %q, want %q", ve.Field, tc.field)
			}
			if !queue.IsPermanent(err) {
				t.Fatal("validation errors should be permanent")
			}
		})
	}
	if calls := f.synth.Calls(); calls != 0 {
		t.Fatalf("synthesizer called %d times during validation", calls)
	}
}

func TestGenerateMapsRegionalLanguage(t *testing.T) {
	f := newFixture(t, nil)
	req := request("Hello there.")
	req.Language = "EN-gb"
	req.Speaker = ""

	res, err := f.orch.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Language != "en" {
		t.Fatalf("language = %q, want en", res.Language)
	}
	if res.Speaker != "default" {
		t.Fatalf("speaker = %q, want configured default", res.Speaker)
	}
	reqs := f.synth.Requests()
	if len(reqs) != 1 || reqs[0].Pitch != 1 || reqs[0].Pace != 1 {
		t.Fatalf("unexpected synth requests: %+v", reqs)
	}
}

func TestRegenerateRemovesSurplusAndFailedChapters(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if _, err := f.orch.Generate(ctx, request(threeChapterStory)); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	oldKey := blob.ChapterKey("story-1", "en", 2, "mp3")

	f.synth.FailWhenContains("Delta", errors.New("boom"))
	res, err := f.orch.Generate(ctx, request("Gamma one two three. Delta one two three."))
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if res.PlannedChapters != 2 || len(res.FailedChapters) != 1 {
		t.Fatalf("unexpected regenerate result: %+v", res)
	}

	stored, _ := f.chapters.List(ctx, "story-1", "en")
	if len(stored) != 1 || stored[0].ChapterIndex != 0 {
		t.Fatalf("expected only chapter 0 to remain, got %d records", len(stored))
	}
	if _, err := f.blobs.Stat(ctx, oldKey); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected surplus blob removed, got %v", err)
	}
	if _, err := f.blobs.Stat(ctx, blob.ChapterKey("story-1", "en", 1, "mp3")); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected failed chapter's old blob removed, got %v", err)
	}
}

type boundedSynth struct {
	inner    synth.Synthesizer
	inflight atomic.Int64
	peak     atomic.Int64
}

func (b *boundedSynth) Synthesize(ctx context.Context, req synth.Request) (*synth.Result, error) {
	n := b.inflight.Add(1)
	defer b.inflight.Add(-1)
	for {
		peak := b.peak.Load()
		if n <= peak || b.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	return b.inner.Synthesize(ctx, req)
}

func TestGenerateBoundsConcurrency(t *testing.T) {
	bounded := &boundedSynth{inner: testsupport.NewFakeSynthesizer()}
	f := newFixture(t, bounded, testsupport.WithMaxConcurrency(2))

	text := "One a b c. Two a b c. Three a b c. Four a b c. Five a b c. Six a b c."
	res, err := f.orch.Generate(context.Background(), request(text))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(res.Chapters) != 6 {
		t.Fatalf("generated %d chapters, want 6", len(res.Chapters))
	}
	if peak := bounded.peak.Load(); peak > 2 {
		t.Fatalf("peak concurrency %d exceeds limit 2", peak)
	}
}

func TestGenerateHonoursCancellation(t *testing.T) {
	fake := testsupport.NewFakeSynthesizer()
	fake.Gate = make(chan struct{})
	f := newFixture(t, fake)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.orch.Generate(ctx, request(threeChapterStory)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	close(fake.Gate)
}

func TestListAndDelete(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if _, err := f.orch.Generate(ctx, request(threeChapterStory)); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	es := request("Hola amigo.")
	es.Language = "es"
	if _, err := f.orch.Generate(ctx, es); err != nil {
		t.Fatalf("Generate es: %v", err)
	}

	listing, err := f.orch.List(ctx, "story-1", "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if listing.Language != "en" || len(listing.Chapters) != 3 {
		t.Fatalf("unexpected listing: language=%s chapters=%d", listing.Language, len(listing.Chapters))
	}
	if len(listing.AvailableLanguages) != 2 || len(listing.SupportedLanguages) == 0 {
		t.Fatalf("unexpected languages: %v / %v", listing.AvailableLanguages, listing.SupportedLanguages)
	}
	if listing.TotalDuration <= 0 {
		t.Fatal("expected a positive total duration")
	}

	n, err := f.orch.Delete(ctx, "story-1", "en")
	if err != nil || n != 3 {
		t.Fatalf("Delete(en) = %d (%v)", n, err)
	}
	if _, err := f.blobs.Stat(ctx, blob.ChapterKey("story-1", "en", 0, "mp3")); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected blob deleted, got %v", err)
	}
	n, err = f.orch.Delete(ctx, "story-1", "")
	if err != nil || n != 1 {
		t.Fatalf("Delete(all) = %d (%v)", n, err)
	}
}

func TestListAndDeleteResolveRegionalLanguage(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	req := request(threeChapterStory)
	req.Language = "en-GB"
	if _, err := f.orch.Generate(ctx, req); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	listing, err := f.orch.List(ctx, "story-1", "EN-gb")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if listing.Language != "en" || len(listing.Chapters) != 3 {
		t.Fatalf("listing language=%s chapters=%d, want en/3", listing.Language, len(listing.Chapters))
	}

	n, err := f.orch.Delete(ctx, "story-1", "en-GB")
	if err != nil || n != 3 {
		t.Fatalf("Delete(en-GB) = %d (%v)", n, err)
	}
}
