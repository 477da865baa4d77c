package daemon_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"narrator/internal/api"
	"narrator/internal/blob"
	"narrator/internal/chapterstore"
	"narrator/internal/config"
	"narrator/internal/daemon"
	"narrator/internal/gencache"
	"narrator/internal/logging"
	"narrator/internal/narration"
	"narrator/internal/queue"
	"narrator/internal/testsupport"
	"narrator/internal/workflow"
)

const story = "Alpha one two three. Beta one two three. Gamma one two three."

type harness struct {
	cfg      *config.Config
	daemon   *daemon.Daemon
	queue    *queue.Store
	chapters *chapterstore.Store
	blobs    blob.Store
	synth    *testsupport.FakeSynthesizer
	orch     *narration.Orchestrator
	base     string
	token    string
}

func newHarness(t *testing.T, opts ...testsupport.ConfigOption) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	h := &harness{
		cfg:      cfg,
		queue:    testsupport.MustOpenQueue(t, cfg),
		chapters: testsupport.MustOpenChapters(t, cfg),
		blobs:    testsupport.MustOpenBlobs(t, cfg),
		synth:    testsupport.NewFakeSynthesizer(),
		token:    cfg.API.Token,
	}
	cache := gencache.New(gencache.Options{})
	t.Cleanup(cache.Dispose)

	orch, err := narration.New(narration.Dependencies{
		Synthesizer: h.synth,
		Cache:       cache,
		Blobs:       h.blobs,
		Chapters:    h.chapters,
		Jobs:        h.queue,
		Logger:      logging.NewNop(),
	}, narration.OptionsFromConfig(cfg))
	if err != nil {
		t.Fatalf("narration.New: %v", err)
	}
	h.orch = orch
	mgr := workflow.NewManager(cfg, h.queue, orch, logging.NewNop(), workflow.WithPollInterval(10*time.Millisecond))

	d, err := daemon.New(cfg, daemon.Services{
		Queue:     h.queue,
		Chapters:  h.chapters,
		Blobs:     h.blobs,
		Cache:     cache,
		Narration: orch,
		Workflow:  mgr,
	}, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	h.daemon = d
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.daemon.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(h.daemon.Stop)
	h.base = "http://" + h.daemon.Addr()
}

func (h *harness) request(t *testing.T, method, path string, body any, header http.Header) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequest(method, h.base+path, reader)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	for key, values := range header {
		req.Header[key] = values
	}
	if h.token != "" && req.Header.Get("Authorization") == "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return v
}

func TestDaemonStartStop(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	status := h.daemon.Status(context.Background())
	if !status.Running || !status.Workflow.Running || status.Bind == "" {
		t.Fatalf("unexpected status: %+v", status)
	}
	if len(status.Checks) == 0 {
		t.Fatal("expected preflight results")
	}

	// Second start should fail
	if err := h.daemon.Start(context.Background()); err == nil {
		t.Fatal("expected second start to fail")
	}

	h.daemon.Stop()
	if status := h.daemon.Status(context.Background()); status.Running || status.Bind != "" {
		t.Fatalf("expected daemon to be stopped: %+v", status)
	}
}

func TestDaemonLockPreventsSecondInstance(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	other, err := daemon.New(h.cfg, daemon.Services{
		Queue:     h.queue,
		Chapters:  h.chapters,
		Blobs:     h.blobs,
		Cache:     gencache.New(gencache.Options{}),
		Narration: h.orch,
		Workflow:  workflow.NewManager(h.cfg, h.queue, h.orch, logging.NewNop()),
	}, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := other.Start(context.Background()); err == nil || !strings.Contains(err.Error(), "already running") {
		other.Stop()
		t.Fatalf("expected lock conflict, got %v", err)
	}
}

func TestDaemonSyncGenerationAndDelivery(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	resp, data := h.request(t, http.MethodPost, "/api/stories/story-1/chapters",
		api.GenerateRequest{Text: story, Language: "en", TargetDuration: 2}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("generate status = %d: %s", resp.StatusCode, data)
	}
	gen := decode[api.GenerateResponse](t, data)
	if gen.PlannedChapters != 3 || len(gen.Chapters) != 3 || len(gen.FailedChapters) != 0 {
		t.Fatalf("unexpected generation: %+v", gen)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatal("expected a request id header")
	}

	resp, data = h.request(t, http.MethodGet, "/api/stories/story-1/chapters?language=en", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}
	listing := decode[api.ListChaptersResponse](t, data)
	if listing.TotalChapters != 3 || listing.AvailableLanguages[0] != "en" || len(listing.SupportedLanguages) == 0 {
		t.Fatalf("unexpected listing: %+v", listing)
	}

	resp, data = h.request(t, http.MethodGet, listing.Chapters[1].AudioURL, nil, http.Header{"Range": {"bytes=0-4"}})
	if resp.StatusCode != http.StatusPartialContent || string(data) != "audio" {
		t.Fatalf("range status=%d body=%q", resp.StatusCode, data)
	}
	resp, data = h.request(t, http.MethodGet, listing.Chapters[1].AudioURL, nil, nil)
	if resp.StatusCode != http.StatusOK || string(data) != "audio:Beta one two three." {
		t.Fatalf("full status=%d body=%q", resp.StatusCode, data)
	}

	resp, data = h.request(t, http.MethodDelete, "/api/stories/story-1/chapters?language=en", nil, nil)
	if resp.StatusCode != http.StatusOK || decode[api.DeleteResponse](t, data).Deleted != 3 {
		t.Fatalf("delete status=%d body=%s", resp.StatusCode, data)
	}
	resp, _ = h.request(t, http.MethodGet, listing.Chapters[0].AudioURL, nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("audio after delete = %d, want 404", resp.StatusCode)
	}
}

func TestDaemonRangeSeek(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	ctx := context.Background()

	audio := testsupport.Audio(1000)
	key := blob.ChapterKey("seek", "en", 0, "mp3")
	if err := h.blobs.Put(ctx, key, audio); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := h.chapters.Save(ctx, &chapterstore.Record{
		StoryID: "seek", Language: "en", ChapterIndex: 0, AudioLocation: key, SizeBytes: 1000,
	}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	resp, data := h.request(t, http.MethodGet, "/api/stories/seek/chapters/en/0/audio", nil, http.Header{"Range": {"bytes=100-199"}})
	if resp.StatusCode != http.StatusPartialContent {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Range"); got != "bytes 100-199/1000" {
		t.Fatalf("Content-Range = %q", got)
	}
	if !bytes.Equal(data, audio[100:200]) {
		t.Fatalf("got %d bytes, want the 100 requested", len(data))
	}
}

func TestDaemonAsyncGeneration(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	resp, data := h.request(t, http.MethodPost, "/api/stories/story-2/chapters",
		api.GenerateRequest{Text: story, Language: "fr", TargetDuration: 2, Async: true}, nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d: %s", resp.StatusCode, data)
	}
	accepted := decode[api.JobAccepted](t, data)
	if accepted.JobID == "" || accepted.Status != "pending" {
		t.Fatalf("unexpected acceptance: %+v", accepted)
	}

	job := waitForJob(t, h, accepted.JobID)
	if job.Status != "completed" || job.GeneratedChapters != 3 || job.Progress.Percent != 100 {
		t.Fatalf("unexpected job: %+v", job)
	}

	resp, data = h.request(t, http.MethodPost, "/api/jobs/"+accepted.JobID+"/retry", nil, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("retry of completed job = %d: %s", resp.StatusCode, data)
	}
}

func waitForJob(t *testing.T, h *harness, id string) api.JobStatus {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		resp, data := h.request(t, http.MethodGet, "/api/jobs/"+id, nil, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("job status = %d: %s", resp.StatusCode, data)
		}
		if job := decode[api.JobStatus](t, data); job.Terminal() {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish", id)
	return api.JobStatus{}
}

func TestDaemonResumesInterruptedJobs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	job, err := h.orch.Submit(ctx, narration.Request{StoryID: "story-3", Text: story, Language: "en", TargetDuration: 2 * time.Second})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	// A previous daemon claimed the job and died.
	if _, err := h.queue.ClaimNext(ctx); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}

	h.start(t)
	done := waitForJob(t, h, job.ID)
	if done.Status != "completed" || done.AttemptsMade != 2 {
		t.Fatalf("unexpected resumed job: %+v", done)
	}
}

func TestDaemonErrorMapping(t *testing.T) {
	h := newHarness(t)
	h.synth.FailWhenContains("doomed", errors.New("provider unavailable"))
	h.start(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
	}{
		{"missing text", http.MethodPost, "/api/stories/s/chapters", api.GenerateRequest{Language: "en"}, http.StatusBadRequest},
		{"unsupported language", http.MethodPost, "/api/stories/s/chapters", api.GenerateRequest{Text: "hi", Language: "xx"}, http.StatusBadRequest},
		{"all chapters fail", http.MethodPost, "/api/stories/s/chapters", api.GenerateRequest{Text: "doomed words", Language: "en"}, http.StatusBadGateway},
		{"unknown job", http.MethodGet, "/api/jobs/nope", nil, http.StatusNotFound},
		{"retry unknown job", http.MethodPost, "/api/jobs/nope/retry", nil, http.StatusNotFound},
		{"wrong method", http.MethodPut, "/api/stories/s/chapters", nil, http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, data := h.request(t, tt.method, tt.path, tt.body, nil)
			if resp.StatusCode != tt.status {
				t.Fatalf("status = %d, want %d: %s", resp.StatusCode, tt.status, data)
			}
		})
	}

	resp, data := h.request(t, http.MethodPost, "/api/stories/s/chapters", api.GenerateRequest{Text: "doomed words", Language: "en"}, nil)
	payload := decode[api.GenerateResponse](t, data)
	if resp.StatusCode != http.StatusBadGateway || payload.Error == "" || len(payload.FailedChapters) != 1 {
		t.Fatalf("unexpected failure payload: %+v", payload)
	}
}

func TestDaemonRequiresToken(t *testing.T) {
	h := newHarness(t, testsupport.WithAPIToken("secret"))
	h.start(t)

	resp, _ := h.request(t, http.MethodGet, "/api/status", nil, http.Header{"Authorization": {"Bearer wrong"}})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status with bad token = %d", resp.StatusCode)
	}
	resp, data := h.request(t, http.MethodGet, "/api/status", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status with token = %d", resp.StatusCode)
	}
	status := decode[api.DaemonStatus](t, data)
	if !status.Running || status.BlobBackend != "local" || status.Workflow.QueueStats == nil {
		t.Fatalf("unexpected daemon status: %+v", status)
	}
}
