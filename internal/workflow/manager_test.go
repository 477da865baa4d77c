package workflow_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"narrator/internal/chapterstore"
	"narrator/internal/logging"
	"narrator/internal/narration"
	"narrator/internal/queue"
	"narrator/internal/testsupport"
	"narrator/internal/workflow"
)

type stubRunner struct {
	mu      sync.Mutex
	runs    []string
	result  *narration.Result
	err     error
	block   chan struct{}
	started chan string
}

func (s *stubRunner) RunJob(ctx context.Context, job *queue.Job, progress narration.ProgressFunc) (*narration.Result, error) {
	s.mu.Lock()
	s.runs = append(s.runs, job.ID)
	s.mu.Unlock()
	if s.started != nil {
		s.started <- job.ID
	}
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if progress != nil {
		progress(1, 2)
		progress(2, 2)
	}
	return s.result, s.err
}

func (s *stubRunner) runCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runs)
}

func waitForStatus(t *testing.T, store *queue.Store, id string, want queue.Status) *queue.Job {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		job, err := store.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if job.Status == want {
			return job
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s, job is %s", want, job.Status)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func startManager(t *testing.T, store *queue.Store, runner workflow.JobRunner) *workflow.Manager {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	mgr := workflow.NewManager(cfg, store, runner, logging.NewNop(),
		workflow.WithPollInterval(10*time.Millisecond),
		workflow.WithHeartbeat(20*time.Millisecond, time.Minute),
	)
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(mgr.Stop)
	return mgr
}

func TestManagerCompletesJobs(t *testing.T) {
	store := testsupport.MustOpenQueue(t, testsupport.NewConfig(t))
	runner := &stubRunner{result: &narration.Result{
		StoryID:         "story",
		Language:        "en",
		PlannedChapters: 2,
		Chapters:        []*chapterstore.Record{{ChapterIndex: 0, Duration: time.Second}},
		FailedChapters:  []narration.ChapterFailure{{Index: 1, Error: "boom"}},
		TotalDuration:   time.Second,
	}}
	mgr := startManager(t, store, runner)

	job, err := store.Enqueue(context.Background(), queue.NewJob{StoryID: "story", Language: "en"})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	done := waitForStatus(t, store, job.ID, queue.StatusCompleted)

	res, err := narration.DecodeJobResult(done)
	if err != nil {
		t.Fatalf("DecodeJobResult: %v", err)
	}
	if res.GeneratedChapters != 1 || len(res.FailedChapters) != 1 || res.FailedChapters[0].Index != 1 {
		t.Fatalf("unexpected stored result: %+v", res)
	}
	if done.Progress.Percent != 100 {
		t.Fatalf("progress = %v, want 100", done.Progress.Percent)
	}

	status := mgr.Status(context.Background())
	if !status.Running || status.Completed != 1 || status.LastJob == nil || status.LastJob.ID != job.ID {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestManagerRecordsFailures(t *testing.T) {
	store := testsupport.MustOpenQueue(t, testsupport.NewConfig(t))
	runner := &stubRunner{
		result: &narration.Result{PlannedChapters: 2, FailedChapters: []narration.ChapterFailure{{Index: 0}, {Index: 1}}},
		err:    &narration.JobFailure{StoryID: "story", Language: "en", Planned: 2, Err: errors.New("provider down")},
	}
	mgr := startManager(t, store, runner)

	job, err := store.Enqueue(context.Background(), queue.NewJob{StoryID: "story", Language: "en"})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	failed := waitForStatus(t, store, job.ID, queue.StatusFailed)
	if failed.Error == "" || failed.Permanent {
		t.Fatalf("unexpected failed job: %+v", failed)
	}
	res, _ := narration.DecodeJobResult(failed)
	if res == nil || len(res.FailedChapters) != 2 {
		t.Fatalf("expected partial result on failed job, got %+v", res)
	}
	if status := mgr.Status(context.Background()); status.Failed != 1 || status.LastError == "" {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestManagerStopLeavesJobProcessing(t *testing.T) {
	store := testsupport.MustOpenQueue(t, testsupport.NewConfig(t))
	runner := &stubRunner{block: make(chan struct{}), started: make(chan string, 1)}
	mgr := startManager(t, store, runner)

	job, err := store.Enqueue(context.Background(), queue.NewJob{StoryID: "story", Language: "en"})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	select {
	case <-runner.started:
	case <-time.After(10 * time.Second):
		t.Fatal("job never started")
	}
	mgr.Stop()

	got, _ := store.Get(context.Background(), job.ID)
	if got.Status != queue.StatusProcessing {
		t.Fatalf("status = %s, want processing until restart", got.Status)
	}
	if n, err := store.ResetStuckProcessing(context.Background()); err != nil || n != 1 {
		t.Fatalf("ResetStuckProcessing = %d (%v)", n, err)
	}
}

func TestManagerStartTwice(t *testing.T) {
	store := testsupport.MustOpenQueue(t, testsupport.NewConfig(t))
	mgr := startManager(t, store, &stubRunner{result: &narration.Result{}})
	if err := mgr.Start(context.Background()); err == nil {
		t.Fatal("expected error starting twice")
	}
}

func TestManagerReclaimsStaleJobs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenQueue(t, cfg)
	ctx := context.Background()

	job, err := store.Enqueue(ctx, queue.NewJob{StoryID: "story", Language: "en"})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	// Simulate a worker that claimed the job and vanished.
	if _, err := store.ClaimNext(ctx); err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}

	runner := &stubRunner{result: &narration.Result{}}
	mgr := workflow.NewManager(cfg, store, runner, logging.NewNop(),
		workflow.WithPollInterval(10*time.Millisecond),
		workflow.WithHeartbeat(time.Hour, time.Nanosecond),
	)
	if err := mgr.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(mgr.Stop)

	done := waitForStatus(t, store, job.ID, queue.StatusCompleted)
	if done.AttemptsMade != 2 || runner.runCount() != 1 {
		t.Fatalf("attempts=%d runs=%d", done.AttemptsMade, runner.runCount())
	}
}
