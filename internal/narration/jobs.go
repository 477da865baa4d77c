package narration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"narrator/internal/logging"
	"narrator/internal/queue"
)

// jobConfig is the JSON persisted with a queued job.
type jobConfig struct {
	StoryID               string  `json:"storyId"`
	Text                  string  `json:"text"`
	Language              string  `json:"language"`
	Speaker               string  `json:"speaker"`
	Pitch                 float64 `json:"pitch"`
	Pace                  float64 `json:"pace"`
	TargetDurationSeconds float64 `json:"targetDurationSeconds"`
}

// JobResult is the JSON stored on a finished job.
type JobResult struct {
	StoryID              string           `json:"storyId"`
	Language             string           `json:"language"`
	Speaker              string           `json:"speaker"`
	PlannedChapters      int              `json:"plannedChapters"`
	GeneratedChapters    int              `json:"generatedChapters"`
	TotalDurationSeconds float64          `json:"totalDuration"`
	FailedChapters       []ChapterFailure `json:"failedChapters"`
}

// JobResult summarizes r for storage on its job.
func (r *Result) JobResult() JobResult {
	failed := r.FailedChapters
	if failed == nil {
		failed = []ChapterFailure{}
	}
	return JobResult{
		StoryID:              r.StoryID,
		Language:             r.Language,
		Speaker:              r.Speaker,
		PlannedChapters:      r.PlannedChapters,
		GeneratedChapters:    len(r.Chapters),
		TotalDurationSeconds: math.Round(r.TotalDuration.Seconds()*1000) / 1000,
		FailedChapters:       failed,
	}
}

// DecodeJobResult reads the result stored on a job. It returns nil when the
// job has none.
func DecodeJobResult(job *queue.Job) (*JobResult, error) {
	if job == nil || len(job.Result) == 0 {
		return nil, nil
	}
	var res JobResult
	if err := json.Unmarshal(job.Result, &res); err != nil {
		return nil, fmt.Errorf("decode job %s result: %w", job.ID, err)
	}
	return &res, nil
}

// Submit validates req and enqueues it for the job worker.
func (o *Orchestrator) Submit(ctx context.Context, req Request) (*queue.Job, error) {
	if o.jobs == nil {
		return nil, errors.New("submit: job store not configured")
	}
	req, err := o.normalize(req)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(jobConfig{
		StoryID:               req.StoryID,
		Text:                  req.Text,
		Language:              req.Language,
		Speaker:               req.Speaker,
		Pitch:                 req.Pitch,
		Pace:                  req.Pace,
		TargetDurationSeconds: req.TargetDuration.Seconds(),
	})
	if err != nil {
		return nil, fmt.Errorf("submit: encode job config: %w", err)
	}
	job, err := o.jobs.Enqueue(ctx, queue.NewJob{
		StoryID:  req.StoryID,
		Language: req.Language,
		JobType:  queue.JobTypeChapterGeneration,
		Config:   payload,
	})
	if err != nil {
		return nil, fmt.Errorf("submit: %w", err)
	}
	o.logger.Info("generation job queued",
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldStoryID, job.StoryID),
		logging.String(logging.FieldLanguage, job.Language),
		logging.String(logging.FieldEventType, "job_queued"),
	)
	return job, nil
}

// RunJob decodes a queued job's config and generates it.
func (o *Orchestrator) RunJob(ctx context.Context, job *queue.Job, progress ProgressFunc) (*Result, error) {
	if job == nil {
		return nil, errors.New("run job: job required")
	}
	if job.JobType != queue.JobTypeChapterGeneration {
		return nil, &ValidationError{Field: "jobType", Message: fmt.Sprintf("unsupported job type %q", job.JobType)}
	}
	var cfg jobConfig
	if err := json.Unmarshal(job.Config, &cfg); err != nil {
		return nil, &ValidationError{Field: "config", Message: fmt.Sprintf("decode job config: %v", err)}
	}
	ctx = logging.WithJobID(ctx, job.ID)
	return o.generate(ctx, Request{
		StoryID:        cfg.StoryID,
		Text:           cfg.Text,
		Language:       cfg.Language,
		Speaker:        cfg.Speaker,
		Pitch:          cfg.Pitch,
		Pace:           cfg.Pace,
		TargetDuration: time.Duration(cfg.TargetDurationSeconds * float64(time.Second)),
		Mode:           ModeAsync,
	}, progress)
}

// Job returns a job by ID.
func (o *Orchestrator) Job(ctx context.Context, id string) (*queue.Job, error) {
	if o.jobs == nil {
		return nil, errors.New("job store not configured")
	}
	return o.jobs.Get(ctx, id)
}

// Resubmit re-queues a failed job with its original config. Jobs that failed
// validation, or that used up their attempts, are refused.
func (o *Orchestrator) Resubmit(ctx context.Context, id string) (*queue.Job, error) {
	job, err := o.Job(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != queue.StatusFailed {
		return nil, fmt.Errorf("resubmit job %s: %w: status is %s", id, queue.ErrInvalidTransition, job.Status)
	}
	if job.Permanent {
		return nil, invalid("jobId", "job %s failed permanently: %s", id, job.Error)
	}
	if limit := o.opts.JobMaxAttempts; limit > 0 && job.AttemptsMade >= limit {
		return nil, invalid("jobId", "job %s already made %d of %d attempts", id, job.AttemptsMade, limit)
	}
	job, err = o.jobs.Resubmit(ctx, id)
	if err != nil {
		return nil, err
	}
	o.logger.Info("generation job resubmitted",
		logging.String(logging.FieldJobID, job.ID),
		logging.Int("attempts_made", job.AttemptsMade),
		logging.String(logging.FieldEventType, "job_resubmitted"),
	)
	return job, nil
}
