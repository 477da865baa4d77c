package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"narrator/internal/logging"
	"narrator/internal/narration"
	"narrator/internal/notifications"
	"narrator/internal/queue"
)

// Start begins background processing.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("workflow already running")
	}
	if m.runner == nil {
		return errors.New("workflow runner not configured")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(1)
	go m.run(runCtx)
	return nil
}

// Stop terminates background processing and waits for completion.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

func (m *Manager) run(ctx context.Context) {
	defer m.wg.Done()
	logger := m.logger

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := m.heartbeat.ReclaimStaleJobs(ctx, logger); err != nil && ctx.Err() == nil {
			logger.Warn("reclaim stale jobs failed; stuck jobs may remain",
				logging.Error(err),
				logging.String(logging.FieldEventType, "heartbeat_reclaim_failed"),
				logging.String(logging.FieldErrorHint, "check queue database access"),
			)
		}

		job, err := m.store.ClaimNext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.handleClaimError(ctx, logger, err)
			continue
		}
		if job == nil {
			m.waitForJobOrShutdown(ctx)
			continue
		}

		if err := m.processJob(ctx, job); errors.Is(err, context.Canceled) {
			return
		}
	}
}

func (m *Manager) processJob(ctx context.Context, job *queue.Job) error {
	ctx = logging.WithJobID(ctx, job.ID)
	ctx = logging.WithStory(ctx, job.StoryID, job.Language)
	logger := logging.WithContext(ctx, m.logger)
	m.setCurrent(job.ID)
	defer m.setCurrent("")

	logger.Info("job started",
		logging.Int("attempt", job.AttemptsMade),
		logging.String(logging.FieldEventType, "job_started"),
	)
	started := time.Now()

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		m.heartbeat.Run(hbCtx, job.ID)
	}()

	progress := func(done, planned int) {
		pct := 0.0
		if planned > 0 {
			pct = float64(done) * 100 / float64(planned)
		}
		err := m.store.UpdateProgress(ctx, job.ID, queue.Progress{
			Stage:   "generating",
			Percent: pct,
			Message: fmt.Sprintf("%d/%d chapters", done, planned),
		})
		if err != nil && ctx.Err() == nil {
			logger.Debug("progress update failed", logging.Error(err))
		}
	}

	result, runErr := m.runner.RunJob(ctx, job, progress)
	stopHeartbeat()
	<-heartbeatDone

	if ctx.Err() != nil {
		logger.Info("job interrupted by shutdown; it will be reset on restart",
			logging.String(logging.FieldEventType, "job_interrupted"),
		)
		return ctx.Err()
	}

	if runErr == nil && result == nil {
		result = &narration.Result{StoryID: job.StoryID, Language: job.Language}
	}
	var payload json.RawMessage
	if result != nil {
		encoded, err := json.Marshal(result.JobResult())
		if err != nil {
			logger.Warn("job result not encoded", logging.Error(err))
		} else {
			payload = encoded
		}
	}

	if runErr != nil {
		m.handleJobFailure(ctx, logger, job, runErr, payload)
		if err := m.notifier.NotifyJobFailed(ctx, jobSummary(job, result), runErr); err != nil {
			logger.Debug("failure notification not sent", logging.Error(err))
		}
		return runErr
	}

	if err := m.store.Complete(ctx, job.ID, payload); err != nil {
		m.setLastError(err)
		logger.Error("failed to persist job completion",
			logging.Error(err),
			logging.String(logging.FieldEventType, "job_persist_failed"),
			logging.String(logging.FieldErrorHint, "check queue database access"),
		)
		return err
	}
	m.recordOutcome(job.ID, true)
	logger.Info("job completed",
		logging.Int("generated_chapters", len(result.Chapters)),
		logging.Int("failed_chapters", len(result.FailedChapters)),
		logging.Duration("elapsed", time.Since(started)),
		logging.String(logging.FieldEventType, "job_completed"),
	)
	summary := jobSummary(job, result)
	summary.Elapsed = time.Since(started)
	if err := m.notifier.NotifyJobCompleted(ctx, summary); err != nil {
		logging.WarnWithContext(logger, "job notification failed", "notification_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "job outcome was not announced"),
		)
	}
	return nil
}

func jobSummary(job *queue.Job, result *narration.Result) notifications.JobSummary {
	summary := notifications.JobSummary{
		JobID:    job.ID,
		StoryID:  job.StoryID,
		Language: job.Language,
	}
	if result != nil {
		summary.Generated = len(result.Chapters)
		summary.Planned = result.PlannedChapters
		summary.Failed = len(result.FailedChapters)
		summary.Duration = result.TotalDuration
	}
	return summary
}

func (m *Manager) handleClaimError(ctx context.Context, logger *slog.Logger, err error) {
	m.setLastError(err)
	logger.Error("failed to claim next job",
		logging.Error(err),
		logging.String(logging.FieldEventType, "queue_fetch_failed"),
		logging.String(logging.FieldErrorHint, "check queue database access"),
	)
	select {
	case <-ctx.Done():
	case <-time.After(m.retryDelay):
	}
}

func (m *Manager) waitForJobOrShutdown(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(m.pollInterval):
	}
}
