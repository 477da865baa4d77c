package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"narrator/internal/logging"
	"narrator/internal/narration"
	"narrator/internal/queue"
)

func (m *Manager) handleJobFailure(ctx context.Context, logger *slog.Logger, job *queue.Job, runErr error, payload json.RawMessage) {
	m.setLastError(runErr)
	m.recordOutcome(job.ID, false)

	attrs := []logging.Attr{
		logging.String("resolved_status", string(queue.StatusFailed)),
		logging.String("error_message", strings.TrimSpace(runErr.Error())),
		logging.Bool("permanent", queue.IsPermanent(runErr)),
		logging.Int("attempt", job.AttemptsMade),
		logging.Alert("job_failure"),
		logging.String(logging.FieldErrorHint, failureHint(runErr)),
		logging.Error(runErr),
		logging.String(logging.FieldEventType, "job_failure"),
	}
	logger.Error("job failed", logging.Args(attrs...)...)

	if err := m.store.Fail(ctx, job.ID, runErr, payload); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Debug("daemon shutting down, could not record job failure")
		} else {
			logger.Error("failed to persist job failure", logging.Error(err))
		}
	}
}

func failureHint(err error) string {
	var ve *narration.ValidationError
	if errors.As(err, &ve) {
		return "fix the request and submit a new job"
	}
	var jf *narration.JobFailure
	if errors.As(err, &jf) {
		return "check the synthesis provider, then retry the job"
	}
	return "check logs for details, then retry the job"
}
