package queue

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"narrator/internal/config"
	"narrator/internal/sqlitestore"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is bumped whenever schema.sql changes.
const schemaVersion = 1

// Store wraps the SQLite database that persists job state.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open initializes or connects to the queue database configured in cfg.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(context.Background(), cfg.QueueDBPath())
}

// OpenPath opens the queue database at path.
func OpenPath(ctx context.Context, path string) (*Store, error) {
	db, err := sqlitestore.Open(ctx, path, sqlitestore.Schema{Name: "queue", SQL: schemaSQL, Version: schemaVersion})
	if err != nil {
		return nil, err
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) timestamp() string {
	return sqlitestore.FormatTime(s.now())
}

// Enqueue inserts a pending job with a fresh ID.
func (s *Store) Enqueue(ctx context.Context, nj NewJob) (*Job, error) {
	if strings.TrimSpace(nj.StoryID) == "" || strings.TrimSpace(nj.Language) == "" {
		return nil, errors.New("enqueue job: story id and language required")
	}
	jobType := nj.JobType
	if jobType == "" {
		jobType = JobTypeChapterGeneration
	}
	cfg := nj.Config
	if len(cfg) == 0 {
		cfg = json.RawMessage("{}")
	}
	id := uuid.NewString()
	now := s.timestamp()
	_, err := sqlitestore.Exec(ctx, s.db, `
		INSERT INTO jobs (id, story_id, language, job_type, status, config, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, nj.StoryID, nj.Language, jobType, StatusPending, string(cfg), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("enqueue job: %w", err)
	}
	return s.Get(ctx, id)
}

const jobColumns = `id, story_id, language, job_type, status, config, attempts_made, error_message,
	permanent, result, progress_stage, progress_percent, progress_message, created_at, updated_at, last_heartbeat`

// Get fetches a job by ID.
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE id = ?", id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// List returns jobs in creation order, filtered by status when any are given.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Job, error) {
	query := "SELECT " + jobColumns + " FROM jobs"
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",")
		query += " WHERE status IN (" + placeholders + ")"
		for _, st := range statuses {
			args = append(args, st)
		}
	}
	query += " ORDER BY created_at, rowid"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("list jobs: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// ClaimNext moves the oldest pending job to processing and returns it.
// It returns nil when nothing is pending.
func (s *Store) ClaimNext(ctx context.Context) (*Job, error) {
	now := s.timestamp()
	var job *Job
	err := sqlitestore.RetryOnBusy(ctx, func() error {
		row := s.db.QueryRowContext(ctx, `
			UPDATE jobs SET
				status = ?,
				attempts_made = attempts_made + 1,
				error_message = '',
				progress_stage = 'claimed',
				progress_percent = 0,
				progress_message = '',
				updated_at = ?,
				last_heartbeat = ?
			WHERE id = (
				SELECT id FROM jobs WHERE status = ? ORDER BY created_at, rowid LIMIT 1
			)
			RETURNING `+jobColumns,
			StatusProcessing, now, now, StatusPending,
		)
		var scanErr error
		job, scanErr = scanJob(row)
		return scanErr
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return job, nil
}

// UpdateHeartbeat stamps a processing job as alive.
func (s *Store) UpdateHeartbeat(ctx context.Context, id string) error {
	now := s.timestamp()
	return s.transition(ctx, id, "update heartbeat",
		"last_heartbeat = ?, updated_at = ?", []any{now, now}, StatusProcessing)
}

// UpdateProgress records worker-reported progress for a processing job.
func (s *Store) UpdateProgress(ctx context.Context, id string, p Progress) error {
	now := s.timestamp()
	return s.transition(ctx, id, "update progress",
		"progress_stage = ?, progress_percent = ?, progress_message = ?, last_heartbeat = ?, updated_at = ?",
		[]any{p.Stage, p.Percent, p.Message, now, now}, StatusProcessing)
}

// Complete marks a processing job completed and stores its result.
func (s *Store) Complete(ctx context.Context, id string, result json.RawMessage) error {
	var payload any
	if len(result) > 0 {
		payload = string(result)
	}
	return s.transition(ctx, id, "complete job",
		"status = ?, result = ?, progress_stage = 'completed', progress_percent = 100, progress_message = '', last_heartbeat = NULL, updated_at = ?",
		[]any{StatusCompleted, payload, s.timestamp()}, StatusProcessing)
}

// Fail marks a processing job failed. A partial result may accompany the
// error; permanent failures are flagged via ErrorClassifier.
func (s *Store) Fail(ctx context.Context, id string, cause error, result json.RawMessage) error {
	if cause == nil {
		cause = errors.New("unknown failure")
	}
	var payload any
	if len(result) > 0 {
		payload = string(result)
	}
	msg := cause.Error()
	return s.transition(ctx, id, "fail job",
		"status = ?, error_message = ?, permanent = ?, result = ?, progress_stage = 'failed', progress_percent = 0, progress_message = ?, last_heartbeat = NULL, updated_at = ?",
		[]any{StatusFailed, msg, boolToInt(IsPermanent(cause)), payload, msg, s.timestamp()}, StatusProcessing)
}

// Resubmit returns a failed job to pending with its original config.
func (s *Store) Resubmit(ctx context.Context, id string) (*Job, error) {
	err := s.transition(ctx, id, "resubmit job",
		"status = ?, error_message = '', permanent = 0, result = NULL, progress_stage = '', progress_percent = 0, progress_message = '', last_heartbeat = NULL, updated_at = ?",
		[]any{StatusPending, s.timestamp()}, StatusFailed)
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// transition applies set to job id when its status is from. It reports
// ErrNotFound or ErrInvalidTransition when no row matched.
func (s *Store) transition(ctx context.Context, id, op, set string, args []any, from Status) error {
	args = append(args, id, from)
	res, err := sqlitestore.Exec(ctx, s.db, "UPDATE jobs SET "+set+" WHERE id = ? AND status = ?", args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n > 0 {
		return nil
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: job %s is %s, expected %s", op, ErrInvalidTransition, id, current.Status, from)
}

// ResetStuckProcessing returns every processing job to pending. The daemon
// calls it at startup, when no worker can still own a job.
func (s *Store) ResetStuckProcessing(ctx context.Context) (int64, error) {
	res, err := sqlitestore.Exec(ctx, s.db, `
		UPDATE jobs SET status = ?, progress_stage = '', progress_message = 'reset after restart',
			last_heartbeat = NULL, updated_at = ?
		WHERE status = ?`,
		StatusPending, s.timestamp(), StatusProcessing,
	)
	if err != nil {
		return 0, fmt.Errorf("reset stuck jobs: %w", err)
	}
	return res.RowsAffected()
}

// ReclaimStaleProcessing returns processing jobs whose heartbeat is older
// than cutoff to pending.
func (s *Store) ReclaimStaleProcessing(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := sqlitestore.Exec(ctx, s.db, `
		UPDATE jobs SET status = ?, progress_stage = '', progress_message = 'reclaimed after missed heartbeat',
			last_heartbeat = NULL, updated_at = ?
		WHERE status = ? AND (last_heartbeat IS NULL OR last_heartbeat < ?)`,
		StatusPending, s.timestamp(), StatusProcessing, sqlitestore.FormatTime(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale jobs: %w", err)
	}
	return res.RowsAffected()
}

// Stats returns job counts grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM jobs GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int, len(allStatuses))
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("job stats: %w", err)
		}
		stats[Status(status)] = count
	}
	return stats, rows.Err()
}

// Health summarizes Stats into the lifecycle buckets.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	summary := HealthSummary{
		Pending:    stats[StatusPending],
		Processing: stats[StatusProcessing],
		Failed:     stats[StatusFailed],
		Completed:  stats[StatusCompleted],
	}
	for _, count := range stats {
		summary.Total += count
	}
	return summary, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*Job, error) {
	var (
		job        Job
		status     string
		cfg        string
		permanent  int
		result     sql.NullString
		createdAt  string
		updatedAt  string
		heartbeatS sql.NullString
	)
	if err := row.Scan(
		&job.ID, &job.StoryID, &job.Language, &job.JobType, &status, &cfg, &job.AttemptsMade,
		&job.Error, &permanent, &result, &job.Progress.Stage, &job.Progress.Percent,
		&job.Progress.Message, &createdAt, &updatedAt, &heartbeatS,
	); err != nil {
		return nil, err
	}
	job.Status = Status(status)
	job.Config = json.RawMessage(cfg)
	job.Permanent = permanent != 0
	if result.Valid && result.String != "" {
		job.Result = json.RawMessage(result.String)
	}
	var err error
	if job.CreatedAt, err = sqlitestore.ParseTime(createdAt); err != nil {
		return nil, err
	}
	if job.UpdatedAt, err = sqlitestore.ParseTime(updatedAt); err != nil {
		return nil, err
	}
	if heartbeatS.Valid && heartbeatS.String != "" {
		if hb, err := sqlitestore.ParseTime(heartbeatS.String); err == nil {
			job.LastHeartbeat = &hb
		}
	}
	return &job, nil
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
