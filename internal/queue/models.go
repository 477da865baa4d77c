package queue

import (
	"encoding/json"
	"strings"
	"time"
)

// Status represents a job lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

var allStatuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusCompleted,
	StatusFailed,
}

// JobTypeChapterGeneration is the job type for narrating a story language.
const JobTypeChapterGeneration = "chapter_generation"

// Job represents a persisted background job.
type Job struct {
	ID            string
	StoryID       string
	Language      string
	JobType       string
	Status        Status
	Config        json.RawMessage
	AttemptsMade  int
	Error         string
	Permanent     bool
	Result        json.RawMessage
	Progress      Progress
	CreatedAt     time.Time
	UpdatedAt     time.Time
	LastHeartbeat *time.Time
}

// Progress is the worker-reported position of a running job.
type Progress struct {
	Stage   string
	Percent float64
	Message string
}

// NewJob describes a job to enqueue.
type NewJob struct {
	StoryID  string
	Language string
	JobType  string
	Config   json.RawMessage
}

// HealthSummary describes aggregated queue counts per lifecycle state.
type HealthSummary struct {
	Total      int
	Pending    int
	Processing int
	Failed     int
	Completed  int
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	for _, s := range allStatuses {
		if s == normalized {
			return s, true
		}
	}
	return "", false
}

// IsTerminal reports whether no further transitions happen without a resubmit.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// IsProcessing returns true when a worker owns the job.
func (j Job) IsProcessing() bool {
	return j.Status == StatusProcessing
}
