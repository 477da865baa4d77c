package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// ChapterView describes one generated chapter.
type ChapterView struct {
	Index         int     `json:"index"`
	Language      string  `json:"language"`
	Speaker       string  `json:"speaker,omitempty"`
	Duration      float64 `json:"duration"`
	StartPosition int     `json:"startPosition"`
	EndPosition   int     `json:"endPosition"`
	SizeBytes     int64   `json:"sizeBytes"`
	AudioURL      string  `json:"audioUrl"`
	CreatedAt     string  `json:"createdAt,omitempty"`
}

// ListChaptersResponse is returned by GET /api/stories/{story}/chapters.
type ListChaptersResponse struct {
	StoryID            string        `json:"storyId"`
	Language           string        `json:"language"`
	Chapters           []ChapterView `json:"chapters"`
	TotalChapters      int           `json:"totalChapters"`
	TotalDuration      float64       `json:"totalDuration"`
	AvailableLanguages []string      `json:"availableLanguages"`
	SupportedLanguages []string      `json:"supportedLanguages"`
}

// GenerateRequest is the body of POST /api/stories/{story}/chapters.
// Omitted pitch and pace mean neutral.
type GenerateRequest struct {
	Text           string   `json:"text"`
	Language       string   `json:"language"`
	Speaker        string   `json:"speaker,omitempty"`
	TargetDuration float64  `json:"targetDuration,omitempty"`
	Pitch          *float64 `json:"pitch,omitempty"`
	Pace           *float64 `json:"pace,omitempty"`
	Async          bool     `json:"async,omitempty"`
}

// ChapterFailure identifies a planned chapter that did not generate.
type ChapterFailure struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// GenerateResponse is returned by a synchronous generation.
type GenerateResponse struct {
	StoryID         string           `json:"storyId"`
	Language        string           `json:"language"`
	Speaker         string           `json:"speaker"`
	Chapters        []ChapterView    `json:"chapters"`
	TotalDuration   float64          `json:"totalDuration"`
	PlannedChapters int              `json:"plannedChapters"`
	FailedChapters  []ChapterFailure `json:"failedChapters"`
	Error           string           `json:"error,omitempty"`
}

// JobAccepted is returned when generation is queued.
type JobAccepted struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
}

// JobProgress captures progress of a running job.
type JobProgress struct {
	Stage   string  `json:"stage"`
	Percent float64 `json:"percent"`
	Message string  `json:"message"`
}

// JobStatus describes a generation job.
type JobStatus struct {
	ID                string           `json:"id"`
	StoryID           string           `json:"storyId"`
	Language          string           `json:"language"`
	Status            string           `json:"status"`
	Progress          JobProgress      `json:"progress"`
	Error             string           `json:"error,omitempty"`
	Permanent         bool             `json:"permanent,omitempty"`
	AttemptsMade      int              `json:"attemptsMade"`
	PlannedChapters   int              `json:"plannedChapters,omitempty"`
	GeneratedChapters int              `json:"generatedChapters,omitempty"`
	TotalDuration     float64          `json:"totalDuration,omitempty"`
	FailedChapters    []ChapterFailure `json:"failedChapters"`
	CreatedAt         string           `json:"createdAt,omitempty"`
	UpdatedAt         string           `json:"updatedAt,omitempty"`
}

// Terminal reports whether the job reached completed or failed.
func (j JobStatus) Terminal() bool {
	return j.Status == "completed" || j.Status == "failed"
}

// DeleteResponse is returned by DELETE /api/stories/{story}/chapters.
type DeleteResponse struct {
	Deleted int `json:"deleted"`
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// WorkflowStatus summarizes the job worker.
type WorkflowStatus struct {
	Running    bool           `json:"running"`
	CurrentJob string         `json:"currentJob,omitempty"`
	QueueStats map[string]int `json:"queueStats"`
	Completed  int64          `json:"completed"`
	Failed     int64          `json:"failed"`
	LastError  string         `json:"lastError,omitempty"`
	LastJob    *JobStatus     `json:"lastJob,omitempty"`
}

// CacheStatus reports generation cache occupancy.
type CacheStatus struct {
	Entries     int     `json:"entries"`
	Bytes       int64   `json:"bytes"`
	MaxEntries  int     `json:"maxEntries"`
	MaxBytes    int64   `json:"maxBytes"`
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	Evictions   int64   `json:"evictions"`
	Expirations int64   `json:"expirations"`
	HitRate     float64 `json:"hitRate"`
}

// CheckStatus is the outcome of one preflight check.
type CheckStatus struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// DaemonStatus aggregates daemon runtime information.
type DaemonStatus struct {
	Running        bool           `json:"running"`
	PID            int            `json:"pid"`
	Bind           string         `json:"bind"`
	QueueDBPath    string         `json:"queueDbPath"`
	ChaptersDBPath string         `json:"chaptersDbPath"`
	LockFilePath   string         `json:"lockFilePath"`
	BlobBackend    string         `json:"blobBackend"`
	Workflow       WorkflowStatus `json:"workflow"`
	Cache          CacheStatus    `json:"cache"`
	Checks         []CheckStatus  `json:"checks"`
}
