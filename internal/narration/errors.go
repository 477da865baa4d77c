package narration

import (
	"fmt"
	"strings"
)

// ValidationError rejects a request before any generation work starts.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid request: " + e.Message
	}
	return fmt.Sprintf("invalid request: %s: %s", e.Field, e.Message)
}

// ErrorKind implements queue.ErrorClassifier.
func (e *ValidationError) ErrorKind() string {
	return "validation"
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ChapterFailure records one chapter that could not be generated.
type ChapterFailure struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// JobFailure reports a generation that produced no usable chapters. Err is
// the first chapter failure or the collaborator error that stopped the run.
type JobFailure struct {
	StoryID  string
	Language string
	Planned  int
	Failures []ChapterFailure
	Err      error
}

func (e *JobFailure) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "generation failed for story %s (%s)", e.StoryID, e.Language)
	if e.Planned > 0 {
		fmt.Fprintf(&b, ": %d/%d chapters failed", len(e.Failures), e.Planned)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *JobFailure) Unwrap() error {
	return e.Err
}

// ErrorKind implements queue.ErrorClassifier.
func (e *JobFailure) ErrorKind() string {
	return "job_failure"
}
