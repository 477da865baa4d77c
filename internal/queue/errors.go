package queue

import "errors"

// ErrorClassifier allows errors to declare their classification for status mapping.
// Errors that implement this interface decide whether a failed job may be
// resubmitted as-is.
type ErrorClassifier interface {
	// ErrorKind returns a string classification of the error.
	// Known permanent kinds: "validation", "configuration", "not_found".
	ErrorKind() string
}

var (
	// ErrNotFound is returned when a job ID does not exist.
	ErrNotFound = errors.New("job not found")
	// ErrInvalidTransition is returned when a status change is not allowed
	// from the job's current status.
	ErrInvalidTransition = errors.New("invalid job status transition")
)

// IsPermanent reports whether err is classified as a failure that retrying
// with the same input cannot fix.
func IsPermanent(err error) bool {
	var classifier ErrorClassifier
	if errors.As(err, &classifier) {
		switch classifier.ErrorKind() {
		case "validation", "configuration", "not_found":
			return true
		}
	}
	return false
}
