// Package notifications publishes job outcomes to ntfy.
//
// The worker reports finished and failed generation jobs through Service.
// Without a configured topic NewService returns a no-op implementation.
package notifications
