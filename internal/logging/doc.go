// Package logging builds the slog loggers shared by the daemon and CLI.
//
// Two handlers are available: a console handler that prints a compact,
// human-readable line per record (component prefix, job/story subject, then
// key=value pairs with byte sizes humanized) and a JSON handler for log
// shipping. Helpers in attrs.go standardize field names so that every package
// reports jobs, stories, languages, and chapters under the same keys.
package logging
