// Package preflight provides readiness checks for the filesystem paths and
// the synthesis provider that narrator depends on.
//
// The daemon runs RunAll at startup, logs every failed check, and exposes the
// results on the status endpoint. A low-disk failure on the audio directory
// does not stop the daemon; generation writes simply start failing, so the
// warning is surfaced early.
package preflight
