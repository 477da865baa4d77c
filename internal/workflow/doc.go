// Package workflow runs queued generation jobs.
//
// The Manager polls the queue, claims the oldest pending job, and hands it to
// a JobRunner while a heartbeat loop keeps the job marked alive. Progress
// reported by the runner is persisted on the job. A run that returns an error
// marks the job failed; a run that returns a result completes it, even when
// some chapters failed. Jobs whose heartbeat stops (a crashed worker) are
// reclaimed back to pending before each poll.
//
// Shutdown cancels the running job's context. The job stays processing and is
// reset to pending on the next daemon start.
package workflow
