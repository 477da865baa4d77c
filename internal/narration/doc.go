// Package narration drives chapter generation for one story language.
//
// The Orchestrator plans chapters, fans synthesis out with a bounded number
// of concurrent calls, deduplicates work through the generation cache, writes
// audio to the blob store and records each chapter. Generation is best effort
// per chapter: failures are reported in Result.FailedChapters and only a run
// with zero successes becomes a JobFailure.
//
// Asynchronous callers use Submit, which validates the request and enqueues
// a job. The workflow worker runs queued jobs through RunJob.
package narration
