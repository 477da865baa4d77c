// Package api defines the JSON wire types of the narrator HTTP API and the
// converters that build them from internal models. The daemon encodes these
// types and the client decodes them, so both sides share one definition.
//
// # Conventions
//
// Field names are camelCase. Durations are float seconds rounded to
// milliseconds. Timestamps use RFC3339 with milliseconds in UTC. Chapter
// views carry an audioUrl path that the range delivery endpoint serves.
//
// # Converters
//
// FromRecord/FromRecords: chapterstore.Record -> ChapterView.
//
// FromListing: narration.Listing -> ListChaptersResponse.
//
// FromResult: narration.Result -> GenerateResponse.
//
// FromJob: queue.Job -> JobStatus, including the decoded job result.
//
// FromStatusSummary: workflow.StatusSummary -> WorkflowStatus.
//
// FromCacheStats: gencache.Stats -> CacheStatus.
package api
