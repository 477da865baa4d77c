// Package queue persists generation jobs in SQLite and exposes helpers for
// driving their lifecycle.
//
// A job moves pending -> processing -> completed or failed. The Store owns
// those transitions: ClaimNext atomically hands the oldest pending job to a
// worker, heartbeats mark it alive, and ReclaimStaleProcessing returns jobs
// whose worker vanished to the pending state. Failed jobs can be resubmitted
// with their original config.
//
// The database is treated as transient storage for in-flight and recent jobs
// rather than a long-term archive. Schema changes bump schemaVersion; users
// clear the database to adopt the new schema.
package queue
