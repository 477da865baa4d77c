// Package daemon coordinates the long-running narrator process.
//
// It wires the queue and chapter stores, the generation cache, the
// orchestrator, and the workflow manager into a single lifecycle with
// flock-based locking to prevent multiple instances. On start it returns
// interrupted jobs to pending, runs the preflight checks, and serves the HTTP
// API: chapter listing, generation, deletion, job status and retry, range
// audio delivery, and daemon status.
//
// Keep orchestration logic here: generation itself lives in the narration
// package while the daemon focuses on startup, shutdown, and transport.
package daemon
