// Package main hosts the narrator CLI.
//
// Commands talk to the narrator daemon over its HTTP API: generating and
// listing chapters, following jobs, and fetching chapter audio into the local
// client cache. Configuration resolution and output formatting live here so
// the commands stay declarative.
package main
