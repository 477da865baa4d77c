// Package sse reassembles streamed synthesis responses.
//
// A provider streams newline-delimited "data: <json>" lines whose fragments
// can arrive at arbitrary byte boundaries. Parser buffers the trailing partial
// line between calls so the decoded messages match what parsing the whole
// stream at once would yield. Assembler turns the decoded messages into a
// single audio payload.
package sse
