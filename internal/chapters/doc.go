// Package chapters splits story text into narration-sized segments.
//
// Plan is pure and deterministic: identical text and options always yield
// identical segment boundaries, which keeps generation fingerprints stable
// across runs. Segment positions are byte offsets that partition the input
// exactly, so a caller can map any chapter back to its source span.
package chapters
