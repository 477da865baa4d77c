// Package gencache keeps recently generated audio in memory so identical
// synthesis requests are served without calling the provider again.
//
// The cache is bounded by entry count and total bytes, evicts least recently
// used entries first, and expires entries after a fixed TTL. Concurrent misses
// for one fingerprint are coalesced by Do.
package gencache
