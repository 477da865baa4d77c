// Package synth talks to the speech-synthesis provider.
package synth

import (
	"context"
	"time"
)

// Request is one synthesis call.
type Request struct {
	Text     string
	Language string
	Speaker  string
	Pitch    float64
	Pace     float64
}

// Result is the synthesized audio. Duration is zero when the provider did
// not report one.
type Result struct {
	Audio    []byte
	Duration time.Duration
	Format   string
}

// Synthesizer produces audio for a request.
type Synthesizer interface {
	Synthesize(ctx context.Context, req Request) (*Result, error)
}
