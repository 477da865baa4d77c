package testsupport

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"narrator/internal/synth"
)

// FakeSynthesizer is an in-memory synth.Synthesizer. Audio is derived from
// the request text so tests can assert which chapter produced which bytes.
type FakeSynthesizer struct {
	calls atomic.Int64

	mu       sync.Mutex
	failures map[string]error
	requests []synth.Request

	// Duration is reported for every result when non-zero.
	Duration time.Duration
	// Gate, when set, blocks each call until it is closed or ctx ends.
	Gate chan struct{}
}

// NewFakeSynthesizer returns a fake with no configured failures.
func NewFakeSynthesizer() *FakeSynthesizer {
	return &FakeSynthesizer{failures: make(map[string]error)}
}

// FailWhenContains makes any request whose text contains substr fail with err.
func (f *FakeSynthesizer) FailWhenContains(substr string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[substr] = err
}

// Calls returns how many Synthesize calls were made.
func (f *FakeSynthesizer) Calls() int {
	return int(f.calls.Load())
}

// Requests returns a copy of the recorded requests.
func (f *FakeSynthesizer) Requests() []synth.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]synth.Request(nil), f.requests...)
}

// Synthesize implements synth.Synthesizer.
func (f *FakeSynthesizer) Synthesize(ctx context.Context, req synth.Request) (*synth.Result, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.requests = append(f.requests, req)
	var failure error
	for substr, err := range f.failures {
		if strings.Contains(req.Text, substr) {
			failure = err
			break
		}
	}
	f.mu.Unlock()

	if f.Gate != nil {
		select {
		case <-f.Gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if failure != nil {
		return nil, failure
	}
	return &synth.Result{
		Audio:    []byte("audio:" + strings.TrimSpace(req.Text)),
		Duration: f.Duration,
		Format:   "mp3",
	}, nil
}
