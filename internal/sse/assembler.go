package sse

import (
	"errors"
	"fmt"
	"sort"
)

// ErrIncomplete is returned by Assembler.Bytes when the stream ended early.
var ErrIncomplete = errors.New("stream incomplete")

// RemoteError is a failure reported by the provider inside the stream.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return "provider stream error"
	}
	return "provider stream error: " + e.Message
}

// Assembler collects chunk messages into one audio payload.
type Assembler struct {
	chunks   map[int][]byte
	parts    map[int]map[int][]byte
	total    int
	complete bool
}

// NewAssembler returns an empty Assembler.
func NewAssembler() *Assembler {
	return &Assembler{
		chunks: make(map[int][]byte),
		parts:  make(map[int]map[int][]byte),
	}
}

// Add consumes one message. An Error message is returned as *RemoteError.
func (a *Assembler) Add(msg Message) error {
	switch m := msg.(type) {
	case AudioChunk:
		if m.Index < 0 {
			return fmt.Errorf("audio chunk: negative index %d", m.Index)
		}
		a.chunks[m.Index] = m.Data
		if m.Total > a.total {
			a.total = m.Total
		}
	case AudioChunkPart:
		return a.addPart(m)
	case Complete:
		a.complete = true
	case Error:
		return &RemoteError{Message: m.Message}
	default:
		return fmt.Errorf("unexpected stream message %T", msg)
	}
	return nil
}

func (a *Assembler) addPart(m AudioChunkPart) error {
	if m.Index < 0 || m.Part < 0 {
		return fmt.Errorf("audio chunk part: invalid position %d/%d", m.Index, m.Part)
	}
	parts := a.parts[m.Index]
	if parts == nil {
		parts = make(map[int][]byte)
		a.parts[m.Index] = parts
	}
	parts[m.Part] = m.Data
	if !m.IsLastPart {
		return nil
	}

	count := m.TotalParts
	if count <= 0 {
		count = m.Part + 1
	}
	size := 0
	for i := range count {
		data, ok := parts[i]
		if !ok {
			return fmt.Errorf("audio chunk %d: missing part %d of %d", m.Index, i, count)
		}
		size += len(data)
	}
	joined := make([]byte, 0, size)
	for i := range count {
		joined = append(joined, parts[i]...)
	}
	a.chunks[m.Index] = joined
	delete(a.parts, m.Index)
	return nil
}

// Done reports whether a Complete message has been seen.
func (a *Assembler) Done() bool {
	return a.complete
}

// Bytes concatenates the collected chunks in index order.
func (a *Assembler) Bytes() ([]byte, error) {
	if !a.complete {
		return nil, ErrIncomplete
	}
	if len(a.parts) > 0 {
		pending := make([]int, 0, len(a.parts))
		for idx := range a.parts {
			pending = append(pending, idx)
		}
		sort.Ints(pending)
		return nil, fmt.Errorf("audio chunk %d: last part never arrived: %w", pending[0], ErrIncomplete)
	}

	count := a.total
	for idx := range a.chunks {
		if idx+1 > count {
			count = idx + 1
		}
	}
	size := 0
	for i := range count {
		data, ok := a.chunks[i]
		if !ok {
			return nil, fmt.Errorf("audio chunk %d of %d missing: %w", i, count, ErrIncomplete)
		}
		size += len(data)
	}
	out := make([]byte, 0, size)
	for i := range count {
		out = append(out, a.chunks[i]...)
	}
	return out, nil
}
