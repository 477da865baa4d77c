package sse

import (
	"context"
	"errors"
	"strings"
	"testing"
	"testing/iotest"
)

func TestAssemblerJoinsChunksAndParts(t *testing.T) {
	a := NewAssembler()
	msgs := []Message{
		AudioChunkPart{Data: []byte("lo"), Index: 1, Part: 1, TotalParts: 2, IsLastPart: true},
		AudioChunk{Data: []byte("hel"), Index: 0, Total: 3},
		AudioChunk{Data: []byte("!"), Index: 2, Total: 3},
		Complete{},
	}
	if err := a.Add(AudioChunkPart{Data: []byte("l"), Index: 1, Part: 0, TotalParts: 2}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	for _, msg := range msgs {
		if err := a.Add(msg); err != nil {
			t.Fatalf("Add(%#v): %v", msg, err)
		}
	}
	got, err := a.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	if string(got) != "hello!" {
		t.Fatalf("Bytes = %q, want hello!", got)
	}
}

func TestAssemblerRejectsMissingPart(t *testing.T) {
	a := NewAssembler()
	err := a.Add(AudioChunkPart{Data: []byte("x"), Index: 0, Part: 2, TotalParts: 3, IsLastPart: true})
	if err == nil || !strings.Contains(err.Error(), "missing part 0") {
		t.Fatalf("expected missing part error, got %v", err)
	}
}

func TestAssemblerRequiresCompletionAndAllChunks(t *testing.T) {
	a := NewAssembler()
	if err := a.Add(AudioChunk{Data: []byte("a"), Index: 0, Total: 2}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := a.Bytes(); !errors.Is(err, ErrIncomplete) {
		t.Fatalf("expected ErrIncomplete before Complete, got %v", err)
	}
	if err := a.Add(Complete{}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := a.Bytes(); !errors.Is(err, ErrIncomplete) {
		t.Fatalf("expected ErrIncomplete for missing chunk, got %v", err)
	}
}

func TestAssemblerSurfacesProviderError(t *testing.T) {
	err := NewAssembler().Add(Error{Message: "voice unavailable"})
	var remote *RemoteError
	if !errors.As(err, &remote) || remote.Message != "voice unavailable" {
		t.Fatalf("expected RemoteError, got %v", err)
	}
}

func TestReadStreamOneByteAtATime(t *testing.T) {
	stream := mustEncode(t,
		AudioChunk{Data: []byte("abc"), Index: 0, Total: 2},
		AudioChunkPart{Data: []byte("d"), Index: 1, Part: 0, TotalParts: 2},
		AudioChunkPart{Data: []byte("ef"), Index: 1, Part: 1, TotalParts: 2, IsLastPart: true},
		Complete{},
	)
	got, err := ReadStream(context.Background(), iotest.OneByteReader(strings.NewReader(string(stream))), nil)
	if err != nil {
		t.Fatalf("ReadStream: %v", err)
	}
	if string(got) != "abcdef" {
		t.Fatalf("ReadStream = %q", got)
	}
}

func TestReadStreamUnterminatedFinalLine(t *testing.T) {
	stream := string(mustEncode(t, AudioChunk{Data: []byte("z"), Index: 0, Total: 1})) + `data: {"type":"complete"}`
	got, err := ReadStream(context.Background(), strings.NewReader(stream), nil)
	if err != nil {
		t.Fatalf("ReadStream: %v", err)
	}
	if string(got) != "z" {
		t.Fatalf("ReadStream = %q", got)
	}
}

func TestReadStreamStopsOnProviderError(t *testing.T) {
	stream := mustEncode(t, Error{Message: "boom"}, Complete{})
	_, err := ReadStream(context.Background(), strings.NewReader(string(stream)), nil)
	var remote *RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("expected RemoteError, got %v", err)
	}
}

func TestReadStreamHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ReadStream(ctx, strings.NewReader("data: {}\n"), nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestReadStreamWithoutCompleteIsIncomplete(t *testing.T) {
	stream := mustEncode(t, AudioChunk{Data: []byte("a"), Index: 0, Total: 1})
	_, err := ReadStream(context.Background(), strings.NewReader(string(stream)), nil)
	if !errors.Is(err, ErrIncomplete) {
		t.Fatalf("expected ErrIncomplete, got %v", err)
	}
}
