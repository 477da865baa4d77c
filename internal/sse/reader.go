package sse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

const readBufferSize = 32 * 1024

// ReadStream drives a Parser and Assembler over r until the provider signals
// completion, then returns the assembled audio.
func ReadStream(ctx context.Context, r io.Reader, logger *slog.Logger) ([]byte, error) {
	parser := NewParser(logger)
	assembler := NewAssembler()
	buf := make([]byte, readBufferSize)

	feed := func(msgs []Message) error {
		for _, msg := range msgs {
			if err := assembler.Add(msg); err != nil {
				return err
			}
			if assembler.Done() {
				return nil
			}
		}
		return nil
	}

	for !assembler.Done() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, readErr := r.Read(buf)
		if n > 0 {
			if err := feed(parser.ParseChunk(buf[:n])); err != nil {
				return nil, err
			}
		}
		if readErr != nil {
			if !errors.Is(readErr, io.EOF) {
				return nil, fmt.Errorf("read stream: %w", readErr)
			}
			if err := feed(parser.Flush()); err != nil {
				return nil, err
			}
			break
		}
	}
	return assembler.Bytes()
}
