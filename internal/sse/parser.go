package sse

import (
	"bytes"
	"log/slog"

	"narrator/internal/logging"
)

const dataPrefix = "data:"

// Parser turns stream fragments into messages. It is not safe for concurrent
// use; each connection gets its own Parser.
type Parser struct {
	buf    []byte
	logger *slog.Logger
}

// NewParser returns a Parser that logs dropped lines at debug level.
func NewParser(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Parser{logger: logger}
}

// ParseChunk appends fragment to the buffer and returns the messages decoded
// from every line completed by it. A trailing partial line stays buffered.
func (p *Parser) ParseChunk(fragment []byte) []Message {
	p.buf = append(p.buf, fragment...)
	cut := bytes.LastIndexByte(p.buf, '\n')
	if cut < 0 {
		return nil
	}

	var out []Message
	for line := range bytes.SplitSeq(p.buf[:cut], []byte{'\n'}) {
		if msg, ok := p.parseLine(line); ok {
			out = append(out, msg)
		}
	}

	remaining := len(p.buf) - cut - 1
	copy(p.buf, p.buf[cut+1:])
	p.buf = p.buf[:remaining]
	return out
}

// Flush parses any buffered partial line as if it were terminated.
func (p *Parser) Flush() []Message {
	if len(p.buf) == 0 {
		return nil
	}
	return p.ParseChunk([]byte{'\n'})
}

// Reset discards buffered data.
func (p *Parser) Reset() {
	p.buf = p.buf[:0]
}

// HasBufferedData reports whether a partial line is pending.
func (p *Parser) HasBufferedData() bool {
	return len(p.buf) > 0
}

// Buffered returns the pending partial line.
func (p *Parser) Buffered() string {
	return string(p.buf)
}

func (p *Parser) parseLine(line []byte) (Message, bool) {
	line = bytes.TrimSuffix(line, []byte{'\r'})
	if !bytes.HasPrefix(line, []byte(dataPrefix)) {
		return nil, false
	}
	payload := line[len(dataPrefix):]
	payload = bytes.TrimPrefix(payload, []byte{' '})
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil, false
	}
	msg, err := decodeMessage(payload)
	if err != nil {
		p.logger.Debug("dropped malformed stream line",
			logging.String(logging.FieldEventType, "stream_line_dropped"),
			logging.Int("line_bytes", len(line)),
			logging.Error(err),
		)
		return nil, false
	}
	return msg, true
}
