package sse

import (
	"encoding/json"
	"fmt"
)

// Message type discriminants as they appear on the wire.
const (
	TypeAudioChunk     = "audio_chunk"
	TypeAudioChunkPart = "audio_chunk_part"
	TypeComplete       = "complete"
	TypeError          = "error"
)

// Message is one decoded stream event: AudioChunk, AudioChunkPart, Complete or Error.
type Message interface {
	Type() string
}

// AudioChunk carries a whole chunk of audio.
type AudioChunk struct {
	Data  []byte
	Index int
	Total int
}

// AudioChunkPart carries one part of a chunk that was split for transport.
// Parts sharing an Index are concatenated in Part order.
type AudioChunkPart struct {
	Data       []byte
	Index      int
	Part       int
	TotalParts int
	IsLastPart bool
}

// Complete marks the end of the stream.
type Complete struct{}

// Error reports a provider-side failure mid-stream.
type Error struct {
	Message string
}

func (AudioChunk) Type() string     { return TypeAudioChunk }
func (AudioChunkPart) Type() string { return TypeAudioChunkPart }
func (Complete) Type() string       { return TypeComplete }
func (Error) Type() string          { return TypeError }

type wireMessage struct {
	Type       string `json:"type"`
	Data       []byte `json:"data,omitempty"`
	Index      int    `json:"index"`
	Total      int    `json:"total,omitempty"`
	Part       int    `json:"part,omitempty"`
	TotalParts int    `json:"totalParts,omitempty"`
	IsLastPart bool   `json:"isLastPart,omitempty"`
	Message    string `json:"message,omitempty"`
}

func decodeMessage(payload []byte) (Message, error) {
	var wire wireMessage
	if err := json.Unmarshal(payload, &wire); err != nil {
		return nil, fmt.Errorf("decode stream message: %w", err)
	}
	switch wire.Type {
	case TypeAudioChunk:
		return AudioChunk{Data: wire.Data, Index: wire.Index, Total: wire.Total}, nil
	case TypeAudioChunkPart:
		return AudioChunkPart{
			Data:       wire.Data,
			Index:      wire.Index,
			Part:       wire.Part,
			TotalParts: wire.TotalParts,
			IsLastPart: wire.IsLastPart,
		}, nil
	case TypeComplete:
		return Complete{}, nil
	case TypeError:
		return Error{Message: wire.Message}, nil
	case "":
		return nil, fmt.Errorf("stream message missing type")
	default:
		return nil, fmt.Errorf("unknown stream message type %q", wire.Type)
	}
}

// Encode renders m as a single "data:" event terminated by a blank line.
func Encode(m Message) ([]byte, error) {
	var wire wireMessage
	switch v := m.(type) {
	case AudioChunk:
		wire = wireMessage{Type: TypeAudioChunk, Data: v.Data, Index: v.Index, Total: v.Total}
	case AudioChunkPart:
		wire = wireMessage{
			Type:       TypeAudioChunkPart,
			Data:       v.Data,
			Index:      v.Index,
			Part:       v.Part,
			TotalParts: v.TotalParts,
			IsLastPart: v.IsLastPart,
		}
	case Complete:
		wire = wireMessage{Type: TypeComplete}
	case Error:
		wire = wireMessage{Type: TypeError, Message: v.Message}
	default:
		return nil, fmt.Errorf("encode stream message: unsupported %T", m)
	}
	payload, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("encode stream message: %w", err)
	}
	out := make([]byte, 0, len(payload)+8)
	out = append(out, "data: "...)
	out = append(out, payload...)
	out = append(out, '\n', '\n')
	return out, nil
}
