package synth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"narrator/internal/sse"
)

func TestSynthesizeBatch(t *testing.T) {
	var got synthesizeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/synthesize" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer secret" {
			t.Errorf("unexpected auth header %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(batchResponse{Audio: []byte("RIFFdata"), Duration: 2.5, Format: "wav"})
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL + "/", APIKey: "secret", Format: "mp3"})
	res, err := client.Synthesize(context.Background(), Request{Text: "Hello.", Language: "en", Speaker: "nova", Pitch: 1, Pace: 1.1})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(res.Audio) != "RIFFdata" || res.Duration != 2500*time.Millisecond || res.Format != "wav" {
		t.Fatalf("unexpected result %+v", res)
	}
	if got.Text != "Hello." || got.Language != "en" || got.Speaker != "nova" || got.Pace != 1.1 || got.Stream {
		t.Fatalf("unexpected request payload %+v", got)
	}
}

func TestSynthesizeStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, msg := range []sse.Message{
			sse.AudioChunk{Data: []byte("ab"), Index: 0, Total: 2},
			sse.AudioChunkPart{Data: []byte("c"), Index: 1, Part: 0, TotalParts: 2},
			sse.AudioChunkPart{Data: []byte("d"), Index: 1, Part: 1, TotalParts: 2, IsLastPart: true},
			sse.Complete{},
		} {
			line, _ := sse.Encode(msg)
			_, _ = w.Write(line)
			flusher.Flush()
		}
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL, Stream: true, Format: "mp3"})
	res, err := client.Synthesize(context.Background(), Request{Text: "Hi.", Language: "en"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(res.Audio) != "abcd" || res.Format != "mp3" || res.Duration != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestSynthesizeStreamErrorEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		line, _ := sse.Encode(sse.Error{Message: "voice not found"})
		_, _ = w.Write(line)
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL, Stream: true})
	_, err := client.Synthesize(context.Background(), Request{Text: "Hi."})
	pe, ok := AsProviderError(err)
	if !ok || pe.Message != "voice not found" {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestSynthesizeRetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(batchResponse{Audio: []byte("ok")})
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL}, WithRetry(3, 0, 0))
	res, err := client.Synthesize(context.Background(), Request{Text: "Hi."})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(res.Audio) != "ok" || calls.Load() != 3 {
		t.Fatalf("expected success on third call, got %q after %d calls", res.Audio, calls.Load())
	}
}

func TestSynthesizeDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad speaker", http.StatusBadRequest)
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL}, WithRetry(3, 0, 0))
	_, err := client.Synthesize(context.Background(), Request{Text: "Hi."})
	var pe *ProviderError
	if !errors.As(err, &pe) || pe.Status != http.StatusBadRequest || pe.Message != "bad speaker" {
		t.Fatalf("expected 400 provider error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single call, got %d", calls.Load())
	}
}

func TestSynthesizeRequiresText(t *testing.T) {
	client := NewClient(Config{BaseURL: "http://127.0.0.1:1"})
	if _, err := client.Synthesize(context.Background(), Request{Text: "  "}); err == nil {
		t.Fatal("expected error for empty text")
	}
}

func TestPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	if err := NewClient(Config{BaseURL: srv.URL}).Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	srv.Close()
	if err := NewClient(Config{BaseURL: srv.URL}).Ping(context.Background()); err == nil {
		t.Fatal("expected ping failure against closed server")
	}
}

func TestParseRetryAfter(t *testing.T) {
	if d, ok := parseRetryAfter("7"); !ok || d != 7*time.Second {
		t.Fatalf("parseRetryAfter(7) = %v, %v", d, ok)
	}
	if _, ok := parseRetryAfter("soon"); ok {
		t.Fatal("expected invalid Retry-After to be rejected")
	}
}
