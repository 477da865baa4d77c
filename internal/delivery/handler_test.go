package delivery_test

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"narrator/internal/blob"
	"narrator/internal/chapterstore"
	"narrator/internal/delivery"
	"narrator/internal/logging"
	"narrator/internal/testsupport"
)

func TestParseRange(t *testing.T) {
	const size = 1000
	tests := []struct {
		header string
		want   delivery.Range
		ok     bool
	}{
		{"bytes=100-199", delivery.Range{Start: 100, End: 199}, true},
		{"bytes=0-999", delivery.Range{Start: 0, End: 999}, true},
		{"bytes=500-", delivery.Range{Start: 500, End: 999}, true},
		{"bytes=-100", delivery.Range{Start: 0, End: 100}, true},
		{" bytes=10-10 ", delivery.Range{Start: 10, End: 10}, true},
		{"bytes=1000-", delivery.Range{}, false},
		{"bytes=0-1000", delivery.Range{}, false},
		{"bytes=999-1000", delivery.Range{}, false},
		{"bytes=5-2", delivery.Range{}, false},
		{"bytes=-", delivery.Range{}, false},
		{"bytes=abc-", delivery.Range{}, false},
		{"bytes=+1-5", delivery.Range{}, false},
		{"bytes=0-1,5-6", delivery.Range{}, false},
		{"items=0-1", delivery.Range{}, false},
		{"bytes=10", delivery.Range{}, false},
		{"", delivery.Range{}, false},
	}
	for _, tt := range tests {
		got, ok := delivery.ParseRange(tt.header, size)
		if ok != tt.ok || got != tt.want {
			t.Errorf("ParseRange(%q) = %+v, %v; want %+v, %v", tt.header, got, ok, tt.want, tt.ok)
		}
	}
	if _, ok := delivery.ParseRange("bytes=0-0", 0); ok {
		t.Error("empty object must not satisfy any range")
	}
}

type chapterMap map[int]*chapterstore.Record

func (m chapterMap) Get(_ context.Context, storyID, language string, index int) (*chapterstore.Record, error) {
	rec, ok := m[index]
	if !ok || rec.StoryID != storyID || rec.Language != language {
		return nil, chapterstore.ErrNotFound
	}
	return rec, nil
}

// plainStore hides OpenRange so the handler sees a store without range support.
type plainStore struct {
	blob.Store
}

type fixture struct {
	data   []byte
	server *httptest.Server
}

func newFixture(t *testing.T, wrap func(blob.Store) blob.Store) *fixture {
	t.Helper()
	store, err := blob.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	data := testsupport.Audio(1000)
	key := blob.ChapterKey("story", "en", 0, "mp3")
	if err := store.Put(context.Background(), key, data); err != nil {
		t.Fatalf("Put: %v", err)
	}
	chapters := chapterMap{
		0: {StoryID: "story", Language: "en", ChapterIndex: 0, AudioLocation: key, Duration: 2500 * time.Millisecond},
		1: {StoryID: "story", Language: "en", ChapterIndex: 1, AudioLocation: blob.ChapterKey("story", "en", 1, "mp3")},
	}
	var blobs blob.Store = store
	if wrap != nil {
		blobs = wrap(store)
	}
	mux := http.NewServeMux()
	mux.Handle(delivery.Pattern, delivery.NewHandler(chapters, blobs, logging.NewNop()))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &fixture{data: data, server: srv}
}

func (f *fixture) do(t *testing.T, method, path, rangeHeader string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, f.server.URL+path, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}
	resp, err := f.server.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, body
}

func TestHandlerServesPartialContent(t *testing.T) {
	f := newFixture(t, nil)
	resp, body := f.do(t, http.MethodGet, delivery.AudioPath("story", "en", 0), "bytes=100-199")

	if resp.StatusCode != http.StatusPartialContent {
		t.Fatalf("status = %d, want 206", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Range"); got != "bytes 100-199/1000" {
		t.Fatalf("Content-Range = %q", got)
	}
	if got := resp.Header.Get("Content-Length"); got != "100" {
		t.Fatalf("Content-Length = %q", got)
	}
	if got := resp.Header.Get("Accept-Ranges"); got != "bytes" {
		t.Fatalf("Accept-Ranges = %q", got)
	}
	if got := resp.Header.Get("Content-Type"); got != "audio/mpeg" {
		t.Fatalf("Content-Type = %q", got)
	}
	if !bytes.Equal(body, f.data[100:200]) {
		t.Fatalf("body mismatch: got %d bytes", len(body))
	}
}

func TestHandlerServesFullContent(t *testing.T) {
	f := newFixture(t, nil)
	for _, header := range []string{"", "bytes=1000-", "bytes=5-2", "garbage"} {
		resp, body := f.do(t, http.MethodGet, delivery.AudioPath("story", "en", 0), header)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("range %q: status = %d, want 200", header, resp.StatusCode)
		}
		if resp.Header.Get("Content-Range") != "" {
			t.Fatalf("range %q: unexpected Content-Range", header)
		}
		if !bytes.Equal(body, f.data) {
			t.Fatalf("range %q: got %d bytes", header, len(body))
		}
	}
}

func TestHandlerWithoutRangeSupport(t *testing.T) {
	f := newFixture(t, func(s blob.Store) blob.Store { return plainStore{s} })
	resp, body := f.do(t, http.MethodGet, delivery.AudioPath("story", "en", 0), "bytes=0-9")
	if resp.StatusCode != http.StatusOK || len(body) != len(f.data) {
		t.Fatalf("status=%d len=%d, want full 200", resp.StatusCode, len(body))
	}
}

func TestHandlerHead(t *testing.T) {
	f := newFixture(t, nil)
	resp, body := f.do(t, http.MethodHead, delivery.AudioPath("story", "en", 0), "")
	if resp.StatusCode != http.StatusOK || len(body) != 0 {
		t.Fatalf("status=%d body=%d", resp.StatusCode, len(body))
	}
	if got := resp.Header.Get("Content-Length"); got != "1000" {
		t.Fatalf("Content-Length = %q", got)
	}
	if got := resp.Header.Get("X-Audio-Duration"); got != "2.500" {
		t.Fatalf("X-Audio-Duration = %q", got)
	}

	resp, _ = f.do(t, http.MethodHead, delivery.AudioPath("story", "en", 0), "bytes=0-9")
	if resp.StatusCode != http.StatusPartialContent || resp.Header.Get("Content-Range") != "bytes 0-9/1000" {
		t.Fatalf("ranged HEAD: status=%d range=%q", resp.StatusCode, resp.Header.Get("Content-Range"))
	}
}

func TestHandlerErrors(t *testing.T) {
	f := newFixture(t, nil)
	tests := []struct {
		name   string
		method string
		path   string
		status int
	}{
		{"unknown chapter", http.MethodGet, delivery.AudioPath("story", "en", 7), http.StatusNotFound},
		{"unknown story", http.MethodGet, delivery.AudioPath("other", "en", 0), http.StatusNotFound},
		{"missing blob", http.MethodGet, delivery.AudioPath("story", "en", 1), http.StatusNotFound},
		{"bad index", http.MethodGet, "/api/stories/story/chapters/en/first/audio", http.StatusBadRequest},
		{"negative index", http.MethodGet, "/api/stories/story/chapters/en/-1/audio", http.StatusBadRequest},
		{"wrong method", http.MethodPost, delivery.AudioPath("story", "en", 0), http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := f.do(t, tt.method, tt.path, "")
			if resp.StatusCode != tt.status {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.status)
			}
		})
	}
}

func TestAudioPathEscapes(t *testing.T) {
	if got := delivery.AudioPath("a b/c", "en", 3); got != "/api/stories/a%20b%2Fc/chapters/en/3/audio" {
		t.Fatalf("AudioPath = %q", got)
	}
}

// slowStore delays the first read of every opened blob.
type slowStore struct {
	blob.Store
	delay time.Duration
}

func (s slowStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	rc, err := s.Store.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	return &slowReader{ReadCloser: rc, delay: s.delay}, nil
}

type slowReader struct {
	io.ReadCloser
	delay time.Duration
	once  bool
}

func (r *slowReader) Read(p []byte) (int, error) {
	if !r.once {
		r.once = true
		time.Sleep(r.delay)
	}
	return r.ReadCloser.Read(p)
}

func TestFullBodyOutlivesServerWriteTimeout(t *testing.T) {
	store, err := blob.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	data := testsupport.Audio(1000)
	key := blob.ChapterKey("story", "en", 0, "mp3")
	if err := store.Put(context.Background(), key, data); err != nil {
		t.Fatalf("Put: %v", err)
	}
	chapters := chapterMap{0: {StoryID: "story", Language: "en", AudioLocation: key}}

	mux := http.NewServeMux()
	mux.Handle(delivery.Pattern, delivery.NewHandler(chapters, slowStore{Store: store, delay: 200 * time.Millisecond}, logging.NewNop()))
	srv := httptest.NewUnstartedServer(mux)
	srv.Config.WriteTimeout = 50 * time.Millisecond
	srv.Start()
	t.Cleanup(srv.Close)

	resp, err := srv.Client().Get(srv.URL + delivery.AudioPath("story", "en", 0))
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if resp.StatusCode != http.StatusOK || !bytes.Equal(body, data) {
		t.Fatalf("status=%d body=%d bytes, want 200 with %d bytes", resp.StatusCode, len(body), len(data))
	}
}
