package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"narrator/internal/blob"
	"narrator/internal/chapterstore"
	"narrator/internal/logging"
)

// Pattern is the ServeMux pattern the Handler expects.
const Pattern = "/api/stories/{story}/chapters/{lang}/{index}/audio"

// AudioPath returns the URL path of one chapter's audio.
func AudioPath(storyID, language string, index int) string {
	return fmt.Sprintf("/api/stories/%s/chapters/%s/%d/audio",
		url.PathEscape(storyID), url.PathEscape(language), index)
}

// ChapterLookup finds chapter records.
type ChapterLookup interface {
	Get(ctx context.Context, storyID, language string, index int) (*chapterstore.Record, error)
}

// Handler serves GET and HEAD for chapter audio. It is stateless and safe
// for concurrent use.
type Handler struct {
	chapters ChapterLookup
	blobs    blob.Store
	logger   *slog.Logger
}

// NewHandler builds a Handler.
func NewHandler(chapters ChapterLookup, blobs blob.Store, logger *slog.Logger) *Handler {
	return &Handler{
		chapters: chapters,
		blobs:    blobs,
		logger:   logging.NewComponentLogger(logger, "delivery"),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	storyID := r.PathValue("story")
	lang := strings.ToLower(r.PathValue("lang"))
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil || index < 0 || storyID == "" || lang == "" {
		writeError(w, http.StatusBadRequest, "invalid chapter reference")
		return
	}

	ctx := r.Context()
	rec, err := h.chapters.Get(ctx, storyID, lang, index)
	if errors.Is(err, chapterstore.ErrNotFound) {
		writeError(w, http.StatusNotFound, "chapter not found")
		return
	}
	if err != nil {
		h.logger.Error("chapter lookup failed", logging.Error(err))
		writeError(w, http.StatusInternalServerError, "chapter lookup failed")
		return
	}
	info, err := h.blobs.Stat(ctx, rec.AudioLocation)
	if errors.Is(err, fs.ErrNotExist) {
		logging.WarnWithContext(h.logger, "chapter audio missing from blob store", "audio_missing",
			logging.String("key", rec.AudioLocation),
			logging.String(logging.FieldErrorHint, "regenerate the language"),
			logging.String(logging.FieldImpact, "chapter cannot be played"),
		)
		writeError(w, http.StatusNotFound, "chapter audio not found")
		return
	}
	if err != nil {
		h.logger.Error("chapter audio stat failed", logging.String("key", rec.AudioLocation), logging.Error(err))
		writeError(w, http.StatusInternalServerError, "chapter audio unavailable")
		return
	}

	header := w.Header()
	header.Set("Accept-Ranges", "bytes")
	contentType := info.ContentType
	if contentType == "" {
		contentType = blob.ContentType(rec.AudioLocation)
	}
	header.Set("Content-Type", contentType)
	if !info.ModTime.IsZero() {
		header.Set("Last-Modified", info.ModTime.UTC().Format(http.TimeFormat))
	}
	if rec.Duration > 0 {
		header.Set("X-Audio-Duration", strconv.FormatFloat(rec.Duration.Seconds(), 'f', 3, 64))
	}

	status := http.StatusOK
	span := Range{Start: 0, End: info.Size - 1}
	ranger, canRange := h.blobs.(blob.RangeReader)
	if rng, ok := ParseRange(r.Header.Get("Range"), info.Size); ok && canRange {
		status = http.StatusPartialContent
		span = rng
		header.Set("Content-Range", rng.ContentRange(info.Size))
	}
	length := max(span.Length(), 0)
	header.Set("Content-Length", strconv.FormatInt(length, 10))

	if r.Method == http.MethodHead || length == 0 {
		w.WriteHeader(status)
		return
	}

	var body io.ReadCloser
	if status == http.StatusPartialContent {
		body, err = ranger.OpenRange(ctx, rec.AudioLocation, span.Start, length)
	} else {
		body, err = h.blobs.Open(ctx, rec.AudioLocation)
	}
	if err != nil {
		h.logger.Error("chapter audio open failed", logging.String("key", rec.AudioLocation), logging.Error(err))
		header.Del("Content-Range")
		header.Del("Content-Length")
		writeError(w, http.StatusInternalServerError, "chapter audio unavailable")
		return
	}
	defer body.Close()

	// Full chapters on slow links outlive the server write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})
	w.WriteHeader(status)
	written, err := io.CopyN(w, body, length)
	if err != nil && ctx.Err() == nil {
		h.logger.Warn("chapter audio copy interrupted",
			logging.String("key", rec.AudioLocation),
			logging.Int64("written_bytes", written),
			logging.Error(err),
		)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
