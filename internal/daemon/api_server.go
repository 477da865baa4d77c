package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"narrator/internal/api"
	"narrator/internal/chapterstore"
	"narrator/internal/config"
	"narrator/internal/delivery"
	"narrator/internal/logging"
	"narrator/internal/narration"
	"narrator/internal/queue"
)

// narrationService is the slice of the orchestrator the API exposes.
type narrationService interface {
	Generate(ctx context.Context, req narration.Request) (*narration.Result, error)
	Submit(ctx context.Context, req narration.Request) (*queue.Job, error)
	List(ctx context.Context, storyID, language string) (*narration.Listing, error)
	Delete(ctx context.Context, storyID, language string) (int, error)
	Job(ctx context.Context, id string) (*queue.Job, error)
	Resubmit(ctx context.Context, id string) (*queue.Job, error)
}

type apiServer struct {
	bind      string
	token     string
	maxBody   int64
	logger    *slog.Logger
	narration narrationService
	audio     http.Handler
	status    func(context.Context) api.DaemonStatus

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, svc narrationService, audio http.Handler, status func(context.Context) api.DaemonStatus, logger *slog.Logger) *apiServer {
	maxBody := int64(cfg.API.MaxRequestBodyKiB) << 10
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	return &apiServer{
		bind:      strings.TrimSpace(cfg.API.Bind),
		token:     strings.TrimSpace(cfg.API.Token),
		maxBody:   maxBody,
		logger:    logging.NewComponentLogger(logger, "api-server"),
		narration: svc,
		audio:     audio,
		status:    status,
	}
}

func (s *apiServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/stories/{story}/chapters", s.handleListChapters)
	mux.HandleFunc("POST /api/stories/{story}/chapters", s.handleGenerate)
	mux.HandleFunc("DELETE /api/stories/{story}/chapters", s.handleDeleteChapters)
	mux.HandleFunc("GET /api/jobs/{id}", s.handleJob)
	mux.HandleFunc("POST /api/jobs/{id}/retry", s.handleRetryJob)
	mux.Handle(delivery.Pattern, s.audio)
	return requestIDMiddleware(authMiddleware(s.token, mux.ServeHTTP))
}

func (s *apiServer) start(ctx context.Context) error {
	if s.bind == "" {
		return errors.New("api listen: bind address not configured")
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	server := &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.mu.Lock()
	s.listener = listener
	s.server = server
	s.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.listener = nil
	s.mu.Unlock()
	if server == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}

func (s *apiServer) addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.status(r.Context()))
}

func (s *apiServer) handleListChapters(w http.ResponseWriter, r *http.Request) {
	listing, err := s.narration.List(r.Context(), r.PathValue("story"), r.URL.Query().Get("language"))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromListing(listing))
}

func (s *apiServer) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var body api.GenerateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxBody)).Decode(&body); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			s.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		case errors.Is(err, io.EOF):
			s.writeError(w, http.StatusBadRequest, "request body required")
		default:
			s.writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		}
		return
	}
	req := body.ToRequest(r.PathValue("story"))

	if req.Mode == narration.ModeAsync {
		job, err := s.narration.Submit(r.Context(), req)
		if err != nil {
			s.writeFailure(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusAccepted, api.JobAccepted{JobID: job.ID, Status: string(job.Status)})
		return
	}

	// Synchronous generation outlives the server write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})
	result, err := s.narration.Generate(r.Context(), req)
	var failure *narration.JobFailure
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusOK, api.FromResult(result))
	case errors.As(err, &failure) && result != nil:
		payload := api.FromResult(result)
		payload.Error = failure.Error()
		s.writeJSON(w, http.StatusBadGateway, payload)
	default:
		s.writeFailure(w, r, err)
	}
}

func (s *apiServer) handleDeleteChapters(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.narration.Delete(r.Context(), r.PathValue("story"), r.URL.Query().Get("language"))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.DeleteResponse{Deleted: deleted})
}

func (s *apiServer) handleJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.narration.Job(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromJob(job))
}

func (s *apiServer) handleRetryJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.narration.Resubmit(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, api.FromJob(job))
}

// statusForError maps service errors onto HTTP status codes.
func statusForError(err error) int {
	var validation *narration.ValidationError
	var failure *narration.JobFailure
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.Is(err, queue.ErrNotFound), errors.Is(err, chapterstore.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, queue.ErrInvalidTransition):
		return http.StatusConflict
	case errors.As(err, &failure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *apiServer) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	logger := logging.WithContext(r.Context(), s.logger)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Int("status", status),
			logging.Error(err),
		)
	} else {
		logger.Debug("request rejected",
			logging.String("path", r.URL.Path),
			logging.Int("status", status),
			logging.Error(err),
		)
	}
	s.writeError(w, status, err.Error())
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, api.ErrorResponse{Error: message})
}

// requestIDMiddleware tags each request with a correlation ID, reusing the
// caller's X-Request-ID when present.
func requestIDMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next(w, r.WithContext(logging.WithCorrelationID(r.Context(), id)))
	}
}

func (d *Daemon) apiStatus(ctx context.Context) api.DaemonStatus {
	status := d.Status(ctx)
	checks := make([]api.CheckStatus, 0, len(status.Checks))
	for _, c := range status.Checks {
		checks = append(checks, api.CheckStatus{Name: c.Name, Passed: c.Passed, Detail: c.Detail})
	}
	return api.DaemonStatus{
		Running:        status.Running,
		PID:            status.PID,
		Bind:           status.Bind,
		QueueDBPath:    status.QueueDBPath,
		ChaptersDBPath: status.ChaptersDBPath,
		LockFilePath:   status.LockFilePath,
		BlobBackend:    status.BlobBackend,
		Workflow:       api.FromStatusSummary(status.Workflow),
		Cache:          api.FromCacheStats(status.Cache),
		Checks:         checks,
	}
}
