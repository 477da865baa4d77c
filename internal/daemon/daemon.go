package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"narrator/internal/blob"
	"narrator/internal/chapterstore"
	"narrator/internal/config"
	"narrator/internal/delivery"
	"narrator/internal/gencache"
	"narrator/internal/logging"
	"narrator/internal/narration"
	"narrator/internal/preflight"
	"narrator/internal/queue"
	"narrator/internal/workflow"
)

// Services bundles the collaborators the daemon owns.
type Services struct {
	Queue     *queue.Store
	Chapters  *chapterstore.Store
	Blobs     blob.Store
	Cache     *gencache.Cache
	Narration *narration.Orchestrator
	Workflow  *workflow.Manager
	// Synth is probed by the startup checks; nil skips the probe.
	Synth preflight.Pinger
}

// Daemon coordinates the background processing services and enforces single-instance execution.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	svc    Services
	api    *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc

	mu     sync.RWMutex
	checks []preflight.Result
}

// Status represents daemon runtime information.
type Status struct {
	Running        bool
	PID            int
	Bind           string
	QueueDBPath    string
	ChaptersDBPath string
	LockFilePath   string
	BlobBackend    string
	Workflow       workflow.StatusSummary
	Cache          gencache.Stats
	Checks         []preflight.Result
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, svc Services, logger *slog.Logger) (*Daemon, error) {
	switch {
	case cfg == nil:
		return nil, errors.New("daemon requires config")
	case svc.Queue == nil || svc.Chapters == nil || svc.Blobs == nil:
		return nil, errors.New("daemon requires queue, chapter and blob stores")
	case svc.Cache == nil || svc.Narration == nil || svc.Workflow == nil:
		return nil, errors.New("daemon requires cache, orchestrator and workflow manager")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		svc:      svc,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	audio := delivery.NewHandler(svc.Chapters, svc.Blobs, logger)
	d.api = newAPIServer(cfg, svc.Narration, audio, d.apiStatus, logger)
	return d, nil
}

// Start acquires the daemon lock, recovers interrupted jobs, and launches the
// workflow manager and the HTTP API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another narrator daemon instance is already running")
	}

	if reset, err := d.svc.Queue.ResetStuckProcessing(ctx); err != nil {
		_ = d.lock.Unlock()
		return fmt.Errorf("reset interrupted jobs: %w", err)
	} else if reset > 0 {
		d.logger.Info("interrupted jobs returned to pending",
			logging.Int64("count", reset),
			logging.String(logging.FieldEventType, "jobs_reset"),
		)
	}

	d.runPreflight(ctx)

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.svc.Workflow.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start workflow: %w", err)
	}
	if err := d.api.start(runCtx); err != nil {
		cancel()
		d.svc.Workflow.Stop()
		_ = d.lock.Unlock()
		return err
	}

	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("narrator daemon started",
		logging.String("lock", d.lockPath),
		logging.String("address", d.api.addr()),
		logging.String(logging.FieldEventType, "daemon_started"),
	)
	return nil
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.api.stop()
	d.svc.Workflow.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("narrator daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	d.svc.Cache.Dispose()
	return errors.Join(d.svc.Queue.Close(), d.svc.Chapters.Close())
}

// Addr returns the address the API listens on, or "" when stopped.
func (d *Daemon) Addr() string {
	return d.api.addr()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	d.mu.RLock()
	checks := append([]preflight.Result(nil), d.checks...)
	d.mu.RUnlock()
	return Status{
		Running:        d.running.Load(),
		PID:            os.Getpid(),
		Bind:           d.api.addr(),
		QueueDBPath:    d.cfg.QueueDBPath(),
		ChaptersDBPath: d.cfg.ChaptersDBPath(),
		LockFilePath:   d.lockPath,
		BlobBackend:    d.cfg.Blob.Backend,
		Workflow:       d.svc.Workflow.Status(ctx),
		Cache:          d.svc.Cache.Stats(),
		Checks:         checks,
	}
}

func (d *Daemon) runPreflight(ctx context.Context) {
	results := preflight.RunAll(ctx, d.cfg, d.svc.Synth)
	for _, failed := range preflight.Failed(results) {
		logging.WarnWithContext(d.logger, "preflight check failed", "preflight_failed",
			logging.String("check", failed.Name),
			logging.String("detail", failed.Detail),
			logging.String(logging.FieldErrorHint, "review configuration and connectivity"),
			logging.String(logging.FieldImpact, "chapter generation may fail"),
		)
	}
	d.mu.Lock()
	d.checks = results
	d.mu.Unlock()
}
