package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"narrator/internal/config"
	"narrator/internal/logging"
	"narrator/internal/narration"
	"narrator/internal/notifications"
	"narrator/internal/queue"
)

// JobRunner executes one claimed job.
type JobRunner interface {
	RunJob(ctx context.Context, job *queue.Job, progress narration.ProgressFunc) (*narration.Result, error)
}

// Manager coordinates queue processing using a JobRunner.
type Manager struct {
	cfg          *config.Config
	store        *queue.Store
	runner       JobRunner
	logger       *slog.Logger
	pollInterval time.Duration
	retryDelay   time.Duration

	heartbeat *HeartbeatMonitor
	notifier  notifications.Service

	mu        sync.RWMutex
	running   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	lastErr   error
	lastJobID string
	current   string
	completed int64
	failed    int64
}

// ManagerOption configures optional Manager behavior.
type ManagerOption func(*managerOptions)

type managerOptions struct {
	pollInterval      time.Duration
	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration
	notifier          notifications.Service
}

// WithPollInterval overrides the queue poll interval.
func WithPollInterval(d time.Duration) ManagerOption {
	return func(o *managerOptions) {
		o.pollInterval = d
	}
}

// WithHeartbeat overrides heartbeat timing.
func WithHeartbeat(interval, timeout time.Duration) ManagerOption {
	return func(o *managerOptions) {
		o.heartbeatInterval = interval
		o.heartbeatTimeout = timeout
	}
}

// WithNotifier overrides the job outcome notifier built from config.
func WithNotifier(n notifications.Service) ManagerOption {
	return func(o *managerOptions) {
		o.notifier = n
	}
}

// NewManager constructs a new workflow manager.
func NewManager(cfg *config.Config, store *queue.Store, runner JobRunner, logger *slog.Logger, opts ...ManagerOption) *Manager {
	options := &managerOptions{
		pollInterval:      time.Duration(cfg.Workflow.QueuePollInterval) * time.Second,
		heartbeatInterval: time.Duration(cfg.Workflow.HeartbeatInterval) * time.Second,
		heartbeatTimeout:  time.Duration(cfg.Workflow.HeartbeatTimeout) * time.Second,
	}
	for _, opt := range opts {
		opt(options)
	}
	if options.notifier == nil {
		options.notifier = notifications.NewService(cfg)
	}
	logger = logging.NewComponentLogger(logger, "workflow")
	return &Manager{
		cfg:          cfg,
		store:        store,
		runner:       runner,
		logger:       logger,
		pollInterval: options.pollInterval,
		retryDelay:   time.Duration(cfg.Workflow.ErrorRetryInterval) * time.Second,
		notifier:     options.notifier,
		heartbeat: NewHeartbeatMonitor(
			store,
			logger,
			options.heartbeatInterval,
			options.heartbeatTimeout,
		),
	}
}
