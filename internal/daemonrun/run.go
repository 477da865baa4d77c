// Package daemonrun wires the narrator daemon from configuration and runs it
// until the process is signalled.
package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"narrator/internal/blob"
	"narrator/internal/chapterstore"
	"narrator/internal/config"
	"narrator/internal/daemon"
	"narrator/internal/gencache"
	"narrator/internal/logging"
	"narrator/internal/narration"
	"narrator/internal/queue"
	"narrator/internal/synth"
	"narrator/internal/workflow"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel string
}

// Run starts the narrator daemon and blocks until cmdCtx is cancelled or the
// process receives SIGINT or SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		cfg.Logging.Level = level
	}
	logger, err := logging.NewFromConfig(cfg, "narratord")
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}
	logConfigSnapshot(logger, cfg)

	pidPath := filepath.Join(cfg.Paths.DataDir, "narratord.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	d, err := build(cfg, logger)
	if err != nil {
		logger.Error("daemon setup failed", logging.Error(err))
		return err
	}
	defer func() {
		if err := d.Close(); err != nil {
			logger.Warn("daemon close failed", logging.Error(err))
		}
	}()

	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the bind address and that no other narratord is running"),
		)
		return err
	}

	<-signalCtx.Done()
	logger.Info("narrator daemon shutting down")
	return nil
}

// build opens the stores and wires every service the daemon owns. On error
// anything already opened is closed.
func build(cfg *config.Config, logger *slog.Logger) (d *daemon.Daemon, err error) {
	var closers []func() error
	defer func() {
		if err == nil {
			return
		}
		for i := len(closers) - 1; i >= 0; i-- {
			err = errors.Join(err, closers[i]())
		}
	}()

	jobs, err := queue.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open queue store: %w", err)
	}
	closers = append(closers, jobs.Close)

	chapters, err := chapterstore.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open chapter store: %w", err)
	}
	closers = append(closers, chapters.Close)

	blobs, err := blob.FromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("open blob store: %w", err)
	}

	cache := gencache.New(gencache.Options{
		MaxEntries:    cfg.Cache.MaxEntries,
		MaxBytes:      cfg.CacheMaxBytes(),
		TTL:           cfg.CacheTTL(),
		SweepInterval: cfg.CacheSweepInterval(),
		Logger:        logger,
	})
	closers = append(closers, func() error { cache.Dispose(); return nil })

	synthClient := synth.NewClient(synth.Config{
		BaseURL:           cfg.Synth.BaseURL,
		APIKey:            cfg.Synth.APIKey,
		TimeoutSeconds:    cfg.Synth.TimeoutSeconds,
		RequestsPerSecond: cfg.Synth.RequestsPerSecond,
		Stream:            cfg.Synth.Stream,
		Format:            cfg.Synth.Format,
	}, synth.WithLogger(logger))

	orch, err := narration.New(narration.Dependencies{
		Synthesizer: synthClient,
		Cache:       cache,
		Blobs:       blobs,
		Chapters:    chapters,
		Jobs:        jobs,
		Logger:      logger,
	}, narration.OptionsFromConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("create orchestrator: %w", err)
	}

	manager := workflow.NewManager(cfg, jobs, orch, logger)

	return daemon.New(cfg, daemon.Services{
		Queue:     jobs,
		Chapters:  chapters,
		Blobs:     blobs,
		Cache:     cache,
		Narration: orch,
		Workflow:  manager,
		Synth:     synthClient,
	}, logger)
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logConfigSnapshot(logger *slog.Logger, cfg *config.Config) {
	logger.Info("configuration snapshot",
		logging.String(logging.FieldEventType, "config_snapshot"),
		logging.String("bind", cfg.API.Bind),
		logging.Bool("api_token_present", strings.TrimSpace(cfg.API.Token) != ""),
		logging.String("synth_base_url", cfg.Synth.BaseURL),
		logging.Bool("synth_key_present", strings.TrimSpace(cfg.Synth.APIKey) != ""),
		logging.String("blob_backend", cfg.Blob.Backend),
		logging.Any("languages", cfg.Narration.SupportedLanguages),
		logging.Int("max_concurrency", cfg.Narration.MaxConcurrency),
		logging.Int64("cache_max_bytes", cfg.CacheMaxBytes()),
	)
}
