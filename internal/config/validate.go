package config

import (
	"errors"
	"fmt"
	"sort"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateNarration(); err != nil {
		return err
	}
	if err := c.validateCache(); err != nil {
		return err
	}
	if err := c.validateBlob(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateClient(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateNarration() error {
	if len(c.Narration.SupportedLanguages) == 0 {
		return errors.New("narration.supported_languages must list at least one language")
	}
	if c.Narration.TargetDurationSeconds <= 0 {
		return errors.New("narration.target_duration_seconds must be positive")
	}
	if c.Narration.MaxConcurrency <= 0 {
		return errors.New("narration.max_concurrency must be positive")
	}
	if c.Synth.RequestsPerSecond < 0 {
		return errors.New("synth.requests_per_second must not be negative")
	}
	return nil
}

func (c *Config) validateCache() error {
	return ensurePositiveMap(map[string]int{
		"cache.max_entries":   c.Cache.MaxEntries,
		"cache.max_mib":       c.Cache.MaxMiB,
		"cache.ttl_minutes":   c.Cache.TTLMinutes,
		"cache.sweep_seconds": c.Cache.SweepSeconds,
	})
}

func (c *Config) validateBlob() error {
	switch c.Blob.Backend {
	case BlobBackendLocal:
		return nil
	case BlobBackendS3:
		if c.Blob.S3Bucket == "" {
			return errors.New("blob.s3_bucket must be set when blob.backend is \"s3\"")
		}
		if (c.Blob.S3AccessKey == "") != (c.Blob.S3SecretKey == "") {
			return errors.New("blob.s3_access_key and blob.s3_secret_key must be set together")
		}
		return nil
	default:
		return fmt.Errorf("blob.backend: unsupported value %q (want %q or %q)", c.Blob.Backend, BlobBackendLocal, BlobBackendS3)
	}
}

func (c *Config) validateWorkflow() error {
	if err := ensurePositiveMap(map[string]int{
		"workflow.queue_poll_interval":  c.Workflow.QueuePollInterval,
		"workflow.error_retry_interval": c.Workflow.ErrorRetryInterval,
	}); err != nil {
		return err
	}
	if c.Workflow.HeartbeatInterval <= 0 {
		return errors.New("workflow.heartbeat_interval must be positive")
	}
	if c.Workflow.HeartbeatTimeout <= 0 {
		return errors.New("workflow.heartbeat_timeout must be positive")
	}
	if c.Workflow.HeartbeatTimeout <= c.Workflow.HeartbeatInterval {
		return errors.New("workflow.heartbeat_timeout must be greater than workflow.heartbeat_interval")
	}
	return nil
}

func (c *Config) validateClient() error {
	return ensurePositiveMap(map[string]int{
		"client.poll_interval":     c.Client.PollInterval,
		"client.poll_max_attempts": c.Client.PollMaxAttempts,
	})
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if values[key] <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
