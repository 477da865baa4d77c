package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir        string `toml:"data_dir"`
	AudioDir       string `toml:"audio_dir"`
	LogDir         string `toml:"log_dir"`
	ClientCacheDir string `toml:"client_cache_dir"`
}

// API contains the HTTP server bind address and authentication.
type API struct {
	Bind              string `toml:"bind"`
	Token             string `toml:"token" env:"NARRATOR_API_TOKEN"`
	MaxRequestBodyKiB int    `toml:"max_request_body_kib"`
}

// Synth contains configuration for the speech-synthesis provider.
type Synth struct {
	BaseURL           string  `toml:"base_url" env:"NARRATOR_SYNTH_BASE_URL"`
	APIKey            string  `toml:"api_key" env:"NARRATOR_SYNTH_API_KEY"`
	TimeoutSeconds    int     `toml:"timeout_seconds"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Stream            bool    `toml:"stream"`
	Format            string  `toml:"format"`
}

// Narration contains chaptering and generation settings.
type Narration struct {
	SupportedLanguages    []string `toml:"supported_languages"`
	DefaultSpeaker        string   `toml:"default_speaker"`
	TargetDurationSeconds int      `toml:"target_duration_seconds"`
	WordsPerMinute        int      `toml:"words_per_minute"`
	MaxChapterChars       int      `toml:"max_chapter_chars"`
	MaxConcurrency        int      `toml:"max_concurrency"`
	JobMaxAttempts        int      `toml:"job_max_attempts"`
}

// Cache contains settings for the in-process generation cache.
type Cache struct {
	MaxEntries   int `toml:"max_entries"`
	MaxMiB       int `toml:"max_mib"`
	TTLMinutes   int `toml:"ttl_minutes"`
	SweepSeconds int `toml:"sweep_seconds"`
}

// Blob selects and configures the chapter audio blob store.
type Blob struct {
	Backend     string `toml:"backend"`
	S3Bucket    string `toml:"s3_bucket"`
	S3Prefix    string `toml:"s3_prefix"`
	S3Region    string `toml:"s3_region"`
	S3Endpoint  string `toml:"s3_endpoint" env:"NARRATOR_S3_ENDPOINT"`
	S3AccessKey string `toml:"s3_access_key" env:"NARRATOR_S3_ACCESS_KEY"`
	S3SecretKey string `toml:"s3_secret_key" env:"NARRATOR_S3_SECRET_KEY"`
	S3PathStyle bool   `toml:"s3_path_style"`
}

// Client contains settings used by the narrator CLI when talking to the daemon.
type Client struct {
	BaseURL         string `toml:"base_url" env:"NARRATOR_CLIENT_BASE_URL"`
	PollInterval    int    `toml:"poll_interval"`
	PollMaxAttempts int    `toml:"poll_max_attempts"`
	TimeoutSeconds  int    `toml:"timeout_seconds"`
	CacheEnabled    bool   `toml:"cache_enabled"`
}

// Workflow contains configuration for daemon timing and intervals.
type Workflow struct {
	QueuePollInterval  int `toml:"queue_poll_interval"`
	ErrorRetryInterval int `toml:"error_retry_interval"`
	HeartbeatInterval  int `toml:"heartbeat_interval"`
	HeartbeatTimeout   int `toml:"heartbeat_timeout"`
	MinFreeDiskMiB     int `toml:"min_free_disk_mib"`
}

// Notifications configures ntfy job notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic" env:"NARRATOR_NTFY_TOPIC"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format" env:"NARRATOR_LOG_FORMAT"`
	Level  string `toml:"level" env:"NARRATOR_LOG_LEVEL"`
}

// Config encapsulates all configuration values for narrator.
//
// Configuration sections by subsystem:
//   - Paths: data, audio, log, and client cache directories
//   - API: HTTP bind address and bearer token
//   - Synth: speech-synthesis provider connection
//   - Narration: chaptering, languages, and generation fan-out
//   - Cache: generation cache ceilings and expiry
//   - Blob: local or S3 storage for chapter audio
//   - Client: CLI connection, job polling, and local audio cache
//   - Workflow: job worker polling intervals and heartbeats
//   - Notifications: ntfy topic for job outcomes
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	API           API           `toml:"api"`
	Synth         Synth         `toml:"synth"`
	Narration     Narration     `toml:"narration"`
	Cache         Cache         `toml:"cache"`
	Blob          Blob          `toml:"blob"`
	Client        Client        `toml:"client"`
	Workflow      Workflow      `toml:"workflow"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/narrator/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, "", false, fmt.Errorf("environment overrides: %w", err)
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("narrator.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
// The audio directory is only created for the local blob backend.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.DataDir, c.Paths.LogDir}
	if c.Blob.Backend == BlobBackendLocal {
		dirs = append(dirs, c.Paths.AudioDir)
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// QueueDBPath returns the SQLite path holding generation jobs.
func (c *Config) QueueDBPath() string {
	return filepath.Join(c.Paths.DataDir, "queue.db")
}

// ChaptersDBPath returns the SQLite path holding chapter records.
func (c *Config) ChaptersDBPath() string {
	return filepath.Join(c.Paths.DataDir, "chapters.db")
}

// LockPath returns the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "narratord.lock")
}

// TargetDuration returns the default chapter duration.
func (c *Config) TargetDuration() time.Duration {
	return time.Duration(c.Narration.TargetDurationSeconds) * time.Second
}

// CacheTTL returns the generation cache entry lifetime.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLMinutes) * time.Minute
}

// CacheMaxBytes returns the generation cache byte ceiling.
func (c *Config) CacheMaxBytes() int64 {
	return int64(c.Cache.MaxMiB) * 1024 * 1024
}

// CacheSweepInterval returns how often expired cache entries are swept.
func (c *Config) CacheSweepInterval() time.Duration {
	return time.Duration(c.Cache.SweepSeconds) * time.Second
}

// SynthTimeout returns the per-request synthesis timeout.
func (c *Config) SynthTimeout() time.Duration {
	return time.Duration(c.Synth.TimeoutSeconds) * time.Second
}

// ClientPollInterval returns the interval between job status polls.
func (c *Config) ClientPollInterval() time.Duration {
	return time.Duration(c.Client.PollInterval) * time.Second
}

// IsSupportedLanguage reports whether lang is enabled for generation.
func (c *Config) IsSupportedLanguage(lang string) bool {
	lang = strings.ToLower(strings.TrimSpace(lang))
	for _, supported := range c.Narration.SupportedLanguages {
		if supported == lang {
			return true
		}
	}
	return false
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
