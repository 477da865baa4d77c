package config

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
)

// Blob backends.
const (
	BlobBackendLocal = "local"
	BlobBackendS3    = "s3"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeAPI()
	c.normalizeSynth()
	if err := c.normalizeNarration(); err != nil {
		return err
	}
	c.normalizeBlob()
	c.normalizeClient()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNtfyRequestTimeout
	}
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.AudioDir) == "" {
		c.Paths.AudioDir = defaultAudioDir
	}
	if c.Paths.AudioDir, err = expandPath(c.Paths.AudioDir); err != nil {
		return fmt.Errorf("paths.audio_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.ClientCacheDir) == "" {
		c.Paths.ClientCacheDir = defaultClientCacheDir
	}
	if c.Paths.ClientCacheDir, err = expandPath(c.Paths.ClientCacheDir); err != nil {
		return fmt.Errorf("paths.client_cache_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeAPI() {
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	c.API.Token = strings.TrimSpace(c.API.Token)
	if c.API.MaxRequestBodyKiB <= 0 {
		c.API.MaxRequestBodyKiB = defaultAPIMaxRequestBodyKiB
	}
}

func (c *Config) normalizeSynth() {
	c.Synth.BaseURL = strings.TrimRight(strings.TrimSpace(c.Synth.BaseURL), "/")
	if c.Synth.BaseURL == "" {
		c.Synth.BaseURL = defaultSynthBaseURL
	}
	c.Synth.APIKey = strings.TrimSpace(c.Synth.APIKey)
	c.Synth.Format = strings.ToLower(strings.TrimSpace(c.Synth.Format))
	if c.Synth.Format == "" {
		c.Synth.Format = defaultSynthFormat
	}
	if c.Synth.TimeoutSeconds <= 0 {
		c.Synth.TimeoutSeconds = defaultSynthTimeoutSeconds
	}
}

func (c *Config) normalizeNarration() error {
	if len(c.Narration.SupportedLanguages) == 0 {
		c.Narration.SupportedLanguages = append([]string(nil), defaultSupportedLanguages...)
	}
	langs := make([]string, 0, len(c.Narration.SupportedLanguages))
	seen := make(map[string]struct{}, len(c.Narration.SupportedLanguages))
	for _, lang := range c.Narration.SupportedLanguages {
		normalized := strings.ToLower(strings.TrimSpace(lang))
		if normalized == "" {
			continue
		}
		if _, err := language.Parse(normalized); err != nil {
			return fmt.Errorf("narration.supported_languages: %q is not a valid language tag", lang)
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		langs = append(langs, normalized)
	}
	c.Narration.SupportedLanguages = langs
	c.Narration.DefaultSpeaker = strings.TrimSpace(c.Narration.DefaultSpeaker)
	if c.Narration.DefaultSpeaker == "" {
		c.Narration.DefaultSpeaker = defaultSpeaker
	}
	if c.Narration.WordsPerMinute <= 0 {
		c.Narration.WordsPerMinute = defaultWordsPerMinute
	}
	if c.Narration.MaxChapterChars <= 0 {
		c.Narration.MaxChapterChars = defaultMaxChapterChars
	}
	if c.Narration.JobMaxAttempts <= 0 {
		c.Narration.JobMaxAttempts = defaultNarrationJobMaxAttempts
	}
	return nil
}

func (c *Config) normalizeBlob() {
	c.Blob.Backend = strings.ToLower(strings.TrimSpace(c.Blob.Backend))
	if c.Blob.Backend == "" {
		c.Blob.Backend = defaultBlobBackend
	}
	c.Blob.S3Bucket = strings.TrimSpace(c.Blob.S3Bucket)
	c.Blob.S3Prefix = strings.Trim(strings.TrimSpace(c.Blob.S3Prefix), "/")
	c.Blob.S3Region = strings.TrimSpace(c.Blob.S3Region)
	if c.Blob.S3Region == "" {
		c.Blob.S3Region = defaultS3Region
	}
	c.Blob.S3Endpoint = strings.TrimSpace(c.Blob.S3Endpoint)
	c.Blob.S3AccessKey = strings.TrimSpace(c.Blob.S3AccessKey)
	c.Blob.S3SecretKey = strings.TrimSpace(c.Blob.S3SecretKey)
}

func (c *Config) normalizeClient() {
	c.Client.BaseURL = strings.TrimRight(strings.TrimSpace(c.Client.BaseURL), "/")
	if c.Client.BaseURL == "" {
		c.Client.BaseURL = defaultClientBaseURL
	}
	if c.Client.TimeoutSeconds <= 0 {
		c.Client.TimeoutSeconds = defaultClientTimeoutSeconds
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
