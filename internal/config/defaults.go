package config

const (
	defaultDataDir                 = "~/.local/share/narrator"
	defaultAudioDir                = "~/.local/share/narrator/audio"
	defaultLogDir                  = "~/.local/share/narrator/logs"
	defaultClientCacheDir          = "~/.cache/narrator/audio"
	defaultAPIBind                 = "127.0.0.1:7590"
	defaultClientBaseURL           = "http://127.0.0.1:7590"
	defaultSynthBaseURL            = "http://127.0.0.1:5002"
	defaultSynthTimeoutSeconds     = 120
	defaultSynthRequestsPerSecond  = 4.0
	defaultSynthFormat             = "mp3"
	defaultSpeaker                 = "default"
	defaultTargetDurationSeconds   = 300
	defaultWordsPerMinute          = 150
	defaultMaxChapterChars         = 4000
	defaultMaxConcurrency          = 3
	defaultCacheMaxEntries         = 256
	defaultCacheMaxMiB             = 512
	defaultCacheTTLMinutes         = 60
	defaultCacheSweepSeconds       = 300
	defaultBlobBackend             = "local"
	defaultS3Region                = "us-east-1"
	defaultQueuePollInterval       = 2
	defaultErrorRetryInterval      = 10
	defaultHeartbeatInterval       = 15
	defaultHeartbeatTimeout        = 120
	defaultClientPollInterval      = 2
	defaultClientPollMaxAttempts   = 300
	defaultClientTimeoutSeconds    = 60
	defaultLogFormat               = "console"
	defaultLogLevel                = "info"
	defaultMinFreeDiskMiB          = 512
	defaultAPIMaxRequestBodyKiB    = 2048
	defaultNarrationJobMaxAttempts = 3
	defaultNtfyRequestTimeout      = 10
)

var defaultSupportedLanguages = []string{"en", "es", "fr", "de", "it", "pt", "hi", "ja"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:        defaultDataDir,
			AudioDir:       defaultAudioDir,
			LogDir:         defaultLogDir,
			ClientCacheDir: defaultClientCacheDir,
		},
		API: API{
			Bind:              defaultAPIBind,
			MaxRequestBodyKiB: defaultAPIMaxRequestBodyKiB,
		},
		Synth: Synth{
			BaseURL:           defaultSynthBaseURL,
			TimeoutSeconds:    defaultSynthTimeoutSeconds,
			RequestsPerSecond: defaultSynthRequestsPerSecond,
			Stream:            true,
			Format:            defaultSynthFormat,
		},
		Narration: Narration{
			SupportedLanguages:    append([]string(nil), defaultSupportedLanguages...),
			DefaultSpeaker:        defaultSpeaker,
			TargetDurationSeconds: defaultTargetDurationSeconds,
			WordsPerMinute:        defaultWordsPerMinute,
			MaxChapterChars:       defaultMaxChapterChars,
			MaxConcurrency:        defaultMaxConcurrency,
			JobMaxAttempts:        defaultNarrationJobMaxAttempts,
		},
		Cache: Cache{
			MaxEntries:   defaultCacheMaxEntries,
			MaxMiB:       defaultCacheMaxMiB,
			TTLMinutes:   defaultCacheTTLMinutes,
			SweepSeconds: defaultCacheSweepSeconds,
		},
		Blob: Blob{
			Backend:  defaultBlobBackend,
			S3Region: defaultS3Region,
		},
		Client: Client{
			BaseURL:         defaultClientBaseURL,
			PollInterval:    defaultClientPollInterval,
			PollMaxAttempts: defaultClientPollMaxAttempts,
			TimeoutSeconds:  defaultClientTimeoutSeconds,
			CacheEnabled:    true,
		},
		Workflow: Workflow{
			QueuePollInterval:  defaultQueuePollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			HeartbeatInterval:  defaultHeartbeatInterval,
			HeartbeatTimeout:   defaultHeartbeatTimeout,
			MinFreeDiskMiB:     defaultMinFreeDiskMiB,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNtfyRequestTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
