package preflight

import (
	"context"

	"narrator/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// Pinger reports whether a remote service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RunAll executes all applicable preflight checks for the given config.
// The synthesis check is skipped when synth is nil.
func RunAll(ctx context.Context, cfg *config.Config, synth Pinger) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{CheckDirectoryAccess("Data directory", cfg.Paths.DataDir)}

	switch cfg.Blob.Backend {
	case config.BlobBackendS3:
		results = append(results, CheckBucket(cfg.Blob.S3Bucket, cfg.Blob.S3Region))
	default:
		results = append(results,
			CheckDirectoryAccess("Audio directory", cfg.Paths.AudioDir),
			CheckFreeSpace("Audio disk space", cfg.Paths.AudioDir, cfg.Workflow.MinFreeDiskMiB),
		)
	}

	if synth != nil {
		results = append(results, CheckSynth(ctx, synth))
	}
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}
