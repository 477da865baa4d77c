package blob

import (
	"fmt"

	"narrator/internal/config"
)

// FromConfig builds the store selected by blob.backend.
func FromConfig(cfg *config.Config) (Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("blob: config required")
	}
	switch cfg.Blob.Backend {
	case config.BlobBackendS3:
		client := NewS3Client(S3Config{
			Region:    cfg.Blob.S3Region,
			Endpoint:  cfg.Blob.S3Endpoint,
			AccessKey: cfg.Blob.S3AccessKey,
			SecretKey: cfg.Blob.S3SecretKey,
			PathStyle: cfg.Blob.S3PathStyle,
		})
		return NewS3(client, cfg.Blob.S3Bucket, cfg.Blob.S3Prefix), nil
	case config.BlobBackendLocal, "":
		return NewLocal(cfg.Paths.AudioDir)
	default:
		return nil, fmt.Errorf("blob: unsupported backend %q", cfg.Blob.Backend)
	}
}
