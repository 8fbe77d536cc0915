package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	"layerforge.ai/internal/persistence/mirror"
)

// buildMirror returns nil unless LAYERFORGE_MIRROR is true. Snapshots,
// archives and rotated logs are then copied to the configured bucket.
func buildMirror(dataDir string, logger *log.Logger) (*mirror.Mirror, error) {
	if !envBool("LAYERFORGE_MIRROR", false) {
		return nil, nil
	}
	cfg := mirror.BucketConfig{
		Endpoint:        os.Getenv("LAYERFORGE_MIRROR_ENDPOINT"),
		Bucket:          os.Getenv("LAYERFORGE_MIRROR_BUCKET"),
		Region:          os.Getenv("LAYERFORGE_MIRROR_REGION"),
		AccessKeyID:     os.Getenv("LAYERFORGE_MIRROR_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("LAYERFORGE_MIRROR_SECRET_ACCESS_KEY"),
	}
	bucket, err := mirror.NewBucket(cfg)
	if err != nil {
		return nil, fmt.Errorf("LAYERFORGE_MIRROR=true: %w", err)
	}
	opts := mirror.Options{
		Prefix:  strings.TrimSpace(os.Getenv("LAYERFORGE_MIRROR_PREFIX")),
		Workers: envInt("LAYERFORGE_MIRROR_WORKERS", 2),
		Queue:   envInt("LAYERFORGE_MIRROR_QUEUE", 1024),
	}
	logger.Printf("mirroring %s to bucket=%s prefix=%q", dataDir, strings.TrimSpace(cfg.Bucket), opts.Prefix)
	return mirror.New(bucket, dataDir, opts, log.New(logger.Writer(), "[mirror] ", logger.Flags())), nil
}
