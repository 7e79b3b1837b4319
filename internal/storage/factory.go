package storage

import (
	"context"
	"fmt"

	"github.com/hitoshi/ltme/internal/config"
)

// NewFromConfig は設定のバックエンド種別に応じたStoreを生成する。
func NewFromConfig(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch cfg.Backend {
	case config.StorageMemory:
		return NewMemoryStore(), nil
	case config.StorageFilesystem:
		return NewFileSystemStore(cfg.Dir)
	case config.StorageS3:
		return NewS3Store(ctx, S3Options{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		})
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}
