package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/hitoshi/ltme/internal/config"
)

func TestNewFromConfig(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		s, err := NewFromConfig(ctx, config.StorageConfig{Backend: config.StorageMemory})
		if err != nil {
			t.Fatalf("NewFromConfig() error = %v", err)
		}
		if _, ok := s.(*MemoryStore); !ok {
			t.Errorf("expected *MemoryStore, got %T", s)
		}
	})

	t.Run("filesystem", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "media")
		s, err := NewFromConfig(ctx, config.StorageConfig{Backend: config.StorageFilesystem, Dir: dir})
		if err != nil {
			t.Fatalf("NewFromConfig() error = %v", err)
		}
		if _, ok := s.(*FileSystemStore); !ok {
			t.Errorf("expected *FileSystemStore, got %T", s)
		}
	})

	t.Run("s3 without bucket", func(t *testing.T) {
		if _, err := NewFromConfig(ctx, config.StorageConfig{Backend: config.StorageS3}); err == nil {
			t.Error("expected error for missing bucket")
		}
	})

	t.Run("s3 with static credentials", func(t *testing.T) {
		s, err := NewFromConfig(ctx, config.StorageConfig{
			Backend:           config.StorageS3,
			S3Bucket:          "ltme-media",
			S3Region:          "us-east-1",
			S3Endpoint:        "http://localhost:9000",
			S3AccessKeyID:     "minio",
			S3SecretAccessKey: "minio-secret",
		})
		if err != nil {
			t.Fatalf("NewFromConfig() error = %v", err)
		}
		if s3s, ok := s.(*S3Store); !ok || s3s.bucket != "ltme-media" {
			t.Errorf("expected *S3Store for ltme-media, got %T", s)
		}
	})

	t.Run("unknown", func(t *testing.T) {
		if _, err := NewFromConfig(ctx, config.StorageConfig{Backend: "ftp"}); err == nil {
			t.Error("expected error for unknown backend")
		}
	})
}
