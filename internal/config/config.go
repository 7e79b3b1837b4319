// Package config はサーバー設定を環境変数から読み込む。
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// minJWTSecretLength はトークン署名鍵の最小バイト数。
const minJWTSecretLength = 32

// 対応するストレージバックエンド
const (
	StorageMemory     = "memory"
	StorageFilesystem = "filesystem"
	StorageS3         = "s3"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`

	// Auth
	JWTSecret string        `env:"JWT_SECRET,required,notEmpty"`
	TokenTTL  time.Duration `env:"TOKEN_TTL" envDefault:"168h"`

	// Server
	BaseURL         string        `env:"BASE_URL,required,notEmpty"`
	ServerPort      string        `env:"SERVER_PORT" envDefault:"8080"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// CORS
	CORSAllowedOrigin string `env:"CORS_ALLOWED_ORIGIN" envDefault:"http://localhost:3000"`

	// Rate Limit（1分あたりのリクエスト数）
	RateLimitGeneral int `env:"RATE_LIMIT_GENERAL" envDefault:"120"`
	RateLimitUpload  int `env:"RATE_LIMIT_UPLOAD" envDefault:"10"`

	// Upload
	UploadMaxBytes     int64         `env:"UPLOAD_MAX_BYTES" envDefault:"31457280"`
	ImageImportTimeout time.Duration `env:"IMAGE_IMPORT_TIMEOUT" envDefault:"10s"`

	// Storage
	Storage StorageConfig `envPrefix:"STORAGE_"`

	// Worker
	CleanupSchedule    string        `env:"CLEANUP_SCHEDULE" envDefault:"@every 1h"`
	CleanupOrphanGrace time.Duration `env:"CLEANUP_ORPHAN_GRACE" envDefault:"24h"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// StorageConfig はアップロード画像の保存先設定。
type StorageConfig struct {
	Backend string `env:"BACKEND" envDefault:"filesystem"`
	Dir     string `env:"DIR" envDefault:"./data/media"`
	// PublicBaseURL は保存した画像を配信するURLの接頭辞。未設定の場合はBASE_URL + "/media"。
	PublicBaseURL string `env:"PUBLIC_BASE_URL"`

	S3Bucket          string `env:"S3_BUCKET"`
	S3Region          string `env:"S3_REGION" envDefault:"us-east-1"`
	S3Endpoint        string `env:"S3_ENDPOINT"`
	S3AccessKeyID     string `env:"S3_ACCESS_KEY_ID"`
	S3SecretAccessKey string `env:"S3_SECRET_ACCESS_KEY"`
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if len(cfg.JWTSecret) < minJWTSecretLength {
		return nil, fmt.Errorf("JWT_SECRET must be at least %d bytes", minJWTSecretLength)
	}

	switch cfg.Storage.Backend {
	case StorageMemory, StorageFilesystem:
	case StorageS3:
		if cfg.Storage.S3Bucket == "" {
			return nil, fmt.Errorf("STORAGE_S3_BUCKET is required when STORAGE_BACKEND=s3")
		}
	default:
		return nil, fmt.Errorf("unknown STORAGE_BACKEND: %q", cfg.Storage.Backend)
	}

	if cfg.Storage.PublicBaseURL == "" {
		cfg.Storage.PublicBaseURL = strings.TrimRight(cfg.BaseURL, "/") + "/media"
	}

	return cfg, nil
}

// Addr はHTTPサーバーの待ち受けアドレスを返す。
func (c *Config) Addr() string {
	return ":" + c.ServerPort
}
