// Package upload は画像の検証とオブジェクトストレージへの保存を提供する。
package upload

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hitoshi/ltme/internal/metrics"
	"github.com/hitoshi/ltme/internal/model"
	"github.com/hitoshi/ltme/internal/storage"
)

// Image は保存済み画像。
type Image struct {
	Key         string
	URL         string
	ContentType string
	Size        int64
}

// Uploader は画像を検証してStoreへ保存する。
type Uploader struct {
	store      storage.Store
	publicBase string
	maxBytes   int64
	metrics    metrics.MetricsCollector
	now        func() time.Time
}

// NewUploader はUploaderを生成する。publicBaseは配信URLのベース。
func NewUploader(store storage.Store, publicBase string, maxBytes int64, mc metrics.MetricsCollector) *Uploader {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Uploader{
		store:      store,
		publicBase: publicBase,
		maxBytes:   maxBytes,
		metrics:    mc,
		now:        time.Now,
	}
}

// MaxBytes はアップロード上限のバイト数を返す。
func (u *Uploader) MaxBytes() int64 {
	return u.maxBytes
}

// Save はrの内容を画像として検証し、prefix配下に保存する。
// Content-Typeは申告値ではなく先頭バイトから判定する。
// 上限超過はIMAGE_TOO_LARGE、画像以外はINVALID_IMAGEを返す。
func (u *Uploader) Save(ctx context.Context, prefix string, r io.Reader, source string) (*Image, error) {
	data, err := io.ReadAll(io.LimitReader(r, u.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	return u.SaveBytes(ctx, prefix, data, source)
}

// SaveBytes は読み込み済みの画像データを検証して保存する。
func (u *Uploader) SaveBytes(ctx context.Context, prefix string, data []byte, source string) (*Image, error) {
	if int64(len(data)) > u.maxBytes {
		return nil, model.NewImageTooLargeError(u.maxBytes)
	}
	if len(data) == 0 {
		return nil, model.NewInvalidImageError("empty")
	}

	contentType := http.DetectContentType(data)
	ext := storage.ExtensionForContentType(contentType)
	if ext == "" {
		return nil, model.NewInvalidImageError(contentType)
	}

	key := storage.NewKey(prefix, u.now(), ext)
	size := int64(len(data))
	if err := u.store.Put(ctx, key, bytes.NewReader(data), size, contentType); err != nil {
		return nil, fmt.Errorf("failed to store image: %w", err)
	}

	u.metrics.RecordUpload(source, size)
	return &Image{
		Key:         key,
		URL:         storage.PublicURL(u.publicBase, key),
		ContentType: contentType,
		Size:        size,
	}, nil
}

// Delete は保存済み画像を削除する。
func (u *Uploader) Delete(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	return u.store.Delete(ctx, key)
}

// KeyFromURL は配信URLからキーを取り出す。このUploaderの配信URLでない場合は空文字を返す。
func (u *Uploader) KeyFromURL(url string) string {
	return storage.KeyFromURL(u.publicBase, url)
}
