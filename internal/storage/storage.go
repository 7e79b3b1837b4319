// Package storage はアップロード画像のオブジェクトストレージを提供する。
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound は指定キーのオブジェクトが存在しないことを表す。
var ErrNotFound = errors.New("object not found")

// Object は保存済みオブジェクトのメタデータ。
type Object struct {
	Key         string
	ContentType string
	Size        int64
	ModTime     time.Time
}

// Store は画像オブジェクトの保存先インターフェース。
// 実装は並行利用に対して安全でなければならない。
type Store interface {
	// Put はrからsizeバイトを読み取りkeyに保存する。既存のオブジェクトは上書きする。
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	// Open はオブジェクトを読み出す。呼び出し側がCloseすること。
	// 存在しない場合はErrNotFoundを返す。
	Open(ctx context.Context, key string) (io.ReadCloser, *Object, error)
	// Delete はオブジェクトを削除する。存在しない場合もエラーにしない。
	Delete(ctx context.Context, key string) error
	// List はprefixで始まるオブジェクトを返す。
	List(ctx context.Context, prefix string) ([]Object, error)
	// ValidateSetup は保存先にアクセス可能かを検証する。
	ValidateSetup(ctx context.Context) error
}

// キーの接頭辞
const (
	PrefixPosts   = "posts/"
	PrefixAvatars = "avatars/"
)

// NewKey はprefix配下に日付とUUIDから成る新しいキーを生成する。
// 例: posts/2024/01/02/3f0c...e1.jpg
func NewKey(prefix string, now time.Time, ext string) string {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return fmt.Sprintf("%s%s/%s%s", prefix, now.UTC().Format("2006/01/02"), uuid.New().String(), ext)
}

// PublicURL は公開ベースURLとキーから配信URLを組み立てる。
func PublicURL(baseURL, key string) string {
	return strings.TrimRight(baseURL, "/") + "/" + key
}

// KeyFromURL は配信URLからキーを取り出す。ベースURL配下でない場合は空文字を返す。
func KeyFromURL(baseURL, rawURL string) string {
	prefix := strings.TrimRight(baseURL, "/") + "/"
	if !strings.HasPrefix(rawURL, prefix) {
		return ""
	}
	return strings.TrimPrefix(rawURL, prefix)
}

// ValidateKey はキーが相対パスとして安全かを検証する。
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("empty key")
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return fmt.Errorf("invalid key: %s", key)
	}
	if path.Clean(key) != key {
		return fmt.Errorf("invalid key: %s", key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." || part == "." {
			return fmt.Errorf("invalid key: %s", key)
		}
	}
	return nil
}

// ExtensionForContentType は画像のContent-Typeに対応する拡張子を返す。
// 対応していない形式の場合は空文字を返す。
func ExtensionForContentType(contentType string) string {
	mediaType := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	switch mediaType {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	}
	return ""
}
