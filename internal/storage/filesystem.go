package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"
)

// FileSystemStore はローカルディレクトリにオブジェクトを保存するStore実装。
// キーのスラッシュ区切りをそのままディレクトリ構造として使用する:
//
//	<root>/
//	  posts/2024/01/02/<uuid>.jpg
//	  avatars/2024/01/02/<uuid>.png
type FileSystemStore struct {
	root string
}

// NewFileSystemStore はrootを保存先とするFileSystemStoreを生成する。
func NewFileSystemStore(root string) (*FileSystemStore, error) {
	if root == "" {
		return nil, fmt.Errorf("filesystem storage requires a root directory")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	return &FileSystemStore{root: root}, nil
}

func (s *FileSystemStore) pathFor(key string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}

// Put はオブジェクトを一時ファイル経由でアトミックに保存する。
func (s *FileSystemStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	destPath, err := s.pathFor(key)
	if err != nil {
		return err
	}

	dir := filepath.Dir(destPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if written != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, written)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

// Open はオブジェクトを読み出す。Content-Typeは拡張子から判定する。
func (s *FileSystemStore) Open(ctx context.Context, key string) (io.ReadCloser, *Object, error) {
	srcPath, err := s.pathFor(key)
	if err != nil {
		return nil, nil, ErrNotFound
	}

	f, err := os.Open(srcPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("failed to open file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if info.IsDir() {
		f.Close()
		return nil, nil, ErrNotFound
	}

	return f, &Object{
		Key:         key,
		ContentType: mime.TypeByExtension(filepath.Ext(srcPath)),
		Size:        info.Size(),
		ModTime:     info.ModTime(),
	}, nil
}

// Delete はオブジェクトを削除する。
func (s *FileSystemStore) Delete(ctx context.Context, key string) error {
	p, err := s.pathFor(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// List はprefixで始まるオブジェクトを返す。一時ファイルは含まない。
func (s *FileSystemStore) List(ctx context.Context, prefix string) ([]Object, error) {
	var objects []Object
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		objects = append(objects, Object{
			Key:         key,
			ContentType: mime.TypeByExtension(filepath.Ext(p)),
			Size:        info.Size(),
			ModTime:     info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list objects: %w", err)
	}
	return objects, nil
}

// ValidateSetup は保存先ディレクトリが存在し書き込み可能かを検証する。
func (s *FileSystemStore) ValidateSetup(ctx context.Context) error {
	info, err := os.Stat(s.root)
	if err != nil {
		return fmt.Errorf("storage root not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("storage root is not a directory: %s", s.root)
	}
	f, err := os.CreateTemp(s.root, ".tmp-writable-*")
	if err != nil {
		return fmt.Errorf("storage root is not writable: %w", err)
	}
	f.Close()
	os.Remove(f.Name())
	return nil
}

// Compile-time check that FileSystemStore implements Store interface
var _ Store = (*FileSystemStore)(nil)
