// Package album はアルバムのドメインロジックを提供する。
package album

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/ltme/internal/model"
	"github.com/hitoshi/ltme/internal/repository"
	"github.com/hitoshi/ltme/internal/security"
)

const (
	// DefaultPublicLimit は公開アルバム一覧の既定件数。
	DefaultPublicLimit = 12
	maxListLimit       = 50

	maxTitleLength       = 100
	maxDescriptionLength = 1000
)

// CreateInput はアルバム作成の入力。
type CreateInput struct {
	Title       string
	Description string
	IsPublic    bool
}

// Service はアルバムのサービス層。
type Service struct {
	albumRepo repository.AlbumRepository
	postRepo  repository.PostRepository
	sanitizer security.TextSanitizer
}

// NewService はServiceを生成する。
func NewService(albumRepo repository.AlbumRepository, postRepo repository.PostRepository, sanitizer security.TextSanitizer) *Service {
	return &Service{albumRepo: albumRepo, postRepo: postRepo, sanitizer: sanitizer}
}

// Create はアルバムを作成する。
func (s *Service) Create(ctx context.Context, userID string, in CreateInput) (*model.Album, error) {
	title := s.sanitizer.Sanitize(in.Title)
	description := s.sanitizer.Sanitize(in.Description)
	if title == "" {
		return nil, model.NewInvalidRequestError("アルバムのタイトルを入力してください。")
	}
	if len([]rune(title)) > maxTitleLength {
		return nil, model.NewInvalidRequestError(fmt.Sprintf("タイトルは%d文字以内で入力してください。", maxTitleLength))
	}
	if len([]rune(description)) > maxDescriptionLength {
		return nil, model.NewInvalidRequestError(fmt.Sprintf("説明は%d文字以内で入力してください。", maxDescriptionLength))
	}

	a := &model.Album{
		ID:          uuid.New().String(),
		UserID:      userID,
		Title:       title,
		Description: description,
		IsPublic:    in.IsPublic,
		CreatedAt:   time.Now(),
	}
	if err := s.albumRepo.Create(ctx, a); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, model.NewUserNotFoundError()
		}
		return nil, fmt.Errorf("アルバムの作成に失敗しました: %w", err)
	}

	slog.Info("album created", slog.String("album_id", a.ID), slog.String("user_id", userID))
	return a, nil
}

// Get はアルバムを取得する。非公開アルバムは所有者以外には存在しないものとして扱う。
func (s *Service) Get(ctx context.Context, viewerID, albumID string) (*model.Album, error) {
	a, err := s.albumRepo.FindByID(ctx, albumID)
	if err != nil {
		return nil, fmt.Errorf("アルバムの取得に失敗しました: %w", err)
	}
	if a == nil || (!a.IsPublic && a.UserID != viewerID) {
		return nil, model.NewAlbumNotFoundError(albumID)
	}
	return a, nil
}

// ListByUser はユーザーのアルバムを返す。所有者本人以外には公開アルバムのみ返す。
func (s *Service) ListByUser(ctx context.Context, viewerID, userID string) ([]model.Album, error) {
	albums, err := s.albumRepo.List(ctx, model.AlbumQuery{
		UserID:         userID,
		IncludePrivate: viewerID != "" && viewerID == userID,
		Limit:          maxListLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("アルバム一覧の取得に失敗しました: %w", err)
	}
	return albums, nil
}

// ListPublic は公開アルバムを新しい順に返す。
func (s *Service) ListPublic(ctx context.Context, search string, limit int) ([]model.Album, error) {
	if limit <= 0 {
		limit = DefaultPublicLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	albums, err := s.albumRepo.List(ctx, model.AlbumQuery{Search: s.sanitizer.Sanitize(search), Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("公開アルバムの取得に失敗しました: %w", err)
	}
	return albums, nil
}

// AddPost はアルバムの所有者として投稿を追加する。
func (s *Service) AddPost(ctx context.Context, userID, albumID, postID string) error {
	a, err := s.albumRepo.FindByID(ctx, albumID)
	if err != nil {
		return fmt.Errorf("アルバムの取得に失敗しました: %w", err)
	}
	if a == nil {
		return model.NewAlbumNotFoundError(albumID)
	}
	if a.UserID != userID {
		return model.NewForbiddenError("アルバム")
	}

	p, err := s.postRepo.FindByID(ctx, postID)
	if err != nil {
		return fmt.Errorf("投稿の取得に失敗しました: %w", err)
	}
	if p == nil {
		return model.NewPostNotFoundError(postID)
	}

	if err := s.albumRepo.AddPost(ctx, albumID, postID); err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicate):
			return model.NewAlreadyInAlbumError()
		case errors.Is(err, repository.ErrNotFound):
			return model.NewPostNotFoundError(postID)
		}
		return fmt.Errorf("アルバムへの追加に失敗しました: %w", err)
	}
	return nil
}

// ListPosts はアルバム内の投稿を追加順に返す。
func (s *Service) ListPosts(ctx context.Context, viewerID, albumID string) ([]model.Post, error) {
	if _, err := s.Get(ctx, viewerID, albumID); err != nil {
		return nil, err
	}
	posts, err := s.albumRepo.ListPosts(ctx, albumID)
	if err != nil {
		return nil, fmt.Errorf("アルバム内の投稿取得に失敗しました: %w", err)
	}
	return posts, nil
}
