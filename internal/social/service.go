// Package social はフォローと投稿保存の関係を扱う。
package social

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/ltme/internal/model"
	"github.com/hitoshi/ltme/internal/repository"
)

// Service はフォロー・保存関係のサービス層。
type Service struct {
	followRepo repository.FollowRepository
	savedRepo  repository.SavedPostRepository
	userRepo   repository.UserRepository
}

// NewService はServiceを生成する。
func NewService(followRepo repository.FollowRepository, savedRepo repository.SavedPostRepository, userRepo repository.UserRepository) *Service {
	return &Service{followRepo: followRepo, savedRepo: savedRepo, userRepo: userRepo}
}

// Follow はuserIDがtargetIDをフォローする。
func (s *Service) Follow(ctx context.Context, userID, targetID string) error {
	if targetID == "" {
		return model.NewInvalidRequestError("フォロー対象のユーザーIDを指定してください。")
	}
	if userID == targetID {
		return model.NewCannotFollowSelfError()
	}

	err := s.followRepo.Create(ctx, userID, targetID)
	switch {
	case err == nil:
		slog.Info("user followed", slog.String("user_id", userID), slog.String("target_id", targetID))
		return nil
	case errors.Is(err, repository.ErrDuplicate):
		return model.NewAlreadyFollowingError()
	case errors.Is(err, repository.ErrCheckViolation):
		return model.NewCannotFollowSelfError()
	case errors.Is(err, repository.ErrNotFound):
		return model.NewUserNotFoundError()
	}
	return fmt.Errorf("フォローに失敗しました: %w", err)
}

// Unfollow はフォローを解除する。フォローしていない場合も成功とする。
func (s *Service) Unfollow(ctx context.Context, userID, targetID string) error {
	removed, err := s.followRepo.Delete(ctx, userID, targetID)
	if err != nil {
		return fmt.Errorf("フォロー解除に失敗しました: %w", err)
	}
	if removed {
		slog.Info("user unfollowed", slog.String("user_id", userID), slog.String("target_id", targetID))
	}
	return nil
}

// ListFollowingIDs はuserIDがフォローしているユーザーIDを返す。
func (s *Service) ListFollowingIDs(ctx context.Context, userID string) ([]string, error) {
	ids, err := s.followRepo.ListFollowingIDs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("フォロー一覧の取得に失敗しました: %w", err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

// Followers はユーザーのフォロワーを返す。
func (s *Service) Followers(ctx context.Context, userID string) ([]model.Profile, error) {
	if err := s.ensureUser(ctx, userID); err != nil {
		return nil, err
	}
	profiles, err := s.followRepo.ListFollowers(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("フォロワー一覧の取得に失敗しました: %w", err)
	}
	return nonNil(profiles), nil
}

// Following はユーザーがフォローしているユーザーを返す。
func (s *Service) Following(ctx context.Context, userID string) ([]model.Profile, error) {
	if err := s.ensureUser(ctx, userID); err != nil {
		return nil, err
	}
	profiles, err := s.followRepo.ListFollowing(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("フォロー一覧の取得に失敗しました: %w", err)
	}
	return nonNil(profiles), nil
}

// SavePost は投稿を保存する。
func (s *Service) SavePost(ctx context.Context, userID, postID string) error {
	if postID == "" {
		return model.NewInvalidRequestError("保存する投稿IDを指定してください。")
	}
	err := s.savedRepo.Create(ctx, userID, postID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrDuplicate):
		return model.NewAlreadySavedError()
	case errors.Is(err, repository.ErrNotFound):
		return model.NewPostNotFoundError(postID)
	}
	return fmt.Errorf("投稿の保存に失敗しました: %w", err)
}

// UnsavePost は保存を解除する。保存していない場合も成功とする。
func (s *Service) UnsavePost(ctx context.Context, userID, postID string) error {
	if _, err := s.savedRepo.Delete(ctx, userID, postID); err != nil {
		return fmt.Errorf("保存の解除に失敗しました: %w", err)
	}
	return nil
}

// ListSavedPostIDs はuserIDが保存した投稿IDを返す。
func (s *Service) ListSavedPostIDs(ctx context.Context, userID string) ([]string, error) {
	ids, err := s.savedRepo.ListPostIDs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("保存済み投稿IDの取得に失敗しました: %w", err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

func (s *Service) ensureUser(ctx context.Context, userID string) error {
	u, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if u == nil {
		return model.NewUserNotFoundError()
	}
	return nil
}

func nonNil(p []model.Profile) []model.Profile {
	if p == nil {
		return []model.Profile{}
	}
	return p
}
