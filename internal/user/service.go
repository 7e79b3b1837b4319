// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/hitoshi/ltme/internal/metrics"
	"github.com/hitoshi/ltme/internal/model"
	"github.com/hitoshi/ltme/internal/repository"
	"github.com/hitoshi/ltme/internal/security"
	"github.com/hitoshi/ltme/internal/storage"
	"github.com/hitoshi/ltme/internal/upload"
)

const (
	// DefaultRecommendedLimit はおすすめユーザーの既定件数。
	DefaultRecommendedLimit = 5
	maxListLimit            = 50
	maxDisplayNameLength    = 50
	maxBioLength            = 500
	// withdrawPostBatch は退会時に画像キーを収集する投稿のページサイズ。
	withdrawPostBatch = 200
)

var usernamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{2,29}$`)

// UpdateProfileInput はプロフィール更新の入力。nilのフィールドは変更しない。
type UpdateProfileInput struct {
	Username    *string
	DisplayName *string
	Bio         *string
}

// Service はユーザー管理のサービス層。
type Service struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	postRepo    repository.PostRepository
	uploader    *upload.Uploader
	sanitizer   security.TextSanitizer
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	postRepo repository.PostRepository,
	uploader *upload.Uploader,
	sanitizer security.TextSanitizer,
) *Service {
	return &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		postRepo:    postRepo,
		uploader:    uploader,
		sanitizer:   sanitizer,
	}
}

// GetProfile は公開プロフィールを返す。
func (s *Service) GetProfile(ctx context.Context, userID string) (*model.Profile, error) {
	p, err := s.userRepo.GetProfile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("プロフィールの取得に失敗しました: %w", err)
	}
	if p == nil {
		return nil, model.NewUserNotFoundError()
	}
	return p, nil
}

// GetByUsername はユーザー名から公開プロフィールを返す。
func (s *Service) GetByUsername(ctx context.Context, username string) (*model.Profile, error) {
	u, err := s.userRepo.FindByUsername(ctx, strings.ToLower(strings.TrimSpace(username)))
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if u == nil {
		return nil, model.NewUserNotFoundError()
	}
	return s.GetProfile(ctx, u.ID)
}

// ValidateUsername はユーザー名の形式を検証する。
// 3〜30文字の英小文字・数字・アンダースコア・ハイフンで、先頭は英数字。
func ValidateUsername(username string) error {
	if !usernamePattern.MatchString(username) {
		return model.NewInvalidRequestError("ユーザー名は英小文字・数字・_・-の3〜30文字で、英数字から始めてください。")
	}
	return nil
}

// UpdateProfile はユーザー名、表示名、自己紹介を更新する。
func (s *Service) UpdateProfile(ctx context.Context, userID string, in UpdateProfileInput) (*model.Profile, error) {
	u, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if u == nil {
		return nil, model.NewUserNotFoundError()
	}

	if in.Username != nil {
		username := strings.ToLower(strings.TrimSpace(*in.Username))
		if err := ValidateUsername(username); err != nil {
			return nil, err
		}
		u.Username = username
	}
	if in.DisplayName != nil {
		name := s.sanitizer.Sanitize(*in.DisplayName)
		if len([]rune(name)) > maxDisplayNameLength {
			return nil, model.NewInvalidRequestError(fmt.Sprintf("表示名は%d文字以内で入力してください。", maxDisplayNameLength))
		}
		u.DisplayName = name
	}
	if in.Bio != nil {
		bio := s.sanitizer.Sanitize(*in.Bio)
		if len([]rune(bio)) > maxBioLength {
			return nil, model.NewInvalidRequestError(fmt.Sprintf("自己紹介は%d文字以内で入力してください。", maxBioLength))
		}
		u.Bio = bio
	}
	u.UpdatedAt = time.Now()

	if err := s.userRepo.UpdateProfile(ctx, u); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewUsernameTakenError()
		}
		return nil, fmt.Errorf("プロフィールの更新に失敗しました: %w", err)
	}
	return s.GetProfile(ctx, userID)
}

// UploadAvatar はアバター画像を保存し、プロフィールのアバターURLを差し替える。
// 以前のアバター画像はベストエフォートで削除する。
func (s *Service) UploadAvatar(ctx context.Context, userID string, r io.Reader) (string, error) {
	u, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if u == nil {
		return "", model.NewUserNotFoundError()
	}

	img, err := s.uploader.Save(ctx, storage.PrefixAvatars, r, metrics.UploadSourceAvatar)
	if err != nil {
		return "", err
	}

	oldKey := s.uploader.KeyFromURL(u.AvatarURL)
	u.AvatarURL = img.URL
	u.UpdatedAt = time.Now()
	if err := s.userRepo.UpdateProfile(ctx, u); err != nil {
		s.deleteObject(ctx, img.Key)
		return "", fmt.Errorf("アバターの更新に失敗しました: %w", err)
	}
	s.deleteObject(ctx, oldKey)

	slog.Info("avatar updated", slog.String("user_id", userID), slog.String("key", img.Key))
	return img.URL, nil
}

// Withdraw はユーザーの退会処理を実行する。
// 削除順序: sessions → user（+ CASCADE: posts, albums, follows, saved_posts）→ 画像オブジェクト。
// 画像の削除に失敗した場合はクリーンアップジョブが後で回収する。
func (s *Service) Withdraw(ctx context.Context, userID string) error {
	u, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if u == nil {
		return model.NewUserNotFoundError()
	}

	slog.Info("退会処理を開始します",
		slog.String("user_id", userID),
	)

	keys, err := s.collectImageKeys(ctx, u)
	if err != nil {
		return err
	}

	// 1. セッションを削除
	if err := s.sessionRepo.DeleteByUserID(ctx, userID); err != nil {
		return fmt.Errorf("セッションの削除に失敗しました: %w", err)
	}

	// 2. ユーザーを削除
	if err := s.userRepo.DeleteByID(ctx, userID); err != nil {
		return fmt.Errorf("ユーザーの削除に失敗しました: %w", err)
	}

	// 3. 画像を削除
	for _, key := range keys {
		s.deleteObject(ctx, key)
	}

	slog.Info("退会処理が完了しました",
		slog.String("user_id", userID),
		slog.Int("deleted_images", len(keys)),
	)

	return nil
}

// collectImageKeys は退会ユーザーの投稿画像とアバターのキーを集める。
func (s *Service) collectImageKeys(ctx context.Context, u *model.User) ([]string, error) {
	var keys []string
	if key := s.uploader.KeyFromURL(u.AvatarURL); key != "" {
		keys = append(keys, key)
	}
	for offset := 0; ; offset += withdrawPostBatch {
		posts, err := s.postRepo.List(ctx, model.PostQuery{UserID: u.ID, Limit: withdrawPostBatch, Offset: offset})
		if err != nil {
			return nil, fmt.Errorf("投稿の取得に失敗しました: %w", err)
		}
		for _, p := range posts {
			if p.ImageKey != "" {
				keys = append(keys, p.ImageKey)
			}
		}
		if len(posts) < withdrawPostBatch {
			return keys, nil
		}
	}
}

// Recommended は投稿数の多いユーザーを返す。
func (s *Service) Recommended(ctx context.Context, limit int) ([]model.Profile, error) {
	if limit <= 0 {
		limit = DefaultRecommendedLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	profiles, err := s.userRepo.ListTopByPostCount(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("おすすめユーザーの取得に失敗しました: %w", err)
	}
	if profiles == nil {
		profiles = []model.Profile{}
	}
	return profiles, nil
}

// Search はユーザー名・表示名で検索する。空の検索語は空の結果を返す。
func (s *Service) Search(ctx context.Context, query string, limit int) ([]model.Profile, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []model.Profile{}, nil
	}
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	profiles, err := s.userRepo.Search(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("ユーザー検索に失敗しました: %w", err)
	}
	if profiles == nil {
		profiles = []model.Profile{}
	}
	return profiles, nil
}

func (s *Service) deleteObject(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := s.uploader.Delete(ctx, key); err != nil {
		slog.Warn("failed to delete image object",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}
