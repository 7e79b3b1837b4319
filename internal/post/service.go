// Package post は画像投稿のドメインロジックを提供する。
package post

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/ltme/internal/metrics"
	"github.com/hitoshi/ltme/internal/model"
	"github.com/hitoshi/ltme/internal/repository"
	"github.com/hitoshi/ltme/internal/security"
	"github.com/hitoshi/ltme/internal/storage"
	"github.com/hitoshi/ltme/internal/upload"
)

const (
	// DefaultLimit は一覧取得の既定件数。
	DefaultLimit = 50
	// MaxLimit は一覧取得の上限件数。
	MaxLimit = 50

	maxTitleLength   = 100
	maxCaptionLength = 2000
	maxTags          = 10
	maxTagLength     = 30
)

// CreateInput は投稿作成の入力。ImageとImageURLのどちらか一方を指定する。
type CreateInput struct {
	Title     string
	Caption   string
	Tags      []string
	AudioURL  string
	AudioName string
	Image     io.Reader
	ImageURL  string
}

// UpdateInput は投稿更新の入力。nilのフィールドは変更しない。
type UpdateInput struct {
	Title   *string
	Caption *string
	Tags    *[]string
}

// Service は投稿のサービス層。
type Service struct {
	postRepo  repository.PostRepository
	uploader  *upload.Uploader
	fetcher   security.ImageFetcher
	sanitizer security.TextSanitizer
	metrics   metrics.MetricsCollector
}

// NewService はServiceを生成する。
func NewService(
	postRepo repository.PostRepository,
	uploader *upload.Uploader,
	fetcher security.ImageFetcher,
	sanitizer security.TextSanitizer,
	mc metrics.MetricsCollector,
) *Service {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Service{
		postRepo:  postRepo,
		uploader:  uploader,
		fetcher:   fetcher,
		sanitizer: sanitizer,
		metrics:   mc,
	}
}

// Create は画像を保存し投稿を作成する。
// 投稿の保存に失敗した場合は保存済みの画像を削除する。
func (s *Service) Create(ctx context.Context, userID string, in CreateInput) (*model.Post, error) {
	title, caption, tags, err := s.normalizeText(in.Title, in.Caption, in.Tags)
	if err != nil {
		return nil, err
	}
	audioURL := strings.TrimSpace(in.AudioURL)
	if audioURL != "" {
		if err := validateHTTPURL(audioURL); err != nil {
			return nil, err
		}
	}

	img, err := s.saveImage(ctx, in)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	p := &model.Post{
		ID:        uuid.New().String(),
		UserID:    userID,
		Title:     title,
		Caption:   caption,
		ImageURL:  img.URL,
		ImageKey:  img.Key,
		AudioURL:  audioURL,
		AudioName: s.sanitizer.Sanitize(in.AudioName),
		Tags:      tags,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.postRepo.Create(ctx, p); err != nil {
		if delErr := s.uploader.Delete(ctx, img.Key); delErr != nil {
			slog.Warn("failed to delete orphaned image", slog.String("key", img.Key), slog.String("error", delErr.Error()))
		}
		if errors.Is(err, repository.ErrNotFound) {
			return nil, model.NewUserNotFoundError()
		}
		return nil, fmt.Errorf("投稿の作成に失敗しました: %w", err)
	}

	slog.Info("post created",
		slog.String("post_id", p.ID),
		slog.String("user_id", userID),
		slog.Int64("bytes", img.Size),
	)

	created, err := s.postRepo.FindByID(ctx, p.ID)
	if err != nil || created == nil {
		return p, nil
	}
	return created, nil
}

func (s *Service) saveImage(ctx context.Context, in CreateInput) (*upload.Image, error) {
	imageURL := strings.TrimSpace(in.ImageURL)
	switch {
	case in.Image != nil && imageURL != "":
		return nil, model.NewInvalidRequestError("画像ファイルと画像URLはどちらか一方を指定してください。")
	case in.Image != nil:
		return s.uploader.Save(ctx, storage.PrefixPosts, in.Image, metrics.UploadSourceMultipart)
	case imageURL != "":
		remote, err := s.fetcher.Fetch(ctx, imageURL)
		if err != nil {
			var apiErr *model.APIError
			if errors.As(err, &apiErr) {
				s.metrics.RecordImageImportFailure(apiErr.Code)
			} else {
				s.metrics.RecordImageImportFailure(model.ErrCodeFetchFailed)
			}
			return nil, err
		}
		return s.uploader.SaveBytes(ctx, storage.PrefixPosts, remote.Data, metrics.UploadSourceURL)
	default:
		return nil, model.NewInvalidRequestError("画像ファイルまたは画像URLを指定してください。")
	}
}

// Get は投稿を取得し、閲覧数を1増やす。
func (s *Service) Get(ctx context.Context, postID string) (*model.Post, error) {
	p, err := s.postRepo.FindByID(ctx, postID)
	if err != nil {
		return nil, fmt.Errorf("投稿の取得に失敗しました: %w", err)
	}
	if p == nil {
		return nil, model.NewPostNotFoundError(postID)
	}

	count, err := s.postRepo.IncrementViewCount(ctx, postID)
	if err != nil {
		// 閲覧数の更新失敗で表示は妨げない
		slog.Warn("failed to increment view count", slog.String("post_id", postID), slog.String("error", err.Error()))
	} else {
		p.ViewCount = count
	}
	return p, nil
}

// Update は投稿者本人の投稿のタイトル・キャプション・タグを更新する。
func (s *Service) Update(ctx context.Context, userID, postID string, in UpdateInput) (*model.Post, error) {
	p, err := s.ownedPost(ctx, userID, postID)
	if err != nil {
		return nil, err
	}

	title, caption, tags := p.Title, p.Caption, p.Tags
	if in.Title != nil {
		title = *in.Title
	}
	if in.Caption != nil {
		caption = *in.Caption
	}
	if in.Tags != nil {
		tags = *in.Tags
	}
	p.Title, p.Caption, p.Tags, err = s.normalizeText(title, caption, tags)
	if err != nil {
		return nil, err
	}
	p.UpdatedAt = time.Now()

	if err := s.postRepo.Update(ctx, p); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, model.NewPostNotFoundError(postID)
		}
		return nil, fmt.Errorf("投稿の更新に失敗しました: %w", err)
	}
	return p, nil
}

// Delete は投稿者本人の投稿と画像を削除する。
func (s *Service) Delete(ctx context.Context, userID, postID string) error {
	p, err := s.ownedPost(ctx, userID, postID)
	if err != nil {
		return err
	}

	if err := s.postRepo.Delete(ctx, postID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.NewPostNotFoundError(postID)
		}
		return fmt.Errorf("投稿の削除に失敗しました: %w", err)
	}
	if err := s.uploader.Delete(ctx, p.ImageKey); err != nil {
		slog.Warn("failed to delete post image", slog.String("key", p.ImageKey), slog.String("error", err.Error()))
	}

	slog.Info("post deleted", slog.String("post_id", postID), slog.String("user_id", userID))
	return nil
}

// List は条件に一致する投稿を新しい順に返す。
func (s *Service) List(ctx context.Context, q model.PostQuery) ([]model.Post, error) {
	if q.Filter == "" {
		q.Filter = model.PostFilterAll
	}
	if !q.Filter.IsValid() {
		return nil, model.NewInvalidFilterError(string(q.Filter))
	}
	if q.Filter == model.PostFilterFollowing && q.ViewerID == "" {
		return nil, model.NewUnauthorizedError()
	}
	q.Limit, q.Offset = clampPage(q.Limit, q.Offset)
	q.Search = strings.TrimSpace(q.Search)

	posts, err := s.postRepo.List(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("投稿一覧の取得に失敗しました: %w", err)
	}
	if posts == nil {
		posts = []model.Post{}
	}
	return posts, nil
}

// ListSaved はユーザーが保存した投稿を返す。
func (s *Service) ListSaved(ctx context.Context, userID string, limit, offset int) ([]model.Post, error) {
	limit, offset = clampPage(limit, offset)
	posts, err := s.postRepo.ListSavedByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("保存済み投稿の取得に失敗しました: %w", err)
	}
	if posts == nil {
		posts = []model.Post{}
	}
	return posts, nil
}

func (s *Service) ownedPost(ctx context.Context, userID, postID string) (*model.Post, error) {
	p, err := s.postRepo.FindByID(ctx, postID)
	if err != nil {
		return nil, fmt.Errorf("投稿の取得に失敗しました: %w", err)
	}
	if p == nil {
		return nil, model.NewPostNotFoundError(postID)
	}
	if p.UserID != userID {
		return nil, model.NewForbiddenError("投稿")
	}
	return p, nil
}

// normalizeText はタイトル・キャプション・タグをサニタイズし長さを検証する。
func (s *Service) normalizeText(title, caption string, tags []string) (string, string, []string, error) {
	title = s.sanitizer.Sanitize(title)
	caption = s.sanitizer.Sanitize(caption)
	if len([]rune(title)) > maxTitleLength {
		return "", "", nil, model.NewInvalidRequestError(fmt.Sprintf("タイトルは%d文字以内で入力してください。", maxTitleLength))
	}
	if len([]rune(caption)) > maxCaptionLength {
		return "", "", nil, model.NewInvalidRequestError(fmt.Sprintf("キャプションは%d文字以内で入力してください。", maxCaptionLength))
	}

	normalized := []string{}
	seen := map[string]bool{}
	for _, tag := range tags {
		tag = strings.TrimPrefix(s.sanitizer.Sanitize(tag), "#")
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" || seen[tag] {
			continue
		}
		if len([]rune(tag)) > maxTagLength {
			return "", "", nil, model.NewInvalidRequestError(fmt.Sprintf("タグは%d文字以内で入力してください。", maxTagLength))
		}
		seen[tag] = true
		normalized = append(normalized, tag)
	}
	if len(normalized) > maxTags {
		return "", "", nil, model.NewInvalidRequestError(fmt.Sprintf("タグは%d個までです。", maxTags))
	}
	return title, caption, normalized, nil
}

// ParseTags はカンマ区切りのタグ文字列を分割する。
func ParseTags(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return model.NewInvalidURLError("音声URLはhttpまたはhttpsで指定してください。")
	}
	return nil
}
