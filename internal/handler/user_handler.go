package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/ltme/internal/middleware"
	"github.com/hitoshi/ltme/internal/model"
	"github.com/hitoshi/ltme/internal/user"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	GetProfile(ctx context.Context, userID string) (*model.Profile, error)
	GetByUsername(ctx context.Context, username string) (*model.Profile, error)
	UpdateProfile(ctx context.Context, userID string, in user.UpdateProfileInput) (*model.Profile, error)
	UploadAvatar(ctx context.Context, userID string, r io.Reader) (string, error)
	// Withdraw はユーザーの退会処理を実行する。
	// sessions、posts、albums、follows、saved_postsと画像を削除する。
	Withdraw(ctx context.Context, userID string) error
	Recommended(ctx context.Context, limit int) ([]model.Profile, error)
	Search(ctx context.Context, query string, limit int) ([]model.Profile, error)
}

// UserHandler はユーザー管理のHTTPハンドラー。
type UserHandler struct {
	service        UserServiceInterface
	social         SocialServiceInterface
	posts          PostServiceInterface
	albums         AlbumServiceInterface
	maxUploadBytes int64
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(
	service UserServiceInterface,
	social SocialServiceInterface,
	posts PostServiceInterface,
	albums AlbumServiceInterface,
	maxUploadBytes int64,
) *UserHandler {
	return &UserHandler{
		service:        service,
		social:         social,
		posts:          posts,
		albums:         albums,
		maxUploadBytes: maxUploadBytes,
	}
}

// updateProfileRequest はプロフィール更新のリクエストボディ。省略したフィールドは変更しない。
type updateProfileRequest struct {
	Username    *string `json:"username"`
	DisplayName *string `json:"display_name"`
	Bio         *string `json:"bio"`
}

// GetMe は自分の公開プロフィールを返す。
// GET /api/users/me
func (h *UserHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	profile, err := h.service.GetProfile(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// UpdateMe はプロフィールを更新する。
// PUT /api/users/me
func (h *UserHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req updateProfileRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	profile, err := h.service.UpdateProfile(r.Context(), userID, user.UpdateProfileInput{
		Username:    req.Username,
		DisplayName: req.DisplayName,
		Bio:         req.Bio,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// UploadAvatar はアバター画像をアップロードする。
// POST /api/users/me/avatar (multipart, field: avatar)
func (h *UserHandler) UploadAvatar(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	if !parseMultipart(w, r, h.maxUploadBytes) {
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, err := formFile(r, "avatar")
	if err != nil || file == nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("avatarフィールドに画像ファイルを指定してください。"))
		return
	}
	defer closeFile(file)

	url, err := h.service.UploadAvatar(r.Context(), userID, file)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"avatar_url": url})
}

// Withdraw はユーザーの退会処理を実行する。
// DELETE /api/users/me
func (h *UserHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.Withdraw(r.Context(), userID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Recommended は投稿数の多いユーザーを返す。
// GET /api/users/recommended?limit=
func (h *UserHandler) Recommended(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.Recommended(r.Context(), queryInt(r, "limit", 0))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// Search はユーザー名・表示名で検索する。
// GET /api/users/search?q=
func (h *UserHandler) Search(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.Search(r.Context(), r.URL.Query().Get("q"), queryInt(r, "limit", 0))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// GetByUsername はユーザー名で公開プロフィールを返す。
// {user}はこのルートのみユーザー名、配下のルートではユーザーIDを表す。
// GET /api/users/{user}
func (h *UserHandler) GetByUsername(w http.ResponseWriter, r *http.Request) {
	profile, err := h.service.GetByUsername(r.Context(), chi.URLParam(r, "user"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// Followers はユーザーのフォロワーを返す。
// GET /api/users/{user}/followers
func (h *UserHandler) Followers(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.social.Followers(r.Context(), chi.URLParam(r, "user"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profiles)
}

// Following はユーザーがフォローしているユーザーを返す。
// GET /api/users/{user}/following
func (h *UserHandler) Following(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.social.Following(r.Context(), chi.URLParam(r, "user"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profiles)
}

// Posts はユーザーの投稿を新しい順に返す。
// GET /api/users/{user}/posts?limit=&offset=
func (h *UserHandler) Posts(w http.ResponseWriter, r *http.Request) {
	posts, err := h.posts.List(r.Context(), model.PostQuery{
		Filter: model.PostFilterAll,
		UserID: chi.URLParam(r, "user"),
		Limit:  queryInt(r, "limit", 0),
		Offset: queryInt(r, "offset", 0),
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, posts)
}

// Albums はユーザーのアルバムを返す。本人以外には公開アルバムのみ返す。
// GET /api/users/{user}/albums
func (h *UserHandler) Albums(w http.ResponseWriter, r *http.Request) {
	albums, err := h.albums.ListByUser(r.Context(), middleware.ViewerID(r.Context()), chi.URLParam(r, "user"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, albums)
}
