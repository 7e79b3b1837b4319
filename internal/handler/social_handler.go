package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/ltme/internal/model"
)

// SocialServiceInterface はフォロー・保存ハンドラーが必要とするサービスインターフェース。
type SocialServiceInterface interface {
	Follow(ctx context.Context, userID, targetID string) error
	Unfollow(ctx context.Context, userID, targetID string) error
	ListFollowingIDs(ctx context.Context, userID string) ([]string, error)
	Followers(ctx context.Context, userID string) ([]model.Profile, error)
	Following(ctx context.Context, userID string) ([]model.Profile, error)
	SavePost(ctx context.Context, userID, postID string) error
	UnsavePost(ctx context.Context, userID, postID string) error
	ListSavedPostIDs(ctx context.Context, userID string) ([]string, error)
}

// SocialHandler はフォローと投稿保存のHTTPハンドラー。
type SocialHandler struct {
	service SocialServiceInterface
}

// NewSocialHandler はSocialHandlerを生成する。
func NewSocialHandler(service SocialServiceInterface) *SocialHandler {
	return &SocialHandler{service: service}
}

// membershipResponse はトグル操作後の関係状態。
type membershipResponse struct {
	TargetID string `json:"target_id"`
	Member   bool   `json:"member"`
}

// idsResponse は関係先IDの一覧。
type idsResponse struct {
	IDs []string `json:"ids"`
}

// mutate は認証済みユーザーとURLの{id}に対して関係操作を実行し、結果の状態を返す。
func mutate(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, userID, targetID string) error, member bool, status int) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	targetID := chi.URLParam(r, "id")
	if err := fn(r.Context(), userID, targetID); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, status, membershipResponse{TargetID: targetID, Member: member})
}

// listIDs は認証済みユーザーの関係先IDを返す。
func listIDs(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, userID string) ([]string, error)) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	ids, err := fn(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, idsResponse{IDs: ids})
}

// Follow はユーザーをフォローする。
// POST /api/follows/{id}
func (h *SocialHandler) Follow(w http.ResponseWriter, r *http.Request) {
	mutate(w, r, h.service.Follow, true, http.StatusCreated)
}

// Unfollow はフォローを解除する。フォローしていない場合も成功とする。
// DELETE /api/follows/{id}
func (h *SocialHandler) Unfollow(w http.ResponseWriter, r *http.Request) {
	mutate(w, r, h.service.Unfollow, false, http.StatusOK)
}

// FollowingIDs は自分がフォローしているユーザーIDを返す。
// GET /api/follows/ids
func (h *SocialHandler) FollowingIDs(w http.ResponseWriter, r *http.Request) {
	listIDs(w, r, h.service.ListFollowingIDs)
}

// SavePost は投稿を保存する。
// POST /api/saved-posts/{id}
func (h *SocialHandler) SavePost(w http.ResponseWriter, r *http.Request) {
	mutate(w, r, h.service.SavePost, true, http.StatusCreated)
}

// UnsavePost は保存を解除する。保存していない場合も成功とする。
// DELETE /api/saved-posts/{id}
func (h *SocialHandler) UnsavePost(w http.ResponseWriter, r *http.Request) {
	mutate(w, r, h.service.UnsavePost, false, http.StatusOK)
}

// SavedPostIDs は自分が保存した投稿IDを返す。
// GET /api/saved-posts/ids
func (h *SocialHandler) SavedPostIDs(w http.ResponseWriter, r *http.Request) {
	listIDs(w, r, h.service.ListSavedPostIDs)
}
