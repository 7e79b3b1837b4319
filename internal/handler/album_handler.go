package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/ltme/internal/album"
	"github.com/hitoshi/ltme/internal/middleware"
	"github.com/hitoshi/ltme/internal/model"
)

// AlbumServiceInterface はアルバムハンドラーが必要とするサービスインターフェース。
type AlbumServiceInterface interface {
	Create(ctx context.Context, userID string, in album.CreateInput) (*model.Album, error)
	Get(ctx context.Context, viewerID, albumID string) (*model.Album, error)
	ListByUser(ctx context.Context, viewerID, userID string) ([]model.Album, error)
	ListPublic(ctx context.Context, search string, limit int) ([]model.Album, error)
	AddPost(ctx context.Context, userID, albumID, postID string) error
	ListPosts(ctx context.Context, viewerID, albumID string) ([]model.Post, error)
}

// AlbumHandler はアルバムのHTTPハンドラー。
type AlbumHandler struct {
	service AlbumServiceInterface
}

// NewAlbumHandler はAlbumHandlerを生成する。
func NewAlbumHandler(service AlbumServiceInterface) *AlbumHandler {
	return &AlbumHandler{service: service}
}

type createAlbumRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	IsPublic    bool   `json:"is_public"`
}

type addAlbumPostRequest struct {
	PostID string `json:"post_id"`
}

// List は公開アルバムを返す。user_idを指定した場合はそのユーザーのアルバムを返す。
// GET /api/albums?q=&user_id=&limit=
func (h *AlbumHandler) List(w http.ResponseWriter, r *http.Request) {
	var (
		albums []model.Album
		err    error
	)
	if userID := r.URL.Query().Get("user_id"); userID != "" {
		albums, err = h.service.ListByUser(r.Context(), middleware.ViewerID(r.Context()), userID)
	} else {
		albums, err = h.service.ListPublic(r.Context(), r.URL.Query().Get("q"), queryInt(r, "limit", 0))
	}
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, albums)
}

// Create はアルバムを作成する。
// POST /api/albums
func (h *AlbumHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req createAlbumRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	a, err := h.service.Create(r.Context(), userID, album.CreateInput{
		Title:       req.Title,
		Description: req.Description,
		IsPublic:    req.IsPublic,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// Get はアルバムを返す。
// GET /api/albums/{id}
func (h *AlbumHandler) Get(w http.ResponseWriter, r *http.Request) {
	a, err := h.service.Get(r.Context(), middleware.ViewerID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// AddPost はアルバムに投稿を追加する。
// POST /api/albums/{id}/posts
func (h *AlbumHandler) AddPost(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req addAlbumPostRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.PostID == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("post_idを指定してください。"))
		return
	}

	if err := h.service.AddPost(r.Context(), userID, chi.URLParam(r, "id"), req.PostID); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListPosts はアルバム内の投稿を追加順に返す。
// GET /api/albums/{id}/posts
func (h *AlbumHandler) ListPosts(w http.ResponseWriter, r *http.Request) {
	posts, err := h.service.ListPosts(r.Context(), middleware.ViewerID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, posts)
}
