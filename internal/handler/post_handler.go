package handler

import (
	"context"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/ltme/internal/middleware"
	"github.com/hitoshi/ltme/internal/model"
	"github.com/hitoshi/ltme/internal/post"
)

// PostServiceInterface は投稿ハンドラーが必要とするサービスインターフェース。
type PostServiceInterface interface {
	Create(ctx context.Context, userID string, in post.CreateInput) (*model.Post, error)
	Get(ctx context.Context, postID string) (*model.Post, error)
	Update(ctx context.Context, userID, postID string, in post.UpdateInput) (*model.Post, error)
	Delete(ctx context.Context, userID, postID string) error
	List(ctx context.Context, q model.PostQuery) ([]model.Post, error)
	ListSaved(ctx context.Context, userID string, limit, offset int) ([]model.Post, error)
}

// PostHandler は投稿のHTTPハンドラー。
type PostHandler struct {
	service        PostServiceInterface
	maxUploadBytes int64
}

// NewPostHandler はPostHandlerを生成する。
func NewPostHandler(service PostServiceInterface, maxUploadBytes int64) *PostHandler {
	return &PostHandler{service: service, maxUploadBytes: maxUploadBytes}
}

// createPostRequest はURL指定で投稿する場合のJSONリクエストボディ。
type createPostRequest struct {
	Title     string   `json:"title"`
	Caption   string   `json:"caption"`
	Tags      []string `json:"tags"`
	AudioURL  string   `json:"audio_url"`
	AudioName string   `json:"audio_name"`
	ImageURL  string   `json:"image_url"`
}

// updatePostRequest は投稿更新のリクエストボディ。省略したフィールドは変更しない。
type updatePostRequest struct {
	Title   *string   `json:"title"`
	Caption *string   `json:"caption"`
	Tags    *[]string `json:"tags"`
}

// List は投稿一覧を返す。
// GET /api/posts?filter=all|recent|following&q=&user_id=&limit=&offset=
func (h *PostHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	posts, err := h.service.List(r.Context(), model.PostQuery{
		Filter:   model.PostFilter(q.Get("filter")),
		UserID:   q.Get("user_id"),
		ViewerID: middleware.ViewerID(r.Context()),
		Search:   q.Get("q"),
		Limit:    queryInt(r, "limit", 0),
		Offset:   queryInt(r, "offset", 0),
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, posts)
}

// Create は投稿を作成する。
// POST /api/posts
// multipart/form-data（image ファイルまたは image_url）と application/json（image_url）を受け付ける。
func (h *PostHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	var in post.CreateInput
	if mediaType == "multipart/form-data" {
		if !parseMultipart(w, r, h.maxUploadBytes) {
			return
		}
		defer r.MultipartForm.RemoveAll()

		file, err := formFile(r, "image")
		if err != nil {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("imageフィールドの読み取りに失敗しました。"))
			return
		}
		defer closeFile(file)

		in = post.CreateInput{
			Title:     r.FormValue("title"),
			Caption:   r.FormValue("caption"),
			Tags:      formTags(r),
			AudioURL:  r.FormValue("audio_url"),
			AudioName: r.FormValue("audio_name"),
			ImageURL:  r.FormValue("image_url"),
		}
		if file != nil {
			in.Image = file
		}
	} else {
		var req createPostRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		in = post.CreateInput{
			Title:     req.Title,
			Caption:   req.Caption,
			Tags:      req.Tags,
			AudioURL:  req.AudioURL,
			AudioName: req.AudioName,
			ImageURL:  req.ImageURL,
		}
	}

	p, err := h.service.Create(r.Context(), userID, in)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// formTags はtagsフィールドを読み取る。複数指定とカンマ区切りの両方に対応する。
func formTags(r *http.Request) []string {
	var tags []string
	for _, v := range r.MultipartForm.Value["tags"] {
		tags = append(tags, post.ParseTags(v)...)
	}
	return tags
}

// Get は投稿を返し、閲覧数を1増やす。
// GET /api/posts/{id}
func (h *PostHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Update は投稿のタイトル・キャプション・タグを更新する。
// PUT /api/posts/{id}
func (h *PostHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req updatePostRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	p, err := h.service.Update(r.Context(), userID, chi.URLParam(r, "id"), post.UpdateInput{
		Title:   req.Title,
		Caption: req.Caption,
		Tags:    req.Tags,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Delete は投稿を削除する。
// DELETE /api/posts/{id}
func (h *PostHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListSaved は自分が保存した投稿を返す。
// GET /api/saved-posts?limit=&offset=
func (h *PostHandler) ListSaved(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	posts, err := h.service.ListSaved(r.Context(), userID, queryInt(r, "limit", 0), queryInt(r, "offset", 0))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, posts)
}
