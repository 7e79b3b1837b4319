package handler

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/ltme/internal/model"
	"github.com/hitoshi/ltme/internal/post"
)

// --- モック定義 ---

// mockPostService はPostServiceInterfaceのモック実装。
type mockPostService struct {
	createFn    func(ctx context.Context, userID string, in post.CreateInput) (*model.Post, error)
	getFn       func(ctx context.Context, postID string) (*model.Post, error)
	updateFn    func(ctx context.Context, userID, postID string, in post.UpdateInput) (*model.Post, error)
	deleteFn    func(ctx context.Context, userID, postID string) error
	listFn      func(ctx context.Context, q model.PostQuery) ([]model.Post, error)
	listSavedFn func(ctx context.Context, userID string, limit, offset int) ([]model.Post, error)
}

func (m *mockPostService) Create(ctx context.Context, userID string, in post.CreateInput) (*model.Post, error) {
	if m.createFn != nil {
		return m.createFn(ctx, userID, in)
	}
	return &model.Post{}, nil
}

func (m *mockPostService) Get(ctx context.Context, postID string) (*model.Post, error) {
	if m.getFn != nil {
		return m.getFn(ctx, postID)
	}
	return &model.Post{ID: postID}, nil
}

func (m *mockPostService) Update(ctx context.Context, userID, postID string, in post.UpdateInput) (*model.Post, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, userID, postID, in)
	}
	return &model.Post{ID: postID}, nil
}

func (m *mockPostService) Delete(ctx context.Context, userID, postID string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, userID, postID)
	}
	return nil
}

func (m *mockPostService) List(ctx context.Context, q model.PostQuery) ([]model.Post, error) {
	if m.listFn != nil {
		return m.listFn(ctx, q)
	}
	return []model.Post{}, nil
}

func (m *mockPostService) ListSaved(ctx context.Context, userID string, limit, offset int) ([]model.Post, error) {
	if m.listSavedFn != nil {
		return m.listSavedFn(ctx, userID, limit, offset)
	}
	return []model.Post{}, nil
}

// --- GET /api/posts ---

func TestPostHandler_List_PassesQuery(t *testing.T) {
	var got model.PostQuery
	h := NewPostHandler(&mockPostService{
		listFn: func(ctx context.Context, q model.PostQuery) ([]model.Post, error) {
			got = q
			return []model.Post{{ID: "p1"}}, nil
		},
	}, 1<<20)

	req := httptest.NewRequest(http.MethodGet, "/api/posts?filter=following&q=sunset&limit=10&offset=20", nil)
	req = withUserID(req, "viewer-1")
	w := httptest.NewRecorder()
	h.List(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	want := model.PostQuery{
		Filter:   model.PostFilterFollowing,
		ViewerID: "viewer-1",
		Search:   "sunset",
		Limit:    10,
		Offset:   20,
	}
	if got != want {
		t.Errorf("query = %+v, want %+v", got, want)
	}
}

func TestPostHandler_List_AnonymousHasEmptyViewer(t *testing.T) {
	var viewer = "unset"
	h := NewPostHandler(&mockPostService{
		listFn: func(ctx context.Context, q model.PostQuery) ([]model.Post, error) {
			viewer = q.ViewerID
			return []model.Post{}, nil
		},
	}, 1<<20)

	w := httptest.NewRecorder()
	h.List(w, httptest.NewRequest(http.MethodGet, "/api/posts", nil))

	if viewer != "" {
		t.Errorf("ViewerID = %q, want empty", viewer)
	}
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("body = %q, want []", w.Body.String())
	}
}

func TestPostHandler_List_InvalidFilter(t *testing.T) {
	h := NewPostHandler(&mockPostService{
		listFn: func(ctx context.Context, q model.PostQuery) ([]model.Post, error) {
			return nil, model.NewInvalidFilterError(string(q.Filter))
		},
	}, 1<<20)

	w := httptest.NewRecorder()
	h.List(w, httptest.NewRequest(http.MethodGet, "/api/posts?filter=popular", nil))

	assertErrorCode(t, w, http.StatusBadRequest, model.ErrCodeInvalidFilter)
}

// --- POST /api/posts ---

func newMultipartPost(t *testing.T, fields map[string][]string, image []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, values := range fields {
		for _, v := range values {
			if err := mw.WriteField(name, v); err != nil {
				t.Fatal(err)
			}
		}
	}
	if image != nil {
		fw, err := mw.CreateFormFile("image", "photo.png")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := fw.Write(image); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/posts", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestPostHandler_Create_Multipart(t *testing.T) {
	var gotInput post.CreateInput
	var gotImage []byte
	h := NewPostHandler(&mockPostService{
		createFn: func(ctx context.Context, userID string, in post.CreateInput) (*model.Post, error) {
			gotInput = in
			if in.Image != nil {
				gotImage, _ = io.ReadAll(in.Image)
			}
			return &model.Post{ID: "p1", UserID: userID, Title: in.Title}, nil
		},
	}, 1<<20)

	req := newMultipartPost(t, map[string][]string{
		"title":     {"Sunset"},
		"caption":   {"at the beach"},
		"tags":      {"sea, sky", "#summer"},
		"audio_url": {"https://example.com/song.mp3"},
	}, []byte("image-bytes"))
	req = withUserID(req, "user-1")
	w := httptest.NewRecorder()
	h.Create(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d (body=%s)", w.Code, http.StatusCreated, w.Body.String())
	}
	if gotInput.Title != "Sunset" || gotInput.Caption != "at the beach" {
		t.Errorf("input = %+v", gotInput)
	}
	if gotInput.AudioURL != "https://example.com/song.mp3" {
		t.Errorf("AudioURL = %q", gotInput.AudioURL)
	}
	if len(gotInput.Tags) != 3 {
		t.Errorf("Tags = %v, want 3 entries", gotInput.Tags)
	}
	if string(gotImage) != "image-bytes" {
		t.Errorf("image = %q", gotImage)
	}
}

func TestPostHandler_Create_JSONWithImageURL(t *testing.T) {
	var gotInput post.CreateInput
	h := NewPostHandler(&mockPostService{
		createFn: func(ctx context.Context, userID string, in post.CreateInput) (*model.Post, error) {
			gotInput = in
			return &model.Post{ID: "p1"}, nil
		},
	}, 1<<20)

	req := httptest.NewRequest(http.MethodPost, "/api/posts",
		strings.NewReader(`{"title":"Mountains","image_url":"https://example.com/a.jpg","tags":["hike"]}`))
	req.Header.Set("Content-Type", "application/json")
	req = withUserID(req, "user-1")
	w := httptest.NewRecorder()
	h.Create(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusCreated)
	}
	if gotInput.ImageURL != "https://example.com/a.jpg" || gotInput.Image != nil {
		t.Errorf("input = %+v", gotInput)
	}
}

func TestPostHandler_Create_TooLarge(t *testing.T) {
	h := NewPostHandler(&mockPostService{}, 16)

	req := newMultipartPost(t, map[string][]string{"title": {"big"}}, bytes.Repeat([]byte("x"), 2<<20))
	req = withUserID(req, "user-1")
	w := httptest.NewRecorder()
	h.Create(w, req)

	assertErrorCode(t, w, http.StatusRequestEntityTooLarge, model.ErrCodeImageTooLarge)
}

func TestPostHandler_Create_RequiresUser(t *testing.T) {
	h := NewPostHandler(&mockPostService{}, 1<<20)

	w := httptest.NewRecorder()
	h.Create(w, httptest.NewRequest(http.MethodPost, "/api/posts", strings.NewReader("{}")))

	assertErrorCode(t, w, http.StatusUnauthorized, model.ErrCodeUnauthorized)
}

// --- PUT/DELETE /api/posts/{id} ---

func TestPostHandler_Update_PartialFields(t *testing.T) {
	var gotInput post.UpdateInput
	h := NewPostHandler(&mockPostService{
		updateFn: func(ctx context.Context, userID, postID string, in post.UpdateInput) (*model.Post, error) {
			gotInput = in
			return &model.Post{ID: postID}, nil
		},
	}, 1<<20)

	req := httptest.NewRequest(http.MethodPut, "/api/posts/p1", strings.NewReader(`{"caption":"new"}`))
	req = withURLParam(withUserID(req, "user-1"), "id", "p1")
	w := httptest.NewRecorder()
	h.Update(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotInput.Title != nil || gotInput.Tags != nil {
		t.Errorf("omitted fields should stay nil: %+v", gotInput)
	}
	if gotInput.Caption == nil || *gotInput.Caption != "new" {
		t.Errorf("Caption = %v", gotInput.Caption)
	}
}

func TestPostHandler_Delete(t *testing.T) {
	t.Run("owner gets 204", func(t *testing.T) {
		var gotID string
		h := NewPostHandler(&mockPostService{
			deleteFn: func(ctx context.Context, userID, postID string) error {
				gotID = postID
				return nil
			},
		}, 1<<20)

		req := withURLParam(withUserID(httptest.NewRequest(http.MethodDelete, "/api/posts/p1", nil), "user-1"), "id", "p1")
		w := httptest.NewRecorder()
		h.Delete(w, req)

		if w.Code != http.StatusNoContent {
			t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
		}
		if gotID != "p1" {
			t.Errorf("postID = %q", gotID)
		}
	})

	t.Run("non-owner gets 403", func(t *testing.T) {
		h := NewPostHandler(&mockPostService{
			deleteFn: func(ctx context.Context, userID, postID string) error {
				return model.NewForbiddenError("投稿")
			},
		}, 1<<20)

		req := withURLParam(withUserID(httptest.NewRequest(http.MethodDelete, "/api/posts/p1", nil), "user-2"), "id", "p1")
		w := httptest.NewRecorder()
		h.Delete(w, req)

		assertErrorCode(t, w, http.StatusForbidden, model.ErrCodeForbidden)
	})
}
