package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/ltme/internal/storage"
)

// MediaHandler は保存済み画像を配信する。
type MediaHandler struct {
	store storage.Store
}

// NewMediaHandler はMediaHandlerを生成する。
func NewMediaHandler(store storage.Store) *MediaHandler {
	return &MediaHandler{store: store}
}

// Serve はキーに対応する画像を返す。
// GET /media/*
func (h *MediaHandler) Serve(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	if err := storage.ValidateKey(key); err != nil {
		http.NotFound(w, r)
		return
	}

	body, obj, err := h.store.Open(r.Context(), key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		slog.Error("failed to open media", slog.String("key", key), slog.String("error", err.Error()))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	defer body.Close()

	// キーは内容ごとに一意なので長期キャッシュできる
	w.Header().Set("Content-Type", obj.ContentType)
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	if obj.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	}
	if _, err := io.Copy(w, body); err != nil {
		slog.Debug("media copy aborted", slog.String("key", key), slog.String("error", err.Error()))
	}
}
