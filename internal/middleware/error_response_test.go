package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/ltme/internal/model"
)

func decodeErrorBody(t *testing.T, w *httptest.ResponseRecorder) ErrorResponseBody {
	t.Helper()
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	return body
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  *model.APIError
		want int
	}{
		{"unauthorized", model.NewUnauthorizedError(), http.StatusUnauthorized},
		{"invalid credentials", model.NewInvalidCredentialsError(), http.StatusUnauthorized},
		{"forbidden", model.NewForbiddenError("投稿"), http.StatusForbidden},
		{"ssrf blocked", model.NewSSRFBlockedError(), http.StatusForbidden},
		{"user not found", model.NewUserNotFoundError(), http.StatusNotFound},
		{"post not found", model.NewPostNotFoundError("p1"), http.StatusNotFound},
		{"album not found", model.NewAlbumNotFoundError("a1"), http.StatusNotFound},
		{"email taken", model.NewEmailTakenError(), http.StatusConflict},
		{"username taken", model.NewUsernameTakenError(), http.StatusConflict},
		{"already following", model.NewAlreadyFollowingError(), http.StatusConflict},
		{"already saved", model.NewAlreadySavedError(), http.StatusConflict},
		{"already in album", model.NewAlreadyInAlbumError(), http.StatusConflict},
		{"invalid request", model.NewInvalidRequestError("x"), http.StatusBadRequest},
		{"invalid filter", model.NewInvalidFilterError("popular"), http.StatusBadRequest},
		{"invalid url", model.NewInvalidURLError("scheme"), http.StatusBadRequest},
		{"cannot follow self", model.NewCannotFollowSelfError(), http.StatusBadRequest},
		{"invalid image", model.NewInvalidImageError("text/plain"), http.StatusUnsupportedMediaType},
		{"image too large", model.NewImageTooLargeError(10), http.StatusRequestEntityTooLarge},
		{"fetch failed", model.NewFetchFailedError("timeout"), http.StatusBadGateway},
		{"rate limited", model.NewRateLimitedError(), http.StatusTooManyRequests},
		{"internal", model.NewInternalError(), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusCode(tt.err); got != tt.want {
				t.Errorf("StatusCode(%s) = %d, want %d", tt.err.Code, got, tt.want)
			}
		})
	}
}

func TestWriteErrorResponse(t *testing.T) {
	w := httptest.NewRecorder()
	apiErr := model.NewAlreadySavedError()

	WriteErrorResponse(w, http.StatusConflict, apiErr)

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", w.Code, http.StatusConflict)
	}
	body := decodeErrorBody(t, w)
	want := ErrorResponseBody{Code: apiErr.Code, Message: apiErr.Message, Category: apiErr.Category, Action: apiErr.Action}
	if body != want {
		t.Errorf("body = %+v, want %+v", body, want)
	}
}

func TestWriteError_WrappedAPIError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, fmt.Errorf("toggle saved: %w", model.NewPostNotFoundError("p1")))

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
	if body := decodeErrorBody(t, w); body.Code != model.ErrCodePostNotFound {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodePostNotFound)
	}
}

func TestWriteError_UnknownErrorHidesDetails(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, errors.New("pq: connection refused"))

	if strings.Contains(w.Body.String(), "connection refused") {
		t.Errorf("internal error details leaked: %s", w.Body.String())
	}
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	body := decodeErrorBody(t, w)
	if body.Code != model.ErrCodeInternal || body.Category != "system" || body.Action == "" {
		t.Errorf("body = %+v, want a system INTERNAL_ERROR with an action", body)
	}
}
