package handler

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/ltme/internal/model"
)

func TestHandleServiceError_WrappedAPIError(t *testing.T) {
	w := httptest.NewRecorder()
	handleServiceError(w, fmt.Errorf("service: %w", model.NewPostNotFoundError("p1")))
	assertErrorCode(t, w, http.StatusNotFound, model.ErrCodePostNotFound)
}

func TestHandleServiceError_UnknownErrorHidesDetails(t *testing.T) {
	w := httptest.NewRecorder()
	handleServiceError(w, errors.New("pq: connection refused"))

	if strings.Contains(w.Body.String(), "connection refused") {
		t.Errorf("internal error details leaked: %s", w.Body.String())
	}
	assertErrorCode(t, w, http.StatusInternalServerError, model.ErrCodeInternal)
}

func TestDecodeJSON(t *testing.T) {
	t.Run("invalid body is rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{not json"))
		w := httptest.NewRecorder()
		var v map[string]any
		if decodeJSON(w, req, &v) {
			t.Fatal("decodeJSON() = true, want false")
		}
		assertErrorCode(t, w, http.StatusBadRequest, model.ErrCodeInvalidRequest)
	})

	t.Run("valid body is decoded", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"a@example.com"}`))
		w := httptest.NewRecorder()
		var v credentialsRequest
		if !decodeJSON(w, req, &v) {
			t.Fatalf("decodeJSON() = false, body=%s", w.Body.String())
		}
		if v.Email != "a@example.com" {
			t.Errorf("Email = %q", v.Email)
		}
	})
}

func TestQueryInt(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=20&offset=abc", nil)
	if got := queryInt(req, "limit", 0); got != 20 {
		t.Errorf("limit = %d, want 20", got)
	}
	if got := queryInt(req, "offset", 5); got != 5 {
		t.Errorf("offset = %d, want default 5", got)
	}
	if got := queryInt(req, "missing", 7); got != 7 {
		t.Errorf("missing = %d, want default 7", got)
	}
}
