package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/ltme/internal/storage"
)

func newMediaRouter(store storage.Store) http.Handler {
	r := chi.NewRouter()
	r.Get("/media/*", NewMediaHandler(store).Serve)
	return r
}

func TestMediaHandler_Serve(t *testing.T) {
	store := storage.NewMemoryStore()
	key := "posts/2024/01/02/abc.png"
	body := "\x89PNG\r\n\x1a\nrest"
	if err := store.Put(context.Background(), key, strings.NewReader(body), int64(len(body)), "image/png"); err != nil {
		t.Fatal(err)
	}
	router := newMediaRouter(store)

	t.Run("existing object", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/media/"+key, nil))

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
		}
		if ct := w.Header().Get("Content-Type"); ct != "image/png" {
			t.Errorf("Content-Type = %q", ct)
		}
		if cc := w.Header().Get("Cache-Control"); !strings.Contains(cc, "immutable") {
			t.Errorf("Cache-Control = %q", cc)
		}
		if w.Body.String() != body {
			t.Errorf("body mismatch")
		}
	})

	t.Run("missing object", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/media/posts/none.png", nil))
		if w.Code != http.StatusNotFound {
			t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
		}
	})

	t.Run("traversal key", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/media/posts/../../etc/passwd", nil))
		if w.Code != http.StatusNotFound {
			t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
		}
	})
}

// stubChecker はHealthCheckerのスタブ。
type stubChecker struct{ err error }

func (s stubChecker) PingContext(ctx context.Context) error { return s.err }

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name       string
		checker    HealthChecker
		wantStatus int
		wantDB     string
	}{
		{"database reachable", stubChecker{}, http.StatusOK, "ok"},
		{"database down", stubChecker{err: errors.New("dial tcp: refused")}, http.StatusServiceUnavailable, "unreachable"},
		{"no database", nil, http.StatusOK, "none"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			NewHealthHandler(tt.checker)(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			var resp healthResponse
			decodeBody(t, w, &resp)
			if resp.Database != tt.wantDB {
				t.Errorf("database = %q, want %q", resp.Database, tt.wantDB)
			}
		})
	}
}
