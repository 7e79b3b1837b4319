package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/ltme/internal/auth"
	"github.com/hitoshi/ltme/internal/middleware"
	"github.com/hitoshi/ltme/internal/model"
)

// --- モック定義 ---

// mockAuthService はAuthServiceInterfaceのモック実装。
type mockAuthService struct {
	signUpFn      func(ctx context.Context, email, password string) (*auth.Result, error)
	signInFn      func(ctx context.Context, email, password string) (*auth.Result, error)
	signOutFn     func(ctx context.Context, sessionID string) error
	currentUserFn func(ctx context.Context, userID string) (*model.User, error)
}

func (m *mockAuthService) SignUp(ctx context.Context, email, password string) (*auth.Result, error) {
	if m.signUpFn != nil {
		return m.signUpFn(ctx, email, password)
	}
	return nil, nil
}

func (m *mockAuthService) SignIn(ctx context.Context, email, password string) (*auth.Result, error) {
	if m.signInFn != nil {
		return m.signInFn(ctx, email, password)
	}
	return nil, nil
}

func (m *mockAuthService) SignOut(ctx context.Context, sessionID string) error {
	if m.signOutFn != nil {
		return m.signOutFn(ctx, sessionID)
	}
	return nil
}

func (m *mockAuthService) CurrentUser(ctx context.Context, userID string) (*model.User, error) {
	if m.currentUserFn != nil {
		return m.currentUserFn(ctx, userID)
	}
	return nil, nil
}

func testResult(email string) *auth.Result {
	return &auth.Result{
		Token:     "signed-token",
		ExpiresAt: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
		User:      &model.User{ID: "user-1", Email: email, Username: "alice_0001"},
	}
}

// --- POST /api/auth/signup ---

func TestAuthHandler_SignUp_Created(t *testing.T) {
	svc := &mockAuthService{
		signUpFn: func(ctx context.Context, email, password string) (*auth.Result, error) {
			if email != "alice@example.com" || password != "secret1" {
				t.Errorf("SignUp(%q, %q)", email, password)
			}
			return testResult(email), nil
		},
	}
	h := NewAuthHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/signup",
		strings.NewReader(`{"email":"alice@example.com","password":"secret1"}`))
	w := httptest.NewRecorder()
	h.SignUp(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusCreated)
	}
	var resp authResponse
	decodeBody(t, w, &resp)
	if resp.Token != "signed-token" {
		t.Errorf("token = %q", resp.Token)
	}
	if resp.User.Email != "alice@example.com" || resp.User.Username != "alice_0001" {
		t.Errorf("user = %+v", resp.User)
	}
}

func TestAuthHandler_SignUp_EmailTaken(t *testing.T) {
	svc := &mockAuthService{
		signUpFn: func(ctx context.Context, email, password string) (*auth.Result, error) {
			return nil, model.NewEmailTakenError()
		},
	}
	h := NewAuthHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/signup",
		strings.NewReader(`{"email":"alice@example.com","password":"secret1"}`))
	w := httptest.NewRecorder()
	h.SignUp(w, req)

	assertErrorCode(t, w, http.StatusConflict, model.ErrCodeEmailTaken)
}

// --- POST /api/auth/signin ---

func TestAuthHandler_SignIn(t *testing.T) {
	t.Run("success returns 200", func(t *testing.T) {
		h := NewAuthHandler(&mockAuthService{
			signInFn: func(ctx context.Context, email, password string) (*auth.Result, error) {
				return testResult(email), nil
			},
		})
		req := httptest.NewRequest(http.MethodPost, "/api/auth/signin",
			strings.NewReader(`{"email":"alice@example.com","password":"secret1"}`))
		w := httptest.NewRecorder()
		h.SignIn(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
		}
	})

	t.Run("wrong password returns 401", func(t *testing.T) {
		h := NewAuthHandler(&mockAuthService{
			signInFn: func(ctx context.Context, email, password string) (*auth.Result, error) {
				return nil, model.NewInvalidCredentialsError()
			},
		})
		req := httptest.NewRequest(http.MethodPost, "/api/auth/signin",
			strings.NewReader(`{"email":"alice@example.com","password":"wrong"}`))
		w := httptest.NewRecorder()
		h.SignIn(w, req)

		assertErrorCode(t, w, http.StatusUnauthorized, model.ErrCodeInvalidCredentials)
	})

	t.Run("malformed body returns 400", func(t *testing.T) {
		h := NewAuthHandler(&mockAuthService{})
		req := httptest.NewRequest(http.MethodPost, "/api/auth/signin", strings.NewReader("email="))
		w := httptest.NewRecorder()
		h.SignIn(w, req)

		assertErrorCode(t, w, http.StatusBadRequest, model.ErrCodeInvalidRequest)
	})
}

// --- POST /api/auth/signout ---

func TestAuthHandler_SignOut_RevokesCurrentSession(t *testing.T) {
	var revoked string
	h := NewAuthHandler(&mockAuthService{
		signOutFn: func(ctx context.Context, sessionID string) error {
			revoked = sessionID
			return nil
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/api/auth/signout", nil)
	req = req.WithContext(middleware.ContextWithPrincipal(req.Context(),
		&auth.Principal{UserID: "user-1", SessionID: "session-1"}))
	w := httptest.NewRecorder()
	h.SignOut(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if revoked != "session-1" {
		t.Errorf("revoked session = %q, want %q", revoked, "session-1")
	}
}

func TestAuthHandler_SignOut_NoPrincipal(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{})

	req := httptest.NewRequest(http.MethodPost, "/api/auth/signout", nil)
	w := httptest.NewRecorder()
	h.SignOut(w, req)

	assertErrorCode(t, w, http.StatusUnauthorized, model.ErrCodeUnauthorized)
}

// --- GET /api/auth/me ---

func TestAuthHandler_Me(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{
		currentUserFn: func(ctx context.Context, userID string) (*model.User, error) {
			if userID != "user-1" {
				return nil, model.NewUserNotFoundError()
			}
			return &model.User{ID: "user-1", Email: "alice@example.com", Username: "alice"}, nil
		},
	})

	req := withUserID(httptest.NewRequest(http.MethodGet, "/api/auth/me", nil), "user-1")
	w := httptest.NewRecorder()
	h.Me(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp meResponse
	decodeBody(t, w, &resp)
	if resp.Email != "alice@example.com" {
		t.Errorf("email = %q", resp.Email)
	}
}
