package auth

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/ltme/internal/model"
	"github.com/hitoshi/ltme/internal/repository"
)

// --- モック定義 ---

type mockUserRepo struct {
	mu              sync.Mutex
	users           map[string]*model.User
	createFn        func(ctx context.Context, user *model.User) error
	findByEmailErr  error
	createdUsername []string
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{users: make(map[string]*model.User)}
}

func (m *mockUserRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[id], nil
}

func (m *mockUserRepo) FindByEmail(_ context.Context, email string) (*model.User, error) {
	if m.findByEmailErr != nil {
		return nil, m.findByEmailErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, nil
}

func (m *mockUserRepo) FindByUsername(_ context.Context, username string) (*model.User, error) {
	return nil, nil
}

func (m *mockUserRepo) Create(ctx context.Context, user *model.User) error {
	m.mu.Lock()
	m.createdUsername = append(m.createdUsername, user.Username)
	m.mu.Unlock()
	if m.createFn != nil {
		if err := m.createFn(ctx, user); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *user
	m.users[user.ID] = &copied
	return nil
}

func (m *mockUserRepo) UpdateProfile(_ context.Context, _ *model.User) error { return nil }
func (m *mockUserRepo) DeleteByID(_ context.Context, _ string) error        { return nil }
func (m *mockUserRepo) GetProfile(_ context.Context, _ string) (*model.Profile, error) {
	return nil, nil
}
func (m *mockUserRepo) ListTopByPostCount(_ context.Context, _ int) ([]model.Profile, error) {
	return nil, nil
}
func (m *mockUserRepo) Search(_ context.Context, _ string, _ int) ([]model.Profile, error) {
	return nil, nil
}

type mockSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*model.Session
	deleted  []string
}

func newMockSessionRepo() *mockSessionRepo {
	return &mockSessionRepo{sessions: make(map[string]*model.Session)}
}

func (m *mockSessionRepo) Create(_ context.Context, session *model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.ID] = session
	return nil
}

func (m *mockSessionRepo) FindByID(_ context.Context, id string) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id], nil
}

func (m *mockSessionRepo) DeleteByID(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	m.deleted = append(m.deleted, id)
	return nil
}

func (m *mockSessionRepo) DeleteByUserID(_ context.Context, _ string) error { return nil }
func (m *mockSessionRepo) DeleteExpired(_ context.Context) (int64, error)  { return 0, nil }

// --- compile-time interface checks ---
var _ repository.UserRepository = (*mockUserRepo)(nil)
var _ repository.SessionRepository = (*mockSessionRepo)(nil)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestService(users *mockUserRepo, sessions *mockSessionRepo) *Service {
	return NewService(users, sessions, ServiceConfig{
		JWTSecret:  []byte(testSecret),
		TokenTTL:   7 * 24 * time.Hour,
		BcryptCost: bcrypt.MinCost,
	})
}

// --- テスト ---

func TestSignUp_CreatesUserSessionAndToken(t *testing.T) {
	users, sessions := newMockUserRepo(), newMockSessionRepo()
	svc := newTestService(users, sessions)

	result, err := svc.SignUp(context.Background(), "  Alice.Smith@Example.com ", "secret123")
	if err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}

	if result.User.Email != "alice.smith@example.com" {
		t.Errorf("email = %q, want normalized", result.User.Email)
	}
	if !regexp.MustCompile(`^alicesmith_\d{4}$`).MatchString(result.User.Username) {
		t.Errorf("username = %q, want alicesmith_NNNN", result.User.Username)
	}
	if bcrypt.CompareHashAndPassword([]byte(result.User.PasswordHash), []byte("secret123")) != nil {
		t.Error("password hash does not match")
	}
	if result.Token == "" {
		t.Fatal("expected token")
	}
	if len(sessions.sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(sessions.sessions))
	}

	claims, err := svc.tokens.Parse(result.Token)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if claims.UserID != result.User.ID || claims.Email != result.User.Email {
		t.Errorf("claims = %+v", claims)
	}
	if _, ok := sessions.sessions[claims.ID]; !ok {
		t.Error("session ID should equal jti")
	}
	if d := time.Until(result.ExpiresAt); d < 6*24*time.Hour || d > 7*24*time.Hour {
		t.Errorf("expiry in %v, want about 7 days", d)
	}
}

func TestSignUp_Validation(t *testing.T) {
	tests := []struct {
		name     string
		email    string
		password string
	}{
		{name: "メールアドレスなし", email: "", password: "secret123"},
		{name: "不正なメールアドレス", email: "not-an-email", password: "secret123"},
		{name: "表示名付きアドレス", email: "Alice <a@example.com>", password: "secret123"},
		{name: "短いパスワード", email: "a@example.com", password: "12345"},
		{name: "長すぎるパスワード", email: "a@example.com", password: strings.Repeat("x", 73)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(newMockUserRepo(), newMockSessionRepo())
			_, err := svc.SignUp(context.Background(), tt.email, tt.password)
			if !model.HasCode(err, model.ErrCodeInvalidRequest) {
				t.Errorf("expected INVALID_REQUEST, got %v", err)
			}
		})
	}
}

func TestSignUp_DuplicateEmail(t *testing.T) {
	users, sessions := newMockUserRepo(), newMockSessionRepo()
	svc := newTestService(users, sessions)

	if _, err := svc.SignUp(context.Background(), "a@example.com", "secret123"); err != nil {
		t.Fatalf("first SignUp() error = %v", err)
	}
	_, err := svc.SignUp(context.Background(), "A@example.com", "other-pass")
	if !model.HasCode(err, model.ErrCodeEmailTaken) {
		t.Errorf("expected EMAIL_TAKEN, got %v", err)
	}
}

func TestSignUp_RetriesUsernameCollision(t *testing.T) {
	users, sessions := newMockUserRepo(), newMockSessionRepo()
	calls := 0
	users.createFn = func(_ context.Context, _ *model.User) error {
		calls++
		if calls == 1 {
			return repository.ErrDuplicate
		}
		return nil
	}
	svc := newTestService(users, sessions)

	if _, err := svc.SignUp(context.Background(), "bob@example.com", "secret123"); err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}
	if calls != 2 {
		t.Errorf("Create called %d times, want 2", calls)
	}
}

func TestSignUp_GivesUpAfterRepeatedCollisions(t *testing.T) {
	users, sessions := newMockUserRepo(), newMockSessionRepo()
	users.createFn = func(_ context.Context, _ *model.User) error { return repository.ErrDuplicate }
	svc := newTestService(users, sessions)

	_, err := svc.SignUp(context.Background(), "bob@example.com", "secret123")
	if err == nil {
		t.Fatal("expected error")
	}
	if len(users.createdUsername) != usernameAttempts {
		t.Errorf("attempts = %d, want %d", len(users.createdUsername), usernameAttempts)
	}
}

func TestSignIn(t *testing.T) {
	users, sessions := newMockUserRepo(), newMockSessionRepo()
	svc := newTestService(users, sessions)
	if _, err := svc.SignUp(context.Background(), "carol@example.com", "secret123"); err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}

	t.Run("正しい認証情報", func(t *testing.T) {
		result, err := svc.SignIn(context.Background(), "Carol@example.com", "secret123")
		if err != nil {
			t.Fatalf("SignIn() error = %v", err)
		}
		if result.User.Email != "carol@example.com" {
			t.Errorf("email = %q", result.User.Email)
		}
	})

	t.Run("パスワード誤り", func(t *testing.T) {
		_, err := svc.SignIn(context.Background(), "carol@example.com", "wrong-pass")
		if !model.HasCode(err, model.ErrCodeInvalidCredentials) {
			t.Errorf("expected INVALID_CREDENTIALS, got %v", err)
		}
	})

	t.Run("未登録ユーザー", func(t *testing.T) {
		_, err := svc.SignIn(context.Background(), "nobody@example.com", "secret123")
		if !model.HasCode(err, model.ErrCodeInvalidCredentials) {
			t.Errorf("expected INVALID_CREDENTIALS, got %v", err)
		}
	})

	t.Run("空入力", func(t *testing.T) {
		_, err := svc.SignIn(context.Background(), "", "")
		if !model.HasCode(err, model.ErrCodeInvalidRequest) {
			t.Errorf("expected INVALID_REQUEST, got %v", err)
		}
	})
}

func TestSignIn_RepositoryError(t *testing.T) {
	users := newMockUserRepo()
	users.findByEmailErr = errors.New("db down")
	svc := newTestService(users, newMockSessionRepo())

	_, err := svc.SignIn(context.Background(), "a@example.com", "secret123")
	if err == nil || model.HasCode(err, model.ErrCodeInvalidCredentials) {
		t.Errorf("expected infrastructure error, got %v", err)
	}
}

func TestAuthenticateAndSignOut(t *testing.T) {
	users, sessions := newMockUserRepo(), newMockSessionRepo()
	svc := newTestService(users, sessions)
	ctx := context.Background()

	result, err := svc.SignUp(ctx, "dave@example.com", "secret123")
	if err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}

	p, err := svc.Authenticate(ctx, result.Token)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if p.UserID != result.User.ID || p.Email != "dave@example.com" || p.SessionID == "" {
		t.Errorf("principal = %+v", p)
	}

	if err := svc.SignOut(ctx, p.SessionID); err != nil {
		t.Fatalf("SignOut() error = %v", err)
	}
	if _, err := svc.Authenticate(ctx, result.Token); !model.HasCode(err, model.ErrCodeUnauthorized) {
		t.Errorf("expected UNAUTHORIZED after sign out, got %v", err)
	}
}

func TestAuthenticate_RejectsBadTokens(t *testing.T) {
	svc := newTestService(newMockUserRepo(), newMockSessionRepo())

	other := NewTokenIssuer([]byte("another-secret-another-secret-xx"), time.Hour)
	forged, _, err := other.Issue("u1", "a@example.com")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	for _, token := range []string{"", "garbage", forged} {
		if _, err := svc.Authenticate(context.Background(), token); !model.HasCode(err, model.ErrCodeUnauthorized) {
			t.Errorf("Authenticate(%q) expected UNAUTHORIZED, got %v", token, err)
		}
	}
}

func TestSignOut_RequiresSessionID(t *testing.T) {
	svc := newTestService(newMockUserRepo(), newMockSessionRepo())
	if err := svc.SignOut(context.Background(), ""); err == nil {
		t.Error("expected error for empty session ID")
	}
}

func TestCurrentUser_NotFound(t *testing.T) {
	svc := newTestService(newMockUserRepo(), newMockSessionRepo())
	_, err := svc.CurrentUser(context.Background(), "missing")
	if !model.HasCode(err, model.ErrCodeUserNotFound) {
		t.Errorf("expected USER_NOT_FOUND, got %v", err)
	}
}

func TestGenerateUsername(t *testing.T) {
	tests := []struct {
		email string
		want  string
	}{
		{"alice@example.com", `^alice_\d{4}$`},
		{"a.b+c@example.com", `^abc_\d{4}$`},
		{"___@example.com", `^user_\d{4}$`},
		{"averyveryverylongemailaddressprefix@example.com", `^averyveryverylongema_\d{4}$`},
	}
	for _, tt := range tests {
		got, err := generateUsername(tt.email)
		if err != nil {
			t.Fatalf("generateUsername() error = %v", err)
		}
		if !regexp.MustCompile(tt.want).MatchString(got) {
			t.Errorf("generateUsername(%q) = %q, want %s", tt.email, got, tt.want)
		}
	}
}
