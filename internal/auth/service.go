// Package auth はメールアドレスとパスワードによる認証、トークン発行、セッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/ltme/internal/model"
	"github.com/hitoshi/ltme/internal/repository"
)

const (
	minPasswordLength = 6
	// bcryptの入力上限
	maxPasswordLength = 72
	// usernameAttempts は自動生成したユーザー名が衝突した場合の再試行回数。
	usernameAttempts = 3
)

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	JWTSecret  []byte
	TokenTTL   time.Duration
	BcryptCost int
}

// Result はサインアップ・サインインの結果。
type Result struct {
	Token     string
	ExpiresAt time.Time
	User      *model.User
}

// Principal は検証済みトークンが表す利用者。
type Principal struct {
	UserID    string
	Email     string
	SessionID string
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	tokens      *TokenIssuer
	config      ServiceConfig
}

// NewService はServiceを生成する。
func NewService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	config ServiceConfig,
) *Service {
	if config.BcryptCost == 0 {
		config.BcryptCost = bcrypt.DefaultCost
	}
	return &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		tokens:      NewTokenIssuer(config.JWTSecret, config.TokenTTL),
		config:      config,
	}
}

// SignUp はユーザーを登録しトークンを発行する。
// ユーザー名はメールアドレスのローカル部と乱数から自動生成する。
func (s *Service) SignUp(ctx context.Context, email, password string) (*Result, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}

	existing, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	if existing != nil {
		return nil, model.NewEmailTakenError()
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.config.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := time.Now()
	user := &model.User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	for attempt := 0; ; attempt++ {
		user.Username, err = generateUsername(email)
		if err != nil {
			return nil, err
		}
		err = s.userRepo.Create(ctx, user)
		if err == nil {
			break
		}
		if !errors.Is(err, repository.ErrDuplicate) {
			return nil, fmt.Errorf("failed to create user: %w", err)
		}
		// メールアドレスが同時に登録された場合もErrDuplicateになる
		if taken, findErr := s.userRepo.FindByEmail(ctx, email); findErr == nil && taken != nil {
			return nil, model.NewEmailTakenError()
		}
		if attempt+1 >= usernameAttempts {
			return nil, fmt.Errorf("failed to allocate username: %w", err)
		}
	}

	slog.Info("new user signed up",
		slog.String("user_id", user.ID),
		slog.String("username", user.Username),
	)

	return s.issue(ctx, user)
}

// SignIn はメールアドレスとパスワードを検証しトークンを発行する。
// ユーザーの存在有無は区別せずINVALID_CREDENTIALSを返す。
func (s *Service) SignIn(ctx context.Context, email, password string) (*Result, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, model.NewInvalidRequestError("メールアドレスとパスワードは必須です。")
	}

	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	if user == nil {
		return nil, model.NewInvalidCredentialsError()
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, model.NewInvalidCredentialsError()
	}

	slog.Info("user signed in", slog.String("user_id", user.ID))
	return s.issue(ctx, user)
}

// Authenticate はトークンを検証し、セッションが有効な場合に利用者を返す。
func (s *Service) Authenticate(ctx context.Context, token string) (*Principal, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return nil, model.NewUnauthorizedError()
	}

	session, err := s.sessionRepo.FindByID(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil || session.UserID != claims.UserID {
		return nil, model.NewUnauthorizedError()
	}

	return &Principal{
		UserID:    claims.UserID,
		Email:     claims.Email,
		SessionID: claims.ID,
	}, nil
}

// SignOut はセッションを破棄する。
func (s *Service) SignOut(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user signed out", slog.String("session_id", sessionID))
	return nil
}

// CurrentUser はユーザーIDから現在のユーザーを取得する。
func (s *Service) CurrentUser(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// issue はトークンを発行し、jtiをIDとするセッションを永続化する。
func (s *Service) issue(ctx context.Context, user *model.User) (*Result, error) {
	token, claims, err := s.tokens.Issue(user.ID, user.Email)
	if err != nil {
		return nil, err
	}

	session := &model.Session{
		ID:        claims.ID,
		UserID:    user.ID,
		ExpiresAt: claims.ExpiresAt.Time,
		CreatedAt: claims.IssuedAt.Time,
	}
	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return &Result{Token: token, ExpiresAt: session.ExpiresAt, User: user}, nil
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", model.NewInvalidRequestError("メールアドレスは必須です。")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", model.NewInvalidRequestError("メールアドレスの形式が正しくありません。")
	}
	return email, nil
}

func validatePassword(password string) error {
	if len(password) < minPasswordLength {
		return model.NewInvalidRequestError(fmt.Sprintf("パスワードは%d文字以上で入力してください。", minPasswordLength))
	}
	if len(password) > maxPasswordLength {
		return model.NewInvalidRequestError(fmt.Sprintf("パスワードは%dバイト以下で入力してください。", maxPasswordLength))
	}
	return nil
}

var usernameDisallowed = regexp.MustCompile(`[^a-z0-9_-]+`)

// generateUsername はメールアドレスのローカル部から "<prefix>_<4桁の乱数>" 形式のユーザー名を生成する。
func generateUsername(email string) (string, error) {
	local, _, _ := strings.Cut(email, "@")
	prefix := strings.Trim(usernameDisallowed.ReplaceAllString(strings.ToLower(local), ""), "_-")
	if prefix == "" {
		prefix = "user"
	}
	if len(prefix) > 20 {
		prefix = prefix[:20]
	}

	n, err := rand.Int(rand.Reader, big.NewInt(10000))
	if err != nil {
		return "", fmt.Errorf("failed to generate username suffix: %w", err)
	}
	return fmt.Sprintf("%s_%04d", prefix, n.Int64()), nil
}
