// Package session はクライアント側のログイン状態を保持する。
// トークンからユーザーIDとメールアドレスを取り出してメモリに持ち、Slotへ永続化する。
// 署名の検証はサーバーが行うため、ここでは検証しない。
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrNoToken はサインインしていないことを表す。
	ErrNoToken = errors.New("no session token")
	// ErrMalformedToken はトークンから本人情報を取り出せないことを表す。
	ErrMalformedToken = errors.New("malformed session token")
	// ErrExpired はトークンの有効期限が切れていることを表す。
	ErrExpired = errors.New("session token expired")
)

// Identity はセッションが表す利用者。セッションの間は変わらない。
type Identity struct {
	UserID string
	Email  string
}

// claims はトークンのうちクライアントが読むクレーム。
type claims struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// DecodeIdentity は署名を検証せずにトークンから本人情報を取り出す。
func DecodeIdentity(token string, now time.Time) (Identity, error) {
	c := &claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, c); err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if c.UserID == "" {
		return Identity{}, fmt.Errorf("%w: missing userId", ErrMalformedToken)
	}
	if c.ExpiresAt != nil && !c.ExpiresAt.After(now) {
		return Identity{}, ErrExpired
	}
	return Identity{UserID: c.UserID, Email: c.Email}, nil
}

// Slot はトークンの永続化先。
type Slot interface {
	// Load は保存済みのトークンを返す。保存されていない場合は空文字を返す。
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, token string) error
	Clear(ctx context.Context) error
}

// Listener はサインイン・サインアウトの通知を受け取る。
// サインアウト時はokがfalseになる。
type Listener func(id Identity, ok bool)

// Session はトークンと本人情報を保持する。並行利用に対して安全。
// 本人情報はSetToken/ClearTokenで丸ごと置き換わる。
type Session struct {
	mu        sync.RWMutex
	slot      Slot
	token     string
	identity  Identity
	listeners map[int]Listener
	nextID    int
	now       func() time.Time
}

// New はSessionを生成する。slotがnilの場合はメモリのみで保持する。
func New(slot Slot) *Session {
	if slot == nil {
		slot = NewMemorySlot()
	}
	return &Session{
		slot:      slot,
		listeners: make(map[int]Listener),
		now:       time.Now,
	}
}

// Restore はSlotからトークンを読み込む。
// 読めないトークンや期限切れのトークンはSlotから消し、未サインインの状態にする。
func (s *Session) Restore(ctx context.Context) error {
	token, err := s.slot.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}
	if token == "" {
		return nil
	}

	id, err := DecodeIdentity(token, s.now())
	if err != nil {
		slog.Warn("discarding stored session", slog.String("error", err.Error()))
		if clearErr := s.slot.Clear(ctx); clearErr != nil {
			return fmt.Errorf("failed to clear session: %w", clearErr)
		}
		return nil
	}

	s.replace(token, id)
	return nil
}

// SetToken はトークンを保存し、本人情報を置き換える。
func (s *Session) SetToken(ctx context.Context, token string) error {
	id, err := DecodeIdentity(token, s.now())
	if err != nil {
		return err
	}
	if err := s.slot.Save(ctx, token); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	s.replace(token, id)
	return nil
}

// ClearToken はトークンを破棄する。サインインしていない場合も成功する。
func (s *Session) ClearToken(ctx context.Context) error {
	if err := s.slot.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	s.replace("", Identity{})
	return nil
}

func (s *Session) replace(token string, id Identity) {
	s.mu.Lock()
	changed := s.identity != id
	s.token = token
	s.identity = id
	listeners := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	if !changed {
		return
	}
	for _, l := range listeners {
		l(id, id.UserID != "")
	}
}

// Token は現在のトークンを返す。サインインしていない場合はErrNoTokenを返す。
func (s *Session) Token() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == "" {
		return "", ErrNoToken
	}
	return s.token, nil
}

// Identity は現在の本人情報を返す。
func (s *Session) Identity() (Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity, s.identity.UserID != ""
}

// UserID は現在のユーザーIDを返す。サインインしていない場合は空文字。
func (s *Session) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity.UserID
}

// OnChange は本人情報が変わったときに呼ばれるListenerを登録し、解除関数を返す。
// 同じユーザーのトークン更新では呼ばれない。
func (s *Session) OnChange(l Listener) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}
