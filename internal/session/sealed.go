package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
	"filippo.io/age/armor"
)

// SealedSlot は端末ごとのX25519鍵でトークンを暗号化してから内側のSlotへ保存する。
type SealedSlot struct {
	inner    Slot
	identity *age.X25519Identity
}

// NewSealedSlot はSealedSlotを生成する。
func NewSealedSlot(inner Slot, identity *age.X25519Identity) *SealedSlot {
	return &SealedSlot{inner: inner, identity: identity}
}

func (s *SealedSlot) Load(ctx context.Context) (string, error) {
	sealed, err := s.inner.Load(ctx)
	if err != nil || sealed == "" {
		return "", err
	}

	r, err := age.Decrypt(armor.NewReader(strings.NewReader(sealed)), s.identity)
	if err != nil {
		return "", fmt.Errorf("decrypting session: %w", err)
	}
	token, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("reading decrypted session: %w", err)
	}
	return string(token), nil
}

func (s *SealedSlot) Save(ctx context.Context, token string) error {
	var buf bytes.Buffer
	aw := armor.NewWriter(&buf)
	w, err := age.Encrypt(aw, s.identity.Recipient())
	if err != nil {
		return fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := io.WriteString(w, token); err != nil {
		return fmt.Errorf("encrypting session: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalizing encryption: %w", err)
	}
	if err := aw.Close(); err != nil {
		return fmt.Errorf("finalizing armor: %w", err)
	}
	return s.inner.Save(ctx, buf.String())
}

func (s *SealedSlot) Clear(ctx context.Context) error {
	return s.inner.Clear(ctx)
}

// LoadOrCreateIdentity はpathから端末鍵を読み込む。存在しない場合は生成して0600で保存する。
func LoadOrCreateIdentity(path string) (*age.X25519Identity, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		identity, err := age.ParseX25519Identity(strings.TrimSpace(string(data)))
		if err != nil {
			return nil, fmt.Errorf("parsing device key: %w", err)
		}
		return identity, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading device key: %w", err)
	}

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generating device key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating key directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(identity.String()+"\n"), 0o600); err != nil {
		return nil, fmt.Errorf("writing device key: %w", err)
	}
	return identity, nil
}

// compile-time interface check
var _ Slot = (*SealedSlot)(nil)
