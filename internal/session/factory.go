package session

import (
	"fmt"
	"io"

	"github.com/hitoshi/ltme/internal/clientconfig"
)

// nopCloser は閉じる資源を持たないSlot用。
type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// NewSlotFromConfig は設定に応じたSlotを生成する。戻り値のio.Closerは終了時に閉じること。
func NewSlotFromConfig(cfg *clientconfig.Config) (Slot, io.Closer, error) {
	var (
		slot   Slot
		closer io.Closer = nopCloser{}
	)

	switch cfg.SessionStore {
	case clientconfig.SessionStoreMemory:
		slot = NewMemorySlot()
	case clientconfig.SessionStoreSQLite, "":
		s, err := OpenSQLiteSlot(cfg.SessionPath())
		if err != nil {
			return nil, nil, err
		}
		slot, closer = s, s
	default:
		return nil, nil, fmt.Errorf("unknown session store: %q", cfg.SessionStore)
	}

	if !cfg.EncryptSession {
		return slot, closer, nil
	}
	identity, err := LoadOrCreateIdentity(cfg.DeviceKeyPath())
	if err != nil {
		_ = closer.Close()
		return nil, nil, err
	}
	return NewSealedSlot(slot, identity), closer, nil
}
