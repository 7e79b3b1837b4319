package session

import (
	"context"
	"sync"
)

// MemorySlot はプロセス内にだけトークンを保持するSlot。
type MemorySlot struct {
	mu    sync.Mutex
	token string
}

// NewMemorySlot はMemorySlotを生成する。
func NewMemorySlot() *MemorySlot {
	return &MemorySlot{}
}

func (m *MemorySlot) Load(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token, nil
}

func (m *MemorySlot) Save(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	return nil
}

func (m *MemorySlot) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = ""
	return nil
}

// compile-time interface check
var _ Slot = (*MemorySlot)(nil)
