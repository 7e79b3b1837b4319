// Package broadcast は同一プロセス内の関係キャッシュ同士で変更を共有する。
package broadcast

import (
	"sync"
	"sync/atomic"
)

// Kind は関係の種類。
type Kind string

const (
	KindFollowing Kind = "following"
	KindSaved     Kind = "saved"
)

// Action は関係への操作。
type Action string

const (
	ActionAdd    Action = "add"
	ActionRemove Action = "remove"
)

// Event はゲートウェイが確認した関係の変更。
// Sourceは送信元を識別し、受信側が自分の送った変更を読み飛ばすのに使う。
type Event struct {
	Kind     Kind
	UserID   string
	TargetID string
	Action   Action
	Source   uint64
}

var lastSource atomic.Uint64

// NewSource は送信元IDを払い出す。0は使わない。
func NewSource() uint64 {
	return lastSource.Add(1)
}

// Bus はEventを購読者へ同期的に配信する。並行利用に対して安全。
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]func(Event)
	nextID int
}

// New はBusを生成する。
func New() *Bus {
	return &Bus{subs: make(map[int]func(Event))}
}

// Subscribe はハンドラを登録し、登録解除の関数を返す。
func (b *Bus) Subscribe(fn func(Event)) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Publish はすべての購読者へeを配信する。
// ハンドラはロックの外で呼ぶため、ハンドラ内でSubscribeやPublishを呼んでもよい。
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	handlers := make([]func(Event), 0, len(b.subs))
	for _, fn := range b.subs {
		handlers = append(handlers, fn)
	}
	b.mu.RUnlock()

	for _, fn := range handlers {
		fn(e)
	}
}

// Len は購読者数を返す。
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
