// Package realtime はテーブル行の変更通知を購読者へ配信する。
package realtime

import (
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/ltme/internal/metrics"
	"github.com/hitoshi/ltme/internal/model"
)

// DefaultBuffer は購読ごとのチャネルバッファサイズ。
const DefaultBuffer = 64

// Filter は購読する変更の条件。空のフィールドはすべてに一致する。
type Filter struct {
	Tables []string
	UserID string
}

// Matches は変更が条件に一致するかを返す。RESYNCは常に一致する。
func (f Filter) Matches(c model.Change) bool {
	if c.Op == model.ChangeResync {
		return true
	}
	if f.UserID != "" && c.UserID != f.UserID {
		return false
	}
	if len(f.Tables) == 0 {
		return true
	}
	for _, t := range f.Tables {
		if t == c.Table {
			return true
		}
	}
	return false
}

// Subscription は1購読者分の受信チャネル。
//
// チャネルの容量はbuffer+1で、最後の1枠はRESYNC専用。通常の変更はbuffer件までしか
// 積まないため、あふれて変更を捨てたときも必ずRESYNCを積める。チャネルが容量いっぱいなら
// 末尾は未読のRESYNCなので、その後に捨てた変更もそのRESYNCで取り戻せる。
type Subscription struct {
	hub    *Hub
	filter Filter
	buffer int
	ch     chan model.Change
	once   sync.Once

	sendMu sync.Mutex
}

// C は変更通知を受け取るチャネルを返す。Close後に閉じられる。
func (s *Subscription) C() <-chan model.Change {
	return s.ch
}

// Close は購読を解除する。複数回呼んでもよい。
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.remove(s)
	})
}

// Hub は変更通知を購読者へファンアウトする。
// 受信が遅い購読者へのPublishはブロックせず、通知を破棄する。
type Hub struct {
	mu      sync.RWMutex
	subs    map[*Subscription]struct{}
	metrics metrics.MetricsCollector
}

// NewHub はHubを生成する。mcがnilの場合はメトリクスを記録しない。
func NewHub(mc metrics.MetricsCollector) *Hub {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Hub{
		subs:    make(map[*Subscription]struct{}),
		metrics: mc,
	}
}

// Subscribe はfilterに一致する変更を受け取る購読を登録する。
func (h *Hub) Subscribe(filter Filter, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	s := &Subscription{hub: h, filter: filter, buffer: buffer, ch: make(chan model.Change, buffer+1)}

	h.mu.Lock()
	h.subs[s] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()

	h.metrics.SetSubscribers(n)
	return s
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	if _, ok := h.subs[s]; ok {
		delete(h.subs, s)
		close(s.ch)
	}
	n := len(h.subs)
	h.mu.Unlock()

	h.metrics.SetSubscribers(n)
}

// Publish は変更を一致するすべての購読者へ送る。
// バッファがいっぱいの購読者には変更の代わりにRESYNCを1件だけ送る。
func (h *Hub) Publish(c model.Change) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for s := range h.subs {
		if !s.filter.Matches(c) {
			continue
		}
		if s.offer(c) {
			h.metrics.RecordChangeDelivered()
			continue
		}
		h.metrics.RecordChangeDropped()
		slog.Warn("realtime subscriber buffer full, dropping change",
			slog.String("table", c.Table),
			slog.String("user_id", c.UserID),
		)
	}
}

// offer は変更を積む。積めなかった場合はRESYNCを予約枠に積み、falseを返す。
// 呼び出し側はh.muを保持していること。
func (s *Subscription) offer(c model.Change) bool {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if len(s.ch) < s.buffer {
		s.ch <- c
		return true
	}
	select {
	case s.ch <- model.Change{Op: model.ChangeResync, At: time.Now()}:
	default:
		// 末尾に未読のRESYNCが残っている
	}
	return false
}

// Len は現在の購読者数を返す。
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close はすべての購読を解除する。
func (h *Hub) Close() {
	h.mu.Lock()
	for s := range h.subs {
		delete(h.subs, s)
		close(s.ch)
	}
	h.mu.Unlock()

	h.metrics.SetSubscribers(0)
}
