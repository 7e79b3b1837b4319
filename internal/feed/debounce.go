package feed

import (
	"sync"
	"time"
)

// 入力ごとの待ち時間。
const (
	SearchDebounce = 300 * time.Millisecond
	ResizeDebounce = 150 * time.Millisecond
)

// Debouncer は最後の呼び出しからdelayが経過した時点で1回だけ関数を実行する。
type Debouncer struct {
	mu    sync.Mutex
	delay time.Duration
	timer *time.Timer
}

// NewDebouncer はDebouncerを生成する。
func NewDebouncer(delay time.Duration) *Debouncer {
	return &Debouncer{delay: delay}
}

// Trigger はfnの実行を予約する。予約済みの実行は取り消される。
// fnは別のgoroutineで実行される。
func (d *Debouncer) Trigger(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, fn)
}

// Stop は予約済みの実行を取り消す。
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
