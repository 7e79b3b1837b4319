// Package relation はサインイン中のユーザーが持つ関係（フォロー、保存した投稿）の
// ID集合をキャッシュする。
//
// 集合はゲートウェイの確認後にだけ更新する。失敗した場合は全件を読み直して
// サーバーの状態に合わせてからエラーを返す。ユーザーが切り替わった後に届いた
// 古い応答は世代番号で検出して捨てる。
package relation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hitoshi/ltme/internal/broadcast"
	"github.com/hitoshi/ltme/internal/gateway"
	"github.com/hitoshi/ltme/internal/model"
	"github.com/hitoshi/ltme/internal/session"
)

var (
	// ErrNoUser はサインインしていないことを表す。
	ErrNoUser = errors.New("relation: no signed-in user")
	// ErrNoTarget は対象IDが空であることを表す。
	ErrNoTarget = errors.New("relation: empty target id")
	// ErrSelfTarget は自分自身を対象にしたことを表す。
	ErrSelfTarget = errors.New("relation: cannot target own user")
	// ErrPending は同じ対象への変更がまだ完了していないことを表す。
	ErrPending = errors.New("relation: change already in progress")
	// ErrStale は応答を待つ間にユーザーが切り替わったことを表す。
	ErrStale = errors.New("relation: user changed during request")
	// ErrClosed はClose済みのキャッシュであることを表す。
	ErrClosed = errors.New("relation: cache closed")
)

// reconcileTimeout は変更失敗後の読み直しにかける時間の上限。
// 呼び出し側のctxが期限切れでも読み直しは完了させる。
const reconcileTimeout = 10 * time.Second

// Result は変更後の所属状態。
type Result struct {
	Member bool
}

// ops は関係の種類ごとのゲートウェイ呼び出し。
type ops struct {
	kind       broadcast.Kind
	table      string
	rejectSelf bool
	list       func(ctx context.Context, gw gateway.Gateway, userID string) ([]string, error)
	add        func(ctx context.Context, gw gateway.Gateway, userID, targetID string) error
	remove     func(ctx context.Context, gw gateway.Gateway, userID, targetID string) error
}

// Option はCacheの設定を変更する。
type Option func(*Cache)

// WithBus は同一プロセス内の他のキャッシュと変更を共有するBusを設定する。
func WithBus(bus *broadcast.Bus) Option {
	return func(c *Cache) { c.bus = bus }
}

// WithLogger はロガーを設定する。
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// WithoutPush はゲートウェイの変更通知を購読しないようにする。
func WithoutPush() Option {
	return func(c *Cache) { c.push = false }
}

// Cache は1ユーザー分の関係ID集合。並行利用に対して安全。
type Cache struct {
	gw     gateway.Gateway
	ops    ops
	bus    *broadcast.Bus
	source uint64
	logger *slog.Logger
	push   bool

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup

	mu         sync.Mutex
	userID     string
	generation uint64
	genCancel  context.CancelFunc
	ids        map[string]struct{}
	pending    map[string]struct{}
	loading    int
	lastErr    error
	closed     bool

	unsubscribePush    func()
	unsubscribeBus     func()
	unsubscribeSession func()

	listenerMu sync.Mutex
	listeners  map[int]func()
	nextID     int
}

func newCache(gw gateway.Gateway, o ops, opts ...Option) *Cache {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Cache{
		gw:         gw,
		ops:        o,
		source:     broadcast.NewSource(),
		logger:     slog.Default(),
		push:       true,
		baseCtx:    ctx,
		baseCancel: cancel,
		ids:        make(map[string]struct{}),
		pending:    make(map[string]struct{}),
		listeners:  make(map[int]func()),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(slog.String("relation", string(o.kind)))
	if c.bus != nil {
		c.unsubscribeBus = c.bus.Subscribe(c.applyEvent)
	}
	return c
}

// UserID は現在のユーザーIDを返す。
func (c *Cache) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// SetUser はキャッシュの持ち主を切り替え、新しいユーザーの集合を読み込む。
// 空のuserIDはサインアウトを表し、集合を空にする。同じユーザーの場合は何もしない。
func (c *Cache) SetUser(ctx context.Context, userID string) error {
	if !c.switchUser(userID) {
		return nil
	}
	return c.Load(ctx)
}

// switchUser は持ち主を切り替える。切り替えた場合にtrueを返す。
func (c *Cache) switchUser(userID string) bool {
	c.mu.Lock()
	if c.closed || c.userID == userID {
		c.mu.Unlock()
		return false
	}
	c.generation++
	gen := c.generation
	c.userID = userID
	c.ids = make(map[string]struct{})
	c.pending = make(map[string]struct{})
	c.lastErr = nil
	if c.genCancel != nil {
		c.genCancel()
	}
	genCtx, cancel := context.WithCancel(c.baseCtx)
	c.genCancel = cancel
	oldPush := c.unsubscribePush
	c.unsubscribePush = nil
	c.mu.Unlock()

	if oldPush != nil {
		oldPush()
	}
	if userID != "" && c.push {
		c.subscribe(genCtx, gen, userID)
	}
	c.notify()
	return true
}

// subscribe はゲートウェイが変更通知に対応していれば購読する。失敗しても続行する。
func (c *Cache) subscribe(ctx context.Context, gen uint64, userID string) {
	sub, ok := c.gw.(gateway.Subscriber)
	if !ok {
		return
	}

	unsubscribe, err := sub.SubscribeToChanges(ctx, c.ops.table, gateway.ChangeFilter{UserID: userID}, func(ch model.Change) {
		if ch.Op != model.ChangeResync && (ch.Table != c.ops.table || ch.UserID != userID) {
			return
		}
		if !c.current(gen) {
			return
		}
		if err := c.Load(ctx); err != nil && !errors.Is(err, ErrStale) {
			c.logger.Warn("reload after change notification failed", slog.String("error", err.Error()))
		}
	})
	if err != nil {
		c.logger.Warn("change subscription unavailable", slog.String("error", err.Error()))
		return
	}

	c.mu.Lock()
	if c.generation != gen || c.closed {
		c.mu.Unlock()
		unsubscribe()
		return
	}
	c.unsubscribePush = unsubscribe
	c.mu.Unlock()
}

func (c *Cache) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation == gen && !c.closed
}

// BindSession はセッションの本人情報に追従する。
// サインイン・サインアウトのたびに持ち主を切り替え、バックグラウンドで読み込む。
func (c *Cache) BindSession(sess *session.Session) {
	start := func(userID string) {
		if !c.switchUser(userID) || userID == "" {
			return
		}
		c.spawn(func() {
			if err := c.Load(c.baseCtx); err != nil && !errors.Is(err, ErrStale) && !errors.Is(err, ErrClosed) {
				c.logger.Warn("initial load failed", slog.String("error", err.Error()))
			}
		})
	}

	unsubscribe := sess.OnChange(func(id session.Identity, _ bool) {
		start(id.UserID)
	})
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		unsubscribe()
		return
	}
	c.unsubscribeSession = unsubscribe
	c.mu.Unlock()

	start(sess.UserID())
}

// spawn はClose前であればfnをゴルーチンで実行する。
// wg.Addはmuの下で行い、CloseのWaitと競合しないようにする。
func (c *Cache) spawn(fn func()) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		fn()
	}()
}

// Load はゲートウェイから集合を全件取得して置き換える。
// ユーザーがいない場合は集合を空にし、ゲートウェイを呼ばない。
// 失敗した場合は集合を空にしてLastErrorに記録する。
func (c *Cache) Load(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	userID, gen := c.userID, c.generation
	if userID == "" {
		c.ids = make(map[string]struct{})
		c.lastErr = nil
		c.mu.Unlock()
		c.notify()
		return nil
	}
	c.loading++
	c.mu.Unlock()
	c.notify()

	ids, err := c.ops.list(ctx, c.gw, userID)

	c.mu.Lock()
	c.loading--
	if c.generation != gen || c.closed {
		c.mu.Unlock()
		c.notify()
		return ErrStale
	}
	if err != nil {
		c.ids = make(map[string]struct{})
		c.lastErr = err
		c.mu.Unlock()
		c.logger.Error("failed to load relation", slog.String("user_id", userID), slog.String("error", err.Error()))
		c.notify()
		return fmt.Errorf("failed to load %s: %w", c.ops.kind, err)
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	c.ids = set
	c.lastErr = nil
	c.mu.Unlock()
	c.notify()
	return nil
}

// IsMember はtargetIDが集合に含まれるかを返す。ユーザーがいない場合や空のIDはfalse。
func (c *Cache) IsMember(targetID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.userID == "" || targetID == "" {
		return false
	}
	_, ok := c.ids[targetID]
	return ok
}

// IDs は集合のIDを昇順で返す。
func (c *Cache) IDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.ids))
	for id := range c.ids {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len は集合の要素数を返す。
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ids)
}

// Loading は読み込み中かどうかを返す。
func (c *Cache) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading > 0
}

// LastError は直近の読み込みのエラーを返す。成功した場合はnil。
func (c *Cache) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Pending はtargetIDへの変更が進行中かどうかを返す。
func (c *Cache) Pending(targetID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[targetID]
	return ok
}

// Toggle は所属を反転させ、変更後の状態を返す。
func (c *Cache) Toggle(ctx context.Context, targetID string) (Result, error) {
	return c.mutate(ctx, targetID, nil)
}

// Set は所属をmemberにする。既にその状態であればゲートウェイを呼ばない。
func (c *Cache) Set(ctx context.Context, targetID string, member bool) (Result, error) {
	return c.mutate(ctx, targetID, &member)
}

func (c *Cache) mutate(ctx context.Context, targetID string, want *bool) (Result, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Result{}, ErrClosed
	}
	userID := c.userID
	if userID == "" {
		c.mu.Unlock()
		return Result{}, ErrNoUser
	}
	if targetID == "" {
		c.mu.Unlock()
		return Result{}, ErrNoTarget
	}
	if c.ops.rejectSelf && targetID == userID {
		c.mu.Unlock()
		return Result{}, ErrSelfTarget
	}
	_, member := c.ids[targetID]
	if _, busy := c.pending[targetID]; busy {
		c.mu.Unlock()
		return Result{Member: member}, ErrPending
	}
	target := !member
	if want != nil {
		target = *want
	}
	if target == member {
		c.mu.Unlock()
		return Result{Member: member}, nil
	}
	c.pending[targetID] = struct{}{}
	gen := c.generation
	c.mu.Unlock()

	var err error
	if target {
		err = c.ops.add(ctx, c.gw, userID, targetID)
	} else {
		err = c.ops.remove(ctx, c.gw, userID, targetID)
	}

	c.mu.Lock()
	if c.generation != gen || c.closed {
		c.mu.Unlock()
		return Result{}, ErrStale
	}
	delete(c.pending, targetID)
	if err != nil {
		c.mu.Unlock()
		c.logger.Warn("relation change failed, reloading",
			slog.String("target_id", targetID),
			slog.Bool("add", target),
			slog.String("error", err.Error()),
		)
		c.reconcile()
		return Result{Member: c.IsMember(targetID)}, err
	}
	if target {
		c.ids[targetID] = struct{}{}
	} else {
		delete(c.ids, targetID)
	}
	c.mu.Unlock()

	c.notify()
	if c.bus != nil {
		action := broadcast.ActionRemove
		if target {
			action = broadcast.ActionAdd
		}
		c.bus.Publish(broadcast.Event{
			Kind:     c.ops.kind,
			UserID:   userID,
			TargetID: targetID,
			Action:   action,
			Source:   c.source,
		})
	}
	return Result{Member: target}, nil
}

// applyEvent は他のキャッシュが確認済みの変更を反映する。何度適用しても結果は同じ。
func (c *Cache) applyEvent(e broadcast.Event) {
	if e.Source == c.source || e.Kind != c.ops.kind {
		return
	}
	c.mu.Lock()
	if c.closed || e.UserID == "" || e.UserID != c.userID {
		c.mu.Unlock()
		return
	}
	switch e.Action {
	case broadcast.ActionAdd:
		c.ids[e.TargetID] = struct{}{}
	case broadcast.ActionRemove:
		delete(c.ids, e.TargetID)
	}
	c.mu.Unlock()
	c.notify()
}

// OnUpdate は集合や読み込み状態が変わったときに呼ばれる関数を登録し、解除関数を返す。
func (c *Cache) OnUpdate(fn func()) (unsubscribe func()) {
	c.listenerMu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.listenerMu.Unlock()

	return func() {
		c.listenerMu.Lock()
		delete(c.listeners, id)
		c.listenerMu.Unlock()
	}
}

func (c *Cache) notify() {
	c.listenerMu.Lock()
	fns := make([]func(), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.listenerMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// reconcile は変更の失敗後にサーバーの状態を読み直す。
// 呼び出し側のctxではなくキャッシュ自身のctxを使うため、
// タイムアウトやキャンセルで失敗した変更でも集合は失われない。
func (c *Cache) reconcile() {
	ctx, cancel := context.WithTimeout(c.baseCtx, reconcileTimeout)
	defer cancel()
	if err := c.Load(ctx); err != nil && !errors.Is(err, ErrStale) && !errors.Is(err, ErrClosed) {
		c.logger.Error("reload after failed change also failed", slog.String("error", err.Error()))
	}
}

// Close は購読を解除し、集合を空にする。進行中の応答は捨てられる。
func (c *Cache) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.generation++
	c.userID = ""
	c.ids = make(map[string]struct{})
	c.pending = make(map[string]struct{})
	unsubs := []func(){c.unsubscribePush, c.unsubscribeBus, c.unsubscribeSession}
	c.unsubscribePush, c.unsubscribeBus, c.unsubscribeSession = nil, nil, nil
	c.mu.Unlock()

	c.baseCancel()
	for _, fn := range unsubs {
		if fn != nil {
			fn()
		}
	}
	c.wg.Wait()
}
