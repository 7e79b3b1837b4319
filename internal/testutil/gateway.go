// Package testutil はクライアントのコアとアダプタのテストで共有するテスト用実装を提供する。
package testutil

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/hitoshi/ltme/internal/gateway"
	"github.com/hitoshi/ltme/internal/model"
)

// Gatewayのメソッド名。CallCountとSetErrorのキーに使う。
const (
	MethodListFollowing  = "ListFollowing"
	MethodFollow         = "Follow"
	MethodUnfollow       = "Unfollow"
	MethodListSavedPosts = "ListSavedPosts"
	MethodSavePost       = "SavePost"
	MethodUnsavePost     = "UnsavePost"
	MethodListPosts      = "ListPosts"
	MethodListAlbums     = "ListAlbums"
)

// FakeGateway はメモリ上で関係を保持するGateway。
// サーバーと同じ制約違反エラーを返し、呼び出し回数を記録する。並行利用に対して安全。
type FakeGateway struct {
	mu        sync.Mutex
	following map[string]map[string]bool
	saved     map[string]map[string]bool
	posts     []model.Post
	albums    []model.Album
	calls     map[string]int
	errs      map[string]error
	subs      map[int]fakeSub
	nextSub   int

	// BeforeCall は各メソッドの処理前にロックの外で呼ばれる。呼び出しを止めるテストに使う。
	BeforeCall func(method string)
}

type fakeSub struct {
	table    string
	filter   gateway.ChangeFilter
	callback func(model.Change)
}

// NewFakeGateway はFakeGatewayを生成する。
func NewFakeGateway() *FakeGateway {
	return &FakeGateway{
		following: make(map[string]map[string]bool),
		saved:     make(map[string]map[string]bool),
		calls:     make(map[string]int),
		errs:      make(map[string]error),
		subs:      make(map[int]fakeSub),
	}
}

// SetFollowing はuserIDのフォロー先を置き換える。
func (g *FakeGateway) SetFollowing(userID string, ids ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.following[userID] = toSet(ids)
}

// SetSaved はuserIDの保存済み投稿を置き換える。
func (g *FakeGateway) SetSaved(userID string, ids ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.saved[userID] = toSet(ids)
}

// SetPosts はListPostsが返す投稿を設定する。
func (g *FakeGateway) SetPosts(posts ...model.Post) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.posts = posts
}

// SetAlbums はListAlbumsが返すアルバムを設定する。
func (g *FakeGateway) SetAlbums(albums ...model.Album) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.albums = albums
}

// SetError はmethodが常にerrを返すようにする。nilで解除する。
func (g *FakeGateway) SetError(method string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err == nil {
		delete(g.errs, method)
		return
	}
	g.errs[method] = err
}

// CallCount はmethodが呼ばれた回数を返す。
func (g *FakeGateway) CallCount(method string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[method]
}

// TotalCalls は全メソッドの呼び出し回数の合計を返す。
func (g *FakeGateway) TotalCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.calls {
		n += c
	}
	return n
}

// enter は呼び出しを記録し、設定されたエラーを返す。呼び出し側はg.muを保持したまま処理を続ける。
func (g *FakeGateway) enter(method string) error {
	if g.BeforeCall != nil {
		g.BeforeCall(method)
	}
	g.mu.Lock()
	g.calls[method]++
	return g.errs[method]
}

func (g *FakeGateway) ListFollowing(ctx context.Context, userID string) ([]string, error) {
	err := g.enter(MethodListFollowing)
	defer g.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return sortedKeys(g.following[userID]), nil
}

func (g *FakeGateway) Follow(ctx context.Context, userID, targetID string) error {
	err := g.enter(MethodFollow)
	defer g.mu.Unlock()
	if err != nil {
		return err
	}
	if userID == targetID {
		return model.NewCannotFollowSelfError()
	}
	return add(g.following, userID, targetID, model.NewAlreadyFollowingError())
}

func (g *FakeGateway) Unfollow(ctx context.Context, userID, targetID string) error {
	err := g.enter(MethodUnfollow)
	defer g.mu.Unlock()
	if err != nil {
		return err
	}
	delete(g.following[userID], targetID)
	return nil
}

func (g *FakeGateway) ListSavedPosts(ctx context.Context, userID string) ([]string, error) {
	err := g.enter(MethodListSavedPosts)
	defer g.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return sortedKeys(g.saved[userID]), nil
}

func (g *FakeGateway) SavePost(ctx context.Context, userID, postID string) error {
	err := g.enter(MethodSavePost)
	defer g.mu.Unlock()
	if err != nil {
		return err
	}
	return add(g.saved, userID, postID, model.NewAlreadySavedError())
}

func (g *FakeGateway) UnsavePost(ctx context.Context, userID, postID string) error {
	err := g.enter(MethodUnsavePost)
	defer g.mu.Unlock()
	if err != nil {
		return err
	}
	delete(g.saved[userID], postID)
	return nil
}

// ListPosts は設定された投稿をUserIDとSearchで絞り込んで返す。並び順は設定順のまま。
func (g *FakeGateway) ListPosts(ctx context.Context, q model.PostQuery) ([]model.Post, error) {
	err := g.enter(MethodListPosts)
	defer g.mu.Unlock()
	if err != nil {
		return nil, err
	}
	out := []model.Post{}
	for _, p := range g.posts {
		if q.UserID != "" && p.UserID != q.UserID {
			continue
		}
		if q.Search != "" && !containsFold(p.Title+"\n"+p.Caption, q.Search) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (g *FakeGateway) ListAlbums(ctx context.Context, q model.AlbumQuery) ([]model.Album, error) {
	err := g.enter(MethodListAlbums)
	defer g.mu.Unlock()
	if err != nil {
		return nil, err
	}
	out := []model.Album{}
	for _, a := range g.albums {
		if q.UserID != "" && a.UserID != q.UserID {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// SubscribeToChanges はEmitで送られる変更を購読する。
func (g *FakeGateway) SubscribeToChanges(ctx context.Context, table string, filter gateway.ChangeFilter, callback func(model.Change)) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.nextSub
	g.nextSub++
	g.subs[id] = fakeSub{table: table, filter: filter, callback: callback}
	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		delete(g.subs, id)
	}, nil
}

// Subscribers は現在の購読数を返す。
func (g *FakeGateway) Subscribers() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.subs)
}

// Emit は条件に一致する購読者へ変更を同期的に届ける。
func (g *FakeGateway) Emit(c model.Change) {
	g.mu.Lock()
	var targets []func(model.Change)
	for _, s := range g.subs {
		if s.table != "" && s.table != c.Table {
			continue
		}
		if s.filter.UserID != "" && s.filter.UserID != c.UserID {
			continue
		}
		targets = append(targets, s.callback)
	}
	g.mu.Unlock()

	for _, cb := range targets {
		cb(c)
	}
}

func add(rel map[string]map[string]bool, userID, targetID string, dup error) error {
	set, ok := rel[userID]
	if !ok {
		set = make(map[string]bool)
		rel[userID] = set
	}
	if set[targetID] {
		return dup
	}
	set[targetID] = true
	return nil
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// compile-time interface check
var (
	_ gateway.Gateway    = (*FakeGateway)(nil)
	_ gateway.Subscriber = (*FakeGateway)(nil)
)
