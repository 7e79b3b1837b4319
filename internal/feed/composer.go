package feed

import (
	"strings"
	"sync"

	"github.com/hitoshi/ltme/internal/model"
)

// Mode はフィードの表示モード。
type Mode string

const (
	// ModeAll は投稿と公開アルバムを検索語で絞り込んで表示する。
	ModeAll Mode = "all"
	// ModeRecent は新着の投稿を表示する。検索語は使わない。
	ModeRecent Mode = "recent"
	// ModeFollowing はフォロー中のユーザーの投稿を表示する。
	ModeFollowing Mode = "following"
)

// Modes は切り替え順のモード一覧。
var Modes = []Mode{ModeAll, ModeRecent, ModeFollowing}

// Next は切り替え順で次のモードを返す。
func (m Mode) Next() Mode {
	for i, mode := range Modes {
		if mode == m {
			return Modes[(i+1)%len(Modes)]
		}
	}
	return ModeAll
}

// PostFilter はモードに対応するAPIの投稿フィルタを返す。
func (m Mode) PostFilter() model.PostFilter {
	switch m {
	case ModeRecent:
		return model.PostFilterRecent
	case ModeFollowing:
		return model.PostFilterFollowing
	}
	return model.PostFilterAll
}

// Composer は取得済みの投稿とアルバムからフィードと段組みを組み立てる。
// 入力が変わるまで結果を再計算しない。並行利用に対して安全。
type Composer struct {
	mu sync.Mutex

	posts     []model.Post
	recent    []model.Post
	albums    []model.Album
	query     string
	mode      Mode
	columns   int
	following Membership

	items      []Item
	itemsDirty bool
	cols       [][]Item
	colsDirty  bool
}

// NewComposer は1段、ModeAllのComposerを生成する。
func NewComposer() *Composer {
	return &Composer{
		mode:       ModeAll,
		columns:    1,
		itemsDirty: true,
		colsDirty:  true,
	}
}

// SetPosts はModeAllとModeFollowingで使う投稿を置き換える。
func (c *Composer) SetPosts(posts []model.Post) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.posts = posts
	c.invalidate()
}

// SetRecentPosts はModeRecentで使う投稿を置き換える。
func (c *Composer) SetRecentPosts(posts []model.Post) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recent = posts
	c.invalidate()
}

// SetAlbums はアルバムを置き換える。
func (c *Composer) SetAlbums(albums []model.Album) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.albums = albums
	c.invalidate()
}

// SetQuery は検索語を設定する。前後の空白は無視する。
func (c *Composer) SetQuery(q string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	q = strings.TrimSpace(q)
	if q == c.query {
		return
	}
	c.query = q
	c.invalidate()
}

// Query は現在の検索語を返す。
func (c *Composer) Query() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.query
}

// SetMode は表示モードを切り替える。
func (c *Composer) SetMode(m Mode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m == c.mode {
		return
	}
	c.mode = m
	c.invalidate()
}

// Mode は現在の表示モードを返す。
func (c *Composer) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// SetFollowing はModeFollowingで使うフォロー判定を設定する。
func (c *Composer) SetFollowing(m Membership) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.following = m
	c.invalidate()
}

// FollowingChanged はフォロー判定の結果が変わったことを知らせる。
func (c *Composer) FollowingChanged() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode == ModeFollowing {
		c.invalidate()
	}
}

// SetColumns は段数を設定する。1未満は1として扱う。
func (c *Composer) SetColumns(k int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if k < 1 {
		k = 1
	}
	if k == c.columns {
		return
	}
	c.columns = k
	c.colsDirty = true
}

// NumColumns は現在の段数を返す。
func (c *Composer) NumColumns() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.columns
}

func (c *Composer) invalidate() {
	c.itemsDirty = true
	c.colsDirty = true
}

// Items は現在のモードと検索語で組み立てたフィードを返す。
// 返したスライスは次に入力が変わるまで同じものを返すため、変更しないこと。
func (c *Composer) Items() []Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.itemsLocked()
}

func (c *Composer) itemsLocked() []Item {
	if !c.itemsDirty {
		return c.items
	}
	switch c.mode {
	case ModeRecent:
		c.items = Merge(c.recent, nil)
	case ModeFollowing:
		c.items = Merge(FilterFollowing(FilterPosts(c.posts, c.query), c.following), nil)
	default:
		c.items = Merge(FilterPosts(c.posts, c.query), FilterAlbums(c.albums, c.query))
	}
	c.itemsDirty = false
	return c.items
}

// Columns はフィードを現在の段数に振り分けて返す。
func (c *Composer) Columns() [][]Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.colsDirty {
		return c.cols
	}
	c.cols = Bucket(c.itemsLocked(), c.columns)
	c.colsDirty = false
	return c.cols
}
