// Package feed は投稿とアルバムを1本のフィードにまとめ、段組みに振り分ける。
package feed

import (
	"slices"
	"strings"
	"time"

	"github.com/hitoshi/ltme/internal/model"
)

// ItemType はフィード項目の種類。
type ItemType string

const (
	ItemPost  ItemType = "post"
	ItemAlbum ItemType = "album"
)

// Item はフィードの1項目。Typeに応じてPostかAlbumのどちらかが入る。
type Item struct {
	Type      ItemType
	ID        string
	Timestamp time.Time
	Post      *model.Post
	Album     *model.Album
}

// Key は種類をまたいで一意なキーを返す。
func (it Item) Key() string {
	return string(it.Type) + ":" + it.ID
}

// Merge は投稿とアルバムを新しい順に並べた1本のリストにする。
// 同じ日時の項目は入力順（投稿、アルバムの順）を保つ。日時がゼロ値の項目は末尾に入力順で並ぶ。
func Merge(posts []model.Post, albums []model.Album) []Item {
	items := make([]Item, 0, len(posts)+len(albums))
	for i := range posts {
		p := &posts[i]
		items = append(items, Item{Type: ItemPost, ID: p.ID, Timestamp: p.CreatedAt, Post: p})
	}
	for i := range albums {
		a := &albums[i]
		items = append(items, Item{Type: ItemAlbum, ID: a.ID, Timestamp: a.CreatedAt, Album: a})
	}

	slices.SortStableFunc(items, func(a, b Item) int {
		za, zb := a.Timestamp.IsZero(), b.Timestamp.IsZero()
		switch {
		case za && zb:
			return 0
		case za:
			return 1
		case zb:
			return -1
		}
		return b.Timestamp.Compare(a.Timestamp)
	})
	return items
}

// FilterPosts はタイトルかキャプションにqueryを含む投稿を返す。大文字小文字は区別しない。
// queryが空白だけの場合はpostsをそのまま返す。
func FilterPosts(posts []model.Post, query string) []model.Post {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return posts
	}
	out := make([]model.Post, 0, len(posts))
	for _, p := range posts {
		if strings.Contains(strings.ToLower(p.Title), q) || strings.Contains(strings.ToLower(p.Caption), q) {
			out = append(out, p)
		}
	}
	return out
}

// FilterAlbums はタイトルか説明にqueryを含むアルバムを返す。
func FilterAlbums(albums []model.Album, query string) []model.Album {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return albums
	}
	out := make([]model.Album, 0, len(albums))
	for _, a := range albums {
		if strings.Contains(strings.ToLower(a.Title), q) || strings.Contains(strings.ToLower(a.Description), q) {
			out = append(out, a)
		}
	}
	return out
}

// Membership はIDが集合に含まれるかを返す。relation.Cache.IsMemberを渡す。
type Membership func(id string) bool

// FilterFollowing はフォロー中のユーザーの投稿だけを入力順のまま返す。
func FilterFollowing(posts []model.Post, following Membership) []model.Post {
	out := make([]model.Post, 0, len(posts))
	if following == nil {
		return out
	}
	for _, p := range posts {
		if following(p.UserID) {
			out = append(out, p)
		}
	}
	return out
}
