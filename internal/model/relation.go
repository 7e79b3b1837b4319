package model

import "time"

// Follow はユーザー間のフォロー関係を表す。
type Follow struct {
	FollowerID  string
	FollowingID string
	CreatedAt   time.Time
}

// SavedPost はユーザーが保存した投稿を表す。
type SavedPost struct {
	UserID    string
	PostID    string
	CreatedAt time.Time
}

// 変更通知の対象テーブル
const (
	TableFollows    = "follows"
	TableSavedPosts = "saved_posts"
	TablePosts      = "posts"
	TableAlbums     = "albums"
)

// 変更通知の操作種別
const (
	ChangeInsert = "INSERT"
	ChangeUpdate = "UPDATE"
	ChangeDelete = "DELETE"
	// ChangeResync は通知の取りこぼしがあり得るため購読者に再読み込みを促す。
	ChangeResync = "RESYNC"
)

// Change はテーブル行の変更通知を表す。
// UserID は変更の所有者（フォローする側、保存したユーザー、投稿者）。
// TargetID は関係先または対象行のID。
type Change struct {
	Table    string    `json:"table"`
	Op       string    `json:"op"`
	UserID   string    `json:"user_id"`
	TargetID string    `json:"target_id"`
	At       time.Time `json:"at"`
}
