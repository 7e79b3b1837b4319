package model

import (
	"strings"
	"time"
)

// Post は画像投稿を表す。
type Post struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"username,omitempty"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	Title     string    `json:"title"`
	Caption   string    `json:"caption"`
	ImageURL  string    `json:"image_url"`
	ImageKey  string    `json:"-"`
	AudioURL  string    `json:"audio_url,omitempty"`
	AudioName string    `json:"audio_name,omitempty"`
	Tags      []string  `json:"tags"`
	ViewCount int       `json:"view_count"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PostFilter は投稿一覧のフィルタ種別。
type PostFilter string

const (
	// PostFilterAll は全投稿。
	PostFilterAll PostFilter = "all"
	// PostFilterRecent は新着順の投稿。
	PostFilterRecent PostFilter = "recent"
	// PostFilterFollowing はフォロー中ユーザーの投稿。
	PostFilterFollowing PostFilter = "following"
)

// IsValid はフィルタ値が有効かどうかを返す。
func (f PostFilter) IsValid() bool {
	switch f {
	case PostFilterAll, PostFilterRecent, PostFilterFollowing:
		return true
	}
	return false
}

// PostQuery は投稿一覧の取得条件を表す。
type PostQuery struct {
	Filter PostFilter
	// UserID が空でない場合はそのユーザーの投稿に限定する。
	UserID string
	// ViewerID は following フィルタの基準となるユーザー。
	ViewerID string
	// Search はタイトル・キャプションの部分一致検索語。
	Search string
	Limit  int
	Offset int
}

// Album は投稿をまとめるアルバムを表す。
type Album struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	Username      string    `json:"username,omitempty"`
	Title         string    `json:"title"`
	Description   string    `json:"description,omitempty"`
	CoverImageURL string    `json:"cover_image_url,omitempty"`
	IsPublic      bool      `json:"is_public"`
	PostCount     int       `json:"post_count"`
	CreatedAt     time.Time `json:"created_at"`
}

// AlbumQuery はアルバム一覧の取得条件を表す。
type AlbumQuery struct {
	// UserID が空の場合は公開アルバム全体を対象にする。
	UserID string
	// IncludePrivate は非公開アルバムを含めるかどうか。所有者本人の場合のみtrue。
	IncludePrivate bool
	Search         string
	Limit          int
}

// timestampLayouts はゲートウェイから受け取る日時文字列の候補フォーマット。
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999Z07",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp は日時文字列を解析する。
// 解析できない場合はゼロ値を返す。
func ParseTimestamp(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
