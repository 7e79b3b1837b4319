// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/ltme/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)
	// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	// FindByUsername はユーザー名でユーザーを検索する。見つからない場合はnilを返す。
	FindByUsername(ctx context.Context, username string) (*model.User, error)

	// Create はユーザーを作成する。メールアドレスまたはユーザー名が重複する場合はErrDuplicateを返す。
	Create(ctx context.Context, user *model.User) error
	// UpdateProfile はユーザー名、表示名、自己紹介、アバターURLを更新する。
	// ユーザー名が重複する場合はErrDuplicateを返す。
	UpdateProfile(ctx context.Context, user *model.User) error

	// DeleteByID は指定IDのユーザーを削除する。
	// 関連するsessions、posts、albums、follows、saved_postsはCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error

	// GetProfile は投稿数・フォロワー数・フォロー数を含む公開プロフィールを返す。
	// 見つからない場合はnilを返す。
	GetProfile(ctx context.Context, id string) (*model.Profile, error)
	// ListTopByPostCount は投稿数の多い順にユーザーを返す。
	ListTopByPostCount(ctx context.Context, limit int) ([]model.Profile, error)
	// Search はユーザー名・表示名の部分一致でユーザーを検索する。
	Search(ctx context.Context, query string, limit int) ([]model.Profile, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
	// DeleteExpired は期限切れセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}

// PostRepository は投稿データの永続化インターフェース。
type PostRepository interface {
	// FindByID は指定IDの投稿を投稿者情報付きで取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Post, error)
	// Create は投稿を作成する。
	Create(ctx context.Context, post *model.Post) error
	// Update はタイトル、キャプション、タグを更新する。
	Update(ctx context.Context, post *model.Post) error
	// Delete は指定IDの投稿を削除する。
	Delete(ctx context.Context, id string) error
	// IncrementViewCount は閲覧数を1増やし、更新後の値を返す。
	IncrementViewCount(ctx context.Context, id string) (int, error)

	// List は条件に一致する投稿を新しい順に返す。
	List(ctx context.Context, q model.PostQuery) ([]model.Post, error)
	// ListSavedByUser はユーザーが保存した投稿を保存日時の新しい順に返す。
	ListSavedByUser(ctx context.Context, userID string, limit, offset int) ([]model.Post, error)
	// ExistingImageKeys は指定キーのうち投稿またはアバターから参照されているものを返す。
	ExistingImageKeys(ctx context.Context, keys []string) (map[string]bool, error)
}

// AlbumRepository はアルバムデータの永続化インターフェース。
type AlbumRepository interface {
	// FindByID は指定IDのアルバムを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Album, error)
	// Create はアルバムを作成する。
	Create(ctx context.Context, album *model.Album) error
	// List は条件に一致するアルバムを作成日時の新しい順に返す。
	List(ctx context.Context, q model.AlbumQuery) ([]model.Album, error)
	// AddPost はアルバム末尾に投稿を追加する。追加済みの場合はErrDuplicateを返す。
	AddPost(ctx context.Context, albumID, postID string) error
	// ListPosts はアルバム内の投稿を追加順に返す。
	ListPosts(ctx context.Context, albumID string) ([]model.Post, error)
}

// FollowRepository はフォロー関係の永続化インターフェース。
type FollowRepository interface {
	// Create はフォロー関係を作成する。
	// 既に存在する場合はErrDuplicate、自己フォローの場合はErrCheckViolationを返す。
	Create(ctx context.Context, followerID, followingID string) error
	// Delete はフォロー関係を削除する。削除対象が存在したかどうかを返す。
	Delete(ctx context.Context, followerID, followingID string) (bool, error)
	// ListFollowingIDs はユーザーがフォローしているユーザーIDの一覧を返す。
	ListFollowingIDs(ctx context.Context, userID string) ([]string, error)
	// ListFollowers はユーザーのフォロワーを返す。
	ListFollowers(ctx context.Context, userID string) ([]model.Profile, error)
	// ListFollowing はユーザーがフォローしているユーザーを返す。
	ListFollowing(ctx context.Context, userID string) ([]model.Profile, error)
}

// SavedPostRepository は保存済み投稿の永続化インターフェース。
type SavedPostRepository interface {
	// Create は投稿を保存する。保存済みの場合はErrDuplicate、投稿が存在しない場合はErrNotFoundを返す。
	Create(ctx context.Context, userID, postID string) error
	// Delete は保存を解除する。削除対象が存在したかどうかを返す。
	Delete(ctx context.Context, userID, postID string) (bool, error)
	// ListPostIDs はユーザーが保存した投稿IDの一覧を返す。
	ListPostIDs(ctx context.Context, userID string) ([]string, error)
}

