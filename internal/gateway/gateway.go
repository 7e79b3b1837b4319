// Package gateway はクライアントのコアが依存するリモートデータの境界を定義する。
// REST APIを使うrestアダプタと、サービス層へ直接つなぐdirectアダプタがある。
package gateway

import (
	"context"

	"github.com/hitoshi/ltme/internal/model"
)

// Gateway はフォロー・保存の関係と投稿・アルバムの取得を提供する。
// 制約違反（重複フォロー、重複保存、自分自身のフォロー）は*model.APIErrorで返す。
type Gateway interface {
	ListFollowing(ctx context.Context, userID string) ([]string, error)
	Follow(ctx context.Context, userID, targetID string) error
	Unfollow(ctx context.Context, userID, targetID string) error

	ListSavedPosts(ctx context.Context, userID string) ([]string, error)
	SavePost(ctx context.Context, userID, postID string) error
	UnsavePost(ctx context.Context, userID, postID string) error

	ListPosts(ctx context.Context, q model.PostQuery) ([]model.Post, error)
	ListAlbums(ctx context.Context, q model.AlbumQuery) ([]model.Album, error)
}

// ChangeFilter は購読する変更の条件。
type ChangeFilter struct {
	UserID string
}

// Subscriber は行の変更通知を購読できるGatewayが追加で実装する。
// callbackは購読側のgoroutineから呼ばれる。取りこぼしの可能性がある場合はOpがRESYNCの変更が届く。
type Subscriber interface {
	SubscribeToChanges(ctx context.Context, table string, filter ChangeFilter, callback func(model.Change)) (unsubscribe func(), err error)
}

// Authenticator はサインイン・サインアウトを行うGatewayが追加で実装する。
// 成功したトークンはアダプタが保持するセッションへ保存される。
type Authenticator interface {
	SignUp(ctx context.Context, email, password string) error
	SignIn(ctx context.Context, email, password string) error
	SignOut(ctx context.Context) error
}
