// Package direct はサービス層を同一プロセスから呼び出すGatewayの実装を提供する。
// データベースへ直接接続できる管理用途や結合テストで使う。
package direct

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hitoshi/ltme/internal/auth"
	"github.com/hitoshi/ltme/internal/gateway"
	"github.com/hitoshi/ltme/internal/model"
	"github.com/hitoshi/ltme/internal/realtime"
	"github.com/hitoshi/ltme/internal/session"
)

// RelationService はフォローと保存の関係を扱う。
type RelationService interface {
	Follow(ctx context.Context, userID, targetID string) error
	Unfollow(ctx context.Context, userID, targetID string) error
	ListFollowingIDs(ctx context.Context, userID string) ([]string, error)
	SavePost(ctx context.Context, userID, postID string) error
	UnsavePost(ctx context.Context, userID, postID string) error
	ListSavedPostIDs(ctx context.Context, userID string) ([]string, error)
}

// PostLister は投稿一覧を返す。
type PostLister interface {
	List(ctx context.Context, q model.PostQuery) ([]model.Post, error)
}

// AlbumLister はアルバム一覧を返す。
type AlbumLister interface {
	ListByUser(ctx context.Context, viewerID, userID string) ([]model.Album, error)
	ListPublic(ctx context.Context, search string, limit int) ([]model.Album, error)
}

// AuthService はトークンの発行と失効を行う。
type AuthService interface {
	SignUp(ctx context.Context, email, password string) (*auth.Result, error)
	SignIn(ctx context.Context, email, password string) (*auth.Result, error)
	Authenticate(ctx context.Context, token string) (*auth.Principal, error)
	SignOut(ctx context.Context, sessionID string) error
}

// ChangeSource は変更通知の購読を受け付ける。
type ChangeSource interface {
	Subscribe(filter realtime.Filter, buffer int) *realtime.Subscription
}

// Deps はGatewayの依存。Changesがnilの場合は変更通知を購読できない。
type Deps struct {
	Relations RelationService
	Posts     PostLister
	Albums    AlbumLister
	Auth      AuthService
	Changes   ChangeSource
	Session   *session.Session
}

// Gateway はサービス層を直接呼ぶGateway実装。
// 信頼されたプロセス内で動くため、関係の操作を本人に限定しない。
type Gateway struct {
	deps Deps
}

// New はGatewayを生成する。
func New(deps Deps) *Gateway {
	return &Gateway{deps: deps}
}

func (g *Gateway) ListFollowing(ctx context.Context, userID string) ([]string, error) {
	return g.deps.Relations.ListFollowingIDs(ctx, userID)
}

func (g *Gateway) Follow(ctx context.Context, userID, targetID string) error {
	return g.deps.Relations.Follow(ctx, userID, targetID)
}

func (g *Gateway) Unfollow(ctx context.Context, userID, targetID string) error {
	return g.deps.Relations.Unfollow(ctx, userID, targetID)
}

func (g *Gateway) ListSavedPosts(ctx context.Context, userID string) ([]string, error) {
	return g.deps.Relations.ListSavedPostIDs(ctx, userID)
}

func (g *Gateway) SavePost(ctx context.Context, userID, postID string) error {
	return g.deps.Relations.SavePost(ctx, userID, postID)
}

func (g *Gateway) UnsavePost(ctx context.Context, userID, postID string) error {
	return g.deps.Relations.UnsavePost(ctx, userID, postID)
}

// ListPosts は投稿一覧を返す。ViewerIDが空の場合はセッションのユーザーを使う。
func (g *Gateway) ListPosts(ctx context.Context, q model.PostQuery) ([]model.Post, error) {
	if q.ViewerID == "" {
		q.ViewerID = g.viewerID()
	}
	return g.deps.Posts.List(ctx, q)
}

// ListAlbums はUserIDが空なら公開アルバムを、指定されていればそのユーザーのアルバムを返す。
// 非公開アルバムは本人が閲覧する場合のみ含まれる。
func (g *Gateway) ListAlbums(ctx context.Context, q model.AlbumQuery) ([]model.Album, error) {
	if q.UserID == "" {
		return g.deps.Albums.ListPublic(ctx, q.Search, q.Limit)
	}
	return g.deps.Albums.ListByUser(ctx, g.viewerID(), q.UserID)
}

func (g *Gateway) viewerID() string {
	if g.deps.Session == nil {
		return ""
	}
	return g.deps.Session.UserID()
}

// SubscribeToChanges はHubの購読をcallbackへ中継する。
// Hubが閉じられた場合は購読が終了する。
func (g *Gateway) SubscribeToChanges(
	ctx context.Context,
	table string,
	filter gateway.ChangeFilter,
	callback func(model.Change),
) (func(), error) {
	if g.deps.Changes == nil {
		return nil, model.NewInvalidRequestError("変更通知は利用できません。")
	}

	f := realtime.Filter{UserID: filter.UserID}
	if table != "" {
		f.Tables = []string{table}
	}
	sub := g.deps.Changes.Subscribe(f, realtime.DefaultBuffer)

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case c, ok := <-sub.C():
				if !ok {
					slog.Debug("change subscription closed", slog.String("table", table))
					return
				}
				callback(c)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			sub.Close()
			wg.Wait()
		})
	}, nil
}

// SignUp はユーザーを登録し、トークンをセッションへ保存する。
func (g *Gateway) SignUp(ctx context.Context, email, password string) error {
	res, err := g.deps.Auth.SignUp(ctx, email, password)
	if err != nil {
		return err
	}
	return g.deps.Session.SetToken(ctx, res.Token)
}

// SignIn はサインインし、トークンをセッションへ保存する。
func (g *Gateway) SignIn(ctx context.Context, email, password string) error {
	res, err := g.deps.Auth.SignIn(ctx, email, password)
	if err != nil {
		return err
	}
	return g.deps.Session.SetToken(ctx, res.Token)
}

// SignOut はトークンに対応するセッションを破棄し、ローカルのトークンを消す。
// 既に失効しているトークンの場合もローカルのトークンは消す。
func (g *Gateway) SignOut(ctx context.Context) error {
	token, err := g.deps.Session.Token()
	if err != nil {
		return nil
	}
	p, err := g.deps.Auth.Authenticate(ctx, token)
	switch {
	case err == nil:
		if err := g.deps.Auth.SignOut(ctx, p.SessionID); err != nil {
			return err
		}
	case model.HasCode(err, model.ErrCodeUnauthorized):
		slog.Info("session already revoked")
	default:
		return err
	}
	return g.deps.Session.ClearToken(ctx)
}

// compile-time interface check
var (
	_ gateway.Gateway       = (*Gateway)(nil)
	_ gateway.Subscriber    = (*Gateway)(nil)
	_ gateway.Authenticator = (*Gateway)(nil)
)
