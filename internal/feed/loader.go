package feed

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/ltme/internal/gateway"
	"github.com/hitoshi/ltme/internal/model"
)

// 一覧取得の既定件数。
const (
	DefaultPostLimit  = 50
	DefaultAlbumLimit = 12
)

// Snapshot は1回分の取得結果。失敗した側は空で、エラーが記録される。
type Snapshot struct {
	Mode      Mode
	Query     string
	Posts     []model.Post
	Albums    []model.Album
	PostsErr  error
	AlbumsErr error
}

// Err は失敗した取得のエラーをまとめて返す。両方成功した場合はnil。
func (s Snapshot) Err() error {
	switch {
	case s.PostsErr != nil && s.AlbumsErr != nil:
		return fmt.Errorf("posts: %w; albums: %w", s.PostsErr, s.AlbumsErr)
	case s.PostsErr != nil:
		return fmt.Errorf("posts: %w", s.PostsErr)
	case s.AlbumsErr != nil:
		return fmt.Errorf("albums: %w", s.AlbumsErr)
	}
	return nil
}

// Apply は取得結果をComposerへ反映する。
func (s Snapshot) Apply(c *Composer) {
	if s.Mode == ModeRecent {
		c.SetRecentPosts(s.Posts)
		return
	}
	c.SetPosts(s.Posts)
	if s.Mode == ModeAll {
		c.SetAlbums(s.Albums)
	}
}

// Loader はモードに応じた投稿とアルバムを並行して取得する。
type Loader struct {
	gw         gateway.Gateway
	postLimit  int
	albumLimit int
	logger     *slog.Logger
}

// NewLoader はLoaderを生成する。limitが0以下の場合は既定値を使う。
func NewLoader(gw gateway.Gateway, postLimit, albumLimit int, logger *slog.Logger) *Loader {
	if postLimit <= 0 {
		postLimit = DefaultPostLimit
	}
	if albumLimit <= 0 {
		albumLimit = DefaultAlbumLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{gw: gw, postLimit: postLimit, albumLimit: albumLimit, logger: logger}
}

// Load は投稿とアルバムを取得する。片方が失敗してももう片方の結果は返す。
// ModeRecentでは検索語を使わず、アルバムはModeAllでのみ取得する。
func (l *Loader) Load(ctx context.Context, mode Mode, query string) Snapshot {
	snap := Snapshot{Mode: mode, Query: query, Posts: []model.Post{}, Albums: []model.Album{}}

	postQuery := model.PostQuery{Filter: mode.PostFilter(), Limit: l.postLimit}
	if mode != ModeRecent {
		postQuery.Search = query
	}

	// 片方の失敗でもう片方を止めないよう、各goroutineはエラーを記録してnilを返す
	var g errgroup.Group
	g.Go(func() error {
		posts, err := l.gw.ListPosts(ctx, postQuery)
		if err != nil {
			l.logger.Warn("failed to load posts", slog.String("mode", string(mode)), slog.String("error", err.Error()))
			snap.PostsErr = err
			return nil
		}
		snap.Posts = posts
		return nil
	})

	if mode == ModeAll {
		g.Go(func() error {
			albums, err := l.gw.ListAlbums(ctx, model.AlbumQuery{Search: query, Limit: l.albumLimit})
			if err != nil {
				l.logger.Warn("failed to load albums", slog.String("error", err.Error()))
				snap.AlbumsErr = err
				return nil
			}
			snap.Albums = albums
			return nil
		})
	}

	_ = g.Wait()
	return snap
}
