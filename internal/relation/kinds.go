package relation

import (
	"context"

	"github.com/hitoshi/ltme/internal/broadcast"
	"github.com/hitoshi/ltme/internal/gateway"
	"github.com/hitoshi/ltme/internal/model"
)

// NewFollowing はフォロー中のユーザーIDのキャッシュを生成する。自分自身は対象にできない。
func NewFollowing(gw gateway.Gateway, opts ...Option) *Cache {
	return newCache(gw, ops{
		kind:       broadcast.KindFollowing,
		table:      model.TableFollows,
		rejectSelf: true,
		list: func(ctx context.Context, gw gateway.Gateway, userID string) ([]string, error) {
			return gw.ListFollowing(ctx, userID)
		},
		add: func(ctx context.Context, gw gateway.Gateway, userID, targetID string) error {
			return gw.Follow(ctx, userID, targetID)
		},
		remove: func(ctx context.Context, gw gateway.Gateway, userID, targetID string) error {
			return gw.Unfollow(ctx, userID, targetID)
		},
	}, opts...)
}

// NewSaved は保存した投稿IDのキャッシュを生成する。
func NewSaved(gw gateway.Gateway, opts ...Option) *Cache {
	return newCache(gw, ops{
		kind:  broadcast.KindSaved,
		table: model.TableSavedPosts,
		list: func(ctx context.Context, gw gateway.Gateway, userID string) ([]string, error) {
			return gw.ListSavedPosts(ctx, userID)
		},
		add: func(ctx context.Context, gw gateway.Gateway, userID, postID string) error {
			return gw.SavePost(ctx, userID, postID)
		},
		remove: func(ctx context.Context, gw gateway.Gateway, userID, postID string) error {
			return gw.UnsavePost(ctx, userID, postID)
		},
	}, opts...)
}
