package rest

import (
	"context"
	"net/http"
	"net/url"

	"github.com/hitoshi/ltme/internal/model"
)

type idsResponse struct {
	IDs []string `json:"ids"`
}

// ListFollowing はuserIDがフォローしているユーザーIDを返す。
// 自分の場合はID一覧API、他人の場合は公開のフォロー一覧から取り出す。
func (c *Client) ListFollowing(ctx context.Context, userID string) ([]string, error) {
	if userID == c.session.UserID() && userID != "" {
		var resp idsResponse
		if err := c.do(ctx, http.MethodGet, "/api/follows/ids", nil, nil, &resp); err != nil {
			return nil, err
		}
		return nonNil(resp.IDs), nil
	}

	var profiles []model.Profile
	if err := c.do(ctx, http.MethodGet, "/api/users/"+url.PathEscape(userID)+"/following", nil, nil, &profiles); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(profiles))
	for _, p := range profiles {
		ids = append(ids, p.ID)
	}
	return ids, nil
}

func (c *Client) Follow(ctx context.Context, userID, targetID string) error {
	if err := c.requireSelf(userID); err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, "/api/follows/"+url.PathEscape(targetID), nil, nil, nil)
}

func (c *Client) Unfollow(ctx context.Context, userID, targetID string) error {
	if err := c.requireSelf(userID); err != nil {
		return err
	}
	return c.do(ctx, http.MethodDelete, "/api/follows/"+url.PathEscape(targetID), nil, nil, nil)
}

// ListSavedPosts は保存した投稿IDを返す。保存一覧は本人しか取得できない。
func (c *Client) ListSavedPosts(ctx context.Context, userID string) ([]string, error) {
	if err := c.requireSelf(userID); err != nil {
		return nil, err
	}
	var resp idsResponse
	if err := c.do(ctx, http.MethodGet, "/api/saved-posts/ids", nil, nil, &resp); err != nil {
		return nil, err
	}
	return nonNil(resp.IDs), nil
}

func (c *Client) SavePost(ctx context.Context, userID, postID string) error {
	if err := c.requireSelf(userID); err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, "/api/saved-posts/"+url.PathEscape(postID), nil, nil, nil)
}

func (c *Client) UnsavePost(ctx context.Context, userID, postID string) error {
	if err := c.requireSelf(userID); err != nil {
		return err
	}
	return c.do(ctx, http.MethodDelete, "/api/saved-posts/"+url.PathEscape(postID), nil, nil, nil)
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
