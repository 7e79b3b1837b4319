package rest

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/hitoshi/ltme/internal/model"
)

// wirePost はAPIの投稿表現。日時は文字列のまま受け取り、解析できなければゼロ値にする。
type wirePost struct {
	ID        string   `json:"id"`
	UserID    string   `json:"user_id"`
	Username  string   `json:"username"`
	AvatarURL string   `json:"avatar_url"`
	Title     string   `json:"title"`
	Caption   string   `json:"caption"`
	ImageURL  string   `json:"image_url"`
	AudioURL  string   `json:"audio_url"`
	AudioName string   `json:"audio_name"`
	Tags      []string `json:"tags"`
	ViewCount int      `json:"view_count"`
	CreatedAt string   `json:"created_at"`
	UpdatedAt string   `json:"updated_at"`
}

func (w wirePost) toModel() model.Post {
	return model.Post{
		ID:        w.ID,
		UserID:    w.UserID,
		Username:  w.Username,
		AvatarURL: w.AvatarURL,
		Title:     w.Title,
		Caption:   w.Caption,
		ImageURL:  w.ImageURL,
		AudioURL:  w.AudioURL,
		AudioName: w.AudioName,
		Tags:      w.Tags,
		ViewCount: w.ViewCount,
		CreatedAt: model.ParseTimestamp(w.CreatedAt),
		UpdatedAt: model.ParseTimestamp(w.UpdatedAt),
	}
}

// wireAlbum はAPIのアルバム表現。
type wireAlbum struct {
	ID            string `json:"id"`
	UserID        string `json:"user_id"`
	Username      string `json:"username"`
	Title         string `json:"title"`
	Description   string `json:"description"`
	CoverImageURL string `json:"cover_image_url"`
	IsPublic      bool   `json:"is_public"`
	PostCount     int    `json:"post_count"`
	CreatedAt     string `json:"created_at"`
}

func (w wireAlbum) toModel() model.Album {
	return model.Album{
		ID:            w.ID,
		UserID:        w.UserID,
		Username:      w.Username,
		Title:         w.Title,
		Description:   w.Description,
		CoverImageURL: w.CoverImageURL,
		IsPublic:      w.IsPublic,
		PostCount:     w.PostCount,
		CreatedAt:     model.ParseTimestamp(w.CreatedAt),
	}
}

// ListPosts は投稿一覧を取得する。
func (c *Client) ListPosts(ctx context.Context, q model.PostQuery) ([]model.Post, error) {
	params := url.Values{}
	if q.Filter != "" {
		params.Set("filter", string(q.Filter))
	}
	if q.UserID != "" {
		params.Set("user_id", q.UserID)
	}
	if q.Search != "" {
		params.Set("q", q.Search)
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		params.Set("offset", strconv.Itoa(q.Offset))
	}

	var wire []wirePost
	if err := c.do(ctx, http.MethodGet, "/api/posts", params, nil, &wire); err != nil {
		return nil, err
	}
	posts := make([]model.Post, 0, len(wire))
	for _, w := range wire {
		posts = append(posts, w.toModel())
	}
	return posts, nil
}

// ListAlbums はアルバム一覧を取得する。UserIDが空の場合は公開アルバムを返す。
func (c *Client) ListAlbums(ctx context.Context, q model.AlbumQuery) ([]model.Album, error) {
	params := url.Values{}
	if q.UserID != "" {
		params.Set("user_id", q.UserID)
	}
	if q.Search != "" {
		params.Set("q", q.Search)
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}

	var wire []wireAlbum
	if err := c.do(ctx, http.MethodGet, "/api/albums", params, nil, &wire); err != nil {
		return nil, err
	}
	albums := make([]model.Album, 0, len(wire))
	for _, w := range wire {
		albums = append(albums, w.toModel())
	}
	return albums, nil
}
