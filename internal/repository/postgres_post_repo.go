package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/hitoshi/ltme/internal/model"
	"github.com/lib/pq"
)

// recentWindow は recent フィルタの対象期間。
const recentWindow = "7 days"

// PostgresPostRepo はPostgreSQLを使用した投稿リポジトリ。
type PostgresPostRepo struct {
	db *sql.DB
}

// NewPostgresPostRepo はPostgresPostRepoを生成する。
func NewPostgresPostRepo(db *sql.DB) *PostgresPostRepo {
	return &PostgresPostRepo{db: db}
}

// postSelect は投稿と投稿者情報を取得するSELECT句。
const postSelect = `
	SELECT p.id, p.user_id, u.username, u.avatar_url, p.title, p.caption,
	       p.image_url, p.image_key, p.audio_url, p.audio_name, p.tags,
	       p.view_count, p.created_at, p.updated_at
	FROM posts p
	JOIN users u ON u.id = p.user_id`

func scanPost(row rowScanner, p *model.Post) error {
	return row.Scan(
		&p.ID, &p.UserID, &p.Username, &p.AvatarURL, &p.Title, &p.Caption,
		&p.ImageURL, &p.ImageKey, &p.AudioURL, &p.AudioName, pq.Array(&p.Tags),
		&p.ViewCount, &p.CreatedAt, &p.UpdatedAt,
	)
}

func queryPosts(ctx context.Context, db *sql.DB, query string, args ...any) ([]model.Post, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	posts := []model.Post{}
	for rows.Next() {
		var p model.Post
		if err := scanPost(rows, &p); err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

// FindByID は指定IDの投稿を取得する。見つからない場合はnilを返す。
func (r *PostgresPostRepo) FindByID(ctx context.Context, id string) (*model.Post, error) {
	p := &model.Post{}
	err := scanPost(r.db.QueryRowContext(ctx, postSelect+` WHERE p.id = $1`, id), p)
	if err == sql.ErrNoRows || isInvalidUUID(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("投稿の取得に失敗しました: %w", err)
	}
	return p, nil
}

// Create は投稿を作成する。
func (r *PostgresPostRepo) Create(ctx context.Context, post *model.Post) error {
	if post.Tags == nil {
		post.Tags = []string{}
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO posts (id, user_id, title, caption, image_url, image_key,
		                    audio_url, audio_name, tags, view_count, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		post.ID, post.UserID, post.Title, post.Caption, post.ImageURL, post.ImageKey,
		post.AudioURL, post.AudioName, pq.Array(post.Tags), post.ViewCount,
		post.CreatedAt, post.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("投稿の作成に失敗しました: %w", translatePQError(err))
	}
	return nil
}

// Update はタイトル、キャプション、タグを更新する。
func (r *PostgresPostRepo) Update(ctx context.Context, post *model.Post) error {
	if post.Tags == nil {
		post.Tags = []string{}
	}
	result, err := r.db.ExecContext(ctx,
		`UPDATE posts SET title = $2, caption = $3, tags = $4, updated_at = $5
		 WHERE id = $1`,
		post.ID, post.Title, post.Caption, pq.Array(post.Tags), post.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("投稿の更新に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete は指定IDの投稿を削除する。
func (r *PostgresPostRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM posts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("投稿の削除に失敗しました: %w", err)
	}
	return nil
}

// IncrementViewCount は閲覧数を1増やし、更新後の値を返す。
func (r *PostgresPostRepo) IncrementViewCount(ctx context.Context, id string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`UPDATE posts SET view_count = view_count + 1 WHERE id = $1 RETURNING view_count`,
		id,
	).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("閲覧数の更新に失敗しました: %w", err)
	}
	return count, nil
}

// List は条件に一致する投稿を新しい順に返す。
func (r *PostgresPostRepo) List(ctx context.Context, q model.PostQuery) ([]model.Post, error) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if q.UserID != "" {
		conds = append(conds, "p.user_id = "+arg(q.UserID))
	}
	switch q.Filter {
	case model.PostFilterFollowing:
		conds = append(conds,
			"p.user_id IN (SELECT following_id FROM follows WHERE follower_id = "+arg(q.ViewerID)+")")
	case model.PostFilterRecent:
		conds = append(conds, "p.created_at >= now() - interval '"+recentWindow+"'")
	}
	if q.Search != "" {
		pattern := arg(likePattern(q.Search))
		conds = append(conds, "(p.title ILIKE "+pattern+" OR p.caption ILIKE "+pattern+")")
	}

	query := postSelect
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY p.created_at DESC, p.id DESC LIMIT " + arg(q.Limit) + " OFFSET " + arg(q.Offset)

	posts, err := queryPosts(ctx, r.db, query, args...)
	if err != nil {
		return nil, fmt.Errorf("投稿一覧の取得に失敗しました: %w", err)
	}
	return posts, nil
}

// ListSavedByUser はユーザーが保存した投稿を保存日時の新しい順に返す。
func (r *PostgresPostRepo) ListSavedByUser(ctx context.Context, userID string, limit, offset int) ([]model.Post, error) {
	posts, err := queryPosts(ctx, r.db,
		postSelect+`
		 JOIN saved_posts s ON s.post_id = p.id
		 WHERE s.user_id = $1
		 ORDER BY s.created_at DESC
		 LIMIT $2 OFFSET $3`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("保存済み投稿の取得に失敗しました: %w", err)
	}
	return posts, nil
}

// ExistingImageKeys は指定キーのうち投稿またはアバターから参照されているものを返す。
func (r *PostgresPostRepo) ExistingImageKeys(ctx context.Context, keys []string) (map[string]bool, error) {
	found := make(map[string]bool, len(keys))
	if len(keys) == 0 {
		return found, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT image_key FROM posts WHERE image_key = ANY($1)
		 UNION
		 SELECT k FROM unnest($1::text[]) AS k
		 WHERE EXISTS (SELECT 1 FROM users u WHERE u.avatar_url LIKE '%' || k)`,
		pq.Array(keys),
	)
	if err != nil {
		return nil, fmt.Errorf("画像キーの照合に失敗しました: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("画像キーの読み取りに失敗しました: %w", err)
		}
		found[key] = true
	}
	return found, rows.Err()
}

// compile-time interface check
var _ PostRepository = (*PostgresPostRepo)(nil)
