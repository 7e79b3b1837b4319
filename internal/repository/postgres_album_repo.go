package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/hitoshi/ltme/internal/model"
)

// PostgresAlbumRepo はPostgreSQLを使用したアルバムリポジトリ。
type PostgresAlbumRepo struct {
	db *sql.DB
}

// NewPostgresAlbumRepo はPostgresAlbumRepoを生成する。
func NewPostgresAlbumRepo(db *sql.DB) *PostgresAlbumRepo {
	return &PostgresAlbumRepo{db: db}
}

const albumSelect = `
	SELECT a.id, a.user_id, u.username, a.title, a.description, a.cover_image_url,
	       a.is_public, a.created_at,
	       (SELECT count(*) FROM album_posts ap WHERE ap.album_id = a.id) AS post_count
	FROM albums a
	JOIN users u ON u.id = a.user_id`

func scanAlbum(row rowScanner, a *model.Album) error {
	return row.Scan(
		&a.ID, &a.UserID, &a.Username, &a.Title, &a.Description, &a.CoverImageURL,
		&a.IsPublic, &a.CreatedAt, &a.PostCount,
	)
}

// FindByID は指定IDのアルバムを取得する。見つからない場合はnilを返す。
func (r *PostgresAlbumRepo) FindByID(ctx context.Context, id string) (*model.Album, error) {
	a := &model.Album{}
	err := scanAlbum(r.db.QueryRowContext(ctx, albumSelect+` WHERE a.id = $1`, id), a)
	if err == sql.ErrNoRows || isInvalidUUID(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("アルバムの取得に失敗しました: %w", err)
	}
	return a, nil
}

// Create はアルバムを作成する。
func (r *PostgresAlbumRepo) Create(ctx context.Context, album *model.Album) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO albums (id, user_id, title, description, cover_image_url, is_public, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
		album.ID, album.UserID, album.Title, album.Description, album.CoverImageURL,
		album.IsPublic, album.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("アルバムの作成に失敗しました: %w", translatePQError(err))
	}
	return nil
}

// List は条件に一致するアルバムを作成日時の新しい順に返す。
func (r *PostgresAlbumRepo) List(ctx context.Context, q model.AlbumQuery) ([]model.Album, error) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if q.UserID != "" {
		conds = append(conds, "a.user_id = "+arg(q.UserID))
	}
	if !q.IncludePrivate {
		conds = append(conds, "a.is_public")
	}
	if q.Search != "" {
		pattern := arg(likePattern(q.Search))
		conds = append(conds, "(a.title ILIKE "+pattern+" OR a.description ILIKE "+pattern+")")
	}

	query := albumSelect
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY a.created_at DESC, a.id DESC LIMIT " + arg(q.Limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("アルバム一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	albums := []model.Album{}
	for rows.Next() {
		var a model.Album
		if err := scanAlbum(rows, &a); err != nil {
			return nil, fmt.Errorf("アルバムの読み取りに失敗しました: %w", err)
		}
		albums = append(albums, a)
	}
	return albums, rows.Err()
}

// AddPost はアルバム末尾に投稿を追加する。
// positionは追加時点のアルバム内投稿数とする。
func (r *PostgresAlbumRepo) AddPost(ctx context.Context, albumID, postID string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO album_posts (album_id, post_id, position)
		 VALUES ($1, $2, (SELECT count(*) FROM album_posts WHERE album_id = $1))`,
		albumID, postID,
	)
	if err != nil {
		return fmt.Errorf("アルバムへの投稿追加に失敗しました: %w", translatePQError(err))
	}
	return nil
}

// ListPosts はアルバム内の投稿を追加順に返す。
func (r *PostgresAlbumRepo) ListPosts(ctx context.Context, albumID string) ([]model.Post, error) {
	posts, err := queryPosts(ctx, r.db,
		postSelect+`
		 JOIN album_posts ap ON ap.post_id = p.id
		 WHERE ap.album_id = $1
		 ORDER BY ap.position ASC, ap.created_at ASC`,
		albumID,
	)
	if err != nil {
		return nil, fmt.Errorf("アルバム内投稿の取得に失敗しました: %w", err)
	}
	return posts, nil
}

// compile-time interface check
var _ AlbumRepository = (*PostgresAlbumRepo)(nil)
