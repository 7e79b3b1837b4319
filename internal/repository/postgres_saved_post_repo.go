package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresSavedPostRepo はPostgreSQLを使用した保存済み投稿リポジトリ。
type PostgresSavedPostRepo struct {
	db *sql.DB
}

// NewPostgresSavedPostRepo はPostgresSavedPostRepoを生成する。
func NewPostgresSavedPostRepo(db *sql.DB) *PostgresSavedPostRepo {
	return &PostgresSavedPostRepo{db: db}
}

// Create は投稿を保存する。
func (r *PostgresSavedPostRepo) Create(ctx context.Context, userID, postID string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO saved_posts (user_id, post_id) VALUES ($1, $2)`,
		userID, postID,
	)
	if err != nil {
		return fmt.Errorf("投稿の保存に失敗しました: %w", translatePQError(err))
	}
	return nil
}

// Delete は保存を解除する。
func (r *PostgresSavedPostRepo) Delete(ctx context.Context, userID, postID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM saved_posts WHERE user_id = $1 AND post_id = $2`,
		userID, postID,
	)
	if err != nil {
		if isInvalidUUID(err) {
			return false, nil
		}
		return false, fmt.Errorf("保存の解除に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// ListPostIDs はユーザーが保存した投稿IDの一覧を返す。
func (r *PostgresSavedPostRepo) ListPostIDs(ctx context.Context, userID string) ([]string, error) {
	ids, err := queryIDs(ctx, r.db,
		`SELECT post_id FROM saved_posts WHERE user_id = $1 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("保存済み投稿IDの取得に失敗しました: %w", err)
	}
	return ids, nil
}

// compile-time interface check
var _ SavedPostRepository = (*PostgresSavedPostRepo)(nil)
