package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/ltme/internal/model"
)

// PostgresFollowRepo はPostgreSQLを使用したフォローリポジトリ。
type PostgresFollowRepo struct {
	db *sql.DB
}

// NewPostgresFollowRepo はPostgresFollowRepoを生成する。
func NewPostgresFollowRepo(db *sql.DB) *PostgresFollowRepo {
	return &PostgresFollowRepo{db: db}
}

// Create はフォロー関係を作成する。
func (r *PostgresFollowRepo) Create(ctx context.Context, followerID, followingID string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO follows (follower_id, following_id) VALUES ($1, $2)`,
		followerID, followingID,
	)
	if err != nil {
		return fmt.Errorf("フォローの作成に失敗しました: %w", translatePQError(err))
	}
	return nil
}

// Delete はフォロー関係を削除する。
func (r *PostgresFollowRepo) Delete(ctx context.Context, followerID, followingID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM follows WHERE follower_id = $1 AND following_id = $2`,
		followerID, followingID,
	)
	if err != nil {
		if isInvalidUUID(err) {
			return false, nil
		}
		return false, fmt.Errorf("フォローの削除に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// ListFollowingIDs はユーザーがフォローしているユーザーIDの一覧を返す。
func (r *PostgresFollowRepo) ListFollowingIDs(ctx context.Context, userID string) ([]string, error) {
	ids, err := queryIDs(ctx, r.db,
		`SELECT following_id FROM follows WHERE follower_id = $1 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("フォロー一覧の取得に失敗しました: %w", err)
	}
	return ids, nil
}

// ListFollowers はユーザーのフォロワーを返す。
func (r *PostgresFollowRepo) ListFollowers(ctx context.Context, userID string) ([]model.Profile, error) {
	profiles, err := queryProfiles(ctx, r.db,
		profileSelect+`
		 JOIN follows f ON f.follower_id = u.id
		 WHERE f.following_id = $1
		 ORDER BY f.created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("フォロワー一覧の取得に失敗しました: %w", err)
	}
	return profiles, nil
}

// ListFollowing はユーザーがフォローしているユーザーを返す。
func (r *PostgresFollowRepo) ListFollowing(ctx context.Context, userID string) ([]model.Profile, error) {
	profiles, err := queryProfiles(ctx, r.db,
		profileSelect+`
		 JOIN follows f ON f.following_id = u.id
		 WHERE f.follower_id = $1
		 ORDER BY f.created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("フォロー中ユーザーの取得に失敗しました: %w", err)
	}
	return profiles, nil
}

// queryIDs は1列のID一覧を取得する。
func queryIDs(ctx context.Context, db *sql.DB, query string, args ...any) ([]string, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		if isInvalidUUID(err) {
			return []string{}, nil
		}
		return nil, err
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// compile-time interface check
var _ FollowRepository = (*PostgresFollowRepo)(nil)
