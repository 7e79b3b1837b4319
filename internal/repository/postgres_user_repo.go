package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/ltme/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

const userColumns = `id, email, password_hash, username, display_name, bio, avatar_url, created_at, updated_at`

func scanUser(row *sql.Row) (*model.User, error) {
	user := &model.User{}
	err := row.Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.Username,
		&user.DisplayName, &user.Bio, &user.AvatarURL, &user.CreatedAt, &user.UpdatedAt,
	)
	if err == sql.ErrNoRows || isInvalidUUID(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByEmail はメールアドレスでユーザーを検索する。大文字小文字は区別しない。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email))
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return user, nil
}

// FindByUsername はユーザー名でユーザーを検索する。
func (r *PostgresUserRepo) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = $1`, username))
	if err != nil {
		return nil, fmt.Errorf("failed to find user by username: %w", err)
	}
	return user, nil
}

// Create はユーザーを作成する。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, username, display_name, bio, avatar_url, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		user.ID, user.Email, user.PasswordHash, user.Username,
		user.DisplayName, user.Bio, user.AvatarURL, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", translatePQError(err))
	}
	return nil
}

// UpdateProfile はユーザー名、表示名、自己紹介、アバターURLを更新する。
// ユーザー名が重複する場合はErrDuplicateを返す。
func (r *PostgresUserRepo) UpdateProfile(ctx context.Context, user *model.User) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET username = $2, display_name = $3, bio = $4, avatar_url = $5, updated_at = $6
		 WHERE id = $1`,
		user.ID, user.Username, user.DisplayName, user.Bio, user.AvatarURL, user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update user profile: %w", translatePQError(err))
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("user not found: %s", user.ID)
	}
	return nil
}

// DeleteByID は指定IDのユーザーを削除する。
func (r *PostgresUserRepo) DeleteByID(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM users WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("user not found: %s", id)
	}
	return nil
}

// profileSelect は公開プロフィールと各種カウントを取得するSELECT句。
const profileSelect = `
	SELECT u.id, u.username, u.display_name, u.bio, u.avatar_url, u.created_at,
	       (SELECT count(*) FROM posts p WHERE p.user_id = u.id) AS post_count,
	       (SELECT count(*) FROM follows f WHERE f.following_id = u.id) AS follower_count,
	       (SELECT count(*) FROM follows f WHERE f.follower_id = u.id) AS following_count
	FROM users u`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner, p *model.Profile) error {
	return row.Scan(
		&p.ID, &p.Username, &p.DisplayName, &p.Bio, &p.AvatarURL, &p.CreatedAt,
		&p.PostCount, &p.FollowerCount, &p.FollowingCount,
	)
}

func queryProfiles(ctx context.Context, db *sql.DB, query string, args ...any) ([]model.Profile, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []model.Profile
	for rows.Next() {
		var p model.Profile
		if err := scanProfile(rows, &p); err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

// GetProfile は公開プロフィールを返す。見つからない場合はnilを返す。
func (r *PostgresUserRepo) GetProfile(ctx context.Context, id string) (*model.Profile, error) {
	p := &model.Profile{}
	err := scanProfile(r.db.QueryRowContext(ctx, profileSelect+` WHERE u.id = $1`, id), p)
	if err == sql.ErrNoRows || isInvalidUUID(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user profile: %w", err)
	}
	return p, nil
}

// ListTopByPostCount は投稿数の多い順にユーザーを返す。投稿のないユーザーは含まない。
func (r *PostgresUserRepo) ListTopByPostCount(ctx context.Context, limit int) ([]model.Profile, error) {
	profiles, err := queryProfiles(ctx, r.db,
		`SELECT * FROM (`+profileSelect+`) t
		 WHERE t.post_count > 0
		 ORDER BY t.post_count DESC, t.created_at ASC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list top users: %w", err)
	}
	return profiles, nil
}

// Search はユーザー名・表示名の部分一致でユーザーを検索する。
func (r *PostgresUserRepo) Search(ctx context.Context, query string, limit int) ([]model.Profile, error) {
	profiles, err := queryProfiles(ctx, r.db,
		profileSelect+`
		 WHERE u.username ILIKE $1 OR u.display_name ILIKE $1
		 ORDER BY u.username
		 LIMIT $2`,
		likePattern(query), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search users: %w", err)
	}
	return profiles, nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
