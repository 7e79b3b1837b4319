package repository_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/ltme/internal/database/dbtest"
	"github.com/hitoshi/ltme/internal/model"
	"github.com/hitoshi/ltme/internal/repository"
)

// --- テストヘルパー ---

func createUser(t *testing.T, repo *repository.PostgresUserRepo, name string) *model.User {
	t.Helper()
	now := time.Now()
	u := &model.User{
		ID:           uuid.New().String(),
		Email:        name + "@example.com",
		PasswordHash: "hash",
		Username:     name,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := repo.Create(context.Background(), u); err != nil {
		t.Fatalf("ユーザー作成に失敗: %v", err)
	}
	return u
}

func createPost(t *testing.T, repo *repository.PostgresPostRepo, userID, title string, createdAt time.Time) *model.Post {
	t.Helper()
	p := &model.Post{
		ID:        uuid.New().String(),
		UserID:    userID,
		Title:     title,
		Caption:   "caption of " + title,
		ImageURL:  "https://cdn.example.com/" + title + ".jpg",
		ImageKey:  "posts/" + title + ".jpg",
		Tags:      []string{"tag"},
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
	if err := repo.Create(context.Background(), p); err != nil {
		t.Fatalf("投稿作成に失敗: %v", err)
	}
	return p
}

// --- テスト ---

func TestPostgresUserRepo_CreateDuplicateEmail_ReturnsErrDuplicate(t *testing.T) {
	db := dbtest.Migrated(t)
	users := repository.NewPostgresUserRepo(db)

	u := createUser(t, users, "alice")

	dup := *u
	dup.ID = uuid.New().String()
	dup.Username = "alice2"
	err := users.Create(context.Background(), &dup)
	if !errors.Is(err, repository.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestPostgresUserRepo_FindByID_InvalidUUID_ReturnsNil(t *testing.T) {
	db := dbtest.Migrated(t)
	users := repository.NewPostgresUserRepo(db)

	u, err := users.FindByID(context.Background(), "not-a-uuid")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u != nil {
		t.Fatalf("expected nil user, got %+v", u)
	}
}

func TestPostgresFollowRepo_Lifecycle(t *testing.T) {
	db := dbtest.Migrated(t)
	ctx := context.Background()
	users := repository.NewPostgresUserRepo(db)
	follows := repository.NewPostgresFollowRepo(db)

	a := createUser(t, users, "a")
	b := createUser(t, users, "b")

	if err := follows.Create(ctx, a.ID, b.ID); err != nil {
		t.Fatalf("フォローに失敗: %v", err)
	}
	if err := follows.Create(ctx, a.ID, b.ID); !errors.Is(err, repository.ErrDuplicate) {
		t.Errorf("二重フォロー: expected ErrDuplicate, got %v", err)
	}
	if err := follows.Create(ctx, a.ID, a.ID); !errors.Is(err, repository.ErrCheckViolation) {
		t.Errorf("自己フォロー: expected ErrCheckViolation, got %v", err)
	}

	ids, err := follows.ListFollowingIDs(ctx, a.ID)
	if err != nil {
		t.Fatalf("ListFollowingIDs: %v", err)
	}
	if len(ids) != 1 || ids[0] != b.ID {
		t.Errorf("following ids = %v, want [%s]", ids, b.ID)
	}

	followers, err := follows.ListFollowers(ctx, b.ID)
	if err != nil {
		t.Fatalf("ListFollowers: %v", err)
	}
	if len(followers) != 1 || followers[0].ID != a.ID {
		t.Errorf("followers = %+v, want [%s]", followers, a.ID)
	}

	removed, err := follows.Delete(ctx, a.ID, b.ID)
	if err != nil || !removed {
		t.Fatalf("Delete = %v, %v; want true, nil", removed, err)
	}
	removed, err = follows.Delete(ctx, a.ID, b.ID)
	if err != nil || removed {
		t.Fatalf("second Delete = %v, %v; want false, nil", removed, err)
	}
}

func TestPostgresSavedPostRepo_Lifecycle(t *testing.T) {
	db := dbtest.Migrated(t)
	ctx := context.Background()
	users := repository.NewPostgresUserRepo(db)
	posts := repository.NewPostgresPostRepo(db)
	saved := repository.NewPostgresSavedPostRepo(db)

	u := createUser(t, users, "saver")
	p := createPost(t, posts, u.ID, "p1", time.Now())

	if err := saved.Create(ctx, u.ID, p.ID); err != nil {
		t.Fatalf("保存に失敗: %v", err)
	}
	if err := saved.Create(ctx, u.ID, p.ID); !errors.Is(err, repository.ErrDuplicate) {
		t.Errorf("二重保存: expected ErrDuplicate, got %v", err)
	}
	if err := saved.Create(ctx, u.ID, uuid.New().String()); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("存在しない投稿: expected ErrNotFound, got %v", err)
	}

	list, err := posts.ListSavedByUser(ctx, u.ID, 10, 0)
	if err != nil {
		t.Fatalf("ListSavedByUser: %v", err)
	}
	if len(list) != 1 || list[0].ID != p.ID {
		t.Errorf("saved posts = %+v", list)
	}
}

func TestPostgresPostRepo_List_FollowingAndSearch(t *testing.T) {
	db := dbtest.Migrated(t)
	ctx := context.Background()
	users := repository.NewPostgresUserRepo(db)
	posts := repository.NewPostgresPostRepo(db)
	follows := repository.NewPostgresFollowRepo(db)

	viewer := createUser(t, users, "viewer")
	a := createUser(t, users, "ua")
	b := createUser(t, users, "ub")
	c := createUser(t, users, "uc")

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	pa := createPost(t, posts, a.ID, "Sunset", base.Add(48*time.Hour))
	pb := createPost(t, posts, b.ID, "Mountain", base.Add(24*time.Hour))
	createPost(t, posts, c.ID, "Sea", base)

	for _, target := range []string{a.ID, b.ID} {
		if err := follows.Create(ctx, viewer.ID, target); err != nil {
			t.Fatalf("フォローに失敗: %v", err)
		}
	}

	got, err := posts.List(ctx, model.PostQuery{
		Filter:   model.PostFilterFollowing,
		ViewerID: viewer.ID,
		Limit:    50,
	})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 || got[0].ID != pa.ID || got[1].ID != pb.ID {
		t.Fatalf("following posts = %v, want [%s %s]", postIDs(got), pa.ID, pb.ID)
	}
	if got[0].Username != "ua" {
		t.Errorf("username = %q, want %q", got[0].Username, "ua")
	}

	got, err = posts.List(ctx, model.PostQuery{Filter: model.PostFilterAll, Search: "MOUNT", Limit: 50})
	if err != nil {
		t.Fatalf("List search: %v", err)
	}
	if len(got) != 1 || got[0].ID != pb.ID {
		t.Errorf("search posts = %v, want [%s]", postIDs(got), pb.ID)
	}
}

func TestPostgresPostRepo_IncrementViewCount(t *testing.T) {
	db := dbtest.Migrated(t)
	ctx := context.Background()
	users := repository.NewPostgresUserRepo(db)
	posts := repository.NewPostgresPostRepo(db)

	u := createUser(t, users, "viewed")
	p := createPost(t, posts, u.ID, "counted", time.Now())

	for i := 1; i <= 3; i++ {
		n, err := posts.IncrementViewCount(ctx, p.ID)
		if err != nil {
			t.Fatalf("IncrementViewCount: %v", err)
		}
		if n != i {
			t.Errorf("view count = %d, want %d", n, i)
		}
	}
}

func TestPostgresAlbumRepo_PublicVisibilityAndPositions(t *testing.T) {
	db := dbtest.Migrated(t)
	ctx := context.Background()
	users := repository.NewPostgresUserRepo(db)
	posts := repository.NewPostgresPostRepo(db)
	albums := repository.NewPostgresAlbumRepo(db)

	u := createUser(t, users, "curator")
	public := &model.Album{ID: uuid.New().String(), UserID: u.ID, Title: "Trip", IsPublic: true, CreatedAt: time.Now()}
	private := &model.Album{ID: uuid.New().String(), UserID: u.ID, Title: "Drafts", IsPublic: false, CreatedAt: time.Now()}
	for _, a := range []*model.Album{public, private} {
		if err := albums.Create(ctx, a); err != nil {
			t.Fatalf("アルバム作成に失敗: %v", err)
		}
	}

	visible, err := albums.List(ctx, model.AlbumQuery{UserID: u.ID, Limit: 10})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(visible) != 1 || visible[0].ID != public.ID {
		t.Errorf("public albums = %+v", visible)
	}

	all, err := albums.List(ctx, model.AlbumQuery{UserID: u.ID, IncludePrivate: true, Limit: 10})
	if err != nil {
		t.Fatalf("List private: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("owner albums = %d, want 2", len(all))
	}

	var added []string
	for i := 0; i < 3; i++ {
		p := createPost(t, posts, u.ID, fmt.Sprintf("album-post-%d", i), time.Now())
		if err := albums.AddPost(ctx, public.ID, p.ID); err != nil {
			t.Fatalf("AddPost: %v", err)
		}
		added = append(added, p.ID)
	}
	if err := albums.AddPost(ctx, public.ID, added[0]); !errors.Is(err, repository.ErrDuplicate) {
		t.Errorf("二重追加: expected ErrDuplicate, got %v", err)
	}

	inAlbum, err := albums.ListPosts(ctx, public.ID)
	if err != nil {
		t.Fatalf("ListPosts: %v", err)
	}
	if fmt.Sprint(postIDs(inAlbum)) != fmt.Sprint(added) {
		t.Errorf("album order = %v, want %v", postIDs(inAlbum), added)
	}
}

func TestPostgresSessionRepo_DeleteExpired(t *testing.T) {
	db := dbtest.Migrated(t)
	ctx := context.Background()
	users := repository.NewPostgresUserRepo(db)
	sessions := repository.NewPostgresSessionRepo(db)

	u := createUser(t, users, "sess")
	now := time.Now()
	expired := &model.Session{ID: "expired", UserID: u.ID, ExpiresAt: now.Add(-time.Hour), CreatedAt: now}
	valid := &model.Session{ID: "valid", UserID: u.ID, ExpiresAt: now.Add(time.Hour), CreatedAt: now}
	for _, s := range []*model.Session{expired, valid} {
		if err := sessions.Create(ctx, s); err != nil {
			t.Fatalf("セッション作成に失敗: %v", err)
		}
	}

	n, err := sessions.DeleteExpired(ctx)
	if err != nil {
		t.Fatalf("DeleteExpired: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}
	if s, _ := sessions.FindByID(ctx, "valid"); s == nil {
		t.Error("有効なセッションが削除されました")
	}
}

func postIDs(posts []model.Post) []string {
	ids := make([]string, len(posts))
	for i, p := range posts {
		ids[i] = p.ID
	}
	return ids
}

func TestPostgresUserRepo_UpdateProfile_DuplicateUsername(t *testing.T) {
	db := dbtest.Migrated(t)
	users := repository.NewPostgresUserRepo(db)
	ctx := context.Background()

	alice := createUser(t, users, "alice")
	createUser(t, users, "bob")

	alice.DisplayName = "Alice"
	alice.Bio = "photos"
	alice.UpdatedAt = time.Now()
	if err := users.UpdateProfile(ctx, alice); err != nil {
		t.Fatalf("UpdateProfile() error = %v", err)
	}
	got, err := users.FindByID(ctx, alice.ID)
	if err != nil || got == nil {
		t.Fatalf("FindByID() = %v, %v", got, err)
	}
	if got.DisplayName != "Alice" || got.Bio != "photos" {
		t.Errorf("profile not updated: %+v", got)
	}

	alice.Username = "bob"
	if err := users.UpdateProfile(ctx, alice); !errors.Is(err, repository.ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}
}
