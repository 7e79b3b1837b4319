package testutil

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/ltme/internal/album"
	"github.com/hitoshi/ltme/internal/auth"
	"github.com/hitoshi/ltme/internal/handler"
	"github.com/hitoshi/ltme/internal/metrics"
	"github.com/hitoshi/ltme/internal/middleware"
	"github.com/hitoshi/ltme/internal/model"
	"github.com/hitoshi/ltme/internal/post"
	"github.com/hitoshi/ltme/internal/realtime"
	"github.com/hitoshi/ltme/internal/repository/memrepo"
	"github.com/hitoshi/ltme/internal/security"
	"github.com/hitoshi/ltme/internal/social"
	"github.com/hitoshi/ltme/internal/storage"
	"github.com/hitoshi/ltme/internal/upload"
	"github.com/hitoshi/ltme/internal/user"
)

// BackendSecret はテスト用バックエンドのJWT署名鍵。
const BackendSecret = "backend-test-secret-0123456789abcdef"

// Backend はインメモリのリポジトリと実サービスで構成したAPIサーバー。
// httptest.Server上で動き、テスト終了時に閉じられる。
type Backend struct {
	Server *httptest.Server
	DB     *memrepo.DB
	Hub    *realtime.Hub
	Store  *storage.MemoryStore
	Auth   *auth.Service
	Users  *user.Service
	Posts  *post.Service
	Albums *album.Service
	Social *social.Service
}

// NewBackend はBackendを起動する。
func NewBackend(t *testing.T) *Backend {
	t.Helper()

	db := memrepo.New()
	store := storage.NewMemoryStore()
	sanitizer := security.NewTextSanitizer()
	uploader := upload.NewUploader(store, "/media", 1<<20, nil)
	hub := realtime.NewHub(nil)
	rl := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(10000, 1000))

	b := &Backend{
		DB:    db,
		Hub:   hub,
		Store: store,
		Auth: auth.NewService(db.Users(), db.Sessions(), auth.ServiceConfig{
			JWTSecret:  []byte(BackendSecret),
			TokenTTL:   time.Hour,
			BcryptCost: bcrypt.MinCost,
		}),
		Users:  user.NewService(db.Users(), db.Sessions(), db.Posts(), uploader, sanitizer),
		Posts:  post.NewService(db.Posts(), uploader, nil, sanitizer, nil),
		Albums: album.NewService(db.Albums(), db.Posts(), sanitizer),
		Social: social.NewService(db.Follows(), db.SavedPosts(), db.Users()),
	}

	router := handler.NewRouter(&handler.RouterDeps{
		Authenticator:  b.Auth,
		RateLimiter:    rl,
		Metrics:        metrics.Nop{},
		AuthService:    b.Auth,
		UserService:    b.Users,
		PostService:    b.Posts,
		AlbumService:   b.Albums,
		SocialService:  b.Social,
		Store:          store,
		Changes:        hub,
		MaxUploadBytes: 1 << 20,
	})
	b.Server = httptest.NewServer(router)

	t.Cleanup(func() {
		// SSEの接続を先に切らないとServer.Closeが待ち続ける。
		b.Server.CloseClientConnections()
		b.Server.Close()
		hub.Close()
		rl.Stop()
	})
	return b
}

// URL はサーバーのベースURLを返す。
func (b *Backend) URL() string {
	return b.Server.URL
}

// SignUp はユーザーを登録し、その結果を返す。
func (b *Backend) SignUp(t *testing.T, email string) *auth.Result {
	t.Helper()
	res, err := b.Auth.SignUp(context.Background(), email, "password123")
	if err != nil {
		t.Fatalf("SignUp(%q) error = %v", email, err)
	}
	return res
}

// CreatePost は画像URLなしの投稿をリポジトリへ直接作成する。
func (b *Backend) CreatePost(t *testing.T, userID, title string, createdAt time.Time) *model.Post {
	t.Helper()
	p := &model.Post{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		ImageURL:  "/media/posts/" + title + ".png",
		ImageKey:  "posts/" + title + ".png",
		Tags:      []string{},
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
	if err := b.DB.Posts().Create(context.Background(), p); err != nil {
		t.Fatalf("create post %q: %v", title, err)
	}
	return p
}
