package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/ltme/internal/metrics"
	"github.com/hitoshi/ltme/internal/middleware"
	"github.com/hitoshi/ltme/internal/storage"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Authenticator     middleware.Authenticator
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger
	Metrics           metrics.MetricsCollector
	// MetricsHandler がnilの場合は /metrics を公開しない。
	MetricsHandler http.Handler
	HealthChecker  HealthChecker

	// サービス
	AuthService   AuthServiceInterface
	UserService   UserServiceInterface
	PostService   PostServiceInterface
	AlbumService  AlbumServiceInterface
	SocialService SocialServiceInterface

	// Store がnilの場合は /media を公開しない（S3など外部配信の場合）。
	Store          storage.Store
	Changes        ChangeSubscriber
	MaxUploadBytes int64
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → Metrics → Logging → CORS
//	  /api: OptionalAuth → RateLimit(General) → [RequireUser] → [RateLimit(Upload)]
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mc := deps.Metrics
	if mc == nil {
		mc = metrics.Nop{}
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(metrics.Middleware(mc))
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService)
	userHandler := NewUserHandler(deps.UserService, deps.SocialService, deps.PostService, deps.AlbumService, deps.MaxUploadBytes)
	postHandler := NewPostHandler(deps.PostService, deps.MaxUploadBytes)
	albumHandler := NewAlbumHandler(deps.AlbumService)
	socialHandler := NewSocialHandler(deps.SocialService)
	changesHandler := NewChangesHandler(deps.Changes)

	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}
	if deps.Store != nil {
		r.Get("/media/*", NewMediaHandler(deps.Store).Serve)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.NewOptionalAuthMiddleware(deps.Authenticator))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// --- 認証不要のルート ---
		r.Post("/auth/signup", authHandler.SignUp)
		r.Post("/auth/signin", authHandler.SignIn)

		r.Get("/users/recommended", userHandler.Recommended)
		r.Get("/users/search", userHandler.Search)
		r.Get("/users/{user}", userHandler.GetByUsername)
		r.Get("/users/{user}/followers", userHandler.Followers)
		r.Get("/users/{user}/following", userHandler.Following)
		r.Get("/users/{user}/posts", userHandler.Posts)
		r.Get("/users/{user}/albums", userHandler.Albums)

		r.Get("/posts", postHandler.List)
		r.Get("/posts/{id}", postHandler.Get)

		r.Get("/albums", albumHandler.List)
		r.Get("/albums/{id}", albumHandler.Get)
		r.Get("/albums/{id}/posts", albumHandler.ListPosts)

		// --- 認証が必要なルート ---
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireUser())

			r.Post("/auth/signout", authHandler.SignOut)
			r.Get("/auth/me", authHandler.Me)

			r.Get("/users/me", userHandler.GetMe)
			r.Put("/users/me", userHandler.UpdateMe)
			r.Delete("/users/me", userHandler.Withdraw)
			r.With(deps.RateLimiter.UploadMiddleware()).Post("/users/me/avatar", userHandler.UploadAvatar)

			r.With(deps.RateLimiter.UploadMiddleware()).Post("/posts", postHandler.Create)
			r.Put("/posts/{id}", postHandler.Update)
			r.Delete("/posts/{id}", postHandler.Delete)

			r.Get("/follows/ids", socialHandler.FollowingIDs)
			r.Post("/follows/{id}", socialHandler.Follow)
			r.Delete("/follows/{id}", socialHandler.Unfollow)

			r.Get("/saved-posts", postHandler.ListSaved)
			r.Get("/saved-posts/ids", socialHandler.SavedPostIDs)
			r.Post("/saved-posts/{id}", socialHandler.SavePost)
			r.Delete("/saved-posts/{id}", socialHandler.UnsavePost)

			r.Post("/albums", albumHandler.Create)
			r.Post("/albums/{id}/posts", albumHandler.AddPost)

			r.Get("/changes", changesHandler.Stream)
		})
	})

	return r
}
