package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/ltme/internal/album"
	"github.com/hitoshi/ltme/internal/auth"
	"github.com/hitoshi/ltme/internal/config"
	"github.com/hitoshi/ltme/internal/database"
	"github.com/hitoshi/ltme/internal/handler"
	"github.com/hitoshi/ltme/internal/logger"
	"github.com/hitoshi/ltme/internal/metrics"
	"github.com/hitoshi/ltme/internal/middleware"
	"github.com/hitoshi/ltme/internal/post"
	"github.com/hitoshi/ltme/internal/realtime"
	"github.com/hitoshi/ltme/internal/repository"
	"github.com/hitoshi/ltme/internal/security"
	"github.com/hitoshi/ltme/internal/social"
	"github.com/hitoshi/ltme/internal/storage"
	"github.com/hitoshi/ltme/internal/upload"
	"github.com/hitoshi/ltme/internal/user"
	"github.com/hitoshi/ltme/internal/worker/cleanup"
)

// Init はサーバー系コマンドの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定のログレベルで作り直す
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))
	return cfg, nil
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(ctx context.Context, databaseURL string, opts ...database.Option) (*sql.DB, error) {
	db, err := database.Open(databaseURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// openStore は設定のストレージを開き、書き込み可能かを確認する。
func openStore(ctx context.Context, cfg config.StorageConfig) (storage.Store, error) {
	store, err := storage.NewFromConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage: %w", err)
	}
	if err := store.ValidateSetup(ctx); err != nil {
		return nil, fmt.Errorf("storage is not usable: %w", err)
	}
	return store, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	// 1. DB接続
	db, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	// 2. メトリクスとストレージ
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	slog.Info("storage ready", slog.String("backend", cfg.Storage.Backend))

	// 3. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	postRepo := repository.NewPostgresPostRepo(db)
	albumRepo := repository.NewPostgresAlbumRepo(db)
	followRepo := repository.NewPostgresFollowRepo(db)
	savedRepo := repository.NewPostgresSavedPostRepo(db)

	// 4. セキュリティ部品とアップロード
	sanitizer := security.NewTextSanitizer()
	fetcher := security.NewImageFetcher(cfg.ImageImportTimeout, cfg.UploadMaxBytes)
	uploader := upload.NewUploader(store, cfg.Storage.PublicBaseURL, cfg.UploadMaxBytes, collector)

	// 5. ドメインサービスの初期化
	authService := auth.NewService(userRepo, sessionRepo, auth.ServiceConfig{
		JWTSecret: []byte(cfg.JWTSecret),
		TokenTTL:  cfg.TokenTTL,
	})
	userService := user.NewService(userRepo, sessionRepo, postRepo, uploader, sanitizer)
	postService := post.NewService(postRepo, uploader, fetcher, sanitizer, collector)
	albumService := album.NewService(albumRepo, postRepo, sanitizer)
	socialService := social.NewService(followRepo, savedRepo, userRepo)

	// 6. 変更通知の配信
	hub := realtime.NewHub(collector)
	listenCtx, stopListener := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := realtime.NewListener(cfg.DatabaseURL, hub).Run(listenCtx); err != nil {
			slog.Error("change listener failed", slog.String("error", err.Error()))
		}
	}()

	// 7. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitUpload))
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		Authenticator:     authService,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Logger:            slog.Default(),
		Metrics:           collector,
		MetricsHandler:    metrics.Handler(reg),
		HealthChecker:     db,

		AuthService:   authService,
		UserService:   userService,
		PostService:   postService,
		AlbumService:  albumService,
		SocialService: socialService,

		Changes:        hub,
		MaxUploadBytes: cfg.UploadMaxBytes,
	}
	// S3は外部から直接配信する
	if cfg.Storage.Backend != config.StorageS3 {
		deps.Store = store
	}

	// 8. HTTPサーバーの起動
	// /api/changesは長時間の接続になるため書き込みタイムアウトは設定しない
	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler.NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		stopListener()
		hub.Close()
		wg.Wait()
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	}

	slog.Info("shutting down API server...")

	// SSEの購読を先に閉じて接続を終わらせる
	stopListener()
	hub.Close()
	wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続とストレージを開き、クリーンアップジョブをcron式のスケジュールで実行する。
// ctxがキャンセルされると実行中のジョブの終了を待って戻る。
func runWorker(ctx context.Context, cfg *config.Config) error {
	db, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}

	job := cleanup.NewCleanupJob(
		repository.NewPostgresSessionRepo(db),
		repository.NewPostgresPostRepo(db),
		store,
		nil,
		slog.Default(),
	)
	job.OrphanGrace = cfg.CleanupOrphanGrace

	scheduler := cleanup.NewScheduler(ctx, job, slog.Default())
	if err := scheduler.Start(cfg.CleanupSchedule); err != nil {
		return err
	}

	slog.Info("worker starting",
		slog.String("schedule", cfg.CleanupSchedule),
		slog.Duration("orphan_grace", cfg.CleanupOrphanGrace),
	)

	<-ctx.Done()
	slog.Info("shutting down worker...")
	scheduler.Stop()

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// downが0の場合はすべての未適用マイグレーションを順番に適用し、
// 正の場合は直近down件を取り消す。
func runMigrate(cfg *config.Config, down int) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		slog.Int("down", down),
	)

	if down > 0 {
		if err := database.RollbackMigrations(cfg.DatabaseURL, down); err != nil {
			return fmt.Errorf("rollback failed: %w", err)
		}
	} else if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	version, dirty, err := database.MigrationVersion(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to read migration version: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
	)
	return nil
}

// healthcheckPort はヘルスチェック先のポートを返す。
// フル初期化をしないため、設定ではなく環境変数を直接読む。
func healthcheckPort() string {
	if port := os.Getenv("SERVER_PORT"); port != "" {
		return port
	}
	return "8080"
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(ctx context.Context, baseURL string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
