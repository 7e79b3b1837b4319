package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/hitoshi/ltme/internal/album"
	"github.com/hitoshi/ltme/internal/auth"
	"github.com/hitoshi/ltme/internal/clientconfig"
	"github.com/hitoshi/ltme/internal/database"
	"github.com/hitoshi/ltme/internal/gateway"
	"github.com/hitoshi/ltme/internal/gateway/direct"
	"github.com/hitoshi/ltme/internal/gateway/rest"
	"github.com/hitoshi/ltme/internal/logger"
	"github.com/hitoshi/ltme/internal/post"
	"github.com/hitoshi/ltme/internal/realtime"
	"github.com/hitoshi/ltme/internal/repository"
	"github.com/hitoshi/ltme/internal/security"
	"github.com/hitoshi/ltme/internal/session"
	"github.com/hitoshi/ltme/internal/social"
)

// directTokenTTL はgateway: directで発行するトークンの有効期限。
const directTokenTTL = 7 * 24 * time.Hour

// errNotSignedIn はサインインが必要なコマンドを未サインインで実行したことを表す。
var errNotSignedIn = errors.New("not signed in: run `ltme login` first")

// client はクライアント系コマンドが使う依存一式。
type client struct {
	cfg     *clientconfig.Config
	logger  *slog.Logger
	session *session.Session
	gateway gateway.Gateway
	auth    gateway.Authenticator

	closers []func() error
}

// openClient は設定ファイルを読み、セッションを復元してゲートウェイを組み立てる。
// ログはlogOutへ書く。戻り値のclientは使い終わったらCloseすること。
func openClient(ctx context.Context, opts *rootOptions, logOut io.Writer) (*client, error) {
	cfg, err := clientconfig.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	return newClient(ctx, cfg, opts.verbose, logOut)
}

func newClient(ctx context.Context, cfg *clientconfig.Config, verbose bool, logOut io.Writer) (*client, error) {
	level := logger.ParseLevel(cfg.LogLevel)
	if verbose {
		level = slog.LevelDebug
	}
	c := &client{cfg: cfg, logger: logger.Setup(logOut, level)}

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	slot, slotCloser, err := session.NewSlotFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("opening session store: %w", err)
	}
	c.closers = append(c.closers, slotCloser.Close)

	c.session = session.New(slot)
	if err := c.session.Restore(ctx); err != nil {
		// 壊れたセッションはサインインし直せばよいので続行する
		c.logger.Warn("failed to restore session", slog.String("error", err.Error()))
	}

	switch cfg.Gateway {
	case clientconfig.GatewayDirect:
		gw, closeGateway, err := newDirectGateway(ctx, cfg, c.session, c.logger)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.gateway, c.auth = gw, gw
		c.closers = append(c.closers, closeGateway)
	default:
		gw := rest.New(cfg.APIURL, c.session, rest.WithLogger(c.logger))
		c.gateway, c.auth = gw, gw
	}

	c.logger.Debug("client ready",
		slog.String("gateway", cfg.Gateway),
		slog.String("session_store", cfg.SessionStore),
		slog.Bool("signed_in", c.session.UserID() != ""),
	)
	return c, nil
}

// newDirectGateway はPostgreSQLへ直接つなぐGatewayを組み立てる。
// 変更通知はLISTEN/NOTIFYをプロセス内のHubで受ける。
func newDirectGateway(ctx context.Context, cfg *clientconfig.Config, sess *session.Session, l *slog.Logger) (*direct.Gateway, func() error, error) {
	db, err := openDatabase(ctx, cfg.DatabaseURL, database.WithPool(database.ClientPool))
	if err != nil {
		return nil, nil, err
	}

	userRepo := repository.NewPostgresUserRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	postRepo := repository.NewPostgresPostRepo(db)
	sanitizer := security.NewTextSanitizer()

	hub := realtime.NewHub(nil)
	listenCtx, stopListener := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := realtime.NewListener(cfg.DatabaseURL, hub).Run(listenCtx); err != nil {
			l.Warn("change listener failed", slog.String("error", err.Error()))
		}
	}()

	gw := direct.New(direct.Deps{
		Relations: social.NewService(repository.NewPostgresFollowRepo(db), repository.NewPostgresSavedPostRepo(db), userRepo),
		// 一覧の取得だけなのでアップロード系の依存は渡さない
		Posts:  post.NewService(postRepo, nil, nil, sanitizer, nil),
		Albums: album.NewService(repository.NewPostgresAlbumRepo(db), postRepo, sanitizer),
		Auth: auth.NewService(userRepo, sessionRepo, auth.ServiceConfig{
			JWTSecret: []byte(cfg.JWTSecret),
			TokenTTL:  directTokenTTL,
		}),
		Changes: hub,
		Session: sess,
	})

	closeFn := func() error {
		stopListener()
		<-done
		hub.Close()
		return db.Close()
	}
	return gw, closeFn, nil
}

// Close は開いた資源を逆順に閉じる。
func (c *client) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

// identity はサインイン中の本人情報を返す。未サインインならerrNotSignedIn。
func (c *client) identity() (session.Identity, error) {
	id, ok := c.session.Identity()
	if !ok {
		return session.Identity{}, errNotSignedIn
	}
	return id, nil
}

// openLogFile はTUI実行中のログファイルを開く。
func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	return f, nil
}
