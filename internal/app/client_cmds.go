package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/hitoshi/ltme/internal/broadcast"
	"github.com/hitoshi/ltme/internal/clientconfig"
	"github.com/hitoshi/ltme/internal/feed"
	"github.com/hitoshi/ltme/internal/model"
	"github.com/hitoshi/ltme/internal/relation"
	"github.com/hitoshi/ltme/internal/tui"
)

// withClient はclientを開いてfnを実行し、最後に閉じる。
func withClient(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, c *client) error) error {
	ctx := cmd.Context()
	c, err := openClient(ctx, opts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			c.logger.Warn("failed to close client", slog.String("error", err.Error()))
		}
	}()
	return fn(ctx, c)
}

// readPassword はパスワードを読む。入力が端末ならエコーせずに読む。
func readPassword(cmd *cobra.Command) (string, error) {
	fmt.Fprint(cmd.ErrOrStderr(), "Password: ")

	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return string(b), nil
	}

	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// credentialCommand はsignupとloginの共通部分。
func credentialCommand(opts *rootOptions, name Command, short string, issue func(ctx context.Context, c *client, email, password string) error) *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   string(name),
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			password, err := readPassword(cmd)
			if err != nil {
				return err
			}
			return withClient(cmd, opts, func(ctx context.Context, c *client) error {
				if err := issue(ctx, c, email, password); err != nil {
					return describeError(err)
				}
				id, err := c.identity()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s (%s)\n", id.Email, id.UserID)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "account email")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newSignUpCommand(opts *rootOptions) *cobra.Command {
	return credentialCommand(opts, CommandSignUp, "Create an account and sign in",
		func(ctx context.Context, c *client, email, password string) error {
			return c.auth.SignUp(ctx, email, password)
		})
}

func newLoginCommand(opts *rootOptions) *cobra.Command {
	return credentialCommand(opts, CommandLogin, "Sign in",
		func(ctx context.Context, c *client, email, password string) error {
			return c.auth.SignIn(ctx, email, password)
		})
}

func newLogoutCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   string(CommandLogout),
		Short: "Sign out and revoke the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd, opts, func(ctx context.Context, c *client) error {
				if _, err := c.identity(); err != nil {
					fmt.Fprintln(cmd.OutOrStdout(), "Not signed in")
					return nil
				}
				if err := c.auth.SignOut(ctx); err != nil {
					return describeError(err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
				return nil
			})
		},
	}
}

func newWhoAmICommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   string(CommandWhoAmI),
		Short: "Show the signed-in account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd, opts, func(_ context.Context, c *client) error {
				id, err := c.identity()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", id.UserID, id.Email)
				return nil
			})
		},
	}
}

func newFeedCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   string(CommandFeed),
		Short: "Browse the photo feed in the terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := clientconfig.Load(opts.configPath)
			if err != nil {
				return err
			}
			// 画面を使うため、ログはファイルへ書く
			logFile, err := openLogFile(cfg.LogPath())
			if err != nil {
				return err
			}
			defer logFile.Close()

			ctx := cmd.Context()
			c, err := newClient(ctx, cfg, opts.verbose, logFile)
			if err != nil {
				return err
			}
			defer c.Close()

			deps, closeDeps := feedDeps(c)
			defer closeDeps()
			return tui.Run(ctx, deps)
		},
	}
}

// feedDeps はフィード画面の依存を組み立てる。戻り値の関数でキャッシュを閉じる。
// 操作用とフォロー中モードの絞り込み用のキャッシュは別インスタンスで、Busで同期する。
func feedDeps(c *client) (tui.Deps, func()) {
	bus := broadcast.New()
	opts := []relation.Option{relation.WithBus(bus), relation.WithLogger(c.logger)}

	following := relation.NewFollowing(c.gateway, opts...)
	saved := relation.NewSaved(c.gateway, opts...)
	filter := relation.NewFollowing(c.gateway, opts...)
	caches := []*relation.Cache{following, saved, filter}
	for _, cache := range caches {
		cache.BindSession(c.session)
	}

	deps := tui.Deps{
		Loader:       feed.NewLoader(c.gateway, c.cfg.PageSize, 0, c.logger),
		Following:    following,
		Saved:        saved,
		FollowFilter: filter,
		Viewer: func() string {
			if id, ok := c.session.Identity(); ok {
				return id.Email
			}
			return ""
		},
	}
	return deps, func() {
		for _, cache := range caches {
			cache.Close()
		}
	}
}

// openRelation はサインイン中の利用者の関係キャッシュを読み込んで返す。
func openRelation(ctx context.Context, c *client, newCache func(*client) *relation.Cache) (*relation.Cache, error) {
	id, err := c.identity()
	if err != nil {
		return nil, err
	}
	cache := newCache(c)
	if err := cache.SetUser(ctx, id.UserID); err != nil {
		cache.Close()
		return nil, describeError(err)
	}
	return cache, nil
}

func followingCache(c *client) *relation.Cache {
	return relation.NewFollowing(c.gateway, relation.WithoutPush(), relation.WithLogger(c.logger))
}

func savedCache(c *client) *relation.Cache {
	return relation.NewSaved(c.gateway, relation.WithoutPush(), relation.WithLogger(c.logger))
}

// toggleCommand はfollowとsaveの共通部分。対象の状態を反転させる。
func toggleCommand(opts *rootOptions, name Command, short, argName string, newCache func(*client) *relation.Cache, added, removed string) *cobra.Command {
	return &cobra.Command{
		Use:   string(name) + " <" + argName + ">",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := strings.TrimSpace(args[0])
			return withClient(cmd, opts, func(ctx context.Context, c *client) error {
				cache, err := openRelation(ctx, c, newCache)
				if err != nil {
					return err
				}
				defer cache.Close()

				res, err := cache.Toggle(ctx, target)
				if err != nil {
					return describeError(err)
				}
				if res.Member {
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", added, target)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", removed, target)
				}
				return nil
			})
		},
	}
}

func newFollowCommand(opts *rootOptions) *cobra.Command {
	return toggleCommand(opts, CommandFollow, "Follow or unfollow a user", "userID", followingCache, "Following", "Unfollowed")
}

func newSaveCommand(opts *rootOptions) *cobra.Command {
	return toggleCommand(opts, CommandSave, "Save or unsave a post", "postID", savedCache, "Saved", "Unsaved")
}

// listCommand はfollowingとsavedの共通部分。IDを1行ずつ出力する。
func listCommand(opts *rootOptions, name Command, short string, newCache func(*client) *relation.Cache) *cobra.Command {
	return &cobra.Command{
		Use:   string(name),
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd, opts, func(ctx context.Context, c *client) error {
				cache, err := openRelation(ctx, c, newCache)
				if err != nil {
					return err
				}
				defer cache.Close()

				for _, id := range cache.IDs() {
					fmt.Fprintln(cmd.OutOrStdout(), id)
				}
				return nil
			})
		},
	}
}

func newFollowingCommand(opts *rootOptions) *cobra.Command {
	return listCommand(opts, CommandFollowing, "List the user IDs you follow", followingCache)
}

func newSavedCommand(opts *rootOptions) *cobra.Command {
	return listCommand(opts, CommandSaved, "List the post IDs you saved", savedCache)
}

// describeError はコマンドの失敗を利用者向けの文言にする。
func describeError(err error) error {
	var apiErr *model.APIError
	switch {
	case errors.Is(err, relation.ErrNoUser):
		return errNotSignedIn
	case errors.Is(err, relation.ErrSelfTarget):
		return errors.New("you cannot follow yourself")
	case errors.As(err, &apiErr):
		if apiErr.Action != "" {
			return fmt.Errorf("%s (%s)", apiErr.Message, apiErr.Action)
		}
		return errors.New(apiErr.Message)
	}
	return err
}
