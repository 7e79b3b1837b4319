package app

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hitoshi/ltme/internal/clientconfig"
)

// Command はサブコマンド名を表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker はワーカーモードで起動することを示す。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// クライアントのサブコマンド
const (
	CommandSignUp    Command = "signup"
	CommandLogin     Command = "login"
	CommandLogout    Command = "logout"
	CommandWhoAmI    Command = "whoami"
	CommandFeed      Command = "feed"
	CommandFollow    Command = "follow"
	CommandSave      Command = "save"
	CommandFollowing Command = "following"
	CommandSaved     Command = "saved"
)

// rootOptions は全サブコマンドで共有するフラグ。
type rootOptions struct {
	configPath string
	verbose    bool
}

// NewRootCommand はltmeコマンドのツリーを組み立てる。
// サーバー系コマンドは環境変数、クライアント系コマンドは設定ファイルを読む。
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "ltme",
		Short:         "Photo sharing server and terminal client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", clientconfig.DefaultPath(), "client config file")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log debug output to stderr")

	root.AddGroup(
		&cobra.Group{ID: "server", Title: "Server commands:"},
		&cobra.Group{ID: "client", Title: "Client commands:"},
	)

	for _, c := range []*cobra.Command{
		newServeCommand(),
		newWorkerCommand(),
		newMigrateCommand(),
		newHealthcheckCommand(),
	} {
		c.GroupID = "server"
		root.AddCommand(c)
	}

	for _, c := range []*cobra.Command{
		newSignUpCommand(opts),
		newLoginCommand(opts),
		newLogoutCommand(opts),
		newWhoAmICommand(opts),
		newFeedCommand(opts),
		newFollowCommand(opts),
		newSaveCommand(opts),
		newFollowingCommand(opts),
		newSavedCommand(opts),
	} {
		c.GroupID = "client"
		root.AddCommand(c)
	}

	return root
}

// Run はargsでltmeを実行する。argsにはos.Args[1:]を渡す。
func Run(ctx context.Context, args []string) error {
	root := NewRootCommand()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   string(CommandServe),
		Short: "Run the API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := Init(cmd.OutOrStdout())
			if err != nil {
				return fmt.Errorf("initialization failed: %w", err)
			}
			return runServe(cmd.Context(), cfg)
		},
	}
}

func newWorkerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   string(CommandWorker),
		Short: "Run the background cleanup worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := Init(cmd.OutOrStdout())
			if err != nil {
				return fmt.Errorf("initialization failed: %w", err)
			}
			return runWorker(cmd.Context(), cfg)
		},
	}
}

func newMigrateCommand() *cobra.Command {
	var down int
	cmd := &cobra.Command{
		Use:   string(CommandMigrate),
		Short: "Apply or roll back database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if down < 0 {
				return fmt.Errorf("--down must not be negative: %d", down)
			}
			cfg, err := Init(cmd.OutOrStdout())
			if err != nil {
				return fmt.Errorf("initialization failed: %w", err)
			}
			return runMigrate(cfg, down)
		},
	}
	cmd.Flags().IntVar(&down, "down", 0, "roll back this many migrations instead of applying")
	return cmd
}

func newHealthcheckCommand() *cobra.Command {
	var baseURL string
	cmd := &cobra.Command{
		Use:   string(CommandHealthcheck),
		Short: "Check the local API server's /health endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// 軽量サブコマンドのため、フル初期化をスキップする
			if baseURL == "" {
				baseURL = "http://localhost:" + healthcheckPort()
			}
			return runHealthcheck(cmd.Context(), baseURL)
		},
	}
	cmd.Flags().StringVar(&baseURL, "url", "", "server base URL (default http://localhost:$SERVER_PORT)")
	return cmd
}
