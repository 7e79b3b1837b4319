// Command ltme はLTMEのAPIサーバー・ワーカーと端末クライアントを1つにまとめたバイナリ。
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hitoshi/ltme/internal/app"
)

func main() {
	// SIGINT/SIGTERMでctxをキャンセルし、各コマンドのグレースフルシャットダウンに任せる
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "ltme:", err)
		stop()
		os.Exit(1)
	}
}
