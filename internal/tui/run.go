package tui

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/hitoshi/ltme/internal/feed"
)

// Run はフィード画面を起動し、終了するまでブロックする。
// 関係キャッシュの更新はまとめてから画面へ送る。
func Run(ctx context.Context, deps Deps) error {
	program := tea.NewProgram(New(ctx, deps), tea.WithAltScreen(), tea.WithContext(ctx))

	d := feed.NewDebouncer(relationDebounce)
	defer d.Stop()
	notify := func() {
		d.Trigger(func() { program.Send(relationsChangedMsg{}) })
	}
	for _, c := range deps.caches() {
		defer c.OnUpdate(notify)()
	}

	if _, err := program.Run(); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("feed screen: %w", err)
	}
	return nil
}
