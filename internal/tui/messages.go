package tui

import (
	"github.com/hitoshi/ltme/internal/feed"
	"github.com/hitoshi/ltme/internal/relation"
)

// feedLoadedMsg はフィードの取得結果。
type feedLoadedMsg struct {
	seq  int
	snap feed.Snapshot
}

// relationsChangedMsg は関係キャッシュが更新されたことを知らせる。
type relationsChangedMsg struct{}

// toggledMsg は保存・フォローの切り替え結果。
type toggledMsg struct {
	what   string
	target string
	result relation.Result
	err    error
}

// searchTickMsg は検索語の入力が落ち着いたことを知らせる。
type searchTickMsg struct{ seq int }

// resizeTickMsg は端末サイズの変更が落ち着いたことを知らせる。
type resizeTickMsg struct{ seq int }
