// Package tui は端末上で投稿とアルバムを段組み表示するフィード画面を提供する。
package tui

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/hitoshi/ltme/internal/feed"
	"github.com/hitoshi/ltme/internal/model"
	"github.com/hitoshi/ltme/internal/relation"
)

// cellPixels は端末1桁をピクセル相当に換算する係数。段数の境界判定に使う。
const cellPixels = 8

// relationDebounce はキャッシュ更新の通知をまとめる待ち時間。
const relationDebounce = 50 * time.Millisecond

const (
	whatSave   = "save"
	whatFollow = "follow"
)

// Deps は画面が使う依存。キャッシュはどれもnilでもよい。
type Deps struct {
	Loader    *feed.Loader
	Following *relation.Cache
	Saved     *relation.Cache
	// FollowFilter はフォロー中モードの絞り込み専用のキャッシュ。nilならFollowingを使う。
	// Followingとは別インスタンスで、同じbroadcast.Busを共有して同期する。
	FollowFilter *relation.Cache
	// Viewer はヘッダーに表示する利用者名を返す。未サインインなら空文字。
	Viewer func() string
}

func (d Deps) followFilter() *relation.Cache {
	if d.FollowFilter != nil {
		return d.FollowFilter
	}
	return d.Following
}

// caches は重複を除いたキャッシュの一覧を返す。
func (d Deps) caches() []*relation.Cache {
	var out []*relation.Cache
	for _, c := range []*relation.Cache{d.Following, d.Saved, d.FollowFilter} {
		if c != nil && !slices.Contains(out, c) {
			out = append(out, c)
		}
	}
	return out
}

// Model はフィード画面のbubbletea Model。
type Model struct {
	ctx      context.Context
	deps     Deps
	composer *feed.Composer
	keys     keyMap
	help     help.Model
	search   textinput.Model
	spinner  spinner.Model

	searching bool
	loading   bool
	width     int
	height    int
	col       int
	row       int
	status    string
	err       error

	loadSeq   int
	searchSeq int
	resizeSeq int
}

// New はModelを生成する。最初の読み込みはInitで始まる。
func New(ctx context.Context, deps Deps) Model {
	ti := textinput.New()
	ti.Placeholder = "title or caption"
	ti.Prompt = "/ "
	ti.PromptStyle = lipgloss.NewStyle().Foreground(colorHighlight).Bold(true)
	ti.CharLimit = 100

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(colorHighlight)

	composer := feed.NewComposer()
	if filter := deps.followFilter(); filter != nil {
		composer.SetFollowing(filter.IsMember)
	}

	return Model{
		ctx:      ctx,
		deps:     deps,
		composer: composer,
		keys:     defaultKeyMap(),
		help:     help.New(),
		search:   ti,
		spinner:  s,
		loading:  true,
	}
}

// Init は最初のフィード取得を始める。
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.loadCmd(m.loadSeq, m.composer.Mode(), m.composer.Query()), m.spinner.Tick)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		first := m.width == 0
		m.width, m.height = msg.Width, msg.Height
		m.help.Width = msg.Width
		m.search.Width = msg.Width - 4
		if first {
			m.composer.SetColumns(columnsFor(m.width))
			return m, nil
		}
		m.resizeSeq++
		seq := m.resizeSeq
		return m, tea.Tick(feed.ResizeDebounce, func(time.Time) tea.Msg { return resizeTickMsg{seq: seq} })

	case resizeTickMsg:
		if msg.seq == m.resizeSeq {
			m.composer.SetColumns(columnsFor(m.width))
			m.clampCursor()
		}
		return m, nil

	case searchTickMsg:
		if msg.seq != m.searchSeq {
			return m, nil
		}
		return m, m.applyQuery()

	case feedLoadedMsg:
		if msg.seq != m.loadSeq {
			return m, nil
		}
		m.loading = false
		msg.snap.Apply(m.composer)
		m.err = msg.snap.Err()
		m.clampCursor()
		return m, nil

	case relationsChangedMsg:
		m.composer.FollowingChanged()
		m.clampCursor()
		return m, nil

	case toggledMsg:
		return m, m.handleToggled(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if m.searching {
			return m.handleSearchKey(msg)
		}
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleSearchKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEnter:
		m.searching = false
		m.search.Blur()
		m.searchSeq++
		return m, m.applyQuery()
	case tea.KeyEsc:
		m.searching = false
		m.search.Blur()
		m.search.SetValue("")
		m.searchSeq++
		return m, m.applyQuery()
	case tea.KeyCtrlC:
		return m, tea.Quit
	}

	var cmd tea.Cmd
	m.search, cmd = m.search.Update(msg)
	m.searchSeq++
	seq := m.searchSeq
	return m, tea.Batch(cmd, tea.Tick(feed.SearchDebounce, func(time.Time) tea.Msg { return searchTickMsg{seq: seq} }))
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	m.err = nil

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Mode):
		m.composer.SetMode(m.composer.Mode().Next())
		m.col, m.row = 0, 0
		m.status = ""
		return m, m.reload()

	case key.Matches(msg, m.keys.Search):
		m.searching = true
		return m, m.search.Focus()

	case key.Matches(msg, m.keys.Refresh):
		m.status = "refreshing"
		return m, tea.Batch(m.reload(), m.reloadRelations())

	case key.Matches(msg, m.keys.Save):
		it, ok := m.Selected()
		if !ok {
			return m, nil
		}
		if it.Type != feed.ItemPost {
			m.status = "albums cannot be saved"
			return m, nil
		}
		return m, m.toggleCmd(m.deps.Saved, whatSave, it.ID)

	case key.Matches(msg, m.keys.Follow):
		it, ok := m.Selected()
		if !ok {
			return m, nil
		}
		return m, m.toggleCmd(m.deps.Following, whatFollow, authorID(it))

	case key.Matches(msg, m.keys.Up):
		if m.row > 0 {
			m.row--
		}
	case key.Matches(msg, m.keys.Down):
		m.row++
		m.clampCursor()
	case key.Matches(msg, m.keys.Left):
		if m.col > 0 {
			m.col--
			m.clampCursor()
		}
	case key.Matches(msg, m.keys.Right):
		m.col++
		m.clampCursor()
	}
	return m, nil
}

// applyQuery は入力中の検索語を反映し、必要なら再取得する。
// ModeRecentは検索語を使わないため再取得しない。
func (m *Model) applyQuery() tea.Cmd {
	m.composer.SetQuery(m.search.Value())
	m.col, m.row = 0, 0
	if m.composer.Mode() == feed.ModeRecent {
		return nil
	}
	return m.reload()
}

func (m *Model) reload() tea.Cmd {
	m.loadSeq++
	m.loading = true
	return m.loadCmd(m.loadSeq, m.composer.Mode(), m.composer.Query())
}

func (m Model) loadCmd(seq int, mode feed.Mode, query string) tea.Cmd {
	if m.deps.Loader == nil {
		return nil
	}
	loader, ctx := m.deps.Loader, m.ctx
	return func() tea.Msg {
		return feedLoadedMsg{seq: seq, snap: loader.Load(ctx, mode, query)}
	}
}

func (m Model) reloadRelations() tea.Cmd {
	caches := m.deps.caches()
	ctx := m.ctx
	return func() tea.Msg {
		for _, c := range caches {
			// 失敗はキャッシュのLastErrorに残る
			_ = c.Load(ctx)
		}
		return relationsChangedMsg{}
	}
}

func (m Model) toggleCmd(cache *relation.Cache, what, target string) tea.Cmd {
	if cache == nil {
		return nil
	}
	ctx := m.ctx
	return func() tea.Msg {
		res, err := cache.Toggle(ctx, target)
		return toggledMsg{what: what, target: target, result: res, err: err}
	}
}

// handleToggled は切り替えの結果を反映する。
// フォロー中モードでフォローが変わった場合は、対象の投稿が一覧に入るよう再取得する。
func (m *Model) handleToggled(msg toggledMsg) tea.Cmd {
	if msg.what == whatFollow {
		m.composer.FollowingChanged()
		m.clampCursor()
	}
	if msg.err != nil {
		m.status = ""
		m.err = describeToggleError(msg.what, msg.err)
		return nil
	}
	var cmd tea.Cmd
	if msg.what == whatFollow && m.composer.Mode() == feed.ModeFollowing {
		cmd = m.reload()
	}
	switch {
	case msg.what == whatSave && msg.result.Member:
		m.status = "saved"
	case msg.what == whatSave:
		m.status = "removed from saved"
	case msg.result.Member:
		m.status = "following"
	default:
		m.status = "unfollowed"
	}
	return cmd
}

// describeToggleError は切り替えの失敗を画面向けの文言にする。
func describeToggleError(what string, err error) error {
	var apiErr *model.APIError
	switch {
	case errors.Is(err, relation.ErrNoUser):
		return errors.New("sign in with `ltme login` to " + what)
	case errors.Is(err, relation.ErrSelfTarget):
		return errors.New("you cannot follow yourself")
	case errors.Is(err, relation.ErrPending):
		return errors.New("still working on the previous " + what)
	case errors.Is(err, relation.ErrStale):
		return errors.New("signed-in user changed, try again")
	case errors.As(err, &apiErr):
		return errors.New(apiErr.Message)
	}
	return err
}

// Selected はカーソル位置の項目を返す。
func (m Model) Selected() (feed.Item, bool) {
	cols := m.composer.Columns()
	if m.col >= len(cols) || m.row >= len(cols[m.col]) {
		return feed.Item{}, false
	}
	return cols[m.col][m.row], true
}

func (m *Model) clampCursor() {
	cols := m.composer.Columns()
	if m.col >= len(cols) {
		m.col = len(cols) - 1
	}
	if m.col < 0 {
		m.col = 0
	}
	n := 0
	if m.col < len(cols) {
		n = len(cols[m.col])
	}
	if m.row >= n {
		m.row = n - 1
	}
	if m.row < 0 {
		m.row = 0
	}
}

func authorID(it feed.Item) string {
	if it.Post != nil {
		return it.Post.UserID
	}
	if it.Album != nil {
		return it.Album.UserID
	}
	return ""
}

// columnsFor は端末の桁数から段数を決める。
func columnsFor(width int) int {
	return feed.ColumnsForWidth(width * cellPixels)
}

// Composer はテスト用に内部のComposerを返す。
func (m Model) Composer() *feed.Composer {
	return m.composer
}

// Err は画面に表示中のエラーを返す。
func (m Model) Err() error {
	return m.err
}

// Status は画面に表示中のステータスを返す。
func (m Model) Status() string {
	return m.status
}
