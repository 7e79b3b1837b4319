package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/hitoshi/ltme/internal/feed"
)

// View は画面を描画する。
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	parts := []string{m.renderHeader()}
	if m.searching || m.search.Value() != "" {
		parts = append(parts, m.search.View())
	}
	status := m.renderStatus()

	used := 0
	for _, p := range parts {
		used += lipgloss.Height(p)
	}
	used += lipgloss.Height(status)

	parts = append(parts, m.renderGrid(m.height-used), status)
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m Model) renderHeader() string {
	tabs := make([]string, 0, len(feed.Modes)+1)
	tabs = append(tabs, headerStyle.Render("LTME"))
	current := m.composer.Mode()
	for _, mode := range feed.Modes {
		if mode == current {
			tabs = append(tabs, activeTabStyle.Render(string(mode)))
		} else {
			tabs = append(tabs, tabStyle.Render(string(mode)))
		}
	}
	left := lipgloss.JoinHorizontal(lipgloss.Top, tabs...)

	viewer := "not signed in"
	if m.deps.Viewer != nil {
		if v := m.deps.Viewer(); v != "" {
			viewer = v
		}
	}
	right := cardMetaStyle.Render(viewer)

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		gap = 1
	}
	return left + strings.Repeat(" ", gap) + right
}

func (m Model) renderGrid(height int) string {
	if height < 1 {
		return ""
	}
	cols := m.composer.Columns()
	if len(m.composer.Items()) == 0 {
		msg := "Nothing here yet."
		switch {
		case m.loading:
			msg = "Loading feed..."
		case m.composer.Mode() == feed.ModeFollowing:
			msg = "No posts from people you follow. Press f on a post to follow its author."
		case m.composer.Query() != "":
			msg = fmt.Sprintf("No results for %q.", m.composer.Query())
		}
		return lipgloss.NewStyle().Height(height).Render(emptyStyle.Render(msg))
	}

	colWidth := m.width / len(cols)
	if colWidth < 12 {
		colWidth = 12
	}
	// 選択中の行が見えるように全段を同じ行数だけ送る
	offset := 0
	if m.row > 1 {
		offset = m.row - 1
	}

	now := time.Now()
	rendered := make([]string, len(cols))
	for c, col := range cols {
		cards := make([]string, 0, len(col))
		for r := offset; r < len(col); r++ {
			selected := c == m.col && r == m.row
			cards = append(cards, m.renderCard(col[r], colWidth, selected, now))
		}
		rendered[c] = lipgloss.NewStyle().Width(colWidth).Render(lipgloss.JoinVertical(lipgloss.Left, cards...))
	}

	grid := lipgloss.JoinHorizontal(lipgloss.Top, rendered...)
	lines := strings.Split(grid, "\n")
	if len(lines) > height {
		lines = lines[:height]
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderCard(it feed.Item, width int, selected bool, now time.Time) string {
	style := cardStyle
	if selected {
		style = selectedCardStyle
	}
	// 枠線の2桁を除いた幅
	inner := width - 2
	if inner < 4 {
		inner = 4
	}
	textWidth := inner - 2

	var lines []string
	switch it.Type {
	case feed.ItemAlbum:
		a := it.Album
		lines = append(lines,
			albumBadgeStyle.Render("ALBUM ")+cardTitleStyle.Render(truncate(orUntitled(a.Title), textWidth-6)),
			cardMetaStyle.Render(truncate(byline(a.Username, a.CreatedAt, now)+fmt.Sprintf(" · %d posts", a.PostCount), textWidth)),
		)
		if a.Description != "" {
			lines = append(lines, truncate(firstLine(a.Description), textWidth))
		}
		if m.isFollowing(a.UserID) {
			lines = append(lines, followingBadgeStyle.Render("following"))
		}
	default:
		p := it.Post
		lines = append(lines,
			cardTitleStyle.Render(truncate(orUntitled(p.Title), textWidth)),
			cardMetaStyle.Render(truncate(byline(p.Username, p.CreatedAt, now), textWidth)),
		)
		if p.Caption != "" {
			lines = append(lines, truncate(firstLine(p.Caption), textWidth))
		}
		if p.AudioName != "" {
			lines = append(lines, cardMetaStyle.Render(truncate("♪ "+p.AudioName, textWidth)))
		}
		var badges []string
		if m.deps.Saved != nil && m.deps.Saved.IsMember(p.ID) {
			badges = append(badges, savedBadgeStyle.Render("saved"))
		}
		if m.isFollowing(p.UserID) {
			badges = append(badges, followingBadgeStyle.Render("following"))
		}
		if len(badges) > 0 {
			lines = append(lines, strings.Join(badges, " "))
		}
	}
	return style.Width(inner).Render(strings.Join(lines, "\n"))
}

func (m Model) isFollowing(userID string) bool {
	return m.deps.Following != nil && m.deps.Following.IsMember(userID)
}

func (m Model) renderStatus() string {
	var left string
	switch {
	case m.err != nil:
		left = errorStyle.Render("Error: " + m.err.Error())
	case m.loading:
		left = m.spinner.View() + " loading"
	case m.status != "":
		left = m.status
	default:
		left = fmt.Sprintf("%d items", len(m.composer.Items()))
	}
	if m.deps.Following != nil && m.deps.Following.LastError() != nil {
		left += "  (following list unavailable)"
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		statusBarStyle.Width(m.width).Render(left),
		m.help.View(m.keys),
	)
}

func byline(username string, at, now time.Time) string {
	name := "@unknown"
	if username != "" {
		name = "@" + username
	}
	if ago := relativeTime(at, now); ago != "" {
		return name + " · " + ago
	}
	return name
}

// relativeTime は経過時間を短い表記にする。ゼロ値は空文字。
func relativeTime(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d/time.Minute))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d/time.Hour))
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d/(24*time.Hour)))
	}
	return t.Format("2006-01-02")
}

func orUntitled(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(untitled)"
	}
	return s
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// truncate は表示幅がwidthを超える場合に末尾を省略する。
func truncate(s string, width int) string {
	if width <= 0 {
		return ""
	}
	if lipgloss.Width(s) <= width {
		return s
	}
	runes := []rune(s)
	for len(runes) > 0 && lipgloss.Width(string(runes))+1 > width {
		runes = runes[:len(runes)-1]
	}
	return string(runes) + "…"
}
