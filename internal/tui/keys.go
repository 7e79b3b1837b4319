package tui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Up      key.Binding
	Down    key.Binding
	Left    key.Binding
	Right   key.Binding
	Mode    key.Binding
	Search  key.Binding
	Save    key.Binding
	Follow  key.Binding
	Refresh key.Binding
	Quit    key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Up:      key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
		Down:    key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
		Left:    key.NewBinding(key.WithKeys("left", "h"), key.WithHelp("←/h", "left")),
		Right:   key.NewBinding(key.WithKeys("right", "l"), key.WithHelp("→/l", "right")),
		Mode:    key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "mode")),
		Search:  key.NewBinding(key.WithKeys("/"), key.WithHelp("/", "search")),
		Save:    key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "save")),
		Follow:  key.NewBinding(key.WithKeys("f"), key.WithHelp("f", "follow")),
		Refresh: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
		Quit:    key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

// ShortHelp はhelp.KeyMapを実装する。
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Mode, k.Search, k.Save, k.Follow, k.Refresh, k.Quit}
}

// FullHelp はhelp.KeyMapを実装する。
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Left, k.Right},
		{k.Mode, k.Search, k.Save, k.Follow, k.Refresh, k.Quit},
	}
}
