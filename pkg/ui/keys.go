package ui

import "github.com/charmbracelet/bubbles/key"

// KeyMap holds the board key bindings.
type KeyMap struct {
	Left     key.Binding
	Right    key.Binding
	Up       key.Binding
	Down     key.Binding
	First    key.Binding
	Last     key.Binding
	MovePrev key.Binding
	MoveNext key.Binding
	MoveUp   key.Binding
	MoveDown key.Binding
	MoveTo   key.Binding
	Edit     key.Binding
	Hide     key.Binding
	Prefix   key.Binding
	Refresh  key.Binding
	Detail   key.Binding
	CopyURL  key.Binding
	Help     key.Binding
	Quit     key.Binding

	// Second keys of the ctrl+x chords.
	ShowAll   key.Binding
	ChordQuit key.Binding
}

// DefaultKeyMap returns the standard bindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Left:     key.NewBinding(key.WithKeys("h", "left"), key.WithHelp("h/←", "prev pipeline")),
		Right:    key.NewBinding(key.WithKeys("l", "right"), key.WithHelp("l/→", "next pipeline")),
		Up:       key.NewBinding(key.WithKeys("k", "up"), key.WithHelp("k/↑", "up")),
		Down:     key.NewBinding(key.WithKeys("j", "down"), key.WithHelp("j/↓", "down")),
		First:    key.NewBinding(key.WithKeys("g", "home"), key.WithHelp("g", "first card")),
		Last:     key.NewBinding(key.WithKeys("G", "end"), key.WithHelp("G", "last card")),
		MovePrev: key.NewBinding(key.WithKeys("H", "shift+left"), key.WithHelp("H", "move to prev pipeline")),
		MoveNext: key.NewBinding(key.WithKeys("L", "shift+right"), key.WithHelp("L", "move to next pipeline")),
		MoveUp:   key.NewBinding(key.WithKeys("K", "shift+up"), key.WithHelp("K", "move card up")),
		MoveDown: key.NewBinding(key.WithKeys("J", "shift+down"), key.WithHelp("J", "move card down")),
		MoveTo:   key.NewBinding(key.WithKeys("m"), key.WithHelp("m", "move to…")),
		Edit:     key.NewBinding(key.WithKeys("enter", "e"), key.WithHelp("e/enter", "edit in $EDITOR")),
		Hide:     key.NewBinding(key.WithKeys("ctrl+h"), key.WithHelp("ctrl+h", "hide pipeline")),
		Prefix:   key.NewBinding(key.WithKeys("ctrl+x"), key.WithHelp("ctrl+x ctrl+h", "show all pipelines")),
		Refresh:  key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
		Detail:   key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "details")),
		CopyURL:  key.NewBinding(key.WithKeys("y"), key.WithHelp("y", "copy url")),
		Help:     key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
		Quit:     key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),

		ShowAll:   key.NewBinding(key.WithKeys("ctrl+h")),
		ChordQuit: key.NewBinding(key.WithKeys("ctrl+c")),
	}
}

// ShortHelp implements help.KeyMap.
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Left, k.Down, k.MoveNext, k.MoveTo, k.Edit, k.Refresh, k.Help, k.Quit}
}

// FullHelp implements help.KeyMap.
func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Left, k.Right, k.Up, k.Down, k.First, k.Last},
		{k.MovePrev, k.MoveNext, k.MoveUp, k.MoveDown, k.MoveTo, k.Edit},
		{k.Hide, k.Prefix, k.Refresh, k.Detail, k.CopyURL, k.Help, k.Quit},
	}
}
