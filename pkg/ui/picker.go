package ui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"

	"github.com/vanderheijden86/zenboard/pkg/mutation"
)

// openPicker asks for a destination pipeline for the selected card. Every
// pipeline is offered, hidden ones included.
func (m Model) openPicker(fr Frame) (Model, tea.Cmd) {
	col, card, ok := selected(fr)
	if !ok {
		return m, nil
	}
	snap := m.opts.Store.Current()
	var opts []huh.Option[string]
	for _, p := range snap.Board.Pipelines {
		if p.ID == col.ID {
			continue
		}
		opts = append(opts, huh.NewOption(fmt.Sprintf("%s (%d)", p.Name, len(p.Cards)), p.ID))
	}
	if len(opts) == 0 {
		return m, m.setStatus("no other pipeline to move to", true)
	}

	dest := new(string)
	keys := huh.NewDefaultKeyMap()
	keys.Quit = key.NewBinding(key.WithKeys("esc", "ctrl+c"))

	m.pickerDest = dest
	m.pickerCard = card.Number
	m.picker = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title(fmt.Sprintf("Move %s to", card.Number)).
				Options(opts...).
				Value(dest),
		),
	).WithTheme(huh.ThemeDracula()).
		WithKeyMap(keys).
		WithShowHelp(false).
		WithWidth(detailWidth - 4)
	return m, m.picker.Init()
}

// updatePicker forwards msg to the picker and submits the move once the
// form completes.
func (m Model) updatePicker(msg tea.Msg) (Model, tea.Cmd) {
	next, cmd := m.picker.Update(msg)
	if f, ok := next.(*huh.Form); ok {
		m.picker = f
	}

	switch m.picker.State {
	case huh.StateCompleted:
		dest, n := *m.pickerDest, m.pickerCard
		m.closePicker()
		submitCmd := m.submit(mutation.Move{Number: n, PipelineID: dest, Position: 0})
		fr := m.frame()
		col := -1
		for i, c := range fr.Columns {
			if c.ID == dest {
				col = i
			}
		}
		if col >= 0 {
			m.follow(dest, col, n)
		}
		return m, submitCmd
	case huh.StateAborted:
		m.closePicker()
		return m, nil
	}
	return m, cmd
}

func (m *Model) closePicker() {
	m.picker = nil
	m.pickerDest = nil
	m.pickerCard = 0
}
