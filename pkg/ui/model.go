// Package ui is the zb render loop: a bubbletea program that paints the
// current board snapshot and turns key presses into refreshes and
// mutation intents.
package ui

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/vanderheijden86/zenboard/pkg/config"
	zbdebug "github.com/vanderheijden86/zenboard/pkg/debug"
	"github.com/vanderheijden86/zenboard/pkg/editor"
	"github.com/vanderheijden86/zenboard/pkg/fetch"
	"github.com/vanderheijden86/zenboard/pkg/model"
	"github.com/vanderheijden86/zenboard/pkg/mutation"
	"github.com/vanderheijden86/zenboard/pkg/store"
	"github.com/vanderheijden86/zenboard/pkg/watcher"
)

// Refresher is the part of the fetch scheduler the UI drives.
type Refresher interface {
	RefreshNow()
	Busy() bool
}

// Mutator is the part of the mutation coordinator the UI drives.
type Mutator interface {
	Submit(mutation.Intent) (uint64, error)
	Pending() int
}

// Options wires the model to the rest of the program.
type Options struct {
	Store          *store.Store
	Scheduler      Refresher
	FetchEvents    <-chan fetch.Event
	Mutations      Mutator
	MutationEvents <-chan mutation.Event
	Display        config.DisplayConfig
	Repository     string
	ConfigWatcher  *watcher.Watcher

	// Optional hooks; nil selects the real implementation.
	CopyToClipboard func(string) error
	Getenv          func(string) string
	Now             func() time.Time
	Log             *zbdebug.EventLogger
}

// Model is the bubbletea model. It keeps focus state only and reads the
// store whenever it needs board data.
type Model struct {
	opts  Options
	sub   *store.Subscription
	theme Theme
	keys  KeyMap
	help  help.Model
	spin  spinner.Model

	focus   Focus
	display config.DisplayConfig
	width   int
	height  int
	ready   bool

	fetching bool
	chord    bool
	showHelp bool

	showDetail    bool
	detail        viewport.Model
	md            *glamour.TermRenderer
	detailNumber  model.IssueNumber
	detailVersion uint64

	picker     *huh.Form
	pickerDest *string
	pickerCard model.IssueNumber

	status    string
	statusErr bool
	statusAt  time.Time
}

const detailWidth = 64

// New creates the model and subscribes to the store.
func New(opts Options) Model {
	if opts.CopyToClipboard == nil {
		opts.CopyToClipboard = clipboard.WriteAll
	}
	if opts.Getenv == nil {
		opts.Getenv = os.Getenv
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	md, _ := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(detailWidth-4),
	)

	sp := spinner.New()
	sp.Spinner = spinner.MiniDot
	theme := DefaultTheme(lipgloss.DefaultRenderer())
	sp.Style = theme.PrimaryBold

	return Model{
		opts:    opts,
		sub:     opts.Store.Subscribe(),
		theme:   theme,
		keys:    DefaultKeyMap(),
		help:    help.New(),
		spin:    sp,
		focus:   NewFocus(),
		display: opts.Display,
		detail:  viewport.New(detailWidth, 20),
		md:      md,
	}
}

// Init starts the wait loops for snapshots and events.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		WaitForSnapshotCmd(m.sub),
		WaitForFetchEventCmd(m.opts.FetchEvents),
		WaitForMutationEventCmd(m.opts.MutationEvents),
		WatchConfigCmd(m.opts.ConfigWatcher),
		m.spin.Tick,
	)
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	// The picker form receives every message type for its internal
	// navigation. Keys stop there; everything else continues below so the
	// wait loops stay armed.
	if m.picker != nil {
		var cmd tea.Cmd
		m, cmd = m.updatePicker(msg)
		cmds = append(cmds, cmd)
		if _, isKey := msg.(tea.KeyMsg); isKey {
			return m, tea.Batch(cmds...)
		}
	}

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.ready = true
		m.help.Width = msg.Width
		m.detail.Width = detailWidth
		m.detail.Height = max(msg.Height-4, 3)
		m.syncFocus()
		m.refreshDetail(true)

	case SnapshotMsg:
		m.syncFocus()
		m.refreshDetail(false)
		cmds = append(cmds, WaitForSnapshotCmd(m.sub))

	case subscriptionClosedMsg:

	case FetchEventMsg:
		cmds = append(cmds, m.handleFetchEvent(msg.Event), WaitForFetchEventCmd(m.opts.FetchEvents))

	case MutationEventMsg:
		cmds = append(cmds, m.handleMutationEvent(msg.Event), WaitForMutationEventCmd(m.opts.MutationEvents))

	case ConfigChangedMsg:
		if msg.Err != nil {
			cmds = append(cmds, m.setStatus(fmt.Sprintf("config not reloaded: %v", msg.Err), true))
		} else {
			m.display = msg.Display
			m.syncFocus()
			cmds = append(cmds, m.setStatus("display settings reloaded", false))
		}
		cmds = append(cmds, WatchConfigCmd(m.opts.ConfigWatcher))

	case editorFinishedMsg:
		cmds = append(cmds, m.finishEdit(msg))

	case clearStatusMsg:
		if msg.at.Equal(m.statusAt) {
			m.status = ""
			m.statusErr = false
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		cmds = append(cmds, cmd)

	case tea.KeyMsg:
		var cmd tea.Cmd
		m, cmd = m.handleKey(msg)
		cmds = append(cmds, cmd)

	default:
		if m.showDetail {
			var cmd tea.Cmd
			m.detail, cmd = m.detail.Update(msg)
			cmds = append(cmds, cmd)
		}
	}

	return m, tea.Batch(cmds...)
}

func (m Model) handleKey(msg tea.KeyMsg) (Model, tea.Cmd) {
	if m.chord {
		m.chord = false
		switch {
		case key.Matches(msg, m.keys.ShowAll):
			m.showAll()
			return m, m.setStatus("showing all pipelines", false)
		case key.Matches(msg, m.keys.ChordQuit):
			return m, tea.Quit
		}
		return m, nil
	}

	fr := m.frame()
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Prefix):
		m.chord = true
	case key.Matches(msg, m.keys.Help):
		m.showHelp = !m.showHelp
	case key.Matches(msg, m.keys.Left):
		m.focusColumn(fr, fr.Focused-1)
	case key.Matches(msg, m.keys.Right):
		m.focusColumn(fr, fr.Focused+1)
	case key.Matches(msg, m.keys.Up):
		m.selectRow(fr, func(sel, _ int) int { return sel - 1 })
	case key.Matches(msg, m.keys.Down):
		m.selectRow(fr, func(sel, _ int) int { return sel + 1 })
	case key.Matches(msg, m.keys.First):
		m.selectRow(fr, func(int, int) int { return 0 })
	case key.Matches(msg, m.keys.Last):
		m.selectRow(fr, func(_, total int) int { return total - 1 })
	case key.Matches(msg, m.keys.MovePrev):
		return m, m.moveAcross(fr, -1)
	case key.Matches(msg, m.keys.MoveNext):
		return m, m.moveAcross(fr, +1)
	case key.Matches(msg, m.keys.MoveUp):
		return m, m.moveWithin(fr, -1)
	case key.Matches(msg, m.keys.MoveDown):
		return m, m.moveWithin(fr, +1)
	case key.Matches(msg, m.keys.MoveTo):
		return m.openPicker(fr)
	case key.Matches(msg, m.keys.Edit):
		return m, m.startEdit(fr)
	case key.Matches(msg, m.keys.Hide):
		return m, m.hideFocused(fr)
	case key.Matches(msg, m.keys.Refresh):
		if m.opts.Scheduler != nil {
			m.opts.Scheduler.RefreshNow()
		}
		return m, m.setStatus("refreshing…", false)
	case key.Matches(msg, m.keys.Detail):
		m.showDetail = !m.showDetail
		m.syncFocus()
		m.refreshDetail(true)
		return m, nil
	case key.Matches(msg, m.keys.CopyURL):
		return m, m.copyURL(fr)
	default:
		if m.showDetail {
			var cmd tea.Cmd
			m.detail, cmd = m.detail.Update(msg)
			return m, cmd
		}
		return m, nil
	}
	m.syncFocus()
	m.refreshDetail(false)
	return m, nil
}

// prefs derives frame preferences from the display settings and window.
func (m Model) prefs() Prefs {
	width := m.width
	if m.showDetail {
		width -= detailWidth + 2
	}
	display := m.display
	cardWidth := display.CardWidth
	if cardWidth <= 0 {
		cardWidth = config.DefaultConfig().Display.CardWidth
	}
	return Prefs{
		ShowUnpositioned: display.ShowUnpositioned,
		ShowLabels:       display.ShowLabels,
		CardWidth:        cardWidth,
		Width:            max(width, cardWidth+4),
		Height:           m.height,
		HiddenByName:     display.IsHidden,
	}
}

func (m Model) frame() Frame {
	return BuildFrame(m.opts.Store.Current(), m.focus, m.prefs())
}

func (m *Model) syncFocus() {
	m.focus.Sync(m.frame())
}

func (m *Model) focusColumn(fr Frame, i int) {
	if i < 0 || i >= len(fr.Columns) {
		return
	}
	m.focus.PipelineID = fr.Columns[i].ID
	m.focus.Col = i
}

func (m *Model) selectRow(fr Frame, next func(sel, total int) int) {
	if fr.Focused < 0 {
		return
	}
	col := fr.Columns[fr.Focused]
	if col.Total == 0 {
		return
	}
	row := min(max(next(col.Selected, col.Total), 0), col.Total-1)
	delete(m.focus.Selected, col.ID)
	m.focus.Rows[col.ID] = row
}

func (m *Model) showAll() {
	snap := m.opts.Store.Current()
	for _, p := range snap.Board.Pipelines {
		m.focus.Hidden[p.ID] = false
	}
	m.focus.Hidden[UnpositionedID] = false
}

func (m *Model) hideFocused(fr Frame) tea.Cmd {
	if fr.Focused < 0 {
		return nil
	}
	col := fr.Columns[fr.Focused]
	m.focus.Hidden[col.ID] = true
	m.syncFocus()
	return m.setStatus(fmt.Sprintf("hid %s (ctrl+x ctrl+h shows all)", col.Name), false)
}

// selected returns the focused column and card.
func selected(fr Frame) (Column, CardView, bool) {
	if fr.Focused < 0 {
		return Column{}, CardView{}, false
	}
	col := fr.Columns[fr.Focused]
	card, ok := col.SelectedCard()
	return col, card, ok
}

func (m *Model) submit(intent mutation.Intent) tea.Cmd {
	if m.opts.Mutations == nil {
		return m.setStatus("read-only board", true)
	}
	if _, err := m.opts.Mutations.Submit(intent); err != nil {
		return m.setStatus(fmt.Sprintf("%v: %v", intent, err), true)
	}
	return nil
}

// moveAcross moves the selected card to the top of the neighbouring
// visible pipeline and keeps it selected there.
func (m *Model) moveAcross(fr Frame, dir int) tea.Cmd {
	_, card, ok := selected(fr)
	if !ok {
		return nil
	}
	i := fr.Focused + dir
	if i < 0 || i >= len(fr.Columns) || fr.Columns[i].Unpositioned {
		return nil
	}
	dest := fr.Columns[i]
	cmd := m.submit(mutation.Move{Number: card.Number, PipelineID: dest.ID, Position: 0})
	m.follow(dest.ID, i, card.Number)
	return cmd
}

// moveWithin shifts the selected card one place inside its pipeline.
func (m *Model) moveWithin(fr Frame, dir int) tea.Cmd {
	col, card, ok := selected(fr)
	if !ok || col.Unpositioned {
		return nil
	}
	pos := col.Selected + dir
	if pos < 0 || pos >= col.Total {
		return nil
	}
	cmd := m.submit(mutation.Move{Number: card.Number, PipelineID: col.ID, Position: pos})
	m.syncFocus()
	return cmd
}

func (m *Model) follow(pipelineID string, col int, n model.IssueNumber) {
	m.focus.PipelineID = pipelineID
	m.focus.Col = col
	m.focus.Selected[pipelineID] = n
	m.syncFocus()
}

func (m *Model) copyURL(fr Frame) tea.Cmd {
	_, card, ok := selected(fr)
	if !ok {
		return nil
	}
	c, ok := m.opts.Store.Current().Card(card.Number)
	if !ok || c.URL == "" {
		return m.setStatus(fmt.Sprintf("%s has no url", card.Number), true)
	}
	if err := m.opts.CopyToClipboard(c.URL); err != nil {
		return m.setStatus(fmt.Sprintf("clipboard: %v", err), true)
	}
	return m.setStatus("copied "+c.URL, false)
}

func (m *Model) startEdit(fr Frame) tea.Cmd {
	_, card, ok := selected(fr)
	if !ok {
		return nil
	}
	c, ok := m.opts.Store.Current().Card(card.Number)
	if !ok {
		return nil
	}
	sess, err := editor.Start(editor.Compose(c.Title, c.Body), m.opts.Getenv)
	if err != nil {
		return m.setStatus(err.Error(), true)
	}
	n := c.Number
	return tea.ExecProcess(sess.Cmd(), func(err error) tea.Msg {
		return editorFinishedMsg{number: n, session: sess, err: err}
	})
}

func (m *Model) finishEdit(msg editorFinishedMsg) tea.Cmd {
	text, err := msg.session.Finish(msg.err)
	if errors.Is(err, editor.ErrAborted) {
		return m.setStatus("edit aborted", false)
	}
	if err != nil {
		return m.setStatus(err.Error(), true)
	}
	title, body, err := editor.Split(text)
	if err != nil {
		return m.setStatus(err.Error(), true)
	}
	c, ok := m.opts.Store.Current().Card(msg.number)
	if !ok {
		return m.setStatus(fmt.Sprintf("%s is no longer on the board", msg.number), true)
	}
	edit := mutation.Edit{Number: msg.number}
	if title != c.Title {
		edit.Title = &title
	}
	if body != c.Body {
		edit.Body = &body
	}
	if edit.Title == nil && edit.Body == nil {
		return m.setStatus("edit aborted", false)
	}
	return m.submit(edit)
}

func (m *Model) handleFetchEvent(ev fetch.Event) tea.Cmd {
	switch ev.Kind {
	case fetch.CycleStarted:
		m.fetching = true
	case fetch.CycleFinished:
		m.fetching = false
	case fetch.SourceFailed:
		return m.setStatus(fmt.Sprintf("%s fetch failed: %v", sourceName(ev.Source), ev.Err), true)
	case fetch.SourceStale:
		return m.setStatus(fmt.Sprintf("%s data is stale (last success %s)",
			sourceName(ev.Source), FormatAge(ev.LastSuccess, m.opts.Now())), true)
	case fetch.SourceRecovered:
		return m.setStatus(sourceName(ev.Source)+" recovered", false)
	}
	return nil
}

func (m *Model) handleMutationEvent(ev mutation.Event) tea.Cmd {
	if ev.Kind != mutation.EventRolledBack {
		return nil
	}
	m.opts.Log.Event(zbdebug.LevelInfo, "mutation_rolled_back", map[string]any{
		"seq":    ev.Mutation.Seq,
		"intent": fmt.Sprintf("%v", ev.Mutation.Intent),
		"error":  ev.Mutation.Err,
	})
	m.syncFocus()
	return m.setStatus(fmt.Sprintf("%v failed: %v", ev.Mutation.Intent, ev.Mutation.Err), true)
}

// setStatus shows a message in the status line until statusTTL passes
// or another message replaces it.
func (m *Model) setStatus(text string, isErr bool) tea.Cmd {
	m.status = text
	m.statusErr = isErr
	m.statusAt = m.opts.Now()
	return clearStatusCmd(m.statusAt)
}

func sourceName(s fetch.Source) string {
	switch s {
	case fetch.SourceIssues:
		return "GitHub issues"
	case fetch.SourceBoard:
		return "ZenHub board"
	default:
		return string(s)
	}
}

// pending returns the number of unresolved mutations.
func (m Model) pending() int {
	if m.opts.Mutations == nil {
		return 0
	}
	return m.opts.Mutations.Pending()
}

func (m Model) busy() bool {
	if m.fetching || m.pending() > 0 {
		return true
	}
	return m.opts.Scheduler != nil && m.opts.Scheduler.Busy()
}
