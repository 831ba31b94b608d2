package ui

import (
	"fmt"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/vanderheijden86/zenboard/pkg/config"
	"github.com/vanderheijden86/zenboard/pkg/editor"
	"github.com/vanderheijden86/zenboard/pkg/fetch"
	"github.com/vanderheijden86/zenboard/pkg/model"
	"github.com/vanderheijden86/zenboard/pkg/mutation"
	"github.com/vanderheijden86/zenboard/pkg/store"
	"github.com/vanderheijden86/zenboard/pkg/watcher"
)

// SnapshotMsg announces that the store holds a newer snapshot. It carries
// only the version; the model reads store.Current() when it needs data.
type SnapshotMsg struct {
	Version uint64
}

// subscriptionClosedMsg ends the snapshot wait loop.
type subscriptionClosedMsg struct{}

// FetchEventMsg wraps a scheduler event.
type FetchEventMsg struct {
	Event fetch.Event
}

// MutationEventMsg wraps a mutation coordinator event.
type MutationEventMsg struct {
	Event mutation.Event
}

// ConfigChangedMsg carries display settings re-read after the config file
// changed on disk.
type ConfigChangedMsg struct {
	Display config.DisplayConfig
	Err     error
}

// editorFinishedMsg is sent when the external editor exits.
type editorFinishedMsg struct {
	number  model.IssueNumber
	session *editor.Session
	err     error
}

// clearStatusMsg expires the status message set at the given time.
type clearStatusMsg struct {
	at time.Time
}

// statusTTL is how long an error or notice stays in the status line.
const statusTTL = 8 * time.Second

// WaitForSnapshotCmd blocks until the subscription delivers a snapshot.
func WaitForSnapshotCmd(sub *store.Subscription) tea.Cmd {
	return func() tea.Msg {
		snap, ok := <-sub.C()
		if !ok {
			return subscriptionClosedMsg{}
		}
		return SnapshotMsg{Version: snap.Version}
	}
}

// WaitForFetchEventCmd waits for the next scheduler event.
func WaitForFetchEventCmd(ch <-chan fetch.Event) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return nil
		}
		return FetchEventMsg{Event: ev}
	}
}

// WaitForMutationEventCmd waits for the next mutation event.
func WaitForMutationEventCmd(ch <-chan mutation.Event) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return nil
		}
		return MutationEventMsg{Event: ev}
	}
}

// WatchConfigCmd waits for the next settings reload and hands its display
// section to the model. It returns nil once the watcher is stopped.
func WatchConfigCmd(w *watcher.Watcher) tea.Cmd {
	if w == nil {
		return nil
	}
	return func() tea.Msg {
		r, ok := <-w.Reloads()
		if !ok {
			return nil
		}
		if r.Err != nil {
			return ConfigChangedMsg{Err: fmt.Errorf("%s: %w", filepath.Base(w.Path()), r.Err)}
		}
		return ConfigChangedMsg{Display: r.Config.Display}
	}
}

func clearStatusCmd(at time.Time) tea.Cmd {
	return tea.Tick(statusTTL, func(time.Time) tea.Msg {
		return clearStatusMsg{at: at}
	})
}
