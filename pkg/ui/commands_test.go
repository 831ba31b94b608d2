package ui

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/vanderheijden86/zenboard/pkg/watcher"
)

func startConfigWatcher(t *testing.T, body string) (*watcher.Watcher, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	w, err := watcher.NewWatcher(path)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(w.Stop)
	return w, path
}

func replaceConfig(t *testing.T, path, body string) {
	t.Helper()
	tmp := path + ".new"
	if err := os.WriteFile(tmp, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}
}

func runCmd(t *testing.T, cmd tea.Cmd) tea.Msg {
	t.Helper()
	if cmd == nil {
		t.Fatal("nil command")
	}
	out := make(chan tea.Msg, 1)
	go func() { out <- cmd() }()
	select {
	case msg := <-out:
		return msg
	case <-time.After(10 * time.Second):
		t.Fatal("command did not return")
		return nil
	}
}

func TestWatchConfigCmd_DeliversDisplaySection(t *testing.T) {
	w, path := startConfigWatcher(t, "display:\n  card_width: 32\n")

	cmd := WatchConfigCmd(w)
	replaceConfig(t, path, "display:\n  card_width: 26\n  hidden_pipelines: [Backlog]\n")

	msg, ok := runCmd(t, cmd).(ConfigChangedMsg)
	if !ok {
		t.Fatalf("expected ConfigChangedMsg, got %T", msg)
	}
	if msg.Err != nil {
		t.Fatalf("reload error: %v", msg.Err)
	}
	if msg.Display.CardWidth != 26 || !msg.Display.IsHidden("Backlog") {
		t.Errorf("display = %+v", msg.Display)
	}

	h := newHarness(t)
	h.send(msg)
	if fr := h.model.frame(); fr.Hidden != 1 {
		t.Errorf("reloaded display not applied, hidden=%d", fr.Hidden)
	}
}

func TestWatchConfigCmd_InvalidFileNamesIt(t *testing.T) {
	w, path := startConfigWatcher(t, "display:\n  card_width: 32\n")

	cmd := WatchConfigCmd(w)
	replaceConfig(t, path, "display:\n  card_width: 2\n")

	msg := runCmd(t, cmd).(ConfigChangedMsg)
	if msg.Err == nil || !strings.Contains(msg.Err.Error(), "config.yaml") {
		t.Errorf("err = %v", msg.Err)
	}
}

func TestWatchConfigCmd_StoppedWatcher(t *testing.T) {
	if WatchConfigCmd(nil) != nil {
		t.Error("nil watcher should yield no command")
	}
	w, _ := startConfigWatcher(t, "display:\n  card_width: 32\n")
	cmd := WatchConfigCmd(w)
	w.Stop()
	if msg := runCmd(t, cmd); msg != nil {
		t.Errorf("stopped watcher produced %T", msg)
	}
}
