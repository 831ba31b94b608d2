// Package watcher follows the zb settings file and re-reads it whenever its
// content changes, so display settings apply without a restart.
//
// Changes are detected with fsnotify on the file's directory, which also
// catches editors that save by renaming a temporary file over the original.
// Where fsnotify is unavailable, or ZB_FORCE_POLL is set, the file is
// polled instead. Either way a reload is only delivered when the bytes on
// disk differ from the last version read.
package watcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/vanderheijden86/zenboard/pkg/config"
)

const defaultPollInterval = 2 * time.Second

var (
	// ErrFileRemoved is reported once when the settings file disappears.
	// The watcher keeps running and reloads if the file comes back.
	ErrFileRemoved = errors.New("settings file was removed")

	ErrAlreadyStarted = errors.New("watcher already started")
	ErrStopped        = errors.New("watcher stopped")
)

// Reload is the settings file as re-read after a change. Err is set when
// the new content does not parse or validate; Config then holds defaults
// and should not be applied.
type Reload struct {
	Config config.Config
	Err    error
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithOnError sets the callback for watch errors that are not tied to a
// particular reload, such as the file being removed.
func WithOnError(fn func(error)) Option {
	return func(w *Watcher) {
		if fn != nil {
			w.onError = fn
		}
	}
}

// Watcher re-reads one settings file on change.
type Watcher struct {
	path    string
	onError func(error)
	quiet   time.Duration
	poll    time.Duration

	reloads chan Reload

	mu        sync.Mutex
	last      []byte // nil while the file is missing
	present   bool
	polling   bool
	started   bool
	stopped   bool
	cancel    context.CancelFunc
	fsw       *fsnotify.Watcher
	debouncer *Debouncer
	wg        sync.WaitGroup
}

// NewWatcher returns a watcher for the settings file at path. It reads the
// current content as the baseline, so only later edits produce reloads.
func NewWatcher(path string, opts ...Option) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("watcher: %w", err)
	}
	w := &Watcher{
		path:    abs,
		onError: func(error) {},
		quiet:   DefaultDebounceDuration,
		poll:    defaultPollInterval,
		reloads: make(chan Reload, 1),
	}
	for _, opt := range opts {
		opt(w)
	}

	data, err := os.ReadFile(abs)
	switch {
	case err == nil:
		w.last, w.present = data, true
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("watcher: reading %s: %w", abs, err)
	}
	return w, nil
}

// Start begins watching in the background.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch {
	case w.stopped:
		return ErrStopped
	case w.started:
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.debouncer = NewDebouncer(w.quiet)
	w.started = true

	if !forcePoll() {
		if fsw, err := fsnotify.NewWatcher(); err == nil {
			if err := fsw.Add(filepath.Dir(w.path)); err == nil {
				w.fsw = fsw
				w.wg.Add(1)
				go w.followEvents(ctx, fsw)
				return nil
			}
			fsw.Close()
		}
	}

	w.polling = true
	w.wg.Add(1)
	go w.pollLoop(ctx)
	return nil
}

// Stop ends watching and closes the Reloads channel. It is safe to call
// more than once.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	if w.cancel != nil {
		w.cancel()
	}
	if w.fsw != nil {
		w.fsw.Close()
	}
	if w.debouncer != nil {
		w.debouncer.Cancel()
	}
	w.mu.Unlock()

	w.wg.Wait()

	w.mu.Lock()
	close(w.reloads)
	w.mu.Unlock()
}

// Reloads delivers re-read settings. Only the newest pending reload is
// kept. The channel is closed by Stop.
func (w *Watcher) Reloads() <-chan Reload {
	return w.reloads
}

// Path returns the absolute path of the watched file.
func (w *Watcher) Path() string {
	return w.path
}

func (w *Watcher) followEvents(ctx context.Context, fsw *fsnotify.Watcher) {
	defer w.wg.Done()
	name := filepath.Base(w.path)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != name {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
				w.debouncer.Trigger(w.check)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.onError(err)
		}
	}
}

func (w *Watcher) pollLoop(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.check()
		}
	}
}

// check compares the file with the last version read and delivers a
// reload when it differs.
func (w *Watcher) check() {
	data, err := os.ReadFile(w.path)

	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	switch {
	case os.IsNotExist(err):
		wasPresent := w.present
		w.last, w.present = nil, false
		w.mu.Unlock()
		if wasPresent {
			w.onError(ErrFileRemoved)
		}
		return
	case err != nil:
		w.mu.Unlock()
		w.onError(fmt.Errorf("watcher: reading %s: %w", w.path, err))
		return
	case w.present && bytes.Equal(data, w.last):
		w.mu.Unlock()
		return
	}
	w.last, w.present = data, true
	w.mu.Unlock()

	cfg, err := config.LoadFrom(w.path)
	if err == nil {
		err = cfg.Validate()
	}
	w.deliver(Reload{Config: cfg, Err: err})
}

func (w *Watcher) deliver(r Reload) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	for {
		select {
		case w.reloads <- r:
			return
		default:
		}
		select {
		case <-w.reloads:
		default:
		}
	}
}

func forcePoll() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("ZB_FORCE_POLL"))) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
