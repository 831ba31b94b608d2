package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"

	"github.com/vanderheijden86/zenboard/internal/recordcache"
	"github.com/vanderheijden86/zenboard/pkg/config"
	"github.com/vanderheijden86/zenboard/pkg/credentials"
	zbdebug "github.com/vanderheijden86/zenboard/pkg/debug"
	"github.com/vanderheijden86/zenboard/pkg/export"
	"github.com/vanderheijden86/zenboard/pkg/fetch"
	"github.com/vanderheijden86/zenboard/pkg/github"
	"github.com/vanderheijden86/zenboard/pkg/metrics"
	"github.com/vanderheijden86/zenboard/pkg/model"
	"github.com/vanderheijden86/zenboard/pkg/mutation"
	"github.com/vanderheijden86/zenboard/pkg/store"
	"github.com/vanderheijden86/zenboard/pkg/ui"
	"github.com/vanderheijden86/zenboard/pkg/version"
	"github.com/vanderheijden86/zenboard/pkg/watcher"
	"github.com/vanderheijden86/zenboard/pkg/zenhub"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

// options holds the parsed command line.
type options struct {
	configPath     string
	githubToken    string
	zenhubToken    string
	logEnabled     bool
	logFile        string
	refresh        time.Duration
	noCache        bool
	exportPath     string
	metrics        bool
	showVersion    bool
	createSettings bool
	repository     string
}

type usageError struct{ msg string }

func (e *usageError) Error() string { return e.msg }

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	opts, err := parseArgs(args, stderr)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintf(stderr, "zb: %v\n", err)
		return exitUsage
	}

	if opts.showVersion {
		fmt.Fprintf(stdout, "zb %s\n", version.Version)
		return exitOK
	}

	if opts.createSettings {
		created, err := config.CreateDefault(opts.configPath)
		if err != nil {
			fmt.Fprintf(stderr, "zb: %v\n", err)
			return exitError
		}
		if created {
			fmt.Fprintf(stdout, "Wrote default settings to %s\n", opts.configPath)
		} else {
			fmt.Fprintf(stdout, "Settings already exist at %s\n", opts.configPath)
		}
		return exitOK
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		var uerr *usageError
		if errors.As(err, &uerr) {
			fmt.Fprintf(stderr, "zb: %v\n\nUsage: zb [options] owner/repo\n", err)
			return exitUsage
		}
		fmt.Fprintf(stderr, "zb: %v\n", err)
		return exitError
	}

	closeLog, err := setupLogging(opts)
	if err != nil {
		fmt.Fprintf(stderr, "zb: %v\n", err)
		return exitError
	}
	defer closeLog()

	metrics.SetEnabled(opts.metrics)
	if opts.metrics {
		defer func() {
			if err := metrics.WriteSummary(stderr); err != nil {
				fmt.Fprintf(stderr, "zb: writing metrics: %v\n", err)
			}
		}()
	}

	if err := runBoard(cfg, opts, stdout); err != nil {
		fmt.Fprintf(stderr, "zb: %v\n", err)
		return exitError
	}
	return exitOK
}

func parseArgs(args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := pflag.NewFlagSet("zb", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: zb [options] owner/repo")
		fmt.Fprintln(stderr, "\nA terminal board for GitHub issues arranged by ZenHub pipelines.")
		fmt.Fprintln(stderr, "\nOptions:")
		fs.PrintDefaults()
	}

	fs.StringVar(&opts.configPath, "config", config.ConfigPath(), "Path to the configuration file")
	fs.StringVar(&opts.githubToken, "github-token", "", "GitHub token (stored in the keyring)")
	fs.StringVar(&opts.zenhubToken, "zenhub-token", "", "ZenHub token (stored in the keyring)")
	fs.BoolVar(&opts.logEnabled, "log", false, "Write logs to zb.log in the state directory")
	fs.StringVar(&opts.logFile, "log-file", "", "Write logs to this file (implies --log)")
	fs.DurationVar(&opts.refresh, "refresh", 0, "Refresh interval (overrides refresh_interval)")
	fs.BoolVar(&opts.noCache, "no-cache", false, "Do not read or write the local record cache")
	fs.StringVar(&opts.exportPath, "export-svg", "", "Fetch once, write the board to this file (.svg, .png or .md) and exit")
	fs.BoolVar(&opts.metrics, "metrics", false, "Print timing metrics as JSON to stderr on exit")
	fs.BoolVar(&opts.showVersion, "version", false, "Show version")
	fs.BoolVar(&opts.createSettings, "create-settings", false, "Write the default configuration file and exit")

	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	switch fs.NArg() {
	case 0:
	case 1:
		opts.repository = fs.Arg(0)
	default:
		return opts, fmt.Errorf("expected one repository argument, got %d", fs.NArg())
	}
	if opts.refresh < 0 {
		return opts, fmt.Errorf("--refresh must not be negative")
	}
	if opts.logFile != "" {
		opts.logEnabled = true
	}
	if opts.configPath == "" {
		return opts, fmt.Errorf("no configuration path; set --config or HOME")
	}
	return opts, nil
}

// loadConfig reads the configuration file and applies command line
// overrides.
func loadConfig(opts options) (config.Config, error) {
	cfg, err := config.LoadFrom(opts.configPath)
	if err != nil {
		return cfg, err
	}
	if opts.repository != "" {
		cfg.Repository = opts.repository
	}
	if opts.refresh > 0 {
		cfg.RefreshInterval = opts.refresh
	}
	if opts.noCache {
		cfg.Cache.Enabled = false
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	if cfg.Repository == "" {
		return cfg, &usageError{msg: "no repository given"}
	}
	return cfg, nil
}

// setupLogging points the standard logger and the debug logger at the log
// file, or discards their output. The terminal belongs to the board.
func setupLogging(opts options) (func(), error) {
	if !opts.logEnabled {
		log.SetOutput(io.Discard)
		zbdebug.SetOutput(io.Discard)
		return func() {}, nil
	}
	path := opts.logFile
	if path == "" {
		path = config.LogPath()
	}
	if path == "" {
		return nil, fmt.Errorf("no log path; set --log-file")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	log.SetOutput(f)
	log.SetFlags(0)
	zbdebug.SetOutput(f)
	return func() { _ = f.Close() }, nil
}

// services builds the issue and board clients after resolving tokens.
func services(cfg config.Config, opts options) (*github.Client, *zenhub.Client, error) {
	resolver := credentials.NewResolver()
	ghToken, ghOrigin, err := resolver.Resolve(credentials.GitHub, opts.githubToken)
	if err != nil {
		return nil, nil, fmt.Errorf("GitHub token: %w", err)
	}
	zhToken, zhOrigin, err := resolver.Resolve(credentials.ZenHub, opts.zenhubToken)
	if err != nil {
		return nil, nil, fmt.Errorf("ZenHub token: %w", err)
	}
	zbdebug.Log("tokens: github from %s, zenhub from %s", ghOrigin, zhOrigin)

	gh, err := github.NewClient(github.Config{
		BaseURL:    cfg.GitHub.BaseURL,
		Token:      ghToken,
		Repository: cfg.Repository,
		State:      cfg.Issues.State,
		Log:        zbdebug.NewEventLogger("github"),
	})
	if err != nil {
		return nil, nil, err
	}
	zh, err := zenhub.NewClient(zenhub.Config{
		BaseURL:       cfg.ZenHub.BaseURL,
		Token:         zhToken,
		RepoID:        cfg.ZenHub.RepoID,
		ResolveRepoID: gh.RepositoryID,
		ResolveEpics:  cfg.ZenHub.ResolveEpics,
		Log:           zbdebug.NewEventLogger("zenhub"),
	})
	if err != nil {
		return nil, nil, err
	}
	return gh, zh, nil
}

func schedulerConfig(cfg config.Config, gh *github.Client, zh *zenhub.Client, sink fetch.Sink) fetch.Config {
	fc := fetch.DefaultConfig()
	fc.Issues = gh
	fc.Board = zh
	fc.Sink = sink
	fc.Interval = cfg.RefreshInterval
	fc.StaleAfter = cfg.StaleAfter
	fc.Retry = fetch.RetryPolicy{
		MaxAttempts:    cfg.Retry.MaxAttempts,
		InitialBackoff: cfg.Retry.InitialBackoff,
		MaxBackoff:     cfg.Retry.MaxBackoff,
	}
	fc.Incremental = cfg.Issues.Incremental
	fc.FullRefreshEvery = cfg.Issues.FullRefreshEvery
	fc.DropClosed = cfg.Issues.State == "open"
	fc.Log = zbdebug.NewEventLogger("fetch")
	return fc
}

// openCache opens the record cache when enabled. Failures only cost the
// warm start.
func openCache(cfg config.Config) *recordcache.Cache {
	if !cfg.Cache.Enabled {
		return nil
	}
	path := cfg.CachePath()
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		log.Printf("record cache disabled: %v", err)
		return nil
	}
	c, err := recordcache.Open(path, cfg.Repository)
	if err != nil {
		log.Printf("record cache disabled: %v", err)
		return nil
	}
	return c
}

func runBoard(cfg config.Config, opts options, stdout io.Writer) error {
	gh, zh, err := services(cfg, opts)
	if err != nil {
		return err
	}

	if opts.exportPath != "" {
		return exportBoard(cfg, opts.exportPath, gh, zh, stdout)
	}

	st := store.New()
	defer st.Close()

	// Confirmed mutations trigger a refresh. The scheduler is created
	// after the coordinator because the coordinator is its sink.
	var sched *fetch.Scheduler
	coord, err := mutation.New(mutation.Config{
		Store:  st,
		Issues: gh,
		Board:  zh,
		OnConfirmed: func() {
			if sched != nil {
				sched.RefreshNow()
			}
		},
		Log: zbdebug.NewEventLogger("mutation"),
	})
	if err != nil {
		return err
	}
	defer coord.Stop()

	fc := schedulerConfig(cfg, gh, zh, coord)
	cache := openCache(cfg)
	if cache != nil {
		defer cache.Close()
		fc.Cache = cache
	}
	sched, err = fetch.New(fc)
	if err != nil {
		return err
	}

	if cache != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		warm, err := cache.Load(ctx)
		cancel()
		switch {
		case err != nil:
			log.Printf("record cache load failed: %v", err)
		case !warm.Empty():
			sched.Warm(warm.Issues, warm.IssuesAt, warm.Board, warm.BoardAt)
		}
	}

	cfgWatcher := watchConfig(opts.configPath)
	if cfgWatcher != nil {
		defer cfgWatcher.Stop()
	}

	if err := sched.Start(); err != nil {
		return err
	}
	defer sched.Stop()

	m := ui.New(ui.Options{
		Store:          st,
		Scheduler:      sched,
		FetchEvents:    sched.Events(),
		Mutations:      coord,
		MutationEvents: coord.Events(),
		Display:        cfg.Display,
		Repository:     cfg.Repository,
		ConfigWatcher:  cfgWatcher,
		Log:            zbdebug.NewEventLogger("ui"),
	})
	p := tea.NewProgram(m, tea.WithAltScreen())

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		if _, ok := <-sigs; ok {
			p.Quit()
		}
	}()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("running board: %w", err)
	}
	return nil
}

// watchConfig follows the configuration file so display settings apply
// without a restart. A missing file is not watched.
func watchConfig(path string) *watcher.Watcher {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	w, err := watcher.NewWatcher(path,
		watcher.WithOnError(func(err error) { log.Printf("config watcher: %v", err) }),
	)
	if err != nil {
		log.Printf("config watcher disabled: %v", err)
		return nil
	}
	if err := w.Start(); err != nil {
		log.Printf("config watcher disabled: %v", err)
		return nil
	}
	return w
}

// exportBoard runs a single fetch cycle and writes the board image.
func exportBoard(cfg config.Config, path string, gh *github.Client, zh *zenhub.Client, stdout io.Writer) error {
	st := store.New()
	defer st.Close()

	sink := fetch.SinkFunc(func(base *model.Snapshot) { st.Publish(base) })
	fc := schedulerConfig(cfg, gh, zh, sink)
	fc.Interval = 0
	sched, err := fetch.New(fc)
	if err != nil {
		return err
	}
	defer sched.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := sched.RunOnce(ctx); err != nil {
		return fmt.Errorf("fetching board: %w", err)
	}

	err = export.SaveBoardSnapshot(export.BoardSnapshotOptions{
		Path:             path,
		Title:            cfg.Repository,
		Snapshot:         st.Current(),
		Hidden:           cfg.Display.IsHidden,
		ShowUnpositioned: cfg.Display.ShowUnpositioned,
	})
	if err != nil {
		return fmt.Errorf("exporting board: %w", err)
	}
	fmt.Fprintf(stdout, "Wrote %s board to %s\n", cfg.Repository, strings.TrimSpace(path))
	return nil
}
