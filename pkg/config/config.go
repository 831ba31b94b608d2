// Package config handles loading and saving zb configuration.
//
// Configuration follows the XDG Base Directory specification:
//   - Config:  ~/.config/zb/config.yaml
//   - Data:    ~/.local/share/zb/ (record cache)
//   - State:   ~/.local/state/zb/ (log file)
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vanderheijden86/zenboard/pkg/github"
	"github.com/vanderheijden86/zenboard/pkg/zenhub"
)

const appName = "zb"

// GitHubConfig holds issue tracker settings.
type GitHubConfig struct {
	BaseURL string `yaml:"base_url,omitempty"`
}

// ZenHubConfig holds board service settings.
type ZenHubConfig struct {
	BaseURL      string `yaml:"base_url,omitempty"`
	RepoID       int64  `yaml:"repo_id,omitempty"`       // 0 = resolve through GitHub
	ResolveEpics bool   `yaml:"resolve_epics,omitempty"` // one extra request per epic
}

// RetryConfig bounds retries of failed fetches.
type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// IssuesConfig controls how issues are listed.
type IssuesConfig struct {
	State            string `yaml:"state"` // open, closed, all
	Incremental      bool   `yaml:"incremental"`
	FullRefreshEvery int    `yaml:"full_refresh_every"`
}

// DisplayConfig holds UI preference settings.
type DisplayConfig struct {
	HiddenPipelines  []string `yaml:"hidden_pipelines,omitempty"` // pipeline names
	ShowUnpositioned bool     `yaml:"show_unpositioned"`
	ShowLabels       bool     `yaml:"show_labels"`
	CardWidth        int      `yaml:"card_width"`
}

// CacheConfig controls the local record cache used for warm starts.
type CacheConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path,omitempty"` // default: DataDir()/records.db
}

// Config is the top-level configuration for zb.
type Config struct {
	Repository      string        `yaml:"repository,omitempty"` // owner/name
	GitHub          GitHubConfig  `yaml:"github,omitempty"`
	ZenHub          ZenHubConfig  `yaml:"zenhub,omitempty"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	StaleAfter      time.Duration `yaml:"stale_after"`
	Retry           RetryConfig   `yaml:"retry"`
	Issues          IssuesConfig  `yaml:"issues"`
	Display         DisplayConfig `yaml:"display"`
	Cache           CacheConfig   `yaml:"cache"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		GitHub:          GitHubConfig{BaseURL: github.DefaultBaseURL},
		ZenHub:          ZenHubConfig{BaseURL: zenhub.DefaultBaseURL},
		RefreshInterval: 30 * time.Second,
		StaleAfter:      2 * time.Minute,
		Retry: RetryConfig{
			MaxAttempts:    4,
			InitialBackoff: time.Second,
			MaxBackoff:     30 * time.Second,
		},
		Issues: IssuesConfig{
			State:            "open",
			Incremental:      true,
			FullRefreshEvery: 10,
		},
		Display: DisplayConfig{
			ShowUnpositioned: true,
			ShowLabels:       true,
			CardWidth:        32,
		},
		Cache: CacheConfig{Enabled: true},
	}
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	if c.Repository != "" {
		if _, _, err := github.SplitRepository(c.Repository); err != nil {
			errs = append(errs, err)
		}
	}
	for name, u := range map[string]string{"github.base_url": c.GitHub.BaseURL, "zenhub.base_url": c.ZenHub.BaseURL} {
		if u != "" && !strings.HasPrefix(u, "https://") {
			errs = append(errs, fmt.Errorf("%s must use https (got %q)", name, u))
		}
	}
	if c.ZenHub.RepoID < 0 {
		errs = append(errs, fmt.Errorf("zenhub.repo_id must not be negative (got %d)", c.ZenHub.RepoID))
	}
	if c.RefreshInterval < 0 {
		errs = append(errs, fmt.Errorf("refresh_interval must not be negative (got %v)", c.RefreshInterval))
	}
	if c.StaleAfter < 0 {
		errs = append(errs, fmt.Errorf("stale_after must not be negative (got %v)", c.StaleAfter))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("retry.max_attempts must be at least 1 (got %d)", c.Retry.MaxAttempts))
	}
	if c.Retry.InitialBackoff < 0 || c.Retry.MaxBackoff < c.Retry.InitialBackoff {
		errs = append(errs, fmt.Errorf("retry backoff must satisfy 0 <= initial_backoff <= max_backoff (got %v, %v)",
			c.Retry.InitialBackoff, c.Retry.MaxBackoff))
	}
	switch c.Issues.State {
	case "open", "closed", "all":
	default:
		errs = append(errs, fmt.Errorf("issues.state must be open, closed or all (got %q)", c.Issues.State))
	}
	if c.Issues.FullRefreshEvery < 0 {
		errs = append(errs, fmt.Errorf("issues.full_refresh_every must not be negative (got %d)", c.Issues.FullRefreshEvery))
	}
	if c.Display.CardWidth != 0 && c.Display.CardWidth < 12 {
		errs = append(errs, fmt.Errorf("display.card_width must be at least 12 (got %d)", c.Display.CardWidth))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("invalid config: %w", errors.Join(errs...))
}

// CachePath returns the record cache location.
func (c Config) CachePath() string {
	if c.Cache.Path != "" {
		return expandHome(c.Cache.Path)
	}
	dir := DataDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "records.db")
}

// IsHidden reports whether a pipeline name is in the hidden list.
func (d DisplayConfig) IsHidden(name string) bool {
	for _, h := range d.HiddenPipelines {
		if strings.EqualFold(h, name) {
			return true
		}
	}
	return false
}

// ConfigDir returns the XDG config directory for zb.
func ConfigDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, appName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", appName)
}

// DataDir returns the XDG data directory for zb.
func DataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, appName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".local", "share", appName)
}

// StateDir returns the XDG state directory for zb.
func StateDir() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, appName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".local", "state", appName)
}

// ConfigPath returns the full path to config.yaml.
func ConfigPath() string {
	dir := ConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "config.yaml")
}

// LogPath returns the default log file location.
func LogPath() string {
	dir := StateDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "zb.log")
}

// Load reads the config file from the XDG config directory.
// Returns DefaultConfig if the file doesn't exist.
func Load() (Config, error) {
	path := ConfigPath()
	if path == "" {
		return DefaultConfig(), nil
	}
	return LoadFrom(path)
}

// LoadFrom reads config from a specific path. Missing keys keep their
// defaults. Returns DefaultConfig if the file doesn't exist.
func LoadFrom(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}
	cfg.Cache.Path = expandHome(cfg.Cache.Path)
	return cfg, nil
}

// Save writes the config to the XDG config directory.
func Save(cfg Config) error {
	path := ConfigPath()
	if path == "" {
		return fmt.Errorf("cannot determine config directory")
	}
	return SaveTo(cfg, path)
}

// SaveTo writes the config to a specific path.
func SaveTo(cfg Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	return nil
}

// CreateDefault writes the default configuration to path unless a file is
// already there. It reports whether a file was written.
func CreateDefault(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("checking config: %w", err)
	}
	if err := SaveTo(DefaultConfig(), path); err != nil {
		return false, err
	}
	return true, nil
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
