package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseArgs(t *testing.T) {
	var stderr bytes.Buffer
	opts, err := parseArgs([]string{
		"--config", "/tmp/zb.yaml",
		"--refresh", "45s",
		"--log-file", "/tmp/zb.log",
		"--no-cache",
		"acme/widgets",
	}, &stderr)
	if err != nil {
		t.Fatalf("parseArgs: %v", err)
	}
	if opts.repository != "acme/widgets" || opts.configPath != "/tmp/zb.yaml" {
		t.Errorf("unexpected options %+v", opts)
	}
	if opts.refresh != 45*time.Second || !opts.noCache {
		t.Errorf("refresh/no-cache not parsed: %+v", opts)
	}
	if !opts.logEnabled {
		t.Error("--log-file should imply --log")
	}
}

func TestParseArgsErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"two repositories", []string{"a/b", "c/d"}},
		{"negative refresh", []string{"--refresh", "-1s", "a/b"}},
		{"unknown flag", []string{"--bogus"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stderr bytes.Buffer
			if _, err := parseArgs(tt.args, &stderr); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigOverrides(t *testing.T) {
	path := writeConfig(t, "repository: acme/old\nrefresh_interval: 1m\n")

	cfg, err := loadConfig(options{configPath: path, repository: "acme/new", refresh: 10 * time.Second, noCache: true})
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Repository != "acme/new" || cfg.RefreshInterval != 10*time.Second || cfg.Cache.Enabled {
		t.Errorf("overrides not applied: %+v", cfg)
	}

	cfg, err = loadConfig(options{configPath: path})
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Repository != "acme/old" || cfg.RefreshInterval != time.Minute {
		t.Errorf("file values lost: %+v", cfg)
	}
}

func TestLoadConfigMissingRepositoryIsUsageError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.yaml")
	_, err := loadConfig(options{configPath: path})
	var uerr *usageError
	if !errors.As(err, &uerr) {
		t.Fatalf("expected usage error, got %v", err)
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	path := writeConfig(t, "repository: acme/widgets\nretry:\n  max_attempts: 0\n")
	if _, err := loadConfig(options{configPath: path}); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestRunExitCodes(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run([]string{"--version"}, &stdout, &stderr); code != exitOK {
		t.Errorf("--version exit = %d", code)
	}
	if !strings.HasPrefix(stdout.String(), "zb ") {
		t.Errorf("version output = %q", stdout.String())
	}

	stdout.Reset()
	stderr.Reset()
	missing := filepath.Join(t.TempDir(), "absent.yaml")
	if code := run([]string{"--config", missing}, &stdout, &stderr); code != exitUsage {
		t.Errorf("missing repository exit = %d, want %d", code, exitUsage)
	}
	if !strings.Contains(stderr.String(), "no repository") {
		t.Errorf("stderr = %q", stderr.String())
	}

	stderr.Reset()
	bad := writeConfig(t, "repository: [unclosed\n")
	if code := run([]string{"--config", bad}, &stdout, &stderr); code != exitError {
		t.Errorf("bad config exit = %d, want %d", code, exitError)
	}
}

func TestRunCreateSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zb", "config.yaml")
	var stdout, stderr bytes.Buffer

	if code := run([]string{"--config", path, "--create-settings"}, &stdout, &stderr); code != exitOK {
		t.Fatalf("exit = %d, stderr = %q", code, stderr.String())
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("settings file not written: %v", err)
	}
	if !strings.Contains(stdout.String(), "Wrote default settings") {
		t.Errorf("stdout = %q", stdout.String())
	}

	stdout.Reset()
	run([]string{"--config", path, "--create-settings"}, &stdout, &stderr)
	if !strings.Contains(stdout.String(), "already exist") {
		t.Errorf("second run stdout = %q", stdout.String())
	}
}
