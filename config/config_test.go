package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func writeConfig(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	writeConfig(t, path, `{"repositories": ["wesm/argh"]}`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	want := &Config{
		DatabasePath:          filepath.Join(dir, DefaultDatabasePath),
		Repositories:          []string{"wesm/argh"},
		RefreshInterval:       "60s",
		Workers:               5,
		ExcludedLabelPrefixes: []string{"status."},
		PersistSyncTokens:     true,
		LogLevel:              "info",
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
	if cfg.Interval() != time.Minute {
		t.Errorf("Interval = %v", cfg.Interval())
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	writeConfig(t, path, `{"github_token": "from-file", "workers": 2}`)
	t.Setenv(EnvGithubToken, "from-env")
	t.Setenv("ARGH_WORKERS", "8")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.GitHubToken != "from-env" {
		t.Errorf("token = %q", cfg.GitHubToken)
	}
	if cfg.Workers != 8 {
		t.Errorf("workers = %d", cfg.Workers)
	}
}

func TestLoadConfigPaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	writeConfig(t, path, `{"database_path": "/var/lib/mirror.db", "log_file": "logs/mirror.log", "refresh_interval": "5m"}`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.DatabasePath != "/var/lib/mirror.db" {
		t.Errorf("absolute database path changed: %s", cfg.DatabasePath)
	}
	if cfg.LogFile != filepath.Join(dir, "logs/mirror.log") {
		t.Errorf("log file = %s", cfg.LogFile)
	}
	if cfg.Interval() != 5*time.Minute {
		t.Errorf("Interval = %v", cfg.Interval())
	}
}

func TestLoadConfigErrors(t *testing.T) {
	dir := t.TempDir()
	if _, err := LoadConfig(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("expected an error for a missing file")
	}

	bad := filepath.Join(dir, "bad.json")
	writeConfig(t, bad, `{"refresh_interval": "soon"}`)
	if _, err := LoadConfig(bad); err == nil {
		t.Error("expected an error for an invalid interval")
	}
}

func TestCreateDefaultConfigAndSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	if err := CreateDefaultConfig(path); err != nil {
		t.Fatalf("CreateDefaultConfig: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if !cfg.AddRepository("wesm/argh") || cfg.AddRepository("wesm/argh") {
		t.Error("AddRepository should add once")
	}
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}

	// an existing file is left alone
	if err := CreateDefaultConfig(path); err != nil {
		t.Fatal(err)
	}
	again, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"example/repo", "wesm/argh"}, again.Repositories); diff != "" {
		t.Errorf("repositories mismatch (-want +got):\n%s", diff)
	}
}

func TestWatchReloadsOnWrite(t *testing.T) {
	dir, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "config.json")
	writeConfig(t, path, `{"repositories": ["wesm/argh"]}`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes := make(chan *Config, 10)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, 20*time.Millisecond, func(cfg *Config, err error) {
			if err == nil {
				changes <- cfg
			}
		})
	}()

	deadline := time.After(5 * time.Second)
	for {
		// rewrite until the watcher is registered and reports the change
		writeConfig(t, path, `{"repositories": ["wesm/argh", "wesm/other"]}`)
		select {
		case cfg := <-changes:
			if len(cfg.Repositories) != 2 {
				t.Errorf("reloaded repositories = %v", cfg.Repositories)
			}
			cancel()
			if err := <-done; err != nil {
				t.Errorf("Watch = %v", err)
			}
			return
		case <-time.After(100 * time.Millisecond):
		case <-deadline:
			t.Fatal("no reload observed")
		}
	}
}
