package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Queue.MaxAttempts != 3 {
		t.Fatalf("expected default max attempts, got %d", cfg.Queue.MaxAttempts)
	}
	if cfg.Downloader.YtdlpBinary != "yt-dlp" {
		t.Fatalf("expected default ytdlp binary, got %q", cfg.Downloader.YtdlpBinary)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[paths]
download_dir = "` + dir + `/books"
database_path = "` + dir + `/bobine.db"

[queue]
download_workers = 5
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Queue.DownloadWorkers != 5 {
		t.Fatalf("expected override, got %d", cfg.Queue.DownloadWorkers)
	}
	if cfg.Paths.DownloadDir != filepath.Join(dir, "books") {
		t.Fatalf("unexpected download dir %q", cfg.Paths.DownloadDir)
	}
	// Sections absent from the file keep their defaults.
	if cfg.Queue.MaxAttempts != 3 {
		t.Fatalf("expected default max attempts, got %d", cfg.Queue.MaxAttempts)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero attempts", func(c *Config) { c.Queue.MaxAttempts = 0 }},
		{"zero workers", func(c *Config) { c.Queue.DownloadWorkers = 0 }},
		{"empty download dir", func(c *Config) { c.Paths.DownloadDir = "" }},
		{"empty ytdlp", func(c *Config) { c.Downloader.YtdlpBinary = " " }},
		{"negative interval", func(c *Config) { c.Network.ProviderIntervalSeconds = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestExpandPathHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home directory: %v", err)
	}
	got, err := expandPath("~/books")
	if err != nil {
		t.Fatalf("expandPath: %v", err)
	}
	if !strings.HasPrefix(got, home) {
		t.Fatalf("expected %q under %q", got, home)
	}
}

func TestCreateSampleRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	if err := CreateSample(path); err == nil {
		t.Fatal("expected error on existing file")
	}
}
