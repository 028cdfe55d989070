package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and database location configuration.
type Paths struct {
	DownloadDir  string `toml:"download_dir"`
	TempDir      string `toml:"temp_dir"`
	LogDir       string `toml:"log_dir"`
	DatabasePath string `toml:"database_path"`
}

// Queue contains scheduling configuration for the pipeline stages.
type Queue struct {
	DiscoveryWorkers    int `toml:"discovery_workers"`
	MetadataWorkers     int `toml:"metadata_workers"`
	DownloadWorkers     int `toml:"download_workers"`
	MaxAttempts         int `toml:"max_attempts"`
	PollIntervalSeconds int `toml:"poll_interval_seconds"`
	RetryBackoffSeconds int `toml:"retry_backoff_seconds"`
	PauseRecheckSeconds int `toml:"pause_recheck_seconds"`
}

// Network contains HTTP client and rate limiting configuration.
type Network struct {
	RequestTimeoutSeconds   int     `toml:"request_timeout_seconds"`
	RetryAttempts           int     `toml:"retry_attempts"`
	ProviderIntervalSeconds float64 `toml:"provider_interval_seconds"`
	DefaultIntervalSeconds  float64 `toml:"default_interval_seconds"`
}

// Downloader contains external tool configuration.
type Downloader struct {
	YtdlpBinary    string `toml:"ytdlp_binary"`
	FFmpegBinary   string `toml:"ffmpeg_binary"`
	AudioFormat    string `toml:"audio_format"`
	AudioQuality   string `toml:"audio_quality"`
	MinFreeSpaceMB int64  `toml:"min_free_space_mb"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic             string `toml:"ntfy_topic"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Config is the root configuration document.
type Config struct {
	Paths         Paths         `toml:"paths"`
	Queue         Queue         `toml:"queue"`
	Network       Network       `toml:"network"`
	Downloader    Downloader    `toml:"downloader"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// Default returns a configuration populated with workable defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DownloadDir:  "~/audiobooks",
			TempDir:      "~/.cache/bobine/tmp",
			LogDir:       "~/.local/state/bobine",
			DatabasePath: "~/.local/state/bobine/bobine.db",
		},
		Queue: Queue{
			DiscoveryWorkers:    1,
			MetadataWorkers:     3,
			DownloadWorkers:     2,
			MaxAttempts:         3,
			PollIntervalSeconds: 2,
			RetryBackoffSeconds: 30,
			PauseRecheckSeconds: 15,
		},
		Network: Network{
			RequestTimeoutSeconds:   30,
			RetryAttempts:           3,
			ProviderIntervalSeconds: 2.0,
			DefaultIntervalSeconds:  0.5,
		},
		Downloader: Downloader{
			YtdlpBinary:    "yt-dlp",
			FFmpegBinary:   "ffmpeg",
			AudioFormat:    "mp3",
			AudioQuality:   "192K",
			MinFreeSpaceMB: 512,
			TimeoutSeconds: 3600,
		},
		Notifications: Notifications{
			RequestTimeoutSeconds: 10,
		},
		Logging: Logging{
			Level:  "info",
			Format: "auto",
		},
	}
}

// DefaultConfigPath returns the expanded default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/bobine/config.toml")
}

// Load reads the configuration from path, falling back to defaults when the
// file does not exist. Paths are expanded and the result validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path = strings.TrimSpace(path); path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return nil, err
		}
		path = defaultPath
	} else {
		expanded, err := expandPath(path)
		if err != nil {
			return nil, err
		}
		path = expanded
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
		// Defaults apply.
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() error {
	var err error
	if c.Paths.DownloadDir, err = expandPath(c.Paths.DownloadDir); err != nil {
		return err
	}
	if c.Paths.TempDir, err = expandPath(c.Paths.TempDir); err != nil {
		return err
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return err
	}
	if c.Paths.DatabasePath, err = expandPath(c.Paths.DatabasePath); err != nil {
		return err
	}
	return nil
}

// Validate checks the configuration for unusable values.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Paths.DownloadDir) == "" {
		return errors.New("config: download_dir is required")
	}
	if strings.TrimSpace(c.Paths.DatabasePath) == "" {
		return errors.New("config: database_path is required")
	}
	if c.Queue.MaxAttempts < 1 {
		return errors.New("config: max_attempts must be at least 1")
	}
	for name, workers := range map[string]int{
		"discovery_workers": c.Queue.DiscoveryWorkers,
		"metadata_workers":  c.Queue.MetadataWorkers,
		"download_workers":  c.Queue.DownloadWorkers,
	} {
		if workers < 1 {
			return fmt.Errorf("config: %s must be at least 1", name)
		}
	}
	if c.Network.ProviderIntervalSeconds < 0 || c.Network.DefaultIntervalSeconds < 0 {
		return errors.New("config: rate limit intervals must not be negative")
	}
	if strings.TrimSpace(c.Downloader.YtdlpBinary) == "" {
		return errors.New("config: ytdlp_binary is required")
	}
	if strings.TrimSpace(c.Downloader.FFmpegBinary) == "" {
		return errors.New("config: ffmpeg_binary is required")
	}
	if c.Downloader.MinFreeSpaceMB < 0 {
		return errors.New("config: min_free_space_mb must not be negative")
	}
	return nil
}

// EnsureDirectories creates the directories the daemon needs at runtime.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Paths.DownloadDir,
		c.Paths.TempDir,
		c.Paths.LogDir,
		filepath.Dir(c.Paths.DatabasePath),
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// CreateSample writes the embedded sample configuration to path. It refuses to
// overwrite an existing file.
func CreateSample(path string) error {
	expanded, err := expandPath(path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(expanded); err == nil {
		return fmt.Errorf("config file already exists: %s", expanded)
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(expanded, []byte(sampleConfig), 0o644)
}

// ExpandPath resolves a leading ~ and cleans the path.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

func expandPath(pathValue string) (string, error) {
	pathValue = strings.TrimSpace(pathValue)
	if pathValue == "" {
		return "", nil
	}
	if pathValue == "~" || strings.HasPrefix(pathValue, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			return home, nil
		}
		return filepath.Join(home, pathValue[2:]), nil
	}
	return filepath.Clean(pathValue), nil
}
