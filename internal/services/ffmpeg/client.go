// Package ffmpeg wraps the ffmpeg CLI for embedding item metadata into
// downloaded audio files without re-encoding.
package ffmpeg

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"bobine/internal/fileutil"
	"bobine/internal/services"
)

// Tags holds the metadata written into the audio file. Empty fields are
// omitted from the invocation. ArtworkPath, when set, names a local image
// embedded as the cover.
type Tags struct {
	Title       string
	Artist      string
	AlbumArtist string
	Narrator    string
	Description string
	Publisher   string
	Date        string
	ArtworkPath string
}

// Tagger defines the behaviour required by the download handler.
type Tagger interface {
	Tag(ctx context.Context, path string, tags Tags) error
}

// Executor abstracts command execution for testability.
type Executor interface {
	Run(ctx context.Context, binary string, args []string, onLine func(string)) error
}

// Option configures the client.
type Option func(*Client)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(c *Client) {
		if exec != nil {
			c.exec = exec
		}
	}
}

// Client wraps ffmpeg CLI interactions.
type Client struct {
	binary  string
	timeout time.Duration
	exec    Executor
}

// New constructs an ffmpeg client.
func New(binary string, timeoutSeconds int, opts ...Option) (*Client, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return nil, errors.New("ffmpeg binary required")
	}
	client := &Client{
		binary:  binary,
		timeout: time.Duration(timeoutSeconds) * time.Second,
		exec:    commandExecutor{},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Tag rewrites path in place with the given metadata, streams copied rather
// than re-encoded. ffmpeg cannot edit in place, so output goes to a sibling
// temp file which then atomically replaces the original.
func (c *Client) Tag(ctx context.Context, path string, tags Tags) error {
	if path == "" {
		return services.Wrap(services.ErrValidation, "download", "ffmpeg", "audio path required", nil)
	}
	if _, err := os.Stat(path); err != nil {
		return services.Wrap(services.ErrValidation, "download", "ffmpeg", fmt.Sprintf("audio file %s", path), err)
	}

	tmp := tempSibling(path)
	defer os.Remove(tmp)

	args := []string{"-y", "-hide_banner", "-loglevel", "error", "-i", path}
	artwork := strings.TrimSpace(tags.ArtworkPath)
	if artwork != "" {
		// Second input carries the cover; map audio from the first and the
		// picture from the second, flagged as attached artwork.
		args = append(args, "-i", artwork,
			"-map", "0:a", "-map", "1",
			"-disposition:v", "attached_pic",
			"-metadata:s:v", "title=Cover",
		)
	}
	for _, pair := range metadataPairs(tags) {
		args = append(args, "-metadata", pair)
	}
	args = append(args, "-codec", "copy")
	if artwork != "" {
		args = append(args, "-id3v2_version", "3")
	}
	args = append(args, tmp)

	runCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	tail := newLineTail(10)
	if err := c.exec.Run(runCtx, c.binary, args, tail.add); err != nil {
		return services.Wrap(services.ErrExternalTool, "download", "ffmpeg", tail.summary(), err)
	}

	if info, err := os.Stat(tmp); err != nil || info.Size() == 0 {
		return services.Wrap(services.ErrExternalTool, "download", "ffmpeg", "tagging produced no output", err)
	}
	if err := fileutil.ReplaceFile(tmp, path); err != nil {
		return services.Wrap(services.ErrExternalTool, "download", "ffmpeg", "replace tagged file", err)
	}
	return nil
}

func metadataPairs(tags Tags) []string {
	pairs := make([]string, 0, 7)
	add := func(key, value string) {
		value = strings.TrimSpace(value)
		if value == "" {
			return
		}
		pairs = append(pairs, key+"="+value)
	}
	add("title", tags.Title)
	add("artist", tags.Artist)
	add("album_artist", tags.AlbumArtist)
	add("composer", tags.Narrator)
	add("comment", tags.Description)
	add("publisher", tags.Publisher)
	add("date", tags.Date)
	return pairs
}

func tempSibling(path string) string {
	dir := filepath.Dir(path)
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(filepath.Base(path), ext)
	return filepath.Join(dir, "."+base+".tagging"+ext)
}

type lineTail struct {
	mu    sync.Mutex
	limit int
	lines []string
}

func newLineTail(limit int) *lineTail {
	return &lineTail{limit: limit}
}

func (t *lineTail) add(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	if len(t.lines) > t.limit {
		t.lines = t.lines[len(t.lines)-t.limit:]
	}
}

func (t *lineTail) summary() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.lines) == 0 {
		return "ffmpeg failed with no output"
	}
	return "ffmpeg failed: " + strings.Join(t.lines, " | ")
}

type commandExecutor struct{}

func (commandExecutor) Run(ctx context.Context, binary string, args []string, onLine func(string)) error {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start command: %w", err)
	}

	var wg sync.WaitGroup
	scan := func(r io.Reader) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			if onLine != nil {
				onLine(scanner.Text())
			}
		}
	}

	wg.Add(2)
	go scan(stdout)
	go scan(stderr)
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("wait command: %w", err)
	}
	return nil
}
