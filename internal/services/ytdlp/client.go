package ytdlp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"bobine/internal/services"
)

// ProgressUpdate captures yt-dlp download progress output.
type ProgressUpdate struct {
	Percent float64
	Message string
}

// Downloader defines the behaviour required by the download handler.
type Downloader interface {
	Download(ctx context.Context, sourceURL, destDir string, progress func(ProgressUpdate)) (string, error)
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

// Client wraps yt-dlp CLI interactions for audio extraction.
type Client struct {
	binary       string
	audioFormat  string
	audioQuality string
	timeout      time.Duration
	exec         Executor
}

// New constructs a yt-dlp client. audioFormat and audioQuality follow the
// yt-dlp --audio-format / --audio-quality flags ("mp3", "192K").
func New(binary, audioFormat, audioQuality string, timeoutSeconds int, opts ...Option) (*Client, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return nil, errors.New("yt-dlp binary required")
	}
	if audioFormat == "" {
		audioFormat = "mp3"
	}
	client := &Client{
		binary:       binary,
		audioFormat:  audioFormat,
		audioQuality: audioQuality,
		timeout:      time.Duration(timeoutSeconds) * time.Second,
		exec:         commandExecutor{},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Download fetches sourceURL (a page URL or an HLS playlist) into a fresh
// job directory under destDir and returns the path of the produced audio
// file. Each invocation gets its own directory so concurrent downloads can
// never pick up each other's output.
func (c *Client) Download(ctx context.Context, sourceURL, destDir string, progress func(ProgressUpdate)) (string, error) {
	if sourceURL == "" {
		return "", services.Wrap(services.ErrValidation, "download", "yt-dlp", "source URL required", nil)
	}
	if destDir == "" {
		return "", services.Wrap(services.ErrValidation, "download", "yt-dlp", "destination directory required", nil)
	}

	jobDir := filepath.Join(destDir, "job-"+uuid.NewString())
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return "", services.Wrap(services.ErrPrecondition, "download", "yt-dlp", "create job directory", err)
	}

	runCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	args := []string{
		"--newline",
		"--no-playlist",
		"--extract-audio",
		"--audio-format", c.audioFormat,
	}
	if c.audioQuality != "" {
		args = append(args, "--audio-quality", c.audioQuality)
	}
	args = append(args,
		"--format", "bestaudio/best",
		"--output", filepath.Join(jobDir, "%(title)s.%(ext)s"),
		sourceURL,
	)

	tail := newLineTail(20)
	if err := c.exec.Run(runCtx, c.binary, args, func(line string) {
		tail.add(line)
		if progress == nil {
			return
		}
		if update, ok := parseProgress(line); ok {
			progress(update)
		}
	}); err != nil {
		return "", services.Wrap(services.ErrExternalTool, "download", "yt-dlp", tail.summary(), err)
	}

	output, err := locateOutput(jobDir, c.audioFormat)
	if err != nil {
		return "", err
	}
	return output, nil
}

// locateOutput finds the produced audio file in the job directory. The
// post-processed file carries the configured extension; when several files
// remain (partial fragments, thumbnails) the largest matching one wins.
func locateOutput(jobDir, audioFormat string) (string, error) {
	entries, err := os.ReadDir(jobDir)
	if err != nil {
		return "", services.Wrap(services.ErrExternalTool, "download", "yt-dlp", "inspect job directory", err)
	}
	wantExt := "." + strings.ToLower(audioFormat)

	var best string
	var bestSize int64 = -1
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.ToLower(filepath.Ext(entry.Name())) != wantExt {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.Size() > bestSize {
			best = filepath.Join(jobDir, entry.Name())
			bestSize = info.Size()
		}
	}
	if best == "" {
		return "", services.Wrap(services.ErrExternalTool, "download", "yt-dlp",
			fmt.Sprintf("no %s output produced", wantExt), nil)
	}
	return best, nil
}

var progressPattern = regexp.MustCompile(`\[download\]\s+(\d+(?:\.\d+)?)%`)

func parseProgress(line string) (ProgressUpdate, bool) {
	match := progressPattern.FindStringSubmatch(line)
	if match == nil {
		return ProgressUpdate{}, false
	}
	percent, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return ProgressUpdate{}, false
	}
	return ProgressUpdate{Percent: percent, Message: strings.TrimSpace(line)}, true
}

// lineTail keeps the last N output lines so failures carry useful context.
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
		return "yt-dlp failed with no output"
	}
	return "yt-dlp failed: " + strings.Join(t.lines, " | ")
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
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
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
