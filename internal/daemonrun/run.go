// Package daemonrun assembles the daemon runtime: logging, the queue store,
// the stage handlers, and the workflow manager, held together until a
// termination signal arrives.
package daemonrun

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"bobine/internal/config"
	"bobine/internal/discovery"
	"bobine/internal/download"
	"bobine/internal/fetch"
	"bobine/internal/logging"
	"bobine/internal/metadata"
	"bobine/internal/notifications"
	"bobine/internal/progress"
	"bobine/internal/queue"
	"bobine/internal/resolve"
	"bobine/internal/services/ffmpeg"
	"bobine/internal/services/ytdlp"
	"bobine/internal/workflow"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel string
}

// Run starts the bobine daemon and blocks until the context is cancelled or a
// termination signal arrives.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	runStamp := time.Now().UTC().Format("20060102T150405Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("bobine-%s.log", runStamp))

	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stderr", logPath},
	})
	if err != nil {
		return fmt.Errorf("initialize logging: %w", err)
	}
	refreshLogPointer(cfg.Paths.LogDir, logPath)

	lock := flock.New(filepath.Join(cfg.Paths.LogDir, "bobined.lock"))
	held, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire daemon lock: %w", err)
	}
	if !held {
		return fmt.Errorf("another bobined instance is already running")
	}
	defer lock.Unlock()

	pidPath := filepath.Join(cfg.Paths.LogDir, "bobined.pid")
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		logger.Warn("unable to write pid file", logging.Error(err))
	} else {
		defer os.Remove(pidPath)
	}

	store, err := queue.Open(cfg)
	if err != nil {
		return fmt.Errorf("open queue database: %w", err)
	}
	defer store.Close()

	hub := progress.NewHub(progress.Config{Logger: logger}, progress.NewLogSink(logger))
	defer func() {
		drainCtx, drainCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer drainCancel()
		if err := hub.Close(drainCtx); err != nil {
			logger.Warn("progress hub shutdown incomplete", logging.Error(err))
		}
	}()

	notifier := notifications.NewService(cfg)

	limiter := fetch.NewLimiter(
		secondsToDuration(cfg.Network.ProviderIntervalSeconds),
		secondsToDuration(cfg.Network.DefaultIntervalSeconds),
	)
	fetcher := fetch.New(
		time.Duration(cfg.Network.RequestTimeoutSeconds)*time.Second,
		logger,
		fetch.WithLimiter(limiter),
		fetch.WithRetryAttempts(cfg.Network.RetryAttempts),
	)
	resolver := resolve.New(fetcher, logger)

	downloader, err := ytdlp.New(
		cfg.Downloader.YtdlpBinary,
		cfg.Downloader.AudioFormat,
		cfg.Downloader.AudioQuality,
		cfg.Downloader.TimeoutSeconds,
	)
	if err != nil {
		return fmt.Errorf("configure yt-dlp client: %w", err)
	}
	tagger, err := ffmpeg.New(cfg.Downloader.FFmpegBinary, cfg.Downloader.TimeoutSeconds)
	if err != nil {
		return fmt.Errorf("configure ffmpeg client: %w", err)
	}

	manager := workflow.NewManager(cfg, store, logger,
		workflow.WithNotifier(notifier),
		workflow.WithEmitter(hub),
	)
	manager.RegisterStage(queue.StageDiscovery, discovery.NewHandler(cfg, store, fetcher, notifier, logger))
	manager.RegisterStage(queue.StageMetadata, metadata.NewHandler(fetcher, resolver, logger))
	manager.RegisterStage(queue.StageDownload, download.NewHandler(cfg, downloader, tagger, fetcher, hub, logger))

	if err := manager.Start(signalCtx); err != nil {
		return fmt.Errorf("start workflow: %w", err)
	}

	logger.Info("bobined started",
		logging.String("log_file", logPath),
		logging.String("database", cfg.Paths.DatabasePath),
	)

	<-signalCtx.Done()
	logger.Info("shutdown signal received")
	manager.Stop()
	logger.Info("bobined stopped")
	return nil
}

// refreshLogPointer keeps a stable bobine.log symlink aimed at the current
// run's log file so `bobine logs` has a fixed place to look.
func refreshLogPointer(logDir, logPath string) {
	pointer := filepath.Join(logDir, "bobine.log")
	_ = os.Remove(pointer)
	if err := os.Symlink(logPath, pointer); err != nil {
		// Symlinks can fail on exotic filesystems; fall back to a pointer file.
		_ = os.WriteFile(pointer, []byte(logPath+"\n"), 0o644)
	}
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
