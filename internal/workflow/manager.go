package workflow

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"bobine/internal/config"
	"bobine/internal/logging"
	"bobine/internal/notifications"
	"bobine/internal/progress"
	"bobine/internal/queue"
	"bobine/internal/stage"
)

// Manager coordinates queue processing using registered stage handlers.
type Manager struct {
	cfg      *config.Config
	store    *queue.Store
	logger   *slog.Logger
	notifier notifications.Service
	emitter  progress.Emitter

	pollInterval  time.Duration
	errorInterval time.Duration
	pauseRecheck  time.Duration
	retryBackoff  time.Duration

	handlers map[queue.Stage]stage.Handler
	workers  map[queue.Stage]int

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lastErr error

	queueActive atomic.Bool
	queueStart  atomic.Int64 // unix nanos
	completed   atomic.Int64
	failed      atomic.Int64
}

// Option configures optional Manager collaborators.
type Option func(*Manager)

// WithNotifier overrides the notification service (used in tests).
func WithNotifier(notifier notifications.Service) Option {
	return func(m *Manager) {
		if notifier != nil {
			m.notifier = notifier
		}
	}
}

// WithEmitter wires a progress emitter; a nil hub is tolerated.
func WithEmitter(emitter progress.Emitter) Option {
	return func(m *Manager) {
		if emitter != nil {
			m.emitter = emitter
		}
	}
}

// NewManager constructs a workflow manager. Handlers are attached afterwards
// with RegisterStage.
func NewManager(cfg *config.Config, store *queue.Store, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	m := &Manager{
		cfg:           cfg,
		store:         store,
		logger:        logging.WithComponent(logger, "workflow"),
		notifier:      notifications.NewService(cfg),
		pollInterval:  time.Duration(cfg.Queue.PollIntervalSeconds) * time.Second,
		errorInterval: time.Duration(cfg.Queue.PollIntervalSeconds) * time.Second,
		pauseRecheck:  time.Duration(cfg.Queue.PauseRecheckSeconds) * time.Second,
		retryBackoff:  time.Duration(cfg.Queue.RetryBackoffSeconds) * time.Second,
		handlers:      make(map[queue.Stage]stage.Handler),
		workers: map[queue.Stage]int{
			queue.StageDiscovery: cfg.Queue.DiscoveryWorkers,
			queue.StageMetadata:  cfg.Queue.MetadataWorkers,
			queue.StageDownload:  cfg.Queue.DownloadWorkers,
		},
	}
	if m.pollInterval <= 0 {
		m.pollInterval = 2 * time.Second
	}
	if m.pauseRecheck <= 0 {
		m.pauseRecheck = 15 * time.Second
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RegisterStage attaches the handler responsible for a pipeline stage.
func (m *Manager) RegisterStage(s queue.Stage, handler stage.Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[s] = handler
}

func (m *Manager) handlerFor(s queue.Stage) stage.Handler {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.handlers[s]
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastErr = err
}

// LastError returns the most recent stage or queue error, nil when clean.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

func (m *Manager) emit(evt progress.Event) {
	if m.emitter == nil {
		return
	}
	m.emitter.Emit(evt)
}
