package progress

import (
	"context"
	"fmt"
	"log/slog"

	"bobine/internal/logging"
)

// Sink consumes progress events. Implementations must honor ctx deadlines
// and may be invoked from the hub's delivery goroutine only.
type Sink interface {
	Consume(ctx context.Context, evt Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events; Hub satisfies this interface so
// workers stay agnostic about buffering and delivery.
type Emitter interface {
	Emit(evt Event)
}

// LogSink mirrors every event onto a structured logger. It is the default
// sink wired by the daemon so progress always lands in the log stream.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink wraps logger as a Sink.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Consume(_ context.Context, evt Event) error {
	attrs := []any{
		slog.String(logging.FieldEventType, string(evt.Type)),
		slog.String(logging.FieldStage, evt.Stage),
		slog.Int64(logging.FieldItemID, evt.ItemID),
	}
	if evt.Percent > 0 {
		attrs = append(attrs, slog.String("percent", fmt.Sprintf("%.1f", evt.Percent)))
	}
	if evt.Message != "" {
		attrs = append(attrs, slog.String("detail", evt.Message))
	}
	s.logger.Info("progress", attrs...)
	return nil
}

func (s *LogSink) Close(context.Context) error { return nil }
