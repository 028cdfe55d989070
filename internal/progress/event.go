// Package progress fans item lifecycle events out to interested sinks
// (status displays, notification senders) without ever blocking the workers
// that produce them.
package progress

import (
	"errors"
	"time"
)

// EventType distinguishes the lifecycle moments workers report.
type EventType string

const (
	EventStageStarted   EventType = "stage_started"
	EventStageProgress  EventType = "stage_progress"
	EventStageCompleted EventType = "stage_completed"
	EventStageFailed    EventType = "stage_failed"
	EventItemCompleted  EventType = "item_completed"
	EventItemFailed     EventType = "item_failed"
	EventQueueDrained   EventType = "queue_drained"
	EventRunCompleted   EventType = "run_completed"
)

// Event is a single progress report from a worker or the workflow manager.
type Event struct {
	Type      EventType
	Stage     string
	ItemID    int64
	RunID     int64
	Title     string
	Percent   float64
	Message   string
	Timestamp time.Time
}

// Validate rejects events that no sink could attribute to anything.
func (e Event) Validate() error {
	if e.Type == "" {
		return errors.New("progress event requires a type")
	}
	return nil
}
