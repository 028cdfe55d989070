package queue

import (
	"strings"
	"time"
)

// Stage names one of the three pipeline stages.
type Stage string

const (
	StageDiscovery Stage = "discovery"
	StageMetadata  Stage = "metadata"
	StageDownload  Stage = "download"
)

var allStages = []Stage{StageDiscovery, StageMetadata, StageDownload}

// ParseStage converts a string into a known Stage.
func ParseStage(value string) (Stage, bool) {
	normalized := Stage(strings.ToLower(strings.TrimSpace(value)))
	for _, stage := range allStages {
		if stage == normalized {
			return stage, true
		}
	}
	return "", false
}

// RunStatus is the lifecycle of a discovery run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// ItemStatus is the lifecycle of an item.
type ItemStatus string

const (
	ItemPending  ItemStatus = "pending"
	ItemActive   ItemStatus = "active"
	ItemComplete ItemStatus = "complete"
	ItemFailed   ItemStatus = "failed"
)

var itemStatuses = []ItemStatus{ItemPending, ItemActive, ItemComplete, ItemFailed}

// ParseItemStatus converts a string into a known ItemStatus.
func ParseItemStatus(value string) (ItemStatus, bool) {
	normalized := ItemStatus(strings.ToLower(strings.TrimSpace(value)))
	for _, status := range itemStatuses {
		if status == normalized {
			return status, true
		}
	}
	return "", false
}

// EntryStatus is the lifecycle of a queue entry.
type EntryStatus string

const (
	EntryQueued   EntryStatus = "queued"
	EntryActive   EntryStatus = "active"
	EntryComplete EntryStatus = "complete"
	EntryFailed   EntryStatus = "failed"
)

// DiscoveryRun tracks one operator-initiated catalog scan end-to-end.
type DiscoveryRun struct {
	ID             int64
	CatalogURL     string
	Status         RunStatus
	TotalCount     int
	QueuedCount    int
	SkippedCount   int
	ErrorMessage   string
	ExternalJobRef string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Item is one discoverable unit of content with its own metadata and file.
// SourceURL is globally unique; discovery deduplicates against it.
type Item struct {
	ID              int64
	RunID           int64 // zero when submitted directly
	Title           string
	Author          string // primary contributor
	Narrator        string // secondary contributor
	SourceURL       string
	URLClass        string
	ArtworkURL      string
	Description     string
	Publisher       string
	ISBN            string
	Series          string
	PublishedAt     string // release date as published on the source page
	MediaID         string
	StreamURL       string
	DurationSeconds int64
	FileSize        int64
	FilePath        string
	Status          ItemStatus
	ErrorMessage    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// SetFailed marks the item failed with a persisted human-readable summary.
func (i *Item) SetFailed(message string) {
	i.Status = ItemFailed
	i.ErrorMessage = strings.TrimSpace(message)
}

// QueueEntry is the unit of pipeline work tracked for one Item. At most one
// live entry exists per item; the entry's stage advances as the item moves
// through the pipeline.
type QueueEntry struct {
	ID           int64
	ItemID       int64
	Stage        Stage
	Status       EntryStatus
	Priority     int
	Attempts     int
	MaxAttempts  int
	ErrorMessage string
	RunAt        time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AttemptsExhausted reports whether the entry has consumed its retry budget.
func (e *QueueEntry) AttemptsExhausted() bool {
	return e.Attempts >= e.MaxAttempts
}

// PauseState is the singleton operator control row.
type PauseState struct {
	Paused        bool
	MaxConcurrent int
	UpdatedAt     time.Time
}

// Stats aggregates queue counts for status displays.
type Stats struct {
	ItemsTotal    int
	ItemsPending  int
	ItemsActive   int
	ItemsComplete int
	ItemsFailed   int
	EntriesQueued int
	EntriesActive int
	EntriesFailed int
	RunsRunning   int
}
