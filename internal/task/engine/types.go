package engine

import (
	"context"
	"image"
	"time"

	"github.com/google/uuid"

	rtsup "imagetasks/internal/runtime/supervisor"
)

// Config controls the image task engine.
//
// It is read once by New and never changes for the life of the Service.
// The app layer maps config.processing into this struct.
type Config struct {
	// MaxInProgress caps how many tasks may be InProgress at once.
	MaxInProgress int

	// Quality is the encoder quality parameter (JPEG: 1..100).
	Quality int

	// OutputDir is the root directory for written artifacts.
	OutputDir string

	// TickInterval is the reconciliation fallback interval. The reconciler also
	// wakes as soon as a completion is reported.
	TickInterval time.Duration
}

const (
	DefaultMaxInProgress = 10
	DefaultQuality       = 30
	DefaultTickInterval  = 100 * time.Millisecond

	// randomNameLen is the length of generated artifact names.
	randomNameLen = 15
)

func (c Config) withDefaults() Config {
	if c.MaxInProgress <= 0 {
		c.MaxInProgress = DefaultMaxInProgress
	}
	if c.Quality <= 0 || c.Quality > 100 {
		c.Quality = DefaultQuality
	}
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.OutputDir == "" {
		c.OutputDir = "."
	}
	return c
}

// State is a task lifecycle state. States are ordered; a task only moves forward.
type State int

const (
	StateWaitingForImage State = iota
	StateWaiting
	StateInProgress
	StateCompleted
	StateCanceled
)

func (s State) String() string {
	switch s {
	case StateWaitingForImage:
		return "waiting_for_image"
	case StateWaiting:
		return "waiting"
	case StateInProgress:
		return "in_progress"
	case StateCompleted:
		return "completed"
	case StateCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition can happen from s.
func (s State) Terminal() bool { return s == StateCompleted || s == StateCanceled }

// Status is a state plus its terminal outcome.
//
// For StateCompleted exactly one of Path (success) or Err (failure) is set.
// For StateCanceled Err carries the cancellation reason.
type Status struct {
	State State
	Path  string
	Err   error
}

// Failed reports whether the status is an execution failure or a cancellation.
func (s Status) Failed() bool { return s.State.Terminal() && s.Err != nil }

// Destination is where a completed artifact is written.
type Destination struct {
	Dir  string
	Name string
}

// Transform is per-task processing applied to the payload before it is persisted.
// Implementations must not mutate the input image.
type Transform interface {
	Apply(ctx context.Context, img image.Image) (image.Image, error)
}

// TransformFunc adapts a function to Transform.
type TransformFunc func(ctx context.Context, img image.Image) (image.Image, error)

func (f TransformFunc) Apply(ctx context.Context, img image.Image) (image.Image, error) {
	return f(ctx, img)
}

// Hook is invoked after an artifact was persisted successfully.
type Hook func()

// Encoder persists a payload. It is called from worker goroutines and must be
// safe for concurrent use.
type Encoder interface {
	Encode(ctx context.Context, img image.Image, dir, name string, quality int) (path string, err error)
}

// Record is one task. Values returned by Get are copies; Payload is shared and
// must be treated as read-only.
type Record struct {
	ID          uuid.UUID
	Status      Status
	Destination Destination
	Payload     image.Image
	Transform   Transform
	Hook        Hook

	CreatedAt  time.Time
	QueuedAt   time.Time
	StartedAt  time.Time
	FinishedAt time.Time
}

// CreateOptions describes a new task. Every field is optional.
type CreateOptions struct {
	Payload   image.Image
	Name      string
	Subfolder string
	Transform Transform
	Hook      Hook
}

// TaskEvent is emitted on the event bus for task lifecycle events.
type TaskEvent struct {
	ID         string        `json:"id"`
	State      string        `json:"state"`
	Path       string        `json:"path,omitempty"`
	Error      string        `json:"error,omitempty"`
	QueueDelay time.Duration `json:"queue_delay,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`
}

// Event types published by the engine.
const (
	EventCreated   = "task.created"
	EventQueued    = "task.queued"
	EventStarted   = "task.started"
	EventCompleted = "task.completed"
	EventFailed    = "task.failed"
	EventCanceled  = "task.canceled"
	EventRemoved   = "task.removed"
)

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	MaxInProgress int            `json:"max_in_progress"`
	InFlight      int            `json:"in_flight"`
	QueueLen      int            `json:"queue_len"`
	Tasks         int            `json:"tasks"`
	ByState       map[string]int `json:"by_state"`

	Created   uint64 `json:"created"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
	Canceled  uint64 `json:"canceled"`
	Dropped   uint64 `json:"dropped_completions"`

	Workers rtsup.Counters `json:"workers"`

	Quality      int           `json:"quality"`
	OutputDir    string        `json:"output_dir"`
	TickInterval time.Duration `json:"tick_interval"`
}

// job is the worker's view of a record, detached from the table.
type job struct {
	id        uuid.UUID
	dest      Destination
	payload   image.Image
	transform Transform
	hook      Hook
	queuedAt  time.Time
	startedAt time.Time
}

// completion is one report on the completion mailbox.
type completion struct {
	id       uuid.UUID
	status   Status
	started  time.Time
	finished time.Time
}
