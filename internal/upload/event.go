package upload

import (
	"context"
	"time"
)

// State is the lifecycle position of a pipeline.
type State int

const (
	Idle State = iota
	Starting
	InProgress
	Completed
	Failed
	Cancelled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case InProgress:
		return "in_progress"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	}
	return "unknown"
}

// Busy reports whether an upload is in flight.
func (s State) Busy() bool {
	return s == Starting || s == InProgress
}

// EventKind identifies an upload notification.
type EventKind int

const (
	EventStarted EventKind = iota
	EventProgress
	EventCompleted
	EventFailedToStart
	EventFailed
	EventCancelled
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventProgress:
		return "progress"
	case EventCompleted:
		return "completed"
	case EventFailedToStart:
		return "failed_to_start"
	case EventFailed:
		return "failed"
	case EventCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Terminal reports whether no further events follow for the same upload.
func (k EventKind) Terminal() bool {
	return k == EventCompleted || k == EventFailedToStart || k == EventFailed || k == EventCancelled
}

// Event is delivered to the Observer. Progress is set for EventProgress,
// Err for EventFailedToStart and EventFailed.
type Event struct {
	Kind     EventKind
	Token    string
	Progress float64
	Err      error
}

// Observer receives upload events. Calls are serialized. An observer may
// call Begin from inside HandleUploadEvent but must not call CancelCurrent
// synchronously; hand that to another goroutine.
type Observer interface {
	HandleUploadEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) HandleUploadEvent(e Event) { f(e) }

// Record describes a finished upload attempt.
type Record struct {
	Token      string
	Kind       EventKind
	Err        error
	BytesTotal int64
	StartedAt  time.Time
	FinishedAt time.Time
}

// Recorder persists finished attempts, e.g. into the upload journal.
type Recorder interface {
	RecordUpload(ctx context.Context, r Record) error
}
