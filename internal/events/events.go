package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/popgen/structure-threader/internal/constants"
)

// EventType defines the types of events that can be emitted
type EventType string

const (
	EventProgress    EventType = "progress"
	EventLog         EventType = "log"
	EventStateChange EventType = "state_change"
	EventError       EventType = "error"
	EventComplete    EventType = "complete"

	// Per-job dispatcher events
	EventJobStarted  EventType = "job_started"
	EventJobFinished EventType = "job_finished"
)

// LogLevel defines log severity levels
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

func (l LogLevel) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Event is the base interface for all events
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides common event fields
type BaseEvent struct {
	EventType EventType
	Time      time.Time
}

func (e BaseEvent) Type() EventType      { return e.EventType }
func (e BaseEvent) Timestamp() time.Time { return e.Time }

func newBase(t EventType) BaseEvent {
	return BaseEvent{EventType: t, Time: time.Now()}
}

// ProgressEvent represents progress updates
type ProgressEvent struct {
	BaseEvent
	JobName      string
	Stage        string  // "convert", "dispatch", "archive", "upload"
	Progress     float64 // 0.0 to 1.0
	BytesCurrent int64
	BytesTotal   int64
	Message      string
}

// LogEvent represents log messages
type LogEvent struct {
	BaseEvent
	Level   LogLevel
	Message string
	Stage   string
	JobName string
	Error   error
}

// StateChangeEvent represents pipeline state transitions
type StateChangeEvent struct {
	BaseEvent
	RunID     string
	OldState  string
	NewState  string
	Message   string
}

// ErrorEvent represents a stage level error condition
type ErrorEvent struct {
	BaseEvent
	JobName string
	Stage   string
	Error   error
}

// JobEvent reports a single job starting or finishing.
type JobEvent struct {
	BaseEvent
	RunID     string
	JobName   string
	K         int
	Replicate int
	Worker    int
	Success   bool // only meaningful for EventJobFinished
	ExitCode  int
	Duration  time.Duration
}

// CompleteEvent represents dispatch completion
type CompleteEvent struct {
	BaseEvent
	RunID       string
	TotalJobs   int
	SuccessJobs int
	FailedJobs  int
	Duration    time.Duration
}

// EventBus manages event subscriptions and publishing
type EventBus struct {
	subscribers   map[EventType][]chan Event
	all           []chan Event // Subscribers to all events
	mu            sync.RWMutex
	bufferSize    int
	closed        bool
	droppedEvents atomic.Int64 // Count of dropped events due to full buffers
}

// NewEventBus creates a new event bus with specified buffer size
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = constants.EventBusDefaultBuffer
	}
	if bufferSize > constants.EventBusMaxBuffer {
		bufferSize = constants.EventBusMaxBuffer
	}
	return &EventBus{
		subscribers: make(map[EventType][]chan Event),
		all:         make([]chan Event, 0),
		bufferSize:  bufferSize,
	}
}

// Subscribe creates a subscription to a specific event type
func (eb *EventBus) Subscribe(eventType EventType) <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, eb.bufferSize)
	eb.subscribers[eventType] = append(eb.subscribers[eventType], ch)
	return ch
}

// SubscribeAll creates a subscription to all events
func (eb *EventBus) SubscribeAll() <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, eb.bufferSize)
	eb.all = append(eb.all, ch)
	return ch
}

// Publish sends an event to all subscribers. It never blocks: when a
// subscriber's buffer is full the event is dropped and counted.
func (eb *EventBus) Publish(event Event) {
	if eb == nil {
		return
	}
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.closed {
		return
	}

	for _, ch := range eb.subscribers[event.Type()] {
		select {
		case ch <- event:
		default:
			eb.droppedEvents.Add(1)
		}
	}

	for _, ch := range eb.all {
		select {
		case ch <- event:
		default:
			eb.droppedEvents.Add(1)
		}
	}
}

// Close shuts down the event bus and closes all channels
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	eb.closed = true

	for _, channels := range eb.subscribers {
		for _, ch := range channels {
			close(ch)
		}
	}

	for _, ch := range eb.all {
		close(ch)
	}
}

// PublishLog is a convenience method for publishing log events
func (eb *EventBus) PublishLog(level LogLevel, message, stage, jobName string, err error) {
	eb.Publish(&LogEvent{
		BaseEvent: newBase(EventLog),
		Level:     level,
		Message:   message,
		Stage:     stage,
		JobName:   jobName,
		Error:     err,
	})
}

// PublishProgress is a convenience method for publishing progress events
func (eb *EventBus) PublishProgress(jobName, stage string, progress float64, message string) {
	eb.Publish(&ProgressEvent{
		BaseEvent: newBase(EventProgress),
		JobName:   jobName,
		Stage:     stage,
		Progress:  progress,
		Message:   message,
	})
}

// PublishStateChange is a convenience method for publishing pipeline transitions
func (eb *EventBus) PublishStateChange(runID, oldState, newState, message string) {
	eb.Publish(&StateChangeEvent{
		BaseEvent: newBase(EventStateChange),
		RunID:     runID,
		OldState:  oldState,
		NewState:  newState,
		Message:   message,
	})
}

// PublishJob publishes a job start (finished=false) or finish event.
func (eb *EventBus) PublishJob(ev JobEvent, finished bool) {
	if finished {
		ev.BaseEvent = newBase(EventJobFinished)
	} else {
		ev.BaseEvent = newBase(EventJobStarted)
	}
	eb.Publish(&ev)
}

// Unsubscribe removes a subscription channel from a specific event type
// This prevents memory leaks from abandoned subscriptions
func (eb *EventBus) Unsubscribe(eventType EventType, ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	subscribers := eb.subscribers[eventType]
	for i, subCh := range subscribers {
		if subCh == ch {
			// Remove channel by replacing with last element and truncating
			subscribers[i] = subscribers[len(subscribers)-1]
			eb.subscribers[eventType] = subscribers[:len(subscribers)-1]
			break
		}
	}
}

// GetDroppedEventCount returns the total number of events dropped due to full buffers
func (eb *EventBus) GetDroppedEventCount() int64 {
	return eb.droppedEvents.Load()
}
