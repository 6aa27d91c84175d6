// Package progress provides progress reporting for long running steps:
// byte progress for input conversion and archiving, and a multi-bar view
// of job dispatch.
package progress

import (
	"fmt"
	"io"
	"os"

	"github.com/schollz/progressbar/v3"

	"github.com/popgen/structure-threader/internal/events"
)

// Reporter is the interface for reporting byte progress.
type Reporter interface {
	Start(total int64, description string)
	Update(current int64)
	Finish()
	Error(err error)
	SetDescription(desc string)
}

// CLIProgress implements progress reporting for CLI mode using progress bars.
type CLIProgress struct {
	bar *progressbar.ProgressBar
	out io.Writer
}

// NewCLIProgress creates a new CLI progress reporter writing to stderr.
func NewCLIProgress() *CLIProgress {
	return &CLIProgress{out: os.Stderr}
}

// Start initializes the progress bar with total size and description.
func (p *CLIProgress) Start(total int64, description string) {
	p.bar = progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(p.out),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(50),
		progressbar.OptionThrottle(100),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(p.out, "\n")
		}),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// Update updates the progress bar to the current position.
func (p *CLIProgress) Update(current int64) {
	if p.bar != nil {
		_ = p.bar.Set64(current)
	}
}

// Finish completes the progress bar.
func (p *CLIProgress) Finish() {
	if p.bar != nil {
		_ = p.bar.Finish()
	}
}

// Error displays an error message.
func (p *CLIProgress) Error(err error) {
	if err != nil {
		fmt.Fprintf(p.out, "\nError: %v\n", err)
	}
}

// SetDescription updates the progress bar description.
func (p *CLIProgress) SetDescription(desc string) {
	if p.bar != nil {
		p.bar.Describe(desc)
	}
}

// BusProgress publishes progress on the event bus instead of drawing.
type BusProgress struct {
	eventBus *events.EventBus
	stage    string
	total    int64
	current  int64
}

// NewBusProgress creates a reporter publishing under stage.
func NewBusProgress(eventBus *events.EventBus, stage string) *BusProgress {
	return &BusProgress{eventBus: eventBus, stage: stage}
}

// Start initializes progress tracking.
func (p *BusProgress) Start(total int64, description string) {
	p.total = total
	p.current = 0
	p.publish(description)
}

// Update publishes progress update to event bus.
func (p *BusProgress) Update(current int64) {
	p.current = current
	p.publish("")
}

// Finish publishes completion event.
func (p *BusProgress) Finish() {
	p.current = p.total
	p.publish("")
}

// Error publishes error event.
func (p *BusProgress) Error(err error) {
	if err != nil {
		p.eventBus.Publish(&events.ErrorEvent{
			BaseEvent: events.BaseEvent{EventType: events.EventError},
			Stage:     p.stage,
			Error:     err,
		})
	}
}

// SetDescription updates the stage description.
func (p *BusProgress) SetDescription(desc string) {
	p.publish(desc)
}

func (p *BusProgress) publish(msg string) {
	var fraction float64
	if p.total > 0 {
		fraction = float64(p.current) / float64(p.total)
	}
	p.eventBus.Publish(&events.ProgressEvent{
		BaseEvent:    events.BaseEvent{EventType: events.EventProgress},
		Stage:        p.stage,
		Progress:     fraction,
		BytesCurrent: p.current,
		BytesTotal:   p.total,
		Message:      msg,
	})
}

// NoOpProgress is a progress reporter that does nothing (for background/silent operations).
type NoOpProgress struct{}

// NewNoOpProgress creates a new no-op progress reporter.
func NewNoOpProgress() *NoOpProgress {
	return &NoOpProgress{}
}

func (p *NoOpProgress) Start(total int64, description string) {}
func (p *NoOpProgress) Update(current int64)                  {}
func (p *NoOpProgress) Finish()                               {}
func (p *NoOpProgress) Error(err error)                       {}
func (p *NoOpProgress) SetDescription(desc string)            {}

// ProgressReader wraps an io.Reader to report progress.
type ProgressReader struct {
	reader   io.Reader
	reporter Reporter
	total    int64
	current  int64
}

// NewProgressReader creates a new progress-reporting reader.
func NewProgressReader(reader io.Reader, total int64, reporter Reporter) *ProgressReader {
	return &ProgressReader{
		reader:   reader,
		reporter: reporter,
		total:    total,
	}
}

// Read implements io.Reader interface with progress reporting.
func (pr *ProgressReader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	pr.current += int64(n)
	pr.reporter.Update(pr.current)
	return n, err
}
