// Package dispatch runs a batch of jobs on a fixed pool of workers.
//
// Every submitted job yields exactly one outcome. Failures are values and
// never stop sibling jobs. On cancellation, jobs that never started are
// recorded as failures wrapping ErrCancelled.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/popgen/structure-threader/internal/constants"
	"github.com/popgen/structure-threader/internal/events"
	"github.com/popgen/structure-threader/internal/logging"
	"github.com/popgen/structure-threader/internal/models"
	"github.com/popgen/structure-threader/internal/resources"
)

// ErrCancelled marks jobs stopped or never started because the run was
// cancelled.
var ErrCancelled = errors.New("job cancelled")

// RunFunc executes one job to completion. It must always return an
// outcome; errors belong in the outcome.
type RunFunc func(ctx context.Context, job models.Job, worker int) models.WorkerOutcome

// Observer is told about every job that starts and finishes.
type Observer interface {
	JobStarted(job models.Job, worker int)
	JobFinished(outcome models.WorkerOutcome)
}

// Dispatcher owns the collaborators of a dispatch: logging, the event bus,
// worker tracking and observers.
type Dispatcher struct {
	logger         *logging.Logger
	eventBus       *events.EventBus
	resources      *resources.Manager
	observers      []Observer
	runID          string
	reportInterval time.Duration
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger used for periodic progress lines.
func WithLogger(l *logging.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithEventBus publishes job start and finish events to bus.
func WithEventBus(bus *events.EventBus) Option {
	return func(d *Dispatcher) { d.eventBus = bus }
}

// WithResourceManager records running jobs in m.
func WithResourceManager(m *resources.Manager) Option {
	return func(d *Dispatcher) { d.resources = m }
}

// WithObserver adds an observer such as the terminal job UI.
func WithObserver(o Observer) Option {
	return func(d *Dispatcher) { d.observers = append(d.observers, o) }
}

// WithRunID stamps events with the run identifier.
func WithRunID(id string) Option {
	return func(d *Dispatcher) { d.runID = id }
}

// New creates a Dispatcher.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		logger:         logging.NewNopLogger(),
		reportInterval: constants.ProgressReportInterval,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch runs jobs with a default Dispatcher.
func Dispatch(ctx context.Context, jobs []models.Job, threads int, run RunFunc) models.JobBatchResult {
	return New().Dispatch(ctx, jobs, threads, run)
}

type batch struct {
	mu       sync.Mutex
	outcomes models.JobBatchResult
	started  []bool
}

func (b *batch) markStarted(i int) {
	b.mu.Lock()
	b.started[i] = true
	b.mu.Unlock()
}

func (b *batch) add(o models.WorkerOutcome) {
	b.mu.Lock()
	b.outcomes = append(b.outcomes, o)
	b.mu.Unlock()
}

// Dispatch runs every job on threads workers and blocks until each has an
// outcome. Jobs are handed out in submission order. Outcomes are returned
// in completion order.
func (d *Dispatcher) Dispatch(ctx context.Context, jobs []models.Job, threads int, run RunFunc) models.JobBatchResult {
	if threads < 1 {
		threads = 1
	}
	start := time.Now()
	b := &batch{
		outcomes: make(models.JobBatchResult, 0, len(jobs)),
		started:  make([]bool, len(jobs)),
	}

	queue := make(chan int)
	var wg sync.WaitGroup

	for i := 0; i < threads; i++ {
		wg.Add(1)
		go d.worker(ctx, &wg, i, jobs, queue, b, run)
	}

	stopProgress := make(chan struct{})
	reporterDone := make(chan struct{})
	go func() {
		defer close(reporterDone)
		d.progressReporter(stopProgress, b, len(jobs))
	}()

	// Feed jobs in submission order (context-aware to support cancellation)
	go func() {
		defer close(queue)
		for i := range jobs {
			select {
			case <-ctx.Done():
				return
			case queue <- i:
			}
		}
	}()

	wg.Wait()
	close(stopProgress)
	<-reporterDone

	// Jobs that never reached a worker still need an outcome
	for i, job := range jobs {
		if b.started[i] {
			continue
		}
		o := models.WorkerOutcome{Job: job, Status: models.StatusFailure, Err: ErrCancelled}
		b.add(o)
		d.notifyFinished(o, -1)
	}

	succeeded := 0
	for _, o := range b.outcomes {
		if o.Succeeded() {
			succeeded++
		}
	}
	d.eventBus.Publish(&events.CompleteEvent{
		BaseEvent:   events.BaseEvent{EventType: events.EventComplete, Time: time.Now()},
		RunID:       d.runID,
		TotalJobs:   len(jobs),
		SuccessJobs: succeeded,
		FailedJobs:  len(b.outcomes) - succeeded,
		Duration:    time.Since(start),
	})

	return b.outcomes
}

// worker runs one job at a time until the queue closes or ctx is done.
func (d *Dispatcher) worker(ctx context.Context, wg *sync.WaitGroup, workerID int, jobs []models.Job, queue <-chan int, b *batch, run RunFunc) {
	defer wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case i, ok := <-queue:
			if !ok {
				return
			}
			// A cancelled context may still hand us a queued job
			if ctx.Err() != nil {
				return
			}
			job := jobs[i]
			b.markStarted(i)
			d.notifyStarted(job, workerID)

			began := time.Now()
			o := run(ctx, job, workerID)
			o.Job = job
			if o.Duration == 0 {
				o.Duration = time.Since(began)
			}

			b.add(o)
			d.notifyFinished(o, workerID)
		}
	}
}

func (d *Dispatcher) notifyStarted(job models.Job, worker int) {
	if d.resources != nil {
		d.resources.Acquire(job.Name(), worker)
	}
	d.eventBus.PublishJob(events.JobEvent{
		RunID:     d.runID,
		JobName:   job.Name(),
		K:         job.K,
		Replicate: job.Replicate,
		Worker:    worker,
	}, false)
	for _, o := range d.observers {
		o.JobStarted(job, worker)
	}
}

func (d *Dispatcher) notifyFinished(o models.WorkerOutcome, worker int) {
	if d.resources != nil {
		d.resources.Release(o.Job.Name())
	}
	d.eventBus.PublishJob(events.JobEvent{
		RunID:     d.runID,
		JobName:   o.Job.Name(),
		K:         o.Job.K,
		Replicate: o.Job.Replicate,
		Worker:    worker,
		Success:   o.Succeeded(),
		ExitCode:  o.ExitCode,
		Duration:  o.Duration,
	}, true)
	for _, obs := range d.observers {
		obs.JobFinished(o)
	}
}

// progressReporter logs overall progress every reportInterval.
func (d *Dispatcher) progressReporter(stop chan struct{}, b *batch, total int) {
	ticker := time.NewTicker(d.reportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.mu.Lock()
			done := len(b.outcomes)
			b.mu.Unlock()

			if d.resources != nil {
				stats := d.resources.GetStats()
				d.logger.Info().
					Int("completed", done).
					Int("total", total).
					Int("active", stats.ActiveThreads).
					Dur("longest", stats.LongestRunning.Round(time.Second)).
					Msg("Dispatch progress")
			} else {
				d.logger.Info().Int("completed", done).Int("total", total).Msg("Dispatch progress")
			}
		case <-stop:
			return
		}
	}
}
