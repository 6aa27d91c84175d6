package progress

import (
	"time"

	"github.com/popgen/structure-threader/internal/events"
	"github.com/popgen/structure-threader/internal/logging"
)

// RunWatcher logs what the pipeline publishes on an event bus: state
// transitions and per-job events at debug level, the dispatch summary at
// info level.
type RunWatcher struct {
	done chan struct{}
}

// WatchRun starts consuming bus. The watcher stops once the bus is closed;
// call Wait after Close to flush the remaining lines.
func WatchRun(bus *events.EventBus, log *logging.Logger) *RunWatcher {
	w := &RunWatcher{done: make(chan struct{})}
	ch := bus.SubscribeAll()
	go func() {
		defer close(w.done)
		for ev := range ch {
			logEvent(log, ev)
		}
	}()
	return w
}

// Wait blocks until every event received before the bus closed is logged.
func (w *RunWatcher) Wait() {
	<-w.done
}

func logEvent(log *logging.Logger, ev events.Event) {
	switch e := ev.(type) {
	case *events.StateChangeEvent:
		if e.Message != "" {
			log.Debugf("Pipeline %s -> %s (%s)", e.OldState, e.NewState, e.Message)
		} else {
			log.Debugf("Pipeline %s -> %s", e.OldState, e.NewState)
		}
	case *events.JobEvent:
		if e.Type() == events.EventJobStarted {
			log.Debugf("Job %s started on worker %d", e.JobName, e.Worker)
			return
		}
		status := "succeeded"
		if !e.Success {
			status = "failed"
		}
		log.Debug().Str("job", e.JobName).Int("exit_code", e.ExitCode).
			Dur("duration", e.Duration.Round(time.Millisecond)).Msgf("Job %s %s", e.JobName, status)
	case *events.CompleteEvent:
		log.Info().Int("total", e.TotalJobs).Int("succeeded", e.SuccessJobs).Int("failed", e.FailedJobs).
			Dur("elapsed", e.Duration.Round(time.Second)).Msg("Dispatch complete")
	case *events.ErrorEvent:
		log.Debugf("%s error: %v", e.Stage, e.Error)
	}
}
