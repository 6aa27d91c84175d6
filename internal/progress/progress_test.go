package progress

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/popgen/structure-threader/internal/events"
	"github.com/popgen/structure-threader/internal/models"
)

type recordingReporter struct {
	NoOpProgress
	updates []int64
}

func (r *recordingReporter) Update(current int64) { r.updates = append(r.updates, current) }

func TestProgressReader(t *testing.T) {
	rep := &recordingReporter{}
	pr := NewProgressReader(strings.NewReader("0123456789"), 10, rep)

	buf := make([]byte, 4)
	for {
		if _, err := pr.Read(buf); err != nil {
			break
		}
	}

	if len(rep.updates) == 0 || rep.updates[len(rep.updates)-1] != 10 {
		t.Errorf("Expected final update of 10 bytes, got %v", rep.updates)
	}
}

func TestBusProgress(t *testing.T) {
	bus := events.NewEventBus(10)
	defer bus.Close()
	ch := bus.Subscribe(events.EventProgress)

	p := NewBusProgress(bus, "convert")
	p.Start(200, "Converting input.vcf")
	p.Update(50)

	<-ch // start
	select {
	case ev := <-ch:
		pe := ev.(*events.ProgressEvent)
		if pe.Progress != 0.25 {
			t.Errorf("Expected 0.25, got %f", pe.Progress)
		}
		if pe.Stage != "convert" {
			t.Errorf("Expected stage convert, got %s", pe.Stage)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Timeout waiting for progress event")
	}

	errCh := bus.Subscribe(events.EventError)
	p.Error(errors.New("disk full"))
	select {
	case <-errCh:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Timeout waiting for error event")
	}
}

func TestJobUINonTerminal(t *testing.T) {
	var out bytes.Buffer
	ui := newJobUI(2, models.Structure, false, &out)

	ui.JobStarted(models.Job{K: 2, Replicate: 1}, 0)
	ui.JobFinished(models.WorkerOutcome{Job: models.Job{K: 2, Replicate: 1}, Status: models.StatusSuccess})
	ui.JobFinished(models.WorkerOutcome{
		Job:          models.Job{K: 3, Replicate: 1},
		Status:       models.StatusFailure,
		ExitCode:     1,
		ArtifactPath: "/out/str_K3_rep1",
	})
	ui.Wait()

	s := out.String()
	if !strings.Contains(s, "Running K2_rep1 on worker 0") {
		t.Errorf("Expected running line, got %q", s)
	}
	if !strings.Contains(s, "✓ K2_rep1") || !strings.Contains(s, "✗ K3_rep1") {
		t.Errorf("Expected success and failure lines, got %q", s)
	}
	if ui.Completed() != 2 || ui.Failed() != 1 {
		t.Errorf("Expected 2 completed and 1 failed, got %d/%d", ui.Completed(), ui.Failed())
	}
	if ui.Writer() != &out {
		t.Error("Writer should be the plain output on non-terminals")
	}
}
