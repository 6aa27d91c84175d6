package progress

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/term"

	"github.com/popgen/structure-threader/internal/models"
)

// JobUI draws an overall dispatch bar on terminals and prints one line per
// finished job. On non-terminals only the lines are printed.
type JobUI struct {
	progress   *mpb.Progress
	bar        *mpb.Bar
	isTerminal bool
	out        io.Writer
	total      int
	completed  atomic.Int32
	failed     atomic.Int32
}

// NewJobUI creates the UI for a batch of total jobs of program.
func NewJobUI(total int, program models.ProgramKind) *JobUI {
	isTerminal := term.IsTerminal(int(os.Stderr.Fd()))
	return newJobUI(total, program, isTerminal, os.Stdout)
}

func newJobUI(total int, program models.ProgramKind, isTerminal bool, out io.Writer) *JobUI {
	u := &JobUI{isTerminal: isTerminal, out: out, total: total}

	if !isTerminal {
		u.progress = mpb.New(mpb.WithOutput(io.Discard))
		return u
	}

	enableANSIOnWindows(os.Stderr)
	u.progress = mpb.New(
		mpb.WithOutput(os.Stderr),
		mpb.WithRefreshRate(300*time.Millisecond),
		mpb.WithWidth(80),
	)
	u.bar = u.progress.New(int64(total),
		mpb.BarStyle().
			Lbound("[").
			Filler("█").
			Tip("█").
			Padding("░").
			Rbound("]"),
		mpb.PrependDecorators(
			decor.Name(fmt.Sprintf("%s jobs", program), decor.WCSyncSpaceR),
			decor.CountersNoUnit("%d / %d", decor.WCSyncSpace),
		),
		mpb.AppendDecorators(
			decor.Percentage(decor.WCSyncSpace),
			decor.Name("  "),
			decor.Any(func(s decor.Statistics) string {
				if n := u.failed.Load(); n > 0 {
					return fmt.Sprintf("%d failed", n)
				}
				return ""
			}, decor.WCSyncSpace),
			decor.Name("  "),
			decor.Elapsed(decor.ET_STYLE_GO, decor.WCSyncSpace),
		),
	)
	return u
}

// JobStarted announces a job. Terminals only show the bar.
func (u *JobUI) JobStarted(job models.Job, worker int) {
	if !u.isTerminal {
		fmt.Fprintf(u.out, "Running %s on worker %d\n", job.Name(), worker)
	}
}

// JobFinished advances the bar and prints a ✓ or ✗ line for the job.
func (u *JobUI) JobFinished(outcome models.WorkerOutcome) {
	var msg string
	if outcome.Succeeded() {
		msg = fmt.Sprintf("✓ %s (%s)\n", outcome.Job.Name(), outcome.Duration.Round(time.Second))
	} else {
		u.failed.Add(1)
		msg = fmt.Sprintf("✗ %s: exit code %d, see %s\n", outcome.Job.Name(), outcome.ExitCode, outcome.ArtifactPath)
	}
	u.completed.Add(1)

	// Write through mpb's writer (not stdout) to avoid breaking redraws
	if u.isTerminal {
		u.progress.Write([]byte(msg))
		u.bar.Increment()
	} else {
		fmt.Fprint(u.out, msg)
	}
}

// Wait blocks until the bar has been drawn to completion. A bar that
// cannot complete (cancelled batch) is aborted first so Wait returns.
func (u *JobUI) Wait() {
	if u.bar != nil && int(u.completed.Load()) < u.total {
		u.bar.Abort(false)
	}
	u.progress.Wait()
}

// Writer returns an io.Writer that safely prints above the progress bar.
func (u *JobUI) Writer() io.Writer {
	if u.isTerminal {
		return u.progress
	}
	return u.out
}

// Completed returns the number of finished jobs.
func (u *JobUI) Completed() int {
	return int(u.completed.Load())
}

// Failed returns the number of failed jobs.
func (u *JobUI) Failed() int {
	return int(u.failed.Load())
}
