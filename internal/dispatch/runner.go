package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/popgen/structure-threader/internal/command"
	"github.com/popgen/structure-threader/internal/constants"
	"github.com/popgen/structure-threader/internal/logging"
	"github.com/popgen/structure-threader/internal/models"
)

// ExecRunner runs jobs as subprocesses built by a command.Builder.
type ExecRunner struct {
	builder command.Builder
	jc      command.JobContext
	logger  *logging.Logger
}

// NewExecRunner creates a runner for the prepared job context.
func NewExecRunner(builder command.Builder, jc command.JobContext, logger *logging.Logger) *ExecRunner {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &ExecRunner{builder: builder, jc: jc, logger: logger}
}

// LogPath returns the per-job log file location.
func LogPath(outDir string, job models.Job) string {
	return filepath.Join(outDir, job.Name()+constants.JobLogExtension)
}

// Run builds and executes the command for job. It satisfies RunFunc.
func (r *ExecRunner) Run(ctx context.Context, job models.Job, worker int) models.WorkerOutcome {
	outcome := models.WorkerOutcome{Job: job, Status: models.StatusFailure, ExitCode: -1}
	cfg := r.jc.Config

	cmd, err := r.builder.Build(r.jc, job)
	if err != nil {
		outcome.Err = fmt.Errorf("failed to build command for %s: %w", job.Name(), err)
		return outcome
	}
	outcome.ArtifactPath = cmd.OutputPath

	if err := command.EnsureDirs(cmd); err != nil {
		outcome.Err = err
		return outcome
	}

	r.logger.Debug().Int("worker", worker).Strs("argv", cmd.Argv()).Msgf("Starting %s", job.Name())

	var stdout, stderr bytes.Buffer
	c := exec.CommandContext(ctx, cmd.Program, cmd.Args...)
	c.Stdout = &stdout
	c.Stderr = &stderr
	setProcessGroup(c)
	c.Cancel = func() error { return terminateProcessGroup(c.Process) }
	c.WaitDelay = constants.KillGracePeriod

	start := time.Now()
	runErr := c.Run()
	outcome.Duration = time.Since(start)

	var exitErr *exec.ExitError
	switch {
	case runErr == nil:
		outcome.ExitCode = 0
	case errors.As(runErr, &exitErr):
		outcome.ExitCode = exitErr.ExitCode()
	}

	failed := runErr != nil
	if failed {
		outcome.Err = runErr
		if ctx.Err() != nil {
			outcome.Err = fmt.Errorf("%w: %v", ErrCancelled, runErr)
		}
	} else {
		outcome.Status = models.StatusSuccess
		outcome.ArtifactPath = ""
	}

	// The failing job gets a log even when logging is off
	if failed || cfg.Log {
		logPath := LogPath(cfg.OutputDir, job)
		if err := writeJobLog(logPath, stdout.Bytes(), stderr.Bytes()); err != nil {
			r.logger.Warnf("Could not write log for %s: %v", job.Name(), err)
		} else {
			outcome.LogPath = logPath
		}
	}

	return outcome
}

func writeJobLog(path string, stdout, stderr []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := f.Write(stdout); err != nil {
		f.Close()
		return err
	}
	if _, err := f.Write(stderr); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
