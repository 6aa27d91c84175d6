//go:build !windows

package dispatch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/popgen/structure-threader/internal/command"
	"github.com/popgen/structure-threader/internal/config"
	"github.com/popgen/structure-threader/internal/models"
)

// writeScript creates an executable /bin/sh script standing in for STRUCTURE.
func writeScript(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "fake-structure")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func newRunner(t *testing.T, script string, log bool) (*ExecRunner, string) {
	t.Helper()
	out := t.TempDir()
	cfg := config.RunConfiguration{
		ExternalProgram: script,
		InputFile:       "/dev/null",
		OutputDir:       out,
		Program:         models.Structure,
		Log:             log,
	}
	b, err := command.For(models.Structure)
	if err != nil {
		t.Fatal(err)
	}
	jc, err := b.Prepare(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return NewExecRunner(b, jc, nil), out
}

func TestExecRunner_Success(t *testing.T) {
	script := writeScript(t, t.TempDir(), `echo "running $2"`)
	r, out := newRunner(t, script, false)

	o := r.Run(context.Background(), models.Job{K: 2, Replicate: 1}, 0)
	if !o.Succeeded() {
		t.Fatalf("Expected success, got %+v", o)
	}
	if o.ArtifactPath != "" {
		t.Errorf("Expected no artifact path on success, got %s", o.ArtifactPath)
	}
	if _, err := os.Stat(filepath.Join(out, "K2_rep1.stlog")); !os.IsNotExist(err) {
		t.Error("No log expected when logging is off and the job succeeds")
	}
}

func TestExecRunner_SuccessWithLog(t *testing.T) {
	script := writeScript(t, t.TempDir(), `echo "out"; echo "err" >&2`)
	r, out := newRunner(t, script, true)

	o := r.Run(context.Background(), models.Job{K: 3, Replicate: 2}, 0)
	if !o.Succeeded() {
		t.Fatalf("Expected success, got %+v", o)
	}
	data, err := os.ReadFile(filepath.Join(out, "K3_rep2.stlog"))
	if err != nil {
		t.Fatalf("Expected log file: %v", err)
	}
	if string(data) != "out\nerr\n" {
		t.Errorf("Expected stdout then stderr, got %q", data)
	}
}

func TestExecRunner_FailureForcesLog(t *testing.T) {
	script := writeScript(t, t.TempDir(), `echo "bad input" >&2; exit 3`)
	r, out := newRunner(t, script, false)

	o := r.Run(context.Background(), models.Job{K: 4, Replicate: 1}, 0)
	if o.Succeeded() {
		t.Fatal("Expected failure")
	}
	if o.ExitCode != 3 {
		t.Errorf("Expected exit code 3, got %d", o.ExitCode)
	}
	if o.ArtifactPath != filepath.Join(out, "str_K4_rep1") {
		t.Errorf("Expected artifact path of the output, got %s", o.ArtifactPath)
	}
	if o.LogPath != filepath.Join(out, "K4_rep1.stlog") {
		t.Errorf("Expected log path, got %s", o.LogPath)
	}
	data, _ := os.ReadFile(o.LogPath)
	if !strings.Contains(string(data), "bad input") {
		t.Errorf("Expected stderr in log, got %q", data)
	}
}

func TestExecRunner_MissingProgram(t *testing.T) {
	r, _ := newRunner(t, filepath.Join(t.TempDir(), "missing"), false)
	o := r.Run(context.Background(), models.Job{K: 1, Replicate: 1}, 0)
	if o.Succeeded() || o.Err == nil {
		t.Errorf("Expected failure with error, got %+v", o)
	}
}

func TestExecRunner_Cancellation(t *testing.T) {
	script := writeScript(t, t.TempDir(), `sleep 30`)
	r, _ := newRunner(t, script, false)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	o := r.Run(ctx, models.Job{K: 2, Replicate: 1}, 0)
	if time.Since(start) > 10*time.Second {
		t.Errorf("Cancellation took too long: %v", time.Since(start))
	}
	if !errors.Is(o.Err, ErrCancelled) {
		t.Errorf("Expected ErrCancelled, got %v", o.Err)
	}
}

func TestDispatchWithExecRunner(t *testing.T) {
	script := writeScript(t, t.TempDir(), `
case "$2" in
  3) exit 1 ;;
esac
exit 0`)
	r, _ := newRunner(t, script, false)

	batchJobs := []models.Job{{K: 3, Replicate: 1}, {K: 2, Replicate: 1}, {K: 1, Replicate: 1}}
	result := Dispatch(context.Background(), batchJobs, 2, r.Run)

	if len(result) != 3 {
		t.Fatalf("Expected 3 outcomes, got %d", len(result))
	}
	failures := 0
	for _, o := range result {
		if !o.Succeeded() {
			failures++
			if o.Job.K != 3 {
				t.Errorf("Only K=3 should fail, got %s", o.Job.Name())
			}
		}
	}
	if failures != 1 {
		t.Errorf("Expected 1 failure, got %d", failures)
	}
}
