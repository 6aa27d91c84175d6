package state

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gocarina/gocsv"

	"github.com/popgen/structure-threader/internal/models"
)

func readStateFile(t *testing.T, path string) []*JobState {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Failed to open state file: %v", err)
	}
	defer f.Close()
	var rows []*JobState
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		t.Fatalf("Failed to read state file: %v", err)
	}
	return rows
}

func TestManager_RecordBatchWritesFile(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir, "run-1")

	jobs := []models.Job{
		models.Job{K: 3, Replicate: 1}.WithSeed("2153978"),
		models.Job{K: 2, Replicate: 1}.WithSeed("940261"),
	}
	m.Initialize(jobs)
	if got := m.CountByStatus(StatusPending); got != 2 {
		t.Errorf("Expected 2 pending jobs, got %d", got)
	}

	batch := models.JobBatchResult{
		{Job: jobs[1], Status: models.StatusSuccess, Duration: 2 * time.Second},
		{Job: jobs[0], Status: models.StatusFailure, ExitCode: 1, ArtifactPath: "/out/str_K3_rep1",
			LogPath: "/out/K3_rep1.stlog", Err: errors.New("exit status 1")},
	}
	if err := m.RecordBatch(batch); err != nil {
		t.Fatalf("RecordBatch failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "threader_state.csv")); err != nil {
		t.Fatalf("Expected state file: %v", err)
	}
	if _, err := os.Stat(m.Path() + ".tmp"); !os.IsNotExist(err) {
		t.Error("Temp file should not remain after save")
	}

	rows := readStateFile(t, m.Path())
	if len(rows) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(rows))
	}
	if rows[0].JobName != "K3_rep1" || rows[0].Status != StatusFailure || rows[0].ExitCode != 1 {
		t.Errorf("Unexpected first row %+v", rows[0])
	}
	if rows[0].Error != "exit status 1" || rows[0].RunID != "run-1" {
		t.Errorf("Unexpected failure details %+v", rows[0])
	}
	if rows[1].JobName != "K2_rep1" || rows[1].Seed != "940261" || rows[1].DurationSec != 2 {
		t.Errorf("Unexpected success row %+v", rows[1])
	}

	s, ok := m.Get("K2_rep1")
	if !ok || s.Status != StatusSuccess {
		t.Errorf("Expected K2_rep1 to be recorded as success, got %+v", s)
	}
}

