// Package state persists the outcome of every job of a run to a CSV file
// in the output directory, so a sweep can be inspected after the fact.
package state

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gocarina/gocsv"

	"github.com/popgen/structure-threader/internal/constants"
	"github.com/popgen/structure-threader/internal/models"
)

// Job statuses written to the state file.
const (
	StatusPending = "pending"
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// JobState is one row of the state file.
type JobState struct {
	RunID       string  `csv:"run_id"`
	JobName     string  `csv:"job"`
	K           int     `csv:"k"`
	Replicate   int     `csv:"replicate"`
	Seed        string  `csv:"seed"`
	Status      string  `csv:"status"`
	ExitCode    int     `csv:"exit_code"`
	OutputPath  string  `csv:"output"`
	LogPath     string  `csv:"log"`
	DurationSec float64 `csv:"duration_s"`
	Error       string  `csv:"error"`
	LastUpdated string  `csv:"last_updated"`
}

// Manager keeps job states in memory and writes them atomically.
type Manager struct {
	filePath string
	runID    string
	states   map[string]*JobState
	mu       sync.RWMutex
}

// NewManager creates a manager for the state file of outDir.
func NewManager(outDir, runID string) *Manager {
	return NewManagerWithPath(filepath.Join(outDir, constants.StateFileName), runID)
}

// NewManagerWithPath creates a manager writing to an explicit file.
func NewManagerWithPath(filePath, runID string) *Manager {
	return &Manager{
		filePath: filePath,
		runID:    runID,
		states:   make(map[string]*JobState),
	}
}

// Path returns the state file location.
func (m *Manager) Path() string {
	return m.filePath
}

// Initialize records every job as pending.
func (m *Manager) Initialize(jobs []models.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().Format(time.RFC3339)
	for _, job := range jobs {
		m.states[job.Name()] = &JobState{
			RunID:       m.runID,
			JobName:     job.Name(),
			K:           job.K,
			Replicate:   job.Replicate,
			Seed:        job.Seed,
			Status:      StatusPending,
			LastUpdated: now,
		}
	}
}

// Record stores the outcome of a job.
func (m *Manager) Record(outcome models.WorkerOutcome) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := &JobState{
		RunID:       m.runID,
		JobName:     outcome.Job.Name(),
		K:           outcome.Job.K,
		Replicate:   outcome.Job.Replicate,
		Seed:        outcome.Job.Seed,
		Status:      StatusSuccess,
		ExitCode:    outcome.ExitCode,
		OutputPath:  outcome.ArtifactPath,
		LogPath:     outcome.LogPath,
		DurationSec: outcome.Duration.Seconds(),
		LastUpdated: time.Now().Format(time.RFC3339),
	}
	if !outcome.Succeeded() {
		s.Status = StatusFailure
	}
	if outcome.Err != nil {
		s.Error = outcome.Err.Error()
	}
	m.states[s.JobName] = s
}

// RecordBatch stores every outcome of batch and saves the file.
func (m *Manager) RecordBatch(batch models.JobBatchResult) error {
	for _, outcome := range batch {
		m.Record(outcome)
	}
	return m.Save()
}

// Get returns the state of a job by name.
func (m *Manager) Get(jobName string) (*JobState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.states[jobName]
	return s, ok
}

// States returns all rows ordered by K then replicate, both descending.
func (m *Manager) States() []*JobState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sortedUnlocked()
}

// CountByStatus counts rows with the given status.
func (m *Manager) CountByStatus(status string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, s := range m.states {
		if s.Status == status {
			count++
		}
	}
	return count
}

func (m *Manager) sortedUnlocked() []*JobState {
	rows := make([]*JobState, 0, len(m.states))
	for _, s := range m.states {
		rows = append(rows, s)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].K != rows[j].K {
			return rows[i].K > rows[j].K
		}
		return rows[i].Replicate > rows[j].Replicate
	})
	return rows
}

// Save writes the state file (atomic write).
func (m *Manager) Save() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(m.filePath), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	tempFile := m.filePath + ".tmp"
	file, err := os.Create(tempFile)
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}

	success := false
	defer func() {
		if !success {
			file.Close()
			os.Remove(tempFile)
		}
	}()

	rows := m.sortedUnlocked()
	if err := gocsv.MarshalFile(&rows, file); err != nil {
		return fmt.Errorf("failed to write state CSV: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close temp state file: %w", err)
	}
	if err := os.Rename(tempFile, m.filePath); err != nil {
		return fmt.Errorf("failed to rename state file: %w", err)
	}

	success = true
	return nil
}
