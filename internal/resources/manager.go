// Package resources sizes and tracks the worker pool against host CPUs.
package resources

import (
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/popgen/structure-threader/internal/constants"
)

// numCPU is swapped in tests to simulate different hosts.
var numCPU = runtime.NumCPU

// ClampThreads limits requested to the number of CPUs on this host.
// The second return value reports whether clamping happened so callers can
// warn the operator.
func ClampThreads(requested int) (int, bool) {
	if requested < 1 {
		return 1, false
	}
	cpus := numCPU()
	if requested > cpus {
		return cpus, true
	}
	return requested, false
}

// Manager tracks which jobs currently hold a worker slot.
type Manager struct {
	totalThreads     int            // Total worker slots in the pool
	availableThreads int            // Currently free slots
	requested        int            // What the operator asked for
	clamped          bool           // Whether requested exceeded the CPU count
	allocations      map[string]int // Worker index per running job
	started          map[string]time.Time
	mu               sync.Mutex // Protects all fields
}

// Config holds configuration for the resource manager
type Config struct {
	MaxThreads int  // Operator requested worker count (0 = one per CPU)
	SingleOnly bool // Program cannot run concurrently (ALStructure)
}

// NewManager creates a new resource manager
func NewManager(config Config) *Manager {
	requested := config.MaxThreads
	if requested <= 0 {
		requested = numCPU()
	}

	total, clamped := ClampThreads(requested)
	if total > constants.AbsoluteMaxThreads {
		total = constants.AbsoluteMaxThreads
		clamped = true
	}
	if config.SingleOnly {
		total = 1
	}

	return &Manager{
		totalThreads:     total,
		availableThreads: total,
		requested:        requested,
		clamped:          clamped,
		allocations:      make(map[string]int),
		started:          make(map[string]time.Time),
	}
}

// Acquire records that worker is now running jobName.
func (m *Manager) Acquire(jobName string, worker int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.allocations[jobName]; exists {
		return
	}
	m.allocations[jobName] = worker
	m.started[jobName] = time.Now()
	m.availableThreads--
}

// Release frees the slot held by jobName.
func (m *Manager) Release(jobName string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.allocations[jobName]; exists {
		m.availableThreads++
		delete(m.allocations, jobName)
		delete(m.started, jobName)
	}
}

// GetAvailableThreads returns the current number of free worker slots
func (m *Manager) GetAvailableThreads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.availableThreads
}

// GetTotalThreads returns the worker pool size
func (m *Manager) GetTotalThreads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalThreads
}

// Clamped reports whether the requested worker count exceeded host limits.
func (m *Manager) Clamped() bool {
	return m.clamped
}

// Requested returns the worker count asked for before clamping.
func (m *Manager) Requested() int {
	return m.requested
}

// GetStats returns current resource manager statistics
func (m *Manager) GetStats() ManagerStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	running := make([]string, 0, len(m.allocations))
	var longest time.Duration
	for name := range m.allocations {
		running = append(running, name)
		if d := time.Since(m.started[name]); d > longest {
			longest = d
		}
	}
	sort.Strings(running)

	return ManagerStats{
		TotalThreads:     m.totalThreads,
		AvailableThreads: m.availableThreads,
		ActiveThreads:    m.totalThreads - m.availableThreads,
		RunningJobs:      running,
		LongestRunning:   longest,
	}
}

// ManagerStats holds statistics about the resource manager
type ManagerStats struct {
	TotalThreads     int
	AvailableThreads int
	ActiveThreads    int
	RunningJobs      []string
	LongestRunning   time.Duration
}

// String returns a human-readable representation of the manager state
func (m *Manager) String() string {
	stats := m.GetStats()
	return fmt.Sprintf("ResourceManager[total=%d available=%d active=%d]",
		stats.TotalThreads, stats.AvailableThreads, stats.ActiveThreads)
}
