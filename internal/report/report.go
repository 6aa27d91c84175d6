// Package report turns a batch of outcomes into the end of run summary.
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/popgen/structure-threader/internal/models"
)

// Summary partitions a batch into successes and failures.
type Summary struct {
	Successes []models.WorkerOutcome
	Failures  []models.WorkerOutcome

	// CPUTime is the sum of all job durations.
	CPUTime time.Duration
}

// Summarize partitions batch. Failures are sorted by K then replicate,
// both descending.
func Summarize(batch models.JobBatchResult) Summary {
	var s Summary
	for _, o := range batch {
		s.CPUTime += o.Duration
		if o.Succeeded() {
			s.Successes = append(s.Successes, o)
		} else {
			s.Failures = append(s.Failures, o)
		}
	}
	sort.SliceStable(s.Failures, func(i, j int) bool {
		a, b := s.Failures[i].Job, s.Failures[j].Job
		if a.K != b.K {
			return a.K > b.K
		}
		return a.Replicate > b.Replicate
	})
	return s
}

// Total returns the number of outcomes summarized.
func (s Summary) Total() int {
	return len(s.Successes) + len(s.Failures)
}

// AllSucceeded reports whether no job failed.
func (s Summary) AllSucceeded() bool {
	return len(s.Failures) == 0
}

// FailedPaths returns the artifact path of each failure, in failure order.
func (s Summary) FailedPaths() []string {
	paths := make([]string, 0, len(s.Failures))
	for _, f := range s.Failures {
		paths = append(paths, f.ArtifactPath)
	}
	return paths
}

// Format renders the summary printed at the end of a run.
func (s Summary) Format() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s jobs succeeded\n", humanize.Comma(int64(len(s.Successes))))
	if len(s.Failures) > 0 {
		fmt.Fprintf(&b, "%s jobs failed with paths:\n", humanize.Comma(int64(len(s.Failures))))
		for _, f := range s.Failures {
			path := f.ArtifactPath
			if path == "" {
				path = f.Job.Name()
			}
			if f.LogPath != "" {
				fmt.Fprintf(&b, "  %s (log: %s)\n", path, f.LogPath)
			} else {
				fmt.Fprintf(&b, "  %s\n", path)
			}
		}
	}
	fmt.Fprintf(&b, "Total CPU time: %s\n", formatDuration(s.CPUTime))
	return b.String()
}

// formatDuration renders d as "1h 2m 3s", dropping leading zero units.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := int64(d / time.Hour)
	m := int64((d % time.Hour) / time.Minute)
	sec := int64((d % time.Minute) / time.Second)

	switch {
	case h > 0:
		return fmt.Sprintf("%sh %dm %ds", humanize.Comma(h), m, sec)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, sec)
	}
	return fmt.Sprintf("%ds", sec)
}
