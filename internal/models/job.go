// Package models defines data structures shared across the threader packages.
package models

import (
	"fmt"
	"strings"
	"time"
)

// ProgramKind identifies which external clustering program is wrapped.
type ProgramKind string

const (
	Structure       ProgramKind = "structure"
	FastStructure   ProgramKind = "faststructure"
	Maverick        ProgramKind = "maverick"
	ALStructure     ProgramKind = "alstructure"
	NeuralAdmixture ProgramKind = "neuraladmixture"
)

// AllProgramKinds lists every supported kind in CLI flag order.
var AllProgramKinds = []ProgramKind{Structure, FastStructure, Maverick, ALStructure, NeuralAdmixture}

// ParseProgramKind maps a user supplied name to a ProgramKind.
func ParseProgramKind(name string) (ProgramKind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "structure", "st":
		return Structure, nil
	case "faststructure", "fs":
		return FastStructure, nil
	case "maverick", "mv":
		return Maverick, nil
	case "alstructure", "als":
		return ALStructure, nil
	case "neuraladmixture", "nad":
		return NeuralAdmixture, nil
	}
	return "", fmt.Errorf("unknown program %q (expected one of structure, faststructure, maverick, alstructure, neuraladmixture)", name)
}

// SupportsReplicates reports whether the program can be rerun for the same K.
// Only STRUCTURE benefits from independent replicates.
func (p ProgramKind) SupportsReplicates() bool {
	return p == Structure
}

func (p ProgramKind) String() string { return string(p) }

// Job identifies one subprocess invocation. Jobs are created by the
// enumerator and never modified afterwards.
type Job struct {
	K         int
	Replicate int
	Seed      string // decimal seed, valid only when HasSeed is set
	HasSeed   bool
}

// Name returns the K{k}_rep{r} token used for logs and state rows.
func (j Job) Name() string {
	return fmt.Sprintf("K%d_rep%d", j.K, j.Replicate)
}

// WithSeed returns a copy of the job carrying seed.
func (j Job) WithSeed(seed string) Job {
	j.Seed = seed
	j.HasSeed = true
	return j
}

// OutcomeStatus is the classification of a finished job.
type OutcomeStatus string

const (
	StatusSuccess OutcomeStatus = "success"
	StatusFailure OutcomeStatus = "failure"
)

// WorkerOutcome is what a worker reports for one job.
type WorkerOutcome struct {
	Job    Job
	Status OutcomeStatus

	// ArtifactPath is the job's expected output path. It is only populated
	// on failure so operators know where to look.
	ArtifactPath string

	ExitCode int
	LogPath  string
	Duration time.Duration
	Err      error
}

// Succeeded reports whether the job exited cleanly.
func (o WorkerOutcome) Succeeded() bool {
	return o.Status == StatusSuccess
}

// JobBatchResult holds one outcome per submitted job, in completion order.
type JobBatchResult []WorkerOutcome

// BestKResult is the ordered list of candidate K values, most supported first.
type BestKResult []int
