package constants

import (
	"time"
)

// Run defaults
const (
	// DefaultReplicates - replicate runs per K when -R is not given
	DefaultReplicates = 20

	// DefaultThreads - worker count when -t is not given
	DefaultThreads = 4

	// DefaultMasterSeed - master seed used when --seed is not given and the
	// defaults file does not set one
	DefaultMasterSeed = 1235813

	// SeedUpperBound - per-job seeds are drawn from [0, SeedUpperBound)
	SeedUpperBound = 10_000_000

	// NeuralAdmixtureDefaultSeed - seed passed to Neural ADMIXTURE when the
	// job carries none
	NeuralAdmixtureDefaultSeed = 42
)

// Output layout
const (
	// BestKDirName - directory under the results path holding best-K reports
	BestKDirName = "bestK"

	// PlotsDirName - directory under the results path holding plots
	PlotsDirName = "plots"

	// MergedDirName - directory holding merged MavericK evidence files
	MergedDirName = "merged"

	// StateFileName - per-run job outcome ledger
	StateFileName = "threader_state.csv"

	// JobLogExtension - suffix of per-job stdout/stderr logs
	JobLogExtension = ".stlog"
)

// Best-K tests
const (
	// EvannoTopK - number of candidates returned by the Evanno test
	EvannoTopK = 3

	// NormalizationDraws - default number of draws for MavericK evidence
	// normalization
	NormalizationDraws = 100_000

	// NormalizationLimit - confidence interval width in percent
	NormalizationLimit = 95.0
)

// Event bus configuration
const (
	// EventBusDefaultBuffer - default buffer size for event channels (1000)
	// Sized for one start and one finish event per job in large sweeps
	// (e.g. 20 replicates x 25 K values) without drops.
	EventBusDefaultBuffer = 1000

	// EventBusMaxBuffer - maximum buffer size for high-throughput scenarios (5000)
	EventBusMaxBuffer = 5000
)

// Worker configuration
const (
	// AbsoluteMaxThreads - absolute maximum workers allowed, independent of
	// the host CPU count
	AbsoluteMaxThreads = 256

	// ProgressReportInterval - how often the dispatcher logs overall progress
	ProgressReportInterval = 30 * time.Second

	// KillGracePeriod - time between SIGTERM and SIGKILL when cancelling
	// outstanding subprocesses
	KillGracePeriod = 5 * time.Second
)

// Plot configuration
const (
	// DefaultPlotWidthCm - default width of a Q-matrix plot
	DefaultPlotWidthCm = 24

	// DefaultPlotHeightCm - default height of a single Q-matrix plot
	DefaultPlotHeightCm = 8
)

// Publishing
const (
	// WebhookRetryMax - retries for the completion webhook
	WebhookRetryMax = 4

	// WebhookTimeout - per-attempt timeout for the completion webhook
	WebhookTimeout = 15 * time.Second
)

// Disk space checks
const (
	// DiskSpaceSafetyMargin - multiplier applied to estimated sizes
	DiskSpaceSafetyMargin = 1.1

	// EstimatedJobOutputBytes - rough per-job output size (results file
	// plus log) used to warn before dispatch
	EstimatedJobOutputBytes = 2 << 20
)
