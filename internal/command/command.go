// Package command derives the command line and expected output path of
// every job, one Builder per wrapped program.
//
// Builders are split in two phases. Prepare runs once before dispatch and
// owns all filesystem side effects of input handling (symlinks, VCF
// conversion, parameter parsing). Build is a pure function of the prepared
// JobContext and the Job, so calling it twice yields identical commands.
package command

import (
	"fmt"
	"os"
	"strconv"

	"github.com/popgen/structure-threader/internal/config"
	"github.com/popgen/structure-threader/internal/models"
	"github.com/popgen/structure-threader/internal/progress"
)

// Command is a fully resolved subprocess invocation.
type Command struct {
	Program    string
	Args       []string
	OutputPath string

	// Dirs must exist before the program starts. Created with EnsureDirs.
	Dirs []string
}

// Argv returns the program followed by its arguments.
func (c Command) Argv() []string {
	return append([]string{c.Program}, c.Args...)
}

// JobContext is the read-only record handed to every worker. It carries a
// copy of the configuration plus whatever Prepare derived from it.
type JobContext struct {
	Config config.RunConfiguration

	// Input is the path passed to the program after input handling (bed
	// prefix, converted matrix, ...).
	Input string

	// Format is the fastStructure --format value.
	Format string

	// PerK holds MavericK parameters that vary with K, keyed by parameter
	// name then K.
	PerK map[string]map[int]string

	// SupervisedK is the population count for supervised Neural ADMIXTURE.
	SupervisedK int
}

// Builder derives commands for one program kind.
type Builder interface {
	Kind() models.ProgramKind
	Prepare(cfg config.RunConfiguration) (JobContext, error)
	Build(jc JobContext, job models.Job) (Command, error)
}

// Option customises a Builder returned by For.
type Option func(*options)

type options struct {
	progress progress.Reporter
}

// WithProgress reports input conversion progress to r.
func WithProgress(r progress.Reporter) Option {
	return func(o *options) { o.progress = r }
}

// For returns the Builder for kind.
func For(kind models.ProgramKind, opts ...Option) (Builder, error) {
	o := options{progress: progress.NewNoOpProgress()}
	for _, opt := range opts {
		opt(&o)
	}

	switch kind {
	case models.Structure:
		return structureBuilder{}, nil
	case models.FastStructure:
		return fastStructureBuilder{}, nil
	case models.Maverick:
		return maverickBuilder{}, nil
	case models.ALStructure:
		return alstructureBuilder{progress: o.progress}, nil
	case models.NeuralAdmixture:
		return neuralAdmixtureBuilder{progress: o.progress}, nil
	}
	return nil, fmt.Errorf("no command builder for program %q", kind)
}

// EnsureDirs creates every directory the command needs. Existing
// directories are not an error, so calling it repeatedly is safe.
func EnsureDirs(cmd Command) error {
	for _, dir := range cmd.Dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

func itoa(n int) string { return strconv.Itoa(n) }
