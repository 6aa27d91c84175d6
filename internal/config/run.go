// Package config holds the run configuration, its sanity checks, and the
// harness defaults file.
package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/popgen/structure-threader/internal/models"
	"github.com/popgen/structure-threader/internal/pathutil"
)

// ConfigError reports a configuration problem detected before any job is
// dispatched. It is always fatal.
type ConfigError struct {
	Field string
	Msg   string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration error (%s): %s: %v", e.Field, e.Msg, e.Err)
	}
	return fmt.Sprintf("configuration error (%s): %s", e.Field, e.Msg)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Errorf builds a ConfigError for field.
func Errorf(field, format string, args ...interface{}) *ConfigError {
	return &ConfigError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// IsConfigError reports whether err is (or wraps) a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// NeuralAdmixtureOptions carries the flags specific to Neural ADMIXTURE.
type NeuralAdmixtureOptions struct {
	Mode           string // "train" or "infer"
	Supervised     bool
	Initialization string
	NumCPUs        int
	NumGPUs        int
}

// Interpreters names the launchers placed in front of script programs.
type Interpreters struct {
	Python  string
	Rscript string
}

// RunConfiguration is everything a sweep needs. It is built once by the CLI,
// validated, and then only read. Builders and workers receive it by value.
type RunConfiguration struct {
	ExternalProgram string
	InputFile       string
	OutputDir       string
	Program         models.ProgramKind

	Threads    int
	Replicates int
	KList      []int

	ExtraOptions string
	MasterSeed   *int64
	Log          bool

	// Params is mainparams for STRUCTURE and parameters.txt for MavericK.
	Params string

	NoTests       bool
	NoPlots       bool
	OverrideBestK []int

	PopFile      string
	IndFile      string
	Greyscale    bool
	UseIndLabels bool

	NeuralAdmixture NeuralAdmixtureOptions
	Interpreters    Interpreters
}

// Validate performs the sanity checks that must pass before dispatch, and
// normalizes paths and options in place. The output directory is created.
func (c *RunConfiguration) Validate() error {
	if c.Program == "" {
		return Errorf("program", "no external program selected")
	}

	prog, err := resolveProgram(c.ExternalProgram)
	if err != nil {
		return &ConfigError{Field: "program", Msg: fmt.Sprintf("could not find your external program in the specified path '%s'", c.ExternalProgram), Err: err}
	}
	c.ExternalProgram = prog

	if !isFile(c.InputFile) {
		return Errorf("input", "the specified infile '%s' does not exist", c.InputFile)
	}
	if c.InputFile, err = filepath.Abs(c.InputFile); err != nil {
		return &ConfigError{Field: "input", Msg: "cannot make path absolute", Err: err}
	}

	if c.OutputDir == "" {
		return Errorf("output", "an output directory is required")
	}
	if isFile(c.OutputDir) {
		return Errorf("output", "output argument '%s' is pointing to an existing file; this argument requires a directory", c.OutputDir)
	}
	if c.OutputDir, err = pathutil.ResolveAbsolutePath(c.OutputDir); err != nil {
		return &ConfigError{Field: "output", Msg: "cannot resolve output path", Err: err}
	}
	if err := os.MkdirAll(c.OutputDir, 0755); err != nil {
		return &ConfigError{Field: "output", Msg: "cannot create output directory", Err: err}
	}

	if len(c.KList) == 0 {
		return Errorf("k", "at least one K value is required")
	}
	for _, k := range c.KList {
		if k < 1 {
			return Errorf("k", "K values must be >= 1, got %d", k)
		}
	}
	if c.Replicates < 1 {
		return Errorf("replicates", "replicates must be >= 1, got %d", c.Replicates)
	}
	if c.Threads < 1 {
		return Errorf("threads", "threads must be >= 1, got %d", c.Threads)
	}

	if c.Program != models.Structure {
		c.ExtraOptions = NormalizeExtraOptions(c.ExtraOptions)
	}

	for field, path := range map[string]string{"pop": c.PopFile, "ind": c.IndFile} {
		if path != "" && !isFile(path) {
			return Errorf(field, "the specified %sfile '%s' does not exist", field, path)
		}
	}

	switch c.Program {
	case models.Structure:
		if c.Params == "" {
			c.Params = filepath.Join(filepath.Dir(c.InputFile), "mainparams")
		}
	case models.FastStructure:
		if c.PopFile == "" && c.IndFile == "" {
			return Errorf("program", "fastStructure requires either --pop or --ind")
		}
	case models.Maverick:
		if c.Params == "" {
			return Errorf("params", "MavericK requires --params")
		}
		if !isFile(c.Params) {
			return Errorf("params", "the specified parameter file '%s' does not exist", c.Params)
		}
	case models.ALStructure:
		for _, k := range c.KList {
			if k == 1 {
				return Errorf("k", "ALStructure does not support K=1")
			}
		}
	case models.NeuralAdmixture:
		mode := strings.ToLower(c.NeuralAdmixture.Mode)
		if mode == "" {
			mode = "train"
		}
		if mode != "train" && mode != "infer" {
			return Errorf("nad-mode", "mode must be train or infer, got %q", c.NeuralAdmixture.Mode)
		}
		c.NeuralAdmixture.Mode = mode
		if c.NeuralAdmixture.Supervised && c.PopFile == "" {
			return Errorf("pop", "supervised Neural ADMIXTURE runs require a population file (--pop)")
		}
	}

	if c.Params != "" {
		if c.Params, err = filepath.Abs(c.Params); err != nil {
			return &ConfigError{Field: "params", Msg: "cannot make path absolute", Err: err}
		}
	}

	if c.Interpreters.Python == "" {
		c.Interpreters.Python = "python2"
	}
	if c.Interpreters.Rscript == "" {
		c.Interpreters.Rscript = "Rscript"
	}

	return nil
}

// NormalizeExtraOptions rewrites "prior=logistic seed=1" as
// "--prior=logistic --seed=1". Tokens already carrying dashes are kept.
func NormalizeExtraOptions(opts string) string {
	fields := strings.Fields(opts)
	for i, f := range fields {
		if !strings.HasPrefix(f, "-") {
			fields[i] = "--" + f
		}
	}
	return strings.Join(fields, " ")
}

// PlotsEnabled reports whether the plotting stage should run. Disabling the
// best-K tests also disables plots.
func (c *RunConfiguration) PlotsEnabled() bool {
	return !c.NoPlots && !c.NoTests
}

func resolveProgram(path string) (string, error) {
	if path == "" {
		return "", errors.New("empty path")
	}
	if isFile(path) {
		return filepath.Abs(path)
	}
	if !strings.ContainsRune(path, filepath.Separator) {
		return exec.LookPath(path)
	}
	return "", os.ErrNotExist
}

func isFile(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
