package command

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/popgen/structure-threader/internal/config"
	"github.com/popgen/structure-threader/internal/models"
)

type structureBuilder struct{}

func (structureBuilder) Kind() models.ProgramKind { return models.Structure }

func (structureBuilder) Prepare(cfg config.RunConfiguration) (JobContext, error) {
	return JobContext{Config: cfg, Input: cfg.InputFile}, nil
}

// Build produces
//
//	structure -K k -i infile -o out/str_K{k}_rep{r} [-D seed] [-m mainparams -e extraparams] [extra...]
//
// STRUCTURE resolves relative paths against the working directory, which
// the pipeline sets to the input file's directory before dispatch.
func (structureBuilder) Build(jc JobContext, job models.Job) (Command, error) {
	cfg := jc.Config
	out := filepath.Join(cfg.OutputDir, fmt.Sprintf("str_K%d_rep%d", job.K, job.Replicate))

	args := []string{"-K", itoa(job.K), "-i", jc.Input, "-o", out}

	extra := strings.Fields(cfg.ExtraOptions)
	if job.HasSeed && !containsFlag(extra, "-D") {
		args = append(args, "-D", job.Seed)
	}
	if cfg.Params != "" {
		args = append(args, "-m", cfg.Params, "-e", filepath.Join(filepath.Dir(cfg.Params), "extraparams"))
	}
	args = append(args, extra...)

	return Command{Program: cfg.ExternalProgram, Args: args, OutputPath: out}, nil
}

func containsFlag(args []string, flag string) bool {
	for _, a := range args {
		if a == flag {
			return true
		}
	}
	return false
}
