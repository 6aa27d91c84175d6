package command

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/popgen/structure-threader/internal/config"
	"github.com/popgen/structure-threader/internal/models"
	"github.com/popgen/structure-threader/internal/pathutil"
)

var plinkExts = []string{".bed", ".fam", ".bim"}

type fastStructureBuilder struct{}

func (fastStructureBuilder) Kind() models.ProgramKind { return models.FastStructure }

// Prepare works out the input format. PLINK inputs are passed as their
// common prefix; anything else is treated as STR and, because fastStructure
// appends ".str" itself, gets a sibling symlink when the name lacks it.
func (fastStructureBuilder) Prepare(cfg config.RunConfiguration) (JobContext, error) {
	jc := JobContext{Config: cfg, Format: "str"}

	if prefix, ok := pathutil.TrimExt(cfg.InputFile, plinkExts...); ok {
		jc.Format = "bed"
		jc.Input = prefix
		return jc, nil
	}

	if prefix, ok := pathutil.TrimExt(cfg.InputFile, ".str"); ok {
		jc.Input = prefix
		return jc, nil
	}

	if err := linkSTR(cfg.InputFile); err != nil {
		return JobContext{}, err
	}
	jc.Input = cfg.InputFile
	return jc, nil
}

// linkSTR creates infile.str -> basename(infile). An existing link is fine.
func linkSTR(infile string) error {
	err := os.Symlink(filepath.Base(infile), infile+".str")
	if err != nil && !errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("failed to link %s.str: %w", infile, err)
	}
	return nil
}

// Build produces
//
//	[python2] structure.py -K k --input in --output out/fS_run_K --format fmt [--seed s] [extra...]
//
// fastStructure appends ".{k}.meanQ" and friends to the output prefix.
func (fastStructureBuilder) Build(jc JobContext, job models.Job) (Command, error) {
	cfg := jc.Config
	out := filepath.Join(cfg.OutputDir, "fS_run_K")

	args := []string{"-K", itoa(job.K), "--input", jc.Input, "--output", out, "--format", jc.Format}
	if job.HasSeed {
		args = append(args, "--seed", job.Seed)
	}
	args = append(args, strings.Fields(cfg.ExtraOptions)...)

	return withInterpreter(cfg.ExternalProgram, ".py", cfg.Interpreters.Python, args, out), nil
}

// withInterpreter prefixes interpreter when prog is a script with ext.
func withInterpreter(prog, ext, interpreter string, args []string, out string) Command {
	if strings.HasSuffix(prog, ext) {
		return Command{Program: interpreter, Args: append([]string{prog}, args...), OutputPath: out}
	}
	return Command{Program: prog, Args: args, OutputPath: out}
}
