package command

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/popgen/structure-threader/internal/config"
	"github.com/popgen/structure-threader/internal/models"
	"github.com/popgen/structure-threader/internal/pathutil"
	"github.com/popgen/structure-threader/internal/progress"
)

type alstructureBuilder struct {
	progress progress.Reporter
}

func (alstructureBuilder) Kind() models.ProgramKind { return models.ALStructure }

// Prepare converts VCF input (optionally gzipped) to the numeric matrix
// ALStructure reads. The conversion happens once, before dispatch.
func (b alstructureBuilder) Prepare(cfg config.RunConfiguration) (JobContext, error) {
	for _, k := range cfg.KList {
		if k == 1 {
			return JobContext{}, config.Errorf("k", "ALStructure does not support K=1")
		}
	}

	jc := JobContext{Config: cfg, Input: cfg.InputFile}
	in := cfg.InputFile

	switch {
	case hasAnySuffix(in, plinkExts...):
		jc.Input, _ = pathutil.TrimExt(in, plinkExts...)
	case strings.HasSuffix(in, ".vcf.gz"), strings.HasSuffix(in, ".vcf"):
		base, _ := pathutil.TrimExt(in, ".vcf.gz", ".vcf")
		matrix := base + ".tsv"
		if err := ConvertVCFFile(in, matrix, b.progress); err != nil {
			return JobContext{}, fmt.Errorf("failed to convert %s for ALStructure: %w", filepath.Base(in), err)
		}
		jc.Input = matrix
	}
	return jc, nil
}

// Build produces
//
//	Rscript alstructure.R matrix k out/alstr_K{k}
func (alstructureBuilder) Build(jc JobContext, job models.Job) (Command, error) {
	cfg := jc.Config
	if job.K == 1 {
		return Command{}, config.Errorf("k", "ALStructure does not support K=1")
	}
	out := filepath.Join(cfg.OutputDir, fmt.Sprintf("alstr_K%d", job.K))
	return Command{
		Program:    cfg.Interpreters.Rscript,
		Args:       []string{cfg.ExternalProgram, jc.Input, itoa(job.K), out},
		OutputPath: out,
	}, nil
}

func hasAnySuffix(s string, suffixes ...string) bool {
	for _, suf := range suffixes {
		if strings.HasSuffix(s, suf) {
			return true
		}
	}
	return false
}
