package command

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/popgen/structure-threader/internal/config"
	"github.com/popgen/structure-threader/internal/constants"
	"github.com/popgen/structure-threader/internal/models"
	"github.com/popgen/structure-threader/internal/pathutil"
	"github.com/popgen/structure-threader/internal/progress"
)

type neuralAdmixtureBuilder struct {
	progress progress.Reporter
}

func (neuralAdmixtureBuilder) Kind() models.ProgramKind { return models.NeuralAdmixture }

// Prepare decompresses .vcf.gz input and, for supervised training, counts
// the populations in the population file.
func (b neuralAdmixtureBuilder) Prepare(cfg config.RunConfiguration) (JobContext, error) {
	jc := JobContext{Config: cfg, Input: cfg.InputFile}

	if vcf, ok := pathutil.TrimExt(cfg.InputFile, ".gz"); ok && strings.HasSuffix(vcf, ".vcf") {
		if err := GunzipFile(cfg.InputFile, vcf, b.progress); err != nil {
			return JobContext{}, err
		}
		jc.Input = vcf
	}

	if cfg.NeuralAdmixture.Supervised {
		if cfg.PopFile == "" {
			return JobContext{}, config.Errorf("pop", "supervised Neural ADMIXTURE runs require a population file")
		}
		n, err := CountPopulations(cfg.PopFile)
		if err != nil {
			return JobContext{}, &config.ConfigError{Field: "pop", Msg: "cannot read population file", Err: err}
		}
		jc.SupervisedK = n
	}
	return jc, nil
}

// CountPopulations returns the number of distinct labels in a population
// file, one label per line, compared case-insensitively. Blank lines are
// ignored.
func CountPopulations(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	seen := make(map[string]struct{})
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		label := strings.ToUpper(strings.TrimSpace(scanner.Text()))
		if label == "" {
			continue
		}
		seen[label] = struct{}{}
	}
	return len(seen), scanner.Err()
}

// NeuralAdmixtureRun returns the run name and output directory for k.
func NeuralAdmixtureRun(outDir string, k int, supervised bool) (name, dir string) {
	name = fmt.Sprintf("nad_K%d", k)
	if supervised {
		name += "_supervised"
	}
	return name, filepath.Join(outDir, name) + string(os.PathSeparator)
}

// Build produces, for training,
//
//	neural-admixture train --name nad_K{k} --k k --data_path in --save_dir dir --seed s [...]
//
// and for inference
//
//	neural-admixture infer --name nad_K{k} --out_name nad_infer{k} --data_path in --save_dir dir --seed s [...]
//
// Supervised training replaces K by the population count.
func (neuralAdmixtureBuilder) Build(jc JobContext, job models.Job) (Command, error) {
	cfg := jc.Config
	opts := cfg.NeuralAdmixture
	mode := opts.Mode
	if mode == "" {
		mode = "train"
	}

	k := job.K
	supervised := mode == "train" && opts.Supervised
	if supervised {
		if jc.SupervisedK < 1 {
			return Command{}, config.Errorf("pop", "supervised mode requires a non-empty population file")
		}
		k = jc.SupervisedK
	}
	runName, dir := NeuralAdmixtureRun(cfg.OutputDir, k, supervised)

	seed := job.Seed
	if !job.HasSeed {
		seed = itoa(constants.NeuralAdmixtureDefaultSeed)
	}

	args := []string{mode, "--name", runName}
	if mode == "train" {
		args = append(args, "--k", itoa(k))
	} else {
		args = append(args, "--out_name", fmt.Sprintf("nad_infer%d", k))
	}
	args = append(args, "--data_path", jc.Input, "--save_dir", dir, "--seed", seed)

	if opts.Initialization != "" {
		args = append(args, "--initialization", opts.Initialization)
	}
	if opts.NumCPUs != 0 {
		args = append(args, "--num_cpus", itoa(opts.NumCPUs))
	}
	if opts.NumGPUs != 0 {
		args = append(args, "--num_gpus", itoa(opts.NumGPUs))
	}
	if supervised {
		args = append(args, "--supervised", "--populations_path", cfg.PopFile)
	}
	args = append(args, strings.Fields(cfg.ExtraOptions)...)

	return Command{Program: cfg.ExternalProgram, Args: args, OutputPath: dir, Dirs: []string{dir}}, nil
}
