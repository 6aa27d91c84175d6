package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/popgen/structure-threader/internal/config"
	"github.com/popgen/structure-threader/internal/events"
	"github.com/popgen/structure-threader/internal/jobs"
	"github.com/popgen/structure-threader/internal/models"
	"github.com/popgen/structure-threader/internal/pipeline"
	"github.com/popgen/structure-threader/internal/plot"
	"github.com/popgen/structure-threader/internal/progress"
	"github.com/popgen/structure-threader/internal/publish"
)

// runOptions holds the flags of the run command.
type runOptions struct {
	programs map[models.ProgramKind]*string

	kMax       int
	kList      string
	replicates int
	input      string
	output     string
	params     string
	popFile    string
	indFile    string
	threads    int
	log        bool
	noTests    bool
	extraOpts  string
	seed       int64
	noSeed     bool

	noPlots       bool
	overrideBestK string
	greyscale     bool
	useIndLabels  bool

	nadMode       string
	nadSupervised bool
	nadInit       string
	nadCPUs       int
	nadGPUs       int

	publishTarget string
	notifyURL     string
}

func newRunOptions() *runOptions {
	o := &runOptions{programs: make(map[models.ProgramKind]*string)}
	for _, kind := range models.AllProgramKinds {
		o.programs[kind] = new(string)
	}
	return o
}

// programFlags maps each program to its flag name.
var programFlags = []struct {
	kind models.ProgramKind
	flag string
	help string
}{
	{models.Structure, "st", "Location of the structure binary"},
	{models.FastStructure, "fs", "Location of the fastStructure script (structure.py)"},
	{models.Maverick, "mv", "Location of the MavericK binary"},
	{models.ALStructure, "als", "Location of the ALStructure wrapper R script"},
	{models.NeuralAdmixture, "nad", "Location of the neural-admixture executable"},
}

// newRunCmd creates the 'run' command.
func newRunCmd() *cobra.Command {
	return runCommand(newRunOptions())
}

func runCommand(o *runOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the selected program over a range of K and replicates",
		Long: `Run one external clustering program for every (K, replicate) pair on a
bounded pool of workers, then select the best K and plot the Q-matrices.

Failed jobs do not stop the sweep; their output paths are listed at the end.

Examples:
  structure_threader run --st ~/bin/structure -K 4 -R 10 -i data.str -o results -t 8
  structure_threader run --fs ~/fastStructure/structure.py --Klist "2 4 6" -i data.bed -o results -t 4 --pop pops.txt`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep(cmd, o)
		},
	}

	flags := cmd.Flags()
	for _, p := range programFlags {
		flags.StringVar(o.programs[p.kind], p.flag, "", p.help)
	}
	flags.IntVarP(&o.kMax, "kmax", "K", 0, "Run K from 1 to this value")
	flags.StringVar(&o.kList, "Klist", "", `List of K values to test, e.g. "2 4 6" or 2,4,6`)
	flags.IntVarP(&o.replicates, "replicates", "R", 0, "Replicate runs per K (structure only; default from threader.ini)")
	flags.StringVarP(&o.input, "input", "i", "", "Input file")
	flags.StringVarP(&o.output, "output", "o", "", "Directory where output results will be written")
	flags.StringVar(&o.params, "params", "", "Path to mainparams (structure) or parameters.txt (MavericK)")
	flags.StringVar(&o.popFile, "pop", "", "File with population information")
	flags.StringVar(&o.indFile, "ind", "", "File with individual information")
	flags.IntVarP(&o.threads, "threads", "t", 0, "Number of jobs to run in parallel (default from threader.ini)")
	flags.BoolVar(&o.log, "log", false, "Keep a log file for every job, not only failed ones")
	flags.BoolVar(&o.noTests, "no_tests", false, "Skip the best-K tests (also disables plots)")
	flags.StringVar(&o.extraOpts, "extra_opts", "", `Extra options passed to the program, e.g. "prior=logistic seed=1"`)
	flags.Int64Var(&o.seed, "seed", 0, "Master seed for per-job seeds (default from threader.ini)")
	flags.BoolVar(&o.noSeed, "no-seed", false, "Do not pass seeds to the program")
	flags.BoolVar(&o.noPlots, "no_plots", false, "Disable plot drawing")
	flags.StringVar(&o.overrideBestK, "override_bestk", "", "K values to plot in the comparison plot instead of the best-K results")
	flags.BoolVar(&o.greyscale, "bw", false, "Draw greyscale plots")
	flags.BoolVar(&o.useIndLabels, "use-ind-labels", false, "Use individual labels instead of population labels in plots")

	flags.StringVar(&o.nadMode, "nad-mode", "train", "Neural ADMIXTURE mode: train or infer")
	flags.BoolVar(&o.nadSupervised, "nad-supervised", false, "Supervised Neural ADMIXTURE training (requires --pop)")
	flags.StringVar(&o.nadInit, "nad-initialization", "", "Neural ADMIXTURE initialization method")
	flags.IntVar(&o.nadCPUs, "nad-cpus", 0, "CPUs per Neural ADMIXTURE job")
	flags.IntVar(&o.nadGPUs, "nad-gpus", 0, "GPUs per Neural ADMIXTURE job")

	flags.StringVar(&o.publishTarget, "publish", "", "Archive results to s3://bucket/prefix, az://container/prefix or a directory")
	flags.StringVar(&o.notifyURL, "notify-url", "", "POST a JSON summary to this URL when the run finishes")

	names := make([]string, 0, len(programFlags))
	for _, p := range programFlags {
		names = append(names, p.flag)
	}
	cmd.MarkFlagsMutuallyExclusive(names...)
	cmd.MarkFlagsOneRequired(names...)
	cmd.MarkFlagsMutuallyExclusive("kmax", "Klist")
	cmd.MarkFlagsOneRequired("kmax", "Klist")
	cmd.MarkFlagRequired("input")
	cmd.MarkFlagRequired("output")

	return cmd
}

// buildRunConfig merges flags over the harness defaults. Flags that were
// not given fall back to threader.ini (itself overridden by environment).
func buildRunConfig(cmd *cobra.Command, o *runOptions, h *config.HarnessConfig) (config.RunConfiguration, error) {
	flags := cmd.Flags()
	cfg := config.RunConfiguration{
		InputFile:    o.input,
		OutputDir:    o.output,
		Params:       o.params,
		PopFile:      o.popFile,
		IndFile:      o.indFile,
		ExtraOptions: o.extraOpts,
		Log:          o.log || h.Run.Log,
		NoTests:      o.noTests,
		NoPlots:      o.noPlots,
		Greyscale:    o.greyscale,
		UseIndLabels: o.useIndLabels,
		Threads:      h.Run.Threads,
		Replicates:   h.Run.Replicates,
		Interpreters: h.Interpreters,
		NeuralAdmixture: config.NeuralAdmixtureOptions{
			Mode:           o.nadMode,
			Supervised:     o.nadSupervised,
			Initialization: o.nadInit,
			NumCPUs:        o.nadCPUs,
			NumGPUs:        o.nadGPUs,
		},
	}

	for _, p := range programFlags {
		if path := *o.programs[p.kind]; path != "" {
			cfg.Program = p.kind
			cfg.ExternalProgram = path
		}
	}

	if flags.Changed("threads") {
		cfg.Threads = o.threads
	}
	if flags.Changed("replicates") {
		cfg.Replicates = o.replicates
	}

	if !o.noSeed {
		seed := h.Run.Seed
		if flags.Changed("seed") {
			seed = o.seed
		}
		cfg.MasterSeed = &seed
	}

	var err error
	if flags.Changed("kmax") {
		if o.kMax < 1 {
			return cfg, config.Errorf("k", "-K must be >= 1, got %d", o.kMax)
		}
		cfg.KList = jobs.ExpandK(o.kMax)
	} else if cfg.KList, err = parseIntList(o.kList); err != nil {
		return cfg, &config.ConfigError{Field: "k", Msg: "invalid K list", Err: err}
	}

	if o.overrideBestK != "" {
		if cfg.OverrideBestK, err = parseIntList(o.overrideBestK); err != nil {
			return cfg, &config.ConfigError{Field: "override_bestk", Msg: "invalid K list", Err: err}
		}
	}
	return cfg, nil
}

// parseIntList accepts "2 4 6", "2,4,6" or a mix of both.
func parseIntList(s string) ([]int, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' })
	out := make([]int, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("%q is not an integer", f)
		}
		out = append(out, n)
	}
	return out, nil
}

// publishSettings applies --publish and --notify-url over threader.ini.
func publishSettings(o *runOptions, h *config.HarnessConfig) config.PublishDefaults {
	s := h.Publish
	if o.publishTarget != "" {
		s.Target = o.publishTarget
	}
	if o.notifyURL != "" {
		s.NotifyURL = o.notifyURL
	}
	return s
}

// expectedJobs is the job count shown by the progress bar.
func expectedJobs(cfg config.RunConfiguration) int {
	if cfg.Program == models.NeuralAdmixture && cfg.NeuralAdmixture.Supervised {
		return 1
	}
	return len(jobs.Enumerate(cfg.Program, cfg.KList, cfg.Replicates))
}

func runSweep(cmd *cobra.Command, o *runOptions) error {
	log := GetLogger()
	h := GetHarness()
	ctx := GetContext()

	cfg, err := buildRunConfig(cmd, o, h)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	bus := events.NewEventBus(0)
	watch := progress.WatchRun(bus, log)
	defer func() {
		bus.Close()
		watch.Wait()
	}()

	ui := progress.NewJobUI(expectedJobs(cfg), cfg.Program)
	prevOutput := log.Output()
	log.SetOutput(ui.Writer())

	controller := pipeline.New(cfg,
		pipeline.WithLogger(log),
		pipeline.WithEventBus(bus),
		pipeline.WithObserver(ui),
		pipeline.WithProgress(progress.NewCLIProgress()),
		pipeline.WithRenderer(plot.NewRenderer(h.Plot, log)),
	)

	log.Info().
		Str("program", string(cfg.Program)).
		Ints("k", cfg.KList).
		Int("replicates", cfg.Replicates).
		Str("output", cfg.OutputDir).
		Msg("Starting run")

	res, runErr := controller.Run(ctx)
	bus.Close()
	watch.Wait()
	ui.Wait()
	log.SetOutput(prevOutput)

	if res != nil && res.Batch != nil {
		fmt.Fprint(cmd.OutOrStdout(), res.Summary.Format())
		if !res.Summary.AllSucceeded() {
			log.Warnf("%d of %d jobs failed", len(res.Summary.Failures), res.Summary.Total())
		}
		if res.StatePath != "" {
			log.Debugf("Job states written to %s", res.StatePath)
		}
	}
	if runErr != nil {
		return runErr
	}

	publisher := publish.NewPublisher(publishSettings(o, h), log, progress.NewCLIProgress())
	if publisher.Enabled() {
		if err := publisher.Publish(ctx, res.RunID, cfg.OutputDir, notification(cfg, res)); err != nil {
			log.Warnf("Publishing incomplete: %v", err)
		}
	}
	return nil
}

func notification(cfg config.RunConfiguration, res *pipeline.Result) publish.Notification {
	n := publish.Notification{
		RunID:          res.RunID,
		Program:        string(cfg.Program),
		OutputDir:      cfg.OutputDir,
		Successes:      len(res.Summary.Successes),
		Failures:       len(res.Summary.Failures),
		FailedPaths:    res.Summary.FailedPaths(),
		CPUTimeSeconds: res.Summary.CPUTime.Seconds(),
		BestK:          []int(res.BestK),
		FinishedAt:     time.Now().UTC(),
	}
	for _, se := range res.StageErrors {
		n.StageErrors = append(n.StageErrors, se.Error())
	}
	return n
}

// stageErrors joins the non-fatal stage errors of res for commands that
// treat them as fatal.
func stageErrors(res *pipeline.Result) error {
	if res == nil || len(res.StageErrors) == 0 {
		return nil
	}
	msgs := make([]string, len(res.StageErrors))
	for i, se := range res.StageErrors {
		msgs[i] = se.Error()
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}
