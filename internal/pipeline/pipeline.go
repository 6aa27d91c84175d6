// Package pipeline sequences a sweep: dispatch every job, select the best
// K and draw the plots. Each step after dispatch is best-effort; its errors
// are collected in the Result instead of aborting the run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/rand"

	"github.com/popgen/structure-threader/internal/bestk"
	"github.com/popgen/structure-threader/internal/command"
	"github.com/popgen/structure-threader/internal/config"
	"github.com/popgen/structure-threader/internal/constants"
	"github.com/popgen/structure-threader/internal/diskspace"
	"github.com/popgen/structure-threader/internal/dispatch"
	"github.com/popgen/structure-threader/internal/events"
	"github.com/popgen/structure-threader/internal/jobs"
	"github.com/popgen/structure-threader/internal/logging"
	"github.com/popgen/structure-threader/internal/models"
	"github.com/popgen/structure-threader/internal/plot"
	"github.com/popgen/structure-threader/internal/progress"
	"github.com/popgen/structure-threader/internal/report"
	"github.com/popgen/structure-threader/internal/resources"
	"github.com/popgen/structure-threader/internal/seed"
	"github.com/popgen/structure-threader/internal/state"
	"github.com/popgen/structure-threader/internal/workdir"
)

// State is a pipeline stage.
type State string

const (
	StateIdle           State = "idle"
	StateDispatching    State = "dispatching"
	StateBestKSelection State = "bestk_selection"
	StateSkipTests      State = "skip_tests"
	StatePlotting       State = "plotting"
	StateSkipPlots      State = "skip_plots"
	StateDone           State = "done"
)

// Stage names used in StageError.
const (
	StageState = "state"
	StageBestK = "bestK"
	StageMerge = "merge"
	StagePlot  = "plot"
)

// ErrNotIdle is returned when Run is called on a controller that has
// already been started.
var ErrNotIdle = errors.New("pipeline controller already started")

// StageError is a non-fatal failure of a post-dispatch stage.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Result is everything a finished run produced.
type Result struct {
	RunID       string
	Batch       models.JobBatchResult
	Summary     report.Summary
	BestK       models.BestKResult
	StageErrors []*StageError
	StatePath   string
	Duration    time.Duration
}

// RunnerFactory returns the function workers call for each job.
type RunnerFactory func(builder command.Builder, jc command.JobContext) dispatch.RunFunc

// Controller runs one sweep. It is single use.
type Controller struct {
	cfg      config.RunConfiguration
	runID    string
	logger   *logging.Logger
	eventBus *events.EventBus
	progress progress.Reporter

	builder   command.Builder
	runner    RunnerFactory
	evaluator bestk.Evaluator
	renderer  plot.Renderer
	observers []dispatch.Observer

	mu    sync.Mutex
	state State

	// kList is the K list actually dispatched.
	kList []int
	rng   *rand.Rand
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithEventBus publishes state changes and job events on bus.
func WithEventBus(bus *events.EventBus) Option {
	return func(c *Controller) { c.eventBus = bus }
}

// WithRunID overrides the generated run ID.
func WithRunID(id string) Option {
	return func(c *Controller) { c.runID = id }
}

// WithProgress reports input conversion progress to r.
func WithProgress(r progress.Reporter) Option {
	return func(c *Controller) { c.progress = r }
}

// WithBuilder replaces the command builder for the configured program.
func WithBuilder(b command.Builder) Option {
	return func(c *Controller) { c.builder = b }
}

// WithRunner replaces the subprocess runner.
func WithRunner(f RunnerFactory) Option {
	return func(c *Controller) { c.runner = f }
}

// WithEvaluator replaces the best-K test for the configured program.
func WithEvaluator(e bestk.Evaluator) Option {
	return func(c *Controller) { c.evaluator = e }
}

// WithRenderer sets the plot renderer.
func WithRenderer(r plot.Renderer) Option {
	return func(c *Controller) { c.renderer = r }
}

// WithObserver adds a dispatch observer, for example the terminal job UI.
func WithObserver(o dispatch.Observer) Option {
	return func(c *Controller) { c.observers = append(c.observers, o) }
}

// New creates a controller for a validated configuration.
func New(cfg config.RunConfiguration, opts ...Option) *Controller {
	c := &Controller{
		cfg:    cfg,
		runID:  uuid.New().String(),
		logger: logging.NewNopLogger(),
		state:  StateIdle,
		kList:  cfg.KList,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.progress == nil {
		c.progress = progress.NewNoOpProgress()
	}
	if c.renderer == nil {
		c.renderer = plot.NewRenderer(config.PlotDefaults{}, c.logger)
	}
	c.rng = rand.New(rand.NewSource(c.masterSeed()))
	return c
}

// RunID returns the identifier stamped on events and the state file.
func (c *Controller) RunID() string { return c.runID }

// State returns the current stage.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// begin leaves Idle for first. Only one caller ever succeeds.
func (c *Controller) begin(first State, msg string) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrNotIdle
	}
	c.state = first
	c.mu.Unlock()

	c.logger.Debug().Str("from", string(StateIdle)).Str("to", string(first)).Msg("Pipeline transition")
	c.eventBus.PublishStateChange(c.runID, string(StateIdle), string(first), msg)
	return nil
}

func (c *Controller) transition(next State, msg string) {
	c.mu.Lock()
	prev := c.state
	c.state = next
	c.mu.Unlock()

	c.logger.Debug().Str("from", string(prev)).Str("to", string(next)).Msg("Pipeline transition")
	c.eventBus.PublishStateChange(c.runID, string(prev), string(next), msg)
}

func (c *Controller) masterSeed() uint64 {
	if c.cfg.MasterSeed != nil {
		return uint64(*c.cfg.MasterSeed)
	}
	return constants.DefaultMasterSeed
}

// Run dispatches every job and then runs the best-K and plotting stages.
// The returned error is non-nil only for configuration problems, a failed
// working directory change or cancellation; per-job failures are reported
// in the Result.
func (c *Controller) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	if err := c.begin(StateDispatching, ""); err != nil {
		return nil, err
	}
	res := &Result{RunID: c.runID}
	defer func() { res.Duration = time.Since(start) }()

	if err := c.dispatch(ctx, res); err != nil {
		c.transition(StateDone, err.Error())
		return res, err
	}
	if err := ctx.Err(); err != nil {
		c.transition(StateDone, "cancelled")
		return res, fmt.Errorf("%w: %w", dispatch.ErrCancelled, err)
	}

	c.selectBestK(res)
	c.plot(ctx, res, c.cfg.OutputDir)
	c.transition(StateDone, "")
	return res, nil
}

// RunPlots skips dispatch and plots existing results in resultsDir for the
// configured K list. The best K list is the override when given, otherwise
// the K list itself.
func (c *Controller) RunPlots(ctx context.Context, resultsDir string) (*Result, error) {
	start := time.Now()
	if err := c.begin(StatePlotting, "plots only"); err != nil {
		return nil, err
	}
	res := &Result{RunID: c.runID, BestK: models.BestKResult(c.cfg.KList)}
	c.renderPlots(ctx, res, resultsDir)
	c.transition(StateDone, "")
	res.Duration = time.Since(start)
	return res, nil
}

func (c *Controller) dispatch(ctx context.Context, res *Result) error {
	cfg := c.cfg

	builder := c.builder
	if builder == nil {
		var err error
		if builder, err = command.For(cfg.Program, command.WithProgress(c.progress)); err != nil {
			return err
		}
	}
	jc, err := builder.Prepare(cfg)
	if err != nil {
		return err
	}

	if cfg.Program == models.NeuralAdmixture && cfg.NeuralAdmixture.Supervised {
		if len(cfg.KList) != 1 || cfg.KList[0] != jc.SupervisedK {
			c.logger.Warnf("Supervised Neural ADMIXTURE runs use the population count from the population file; running K=%d only", jc.SupervisedK)
		}
		c.kList = []int{jc.SupervisedK}
	}

	mgr := resources.NewManager(resources.Config{
		MaxThreads: cfg.Threads,
		SingleOnly: cfg.Program == models.ALStructure,
	})
	switch {
	case cfg.Program == models.ALStructure && cfg.Threads > 1:
		c.logger.Warnf("ALStructure cannot run jobs in parallel; using a single thread")
	case mgr.Clamped():
		c.logger.Warnf("Number of threads (%d) is higher than the number of available CPUs; using %d", mgr.Requested(), mgr.GetTotalThreads())
	}

	var scope *workdir.Scope
	if cfg.Program == models.Structure {
		// STRUCTURE reads mainparams/extraparams defaults from its cwd.
		if scope, err = workdir.Enter(filepath.Dir(cfg.InputFile)); err != nil {
			return err
		}
		defer c.restore(scope)
	}

	jobList := seed.Assign(cfg.MasterSeed, jobs.Enumerate(cfg.Program, c.kList, cfg.Replicates))
	if err := diskspace.CheckAvailableSpace(cfg.OutputDir, int64(len(jobList))*constants.EstimatedJobOutputBytes, constants.DiskSpaceSafetyMargin); err != nil {
		c.logger.Warnf("%v", err)
	}

	stateMgr := state.NewManager(cfg.OutputDir, c.runID)
	stateMgr.Initialize(jobList)
	res.StatePath = stateMgr.Path()

	runFn := c.runFunc(builder, jc)
	opts := []dispatch.Option{
		dispatch.WithLogger(c.logger),
		dispatch.WithEventBus(c.eventBus),
		dispatch.WithResourceManager(mgr),
		dispatch.WithRunID(c.runID),
	}
	for _, o := range c.observers {
		opts = append(opts, dispatch.WithObserver(o))
	}

	c.logger.Info().Int("jobs", len(jobList)).Int("threads", mgr.GetTotalThreads()).
		Str("program", cfg.Program.String()).Str("run_id", c.runID).Msg("Dispatching jobs")
	res.Batch = dispatch.New(opts...).Dispatch(ctx, jobList, mgr.GetTotalThreads(), runFn)
	res.Summary = report.Summarize(res.Batch)

	c.restore(scope)

	if err := stateMgr.RecordBatch(res.Batch); err != nil {
		c.stageError(res, StageState, err)
	}
	return nil
}

func (c *Controller) restore(scope *workdir.Scope) {
	if err := scope.Restore(); err != nil {
		c.logger.Errorf("%v", err)
	}
}

func (c *Controller) runFunc(builder command.Builder, jc command.JobContext) dispatch.RunFunc {
	if c.runner != nil {
		return c.runner(builder, jc)
	}
	return dispatch.NewExecRunner(builder, jc, c.logger).Run
}

func (c *Controller) stageError(res *Result, stage string, err error) {
	c.logger.Error().Err(err).Str("stage", stage).Msg("Stage failed")
	res.StageErrors = append(res.StageErrors, &StageError{Stage: stage, Err: err})
}

// evaluatorFor returns the best-K test for the configured program, or nil
// when the program has none. MavericK's merge runs even with tests off.
func (c *Controller) evaluatorFor(tests bool) bestk.Evaluator {
	if c.evaluator != nil {
		return c.evaluator
	}
	switch c.cfg.Program {
	case models.Structure:
		return bestk.Evanno{}
	case models.FastStructure:
		return bestk.FastChooseK{}
	case models.Maverick:
		return bestk.Maverick{
			KList:  c.kList,
			Params: c.cfg.Params,
			Tests:  tests,
			Seed:   c.masterSeed(),
			Logger: c.logger,
		}
	}
	return nil
}

func (c *Controller) selectBestK(res *Result) {
	tests := !c.cfg.NoTests
	hasTest := c.cfg.Program == models.Structure || c.cfg.Program == models.FastStructure || c.cfg.Program == models.Maverick

	if !tests || !hasTest {
		c.transition(StateSkipTests, "")
		if c.cfg.Program == models.Maverick {
			if _, err := c.evaluatorFor(false).Evaluate(c.cfg.OutputDir); err != nil {
				c.stageError(res, StageMerge, err)
			}
		}
		return
	}

	c.transition(StateBestKSelection, "")
	best, err := c.evaluatorFor(true).Evaluate(c.cfg.OutputDir)
	if err != nil {
		c.stageError(res, StageBestK, err)
		return
	}
	res.BestK = best
	c.logger.Infof("Best K candidates: %v", []int(best))
}

func (c *Controller) plot(ctx context.Context, res *Result, resultsDir string) {
	if !c.cfg.PlotsEnabled() {
		c.transition(StateSkipPlots, "")
		return
	}
	if c.cfg.Program != models.Structure && c.cfg.Program != models.FastStructure {
		c.logger.Warnf("Plotting is not supported for %s results; skipping plots", c.cfg.Program)
		c.transition(StateSkipPlots, "unsupported program")
		return
	}
	c.transition(StatePlotting, "")
	c.renderPlots(ctx, res, resultsDir)
}

func (c *Controller) renderPlots(ctx context.Context, res *Result, resultsDir string) {
	if len(c.cfg.OverrideBestK) > 0 {
		res.BestK = models.BestKResult(c.cfg.OverrideBestK)
	}

	files, err := PlotFiles(c.cfg.Program, resultsDir, c.kList, c.cfg.Replicates, c.rng.Intn)
	if err != nil {
		c.stageError(res, StagePlot, err)
		return
	}
	if len(files) == 0 {
		c.logger.Warnf("No K values above 1 to plot")
		return
	}
	files = c.usablePlotFiles(files, res.Batch, resultsDir)
	if len(files) == 0 {
		c.logger.Warnf("No usable result files left to plot")
		return
	}

	req := plot.Request{
		Files:        files,
		Program:      c.cfg.Program,
		OutDir:       c.cfg.OutputDir,
		BestK:        res.BestK,
		PopFile:      c.cfg.PopFile,
		IndFile:      c.cfg.IndFile,
		Greyscale:    c.cfg.Greyscale,
		UseIndLabels: c.cfg.UseIndLabels,
	}
	if err := c.renderer.Render(ctx, req); err != nil {
		c.stageError(res, StagePlot, err)
	}
}

// usablePlotFiles drops files whose job failed or that are not on disk.
func (c *Controller) usablePlotFiles(files []string, batch models.JobBatchResult, resultsDir string) []string {
	failed := make(map[string]bool)
	for _, o := range batch {
		if !o.Succeeded() {
			failed[plotFile(c.cfg.Program, resultsDir, o.Job.K, o.Job.Replicate)] = true
		}
	}

	kept := files[:0]
	for _, f := range files {
		if failed[f] {
			c.logger.Warnf("Not plotting %s: its job failed", filepath.Base(f))
			continue
		}
		if _, err := os.Stat(f); err != nil {
			c.logger.Warnf("Not plotting %s: %v", filepath.Base(f), err)
			continue
		}
		kept = append(kept, f)
	}
	return kept
}

// PlotFiles returns the result file to plot for every K above 1. For
// STRUCTURE a single replicate is used for every K: replicate 1 when there
// is only one, otherwise 1+pick(replicates).
func PlotFiles(kind models.ProgramKind, resultsDir string, kList []int, replicates int, pick func(n int) int) ([]string, error) {
	if kind != models.Structure && kind != models.FastStructure {
		return nil, fmt.Errorf("plotting is not supported for %s results", kind)
	}
	rep := 1
	if kind == models.Structure && replicates > 1 {
		rep = 1 + pick(replicates)
	}

	var files []string
	for _, k := range kList {
		if k <= 1 {
			continue
		}
		files = append(files, plotFile(kind, resultsDir, k, rep))
	}
	return files, nil
}

func plotFile(kind models.ProgramKind, resultsDir string, k, rep int) string {
	if kind == models.FastStructure {
		return filepath.Join(resultsDir, fmt.Sprintf("fS_run_K.%d.meanQ", k))
	}
	return filepath.Join(resultsDir, fmt.Sprintf("str_K%d_rep%d_f", k, rep))
}
