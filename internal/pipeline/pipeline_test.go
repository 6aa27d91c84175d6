package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gocarina/gocsv"

	"github.com/popgen/structure-threader/internal/command"
	"github.com/popgen/structure-threader/internal/config"
	"github.com/popgen/structure-threader/internal/dispatch"
	"github.com/popgen/structure-threader/internal/events"
	"github.com/popgen/structure-threader/internal/logging"
	"github.com/popgen/structure-threader/internal/models"
	"github.com/popgen/structure-threader/internal/plot"
	"github.com/popgen/structure-threader/internal/state"
)

type fakeBuilder struct {
	kind        models.ProgramKind
	supervisedK int
	prepareErr  error
}

func (b fakeBuilder) Kind() models.ProgramKind { return b.kind }

func (b fakeBuilder) Prepare(cfg config.RunConfiguration) (command.JobContext, error) {
	if b.prepareErr != nil {
		return command.JobContext{}, b.prepareErr
	}
	return command.JobContext{Config: cfg, Input: cfg.InputFile, SupervisedK: b.supervisedK}, nil
}

func (b fakeBuilder) Build(jc command.JobContext, job models.Job) (command.Command, error) {
	out := filepath.Join(jc.Config.OutputDir, "out_"+job.Name())
	return command.Command{Program: "fake", Args: []string{job.Name()}, OutputPath: out}, nil
}

// fakeRunner records jobs and fails those listed in fail.
type fakeRunner struct {
	mu   sync.Mutex
	jobs []models.Job
	cwd  []string
	fail map[string]bool
}

func (r *fakeRunner) factory(builder command.Builder, jc command.JobContext) dispatch.RunFunc {
	return func(ctx context.Context, job models.Job, worker int) models.WorkerOutcome {
		cwd, _ := os.Getwd()
		r.mu.Lock()
		r.jobs = append(r.jobs, job)
		r.cwd = append(r.cwd, cwd)
		r.mu.Unlock()

		cmd, _ := builder.Build(jc, job)
		writeMeanQ(plotFile(jc.Config.Program, jc.Config.OutputDir, job.K, job.Replicate), job.K)
		if r.fail[job.Name()] {
			return models.WorkerOutcome{
				Job:          job,
				Status:       models.StatusFailure,
				ArtifactPath: cmd.OutputPath,
				ExitCode:     1,
				Duration:     10 * time.Second,
			}
		}
		return models.WorkerOutcome{Job: job, Status: models.StatusSuccess, Duration: time.Minute}
	}
}

// writeMeanQ leaves a three-sample Q matrix where the real program would.
func writeMeanQ(path string, k int) {
	row := strings.TrimSpace(strings.Repeat(fmt.Sprintf("%.6f ", 1/float64(k)), k))
	os.WriteFile(path, []byte(row+"\n"+row+"\n"+row+"\n"), 0644)
}

// syncBuffer lets the dispatcher's workers log into one buffer.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type fakeEvaluator struct {
	best   models.BestKResult
	err    error
	called []string
}

func (e *fakeEvaluator) Evaluate(resultsDir string) (models.BestKResult, error) {
	e.called = append(e.called, resultsDir)
	return e.best, e.err
}

type fakeRenderer struct {
	requests []plot.Request
	err      error
}

func (r *fakeRenderer) Render(ctx context.Context, req plot.Request) error {
	r.requests = append(r.requests, req)
	return r.err
}

func testConfig(t *testing.T, kind models.ProgramKind) config.RunConfiguration {
	t.Helper()
	inDir := t.TempDir()
	input := filepath.Join(inDir, "data.str")
	if err := os.WriteFile(input, []byte("data"), 0644); err != nil {
		t.Fatal(err)
	}
	master := int64(1235813)
	return config.RunConfiguration{
		ExternalProgram: "/usr/bin/fake",
		InputFile:       input,
		OutputDir:       t.TempDir(),
		Program:         kind,
		Threads:         2,
		Replicates:      2,
		KList:           []int{1, 2, 3},
		MasterSeed:      &master,
	}
}

func collectStates(ch <-chan events.Event) []string {
	var out []string
	for {
		select {
		case ev := <-ch:
			sc := ev.(*events.StateChangeEvent)
			out = append(out, sc.NewState)
		case <-time.After(50 * time.Millisecond):
			return out
		}
	}
}

func TestRun_FullPipeline(t *testing.T) {
	cfg := testConfig(t, models.Structure)
	bus := events.NewEventBus(100)
	defer bus.Close()
	transitions := bus.Subscribe(events.EventStateChange)

	runner := &fakeRunner{}
	eval := &fakeEvaluator{best: models.BestKResult{3, 2}}
	renderer := &fakeRenderer{}

	before, _ := os.Getwd()
	c := New(cfg,
		WithBuilder(fakeBuilder{kind: models.Structure}),
		WithRunner(runner.factory),
		WithEvaluator(eval),
		WithRenderer(renderer),
		WithEventBus(bus),
		WithRunID("run-1"),
	)

	res, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	after, _ := os.Getwd()
	if before != after {
		t.Errorf("Expected working directory %s to be restored, got %s", before, after)
	}
	for _, cwd := range runner.cwd {
		if cwd != filepath.Dir(cfg.InputFile) {
			t.Errorf("Expected jobs to run in %s, got %s", filepath.Dir(cfg.InputFile), cwd)
		}
	}

	if len(res.Batch) != 6 {
		t.Fatalf("Expected 6 outcomes, got %d", len(res.Batch))
	}
	for _, j := range runner.jobs {
		if !j.HasSeed {
			t.Errorf("Expected %s to carry a seed", j.Name())
		}
	}
	if len(res.Summary.Successes) != 6 {
		t.Errorf("Expected 6 successes, got %d", len(res.Summary.Successes))
	}
	if len(eval.called) != 1 || eval.called[0] != cfg.OutputDir {
		t.Errorf("Expected evaluator to run once on %s, got %v", cfg.OutputDir, eval.called)
	}
	if len(res.BestK) != 2 || res.BestK[0] != 3 {
		t.Errorf("Expected best K [3 2], got %v", res.BestK)
	}

	if len(renderer.requests) != 1 {
		t.Fatalf("Expected one render request, got %d", len(renderer.requests))
	}
	req := renderer.requests[0]
	if len(req.Files) != 2 {
		t.Fatalf("Expected K=1 to be skipped, got files %v", req.Files)
	}
	for _, f := range req.Files {
		base := filepath.Base(f)
		if !strings.HasPrefix(base, "str_K") || !strings.HasSuffix(base, "_f") {
			t.Errorf("Unexpected plot file %s", base)
		}
		if !strings.Contains(base, "_rep1_") && !strings.Contains(base, "_rep2_") {
			t.Errorf("Expected replicate in [1,2], got %s", base)
		}
	}

	states := collectStates(transitions)
	expected := []string{"dispatching", "bestk_selection", "plotting", "done"}
	if strings.Join(states, ",") != strings.Join(expected, ",") {
		t.Errorf("Expected transitions %v, got %v", expected, states)
	}
	if c.State() != StateDone {
		t.Errorf("Expected done, got %s", c.State())
	}

	statePath := state.NewManager(cfg.OutputDir, "run-1").Path()
	if res.StatePath != statePath {
		t.Errorf("Expected state path %s, got %s", statePath, res.StatePath)
	}
	f, err := os.Open(statePath)
	if err != nil {
		t.Fatalf("Failed to open state file: %v", err)
	}
	defer f.Close()
	var rows []*state.JobState
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		t.Fatalf("Failed to read state file: %v", err)
	}
	succeeded := 0
	for _, row := range rows {
		if row.Status == state.StatusSuccess && row.RunID == "run-1" {
			succeeded++
		}
	}
	if succeeded != 6 {
		t.Errorf("Expected 6 successful rows in state file, got %d", succeeded)
	}
}

func TestRun_FailureAndNoTests(t *testing.T) {
	cfg := testConfig(t, models.Structure)
	cfg.KList = []int{3}
	cfg.Replicates = 2
	cfg.NoTests = true

	bus := events.NewEventBus(100)
	defer bus.Close()
	transitions := bus.Subscribe(events.EventStateChange)

	runner := &fakeRunner{fail: map[string]bool{"K3_rep2": true}}
	eval := &fakeEvaluator{}
	renderer := &fakeRenderer{}
	c := New(cfg,
		WithBuilder(fakeBuilder{kind: models.Structure}),
		WithRunner(runner.factory),
		WithEvaluator(eval),
		WithRenderer(renderer),
		WithEventBus(bus),
	)

	res, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(res.Summary.Successes) != 1 || len(res.Summary.Failures) != 1 {
		t.Fatalf("Expected 1 success and 1 failure, got %+v", res.Summary)
	}
	if got := res.Summary.FailedPaths(); got[0] != filepath.Join(cfg.OutputDir, "out_K3_rep2") {
		t.Errorf("Unexpected failed path %v", got)
	}
	if !strings.Contains(res.Summary.Format(), "Total CPU time: 1m 10s") {
		t.Errorf("Unexpected summary:\n%s", res.Summary.Format())
	}
	if len(eval.called) != 0 || len(renderer.requests) != 0 {
		t.Error("Expected best-K and plotting to be skipped")
	}

	states := collectStates(transitions)
	expected := []string{"dispatching", "skip_tests", "skip_plots", "done"}
	if strings.Join(states, ",") != strings.Join(expected, ",") {
		t.Errorf("Expected transitions %v, got %v", expected, states)
	}
}

func TestRun_StageErrorsAreNonFatal(t *testing.T) {
	cfg := testConfig(t, models.FastStructure)
	eval := &fakeEvaluator{err: errors.New("no log files")}
	renderer := &fakeRenderer{err: errors.New("bad matrix")}

	c := New(cfg,
		WithBuilder(fakeBuilder{kind: models.FastStructure}),
		WithRunner((&fakeRunner{}).factory),
		WithEvaluator(eval),
		WithRenderer(renderer),
	)
	res, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(res.StageErrors) != 2 {
		t.Fatalf("Expected 2 stage errors, got %v", res.StageErrors)
	}
	if res.StageErrors[0].Stage != StageBestK || res.StageErrors[1].Stage != StagePlot {
		t.Errorf("Unexpected stages %s, %s", res.StageErrors[0].Stage, res.StageErrors[1].Stage)
	}
	var se *StageError
	if !errors.As(res.StageErrors[0], &se) || se.Err.Error() != "no log files" {
		t.Errorf("Expected wrapped evaluator error, got %v", res.StageErrors[0])
	}
	// fastStructure runs one replicate per K
	if len(res.Batch) != 3 {
		t.Errorf("Expected 3 outcomes, got %d", len(res.Batch))
	}
	if got := filepath.Base(renderer.requests[0].Files[0]); got != "fS_run_K.2.meanQ" {
		t.Errorf("Expected fS_run_K.2.meanQ, got %s", got)
	}
}

func TestRun_OverrideBestK(t *testing.T) {
	cfg := testConfig(t, models.Structure)
	cfg.OverrideBestK = []int{2}
	renderer := &fakeRenderer{}

	c := New(cfg,
		WithBuilder(fakeBuilder{kind: models.Structure}),
		WithRunner((&fakeRunner{}).factory),
		WithEvaluator(&fakeEvaluator{best: models.BestKResult{3}}),
		WithRenderer(renderer),
	)
	res, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(renderer.requests[0].BestK) != 1 || renderer.requests[0].BestK[0] != 2 {
		t.Errorf("Expected override best K [2], got %v", renderer.requests[0].BestK)
	}
	if res.BestK[0] != 2 {
		t.Errorf("Expected result best K [2], got %v", res.BestK)
	}
}

func TestRun_NotReentrant(t *testing.T) {
	cfg := testConfig(t, models.ALStructure)
	cfg.KList = []int{2}
	c := New(cfg,
		WithBuilder(fakeBuilder{kind: models.ALStructure}),
		WithRunner((&fakeRunner{}).factory),
	)
	if _, err := c.Run(context.Background()); err != nil {
		t.Fatalf("First run failed: %v", err)
	}
	if _, err := c.Run(context.Background()); !errors.Is(err, ErrNotIdle) {
		t.Errorf("Expected ErrNotIdle, got %v", err)
	}
	if _, err := c.RunPlots(context.Background(), cfg.OutputDir); !errors.Is(err, ErrNotIdle) {
		t.Errorf("Expected ErrNotIdle from RunPlots, got %v", err)
	}
}

func TestRun_ConfigErrorBeforeDispatch(t *testing.T) {
	cfg := testConfig(t, models.Maverick)
	runner := &fakeRunner{}
	c := New(cfg,
		WithBuilder(fakeBuilder{kind: models.Maverick, prepareErr: config.Errorf("params", "alpha list has 2 values, expected 3")}),
		WithRunner(runner.factory),
	)

	_, err := c.Run(context.Background())
	if !config.IsConfigError(err) {
		t.Fatalf("Expected ConfigError, got %v", err)
	}
	if len(runner.jobs) != 0 {
		t.Errorf("Expected no jobs to run, got %d", len(runner.jobs))
	}
	if c.State() != StateDone {
		t.Errorf("Expected done, got %s", c.State())
	}
}

func TestRun_Cancelled(t *testing.T) {
	cfg := testConfig(t, models.FastStructure)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	eval := &fakeEvaluator{}
	c := New(cfg,
		WithBuilder(fakeBuilder{kind: models.FastStructure}),
		WithRunner((&fakeRunner{}).factory),
		WithEvaluator(eval),
	)
	res, err := c.Run(ctx)
	if !errors.Is(err, dispatch.ErrCancelled) {
		t.Fatalf("Expected ErrCancelled, got %v", err)
	}
	if len(res.Batch) != 3 {
		t.Errorf("Expected an outcome per job, got %d", len(res.Batch))
	}
	if len(eval.called) != 0 {
		t.Error("Expected best-K selection to be skipped after cancellation")
	}
}

func TestRun_SupervisedNeuralAdmixture(t *testing.T) {
	cfg := testConfig(t, models.NeuralAdmixture)
	cfg.NeuralAdmixture.Supervised = true
	runner := &fakeRunner{}

	c := New(cfg,
		WithBuilder(fakeBuilder{kind: models.NeuralAdmixture, supervisedK: 4}),
		WithRunner(runner.factory),
	)
	res, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(res.Batch) != 1 || runner.jobs[0].K != 4 {
		t.Errorf("Expected a single K=4 job, got %+v", runner.jobs)
	}
}

func TestRun_MaverickMergeWithoutTests(t *testing.T) {
	cfg := testConfig(t, models.Maverick)
	cfg.NoTests = true
	eval := &fakeEvaluator{}

	c := New(cfg,
		WithBuilder(fakeBuilder{kind: models.Maverick}),
		WithRunner((&fakeRunner{}).factory),
		WithEvaluator(eval),
	)
	res, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(eval.called) != 1 {
		t.Errorf("Expected MavericK merge to run with tests disabled, got %d calls", len(eval.called))
	}
	if res.BestK != nil {
		t.Errorf("Expected no best K without tests, got %v", res.BestK)
	}
}

func TestRun_UnsupportedPlotProgram(t *testing.T) {
	cfg := testConfig(t, models.Maverick)
	renderer := &fakeRenderer{}
	c := New(cfg,
		WithBuilder(fakeBuilder{kind: models.Maverick}),
		WithRunner((&fakeRunner{}).factory),
		WithEvaluator(&fakeEvaluator{best: models.BestKResult{2}}),
		WithRenderer(renderer),
	)
	if _, err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(renderer.requests) != 0 {
		t.Error("Expected plotting to be skipped for MavericK")
	}
}

func TestRunPlots(t *testing.T) {
	cfg := testConfig(t, models.FastStructure)
	cfg.KList = []int{1, 2, 4}
	renderer := &fakeRenderer{}
	resultsDir := t.TempDir()
	for _, k := range cfg.KList {
		writeMeanQ(filepath.Join(resultsDir, fmt.Sprintf("fS_run_K.%d.meanQ", k)), k)
	}

	c := New(cfg, WithRenderer(renderer))
	res, err := c.RunPlots(context.Background(), resultsDir)
	if err != nil {
		t.Fatalf("RunPlots failed: %v", err)
	}
	if len(res.Batch) != 0 {
		t.Error("Expected no dispatch in plots-only mode")
	}
	req := renderer.requests[0]
	expected := []string{
		filepath.Join(resultsDir, "fS_run_K.2.meanQ"),
		filepath.Join(resultsDir, "fS_run_K.4.meanQ"),
	}
	if strings.Join(req.Files, ",") != strings.Join(expected, ",") {
		t.Errorf("Expected %v, got %v", expected, req.Files)
	}
	if req.OutDir != cfg.OutputDir {
		t.Errorf("Expected plots under %s, got %s", cfg.OutputDir, req.OutDir)
	}
	if len(req.BestK) != 3 {
		t.Errorf("Expected the K list as best K, got %v", req.BestK)
	}
}

func TestPlotFiles(t *testing.T) {
	pickLast := func(n int) int { return n - 1 }

	files, err := PlotFiles(models.Structure, "/res", []int{3, 1, 2}, 5, pickLast)
	if err != nil {
		t.Fatalf("PlotFiles failed: %v", err)
	}
	sort.Strings(files)
	expected := []string{"/res/str_K2_rep5_f", "/res/str_K3_rep5_f"}
	if strings.Join(files, ",") != strings.Join(expected, ",") {
		t.Errorf("Expected %v, got %v", expected, files)
	}

	files, _ = PlotFiles(models.Structure, "/res", []int{2}, 1, func(int) int {
		t.Error("pick must not be called for a single replicate")
		return 0
	})
	if files[0] != "/res/str_K2_rep1_f" {
		t.Errorf("Expected replicate 1, got %s", files[0])
	}

	if _, err := PlotFiles(models.ALStructure, "/res", []int{2}, 1, pickLast); err == nil {
		t.Error("Expected error for ALStructure")
	}
}

func TestPlotFiles_OneReplicateForAllK(t *testing.T) {
	tests := []struct {
		name     string
		draws    []int
		expected []string
	}{
		{"first draw wins", []int{1, 3, 0, 2}, []string{"/res/str_K2_rep2_f", "/res/str_K3_rep2_f", "/res/str_K4_rep2_f", "/res/str_K5_rep2_f"}},
		{"last replicate", []int{3, 0, 0, 0}, []string{"/res/str_K2_rep4_f", "/res/str_K3_rep4_f", "/res/str_K4_rep4_f", "/res/str_K5_rep4_f"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			pick := func(n int) int {
				d := tt.draws[calls%len(tt.draws)]
				calls++
				return d
			}
			files, err := PlotFiles(models.Structure, "/res", []int{2, 3, 4, 5}, 4, pick)
			if err != nil {
				t.Fatalf("PlotFiles failed: %v", err)
			}
			if calls != 1 {
				t.Errorf("Expected one replicate draw, got %d", calls)
			}
			if strings.Join(files, ",") != strings.Join(tt.expected, ",") {
				t.Errorf("Expected %v, got %v", tt.expected, files)
			}
		})
	}
}

func TestRun_PlotsSkipFailedK(t *testing.T) {
	cfg := testConfig(t, models.FastStructure)
	cfg.KList = []int{2, 3, 4, 5, 6}
	cfg.Replicates = 1

	c := New(cfg,
		WithBuilder(fakeBuilder{kind: models.FastStructure}),
		WithRunner((&fakeRunner{fail: map[string]bool{"K4_rep1": true}}).factory),
		WithEvaluator(&fakeEvaluator{best: models.BestKResult{3}}),
		WithRenderer(plot.NewRenderer(config.PlotDefaults{Format: "png"}, nil)),
	)
	res, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(res.Summary.Failures) != 1 {
		t.Fatalf("Expected one failed job, got %+v", res.Summary)
	}
	if len(res.StageErrors) != 0 {
		t.Fatalf("Expected no stage errors, got %v", res.StageErrors)
	}

	entries, err := os.ReadDir(filepath.Join(cfg.OutputDir, "plots"))
	if err != nil {
		t.Fatalf("Failed to read plots dir: %v", err)
	}
	var charts []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "fS_K") {
			charts = append(charts, e.Name())
		}
	}
	sort.Strings(charts)
	expected := []string{"fS_K2.png", "fS_K3.png", "fS_K5.png", "fS_K6.png"}
	if strings.Join(charts, ",") != strings.Join(expected, ",") {
		t.Errorf("Expected charts %v, got %v", expected, charts)
	}
}

func TestUsablePlotFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"str_K2_rep1_f", "str_K3_rep1_f", "str_K5_rep1_f"} {
		writeMeanQ(filepath.Join(dir, name), 2)
	}
	failed := func(k, rep int) models.WorkerOutcome {
		return models.WorkerOutcome{Job: models.Job{K: k, Replicate: rep}, Status: models.StatusFailure}
	}
	ok := func(k, rep int) models.WorkerOutcome {
		return models.WorkerOutcome{Job: models.Job{K: k, Replicate: rep}, Status: models.StatusSuccess}
	}
	files := func(names ...string) []string {
		var out []string
		for _, n := range names {
			out = append(out, filepath.Join(dir, n))
		}
		return out
	}

	tests := []struct {
		name     string
		batch    models.JobBatchResult
		expected []string
	}{
		{"all present", models.JobBatchResult{ok(2, 1), ok(3, 1), ok(5, 1)}, files("str_K2_rep1_f", "str_K3_rep1_f", "str_K5_rep1_f")},
		{"failed replicate dropped", models.JobBatchResult{ok(2, 1), failed(3, 1), ok(5, 1)}, files("str_K2_rep1_f", "str_K5_rep1_f")},
		{"other replicate failed", models.JobBatchResult{ok(2, 1), failed(3, 2), ok(5, 1)}, files("str_K2_rep1_f", "str_K3_rep1_f", "str_K5_rep1_f")},
		{"everything failed", models.JobBatchResult{failed(2, 1), failed(3, 1), failed(5, 1)}, nil},
	}

	c := New(testConfig(t, models.Structure))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// str_K4_rep1_f is never on disk.
			got := c.usablePlotFiles(files("str_K2_rep1_f", "str_K3_rep1_f", "str_K4_rep1_f", "str_K5_rep1_f"), tt.batch, dir)
			if strings.Join(got, ",") != strings.Join(tt.expected, ",") {
				t.Errorf("Expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestRun_WarnsWhenThreadsExceedCPUs(t *testing.T) {
	cfg := testConfig(t, models.FastStructure)
	cfg.KList = []int{2}
	cfg.Threads = runtime.NumCPU() + 1

	var out syncBuffer
	c := New(cfg,
		WithLogger(logging.NewLogger(&out, nil)),
		WithBuilder(fakeBuilder{kind: models.FastStructure}),
		WithRunner((&fakeRunner{}).factory),
		WithEvaluator(&fakeEvaluator{best: models.BestKResult{2}}),
		WithRenderer(&fakeRenderer{}),
	)
	if _, err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	expected := fmt.Sprintf("Number of threads (%d) is higher than the number of available CPUs; using", cfg.Threads)
	if !strings.Contains(out.String(), expected) {
		t.Errorf("Expected warning %q, got:\n%s", expected, out.String())
	}
}
