package bestk

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/montanaflynn/stats"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/popgen/structure-threader/internal/command"
	"github.com/popgen/structure-threader/internal/constants"
	"github.com/popgen/structure-threader/internal/logging"
	"github.com/popgen/structure-threader/internal/models"
)

// Files MavericK writes per K that are merged into one.
var maverickMergeFiles = []string{"outputEvidence.csv", "outputEvidenceDetails.csv"}

// Evidence is the log evidence of one K with its standard error.
type Evidence struct {
	K    int
	Mean float64
	SD   float64
}

// NormalizedEvidence is one row of outputEvidenceNormalized.csv.
type NormalizedEvidence struct {
	K          int     `csv:"K"`
	NormMean   float64 `csv:"norm_mean"`
	LowerLimit float64 `csv:"lower_limit"`
	UpperLimit float64 `csv:"upper_limit"`
}

// Maverick merges the per-K MavericK outputs, normalizes the evidence and,
// when tests are enabled, picks the K with the highest evidence.
type Maverick struct {
	KList  []int
	Params string
	Tests  bool

	// Draws and Limit control the normalization. Zero means the defaults.
	Draws int
	Limit float64
	Seed  uint64

	Logger *logging.Logger
}

// Evaluate merges mav_K*/ outputs into merged/ and writes the normalized
// evidence. With tests enabled it also writes bestK/TI_integration.txt and
// returns the best K.
func (m Maverick) Evaluate(resultsDir string) (models.BestKResult, error) {
	tiInUse, err := command.MaverickTIInUse(m.Params)
	if err != nil {
		return nil, &ParseError{File: m.Params, Reason: "cannot read parameter file", Err: err}
	}

	evidence, err := MergeMaverick(resultsDir, m.KList, tiInUse, m.Logger)
	if err != nil {
		return nil, err
	}

	draws := m.Draws
	if draws <= 0 {
		draws = constants.NormalizationDraws
	}
	limit := m.Limit
	if limit <= 0 {
		limit = constants.NormalizationLimit
	}
	norm, err := NormalizeEvidence(evidence, draws, limit, rand.NewSource(m.Seed))
	if err != nil {
		return nil, err
	}
	if err := writeNormalized(filepath.Join(resultsDir, constants.MergedDirName, "outputEvidenceNormalized.csv"), norm); err != nil {
		return nil, err
	}

	if !m.Tests {
		return nil, nil
	}

	best := evidence[0]
	for _, e := range evidence[1:] {
		if e.Mean > best.Mean {
			best = e
		}
	}
	dir, err := bestKDir(resultsDir)
	if err != nil {
		return nil, err
	}
	text := fmt.Sprintf("MavericK's estimation test revealed that the best value of 'K' is: %d\n", best.K)
	if err := os.WriteFile(filepath.Join(dir, "TI_integration.txt"), []byte(text), 0644); err != nil {
		return nil, err
	}
	return models.BestKResult{best.K}, nil
}

// MergeMaverick concatenates each per-K output file into merged/, keeping
// the header of the first file only, and returns the evidence of each K.
// The evidence is the thermodynamic integration estimate when TI is in use
// and the STRUCTURE estimator otherwise. A K whose outputs are missing is
// skipped with a warning; ErrNoResults means no K had any.
func MergeMaverick(resultsDir string, kList []int, tiInUse bool, logger *logging.Logger) ([]Evidence, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	mergedDir := filepath.Join(resultsDir, constants.MergedDirName)
	if err := os.MkdirAll(mergedDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", mergedDir, err)
	}

	var present []int
	for _, k := range kList {
		if missing := missingMaverickFile(resultsDir, k); missing != "" {
			logger.Warnf("Skipping K=%d in the MavericK merge: %s is missing", k, missing)
			continue
		}
		present = append(present, k)
	}
	if len(present) == 0 {
		return nil, fmt.Errorf("%w: no MavericK outputs for K in %v under %s", ErrNoResults, kList, resultsDir)
	}

	// Mean column counted from the end of the row; its SE follows it
	meanCol := 2
	if !tiInUse {
		meanCol = 4
	}

	var evidence []Evidence
	for _, name := range maverickMergeFiles {
		var onRow func(src, row string) error
		if name == "outputEvidence.csv" {
			onRow = func(src, row string) error {
				e, err := parseEvidenceRow(src, row, meanCol)
				if err != nil {
					return err
				}
				evidence = append(evidence, e)
				return nil
			}
		}
		if err := mergeCSV(filepath.Join(mergedDir, name), resultsDir, present, name, onRow); err != nil {
			return nil, err
		}
	}

	if len(evidence) == 0 {
		return nil, fmt.Errorf("%w: no evidence rows in %s", ErrNoResults, resultsDir)
	}
	return evidence, nil
}

// missingMaverickFile returns the first merge input of K that does not
// exist, or "" when all are there.
func missingMaverickFile(resultsDir string, k int) string {
	for _, name := range maverickMergeFiles {
		src := filepath.Join(command.MaverickOutputDir(resultsDir, k), name)
		if _, err := os.Stat(src); err != nil {
			return src
		}
	}
	return ""
}

// mergeCSV writes name of every K in kList into dst under a single header.
// onRow, when set, sees every data row.
func mergeCSV(dst, resultsDir string, kList []int, name string, onRow func(src, row string) error) (err error) {
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create merged %s: %w", name, err)
	}
	w := bufio.NewWriter(out)
	defer func() {
		if ferr := w.Flush(); err == nil {
			err = ferr
		}
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()

	for i, k := range kList {
		src := filepath.Join(command.MaverickOutputDir(resultsDir, k), name)
		header, rows, err := readCSVLines(src)
		if err != nil {
			return err
		}
		if i == 0 {
			fmt.Fprintln(w, header)
		}
		for _, row := range rows {
			fmt.Fprintln(w, row)
			if onRow == nil {
				continue
			}
			if err := onRow(src, row); err != nil {
				return err
			}
		}
	}
	return nil
}

func readCSVLines(path string) (string, []string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", nil, &ParseError{File: path, Reason: "cannot open", Err: err}
	}
	defer f.Close()

	var header string
	var rows []string
	scanner := bufio.NewScanner(f)
	for first := true; scanner.Scan(); first = false {
		line := strings.TrimRight(scanner.Text(), "\r")
		if first {
			header = line
			continue
		}
		if strings.TrimSpace(line) != "" {
			rows = append(rows, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return "", nil, &ParseError{File: path, Reason: "read failed", Err: err}
	}
	if header == "" {
		return "", nil, &ParseError{File: path, Reason: "empty file"}
	}
	return header, rows, nil
}

func parseEvidenceRow(path, row string, meanCol int) (Evidence, error) {
	fields := strings.Split(row, ",")
	if len(fields) < meanCol+1 {
		return Evidence{}, &ParseError{File: path, Reason: fmt.Sprintf("evidence row has %d columns", len(fields))}
	}
	k, err := strconv.Atoi(strings.TrimPrefix(strings.TrimSpace(fields[0]), "K"))
	if err != nil {
		return Evidence{}, &ParseError{File: path, Reason: "cannot read K", Err: err}
	}
	mean, err := parseFinite(path, "log evidence", strings.TrimSpace(fields[len(fields)-meanCol]))
	if err != nil {
		return Evidence{}, err
	}
	sd, err := strconv.ParseFloat(strings.TrimSpace(fields[len(fields)-meanCol+1]), 64)
	if err != nil || math.IsNaN(sd) || sd < 0 {
		sd = 0
	}
	return Evidence{K: k, Mean: mean, SD: sd}, nil
}

// NormalizeEvidence estimates the posterior probability of each K from its
// log evidence and standard error. Every draw samples one log evidence per
// K, exponentiates and normalizes across K. For each K the mean
// probability is returned with the central interval holding limit percent
// of the draws.
func NormalizeEvidence(evidence []Evidence, draws int, limit float64, src rand.Source) ([]NormalizedEvidence, error) {
	if len(evidence) == 0 {
		return nil, ErrNoResults
	}
	if draws < 1 {
		return nil, fmt.Errorf("draws must be >= 1, got %d", draws)
	}

	dists := make([]distuv.Normal, len(evidence))
	for i, e := range evidence {
		dists[i] = distuv.Normal{Mu: e.Mean, Sigma: e.SD, Src: src}
	}

	probs := make([][]float64, len(evidence))
	for i := range probs {
		probs[i] = make([]float64, draws)
	}
	z := make([]float64, len(evidence))
	for d := 0; d < draws; d++ {
		maxZ := math.Inf(-1)
		for i := range dists {
			z[i] = dists[i].Rand()
			if z[i] > maxZ {
				maxZ = z[i]
			}
		}
		// Subtracting the maximum avoids overflow and cancels in the ratio
		var sum float64
		for i := range z {
			z[i] = math.Exp(z[i] - maxZ)
			sum += z[i]
		}
		for i := range z {
			probs[i][d] = z[i] / sum
		}
	}

	lower := (100 - limit) / 2
	upper := 100 - lower
	result := make([]NormalizedEvidence, len(evidence))
	for i, e := range evidence {
		sort.Float64s(probs[i])
		mean, err := stats.Mean(probs[i])
		if err != nil {
			return nil, err
		}
		lo, err := stats.Percentile(probs[i], lower)
		if err != nil {
			return nil, err
		}
		hi, err := stats.Percentile(probs[i], upper)
		if err != nil {
			return nil, err
		}
		result[i] = NormalizedEvidence{K: e.K, NormMean: mean, LowerLimit: lo, UpperLimit: hi}
	}
	return result, nil
}

func writeNormalized(path string, rows []NormalizedEvidence) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := gocsv.MarshalFile(&rows, f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}
