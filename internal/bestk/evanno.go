package bestk

import (
	"bufio"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/montanaflynn/stats"

	"github.com/popgen/structure-threader/internal/constants"
	"github.com/popgen/structure-threader/internal/models"
)

// stdevEpsilon is the smallest usable standard deviation of LnP(D).
const stdevEpsilon = 0.0000001

var (
	reIndivs = regexp.MustCompile(`^(\d+) individuals`)
	reLoci   = regexp.MustCompile(`^(\d+) loci`)
	reK      = regexp.MustCompile(`^(\d+) populations assumed`)
	reLnProb = regexp.MustCompile(`^Estimated Ln Prob of Data\s+=\s+(\S+)`)
	reMeanLn = regexp.MustCompile(`^Mean value of ln likelihood\s+=\s+(\S+)`)
	reVarLn  = regexp.MustCompile(`^Variance of ln likelihood\s+=\s+(\S+)`)
	reRunTag = regexp.MustCompile(`K(\d+)_rep(\d+)_f$`)
)

// StructureRun holds the values of one STRUCTURE _f file used by the
// Evanno method.
type StructureRun struct {
	Name      string
	K         int
	Replicate int
	Indivs    int
	Loci      int
	EstLnProb float64
	MeanLlh   float64
	VarLlh    float64
}

// ParseStructureRun reads the run summary at the top of a STRUCTURE _f file.
// K comes from the "populations assumed" line, or from the file name when
// the line is missing.
func ParseStructureRun(path string) (StructureRun, error) {
	run := StructureRun{Name: filepath.Base(path), K: -1}
	if m := reRunTag.FindStringSubmatch(run.Name); m != nil {
		run.K, _ = strconv.Atoi(m[1])
		run.Replicate, _ = strconv.Atoi(m[2])
	}

	f, err := os.Open(path)
	if err != nil {
		return run, &ParseError{File: path, Reason: "cannot open", Err: err}
	}
	defer f.Close()

	var haveLnProb, haveMean, haveVar bool
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if m := reK.FindStringSubmatch(line); m != nil {
			run.K, _ = strconv.Atoi(m[1])
		} else if m := reIndivs.FindStringSubmatch(line); m != nil {
			run.Indivs, _ = strconv.Atoi(m[1])
		} else if m := reLoci.FindStringSubmatch(line); m != nil {
			run.Loci, _ = strconv.Atoi(m[1])
		} else if m := reLnProb.FindStringSubmatch(line); m != nil {
			if run.EstLnProb, err = parseFinite(path, "Estimated Ln Prob of Data", m[1]); err != nil {
				return run, err
			}
			haveLnProb = true
		} else if m := reMeanLn.FindStringSubmatch(line); m != nil {
			if run.MeanLlh, err = parseFinite(path, "Mean value of ln likelihood", m[1]); err != nil {
				return run, err
			}
			haveMean = true
		} else if m := reVarLn.FindStringSubmatch(line); m != nil {
			if run.VarLlh, err = parseFinite(path, "Variance of ln likelihood", m[1]); err != nil {
				return run, err
			}
			haveVar = true
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return run, &ParseError{File: path, Reason: "read failed", Err: err}
	}

	switch {
	case run.K < 1:
		return run, &ParseError{File: path, Reason: "unable to read the number of populations assumed"}
	case !haveLnProb, !haveMean, !haveVar:
		return run, &ParseError{File: path, Reason: "unable to read the probability of the data; " +
			"was \"Compute the probability of the data\" enabled in STRUCTURE?"}
	}
	return run, nil
}

func parseFinite(path, name, value string) (float64, error) {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &ParseError{File: path, Reason: fmt.Sprintf("unexpected value %s = %s", name, value), Err: err}
	}
	return v, nil
}

// EvannoRow is one line of the Evanno table. The derivatives are NaN where
// undefined (first and last K).
type EvannoRow struct {
	K      int
	Reps   int
	Mean   float64
	Stdev  float64
	LnPK   float64
	LnPPK  float64
	DeltaK float64
}

// EvannoTable computes the Evanno statistics from parsed runs. It fails
// with a ParseError when the method cannot be applied.
func EvannoTable(runs []StructureRun) ([]EvannoRow, error) {
	byK := make(map[int][]float64)
	for _, r := range runs {
		byK[r.K] = append(byK[r.K], r.EstLnProb)
	}
	ks := make([]int, 0, len(byK))
	for k := range byK {
		ks = append(ks, k)
	}
	sort.Ints(ks)

	rows := make([]EvannoRow, len(ks))
	for i, k := range ks {
		mean, _ := stats.Mean(byK[k])
		var sd float64
		if len(byK[k]) > 1 {
			sd, _ = stats.StandardDeviationSample(byK[k])
		}
		rows[i] = EvannoRow{K: k, Reps: len(byK[k]), Mean: mean, Stdev: sd,
			LnPK: math.NaN(), LnPPK: math.NaN(), DeltaK: math.NaN()}
	}

	if problems := evannoTests(rows, len(runs)); len(problems) > 0 {
		return rows, &ParseError{
			File:   "Evanno table",
			Reason: "unable to perform the Evanno method: " + strings.Join(problems, "; "),
		}
	}

	for i := 1; i < len(rows); i++ {
		rows[i].LnPK = rows[i].Mean - rows[i-1].Mean
	}
	for i := 1; i < len(rows)-1; i++ {
		rows[i].LnPPK = math.Abs(rows[i+1].LnPK - rows[i].LnPK)
		rows[i].DeltaK = math.Abs(rows[i+1].Mean-2*rows[i].Mean+rows[i-1].Mean) / rows[i].Stdev
	}
	return rows, nil
}

func evannoTests(rows []EvannoRow, runs int) []string {
	var problems []string
	if len(rows) < 3 {
		return append(problems, "at least 3 values of K must be tested")
	}
	if rows[len(rows)-1].K-rows[0].K+1 != len(rows) {
		problems = append(problems, "K values must be sequential")
	}
	if float64(runs)/float64(len(rows)) <= 1 {
		problems = append(problems, "the number of replicates per K must be > 1")
	}
	for _, r := range rows[1 : len(rows)-1] {
		if r.Stdev < stdevEpsilon {
			problems = append(problems, fmt.Sprintf("standard deviation of LnP(D) is ~0 for K = %d", r.K))
		}
	}
	return problems
}

// TopDeltaK returns up to n K values ordered by decreasing deltaK.
func TopDeltaK(rows []EvannoRow, n int) models.BestKResult {
	var candidates []EvannoRow
	for _, r := range rows {
		if !math.IsNaN(r.DeltaK) {
			candidates = append(candidates, r)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].DeltaK > candidates[j].DeltaK })

	var best models.BestKResult
	for i := 0; i < len(candidates) && i < n; i++ {
		best = append(best, candidates[i].K)
	}
	return best
}

// Evanno applies the Evanno method to the STRUCTURE _f files of a results
// directory.
type Evanno struct{}

// Evaluate writes bestK/evanno.txt and bestK/summary.txt and returns the top
// three K values by deltaK.
func (Evanno) Evaluate(resultsDir string) (models.BestKResult, error) {
	files, err := globResults(resultsDir, "*_f")
	if err != nil {
		return nil, err
	}
	runs, err := parseAll(files, ParseStructureRun)
	if err != nil {
		return nil, err
	}

	rows, err := EvannoTable(runs)
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) {
			pe.File = resultsDir
		}
		return nil, err
	}

	dir, err := bestKDir(resultsDir)
	if err != nil {
		return nil, err
	}
	if err := writeEvannoTable(filepath.Join(dir, "evanno.txt"), rows); err != nil {
		return nil, err
	}
	if err := writeHarvestSummary(filepath.Join(dir, "summary.txt"), rows, runs); err != nil {
		return nil, err
	}
	return TopDeltaK(rows, constants.EvannoTopK), nil
}

func formatOrNA(v float64) string {
	if math.IsNaN(v) {
		return "NA"
	}
	return fmt.Sprintf("%f", v)
}

func writeEvannoTable(path string, rows []EvannoRow) error {
	var b strings.Builder
	b.WriteString("# Evanno method table\n")
	b.WriteString("# K\tReps\tMean LnP(K)\tStdev LnP(K)\tLn'(K)\t|Ln''(K)|\tDelta K\n")
	for _, r := range rows {
		fmt.Fprintf(&b, "%d\t%d\t%.4f\t%.4f\t%s\t%s\t%s\n",
			r.K, r.Reps, r.Mean, r.Stdev, formatOrNA(r.LnPK), formatOrNA(r.LnPPK), formatOrNA(r.DeltaK))
	}
	return os.WriteFile(path, []byte(b.String()), 0644)
}

func writeHarvestSummary(path string, rows []EvannoRow, runs []StructureRun) error {
	var b strings.Builder
	b.WriteString("# K\tReps\tmean est. LnP(Data)\tstdev est. LnP(Data)\n")
	for _, r := range rows {
		fmt.Fprintf(&b, "%d\t%d\t%f\t%f\n", r.K, r.Reps, r.Mean, r.Stdev)
	}

	sorted := append([]StructureRun(nil), runs...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].K != sorted[j].K {
			return sorted[i].K < sorted[j].K
		}
		return sorted[i].Replicate < sorted[j].Replicate
	})

	b.WriteString("\n# File name\tRun #\tK\tEst. Ln prob. of data\tMean value of Ln likelihood\tVariance of Ln likelihood\n")
	for _, r := range sorted {
		run := ""
		if r.Replicate > 0 {
			run = strconv.Itoa(r.Replicate)
		}
		fmt.Fprintf(&b, "%s\t%s\t%d\t%.1f\t%.1f\t%.1f\n", r.Name, run, r.K, r.EstLnProb, r.MeanLlh, r.VarLlh)
	}
	return os.WriteFile(path, []byte(b.String()), 0644)
}
