package bestk

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/popgen/structure-threader/internal/models"
)

// ParseMarginalLikelihood returns the K encoded in a fastStructure log name
// (prefix.K.log) and the marginal likelihood reported in it.
func ParseMarginalLikelihood(path string) (k int, ml float64, err error) {
	parts := strings.Split(filepath.Base(path), ".")
	if len(parts) < 3 {
		return 0, 0, &ParseError{File: path, Reason: "cannot read K from file name"}
	}
	if k, err = strconv.Atoi(parts[len(parts)-2]); err != nil {
		return 0, 0, &ParseError{File: path, Reason: "cannot read K from file name", Err: err}
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, 0, &ParseError{File: path, Reason: "cannot open", Err: err}
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.Contains(line, "Marginal Likelihood") {
			continue
		}
		_, value, ok := strings.Cut(line, "=")
		if !ok {
			return 0, 0, &ParseError{File: path, Reason: "malformed marginal likelihood line"}
		}
		ml, err = parseFinite(path, "Marginal Likelihood", strings.TrimSpace(value))
		return k, ml, err
	}
	if err := scanner.Err(); err != nil {
		return 0, 0, &ParseError{File: path, Reason: "read failed", Err: err}
	}
	return 0, 0, &ParseError{File: path, Reason: "no marginal likelihood found"}
}

// ReadQMatrix reads a whitespace separated matrix of floats, one row per
// individual. Blank lines are skipped.
func ReadQMatrix(path string) ([][]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ParseError{File: path, Reason: "cannot open", Err: err}
	}
	defer f.Close()

	var q [][]float64
	scanner := bufio.NewScanner(f)
	for line := 1; scanner.Scan(); line++ {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		row := make([]float64, len(fields))
		for i, field := range fields {
			if row[i], err = strconv.ParseFloat(field, 64); err != nil {
				return nil, &ParseError{File: path, Reason: fmt.Sprintf("bad value on line %d", line), Err: err}
			}
		}
		if len(q) > 0 && len(row) != len(q[0]) {
			return nil, &ParseError{File: path, Reason: fmt.Sprintf("line %d has %d columns, expected %d", line, len(row), len(q[0]))}
		}
		q = append(q, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, &ParseError{File: path, Reason: "read failed", Err: err}
	}
	if len(q) == 0 {
		return nil, &ParseError{File: path, Reason: "empty Q matrix"}
	}
	return q, nil
}

// ComponentsUsed returns the number of model components needed to explain
// the structure in q: rows are normalized, column sums sorted descending,
// and components counted while their cumulative sum stays below N-1.
func ComponentsUsed(q [][]float64) int {
	n := len(q)
	if n == 0 {
		return 0
	}
	cols := make([]float64, len(q[0]))
	for _, row := range q {
		var total float64
		for _, v := range row {
			total += v
		}
		if total == 0 {
			continue
		}
		for j, v := range row {
			cols[j] += v / total
		}
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(cols)))

	count := 0
	var cum float64
	for _, c := range cols {
		cum += c
		if cum < float64(n-1) {
			count++
		}
	}
	return count + 1
}

// FastChooseK selects K for fastStructure results from the marginal
// likelihoods in the .log files and the components used in the .meanQ files.
type FastChooseK struct{}

// Evaluate writes bestK/chooseK.txt and returns every K between the
// likelihood maximizer and the most common component count.
func (FastChooseK) Evaluate(resultsDir string) (models.BestKResult, error) {
	logs, err := globResults(resultsDir, "*.log")
	if err != nil {
		return nil, err
	}
	type likelihood struct {
		k  int
		ml float64
	}
	lls, err := parseAll(logs, func(path string) (likelihood, error) {
		k, ml, err := ParseMarginalLikelihood(path)
		return likelihood{k, ml}, err
	})
	if err != nil {
		return nil, err
	}
	mlK := lls[0].k
	best := lls[0].ml
	for _, l := range lls[1:] {
		if l.ml > best {
			best, mlK = l.ml, l.k
		}
	}

	qs, err := globResults(resultsDir, "*.meanQ")
	if err != nil {
		return nil, err
	}
	used, err := parseAll(qs, func(path string) (int, error) {
		q, err := ReadQMatrix(path)
		if err != nil {
			return 0, err
		}
		return ComponentsUsed(q), nil
	})
	if err != nil {
		return nil, err
	}
	modeK := mode(used)

	dir, err := bestKDir(resultsDir)
	if err != nil {
		return nil, err
	}
	report := fmt.Sprintf("Model complexity that maximizes marginal likelihood = %d\n"+
		"Model components used to explain structure in data = %d\n", mlK, modeK)
	if err := os.WriteFile(filepath.Join(dir, "chooseK.txt"), []byte(report), 0644); err != nil {
		return nil, err
	}

	lo, hi := mlK, modeK
	if lo > hi {
		lo, hi = hi, lo
	}
	var result models.BestKResult
	for k := lo; k <= hi; k++ {
		result = append(result, k)
	}
	return result, nil
}

// mode returns the most frequent value, the smallest on ties.
func mode(values []int) int {
	counts := make(map[int]int)
	for _, v := range values {
		counts[v]++
	}
	best, bestCount := 0, -1
	for v, c := range counts {
		if c > bestCount || (c == bestCount && v < best) {
			best, bestCount = v, c
		}
	}
	return best
}
