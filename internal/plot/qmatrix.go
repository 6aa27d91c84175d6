package plot

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/popgen/structure-threader/internal/bestk"
)

const (
	ancestryHeader = "inferred ancestry of individuals:"
	popInfoHeader  = "probability of being from assumed population | prob of other pops"
	ancestryEnd    = "estimated allele frequencies in each cluster"
)

// QMatrix holds ancestry proportions, one row per individual.
type QMatrix struct {
	Values [][]float64
	Labels []string // individual labels, empty for .meanQ input
	Pops   []int    // assumed population per individual, empty for .meanQ input
}

// K returns the number of clusters.
func (q QMatrix) K() int {
	if len(q.Values) == 0 {
		return 0
	}
	return len(q.Values[0])
}

// ReadMeanQ reads a fastStructure .meanQ file.
func ReadMeanQ(path string) (QMatrix, error) {
	values, err := bestk.ReadQMatrix(path)
	if err != nil {
		return QMatrix{}, err
	}
	return QMatrix{Values: values}, nil
}

// ReadStructureQ reads the "Inferred ancestry of individuals" block of a
// STRUCTURE _f file, with or without USEPOPINFO.
func ReadStructureQ(path string) (QMatrix, error) {
	f, err := os.Open(path)
	if err != nil {
		return QMatrix{}, &bestk.ParseError{File: path, Reason: "cannot open", Err: err}
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(scanner.Text())), ancestryHeader) {
			continue
		}
		if !scanner.Scan() {
			break
		}
		sub := strings.ToLower(strings.TrimSpace(scanner.Text()))
		if strings.HasPrefix(sub, popInfoHeader) {
			return parsePopInfoBlock(path, scanner)
		}
		return parseAncestryBlock(path, scanner)
	}
	if err := scanner.Err(); err != nil {
		return QMatrix{}, &bestk.ParseError{File: path, Reason: "read failed", Err: err}
	}
	return QMatrix{}, &bestk.ParseError{File: path, Reason: "no inferred ancestry block"}
}

// parseAncestryBlock reads rows like
//
//	1 ind_1 (0) 2 : 0.120 0.880
func parseAncestryBlock(path string, scanner *bufio.Scanner) (QMatrix, error) {
	var q QMatrix
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(strings.ToLower(line), ancestryEnd) {
			break
		}
		fields := strings.Fields(line)
		if len(fields) < 6 {
			return QMatrix{}, &bestk.ParseError{File: path, Reason: fmt.Sprintf("short ancestry row %q", line)}
		}
		pop, err := strconv.Atoi(fields[3])
		if err != nil {
			return QMatrix{}, &bestk.ParseError{File: path, Reason: "bad population", Err: err}
		}
		row, err := parseFloats(fields[5:])
		if err != nil {
			return QMatrix{}, &bestk.ParseError{File: path, Reason: "bad ancestry value", Err: err}
		}
		q.Values = append(q.Values, row)
		q.Labels = append(q.Labels, fields[1])
		q.Pops = append(q.Pops, pop)
	}
	return q, finishBlock(path, scanner, q)
}

// parsePopInfoBlock reads USEPOPINFO rows like
//
//	1 ind_1 (0) 1 : 0.900 | Pop 2: 0.010 0.020 0.070 |
//
// where the assumed population's probability is given directly and the
// others are the sum of their generation columns.
func parsePopInfoBlock(path string, scanner *bufio.Scanner) (QMatrix, error) {
	var q QMatrix
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(strings.ToLower(line), ancestryEnd) {
			break
		}
		parts := strings.Split(line, "|")
		if len(parts) < 2 {
			return QMatrix{}, &bestk.ParseError{File: path, Reason: fmt.Sprintf("malformed popinfo row %q", line)}
		}
		parts = parts[:len(parts)-1]

		head := strings.Fields(parts[0])
		if len(head) < 6 {
			return QMatrix{}, &bestk.ParseError{File: path, Reason: fmt.Sprintf("short popinfo row %q", line)}
		}
		assumed, err := strconv.Atoi(head[3])
		if err != nil {
			return QMatrix{}, &bestk.ParseError{File: path, Reason: "bad population", Err: err}
		}
		byPop := map[int]float64{}
		if byPop[assumed], err = strconv.ParseFloat(head[5], 64); err != nil {
			return QMatrix{}, &bestk.ParseError{File: path, Reason: "bad ancestry value", Err: err}
		}
		for _, other := range parts[1:] {
			fields := strings.Fields(other)
			if len(fields) < 3 {
				return QMatrix{}, &bestk.ParseError{File: path, Reason: fmt.Sprintf("short popinfo group %q", other)}
			}
			pop, err := strconv.Atoi(strings.TrimSuffix(fields[1], ":"))
			if err != nil {
				return QMatrix{}, &bestk.ParseError{File: path, Reason: "bad population", Err: err}
			}
			tail := fields[len(fields)-3:]
			probs, err := parseFloats(tail)
			if err != nil {
				return QMatrix{}, &bestk.ParseError{File: path, Reason: "bad ancestry value", Err: err}
			}
			byPop[pop] = probs[0] + probs[1] + probs[2]
		}

		pops := make([]int, 0, len(byPop))
		for p := range byPop {
			pops = append(pops, p)
		}
		sort.Ints(pops)
		row := make([]float64, len(pops))
		for i, p := range pops {
			row[i] = byPop[p]
		}
		q.Values = append(q.Values, row)
		q.Labels = append(q.Labels, head[1])
		q.Pops = append(q.Pops, assumed)
	}
	return q, finishBlock(path, scanner, q)
}

func finishBlock(path string, scanner *bufio.Scanner, q QMatrix) error {
	if err := scanner.Err(); err != nil {
		return &bestk.ParseError{File: path, Reason: "read failed", Err: err}
	}
	if len(q.Values) == 0 {
		return &bestk.ParseError{File: path, Reason: "empty inferred ancestry block"}
	}
	return nil
}

func parseFloats(fields []string) ([]float64, error) {
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
