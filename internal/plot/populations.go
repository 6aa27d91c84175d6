package plot

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
)

// PopEntry is one line of a plotting population file:
//
//	name  number_of_individuals  position_in_input
//
// Lines are listed in the order populations should be drawn.
type PopEntry struct {
	Name  string
	Count int
	Order int
}

// Group is a contiguous run of individuals drawn as one population.
type Group struct {
	Name  string
	Start int // first individual, inclusive
	End   int // last individual, exclusive
}

// ReadPopFile parses a population file.
func ReadPopFile(path string) ([]PopEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open population file: %w", err)
	}
	defer f.Close()

	var entries []PopEntry
	scanner := bufio.NewScanner(f)
	for n := 1; scanner.Scan(); n++ {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) < 3 {
			return nil, fmt.Errorf("population file line %d: expected name, count and order", n)
		}
		count, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("population file line %d: bad count: %w", n, err)
		}
		order, err := strconv.Atoi(fields[2])
		if err != nil {
			return nil, fmt.Errorf("population file line %d: bad order: %w", n, err)
		}
		entries = append(entries, PopEntry{Name: fields[0], Count: count, Order: order})
	}
	return entries, scanner.Err()
}

// Reorder rearranges the rows of q into the order of entries. In the input
// the populations appear by ascending Order; each entry's block is moved to
// the entry's position in the file.
func Reorder(q QMatrix, entries []PopEntry) (QMatrix, []Group, error) {
	byOrder := append([]PopEntry(nil), entries...)
	sort.Slice(byOrder, func(i, j int) bool { return byOrder[i].Order < byOrder[j].Order })

	offsets := make(map[int]int, len(entries))
	total := 0
	for _, e := range byOrder {
		if _, dup := offsets[e.Order]; dup {
			return QMatrix{}, nil, fmt.Errorf("population order %d used twice", e.Order)
		}
		offsets[e.Order] = total
		total += e.Count
	}
	if total != len(q.Values) {
		return QMatrix{}, nil, fmt.Errorf("population file describes %d individuals, results have %d", total, len(q.Values))
	}

	var out QMatrix
	groups := make([]Group, 0, len(entries))
	for _, e := range entries {
		start := offsets[e.Order]
		groups = append(groups, Group{Name: e.Name, Start: len(out.Values), End: len(out.Values) + e.Count})
		out.Values = append(out.Values, q.Values[start:start+e.Count]...)
		if len(q.Labels) == len(q.Values) {
			out.Labels = append(out.Labels, q.Labels[start:start+e.Count]...)
		}
		if len(q.Pops) == len(q.Values) {
			out.Pops = append(out.Pops, q.Pops[start:start+e.Count]...)
		}
	}
	return out, groups, nil
}

// GroupsFromPops groups consecutive individuals sharing an assumed
// population, named Pop1, Pop2 and so on.
func GroupsFromPops(pops []int) []Group {
	var groups []Group
	for i, p := range pops {
		if i == 0 || p != pops[i-1] {
			groups = append(groups, Group{Name: fmt.Sprintf("Pop%d", len(groups)+1), Start: i})
		}
		groups[len(groups)-1].End = i + 1
	}
	return groups
}

// ReadIndLabels reads one individual label per line (first field).
func ReadIndLabels(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open individual file: %w", err)
	}
	defer f.Close()

	var labels []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		labels = append(labels, fields[0])
	}
	return labels, scanner.Err()
}
