// Package jobs builds the ordered job set for a sweep over K and replicates.
package jobs

import (
	"sort"

	"github.com/popgen/structure-threader/internal/models"
)

// Enumerate returns the reversed cartesian product of kList and 1..replicates:
// highest K first and, within a K, highest replicate first. Longer running
// high-K jobs are therefore dispatched before short ones.
//
// Programs without replicate support get exactly one replicate per K.
// Duplicate K values are collapsed.
func Enumerate(kind models.ProgramKind, kList []int, replicates int) []models.Job {
	if !kind.SupportsReplicates() || replicates < 1 {
		replicates = 1
	}

	ks := uniqueKs(kList)
	// Reversing the product of an ascending K list gives K descending.
	sort.Sort(sort.Reverse(sort.IntSlice(ks)))

	out := make([]models.Job, 0, len(ks)*replicates)
	for _, k := range ks {
		for r := replicates; r >= 1; r-- {
			out = append(out, models.Job{K: k, Replicate: r})
		}
	}
	return out
}

// ExpandK turns a single -K n into 1..n.
func ExpandK(n int) []int {
	ks := make([]int, 0, n)
	for k := 1; k <= n; k++ {
		ks = append(ks, k)
	}
	return ks
}

func uniqueKs(kList []int) []int {
	seen := make(map[int]bool, len(kList))
	ks := make([]int, 0, len(kList))
	for _, k := range kList {
		if seen[k] {
			continue
		}
		seen[k] = true
		ks = append(ks, k)
	}
	return ks
}
