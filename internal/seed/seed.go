// Package seed assigns reproducible per-job seeds from a single master seed.
package seed

import (
	"strconv"

	"github.com/popgen/structure-threader/internal/constants"
	"github.com/popgen/structure-threader/internal/models"
)

// Generator draws per-job seeds. A nil *Generator hands out no seeds.
type Generator struct {
	src *mt19937
}

// New returns a generator for master, or nil when master is nil.
func New(master *int64) *Generator {
	if master == nil {
		return nil
	}
	return &Generator{src: newMT19937(*master)}
}

// Next returns the next seed in [0, constants.SeedUpperBound).
func (g *Generator) Next() int64 {
	return int64(g.src.below(constants.SeedUpperBound))
}

// Assign annotates jobs, in the order given, with one seed each. The input
// slice is not modified. With a nil master seed the jobs are returned
// unseeded.
//
// Callers pass jobs in enumeration order (K descending, replicate
// descending); changing that order changes which job receives which seed.
func Assign(master *int64, jobs []models.Job) []models.Job {
	out := make([]models.Job, len(jobs))
	g := New(master)
	for i, j := range jobs {
		if g != nil {
			j = j.WithSeed(strconv.FormatInt(g.Next(), 10))
		}
		out[i] = j
	}
	return out
}
