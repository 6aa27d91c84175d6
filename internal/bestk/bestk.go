// Package bestk implements the post-run tests that pick the most supported
// number of clusters: the Evanno method for STRUCTURE, fastChooseK for
// fastStructure and MavericK's evidence merge and normalization.
//
// Every evaluator writes its report into the bestK directory of the
// results directory and returns the candidate K values.
package bestk

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/popgen/structure-threader/internal/constants"
	"github.com/popgen/structure-threader/internal/models"
)

// ErrNoResults is returned when a results directory holds no files the
// evaluator can read.
var ErrNoResults = errors.New("no result files found")

// ParseError reports a malformed or unusable result file.
type ParseError struct {
	File   string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.File, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.File, e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Evaluator selects candidate K values from a results directory.
type Evaluator interface {
	Evaluate(resultsDir string) (models.BestKResult, error)
}

// bestKDir creates and returns the report directory of resultsDir.
func bestKDir(resultsDir string) (string, error) {
	dir := filepath.Join(resultsDir, constants.BestKDirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dir, err)
	}
	return dir, nil
}

// globResults returns the sorted files of resultsDir matching pattern, or
// ErrNoResults.
func globResults(resultsDir, pattern string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(resultsDir, pattern))
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no %s files in %s", ErrNoResults, pattern, resultsDir)
	}
	sort.Strings(files)
	return files, nil
}

// parseAll runs parse on every file with bounded parallelism. Results keep
// the order of files.
func parseAll[T any](files []string, parse func(string) (T, error)) ([]T, error) {
	results := make([]T, len(files))
	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	for i, f := range files {
		i, f := i, f
		g.Go(func() error {
			r, err := parse(f)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
