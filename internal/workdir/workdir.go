// Package workdir changes the process working directory for the length of
// a dispatch and guarantees it is put back.
package workdir

import (
	"fmt"
	"os"
	"sync"
)

// Scope is an acquired working directory. The previous directory is
// restored by Restore, which is safe to call more than once.
type Scope struct {
	previous string
	once     sync.Once
	err      error
}

// Enter changes into dir and returns a Scope remembering where it came from.
func Enter(dir string) (*Scope, error) {
	prev, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}
	if err := os.Chdir(dir); err != nil {
		return nil, fmt.Errorf("failed to change to %s: %w", dir, err)
	}
	return &Scope{previous: prev}, nil
}

// Restore changes back to the original directory. Only the first call has
// an effect; later calls return the first call's error.
func (s *Scope) Restore() error {
	if s == nil {
		return nil
	}
	s.once.Do(func() {
		if err := os.Chdir(s.previous); err != nil {
			s.err = fmt.Errorf("failed to restore working directory %s: %w", s.previous, err)
		}
	})
	return s.err
}
