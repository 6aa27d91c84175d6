// Package diskspace checks free space on the filesystem holding a path
// before a run writes results or an archive there.
package diskspace

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
)

// InsufficientSpaceError indicates that there is not enough disk space available.
type InsufficientSpaceError struct {
	Path           string
	RequiredBytes  int64
	AvailableBytes int64
}

func (e *InsufficientSpaceError) Error() string {
	return fmt.Sprintf("insufficient disk space for %s: need %s, have %s available",
		e.Path, humanize.IBytes(uint64(e.RequiredBytes)), humanize.IBytes(uint64(e.AvailableBytes)))
}

// CheckAvailableSpace returns an InsufficientSpaceError when the filesystem
// holding dir has less than requiredBytes*safetyMargin free. dir must exist.
// Filesystems that cannot be queried pass the check.
func CheckAvailableSpace(dir string, requiredBytes int64, safetyMargin float64) error {
	available, ok := availableBytes(dir)
	if !ok {
		return nil
	}

	required := int64(float64(requiredBytes) * safetyMargin)
	if available < required {
		return &InsufficientSpaceError{
			Path:           dir,
			RequiredBytes:  required,
			AvailableBytes: available,
		}
	}
	return nil
}

// GetAvailableSpace returns the free bytes on the filesystem holding dir,
// or 0 if unable to determine.
func GetAvailableSpace(dir string) int64 {
	n, _ := availableBytes(dir)
	return n
}

// IsInsufficientSpaceError checks if an error is an InsufficientSpaceError
func IsInsufficientSpaceError(err error) bool {
	var e *InsufficientSpaceError
	return errors.As(err, &e)
}
