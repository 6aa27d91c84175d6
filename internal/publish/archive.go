package publish

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/popgen/structure-threader/internal/constants"
	"github.com/popgen/structure-threader/internal/diskspace"
	"github.com/popgen/structure-threader/internal/progress"
)

// Archive writes sourceDir as a gzip-compressed tar to outputPath. Entries
// are relative to the parent of sourceDir, so the archive unpacks into a
// single directory. Files matching any exclude pattern (by base name) are
// skipped. Returns the archive size.
func Archive(ctx context.Context, sourceDir, outputPath string, excludePatterns []string, reporter progress.Reporter) (int64, error) {
	if reporter == nil {
		reporter = progress.NewNoOpProgress()
	}

	info, err := os.Stat(sourceDir)
	if err != nil {
		return 0, fmt.Errorf("source directory does not exist: %w", err)
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("source path is not a directory: %s", sourceDir)
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return 0, fmt.Errorf("failed to create output directory: %w", err)
	}

	total, err := treeSize(sourceDir, excludePatterns)
	if err != nil {
		return 0, err
	}
	if err := diskspace.CheckAvailableSpace(filepath.Dir(outputPath), total, constants.DiskSpaceSafetyMargin); err != nil {
		return 0, err
	}
	reporter.Start(total, "Archiving results")

	if err := writeArchive(ctx, sourceDir, outputPath, excludePatterns, reporter); err != nil {
		os.Remove(outputPath)
		reporter.Error(err)
		return 0, fmt.Errorf("failed to create archive: %w", err)
	}
	reporter.Finish()

	out, err := os.Stat(outputPath)
	if err != nil {
		return 0, fmt.Errorf("archive not created: %w", err)
	}
	return out.Size(), nil
}

func writeArchive(ctx context.Context, sourceDir, outputPath string, excludePatterns []string, reporter progress.Reporter) error {
	outFile, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	defer outFile.Close()

	gzWriter := gzip.NewWriter(outFile)
	tarWriter := tar.NewWriter(gzWriter)

	dirName := filepath.Base(sourceDir)
	var written int64

	err = filepath.Walk(sourceDir, func(filePath string, fileInfo os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if filePath == sourceDir {
			return nil
		}
		if !fileInfo.IsDir() && excluded(filepath.Base(filePath), excludePatterns) {
			return nil
		}
		// Symlinked inputs are recorded as links, never followed.
		link := ""
		if fileInfo.Mode()&os.ModeSymlink != 0 {
			if link, err = os.Readlink(filePath); err != nil {
				return fmt.Errorf("failed to read link: %w", err)
			}
		}

		relPath, err := filepath.Rel(sourceDir, filePath)
		if err != nil {
			return fmt.Errorf("failed to get relative path: %w", err)
		}

		header, err := tar.FileInfoHeader(fileInfo, link)
		if err != nil {
			return fmt.Errorf("failed to create tar header: %w", err)
		}
		header.Name = filepath.ToSlash(filepath.Join(dirName, relPath))

		if err := tarWriter.WriteHeader(header); err != nil {
			return fmt.Errorf("failed to write tar header: %w", err)
		}
		if !fileInfo.Mode().IsRegular() {
			return nil
		}

		file, err := os.Open(filePath)
		if err != nil {
			return fmt.Errorf("failed to open file: %w", err)
		}
		defer file.Close()

		n, err := io.Copy(tarWriter, file)
		if err != nil {
			return fmt.Errorf("failed to write file contents: %w", err)
		}
		written += n
		reporter.Update(written)
		return nil
	})
	if err != nil {
		return err
	}

	if err := tarWriter.Close(); err != nil {
		return fmt.Errorf("failed to finish tar stream: %w", err)
	}
	if err := gzWriter.Close(); err != nil {
		return fmt.Errorf("failed to finish gzip stream: %w", err)
	}
	return outFile.Close()
}

func treeSize(root string, excludePatterns []string) (int64, error) {
	var total int64
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode().IsRegular() && !excluded(info.Name(), excludePatterns) {
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to scan %s: %w", root, err)
	}
	return total, nil
}

func excluded(name string, patterns []string) bool {
	for _, pattern := range patterns {
		if matched, err := filepath.Match(pattern, name); err == nil && matched {
			return true
		}
	}
	return false
}
