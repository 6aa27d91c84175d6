package publish

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LocalUploader copies archives below a directory, for shared filesystems.
type LocalUploader struct {
	Root string
}

// Upload copies localPath to Root/key.
func (u LocalUploader) Upload(ctx context.Context, localPath, key string) (string, error) {
	dest := filepath.Join(u.Root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", filepath.Dir(dest), err)
	}

	src, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open archive: %w", err)
	}
	defer src.Close()

	tmp := dest + ".tmp"
	dst, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", tmp, err)
	}
	if _, err := io.Copy(dst, &contextReader{ctx: ctx, r: src}); err != nil {
		dst.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("failed to copy archive: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to move archive into place: %w", err)
	}
	return dest, nil
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
