// Package publish archives a results directory and ships it somewhere
// operators can reach: an S3 bucket, an Azure container or a local
// directory. A JSON summary can also be POSTed to a webhook when the run
// finishes.
package publish

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
)

// Scheme selects the storage backend of a Target.
type Scheme string

const (
	SchemeS3    Scheme = "s3"
	SchemeAzure Scheme = "az"
	SchemeLocal Scheme = "file"
)

// Target is a parsed --publish destination.
type Target struct {
	Scheme Scheme
	// Bucket is the S3 bucket, Azure container or local directory.
	Bucket string
	Prefix string
}

// ParseTarget parses s3://bucket/prefix, az://container/prefix or a plain
// local directory path.
func ParseTarget(s string) (Target, error) {
	if s == "" {
		return Target{}, fmt.Errorf("empty publish target")
	}
	if !strings.Contains(s, "://") {
		return Target{Scheme: SchemeLocal, Bucket: s}, nil
	}

	u, err := url.Parse(s)
	if err != nil {
		return Target{}, fmt.Errorf("invalid publish target %q: %w", s, err)
	}
	t := Target{Bucket: u.Host, Prefix: strings.Trim(u.Path, "/")}
	switch strings.ToLower(u.Scheme) {
	case "s3":
		t.Scheme = SchemeS3
	case "az", "azure":
		t.Scheme = SchemeAzure
	case "file":
		t.Scheme = SchemeLocal
		t.Bucket = u.Path
		t.Prefix = ""
	default:
		return Target{}, fmt.Errorf("unsupported publish scheme %q (expected s3, az or a local path)", u.Scheme)
	}
	if t.Bucket == "" {
		return Target{}, fmt.Errorf("publish target %q has no bucket or container", s)
	}
	return t, nil
}

// ObjectKey joins the target prefix, the run ID and the archive name.
func (t Target) ObjectKey(runID, name string) string {
	return path.Join(t.Prefix, runID, name)
}

func (t Target) String() string {
	if t.Scheme == SchemeLocal {
		return t.Bucket
	}
	return fmt.Sprintf("%s://%s/%s", t.Scheme, t.Bucket, t.Prefix)
}

// Uploader stores a local file under key and returns where it ended up.
type Uploader interface {
	Upload(ctx context.Context, localPath, key string) (string, error)
}
