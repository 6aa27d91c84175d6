package publish

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/popgen/structure-threader/internal/config"
	"github.com/popgen/structure-threader/internal/logging"
	"github.com/popgen/structure-threader/internal/progress"
)

// Publisher archives, uploads and notifies. Either step may be disabled by
// leaving its setting empty.
type Publisher struct {
	settings config.PublishDefaults
	logger   *logging.Logger
	progress progress.Reporter

	// newUploader is replaced in tests.
	newUploader func(ctx context.Context, t Target) (Uploader, error)
}

// NewPublisher returns a publisher for the [publish] settings.
func NewPublisher(settings config.PublishDefaults, logger *logging.Logger, reporter progress.Reporter) *Publisher {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if reporter == nil {
		reporter = progress.NewNoOpProgress()
	}
	p := &Publisher{settings: settings, logger: logger, progress: reporter}
	p.newUploader = p.defaultUploader
	return p
}

// Enabled reports whether there is anything to do.
func (p *Publisher) Enabled() bool {
	return p.settings.Target != "" || p.settings.NotifyURL != ""
}

// Publish archives resultsDir, uploads it under {prefix}/{runID}/ and then
// POSTs note to the webhook with the archive location filled in. The
// webhook is still attempted when the upload fails; both errors are
// reported.
func (p *Publisher) Publish(ctx context.Context, runID, resultsDir string, note Notification) error {
	var uploadErr error
	if p.settings.Target != "" {
		note.ArchiveURL, uploadErr = p.upload(ctx, runID, resultsDir)
		if uploadErr != nil {
			p.logger.Errorf("Publishing results failed: %v", uploadErr)
		} else {
			p.logger.Infof("Results published to %s", note.ArchiveURL)
		}
	}

	if p.settings.NotifyURL == "" {
		return uploadErr
	}
	if note.FinishedAt.IsZero() {
		note.FinishedAt = time.Now().UTC()
	}
	note.RunID = runID
	if err := NewNotifier(p.settings.NotifyURL, p.logger).Notify(ctx, note); err != nil {
		if uploadErr != nil {
			return fmt.Errorf("%w; %v", uploadErr, err)
		}
		return err
	}
	p.logger.Debugf("Completion webhook sent to %s", p.settings.NotifyURL)
	return uploadErr
}

func (p *Publisher) upload(ctx context.Context, runID, resultsDir string) (string, error) {
	target, err := ParseTarget(p.settings.Target)
	if err != nil {
		return "", err
	}
	uploader, err := p.newUploader(ctx, target)
	if err != nil {
		return "", err
	}

	tmpDir, err := os.MkdirTemp("", "threader-publish-")
	if err != nil {
		return "", fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	name := filepath.Base(filepath.Clean(resultsDir)) + ".tar.gz"
	archive := filepath.Join(tmpDir, name)
	if _, err := Archive(ctx, resultsDir, archive, nil, p.progress); err != nil {
		return "", err
	}
	return uploader.Upload(ctx, archive, target.ObjectKey(runID, name))
}

func (p *Publisher) defaultUploader(ctx context.Context, t Target) (Uploader, error) {
	switch t.Scheme {
	case SchemeS3:
		return NewS3Uploader(ctx, t.Bucket, S3Options{Region: p.settings.Region, Endpoint: p.settings.Endpoint})
	case SchemeAzure:
		u, err := NewAzureUploader(p.settings.Endpoint, t.Bucket)
		if err != nil {
			return nil, err
		}
		return u, nil
	default:
		return LocalUploader{Root: t.Bucket}, nil
	}
}
