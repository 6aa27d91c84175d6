package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/popgen/structure-threader/internal/constants"
	"github.com/popgen/structure-threader/internal/logging"
)

// Notification is the JSON body POSTed when a run finishes.
type Notification struct {
	RunID          string    `json:"run_id"`
	Program        string    `json:"program"`
	OutputDir      string    `json:"output_dir"`
	Successes      int       `json:"successes"`
	Failures       int       `json:"failures"`
	FailedPaths    []string  `json:"failed_paths,omitempty"`
	CPUTimeSeconds float64   `json:"cpu_time_seconds"`
	BestK          []int     `json:"best_k,omitempty"`
	StageErrors    []string  `json:"stage_errors,omitempty"`
	ArchiveURL     string    `json:"archive_url,omitempty"`
	FinishedAt     time.Time `json:"finished_at"`
}

// retryLogger routes retryablehttp messages through the threader logger.
type retryLogger struct {
	logger *logging.Logger
}

func (l *retryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Warnf("webhook: %s %v", msg, keysAndValues)
}

func (l *retryLogger) Info(msg string, keysAndValues ...interface{}) {}

func (l *retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Debugf("webhook: %s %v", msg, keysAndValues)
}

func (l *retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warnf("webhook: %s %v", msg, keysAndValues)
}

// Notifier POSTs notifications with retries on 5xx and network errors.
type Notifier struct {
	url    string
	client *retryablehttp.Client
}

// NewNotifier returns a notifier for url.
func NewNotifier(url string, logger *logging.Logger) *Notifier {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	client := retryablehttp.NewClient()
	client.RetryMax = constants.WebhookRetryMax
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 10 * time.Second
	client.HTTPClient.Timeout = constants.WebhookTimeout
	client.Logger = &retryLogger{logger: logger}
	return &Notifier{url: url, client: client}
}

// Notify sends n. Any non-2xx final response is an error.
func (n *Notifier) Notify(ctx context.Context, note Notification) error {
	body, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, n.url, body)
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook %s failed: %w", n.url, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook %s returned %s", n.url, resp.Status)
	}
	return nil
}
