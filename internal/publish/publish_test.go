package publish

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/popgen/structure-threader/internal/config"
)

func TestParseTarget(t *testing.T) {
	tests := []struct {
		input    string
		expected Target
		wantErr  bool
	}{
		{"s3://bucket/runs/popgen", Target{SchemeS3, "bucket", "runs/popgen"}, false},
		{"s3://bucket", Target{SchemeS3, "bucket", ""}, false},
		{"az://results/threader/", Target{SchemeAzure, "results", "threader"}, false},
		{"/shared/results", Target{SchemeLocal, "/shared/results", ""}, false},
		{"file:///shared/results", Target{SchemeLocal, "/shared/results", ""}, false},
		{"gs://bucket/x", Target{}, true},
		{"s3:///nobucket", Target{}, true},
		{"", Target{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseTarget(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseTarget(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.expected {
				t.Errorf("Expected %+v, got %+v", tt.expected, got)
			}
		})
	}
}

func TestObjectKey(t *testing.T) {
	tgt := Target{Scheme: SchemeS3, Bucket: "b", Prefix: "runs"}
	if key := tgt.ObjectKey("abc", "out.tar.gz"); key != "runs/abc/out.tar.gz" {
		t.Errorf("Expected runs/abc/out.tar.gz, got %s", key)
	}
	if key := (Target{Scheme: SchemeS3, Bucket: "b"}).ObjectKey("abc", "out.tar.gz"); key != "abc/out.tar.gz" {
		t.Errorf("Expected abc/out.tar.gz, got %s", key)
	}
}

func makeResults(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "results")
	for _, sub := range []string{"bestK", "plots"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0755); err != nil {
			t.Fatal(err)
		}
	}
	files := map[string]string{
		"str_K2_rep1_f":      "Estimated Ln Prob of Data = -1\n",
		"K2_rep1.stlog":      "log\n",
		"bestK/evanno.txt":   "K\tdeltaK\n",
		"plots/str_K2.png":   "png",
		"threader_state.csv": "run_id,job\n",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func listArchive(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Failed to open archive: %v", err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("Archive is not gzip: %v", err)
	}
	tr := tar.NewReader(gz)
	var names []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Bad tar stream: %v", err)
		}
		if hdr.Typeflag == tar.TypeReg {
			names = append(names, hdr.Name)
		}
	}
	sort.Strings(names)
	return names
}

func TestArchive(t *testing.T) {
	src := makeResults(t)
	out := filepath.Join(t.TempDir(), "results.tar.gz")

	size, err := Archive(context.Background(), src, out, []string{"*.stlog"}, nil)
	if err != nil {
		t.Fatalf("Archive failed: %v", err)
	}
	if size == 0 {
		t.Error("Expected non-empty archive")
	}

	names := listArchive(t, out)
	expected := []string{
		"results/bestK/evanno.txt",
		"results/plots/str_K2.png",
		"results/str_K2_rep1_f",
		"results/threader_state.csv",
	}
	if strings.Join(names, ",") != strings.Join(expected, ",") {
		t.Errorf("Expected %v, got %v", expected, names)
	}
}

func TestArchive_NotADirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	os.WriteFile(file, []byte("x"), 0644)
	if _, err := Archive(context.Background(), file, file+".tar.gz", nil, nil); err == nil {
		t.Error("Expected error for non-directory source")
	}
}

func TestArchive_Cancelled(t *testing.T) {
	src := makeResults(t)
	out := filepath.Join(t.TempDir(), "results.tar.gz")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := Archive(ctx, src, out, nil, nil); err == nil {
		t.Fatal("Expected error from cancelled context")
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Error("Expected partial archive to be removed")
	}
}

func TestNotifier(t *testing.T) {
	var attempts atomic.Int32
	var received Notification
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Expected application/json, got %s", ct)
		}
		json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	n := NewNotifier(server.URL, nil)
	n.client.RetryWaitMin = time.Millisecond
	n.client.RetryWaitMax = 5 * time.Millisecond

	note := Notification{RunID: "run-1", Successes: 3, Failures: 1, BestK: []int{3}}
	if err := n.Notify(context.Background(), note); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
	if attempts.Load() != 2 {
		t.Errorf("Expected 2 attempts, got %d", attempts.Load())
	}
	if received.RunID != "run-1" || received.Failures != 1 {
		t.Errorf("Unexpected body %+v", received)
	}
}

func TestNotifier_ClientError(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	n := NewNotifier(server.URL, nil)
	if err := n.Notify(context.Background(), Notification{}); err == nil {
		t.Error("Expected error for 400 response")
	}
	if attempts.Load() != 1 {
		t.Errorf("Expected no retries on 4xx, got %d attempts", attempts.Load())
	}
}

func TestPublisher_LocalTargetAndWebhook(t *testing.T) {
	src := makeResults(t)
	dest := t.TempDir()

	var received Notification
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&received)
	}))
	defer server.Close()

	p := NewPublisher(config.PublishDefaults{Target: dest, NotifyURL: server.URL}, nil, nil)
	if !p.Enabled() {
		t.Fatal("Expected publisher to be enabled")
	}
	if err := p.Publish(context.Background(), "run-42", src, Notification{Program: "structure"}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	archive := filepath.Join(dest, "run-42", "results.tar.gz")
	if _, err := os.Stat(archive); err != nil {
		t.Fatalf("Expected archive at %s: %v", archive, err)
	}
	if received.ArchiveURL != archive {
		t.Errorf("Expected archive URL %s, got %s", archive, received.ArchiveURL)
	}
	if received.RunID != "run-42" || received.Program != "structure" {
		t.Errorf("Unexpected notification %+v", received)
	}
}

type failingUploader struct{}

func (failingUploader) Upload(ctx context.Context, localPath, key string) (string, error) {
	return "", os.ErrPermission
}

func TestPublisher_UploadFailureStillNotifies(t *testing.T) {
	src := makeResults(t)

	var called atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called.Store(true)
	}))
	defer server.Close()

	p := NewPublisher(config.PublishDefaults{Target: "s3://bucket/prefix", NotifyURL: server.URL}, nil, nil)
	p.newUploader = func(ctx context.Context, t Target) (Uploader, error) { return failingUploader{}, nil }

	err := p.Publish(context.Background(), "run-1", src, Notification{})
	if err == nil {
		t.Error("Expected upload error")
	}
	if !called.Load() {
		t.Error("Expected webhook to be sent despite upload failure")
	}
}

func TestPublisher_Disabled(t *testing.T) {
	p := NewPublisher(config.PublishDefaults{}, nil, nil)
	if p.Enabled() {
		t.Error("Expected publisher to be disabled without target or notify URL")
	}
}

func TestWithSAS(t *testing.T) {
	if got := withSAS("https://a.blob.core.windows.net/", "?sv=1"); got != "https://a.blob.core.windows.net/?sv=1" {
		t.Errorf("Unexpected URL %s", got)
	}
	if got := withSAS("https://a.blob.core.windows.net/?x=1", "sv=1"); got != "https://a.blob.core.windows.net/?x=1&sv=1" {
		t.Errorf("Unexpected URL %s", got)
	}
}

// recordingStore accepts PUTs and remembers their paths.
func recordingStore(t *testing.T, status int) (*httptest.Server, *atomic.Value) {
	t.Helper()
	var path atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		io.Copy(io.Discard, r.Body)
		path.Store(r.URL.Path)
		w.Header().Set("ETag", `"abc"`)
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &path
}

func writeArchiveFixture(t *testing.T) string {
	t.Helper()
	local := filepath.Join(t.TempDir(), "results.tar.gz")
	if err := os.WriteFile(local, []byte("archive"), 0644); err != nil {
		t.Fatal(err)
	}
	return local
}

func TestS3Uploader_CustomEndpoint(t *testing.T) {
	srv, path := recordingStore(t, http.StatusOK)
	t.Setenv(EnvS3AccessKey, "AKIDEXAMPLE")
	t.Setenv(EnvS3SecretKey, "secret")

	u, err := NewS3Uploader(context.Background(), "lab-results", S3Options{Region: "us-east-1", Endpoint: srv.URL})
	if err != nil {
		t.Fatalf("NewS3Uploader failed: %v", err)
	}

	url, err := u.Upload(context.Background(), writeArchiveFixture(t), "threader/run-1/results.tar.gz")
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if url != "s3://lab-results/threader/run-1/results.tar.gz" {
		t.Errorf("Unexpected URL %s", url)
	}
	if got := path.Load(); got != "/lab-results/threader/run-1/results.tar.gz" {
		t.Errorf("Expected path-style request, got %v", got)
	}
}

func TestAzureUploader(t *testing.T) {
	if _, err := NewAzureUploader("", "runs"); err == nil {
		t.Error("Expected error without a service URL")
	}

	srv, path := recordingStore(t, http.StatusCreated)
	u, err := NewAzureUploader(srv.URL+"/", "runs")
	if err != nil {
		t.Fatalf("NewAzureUploader failed: %v", err)
	}

	url, err := u.Upload(context.Background(), writeArchiveFixture(t), "run-1/results.tar.gz")
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if url != "az://runs/run-1/results.tar.gz" {
		t.Errorf("Unexpected URL %s", url)
	}
	if got := path.Load(); got != "/runs/run-1/results.tar.gz" {
		t.Errorf("Unexpected request path %v", got)
	}
}
