// Package downloader implements plain HTTP(S) downloads with context cancellation,
// optional bearer authentication, progress reporting and a cap on parallel downloads.
package downloader

import (
	"context"
	"io"
	"net/http"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"
	"k8s.io/klog/v2"
)

// ProgressCallback is called as bytes are downloaded. totalBytes is -1 if the server didn't report a size.
// It's called a last time with done set to true once the download finishes successfully.
type ProgressCallback func(downloadedBytes, totalBytes int64, done bool)

// DefaultMaxParallel is the number of simultaneous downloads allowed by a new Manager.
const DefaultMaxParallel = 4

// Manager handles downloads. Create it with New and configure it with the With*/MaxParallel methods.
type Manager struct {
	client    *http.Client
	authToken string
	sem       *semaphore.Weighted
}

// New creates a Manager using http.DefaultClient.
func New() *Manager {
	return &Manager{
		client: http.DefaultClient,
		sem:    semaphore.NewWeighted(DefaultMaxParallel),
	}
}

// MaxParallel limits the number of simultaneous downloads. Values <= 0 are ignored.
func (m *Manager) MaxParallel(n int) *Manager {
	if n > 0 {
		m.sem = semaphore.NewWeighted(int64(n))
	}
	return m
}

// WithAuthToken sets a bearer token sent with every request. Empty means no authentication.
func (m *Manager) WithAuthToken(token string) *Manager {
	m.authToken = token
	return m
}

// WithClient replaces the HTTP client used.
func (m *Manager) WithClient(client *http.Client) *Manager {
	m.client = client
	return m
}

// Download url into filePath, which is created or truncated.
// On failure filePath may be left partially written: callers should download into a temporary path.
func (m *Manager) Download(ctx context.Context, url, filePath string, progressCallback ProgressCallback) error {
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer m.sem.Release(1)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.Wrapf(err, "failed to create request for %q", url)
	}
	if m.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+m.authToken)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "failed to request %q", url)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("failed to download %q: server returned %s", url, resp.Status)
	}

	f, err := os.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "failed to create %q", filePath)
	}
	var src io.Reader = resp.Body
	if progressCallback != nil {
		src = &progressReader{r: resp.Body, total: resp.ContentLength, callback: progressCallback}
	}
	n, err := io.Copy(f, src)
	if err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "failed while downloading %q to %q", url, filePath)
	}
	if err := f.Close(); err != nil {
		return errors.Wrapf(err, "failed to close %q", filePath)
	}
	if progressCallback != nil {
		progressCallback(n, resp.ContentLength, true)
	}
	klog.V(1).Infof("downloaded %q to %q (%d bytes)", url, filePath, n)
	return nil
}

type progressReader struct {
	r        io.Reader
	n, total int64
	callback ProgressCallback
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.r.Read(p)
	if n > 0 {
		pr.n += int64(n)
		pr.callback(pr.n, pr.total, false)
	}
	return n, err
}
