package cache

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gomlx/go-fasttext/internal/downloader"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCountingServer(t *testing.T, payload string) (*httptest.Server, *atomic.Int32) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(payload))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestFetchReusesCachedFile(t *testing.T) {
	srv, hits := newCountingServer(t, "payload")
	c := New(t.TempDir())
	ctx := context.Background()

	path, err := c.Fetch(ctx, srv.URL+"/a.zip", "a.zip")
	require.NoError(t, err)
	assert.Equal(t, c.Path("a.zip"), path)
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(content))
	assert.Equal(t, int32(1), hits.Load())

	// Second fetch is served from the cache.
	path2, err := c.Fetch(ctx, srv.URL+"/a.zip", "a.zip")
	require.NoError(t, err)
	assert.Equal(t, path, path2)
	assert.Equal(t, int32(1), hits.Load())

	// ForceFetch downloads again.
	_, err = c.ForceFetch(ctx, srv.URL+"/a.zip", "a.zip")
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())

	assert.NoFileExists(t, path+".downloading")
	assert.NoFileExists(t, path+".lock")
}

func TestFetchConcurrent(t *testing.T) {
	srv, hits := newCountingServer(t, "payload")
	c := New(t.TempDir())
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Fetch(context.Background(), srv.URL+"/b.zip", "b.zip")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), hits.Load())
}

type failingDownloader struct{}

func (failingDownloader) Download(_ context.Context, _, filePath string, _ downloader.ProgressCallback) error {
	_ = os.WriteFile(filePath, []byte("partial"), 0644)
	return errors.New("connection reset")
}

func TestFetchFailureLeavesNoFile(t *testing.T) {
	c := New(t.TempDir()).WithDownloader(failingDownloader{})
	_, err := c.Fetch(context.Background(), "http://unused/c.zip", "c.zip")
	require.ErrorContains(t, err, "connection reset")
	assert.NoFileExists(t, c.Path("c.zip"))
	assert.NoFileExists(t, c.Path("c.zip")+".downloading")
}

func TestFetchInvalidName(t *testing.T) {
	c := New(t.TempDir())
	_, err := c.Fetch(context.Background(), "http://unused/x", "../x")
	require.Error(t, err)
}
