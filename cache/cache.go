// Package cache implements a keyed-file download cache: given a URL and a file name it returns the local path of
// the file inside the cache directory, downloading it only if it's not already there.
//
// Downloads are safe across goroutines and processes sharing the same cache directory: they are coordinated with a
// lock file, written to a temporary file and atomically moved into place.
//
// Example:
//
//	c := cache.New(cacheDir)
//	localPath, err := c.Fetch(ctx, "https://example.com/vectors.vec.zip", "vectors.vec.zip")
package cache

import (
	"context"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/gomlx/go-fasttext/internal/downloader"
	"github.com/gomlx/go-fasttext/internal/files"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ProgressCallback reports download progress, see downloader.ProgressCallback.
type ProgressCallback = downloader.ProgressCallback

// Downloader fetches url into filePath. *downloader.Manager implements it.
type Downloader interface {
	Download(ctx context.Context, url, filePath string, progressCallback downloader.ProgressCallback) error
}

// Cache of downloaded files in Dir.
type Cache struct {
	// Dir where files are stored. It's created on demand.
	Dir string

	// MaxParallelDownload is used when creating the default downloader.
	MaxParallelDownload int

	// Progress, if set, is called while downloading files.
	Progress ProgressCallback

	authToken  string
	downloader Downloader
}

// New creates a Cache storing files in dir.
func New(dir string) *Cache {
	return &Cache{Dir: dir, MaxParallelDownload: downloader.DefaultMaxParallel}
}

// WithAuthToken sets the bearer token used by the default downloader.
func (c *Cache) WithAuthToken(token string) *Cache {
	c.authToken = token
	return c
}

// WithDownloader replaces the downloader used to fetch missing files.
func (c *Cache) WithDownloader(d Downloader) *Cache {
	c.downloader = d
	return c
}

// getDownloader returns the current Downloader, or creates the default one.
func (c *Cache) getDownloader() Downloader {
	if c.downloader == nil {
		c.downloader = downloader.New().MaxParallel(c.MaxParallelDownload).WithAuthToken(c.authToken)
	}
	return c.downloader
}

// Path returns where filename is (or would be) stored in the cache.
func (c *Cache) Path(filename string) string {
	return filepath.Join(c.Dir, filename)
}

// Fetch returns the local path to filename, downloading it from url if it's not yet in the cache.
func (c *Cache) Fetch(ctx context.Context, url, filename string) (string, error) {
	return c.fetch(ctx, url, filename, false)
}

// ForceFetch downloads url into filename even if it's already in the cache.
func (c *Cache) ForceFetch(ctx context.Context, url, filename string) (string, error) {
	return c.fetch(ctx, url, filename, true)
}

func (c *Cache) fetch(ctx context.Context, url, filename string, force bool) (string, error) {
	if filename == "" || filepath.Base(filename) != filename {
		return "", errors.Errorf("invalid cache file name %q", filename)
	}
	filePath := c.Path(filename)
	if err := c.lockedDownload(ctx, url, filePath, force); err != nil {
		return "", err
	}
	return filePath, nil
}

// lockedDownload url to the given filePath.
//
// If filePath exists and forceDownload is false, it is assumed to already have been correctly downloaded.
// Otherwise it downloads to filePath+".downloading" and then atomically moves it to filePath, holding
// filePath+".lock" during the process.
func (c *Cache) lockedDownload(ctx context.Context, url, filePath string, forceDownload bool) error {
	logger := klog.FromContext(ctx)
	if files.Exists(filePath) {
		if !forceDownload {
			logger.V(1).Info("reusing cached file", "path", filePath)
			return nil
		}
		if err := os.Remove(filePath); err != nil {
			return errors.Wrapf(err, "failed to remove %q while force-downloading %q", filePath, url)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(filePath), files.DefaultDirCreationPerm); err != nil {
		return errors.Wrapf(err, "failed to create directory for file %q", filePath)
	}

	lockPath := filePath + ".lock"
	var mainErr error
	errLock := execOnFileLock(ctx, lockPath, func() {
		if files.Exists(filePath) {
			// Another process (or goroutine) downloaded it while we waited for the lock.
			return
		}
		tmpPath := filePath + ".downloading"
		logger.Info("downloading", "url", url, "path", filePath)
		mainErr = c.getDownloader().Download(ctx, url, tmpPath, c.Progress)
		if mainErr != nil {
			if err := os.Remove(tmpPath); err != nil && !os.IsNotExist(err) {
				logger.Error(err, "failed removing temporary file", "path", tmpPath)
			}
			mainErr = errors.WithMessagef(mainErr, "while downloading %q to %q", url, tmpPath)
			return
		}
		if err := os.Rename(tmpPath, filePath); err != nil {
			mainErr = errors.Wrapf(err, "failed to move downloaded file %q to %q", tmpPath, filePath)
			return
		}
		if err := os.Remove(lockPath); err != nil {
			logger.Error(err, "failed removing lock file", "path", lockPath)
		}
	})
	if mainErr != nil {
		return mainErr
	}
	if errLock != nil {
		return errors.WithMessagef(errLock, "while locking %q to download %q", lockPath, url)
	}
	return nil
}

// execOnFileLock locks lockPath (creating it if needed) and executes fn.
// While the lock is held elsewhere it polls every 1 to 2 seconds (randomly), until it acquires it or ctx is done.
func execOnFileLock(ctx context.Context, lockPath string, fn func()) (err error) {
	fileLock := flock.New(lockPath)
	for {
		locked, err := fileLock.TryLock()
		if err != nil {
			return errors.Wrapf(err, "while trying to lock %q", lockPath)
		}
		if locked {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond * time.Duration(1000+rand.IntN(1000))):
		}
	}

	// Unlock in a deferred function, so it happens even if fn panics.
	defer func() {
		unlockErr := fileLock.Unlock()
		if unlockErr != nil {
			if err == nil {
				err = errors.Wrapf(unlockErr, "unlocking file %q", lockPath)
			} else {
				klog.Errorf("error unlocking file %q: %v", lockPath, unlockErr)
			}
		}
	}()
	fn()
	return
}
