// Package files holds small filesystem helpers shared by the other packages.
package files

import (
	"bufio"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// DefaultDirCreationPerm is used when creating directories for cached or saved files.
const DefaultDirCreationPerm = 0755

// Exists returns whether filePath exists. Errors other than "not exist" are reported as existing,
// so callers attempting to use the file will surface the real error.
func Exists(filePath string) bool {
	_, err := os.Stat(filePath)
	return err == nil || !os.IsNotExist(err)
}

// TempPath returns a unique temporary path in the same directory as filePath, so
// that a later os.Rename stays within one filesystem.
func TempPath(filePath string) string {
	return filepath.Join(filepath.Dir(filePath), "."+filepath.Base(filePath)+"."+uuid.NewString()+".tmp")
}

// WriteAtomic creates filePath with the contents produced by writeFn.
//
// The content is first written (buffered) to a temporary file in the same directory, synced to disk and then
// renamed over filePath. If writeFn or any step fails, the temporary file is removed and filePath is left untouched.
func WriteAtomic(filePath string, writeFn func(w io.Writer) error) error {
	return WriteAtomicGroup([]Target{{Path: filePath, Write: writeFn}})
}

// Target is one file written by WriteAtomicGroup.
type Target struct {
	Path  string
	Write func(w io.Writer) error
}

// WriteAtomicGroup writes every target to a temporary file first, and only once all of them are written and synced
// renames them into place, in order. If any write fails, all temporary files are removed and no target is touched.
func WriteAtomicGroup(targets []Target) (err error) {
	tmpPaths := make([]string, 0, len(targets))
	defer func() {
		if err == nil {
			return
		}
		for _, tmpPath := range tmpPaths {
			if rmErr := os.Remove(tmpPath); rmErr != nil && !os.IsNotExist(rmErr) {
				klog.Warningf("failed removing temporary file %q: %v", tmpPath, rmErr)
			}
		}
	}()
	for _, target := range targets {
		var tmpPath string
		tmpPath, err = writeTemp(target.Path, target.Write)
		if tmpPath != "" {
			tmpPaths = append(tmpPaths, tmpPath)
		}
		if err != nil {
			return err
		}
	}
	for i, target := range targets {
		if err = os.Rename(tmpPaths[i], target.Path); err != nil {
			return errors.Wrapf(err, "failed to move %q to %q", tmpPaths[i], target.Path)
		}
	}
	return nil
}

// writeTemp writes the contents produced by writeFn to a synced temporary file next to filePath and returns its
// path. The path is returned whenever the file was created, even on error, so the caller can remove it.
func writeTemp(filePath string, writeFn func(w io.Writer) error) (string, error) {
	if err := os.MkdirAll(filepath.Dir(filePath), DefaultDirCreationPerm); err != nil {
		return "", errors.Wrapf(err, "failed to create directory for file %q", filePath)
	}
	tmpPath := TempPath(filePath)
	f, err := os.Create(tmpPath)
	if err != nil {
		return "", errors.Wrapf(err, "failed to create temporary file %q", tmpPath)
	}
	bw := bufio.NewWriterSize(f, 1<<20)
	if err = writeFn(bw); err == nil {
		if err = bw.Flush(); err != nil {
			err = errors.Wrapf(err, "failed to write %q", tmpPath)
		}
	}
	if err == nil {
		if err = f.Sync(); err != nil {
			err = errors.Wrapf(err, "failed to sync %q", tmpPath)
		}
	}
	if closeErr := f.Close(); closeErr != nil && err == nil {
		err = errors.Wrapf(closeErr, "failed to close %q", tmpPath)
	}
	return tmpPath, err
}
