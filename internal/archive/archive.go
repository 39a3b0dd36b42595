// Package archive extracts downloaded archives.
package archive

import (
	"io"
	"path/filepath"
	"strings"

	"github.com/gomlx/go-fasttext/internal/files"
	"github.com/klauspost/compress/zip"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Unzip extracts every regular file of the zip archive at archivePath into destDir and returns the
// paths of the extracted files, in archive order.
//
// Each file is written atomically, so a concurrent reader never observes a partially extracted file.
// Entries that would escape destDir (absolute paths or ".." components) are rejected.
func Unzip(archivePath, destDir string) ([]string, error) {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open zip archive %q", archivePath)
	}
	defer func() { _ = r.Close() }()

	var extracted []string
	for _, zf := range r.File {
		if zf.FileInfo().IsDir() {
			continue
		}
		target, err := safeJoin(destDir, zf.Name)
		if err != nil {
			return extracted, errors.WithMessagef(err, "in archive %q", archivePath)
		}
		err = files.WriteAtomic(target, func(w io.Writer) error {
			rc, err := zf.Open()
			if err != nil {
				return errors.Wrapf(err, "failed to open %q in archive", zf.Name)
			}
			defer func() { _ = rc.Close() }()
			if _, err := io.Copy(w, rc); err != nil {
				return errors.Wrapf(err, "failed to extract %q", zf.Name)
			}
			return nil
		})
		if err != nil {
			return extracted, errors.WithMessagef(err, "while unzipping %q", archivePath)
		}
		klog.V(1).Infof("extracted %q from %q", target, archivePath)
		extracted = append(extracted, target)
	}
	return extracted, nil
}

func safeJoin(destDir, name string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", errors.Errorf("illegal file path %q", name)
	}
	return filepath.Join(destDir, cleaned), nil
}
