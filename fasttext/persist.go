package fasttext

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/gomlx/go-fasttext/internal/files"
	"github.com/gomlx/go-fasttext/vecfile"
	"github.com/gomlx/go-fasttext/vocab"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Save writes the embedding to SaveDir(root, folder), see SaveTo. An empty root uses DefaultRoot().
func (e *Embedding) Save(ctx context.Context, root, folder string) error {
	if folder == "" {
		return errors.New("folder name must be given")
	}
	return e.SaveTo(ctx, SaveDir(rootOrDefault(root), folder), vecfile.WriteOptions{})
}

// SaveTo writes the configuration (ConfigFilename, JSON) and the vectors (VectorsFilename, in vocabulary order) to
// dir, creating it if needed and overwriting previous files. Previous files are only replaced once both new ones
// are fully written.
func (e *Embedding) SaveTo(ctx context.Context, dir string, opts vecfile.WriteOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(dir, files.DefaultDirCreationPerm); err != nil {
		return errors.Wrapf(err, "failed to create directory %q", dir)
	}

	configJSON, err := json.MarshalIndent(e.config, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode embedding configuration")
	}
	vectors, err := e.vectors()
	if err != nil {
		return err
	}

	// Both files are fully written before either replaces a previous save.
	err = files.WriteAtomicGroup([]files.Target{
		{
			Path: filepath.Join(dir, VectorsFilename),
			Write: func(w io.Writer) error {
				return vecfile.Write(w, vectors, opts)
			},
		},
		{
			Path: filepath.Join(dir, ConfigFilename),
			Write: func(w io.Writer) error {
				_, err := w.Write(configJSON)
				return err
			},
		},
	})
	if err != nil {
		return errors.WithMessagef(err, "while saving embedding to %q", dir)
	}
	klog.FromContext(ctx).Info("embedding has been saved", "dir", dir, "vocab_size", e.VocabSize(), "dims", e.dim)
	return nil
}

// Load reads an embedding saved with Save from SaveDir(root, folder). An empty root uses DefaultRoot().
func Load(ctx context.Context, root, folder string) (*Embedding, error) {
	if folder == "" {
		return nil, errors.New("folder name must be given")
	}
	return LoadFrom(ctx, SaveDir(rootOrDefault(root), folder), vecfile.ParseOptions{})
}

// LoadFrom reads an embedding saved with SaveTo from dir.
//
// The vocabulary is rebuilt from the saved tokens in file order: special tokens saved in the file are ordinary
// tokens of the loaded vocabulary, and none are added. Configuration keys missing from the file take the values of
// DefaultConfig().
func LoadFrom(ctx context.Context, dir string, opts vecfile.ParseOptions) (*Embedding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, name := range []string{ConfigFilename, VectorsFilename} {
		if !files.Exists(filepath.Join(dir, name)) {
			return nil, errors.Wrapf(ErrNotFound, "%s not found in %s", name, dir)
		}
	}

	configPath := filepath.Join(dir, ConfigFilename)
	configJSON, err := os.ReadFile(configPath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %q", configPath)
	}
	config := DefaultConfig()
	if err := json.Unmarshal(configJSON, &config); err != nil {
		return nil, errors.WithMessagef(err, "while reading %q", configPath)
	}

	vectors, err := vecfile.ParseFile(filepath.Join(dir, VectorsFilename), opts)
	if err != nil {
		return nil, err
	}
	vocabulary, err := vocab.FromTokens(vectors.Tokens)
	if err != nil {
		return nil, errors.WithMessagef(err, "while loading embedding from %q", dir)
	}
	emb, err := newFromTable(vocabulary, vectors, config)
	if err != nil {
		return nil, errors.WithMessagef(err, "while loading embedding from %q", dir)
	}
	klog.FromContext(ctx).Info("loaded embedding", "dir", dir, "vocab_size", emb.VocabSize(), "dims", emb.Dim())
	return emb, nil
}

// ExportParquet writes the vocabulary and vectors to a parquet file, see vecfile.WriteParquet.
func (e *Embedding) ExportParquet(path string) error {
	vectors, err := e.vectors()
	if err != nil {
		return err
	}
	return vecfile.WriteParquet(path, vectors)
}
