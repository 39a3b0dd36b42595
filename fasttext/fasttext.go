// Package fasttext provides FastText pretrained word vectors as an embedding table: a vocabulary plus a
// [vocab_size, embed_dim] Float32 GoMLX tensor, with id lookup (and optional dropout), and persistence of the table
// and its configuration to a folder.
//
// Example:
//
//	emb, vocabulary, err := fasttext.Pretrained(ctx, fasttext.PretrainedOptions{Name: "1M", Dims: 300})
//	if err != nil {
//		panic(err)
//	}
//	ids, err := vocabulary.IDs([]string{"hello", "world"})
//	...
//	vectors, err := emb.Lookup(tensors.FromFlatDataAndDimensions([]int32{2, 7, 11, 13}, 2, 2))  // shape [2, 2, 300]
//
// Saved tables live in <root>/embeddings/Fasttext/save/<folder> as two files: fasttext_hyper.json (the Config) and
// fasttext.txt (the vectors, see package vecfile).
package fasttext

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

const (
	// ConfigFilename is the name of the JSON configuration file of a saved embedding.
	ConfigFilename = "fasttext_hyper.json"

	// VectorsFilename is the name of the vector file of a saved embedding.
	VectorsFilename = "fasttext.txt"

	// RootEnv is the environment variable that overrides DefaultRoot.
	RootEnv = "GOMLX_FASTTEXT_ROOT"
)

var (
	// ErrUnsupportedSource is returned for a pretrained source name that is not in SupportedSources.
	ErrUnsupportedSource = errors.New("unsupported pretrained source")

	// ErrUnsupportedDims is returned for a pretrained dimension that is not in SupportedDims.
	ErrUnsupportedDims = errors.New("unsupported pretrained dimension")

	// ErrNotFound is returned when loading from a folder missing one of the saved files.
	ErrNotFound = errors.New("file not found")

	// ErrIndexOutOfRange is returned when looking up an id outside [0, vocab_size).
	ErrIndexOutOfRange = errors.New("index out of range")
)

// DefaultRoot returns the root directory used when none is given: $GOMLX_FASTTEXT_ROOT if set,
// otherwise "gomlx/fasttext" under the user cache directory (or the temporary directory, if that is unknown).
func DefaultRoot() string {
	if root := os.Getenv(RootEnv); root != "" {
		return root
	}
	base, err := os.UserCacheDir()
	if err != nil {
		base = os.TempDir()
	}
	return filepath.Join(base, "gomlx", "fasttext")
}

// CacheDir returns where pretrained archives are downloaded and extracted for the given root.
func CacheDir(root string) string {
	return filepath.Join(root, "embeddings", "Fasttext")
}

// SaveDir returns the folder used by Save and Load for the given root and folder name.
func SaveDir(root, folder string) string {
	return filepath.Join(CacheDir(root), "save", folder)
}

func rootOrDefault(root string) string {
	if root == "" {
		return DefaultRoot()
	}
	return root
}
