package fasttext

import (
	"context"
	"fmt"
	"maps"
	"math/rand/v2"
	"path/filepath"
	"regexp"
	"slices"

	"github.com/gomlx/go-fasttext/cache"
	"github.com/gomlx/go-fasttext/internal/archive"
	"github.com/gomlx/go-fasttext/internal/files"
	"github.com/gomlx/go-fasttext/vecfile"
	"github.com/gomlx/go-fasttext/vocab"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// pretrainedURLs maps the supported source names to their download URL.
var pretrainedURLs = map[string]string{
	"1M":         "https://dl.fbaipublicfiles.com/fasttext/vectors-english/wiki-news-300d-1M.vec.zip",
	"1M-subword": "https://dl.fbaipublicfiles.com/fasttext/vectors-english/wiki-news-300d-1M-subword.vec.zip",
}

// SupportedDims lists the dimensions available for the pretrained sources.
var SupportedDims = []int{300}

// Defaults for PretrainedOptions.
const (
	DefaultSourceName = "1M"
	DefaultDims       = 300
)

// SupportedSources returns the names of the pretrained sources, sorted.
func SupportedSources() []string {
	return slices.Sorted(maps.Keys(pretrainedURLs))
}

// SourceURL returns the download URL of the named pretrained source.
func SourceURL(name string) (string, error) {
	url, found := pretrainedURLs[name]
	if !found {
		return "", errors.Wrapf(ErrUnsupportedSource, "source name must be one of %q, got %q", SupportedSources(), name)
	}
	return url, nil
}

// PretrainedOptions configures Pretrained. The zero value downloads the "1M" source with 300 dimensions into
// DefaultRoot(), with the special tokens appended at the end of the vocabulary.
type PretrainedOptions struct {
	// Name of the source, one of SupportedSources(). Defaults to DefaultSourceName.
	Name string

	// Dims of the vectors, one of SupportedDims. Defaults to DefaultDims.
	Dims int

	// Root directory, archives are stored under CacheDir(Root). Defaults to DefaultRoot().
	Root string

	// Specials are the special tokens added to the vocabulary. Defaults to vocab.DefaultSpecials.
	Specials *vocab.Specials

	// SpecialFirst adds the special tokens at the start of the vocabulary, instead of the end.
	SpecialFirst bool

	// Rand generates the unknown token's vector. Defaults to a randomly seeded generator.
	Rand *rand.Rand

	// Cache used to download the archive. Defaults to cache.New(CacheDir(Root)).
	Cache *cache.Cache

	// Parse options for the vector file. Dim is always set to Dims.
	Parse vecfile.ParseOptions
}

// validate checks Name and Dims, filling in their defaults. It does no I/O.
func (o *PretrainedOptions) validate() (url string, err error) {
	if o.Name == "" {
		o.Name = DefaultSourceName
	}
	if o.Dims == 0 {
		o.Dims = DefaultDims
	}
	url, err = SourceURL(o.Name)
	if err != nil {
		return "", err
	}
	if !slices.Contains(SupportedDims, o.Dims) {
		return "", errors.Wrapf(ErrUnsupportedDims, "dims must be one of %v, got %d", SupportedDims, o.Dims)
	}
	return url, nil
}

var urlDirRegexp = regexp.MustCompile(`.+/`)

// Pretrained downloads (or reuses from the cache) a pretrained FastText vector file and builds an Embedding from it,
// adding the special tokens (see NewFromVectors). It returns the embedding, configured with DefaultConfig(), and its
// vocabulary.
//
// Name and dimension are validated before any file or network access: unsupported values return errors wrapping
// ErrUnsupportedSource or ErrUnsupportedDims.
func Pretrained(ctx context.Context, opts PretrainedOptions) (*Embedding, *vocab.Vocab, error) {
	url, err := opts.validate()
	if err != nil {
		return nil, nil, err
	}
	logger := klog.FromContext(ctx)
	opts.Root = rootOrDefault(opts.Root)
	cacheDir := CacheDir(opts.Root)
	if opts.Cache == nil {
		opts.Cache = cache.New(cacheDir)
	}
	specials := vocab.DefaultSpecials
	if opts.Specials != nil {
		specials = *opts.Specials
	}

	vecPath := filepath.Join(cacheDir, fmt.Sprintf("wiki-news-%dd-%s.vec", opts.Dims, opts.Name))
	if !files.Exists(vecPath) {
		archivePath, err := opts.Cache.Fetch(ctx, url, urlDirRegexp.ReplaceAllString(url, ""))
		if err != nil {
			return nil, nil, errors.WithMessagef(err, "while fetching pretrained source %q", opts.Name)
		}
		if _, err := archive.Unzip(archivePath, cacheDir); err != nil {
			return nil, nil, err
		}
		if !files.Exists(vecPath) {
			return nil, nil, errors.Wrapf(ErrNotFound, "archive %q doesn't contain %q", archivePath, filepath.Base(vecPath))
		}
	}

	parseOpts := opts.Parse
	parseOpts.Dim = opts.Dims
	vectors, err := vecfile.ParseFile(vecPath, parseOpts)
	if err != nil {
		return nil, nil, err
	}
	emb, vocabulary, err := NewFromVectors(vectors, specials, opts.SpecialFirst, opts.Rand, DefaultConfig())
	if err != nil {
		return nil, nil, errors.WithMessagef(err, "while building embedding from %q", vecPath)
	}
	logger.Info("loaded pretrained embedding", "source", opts.Name, "vocab_size", emb.VocabSize(), "dims", emb.Dim())
	return emb, vocabulary, nil
}
